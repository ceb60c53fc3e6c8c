// Package model はドメインモデルを定義する。
package model

import "time"

// Challenge は単回使用・期限付きのチャレンジを表す。
// 状態遷移は Issued → Used（終端）または Issued → Expired（時計による暗黙の終端）のみ。
// UsedAtの設定はストレージ層の条件付きUPDATEによって高々1回に制限される。
type Challenge struct {
	ID         string
	UserID     string
	PhraseID   string
	PhraseText string
	Difficulty Difficulty
	CreatedAt  time.Time
	ExpiresAt  time.Time
	UsedAt     *time.Time
}

// IsExpired は指定時刻においてチャレンジが期限切れかを返す。
func (c *Challenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsUsed はチャレンジが消費済みかを返す。
func (c *Challenge) IsUsed() bool {
	return c.UsedAt != nil
}

// ChallengeStatus はチャレンジ検証の結果を表す。
type ChallengeStatus string

const (
	// ChallengeValid は有効なチャレンジ。
	ChallengeValid ChallengeStatus = "valid"
	// ChallengeExpired は期限切れのチャレンジ。
	ChallengeExpired ChallengeStatus = "expired"
	// ChallengeNotFound は存在しないチャレンジ。
	ChallengeNotFound ChallengeStatus = "not_found"
	// ChallengeWrongUser は別ユーザーに発行されたチャレンジ。
	ChallengeWrongUser ChallengeStatus = "wrong_user"
	// ChallengeAlreadyUsed は消費済みのチャレンジ。
	ChallengeAlreadyUsed ChallengeStatus = "already_used"
)
