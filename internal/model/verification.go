// Package model はドメインモデルを定義する。
package model

import "time"

// Reason は認証判定の理由コードを表す。
// 固定の優先順位で評価されるため、報告される理由は常に
// 最もセキュリティ上重要な不合格項目となる。
type Reason string

const (
	// ReasonOK は全チェックを通過した承認。
	ReasonOK Reason = "ok"
	// ReasonSpoof はなりすまし確率がしきい値を超過した拒否。
	ReasonSpoof Reason = "spoof"
	// ReasonBadPhrase は発話内容が要求フレーズと一致しなかった拒否。
	ReasonBadPhrase Reason = "bad_phrase"
	// ReasonLowSimilarity は声紋類似度がしきい値未満だった拒否。
	ReasonLowSimilarity Reason = "low_similarity"
	// ReasonChallengeExpired は期限切れチャレンジによる拒否。
	ReasonChallengeExpired Reason = "challenge_expired"
	// ReasonChallengeUsed は消費済みチャレンジによる拒否。
	ReasonChallengeUsed Reason = "challenge_used"
	// ReasonChallengeNotFound は存在しないチャレンジによる拒否。
	ReasonChallengeNotFound Reason = "challenge_not_found"
	// ReasonWrongUser は別ユーザーのチャレンジ提示による拒否。
	ReasonWrongUser Reason = "wrong_user"
	// ReasonNotEnrolled は声紋未登録ユーザーへの認証試行による拒否。
	ReasonNotEnrolled Reason = "not_enrolled"
	// ReasonError はオラクル障害等のシステム起因の拒否。誤承認側には倒さない。
	ReasonError Reason = "error"
)

// VerificationState は認証セッションの状態を表す。
type VerificationState string

const (
	// VerificationInProgress はフレーズ認証の進行中状態。
	VerificationInProgress VerificationState = "in_progress"
	// VerificationVerified は全フレーズが承認された終端状態。
	VerificationVerified VerificationState = "verified"
	// VerificationRejected はいずれかのフレーズが拒否された終端状態。
	VerificationRejected VerificationState = "rejected"
)

// VerificationSession は複数フレーズ認証の1セッションを表す。
// 全フレーズが個別に承認された場合のみverifiedとなり、
// 報告用スコアはフレーズごとの合成スコアの平均となる。
type VerificationSession struct {
	ID              string
	UserID          string
	ClientID        string
	PolicyID        string
	RequiredPhrases int
	State           VerificationState
	CompositeScore  *float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// VerificationAttempt は1回の認証試行（1フレーズ分）を表す。
// 不変条件: Acceptがnil ⟺ Decidedがfalse。決定後は不変。
type VerificationAttempt struct {
	ID          string
	SessionID   *string
	UserID      string
	ClientID    string
	ChallengeID *string
	Decided     bool
	Accept      *bool
	Reason      Reason
	PolicyID    string
	LatencyMs   int64
	CreatedAt   time.Time
	DecidedAt   *time.Time
}

// Scores は1試行分の3つの生の生体信号を表す。
// VerificationAttemptと1:1で、決定時に1回だけ書き込まれる。
type Scores struct {
	AttemptID        string
	Similarity       float64 // 声紋との類似度 [0,1]
	SpoofProbability float64 // なりすまし（再生・合成）確率 [0,1]
	PhraseMatch      float64 // 要求フレーズとの発話一致度 [0,1]
	EmbeddingModel   string
	SpoofModel       string
	ASRModel         string
	CreatedAt        time.Time
}
