// Package model はドメインモデルを定義する。
package model

import "time"

// Difficulty はチャレンジフレーズの難易度を表す。
type Difficulty string

const (
	// DifficultyEasy は短く発話しやすいフレーズ。
	DifficultyEasy Difficulty = "easy"
	// DifficultyMedium は標準的な長さのフレーズ。
	DifficultyMedium Difficulty = "medium"
	// DifficultyHard は長く複雑なフレーズ。
	DifficultyHard Difficulty = "hard"
)

// ValidDifficulty は難易度が定義済みの値かを返す。
func ValidDifficulty(d Difficulty) bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Phrase はチャレンジとして利用可能なフレーズを表す。
// 過去のチャレンジの意味を保持するため、作成後のテキスト編集は行わず、
// 無効化（Active=false）のみを許可する。
type Phrase struct {
	ID         string
	Text       string
	Language   string
	Difficulty Difficulty
	Active     bool
	CreatedAt  time.Time
}

// UsagePurpose はフレーズが提示された目的を表す。
type UsagePurpose string

const (
	// PurposeEnrollment は声紋登録のためのフレーズ提示。
	PurposeEnrollment UsagePurpose = "enrollment"
	// PurposeVerification は本人認証のためのフレーズ提示。
	PurposeVerification UsagePurpose = "verification"
)

// PhraseUsage は「ユーザーUにフレーズPを目的Xで提示した」という追記専用の記録。
// 同一ユーザーへの短期的なフレーズ再提示を避けるための除外判定に使用する。
type PhraseUsage struct {
	ID       string
	UserID   string
	PhraseID string
	Purpose  UsagePurpose
	UsedAt   time.Time
}
