// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: protocol, quality, auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeChallengeExpired     = "CHALLENGE_EXPIRED"
	ErrCodeChallengeAlreadyUsed = "CHALLENGE_ALREADY_USED"
	ErrCodeChallengeNotFound    = "CHALLENGE_NOT_FOUND"
	ErrCodeWrongUser            = "WRONG_USER"
	ErrCodeTooManyActive        = "TOO_MANY_ACTIVE_CHALLENGES"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeCatalogExhausted     = "CATALOG_EXHAUSTED"
	ErrCodeLowSignalQuality     = "LOW_SIGNAL_QUALITY"
	ErrCodeInsufficientSamples  = "INSUFFICIENT_SAMPLES"
	ErrCodeAlreadyEnrolled      = "ALREADY_ENROLLED"
	ErrCodeNotEnrolled          = "NOT_ENROLLED"
	ErrCodeUserLocked           = "USER_LOCKED"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeSessionNotFound      = "SESSION_NOT_FOUND"
	ErrCodeSessionCompleted     = "SESSION_COMPLETED"
	ErrCodeInvalidPhrase        = "INVALID_PHRASE"
)

// NewChallengeExpiredError は期限切れチャレンジエラーを生成する。
func NewChallengeExpiredError(challengeID string) *APIError {
	return &APIError{
		Code:     ErrCodeChallengeExpired,
		Message:  fmt.Sprintf("チャレンジの有効期限が切れています: %s", challengeID),
		Category: "protocol",
		Action:   "新しいチャレンジを発行してから再度お試しください。",
	}
}

// NewChallengeAlreadyUsedError は消費済みチャレンジエラーを生成する。
func NewChallengeAlreadyUsedError(challengeID string) *APIError {
	return &APIError{
		Code:     ErrCodeChallengeAlreadyUsed,
		Message:  fmt.Sprintf("チャレンジは既に使用されています: %s", challengeID),
		Category: "protocol",
		Action:   "チャレンジは1回のみ使用できます。新しいチャレンジを発行してください。",
	}
}

// NewChallengeNotFoundError はチャレンジ未検出エラーを生成する。
func NewChallengeNotFoundError(challengeID string) *APIError {
	return &APIError{
		Code:     ErrCodeChallengeNotFound,
		Message:  fmt.Sprintf("指定されたチャレンジが見つかりません: %s", challengeID),
		Category: "protocol",
		Action:   "チャレンジIDを確認してください。",
	}
}

// NewWrongUserError はチャレンジの発行先ユーザー不一致エラーを生成する。
func NewWrongUserError(challengeID string) *APIError {
	return &APIError{
		Code:     ErrCodeWrongUser,
		Message:  fmt.Sprintf("チャレンジは別のユーザーに発行されています: %s", challengeID),
		Category: "protocol",
		Action:   "自分に発行されたチャレンジを使用してください。",
	}
}

// NewTooManyActiveChallengesError はアクティブチャレンジ上限エラーを生成する。
func NewTooManyActiveChallengesError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeTooManyActive,
		Message:  fmt.Sprintf("未使用のチャレンジが上限（%d件）に達しています。", limit),
		Category: "protocol",
		Action:   "既存のチャレンジを使用するか、期限切れを待ってから再度お試しください。",
	}
}

// NewRateLimitExceededError はチャレンジ発行レート上限エラーを生成する。
// retryAfterSecには次の発行が可能になるまでの推定秒数を指定する。
func NewRateLimitExceededError(retryAfterSec int) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "チャレンジの発行回数が上限に達しています。",
		Category: "protocol",
		Action:   fmt.Sprintf("%d秒ほど待ってから再度お試しください。", retryAfterSec),
	}
}

// NewCatalogExhaustedError はフレーズカタログ枯渇エラーを生成する。
func NewCatalogExhaustedError() *APIError {
	return &APIError{
		Code:     ErrCodeCatalogExhausted,
		Message:  "利用可能なフレーズが不足しています。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。解消しない場合は管理者に連絡してください。",
	}
}

// NewLowSignalQualityError は録音品質不足エラーを生成する。
// チャレンジは消費されないため、期限内であれば同じチャレンジで再試行できる。
func NewLowSignalQualityError(snr, duration float64) *APIError {
	return &APIError{
		Code:     ErrCodeLowSignalQuality,
		Message:  fmt.Sprintf("録音品質が基準を満たしていません（SNR: %.1fdB, 長さ: %.1f秒）。", snr, duration),
		Category: "quality",
		Action:   "静かな環境で、フレーズ全体をはっきりと発話して再録音してください。",
	}
}

// NewInsufficientSamplesError はサンプル数不足エラーを生成する。
func NewInsufficientSamplesError(got, required int) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientSamples,
		Message:  fmt.Sprintf("登録サンプル数が不足しています: %d/%d", got, required),
		Category: "quality",
		Action:   "残りのサンプルを録音してから完了してください。",
	}
}

// NewAlreadyEnrolledError は声紋登録済みエラーを生成する。
func NewAlreadyEnrolledError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyEnrolled,
		Message:  "このユーザーには既にアクティブな声紋が登録されています。",
		Category: "protocol",
		Action:   "再登録する場合はoverwriteフラグを指定してください。",
	}
}

// NewNotEnrolledError は声紋未登録エラーを生成する。
func NewNotEnrolledError() *APIError {
	return &APIError{
		Code:     ErrCodeNotEnrolled,
		Message:  "このユーザーには声紋が登録されていません。",
		Category: "protocol",
		Action:   "先に声紋登録を完了してください。",
	}
}

// NewUserLockedError はユーザーロック中エラーを生成する。
// retryAfterSecにはロック解除までの秒数を指定する。
func NewUserLockedError(retryAfterSec int) *APIError {
	return &APIError{
		Code:     ErrCodeUserLocked,
		Message:  "連続した認証失敗によりアカウントが一時的にロックされています。",
		Category: "protocol",
		Action:   fmt.Sprintf("%d秒後に再度お試しください。", retryAfterSec),
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定されたユーザーが見つかりません: %s", userID),
		Category: "protocol",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewSessionNotFoundError はセッション未検出エラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("指定されたセッションが見つかりません: %s", sessionID),
		Category: "protocol",
		Action:   "セッションIDを確認するか、新しいセッションを開始してください。",
	}
}

// NewSessionCompletedError は終端済みセッションへの操作エラーを生成する。
func NewSessionCompletedError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionCompleted,
		Message:  fmt.Sprintf("セッションは既に終了しています: %s", sessionID),
		Category: "protocol",
		Action:   "新しいセッションを開始してください。",
	}
}

// NewInvalidPhraseError はフレーズ取り込み時の検証エラーを生成する。
func NewInvalidPhraseError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPhrase,
		Message:  fmt.Sprintf("無効なフレーズです: %s", reason),
		Category: "validation",
		Action:   "フレーズのテキストと文字数制限を確認してください。",
	}
}
