// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/voicegate/internal/model"
)

// ストレージ層の不変条件違反を表すセンチネルエラー。
// サービス層がerrors.Isで判別し、APIエラーへ変換する。
var (
	// ErrUserNotFound は対象ユーザーが存在しない（または論理削除済み）ことを示す。
	ErrUserNotFound = errors.New("user not found")
	// ErrActiveCapExceeded は未使用チャレンジ数が上限に達していることを示す。
	ErrActiveCapExceeded = errors.New("active challenge cap exceeded")
	// ErrHourlyCapExceeded は直近1時間の発行数が上限に達していることを示す。
	ErrHourlyCapExceeded = errors.New("hourly issuance cap exceeded")
	// ErrChallengeUsed はチャレンジが既に消費済みであることを示す。
	ErrChallengeUsed = errors.New("challenge already used")
	// ErrChallengeExpired はチャレンジが期限切れであることを示す。
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeNotFound はチャレンジが存在しないことを示す。
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrUserMismatch はチャレンジの発行先と試行のユーザーが一致しないことを示す。
	// プログラミングエラーであり、呼び出し側はトランザクションを中断しなければならない。
	ErrUserMismatch = errors.New("challenge user does not match attempt user")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	// 論理削除済みユーザーも返す（呼び出し側がIsDeletedで判定する）。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// RecordFailure は連続失敗回数をインクリメントし、しきい値に達した場合は
	// locked_untilを設定する。更新後のユーザーを返す。
	RecordFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration) (*model.User, error)

	// ResetFailures は連続失敗回数を0に戻し、ロックを解除する。
	ResetFailures(ctx context.Context, userID string) error
}

// PhraseRepository はフレーズカタログの永続化インターフェース。
type PhraseRepository interface {
	// Create はフレーズを作成する。
	Create(ctx context.Context, phrase *model.Phrase) error

	// FindByText はテキストと言語でフレーズを検索する。見つからない場合はnilを返す。
	FindByText(ctx context.Context, text, language string) (*model.Phrase, error)

	// ListActive はアクティブなフレーズをランダム順で取得する。
	// difficultyが空文字列の場合は全難易度を対象とする。
	// excludeIDsに含まれるフレーズは除外される。
	ListActive(ctx context.Context, language string, difficulty model.Difficulty, excludeIDs []string, limit int) ([]*model.Phrase, error)

	// Deactivate はフレーズを無効化する。テキストの編集は行わない。
	Deactivate(ctx context.Context, id string) error
}

// PhraseUsageRepository はフレーズ提示記録の読み取りインターフェース。
// 提示記録の書き込みはチャレンジ発行トランザクション（IssueWithCaps）に同乗する。
type PhraseUsageRepository interface {
	// RecentPhraseIDs はユーザーに直近提示されたフレーズIDを新しい順に最大window件返す。
	RecentPhraseIDs(ctx context.Context, userID string, window int) ([]string, error)
}

// ChallengeRepository はチャレンジの永続化インターフェース。
type ChallengeRepository interface {
	// FindByID は指定IDのチャレンジを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Challenge, error)

	// IssueWithCaps はチャレンジと提示記録を1トランザクションで作成する。
	// ユーザー行をFOR UPDATEでロックした上で上限検査を行うため、
	// 同一ユーザーの並行発行が上限をすり抜けることはない。
	// 上限超過時はErrActiveCapExceeded / ErrHourlyCapExceededを返す。
	IssueWithCaps(ctx context.Context, ch *model.Challenge, usage *model.PhraseUsage, maxActive, hourlyCap int) error

	// FindActiveByUser は未使用かつ未期限切れのチャレンジを有効期限の近い順に返す。
	FindActiveByUser(ctx context.Context, userID string) ([]*model.Challenge, error)

	// OldestIssuedSince は指定時刻以降に発行された最古のチャレンジの発行時刻を返す。
	// レート制限の解除時刻の案内に使用する。該当がない場合はnilを返す。
	OldestIssuedSince(ctx context.Context, userID string, since time.Time) (*time.Time, error)

	// SweepExpired は保持期間を超過したチャレンジを削除し、削除件数を返す。
	// 消費済みはusedRetention経過後、未使用の期限切れはexpiredRetention経過後に削除する。
	// TTL内のチャレンジは決して削除しない。
	SweepExpired(ctx context.Context, usedRetention, expiredRetention time.Duration) (int64, error)
}

// EnrollmentRepository は声紋登録セッションの永続化インターフェース。
type EnrollmentRepository interface {
	// CreateSession は登録セッションを作成する。
	CreateSession(ctx context.Context, session *model.EnrollmentSession) error

	// FindSession は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindSession(ctx context.Context, id string) (*model.EnrollmentSession, error)

	// AddSampleConsuming はチャレンジの消費とサンプルの保存を1トランザクションで行う。
	// チャレンジの消費に失敗した場合はErrChallengeUsed / ErrChallengeExpired /
	// ErrChallengeNotFoundを返し、サンプルは保存されない。
	AddSampleConsuming(ctx context.Context, sample *model.EnrollmentSample) error

	// ListSamples はセッションの全サンプルを作成順に返す。
	ListSamples(ctx context.Context, sessionID string) ([]*model.EnrollmentSample, error)

	// CountSamples はセッションの保存済みサンプル数を返す。
	CountSamples(ctx context.Context, sessionID string) (int, error)

	// UpdateSessionState はセッションの状態を更新する。
	UpdateSessionState(ctx context.Context, id string, state model.EnrollmentState) error

	// AbandonStale はmaxAgeを超えて収集中のまま放置されたセッションを
	// abandonedに遷移させ、件数を返す。
	AbandonStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

// VoiceprintRepository は声紋の永続化インターフェース。
type VoiceprintRepository interface {
	// FindActiveByUser はユーザーのアクティブな声紋を取得する。見つからない場合はnilを返す。
	FindActiveByUser(ctx context.Context, userID string) (*model.Voiceprint, error)

	// ReplaceActive は既存のアクティブ声紋を履歴化（superseded_at設定）し、
	// 新しい声紋をアクティブとして挿入する。ユーザー行ロック下の1トランザクションで
	// 行うため、同一ユーザーの登録完了が並行しても単一のアクティブ声紋が保たれる。
	ReplaceActive(ctx context.Context, vp *model.Voiceprint) error

	// ListHistoryByUser はユーザーの声紋履歴（アクティブ含む）を新しい順に返す。
	ListHistoryByUser(ctx context.Context, userID string) ([]*model.Voiceprint, error)
}

// VerificationRepository は認証セッションの永続化インターフェース。
// 試行（VerificationAttempt）の書き込みはAttemptFinalizerが担う。
type VerificationRepository interface {
	// CreateSession は認証セッションを作成する。
	CreateSession(ctx context.Context, session *model.VerificationSession) error

	// FindSession は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindSession(ctx context.Context, id string) (*model.VerificationSession, error)

	// ListDecidedAttempts はセッションの決定済み試行を作成順に返す。
	ListDecidedAttempts(ctx context.Context, sessionID string) ([]*model.VerificationAttempt, error)

	// FindScores は試行のスコアを取得する。見つからない場合はnilを返す。
	FindScores(ctx context.Context, attemptID string) (*model.Scores, error)

	// UpdateSessionOutcome はセッションの終端状態と合成スコアを記録する。
	UpdateSessionOutcome(ctx context.Context, id string, state model.VerificationState, composite *float64) error
}

// AttemptFinalizer は決定済み試行の確定処理のインターフェース。
// 決定の記録・チャレンジの消費・監査ログの追記を1つの原子的単位として実行する。
type AttemptFinalizer interface {
	// FinalizeDecided は以下を1トランザクションで行う:
	//   (a) decided_atを1回だけ刻印した試行行の挿入
	//   (b) consumeがtrueの場合、チャレンジのused_atの条件付き設定
	//       （競合して既に消費済みの場合はErrChallengeUsedで中断）
	//   (c) チャレンジの発行先ユーザーと試行ユーザーの一致検査
	//       （不一致はErrUserMismatchで中断）
	//   (d) スコア行の挿入（scoresがnilの場合は省略）
	//   (e) ハッシュチェーンに連結した監査ログエントリの追記
	FinalizeDecided(ctx context.Context, attempt *model.VerificationAttempt, scores *model.Scores, consume bool, entry *model.AuditLogEntry) error
}

// AuditRepository は監査ログの永続化インターフェース。
type AuditRepository interface {
	// Append はエントリをハッシュチェーンに連結して追記する。
	// PrevHash/EntryHashはストレージ層が直前エントリから計算して設定する。
	Append(ctx context.Context, entry *model.AuditLogEntry) error

	// ListByEntity は対象エンティティの監査エントリを新しい順に最大limit件返す。
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*model.AuditLogEntry, error)

	// ListAfter はseqより後のエントリを順に最大limit件返す。チェーン検証に使用する。
	ListAfter(ctx context.Context, seq int64, limit int) ([]*model.AuditLogEntry, error)

	// PurgeOlderThan は保持期間を超過したエントリを削除し、件数を返す。
	// 監査ログに対する唯一の削除経路。
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
