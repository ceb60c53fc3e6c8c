package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/voicegate/internal/audit"
	"github.com/hitoshi/voicegate/internal/challenge"
	"github.com/hitoshi/voicegate/internal/config"
	"github.com/hitoshi/voicegate/internal/model"
	"github.com/hitoshi/voicegate/internal/oracle"
	"github.com/hitoshi/voicegate/internal/repository"
)

// AddSampleResult はサンプル受理の結果を表す。
type AddSampleResult struct {
	Accepted      int              // 受理済みサンプル数
	Required      int              // 必要サンプル数
	NextChallenge *model.Challenge // さらにサンプルが必要な場合の次のチャレンジ
}

// Service は声紋登録フローを管理する。
// セッションは永続ストレージに保持されるため、複数インスタンスの
// どれがリクエストを受けても進行できる。
type Service struct {
	enrollments repository.EnrollmentRepository
	voiceprints repository.VoiceprintRepository
	users       repository.UserRepository
	challenges  *challenge.Service
	oracle      oracle.Oracle
	auditor     *audit.Enforcer
	cfg         *config.Config
}

// NewService はServiceを生成する。
func NewService(
	enrollments repository.EnrollmentRepository,
	voiceprints repository.VoiceprintRepository,
	users repository.UserRepository,
	challenges *challenge.Service,
	o oracle.Oracle,
	auditor *audit.Enforcer,
	cfg *config.Config,
) *Service {
	return &Service{
		enrollments: enrollments,
		voiceprints: voiceprints,
		users:       users,
		challenges:  challenges,
		oracle:      o,
		auditor:     auditor,
		cfg:         cfg,
	}
}

// Start は登録セッションを開始し、最初のチャレンジを発行する。
// 既にアクティブな声紋があるユーザーはoverwrite指定がない限り拒否する。
func (s *Service) Start(ctx context.Context, userID string, overwrite bool, actor string) (*model.EnrollmentSession, *model.Challenge, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || user.IsDeleted() {
		return nil, nil, model.NewUserNotFoundError(userID)
	}

	existing, err := s.voiceprints.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check active voiceprint: %w", err)
	}
	if existing != nil && !overwrite {
		return nil, nil, model.NewAlreadyEnrolledError()
	}

	now := time.Now().UTC()
	session := &model.EnrollmentSession{
		ID:              uuid.New().String(),
		UserID:          userID,
		RequiredSamples: s.cfg.RequiredSamples,
		Overwrite:       overwrite,
		State:           model.EnrollmentCollecting,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.enrollments.CreateSession(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("failed to create enrollment session: %w", err)
	}

	// セッションは既にコミット済みのため、監査の追記失敗で呼び出し側を失敗させない
	if err := s.auditor.Record(ctx, actor, model.AuditActionEnrollmentStarted, "enrollment_session", session.ID, true, map[string]string{
		"user_id":   userID,
		"overwrite": fmt.Sprintf("%t", overwrite),
	}); err != nil {
		slog.Warn("failed to record audit entry", "action", model.AuditActionEnrollmentStarted, "session_id", session.ID, "error", err)
	}

	ch, err := s.challenges.Issue(ctx, userID, model.DifficultyMedium, model.PurposeEnrollment, actor)
	if err != nil {
		return nil, nil, err
	}

	return session, ch, nil
}

// AddSample はチャレンジへの録音応答を品質検査の上で受理する。
// 品質検査に不合格の場合、チャレンジは消費されないため、期限内であれば
// 同じチャレンジで再録音できる。受理された場合はチャレンジの消費と
// サンプルの保存が1トランザクションで行われる。
func (s *Service) AddSample(ctx context.Context, sessionID, challengeID string, audio []byte, actor string) (*AddSampleResult, error) {
	session, err := s.enrollments.FindSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find enrollment session: %w", err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	if session.State != model.EnrollmentCollecting {
		return nil, model.NewSessionCompletedError(sessionID)
	}

	ch, status, err := s.challenges.Status(ctx, challengeID, session.UserID)
	if err != nil {
		return nil, err
	}
	if apiErr := challengeStatusError(status, challengeID); apiErr != nil {
		return nil, apiErr
	}

	extracted, err := s.oracle.ExtractEmbedding(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("failed to extract embedding: %w", err)
	}

	if extracted.SNR < s.cfg.MinSNRDB || extracted.DurationSeconds < s.cfg.MinSampleSeconds {
		if err := s.auditor.Record(ctx, actor, model.AuditActionSampleRejected, "enrollment_session", session.ID, false, map[string]string{
			"challenge_id": ch.ID,
			"snr":          fmt.Sprintf("%.1f", extracted.SNR),
			"duration":     fmt.Sprintf("%.1f", extracted.DurationSeconds),
		}); err != nil {
			slog.Warn("failed to record audit entry", "action", model.AuditActionSampleRejected, "session_id", session.ID, "error", err)
		}
		return nil, model.NewLowSignalQualityError(extracted.SNR, extracted.DurationSeconds)
	}

	sample := &model.EnrollmentSample{
		ID:              uuid.New().String(),
		SessionID:       session.ID,
		ChallengeID:     ch.ID,
		Embedding:       extracted.Embedding,
		SNR:             extracted.SNR,
		DurationSeconds: extracted.DurationSeconds,
		ModelVersion:    extracted.ModelVersion,
		CreatedAt:       time.Now().UTC(),
	}
	err = s.enrollments.AddSampleConsuming(ctx, sample)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrChallengeUsed):
			return nil, model.NewChallengeAlreadyUsedError(ch.ID)
		case errors.Is(err, repository.ErrChallengeExpired):
			return nil, model.NewChallengeExpiredError(ch.ID)
		case errors.Is(err, repository.ErrChallengeNotFound):
			return nil, model.NewChallengeNotFoundError(ch.ID)
		default:
			return nil, fmt.Errorf("failed to add enrollment sample: %w", err)
		}
	}

	// サンプルは既にコミット済みのため、監査の追記失敗で呼び出し側を失敗させない
	if err := s.auditor.Record(ctx, actor, model.AuditActionSampleAccepted, "enrollment_session", session.ID, true, map[string]string{
		"challenge_id": ch.ID,
		"sample_id":    sample.ID,
	}); err != nil {
		slog.Warn("failed to record audit entry", "action", model.AuditActionSampleAccepted, "session_id", session.ID, "error", err)
	}

	count, err := s.enrollments.CountSamples(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count enrollment samples: %w", err)
	}

	result := &AddSampleResult{
		Accepted: count,
		Required: session.RequiredSamples,
	}
	if count < session.RequiredSamples {
		next, err := s.challenges.Issue(ctx, session.UserID, model.DifficultyMedium, model.PurposeEnrollment, actor)
		if err != nil {
			// 上限到達などで次のチャレンジが発行できなくても、受理済みの
			// サンプルは保存されている。呼び出し側が後で発行し直せる。
			return result, nil
		}
		result.NextChallenge = next
	}

	return result, nil
}

// Complete は収集済みサンプルを集約して声紋を作成する。
// 声紋はL2正規化済みの平均埋め込みで、品質はサンプル間の平均ペアワイズ
// コサイン類似度。既存のアクティブ声紋がある場合は履歴化して置き換える。
func (s *Service) Complete(ctx context.Context, sessionID, actor string) (*model.Voiceprint, error) {
	session, err := s.enrollments.FindSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find enrollment session: %w", err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	if session.State != model.EnrollmentCollecting {
		return nil, model.NewSessionCompletedError(sessionID)
	}

	samples, err := s.enrollments.ListSamples(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollment samples: %w", err)
	}
	if len(samples) < session.RequiredSamples {
		return nil, model.NewInsufficientSamplesError(len(samples), session.RequiredSamples)
	}

	embeddings := make([][]float64, len(samples))
	for i, sample := range samples {
		embeddings[i] = sample.Embedding
	}

	mean, err := meanEmbedding(embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate embeddings: %w", err)
	}
	normalized, err := normalizeL2(mean)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize voiceprint: %w", err)
	}
	quality, err := pairwiseQuality(embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to compute voiceprint quality: %w", err)
	}

	vp := &model.Voiceprint{
		ID:           uuid.New().String(),
		UserID:       session.UserID,
		Embedding:    normalized,
		SampleCount:  len(samples),
		Quality:      quality,
		ModelVersion: samples[len(samples)-1].ModelVersion,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.voiceprints.ReplaceActive(ctx, vp); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, model.NewUserNotFoundError(session.UserID)
		}
		return nil, fmt.Errorf("failed to replace active voiceprint: %w", err)
	}

	if err := s.enrollments.UpdateSessionState(ctx, session.ID, model.EnrollmentCompleted); err != nil {
		return nil, fmt.Errorf("failed to complete enrollment session: %w", err)
	}

	// 声紋は既にコミット済みのため、監査の追記失敗で呼び出し側を失敗させない
	if err := s.auditor.Record(ctx, actor, model.AuditActionEnrollmentComplete, "enrollment_session", session.ID, true, map[string]string{
		"user_id":       session.UserID,
		"voiceprint_id": vp.ID,
		"sample_count":  fmt.Sprintf("%d", vp.SampleCount),
		"quality":       fmt.Sprintf("%.3f", vp.Quality),
	}); err != nil {
		slog.Warn("failed to record audit entry", "action", model.AuditActionEnrollmentComplete, "session_id", session.ID, "error", err)
	}

	return vp, nil
}

// History はユーザーの声紋履歴（アクティブ含む）を新しい順に返す。
func (s *Service) History(ctx context.Context, userID string) ([]*model.Voiceprint, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || user.IsDeleted() {
		return nil, model.NewUserNotFoundError(userID)
	}
	return s.voiceprints.ListHistoryByUser(ctx, userID)
}

// AbandonStale は放置された収集中セッションを打ち切り、件数を返す。
func (s *Service) AbandonStale(ctx context.Context) (int64, error) {
	return s.enrollments.AbandonStale(ctx, s.cfg.EnrollmentMaxAge)
}

// challengeStatusError はチャレンジ検証結果をAPIエラーに変換する。有効ならnilを返す。
func challengeStatusError(status model.ChallengeStatus, challengeID string) *model.APIError {
	switch status {
	case model.ChallengeValid:
		return nil
	case model.ChallengeNotFound:
		return model.NewChallengeNotFoundError(challengeID)
	case model.ChallengeWrongUser:
		return model.NewWrongUserError(challengeID)
	case model.ChallengeAlreadyUsed:
		return model.NewChallengeAlreadyUsedError(challengeID)
	default:
		return model.NewChallengeExpiredError(challengeID)
	}
}
