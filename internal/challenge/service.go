// Package challenge は単回使用チャレンジの発行・検証・掃除を提供する。
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/voicegate/internal/audit"
	"github.com/hitoshi/voicegate/internal/config"
	"github.com/hitoshi/voicegate/internal/model"
	"github.com/hitoshi/voicegate/internal/phrase"
	"github.com/hitoshi/voicegate/internal/repository"
)

// Service はチャレンジのライフサイクルを管理する。
// 消費（used_atの設定）はストレージ層の条件付きUPDATEに委ね、
// ここでは発行と検証のみを扱う。
type Service struct {
	challenges repository.ChallengeRepository
	catalog    *phrase.Catalog
	auditor    *audit.Enforcer
	cfg        *config.Config
}

// NewService はServiceを生成する。
func NewService(challenges repository.ChallengeRepository, catalog *phrase.Catalog, auditor *audit.Enforcer, cfg *config.Config) *Service {
	return &Service{
		challenges: challenges,
		catalog:    catalog,
		auditor:    auditor,
		cfg:        cfg,
	}
}

// Issue は指定ユーザーに新しいチャレンジを発行する。
// difficultyが空の場合はmediumとして扱う。フレーズの選定・チャレンジの作成・
// 提示記録の追記は上限検査とともに1トランザクションで行われる。
func (s *Service) Issue(ctx context.Context, userID string, difficulty model.Difficulty, purpose model.UsagePurpose, actor string) (*model.Challenge, error) {
	if difficulty == "" {
		difficulty = model.DifficultyMedium
	}
	if !model.ValidDifficulty(difficulty) {
		return nil, model.NewInvalidPhraseError(fmt.Sprintf("未定義の難易度です: %s", difficulty))
	}

	p, err := s.catalog.Select(ctx, userID, s.cfg.DefaultLanguage, difficulty)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ch := &model.Challenge{
		ID:         uuid.New().String(),
		UserID:     userID,
		PhraseID:   p.ID,
		PhraseText: p.Text,
		Difficulty: p.Difficulty,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.ChallengeTTL(string(p.Difficulty))),
	}
	usage := &model.PhraseUsage{
		ID:       uuid.New().String(),
		UserID:   userID,
		PhraseID: p.ID,
		Purpose:  purpose,
		UsedAt:   now,
	}

	err = s.challenges.IssueWithCaps(ctx, ch, usage, s.cfg.MaxActiveChallenges, s.cfg.HourlyIssueCap)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			return nil, model.NewUserNotFoundError(userID)
		case errors.Is(err, repository.ErrActiveCapExceeded):
			return nil, model.NewTooManyActiveChallengesError(s.cfg.MaxActiveChallenges)
		case errors.Is(err, repository.ErrHourlyCapExceeded):
			return nil, model.NewRateLimitExceededError(s.retryAfterSec(ctx, userID, now))
		default:
			return nil, fmt.Errorf("failed to issue challenge: %w", err)
		}
	}

	// 発行は既にコミット済みのため、監査の追記失敗で呼び出し側を失敗させない
	if err := s.auditor.Record(ctx, actor, model.AuditActionChallengeIssued, "challenge", ch.ID, true, map[string]string{
		"user_id":    userID,
		"difficulty": string(ch.Difficulty),
		"purpose":    string(purpose),
	}); err != nil {
		slog.Warn("failed to record audit entry", "action", model.AuditActionChallengeIssued, "challenge_id", ch.ID, "error", err)
	}

	return ch, nil
}

// retryAfterSec は時間窓内の最古の発行が窓から外れるまでの秒数を推定する。
func (s *Service) retryAfterSec(ctx context.Context, userID string, now time.Time) int {
	oldest, err := s.challenges.OldestIssuedSince(ctx, userID, now.Add(-time.Hour))
	if err != nil || oldest == nil {
		return int(time.Hour.Seconds())
	}
	remaining := oldest.Add(time.Hour).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining.Seconds()) + 1
}

// Validate はチャレンジの提示をユーザー・消費状態・期限の順に検査する。
// 純粋な検査であり、状態は変更しない。
func Validate(ch *model.Challenge, userID string, now time.Time) model.ChallengeStatus {
	if ch == nil {
		return model.ChallengeNotFound
	}
	if ch.UserID != userID {
		return model.ChallengeWrongUser
	}
	if ch.IsUsed() {
		return model.ChallengeAlreadyUsed
	}
	if ch.IsExpired(now) {
		return model.ChallengeExpired
	}
	return model.ChallengeValid
}

// Status は指定チャレンジを取得し、ユーザーに対する検証結果とともに返す。
func (s *Service) Status(ctx context.Context, challengeID, userID string) (*model.Challenge, model.ChallengeStatus, error) {
	ch, err := s.challenges.FindByID(ctx, challengeID)
	if err != nil {
		return nil, model.ChallengeNotFound, fmt.Errorf("failed to find challenge: %w", err)
	}
	return ch, Validate(ch, userID, time.Now().UTC()), nil
}

// TimeRemaining はチャレンジの残り有効時間を返す。
// 期限切れ・消費済みの場合は0を返す。
func (s *Service) TimeRemaining(ctx context.Context, challengeID string) (*model.Challenge, time.Duration, error) {
	ch, err := s.challenges.FindByID(ctx, challengeID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find challenge: %w", err)
	}
	if ch == nil {
		return nil, 0, model.NewChallengeNotFoundError(challengeID)
	}

	now := time.Now().UTC()
	if ch.IsUsed() || ch.IsExpired(now) {
		return ch, 0, nil
	}
	return ch, ch.ExpiresAt.Sub(now), nil
}

// Sweep は保持期間を超過したチャレンジを削除し、削除件数を監査ログに残す。
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	deleted, err := s.challenges.SweepExpired(ctx, s.cfg.UsedRetention, s.cfg.ExpiredRetention)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep challenges: %w", err)
	}
	if deleted > 0 {
		if err := s.auditor.Record(ctx, "worker", model.AuditActionChallengeSwept, "challenge", "", true, map[string]string{
			"deleted": fmt.Sprintf("%d", deleted),
		}); err != nil {
			slog.Warn("failed to record audit entry", "action", model.AuditActionChallengeSwept, "error", err)
		}
	}
	return deleted, nil
}

// ActiveByUser はユーザーの未使用かつ未期限切れのチャレンジを有効期限の近い順に返す。
// 発行応答を取りこぼしたクライアントが提示中のチャレンジを引き直すために使用する。
func (s *Service) ActiveByUser(ctx context.Context, userID string) ([]*model.Challenge, error) {
	challenges, err := s.challenges.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active challenges: %w", err)
	}
	return challenges, nil
}
