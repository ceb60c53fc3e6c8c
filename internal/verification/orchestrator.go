// Package verification は声紋認証セッションのオーケストレーションを提供する。
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/voicegate/internal/audit"
	"github.com/hitoshi/voicegate/internal/challenge"
	"github.com/hitoshi/voicegate/internal/config"
	"github.com/hitoshi/voicegate/internal/model"
	"github.com/hitoshi/voicegate/internal/oracle"
	"github.com/hitoshi/voicegate/internal/policy"
	"github.com/hitoshi/voicegate/internal/repository"
)

// Result は1フレーズ分の認証結果を表す。
type Result struct {
	Attempt       *model.VerificationAttempt
	Scores        *model.Scores // プロトコル違反・システム障害による拒否の場合はnil
	SessionState  model.VerificationState
	Composite     *float64         // セッションがverifiedになった場合の報告用スコア
	NextChallenge *model.Challenge // セッション継続時の次のチャレンジ
}

// Orchestrator は認証セッションの進行を管理する。
// 生体信号の取得・判定・試行の確定・セッション集約を1フレーズ単位で行う。
type Orchestrator struct {
	verifications repository.VerificationRepository
	challenges    repository.ChallengeRepository
	voiceprints   repository.VoiceprintRepository
	users         repository.UserRepository
	challengeSvc  *challenge.Service
	oracle        oracle.Oracle
	policies      *policy.Registry
	auditor       *audit.Enforcer
	cfg           *config.Config
}

// NewOrchestrator はOrchestratorを生成する。
func NewOrchestrator(
	verifications repository.VerificationRepository,
	challenges repository.ChallengeRepository,
	voiceprints repository.VoiceprintRepository,
	users repository.UserRepository,
	challengeSvc *challenge.Service,
	o oracle.Oracle,
	policies *policy.Registry,
	auditor *audit.Enforcer,
	cfg *config.Config,
) *Orchestrator {
	return &Orchestrator{
		verifications: verifications,
		challenges:    challenges,
		voiceprints:   voiceprints,
		users:         users,
		challengeSvc:  challengeSvc,
		oracle:        o,
		policies:      policies,
		auditor:       auditor,
		cfg:           cfg,
	}
}

// StartSession は認証セッションを開始し、最初のチャレンジを発行する。
// ロック中・声紋未登録のユーザーは開始できない。
func (o *Orchestrator) StartSession(ctx context.Context, userID, policyID, clientID string) (*model.VerificationSession, *model.Challenge, error) {
	user, err := o.users.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || user.IsDeleted() {
		return nil, nil, model.NewUserNotFoundError(userID)
	}

	now := time.Now().UTC()
	if user.IsLocked(now) {
		return nil, nil, model.NewUserLockedError(int(user.LockedUntil.Sub(now).Seconds()) + 1)
	}

	vp, err := o.voiceprints.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find active voiceprint: %w", err)
	}
	if vp == nil {
		return nil, nil, model.NewNotEnrolledError()
	}

	if policyID == "" {
		policyID = o.policies.DefaultID()
	}
	pol := o.policies.Get(policyID)

	session := &model.VerificationSession{
		ID:              uuid.New().String(),
		UserID:          userID,
		ClientID:        clientID,
		PolicyID:        pol.ID,
		RequiredPhrases: o.cfg.RequiredPhrases,
		State:           model.VerificationInProgress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.verifications.CreateSession(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("failed to create verification session: %w", err)
	}

	// セッションは既にコミット済みのため、監査の追記失敗で呼び出し側を失敗させない
	if err := o.auditor.Record(ctx, clientID, model.AuditActionVerifyStarted, "verification_session", session.ID, true, map[string]string{
		"user_id":   userID,
		"policy_id": pol.ID,
	}); err != nil {
		slog.Warn("failed to record audit entry", "action", model.AuditActionVerifyStarted, "session_id", session.ID, "error", err)
	}

	ch, err := o.challengeSvc.Issue(ctx, userID, model.DifficultyMedium, model.PurposeVerification, clientID)
	if err != nil {
		return nil, nil, err
	}

	return session, ch, nil
}

// VerifyPhrase はチャレンジへの録音応答を判定し、試行として確定する。
// 3つの生体信号は並行して取得し、固定の優先順位で判定する。
// チャレンジの消費・試行の記録・監査エントリの追記は1トランザクションで行われるため、
// 同じチャレンジに対する並行した提出はちょうど1つだけが判定まで到達する。
func (o *Orchestrator) VerifyPhrase(ctx context.Context, sessionID, challengeID string, audio []byte, clientID string) (*Result, error) {
	session, err := o.verifications.FindSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find verification session: %w", err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	if session.State != model.VerificationInProgress {
		return nil, model.NewSessionCompletedError(sessionID)
	}

	user, err := o.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || user.IsDeleted() {
		return nil, model.NewUserNotFoundError(session.UserID)
	}
	now := time.Now().UTC()
	if user.IsLocked(now) {
		return nil, model.NewUserLockedError(int(user.LockedUntil.Sub(now).Seconds()) + 1)
	}

	pol := o.policies.Get(session.PolicyID)

	ch, err := o.challenges.FindByID(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to find challenge: %w", err)
	}
	if status := challenge.Validate(ch, session.UserID, now); status != model.ChallengeValid {
		return o.rejectWithoutScores(ctx, session, ch, challengeID, pol, clientID, statusToReason(status))
	}

	vp, err := o.voiceprints.FindActiveByUser(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find active voiceprint: %w", err)
	}
	if vp == nil {
		return o.rejectWithoutScores(ctx, session, ch, challengeID, pol, clientID, model.ReasonNotEnrolled)
	}

	// 3つの生体信号を並行に取得する。判定には全信号が必要なため全完了を待つ。
	started := time.Now()
	var wg sync.WaitGroup
	var similarity, spoofProb, phraseMatch float64
	var embModel, spoofModel, asrModel string
	var simErr, spoofErr, asrErr error

	wg.Add(3)
	go func() {
		defer wg.Done()
		similarity, embModel, simErr = o.oracle.Compare(ctx, audio, vp.Embedding)
	}()
	go func() {
		defer wg.Done()
		spoofProb, spoofModel, spoofErr = o.oracle.SpoofScore(ctx, audio)
	}()
	go func() {
		defer wg.Done()
		phraseMatch, asrModel, asrErr = o.oracle.TranscribeAndMatch(ctx, audio, ch.PhraseText)
	}()
	wg.Wait()
	latencyMs := time.Since(started).Milliseconds()

	if simErr != nil || spoofErr != nil || asrErr != nil {
		// システム障害は拒否側に倒すが、チャレンジは消費せず
		// セッションも終端させない。期限内であれば再試行できる。
		err := errors.Join(simErr, spoofErr, asrErr)
		attempt := o.newDecidedAttempt(session, &ch.ID, pol.ID, false, model.ReasonError, latencyMs)
		if ferr := o.auditor.FinalizeAttempt(ctx, attempt, nil, false, map[string]string{
			"session_id":   session.ID,
			"challenge_id": ch.ID,
			"error":        err.Error(),
		}); ferr != nil {
			return nil, ferr
		}
		return &Result{
			Attempt:      attempt,
			SessionState: model.VerificationInProgress,
		}, nil
	}

	decision := pol.Decide(model.Scores{
		Similarity:       similarity,
		SpoofProbability: spoofProb,
		PhraseMatch:      phraseMatch,
	})

	attempt := o.newDecidedAttempt(session, &ch.ID, pol.ID, decision.Accept, decision.Reason, latencyMs)
	scores := &model.Scores{
		AttemptID:        attempt.ID,
		Similarity:       similarity,
		SpoofProbability: spoofProb,
		PhraseMatch:      phraseMatch,
		EmbeddingModel:   embModel,
		SpoofModel:       spoofModel,
		ASRModel:         asrModel,
		CreatedAt:        now,
	}

	err = o.auditor.FinalizeAttempt(ctx, attempt, scores, true, map[string]string{
		"session_id":   session.ID,
		"challenge_id": ch.ID,
	})
	if err != nil {
		// 判定中に別の提出がチャレンジを消費した場合、この判定は破棄し、
		// 消費状態に基づく拒否試行として確定し直す。
		switch {
		case errors.Is(err, repository.ErrChallengeUsed):
			return o.rejectWithoutScores(ctx, session, ch, challengeID, pol, clientID, model.ReasonChallengeUsed)
		case errors.Is(err, repository.ErrChallengeExpired):
			return o.rejectWithoutScores(ctx, session, ch, challengeID, pol, clientID, model.ReasonChallengeExpired)
		default:
			return nil, err
		}
	}

	return o.aggregateSession(ctx, session, attempt, scores, clientID)
}

// rejectWithoutScores はプロトコル違反による拒否試行を確定する。
// 生体信号は取得されないため、スコア行は書き込まれない。
func (o *Orchestrator) rejectWithoutScores(ctx context.Context, session *model.VerificationSession, ch *model.Challenge, challengeID string, pol policy.Policy, clientID string, reason model.Reason) (*Result, error) {
	// 未存在・別ユーザーのチャレンジは参照整合性と発行先検査の対象外とするため、
	// 試行には紐付けず監査メタデータにのみ残す。
	var chID *string
	if ch != nil && reason != model.ReasonWrongUser {
		chID = &ch.ID
	}

	attempt := o.newDecidedAttempt(session, chID, pol.ID, false, reason, 0)
	if err := o.auditor.FinalizeAttempt(ctx, attempt, nil, false, map[string]string{
		"session_id":   session.ID,
		"challenge_id": challengeID,
	}); err != nil {
		return nil, err
	}

	return o.aggregateSession(ctx, session, attempt, nil, clientID)
}

// aggregateSession は確定済み試行を踏まえてセッション状態を更新する。
// 全フレーズが承認された場合のみverifiedとし、報告用スコアは
// 承認済み試行の合成スコアの平均とする。拒否はその時点でセッションを終端させる。
func (o *Orchestrator) aggregateSession(ctx context.Context, session *model.VerificationSession, attempt *model.VerificationAttempt, scores *model.Scores, clientID string) (*Result, error) {
	result := &Result{Attempt: attempt, Scores: scores}

	accepted := attempt.Accept != nil && *attempt.Accept
	if !accepted {
		if err := o.verifications.UpdateSessionOutcome(ctx, session.ID, model.VerificationRejected, nil); err != nil {
			return nil, err
		}
		result.SessionState = model.VerificationRejected

		// 生体信号による拒否のみをロックアウトの連続失敗として数える。
		// プロトコル違反まで数えると、期限切れの放置だけでロックされてしまう。
		if isBiometricReject(attempt.Reason) {
			if _, err := o.users.RecordFailure(ctx, session.UserID, o.cfg.LockoutThreshold, o.cfg.LockoutDuration); err != nil {
				return nil, fmt.Errorf("failed to record verification failure: %w", err)
			}
		}

		o.recordSessionFinalized(ctx, session, clientID, model.VerificationRejected, nil)
		return result, nil
	}

	attempts, err := o.verifications.ListDecidedAttempts(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decided attempts: %w", err)
	}

	pol := o.policies.Get(session.PolicyID)
	var acceptedIDs []string
	for _, a := range attempts {
		if a.Accept != nil && *a.Accept {
			acceptedIDs = append(acceptedIDs, a.ID)
		}
	}

	if len(acceptedIDs) < session.RequiredPhrases {
		next, err := o.challengeSvc.Issue(ctx, session.UserID, model.DifficultyMedium, model.PurposeVerification, clientID)
		if err != nil {
			// 次のチャレンジが発行できなくても承認済みの試行は確定している。
			// 呼び出し側はセッションIDで認証を継続できる。
			result.SessionState = model.VerificationInProgress
			return result, nil
		}
		result.SessionState = model.VerificationInProgress
		result.NextChallenge = next
		return result, nil
	}

	// 全フレーズ承認: 承認済み試行の合成スコアの平均を報告用スコアとする
	var sum float64
	for _, id := range acceptedIDs {
		sc, err := o.verifications.FindScores(ctx, id)
		if err != nil {
			return nil, err
		}
		if sc == nil {
			return nil, fmt.Errorf("scores missing for accepted attempt %s", id)
		}
		sum += pol.Decide(*sc).Composite
	}
	composite := sum / float64(len(acceptedIDs))

	if err := o.verifications.UpdateSessionOutcome(ctx, session.ID, model.VerificationVerified, &composite); err != nil {
		return nil, err
	}
	if err := o.users.ResetFailures(ctx, session.UserID); err != nil {
		return nil, fmt.Errorf("failed to reset failure count: %w", err)
	}
	o.recordSessionFinalized(ctx, session, clientID, model.VerificationVerified, &composite)

	result.SessionState = model.VerificationVerified
	result.Composite = &composite
	return result, nil
}

// recordSessionFinalized はセッション終端の監査エントリを追記する。
// 終端状態は既にコミット済みのため、追記失敗は記録して続行する。
func (o *Orchestrator) recordSessionFinalized(ctx context.Context, session *model.VerificationSession, clientID string, state model.VerificationState, composite *float64) {
	metadata := map[string]string{
		"user_id": session.UserID,
		"state":   string(state),
	}
	if composite != nil {
		metadata["composite_score"] = fmt.Sprintf("%.3f", *composite)
	}
	if err := o.auditor.Record(ctx, clientID, model.AuditActionSessionFinalized, "verification_session", session.ID,
		state == model.VerificationVerified, metadata); err != nil {
		slog.Warn("failed to record audit entry", "action", model.AuditActionSessionFinalized, "session_id", session.ID, "error", err)
	}
}

// newDecidedAttempt は確定済み試行を構築する。決定後の試行は不変として扱う。
func (o *Orchestrator) newDecidedAttempt(session *model.VerificationSession, challengeID *string, policyID string, accept bool, reason model.Reason, latencyMs int64) *model.VerificationAttempt {
	now := time.Now().UTC()
	sessionID := session.ID
	return &model.VerificationAttempt{
		ID:          uuid.New().String(),
		SessionID:   &sessionID,
		UserID:      session.UserID,
		ClientID:    session.ClientID,
		ChallengeID: challengeID,
		Decided:     true,
		Accept:      &accept,
		Reason:      reason,
		PolicyID:    policyID,
		LatencyMs:   latencyMs,
		CreatedAt:   now,
		DecidedAt:   &now,
	}
}

// isBiometricReject は生体信号の検査による拒否かを返す。
func isBiometricReject(reason model.Reason) bool {
	switch reason {
	case model.ReasonSpoof, model.ReasonBadPhrase, model.ReasonLowSimilarity:
		return true
	}
	return false
}

// statusToReason はチャレンジ検証結果を試行の拒否理由に変換する。
func statusToReason(status model.ChallengeStatus) model.Reason {
	switch status {
	case model.ChallengeExpired:
		return model.ReasonChallengeExpired
	case model.ChallengeAlreadyUsed:
		return model.ReasonChallengeUsed
	case model.ChallengeWrongUser:
		return model.ReasonWrongUser
	default:
		return model.ReasonChallengeNotFound
	}
}
