package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/voicegate/internal/model"
)

// PostgresVerificationRepo はPostgreSQLを使用した認証セッションリポジトリ。
type PostgresVerificationRepo struct {
	db *sql.DB
}

// NewPostgresVerificationRepo はPostgresVerificationRepoを生成する。
func NewPostgresVerificationRepo(db *sql.DB) *PostgresVerificationRepo {
	return &PostgresVerificationRepo{db: db}
}

// CreateSession は認証セッションを作成する。
func (r *PostgresVerificationRepo) CreateSession(ctx context.Context, session *model.VerificationSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verification_sessions (id, user_id, client_id, policy_id, required_phrases, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, session.UserID, session.ClientID, session.PolicyID,
		session.RequiredPhrases, session.State, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create verification session: %w", err)
	}
	return nil
}

// FindSession は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresVerificationRepo) FindSession(ctx context.Context, id string) (*model.VerificationSession, error) {
	session := &model.VerificationSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, client_id, policy_id, required_phrases, state, composite_score, created_at, updated_at
		 FROM verification_sessions WHERE id = $1`,
		id,
	).Scan(&session.ID, &session.UserID, &session.ClientID, &session.PolicyID,
		&session.RequiredPhrases, &session.State, &session.CompositeScore,
		&session.CreatedAt, &session.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find verification session: %w", err)
	}

	return session, nil
}

// ListDecidedAttempts はセッションの決定済み試行を作成順に返す。
func (r *PostgresVerificationRepo) ListDecidedAttempts(ctx context.Context, sessionID string) ([]*model.VerificationAttempt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, client_id, challenge_id, decided, accept, reason, policy_id, latency_ms, created_at, decided_at
		 FROM verification_attempts
		 WHERE session_id = $1 AND decided
		 ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list decided attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*model.VerificationAttempt
	for rows.Next() {
		a := &model.VerificationAttempt{}
		var reason sql.NullString
		if err := rows.Scan(&a.ID, &a.SessionID, &a.UserID, &a.ClientID, &a.ChallengeID,
			&a.Decided, &a.Accept, &reason, &a.PolicyID, &a.LatencyMs, &a.CreatedAt, &a.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification attempt: %w", err)
		}
		if reason.Valid {
			a.Reason = model.Reason(reason.String)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate verification attempts: %w", err)
	}

	return attempts, nil
}

// FindScores は試行のスコアを取得する。見つからない場合はnilを返す。
func (r *PostgresVerificationRepo) FindScores(ctx context.Context, attemptID string) (*model.Scores, error) {
	s := &model.Scores{}
	err := r.db.QueryRowContext(ctx,
		`SELECT attempt_id, similarity, spoof_probability, phrase_match, embedding_model, spoof_model, asr_model, created_at
		 FROM scores WHERE attempt_id = $1`,
		attemptID,
	).Scan(&s.AttemptID, &s.Similarity, &s.SpoofProbability, &s.PhraseMatch,
		&s.EmbeddingModel, &s.SpoofModel, &s.ASRModel, &s.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find scores: %w", err)
	}

	return s, nil
}

// UpdateSessionOutcome はセッションの終端状態と合成スコアを記録する。
// 既に終端状態のセッションは上書きしない。
func (r *PostgresVerificationRepo) UpdateSessionOutcome(ctx context.Context, id string, state model.VerificationState, composite *float64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE verification_sessions
		 SET state = $2, composite_score = $3, updated_at = now()
		 WHERE id = $1 AND state = 'in_progress'`,
		id, state, composite,
	)
	if err != nil {
		return fmt.Errorf("failed to update verification session outcome: %w", err)
	}
	return nil
}

// compile-time interface check
var _ VerificationRepository = (*PostgresVerificationRepo)(nil)
