package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/voicegate/internal/model"
)

// PostgresAttemptRepo はPostgreSQLを使用した認証試行の確定処理。
// 決定の記録・チャレンジの消費・スコアの保存・監査ログの追記を
// 1トランザクションで行い、部分的な確定状態を作らない。
type PostgresAttemptRepo struct {
	db *sql.DB
}

// NewPostgresAttemptRepo はPostgresAttemptRepoを生成する。
func NewPostgresAttemptRepo(db *sql.DB) *PostgresAttemptRepo {
	return &PostgresAttemptRepo{db: db}
}

// FinalizeDecided は決定済み試行を確定する。
// consumeがtrueの場合はチャレンジの条件付き消費を同一トランザクションで行い、
// 競合して消費に失敗した場合はErrChallengeUsed / ErrChallengeExpiredで中断する。
// 試行行・スコア行・監査エントリのいずれも書き込まれないため、呼び出し側は
// 拒否理由を差し替えた試行を改めて確定できる。
func (r *PostgresAttemptRepo) FinalizeDecided(ctx context.Context, attempt *model.VerificationAttempt, scores *model.Scores, consume bool, entry *model.AuditLogEntry) error {
	if !attempt.Decided || attempt.Accept == nil || attempt.DecidedAt == nil {
		return fmt.Errorf("attempt %s is not decided", attempt.ID)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if attempt.ChallengeID != nil {
		// 発行先ユーザーと試行ユーザーの一致検査
		var challengeUserID string
		err = tx.QueryRowContext(ctx,
			`SELECT user_id FROM challenges WHERE id = $1`,
			*attempt.ChallengeID,
		).Scan(&challengeUserID)
		if err == sql.ErrNoRows {
			return ErrChallengeNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to find challenge: %w", err)
		}
		if challengeUserID != attempt.UserID {
			return ErrUserMismatch
		}
	}

	if consume {
		if attempt.ChallengeID == nil {
			return fmt.Errorf("attempt %s has no challenge to consume", attempt.ID)
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE challenges SET used_at = now()
			 WHERE id = $1 AND used_at IS NULL AND expires_at > now()`,
			*attempt.ChallengeID,
		)
		if err != nil {
			return fmt.Errorf("failed to consume challenge: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			// 理由を判別して中断する。呼び出し側が拒否試行を作り直す。
			var usedAt *time.Time
			err = tx.QueryRowContext(ctx,
				`SELECT used_at FROM challenges WHERE id = $1`,
				*attempt.ChallengeID,
			).Scan(&usedAt)
			if err != nil {
				return fmt.Errorf("failed to inspect challenge: %w", err)
			}
			if usedAt != nil {
				return ErrChallengeUsed
			}
			return ErrChallengeExpired
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO verification_attempts (id, session_id, user_id, client_id, challenge_id, decided, accept, reason, policy_id, latency_ms, created_at, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		attempt.ID, attempt.SessionID, attempt.UserID, attempt.ClientID, attempt.ChallengeID,
		attempt.Decided, attempt.Accept, string(attempt.Reason), attempt.PolicyID,
		attempt.LatencyMs, attempt.CreatedAt, attempt.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert verification attempt: %w", err)
	}

	if scores != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO scores (attempt_id, similarity, spoof_probability, phrase_match, embedding_model, spoof_model, asr_model, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			scores.AttemptID, scores.Similarity, scores.SpoofProbability, scores.PhraseMatch,
			scores.EmbeddingModel, scores.SpoofModel, scores.ASRModel, scores.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert scores: %w", err)
		}
	}

	if entry != nil {
		if err := appendAuditEntryTx(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// compile-time interface check
var _ AttemptFinalizer = (*PostgresAttemptRepo)(nil)
