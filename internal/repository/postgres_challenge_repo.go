package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/voicegate/internal/model"
)

// PostgresChallengeRepo はPostgreSQLを使用したチャレンジリポジトリ。
type PostgresChallengeRepo struct {
	db *sql.DB
}

// NewPostgresChallengeRepo はPostgresChallengeRepoを生成する。
func NewPostgresChallengeRepo(db *sql.DB) *PostgresChallengeRepo {
	return &PostgresChallengeRepo{db: db}
}

// FindByID は指定IDのチャレンジを取得する。見つからない場合はnilを返す。
func (r *PostgresChallengeRepo) FindByID(ctx context.Context, id string) (*model.Challenge, error) {
	ch := &model.Challenge{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, phrase_id, phrase_text, difficulty, created_at, expires_at, used_at
		 FROM challenges WHERE id = $1`,
		id,
	).Scan(&ch.ID, &ch.UserID, &ch.PhraseID, &ch.PhraseText, &ch.Difficulty,
		&ch.CreatedAt, &ch.ExpiresAt, &ch.UsedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find challenge by ID: %w", err)
	}

	return ch, nil
}

// IssueWithCaps はチャレンジと提示記録を1トランザクションで作成する。
// ユーザー行をFOR UPDATEでロックした上で上限検査を行うため、
// 同一ユーザーの並行発行が上限をすり抜けることはない。
func (r *PostgresChallengeRepo) IssueWithCaps(ctx context.Context, ch *model.Challenge, usage *model.PhraseUsage, maxActive, hourlyCap int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザー行ロック: 同一ユーザーの発行を直列化する
	var deletedAt *time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT deleted_at FROM users WHERE id = $1 FOR UPDATE`,
		ch.UserID,
	).Scan(&deletedAt)
	if err == sql.ErrNoRows {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock user row: %w", err)
	}
	if deletedAt != nil {
		return ErrUserNotFound
	}

	// 未使用・未期限切れのチャレンジ数の上限検査
	var activeCount int
	err = tx.QueryRowContext(ctx,
		`SELECT count(*) FROM challenges
		 WHERE user_id = $1 AND used_at IS NULL AND expires_at > now()`,
		ch.UserID,
	).Scan(&activeCount)
	if err != nil {
		return fmt.Errorf("failed to count active challenges: %w", err)
	}
	if activeCount >= maxActive {
		return ErrActiveCapExceeded
	}

	// 直近1時間の発行数の上限検査
	var hourlyCount int
	err = tx.QueryRowContext(ctx,
		`SELECT count(*) FROM challenges
		 WHERE user_id = $1 AND created_at > now() - interval '1 hour'`,
		ch.UserID,
	).Scan(&hourlyCount)
	if err != nil {
		return fmt.Errorf("failed to count hourly issuance: %w", err)
	}
	if hourlyCount >= hourlyCap {
		return ErrHourlyCapExceeded
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO challenges (id, user_id, phrase_id, phrase_text, difficulty, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ch.ID, ch.UserID, ch.PhraseID, ch.PhraseText, ch.Difficulty, ch.CreatedAt, ch.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert challenge: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO phrase_usages (id, user_id, phrase_id, purpose, used_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		usage.ID, usage.UserID, usage.PhraseID, usage.Purpose, usage.UsedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert phrase usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// FindActiveByUser は未使用かつ未期限切れのチャレンジを有効期限の近い順に返す。
func (r *PostgresChallengeRepo) FindActiveByUser(ctx context.Context, userID string) ([]*model.Challenge, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, phrase_id, phrase_text, difficulty, created_at, expires_at, used_at
		 FROM challenges
		 WHERE user_id = $1 AND used_at IS NULL AND expires_at > now()
		 ORDER BY expires_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active challenges: %w", err)
	}
	defer rows.Close()

	var challenges []*model.Challenge
	for rows.Next() {
		ch := &model.Challenge{}
		if err := rows.Scan(&ch.ID, &ch.UserID, &ch.PhraseID, &ch.PhraseText, &ch.Difficulty,
			&ch.CreatedAt, &ch.ExpiresAt, &ch.UsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		challenges = append(challenges, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate challenges: %w", err)
	}

	return challenges, nil
}

// OldestIssuedSince は指定時刻以降に発行された最古のチャレンジの発行時刻を返す。
// 該当がない場合はnilを返す。
func (r *PostgresChallengeRepo) OldestIssuedSince(ctx context.Context, userID string, since time.Time) (*time.Time, error) {
	var createdAt time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT created_at FROM challenges
		 WHERE user_id = $1 AND created_at > $2
		 ORDER BY created_at ASC
		 LIMIT 1`,
		userID, since,
	).Scan(&createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find oldest issued challenge: %w", err)
	}

	return &createdAt, nil
}

// SweepExpired は保持期間を超過したチャレンジを削除し、削除件数を返す。
// 消費済みはusedRetention経過後、未使用の期限切れはexpiredRetention経過後に削除する。
// TTL内のチャレンジは条件に一致しないため決して削除されない。
func (r *PostgresChallengeRepo) SweepExpired(ctx context.Context, usedRetention, expiredRetention time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM challenges
		 WHERE id IN (
		     SELECT id FROM challenges
		     WHERE (used_at IS NOT NULL AND used_at < now() - $1::interval)
		        OR (used_at IS NULL AND expires_at < now() - $2::interval)
		 )
		 AND id NOT IN (SELECT challenge_id FROM enrollment_samples)
		 AND id NOT IN (SELECT challenge_id FROM verification_attempts WHERE challenge_id IS NOT NULL)`,
		fmt.Sprintf("%d seconds", int(usedRetention.Seconds())),
		fmt.Sprintf("%d seconds", int(expiredRetention.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep challenges: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ ChallengeRepository = (*PostgresChallengeRepo)(nil)
