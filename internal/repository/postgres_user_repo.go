package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/voicegate/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, external_ref, failed_attempts, locked_until, deleted_at, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.ExternalRef, &user.FailedAttempts, &user.LockedUntil,
		&user.DeletedAt, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, external_ref, failed_attempts, created_at, updated_at)
		 VALUES ($1, $2, 0, $3, $4)`,
		user.ID, user.ExternalRef, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// RecordFailure は連続失敗回数をインクリメントし、しきい値に達した場合は
// locked_untilを設定する。更新後のユーザーを返す。
// インクリメントとロック判定は単一のUPDATEで行うため、並行する失敗記録が
// カウントを取りこぼすことはない。
func (r *PostgresUserRepo) RecordFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET failed_attempts = failed_attempts + 1,
		     locked_until = CASE WHEN failed_attempts + 1 >= $2
		                         THEN now() + $3::interval
		                         ELSE locked_until END,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING id, external_ref, failed_attempts, locked_until, deleted_at, created_at, updated_at`,
		userID, threshold, fmt.Sprintf("%d seconds", int(lockFor.Seconds())),
	).Scan(&user.ID, &user.ExternalRef, &user.FailedAttempts, &user.LockedUntil,
		&user.DeletedAt, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record verification failure: %w", err)
	}

	return user, nil
}

// ResetFailures は連続失敗回数を0に戻し、ロックを解除する。
func (r *PostgresUserRepo) ResetFailures(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET failed_attempts = 0, locked_until = NULL, updated_at = now()
		 WHERE id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to reset verification failures: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
