package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/voicegate/internal/model"
)

// PostgresVoiceprintRepo はPostgreSQLを使用した声紋リポジトリ。
type PostgresVoiceprintRepo struct {
	db *sql.DB
}

// NewPostgresVoiceprintRepo はPostgresVoiceprintRepoを生成する。
func NewPostgresVoiceprintRepo(db *sql.DB) *PostgresVoiceprintRepo {
	return &PostgresVoiceprintRepo{db: db}
}

// FindActiveByUser はユーザーのアクティブな声紋を取得する。見つからない場合はnilを返す。
func (r *PostgresVoiceprintRepo) FindActiveByUser(ctx context.Context, userID string) (*model.Voiceprint, error) {
	vp := &model.Voiceprint{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, embedding, sample_count, quality, model_version, active, created_at, superseded_at
		 FROM voiceprints
		 WHERE user_id = $1 AND active`,
		userID,
	).Scan(&vp.ID, &vp.UserID, pq.Array(&vp.Embedding), &vp.SampleCount, &vp.Quality,
		&vp.ModelVersion, &vp.Active, &vp.CreatedAt, &vp.SupersededAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active voiceprint: %w", err)
	}

	return vp, nil
}

// ReplaceActive は既存のアクティブ声紋を履歴化し、新しい声紋をアクティブとして挿入する。
// ユーザー行をFOR UPDATEでロックするため、同一ユーザーの登録完了が並行しても
// アクティブな声紋は高々1つに保たれる（部分一意インデックスが最終防衛線となる）。
func (r *PostgresVoiceprintRepo) ReplaceActive(ctx context.Context, vp *model.Voiceprint) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザー行ロック: 同一ユーザーの声紋置き換えを直列化する
	var deletedAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT deleted_at FROM users WHERE id = $1 FOR UPDATE`,
		vp.UserID,
	).Scan(&deletedAt)
	if err == sql.ErrNoRows {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock user row: %w", err)
	}
	if deletedAt.Valid {
		return ErrUserNotFound
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE voiceprints
		 SET active = FALSE, superseded_at = now()
		 WHERE user_id = $1 AND active`,
		vp.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to archive prior voiceprint: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO voiceprints (id, user_id, embedding, sample_count, quality, model_version, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)`,
		vp.ID, vp.UserID, pq.Array(vp.Embedding), vp.SampleCount, vp.Quality,
		vp.ModelVersion, vp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert voiceprint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListHistoryByUser はユーザーの声紋履歴（アクティブ含む）を新しい順に返す。
func (r *PostgresVoiceprintRepo) ListHistoryByUser(ctx context.Context, userID string) ([]*model.Voiceprint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, embedding, sample_count, quality, model_version, active, created_at, superseded_at
		 FROM voiceprints
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list voiceprint history: %w", err)
	}
	defer rows.Close()

	var prints []*model.Voiceprint
	for rows.Next() {
		vp := &model.Voiceprint{}
		if err := rows.Scan(&vp.ID, &vp.UserID, pq.Array(&vp.Embedding), &vp.SampleCount,
			&vp.Quality, &vp.ModelVersion, &vp.Active, &vp.CreatedAt, &vp.SupersededAt); err != nil {
			return nil, fmt.Errorf("failed to scan voiceprint: %w", err)
		}
		prints = append(prints, vp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate voiceprints: %w", err)
	}

	return prints, nil
}

// compile-time interface check
var _ VoiceprintRepository = (*PostgresVoiceprintRepo)(nil)
