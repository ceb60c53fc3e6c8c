package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/voicegate/internal/model"
)

// PostgresPhraseRepo はPostgreSQLを使用したフレーズリポジトリ。
type PostgresPhraseRepo struct {
	db *sql.DB
}

// NewPostgresPhraseRepo はPostgresPhraseRepoを生成する。
func NewPostgresPhraseRepo(db *sql.DB) *PostgresPhraseRepo {
	return &PostgresPhraseRepo{db: db}
}

// Create はフレーズを作成する。
func (r *PostgresPhraseRepo) Create(ctx context.Context, phrase *model.Phrase) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO phrases (id, text, language, difficulty, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		phrase.ID, phrase.Text, phrase.Language, phrase.Difficulty, phrase.Active, phrase.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create phrase: %w", err)
	}
	return nil
}

// FindByText はテキストと言語でフレーズを検索する。見つからない場合はnilを返す。
func (r *PostgresPhraseRepo) FindByText(ctx context.Context, text, language string) (*model.Phrase, error) {
	phrase := &model.Phrase{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, text, language, difficulty, active, created_at
		 FROM phrases WHERE text = $1 AND language = $2`,
		text, language,
	).Scan(&phrase.ID, &phrase.Text, &phrase.Language, &phrase.Difficulty, &phrase.Active, &phrase.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find phrase by text: %w", err)
	}

	return phrase, nil
}

// ListActive はアクティブなフレーズをランダム順で取得する。
// difficultyが空文字列の場合は全難易度を対象とする。
// カタログは読み取り中心で並行アクセスに安全なため、ロックは取得しない。
func (r *PostgresPhraseRepo) ListActive(ctx context.Context, language string, difficulty model.Difficulty, excludeIDs []string, limit int) ([]*model.Phrase, error) {
	// nilスライスはNULL配列としてバインドされ全行を除外してしまうため空配列に揃える
	if excludeIDs == nil {
		excludeIDs = []string{}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, text, language, difficulty, active, created_at
		 FROM phrases
		 WHERE active
		   AND language = $1
		   AND ($2 = '' OR difficulty = $2)
		   AND NOT (id = ANY($3::uuid[]))
		 ORDER BY random()
		 LIMIT $4`,
		language, string(difficulty), pq.Array(excludeIDs), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active phrases: %w", err)
	}
	defer rows.Close()

	var phrases []*model.Phrase
	for rows.Next() {
		phrase := &model.Phrase{}
		if err := rows.Scan(&phrase.ID, &phrase.Text, &phrase.Language, &phrase.Difficulty, &phrase.Active, &phrase.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan phrase: %w", err)
		}
		phrases = append(phrases, phrase)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate phrases: %w", err)
	}

	return phrases, nil
}

// Deactivate はフレーズを無効化する。テキストの編集は行わない。
func (r *PostgresPhraseRepo) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE phrases SET active = FALSE WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate phrase: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("phrase not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ PhraseRepository = (*PostgresPhraseRepo)(nil)

// PostgresPhraseUsageRepo はPostgreSQLを使用したフレーズ提示記録リポジトリ。
// 提示記録の挿入はチャレンジ発行トランザクション（IssueWithCaps）側で行われる。
type PostgresPhraseUsageRepo struct {
	db *sql.DB
}

// NewPostgresPhraseUsageRepo はPostgresPhraseUsageRepoを生成する。
func NewPostgresPhraseUsageRepo(db *sql.DB) *PostgresPhraseUsageRepo {
	return &PostgresPhraseUsageRepo{db: db}
}

// RecentPhraseIDs はユーザーに直近提示されたフレーズIDを新しい順に最大window件返す。
func (r *PostgresPhraseUsageRepo) RecentPhraseIDs(ctx context.Context, userID string, window int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT phrase_id FROM phrase_usages
		 WHERE user_id = $1
		 ORDER BY used_at DESC
		 LIMIT $2`,
		userID, window,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent phrase usages: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan phrase usage: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate phrase usages: %w", err)
	}

	return ids, nil
}

// compile-time interface check
var _ PhraseUsageRepository = (*PostgresPhraseUsageRepo)(nil)
