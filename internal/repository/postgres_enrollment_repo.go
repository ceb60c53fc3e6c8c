package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/voicegate/internal/model"
)

// PostgresEnrollmentRepo はPostgreSQLを使用した声紋登録セッションリポジトリ。
type PostgresEnrollmentRepo struct {
	db *sql.DB
}

// NewPostgresEnrollmentRepo はPostgresEnrollmentRepoを生成する。
func NewPostgresEnrollmentRepo(db *sql.DB) *PostgresEnrollmentRepo {
	return &PostgresEnrollmentRepo{db: db}
}

// CreateSession は登録セッションを作成する。
func (r *PostgresEnrollmentRepo) CreateSession(ctx context.Context, session *model.EnrollmentSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO enrollment_sessions (id, user_id, required_samples, overwrite, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		session.ID, session.UserID, session.RequiredSamples, session.Overwrite,
		session.State, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create enrollment session: %w", err)
	}
	return nil
}

// FindSession は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresEnrollmentRepo) FindSession(ctx context.Context, id string) (*model.EnrollmentSession, error) {
	session := &model.EnrollmentSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, required_samples, overwrite, state, created_at, updated_at
		 FROM enrollment_sessions WHERE id = $1`,
		id,
	).Scan(&session.ID, &session.UserID, &session.RequiredSamples, &session.Overwrite,
		&session.State, &session.CreatedAt, &session.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find enrollment session: %w", err)
	}

	return session, nil
}

// AddSampleConsuming はチャレンジの消費とサンプルの保存を1トランザクションで行う。
// チャレンジの消費に失敗した場合、失敗理由に応じたセンチネルエラーを返し、
// サンプルは保存されない（トランザクション全体がロールバックされる）。
func (r *PostgresEnrollmentRepo) AddSampleConsuming(ctx context.Context, sample *model.EnrollmentSample) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 条件付きUPDATEによる単回消費。競合した場合は高々1つだけが成功する。
	result, err := tx.ExecContext(ctx,
		`UPDATE challenges SET used_at = now()
		 WHERE id = $1 AND used_at IS NULL AND expires_at > now()`,
		sample.ChallengeID,
	)
	if err != nil {
		return fmt.Errorf("failed to consume challenge: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// 失敗理由を判別する
		var usedAt *time.Time
		var expiresAt time.Time
		err = tx.QueryRowContext(ctx,
			`SELECT used_at, expires_at FROM challenges WHERE id = $1`,
			sample.ChallengeID,
		).Scan(&usedAt, &expiresAt)
		if err == sql.ErrNoRows {
			return ErrChallengeNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to inspect challenge: %w", err)
		}
		if usedAt != nil {
			return ErrChallengeUsed
		}
		return ErrChallengeExpired
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO enrollment_samples (id, session_id, challenge_id, embedding, snr, duration_seconds, model_version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sample.ID, sample.SessionID, sample.ChallengeID, pq.Array(sample.Embedding),
		sample.SNR, sample.DurationSeconds, sample.ModelVersion, sample.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert enrollment sample: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE enrollment_sessions SET updated_at = now() WHERE id = $1`,
		sample.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch enrollment session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListSamples はセッションの全サンプルを作成順に返す。
func (r *PostgresEnrollmentRepo) ListSamples(ctx context.Context, sessionID string) ([]*model.EnrollmentSample, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, challenge_id, embedding, snr, duration_seconds, model_version, created_at
		 FROM enrollment_samples
		 WHERE session_id = $1
		 ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollment samples: %w", err)
	}
	defer rows.Close()

	var samples []*model.EnrollmentSample
	for rows.Next() {
		sample := &model.EnrollmentSample{}
		if err := rows.Scan(&sample.ID, &sample.SessionID, &sample.ChallengeID,
			pq.Array(&sample.Embedding), &sample.SNR, &sample.DurationSeconds,
			&sample.ModelVersion, &sample.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment sample: %w", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate enrollment samples: %w", err)
	}

	return samples, nil
}

// CountSamples はセッションの保存済みサンプル数を返す。
func (r *PostgresEnrollmentRepo) CountSamples(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM enrollment_samples WHERE session_id = $1`,
		sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count enrollment samples: %w", err)
	}
	return count, nil
}

// UpdateSessionState はセッションの状態を更新する。
func (r *PostgresEnrollmentRepo) UpdateSessionState(ctx context.Context, id string, state model.EnrollmentState) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE enrollment_sessions SET state = $2, updated_at = now() WHERE id = $1`,
		id, state,
	)
	if err != nil {
		return fmt.Errorf("failed to update enrollment session state: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("enrollment session not found: %s", id)
	}
	return nil
}

// AbandonStale はmaxAgeを超えて収集中のまま放置されたセッションを
// abandonedに遷移させ、件数を返す。
func (r *PostgresEnrollmentRepo) AbandonStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE enrollment_sessions
		 SET state = 'abandoned', updated_at = now()
		 WHERE state = 'collecting' AND updated_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(maxAge.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to abandon stale enrollment sessions: %w", err)
	}
	abandoned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return abandoned, nil
}

// compile-time interface check
var _ EnrollmentRepository = (*PostgresEnrollmentRepo)(nil)
