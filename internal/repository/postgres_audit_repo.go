package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/voicegate/internal/model"
)

// 監査チェーンの追記を直列化するアドバイザリロックのキー。
const auditChainLockKey = 874201

// metadataJSON はmap[string]stringをJSONBカラムとして読み書きする。
type metadataJSON map[string]string

func (m metadataJSON) Value() (driver.Value, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func (m *metadataJSON) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata source type: %T", src)
	}
}

// PostgresAuditRepo はPostgreSQLを使用した監査ログリポジトリ。
// エントリは追記専用で、直前エントリのハッシュを連結したチェーンを形成する。
type PostgresAuditRepo struct {
	db *sql.DB
}

// NewPostgresAuditRepo はPostgresAuditRepoを生成する。
func NewPostgresAuditRepo(db *sql.DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

// appendAuditEntryTx はトランザクション内でエントリをチェーンに連結して追記する。
// pg_advisory_xact_lockで追記を直列化するため、複数インスタンスが並行追記しても
// チェーンが分岐することはない。ロックはトランザクション終了時に自動解放される。
func appendAuditEntryTx(ctx context.Context, tx *sql.Tx, entry *model.AuditLogEntry) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, auditChainLockKey); err != nil {
		return fmt.Errorf("failed to acquire audit chain lock: %w", err)
	}

	var prevHash string
	err := tx.QueryRowContext(ctx,
		`SELECT entry_hash FROM audit_log_entries ORDER BY seq DESC LIMIT 1`,
	).Scan(&prevHash)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read audit chain head: %w", err)
	}

	entry.PrevHash = prevHash
	entry.EntryHash = entry.ComputeHash(prevHash)

	err = tx.QueryRowContext(ctx,
		`INSERT INTO audit_log_entries (id, actor, action, entity_type, entity_id, metadata, success, prev_hash, entry_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		 RETURNING seq, created_at`,
		entry.ID, entry.Actor, entry.Action, entry.EntityType, entry.EntityID,
		metadataJSON(entry.Metadata), entry.Success, entry.PrevHash, entry.EntryHash,
	).Scan(&entry.Seq, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit log entry: %w", err)
	}

	return nil
}

// Append はエントリをハッシュチェーンに連結して追記する。
func (r *PostgresAuditRepo) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := appendAuditEntryTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListByEntity は対象エンティティの監査エントリを新しい順に最大limit件返す。
func (r *PostgresAuditRepo) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*model.AuditLogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, id, actor, action, entity_type, entity_id, metadata, success, prev_hash, entry_hash, created_at
		 FROM audit_log_entries
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY seq DESC
		 LIMIT $3`,
		entityType, entityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log entries: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

// ListAfter はseqより後のエントリをseq順に最大limit件返す。チェーン検証に使用する。
func (r *PostgresAuditRepo) ListAfter(ctx context.Context, seq int64, limit int) ([]*model.AuditLogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, id, actor, action, entity_type, entity_id, metadata, success, prev_hash, entry_hash, created_at
		 FROM audit_log_entries
		 WHERE seq > $1
		 ORDER BY seq ASC
		 LIMIT $2`,
		seq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log entries: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

// PurgeOlderThan は保持期間を超過したエントリを削除し、件数を返す。
// チェーンの先頭側から切り落とすため、残存部分の検証可能性は保たれる。
func (r *PostgresAuditRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_log_entries WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit log entries: %w", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return purged, nil
}

func scanAuditEntries(rows *sql.Rows) ([]*model.AuditLogEntry, error) {
	var entries []*model.AuditLogEntry
	for rows.Next() {
		entry := &model.AuditLogEntry{}
		var metadata metadataJSON
		if err := rows.Scan(&entry.Seq, &entry.ID, &entry.Actor, &entry.Action,
			&entry.EntityType, &entry.EntityID, &metadata, &entry.Success,
			&entry.PrevHash, &entry.EntryHash, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log entry: %w", err)
		}
		entry.Metadata = metadata
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit log entries: %w", err)
	}
	return entries, nil
}

// compile-time interface check
var _ AuditRepository = (*PostgresAuditRepo)(nil)
