package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/putr/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog stores audit entries in the audit_log table.
type AuditLog struct {
	pool *pgxpool.Pool
}

// NewAuditLog creates an audit sink over an open pool.
func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

// Record inserts one entry.
func (a *AuditLog) Record(ctx context.Context, e core.AuditEntry) error {
	keys := e.PlayerKeys
	if keys == nil {
		keys = []string{}
	}
	_, err := a.pool.Exec(ctx, `
		INSERT INTO audit_log (
			id, action, severity, actor, ip_address, user_agent, game_date,
			source_name, snapshot_id, upload_id, player_keys, player_count,
			reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, string(e.Action), string(e.Severity), e.Actor, e.IPAddress, e.UserAgent, e.GameDate,
		e.SourceName, e.SnapshotID, e.UploadID, keys, e.PlayerCount,
		e.Reason, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries, newest first.
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]core.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := a.pool.Query(ctx, `
		SELECT id::text, action, severity, actor, ip_address, user_agent, game_date,
		       source_name, snapshot_id, upload_id, player_keys, player_count,
		       reason, created_at
		FROM audit_log
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.AuditEntry, error) {
		var e core.AuditEntry
		var action, severity string
		var created time.Time
		err := row.Scan(&e.ID, &action, &severity, &e.Actor, &e.IPAddress, &e.UserAgent, &e.GameDate,
			&e.SourceName, &e.SnapshotID, &e.UploadID, &e.PlayerKeys, &e.PlayerCount,
			&e.Reason, &created)
		e.Action = core.AuditAction(action)
		e.Severity = core.Severity(severity)
		e.CreatedAt = created.UTC()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return entries, nil
}
