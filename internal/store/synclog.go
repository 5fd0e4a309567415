package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/auditdesk/auditdesk/internal/schema"
)

// AppendSyncLog writes one completed sync cycle to the append-only log.
// Entries are never mutated after completed_at is set; the orchestrator
// calls this exactly once at the end of a cycle.
func (st *Store) AppendSyncLog(ctx context.Context, entry *schema.SyncLogEntry) (int64, error) {
	if entry.SyncType == "" {
		return 0, fmt.Errorf("sync_type is required")
	}
	switch entry.Status {
	case schema.SyncStatusSuccess, schema.SyncStatusPartial, schema.SyncStatusFailure:
	default:
		return 0, fmt.Errorf("invalid sync status %q", entry.Status)
	}
	if entry.StartedAt.IsZero() {
		return 0, fmt.Errorf("started_at is required")
	}

	res, err := st.conn.ExecContext(ctx, `
	INSERT INTO sync_log (sync_type, status, records_synced, errors, started_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`,
		entry.SyncType,
		entry.Status,
		entry.RecordsSynced,
		entry.Errors,
		entry.StartedAt.UTC().Format(timeLayout),
		timeToNullString(entry.CompletedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append sync log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read sync log id: %w", err)
	}
	entry.ID = id
	return id, nil
}

// LastSuccessfulSync returns the completion time of the most recent fully
// successful cycle, or nil if none has succeeded yet.
func (st *Store) LastSuccessfulSync(ctx context.Context) (*time.Time, error) {
	var max sql.NullString
	err := st.conn.QueryRowContext(ctx, `
	SELECT MAX(completed_at) FROM sync_log WHERE status = ?
	`, schema.SyncStatusSuccess).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("failed to query last successful sync: %w", err)
	}
	return nullStringToTime(max), nil
}

// ListSyncLog returns sync cycles newest first, optionally bounded to those
// started at or after since. A limit of 0 means no limit.
func (st *Store) ListSyncLog(ctx context.Context, since *time.Time, limit int) ([]schema.SyncLogEntry, error) {
	query := `
	SELECT id, sync_type, status, records_synced, errors, started_at, completed_at
	FROM sync_log
	`
	var args []interface{}

	if since != nil {
		query += " WHERE started_at >= ?"
		args = append(args, since.UTC().Format(timeLayout))
	}

	query += " ORDER BY started_at DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := st.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync log: %w", err)
	}
	defer rows.Close()

	var entries []schema.SyncLogEntry
	for rows.Next() {
		var entry schema.SyncLogEntry
		var startedAt string
		var completedAt sql.NullString

		if err := rows.Scan(
			&entry.ID,
			&entry.SyncType,
			&entry.Status,
			&entry.RecordsSynced,
			&entry.Errors,
			&startedAt,
			&completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}

		t, err := time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse sync log started_at: %w", err)
		}
		entry.StartedAt = t
		entry.CompletedAt = nullStringToTime(completedAt)

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log: %w", err)
	}

	return entries, nil
}
