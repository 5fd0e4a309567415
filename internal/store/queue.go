package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/auditdesk/auditdesk/internal/schema"
)

// NextBatch selects up to limit queue entries still inside their retry
// budget, oldest first. FIFO order by created_at (id breaks ties) preserves
// the causal order of a given entity's mutations.
func (st *Store) NextBatch(ctx context.Context, limit, retryCap int) ([]schema.QueueEntry, error) {
	rows, err := st.conn.QueryContext(ctx, `
	SELECT id, entity_type, entity_id, operation, data, retry_count, last_error, created_at
	FROM sync_queue
	WHERE retry_count < ?
	ORDER BY created_at ASC, id ASC
	LIMIT ?
	`, retryCap, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query push batch: %w", err)
	}
	defer rows.Close()

	return scanQueueEntries(rows)
}

// CompletePush removes an acknowledged queue entry and, when no further
// mutations are pending for the same row, stamps the entity's synced_at with
// the push time. A row edited again since this entry was queued has a newer
// queue entry and stays unsynced. Both writes happen in one transaction.
func (st *Store) CompletePush(ctx context.Context, entry schema.QueueEntry, pushedAt time.Time) error {
	tx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to delete queue entry %d: %w", entry.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check queue deletion: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("queue entry %d no longer exists", entry.ID)
	}

	var remaining int
	err = tx.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM sync_queue WHERE entity_type = ? AND entity_id = ?
	`, entry.EntityType, entry.EntityID).Scan(&remaining)
	if err != nil {
		return fmt.Errorf("failed to count pending mutations: %w", err)
	}

	if remaining == 0 && entry.Operation != schema.OpDelete {
		et, ok := schema.Lookup(entry.EntityType)
		if !ok {
			return fmt.Errorf("unknown entity type %q", entry.EntityType)
		}
		query := fmt.Sprintf(`UPDATE %s SET synced_at = ? WHERE id = ?`, et.Table)
		if _, err := tx.ExecContext(ctx, query, pushedAt.UTC().Format(timeLayout), entry.EntityID); err != nil {
			return fmt.Errorf("failed to stamp synced_at on %s %s: %w", entry.EntityType, entry.EntityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit push completion: %w", err)
	}
	return nil
}

// MarkPushFailure records a failed push attempt: retry_count is incremented
// and last_error replaced. The entry stays in place for the next cycle until
// it exhausts its retry budget.
func (st *Store) MarkPushFailure(ctx context.Context, id int64, lastError string) error {
	res, err := st.conn.ExecContext(ctx, `
	UPDATE sync_queue SET retry_count = retry_count + 1, last_error = ? WHERE id = ?
	`, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark queue entry %d failed: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check failure update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("queue entry %d no longer exists", id)
	}
	return nil
}

// PendingCount returns the total number of queue entries, dead-letters
// included. This is the "unsynced local work" figure surfaced to the user.
func (st *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := st.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending mutations: %w", err)
	}
	return count, nil
}

// DeadLetterCount returns the number of entries that exhausted their retry
// budget.
func (st *Store) DeadLetterCount(ctx context.Context, retryCap int) (int, error) {
	var count int
	err := st.conn.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM sync_queue WHERE retry_count >= ?
	`, retryCap).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead-letters: %w", err)
	}
	return count, nil
}

// DeadLetters returns entries excluded from automatic retry, oldest first.
// They are never deleted automatically; an operator either requeues or
// purges them.
func (st *Store) DeadLetters(ctx context.Context, retryCap int) ([]schema.QueueEntry, error) {
	rows, err := st.conn.QueryContext(ctx, `
	SELECT id, entity_type, entity_id, operation, data, retry_count, last_error, created_at
	FROM sync_queue
	WHERE retry_count >= ?
	ORDER BY created_at ASC, id ASC
	`, retryCap)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead-letters: %w", err)
	}
	defer rows.Close()

	return scanQueueEntries(rows)
}

// ListQueue returns all queue entries, oldest first.
func (st *Store) ListQueue(ctx context.Context) ([]schema.QueueEntry, error) {
	rows, err := st.conn.QueryContext(ctx, `
	SELECT id, entity_type, entity_id, operation, data, retry_count, last_error, created_at
	FROM sync_queue
	ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	return scanQueueEntries(rows)
}

// RequeueEntry resets an entry's retry budget so the next push phase selects
// it again. This is the operator action for dead-lettered mutations.
func (st *Store) RequeueEntry(ctx context.Context, id int64) error {
	res, err := st.conn.ExecContext(ctx, `
	UPDATE sync_queue SET retry_count = 0, last_error = NULL WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to requeue entry %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check requeue: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("queue entry %d does not exist", id)
	}
	return nil
}

// PurgeDeadLetters deletes all dead-lettered entries and returns how many
// were removed. Destructive; callers confirm with the operator first.
func (st *Store) PurgeDeadLetters(ctx context.Context, retryCap int) (int64, error) {
	res, err := st.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE retry_count >= ?`, retryCap)
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead-letters: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged entries: %w", err)
	}
	return purged, nil
}

// HasPendingMutations reports whether any queue entry exists for the given
// row. The pull phase uses this to surface overwrites of unsynced local
// edits instead of resolving them silently.
func (st *Store) HasPendingMutations(ctx context.Context, entityType, entityID string) (bool, error) {
	var count int
	err := st.conn.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM sync_queue WHERE entity_type = ? AND entity_id = ?
	`, entityType, entityID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check pending mutations: %w", err)
	}
	return count > 0, nil
}

// scanQueueEntries is a helper to scan multiple queue entries from query
// results.
func scanQueueEntries(rows *sql.Rows) ([]schema.QueueEntry, error) {
	var entries []schema.QueueEntry

	for rows.Next() {
		var entry schema.QueueEntry
		var op, data, createdAt string
		var lastError sql.NullString

		if err := rows.Scan(
			&entry.ID,
			&entry.EntityType,
			&entry.EntityID,
			&op,
			&data,
			&entry.RetryCount,
			&lastError,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}

		entry.Operation = schema.Operation(op)
		entry.Data = json.RawMessage(data)
		if lastError.Valid {
			entry.LastError = lastError.String
		}

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse queue entry created_at: %w", err)
		}
		entry.CreatedAt = t

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}

	return entries, nil
}
