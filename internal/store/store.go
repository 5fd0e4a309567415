// Package store provides the embedded SQLite datastore for the sync core.
//
// The database runs in embedded mode (ncruces/go-sqlite3) with WAL for
// concurrent reads. It holds one record table per registered entity type plus
// two control tables: sync_queue (the durable mutation queue) and sync_log
// (one append-only row per completed sync cycle).
//
// Local mutations go through CreateRecord/UpdateRecord/DeleteRecord, which
// write the entity row and append the matching queue entry in a single
// transaction. If either write fails, both roll back.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/auditdesk/auditdesk/internal/schema"
)

// ErrNotFound is returned when a record does not exist locally.
var ErrNotFound = errors.New("record not found")

// timeLayout is a fixed-width RFC3339 form. Fixed width keeps lexicographic
// ordering correct inside SQLite, which the watermark MAX() query relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite connection with sync-core specific functionality.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL enabled. The caller MUST
// call Close() when done.
//
// Example:
//
//	st, err := store.Open(".auditdesk/local.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{
		conn: conn,
		path: path,
	}

	// WAL for concurrent reads while the pull phase writes
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := st.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return st, nil
}

// RawDB returns the underlying sql.DB connection.
func (st *Store) RawDB() *sql.DB {
	return st.conn
}

// Close closes the database connection after checkpointing the WAL.
func (st *Store) Close() error {
	if st.conn == nil {
		return nil
	}

	if _, err := st.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := st.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	st.conn = nil
	return nil
}

// InitSchema creates the control tables and one record table per registered
// entity type. Idempotent - safe to call multiple times.
func (st *Store) InitSchema(ctx context.Context) error {
	control := `
	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		operation TEXT NOT NULL,  -- create, update, delete
		data TEXT NOT NULL,       -- self-contained record snapshot
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sync_type TEXT NOT NULL,
		status TEXT NOT NULL,
		records_synced INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	-- Push batches select by retry budget in FIFO order
	CREATE INDEX IF NOT EXISTS idx_queue_retry_created ON sync_queue(retry_count, created_at);
	CREATE INDEX IF NOT EXISTS idx_queue_entity ON sync_queue(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_synclog_started ON sync_log(started_at);
	`

	if _, err := st.conn.ExecContext(ctx, control); err != nil {
		return fmt.Errorf("failed to initialize control tables: %w", err)
	}

	for _, et := range schema.Types() {
		table := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,  -- JSON per the %[2]s contract
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			synced_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_synced ON %[1]s(synced_at);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_updated ON %[1]s(updated_at);
		`, et.Table, et.Name)

		if _, err := st.conn.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to initialize %s table: %w", et.Name, err)
		}
	}

	return nil
}

// CreateRecord inserts a new record and queues the matching create mutation
// in one transaction. A missing ID is assigned a fresh UUID; zero timestamps
// default to now. Returns the queue entry id.
func (st *Store) CreateRecord(ctx context.Context, rec *schema.Record) (int64, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	if err := rec.Validate(); err != nil {
		return 0, fmt.Errorf("invalid record: %w", err)
	}

	et, ok := schema.Lookup(rec.Type)
	if !ok {
		return 0, fmt.Errorf("unknown entity type %q", rec.Type)
	}

	tx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
	INSERT INTO %s (id, payload, created_at, updated_at, synced_at)
	VALUES (?, ?, ?, ?, NULL)
	`, et.Table)

	if _, err := tx.ExecContext(ctx, query,
		rec.ID,
		string(rec.Payload),
		rec.CreatedAt.UTC().Format(timeLayout),
		rec.UpdatedAt.UTC().Format(timeLayout),
	); err != nil {
		return 0, fmt.Errorf("failed to insert %s %s: %w", rec.Type, rec.ID, err)
	}

	queueID, err := enqueueMutation(ctx, tx, rec, schema.OpCreate)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return queueID, nil
}

// UpdateRecord updates an existing record's payload, bumps updated_at, and
// queues the matching update mutation in one transaction. Returns the queue
// entry id, or ErrNotFound if the record does not exist.
func (st *Store) UpdateRecord(ctx context.Context, rec *schema.Record) (int64, error) {
	if rec.ID == "" {
		return 0, fmt.Errorf("id is required")
	}
	et, ok := schema.Lookup(rec.Type)
	if !ok {
		return 0, fmt.Errorf("unknown entity type %q", rec.Type)
	}
	if _, err := schema.DecodePayload(rec.Type, rec.Payload); err != nil {
		return 0, fmt.Errorf("invalid %s payload: %w", rec.Type, err)
	}

	tx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Carry forward created_at and synced_at; an updated row becomes
	// unsynced again because updated_at moves past synced_at.
	existing, err := getRecordTx(ctx, tx, et, rec.ID)
	if err != nil {
		return 0, err
	}
	rec.CreatedAt = existing.CreatedAt
	rec.SyncedAt = existing.SyncedAt
	if rec.UpdatedAt.IsZero() || !rec.UpdatedAt.After(existing.UpdatedAt) {
		rec.UpdatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`UPDATE %s SET payload = ?, updated_at = ? WHERE id = ?`, et.Table)
	if _, err := tx.ExecContext(ctx, query,
		string(rec.Payload),
		rec.UpdatedAt.UTC().Format(timeLayout),
		rec.ID,
	); err != nil {
		return 0, fmt.Errorf("failed to update %s %s: %w", rec.Type, rec.ID, err)
	}

	queueID, err := enqueueMutation(ctx, tx, rec, schema.OpUpdate)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return queueID, nil
}

// DeleteRecord removes a record and queues the matching delete mutation in
// one transaction. The queue snapshot captures the row as it was before the
// delete. Returns the queue entry id, or ErrNotFound.
func (st *Store) DeleteRecord(ctx context.Context, entityType, id string) (int64, error) {
	et, ok := schema.Lookup(entityType)
	if !ok {
		return 0, fmt.Errorf("unknown entity type %q", entityType)
	}

	tx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := getRecordTx(ctx, tx, et, id)
	if err != nil {
		return 0, err
	}
	existing.UpdatedAt = time.Now().UTC()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, et.Table)
	if _, err := tx.ExecContext(ctx, query, id); err != nil {
		return 0, fmt.Errorf("failed to delete %s %s: %w", entityType, id, err)
	}

	queueID, err := enqueueMutation(ctx, tx, existing, schema.OpDelete)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return queueID, nil
}

// GetRecord retrieves a single record by entity type and id.
// Returns ErrNotFound if the record does not exist.
func (st *Store) GetRecord(ctx context.Context, entityType, id string) (*schema.Record, error) {
	et, ok := schema.Lookup(entityType)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	query := fmt.Sprintf(`
	SELECT id, payload, created_at, updated_at, synced_at FROM %s WHERE id = ?
	`, et.Table)

	row := st.conn.QueryRowContext(ctx, query, id)
	rec, err := scanRecord(row, et.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", entityType, id, ErrNotFound)
	}
	return rec, err
}

// ApplyRemote upserts a remote-origin record and stamps synced_at with the
// pull timestamp. It bypasses the mutation queue: remote-origin writes are
// already durable on the remote replica.
func (st *Store) ApplyRemote(ctx context.Context, rec *schema.Record, pulledAt time.Time) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid remote record: %w", err)
	}
	et, ok := schema.Lookup(rec.Type)
	if !ok {
		return fmt.Errorf("unknown entity type %q", rec.Type)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, payload, created_at, updated_at, synced_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		payload = excluded.payload,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		synced_at = excluded.synced_at
	`, et.Table)

	if _, err := st.conn.ExecContext(ctx, query,
		rec.ID,
		string(rec.Payload),
		rec.CreatedAt.UTC().Format(timeLayout),
		rec.UpdatedAt.UTC().Format(timeLayout),
		pulledAt.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("failed to apply remote %s %s: %w", rec.Type, rec.ID, err)
	}

	return nil
}

// MarkSynced stamps synced_at on an existing row without touching its
// payload. Used when the local version wins a pull-phase conflict.
func (st *Store) MarkSynced(ctx context.Context, entityType, id string, syncedAt time.Time) error {
	et, ok := schema.Lookup(entityType)
	if !ok {
		return fmt.Errorf("unknown entity type %q", entityType)
	}

	query := fmt.Sprintf(`UPDATE %s SET synced_at = ? WHERE id = ?`, et.Table)
	if _, err := st.conn.ExecContext(ctx, query, syncedAt.UTC().Format(timeLayout), id); err != nil {
		return fmt.Errorf("failed to mark %s %s synced: %w", entityType, id, err)
	}
	return nil
}

// Watermark returns the latest synced_at observed for an entity type, or nil
// if no row of that type has ever synced. The pull phase requests only
// changes newer than this.
func (st *Store) Watermark(ctx context.Context, entityType string) (*time.Time, error) {
	et, ok := schema.Lookup(entityType)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	var max sql.NullString
	query := fmt.Sprintf(`SELECT MAX(synced_at) FROM %s`, et.Table)
	if err := st.conn.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return nil, fmt.Errorf("failed to query %s watermark: %w", entityType, err)
	}

	return nullStringToTime(max), nil
}

// CountRecords returns the number of rows for an entity type.
func (st *Store) CountRecords(ctx context.Context, entityType string) (int, error) {
	et, ok := schema.Lookup(entityType)
	if !ok {
		return 0, fmt.Errorf("unknown entity type %q", entityType)
	}

	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, et.Table)
	if err := st.conn.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s records: %w", entityType, err)
	}
	return count, nil
}

// enqueueMutation appends a queue entry inside the caller's transaction.
// The snapshot is the full record envelope so the entry replays without
// consulting the (possibly changed) entity row.
func enqueueMutation(ctx context.Context, tx *sql.Tx, rec *schema.Record, op schema.Operation) (int64, error) {
	snapshot, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal %s %s snapshot: %w", rec.Type, rec.ID, err)
	}

	res, err := tx.ExecContext(ctx, `
	INSERT INTO sync_queue (entity_type, entity_id, operation, data, retry_count, created_at)
	VALUES (?, ?, ?, ?, 0, ?)
	`, rec.Type, rec.ID, string(op), string(snapshot), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s mutation for %s %s: %w", op, rec.Type, rec.ID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue entry id: %w", err)
	}
	return id, nil
}

// getRecordTx reads a record inside a transaction.
func getRecordTx(ctx context.Context, tx *sql.Tx, et schema.EntityType, id string) (*schema.Record, error) {
	query := fmt.Sprintf(`
	SELECT id, payload, created_at, updated_at, synced_at FROM %s WHERE id = ?
	`, et.Table)

	rec, err := scanRecord(tx.QueryRowContext(ctx, query, id), et.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", et.Name, id, ErrNotFound)
	}
	return rec, err
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner, entityType string) (*schema.Record, error) {
	var rec schema.Record
	var payload, createdAt, updatedAt string
	var syncedAt sql.NullString

	if err := row.Scan(&rec.ID, &payload, &createdAt, &updatedAt, &syncedAt); err != nil {
		return nil, err
	}

	rec.Type = entityType
	rec.Payload = json.RawMessage(payload)

	var err error
	if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	rec.SyncedAt = nullStringToTime(syncedAt)

	return &rec, nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
