// Package schema provides the data model for the auditdesk sync core.
//
// Every domain entity is carried through the sync engine as a Record: a thin
// envelope of identity and timestamps around an entity-specific JSON payload.
// The payload contract for each entity type is declared in the type registry
// (see registry.go), so queued mutations can be checked against the type they
// target before they are replayed.
package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation identifies the kind of local mutation captured by a queue entry.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Record is the generic envelope for a domain entity row.
//
// Payload is opaque to the sync core; its shape is governed by the registry
// entry for Type. SyncedAt is nil for rows that have never been reconciled
// with the remote service. A row whose UpdatedAt is later than its SyncedAt
// is considered unsynced again.
type Record struct {
	ID        string          `json:"id"`
	Type      string          `json:"entity_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	SyncedAt  *time.Time      `json:"synced_at,omitempty"`
}

// Validate checks the envelope invariants and the payload against the
// registered contract for the record's entity type.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.Type == "" {
		return fmt.Errorf("entity_type is required")
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if r.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	if r.UpdatedAt.Before(r.CreatedAt) {
		return fmt.Errorf("updated_at %s precedes created_at %s", r.UpdatedAt.Format(time.RFC3339), r.CreatedAt.Format(time.RFC3339))
	}
	if r.SyncedAt != nil && r.SyncedAt.IsZero() {
		return fmt.Errorf("synced_at must be nil or a valid timestamp")
	}
	if _, err := DecodePayload(r.Type, r.Payload); err != nil {
		return fmt.Errorf("invalid %s payload: %w", r.Type, err)
	}
	return nil
}

// Synced reports whether the row is reconciled with the remote replica.
// A row touched after its last sync counts as unsynced.
func (r *Record) Synced() bool {
	return r.SyncedAt != nil && !r.UpdatedAt.After(*r.SyncedAt)
}

// QueueEntry is one row of the durable mutation queue.
//
// Data is a self-contained snapshot of the record at mutation time, so the
// entry stays replayable even if the entity row changes again before the
// push happens. LastError uses the "category: message" form produced by the
// remote client so error classes stay distinguishable without a schema change.
type QueueEntry struct {
	ID         int64           `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Operation  Operation       `json:"operation"`
	Data       json.RawMessage `json:"data"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Snapshot decodes the queued record snapshot.
func (e *QueueEntry) Snapshot() (*Record, error) {
	var rec Record
	if err := json.Unmarshal(e.Data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode queue entry %d snapshot: %w", e.ID, err)
	}
	return &rec, nil
}

// Sync cycle outcomes recorded in the sync log.
const (
	SyncStatusSuccess = "success"
	SyncStatusPartial = "partial"
	SyncStatusFailure = "failure"
)

// Sync cycle trigger sources.
const (
	SyncTypeAuto   = "auto"
	SyncTypeManual = "manual"
)

// SyncLogEntry is one append-only row per completed sync cycle.
type SyncLogEntry struct {
	ID            int64      `json:"id"`
	SyncType      string     `json:"sync_type"`
	Status        string     `json:"status"`
	RecordsSynced int        `json:"records_synced"`
	Errors        int        `json:"errors"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
