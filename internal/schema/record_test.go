package schema

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRegistryTypes(t *testing.T) {
	types := Types()
	if len(types) != 7 {
		t.Fatalf("expected 7 registered entity types, got %d", len(types))
	}

	// Types() must be sorted for deterministic schema creation and pull order
	for i := 1; i < len(types); i++ {
		if types[i-1].Name >= types[i].Name {
			t.Errorf("types not sorted: %q before %q", types[i-1].Name, types[i].Name)
		}
	}

	for _, name := range []string{
		"organization", "user", "engagement", "trial_balance",
		"account_mapping", "analytics_result", "document",
	} {
		et, ok := Lookup(name)
		if !ok {
			t.Errorf("entity type %q not registered", name)
			continue
		}
		if et.Table == "" {
			t.Errorf("entity type %q has no table", name)
		}
	}
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name       string
		entityType string
		payload    string
		wantErr    bool
	}{
		{
			name:       "valid organization",
			entityType: "organization",
			payload:    `{"name": "Acme Holdings", "country": "NL"}`,
		},
		{
			name:       "organization missing name",
			entityType: "organization",
			payload:    `{"country": "NL"}`,
			wantErr:    true,
		},
		{
			name:       "valid engagement",
			entityType: "engagement",
			payload:    `{"organization_id": "org-1", "name": "FY2026 audit", "status": "fieldwork"}`,
		},
		{
			name:       "engagement period inverted",
			entityType: "engagement",
			payload:    `{"organization_id": "org-1", "name": "FY2026", "period_start": "2026-01-01T00:00:00Z", "period_end": "2025-01-01T00:00:00Z"}`,
			wantErr:    true,
		},
		{
			name:       "valid trial balance line",
			entityType: "trial_balance",
			payload:    `{"engagement_id": "eng-1", "account_code": "1000", "debit": 1500.25, "credit": 0}`,
		},
		{
			name:       "negative credit",
			entityType: "trial_balance",
			payload:    `{"engagement_id": "eng-1", "account_code": "1000", "debit": 0, "credit": -5}`,
			wantErr:    true,
		},
		{
			name:       "unknown entity type",
			entityType: "widget",
			payload:    `{}`,
			wantErr:    true,
		},
		{
			name:       "empty payload",
			entityType: "user",
			payload:    "",
			wantErr:    true,
		},
		{
			name:       "malformed JSON",
			entityType: "user",
			payload:    `{"email": `,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayload(tt.entityType, json.RawMessage(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecordValidate(t *testing.T) {
	now := time.Now().UTC()
	earlier := now.Add(-time.Hour)

	valid := func() *Record {
		return &Record{
			ID:        "org-1",
			Type:      "organization",
			Payload:   json.RawMessage(`{"name": "Acme"}`),
			CreatedAt: earlier,
			UpdatedAt: now,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Record)
		wantErr bool
	}{
		{name: "valid record", mutate: func(r *Record) {}},
		{name: "missing id", mutate: func(r *Record) { r.ID = "" }, wantErr: true},
		{name: "missing type", mutate: func(r *Record) { r.Type = "" }, wantErr: true},
		{name: "zero created_at", mutate: func(r *Record) { r.CreatedAt = time.Time{} }, wantErr: true},
		{name: "updated before created", mutate: func(r *Record) { r.UpdatedAt = earlier.Add(-time.Minute) }, wantErr: true},
		{name: "bad payload", mutate: func(r *Record) { r.Payload = json.RawMessage(`{}`) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid()
			tt.mutate(rec)
			if err := rec.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecordSynced(t *testing.T) {
	now := time.Now().UTC()
	later := now.Add(time.Minute)

	tests := []struct {
		name     string
		updated  time.Time
		synced   *time.Time
		expected bool
	}{
		{name: "never synced", updated: now, synced: nil, expected: false},
		{name: "synced after update", updated: now, synced: &later, expected: true},
		{name: "synced exactly at update", updated: now, synced: &now, expected: true},
		{name: "touched after sync", updated: later, synced: &now, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Record{UpdatedAt: tt.updated, SyncedAt: tt.synced}
			if got := rec.Synced(); got != tt.expected {
				t.Errorf("Synced() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestQueueEntrySnapshot(t *testing.T) {
	now := time.Now().UTC()
	rec := &Record{
		ID:        "u-1",
		Type:      "user",
		Payload:   json.RawMessage(`{"email": "a@b.example"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("failed to marshal record: %v", err)
	}

	entry := &QueueEntry{ID: 7, EntityType: "user", EntityID: "u-1", Operation: OpCreate, Data: data}
	got, err := entry.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if got.ID != rec.ID || got.Type != rec.Type {
		t.Errorf("Snapshot() = %+v, want id=%s type=%s", got, rec.ID, rec.Type)
	}

	bad := &QueueEntry{ID: 8, Data: json.RawMessage(`{`)}
	if _, err := bad.Snapshot(); err == nil {
		t.Error("Snapshot() on malformed data should fail")
	}
}

func TestOperationValid(t *testing.T) {
	for _, op := range []Operation{OpCreate, OpUpdate, OpDelete} {
		if !op.Valid() {
			t.Errorf("%q should be valid", op)
		}
	}
	if Operation("upsert").Valid() {
		t.Error("unknown operation should be invalid")
	}
}
