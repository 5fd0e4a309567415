package resolve

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/auditdesk/auditdesk/internal/schema"
)

func record(id string, updated time.Time) *schema.Record {
	return &schema.Record{
		ID:        id,
		Type:      "organization",
		Payload:   json.RawMessage(`{"name": "Acme"}`),
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
	}
}

func TestResolve(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		local         *schema.Record
		remote        *schema.Record
		localPending  bool
		wantRemote    bool
		wantOverwrote bool
	}{
		{
			name:       "record only exists remotely",
			local:      nil,
			remote:     record("x", base),
			wantRemote: true,
		},
		{
			name:       "remote newer wins",
			local:      record("x", base),
			remote:     record("x", base.Add(time.Minute)),
			wantRemote: true,
		},
		{
			name:   "local newer wins",
			local:  record("x", base.Add(time.Minute)),
			remote: record("x", base),
		},
		{
			name:       "exact tie goes to remote",
			local:      record("x", base),
			remote:     record("x", base),
			wantRemote: true,
		},
		{
			name:          "pending local mutation yields row to remote",
			local:         record("x", base.Add(time.Hour)),
			remote:        record("x", base),
			localPending:  true,
			wantRemote:    true,
			wantOverwrote: true,
		},
		{
			name:          "pending flag applies even when remote is newer",
			local:         record("x", base),
			remote:        record("x", base.Add(time.Hour)),
			localPending:  true,
			wantRemote:    true,
			wantOverwrote: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.local, tt.remote, tt.localPending)

			if got.RemoteWon != tt.wantRemote {
				t.Errorf("RemoteWon = %v, want %v", got.RemoteWon, tt.wantRemote)
			}
			if got.OverwrotePending != tt.wantOverwrote {
				t.Errorf("OverwrotePending = %v, want %v", got.OverwrotePending, tt.wantOverwrote)
			}

			want := tt.remote
			if !tt.wantRemote {
				want = tt.local
			}
			if got.Winner != want {
				t.Errorf("Winner = %+v, want %+v", got.Winner, want)
			}
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	local := record("x", base)
	remote := record("x", base.Add(time.Second))

	first := Resolve(local, remote, false)
	for i := 0; i < 10; i++ {
		if got := Resolve(local, remote, false); got != first {
			t.Fatalf("Resolve() not deterministic: %+v != %+v", got, first)
		}
	}
}
