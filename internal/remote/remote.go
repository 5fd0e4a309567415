// Package remote abstracts the cloud API consumed by the sync engine.
//
// The engine pushes queued mutations outward and pulls remote deltas inward
// through the Client interface. The HTTP implementation talks JSON over an
// authenticated transport; tests substitute an in-memory fake.
package remote

import (
	"context"
	"time"

	"github.com/auditdesk/auditdesk/internal/schema"
)

// Client is the remote replica the sync engine reconciles against.
//
// A nil error from PushMutation is the positive acknowledgment that allows
// the queue entry to be removed. Auth failures are returned as *AuthError
// and abort the whole cycle; everything else is a per-entry *CallError.
type Client interface {
	// PushMutation applies one queued local mutation to the remote
	// replica.
	PushMutation(ctx context.Context, entry schema.QueueEntry) error

	// PullChanges fetches remote records of the given entity type changed
	// since the watermark. A nil since requests the full history.
	PullChanges(ctx context.Context, entityType string, since *time.Time) ([]*schema.Record, error)
}
