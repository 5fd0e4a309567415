// Package resolve implements conflict resolution for the pull phase.
//
// The policy is last-write-wins by updated_at, with the remote version
// winning exact ties (the remote clock is treated as authoritative). When the
// local row still has unsynced mutations queued, the remote version is
// applied to the row regardless of timestamps: the local change survives in
// its queue snapshot and is pushed on the next cycle, which can overwrite the
// remote again one cycle later. That second-order overwrite is an accepted
// eventual-consistency trade-off, and callers are expected to surface it to
// the user rather than resolve silently.
package resolve

import (
	"github.com/auditdesk/auditdesk/internal/schema"
)

// Outcome describes the result of resolving one local/remote pair.
type Outcome struct {
	// Winner is the version to apply to the local row.
	Winner *schema.Record

	// RemoteWon reports whether the remote version was chosen.
	RemoteWon bool

	// OverwrotePending is set when the remote version replaced a row that
	// still has mutations queued locally.
	OverwrotePending bool
}

// Resolve decides which version of a record wins. It is a pure function of
// its inputs: calling it repeatedly with the same arguments yields the same
// outcome.
//
// local may be nil (the record only exists remotely). localPending reports
// whether the mutation queue holds unsynced entries for this record id.
func Resolve(local, remote *schema.Record, localPending bool) Outcome {
	if local == nil {
		return Outcome{Winner: remote, RemoteWon: true}
	}

	if localPending {
		// The pending queue snapshot keeps the local change alive; the
		// row itself takes the remote version.
		return Outcome{Winner: remote, RemoteWon: true, OverwrotePending: true}
	}

	if local.UpdatedAt.After(remote.UpdatedAt) {
		return Outcome{Winner: local}
	}

	// Remote wins on a later timestamp and on an exact tie.
	return Outcome{Winner: remote, RemoteWon: true}
}
