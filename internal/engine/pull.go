package engine

import (
	"context"
	"errors"
	"time"

	"github.com/auditdesk/auditdesk/internal/remote"
	"github.com/auditdesk/auditdesk/internal/resolve"
	"github.com/auditdesk/auditdesk/internal/schema"
	"github.com/auditdesk/auditdesk/internal/store"
)

// pullPhase fetches remote deltas for every tracked entity type since that
// type's watermark and merges them into the local store.
//
// A failed pull call aborts the remainder of the pull phase for this cycle;
// already-applied records stay applied and the cycle is marked partial. An
// auth rejection is cycle-level and returned as cycleErr.
func (e *Engine) pullPhase(ctx context.Context) (applied, errs int, reachable bool, cycleErr error) {
	for _, et := range schema.Types() {
		if err := ctx.Err(); err != nil {
			return applied, errs, reachable, err
		}

		watermark, err := e.store.Watermark(ctx, et.Name)
		if err != nil {
			errs++
			e.logger.Printf("Failed to read %s watermark: %v", et.Name, err)
			continue
		}

		records, err := e.remote.PullChanges(ctx, et.Name, watermark)
		if err != nil {
			if remote.IsAuth(err) {
				return applied, errs, reachable, err
			}
			errs++
			e.logger.Printf("Pull failed for %s, aborting pull phase: %v", et.Name, err)
			return applied, errs, reachable, nil
		}
		reachable = true

		if len(records) == 0 {
			continue
		}
		e.logger.Printf("Pulled %d %s changes", len(records), et.Name)

		for _, rec := range records {
			if err := e.applyRemote(ctx, rec); err != nil {
				errs++
				e.logger.Printf("Failed to apply remote %s %s: %v", rec.Type, rec.ID, err)
				continue
			}
			applied++
		}
	}

	return applied, errs, reachable, nil
}

// applyRemote merges one remote record into the local store through the
// conflict resolver. Each apply is one short transaction on the entity row,
// serializing against concurrent local edits of the same row.
func (e *Engine) applyRemote(ctx context.Context, rec *schema.Record) error {
	local, err := e.store.GetRecord(ctx, rec.Type, rec.ID)
	if err != nil && !isNotFound(err) {
		return err
	}

	pending := false
	if local != nil {
		pending, err = e.store.HasPendingMutations(ctx, rec.Type, rec.ID)
		if err != nil {
			return err
		}
	}

	outcome := resolve.Resolve(local, rec, pending)
	pulledAt := time.Now().UTC()

	if outcome.OverwrotePending {
		// The queue entry survives and re-pushes the local change next
		// cycle; surface the overwrite instead of resolving silently.
		e.logger.Printf("Conflict: remote %s %s overwrote local edit with mutations still queued; local change will be re-pushed",
			rec.Type, rec.ID)
	}

	if outcome.RemoteWon {
		return e.store.ApplyRemote(ctx, outcome.Winner, pulledAt)
	}
	return e.store.MarkSynced(ctx, rec.Type, rec.ID, pulledAt)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
