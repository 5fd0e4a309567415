package engine

import (
	"context"

	"github.com/auditdesk/auditdesk/internal/remote"
)

// pushPhase drains one batch of queued mutations against the remote API.
//
// Entries are pushed oldest-first so a given entity's mutations arrive in
// causal order. One failing entry never aborts the batch: its retry count is
// bumped and the loop moves on. Only an auth rejection is cycle-level.
//
// No local write lock is held while a push call is in flight; the queue
// deletion after a positive ack is its own transaction.
func (e *Engine) pushPhase(ctx context.Context, retryCap, batchSize int) (pushed, errs int, reachable bool, cycleErr error) {
	batch, err := e.store.NextBatch(ctx, batchSize, retryCap)
	if err != nil {
		return 0, 0, false, err
	}
	if len(batch) == 0 {
		return 0, 0, false, nil
	}

	e.logger.Printf("Pushing %d queued mutations", len(batch))

	for _, entry := range batch {
		if err := ctx.Err(); err != nil {
			return pushed, errs, reachable, err
		}

		err := e.remote.PushMutation(ctx, entry)
		if err != nil {
			if remote.IsAuth(err) {
				return pushed, errs, reachable, err
			}

			errs++
			e.logger.Printf("Push failed for %s %s (entry %d, attempt %d): %v",
				entry.EntityType, entry.EntityID, entry.ID, entry.RetryCount+1, err)
			if markErr := e.store.MarkPushFailure(ctx, entry.ID, err.Error()); markErr != nil {
				e.logger.Printf("Warning: failed to record push failure for entry %d: %v", entry.ID, markErr)
			}
			if entry.RetryCount+1 >= retryCap {
				e.logger.Printf("Queue entry %d dead-lettered after %d attempts", entry.ID, entry.RetryCount+1)
			}
			continue
		}

		reachable = true
		if err := e.store.CompletePush(ctx, entry, nowUTC()); err != nil {
			// The remote accepted the mutation; losing the deletion only
			// means an idempotent re-push next cycle.
			errs++
			e.logger.Printf("Warning: failed to complete push for entry %d: %v", entry.ID, err)
			continue
		}
		pushed++
	}

	return pushed, errs, reachable, nil
}
