package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/auditdesk/auditdesk/internal/schema"
)

// ExportQueueJSONL writes queue entries to w as JSON Lines, one entry per
// line, oldest first. With onlyDead set, only dead-lettered entries (those
// at or past retryCap) are written. Returns the number of entries exported.
//
// The format round-trips through ReadQueueJSONL, so an operator can triage
// dead-letters offline and feed the survivors back in.
func (st *Store) ExportQueueJSONL(ctx context.Context, w io.Writer, onlyDead bool, retryCap int) (int, error) {
	var entries []schema.QueueEntry
	var err error

	if onlyDead {
		entries, err = st.DeadLetters(ctx, retryCap)
	} else {
		entries, err = st.ListQueue(ctx)
	}
	if err != nil {
		return 0, err
	}

	encoder := json.NewEncoder(w)
	for i, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return i, fmt.Errorf("failed to encode queue entry %d: %w", entry.ID, err)
		}
	}

	return len(entries), nil
}

// ReadQueueJSONL parses a JSONL stream of queue entries as produced by
// ExportQueueJSONL.
func ReadQueueJSONL(r io.Reader) ([]schema.QueueEntry, error) {
	var entries []schema.QueueEntry
	decoder := json.NewDecoder(r)
	line := 0

	for {
		var entry schema.QueueEntry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at entry %d: %w", line+1, err)
		}
		line++

		if !entry.Operation.Valid() {
			return nil, fmt.Errorf("entry %d: invalid operation %q", line, entry.Operation)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
