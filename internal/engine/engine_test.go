package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/auditdesk/auditdesk/internal/remote"
	"github.com/auditdesk/auditdesk/internal/schema"
	"github.com/auditdesk/auditdesk/internal/status"
	"github.com/auditdesk/auditdesk/internal/store"
)

// fakeRemote is a scriptable remote.Client. Push and pull behavior is swapped
// per test (and between cycles) through SetPush/SetPull.
type fakeRemote struct {
	mu        sync.Mutex
	pushFunc  func(schema.QueueEntry) error
	pullFunc  func(entityType string, since *time.Time) ([]*schema.Record, error)
	attempts  []schema.QueueEntry
	pullCalls int
}

func (f *fakeRemote) SetPush(fn func(schema.QueueEntry) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushFunc = fn
}

func (f *fakeRemote) SetPull(fn func(entityType string, since *time.Time) ([]*schema.Record, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullFunc = fn
}

func (f *fakeRemote) PushMutation(ctx context.Context, entry schema.QueueEntry) error {
	f.mu.Lock()
	f.attempts = append(f.attempts, entry)
	fn := f.pushFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(entry)
	}
	return nil
}

func (f *fakeRemote) PullChanges(ctx context.Context, entityType string, since *time.Time) ([]*schema.Record, error) {
	f.mu.Lock()
	f.pullCalls++
	fn := f.pullFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(entityType, since)
	}
	return nil, nil
}

func (f *fakeRemote) Attempts() []schema.QueueEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schema.QueueEntry, len(f.attempts))
	copy(out, f.attempts)
	return out
}

func (f *fakeRemote) PullCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pullCalls
}

func setupTestEngine(t *testing.T) (*Engine, *store.Store, *fakeRemote) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	fake := &fakeRemote{}
	eng, err := New(st, fake, &Config{
		Interval:  time.Hour, // tests drive cycles explicitly
		RetryCap:  3,
		BatchSize: 100,
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(eng.Close)

	return eng, st, fake
}

func createOrg(t *testing.T, st *store.Store, id, name string) {
	t.Helper()
	rec := &schema.Record{
		ID:      id,
		Type:    "organization",
		Payload: json.RawMessage(fmt.Sprintf(`{"name": %q}`, name)),
	}
	if _, err := st.CreateRecord(context.Background(), rec); err != nil {
		t.Fatalf("CreateRecord(%s) error = %v", id, err)
	}
}

func latestCycle(t *testing.T, st *store.Store) schema.SyncLogEntry {
	t.Helper()
	entries, err := st.ListSyncLog(context.Background(), nil, 1)
	if err != nil {
		t.Fatalf("ListSyncLog() error = %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no sync log entries")
	}
	return entries[0]
}

func TestCycleDrainsQueue(t *testing.T) {
	eng, st, fake := setupTestEngine(t)
	ctx := context.Background()

	createOrg(t, st, "org-a", "Alpha")
	createOrg(t, st, "org-b", "Beta")

	if err := eng.RunCycle(ctx, schema.SyncTypeManual); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	pending, _ := st.PendingCount(ctx)
	if pending != 0 {
		t.Errorf("queue not drained: %d entries remain", pending)
	}

	// FIFO: org-a was created first, so it must be pushed first.
	attempts := fake.Attempts()
	if len(attempts) != 2 || attempts[0].EntityID != "org-a" || attempts[1].EntityID != "org-b" {
		t.Errorf("push order wrong: %+v", attempts)
	}

	for _, id := range []string{"org-a", "org-b"} {
		rec, err := st.GetRecord(ctx, "organization", id)
		if err != nil {
			t.Fatalf("GetRecord(%s) error = %v", id, err)
		}
		if !rec.Synced() {
			t.Errorf("%s not marked synced after push", id)
		}
	}

	cycle := latestCycle(t, st)
	if cycle.Status != schema.SyncStatusSuccess {
		t.Errorf("cycle status = %s, want success", cycle.Status)
	}
	if cycle.RecordsSynced != 2 || cycle.Errors != 0 {
		t.Errorf("cycle records=%d errors=%d, want 2/0", cycle.RecordsSynced, cycle.Errors)
	}
	if cycle.SyncType != schema.SyncTypeManual {
		t.Errorf("cycle sync_type = %s, want manual", cycle.SyncType)
	}

	snap, err := eng.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if snap.State != status.StateIdle || snap.LastSyncAt == nil {
		t.Errorf("status after success = %+v", snap)
	}
}

func TestPushFailureIsolation(t *testing.T) {
	eng, st, fake := setupTestEngine(t)
	ctx := context.Background()

	createOrg(t, st, "org-a", "Alpha")
	createOrg(t, st, "org-b", "Beta")
	createOrg(t, st, "org-c", "Gamma")

	fake.SetPush(func(entry schema.QueueEntry) error {
		if entry.EntityID == "org-b" {
			return &remote.CallError{Category: remote.CategoryServer, Message: "internal error"}
		}
		return nil
	})

	if err := eng.RunCycle(ctx, schema.SyncTypeManual); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	// One entry failed; the other two must still have been pushed.
	entries, _ := st.ListQueue(ctx)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry left, got %d", len(entries))
	}
	failed := entries[0]
	if failed.EntityID != "org-b" || failed.RetryCount != 1 {
		t.Errorf("failed entry = %+v", failed)
	}
	if failed.LastError != "server: internal error" {
		t.Errorf("last_error = %q", failed.LastError)
	}

	cycle := latestCycle(t, st)
	if cycle.Status != schema.SyncStatusPartial {
		t.Errorf("cycle status = %s, want partial", cycle.Status)
	}
	if cycle.RecordsSynced != 2 || cycle.Errors != 1 {
		t.Errorf("cycle records=%d errors=%d, want 2/1", cycle.RecordsSynced, cycle.Errors)
	}
}

func TestDeadLetterAfterRetryCap(t *testing.T) {
	eng, st, fake := setupTestEngine(t)
	ctx := context.Background()

	createOrg(t, st, "org-a", "Alpha")
	fake.SetPush(func(entry schema.QueueEntry) error {
		return &remote.CallError{Category: remote.CategoryNetwork, Message: "connection refused"}
	})

	for i := 0; i < 3; i++ {
		if err := eng.RunCycle(ctx, schema.SyncTypeAuto); err != nil {
			t.Fatalf("cycle %d error = %v", i+1, err)
		}
	}

	dead, err := st.DeadLetterCount(ctx, eng.RetryCap())
	if err != nil {
		t.Fatalf("DeadLetterCount() error = %v", err)
	}
	if dead != 1 {
		t.Fatalf("DeadLetterCount() = %d, want 1", dead)
	}

	// The fourth cycle must not attempt the dead-lettered entry.
	before := len(fake.Attempts())
	if err := eng.RunCycle(ctx, schema.SyncTypeAuto); err != nil {
		t.Fatalf("cycle 4 error = %v", err)
	}
	if after := len(fake.Attempts()); after != before {
		t.Errorf("dead-lettered entry pushed again: %d attempts -> %d", before, after)
	}

	// Dead-letters are never deleted automatically.
	pending, _ := st.PendingCount(ctx)
	if pending != 1 {
		t.Errorf("dead-lettered entry disappeared: pending = %d", pending)
	}
}

func TestAuthErrorFailsCycle(t *testing.T) {
	eng, st, fake := setupTestEngine(t)
	ctx := context.Background()

	createOrg(t, st, "org-a", "Alpha")
	fake.SetPush(func(entry schema.QueueEntry) error {
		return &remote.AuthError{StatusCode: 401, Message: "token expired"}
	})

	err := eng.RunCycle(ctx, schema.SyncTypeManual)
	if err == nil {
		t.Fatal("RunCycle() should fail on auth rejection")
	}
	if !remote.IsAuth(err) {
		t.Errorf("error should wrap the auth rejection: %v", err)
	}

	// Auth failure aborts before the pull phase.
	if fake.PullCalls() != 0 {
		t.Errorf("pull phase ran after auth failure: %d calls", fake.PullCalls())
	}

	cycle := latestCycle(t, st)
	if cycle.Status != schema.SyncStatusFailure {
		t.Errorf("cycle status = %s, want failure", cycle.Status)
	}

	snap, _ := eng.Status(ctx)
	if snap.State != status.StateErrored || snap.LastError == "" {
		t.Errorf("status after auth failure = %+v", snap)
	}
}

func TestTotalNetworkFailure(t *testing.T) {
	eng, st, fake := setupTestEngine(t)
	ctx := context.Background()

	createOrg(t, st, "org-a", "Alpha")
	netErr := &remote.CallError{Category: remote.CategoryNetwork, Message: "no route to host"}
	fake.SetPush(func(entry schema.QueueEntry) error { return netErr })
	fake.SetPull(func(entityType string, since *time.Time) ([]*schema.Record, error) {
		return nil, netErr
	})

	// Nothing synced and nothing reachable: the cycle is a failure, but not
	// a hard error - the next tick simply retries the whole cycle.
	if err := eng.RunCycle(ctx, schema.SyncTypeAuto); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	cycle := latestCycle(t, st)
	if cycle.Status != schema.SyncStatusFailure {
		t.Errorf("cycle status = %s, want failure", cycle.Status)
	}

	snap, _ := eng.Status(ctx)
	if snap.State != status.StateErrored {
		t.Errorf("state = %s, want errored", snap.State)
	}

	// The queue entry survives with its retry budget charged once.
	entries, _ := st.ListQueue(ctx)
	if len(entries) != 1 || entries[0].RetryCount != 1 {
		t.Errorf("queue after offline cycle = %+v", entries)
	}

	// A later successful cycle clears the errored state.
	fake.SetPush(nil)
	fake.SetPull(nil)
	if err := eng.RunCycle(ctx, schema.SyncTypeAuto); err != nil {
		t.Fatalf("recovery cycle error = %v", err)
	}
	snap, _ = eng.Status(ctx)
	if snap.State != status.StateIdle || snap.LastError != "" {
		t.Errorf("status after recovery = %+v", snap)
	}
}

func TestPullAppliesRemoteChanges(t *testing.T) {
	eng, st, fake := setupTestEngine(t)
	ctx := context.Background()

	now := time.Now().UTC()
	fake.SetPull(func(entityType string, since *time.Time) ([]*schema.Record, error) {
		if entityType != "organization" {
			return nil, nil
		}
		return []*schema.Record{{
			ID:        "org-remote",
			Type:      "organization",
			Payload:   json.RawMessage(`{"name": "Pulled Co"}`),
			CreatedAt: now.Add(-time.Hour),
			UpdatedAt: now.Add(-time.Minute),
		}}, nil
	})

	if err := eng.RunCycle(ctx, schema.SyncTypeAuto); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	rec, err := st.GetRecord(ctx, "organization", "org-remote")
	if err != nil {
		t.Fatalf("pulled record missing: %v", err)
	}
	if !rec.Synced() {
		t.Error("pulled record should be marked synced")
	}

	// A remote-origin record never lands in the mutation queue.
	pending, _ := st.PendingCount(ctx)
	if pending != 0 {
		t.Errorf("pull enqueued a mutation: pending = %d", pending)
	}

	cycle := latestCycle(t, st)
	if cycle.RecordsSynced != 1 {
		t.Errorf("cycle records = %d, want 1", cycle.RecordsSynced)
	}
}

func TestPullRemoteNewerWins(t *testing.T) {
	eng, st, fake := setupTestEngine(t)
	ctx := context.Background()

	now := time.Now().UTC()
	local := &schema.Record{
		ID:        "org-1",
		Type:      "organization",
		Payload:   json.RawMessage(`{"name": "Stale local"}`),
		CreatedAt: now.Add(-2 * time.Hour),
		UpdatedAt: now.Add(-time.Hour),
	}
	if err := st.ApplyRemote(ctx, local, now.Add(-time.Hour)); err != nil {
		t.Fatalf("ApplyRemote() error = %v", err)
	}

	fake.SetPull(func(entityType string, since *time.Time) ([]*schema.Record, error) {
		if entityType != "organization" {
			return nil, nil
		}
		return []*schema.Record{{
			ID:        "org-1",
			Type:      "organization",
			Payload:   json.RawMessage(`{"name": "Fresh remote"}`),
			CreatedAt: now.Add(-2 * time.Hour),
			UpdatedAt: now.Add(-time.Minute),
		}}, nil
	})

	if err := eng.RunCycle(ctx, schema.SyncTypeAuto); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	rec, _ := st.GetRecord(ctx, "organization", "org-1")
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.Name != "Fresh remote" {
		t.Errorf("payload = %q, want the newer remote version", payload.Name)
	}
	if !rec.UpdatedAt.Equal(now.Add(-time.Minute)) {
		t.Errorf("updated_at = %v, want the remote's %v", rec.UpdatedAt, now.Add(-time.Minute))
	}
	if !rec.Synced() {
		t.Error("merged row should be marked synced")
	}
}

func TestPullLocalNewerWins(t *testing.T) {
	eng, st, fake := setupTestEngine(t)
	ctx := context.Background()

	now := time.Now().UTC()
	local := &schema.Record{
		ID:        "org-1",
		Type:      "organization",
		Payload:   json.RawMessage(`{"name": "Local v2"}`),
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now.Add(-time.Minute),
	}
	// Seed through ApplyRemote so there is no pending queue entry.
	if err := st.ApplyRemote(ctx, local, now.Add(-time.Minute)); err != nil {
		t.Fatalf("ApplyRemote() error = %v", err)
	}

	fake.SetPull(func(entityType string, since *time.Time) ([]*schema.Record, error) {
		if entityType != "organization" {
			return nil, nil
		}
		return []*schema.Record{{
			ID:        "org-1",
			Type:      "organization",
			Payload:   json.RawMessage(`{"name": "Remote v1"}`),
			CreatedAt: now.Add(-time.Hour),
			UpdatedAt: now.Add(-30 * time.Minute), // older than local
		}}, nil
	})

	if err := eng.RunCycle(ctx, schema.SyncTypeAuto); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	rec, _ := st.GetRecord(ctx, "organization", "org-1")
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.Name != "Local v2" {
		t.Errorf("local version lost: payload name = %q", payload.Name)
	}
	if !rec.Synced() {
		t.Error("winning local version should be stamped synced")
	}
}

func TestPullOverwritesRowButKeepsPendingMutation(t *testing.T) {
	eng, st, fake := setupTestEngine(t)
	ctx := context.Background()

	// A local edit sits in the queue because the first push failed.
	createOrg(t, st, "org-1", "Local edit")
	fake.SetPush(func(entry schema.QueueEntry) error {
		return &remote.CallError{Category: remote.CategoryNetwork, Message: "offline"}
	})

	now := time.Now().UTC()
	fake.SetPull(func(entityType string, since *time.Time) ([]*schema.Record, error) {
		if entityType != "organization" {
			return nil, nil
		}
		return []*schema.Record{{
			ID:        "org-1",
			Type:      "organization",
			Payload:   json.RawMessage(`{"name": "Remote version"}`),
			CreatedAt: now.Add(-2 * time.Hour),
			UpdatedAt: now.Add(-time.Hour), // older than the local edit
		}}, nil
	})

	if err := eng.RunCycle(ctx, schema.SyncTypeAuto); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	// Remote took the row even though the local edit is newer.
	rec, _ := st.GetRecord(ctx, "organization", "org-1")
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.Name != "Remote version" {
		t.Errorf("row payload = %q, want remote version", payload.Name)
	}

	// The queued local change survived the overwrite.
	entries, _ := st.ListQueue(ctx)
	if len(entries) != 1 {
		t.Fatalf("pending mutation lost: queue = %+v", entries)
	}

	// Next cycle the connection is back and the local edit is re-pushed.
	fake.SetPush(nil)
	fake.SetPull(nil)
	if err := eng.RunCycle(ctx, schema.SyncTypeAuto); err != nil {
		t.Fatalf("second cycle error = %v", err)
	}

	attempts := fake.Attempts()
	last := attempts[len(attempts)-1]
	snap, err := last.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if err := json.Unmarshal(snap.Payload, &payload); err != nil {
		t.Fatalf("failed to decode snapshot payload: %v", err)
	}
	if payload.Name != "Local edit" {
		t.Errorf("re-pushed payload = %q, want the original local edit", payload.Name)
	}

	pending, _ := st.PendingCount(ctx)
	if pending != 0 {
		t.Errorf("queue not drained after re-push: %d", pending)
	}
}

func TestPullUsesWatermark(t *testing.T) {
	eng, st, fake := setupTestEngine(t)
	ctx := context.Background()

	var sinceSeen []*time.Time
	var mu sync.Mutex
	now := time.Now().UTC()

	fake.SetPull(func(entityType string, since *time.Time) ([]*schema.Record, error) {
		if entityType != "organization" {
			return nil, nil
		}
		mu.Lock()
		sinceSeen = append(sinceSeen, since)
		mu.Unlock()
		if since != nil {
			return nil, nil
		}
		return []*schema.Record{{
			ID:        "org-1",
			Type:      "organization",
			Payload:   json.RawMessage(`{"name": "Seed"}`),
			CreatedAt: now.Add(-time.Hour),
			UpdatedAt: now.Add(-time.Hour),
		}}, nil
	})

	for i := 0; i < 2; i++ {
		if err := eng.RunCycle(ctx, schema.SyncTypeAuto); err != nil {
			t.Fatalf("cycle %d error = %v", i+1, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sinceSeen) != 2 {
		t.Fatalf("expected 2 organization pulls, got %d", len(sinceSeen))
	}
	if sinceSeen[0] != nil {
		t.Errorf("first pull should have no watermark, got %v", sinceSeen[0])
	}
	if sinceSeen[1] == nil {
		t.Error("second pull should carry the watermark from the first")
	}

	// The watermark never moves for a type with no synced rows.
	wm, _ := st.Watermark(ctx, "user")
	if wm != nil {
		t.Errorf("user watermark = %v, want nil", wm)
	}
}

func TestPullAbortsPhaseOnNetworkFailure(t *testing.T) {
	eng, st, fake := setupTestEngine(t)
	ctx := context.Background()

	types := schema.Types()
	failAt := types[1].Name

	var pulled []string
	var mu sync.Mutex
	fake.SetPull(func(entityType string, since *time.Time) ([]*schema.Record, error) {
		mu.Lock()
		pulled = append(pulled, entityType)
		mu.Unlock()
		if entityType == failAt {
			return nil, &remote.CallError{Category: remote.CategoryTimeout, Message: "deadline exceeded"}
		}
		return nil, nil
	})

	if err := eng.RunCycle(ctx, schema.SyncTypeAuto); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	// The failing type is the last one attempted this cycle.
	if len(pulled) != 2 || pulled[1] != failAt {
		t.Errorf("pull order = %v, want abort after %s", pulled, failAt)
	}

	// The first type's pull succeeded, so the remote was reachable and the
	// cycle counts as partial rather than a total failure.
	cycle := latestCycle(t, st)
	if cycle.Status != schema.SyncStatusPartial {
		t.Errorf("cycle status = %s, want partial", cycle.Status)
	}
}

func TestConcurrentCycleRejected(t *testing.T) {
	eng, st, fake := setupTestEngine(t)
	ctx := context.Background()

	createOrg(t, st, "org-a", "Alpha")

	started := make(chan struct{})
	release := make(chan struct{})
	fake.SetPush(func(entry schema.QueueEntry) error {
		close(started)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() {
		done <- eng.RunCycle(ctx, schema.SyncTypeAuto)
	}()

	<-started
	if err := eng.RunCycle(ctx, schema.SyncTypeManual); !errors.Is(err, ErrCycleInFlight) {
		t.Errorf("second RunCycle() error = %v, want ErrCycleInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first cycle error = %v", err)
	}

	// The rejected cycle must not have produced a log row.
	entries, _ := st.ListSyncLog(ctx, nil, 0)
	if len(entries) != 1 {
		t.Errorf("expected 1 sync log row, got %d", len(entries))
	}
}

func TestForceSyncCoalesces(t *testing.T) {
	eng, _, _ := setupTestEngine(t)

	// With the single-slot trigger, repeated requests collapse into one
	// pending intent.
	for i := 0; i < 5; i++ {
		eng.ForceSync()
	}

	select {
	case <-eng.trigger:
	default:
		t.Fatal("expected one pending trigger")
	}
	select {
	case <-eng.trigger:
		t.Fatal("trigger not coalesced: second intent queued")
	default:
	}
}

func TestRunForcedCycle(t *testing.T) {
	eng, st, _ := setupTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- eng.Run(ctx)
	}()

	eng.ForceSync()

	deadline := time.After(2 * time.Second)
	for {
		entries, err := st.ListSyncLog(ctx, nil, 0)
		if err == nil && len(entries) > 0 {
			if entries[0].SyncType != schema.SyncTypeManual {
				t.Errorf("sync_type = %s, want manual", entries[0].SyncType)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("forced cycle never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-runDone; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() returned %v, want context.Canceled", err)
	}
}

func TestUpdateSettings(t *testing.T) {
	eng, _, _ := setupTestEngine(t)

	eng.UpdateSettings(time.Minute, 5, 50)
	if eng.Interval() != time.Minute {
		t.Errorf("interval = %s, want 1m", eng.Interval())
	}
	if eng.RetryCap() != 5 {
		t.Errorf("retry cap = %d, want 5", eng.RetryCap())
	}

	// Non-positive values leave settings untouched.
	eng.UpdateSettings(0, -1, 0)
	if eng.Interval() != time.Minute || eng.RetryCap() != 5 {
		t.Error("non-positive values must not change settings")
	}
}

func TestStatusIncludesLivePendingCount(t *testing.T) {
	eng, st, _ := setupTestEngine(t)
	ctx := context.Background()

	snap, err := eng.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if snap.PendingCount != 0 {
		t.Errorf("pending = %d, want 0", snap.PendingCount)
	}

	createOrg(t, st, "org-a", "Alpha")
	snap, _ = eng.Status(ctx)
	if snap.PendingCount != 1 {
		t.Errorf("pending = %d, want 1", snap.PendingCount)
	}
}

func TestSubscribeSeesCycleTransitions(t *testing.T) {
	eng, st, _ := setupTestEngine(t)
	ctx := context.Background()

	createOrg(t, st, "org-a", "Alpha")

	var mu sync.Mutex
	var states []status.State
	eng.Subscribe(func(s status.Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	if err := eng.RunCycle(ctx, schema.SyncTypeManual); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	eng.Close() // drains queued deliveries

	mu.Lock()
	defer mu.Unlock()

	var sawRunning, endedIdle bool
	for _, s := range states {
		if s == status.StateRunning {
			sawRunning = true
		}
	}
	if len(states) > 0 && states[len(states)-1] == status.StateIdle {
		endedIdle = true
	}
	if !sawRunning || !endedIdle {
		t.Errorf("observed states %v, want running then idle", states)
	}
}
