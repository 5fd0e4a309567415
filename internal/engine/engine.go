// Package engine provides the sync cycle orchestrator.
//
// The engine:
//  1. Wakes on a timer (default every 5 minutes) or an explicit force-sync
//  2. Drains the mutation queue against the remote API (push phase)
//  3. Pulls remote deltas since the per-type watermark (pull phase)
//  4. Writes one sync_log row per cycle and publishes status transitions
//
// At most one cycle runs at a time. A trigger arriving while a cycle is
// running is coalesced into a single pending intent, not queued: the
// single-slot trigger channel honors at most one extra sync per idle period.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/auditdesk/auditdesk/internal/remote"
	"github.com/auditdesk/auditdesk/internal/schema"
	"github.com/auditdesk/auditdesk/internal/status"
	"github.com/auditdesk/auditdesk/internal/store"
)

// ErrCycleInFlight is returned by RunCycle when a cycle is already running.
// Timer and trigger paths ignore it; the arriving intent is simply dropped.
var ErrCycleInFlight = errors.New("sync cycle already running")

// Config holds configuration for the engine.
type Config struct {
	// Interval between automatic sync cycles.
	Interval time.Duration

	// RetryCap is the retry budget per queue entry; entries at or past it
	// are dead-lettered.
	RetryCap int

	// BatchSize caps how many queue entries one push phase selects.
	BatchSize int

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:  5 * time.Minute,
		RetryCap:  3,
		BatchSize: 100,
		Logger:    log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine orchestrates push/pull sync cycles between the local store and the
// remote API.
type Engine struct {
	store       *store.Store
	remote      remote.Client
	broadcaster *status.Broadcaster
	logger      *log.Logger

	// Single-slot coalescer for force-sync requests
	trigger chan struct{}

	mu           sync.Mutex
	interval     time.Duration
	retryCap     int
	batchSize    int
	cycleRunning bool
	lastSyncAt   *time.Time
	lastError    string
	state        status.State
}

// New creates an engine. The store must be open with its schema initialized.
func New(st *store.Store, client remote.Client, config *Config) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("remote client cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.RetryCap <= 0 {
		config.RetryCap = 3
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	return &Engine{
		store:       st,
		remote:      client,
		broadcaster: status.NewBroadcaster(),
		logger:      config.Logger,
		trigger:     make(chan struct{}, 1),
		interval:    config.Interval,
		retryCap:    config.RetryCap,
		batchSize:   config.BatchSize,
		state:       status.StateIdle,
	}, nil
}

// Run drives the timer loop until ctx is cancelled. Settings are re-read at
// the top of each iteration, so UpdateSettings takes effect without restart.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Println("Starting sync engine")

	if last, err := e.store.LastSuccessfulSync(ctx); err == nil && last != nil {
		e.mu.Lock()
		e.lastSyncAt = last
		e.mu.Unlock()
	}
	e.publish(ctx)

	for {
		timer := time.NewTimer(e.Interval())

		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Println("Sync engine stopped")
			return ctx.Err()

		case <-timer.C:
			if err := e.RunCycle(ctx, schema.SyncTypeAuto); err != nil && !errors.Is(err, ErrCycleInFlight) {
				e.logger.Printf("Sync cycle failed: %v", err)
			}

		case <-e.trigger:
			timer.Stop()
			if err := e.RunCycle(ctx, schema.SyncTypeManual); err != nil && !errors.Is(err, ErrCycleInFlight) {
				e.logger.Printf("Forced sync cycle failed: %v", err)
			}
		}
	}
}

// ForceSync requests an immediate cycle. If a cycle is already running or a
// request is already pending, the call has no further effect.
func (e *Engine) ForceSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// RunCycle executes one push+pull cycle synchronously. Returns
// ErrCycleInFlight if another cycle holds the gate.
func (e *Engine) RunCycle(ctx context.Context, syncType string) error {
	e.mu.Lock()
	if e.cycleRunning {
		e.mu.Unlock()
		return ErrCycleInFlight
	}
	e.cycleRunning = true
	e.state = status.StateRunning
	retryCap, batchSize := e.retryCap, e.batchSize
	e.mu.Unlock()

	startedAt := time.Now().UTC()
	e.publish(ctx)
	e.logger.Printf("Sync cycle started (%s)", syncType)

	pushed, pushErrs, pushReachable, cycleErr := e.pushPhase(ctx, retryCap, batchSize)

	var applied, pullErrs int
	var pullReachable bool
	if cycleErr == nil {
		applied, pullErrs, pullReachable, cycleErr = e.pullPhase(ctx)
	}

	completedAt := time.Now().UTC()
	records := pushed + applied
	errs := pushErrs + pullErrs
	reachable := pushReachable || pullReachable

	cycleStatus := schema.SyncStatusSuccess
	switch {
	case cycleErr != nil:
		cycleStatus = schema.SyncStatusFailure
	case errs > 0 && records == 0 && !reachable:
		// Every remote interaction failed: treat as total failure, the
		// whole cycle is retried on the next tick.
		cycleStatus = schema.SyncStatusFailure
	case errs > 0:
		cycleStatus = schema.SyncStatusPartial
	}

	logEntry := &schema.SyncLogEntry{
		SyncType:      syncType,
		Status:        cycleStatus,
		RecordsSynced: records,
		Errors:        errs,
		StartedAt:     startedAt,
		CompletedAt:   &completedAt,
	}
	if _, err := e.store.AppendSyncLog(ctx, logEntry); err != nil {
		e.logger.Printf("Warning: failed to write sync log: %v", err)
	}

	e.mu.Lock()
	e.cycleRunning = false
	if cycleStatus == schema.SyncStatusFailure {
		e.state = status.StateErrored
		if cycleErr != nil {
			e.lastError = cycleErr.Error()
		} else {
			e.lastError = fmt.Sprintf("sync failed: %d errors, nothing synced", errs)
		}
	} else {
		e.state = status.StateIdle
		e.lastError = ""
		e.lastSyncAt = &completedAt
	}
	e.mu.Unlock()

	e.publish(ctx)
	e.logger.Printf("Sync cycle complete: status=%s pushed=%d pulled=%d errors=%d duration=%s",
		cycleStatus, pushed, applied, errs, completedAt.Sub(startedAt).Round(time.Millisecond))

	if cycleErr != nil {
		return fmt.Errorf("sync cycle failed: %w", cycleErr)
	}
	return nil
}

// Status returns the current snapshot including the live pending count.
func (e *Engine) Status(ctx context.Context) (status.Status, error) {
	pending, err := e.store.PendingCount(ctx)
	if err != nil {
		return status.Status{}, fmt.Errorf("failed to read pending count: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return status.Status{
		State:        e.state,
		IsRunning:    e.state == status.StateRunning,
		LastSyncAt:   e.lastSyncAt,
		PendingCount: pending,
		LastError:    e.lastError,
	}, nil
}

// Subscribe registers an observer for status transitions.
func (e *Engine) Subscribe(obs status.Observer) {
	e.broadcaster.Subscribe(obs)
}

// Interval returns the current sync interval.
func (e *Engine) Interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

// RetryCap returns the current retry budget.
func (e *Engine) RetryCap() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retryCap
}

// UpdateSettings changes interval, retry cap, and batch size at runtime.
// Non-positive values leave the corresponding setting untouched. The new
// interval applies from the next timer arm.
func (e *Engine) UpdateSettings(interval time.Duration, retryCap, batchSize int) {
	e.mu.Lock()
	if interval > 0 {
		e.interval = interval
	}
	if retryCap > 0 {
		e.retryCap = retryCap
	}
	if batchSize > 0 {
		e.batchSize = batchSize
	}
	interval, retryCap, batchSize = e.interval, e.retryCap, e.batchSize
	e.mu.Unlock()

	e.logger.Printf("Sync settings updated: interval=%s retry_cap=%d batch_size=%d",
		interval, retryCap, batchSize)
}

// Close releases the status broadcaster after draining queued transitions.
func (e *Engine) Close() {
	e.broadcaster.Close()
}

// publish pushes the current snapshot to observers.
func (e *Engine) publish(ctx context.Context) {
	pending, err := e.store.PendingCount(ctx)
	if err != nil {
		e.logger.Printf("Warning: failed to read pending count: %v", err)
	}

	e.mu.Lock()
	snapshot := status.Status{
		State:        e.state,
		IsRunning:    e.state == status.StateRunning,
		LastSyncAt:   e.lastSyncAt,
		PendingCount: pending,
		LastError:    e.lastError,
	}
	e.mu.Unlock()

	e.broadcaster.Publish(snapshot)
}
