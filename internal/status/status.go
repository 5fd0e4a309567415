// Package status broadcasts sync engine state transitions to observers.
//
// Delivery is fire-and-forget: observers get every transition at least once,
// in order, but there is no acknowledgment and no ordering guarantee across
// different observers beyond each observer's own FIFO.
package status

import (
	"sync"
	"time"
)

// State is the orchestrator's externally visible state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateErrored State = "errored"
)

// Status is the snapshot exposed to the UI layer.
type Status struct {
	State        State      `json:"state"`
	IsRunning    bool       `json:"is_running"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	PendingCount int        `json:"pending_count"`
	LastError    string     `json:"last_error,omitempty"`
}

// Observer receives status transitions. Callbacks run on the broadcaster's
// dispatch goroutine; slow observers delay later deliveries, never reorder
// them.
type Observer func(Status)

// Broadcaster fans status transitions out to registered observers and keeps
// the current snapshot for polling.
type Broadcaster struct {
	mu        sync.Mutex
	current   Status
	observers []Observer
	pending   []Status
	wake      chan struct{}
	done      chan struct{}
	closed    bool
}

// NewBroadcaster creates a broadcaster with an initial idle status and
// starts its dispatch goroutine. Call Close() when done.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		current: Status{State: StateIdle},
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Subscribe registers an observer. The current status is delivered first so
// a late subscriber starts from a known state.
func (b *Broadcaster) Subscribe(obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.observers = append(b.observers, obs)
	obs(b.current)
}

// Current returns the latest published status.
func (b *Broadcaster) Current() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Publish records a new status and queues it for delivery. Publish never
// blocks on observers.
func (b *Broadcaster) Publish(s Status) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.current = s
	b.pending = append(b.pending, s)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Close stops the dispatcher after draining queued transitions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	<-b.done
}

// dispatch delivers queued transitions to all observers in publish order.
func (b *Broadcaster) dispatch() {
	defer close(b.done)

	for {
		<-b.wake

		for {
			b.mu.Lock()
			if len(b.pending) == 0 {
				closed := b.closed
				b.mu.Unlock()
				if closed {
					return
				}
				break
			}
			next := b.pending[0]
			b.pending = b.pending[1:]
			observers := make([]Observer, len(b.observers))
			copy(observers, b.observers)
			b.mu.Unlock()

			for _, obs := range observers {
				obs(next)
			}
		}
	}
}
