// Package greenroom holds the host-side bookkeeping a bot needs to answer a
// granted turn: the original message reference and attachments, keyed by
// event id, waiting off-stage until the conductor calls the bot on.
//
// Entries are not removed when a turn completes, since a later follow-up may
// reuse the same event id. A time-based sweeper is the only reclamation
// mechanism; the coordination protocol has no "session ended" signal.
package greenroom

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an untouched entry survives before the
	// sweeper reclaims it.
	DefaultTTL = 5 * time.Minute
	// DefaultSweepInterval is how often the sweeper runs.
	DefaultSweepInterval = 60 * time.Second
)

// Entry is one queued turn context.
type Entry struct {
	EventID   string
	Payload   any // opaque host data: message reference, attachments
	CreatedAt time.Time
}

// Queue is an in-memory turn-context store with time-based reclamation.
// Safe for concurrent use.
type Queue struct {
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time // injectable for tests

	mu      sync.Mutex
	entries map[string]Entry
}

// QueueOpts holds parameters for creating a Queue.
type QueueOpts struct {
	TTL           time.Duration // defaults to DefaultTTL
	SweepInterval time.Duration // defaults to DefaultSweepInterval
}

// NewQueue creates a Queue.
func NewQueue(opts QueueOpts) *Queue {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	interval := opts.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Queue{
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		entries:  make(map[string]Entry),
	}
}

// Put stores the turn context for an event id. The entry for a given event
// id is unique: a duplicate mention for the same conversation must not
// clobber context an in-flight follow-up may still need, so the first write
// wins and Put reports whether it stored the entry.
func (q *Queue) Put(eventID string, payload any) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.entries[eventID]; exists {
		return false
	}
	q.entries[eventID] = Entry{
		EventID:   eventID,
		Payload:   payload,
		CreatedAt: q.now(),
	}
	return true
}

// Get returns the queued context for an event id.
func (q *Queue) Get(eventID string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[eventID]
	return e, ok
}

// Remove deletes an entry explicitly.
func (q *Queue) Remove(eventID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, eventID)
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Sweep removes every entry older than the TTL and returns how many were
// reclaimed.
func (q *Queue) Sweep() int {
	cutoff := q.now().Add(-q.ttl)

	q.mu.Lock()
	var reclaimed int
	for id, e := range q.entries {
		if e.CreatedAt.Before(cutoff) {
			delete(q.entries, id)
			reclaimed++
		}
	}
	remaining := len(q.entries)
	q.mu.Unlock()

	if reclaimed > 0 {
		log.Printf("greenroom: reclaimed %d stale entries (%d remaining)", reclaimed, remaining)
	}
	return reclaimed
}

// Run starts the sweep loop. It blocks until the context is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Sweep()
		}
	}
}

// String describes the queue for diagnostics.
func (q *Queue) String() string {
	return fmt.Sprintf("greenroom.Queue(entries=%d, ttl=%s)", q.Len(), q.ttl)
}
