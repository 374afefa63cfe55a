package greenroom

import (
	"context"
	"testing"
	"time"
)

func TestPut_FirstWriteWins(t *testing.T) {
	q := NewQueue(QueueOpts{})

	if !q.Put("e1", "original") {
		t.Fatal("first Put should store the entry")
	}
	if q.Put("e1", "duplicate") {
		t.Error("second Put for the same event id should be rejected")
	}

	e, ok := q.Get("e1")
	if !ok {
		t.Fatal("entry should be present")
	}
	if e.Payload != "original" {
		t.Errorf("payload = %v, want original", e.Payload)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestRemove(t *testing.T) {
	q := NewQueue(QueueOpts{})
	q.Put("e1", nil)
	q.Remove("e1")
	if _, ok := q.Get("e1"); ok {
		t.Error("entry should be gone after Remove")
	}
	// Removing a missing entry is a no-op.
	q.Remove("e2")
}

func TestSweep_ReclaimsOnlyExpired(t *testing.T) {
	q := NewQueue(QueueOpts{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }

	q.Put("old", nil)

	// Four minutes later the entry is still inside the TTL.
	q.now = func() time.Time { return base.Add(4 * time.Minute) }
	q.Put("fresh", nil)
	if n := q.Sweep(); n != 0 {
		t.Fatalf("Sweep at T+4m reclaimed %d entries, want 0", n)
	}
	if _, ok := q.Get("old"); !ok {
		t.Fatal("entry should survive a sweep at T+4m")
	}

	// Six minutes after creation it is past the TTL.
	q.now = func() time.Time { return base.Add(6 * time.Minute) }
	if n := q.Sweep(); n != 1 {
		t.Fatalf("Sweep at T+6m reclaimed %d entries, want 1", n)
	}
	if _, ok := q.Get("old"); ok {
		t.Error("stale entry should be reclaimed at T+6m")
	}
	if _, ok := q.Get("fresh"); !ok {
		t.Error("entry inside the TTL should survive")
	}
}

func TestRun_SweepsOnInterval(t *testing.T) {
	q := NewQueue(QueueOpts{TTL: 10 * time.Millisecond, SweepInterval: 5 * time.Millisecond})
	q.Put("e1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for q.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper never reclaimed the expired entry")
		}
		time.Sleep(2 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
