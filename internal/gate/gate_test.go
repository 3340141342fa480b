package gate

import (
	"context"
	"testing"
	"time"
)

func TestTopTracksGateSpacesCallers(t *testing.T) {
	interval := 20 * time.Millisecond
	g := NewTopTracksGate(interval)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := g.Wait(context.Background()); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	elapsed := time.Since(start)

	if elapsed < 2*interval {
		t.Errorf("three waits took %v, want at least %v", elapsed, 2*interval)
	}
}

func TestTopTracksGateCancellation(t *testing.T) {
	g := NewTopTracksGate(time.Minute)
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); err == nil {
		t.Fatal("Wait must fail when the context expires before the slot opens")
	}
}

func TestQuotaAllowAndExhaust(t *testing.T) {
	q := NewQuota(3)

	for i := 0; i < 3; i++ {
		if !q.Allow("alice") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if q.Allow("alice") {
		t.Fatal("fourth request must be denied")
	}
	if q.Remaining("alice") != 0 {
		t.Errorf("Remaining = %d, want 0", q.Remaining("alice"))
	}

	// Other users are unaffected.
	if !q.Allow("bob") {
		t.Fatal("bob has a separate budget")
	}
}

func TestQuotaResetsAtUTCMidnight(t *testing.T) {
	now := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	q := NewQuota(1)
	q.now = func() time.Time { return now }

	if !q.Allow("alice") {
		t.Fatal("first request should be allowed")
	}
	if q.Allow("alice") {
		t.Fatal("limit of one is spent")
	}

	// One minute before midnight nothing resets.
	now = time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC)
	if q.Allow("alice") {
		t.Fatal("quota must hold until midnight")
	}

	// Crossing midnight resets the counter.
	now = time.Date(2026, 3, 15, 0, 0, 1, 0, time.UTC)
	if !q.Allow("alice") {
		t.Fatal("quota must reset at UTC midnight")
	}
}

func TestQuotaSweepsIdleUsers(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	q := NewQuota(5)
	q.now = func() time.Time { return now }

	q.Allow("alice")
	q.Allow("bob")

	now = now.AddDate(0, 0, 2)
	q.Allow("carol") // triggers the sweep

	q.mutex.Lock()
	defer q.mutex.Unlock()
	if _, ok := q.entries["alice"]; ok {
		t.Error("stale entries must be swept")
	}
	if _, ok := q.entries["carol"]; !ok {
		t.Error("active entry must survive the sweep")
	}
}
