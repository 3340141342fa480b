// Package gate provides the process-wide pacing gate for artist top-track
// lookups and the per-user daily workflow quota.
package gate

import (
	"context"
	"sync"
	"time"
)

// TopTracksGate spaces top-track requests across all workflows. The catalog
// throttles this endpoint aggressively, so callers from every workflow take
// turns through one gate.
type TopTracksGate struct {
	interval time.Duration
	mutex    sync.Mutex
	last     time.Time
}

func NewTopTracksGate(interval time.Duration) *TopTracksGate {
	return &TopTracksGate{interval: interval}
}

// Wait blocks until the caller may issue a top-tracks request. Waiters are
// serialized; each one that returns nil has reserved its slot.
func (g *TopTracksGate) Wait(ctx context.Context) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := time.Now()
	next := g.last.Add(g.interval)
	if next.After(now) {
		timer := time.NewTimer(next.Sub(now))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	g.last = time.Now()
	return nil
}

// Quota limits workflow starts per user per UTC calendar day. Counters reset
// at midnight UTC; idle users are swept to bound memory.
type Quota struct {
	limit   int
	mutex   sync.Mutex
	entries map[string]*quotaEntry

	// now is swappable for tests.
	now func() time.Time
}

type quotaEntry struct {
	count    int
	resetsAt time.Time
}

func NewQuota(limit int) *Quota {
	return &Quota{
		limit:   limit,
		entries: make(map[string]*quotaEntry),
		now:     time.Now,
	}
}

// Allow consumes one workflow start for the user if any remain today.
func (q *Quota) Allow(userID string) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	now := q.now().UTC()
	entry, ok := q.entries[userID]
	if !ok || !now.Before(entry.resetsAt) {
		entry = &quotaEntry{resetsAt: nextUTCMidnight(now)}
		q.entries[userID] = entry
		q.sweepLocked(now)
	}

	if entry.count >= q.limit {
		return false
	}
	entry.count++
	return true
}

// Remaining reports how many starts the user has left today.
func (q *Quota) Remaining(userID string) int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	now := q.now().UTC()
	entry, ok := q.entries[userID]
	if !ok || !now.Before(entry.resetsAt) {
		return q.limit
	}
	return q.limit - entry.count
}

func (q *Quota) sweepLocked(now time.Time) {
	for userID, entry := range q.entries {
		if !now.Before(entry.resetsAt) {
			delete(q.entries, userID)
		}
	}
}

func nextUTCMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
