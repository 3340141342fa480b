// Package store provides recommendation history tracking using Bloom filters
// and LRU eviction.
package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// History remembers which tracks were recommended to which users. The Bloom
// filter answers the common "never seen" case without touching the map; the
// LRU bounds memory by evicting the oldest entries. Reads may produce false
// positives after eviction, which is acceptable for a down-ranking hint.
type History struct {
	entries           map[string]struct{}
	bloom             *bloom.BloomFilter
	lru               *lru.Cache[string, struct{}]
	mutex             sync.RWMutex
	maxEntries        int
	falsePositiveRate float64
}

func NewHistory(maxEntries int, falsePositiveRate float64) *History {
	h := &History{
		entries:           make(map[string]struct{}),
		bloom:             bloom.NewWithEstimates(uint(maxEntries), falsePositiveRate),
		maxEntries:        maxEntries,
		falsePositiveRate: falsePositiveRate,
	}
	// The LRU is the single source of truth for eviction: its callback keeps
	// the map in lockstep with whatever key it drops. The callback fires
	// inside Add and Purge, which only run under h.mutex.
	h.lru, _ = lru.NewWithEvict[string, struct{}](maxEntries, func(key string, _ struct{}) {
		delete(h.entries, key)
	})
	return h
}

// Seen reports whether the track was recommended to the user before.
func (h *History) Seen(userID, trackID string) bool {
	key := userID + ":" + trackID

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if !h.bloom.TestString(key) {
		return false
	}
	_, exists := h.entries[key]
	return exists
}

// Mark records a recommendation for the user.
func (h *History) Mark(userID, trackID string) {
	if userID == "" || trackID == "" {
		return
	}
	key := userID + ":" + trackID

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, exists := h.entries[key]; exists {
		return
	}

	h.entries[key] = struct{}{}
	h.bloom.AddString(key)
	h.lru.Add(key, struct{}{})
}

// Size returns the number of remembered recommendations.
func (h *History) Size() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.entries)
}

// Clear drops all history and resets the Bloom filter.
func (h *History) Clear() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	// Purge fires the eviction callback per key; swap the map in first so
	// the callbacks clear an already empty map.
	h.entries = make(map[string]struct{})
	h.bloom = bloom.NewWithEstimates(uint(h.maxEntries), h.falsePositiveRate)
	h.lru.Purge()
}
