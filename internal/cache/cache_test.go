package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := New(16)
	defer c.Stop()

	c.Set("key", "value", time.Minute)

	got, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := New(16)
	defer c.Stop()

	c.Set("short", 1, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok, "expired entry must not be returned")
}

func TestCacheZeroTTLIgnored(t *testing.T) {
	c := New(16)
	defer c.Stop()

	c.Set("never", 1, 0)
	_, ok := c.Get("never")
	assert.False(t, ok, "zero TTL entries are not stored")
}

func TestCacheDelete(t *testing.T) {
	c := New(16)
	defer c.Stop()

	c.Set("key", "value", time.Minute)
	c.Delete("key")

	_, ok := c.Get("key")
	assert.False(t, ok)
}

func TestCacheEvictsAtCapacity(t *testing.T) {
	c := New(4)
	defer c.Stop()

	for i := 0; i < 8; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, time.Minute)
	}
	assert.LessOrEqual(t, c.Len(), 4, "cache must respect its size bound")

	// The most recent entry survives.
	_, ok := c.Get("k7")
	assert.True(t, ok)
}

func TestCacheSweepRemovesExpired(t *testing.T) {
	c := New(16)
	defer c.Stop()

	c.Set("old", 1, 5*time.Millisecond)
	c.Set("new", 2, time.Minute)
	time.Sleep(10 * time.Millisecond)

	c.sweep()
	assert.Equal(t, 1, c.Len())
}
