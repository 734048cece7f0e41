package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsscience/resolved/internal/packet"
)

func TestSetAndGetRoundTrips(t *testing.T) {
	c := NewShardedCache(Config{})
	now := time.Unix(1700000000, 0)

	hash := packet.HashQuery("www.example.com.", packet.TypeA, packet.ClassIN)
	c.Set(hash, &Entry{QName: "www.example.com.", QType: packet.TypeA, ExpiresAt: now.Add(300 * time.Second)})

	got, ok := c.Get(now, hash)
	require.True(t, ok)
	assert.Equal(t, "www.example.com.", got.QName)
}

func TestGetMissesAfterExpiryWithoutServeStale(t *testing.T) {
	c := NewShardedCache(Config{})
	now := time.Unix(1700000000, 0)
	hash := uint64(42)
	c.Set(hash, &Entry{ExpiresAt: now.Add(time.Second)})

	_, ok := c.Get(now.Add(2*time.Second), hash)
	assert.False(t, ok, "entry past its TTL with ServeStale off should miss")
}

func TestServeStaleWithinWindow(t *testing.T) {
	c := NewShardedCache(Config{ServeStale: true, MaxStaleTTL: 10 * time.Second})
	now := time.Unix(1700000000, 0)
	hash := uint64(7)
	c.Set(hash, &Entry{ExpiresAt: now.Add(time.Second)})

	_, ok := c.Get(now.Add(5*time.Second), hash)
	assert.True(t, ok, "entry within the serve-stale window should still be returned")

	_, ok = c.Get(now.Add(20*time.Second), hash)
	assert.False(t, ok, "entry beyond the serve-stale window should miss")
}

func TestSweepRemovesOnlyTrulyExpiredEntries(t *testing.T) {
	c := NewShardedCache(Config{})
	now := time.Unix(1700000000, 0)
	live := uint64(1)
	dead := uint64(2)
	c.Set(live, &Entry{ExpiresAt: now.Add(time.Hour)})
	c.Set(dead, &Entry{ExpiresAt: now.Add(-time.Hour)})

	c.Sweep(now)

	stats := c.GetStats()
	assert.Equal(t, 1, stats.Size)
	_, ok := c.Get(now, live)
	assert.True(t, ok)
}
