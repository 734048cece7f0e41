package engine

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundLimiterAllowsWithinBurst(t *testing.T) {
	start := time.Unix(1700000000, 0)
	l := NewOutboundLimiter(OutboundLimiterConfig{QueriesPerSecond: 1, BurstSize: 3, CleanupInterval: time.Hour}, start)

	remote := net.ParseIP("203.0.113.1")
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(start, remote), "burst slot %d should be allowed", i)
	}
	assert.False(t, l.Allow(start, remote), "fourth immediate query should exceed the burst")
}

func TestOutboundLimiterRefillsOverTime(t *testing.T) {
	start := time.Unix(1700000000, 0)
	l := NewOutboundLimiter(OutboundLimiterConfig{QueriesPerSecond: 1, BurstSize: 1, CleanupInterval: time.Hour}, start)

	remote := net.ParseIP("203.0.113.1")
	require.True(t, l.Allow(start, remote))
	assert.False(t, l.Allow(start, remote))
	assert.True(t, l.Allow(start.Add(2*time.Second), remote), "token should have refilled after 2s at 1/s")
}

func TestOutboundLimiterTracksDestinationsIndependently(t *testing.T) {
	start := time.Unix(1700000000, 0)
	l := NewOutboundLimiter(OutboundLimiterConfig{QueriesPerSecond: 1, BurstSize: 1, CleanupInterval: time.Hour}, start)

	a := net.ParseIP("203.0.113.1")
	b := net.ParseIP("203.0.113.2")
	require.True(t, l.Allow(start, a))
	assert.False(t, l.Allow(start, a))
	assert.True(t, l.Allow(start, b), "a different destination has its own bucket")
}

func TestOutboundLimiterExemptBypassesPacing(t *testing.T) {
	start := time.Unix(1700000000, 0)
	l := NewOutboundLimiter(OutboundLimiterConfig{QueriesPerSecond: 1, BurstSize: 1, CleanupInterval: time.Hour}, start)
	require.NoError(t, l.AddExempt("203.0.113.0/24"))

	remote := net.ParseIP("203.0.113.5")
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(start, remote))
	}
}

func TestOutboundLimiterStats(t *testing.T) {
	start := time.Unix(1700000000, 0)
	l := NewOutboundLimiter(DefaultOutboundLimiterConfig(), start)
	l.Allow(start, net.ParseIP("203.0.113.1"))
	l.Allow(start, net.ParseIP("203.0.113.2"))

	stats := l.Stats()
	assert.Equal(t, 2, stats.TrackedDestinations)
}
