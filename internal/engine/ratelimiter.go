package engine

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// OutboundLimiter paces queries the resolver sends to a single
// upstream nameserver, guarding against a misbehaving delegation chain
// (e.g. a referral cycle) turning into a query flood against one
// address. It uses a token bucket per destination IP.
type OutboundLimiter struct {
	mu              sync.Mutex
	limitersByAddr  map[string]*rate.Limiter
	queriesPerSec   rate.Limit
	burstSize       int
	cleanupInterval time.Duration
	lastCleanup     time.Time
	exemptNets      []*net.IPNet
}

// OutboundLimiterConfig holds configuration for an OutboundLimiter.
type OutboundLimiterConfig struct {
	QueriesPerSecond float64       // maximum queries per second per destination
	BurstSize        int           // maximum burst size
	CleanupInterval  time.Duration // how often all per-destination limiters are dropped
}

// DefaultOutboundLimiterConfig matches a single stub resolver's normal
// query rate against any one nameserver, with headroom for a burst of
// parallel lookups.
func DefaultOutboundLimiterConfig() OutboundLimiterConfig {
	return OutboundLimiterConfig{
		QueriesPerSecond: 50,
		BurstSize:        100,
		CleanupInterval:  5 * time.Minute,
	}
}

// NewOutboundLimiter builds an OutboundLimiter from cfg. now is the
// limiter's notion of "started at," used only for the first cleanup
// deadline; the resolver's clock.Clock supplies it so tests can drive
// cleanup deterministically.
func NewOutboundLimiter(cfg OutboundLimiterConfig, now time.Time) *OutboundLimiter {
	return &OutboundLimiter{
		limitersByAddr:  make(map[string]*rate.Limiter),
		queriesPerSec:   rate.Limit(cfg.QueriesPerSecond),
		burstSize:       cfg.BurstSize,
		cleanupInterval: cfg.CleanupInterval,
		lastCleanup:     now,
		exemptNets:      make([]*net.IPNet, 0),
	}
}

// Allow reports whether a query to remote should be sent now. now
// drives both the periodic limiter-map cleanup and the token bucket.
func (l *OutboundLimiter) Allow(now time.Time, remote net.IP) bool {
	if l.isExempt(remote) {
		return true
	}

	addrStr := remote.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) > l.cleanupInterval {
		l.cleanup(now)
	}

	limiter, ok := l.limitersByAddr[addrStr]
	if !ok {
		limiter = rate.NewLimiter(l.queriesPerSec, l.burstSize)
		l.limitersByAddr[addrStr] = limiter
	}

	return limiter.AllowN(now, 1)
}

// AddExempt adds a network (e.g. the configured nameservers themselves
// when they're also trusted forwarders) that bypasses pacing.
func (l *OutboundLimiter) AddExempt(cidr string) error {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		ip := net.ParseIP(cidr)
		if ip == nil {
			return err
		}
		if ip.To4() != nil {
			ipnet = &net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)}
		} else {
			ipnet = &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exemptNets = append(l.exemptNets, ipnet)
	return nil
}

func (l *OutboundLimiter) isExempt(ip net.IP) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, exempt := range l.exemptNets {
		if exempt.Contains(ip) {
			return true
		}
	}
	return false
}

// cleanup drops all tracked per-destination limiters. Must be called
// with the lock held.
func (l *OutboundLimiter) cleanup(now time.Time) {
	l.limitersByAddr = make(map[string]*rate.Limiter)
	l.lastCleanup = now
}

// Stats reports current limiter bookkeeping, useful for metrics.
func (l *OutboundLimiter) Stats() OutboundLimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return OutboundLimiterStats{
		TrackedDestinations: len(l.limitersByAddr),
		ExemptNets:          len(l.exemptNets),
	}
}

// OutboundLimiterStats holds statistics about an OutboundLimiter.
type OutboundLimiterStats struct {
	TrackedDestinations int
	ExemptNets          int
}
