package random

import (
	"errors"
	"time"

	"github.com/dnsscience/resolved/internal/clock"
)

// PortPool manages a pool of randomized UDP source ports for outbound
// queries, recycling expired allocations lazily rather than on a
// background ticker — the engine has no internal timers (see qsock),
// so recycling happens inline in Allocate (when no port is available)
// or in an explicit Sweep, driven by whatever time the caller supplies.
type PortPool struct {
	minPort, maxPort int
	maxInUse         int
	portLifetime     time.Duration

	available map[uint16]struct{}
	inUse     map[uint16]time.Time

	allocated   uint64
	recycled    uint64
	exhaustions uint64
}

var (
	ErrPortPoolExhausted = errors.New("random: no available ports in pool")
	ErrInvalidPortRange  = errors.New("random: invalid port range")
)

// PortPoolConfig configures a PortPool. Zero values take the defaults
// noted per field.
type PortPoolConfig struct {
	MinPort, MaxPort int           // default 32768-61000
	MaxInUse         int           // default 10000
	PortLifetime     time.Duration // default 2 minutes; should exceed any query timeout
}

// NewPortPool builds a pool over the configured range.
func NewPortPool(cfg PortPoolConfig) (*PortPool, error) {
	if cfg.MinPort == 0 {
		cfg.MinPort = 32768
	}
	if cfg.MaxPort == 0 {
		cfg.MaxPort = 61000
	}
	if cfg.MaxInUse == 0 {
		cfg.MaxInUse = 10000
	}
	if cfg.PortLifetime == 0 {
		cfg.PortLifetime = 2 * time.Minute
	}
	if cfg.MinPort >= cfg.MaxPort {
		return nil, ErrInvalidPortRange
	}
	if cfg.MinPort < 1024 {
		return nil, errors.New("random: min port must be >= 1024")
	}

	portCount := cfg.MaxPort - cfg.MinPort
	p := &PortPool{
		minPort:      cfg.MinPort,
		maxPort:      cfg.MaxPort,
		maxInUse:     cfg.MaxInUse,
		portLifetime: cfg.PortLifetime,
		available:    make(map[uint16]struct{}, portCount),
		inUse:        make(map[uint16]time.Time, cfg.MaxInUse),
	}
	for port := cfg.MinPort; port < cfg.MaxPort; port++ {
		p.available[uint16(port)] = struct{}{}
	}
	return p, nil
}

// Allocate draws a random available port, first recycling every expired
// in-use port if the available set is empty.
func (p *PortPool) Allocate(now time.Time, r Rand) (uint16, error) {
	if len(p.available) == 0 {
		p.recycleExpired(now)
	}
	if len(p.available) > 0 {
		ports := make([]uint16, 0, len(p.available))
		for port := range p.available {
			ports = append(ports, port)
		}
		idx := int(r.Uint32()) % len(ports)
		selected := ports[idx]
		delete(p.available, selected)
		p.inUse[selected] = now
		p.allocated++
		return selected, nil
	}
	p.exhaustions++
	return 0, ErrPortPoolExhausted
}

// Release returns port to the available pool.
func (p *PortPool) Release(port uint16) {
	delete(p.inUse, port)
	if int(port) >= p.minPort && int(port) < p.maxPort {
		p.available[port] = struct{}{}
	}
}

// recycleExpired moves any in-use port older than portLifetime back
// into the available set. now comes from the caller (Allocate's now
// argument, or Sweep's clock.Clock); nothing in the resolver drives a
// PortPool itself.
func (p *PortPool) recycleExpired(now time.Time) {
	for port, allocated := range p.inUse {
		if now.Sub(allocated) > p.portLifetime {
			delete(p.inUse, port)
			p.available[port] = struct{}{}
			p.recycled++
		}
	}
}

// Sweep exposes recycleExpired for callers (e.g. an idle-tick handler)
// that want to reclaim ports without an allocation pending.
func (p *PortPool) Sweep(c clock.Clock) {
	p.recycleExpired(c.Now())
}

type PoolStats struct {
	Available   int
	InUse       int
	Allocated   uint64
	Recycled    uint64
	Exhaustions uint64
}

func (p *PortPool) GetStats() PoolStats {
	return PoolStats{
		Available:   len(p.available),
		InUse:       len(p.inUse),
		Allocated:   p.allocated,
		Recycled:    p.recycled,
		Exhaustions: p.exhaustions,
	}
}
