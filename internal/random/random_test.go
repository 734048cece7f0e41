package random

import (
	"testing"
	"time"

	"github.com/dnsscience/resolved/internal/clock"
)

func TestCryptoRandProducesVaryingValues(t *testing.T) {
	var r CryptoRand
	a, b := r.Uint32(), r.Uint32()
	if a == b {
		t.Fatal("two consecutive draws were identical (suspicious, not impossible)")
	}
}

func TestNonZeroSeedNeverZero(t *testing.T) {
	var r CryptoRand
	for i := 0; i < 1000; i++ {
		if NonZeroSeed(r) == 0 {
			t.Fatal("NonZeroSeed returned zero")
		}
	}
}

func TestPortPoolAllocateAndRelease(t *testing.T) {
	p, err := NewPortPool(PortPoolConfig{MinPort: 2000, MaxPort: 2004})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(0, 0)
	seen := map[uint16]bool{}
	var r CryptoRand
	for i := 0; i < 4; i++ {
		port, err := p.Allocate(now, r)
		if err != nil {
			t.Fatal(err)
		}
		if seen[port] {
			t.Fatal("same port allocated twice before exhaustion")
		}
		seen[port] = true
	}
	if _, err := p.Allocate(now, r); err != ErrPortPoolExhausted {
		t.Fatalf("want exhausted, got %v", err)
	}
	for port := range seen {
		p.Release(port)
		break
	}
	if _, err := p.Allocate(now, r); err != nil {
		t.Fatalf("expected a port to be available after release: %v", err)
	}
}

func TestPortPoolRecyclesExpiredWithoutBackgroundGoroutine(t *testing.T) {
	p, err := NewPortPool(PortPoolConfig{MinPort: 3000, MaxPort: 3001, PortLifetime: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	c := clock.NewFake(time.Unix(0, 0))
	var r CryptoRand
	if _, err := p.Allocate(c.Now(), r); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Allocate(c.Now(), r); err != ErrPortPoolExhausted {
		t.Fatal("expected exhaustion with a single-port pool")
	}
	c.Advance(2 * time.Minute)
	if _, err := p.Allocate(c.Now(), r); err != nil {
		t.Fatalf("expected lazy recycling past lifetime, got %v", err)
	}
}
