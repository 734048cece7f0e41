// Package permutor implements the keyed, non-repeating id stream used
// for DNS transaction ids (spec §4.2): a balanced Feistel network whose
// round function is TEA's mixing formula, cycle-walked to fit an
// arbitrary range. Unlike math/rand, a fixed key produces a genuine
// bijection over its domain, so a full pass never repeats a value —
// the property that makes transaction ids hard to predict.
package permutor

import "math/bits"

const delta = 0x9E3779B9

// Permutor streams unique values over [Low, High] with no repeats
// across any contiguous window of N = High-Low+1 calls to Step.
type Permutor struct {
	low, high uint32
	n         uint32
	halfwidth uint
	mask      uint32
	key       [4]uint32
	stepi     uint64
}

// Seed draws entropy for a Permutor. Implementations must be
// cryptographically unpredictable; internal/random.Rand is the default.
type Seed interface {
	Uint32() uint32
}

// New builds a permutor over [low, high], deriving its TEA key from
// eight draws off seed as the spec's "4-key TEA from eight random
// 32-bit draws" — pairs are XORed together to fold the extra entropy
// into the four round keys.
func New(low, high uint32, seed Seed) *Permutor {
	if high < low {
		low, high = high, low
	}
	n := high - low + 1
	w := bits.Len32(n - 1)
	if w == 0 {
		w = 1
	}
	if w%2 != 0 {
		w++
	}
	if w > 32 {
		w = 32
	}
	half := w / 2
	var mask uint32
	if half >= 32 {
		mask = 0xFFFFFFFF
	} else {
		mask = (uint32(1) << half) - 1
	}

	draws := [8]uint32{}
	for i := range draws {
		draws[i] = seed.Uint32()
	}
	var key [4]uint32
	for i := range key {
		key[i] = draws[i] ^ draws[i+4]
	}

	return &Permutor{
		low: low, high: high, n: n,
		halfwidth: uint(half), mask: mask,
		key: key,
	}
}

// Step returns the next value in the permutation, cycle-walking past
// any Feistel output that falls outside [0, N).
func (p *Permutor) Step() uint32 {
	for {
		ctr := p.stepi
		p.stepi++
		v := p.feistel(uint32(ctr) & ((p.mask << p.halfwidth) | p.mask))
		if v < p.n {
			return v + p.low
		}
	}
}

// feistel runs 8 balanced Feistel rounds over value, split into two
// halfwidth-bit halves, using TEA's round-sum mixing as the F-function.
func (p *Permutor) feistel(value uint32) uint32 {
	l := (value >> p.halfwidth) & p.mask
	r := value & p.mask
	var sum uint32
	for round := 0; round < 8; round++ {
		sum += delta
		var f uint32
		if round%2 == 0 {
			f = (((r << 4) + p.key[0]) ^ (r + sum) ^ ((r >> 5) + p.key[1])) & p.mask
		} else {
			f = (((r << 4) + p.key[2]) ^ (r + sum) ^ ((r >> 5) + p.key[3])) & p.mask
		}
		l, r = r, (l^f)&p.mask
	}
	return ((l & p.mask) << p.halfwidth) | (r & p.mask)
}
