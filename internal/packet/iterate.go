package packet

import (
	"sort"

	"github.com/dchest/siphash"
)

// Filter selects which RRs Foreach yields. A zero-value field means
// "don't filter on this dimension"; Name is matched case-insensitively
// if non-empty.
type Filter struct {
	Section *Section
	Type    uint16 // 0 = any
	Class   uint16 // 0 = any
	Name    string // "" = any
}

func (f Filter) matches(rr RR) bool {
	if f.Section != nil && rr.Section != *f.Section {
		return false
	}
	if f.Type != 0 && rr.Type != f.Type {
		return false
	}
	if f.Class != 0 && rr.Class != f.Class {
		return false
	}
	if f.Name != "" && lowerASCII(Anchor(f.Name)) != lowerASCII(Anchor(rr.Name)) {
		return false
	}
	return true
}

// SortKind selects the RR iteration order.
type SortKind int

const (
	// SortPacket yields RRs in on-wire order (the default).
	SortPacket SortKind = iota
	// SortCanonical yields RRs ordered by Compare.
	SortCanonical
	// SortShuffle yields RRs in an order keyed by a per-iteration seed,
	// for RR-set load balancing. The seed must never be zero.
	SortShuffle
)

// Sort selects how Foreach orders its results.
type Sort struct {
	Kind SortKind
	Seed uint64 // used only when Kind == SortShuffle
}

// Foreach returns the RRs in p matching filter, ordered per sort.
func (p *Packet) Foreach(filter Filter, sort_ Sort) ([]RR, error) {
	all, err := p.AllRRs()
	if err != nil {
		return nil, err
	}
	var out []RR
	for _, rr := range all {
		if filter.matches(rr) {
			out = append(out, rr)
		}
	}
	switch sort_.Kind {
	case SortPacket:
		// already in packet order
	case SortCanonical:
		sort.SliceStable(out, func(i, j int) bool {
			return Compare(out[i], out[j]) < 0
		})
	case SortShuffle:
		shuffle(out, sort_.Seed)
	}
	return out, nil
}

// shuffle performs a keyed Fisher-Yates permutation: the key stream is
// siphash-2-4 over (seed, index), giving a reproducible order for a
// fixed seed without needing a stateful PRNG. seed must be non-zero —
// callers are responsible for that (see random.NonZeroSeed); a zero
// seed leaves the order unchanged.
func shuffle(rrs []RR, seed uint64) {
	if seed == 0 || len(rrs) < 2 {
		return
	}
	k0, k1 := seed, ^seed
	for i := len(rrs) - 1; i > 0; i-- {
		h := siphash.Hash(k0, k1, indexBytes(uint64(i)))
		j := int(h % uint64(i+1))
		rrs[i], rrs[j] = rrs[j], rrs[i]
	}
}

func indexBytes(i uint64) []byte {
	var b [8]byte
	for n := 0; n < 8; n++ {
		b[n] = byte(i >> (8 * n))
	}
	return b
}

// fixed distribution key: this hash keys a lookup table, not a MAC, so
// a constant key (rather than a per-process random one) is fine and
// keeps HashQuery reproducible across runs for tests.
const hashK0, hashK1 = 0x646e7363696e6365, 0x72657365617263ff

// HashQuery produces a DOS-resistant cache/lookup key for a question,
// used by the resolver's optional answer cache.
func HashQuery(qname string, qtype, qclass uint16) uint64 {
	buf := make([]byte, 0, len(qname)+4)
	buf = append(buf, []byte(lowerASCII(Anchor(qname)))...)
	buf = append(buf, byte(qtype>>8), byte(qtype), byte(qclass>>8), byte(qclass))
	return siphash.Hash(hashK0, hashK1, buf)
}
