// Package hints implements the per-zone nameserver hint pools (spec
// §4.5): an offline table of "where do I ask next" addresses that
// seeds the resolver's iterative walk, synthesizing NS/glue answers
// the same shape a real delegation response would have.
package hints

import (
	"net"
	"sort"
	"strings"

	"github.com/dchest/siphash"

	"github.com/dnsscience/resolved/internal/packet"
)

const ringSize = 16

// symbolicNS is the owner name hints_query gives every synthesized NS
// record, since these entries don't come from an actual delegation.
const symbolicNS = "hints.local."

// Entry is one nameserver address hint.
type Entry struct {
	Addr     net.IP
	Priority int // lower wins
}

// Zone is a ring buffer of up to 16 hints for one zone name.
type Zone struct {
	name    string
	entries [ringSize]Entry
	count   int // total inserts ever made; index = count % ringSize once full
}

// Table is a refcounted, case-insensitively-keyed collection of Zones.
type Table struct {
	refs  int
	zones map[string]*Zone
}

// New returns an empty Table with the caller holding the sole reference.
func New() *Table {
	return &Table{refs: 1, zones: make(map[string]*Zone)}
}

func (t *Table) Acquire() *Table {
	t.refs++
	return t
}

func (t *Table) Release() {
	t.refs--
}

func key(zoneName string) string {
	return strings.ToLower(packet.Anchor(zoneName))
}

// Insert adds addr to zoneName's pool, appending while under 16
// entries and ring-overwriting the oldest slot beyond that (spec
// §4.5: "insert appends or updates in-place at count % 16").
func (t *Table) Insert(zoneName string, addr net.IP, priority int) {
	k := key(zoneName)
	z, ok := t.zones[k]
	if !ok {
		z = &Zone{name: k}
		t.zones[k] = z
	}
	z.entries[z.count%ringSize] = Entry{Addr: addr, Priority: priority}
	z.count++
}

// slots returns the live entries of z (up to ringSize, fewer if never
// filled).
func (z *Zone) slots() []Entry {
	n := z.count
	if n > ringSize {
		n = ringSize
	}
	return z.entries[:n]
}

// Len reports how many live entries a zone holds.
func (t *Table) Len(zoneName string) int {
	z, ok := t.zones[key(zoneName)]
	if !ok {
		return 0
	}
	return len(z.slots())
}

// lookup finds the zone whose name exactly matches the given anchored,
// lowercased key.
func (t *Table) lookup(k string) (*Zone, bool) {
	z, ok := t.zones[k]
	return z, ok
}

// MatchZone walks the suffixes of qname, most specific first, and
// returns the first zone present in the table (falling back to the
// root zone "."). ok is false only if even the root zone is absent.
func (t *Table) MatchZone(qname string) (string, bool) {
	name := packet.Anchor(qname)
	for {
		if _, ok := t.lookup(strings.ToLower(name)); ok {
			return name, true
		}
		if name == "." {
			return "", false
		}
		name = packet.Cleave(name)
	}
}

// Iterate returns zoneName's entries ordered by ascending priority,
// with equal-priority entries shuffled by seed (spec §4.5's
// "Feistel-style byte shuffle"; here a keyed siphash permutation,
// matching the packet package's RR shuffle). seed must never be zero.
func (t *Table) Iterate(zoneName string, seed uint64) []Entry {
	z, ok := t.zones[key(zoneName)]
	if !ok {
		return nil
	}
	entries := append([]Entry(nil), z.slots()...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Priority < entries[j].Priority
	})
	if seed != 0 {
		shuffleTies(entries, seed)
	}
	return entries
}

// shuffleTies performs a keyed Fisher-Yates shuffle within each
// contiguous run of equal-priority entries, leaving priority order
// across runs intact.
func shuffleTies(entries []Entry, seed uint64) {
	k0, k1 := seed, ^seed
	start := 0
	for start < len(entries) {
		end := start + 1
		for end < len(entries) && entries[end].Priority == entries[start].Priority {
			end++
		}
		run := entries[start:end]
		for i := len(run) - 1; i > 0; i-- {
			h := siphash.Hash(k0, k1, indexBytes(uint64(i)))
			j := int(h % uint64(i+1))
			run[i], run[j] = run[j], run[i]
		}
		start = end
	}
}

func indexBytes(i uint64) []byte {
	var b [8]byte
	for n := 0; n < 8; n++ {
		b[n] = byte(i >> (8 * n))
	}
	return b
}

// Query synthesizes a hints response for q into ans (spec §4.5's
// hints_query): QR=1, the question copied, then for the best-matching
// zone an NS record per address (owner symbolicNS) in AUTHORITY plus
// an A/AAAA glue record in ADDITIONAL, in priority/shuffle order.
func (t *Table) Query(ans *packet.Packet, q packet.Question, seed uint64) error {
	flags := ans.GetFlags()
	flags.QR = true
	ans.SetFlags(flags)
	if err := ans.PushQuestion(q); err != nil {
		return err
	}

	zoneName, ok := t.MatchZone(q.Name)
	if !ok {
		return nil
	}
	for _, e := range t.Iterate(zoneName, seed) {
		if err := ans.Push(packet.NS, symbolicNS, packet.TypeNS, packet.ClassIN, 0, packet.NSData(symbolicNS)); err != nil {
			return err
		}
		if ip4 := e.Addr.To4(); ip4 != nil {
			var addr [4]byte
			copy(addr[:], ip4)
			if err := ans.Push(packet.AR, symbolicNS, packet.TypeA, packet.ClassIN, 0, packet.A{Addr: addr}); err != nil {
				return err
			}
		} else if ip6 := e.Addr.To16(); ip6 != nil {
			var addr [16]byte
			copy(addr[:], ip6)
			if err := ans.Push(packet.AR, symbolicNS, packet.TypeAAAA, packet.ClassIN, 0, packet.AAAA{Addr: addr}); err != nil {
				return err
			}
		}
	}
	return nil
}
