// Package hosts implements the in-memory static hosts table (spec §4.4):
// an append-only list of address/name entries that answers A/AAAA/PTR
// queries directly, without touching the network. Loading the text of
// /etc/hosts is an external collaborator's job; this package only owns
// the resulting entry table and the query logic over it.
package hosts

import (
	"strings"

	"github.com/dnsscience/resolved/internal/packet"
)

// AddressFamily distinguishes the two address shapes a HostsEntry can
// carry.
type AddressFamily int

const (
	AFInet AddressFamily = iota
	AFInet6
)

// Entry is one row of the hosts table.
type Entry struct {
	AF       AddressFamily
	Address  [16]byte // first 4 bytes significant for AFInet
	Hostname string   // anchored, compared case-insensitively
	ArpaForm string   // anchored reverse-lookup name, e.g. "1.0.0.127.in-addr.arpa."
	IsAlias  bool      // alias rows are skipped for PTR lookups
}

// Table is a refcounted, append-only hosts table. Immutable once built
// and shared (see Acquire/Release); mutation only happens through Add
// before the table is handed to a resolver.
type Table struct {
	refs    int
	entries []Entry
}

// New returns a Table with a single reference held by the caller.
func New() *Table {
	return &Table{refs: 1}
}

// Acquire increments the refcount and returns t for chaining.
func (t *Table) Acquire() *Table {
	t.refs++
	return t
}

// Release decrements the refcount; the caller must not use t afterward
// if this was the last reference.
func (t *Table) Release() {
	t.refs--
}

// Add appends an entry. Callers populate a Table fully before sharing
// it across resolver handles.
func (t *Table) Add(e Entry) {
	t.entries = append(t.entries, e)
}

// Query answers a hosts-table lookup for (qname, qtype, qclass),
// building an answer packet that echoes the question before pushing any
// matches (spec §4.4). PTR scans ArpaForm on non-alias rows; A/AAAA
// scan Hostname by address family. All synthesized records have ttl=0.
func (t *Table) Query(ans *packet.Packet, qname string, qtype, qclass uint16) error {
	qname = packet.Anchor(qname)
	lname := strings.ToLower(qname)

	if err := ans.PushQuestion(packet.Question{Name: qname, Type: qtype, Class: qclass}); err != nil {
		return err
	}

	switch qtype {
	case packet.TypePTR:
		for _, e := range t.entries {
			if e.IsAlias {
				continue
			}
			if strings.ToLower(e.ArpaForm) != lname {
				continue
			}
			if err := ans.Push(packet.AN, qname, packet.TypePTR, qclass, 0, packet.PTR(e.Hostname)); err != nil {
				return err
			}
		}
	case packet.TypeA:
		for _, e := range t.entries {
			if e.AF != AFInet || strings.ToLower(e.Hostname) != lname {
				continue
			}
			var addr [4]byte
			copy(addr[:], e.Address[:4])
			if err := ans.Push(packet.AN, qname, packet.TypeA, qclass, 0, packet.A{Addr: addr}); err != nil {
				return err
			}
		}
	case packet.TypeAAAA:
		for _, e := range t.entries {
			if e.AF != AFInet6 || strings.ToLower(e.Hostname) != lname {
				continue
			}
			var addr [16]byte
			copy(addr[:], e.Address[:])
			if err := ans.Push(packet.AN, qname, packet.TypeAAAA, qclass, 0, packet.AAAA{Addr: addr}); err != nil {
				return err
			}
		}
	}
	return nil
}
