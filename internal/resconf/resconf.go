// Package resconf holds the parsed resolver configuration (spec §3,
// §4.6's search-list generator): nameservers, search domains, the
// file/bind lookup order, and tunable options. Parsing resolv.conf
// text is an external collaborator's job; this package only owns the
// resulting, already-parsed table.
package resconf

import (
	"net"
	"strings"
	"time"

	"github.com/dnsscience/resolved/internal/packet"
)

const (
	maxNameservers = 8
	maxSearch      = 8
)

// Options mirrors the classic resolv.conf option record.
type Options struct {
	Ndots   int
	Timeout time.Duration
	Attempts int
	Recurse bool
	Smart   bool
	Rotate  bool

	// Harden0x20 randomizes outgoing query name case and rejects
	// replies that don't echo it back exactly (spec §7 hardening).
	Harden0x20 bool
}

// DefaultOptions matches common resolver defaults.
func DefaultOptions() Options {
	return Options{
		Ndots:      1,
		Timeout:    5 * time.Second,
		Attempts:   2,
		Recurse:    true,
		Smart:      false,
		Rotate:     false,
		Harden0x20: false,
	}
}

// ResolvConf is a refcounted, immutable-after-construction handle
// shared across resolver instances.
type ResolvConf struct {
	refs int

	Nameservers []net.IP
	Search      []string // anchored suffixes
	LookupOrder string    // e.g. "bf" = bind then file
	Options     Options
	LocalAddr   net.IP // bind address for outgoing sockets; nil = any
}

// New builds an empty ResolvConf with the caller holding the sole
// reference.
func New() *ResolvConf {
	return &ResolvConf{refs: 1, Options: DefaultOptions()}
}

func (c *ResolvConf) Acquire() *ResolvConf {
	c.refs++
	return c
}

func (c *ResolvConf) Release() {
	c.refs--
}

// AddNameserver appends ns, up to maxNameservers; extras are dropped.
func (c *ResolvConf) AddNameserver(ns net.IP) {
	if len(c.Nameservers) >= maxNameservers {
		return
	}
	c.Nameservers = append(c.Nameservers, ns)
}

// AddSearch appends an anchored search suffix, up to maxSearch.
func (c *ResolvConf) AddSearch(suffix string) {
	if len(c.Search) >= maxSearch {
		return
	}
	c.Search = append(c.Search, packet.Anchor(suffix))
}

// dots counts the number of '.' characters in an unanchored name.
func dots(name string) int {
	return strings.Count(strings.TrimSuffix(name, "."), ".")
}

// SearchIterator is a cursor over the candidate fqdns the search-list
// generator would produce for a given qname (spec §4.6). Its state is
// the search-list index i plus two emitted flags, held in the struct;
// Next advances that state in place, and there is no way to rewind it
// (a fresh iterator from NewSearchIterator starts over).
type SearchIterator struct {
	qname        string
	ndotsFirst   bool // step 1 fired: emit anchored qname before the search list
	search       []string
	i            int // next search-list index to emit
	emittedFirst bool
	emittedLast  bool
}

// NewSearchIterator builds the generator for qname against c's search
// list and ndots option.
func (c *ResolvConf) NewSearchIterator(qname string) *SearchIterator {
	return &SearchIterator{
		qname:      qname,
		ndotsFirst: dots(qname) >= c.Options.Ndots,
		search:     c.Search,
	}
}

// Next returns the next candidate fqdn and true, or ("", false) once
// the generator is exhausted.
func (it *SearchIterator) Next() (string, bool) {
	if it.ndotsFirst && !it.emittedFirst {
		it.emittedFirst = true
		return packet.Anchor(it.qname), true
	}
	if it.i < len(it.search) {
		entry := it.search[it.i]
		it.i++
		if entry == "" || entry == "." {
			return it.Next()
		}
		return packet.Anchor(it.qname + "." + strings.TrimSuffix(entry, ".")), true
	}
	if !it.ndotsFirst && !it.emittedLast {
		it.emittedLast = true
		return packet.Anchor(it.qname), true
	}
	return "", false
}
