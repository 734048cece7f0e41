package resolver

import (
	"time"

	"github.com/dnsscience/resolved/internal/packet"
	"github.com/dnsscience/resolved/internal/resconf"
)

// frame is one level of the resolver's fixed-depth stack (spec §3's
// ResolverFrame). Child frames are used for NS glue resolution, CNAME
// following, and smart-mode A lookups; they always resolve a single
// (qname, qtype, qclass) and report back to their parent via done/err.
type frame struct {
	state FrameState
	err   error

	qname         string
	qtype, qclass uint16
	rd            bool // recursion-desired bit this frame's queries carry

	lookup    string // resconf.LookupOrder, walked by SWITCH
	lookupPos int

	hardenBailiwick bool // reject/drop out-of-bailiwick glue (spec §7 hardening option)

	search *resconf.SearchIterator

	query  *packet.Packet
	answer *packet.Packet

	hints           *packet.Packet // current delegation/hints candidate (NS+glue)
	zoneName        string         // zone hints/a referral claims to be authoritative for
	hintsSeed       uint64
	hintsOriginalAR int         // AR-section length when hints was (re)seeded, for glue-originality
	nsOrder         []packet.RR // sorted NS records from hints' NS section, this iteration
	nsIdx           int
	glueIdx         int
	queryStart      time.Time

	ansCname string // captured CNAME target while following a chain

	queryName   string    // actual candidate name the current query.query carries
	currentGlue packet.RR // glue A record chosen in FOREACH_NS for FOREACH_A

	smartIdx       int
	smartTargets   []packet.RR // NS/MX/SRV AN records needing A lookups
	mxFallbackDone bool

	// child-frame completion signalling, read by the parent after a
	// pushed child frame reaches fDone.
	childDone       bool
	childErr        error
	lastChildAnswer *packet.Packet
}

// reset clears a frame to its zero-value state, for reuse across a
// resolver's fixed frame array when it's pushed again.
func (f *frame) reset() {
	*f = frame{}
}
