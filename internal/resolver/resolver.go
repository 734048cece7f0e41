// Package resolver implements the stacked resolver state machine (spec
// §4.6): file/bind switching, search-list expansion, iterative
// delegation walking with glue reuse, CNAME chain following, and
// smart-mode indirection, all driven by a single re-entrant Check call
// that never blocks.
package resolver

import (
	"net"
	"time"

	"github.com/dnsscience/resolved/internal/cache"
	"github.com/dnsscience/resolved/internal/clock"
	"github.com/dnsscience/resolved/internal/engine"
	"github.com/dnsscience/resolved/internal/hints"
	"github.com/dnsscience/resolved/internal/hosts"
	"github.com/dnsscience/resolved/internal/metrics"
	"github.com/dnsscience/resolved/internal/packet"
	"github.com/dnsscience/resolved/internal/qsock"
	"github.com/dnsscience/resolved/internal/random"
	"github.com/dnsscience/resolved/internal/resconf"
)

// minCacheTTL floors how long a cached answer is trusted, so a 0-TTL
// record doesn't make the cache pointless under repeated lookups.
const minCacheTTL = 1 * time.Second

// Resolver is a single resolve in flight plus the fixed 8-frame stack
// spec §3 names. One Resolver handle serves one caller thread at a
// time (see spec §5); config/hosts/hints handles may be shared by many
// Resolvers.
type Resolver struct {
	sock   *qsock.QuerySocket
	conf   *resconf.ResolvConf
	hostsT *hosts.Table
	hintsT *hints.Table
	clock  clock.Clock
	rng    random.Rand

	cacheT  *cache.ShardedCache     // optional; nil disables caching entirely
	limiter *engine.OutboundLimiter // optional; nil disables outbound pacing
	rec     *metrics.Recorder       // optional; nil disables instrumentation

	frames [maxFrames]frame
	sp     int

	began time.Time
}

// New builds a Resolver over shared, refcounted config/hosts/hints
// handles and a query socket the resolver owns exclusively.
func New(sock *qsock.QuerySocket, conf *resconf.ResolvConf, hostsT *hosts.Table, hintsT *hints.Table, c clock.Clock, rng random.Rand) *Resolver {
	sock.SetHardening(conf.Options.Harden0x20)
	return &Resolver{sock: sock, conf: conf, hostsT: hostsT, hintsT: hintsT, clock: c, rng: rng}
}

// SetCache attaches an answer cache. Passing nil disables caching.
func (r *Resolver) SetCache(c *cache.ShardedCache) { r.cacheT = c }

// SetLimiter attaches an outbound pacer. Passing nil disables pacing.
func (r *Resolver) SetLimiter(l *engine.OutboundLimiter) { r.limiter = l }

// SetMetrics attaches a prometheus recorder. Passing nil disables
// instrumentation.
func (r *Resolver) SetMetrics(rec *metrics.Recorder) { r.rec = rec }

// Submit arms the engine for a new query, discarding any prior
// in-flight state (spec's "reset zeroes all per-query state").
func (r *Resolver) Submit(qname string, qtype, qclass uint16) {
	for i := range r.frames {
		r.frames[i].reset()
	}
	r.sp = 0
	r.began = r.clock.Now()

	f := &r.frames[0]
	f.qname, f.qtype, f.qclass = qname, qtype, qclass
	f.rd = r.conf.Options.Recurse
	f.lookup = r.conf.LookupOrder
	f.hardenBailiwick = r.conf.Options.Harden0x20
	f.state = fInit
}

// Check drives the state machine as far as it can without blocking.
func (r *Resolver) Check() (Status, error) {
	for {
		f := &r.frames[r.sp]

		if f.state == fDone {
			if r.sp == 0 {
				if f.err != nil {
					r.recordCompletion("error", f)
					return HardError, f.err
				}
				r.recordCompletion(outcomeOf(f.answer), f)
				return Done, nil
			}
			answer, err := f.answer, f.err
			r.sp--
			parent := &r.frames[r.sp]
			parent.childDone = true
			parent.childErr = err
			parent.lastChildAnswer = answer
			continue
		}

		pending, err := r.step(f)
		if err != nil {
			f.err = err
			f.state = fDone
			continue
		}
		if pending {
			return Pending, nil
		}
	}
}

// Fetch returns the completed top-level answer. Valid only once Check
// has returned Done.
func (r *Resolver) Fetch() (*packet.Packet, error) {
	f := &r.frames[0]
	if f.state != fDone {
		return nil, packet.ErrUnknown
	}
	if f.answer == nil {
		return nil, packet.ErrUnknown
	}
	return f.answer, nil
}

func (r *Resolver) Pollin() int  { return r.sock.Pollin() }
func (r *Resolver) Pollout() int { return r.sock.Pollout() }
func (r *Resolver) Elapsed() time.Duration { return r.clock.Now().Sub(r.began) }

// Depth reports the current frame stack depth, for metrics/tests.
func (r *Resolver) Depth() int { return r.sp + 1 }

// pushChild starts a child frame resolving (qname, qtype, qclass),
// returning false if the frame stack is already at its cap (spec's
// "Depth" failure mode: the caller should treat this as a leaf with
// whatever partial answer already exists).
func (r *Resolver) pushChild(qname string, qtype, qclass uint16, rd bool) bool {
	if r.sp+1 >= maxFrames {
		return false
	}
	r.sp++
	f := &r.frames[r.sp]
	f.reset()
	f.qname, f.qtype, f.qclass = qname, qtype, qclass
	f.rd = rd
	f.lookup = r.conf.LookupOrder
	f.hardenBailiwick = r.conf.Options.Harden0x20
	f.state = fInit
	return true
}

// step advances f by exactly one state transition. It returns
// pending=true only when the caller must wait on the query socket's
// fd; all other transitions are immediate so Check's loop keeps
// driving without an extra round trip through the caller.
func (r *Resolver) step(f *frame) (pending bool, err error) {
	switch f.state {
	case fInit:
		if r.sp == 0 && r.cacheT != nil {
			if ans, ok := r.lookupCache(f.qname, f.qtype, f.qclass); ok {
				f.answer = ans
				f.state = fDone
				return false, nil
			}
		}
		f.state = fGlue

	case fGlue:
		if r.sp > 0 {
			if ans, ok := r.scanAncestorsForGlue(f.qname, f.qtype); ok {
				f.answer = ans
				f.state = fDone
				return false, nil
			}
		}
		f.state = fSwitch

	case fSwitch:
		advanced := false
		for f.lookupPos < len(f.lookup) {
			c := f.lookup[f.lookupPos]
			f.lookupPos++
			switch c {
			case 'f':
				f.state = fFile
				advanced = true
			case 'b':
				f.state = fBind
				advanced = true
			}
			if advanced {
				break
			}
		}
		if !advanced {
			if r.sp == 0 {
				f.state = fServfail
			} else {
				f.state = fDone
			}
		}

	case fFile:
		name := f.qname
		if r.sp == 0 {
			if f.search == nil {
				f.search = r.conf.NewSearchIterator(f.qname)
			}
			cand, ok := f.search.Next()
			if !ok {
				f.state = fSwitch
				return false, nil
			}
			name = cand
		}
		ans, err := packet.New(make([]byte, 512))
		if err != nil {
			return false, err
		}
		if err := r.hostsT.Query(ans, name, f.qtype, f.qclass); err != nil {
			return false, err
		}
		if ans.Count(packet.AN) > 0 {
			f.answer = ans
			f.state = fFinish
		} else if r.sp > 0 {
			f.state = fSwitch
		}
		// sp==0 miss: stay in fFile to try the next search candidate

	case fBind:
		if r.sp == 0 {
			f.state = fSearch
		} else {
			f.state = fHints
		}

	case fSearch:
		if f.search == nil {
			f.search = r.conf.NewSearchIterator(f.qname)
		}
		cand, ok := f.search.Next()
		if !ok {
			f.state = fSwitch
			return false, nil
		}
		wire := cand
		if r.conf.Options.Harden0x20 {
			wire = engine.Apply0x20Encoding(cand)
		}
		q, err := buildQuestionPacket(wire, f.qtype, f.qclass, f.rd)
		if err != nil {
			return false, err
		}
		f.query, f.queryName = q, cand
		f.state = fHints

	case fHints:
		if f.query == nil {
			wire := f.qname
			if r.conf.Options.Harden0x20 {
				wire = engine.Apply0x20Encoding(f.qname)
			}
			q, err := buildQuestionPacket(wire, f.qtype, f.qclass, f.rd)
			if err != nil {
				return false, err
			}
			f.query, f.queryName = q, f.qname
		}
		seed := random.NonZeroSeed(r.rng)
		ans, err := packet.New(make([]byte, 512))
		if err != nil {
			return false, err
		}
		qs, err := f.query.Questions()
		if err != nil || len(qs) == 0 {
			return false, packet.ErrIllegal
		}
		if err := r.hintsT.Query(ans, qs[0], seed); err != nil {
			return false, err
		}
		if zone, ok := r.hintsT.MatchZone(qs[0].Name); ok {
			f.zoneName = zone
		} else {
			f.zoneName = "."
		}
		f.hints = ans
		f.hintsSeed = seed
		f.hintsOriginalAR = ans.Count(packet.AR)
		f.nsOrder, f.nsIdx = nil, 0
		f.state = fIterate

	case fIterate:
		if f.nsOrder == nil {
			f.nsOrder = f.sortNSCandidates()
		}
		if f.nsIdx >= len(f.nsOrder) {
			if r.sp == 0 {
				f.state = fServfail
			} else {
				f.state = fDone
			}
			return false, nil
		}
		f.state = fForeachNS

	case fForeachNS:
		ns := f.nsOrder[f.nsIdx]
		host, _ := packet.NameOf(mustRData(ns))
		glue, _, ok := findGlue(f.hints, host)
		if ok && f.hardenBailiwick && f.zoneName != "" && !engine.IsInBailiwick(host, f.zoneName) {
			// out-of-bailiwick glue is untrustworthy without an
			// independent lookup; route through RESOLV0_NS instead.
			// Only enforced under hardening: ordinary iterative
			// resolution legitimately reuses sibling-zone glue (e.g.
			// a TLD's own glue records for a child zone).
			ok = false
		}
		if ok {
			f.currentGlue = glue
			f.state = fForeachA
		} else {
			f.state = fResolv0NS
		}

	case fResolv0NS:
		ns := f.nsOrder[f.nsIdx]
		host, _ := packet.NameOf(mustRData(ns))
		if !r.pushChild(host, packet.TypeA, packet.ClassIN, true) {
			f.nsIdx++
			f.state = fIterate
			return false, nil
		}
		f.state = fResolv1NS

	case fResolv1NS:
		host, _ := packet.NameOf(mustRData(f.nsOrder[f.nsIdx]))
		if f.childErr == nil && f.lastChildAnswer != nil {
			for _, rr := range mustAllRRs(f.lastChildAnswer) {
				if rr.Type != packet.TypeA {
					continue
				}
				rd, err := rr.RData()
				if err != nil {
					continue
				}
				f.hints.Push(packet.AR, rr.Name, rr.Type, rr.Class, rr.TTL, rd)
			}
		}
		f.childDone, f.childErr, f.lastChildAnswer = false, nil, nil
		if _, _, ok := findGlue(f.hints, host); ok {
			f.nsOrder, f.nsIdx = nil, 0 // rewind: newly-glued candidates get re-sorted
		} else {
			f.nsIdx++ // the child found no address for this NS; move on
		}
		f.state = fIterate

	case fForeachA:
		rd, err := f.currentGlue.RData()
		if err != nil {
			f.nsIdx++
			f.state = fIterate
			return false, nil
		}
		a, ok := rd.(packet.A)
		if !ok {
			f.nsIdx++
			f.state = fIterate
			return false, nil
		}
		remote := &net.UDPAddr{IP: net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), Port: 53}
		if r.limiter != nil && !r.limiter.Allow(r.clock.Now(), remote.IP) {
			f.nsIdx++
			f.state = fIterate
			return false, nil
		}
		if err := r.sock.Submit(f.query, remote); err != nil {
			return false, err
		}
		f.queryStart = r.clock.Now()
		f.state = fQueryA

	case fQueryA:
		status, err := r.sock.Check()
		if err != nil {
			f.nsIdx++
			f.state = fIterate
			return false, nil
		}
		if status == qsock.Pending {
			if r.clock.Now().Sub(f.queryStart) > r.conf.Options.Timeout {
				f.nsIdx++
				f.state = fIterate
				return false, nil
			}
			return true, nil
		}
		return false, r.handleQueryAAnswer(f)

	case fCname0A:
		if !r.pushChild(f.ansCname, f.qtype, f.qclass, f.rd) {
			f.state = fFinish
			return false, nil
		}
		f.state = fCname1A

	case fCname1A:
		if f.childErr == nil && f.lastChildAnswer != nil {
			merged, err := mergeAnswers(f.answer, f.lastChildAnswer)
			if err == nil {
				f.answer = merged
			}
		}
		f.childDone, f.childErr, f.lastChildAnswer = false, nil, nil
		f.state = fFinish

	case fFinish:
		if r.sp == 0 && r.conf.Options.Smart {
			if f.smartTargets == nil {
				f.smartTargets = collectSmartTargets(f.answer)
				if f.qtype == packet.TypeMX && countMX(f.answer) == 0 && !f.mxFallbackDone {
					f.mxFallbackDone = true
					if r.pushChild(f.qname, packet.TypeA, f.qclass, f.rd) {
						f.state = fSmart1A
						return false, nil
					}
				}
			}
			if f.smartIdx < len(f.smartTargets) {
				f.state = fSmart0A
				return false, nil
			}
		}
		if r.sp == 0 && r.cacheT != nil {
			r.storeCache(f.qname, f.qtype, f.qclass, f.answer)
		}
		f.state = fDone

	case fSmart0A:
		target := f.smartTargets[f.smartIdx]
		host := smartTargetHost(target)
		if host == "" || !r.pushChild(host, packet.TypeA, packet.ClassIN, f.rd) {
			f.smartIdx++
			f.state = fFinish
			return false, nil
		}
		f.state = fSmart1A

	case fSmart1A:
		if f.childErr == nil && f.lastChildAnswer != nil {
			for _, rr := range mustAllRRs(f.lastChildAnswer) {
				if rr.Type == packet.TypeA || rr.Type == packet.TypeAAAA {
					rd, err := rr.RData()
					if err == nil {
						f.answer.Push(packet.AR, rr.Name, rr.Type, rr.Class, rr.TTL, rd)
					}
				}
			}
		}
		f.childDone, f.childErr, f.lastChildAnswer = false, nil, nil
		f.smartIdx++
		f.state = fFinish

	case fServfail:
		ans, err := packet.New(make([]byte, 512))
		if err != nil {
			return false, err
		}
		if f.query != nil {
			if qs, err := f.query.Questions(); err == nil && len(qs) > 0 {
				ans.PushQuestion(qs[0])
			}
		}
		flags := ans.GetFlags()
		flags.QR, flags.Rcode = true, 2
		ans.SetFlags(flags)
		f.answer = ans
		f.state = fDone

	default:
		return false, packet.ErrUnknown
	}
	return false, nil
}

// handleQueryAAnswer implements QUERY_A's answer-classification branch
// (spec §4.6).
func (r *Resolver) handleQueryAAnswer(f *frame) error {
	buf, err := r.sock.Fetch()
	if err != nil {
		f.nsIdx++
		f.state = fIterate
		return nil
	}
	ans, err := packet.Open(append([]byte(nil), buf...), len(buf))
	if err != nil {
		f.nsIdx++
		f.state = fIterate
		return nil
	}

	if hasMatchingAN(ans, f.queryName, f.qtype) {
		f.answer = ans
		f.state = fFinish
		return nil
	}
	if cname, ok := findCNAME(ans, f.queryName); ok {
		f.ansCname = cname
		f.answer = ans
		f.state = fCname0A
		return nil
	}
	if hasDelegation(ans) {
		f.hints = ans
		f.zoneName = delegationZone(ans, f.zoneName)
		f.hintsOriginalAR = ans.Count(packet.AR)
		f.hintsSeed = random.NonZeroSeed(r.rng)
		f.nsOrder, f.nsIdx = nil, 0
		f.state = fIterate
		return nil
	}
	if ans.GetFlags().AA || !r.conf.Options.Recurse {
		f.answer = ans
		f.state = fFinish
		return nil
	}
	f.nsIdx++
	f.state = fIterate
	return nil
}
