package resolver

import (
	"strconv"
	"strings"
	"time"

	"github.com/dnsscience/resolved/internal/cache"
	"github.com/dnsscience/resolved/internal/engine"
	"github.com/dnsscience/resolved/internal/packet"
)

// outcomeOf classifies a top-level answer for the resolutions_total
// metric label.
func outcomeOf(ans *packet.Packet) string {
	if ans == nil {
		return "error"
	}
	if ans.GetFlags().Rcode == 2 {
		return "servfail"
	}
	return "ok"
}

// recordCompletion observes a top-level resolution's outcome, latency,
// and final frame depth, if a recorder is attached.
func (r *Resolver) recordCompletion(outcome string, f *frame) {
	if r.rec == nil {
		return
	}
	r.rec.Resolutions.WithLabelValues(outcome).Inc()
	r.rec.ResolveLatency.WithLabelValues(qtypeName(f.qtype)).Observe(r.clock.Now().Sub(r.began).Seconds())
	r.rec.FrameDepth.Observe(float64(r.Depth()))
}

// qtypeName maps the handful of query types this resolver issues to a
// stable metric label; anything else falls back to its numeric form.
func qtypeName(qtype uint16) string {
	switch qtype {
	case packet.TypeA:
		return "A"
	case packet.TypeAAAA:
		return "AAAA"
	case packet.TypeNS:
		return "NS"
	case packet.TypeCNAME:
		return "CNAME"
	case packet.TypeMX:
		return "MX"
	case packet.TypeSRV:
		return "SRV"
	case packet.TypePTR:
		return "PTR"
	default:
		return strconv.Itoa(int(qtype))
	}
}

// buildQuestionPacket allocates a fresh outgoing query packet for name,
// setting RD per rd.
func buildQuestionPacket(name string, qtype, qclass uint16, rd bool) (*packet.Packet, error) {
	p, err := packet.New(make([]byte, 512))
	if err != nil {
		return nil, err
	}
	if err := p.PushQuestion(packet.Question{Name: name, Type: qtype, Class: qclass}); err != nil {
		return nil, err
	}
	flags := p.GetFlags()
	flags.RD = rd
	p.SetFlags(flags)
	return p, nil
}

func hasMatchingAN(ans *packet.Packet, qname string, qtype uint16) bool {
	sec := packet.AN
	rrs, err := ans.Foreach(packet.Filter{Section: &sec, Type: qtype, Name: qname}, packet.Sort{Kind: packet.SortPacket})
	return err == nil && len(rrs) > 0
}

func findCNAME(ans *packet.Packet, qname string) (string, bool) {
	sec := packet.AN
	rrs, err := ans.Foreach(packet.Filter{Section: &sec, Type: packet.TypeCNAME, Name: qname}, packet.Sort{Kind: packet.SortPacket})
	if err != nil || len(rrs) == 0 {
		return "", false
	}
	rd, err := rrs[0].RData()
	if err != nil {
		return "", false
	}
	return packet.NameOf(rd)
}

// hasDelegation reports a pure referral: no direct answer, but an NS
// authority set to chase.
func hasDelegation(ans *packet.Packet) bool {
	return ans.Count(packet.AN) == 0 && ans.Count(packet.NS) > 0
}

// delegationZone returns the zone a referral claims authority for,
// taken from its NS section's owner name, falling back to fallback
// (the previous delegation's zone) if the section can't be read.
func delegationZone(ans *packet.Packet, fallback string) string {
	sec := packet.NS
	rrs, err := ans.Foreach(packet.Filter{Section: &sec, Type: packet.TypeNS}, packet.Sort{Kind: packet.SortPacket})
	if err != nil || len(rrs) == 0 {
		return fallback
	}
	return rrs[0].Name
}

// mergeAnswers folds child's RRs into parent, deduping by RR identity
// and growing parent's buffer up to 64KiB on NOBUFS (spec §4.6/§7).
func mergeAnswers(parent, child *packet.Packet) (*packet.Packet, error) {
	childRRs, err := child.AllRRs()
	if err != nil {
		return parent, err
	}
	existing, err := parent.AllRRs()
	if err != nil {
		return parent, err
	}
	for _, crr := range childRRs {
		dup := false
		for _, prr := range existing {
			if packet.Equal(prr, crr) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		rd, err := crr.RData()
		if err != nil {
			continue
		}
		if err := parent.Push(crr.Section, crr.Name, crr.Type, crr.Class, crr.TTL, rd); err != nil {
			if err != packet.ErrNoBufs || parent.Cap() >= 65536 {
				return parent, err
			}
			newCap := parent.Cap() * 2
			if newCap > 65536 {
				newCap = 65536
			}
			if err2 := parent.Grow(newCap); err2 != nil {
				return parent, err2
			}
			if err3 := parent.Push(crr.Section, crr.Name, crr.Type, crr.Class, crr.TTL, rd); err3 != nil {
				return parent, err3
			}
		}
	}
	return parent, nil
}

// collectSmartTargets returns the AN NS/MX/SRV records whose embedded
// host has no A/AAAA record already present in ans (spec §4.6 "smart
// mode").
func collectSmartTargets(ans *packet.Packet) []packet.RR {
	sec := packet.AN
	rrs, err := ans.Foreach(packet.Filter{Section: &sec}, packet.Sort{Kind: packet.SortPacket})
	if err != nil {
		return nil
	}
	var targets []packet.RR
	for _, rr := range rrs {
		host := smartTargetHost(rr)
		if host == "" || hasAnyAddress(ans, host) {
			continue
		}
		targets = append(targets, rr)
	}
	return targets
}

func smartTargetHost(rr packet.RR) string {
	rd, err := rr.RData()
	if err != nil {
		return ""
	}
	switch rr.Type {
	case packet.TypeNS:
		name, _ := packet.NameOf(rd)
		return name
	case packet.TypeMX:
		if mx, ok := rd.(packet.MXData); ok {
			return mx.Name
		}
	case packet.TypeSRV:
		if srv, ok := rd.(packet.SRVData); ok {
			return srv.Target
		}
	}
	return ""
}

func hasAnyAddress(p *packet.Packet, host string) bool {
	all, err := p.AllRRs()
	if err != nil {
		return false
	}
	lname := strings.ToLower(packet.Anchor(host))
	for _, rr := range all {
		if (rr.Type == packet.TypeA || rr.Type == packet.TypeAAAA) && strings.ToLower(packet.Anchor(rr.Name)) == lname {
			return true
		}
	}
	return false
}

func countMX(ans *packet.Packet) int {
	sec := packet.AN
	rrs, err := ans.Foreach(packet.Filter{Section: &sec, Type: packet.TypeMX}, packet.Sort{Kind: packet.SortPacket})
	if err != nil {
		return 0
	}
	return len(rrs)
}

func mustAllRRs(p *packet.Packet) []packet.RR {
	if p == nil {
		return nil
	}
	rrs, err := p.AllRRs()
	if err != nil {
		return nil
	}
	return rrs
}

// lookupCache consults the resolver's answer cache for (qname, qtype,
// qclass), returning a fresh packet built from the cached wire bytes.
func (r *Resolver) lookupCache(qname string, qtype, qclass uint16) (*packet.Packet, bool) {
	hash := packet.HashQuery(qname, qtype, qclass)
	entry, ok := r.cacheT.Get(r.clock.Now(), hash)
	if !ok {
		return nil, false
	}
	buf := append([]byte(nil), entry.Data...)
	ans, err := packet.Open(buf, len(buf))
	if err != nil {
		return nil, false
	}
	return ans, true
}

// storeCache saves ans under (qname, qtype, qclass), expiring at the
// minimum TTL among its answer records (floored at minCacheTTL). A nil
// or answerless packet is not cached.
func (r *Resolver) storeCache(qname string, qtype, qclass uint16, ans *packet.Packet) {
	if ans == nil || ans.Count(packet.AN) == 0 {
		return
	}
	ttl := minAnswerTTL(ans)
	if ttl < minCacheTTL {
		ttl = minCacheTTL
	}
	hash := packet.HashQuery(qname, qtype, qclass)
	r.cacheT.Set(hash, &cache.Entry{
		Data:      append([]byte(nil), ans.Bytes()...),
		ExpiresAt: r.clock.Now().Add(ttl),
		QName:     qname,
		QType:     qtype,
		QClass:    qclass,
	})
}

// minAnswerTTL returns the smallest TTL among ans's ANSWER records.
func minAnswerTTL(ans *packet.Packet) time.Duration {
	sec := packet.AN
	rrs, err := ans.Foreach(packet.Filter{Section: &sec}, packet.Sort{Kind: packet.SortPacket})
	if err != nil || len(rrs) == 0 {
		return minCacheTTL
	}
	min := rrs[0].TTL
	for _, rr := range rrs[1:] {
		if rr.TTL < min {
			min = rr.TTL
		}
	}
	return time.Duration(min) * time.Second
}

// scanAncestorsForGlue implements the GLUE state for child frames
// (sp>0): look for a matching record already sitting in an ancestor
// frame's answer or hints packet, avoiding a redundant network round
// trip.
func (r *Resolver) scanAncestorsForGlue(qname string, qtype uint16) (*packet.Packet, bool) {
	lname := strings.ToLower(packet.Anchor(qname))
	for i := r.sp - 1; i >= 0; i-- {
		anc := &r.frames[i]
		for _, src := range []*packet.Packet{anc.answer, anc.hints} {
			if src == nil {
				continue
			}
			all, err := src.AllRRs()
			if err != nil {
				continue
			}
			for _, rr := range all {
				if rr.Type != qtype || strings.ToLower(packet.Anchor(rr.Name)) != lname {
					continue
				}
				rd, err := rr.RData()
				if err != nil {
					continue
				}
				ans, err := packet.New(make([]byte, 512))
				if err != nil {
					return nil, false
				}
				if err := ans.PushQuestion(packet.Question{Name: qname, Type: qtype, Class: rr.Class}); err != nil {
					continue
				}
				if err := ans.Push(packet.AN, rr.Name, rr.Type, rr.Class, rr.TTL, rd); err != nil {
					continue
				}
				return ans, true
			}
		}
	}
	return nil, false
}
