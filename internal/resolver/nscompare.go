package resolver

import (
	"sort"
	"strings"

	"github.com/dchest/siphash"

	"github.com/dnsscience/resolved/internal/engine"
	"github.com/dnsscience/resolved/internal/packet"
)

// nsCandidate pairs an NS record with what's known about its glue at
// sort time.
type nsCandidate struct {
	ns          packet.RR
	hasGlue     bool
	glueOriginal bool // glue present before this iteration's RESOLV1_NS additions
}

// findGlue scans p's ADDITIONAL section for an A record whose owner
// matches nsHost, returning its position within that section (for the
// "was it original" comparison) alongside the record itself.
func findGlue(p *packet.Packet, nsHost string) (packet.RR, int, bool) {
	arSec := packet.AR
	ars, err := p.Foreach(packet.Filter{Section: &arSec}, packet.Sort{Kind: packet.SortPacket})
	if err != nil {
		return packet.RR{}, 0, false
	}
	target := strings.ToLower(packet.Anchor(nsHost))
	for i, rr := range ars {
		if rr.Type == packet.TypeA && strings.ToLower(packet.Anchor(rr.Name)) == target {
			return rr, i, true
		}
	}
	return packet.RR{}, 0, false
}

// sortNSCandidates orders the NS authority records of f.hints per spec
// §4.6: glued NSes first, then original-glue before iteration-added
// glue, ties broken by a per-iteration shuffle.
func (f *frame) sortNSCandidates() []packet.RR {
	nsSec := packet.NS
	nsRRs, err := f.hints.Foreach(packet.Filter{Section: &nsSec, Type: packet.TypeNS}, packet.Sort{Kind: packet.SortPacket})
	if err != nil {
		return nil
	}
	if f.hardenBailiwick && f.zoneName != "" {
		nsRRs = engine.FilterInBailiwick(nsRRs, f.zoneName)
	}

	cands := make([]nsCandidate, 0, len(nsRRs))
	for _, ns := range nsRRs {
		host, _ := packet.NameOf(mustRData(ns))
		_, idx, ok := findGlue(f.hints, host)
		cands = append(cands, nsCandidate{
			ns:           ns,
			hasGlue:      ok,
			glueOriginal: ok && idx < f.hintsOriginalAR,
		})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].hasGlue != cands[j].hasGlue {
			return cands[i].hasGlue // has glue sorts first
		}
		if cands[i].glueOriginal != cands[j].glueOriginal {
			return cands[i].glueOriginal
		}
		return false // tie: left to shuffle
	})

	shuffleNSTies(cands, f.hintsSeed)

	out := make([]packet.RR, len(cands))
	for i, c := range cands {
		out[i] = c.ns
	}
	return out
}

// shuffleNSTies shuffles within each contiguous run sharing the same
// (hasGlue, glueOriginal) key, keyed by seed (never zero).
func shuffleNSTies(cands []nsCandidate, seed uint64) {
	if seed == 0 || len(cands) < 2 {
		return
	}
	k0, k1 := seed, ^seed
	start := 0
	sameKey := func(a, b nsCandidate) bool {
		return a.hasGlue == b.hasGlue && a.glueOriginal == b.glueOriginal
	}
	for start < len(cands) {
		end := start + 1
		for end < len(cands) && sameKey(cands[start], cands[end]) {
			end++
		}
		run := cands[start:end]
		for i := len(run) - 1; i > 0; i-- {
			var idxBuf [8]byte
			for n := 0; n < 8; n++ {
				idxBuf[n] = byte(uint64(i) >> (8 * n))
			}
			h := siphash.Hash(k0, k1, idxBuf[:])
			j := int(h % uint64(i+1))
			run[i], run[j] = run[j], run[i]
		}
		start = end
	}
}

// mustRData decodes rr's rdata, returning a zero-value Opaque on
// failure (callers here only inspect NS name, so a decode failure just
// means "no glue found," not a hard error).
func mustRData(rr packet.RR) packet.RData {
	rd, err := rr.RData()
	if err != nil {
		return packet.Opaque{}
	}
	return rd
}
