package packet

import (
	"encoding/binary"
	"strings"
)

// Question mirrors a QD-section entry.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// RR is a parsed resource record: a zero-copy view referencing the
// owning packet's rdata bytes plus its decoded owner name.
type RR struct {
	Name    string
	Type    uint16
	Class   uint16
	TTL     uint32
	Section Section
	rdOff   int
	rdLen   int
	pkt     *Packet
}

// RData decodes this RR's rdata on demand (kept lazy so Foreach filters
// that only inspect name/type/class never pay the decode cost).
func (r RR) RData() (RData, error) {
	return ParseRData(r.pkt, r.Type, r.rdOff, r.rdLen)
}

// RawRData returns the undecoded rdata bytes (a view, not a copy).
func (r RR) RawRData() []byte {
	return r.pkt.buf[r.rdOff : r.rdOff+r.rdLen]
}

// PushQuestion appends a QD-section entry and bumps QDCOUNT.
func (p *Packet) PushQuestion(q Question) error {
	mark := p.end
	if _, err := p.EncodeName(q.Name); err != nil {
		p.end = mark
		return err
	}
	if err := p.rawAppendU16(q.Type); err != nil {
		p.end = mark
		return err
	}
	if err := p.rawAppendU16(q.Class); err != nil {
		p.end = mark
		return err
	}
	p.incCount(QD)
	return nil
}

// Push appends a non-QD resource record: owner name (compressed),
// type, class, ttl (top bit forced to 0), rdlen, and rdata. On any
// failure the packet is rolled back to its pre-push state.
func (p *Packet) Push(section Section, name string, typ, class uint16, ttl uint32, rdata RData) error {
	if section == QD {
		return p.PushQuestion(Question{Name: name, Type: typ, Class: class})
	}
	mark := p.end
	if _, err := p.EncodeName(name); err != nil {
		p.end = mark
		return err
	}
	if err := p.rawAppendU16(typ); err != nil {
		p.end = mark
		return err
	}
	if err := p.rawAppendU16(class); err != nil {
		p.end = mark
		return err
	}
	if err := p.rawAppendU32(ttl & 0x7FFFFFFF); err != nil {
		p.end = mark
		return err
	}
	lenOff := p.end
	if err := p.rawAppendU16(0); err != nil {
		p.end = mark
		return err
	}
	rdStart := p.end
	if err := rdata.push(p); err != nil {
		p.end = mark
		return err
	}
	rdLen := p.end - rdStart
	if rdLen > 0xFFFF {
		p.end = mark
		return ErrNoBufs
	}
	binary.BigEndian.PutUint16(p.buf[lenOff:lenOff+2], uint16(rdLen))
	p.incCount(section)
	return nil
}

// sectionCounts returns the header's record counts for the QD, AN, NS
// and AR sections, indexed by Section.
func (p *Packet) sectionCounts() [4]int {
	return [4]int{p.Count(QD), p.Count(AN), p.Count(NS), p.Count(AR)}
}

// parseQuestions decodes the QD section and returns the offset just
// past it.
func (p *Packet) parseQuestions() ([]Question, int, error) {
	n := p.Count(QD)
	qs := make([]Question, 0, n)
	cur := headerSize
	for i := 0; i < n; i++ {
		name, next, err := p.DecodeName(cur)
		if err != nil {
			return nil, 0, err
		}
		if next+4 > p.end {
			return nil, 0, ErrTooShort
		}
		q := Question{
			Name:  name,
			Type:  binary.BigEndian.Uint16(p.buf[next : next+2]),
			Class: binary.BigEndian.Uint16(p.buf[next+2 : next+4]),
		}
		qs = append(qs, q)
		cur = next + 4
	}
	return qs, cur, nil
}

// parseRRAt parses a single non-QD RR starting at cur, returning it and
// the offset just past it.
func (p *Packet) parseRRAt(cur int, section Section) (RR, int, error) {
	name, next, err := p.DecodeName(cur)
	if err != nil {
		return RR{}, 0, err
	}
	if next+10 > p.end {
		return RR{}, 0, ErrTooShort
	}
	typ := binary.BigEndian.Uint16(p.buf[next : next+2])
	class := binary.BigEndian.Uint16(p.buf[next+2 : next+4])
	ttl := binary.BigEndian.Uint32(p.buf[next+4 : next+8])
	rdlen := int(binary.BigEndian.Uint16(p.buf[next+8 : next+10]))
	rdOff := next + 10
	if rdOff+rdlen > p.end {
		return RR{}, 0, ErrTooShort
	}
	rr := RR{
		Name:    name,
		Type:    typ,
		Class:   class,
		TTL:     ttl,
		Section: section,
		rdOff:   rdOff,
		rdLen:   rdlen,
		pkt:     p,
	}
	return rr, rdOff + rdlen, nil
}

// Questions decodes and returns the QD section.
func (p *Packet) Questions() ([]Question, error) {
	qs, _, err := p.parseQuestions()
	return qs, err
}

// AllRRs walks every non-QD RR from offset 12, classifying each one's
// section by comparing its index against the header's counts — this is
// the "cursor-vs-count calculation" the spec names in §4.1.
func (p *Packet) AllRRs() ([]RR, error) {
	counts := p.sectionCounts()
	_, cur, err := p.parseQuestions()
	if err != nil {
		return nil, err
	}
	var rrs []RR
	for sec := AN; sec <= AR; sec++ {
		n := counts[sec]
		if n > maxRRsPerSection {
			return nil, ErrIllegal
		}
		for i := 0; i < n; i++ {
			rr, next, err := p.parseRRAt(cur, sec)
			if err != nil {
				return nil, err
			}
			rrs = append(rrs, rr)
			cur = next
		}
	}
	return rrs, nil
}

// Compare implements the total order on (type, class, case-insensitive
// name, rdata canonical form) the spec names for canonical RR sorting.
func Compare(a, b RR) int {
	if a.Type != b.Type {
		if a.Type < b.Type {
			return -1
		}
		return 1
	}
	if a.Class != b.Class {
		if a.Class < b.Class {
			return -1
		}
		return 1
	}
	an, bn := lowerASCII(Anchor(a.Name)), lowerASCII(Anchor(b.Name))
	if c := strings.Compare(an, bn); c != 0 {
		return c
	}
	ad, aerr := a.RData()
	bd, berr := b.RData()
	if aerr != nil || berr != nil {
		return strings.Compare(string(a.RawRData()), string(b.RawRData()))
	}
	return CmpRData(ad, bd)
}

// Equal reports whether two RRs are identical for merge/dedup purposes:
// same section-independent identity (name, type, class, rdata). TTL is
// deliberately excluded since CNAME-chain merges commonly see the same
// RR re-offered with a refreshed TTL.
func Equal(a, b RR) bool {
	if a.Type != b.Type || a.Class != b.Class {
		return false
	}
	if lowerASCII(Anchor(a.Name)) != lowerASCII(Anchor(b.Name)) {
		return false
	}
	return string(a.RawRData()) == string(b.RawRData())
}
