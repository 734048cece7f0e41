package packet

import (
	"encoding/binary"
	"strings"
)

// DNS type/class constants the codec understands natively. Unknown
// types still round-trip via Opaque.
const (
	TypeA     = 1
	TypeNS    = 2
	TypeCNAME = 5
	TypeSOA   = 6
	TypePTR   = 12
	TypeMX    = 15
	TypeTXT   = 16
	TypeAAAA  = 28
	TypeSRV   = 33

	ClassIN = 1
)

// RData is a tagged-variant view over a record's rdata. Each concrete
// type below implements Type, push, and canonical (the comparison key
// CmpRData uses); ParseRData dispatches on the wire type to produce one.
type RData interface {
	Type() uint16
	push(p *Packet) error
	canonical() string // lexicographic comparison key
}

// A -------------------------------------------------------------------

type A struct{ Addr [4]byte }

func (A) Type() uint16 { return TypeA }
func (r A) push(p *Packet) error {
	return p.rawAppend(r.Addr[:])
}
func (r A) canonical() string { return string(r.Addr[:]) }

// AAAA ------------------------------------------------------------------

type AAAA struct{ Addr [16]byte }

func (AAAA) Type() uint16 { return TypeAAAA }
func (r AAAA) push(p *Packet) error {
	return p.rawAppend(r.Addr[:])
}
func (r AAAA) canonical() string { return string(r.Addr[:]) }

// NS / CNAME / PTR — a single compressed name -----------------------------

type nameRData struct {
	typ  uint16
	Name string
}

func (n nameRData) Type() uint16 { return n.typ }
func (n nameRData) push(p *Packet) error {
	_, err := p.EncodeName(n.Name)
	return err
}
func (n nameRData) canonical() string { return lowerASCII(Anchor(n.Name)) }

// NSData, CNAME, and PTR build the three name-valued RData variants.
// NSData (not NS) avoids colliding with the NS Section constant.
func NSData(name string) RData { return nameRData{typ: TypeNS, Name: name} }
func CNAME(name string) RData  { return nameRData{typ: TypeCNAME, Name: name} }
func PTR(name string) RData    { return nameRData{typ: TypePTR, Name: name} }

// NameOf extracts the embedded name from an NS/CNAME/PTR RData, or ""
// if r isn't one of those variants.
func NameOf(r RData) (string, bool) {
	if n, ok := r.(nameRData); ok {
		return n.Name, true
	}
	return "", false
}

// MX --------------------------------------------------------------------

type MXData struct {
	Pref uint16
	Name string
}

func (MXData) Type() uint16 { return TypeMX }
func (r MXData) push(p *Packet) error {
	if err := p.rawAppendU16(r.Pref); err != nil {
		return err
	}
	_, err := p.EncodeName(r.Name)
	return err
}
func (r MXData) canonical() string {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], r.Pref)
	return string(b[:]) + lowerASCII(Anchor(r.Name))
}

// SRV — name is pushed uncompressed, per protocol convention ------------

type SRVData struct {
	Priority, Weight, Port uint16
	Target                 string
}

func (SRVData) Type() uint16 { return TypeSRV }
func (r SRVData) push(p *Packet) error {
	for _, v := range []uint16{r.Priority, r.Weight, r.Port} {
		if err := p.rawAppendU16(v); err != nil {
			return err
		}
	}
	return p.pushUncompressedName(r.Target)
}
func (r SRVData) canonical() string {
	var b [6]byte
	binary.BigEndian.PutUint16(b[0:2], r.Priority)
	binary.BigEndian.PutUint16(b[2:4], r.Weight)
	binary.BigEndian.PutUint16(b[4:6], r.Port)
	return string(b[:]) + lowerASCII(Anchor(r.Target))
}

// SOA — both names compressed --------------------------------------------

type SOAData struct {
	MName, RName                             string
	Serial, Refresh, Retry, Expire, Minimum uint32
}

func (SOAData) Type() uint16 { return TypeSOA }
func (r SOAData) push(p *Packet) error {
	if _, err := p.EncodeName(r.MName); err != nil {
		return err
	}
	if _, err := p.EncodeName(r.RName); err != nil {
		return err
	}
	for _, v := range []uint32{r.Serial, r.Refresh, r.Retry, r.Expire, r.Minimum} {
		if err := p.rawAppendU32(v); err != nil {
			return err
		}
	}
	return nil
}
func (r SOAData) canonical() string {
	var b [20]byte
	binary.BigEndian.PutUint32(b[0:4], r.Serial)
	binary.BigEndian.PutUint32(b[4:8], r.Refresh)
	binary.BigEndian.PutUint32(b[8:12], r.Retry)
	binary.BigEndian.PutUint32(b[12:16], r.Expire)
	binary.BigEndian.PutUint32(b[16:20], r.Minimum)
	return lowerASCII(Anchor(r.MName)) + lowerASCII(Anchor(r.RName)) + string(b[:])
}

// TXT — length-prefixed character strings, concatenated -------------------
//
// dns_txt_cmp in the original always returned -1, making TXT comparison
// non-transitive; §9 flags this as a bug to fix. We compare the
// character strings lexicographically instead, joined with a NUL
// separator so string boundaries take part in the order.
type TXTData struct{ Strings []string }

func (TXTData) Type() uint16 { return TypeTXT }
func (r TXTData) push(p *Packet) error {
	for _, s := range r.Strings {
		if len(s) > 255 {
			return ErrNoBufs
		}
		if err := p.rawAppend([]byte{byte(len(s))}); err != nil {
			return err
		}
		if err := p.rawAppend([]byte(s)); err != nil {
			return err
		}
	}
	return nil
}
func (r TXTData) canonical() string { return strings.Join(r.Strings, "\x00") }

// Opaque — fallback for unknown types -------------------------------------

type Opaque struct {
	Typ   uint16
	Bytes []byte
}

func (o Opaque) Type() uint16 { return o.Typ }
func (o Opaque) push(p *Packet) error {
	return p.rawAppend(o.Bytes)
}
func (o Opaque) canonical() string { return string(o.Bytes) }

// raw helpers --------------------------------------------------------------

func (p *Packet) rawAppend(b []byte) error {
	if p.end+len(b) > cap(p.buf) {
		return ErrNoBufs
	}
	copy(p.buf[p.end:], b)
	p.end += len(b)
	return nil
}

func (p *Packet) rawAppendU16(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return p.rawAppend(b[:])
}

func (p *Packet) rawAppendU32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return p.rawAppend(b[:])
}

// pushUncompressedName writes a name as plain labels with no dictionary
// lookup and no registration, used for SRV targets (RFC 2782 §"the
// remainder of this RR is omitted" ambiguity; implementations differ
// but not compressing is always correct).
func (p *Packet) pushUncompressedName(name string) error {
	anchored := Anchor(name)
	labels := splitLabels(anchored[:len(anchored)-1])
	for _, label := range labels {
		if len(label) > maxLabelLength {
			return ErrLabelLong
		}
		if err := p.rawAppend([]byte{byte(len(label))}); err != nil {
			return err
		}
		if err := p.rawAppend([]byte(label)); err != nil {
			return err
		}
	}
	return p.rawAppend([]byte{0})
}

// ParseRData builds a typed RData view over rdata bytes [off, off+n) of
// packet p. Names embedded in rdata may still use compression pointers
// into the wider packet, hence the need for p rather than a bare slice.
func ParseRData(p *Packet, typ uint16, off, n int) (RData, error) {
	if off < 0 || off+n > p.end {
		return nil, ErrTooShort
	}
	raw := p.buf[off : off+n]
	switch typ {
	case TypeA:
		if n != 4 {
			return nil, ErrIllegal
		}
		var a A
		copy(a.Addr[:], raw)
		return a, nil
	case TypeAAAA:
		if n != 16 {
			return nil, ErrIllegal
		}
		var a AAAA
		copy(a.Addr[:], raw)
		return a, nil
	case TypeNS, TypeCNAME, TypePTR:
		name, _, err := p.DecodeName(off)
		if err != nil {
			return nil, err
		}
		return nameRData{typ: typ, Name: name}, nil
	case TypeMX:
		if n < 3 {
			return nil, ErrIllegal
		}
		pref := binary.BigEndian.Uint16(raw[0:2])
		name, _, err := p.DecodeName(off + 2)
		if err != nil {
			return nil, err
		}
		return MXData{Pref: pref, Name: name}, nil
	case TypeSRV:
		if n < 7 {
			return nil, ErrIllegal
		}
		priority := binary.BigEndian.Uint16(raw[0:2])
		weight := binary.BigEndian.Uint16(raw[2:4])
		port := binary.BigEndian.Uint16(raw[4:6])
		name, _, err := p.DecodeName(off + 6)
		if err != nil {
			return nil, err
		}
		return SRVData{Priority: priority, Weight: weight, Port: port, Target: name}, nil
	case TypeSOA:
		mname, next, err := p.DecodeName(off)
		if err != nil {
			return nil, err
		}
		rname, next2, err := p.DecodeName(next)
		if err != nil {
			return nil, err
		}
		if next2+20 > p.end {
			return nil, ErrTooShort
		}
		b := p.buf[next2 : next2+20]
		return SOAData{
			MName:   mname,
			RName:   rname,
			Serial:  binary.BigEndian.Uint32(b[0:4]),
			Refresh: binary.BigEndian.Uint32(b[4:8]),
			Retry:   binary.BigEndian.Uint32(b[8:12]),
			Expire:  binary.BigEndian.Uint32(b[12:16]),
			Minimum: binary.BigEndian.Uint32(b[16:20]),
		}, nil
	case TypeTXT:
		var strs []string
		i := 0
		for i < len(raw) {
			l := int(raw[i])
			i++
			if i+l > len(raw) {
				return nil, ErrTooShort
			}
			strs = append(strs, string(raw[i:i+l]))
			i += l
		}
		return TXTData{Strings: strs}, nil
	default:
		cp := make([]byte, n)
		copy(cp, raw)
		return Opaque{Typ: typ, Bytes: cp}, nil
	}
}

// CmpRData provides the canonical-form ordering used by RR comparison:
// types/classes are compared numerically upstream, this breaks ties
// within equal (name, type, class) by the variant's canonical bytes.
func CmpRData(a, b RData) int {
	ca, cb := a.canonical(), b.canonical()
	return strings.Compare(ca, cb)
}
