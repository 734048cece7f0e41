// Package qsock drives a single DNS query across a transport: UDP
// first, upgrading to TCP on truncation, verifying every candidate
// reply against the question that was actually sent (spec §4.3). It
// never blocks — when a Conn reports ErrAgain, Check returns Pending,
// so a caller embeds it in an external poll loop by asking
// Pollin/Pollout for the fd that matters right now.
package qsock

import (
	"encoding/binary"
	"net"
	"strings"
	"time"

	"github.com/dnsscience/resolved/internal/clock"
	"github.com/dnsscience/resolved/internal/engine"
	"github.com/dnsscience/resolved/internal/packet"
	"github.com/dnsscience/resolved/internal/permutor"
	"github.com/dnsscience/resolved/internal/random"
)

// State is a step in the UDP→TCP upgrade state machine.
type State int

const (
	Idle State = iota
	UDPInit
	UDPConn
	UDPSend
	UDPRecv
	UDPDone
	TCPInit
	TCPConn
	TCPSend
	TCPRecv
	TCPDone
)

// Status is Check's result.
type Status int

const (
	Pending Status = iota
	Ready
	Failed
)

const maxMessageSize = 65535

// QuerySocket drives one outstanding question at a time; Reset (or a
// new Submit) abandons whatever was in flight.
type QuerySocket struct {
	transport Transport
	clock     clock.Clock
	rng       random.Rand
	permutor  *permutor.Permutor

	localAddr  net.IP
	remote     *net.UDPAddr
	harden0x20 bool // require exact-case qname match (0x20 encoding, spec §7)

	udpConn Conn
	tcpConn Conn
	state   State
	err     error

	qid           uint16
	qname         string
	qtype, qclass uint16

	query     []byte // outgoing wire bytes, rebuilt with a 2-byte prefix for TCP
	outCursor int

	answer     []byte
	inCursor   int
	answerLen  int
	tcpLenBuf  [2]byte // accumulates a partially-read TCP length prefix across Check calls
	tcpWantLen int     // 0 until the 2-byte TCP length prefix has been read

	start time.Time
}

// New builds a QuerySocket bound to localAddr, drawing query ids from
// a fresh permutor over [1,65535] seeded by rng.
func New(transport Transport, c clock.Clock, rng random.Rand, localAddr net.IP) *QuerySocket {
	return &QuerySocket{
		transport: transport,
		clock:     c,
		rng:       rng,
		permutor:  permutor.New(1, 65535, rng),
		localAddr: localAddr,
		answer:    make([]byte, maxMessageSize),
	}
}

// SetHardening toggles 0x20 exact-case qname verification. When
// enabled, a reply whose question name doesn't preserve the exact
// letter-case the query was sent with is rejected as likely spoofed.
func (q *QuerySocket) SetHardening(enabled bool) {
	q.harden0x20 = enabled
}

// Reset abandons any in-flight query, closing sockets and freeing the
// answer buffer's logical contents (the backing array is kept).
func (q *QuerySocket) Reset() {
	if q.udpConn != nil {
		q.udpConn.Close()
		q.udpConn = nil
	}
	if q.tcpConn != nil {
		q.tcpConn.Close()
		q.tcpConn = nil
	}
	q.state = Idle
	q.err = nil
	q.outCursor = 0
	q.inCursor = 0
	q.answerLen = 0
	q.tcpWantLen = 0
}

// Submit arms the socket with a freshly-built query packet. If the
// packet's id is zero, a fresh permutor draw stamps it (spec §4.3).
func (q *QuerySocket) Submit(query *packet.Packet, remote *net.UDPAddr) error {
	q.Reset()

	qs, err := query.Questions()
	if err != nil {
		return err
	}
	if len(qs) == 0 {
		return packet.ErrIllegal
	}
	q.qname, q.qtype, q.qclass = qs[0].Name, qs[0].Type, qs[0].Class

	if query.ID() == 0 {
		query.SetID(uint16(q.permutor.Step()))
	}
	q.qid = query.ID()

	q.query = append(q.query[:0], query.Bytes()...)
	q.remote = remote
	q.start = q.clock.Now()
	q.state = UDPInit
	return nil
}

// Elapsed returns monotonic time since Submit.
func (q *QuerySocket) Elapsed() time.Duration {
	return q.clock.Now().Sub(q.start)
}

// Pollin returns the fd the caller should watch for readability, or -1.
func (q *QuerySocket) Pollin() int {
	switch q.state {
	case UDPRecv:
		return q.udpConn.Fd()
	case TCPRecv:
		return q.tcpConn.Fd()
	default:
		return -1
	}
}

// Pollout returns the fd the caller should watch for writability, or -1.
func (q *QuerySocket) Pollout() int {
	switch q.state {
	case UDPConn, UDPSend:
		return q.udpConn.Fd()
	case TCPConn, TCPSend:
		return q.tcpConn.Fd()
	default:
		return -1
	}
}

// Check advances the state machine as far as it can without blocking.
func (q *QuerySocket) Check() (Status, error) {
	for {
		switch q.state {
		case Idle:
			return Failed, packet.ErrUnknown

		case UDPInit:
			conn, err := q.transport.DialUDP(q.localAddr, q.remote)
			if err != nil {
				return q.fail(err)
			}
			q.udpConn = conn
			q.state = UDPConn

		case UDPConn:
			if err := q.udpConn.Connect(); err != nil {
				if err == ErrAgain {
					return Pending, nil
				}
				return q.fail(err)
			}
			q.state = UDPSend

		case UDPSend:
			n, err := q.udpConn.Write(q.query[q.outCursor:])
			if err != nil {
				if err == ErrAgain {
					return Pending, nil
				}
				return q.fail(err)
			}
			q.outCursor += n
			if q.outCursor >= len(q.query) {
				q.state = UDPRecv
			}

		case UDPRecv:
			n, err := q.udpConn.Read(q.answer)
			if err != nil {
				if err == ErrAgain {
					return Pending, nil
				}
				return q.fail(err)
			}
			if !q.verify(q.answer[:n]) {
				// Bad candidate reply: discard and keep listening (spec §7).
				continue
			}
			q.answerLen = n
			flags, ok := q.truncated(q.answer[:n])
			if ok && flags {
				q.state = TCPInit
			} else {
				q.state = UDPDone
			}

		case UDPDone, TCPDone:
			return Ready, nil

		case TCPInit:
			if q.tcpConn != nil {
				q.tcpConn.Close()
				q.tcpConn = nil
			}
			conn, err := q.transport.DialTCP(q.localAddr, &net.TCPAddr{IP: q.remote.IP, Port: q.remote.Port})
			if err != nil {
				return q.fail(err)
			}
			q.tcpConn = conn
			q.outCursor = 0
			q.inCursor = 0
			q.tcpWantLen = 0
			q.state = TCPConn

		case TCPConn:
			if err := q.tcpConn.Connect(); err != nil {
				if err == ErrAgain {
					return Pending, nil
				}
				return q.fail(err)
			}
			q.state = TCPSend

		case TCPSend:
			framed := q.framedQuery()
			n, err := q.tcpConn.Write(framed[q.outCursor:])
			if err != nil {
				if err == ErrAgain {
					return Pending, nil
				}
				return q.fail(err)
			}
			q.outCursor += n
			if q.outCursor >= len(framed) {
				q.state = TCPRecv
			}

		case TCPRecv:
			done, err := q.tcpRecvStep()
			if err != nil {
				if err == ErrAgain {
					return Pending, nil
				}
				return q.fail(err)
			}
			if !done {
				continue
			}
			if !q.verify(q.answer[:q.answerLen]) {
				// TCP verification failures are a hard error, not a
				// silent retry (spec §7: UDP loops back, TCP surfaces).
				return q.fail(packet.ErrUnknown)
			}
			q.state = TCPDone

		default:
			return q.fail(packet.ErrUnknown)
		}
	}
}

func (q *QuerySocket) fail(err error) (Status, error) {
	q.err = err
	return Failed, err
}

// Fetch returns the verified answer bytes once Check reports Ready.
func (q *QuerySocket) Fetch() ([]byte, error) {
	if q.state != UDPDone && q.state != TCPDone {
		return nil, packet.ErrUnknown
	}
	return q.answer[:q.answerLen], nil
}

// framedQuery lazily builds the 2-byte-length-prefixed TCP form of the
// outgoing query.
func (q *QuerySocket) framedQuery() []byte {
	framed := make([]byte, 2+len(q.query))
	binary.BigEndian.PutUint16(framed[0:2], uint16(len(q.query)))
	copy(framed[2:], q.query)
	return framed
}

// tcpRecvStep reads the 2-byte length prefix (if not read yet) then
// that many bytes of payload, returning true once a full message has
// been buffered into q.answer[:q.answerLen].
func (q *QuerySocket) tcpRecvStep() (bool, error) {
	if q.tcpWantLen == 0 {
		n, err := q.tcpConn.Read(q.tcpLenBuf[q.inCursor:2])
		if err != nil {
			return false, err
		}
		q.inCursor += n
		if q.inCursor < 2 {
			return false, nil
		}
		q.tcpWantLen = int(binary.BigEndian.Uint16(q.tcpLenBuf[:]))
		q.inCursor = 0
		if q.tcpWantLen > len(q.answer) {
			return false, packet.ErrNoBufs
		}
	}
	n, err := q.tcpConn.Read(q.answer[q.inCursor:q.tcpWantLen])
	if err != nil {
		return false, err
	}
	q.inCursor += n
	if q.inCursor < q.tcpWantLen {
		return false, nil
	}
	q.answerLen = q.tcpWantLen
	return true, nil
}

// truncated reports the TC bit of a candidate reply, treating any
// parse failure as "not truncated" (verify already screened garbage).
func (q *QuerySocket) truncated(buf []byte) (bool, bool) {
	p, err := packet.Open(buf, len(buf))
	if err != nil {
		return false, false
	}
	return p.GetFlags().TC, true
}

// verify implements the spec's exact acceptance test (§4.3): length,
// id, QD count, first QD parses, (type,class) matches, and qname
// matches case-insensitively (exactly, when 0x20 hardening is on).
func (q *QuerySocket) verify(buf []byte) bool {
	if len(buf) < 12 {
		return false
	}
	p, err := packet.Open(buf, len(buf))
	if err != nil {
		return false
	}
	if p.ID() != q.qid {
		return false
	}
	if p.Count(packet.QD) < 1 {
		return false
	}
	qs, err := p.Questions()
	if err != nil || len(qs) == 0 {
		return false
	}
	first := qs[0]
	if first.Type != q.qtype || first.Class != q.qclass {
		return false
	}
	if q.harden0x20 {
		return engine.Validate0x20Response(packet.Anchor(first.Name), packet.Anchor(q.qname))
	}
	return strings.EqualFold(packet.Anchor(first.Name), packet.Anchor(q.qname))
}
