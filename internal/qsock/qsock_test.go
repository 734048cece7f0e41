package qsock

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/dnsscience/resolved/internal/clock"
	"github.com/dnsscience/resolved/internal/packet"
	"github.com/dnsscience/resolved/internal/random"
)

// fakeConn is an in-memory Conn: writes are discarded, reads are
// served from a preloaded queue of byte slices (one per Read call,
// ErrAgain when the queue is empty).
type fakeConn struct {
	reads  [][]byte
	closed bool
}

func (f *fakeConn) Connect() error { return nil }
func (f *fakeConn) Write(b []byte) (int, error) { return len(b), nil }
func (f *fakeConn) Read(b []byte) (int, error) {
	if len(f.reads) == 0 {
		return 0, ErrAgain
	}
	chunk := f.reads[0]
	f.reads = f.reads[1:]
	n := copy(b, chunk)
	return n, nil
}
func (f *fakeConn) Fd() int    { return 42 }
func (f *fakeConn) Close() error { f.closed = true; return nil }

type fakeTransport struct {
	udp *fakeConn
	tcp *fakeConn
}

func (ft *fakeTransport) DialUDP(local net.IP, remote *net.UDPAddr) (Conn, error) { return ft.udp, nil }
func (ft *fakeTransport) DialTCP(local net.IP, remote *net.TCPAddr) (Conn, error) { return ft.tcp, nil }

func buildQuery(t *testing.T, id uint16) *packet.Packet {
	t.Helper()
	p, err := packet.New(make([]byte, 512))
	if err != nil {
		t.Fatal(err)
	}
	p.SetID(id)
	if err := p.PushQuestion(packet.Question{Name: "example.com.", Type: packet.TypeA, Class: packet.ClassIN}); err != nil {
		t.Fatal(err)
	}
	return p
}

func buildReply(t *testing.T, id uint16, tc bool) []byte {
	t.Helper()
	p, err := packet.New(make([]byte, 512))
	if err != nil {
		t.Fatal(err)
	}
	p.SetID(id)
	flags := p.GetFlags()
	flags.QR = true
	flags.TC = tc
	p.SetFlags(flags)
	if err := p.PushQuestion(packet.Question{Name: "example.com.", Type: packet.TypeA, Class: packet.ClassIN}); err != nil {
		t.Fatal(err)
	}
	if !tc {
		if err := p.Push(packet.AN, "example.com.", packet.TypeA, packet.ClassIN, 60, packet.A{Addr: [4]byte{1, 2, 3, 4}}); err != nil {
			t.Fatal(err)
		}
	}
	return append([]byte(nil), p.Bytes()...)
}

func TestSubmitAndCheckUDPHappyPath(t *testing.T) {
	query := buildQuery(t, 1234)
	reply := buildReply(t, 1234, false)
	ft := &fakeTransport{udp: &fakeConn{reads: [][]byte{reply}}}
	qs := New(ft, clock.System{}, random.CryptoRand{}, nil)

	if err := qs.Submit(query, &net.UDPAddr{IP: net.IPv4(8, 8, 8, 8), Port: 53}); err != nil {
		t.Fatal(err)
	}
	status, err := qs.Check()
	if err != nil {
		t.Fatal(err)
	}
	if status != Ready {
		t.Fatalf("status = %v, want Ready", status)
	}
	ans, err := qs.Fetch()
	if err != nil {
		t.Fatal(err)
	}
	if len(ans) == 0 {
		t.Fatal("empty answer")
	}
}

func TestBadReplyIsDiscardedThenGoodOneAccepted(t *testing.T) {
	query := buildQuery(t, 1234)
	badReply := buildReply(t, 9999, false) // wrong id
	goodReply := buildReply(t, 1234, false)
	ft := &fakeTransport{udp: &fakeConn{reads: [][]byte{badReply, goodReply}}}
	qs := New(ft, clock.System{}, random.CryptoRand{}, nil)

	if err := qs.Submit(query, &net.UDPAddr{IP: net.IPv4(8, 8, 8, 8), Port: 53}); err != nil {
		t.Fatal(err)
	}
	status, err := qs.Check()
	if err != nil {
		t.Fatal(err)
	}
	if status != Ready {
		t.Fatalf("status = %v, want Ready", status)
	}
}

func TestTruncatedUDPUpgradesToTCP(t *testing.T) {
	query := buildQuery(t, 1234)
	tcReply := buildReply(t, 1234, true)
	tcpReply := buildReply(t, 1234, false)

	framed := make([]byte, 2+len(tcpReply))
	binary.BigEndian.PutUint16(framed[0:2], uint16(len(tcpReply)))
	copy(framed[2:], tcpReply)

	ft := &fakeTransport{
		udp: &fakeConn{reads: [][]byte{tcReply}},
		tcp: &fakeConn{reads: [][]byte{framed[:2], framed[2:]}},
	}
	qs := New(ft, clock.System{}, random.CryptoRand{}, nil)

	if err := qs.Submit(query, &net.UDPAddr{IP: net.IPv4(8, 8, 8, 8), Port: 53}); err != nil {
		t.Fatal(err)
	}
	status, err := qs.Check()
	if err != nil {
		t.Fatal(err)
	}
	if status != Ready {
		t.Fatalf("status = %v, want Ready", status)
	}
	if qs.state != TCPDone {
		t.Fatalf("state = %v, want TCPDone", qs.state)
	}
}

func TestElapsedAdvancesWithClock(t *testing.T) {
	query := buildQuery(t, 1234)
	ft := &fakeTransport{udp: &fakeConn{}}
	fc := clock.NewFake(time.Unix(0, 0))
	qs := New(ft, fc, random.CryptoRand{}, nil)
	if err := qs.Submit(query, &net.UDPAddr{IP: net.IPv4(8, 8, 8, 8), Port: 53}); err != nil {
		t.Fatal(err)
	}
	fc.Advance(3 * time.Second)
	if qs.Elapsed() != 3*time.Second {
		t.Fatalf("elapsed = %v, want 3s", qs.Elapsed())
	}
}
