package qsock

import (
	"errors"
	"net"
	"syscall"
	"time"
)

// ErrAgain signals a transport operation would block; the caller polls
// Fd() externally and re-invokes Check.
var ErrAgain = errors.New("qsock: would block")

// Conn is a single nonblocking connection: UDP or TCP. Every method may
// return ErrAgain; QuerySocket retries on the next Check call rather
// than looping internally. Creating the actual OS socket and driving
// its connect/send/recv syscalls is the out-of-scope "OS socket
// primitive" the spec names as an external collaborator — Conn is the
// seam between that and the state machine below.
type Conn interface {
	Connect() error
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Fd() int
	Close() error
}

// Transport dials the two connection kinds the query state machine
// drives.
type Transport interface {
	DialUDP(local net.IP, remote *net.UDPAddr) (Conn, error)
	DialTCP(local net.IP, remote *net.TCPAddr) (Conn, error)
}

// NetTransport is the default Transport, backed by the net package.
// It approximates nonblocking I/O with the "deadline in the past"
// trick (SetDeadline(time.Now())) rather than raw nonblocking sockets,
// since touching O_NONBLOCK/connect/select directly is the explicitly
// out-of-scope primitive layer; this still gives every caller a real
// pollable fd via SyscallConn.
type NetTransport struct{}

func (NetTransport) DialUDP(local net.IP, remote *net.UDPAddr) (Conn, error) {
	c, err := net.DialUDP("udp", &net.UDPAddr{IP: local}, remote)
	if err != nil {
		return nil, err
	}
	rc, err := c.SyscallConn()
	if err != nil {
		return nil, err
	}
	return &plainConn{c: c, rc: rc}, nil
}

func (NetTransport) DialTCP(local net.IP, remote *net.TCPAddr) (Conn, error) {
	var laddr *net.TCPAddr
	if local != nil {
		laddr = &net.TCPAddr{IP: local}
	}
	c, err := net.DialTCP("tcp", laddr, remote)
	if err != nil {
		return nil, err
	}
	rc, err := c.SyscallConn()
	if err != nil {
		return nil, err
	}
	return &plainConn{c: c, rc: rc}, nil
}

// plainConn adapts a stdlib net.Conn (already synchronously dialed) to
// the Conn interface using the deadline-in-the-past trick for
// nonblocking reads/writes.
type plainConn struct {
	c  net.Conn
	rc syscall.RawConn
}

func (p *plainConn) Connect() error { return nil } // dial already completed synchronously

func (p *plainConn) Write(b []byte) (int, error) {
	p.c.SetWriteDeadline(time.Now())
	n, err := p.c.Write(b)
	if isTimeout(err) {
		return n, ErrAgain
	}
	return n, err
}

func (p *plainConn) Read(b []byte) (int, error) {
	p.c.SetReadDeadline(time.Now())
	n, err := p.c.Read(b)
	if isTimeout(err) {
		return n, ErrAgain
	}
	return n, err
}

func (p *plainConn) Fd() int {
	var fd int
	p.rc.Control(func(f uintptr) { fd = int(f) })
	return fd
}

func (p *plainConn) Close() error { return p.c.Close() }

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
