package tgen

import (
	"fmt"
	"net"
)

// Server listens for inbound peer connections. It hands
// each accepted connection to onAccept as a Passive Transport along with
// a Peer describing the remote address; if ended reports
// clientHasEnded, the Server closes the connection immediately instead
// of handing it to a Transfer.
type Server struct {
	ln       *net.TCPListener
	onAccept func(*Transport, *Peer)
	ended    func() bool
}

// NewServer opens a TCP listener on port. onAccept receives every
// accepted connection already wrapped as a Passive Transport, plus the
// remote Peer it was accepted from; ended reports whether the driver has
// already stopped accepting new work.
func NewServer(port uint16, onAccept func(*Transport, *Peer), ended func() bool) (*Server, error) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{Port: int(port)})
	if err != nil {
		return nil, fmt.Errorf("%w: listen :%d: %v", ErrResourceCreationFailed, port, err)
	}
	return &Server{ln: ln, onAccept: onAccept, ended: ended}, nil
}

// FD returns the raw listening socket descriptor for Multiplexer
// registration.
func (s *Server) FD() (int, error) {
	sc, err := s.ln.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	if err := sc.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return 0, err
	}
	return fd, nil
}

// Port returns the bound local port, useful when port 0 was requested.
func (s *Server) Port() uint16 {
	return uint16(s.ln.Addr().(*net.TCPAddr).Port)
}

// AcceptOnce accepts at most one pending connection and dispatches it.
// If the driver has already ended, the new connection is closed
// immediately without ever reaching a Transfer: once the client side
// has stopped initiating new outbound transfers, inbound accepts are
// treated symmetrically and refused too.
func (s *Server) AcceptOnce() error {
	conn, err := s.ln.AcceptTCP()
	if err != nil {
		return err
	}
	if s.ended != nil && s.ended() {
		_ = conn.Close()
		return nil
	}
	transport, err := NewPassive(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	s.onAccept(transport, PeerFromAddr(transport.RemoteAddr()))
	return nil
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }
