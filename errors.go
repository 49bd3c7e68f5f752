package tgen

import "errors"

// Error kinds from the driver's error model. Each is a sentinel so
// callers can use errors.Is against a wrapped cause.
var (
	// ErrRegisterFailed is returned when the I/O multiplexer refuses to
	// register a descriptor.
	ErrRegisterFailed = errors.New("tgen: register failed")
	// ErrTimerCreationFailed is returned when a kernel timer descriptor
	// cannot be created.
	ErrTimerCreationFailed = errors.New("tgen: timer creation failed")
	// ErrResourceCreationFailed is returned when a server, transport, or
	// timer cannot be constructed at driver-startup time.
	ErrResourceCreationFailed = errors.New("tgen: resource creation failed")
	// ErrTransportSetupFailed is returned when a socket or SOCKS
	// handshake fails while building a Transport.
	ErrTransportSetupFailed = errors.New("tgen: transport setup failed")
	// ErrTransferTimeout terminates a Transfer that exceeded its deadline.
	ErrTransferTimeout = errors.New("tgen: transfer timeout")
	// ErrTransferStalled terminates a Transfer that made no progress
	// within its stallout window.
	ErrTransferStalled = errors.New("tgen: transfer stalled")
	// ErrUnknownAction is returned for an action graph vertex of an
	// unrecognized kind.
	ErrUnknownAction = errors.New("tgen: unknown action")
	// ErrGraphFailure is returned when a driver is constructed from an
	// invalid or empty action graph.
	ErrGraphFailure = errors.New("tgen: graph failure")
	// ErrNoPeers is returned when a transfer action has no candidate
	// peer pool to draw from.
	ErrNoPeers = errors.New("tgen: missing peers for transfer action")
	// ErrInvalidConfig is returned when a Config fails Validate.
	ErrInvalidConfig = errors.New("tgen: invalid config")
)
