package tgen

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransferState is a Transfer's lifecycle stage.
type TransferState int

const (
	TransferStateNew TransferState = iota
	TransferStateHandshake
	TransferStateActive
	TransferStateSuccess
	TransferStateError
	TransferStateTimeout
	TransferStateStalled
)

func (s TransferState) String() string {
	switch s {
	case TransferStateNew:
		return "new"
	case TransferStateHandshake:
		return "handshake"
	case TransferStateActive:
		return "active"
	case TransferStateSuccess:
		return "success"
	case TransferStateError:
		return "error"
	case TransferStateTimeout:
		return "timeout"
	case TransferStateStalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// CompleteFunc is invoked exactly once when a Transfer reaches a
// terminal state (from any earlier state), reporting whether it
// succeeded.
type CompleteFunc func(t *Transfer, success bool)

// tokenBucket is a minimal byte-rate limiter: it accrues tokens at rate
// bytes/sec and allowance never reports more tokens available than the
// bucket currently holds.
type tokenBucket struct {
	ratePerSec int64
	tokens     float64
	last       time.Time
}

func newTokenBucket(ratePerSec int64, now time.Time) *tokenBucket {
	return &tokenBucket{ratePerSec: ratePerSec, last: now}
}

// allowance returns how many bytes may be sent right now, refilling
// based on elapsed wall-clock time since the last call.
func (b *tokenBucket) allowance(now time.Time) int {
	if b.ratePerSec <= 0 {
		return 1 << 30
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens += elapsed * float64(b.ratePerSec)
	if b.tokens > float64(b.ratePerSec) {
		b.tokens = float64(b.ratePerSec)
	}
	b.last = now
	return int(b.tokens)
}

func (b *tokenBucket) consume(n int) {
	b.tokens -= float64(n)
	if b.tokens < 0 {
		b.tokens = 0
	}
}

// Transfer drives one GET/PUT/FORWARD* byte exchange end to end over a
// Transport. It owns no goroutine: progress happens only
// when the Multiplexer reports the underlying fd readable/writable and
// calls OnReadable/OnWritable, or when CheckTimeout fires from a timer.
type Transfer struct {
	id uuid.UUID

	IDStr    string
	Type     TransferType
	Role     TransferType
	Size     uint64
	Timeout  time.Duration
	Stallout time.Duration

	transport *Transport
	bucket    *tokenBucket

	state TransferState

	bytesRead    uint64
	bytesWritten uint64

	startTime     time.Time
	lastProgress  time.Time
	deadline      time.Time
	stallDeadline time.Time

	label            string
	onForwardIngress func(peerLabel string, arrival time.Time)

	notify    CompleteFunc
	completed bool
}

// NewTransfer builds a Transfer bound to transport, ready to drive the
// given action's semantics.
func NewTransfer(idStr string, p TransferParams, transport *Transport, notify CompleteFunc) *Transfer {
	now := time.Now()
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTransferTimeout
	}
	stallout := p.Stallout
	if stallout <= 0 {
		stallout = DefaultStallout
	}
	return &Transfer{
		id:               uuid.New(),
		IDStr:            idStr,
		Type:             p.Type,
		Role:             p.Role,
		Size:             p.Size,
		Timeout:          timeout,
		Stallout:         stallout,
		transport:        transport,
		bucket:           newTokenBucket(p.SendRateBps, now),
		state:            TransferStateNew,
		startTime:        now,
		lastProgress:     now,
		deadline:         now.Add(timeout),
		stallDeadline:    now.Add(stallout),
		label:            p.Label,
		onForwardIngress: p.OnForwardIngress,
		notify:           notify,
	}
}

// ID returns the transfer's log-correlation identifier.
func (t *Transfer) ID() uuid.UUID { return t.id }

// State returns the transfer's current lifecycle stage.
func (t *Transfer) State() TransferState { return t.state }

// BytesRead and BytesWritten report cumulative progress for heartbeat
// reporting.
func (t *Transfer) BytesRead() uint64    { return t.bytesRead }
func (t *Transfer) BytesWritten() uint64 { return t.bytesWritten }

// Start moves the transfer from New into Handshake, sending the initial
// WireMessage request that tells the remote side what we want. Used by
// the Active (outbound) side of a transfer.
func (t *Transfer) Start() error {
	if t.state != TransferStateNew {
		return fmt.Errorf("tgen: transfer %s already started", t.IDStr)
	}
	label := t.label
	if label == "" {
		label = t.IDStr
	}
	msg := WireMessage{Type: wireTypeRequest, RequestedSize: t.Size, Label: label}
	if err := msg.Encode(t.transport); err != nil {
		t.finish(TransferStateError, false)
		return fmt.Errorf("%w: %v", ErrTransportSetupFailed, err)
	}
	t.state = TransferStateHandshake
	return nil
}

// Accept moves the transfer from New into Handshake without sending
// anything, used by the Passive (inbound) side: it waits for the peer's
// request instead of issuing one.
func (t *Transfer) Accept() {
	if t.state == TransferStateNew {
		t.state = TransferStateHandshake
	}
}

// OnReadable is called by the driver when the multiplexer reports the
// transport's fd readable. If the handshake is still pending it
// completes it and returns without reading payload; otherwise it does
// one payload read of up to 64 KiB.
func (t *Transfer) OnReadable() error {
	if t.state == TransferStateHandshake {
		msg, err := DecodeWireMessage(t.transport)
		if err != nil {
			t.finish(TransferStateError, false)
			return err
		}
		if msg.RequestedSize > 0 {
			t.Size = msg.RequestedSize
		}
		// The passive side only ever decodes a request here (it never
		// calls Start, which is what sends one), so seeing one is how it
		// knows to ack back before exchanging payload.
		if msg.Type == wireTypeRequest {
			ack := WireMessage{Type: wireTypeReply, RequestedSize: t.Size, Label: t.IDStr}
			if err := ack.Encode(t.transport); err != nil {
				t.finish(TransferStateError, false)
				return fmt.Errorf("%w: %v", ErrTransportSetupFailed, err)
			}
			if (t.Role == TransferForwardServe || t.Role == TransferForwardReturn) && t.onForwardIngress != nil {
				t.onForwardIngress(msg.Label, time.Now())
			}
		}
		t.state = TransferStateActive
		t.touch()
		// The handshake frame may have consumed every byte the kernel
		// told us was ready; wait for the next readiness notification
		// before attempting a payload read so this never blocks on a
		// socket with nothing left buffered.
		return nil
	}
	if t.state != TransferStateActive {
		return nil
	}
	buf := make([]byte, 64*1024)
	n, err := t.transport.Read(buf)
	if n > 0 {
		t.bytesRead += uint64(n)
		t.touch()
	}
	if err != nil {
		t.finish(TransferStateError, false)
		return err
	}
	if t.Size > 0 && t.bytesRead >= t.Size {
		t.finish(TransferStateSuccess, true)
	}
	return nil
}

// OnWritable is called by the driver when the multiplexer reports the
// transport's fd writable. It writes payload up to the current
// token-bucket allowance, rate-limiting at SendRateBps.
func (t *Transfer) OnWritable(now time.Time) error {
	if t.state != TransferStateActive {
		return nil
	}
	remaining := t.Size - t.bytesWritten
	if remaining == 0 {
		t.finish(TransferStateSuccess, true)
		return nil
	}
	allowance := t.bucket.allowance(now)
	if allowance <= 0 {
		return nil
	}
	chunk := uint64(allowance)
	if chunk > remaining {
		chunk = remaining
	}
	payload := make([]byte, chunk)
	n, err := t.transport.Write(payload)
	if n > 0 {
		t.bucket.consume(n)
		t.bytesWritten += uint64(n)
		t.touch()
	}
	if err != nil {
		t.finish(TransferStateError, false)
		return err
	}
	if t.bytesWritten >= t.Size {
		t.finish(TransferStateSuccess, true)
	}
	return nil
}

// CheckTimeout reports whether the transfer exceeded its total timeout
// or went stallout without forward progress, transitioning and
// notifying exactly once if so.
func (t *Transfer) CheckTimeout(now time.Time) bool {
	if t.completed {
		return true
	}
	if now.After(t.deadline) {
		t.finish(TransferStateTimeout, false)
		return true
	}
	if now.After(t.stallDeadline) {
		t.finish(TransferStateStalled, false)
		return true
	}
	return false
}

func (t *Transfer) touch() {
	t.lastProgress = time.Now()
	t.stallDeadline = t.lastProgress.Add(t.Stallout)
}

func (t *Transfer) finish(state TransferState, success bool) {
	if t.completed {
		return
	}
	t.state = state
	t.completed = true
	if t.notify != nil {
		t.notify(t, success)
	}
}
