package tgen

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMultiplexerDispatchesReadablePipe(t *testing.T) {
	mux, err := NewMultiplexer(100 * time.Millisecond)
	require.NoError(t, err)
	defer mux.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	fired := make(chan uint32, 1)
	require.NoError(t, mux.Register(int(r.Fd()), handlerTransport, "pipe", unix.EPOLLIN, func(events uint32) {
		fired <- events
	}))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, mux.LoopOnce())

	select {
	case events := <-fired:
		assert.NotZero(t, events&unix.EPOLLIN)
	default:
		t.Fatal("expected handler to be invoked on readable pipe")
	}
}

func TestMultiplexerUnregisterStopsDispatch(t *testing.T) {
	mux, err := NewMultiplexer(50 * time.Millisecond)
	require.NoError(t, err)
	defer mux.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	calls := 0
	require.NoError(t, mux.Register(int(r.Fd()), handlerTransport, "pipe", unix.EPOLLIN, func(events uint32) {
		calls++
	}))
	require.NoError(t, mux.Unregister(int(r.Fd())))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, mux.LoopOnce())

	assert.Equal(t, 0, calls)
}

func TestMultiplexerTimerIntegration(t *testing.T) {
	mux, err := NewMultiplexer(200 * time.Millisecond)
	require.NoError(t, err)
	defer mux.Close()

	timer, err := NewTimer(5*time.Millisecond, 0)
	require.NoError(t, err)
	defer timer.Close()

	fired := make(chan struct{}, 1)
	require.NoError(t, mux.Register(timer.FD(), handlerTimer, "heartbeat", unix.EPOLLIN, func(events uint32) {
		n, err := timer.ConsumeExpirations()
		if err == nil && n > 0 {
			fired <- struct{}{}
		}
	}))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, mux.LoopOnce())
		select {
		case <-fired:
			return
		default:
		}
	}
	t.Fatal("timer never fired through the multiplexer")
}

func TestMultiplexerEpollDescriptorIsValid(t *testing.T) {
	mux, err := NewMultiplexer(time.Second)
	require.NoError(t, err)
	defer mux.Close()
	assert.GreaterOrEqual(t, mux.EpollDescriptor(), 0)
}
