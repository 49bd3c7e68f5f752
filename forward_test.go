package tgen

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardEntryEligible(t *testing.T) {
	arrival := time.Now().Add(-2 * time.Second)
	e := forwardEntry{peerName: "p", arrival: arrival, wait: time.Second}
	assert.True(t, e.eligible(time.Now()))

	e2 := forwardEntry{peerName: "p", arrival: time.Now(), wait: time.Hour}
	assert.False(t, e2.eligible(time.Now()))
}

func TestForwardQueueFIFOOrder(t *testing.T) {
	var q forwardQueue
	q.push(forwardEntry{peerName: "a"})
	q.push(forwardEntry{peerName: "b"})
	q.push(forwardEntry{peerName: "c"})

	require.Equal(t, 3, q.len())

	head, ok := q.popHead()
	require.True(t, ok)
	assert.Equal(t, "a", head.peerName)
	assert.Equal(t, 2, q.len())
}

func TestForwardQueuePeekDoesNotRemove(t *testing.T) {
	var q forwardQueue
	q.push(forwardEntry{peerName: "a"})
	peeked, ok := q.peekHead()
	require.True(t, ok)
	assert.Equal(t, "a", peeked.peerName)
	assert.Equal(t, 1, q.len())
}

func TestForwardQueueEmptyPopsReportFalse(t *testing.T) {
	var q forwardQueue
	_, ok := q.popHead()
	assert.False(t, ok)
	_, ok = q.popTail()
	assert.False(t, ok)
	_, ok = q.peekHead()
	assert.False(t, ok)
}

// TestHeadTailAsymmetry pins down the documented mismatch between how a
// forwarding queue's eligibility is evaluated (always against the head)
// and how tgendriver_getPayload actually consumes entries (from the
// tail, by default). A caller who assumes popTail behaves like a
// symmetric FIFO pop -- i.e. that it returns the oldest eligible entry
// -- will see this test fail.
func TestHeadTailAsymmetry(t *testing.T) {
	var q forwardQueue
	q.push(forwardEntry{peerName: "oldest"})
	q.push(forwardEntry{peerName: "newest"})

	head, ok := q.peekHead()
	require.True(t, ok)
	assert.Equal(t, "oldest", head.peerName, "eligibility is always checked against the head")

	tail, ok := q.popTail()
	require.True(t, ok)
	assert.Equal(t, "newest", tail.peerName, "but the default consume pops the tail, not the head")

	// The head entry that eligibility was checked against is still
	// sitting in the queue, untouched by the tail pop.
	assert.Equal(t, 1, q.len())
	remaining, ok := q.popHead()
	require.True(t, ok)
	assert.Equal(t, "oldest", remaining.peerName)
}

func TestSampleWaitTimeEmptyPool(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	assert.Equal(t, time.Duration(0), sampleWaitTime(nil, rnd))
}

func TestSampleWaitTimeDrawsFromPool(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	pool := []int64{100, 200, 300}
	for i := 0; i < 50; i++ {
		d := sampleWaitTime(pool, rnd)
		found := false
		for _, v := range pool {
			if int64(d) == v {
				found = true
			}
		}
		assert.True(t, found, "sampled duration %v must come from the pool", d)
	}
}
