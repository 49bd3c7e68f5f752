package tgen

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerString(t *testing.T) {
	p := NewPeer("alice", "10.0.0.1", 8080)
	assert.Equal(t, "alice@10.0.0.1:8080", p.String())
	assert.Equal(t, "10.0.0.1:8080", p.DialAddress())
}

func TestPeerFromAddr(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 5555}
	p := PeerFromAddr(addr)
	assert.Equal(t, "192.0.2.10", p.Address)
	assert.Equal(t, uint16(5555), p.Port)
	assert.Equal(t, addr.String(), p.Name)
}

func TestPoolRandomEmpty(t *testing.T) {
	pool := NewPool()
	assert.Nil(t, pool.Random())
	assert.Equal(t, 0, pool.Len())
	assert.Nil(t, pool.At(0))
}

func TestPoolAddAndAt(t *testing.T) {
	pool := NewPool()
	a := NewPeer("a", "127.0.0.1", 1)
	b := NewPeer("b", "127.0.0.1", 2)
	pool.Add(a)
	pool.Add(b)

	require.Equal(t, 2, pool.Len())
	assert.Same(t, a, pool.At(0))
	assert.Same(t, b, pool.At(1))
	assert.Nil(t, pool.At(2))
}

func TestPoolAllowsDuplicates(t *testing.T) {
	pool := NewPool()
	a := NewPeer("a", "127.0.0.1", 1)
	pool.Add(a)
	pool.Add(a)
	assert.Equal(t, 2, pool.Len())
}

func TestPoolShuffledIsPermutationAndNonMutating(t *testing.T) {
	pool := NewPool()
	names := map[string]bool{}
	for i := 0; i < 20; i++ {
		p := NewPeer(string(rune('a'+i)), "127.0.0.1", uint16(i))
		pool.Add(p)
		names[p.Name] = true
	}

	shuffled := pool.Shuffled()
	require.Len(t, shuffled, 20)
	seen := map[string]bool{}
	for _, p := range shuffled {
		seen[p.Name] = true
	}
	assert.Equal(t, names, seen)

	// Original pool order is untouched.
	assert.Equal(t, "a", pool.At(0).Name)
}

func TestNilPoolIsSafe(t *testing.T) {
	var pool *Pool
	assert.Equal(t, 0, pool.Len())
	assert.Nil(t, pool.At(0))
	assert.Nil(t, pool.Random())
	assert.Empty(t, pool.Shuffled())
}
