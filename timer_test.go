package tgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerFiresOnceAfterDelay(t *testing.T) {
	timer, err := NewTimer(10*time.Millisecond, 0)
	require.NoError(t, err)
	defer timer.Close()

	deadline := time.Now().Add(time.Second)
	var count uint64
	for time.Now().Before(deadline) {
		n, err := timer.ConsumeExpirations()
		require.NoError(t, err)
		count += n
		if count > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.GreaterOrEqual(t, count, uint64(1))
}

func TestTimerPeriodicRefires(t *testing.T) {
	timer, err := NewTimer(5*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	defer timer.Close()

	fires := 0
	deadline := time.Now().Add(200 * time.Millisecond)
	for fires < 2 && time.Now().Before(deadline) {
		n, err := timer.ConsumeExpirations()
		require.NoError(t, err)
		fires += int(n)
		time.Sleep(2 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, fires, 2)
}

func TestTimerRearm(t *testing.T) {
	timer, err := NewTimer(time.Hour, 0)
	require.NoError(t, err)
	defer timer.Close()

	require.NoError(t, timer.Rearm(5*time.Millisecond))

	deadline := time.Now().Add(time.Second)
	var count uint64
	for time.Now().Before(deadline) {
		n, err := timer.ConsumeExpirations()
		require.NoError(t, err)
		count += n
		if count > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.GreaterOrEqual(t, count, uint64(1))
}
