package tgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMetricsIncrementAndGet(t *testing.T) {
	m := NewDefaultMetrics()
	m.IncrementBytesRead(100)
	m.IncrementBytesRead(50)
	m.IncrementBytesWritten(10)
	m.IncrementTransfersSucceeded()
	m.IncrementTransfersSucceeded()
	m.IncrementTransfersFailed()

	assert.Equal(t, int64(150), m.GetBytesRead())
	assert.Equal(t, int64(10), m.GetBytesWritten())
	assert.Equal(t, int64(2), m.GetTransfersSucceeded())
	assert.Equal(t, int64(1), m.GetTransfersFailed())
}

func TestDefaultMetricsConcurrentIncrements(t *testing.T) {
	m := NewDefaultMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementBytesRead(1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), m.GetBytesRead())
}
