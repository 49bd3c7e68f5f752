package tgen

import "sync/atomic"

// Metrics tracks byte and transfer counters for a running driver.
// Callers may plug in their own implementation (e.g. to export counters
// to a scraping system) via WithMetrics; DefaultMetrics, which tracks
// them in-process with atomics, is used otherwise.
type Metrics interface {
	IncrementBytesRead(n int64)
	IncrementBytesWritten(n int64)
	IncrementTransfersSucceeded()
	IncrementTransfersFailed()

	GetBytesRead() int64
	GetBytesWritten() int64
	GetTransfersSucceeded() int64
	GetTransfersFailed() int64
}

// DefaultMetrics implements Metrics with atomic counters.
type DefaultMetrics struct {
	bytesRead          int64
	bytesWritten       int64
	transfersSucceeded int64
	transfersFailed    int64
}

// NewDefaultMetrics creates a zeroed DefaultMetrics.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementBytesRead(n int64)        { atomic.AddInt64(&m.bytesRead, n) }
func (m *DefaultMetrics) IncrementBytesWritten(n int64)     { atomic.AddInt64(&m.bytesWritten, n) }
func (m *DefaultMetrics) IncrementTransfersSucceeded()      { atomic.AddInt64(&m.transfersSucceeded, 1) }
func (m *DefaultMetrics) IncrementTransfersFailed()         { atomic.AddInt64(&m.transfersFailed, 1) }

func (m *DefaultMetrics) GetBytesRead() int64          { return atomic.LoadInt64(&m.bytesRead) }
func (m *DefaultMetrics) GetBytesWritten() int64       { return atomic.LoadInt64(&m.bytesWritten) }
func (m *DefaultMetrics) GetTransfersSucceeded() int64 { return atomic.LoadInt64(&m.transfersSucceeded) }
func (m *DefaultMetrics) GetTransfersFailed() int64    { return atomic.LoadInt64(&m.transfersFailed) }
