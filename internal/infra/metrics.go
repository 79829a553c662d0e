package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight venue observability without external
// dependencies. Uses atomic operations for thread-safety.
type Metrics struct {
	ordersAccepted atomic.Uint64
	ordersRejected atomic.Uint64
	tradesExecuted atomic.Uint64
	cancels        atomic.Uint64
	volumeTraded   atomic.Int64

	// Latency tracking for the submission hotpath
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64
}

// RecordAccepted records an accepted submission with its processing latency.
func (m *Metrics) RecordAccepted(latencyNs int64) {
	m.ordersAccepted.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordRejected records a rejected submission.
func (m *Metrics) RecordRejected() {
	m.ordersRejected.Add(1)
}

// RecordTrade records one executed trade and its quantity.
func (m *Metrics) RecordTrade(qty int64) {
	m.tradesExecuted.Add(1)
	m.volumeTraded.Add(qty)
}

// RecordCancel records a successful cancellation.
func (m *Metrics) RecordCancel() {
	m.cancels.Add(1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	OrdersAccepted uint64    `json:"orders_accepted"`
	OrdersRejected uint64    `json:"orders_rejected"`
	TradesExecuted uint64    `json:"trades_executed"`
	Cancels        uint64    `json:"cancels"`
	VolumeTraded   int64     `json:"volume_traded"`
	AvgLatencyNs   int64     `json:"avg_latency_ns"`
	Timestamp      time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}
	return MetricsSnapshot{
		OrdersAccepted: m.ordersAccepted.Load(),
		OrdersRejected: m.ordersRejected.Load(),
		TradesExecuted: m.tradesExecuted.Load(),
		Cancels:        m.cancels.Load(),
		VolumeTraded:   m.volumeTraded.Load(),
		AvgLatencyNs:   avgLatency,
		Timestamp:      time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ordersAccepted.Store(0)
	m.ordersRejected.Store(0)
	m.tradesExecuted.Store(0)
	m.cancels.Store(0)
	m.volumeTraded.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
}
