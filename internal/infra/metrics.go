package infra

import (
	"sync/atomic"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticksProcessed atomic.Uint64
	ordersPlaced   atomic.Uint64
	ordersFilled   atomic.Uint64
	ordersCanceled atomic.Uint64
	ordersRejected atomic.Uint64
	feedFailures   atomic.Uint64
	errorsTotal    atomic.Uint64

	// Gauges
	feedDegraded atomic.Int32 // 1 = serving synthetic prices
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTick records a processed price update.
func (m *Metrics) RecordTick() {
	m.ticksProcessed.Add(1)
}

// RecordOrderPlaced records an order entering the open set.
func (m *Metrics) RecordOrderPlaced() {
	m.ordersPlaced.Add(1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordOrderCanceled records a canceled order.
func (m *Metrics) RecordOrderCanceled() {
	m.ordersCanceled.Add(1)
}

// RecordOrderRejected records an order rejected at placement.
func (m *Metrics) RecordOrderRejected() {
	m.ordersRejected.Add(1)
}

// RecordFeedFailure records an upstream feed failure.
func (m *Metrics) RecordFeedFailure() {
	m.feedFailures.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// SetFeedDegraded sets the degraded gauge (true = synthetic prices).
func (m *Metrics) SetFeedDegraded(degraded bool) {
	if degraded {
		m.feedDegraded.Store(1)
	} else {
		m.feedDegraded.Store(0)
	}
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TicksProcessed uint64
	OrdersPlaced   uint64
	OrdersFilled   uint64
	OrdersCanceled uint64
	OrdersRejected uint64
	FeedFailures   uint64
	ErrorsTotal    uint64
	FeedDegraded   bool
}

// Snapshot returns a consistent-enough view of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TicksProcessed: m.ticksProcessed.Load(),
		OrdersPlaced:   m.ordersPlaced.Load(),
		OrdersFilled:   m.ordersFilled.Load(),
		OrdersCanceled: m.ordersCanceled.Load(),
		OrdersRejected: m.ordersRejected.Load(),
		FeedFailures:   m.feedFailures.Load(),
		ErrorsTotal:    m.errorsTotal.Load(),
		FeedDegraded:   m.feedDegraded.Load() == 1,
	}
}
