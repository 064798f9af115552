package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters and latency stats for the
// order-execution pipeline.
type Metrics struct {
	ordersSubmitted uint64
	ordersFilled    uint64
	ordersCanceled  uint64
	ordersAbandoned uint64
	ordersRejected  uint64

	exchangeRetries uint64
	rateLimitWaits  uint64
	queueDrops      uint64
	routeDrops      uint64

	submitLatency LatencyStats
	checkLatency  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	OrdersSubmitted uint64
	OrdersFilled    uint64
	OrdersCanceled  uint64
	OrdersAbandoned uint64
	OrdersRejected  uint64
	ExchangeRetries uint64
	RateLimitWaits  uint64
	QueueDrops      uint64
	RouteDrops      uint64
	SubmitLatency   LatencySnapshot
	CheckLatency    LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncSubmitted records an order submission to the exchange.
func (m *Metrics) IncSubmitted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersSubmitted, 1)
}

// IncFilled records an order reaching the closed state fully filled.
func (m *Metrics) IncFilled() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersFilled, 1)
}

// IncCanceled records a cancel accepted by the exchange.
func (m *Metrics) IncCanceled() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersCanceled, 1)
}

// IncAbandoned records an order written to the reconciliation file.
func (m *Metrics) IncAbandoned() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersAbandoned, 1)
}

// IncRejected records an order refused before submission.
func (m *Metrics) IncRejected() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersRejected, 1)
}

// IncRetry records a retried exchange call.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.exchangeRetries, 1)
}

// IncRateLimitWait records a compensating sleep inserted by the limiter.
func (m *Metrics) IncRateLimitWait() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.rateLimitWaits, 1)
}

// IncQueueDrop records a work-queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncRouteDrop records a message that could not be routed to a live channel.
func (m *Metrics) IncRouteDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.routeDrops, 1)
}

// ObserveSubmit measures submit round-trip latency.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d)
}

// ObserveCheck measures fill-query round-trip latency.
func (m *Metrics) ObserveCheck(d time.Duration) {
	if m == nil {
		return
	}
	m.checkLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		OrdersSubmitted: atomic.LoadUint64(&m.ordersSubmitted),
		OrdersFilled:    atomic.LoadUint64(&m.ordersFilled),
		OrdersCanceled:  atomic.LoadUint64(&m.ordersCanceled),
		OrdersAbandoned: atomic.LoadUint64(&m.ordersAbandoned),
		OrdersRejected:  atomic.LoadUint64(&m.ordersRejected),
		ExchangeRetries: atomic.LoadUint64(&m.exchangeRetries),
		RateLimitWaits:  atomic.LoadUint64(&m.rateLimitWaits),
		QueueDrops:      atomic.LoadUint64(&m.queueDrops),
		RouteDrops:      atomic.LoadUint64(&m.routeDrops),
		SubmitLatency:   m.submitLatency.Snapshot(),
		CheckLatency:    m.checkLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
