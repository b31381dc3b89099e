package infra

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides lightweight observability for the ladder engine.
// Uses atomic operations for thread-safety; Collectors exposes the same
// values to Prometheus.
type Metrics struct {
	// Counters
	eventsProcessed atomic.Uint64
	ordersPlaced    atomic.Uint64
	ordersRepaired  atomic.Uint64
	ordersFilled    atomic.Uint64
	cancelFailures  atomic.Uint64
	stepAdvances    atomic.Uint64
	errorsTotal     atomic.Uint64
	heartbeats      atomic.Uint64
	reconnects      atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	currentStep       atomic.Int64
	trackedOrders     atomic.Int64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEvent records an event processing with latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.eventsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordOrderPlaced records a new order on the exchange.
func (m *Metrics) RecordOrderPlaced() {
	m.ordersPlaced.Add(1)
}

// RecordRepair records a re-placed, involuntarily canceled order.
func (m *Metrics) RecordRepair() {
	m.ordersRepaired.Add(1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordCancelFailure records a swallowed sibling-cancel error.
func (m *Metrics) RecordCancelFailure() {
	m.cancelFailures.Add(1)
}

// RecordAdvance records a ladder step transition.
func (m *Metrics) RecordAdvance() {
	m.stepAdvances.Add(1)
}

// RecordHeartbeat records a liveness account query.
func (m *Metrics) RecordHeartbeat() {
	m.heartbeats.Add(1)
}

// RecordReconnect records a feed reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// SetLadderPosition publishes the current step and cohort size.
func (m *Metrics) SetLadderPosition(step int, tracked int) {
	m.currentStep.Store(int64(step))
	m.trackedOrders.Store(int64(tracked))
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsProcessed   uint64
	OrdersPlaced      uint64
	OrdersRepaired    uint64
	OrdersFilled      uint64
	CancelFailures    uint64
	StepAdvances      uint64
	ErrorsTotal       uint64
	Heartbeats        uint64
	Reconnects        uint64
	AvgLatencyNs      int64
	ActiveConnections int32
	CurrentStep       int64
	TrackedOrders     int64
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EventsProcessed:   m.eventsProcessed.Load(),
		OrdersPlaced:      m.ordersPlaced.Load(),
		OrdersRepaired:    m.ordersRepaired.Load(),
		OrdersFilled:      m.ordersFilled.Load(),
		CancelFailures:    m.cancelFailures.Load(),
		StepAdvances:      m.stepAdvances.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		Heartbeats:        m.heartbeats.Load(),
		Reconnects:        m.reconnects.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		CurrentStep:       m.currentStep.Load(),
		TrackedOrders:     m.trackedOrders.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.eventsProcessed.Store(0)
	m.ordersPlaced.Store(0)
	m.ordersRepaired.Store(0)
	m.ordersFilled.Store(0)
	m.cancelFailures.Store(0)
	m.stepAdvances.Store(0)
	m.errorsTotal.Store(0)
	m.heartbeats.Store(0)
	m.reconnects.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.currentStep.Store(0)
	m.trackedOrders.Store(0)
}

// Collectors exposes the metrics as Prometheus collectors reading the
// atomic values at scrape time.
func (m *Metrics) Collectors() []prometheus.Collector {
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		)
	}

	return []prometheus.Collector{
		counter("ladder_events_processed_total", "Feed events processed by the engine", &m.eventsProcessed),
		counter("ladder_orders_placed_total", "Orders placed on the exchange", &m.ordersPlaced),
		counter("ladder_orders_repaired_total", "Involuntarily canceled orders re-placed", &m.ordersRepaired),
		counter("ladder_orders_filled_total", "Tracked orders reported filled", &m.ordersFilled),
		counter("ladder_cancel_failures_total", "Sibling cancels that failed and were ignored", &m.cancelFailures),
		counter("ladder_step_advances_total", "Ladder step transitions", &m.stepAdvances),
		counter("ladder_errors_total", "Errors surfaced by the engine or feed", &m.errorsTotal),
		counter("ladder_heartbeats_total", "Liveness account queries", &m.heartbeats),
		counter("ladder_feed_reconnects_total", "Feed reconnect attempts", &m.reconnects),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "ladder_current_step", Help: "Active ladder step id (-1 when complete)"},
			func() float64 { return float64(m.currentStep.Load()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "ladder_tracked_orders", Help: "Orders in the current cohort"},
			func() float64 { return float64(m.trackedOrders.Load()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "ladder_feed_connections", Help: "Open feed connections"},
			func() float64 { return float64(m.activeConnections.Load()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "ladder_event_latency_avg_seconds", Help: "Average event handling latency"},
			func() float64 { return float64(m.Snapshot().AvgLatencyNs) / 1e9 },
		),
	}
}
