package obs

import (
	"sync/atomic"
	"time"

	"main/internal/protocol"
)

const maxFrameType = int(protocol.FrameTypeMessage)

// Metrics collects lightweight consumer counters and handler latency.
// All methods are nil-safe so callers never have to guard.
type Metrics struct {
	frameCounts   [maxFrameType + 2]uint64 // last slot counts unknown types
	connsOpened   uint64
	connsLost     uint64
	finished      uint64
	requeued      uint64
	handlerPanics uint64
	heartbeats    uint64

	handlerLatency LatencyStats
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
	FrameCounts       map[protocol.FrameType]uint64
	ConnectionsOpened uint64
	ConnectionsLost   uint64
	Finished          uint64
	Requeued          uint64
	HandlerPanics     uint64
	Heartbeats        uint64
	HandlerLatency    LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveFrame counts one decoded frame by type.
func (m *Metrics) ObserveFrame(t protocol.FrameType) {
	if m == nil {
		return
	}
	idx := int(t)
	if idx < 0 || idx > maxFrameType {
		idx = maxFrameType + 1
	}
	atomic.AddUint64(&m.frameCounts[idx], 1)
}

// IncConnectionOpened records an established broker connection.
func (m *Metrics) IncConnectionOpened() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.connsOpened, 1)
}

// IncConnectionLost records a closed or failed broker connection.
func (m *Metrics) IncConnectionLost() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.connsLost, 1)
}

// IncFinished records an acknowledged message.
func (m *Metrics) IncFinished() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.finished, 1)
}

// IncRequeued records a requeued message.
func (m *Metrics) IncRequeued() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.requeued, 1)
}

// IncHandlerPanic records a message handler panic.
func (m *Metrics) IncHandlerPanic() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.handlerPanics, 1)
}

// IncHeartbeat records an answered broker heartbeat.
func (m *Metrics) IncHeartbeat() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.heartbeats, 1)
}

// ObserveHandler measures one handler invocation.
func (m *Metrics) ObserveHandler(d time.Duration) {
	if m == nil {
		return
	}
	m.handlerLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	frames := make(map[protocol.FrameType]uint64)
	for i := range m.frameCounts {
		if v := atomic.LoadUint64(&m.frameCounts[i]); v > 0 {
			frames[protocol.FrameType(i)] = v
		}
	}
	return Snapshot{
		FrameCounts:       frames,
		ConnectionsOpened: atomic.LoadUint64(&m.connsOpened),
		ConnectionsLost:   atomic.LoadUint64(&m.connsLost),
		Finished:          atomic.LoadUint64(&m.finished),
		Requeued:          atomic.LoadUint64(&m.requeued),
		HandlerPanics:     atomic.LoadUint64(&m.handlerPanics),
		Heartbeats:        atomic.LoadUint64(&m.heartbeats),
		HandlerLatency:    m.handlerLatency.Snapshot(),
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

// Snapshot returns the aggregated view of the samples so far.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}
