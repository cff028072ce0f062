// Package stats implements the statistics component (spec §4.9): the
// process-wide monotonic counters and connection-status bit-field that
// break the control/streaming cycle — both services read and write here,
// neither imports the other's internals (spec §9 "Cyclic references").
//
// Grounded on the teacher's internal/platform/observability/metrics.go
// (promauto-constructed counters/gauges behind a sync.Once global), trimmed
// to the camera domain's handful of events and mirrored by atomic in-memory
// state: per spec the bit-field and counters are the source of truth read
// by the register map, with Prometheus kept alongside for operability
// rather than replacing it.
package stats

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status bits of the connection-status bit-field (spec §4.9).
const (
	BitGVCPSocketUp uint32 = 1 << iota
	BitGVSPSocketUp
	BitClientConnected
	BitStreamingActive
)

// Counters holds the process-wide monotonic counters and the
// connection-status bit-field. Counters overflow freely (wrap); consumers
// treat them as monotonic within a reboot, per spec §4.9.
type Counters struct {
	controlPacketsRx atomic.Uint32
	controlPacketsTx atomic.Uint32
	streamPacketsTx  atomic.Uint32
	framesCaptured   atomic.Uint32
	framesDropped    atomic.Uint32
	resendRequests   atomic.Uint32

	// statusBits is updated without a lock: SetBit/ClearBit use a
	// compare-and-swap loop, so concurrent updates to the same or different
	// bits of the word are never lost. Only the Prometheus gauge mirrored
	// after each update may briefly lag the word under concurrent writers.
	statusBits atomic.Uint32

	metrics *promMetrics
}

// New returns a zeroed Counters with its Prometheus mirror wired.
func New() *Counters {
	return &Counters{metrics: getMetrics()}
}

func (c *Counters) IncControlPacketsRx() {
	c.controlPacketsRx.Add(1)
	c.metrics.controlPacketsTotal.WithLabelValues("rx").Inc()
}

func (c *Counters) IncControlPacketsTx() {
	c.controlPacketsTx.Add(1)
	c.metrics.controlPacketsTotal.WithLabelValues("tx").Inc()
}

func (c *Counters) IncStreamPacketsTx() {
	c.streamPacketsTx.Add(1)
	c.metrics.streamPacketsTotal.Inc()
}

func (c *Counters) IncFramesCaptured() {
	c.framesCaptured.Add(1)
	c.metrics.framesTotal.WithLabelValues("captured").Inc()
}

func (c *Counters) IncFramesDropped() {
	c.framesDropped.Add(1)
	c.metrics.framesTotal.WithLabelValues("dropped").Inc()
}

func (c *Counters) IncResendRequests() {
	c.resendRequests.Add(1)
	c.metrics.resendRequestsTotal.Inc()
}

// ControlPacketsRx and the remaining getters implement regmap.StatsProvider.
func (c *Counters) ControlPacketsRx() uint32 { return c.controlPacketsRx.Load() }
func (c *Counters) ControlPacketsTx() uint32 { return c.controlPacketsTx.Load() }
func (c *Counters) StreamPacketsTx() uint32  { return c.streamPacketsTx.Load() }
func (c *Counters) FramesCaptured() uint32   { return c.framesCaptured.Load() }
func (c *Counters) FramesDropped() uint32    { return c.framesDropped.Load() }
func (c *Counters) ResendRequests() uint32   { return c.resendRequests.Load() }

// SetBit sets bit in the connection-status bit-field.
func (c *Counters) SetBit(bit uint32) {
	for {
		old := c.statusBits.Load()
		next := old | bit
		if old == next || c.statusBits.CompareAndSwap(old, next) {
			break
		}
	}
	c.metrics.statusBits.Set(float64(c.statusBits.Load()))
}

// ClearBit clears bit in the connection-status bit-field.
func (c *Counters) ClearBit(bit uint32) {
	for {
		old := c.statusBits.Load()
		next := old &^ bit
		if old == next || c.statusBits.CompareAndSwap(old, next) {
			break
		}
	}
	c.metrics.statusBits.Set(float64(c.statusBits.Load()))
}

// TestBit reports whether bit is currently set.
func (c *Counters) TestBit(bit uint32) bool {
	return c.statusBits.Load()&bit != 0
}

// StatusBits returns the full connection-status bit-field.
func (c *Counters) StatusBits() uint32 {
	return c.statusBits.Load()
}

type promMetrics struct {
	controlPacketsTotal *prometheus.CounterVec
	streamPacketsTotal  prometheus.Counter
	framesTotal         *prometheus.CounterVec
	resendRequestsTotal prometheus.Counter
	statusBits          prometheus.Gauge
}

var (
	globalMetrics *promMetrics
	metricsOnce   sync.Once
)

func getMetrics() *promMetrics {
	metricsOnce.Do(func() {
		globalMetrics = &promMetrics{
			controlPacketsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gvisiond",
					Subsystem: "gvcp",
					Name:      "packets_total",
					Help:      "Total GVCP control packets processed, by direction",
				},
				[]string{"direction"},
			),
			streamPacketsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "gvisiond",
					Subsystem: "gvsp",
					Name:      "packets_transmitted_total",
					Help:      "Total GVSP streaming packets transmitted",
				},
			),
			framesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gvisiond",
					Subsystem: "gvsp",
					Name:      "frames_total",
					Help:      "Total frames, by outcome (captured, dropped)",
				},
				[]string{"outcome"},
			),
			resendRequestsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "gvisiond",
					Subsystem: "gvcp",
					Name:      "packetresend_requests_total",
					Help:      "Total PACKETRESEND requests handled",
				},
			),
			statusBits: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "gvisiond",
					Subsystem: "core",
					Name:      "connection_status_bits",
					Help:      "Connection-status bit-field (gvcp-up|gvsp-up|client-connected|streaming-active)",
				},
			),
		}
	})
	return globalMetrics
}
