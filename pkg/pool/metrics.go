package pool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// availableGauge tracks connections sitting in the available set.
	availableGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fgapool_connections_available",
		Help: "Number of idle connections available for checkout.",
	}, []string{"pool"})

	// inUseGauge tracks connections currently checked out.
	inUseGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fgapool_connections_in_use",
		Help: "Number of connections currently checked out.",
	}, []string{"pool"})

	createdTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fgapool_connections_created_total",
		Help: "Total connections created by the factory.",
	}, []string{"pool"})

	destroyedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fgapool_connections_destroyed_total",
		Help: "Total connections destroyed.",
	}, []string{"pool"})

	acquiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fgapool_acquires_total",
		Help: "Total successful connection acquisitions.",
	}, []string{"pool"})

	releasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fgapool_releases_total",
		Help: "Total connection releases.",
	}, []string{"pool"})

	timeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fgapool_acquire_timeouts_total",
		Help: "Total acquisitions that timed out waiting for a connection.",
	}, []string{"pool"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fgapool_errors_total",
		Help: "Total pool errors, including factory failures and timeouts.",
	}, []string{"pool"})

	acquireWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fgapool_acquire_wait_seconds",
		Help:    "Time spent waiting to acquire a connection.",
		Buckets: prometheus.DefBuckets,
	}, []string{"pool"})
)

// poolMetrics records one pool's metrics under its name label.
type poolMetrics struct {
	pool string
}

func newPoolMetrics(pool string) *poolMetrics {
	return &poolMetrics{pool: pool}
}

func (m *poolMetrics) observe(available, inUse int) {
	availableGauge.WithLabelValues(m.pool).Set(float64(available))
	inUseGauge.WithLabelValues(m.pool).Set(float64(inUse))
}

func (m *poolMetrics) connCreated() {
	createdTotal.WithLabelValues(m.pool).Inc()
}

func (m *poolMetrics) connDestroyed() {
	destroyedTotal.WithLabelValues(m.pool).Inc()
}

func (m *poolMetrics) acquired(wait time.Duration) {
	acquiresTotal.WithLabelValues(m.pool).Inc()
	acquireWait.WithLabelValues(m.pool).Observe(wait.Seconds())
}

func (m *poolMetrics) released() {
	releasesTotal.WithLabelValues(m.pool).Inc()
}

func (m *poolMetrics) timedOut() {
	timeoutsTotal.WithLabelValues(m.pool).Inc()
	errorsTotal.WithLabelValues(m.pool).Inc()
}

func (m *poolMetrics) errored() {
	errorsTotal.WithLabelValues(m.pool).Inc()
}
