package swap

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records coordinator activity.
type Metrics interface {
	// ObserveTransition records a successful operation and its latency.
	ObserveTransition(op string, d time.Duration)
	// ObserveFailure records a failed operation by error kind.
	ObserveFailure(op, kind string)
	// SetOpen sets the number of swaps in the initiated state.
	SetOpen(n int)
	// AddOpen adjusts the open swap count.
	AddOpen(delta int)
}

var (
	_ Metrics = (*metricsImpl)(nil)
	_ Metrics = NopMetrics{}
)

type metricsImpl struct {
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	open        prometheus.Gauge
}

// NewMetrics creates coordinator metrics registered on reg.
func NewMetrics(reg prometheus.Registerer) (Metrics, error) {
	m := &metricsImpl{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swap",
			Name:      "transitions_total",
			Help:      "Number of successful swap operations",
		}, []string{"op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swap",
			Name:      "failures_total",
			Help:      "Number of failed swap operations by error kind",
		}, []string{"op", "kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "swap",
			Name:      "transition_seconds",
			Help:      "Latency of successful swap operations",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op"}),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swap",
			Name:      "open",
			Help:      "Number of swaps awaiting completion or refund",
		}),
	}

	for _, c := range []prometheus.Collector{m.transitions, m.failures, m.latency, m.open} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metricsImpl) ObserveTransition(op string, d time.Duration) {
	m.transitions.WithLabelValues(op).Inc()
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *metricsImpl) ObserveFailure(op, kind string) {
	m.failures.WithLabelValues(op, kind).Inc()
}

func (m *metricsImpl) SetOpen(n int) {
	m.open.Set(float64(n))
}

func (m *metricsImpl) AddOpen(delta int) {
	m.open.Add(float64(delta))
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ObserveTransition(string, time.Duration) {}
func (NopMetrics) ObserveFailure(string, string)           {}
func (NopMetrics) SetOpen(int)                             {}
func (NopMetrics) AddOpen(int)                             {}
