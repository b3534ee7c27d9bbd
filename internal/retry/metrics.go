package retry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records per-attempt outcomes of gateway calls.
type Metrics struct {
	attemptsTotal *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
}

// NewMetrics registers the executor metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "culinarylens",
				Subsystem: "gateway",
				Name:      "attempts_total",
				Help:      "Total number of gateway call attempts",
			},
			[]string{"operation", "outcome"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "culinarylens",
				Subsystem: "gateway",
				Name:      "call_duration_seconds",
				Help:      "Duration of single gateway call attempts",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) observe(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(operation, outcome).Inc()
	m.callDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
