// Package metrics defines the Prometheus collectors for the triage engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/incidentkit/incidentkit/pkg/llm"
)

var (
	triagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "incidentkit",
			Name:      "triages_total",
			Help:      "Total number of triages handled, partitioned by severity and status.",
		},
		[]string{"severity", "status"},
	)

	triageDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "incidentkit",
			Name:      "triage_seconds",
			Help:      "End-to-end triage latency in seconds.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
		},
	)

	tokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "incidentkit",
			Name:      "llm_tokens_total",
			Help:      "Total model tokens consumed across all triages.",
		},
	)

	costDollarsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "incidentkit",
			Name:      "llm_cost_dollars_total",
			Help:      "Total estimated model spend in dollars.",
		},
	)

	breakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "incidentkit",
			Name:      "llm_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		},
	)
)

// Register attaches the engine's collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		triagesTotal,
		triageDurationSeconds,
		tokensTotal,
		costDollarsTotal,
		breakerState,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTriage records one completed triage.
func ObserveTriage(severity, status string, duration time.Duration, tokens int, cost float64) {
	triagesTotal.WithLabelValues(severity, status).Inc()
	if duration < 0 {
		duration = 0
	}
	triageDurationSeconds.Observe(duration.Seconds())
	if tokens > 0 {
		tokensTotal.Add(float64(tokens))
	}
	if cost > 0 {
		costDollarsTotal.Add(cost)
	}
}

// SetBreakerState maps the breaker's mode onto the gauge.
func SetBreakerState(state llm.BreakerState) {
	switch state {
	case llm.BreakerOpen:
		breakerState.Set(2)
	case llm.BreakerHalfOpen:
		breakerState.Set(1)
	default:
		breakerState.Set(0)
	}
}
