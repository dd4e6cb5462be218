package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/devicelab-dev/axrunner/pkg/core"
)

// PrometheusSink exports records as Prometheus metrics.
type PrometheusSink struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	cache      *prometheus.CounterVec
	strategies *prometheus.CounterVec
}

// NewPrometheusSink registers the axrunner metrics with reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	f := promauto.With(reg)
	return &PrometheusSink{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axrunner_operations_total",
				Help: "Total number of engine operations",
			},
			[]string{"operation", "success"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "axrunner_operation_duration_seconds",
				Help:    "Engine operation latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"operation"},
		),
		cache: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axrunner_cache_lookups_total",
				Help: "Cache lookups by operation and result",
			},
			[]string{"operation", "result"},
		),
		strategies: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axrunner_recovery_strategies_total",
				Help: "Recovery strategy uses by outcome",
			},
			[]string{"strategy", "success"},
		),
	}
}

// Record implements core.TelemetrySink.
func (p *PrometheusSink) Record(rec core.TelemetryRecord) {
	success := strconv.FormatBool(rec.Success)
	p.operations.WithLabelValues(rec.Operation, success).Inc()
	p.duration.WithLabelValues(rec.Operation).Observe(rec.Duration.Seconds())
	if rec.Cache != core.CacheNone {
		p.cache.WithLabelValues(rec.Operation, string(rec.Cache)).Inc()
	}
	if rec.Strategy != "" {
		p.strategies.WithLabelValues(rec.Strategy, success).Inc()
	}
}
