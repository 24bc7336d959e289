package cloudapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/fivetwenty-io/cloudapi/internal/constants"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector exports Prometheus metrics for calls, routines, retries
// and cache hits. It is safe for concurrent use and a nil collector is a no-op.
type MetricsCollector struct {
	callsTotal       *prometheus.CounterVec
	callDuration     *prometheus.HistogramVec
	callsInFlight    *prometheus.GaugeVec
	routineDuration  *prometheus.HistogramVec
	retriesTotal     *prometheus.CounterVec
	connRetriesTotal *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)

	return &MetricsCollector{
		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "calls_total",
				Help:      "Total number of API calls by outcome",
			},
			[]string{"verb", "outcome"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "call_duration_seconds",
				Help:      "Duration of API calls including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"verb", "outcome"},
		),
		callsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "calls_in_flight",
				Help:      "Number of API calls currently in flight",
			},
			[]string{"verb"},
		),
		routineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "routine_duration_seconds",
				Help:      "Duration of pipeline routines",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"routine"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "retries_total",
				Help:      "Total number of pipeline restarts",
			},
			[]string{"verb", "reason"},
		),
		connRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "connection_retries_total",
				Help:      "Total number of low-level connection retries",
			},
			[]string{"verb", "attempt"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "cache_hits_total",
				Help:      "Total number of unchanged responses detected by the cache validator",
			},
			[]string{"verb"},
		),
	}
}

// CallStarted marks a call in flight and returns a func that ends it.
func (mc *MetricsCollector) CallStarted(verb string) func() {
	if mc == nil {
		return func() {}
	}

	gauge := mc.callsInFlight.WithLabelValues(strings.ToUpper(verb))
	gauge.Inc()

	return gauge.Dec
}

// RecordCall records a finished call. Outcome is "success", "cache_hit" or
// "error".
func (mc *MetricsCollector) RecordCall(verb, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}

	verb = strings.ToUpper(verb)
	mc.callsTotal.WithLabelValues(verb, outcome).Inc()
	mc.callDuration.WithLabelValues(verb, outcome).Observe(duration.Seconds())
}

// RecordRoutine records the duration of one routine run.
func (mc *MetricsCollector) RecordRoutine(name string, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.routineDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordRetry counts a pipeline restart.
func (mc *MetricsCollector) RecordRetry(verb, reason string) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(strings.ToUpper(verb), reason).Inc()
}

// RecordConnectionRetry counts a low-level connection retry.
func (mc *MetricsCollector) RecordConnectionRetry(verb string, attempt int) {
	if mc == nil {
		return
	}

	mc.connRetriesTotal.WithLabelValues(strings.ToUpper(verb), strconv.Itoa(attempt)).Inc()
}

// RecordCacheHit counts an unchanged response.
func (mc *MetricsCollector) RecordCacheHit(verb string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(strings.ToUpper(verb)).Inc()
}
