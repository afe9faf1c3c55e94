// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Cycle metrics
	CyclesTotal        *prometheus.CounterVec
	CycleDuration      *prometheus.HistogramVec
	LastSuccessfulSync prometheus.Gauge
	CyclesSkipped      prometheus.Counter

	// Entity metrics
	EntitiesUpdated *prometheus.CounterVec
	EntitiesFailed  *prometheus.CounterVec
	EntitiesSkipped *prometheus.CounterVec
	CrownsAwarded   prometheus.Counter

	// Endpoint metrics
	EndpointAttempts *prometheus.CounterVec
	EndpointLatency  *prometheus.HistogramVec

	// Rate limiter metrics
	QuotaRemaining prometheus.Gauge
	QuotaWaits     *prometheus.CounterVec
	InFlight       prometheus.Gauge

	// Database metrics
	StoreOpDuration *prometheus.HistogramVec
	StoreOpErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "xrpl_token_sync"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Total number of sync cycles by variant and status",
		}, []string{"variant", "status"}),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of sync cycles",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"variant"}),
		LastSuccessfulSync: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sync_timestamp",
			Help:      "Unix timestamp of last completed sync cycle",
		}),
		CyclesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycles_overlap_skipped_total",
			Help:      "Triggers ignored because a cycle was already running",
		}),

		EntitiesUpdated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "entities_updated_total",
			Help:      "Total number of token records updated",
		}, []string{"variant"}),
		EntitiesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "entities_failed_total",
			Help:      "Total number of token records that failed to sync",
		}, []string{"variant"}),
		EntitiesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "entities_skipped_total",
			Help:      "Total number of token records skipped as ineligible",
		}, []string{"variant"}),
		CrownsAwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "king_of_the_hill_awarded_total",
			Help:      "Total number of King of the Hill statuses awarded",
		}),

		EndpointAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "attempts_total",
			Help:      "Endpoint call attempts by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		EndpointLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "call_duration_seconds",
			Help:      "Endpoint call latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),

		QuotaRemaining: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "quota_remaining",
			Help:      "Requests remaining in the current quota window",
		}),
		QuotaWaits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "waits_total",
			Help:      "Times a request was suspended by the limiter, by reason",
		}, []string{"reason"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "in_flight",
			Help:      "Requests currently holding a limiter slot",
		}),

		StoreOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "operation_duration_seconds",
			Help:      "Store operation duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"store", "operation"}),
		StoreOpErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "operation_errors_total",
			Help:      "Total number of store operation errors",
		}, []string{"store", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordCycle records a finished variant cycle.
func (m *Metrics) RecordCycle(variant, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(variant, status).Inc()
	m.CycleDuration.WithLabelValues(variant).Observe(d.Seconds())
}

// RecordEntities adds per-variant entity outcome counts.
func (m *Metrics) RecordEntities(variant string, updated, failed, skipped int) {
	if m == nil {
		return
	}
	m.EntitiesUpdated.WithLabelValues(variant).Add(float64(updated))
	m.EntitiesFailed.WithLabelValues(variant).Add(float64(failed))
	m.EntitiesSkipped.WithLabelValues(variant).Add(float64(skipped))
}

// MarkSyncSuccess sets the last successful sync timestamp.
func (m *Metrics) MarkSyncSuccess(t time.Time) {
	if m == nil {
		return
	}
	m.LastSuccessfulSync.Set(float64(t.Unix()))
}

// RecordOverlapSkipped counts a trigger dropped while a cycle was running.
func (m *Metrics) RecordOverlapSkipped() {
	if m == nil {
		return
	}
	m.CyclesSkipped.Inc()
}

// RecordCrown counts a newly awarded King of the Hill.
func (m *Metrics) RecordCrown() {
	if m == nil {
		return
	}
	m.CrownsAwarded.Inc()
}

// RecordEndpointAttempt records one failover attempt.
func (m *Metrics) RecordEndpointAttempt(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.EndpointAttempts.WithLabelValues(endpoint, outcome).Inc()
	m.EndpointLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// SetQuotaRemaining updates the quota remaining gauge.
func (m *Metrics) SetQuotaRemaining(n int) {
	if m == nil {
		return
	}
	m.QuotaRemaining.Set(float64(n))
}

// RecordQuotaWait counts a limiter suspension.
func (m *Metrics) RecordQuotaWait(reason string) {
	if m == nil {
		return
	}
	m.QuotaWaits.WithLabelValues(reason).Inc()
}

// AddInFlight adjusts the in-flight gauge by delta.
func (m *Metrics) AddInFlight(delta int) {
	if m == nil {
		return
	}
	m.InFlight.Add(float64(delta))
}

// RecordStoreOp records store operation metrics.
func (m *Metrics) RecordStoreOp(store, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreOpDuration.WithLabelValues(store, operation).Observe(d.Seconds())
	if err != nil {
		m.StoreOpErrors.WithLabelValues(store, operation).Inc()
	}
}
