// Package metrics exposes Prometheus instrumentation for Watchpost.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/watchpost/internal/domain"
)

// Metrics holds the collectors of one Watchpost process. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	assessments       *prometheus.CounterVec
	suppressed        prometheus.Counter
	fallbacks         prometheus.Counter
	rejected          *prometheus.CounterVec
	contextFactors    *prometheus.CounterVec
	probability       prometheus.Histogram
	reasoningDuration prometheus.Histogram
	activeIncidents   prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchpost_assessments_total",
			Help: "Assessments produced by action and severity.",
		}, []string{"action", "severity"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchpost_alerts_suppressed_total",
			Help: "Alert-worthy decisions suppressed by the cooldown.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchpost_fallback_decisions_total",
			Help: "Decisions that resolved to the conservative fallback.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchpost_events_rejected_total",
			Help: "Events rejected before reasoning, by reason.",
		}, []string{"reason"}),
		contextFactors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchpost_context_factors_total",
			Help: "Context rules fired by rule id.",
		}, []string{"rule"}),
		probability: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchpost_threat_probability",
			Help:    "Distribution of calibrated threat probabilities.",
			Buckets: []float64{0.05, 0.15, 0.3, 0.45, 0.6, 0.75, 0.85, 0.95},
		}),
		reasoningDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchpost_assess_duration_seconds",
			Help:    "Time spent assessing one event.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		activeIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchpost_active_incidents",
			Help: "Incidents currently held in memory.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchpost_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watchpost_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.assessments,
		m.suppressed,
		m.fallbacks,
		m.rejected,
		m.contextFactors,
		m.probability,
		m.reasoningDuration,
		m.activeIncidents,
		m.httpRequestsTotal,
		m.httpDuration,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer returns the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveAssessment records the outcome of one assessment.
func (m *Metrics) ObserveAssessment(a *domain.Assessment, elapsed time.Duration) {
	if m == nil || a == nil {
		return
	}
	m.assessments.WithLabelValues(string(a.Decision.Action), a.Decision.Severity.String()).Inc()
	m.reasoningDuration.Observe(elapsed.Seconds())
	if a.Decision.Fallback {
		m.fallbacks.Inc()
	} else {
		m.probability.Observe(a.Probability)
	}
	if a.Suppression.Status == domain.SuppressionSuppressed {
		m.suppressed.Inc()
	}
	for _, f := range a.Context {
		m.contextFactors.WithLabelValues(f.RuleID).Inc()
	}
}

// EventRejected counts an event refused before reasoning.
func (m *Metrics) EventRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// SetActiveIncidents publishes the incident store size.
func (m *Metrics) SetActiveIncidents(n int) {
	if m == nil {
		return
	}
	m.activeIncidents.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request counts and durations under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
