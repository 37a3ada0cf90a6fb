package metrics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/evident/internal/core/domain"
)

const namespace = "evident"

var breakerStates = []string{"closed", "half-open", "open"}

// HTTPServerMetrics is the API process registry. It also observes pipeline
// stages and collaborator retries so a single /metrics endpoint covers both.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	queriesTotal      *prometheus.CounterVec
	refusalsTotal     *prometheus.CounterVec
	confidence        *prometheus.HistogramVec
	evidenceChunks    *prometheus.HistogramVec
	stageDuration     *prometheus.HistogramVec
	auditFailures     *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	rateLimitedTotal  *prometheus.CounterVec
	backpressureTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "queries_total",
			Help:      "Total evidence queries by outcome.",
		},
		[]string{"service", "endpoint", "outcome"},
	)
	refusalsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "refusals_total",
			Help:      "Total refused queries by reason.",
		},
		[]string{"service", "endpoint", "reason"},
	)
	confidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "confidence",
			Help:      "Confidence of accepted answers.",
			Buckets:   []float64{0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1},
		},
		[]string{"service", "endpoint"},
	)
	evidenceChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cited_sources",
			Help:      "Distribution of cited sources per decided query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "endpoint"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	auditFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "failures_total",
			Help:      "Total failed or aborted queries recorded in the audit trail.",
		},
		[]string{"service", "outcome"},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Total retried collaborator calls by operation.",
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state per operation (1 for the active state).",
		},
		[]string{"service", "operation", "state"},
	)
	rateLimitedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total requests rejected by the rate limiter.",
		},
		[]string{"service", "path"},
	)
	backpressureTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "backpressure_rejections_total",
			Help:      "Total requests rejected because the in-flight limit was reached.",
		},
		[]string{"service", "path"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		queriesTotal,
		refusalsTotal,
		confidence,
		evidenceChunks,
		stageDuration,
		auditFailures,
		retriesTotal,
		breakerState,
		rateLimitedTotal,
		backpressureTotal,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		service:           service,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		queriesTotal:      queriesTotal,
		refusalsTotal:     refusalsTotal,
		confidence:        confidence,
		evidenceChunks:    evidenceChunks,
		stageDuration:     stageDuration,
		auditFailures:     auditFailures,
		retriesTotal:      retriesTotal,
		breakerState:      breakerState,
		rateLimitedTotal:  rateLimitedTotal,
		backpressureTotal: backpressureTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case path == "/v1/audit/export":
		return path
	case strings.HasPrefix(path, "/v1/audit/"):
		return "/v1/audit/{audit_id}"
	case strings.HasPrefix(path, "/mcp"):
		return "/mcp"
	default:
		return path
	}
}

// RecordQueryResult counts one decided query served by endpoint (http or mcp).
func (m *HTTPServerMetrics) RecordQueryResult(endpoint string, result *domain.QueryResult) {
	if result == nil {
		return
	}
	m.evidenceChunks.WithLabelValues(m.service, endpoint).Observe(float64(len(result.Sources)))
	if result.Refused() {
		m.queriesTotal.WithLabelValues(m.service, endpoint, string(domain.AuditRefused)).Inc()
		m.refusalsTotal.WithLabelValues(m.service, endpoint, string(result.Refusal.Reason)).Inc()
		return
	}
	m.queriesTotal.WithLabelValues(m.service, endpoint, string(domain.AuditAccepted)).Inc()
	m.confidence.WithLabelValues(m.service, endpoint).Observe(result.Confidence)
}

// RecordQueryError counts a query that ended without a decision.
func (m *HTTPServerMetrics) RecordQueryError(endpoint string, err error) {
	outcome := string(domain.AuditFailed)
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		outcome = "invalid"
	case isCancellation(err):
		outcome = string(domain.AuditCancelled)
	}
	m.queriesTotal.WithLabelValues(m.service, endpoint, outcome).Inc()
	if outcome != "invalid" {
		m.auditFailures.WithLabelValues(m.service, outcome).Inc()
	}
}

func (m *HTTPServerMetrics) RecordRateLimited(path string) {
	m.rateLimitedTotal.WithLabelValues(m.service, normalizePath(path)).Inc()
}

func (m *HTTPServerMetrics) RecordBackpressure(path string) {
	m.backpressureTotal.WithLabelValues(m.service, normalizePath(path)).Inc()
}

// ObserveStage implements ports.StageObserver.
func (m *HTTPServerMetrics) ObserveStage(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(m.service, stage).Observe(duration.Seconds())
}

// ObserveRetry implements resilience.Observer.
func (m *HTTPServerMetrics) ObserveRetry(operation string) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

// ObserveBreakerState implements resilience.Observer.
func (m *HTTPServerMetrics) ObserveBreakerState(operation, state string) {
	for _, s := range breakerStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.breakerState.WithLabelValues(m.service, operation, s).Set(value)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
