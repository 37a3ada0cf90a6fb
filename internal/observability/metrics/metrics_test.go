package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/evident/internal/core/domain"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	return string(body)
}

func assertContains(t *testing.T, body, want string) {
	t.Helper()
	if !strings.Contains(body, want) {
		t.Fatalf("expected metrics output to contain %q\n%s", want, body)
	}
}

func TestHTTPServerMetricsRecordsQueryOutcomes(t *testing.T) {
	m := NewHTTPServerMetrics("evident-api")

	accepted := domain.AcceptedResult("answer", domain.ScoreBreakdown{WeightedSum: 0.82}, []domain.Source{{DocumentID: "d1"}})
	refused := domain.RefusedResult(domain.RefusalLowSimilarity)
	m.RecordQueryResult("http", &accepted)
	m.RecordQueryResult("http", &refused)
	m.RecordQueryResult("mcp", nil)
	m.RecordQueryError("http", domain.WrapError(domain.ErrPipelineUnavailable, "generate", fmt.Errorf("down")))
	m.RecordQueryError("http", fmt.Errorf("evidence query: %w", context.Canceled))
	m.RecordQueryError("http", domain.ErrInvalidQuery)

	body := scrape(t, m.Handler())
	assertContains(t, body, `evident_pipeline_queries_total{endpoint="http",outcome="accepted",service="evident-api"} 1`)
	assertContains(t, body, `evident_pipeline_queries_total{endpoint="http",outcome="refused",service="evident-api"} 1`)
	assertContains(t, body, `evident_pipeline_queries_total{endpoint="http",outcome="invalid",service="evident-api"} 1`)
	assertContains(t, body, `evident_pipeline_refusals_total{endpoint="http",reason="LOW_SIMILARITY",service="evident-api"} 1`)
	assertContains(t, body, `evident_pipeline_confidence_count{endpoint="http",service="evident-api"} 1`)
	assertContains(t, body, `evident_audit_failures_total{outcome="failed",service="evident-api"} 1`)
	assertContains(t, body, `evident_audit_failures_total{outcome="cancelled",service="evident-api"} 1`)
	if strings.Contains(body, `evident_audit_failures_total{outcome="invalid"`) {
		t.Fatalf("invalid input must not count as an audit failure")
	}
}

func TestHTTPServerMetricsObservesStagesAndResilience(t *testing.T) {
	m := NewHTTPServerMetrics("evident-api")

	m.ObserveStage("retrieve", 20*time.Millisecond)
	m.ObserveRetry("ollama.embed")
	m.ObserveRetry("ollama.embed")
	m.ObserveBreakerState("ollama.generate", "open")

	body := scrape(t, m.Handler())
	assertContains(t, body, `evident_pipeline_stage_duration_seconds_count{service="evident-api",stage="retrieve"} 1`)
	assertContains(t, body, `evident_resilience_retries_total{operation="ollama.embed",service="evident-api"} 2`)
	assertContains(t, body, `evident_resilience_circuit_breaker_state{operation="ollama.generate",service="evident-api",state="open"} 1`)
	assertContains(t, body, `evident_resilience_circuit_breaker_state{operation="ollama.generate",service="evident-api",state="closed"} 0`)
}

func TestHTTPServerMetricsMiddlewareNormalizesAuditPath(t *testing.T) {
	m := NewHTTPServerMetrics("evident-api")
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/audit/5f1c", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/audit/export", nil))

	body := scrape(t, m.Handler())
	assertContains(t, body, `evident_http_requests_total{method="GET",path="/v1/audit/{audit_id}",service="evident-api",status="404"} 1`)
	assertContains(t, body, `evident_http_requests_total{method="GET",path="/v1/audit/export",service="evident-api",status="404"} 1`)
}

func TestWorkerMetricsPersistAndLag(t *testing.T) {
	m := NewWorkerMetrics("evident-worker")

	m.StartPersist()
	m.FinishPersist(15*time.Millisecond, nil)
	m.StartPersist()
	m.FinishPersist(5*time.Millisecond, fmt.Errorf("insert failed"))
	m.ObserveQueueLag(2 * time.Second)
	m.ObserveQueueLag(-time.Second)

	body := scrape(t, m.Handler())
	assertContains(t, body, `evident_worker_audit_persist_total{service="evident-worker",status="success"} 1`)
	assertContains(t, body, `evident_worker_audit_persist_total{service="evident-worker",status="error"} 1`)
	assertContains(t, body, `evident_worker_audit_persist_in_flight{service="evident-worker"} 0`)
	assertContains(t, body, `evident_worker_queue_lag_seconds_count{service="evident-worker"} 1`)
}
