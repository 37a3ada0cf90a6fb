package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/evident/internal/config"
	"github.com/kirillkom/evident/internal/core/domain"
	"github.com/kirillkom/evident/internal/core/ports"
	"github.com/kirillkom/evident/internal/infrastructure/export/xlsx"
)

const (
	maxQueryBodyBytes = 64 << 10
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// QueryMetrics receives request timings, per-endpoint query outcomes and
// traffic-control rejections. Implemented by the Prometheus HTTP metrics.
type QueryMetrics interface {
	Middleware(next http.Handler) http.Handler
	RecordQueryResult(endpoint string, result *domain.QueryResult)
	RecordQueryError(endpoint string, err error)
	RecordRateLimited(path string)
	RecordBackpressure(path string)
}

type Router struct {
	queryUC ports.EvidenceQueryService
	audit   ports.AuditReader
	metrics QueryMetrics

	metricsHandler http.Handler
	mcpHandler     http.Handler
	validator      *requestValidator

	apiKey           string
	rateLimitRPS     float64
	rateLimitBurst   int
	maxInFlight      int
	backpressureWait time.Duration
	exportLimit      int
}

// Option attaches optional surfaces to the router.
type Option func(*Router)

// WithMetrics records query outcomes and serves handler on /metrics.
func WithMetrics(m QueryMetrics, handler http.Handler) Option {
	return func(rt *Router) {
		rt.metrics = m
		rt.metricsHandler = handler
	}
}

// WithMCP mounts a Model Context Protocol handler on /mcp.
func WithMCP(handler http.Handler) Option {
	return func(rt *Router) {
		rt.mcpHandler = handler
	}
}

func NewRouter(cfg config.Config, queryUC ports.EvidenceQueryService, audit ports.AuditReader, opts ...Option) *Router {
	validator, err := newRequestValidator(openAPISpec)
	if err != nil {
		// The document is embedded at build time; a broken one is a programming error.
		panic(err)
	}
	rt := &Router{
		queryUC:          queryUC,
		audit:            audit,
		validator:        validator,
		apiKey:           cfg.APIKey,
		rateLimitRPS:     cfg.APIRateLimitRPS,
		rateLimitBurst:   cfg.APIRateLimitBurst,
		maxInFlight:      cfg.APIMaxInFlight,
		backpressureWait: cfg.APIBackpressure,
		exportLimit:      cfg.AuditExportLimit,
	}
	if rt.exportLimit <= 0 {
		rt.exportLimit = 1000
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/query", rt.query)
	mux.HandleFunc("GET /v1/audit/export", rt.exportAudit)
	mux.HandleFunc("GET /v1/audit/{audit_id}", rt.getAudit)
	if rt.metricsHandler != nil {
		mux.Handle("GET /metrics", rt.metricsHandler)
	}
	if rt.mcpHandler != nil {
		mux.Handle("/mcp", rt.mcpHandler)
	}

	var handler http.Handler = mux
	handler = rt.validator.middleware(handler)
	handler = apiKeyMiddleware(handler, rt.apiKey)
	handler = backpressureMiddleware(handler, rt.maxInFlight, rt.backpressureWait, rt.onBackpressure)
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst, rt.onRateLimited)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type queryResponse struct {
	RequestID string `json:"request_id"`
	*domain.QueryResult
}

func (rt *Router) query(w http.ResponseWriter, r *http.Request) {
	principal, err := PrincipalFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req queryRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode query", err))
		return
	}

	result, err := rt.queryUC.Query(r.Context(), ports.QueryRequest{
		Principal: principal,
		Query:     req.Query,
		TopK:      req.TopK,
	})
	if err != nil {
		if rt.metrics != nil {
			rt.metrics.RecordQueryError("http", err)
		}
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordQueryResult("http", result)
	}

	writeJSON(w, http.StatusOK, queryResponse{
		RequestID:   requestIDFromContext(r.Context()),
		QueryResult: result,
	})
}

func (rt *Router) exportAudit(w http.ResponseWriter, r *http.Request) {
	if err := rt.authorizeAuditRead(r); err != nil {
		writeError(w, r, err)
		return
	}

	limit := rt.exportLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "export audit", fmt.Errorf("limit must be a positive integer")))
			return
		}
		limit = min(n, rt.exportLimit)
	}

	records, err := rt.audit.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := xlsx.WriteAuditWorkbook(&buf, records); err != nil {
		writeError(w, r, fmt.Errorf("render audit workbook: %w", err))
		return
	}

	filename := fmt.Sprintf("audit-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (rt *Router) getAudit(w http.ResponseWriter, r *http.Request) {
	if err := rt.authorizeAuditRead(r); err != nil {
		writeError(w, r, err)
		return
	}

	id := strings.TrimSpace(r.PathValue("audit_id"))
	if id == "" {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "get audit", fmt.Errorf("audit id is required")))
		return
	}

	record, err := rt.audit.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rt *Router) authorizeAuditRead(r *http.Request) error {
	principal, err := PrincipalFromRequest(r)
	if err != nil {
		return err
	}
	if err := requireAdmin(principal); err != nil {
		return err
	}
	if rt.audit == nil {
		return domain.WrapError(domain.ErrPipelineUnavailable, "read audit", errors.New("audit store is not configured for this process"))
	}
	return nil
}

func (rt *Router) onRateLimited(path string) {
	if rt.metrics != nil {
		rt.metrics.RecordRateLimited(path)
	}
}

func (rt *Router) onBackpressure(path string) {
	if rt.metrics != nil {
		rt.metrics.RecordBackpressure(path)
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	requestID := requestIDFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		slog.Error("http_request_failed", "request_id", requestID, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{
		Error:     publicErrorMessage(status, err),
		RequestID: requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
