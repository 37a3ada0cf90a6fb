package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/evident/internal/core/domain"
	"github.com/kirillkom/evident/internal/core/ports"
)

const (
	serverName        = "evident"
	evidenceQueryTool = "evidence_query"
	metricsEndpoint   = "mcp"
)

// PrincipalResolver extracts the caller identity from the transport request.
type PrincipalResolver func(r *http.Request) (domain.Principal, error)

// QueryRecorder receives tool outcomes for metrics.
type QueryRecorder interface {
	RecordQueryResult(endpoint string, result *domain.QueryResult)
	RecordQueryError(endpoint string, err error)
}

type Server struct {
	queryUC  ports.EvidenceQueryService
	recorder QueryRecorder
	mcp      *server.MCPServer
}

func New(queryUC ports.EvidenceQueryService, version string, recorder QueryRecorder) *Server {
	s := &Server{
		queryUC:  queryUC,
		recorder: recorder,
		mcp: server.NewMCPServer(
			serverName,
			version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.mcp.AddTool(evidenceQueryToolDefinition(), s.handleEvidenceQuery)
	return s
}

func evidenceQueryToolDefinition() mcp.Tool {
	return mcp.NewTool(evidenceQueryTool,
		mcp.WithDescription("Answer a question strictly from access-filtered mission documents. "+
			"Returns an answer with a confidence breakdown and cited sources, or a structured refusal."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language question."),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Number of evidence chunks to retrieve. Defaults to the server setting."),
			mcp.Min(0),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// HTTPHandler serves the streamable HTTP transport. The principal is resolved
// per request from the HTTP headers and carried in the tool call context.
func (s *Server) HTTPHandler(resolve PrincipalResolver) http.Handler {
	return server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			principal, err := resolve(r)
			return contextWithPrincipal(ctx, principal, err)
		}),
	)
}

func (s *Server) handleEvidenceQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	principal, err := principalFromContext(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.queryUC.Query(ctx, ports.QueryRequest{
		Principal: principal,
		Query:     query,
		TopK:      request.GetInt("top_k", 0),
	})
	if err != nil {
		if s.recorder != nil {
			s.recorder.RecordQueryError(metricsEndpoint, err)
		}
		return mcp.NewToolResultError(toolErrorMessage(err)), nil
	}
	if s.recorder != nil {
		s.recorder.RecordQueryResult(metricsEndpoint, result)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode evidence result: %w", err)
	}
	return mcp.NewToolResultStructured(result, string(payload)), nil
}

func toolErrorMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrUnauthorized),
		domain.IsKind(err, domain.ErrForbidden):
		return err.Error()
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		slog.Error("mcp_tool_failed", "tool", evidenceQueryTool, "error", err)
		return "evidence pipeline unavailable"
	}
}

type principalContextKey struct{}

type principalValue struct {
	principal domain.Principal
	err       error
}

func contextWithPrincipal(ctx context.Context, principal domain.Principal, err error) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principalValue{principal: principal, err: err})
}

func principalFromContext(ctx context.Context) (domain.Principal, error) {
	v, ok := ctx.Value(principalContextKey{}).(principalValue)
	if !ok {
		return domain.Principal{}, domain.WrapError(domain.ErrUnauthorized, "resolve principal", errors.New("no principal on request"))
	}
	return v.principal, v.err
}
