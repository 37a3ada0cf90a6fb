package httpadapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/kirillkom/evident/internal/config"
	"github.com/kirillkom/evident/internal/core/domain"
	"github.com/kirillkom/evident/internal/core/ports"
)

type queryServiceFake struct {
	mu     sync.Mutex
	result *domain.QueryResult
	err    error
	calls  []ports.QueryRequest
}

func (f *queryServiceFake) Query(_ context.Context, req ports.QueryRequest) (*domain.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	refused := domain.RefusedResult(domain.RefusalNoEvidence)
	return &refused, nil
}

type auditReaderFake struct {
	records   []domain.AuditRecord
	err       error
	lastLimit int
}

func (f *auditReaderFake) ListRecent(_ context.Context, limit int) ([]domain.AuditRecord, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *auditReaderFake) GetByID(_ context.Context, id string) (*domain.AuditRecord, error) {
	for i := range f.records {
		if f.records[i].ID == id {
			return &f.records[i], nil
		}
	}
	return nil, domain.WrapError(domain.ErrAuditNotFound, "get audit record", fmt.Errorf("id=%s", id))
}

func newTestHandler(cfg config.Config, svc ports.EvidenceQueryService, audit ports.AuditReader, opts ...Option) http.Handler {
	return NewRouter(cfg, svc, audit, opts...).Handler()
}

func withPrincipal(r *http.Request, id string, role domain.Role, missions ...string) *http.Request {
	r.Header.Set(principalIDHeader, id)
	r.Header.Set(principalRoleHeader, string(role))
	if len(missions) > 0 {
		r.Header.Set(principalMissionsHeader, strings.Join(missions, ","))
	}
	return r
}
