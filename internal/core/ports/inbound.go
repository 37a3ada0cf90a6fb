package ports

import (
	"context"

	"github.com/kirillkom/evident/internal/core/domain"
)

// QueryRequest is one evidence-grounded question from an authenticated principal.
type QueryRequest struct {
	Principal domain.Principal
	Query     string
	TopK      int
}

// EvidenceQueryService is the inbound contract for the answer pipeline.
type EvidenceQueryService interface {
	Query(ctx context.Context, req QueryRequest) (*domain.QueryResult, error)
}

// AuditReader is the inbound read model for compliance review.
type AuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]domain.AuditRecord, error)
	GetByID(ctx context.Context, id string) (*domain.AuditRecord, error)
}
