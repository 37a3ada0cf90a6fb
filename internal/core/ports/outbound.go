package ports

import (
	"context"
	"time"

	"github.com/kirillkom/evident/internal/core/domain"
)

// Embedder maps text to fixed-dimension vectors. Queries and passages use
// different instructions; callers must pick the matching mode.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedPassage(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex performs nearest-neighbor search restricted by an access predicate.
// Implementations must be safe for concurrent reads.
type VectorIndex interface {
	Search(ctx context.Context, queryVector []float32, predicate domain.AccessPredicate, limit int) ([]domain.RetrievedChunk, error)
}

// DimensionReporter is implemented by indexes that can report their vector size
// for startup validation.
type DimensionReporter interface {
	VectorDimension(ctx context.Context) (int, error)
}

// AccessFilter resolves the visibility predicate for a principal.
type AccessFilter interface {
	Predicate(ctx context.Context, principal domain.Principal) (domain.AccessPredicate, error)
}

// Generation is a bounded completion. CannotAnswer is set when the model
// signalled that the context does not contain the answer.
type Generation struct {
	Text         string
	CannotAnswer bool
}

// AnswerGenerator produces a constrained answer from ranked evidence.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, evidence domain.RetrievalResult) (Generation, error)
}

// AuditRecorder persists the decision trace of a query.
type AuditRecorder interface {
	Record(ctx context.Context, record domain.AuditRecord) error
}

// StageObserver receives per-stage timings of a pipeline invocation.
type StageObserver interface {
	ObserveStage(stage string, duration time.Duration)
}
