package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/kirillkom/evident/internal/core/domain"
	"github.com/kirillkom/evident/internal/core/ports"
)

type embedderFake struct {
	mu       sync.Mutex
	queries  []string
	passages []string
	vectors  map[string][]float32
	fallback []float32
	err      error
}

func (f *embedderFake) vectorFor(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	if f.fallback != nil {
		return f.fallback
	}
	return []float32{1, 0, 0}
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.vectorFor(text), nil
}

func (f *embedderFake) EmbedPassage(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passages = append(f.passages, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.vectorFor(text), nil
}

type indexFake struct {
	chunks    []domain.RetrievedChunk
	err       error
	limit     int
	predicate domain.AccessPredicate
	calls     int
}

func (f *indexFake) Search(_ context.Context, _ []float32, predicate domain.AccessPredicate, limit int) ([]domain.RetrievedChunk, error) {
	f.calls++
	f.limit = limit
	f.predicate = predicate
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.RetrievedChunk, len(f.chunks))
	copy(out, f.chunks)
	return out, nil
}

type accessFake struct{}

func (accessFake) Predicate(_ context.Context, p domain.Principal) (domain.AccessPredicate, error) {
	return domain.NewAccessPredicate(p.Role == domain.RoleAdmin, p.AccessibleMissions, p.Role), nil
}

type generatorFake struct {
	text         string
	cannotAnswer bool
	err          error
	block        bool
	onCall       func()
	calls        int
	evidence     domain.RetrievalResult
}

func (f *generatorFake) GenerateAnswer(ctx context.Context, _ string, evidence domain.RetrievalResult) (ports.Generation, error) {
	f.calls++
	f.evidence = evidence
	if f.onCall != nil {
		f.onCall()
	}
	if f.block {
		<-ctx.Done()
		return ports.Generation{}, ctx.Err()
	}
	if f.err != nil {
		return ports.Generation{}, f.err
	}
	return ports.Generation{Text: f.text, CannotAnswer: f.cannotAnswer}, nil
}

type auditFake struct {
	records []domain.AuditRecord
	err     error
}

func (f *auditFake) Record(_ context.Context, record domain.AuditRecord) error {
	f.records = append(f.records, record)
	return f.err
}

func testSettings() domain.PipelineSettings {
	s := domain.DefaultPipelineSettings()
	s.EmbeddingDimension = 3
	s.EmbedTimeout = 0
	s.GenerateTimeout = 0
	return s
}

func testPrincipal() domain.Principal {
	return domain.Principal{ID: "user-1", Role: domain.RoleEngineer, AccessibleMissions: []string{"artemis"}}
}

func evidenceChunk(id, docID string, ordinal int, similarity float64, text string) domain.RetrievedChunk {
	return domain.RetrievedChunk{
		Chunk: domain.Chunk{
			ID:            id,
			DocumentID:    docID,
			DocumentTitle: "Title " + docID,
			Text:          text,
			Embedding:     []float32{1, 0, 0},
			Ordinal:       ordinal,
			Mission:       "artemis",
		},
		Similarity: similarity,
	}
}

type observerFake struct {
	stages []string
}

func (f *observerFake) ObserveStage(stage string, _ time.Duration) {
	f.stages = append(f.stages, stage)
}
