package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/kirillkom/evident/internal/core/domain"
	"github.com/kirillkom/evident/internal/core/ports"
)

type RetrievalRequest struct {
	Query               string
	Principal           domain.Principal
	K                   int
	SimilarityThreshold float64
}

// Retriever turns a query into ranked, access-filtered, per-document
// deduplicated evidence. It never writes to the index.
type Retriever struct {
	embedder ports.Embedder
	index    ports.VectorIndex
	access   ports.AccessFilter
}

func NewRetriever(embedder ports.Embedder, index ports.VectorIndex, access ports.AccessFilter) *Retriever {
	return &Retriever{
		embedder: embedder,
		index:    index,
		access:   access,
	}
}

func (r *Retriever) Retrieve(
	ctx context.Context,
	req RetrievalRequest,
	settings domain.PipelineSettings,
) (domain.RetrievalResult, error) {
	query := NormalizeQuery(req.Query)
	if query == "" {
		return domain.RetrievalResult{}, domain.WrapError(domain.ErrInvalidQuery, "retrieve", fmt.Errorf("query is empty after normalization"))
	}
	if req.K <= 0 {
		return domain.RetrievalResult{}, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("k must be positive, got %d", req.K))
	}
	if req.SimilarityThreshold < 0 || req.SimilarityThreshold > 1 {
		return domain.RetrievalResult{}, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("similarity threshold %v outside [0,1]", req.SimilarityThreshold))
	}
	if err := req.Principal.Validate(); err != nil {
		return domain.RetrievalResult{}, err
	}

	predicate, err := r.access.Predicate(ctx, req.Principal)
	if err != nil {
		return domain.RetrievalResult{}, collaboratorFailure("resolve access predicate", err)
	}

	embedCtx, cancel := withStageTimeout(ctx, settings.EmbedTimeout)
	queryVector, err := r.embedder.EmbedQuery(embedCtx, query)
	cancel()
	if err != nil {
		return domain.RetrievalResult{}, collaboratorFailure("embed query", err)
	}
	if settings.EmbeddingDimension > 0 && len(queryVector) != settings.EmbeddingDimension {
		return domain.RetrievalResult{}, domain.WrapError(domain.ErrDimensionMismatch, "embed query",
			fmt.Errorf("embedder returned %d dimensions, configured %d", len(queryVector), settings.EmbeddingDimension))
	}

	candidates, err := r.index.Search(ctx, queryVector, predicate, settings.FetchSize(req.K))
	if err != nil {
		return domain.RetrievalResult{}, collaboratorFailure("search vector index", err)
	}

	kept := make([]domain.RetrievedChunk, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) > 0 && len(c.Embedding) != len(queryVector) {
			return domain.RetrievalResult{}, domain.WrapError(domain.ErrDimensionMismatch, "search vector index",
				fmt.Errorf("chunk %s has %d dimensions, query has %d", c.ID, len(c.Embedding), len(queryVector)))
		}
		if !predicate.Allows(c.Mission, c.AllowedRoles) {
			continue
		}
		if c.Similarity < req.SimilarityThreshold {
			continue
		}
		kept = append(kept, c)
	}

	rankChunks(kept)
	kept = dedupeByDocument(kept, settings.MaxChunksPerDocument)
	kept = trimChunks(kept, req.K)

	return domain.RetrievalResult{Query: query, Chunks: kept}, nil
}

// rankChunks orders by similarity descending; ties go to the earlier ordinal,
// then document id and chunk id so the order is fully deterministic.
func rankChunks(chunks []domain.RetrievedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Similarity != chunks[j].Similarity {
			return chunks[i].Similarity > chunks[j].Similarity
		}
		if chunks[i].Ordinal != chunks[j].Ordinal {
			return chunks[i].Ordinal < chunks[j].Ordinal
		}
		if chunks[i].DocumentID != chunks[j].DocumentID {
			return chunks[i].DocumentID < chunks[j].DocumentID
		}
		return chunks[i].ID < chunks[j].ID
	})
}

// dedupeByDocument keeps the first perDocument chunks of each document from a
// ranked slice. Chunk ids seen twice are dropped as well.
func dedupeByDocument(ranked []domain.RetrievedChunk, perDocument int) []domain.RetrievedChunk {
	if perDocument <= 0 {
		perDocument = 1
	}
	perDoc := make(map[string]int, len(ranked))
	seenChunk := make(map[string]struct{}, len(ranked))
	out := make([]domain.RetrievedChunk, 0, len(ranked))
	for _, c := range ranked {
		if c.ID != "" {
			if _, ok := seenChunk[c.ID]; ok {
				continue
			}
			seenChunk[c.ID] = struct{}{}
		}
		if perDoc[c.DocumentID] >= perDocument {
			continue
		}
		perDoc[c.DocumentID]++
		out = append(out, c)
	}
	return out
}

func trimChunks(chunks []domain.RetrievedChunk, limit int) []domain.RetrievedChunk {
	if limit <= 0 || len(chunks) <= limit {
		return chunks
	}
	return chunks[:limit]
}
