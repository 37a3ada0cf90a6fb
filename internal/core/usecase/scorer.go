package usecase

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/kirillkom/evident/internal/core/domain"
	"github.com/kirillkom/evident/internal/core/ports"
)

// scorePrecision fixes the weighted sum to 9 decimals so threshold comparisons
// do not depend on floating point summation noise.
const scorePrecision = 1e9

// ConfidenceScorer measures how well an answer is supported by evidence.
type ConfidenceScorer struct {
	embedder ports.Embedder
}

func NewConfidenceScorer(embedder ports.Embedder) *ConfidenceScorer {
	return &ConfidenceScorer{embedder: embedder}
}

// Score embeds the answer as a passage and combines the sub-scores. Empty
// evidence short-circuits to an all-zero breakdown without any external call.
func (s *ConfidenceScorer) Score(
	ctx context.Context,
	answer string,
	evidence domain.RetrievalResult,
	settings domain.PipelineSettings,
) (domain.ScoreBreakdown, error) {
	if evidence.Empty() {
		return domain.ZeroBreakdown(settings.Weights), nil
	}

	embedCtx, cancel := withStageTimeout(ctx, settings.EmbedTimeout)
	defer cancel()
	answerVector, err := s.embedder.EmbedPassage(embedCtx, answer)
	if err != nil {
		return domain.ZeroBreakdown(settings.Weights), collaboratorFailure("embed answer", err)
	}
	for _, c := range evidence.Chunks {
		if len(c.Embedding) > 0 && len(c.Embedding) != len(answerVector) {
			return domain.ZeroBreakdown(settings.Weights), domain.WrapError(domain.ErrDimensionMismatch, "score answer",
				fmt.Errorf("chunk %s has %d dimensions, answer has %d", c.ID, len(c.Embedding), len(answerVector)))
		}
	}

	return ComputeBreakdown(answer, answerVector, evidence, settings), nil
}

// ComputeBreakdown is the deterministic core of Score.
func ComputeBreakdown(
	answer string,
	answerVector []float32,
	evidence domain.RetrievalResult,
	settings domain.PipelineSettings,
) domain.ScoreBreakdown {
	w := settings.Weights
	if evidence.Empty() {
		return domain.ZeroBreakdown(w)
	}

	terms := salientTerms(answer)
	out := domain.ScoreBreakdown{
		Semantic: semanticScore(answerVector, evidence),
		Keyword:  keywordScore(terms, evidence),
		NGram:    ngramScore(answer, evidence, settings.Analysis.NGramSize),
		Coverage: coverageScore(terms, evidence),
		Weights:  w,
	}

	sum := w.Semantic*out.Semantic + w.Keyword*out.Keyword + w.NGram*out.NGram + w.Coverage*out.Coverage
	out.WeightedSum = clampUnit(math.Round(sum*scorePrecision) / scorePrecision)
	return out
}

// semanticScore is the best cosine similarity between the answer and any
// single evidence chunk.
func semanticScore(answerVector []float32, evidence domain.RetrievalResult) float64 {
	best := 0.0
	for _, c := range evidence.Chunks {
		if len(c.Embedding) == 0 || len(c.Embedding) != len(answerVector) {
			continue
		}
		if sim := cosineSimilarity(answerVector, c.Embedding); sim > best {
			best = sim
		}
	}
	return clampUnit(best)
}

// keywordScore is the fraction of salient answer terms found in the evidence.
func keywordScore(terms []string, evidence domain.RetrievalResult) float64 {
	if len(terms) == 0 {
		return 0
	}
	vocabulary := make(map[string]struct{}, 256)
	for _, c := range evidence.Chunks {
		for _, t := range normalizedTokens(c.Text) {
			vocabulary[t] = struct{}{}
		}
	}
	return fractionPresent(terms, vocabulary)
}

// ngramScore is the share of answer tokens covered by n-grams that occur
// verbatim in some evidence chunk. Paraphrases score low.
func ngramScore(answer string, evidence domain.RetrievalResult, size int) float64 {
	tokens := normalizedTokens(answer)
	if len(tokens) == 0 {
		return 0
	}
	n := size
	if n <= 0 {
		n = 3
	}
	if n > len(tokens) {
		n = len(tokens)
	}

	grams := make(map[string]struct{}, 256)
	for _, c := range evidence.Chunks {
		chunkTokens := normalizedTokens(c.Text)
		for i := 0; i+n <= len(chunkTokens); i++ {
			grams[strings.Join(chunkTokens[i:i+n], " ")] = struct{}{}
		}
	}

	covered := make([]bool, len(tokens))
	for i := 0; i+n <= len(tokens); i++ {
		if _, ok := grams[strings.Join(tokens[i:i+n], " ")]; !ok {
			continue
		}
		for j := i; j < i+n; j++ {
			covered[j] = true
		}
	}
	hits := 0
	for _, c := range covered {
		if c {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

// coverageScore is the fraction of distinct evidence documents containing at
// least one salient answer term.
func coverageScore(terms []string, evidence domain.RetrievalResult) float64 {
	if len(terms) == 0 {
		return 0
	}
	docTerms := make(map[string]map[string]struct{})
	order := make([]string, 0, len(evidence.Chunks))
	for _, c := range evidence.Chunks {
		set, ok := docTerms[c.DocumentID]
		if !ok {
			set = make(map[string]struct{}, 64)
			docTerms[c.DocumentID] = set
			order = append(order, c.DocumentID)
		}
		for _, t := range normalizedTokens(c.Text) {
			set[t] = struct{}{}
		}
	}

	supporting := 0
	for _, docID := range order {
		for _, t := range terms {
			if _, ok := docTerms[docID][t]; ok {
				supporting++
				break
			}
		}
	}
	return float64(supporting) / float64(len(order))
}

func fractionPresent(terms []string, vocabulary map[string]struct{}) float64 {
	if len(terms) == 0 {
		return 0
	}
	found := 0
	for _, t := range terms {
		if _, ok := vocabulary[t]; ok {
			found++
		}
	}
	return float64(found) / float64(len(terms))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
