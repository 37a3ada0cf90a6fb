package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/evident/internal/core/domain"
)

const pumpEvidence = "The primary coolant pump operates at 3600 rpm during nominal flight."

func pumpResult(similarity float64) domain.RetrievalResult {
	return domain.RetrievalResult{
		Query:  "what speed does the primary coolant pump run at?",
		Chunks: []domain.RetrievedChunk{evidenceChunk("c-1", "doc-pump", 0, similarity, pumpEvidence)},
	}
}

func TestComputeBreakdownVerbatimAnswer(t *testing.T) {
	settings := testSettings()
	got := ComputeBreakdown("The primary coolant pump operates at 3600 rpm.", []float32{1, 0, 0}, pumpResult(0.92), settings)

	if got.Semantic != 1 || got.Keyword != 1 || got.NGram != 1 || got.Coverage != 1 {
		t.Fatalf("expected all sub-scores 1, got %+v", got)
	}
	if got.WeightedSum != 1 {
		t.Fatalf("expected weighted sum 1, got %v", got.WeightedSum)
	}
	if got.Weights != settings.Weights {
		t.Fatalf("breakdown must carry the weights used")
	}
}

func TestComputeBreakdownParaphraseScoresLowOnLexicalSignals(t *testing.T) {
	got := ComputeBreakdown(
		"The main cooling pump runs at three thousand six hundred revolutions.",
		[]float32{1, 1, 0},
		pumpResult(0.92),
		testSettings(),
	)
	if got.NGram != 0 {
		t.Fatalf("expected no verbatim n-gram overlap, got %v", got.NGram)
	}
	if got.Keyword >= 0.5 {
		t.Fatalf("expected low keyword overlap, got %v", got.Keyword)
	}
	if got.WeightedSum >= testSettings().ConfidenceThreshold {
		t.Fatalf("expected paraphrase below confidence threshold, got %v", got.WeightedSum)
	}
}

func TestComputeBreakdownIsIdempotentAndBounded(t *testing.T) {
	settings := testSettings()
	evidence := domain.RetrievalResult{Chunks: []domain.RetrievedChunk{
		evidenceChunk("a", "doc-a", 0, 0.9, pumpEvidence),
		evidenceChunk("b", "doc-b", 0, 0.8, "Telemetry downlink runs at 2 Mbps over S-band."),
	}}
	answers := []string{
		"",
		"The pump operates at 3600 rpm.",
		"Telemetry runs over S-band while the pump operates.",
		"Completely unrelated words about gardening tomatoes.",
	}
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}, {-1, 0, 0}, {0.5, 0.5, 0}}

	for _, answer := range answers {
		for _, vec := range vectors {
			first := ComputeBreakdown(answer, vec, evidence, settings)
			second := ComputeBreakdown(answer, vec, evidence, settings)
			if first != second {
				t.Fatalf("breakdown not idempotent for %q: %+v vs %+v", answer, first, second)
			}
			for name, v := range map[string]float64{
				"semantic": first.Semantic, "keyword": first.Keyword, "ngram": first.NGram,
				"coverage": first.Coverage, "weighted": first.WeightedSum,
			} {
				if v < 0 || v > 1 {
					t.Fatalf("%s score %v out of [0,1] for %q", name, v, answer)
				}
			}
		}
	}
}

func TestComputeBreakdownCoverageCountsDocuments(t *testing.T) {
	evidence := domain.RetrievalResult{Chunks: []domain.RetrievedChunk{
		evidenceChunk("a", "doc-a", 0, 0.9, pumpEvidence),
		evidenceChunk("b", "doc-b", 0, 0.8, "Battery heaters cycle every ten minutes."),
	}}
	got := ComputeBreakdown("The coolant pump operates at 3600 rpm.", []float32{1, 0, 0}, evidence, testSettings())
	if got.Coverage != 0.5 {
		t.Fatalf("expected coverage 0.5, got %v", got.Coverage)
	}
}

func TestScoreEmptyEvidenceSkipsEmbedding(t *testing.T) {
	embedder := &embedderFake{}
	scorer := NewConfidenceScorer(embedder)

	got, err := scorer.Score(context.Background(), "anything", domain.RetrievalResult{}, testSettings())
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if got.WeightedSum != 0 || got.Semantic != 0 {
		t.Fatalf("expected zero breakdown, got %+v", got)
	}
	if len(embedder.passages) != 0 {
		t.Fatalf("expected no embedding call for empty evidence")
	}
}

func TestScoreEmbedsAnswerAsPassage(t *testing.T) {
	embedder := &embedderFake{}
	scorer := NewConfidenceScorer(embedder)

	_, err := scorer.Score(context.Background(), "The pump operates at 3600 rpm.", pumpResult(0.9), testSettings())
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if len(embedder.passages) != 1 || len(embedder.queries) != 0 {
		t.Fatalf("expected one passage embedding, got passages=%v queries=%v", embedder.passages, embedder.queries)
	}
}

func TestScoreEmbedFailure(t *testing.T) {
	scorer := NewConfidenceScorer(&embedderFake{err: errors.New("timeout")})

	_, err := scorer.Score(context.Background(), "answer", pumpResult(0.9), testSettings())
	if !domain.IsKind(err, domain.ErrPipelineUnavailable) {
		t.Fatalf("expected ErrPipelineUnavailable, got %v", err)
	}
}

func TestScoreDimensionMismatch(t *testing.T) {
	scorer := NewConfidenceScorer(&embedderFake{fallback: []float32{1, 0, 0, 0}})

	_, err := scorer.Score(context.Background(), "answer", pumpResult(0.9), testSettings())
	if !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); got != 1 {
		t.Fatalf("identical vectors: got %v", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors: got %v", got)
	}
	if got := cosineSimilarity([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Fatalf("zero vector: got %v", got)
	}
	if got := cosineSimilarity([]float32{1}, []float32{1, 0}); got != 0 {
		t.Fatalf("length mismatch: got %v", got)
	}
}
