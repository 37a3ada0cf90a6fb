package usecase

import (
	"github.com/kirillkom/evident/internal/core/domain"
)

// DecisionInput is everything the refusal engine looks at for one query.
type DecisionInput struct {
	Answer       string
	CannotAnswer bool
	Evidence     domain.RetrievalResult
	Score        domain.ScoreBreakdown
	Settings     domain.PipelineSettings
}

type refusalRule struct {
	reason domain.RefusalReason
	fires  func(in DecisionInput, lex lexicon) bool
}

// refusalChain is evaluated top to bottom and the first rule that fires wins.
// The order encodes severity.
var refusalChain = []refusalRule{
	{domain.RefusalNoEvidence, func(in DecisionInput, _ lexicon) bool {
		return in.Evidence.Empty()
	}},
	{domain.RefusalNoEvidence, func(in DecisionInput, _ lexicon) bool {
		return in.CannotAnswer
	}},
	{domain.RefusalLowSimilarity, func(in DecisionInput, _ lexicon) bool {
		return in.Evidence.BestSimilarity() < in.Settings.SimilarityThreshold
	}},
	{domain.RefusalContradictorySources, func(in DecisionInput, lex lexicon) bool {
		_, found := lex.findContradiction(in.Evidence.Query, in.Evidence)
		return found
	}},
	{domain.RefusalSpeculativeLanguage, func(in DecisionInput, lex lexicon) bool {
		return lex.speculationDensity(in.Answer) > in.Settings.Analysis.SpeculationDensityThreshold
	}},
	{domain.RefusalLowConfidence, func(in DecisionInput, _ lexicon) bool {
		return in.Score.WeightedSum < in.Settings.ConfidenceThreshold
	}},
	{domain.RefusalUnsupportedClaim, func(in DecisionInput, lex lexicon) bool {
		return len(lex.unsupportedClaims(in.Answer, in.Evidence)) > 0
	}},
}

// RefusalEngine decides between returning the answer and a typed refusal.
type RefusalEngine struct {
	rules []refusalRule
}

func NewRefusalEngine() *RefusalEngine {
	return &RefusalEngine{rules: refusalChain}
}

// Priority lists the reasons in the order they are checked.
func (e *RefusalEngine) Priority() []domain.RefusalReason {
	out := make([]domain.RefusalReason, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.reason)
	}
	return out
}

func (e *RefusalEngine) Decide(in DecisionInput) domain.QueryResult {
	lex := newLexicon(in.Settings.Analysis)
	for _, rule := range e.rules {
		if rule.fires(in, lex) {
			return domain.RefusedResult(rule.reason)
		}
	}
	return domain.AcceptedResult(in.Answer, in.Score, buildSources(in.Evidence, in.Settings.ExcerptChars))
}

func buildSources(evidence domain.RetrievalResult, excerptChars int) []domain.Source {
	out := make([]domain.Source, 0, len(evidence.Chunks))
	for _, c := range evidence.Chunks {
		title := c.DocumentTitle
		if title == "" {
			title = c.DocumentID
		}
		out = append(out, domain.Source{
			DocumentID: c.DocumentID,
			ChunkID:    c.ID,
			Title:      title,
			Excerpt:    excerpt(c.Text, excerptChars),
			Similarity: c.Similarity,
		})
	}
	return out
}

func excerpt(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}
