package domain

// Source is a citation backing an accepted answer.
type Source struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	Title      string  `json:"title"`
	Excerpt    string  `json:"excerpt"`
	Similarity float64 `json:"similarity"`
}

type Refusal struct {
	Reason  RefusalReason `json:"reason"`
	Message string        `json:"message"`
}

// QueryResult is either an accepted answer with breakdown and citations or a
// refusal. Constructors keep the two branches exclusive.
type QueryResult struct {
	Answer     string          `json:"answer,omitempty"`
	Confidence float64         `json:"confidence"`
	Breakdown  *ScoreBreakdown `json:"score_breakdown,omitempty"`
	Sources    []Source        `json:"sources"`
	Refusal    *Refusal        `json:"refusal,omitempty"`
}

func AcceptedResult(answer string, breakdown ScoreBreakdown, sources []Source) QueryResult {
	if sources == nil {
		sources = []Source{}
	}
	return QueryResult{
		Answer:     answer,
		Confidence: breakdown.WeightedSum,
		Breakdown:  &breakdown,
		Sources:    sources,
	}
}

func RefusedResult(reason RefusalReason) QueryResult {
	return QueryResult{
		Sources: []Source{},
		Refusal: &Refusal{Reason: reason, Message: reason.Message()},
	}
}

func (r QueryResult) Refused() bool {
	return r.Refusal != nil
}
