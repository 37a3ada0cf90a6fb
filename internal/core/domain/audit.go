package domain

import "time"

type AuditOutcome string

const (
	AuditAccepted  AuditOutcome = "accepted"
	AuditRefused   AuditOutcome = "refused"
	AuditCancelled AuditOutcome = "cancelled"
	AuditFailed    AuditOutcome = "failed"
)

type AuditRetrieval struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	Score      float64 `json:"score"`
}

// AuditRecord is the full decision trace for one query.
type AuditRecord struct {
	ID             string           `json:"id"`
	PrincipalID    string           `json:"principal_id"`
	Role           Role             `json:"role"`
	QueryText      string           `json:"query_text"`
	Retrieved      []AuditRetrieval `json:"retrieved_documents"`
	Breakdown      ScoreBreakdown   `json:"score_breakdown"`
	Outcome        AuditOutcome     `json:"outcome"`
	Answer         *string          `json:"answer,omitempty"`
	Confidence     *float64         `json:"confidence_score,omitempty"`
	RefusalReason  RefusalReason    `json:"refusal_reason,omitempty"`
	Message        string           `json:"message,omitempty"`
	Sources        []Source         `json:"sources"`
	Error          string           `json:"error,omitempty"`
	ResponseTimeMS int64            `json:"response_time_ms"`
	CreatedAt      time.Time        `json:"created_at"`
}

func AuditRetrievals(result RetrievalResult) []AuditRetrieval {
	out := make([]AuditRetrieval, 0, len(result.Chunks))
	for _, c := range result.Chunks {
		out = append(out, AuditRetrieval{DocumentID: c.DocumentID, ChunkID: c.ID, Score: c.Similarity})
	}
	return out
}
