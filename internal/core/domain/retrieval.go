package domain

// Chunk is an immutable unit of evidence produced by ingestion.
type Chunk struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	DocumentTitle string    `json:"document_title,omitempty"`
	Text          string    `json:"text"`
	Embedding     []float32 `json:"-"`
	Ordinal       int       `json:"ordinal"`
	Mission       string    `json:"mission,omitempty"`
	AllowedRoles  []string  `json:"allowed_roles,omitempty"`
}

type RetrievedChunk struct {
	Chunk
	Similarity float64 `json:"similarity"`
}

// RetrievalResult is ranked evidence for one query: descending similarity,
// at most one chunk per document unless configured otherwise.
type RetrievalResult struct {
	Query  string           `json:"query"`
	Chunks []RetrievedChunk `json:"chunks"`
}

func (r RetrievalResult) Empty() bool {
	return len(r.Chunks) == 0
}

func (r RetrievalResult) BestSimilarity() float64 {
	if len(r.Chunks) == 0 {
		return 0
	}
	best := r.Chunks[0].Similarity
	for _, c := range r.Chunks[1:] {
		if c.Similarity > best {
			best = c.Similarity
		}
	}
	return best
}

// DocumentIDs returns distinct document ids in rank order.
func (r RetrievalResult) DocumentIDs() []string {
	seen := make(map[string]struct{}, len(r.Chunks))
	out := make([]string, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		if _, ok := seen[c.DocumentID]; ok {
			continue
		}
		seen[c.DocumentID] = struct{}{}
		out = append(out, c.DocumentID)
	}
	return out
}
