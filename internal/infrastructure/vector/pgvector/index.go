package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/kirillkom/evident/internal/core/domain"
)

// Index is a read-only VectorIndex over the documents/document_chunks tables
// with a pgvector embedding column. Similarity is 1 - cosine distance.
type Index struct {
	db *sql.DB
}

func NewIndex(db *sql.DB) *Index {
	return &Index{db: db}
}

const searchQuery = `
SELECT c.id::text, c.document_id::text, COALESCE(d.title, ''), c.text, c.chunk_index,
	COALESCE(d.mission, ''), COALESCE(d.allowed_roles, '{}'::text[]), c.embedding,
	1 - (c.embedding <=> $1) AS similarity
FROM document_chunks c
JOIN documents d ON d.id = c.document_id
WHERE ($2::boolean OR COALESCE(d.mission, '') = '' OR d.mission = ANY($3::text[]))
	AND ($4::text = 'admin' OR COALESCE(cardinality(d.allowed_roles), 0) = 0 OR $4::text = ANY(SELECT lower(r) FROM unnest(d.allowed_roles) AS r))
ORDER BY c.embedding <=> $1, c.chunk_index, c.id
LIMIT $5
`

func (i *Index) Search(
	ctx context.Context,
	queryVector []float32,
	predicate domain.AccessPredicate,
	limit int,
) ([]domain.RetrievedChunk, error) {
	missions := predicate.Missions
	if missions == nil {
		missions = []string{}
	}

	rows, err := i.db.QueryContext(ctx, searchQuery,
		pgv.NewVector(queryVector),
		predicate.AllMissions,
		pq.Array(missions),
		string(predicate.Role),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RetrievedChunk, 0, limit)
	for rows.Next() {
		var (
			c         domain.RetrievedChunk
			roles     []string
			embedding pgv.Vector
		)
		if err := rows.Scan(
			&c.ID, &c.DocumentID, &c.DocumentTitle, &c.Text, &c.Ordinal,
			&c.Mission, pq.Array(&roles), &embedding, &c.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scan pgvector row: %w", err)
		}
		c.AllowedRoles = roles
		c.Embedding = embedding.Slice()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pgvector rows: %w", err)
	}
	return out, nil
}

// VectorDimension reads the declared dimension of document_chunks.embedding.
// For the vector type the dimension is stored as the column type modifier.
func (i *Index) VectorDimension(ctx context.Context) (int, error) {
	var dim int
	err := i.db.QueryRowContext(ctx, `
SELECT atttypmod
FROM pg_attribute
WHERE attrelid = 'document_chunks'::regclass AND attname = 'embedding'
`).Scan(&dim)
	if err != nil {
		return 0, fmt.Errorf("read embedding dimension: %w", err)
	}
	if dim <= 0 {
		return 0, fmt.Errorf("document_chunks.embedding has no fixed dimension")
	}
	return dim, nil
}
