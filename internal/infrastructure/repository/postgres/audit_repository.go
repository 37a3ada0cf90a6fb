package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/evident/internal/core/domain"
)

const auditSchemaLockID int64 = 2026101901

// AuditRepository persists decision traces to audit_logs. Writes are
// idempotent on the record id so a redelivered queue message is harmless.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, auditSchemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL,
	role TEXT NOT NULL,
	query_text TEXT NOT NULL,
	retrieved_documents JSONB NOT NULL DEFAULT '[]'::jsonb,
	score_breakdown JSONB NOT NULL,
	outcome TEXT NOT NULL,
	answer TEXT,
	confidence_score DOUBLE PRECISION,
	refusal_reason TEXT,
	message TEXT,
	sources JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT,
	response_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_principal ON audit_logs(principal_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_refusal_reason ON audit_logs(refusal_reason);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *AuditRepository) Record(ctx context.Context, record domain.AuditRecord) error {
	retrieved, err := json.Marshal(nonNil(record.Retrieved))
	if err != nil {
		return fmt.Errorf("marshal retrieved documents: %w", err)
	}
	breakdown, err := json.Marshal(record.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal score breakdown: %w", err)
	}
	sources, err := json.Marshal(nonNil(record.Sources))
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO audit_logs (
	id, principal_id, role, query_text, retrieved_documents, score_breakdown, outcome, answer,
	confidence_score, refusal_reason, message, sources, error_message, response_time_ms, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO NOTHING
`,
		record.ID, record.PrincipalID, string(record.Role), record.QueryText, retrieved, breakdown,
		string(record.Outcome), record.Answer, record.Confidence, nullString(string(record.RefusalReason)),
		nullString(record.Message), sources, nullString(record.Error), record.ResponseTimeMS, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

const auditColumns = `id, principal_id, role, query_text, retrieved_documents, score_breakdown, outcome, answer,
	confidence_score, refusal_reason, message, sources, error_message, response_time_ms, created_at`

func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+auditColumns+`
FROM audit_logs
ORDER BY created_at DESC, id
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AuditRecord, 0, limit)
	for rows.Next() {
		record, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}

func (r *AuditRepository) GetByID(ctx context.Context, id string) (*domain.AuditRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+auditColumns+`
FROM audit_logs
WHERE id = $1
`, id)
	record, err := scanAuditRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrAuditNotFound, "get audit record", err)
		}
		return nil, err
	}
	return &record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditRecord(row rowScanner) (domain.AuditRecord, error) {
	var (
		record                               domain.AuditRecord
		role, outcome                        string
		retrievedRaw, breakdownRaw, srcRaw   []byte
		answer, refusal, message, errMessage sql.NullString
		confidence                           sql.NullFloat64
	)
	err := row.Scan(
		&record.ID, &record.PrincipalID, &role, &record.QueryText, &retrievedRaw, &breakdownRaw, &outcome,
		&answer, &confidence, &refusal, &message, &srcRaw, &errMessage, &record.ResponseTimeMS, &record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AuditRecord{}, err
		}
		return domain.AuditRecord{}, fmt.Errorf("scan audit record: %w", err)
	}

	record.Role = domain.Role(role)
	record.Outcome = domain.AuditOutcome(outcome)
	record.RefusalReason = domain.RefusalReason(refusal.String)
	record.Message = message.String
	record.Error = errMessage.String
	if answer.Valid {
		record.Answer = &answer.String
	}
	if confidence.Valid {
		record.Confidence = &confidence.Float64
	}
	if err := json.Unmarshal(retrievedRaw, &record.Retrieved); err != nil {
		return domain.AuditRecord{}, fmt.Errorf("decode retrieved documents: %w", err)
	}
	if err := json.Unmarshal(breakdownRaw, &record.Breakdown); err != nil {
		return domain.AuditRecord{}, fmt.Errorf("decode score breakdown: %w", err)
	}
	if err := json.Unmarshal(srcRaw, &record.Sources); err != nil {
		return domain.AuditRecord{}, fmt.Errorf("decode sources: %w", err)
	}
	return record, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
