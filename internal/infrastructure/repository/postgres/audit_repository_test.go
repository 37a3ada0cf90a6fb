package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/evident/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*AuditRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewAuditRepository(db), mock, func() { _ = db.Close() }
}

var auditRowColumns = []string{
	"id", "principal_id", "role", "query_text", "retrieved_documents", "score_breakdown", "outcome", "answer",
	"confidence_score", "refusal_reason", "message", "sources", "error_message", "response_time_ms", "created_at",
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(auditSchemaLockID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordRefusalStoresNullAnswer(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	record := domain.AuditRecord{
		ID:            "a-1",
		PrincipalID:   "u-1",
		Role:          domain.RoleEngineer,
		QueryText:     "pump speed",
		Breakdown:     domain.ZeroBreakdown(domain.DefaultWeights()),
		Outcome:       domain.AuditRefused,
		RefusalReason: domain.RefusalNoEvidence,
		Message:       domain.RefusalNoEvidence.Message(),
		CreatedAt:     time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(
			"a-1", "u-1", "engineer", "pump speed", []byte("[]"), sqlmock.AnyArg(), "refused", nil,
			nil, "NO_EVIDENCE", sqlmock.AnyArg(), []byte("[]"), nil, int64(0), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Record(context.Background(), record); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordWrapsInsertError(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errors.New("connection refused"))

	if err := repo.Record(context.Background(), domain.AuditRecord{ID: "a-1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestListRecentDecodesRecords(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	created := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(auditRowColumns).
		AddRow("a-2", "u-1", "engineer", "pump speed",
			[]byte(`[{"document_id":"doc-1","chunk_id":"c-1","score":0.92}]`),
			[]byte(`{"semantic":1,"keyword":1,"ngram":1,"coverage":1,"weights":{"semantic":0.6,"keyword":0.2,"ngram":0.1,"coverage":0.1},"weighted_sum":1}`),
			"accepted", "The pump runs at 3600 rpm.", 1.0, nil, nil,
			[]byte(`[{"document_id":"doc-1","chunk_id":"c-1","title":"Pump","excerpt":"x","similarity":0.92}]`),
			nil, int64(42), created).
		AddRow("a-1", "u-2", "viewer", "valve limit", []byte(`[]`),
			[]byte(`{"weights":{"semantic":0.6,"keyword":0.2,"ngram":0.1,"coverage":0.1}}`),
			"refused", nil, nil, "NO_EVIDENCE", "No accessible documents.", []byte(`[]`), nil, int64(3), created)

	mock.ExpectQuery("FROM audit_logs").WithArgs(50).WillReturnRows(rows)

	records, err := repo.ListRecent(context.Background(), 50)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	accepted := records[0]
	if accepted.Answer == nil || *accepted.Answer != "The pump runs at 3600 rpm." || accepted.Confidence == nil || *accepted.Confidence != 1 {
		t.Fatalf("unexpected accepted record %+v", accepted)
	}
	if len(accepted.Retrieved) != 1 || accepted.Retrieved[0].Score != 0.92 || accepted.Breakdown.Weights.Semantic != 0.6 {
		t.Fatalf("unexpected decoded json columns %+v", accepted)
	}

	refused := records[1]
	if refused.Answer != nil || refused.Confidence != nil || refused.RefusalReason != domain.RefusalNoEvidence {
		t.Fatalf("unexpected refused record %+v", refused)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("FROM audit_logs").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrAuditNotFound) {
		t.Fatalf("expected ErrAuditNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
