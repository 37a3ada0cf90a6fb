package xlsx

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/evident/internal/core/domain"
)

func TestWriteAuditWorkbook(t *testing.T) {
	answer := "The pump runs at 3600 rpm."
	confidence := 0.8123
	created := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	records := []domain.AuditRecord{
		{
			ID: "a-1", PrincipalID: "u-1", Role: domain.RoleEngineer, QueryText: "pump speed",
			Outcome: domain.AuditAccepted, Answer: &answer, Confidence: &confidence,
			Retrieved: []domain.AuditRetrieval{
				{DocumentID: "doc-1", ChunkID: "c-1", Score: 0.92},
				{DocumentID: "doc-2", ChunkID: "c-9", Score: 0.81},
			},
			ResponseTimeMS: 120, CreatedAt: created,
		},
		{
			ID: "a-2", PrincipalID: "u-2", Role: domain.RoleViewer, QueryText: "valve limit",
			Outcome: domain.AuditRefused, RefusalReason: domain.RefusalNoEvidence, CreatedAt: created,
		},
	}

	var buf bytes.Buffer
	if err := WriteAuditWorkbook(&buf, records); err != nil {
		t.Fatalf("WriteAuditWorkbook() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(auditSheet)
	if err != nil {
		t.Fatalf("GetRows(audit) error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Audit ID" || rows[1][0] != "a-1" || rows[1][5] != "ACCEPTED" || rows[1][7] != "0.8123" {
		t.Fatalf("unexpected accepted row %v", rows[1])
	}
	if rows[1][1] != "2026-10-19T08:30:00Z" || rows[1][12] != answer {
		t.Fatalf("unexpected accepted row %v", rows[1])
	}
	if rows[2][5] != "REFUSED" || rows[2][6] != "NO_EVIDENCE" || rows[2][7] != "" {
		t.Fatalf("unexpected refused row %v", rows[2])
	}

	evidence, err := f.GetRows(evidenceSheet)
	if err != nil {
		t.Fatalf("GetRows(evidence) error = %v", err)
	}
	if len(evidence) != 3 || evidence[2][2] != "doc-2" || evidence[2][1] != "2" {
		t.Fatalf("unexpected evidence rows %v", evidence)
	}
}
