package xlsx

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/evident/internal/core/domain"
)

const (
	auditSheet    = "Audit"
	evidenceSheet = "Evidence"
)

var auditHeader = []any{
	"Audit ID", "Created (UTC)", "Principal", "Role", "Query", "Outcome", "Refusal reason",
	"Confidence", "Semantic", "Keyword", "N-gram", "Coverage", "Answer", "Error", "Latency ms",
}

var evidenceHeader = []any{"Audit ID", "Rank", "Document ID", "Chunk ID", "Similarity"}

// WriteAuditWorkbook renders records as a two-sheet workbook: one row per
// decision and one row per retrieved chunk.
func WriteAuditWorkbook(w io.Writer, records []domain.AuditRecord) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", auditSheet); err != nil {
		return fmt.Errorf("rename audit sheet: %w", err)
	}
	if _, err := f.NewSheet(evidenceSheet); err != nil {
		return fmt.Errorf("create evidence sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDE4EE"}},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := writeHeader(f, auditSheet, auditHeader, headerStyle); err != nil {
		return err
	}
	if err := writeHeader(f, evidenceSheet, evidenceHeader, headerStyle); err != nil {
		return err
	}

	evidenceRow := 2
	for i, record := range records {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(auditSheet, cell, auditRow(record)); err != nil {
			return fmt.Errorf("write audit row %d: %w", i+2, err)
		}
		for rank, r := range record.Retrieved {
			cell, _ := excelize.CoordinatesToCellName(1, evidenceRow)
			row := []any{record.ID, rank + 1, r.DocumentID, r.ChunkID, r.Score}
			if err := f.SetSheetRow(evidenceSheet, cell, &row); err != nil {
				return fmt.Errorf("write evidence row %d: %w", evidenceRow, err)
			}
			evidenceRow++
		}
	}

	_ = f.SetColWidth(auditSheet, "E", "E", 48)
	_ = f.SetColWidth(auditSheet, "M", "M", 64)
	_ = f.SetPanes(auditSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, header []any, style int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	return nil
}

func auditRow(r domain.AuditRecord) *[]any {
	confidence := ""
	if r.Confidence != nil {
		confidence = strconv.FormatFloat(*r.Confidence, 'f', 4, 64)
	}
	answer := ""
	if r.Answer != nil {
		answer = *r.Answer
	}
	b := r.Breakdown
	row := []any{
		r.ID,
		r.CreatedAt.UTC().Format(time.RFC3339),
		r.PrincipalID,
		string(r.Role),
		r.QueryText,
		strings.ToUpper(string(r.Outcome)),
		string(r.RefusalReason),
		confidence,
		b.Semantic,
		b.Keyword,
		b.NGram,
		b.Coverage,
		answer,
		r.Error,
		r.ResponseTimeMS,
	}
	return &row
}
