package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
	"github.com/noah-isme/casebook-api/pkg/export"
)

// ExportFormat names a rendered history format.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ParseExportFormat validates a requested format, defaulting to CSV.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ExportFormatCSV:
		return ExportFormatCSV, nil
	case ExportFormatPDF:
		return ExportFormatPDF, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", raw))
	}
}

type caseViewer interface {
	Get(ctx context.Context, id string, actor models.Actor) (*models.Case, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// HistoryExport is a rendered status history ready to stream.
type HistoryExport struct {
	FileName    string
	ContentType string
	Data        []byte
}

// HistoryExportService renders a case's status trail as CSV or PDF.
type HistoryExportService struct {
	cases     caseViewer
	authority Authorizer
	csv       csvRenderer
	pdf       pdfRenderer
	logger    *zap.Logger
	enabled   bool
}

// NewHistoryExportService constructs the service.
func NewHistoryExportService(cases caseViewer, authority Authorizer, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger, enabled bool) *HistoryExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = NewHistoryPDFExporter()
	}
	return &HistoryExportService{cases: cases, authority: authority, csv: csv, pdf: pdf, logger: logger, enabled: enabled}
}

var historyHeaders = []string{"Sequence", "Status", "Actor", "Recorded At", "Detail", "Attachments"}

// NewHistoryPDFExporter returns a PDF exporter with column weights suited to
// status histories.
func NewHistoryPDFExporter() *export.PDFExporter {
	return &export.PDFExporter{Widths: map[string]float64{
		"Sequence":    0.6,
		"Status":      1.6,
		"Actor":       1.4,
		"Recorded At": 1.4,
		"Detail":      3,
		"Attachments": 1.6,
	}}
}

// Export renders the status history of one case.
func (s *HistoryExportService) Export(ctx context.Context, caseID string, format ExportFormat, actor models.Actor) (*HistoryExport, error) {
	if !s.enabled {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "history export is disabled")
	}
	if err := requireAction(s.authority, actor, models.ActionExportHistory); err != nil {
		return nil, err
	}
	c, err := s.cases.Get(ctx, caseID, actor)
	if err != nil {
		return nil, err
	}

	dataset := historyDataset(c.History)
	base := "case-history-" + sanitizeFileName(caseFileStem(c))
	var out *HistoryExport
	switch format {
	case ExportFormatCSV:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		out = &HistoryExport{FileName: base + ".csv", ContentType: "text/csv", Data: data}
	case ExportFormatPDF:
		data, err := s.pdf.Render(dataset, "Case "+caseFileStem(c)+" status history")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		out = &HistoryExport{FileName: base + ".pdf", ContentType: "application/pdf", Data: data}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	s.logger.Debug("history exported",
		zap.String("case_id", c.ID),
		zap.String("format", string(format)),
		zap.Int("entries", len(c.History)))
	return out, nil
}

func historyDataset(history []models.StatusHistoryEntry) export.Dataset {
	rows := make([]map[string]string, 0, len(history))
	for _, entry := range history {
		actor := entry.ActorName
		if actor == "" {
			actor = entry.ActorID
		}
		detail := ""
		if entry.Detail != nil {
			detail = *entry.Detail
		}
		rows = append(rows, map[string]string{
			"Sequence":    strconv.Itoa(entry.Sequence),
			"Status":      string(entry.Status),
			"Actor":       actor,
			"Recorded At": entry.Timestamp.UTC().Format(time.RFC3339),
			"Detail":      detail,
			"Attachments": strings.Join(entry.AttachmentRefs, "; "),
		})
	}
	return export.Dataset{Headers: historyHeaders, Rows: rows}
}

func caseFileStem(c *models.Case) string {
	if c.CaseReference != "" {
		return c.CaseReference
	}
	return c.ID
}
