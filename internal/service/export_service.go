package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/evr-admin-api/internal/models"
	appErrors "github.com/noah-isme/evr-admin-api/pkg/errors"
	"github.com/noah-isme/evr-admin-api/pkg/export"
)

type exportChangesetStore interface {
	GetByID(ctx context.Context, id string) (*models.Changeset, error)
}

type recordLister interface {
	ListByChangeset(ctx context.Context, changesetID string) ([]models.ChangeRecord, error)
}

// ExportResult carries a rendered document ready for download.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ExportService renders the change ledger of a changeset as CSV or PDF
// for offline review by election officials.
type ExportService struct {
	changesets exportChangesetStore
	records    recordLister
	csv        *export.CSVExporter
	pdf        *export.PDFExporter
	logger     *zap.Logger
}

// NewExportService constructs the service.
func NewExportService(changesets exportChangesetStore, records recordLister, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		changesets: changesets,
		records:    records,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		logger:     logger,
	}
}

var recordExportHeaders = []string{"citizen_id", "kind", "from_center", "to_center", "changed", "recorded_at"}

// ExportRecords renders the ledger of one changeset in the requested
// format ("csv" or "pdf").
func (s *ExportService) ExportRecords(ctx context.Context, changesetID, format string) (*ExportResult, error) {
	cs, err := s.changesets.GetByID(ctx, changesetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load changeset")
	}
	records, err := s.records.ListByChangeset(ctx, changesetID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list change records")
	}

	dataset := export.Dataset{Headers: recordExportHeaders, Rows: make([]map[string]string, 0, len(records))}
	for _, rec := range records {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"citizen_id":  rec.CitizenID,
			"kind":        string(rec.Kind),
			"from_center": deref(rec.FromCenterID),
			"to_center":   deref(rec.ToCenterID),
			"changed":     fmt.Sprintf("%t", rec.Changed),
			"recorded_at": rec.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	switch strings.ToLower(format) {
	case "csv", "":
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("changeset-%s-records.csv", cs.ID),
		}, nil
	case "pdf":
		content, err := s.pdf.Render(dataset, fmt.Sprintf("Change records: %s", cs.Name))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("changeset-%s-records.pdf", cs.ID),
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
