package excel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
)

// archiveSnapshot is the JSON kept in the archive table
type archiveSnapshot struct {
	Request  *entity.Request          `json:"request"`
	Records  []*entity.ApprovalRecord `json:"records"`
	Workbook string                   `json:"workbook"`
}

// Archiver writes the final workbook of a request and its snapshot row.
// It runs inside the finalizing transaction. The snapshot insert joins the
// transaction and guards against a second archive; the workbook is keyed on the
// UID and overwritten, so a unit that rolled back after writing it can be retried.
type Archiver struct {
	archive port.ArchiveRepository
	storage port.FileStorage
	logger  *zap.Logger
	now     func() time.Time
}

// NewArchiver creates a new Archiver
func NewArchiver(archive port.ArchiveRepository, storage port.FileStorage, logger *zap.Logger) *Archiver {
	return &Archiver{
		archive: archive,
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// Archive implements port.Archiver
func (a *Archiver) Archive(ctx context.Context, request *entity.Request, records []*entity.ApprovalRecord) error {
	name := fmt.Sprintf("%s.xlsx", request.UID)

	snapshot, err := json.Marshal(archiveSnapshot{Request: request, Records: records, Workbook: name})
	if err != nil {
		return fmt.Errorf("failed to encode archive snapshot: %w", err)
	}

	if err := a.archive.Save(ctx, &entity.ArchivedRequest{
		RequestID:  request.ID,
		UID:        request.UID,
		Snapshot:   snapshot,
		ArchivedAt: a.now(),
	}); err != nil {
		return fmt.Errorf("failed to save archive snapshot: %w", err)
	}

	content, err := renderArchive(request, records)
	if err != nil {
		return err
	}
	if err := a.storage.Save(ctx, name, content); err != nil {
		return fmt.Errorf("failed to write archive workbook: %w", err)
	}

	a.logger.Info("Request archived",
		zap.String("uid", request.UID),
		zap.Int("records", len(records)),
		zap.String("workbook", a.storage.GetFullPath(name)))
	return nil
}

func renderArchive(request *entity.Request, records []*entity.ApprovalRecord) ([]byte, error) {
	file, err := newDatasetWorkbook(request.Dataset)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if _, err := file.NewSheet(sheetSummary); err != nil {
		return nil, fmt.Errorf("failed to add summary sheet: %w", err)
	}
	summary := [][]interface{}{
		{"UID", request.UID},
		{"Kind", string(request.Kind)},
		{"Status", request.Status},
		{"Branch", request.Branch},
		{"Brand", request.Brand},
		{"Submitter", request.SubmitterID},
		{"Total", request.Total.String()},
		{"Context", request.Context},
		{"Created", request.CreatedAt.UTC().Format(time.RFC3339)},
	}
	if err := writeRows(file, sheetSummary, summary); err != nil {
		return nil, err
	}

	if _, err := file.NewSheet(sheetHistory); err != nil {
		return nil, fmt.Errorf("failed to add history sheet: %w", err)
	}
	history := [][]interface{}{{"At", "Actor", "Role", "Decision", "From", "To"}}
	for _, r := range records {
		history = append(history, []interface{}{
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.ActorID,
			string(r.Role),
			string(r.Decision),
			r.PreviousStatus,
			r.NewStatus,
		})
	}
	if err := writeRows(file, sheetHistory, history); err != nil {
		return nil, err
	}

	return toBytes(file)
}

func writeRows(file *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := file.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

var _ port.Archiver = (*Archiver)(nil)
