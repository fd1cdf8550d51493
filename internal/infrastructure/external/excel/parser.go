package excel

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
	"github.com/garyjia/debt-clearance/internal/domain/reconcile"
)

// Parser reads labeled figures from the first sheet of an uploaded workbook.
// Column A holds the label, column B the amount. A header row and a trailing
// "Total" row are skipped.
type Parser struct {
	maxRows int
	logger  *zap.Logger
}

// NewParser creates a workbook parser. maxRows <= 0 means no limit.
func NewParser(maxRows int, logger *zap.Logger) *Parser {
	return &Parser{maxRows: maxRows, logger: logger}
}

// Parse implements port.DatasetParser
func (p *Parser) Parse(ctx context.Context, r io.Reader) ([]entity.DatasetRow, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: not a readable workbook: %v", reconcile.ErrMalformedDataset, err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", reconcile.ErrMalformedDataset)
	}

	cells, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sheet %s: %v", reconcile.ErrMalformedDataset, sheets[0], err)
	}

	var rows []entity.DatasetRow
	for i, cols := range cells {
		label, amountText := cell(cols, 0), cell(cols, 1)
		if label == "" && amountText == "" {
			continue
		}
		if strings.EqualFold(label, reconcile.AggregateLabel) {
			continue
		}

		amount, err := reconcile.ParseAmount(amountText)
		if err != nil {
			// A non-numeric first row is a header
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		if label == "" {
			return nil, fmt.Errorf("%w: row %d has an amount but no label", reconcile.ErrMalformedDataset, i+1)
		}

		rows = append(rows, entity.DatasetRow{Label: label, Amount: amount})
		if p.maxRows > 0 && len(rows) > p.maxRows {
			return nil, fmt.Errorf("%w: more than %d rows", reconcile.ErrMalformedDataset, p.maxRows)
		}
	}

	if err := reconcile.ValidateRows(rows); err != nil {
		return nil, err
	}

	p.logger.Debug("Workbook parsed", zap.String("sheet", sheets[0]), zap.Int("rows", len(rows)))
	return rows, nil
}

func cell(cols []string, idx int) string {
	if idx >= len(cols) {
		return ""
	}
	return strings.TrimSpace(cols[idx])
}

var _ port.DatasetParser = (*Parser)(nil)
