// Package excel reads and writes dataset workbooks with excelize.
package excel

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/garyjia/debt-clearance/internal/domain/entity"
)

const (
	sheetDataset = "Dataset"
	sheetHistory = "History"
	sheetSummary = "Summary"

	headerLabel  = "Label"
	headerAmount = "Amount"
)

// newDatasetWorkbook renders rows on a "Dataset" sheet with a header and a total line
func newDatasetWorkbook(rows []entity.DatasetRow) (*excelize.File, error) {
	file := excelize.NewFile()
	if err := file.SetSheetName("Sheet1", sheetDataset); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := writeDataset(file, rows); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

func writeDataset(file *excelize.File, rows []entity.DatasetRow) error {
	bold, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	money, err := file.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return fmt.Errorf("failed to create amount style: %w", err)
	}

	if err := file.SetSheetRow(sheetDataset, "A1", &[]interface{}{headerLabel, headerAmount}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := file.SetCellStyle(sheetDataset, "A1", "B1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	total := decimal.Zero
	for i, row := range rows {
		total = total.Add(row.Amount)
		r := i + 2
		if err := file.SetCellValue(sheetDataset, fmt.Sprintf("A%d", r), row.Label); err != nil {
			return fmt.Errorf("failed to set label at row %d: %w", r, err)
		}
		if err := file.SetCellValue(sheetDataset, fmt.Sprintf("B%d", r), row.Amount.InexactFloat64()); err != nil {
			return fmt.Errorf("failed to set amount at row %d: %w", r, err)
		}
	}

	last := len(rows) + 2
	if err := file.SetCellValue(sheetDataset, fmt.Sprintf("A%d", last), "Total"); err != nil {
		return fmt.Errorf("failed to set total label: %w", err)
	}
	if err := file.SetCellValue(sheetDataset, fmt.Sprintf("B%d", last), total.InexactFloat64()); err != nil {
		return fmt.Errorf("failed to set total: %w", err)
	}
	if err := file.SetCellStyle(sheetDataset, fmt.Sprintf("A%d", last), fmt.Sprintf("A%d", last), bold); err != nil {
		return fmt.Errorf("failed to style total: %w", err)
	}
	if err := file.SetCellStyle(sheetDataset, "B2", fmt.Sprintf("B%d", last), money); err != nil {
		return fmt.Errorf("failed to style amounts: %w", err)
	}
	if err := file.SetColWidth(sheetDataset, "A", "A", 32); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	return nil
}

func toBytes(file *excelize.File) ([]byte, error) {
	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}
