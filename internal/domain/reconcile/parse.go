package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/garyjia/debt-clearance/internal/domain/entity"
)

// ErrMalformedDataset is returned when submitted figures cannot be read as labeled numbers
var ErrMalformedDataset = errors.New("malformed dataset")

// ParseAmount reads a money figure, tolerating thousands separators and spaces
// ("1 250,50" and "1,250.50" are both accepted).
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty amount", ErrMalformedDataset)
	}

	// A single comma with no dot and at most two trailing digits is a decimal comma
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		if idx := strings.Index(s, ","); len(s)-idx-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		}
	}
	s = strings.ReplaceAll(s, ",", "")

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrMalformedDataset, raw)
	}
	return amount, nil
}

// ParseAggregate reads a single-figure submission
func ParseAggregate(raw string) (Submission, error) {
	amount, err := ParseAmount(raw)
	if err != nil {
		return Submission{}, err
	}
	return Aggregate(amount), nil
}

// ParseItemized reads one "label: amount" pair per line. "label = amount" and
// "label amount" (amount as the last field) are accepted as well; blank lines are skipped.
func ParseItemized(text string) (Submission, error) {
	var rows []entity.DatasetRow
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		label, amountText, ok := splitLine(line)
		if !ok {
			return Submission{}, fmt.Errorf("%w: line %d has no label/amount pair", ErrMalformedDataset, i+1)
		}

		amount, err := ParseAmount(amountText)
		if err != nil {
			return Submission{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		rows = append(rows, entity.DatasetRow{Label: label, Amount: amount})
	}

	if len(rows) == 0 {
		return Submission{}, fmt.Errorf("%w: no rows", ErrMalformedDataset)
	}
	return Itemized(rows), nil
}

func splitLine(line string) (string, string, bool) {
	for _, sep := range []string{":", "="} {
		if idx := strings.LastIndex(line, sep); idx > 0 {
			label := strings.TrimSpace(line[:idx])
			amount := strings.TrimSpace(line[idx+1:])
			if label != "" && amount != "" {
				return label, amount, true
			}
		}
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}
	return strings.Join(fields[:len(fields)-1], " "), fields[len(fields)-1], true
}

// ValidateRows checks rows coming from structured input (JSON, spreadsheets)
func ValidateRows(rows []entity.DatasetRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("%w: no rows", ErrMalformedDataset)
	}
	for i, row := range rows {
		if strings.TrimSpace(row.Label) == "" {
			return fmt.Errorf("%w: row %d has an empty label", ErrMalformedDataset, i+1)
		}
	}
	return nil
}
