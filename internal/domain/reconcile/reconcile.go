// Package reconcile compares the figures an approver reports against the figures
// originally submitted with a request.
package reconcile

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/garyjia/debt-clearance/internal/domain/entity"
)

// AggregateLabel is the synthetic label used when a submission is a single figure
const AggregateLabel = "Total"

// Mode is how an approver reported figures
type Mode string

const (
	ModeAggregate Mode = "aggregate"
	ModeItemized  Mode = "itemized"
)

// Submission is what an approver reports with a "debt exists" decision
type Submission struct {
	Mode      Mode                `json:"mode"`
	Aggregate decimal.Decimal     `json:"aggregate,omitempty"`
	Rows      []entity.DatasetRow `json:"rows,omitempty"`
}

// Aggregate builds a single-figure submission
func Aggregate(amount decimal.Decimal) Submission {
	return Submission{Mode: ModeAggregate, Aggregate: amount}
}

// Itemized builds a per-label submission
func Itemized(rows []entity.DatasetRow) Submission {
	return Submission{Mode: ModeItemized, Rows: rows}
}

// Delta is the difference for one label
type Delta struct {
	Label     string          `json:"label"`
	Original  decimal.Decimal `json:"original"`
	Submitted decimal.Decimal `json:"submitted"`
	Delta     decimal.Decimal `json:"delta"`
}

// Result classifies a comparison as identical or divergent
type Result struct {
	Mode       Mode            `json:"mode"`
	Identical  bool            `json:"identical"`
	Deltas     []Delta         `json:"deltas,omitempty"`
	TotalDelta decimal.Decimal `json:"total_delta"`
}

// Outcome is the workflow consequence of a reconciliation result
type Outcome string

const (
	OutcomeAdvance Outcome = "advance"
	OutcomeReverse Outcome = "reverse"
)

// Outcome applies the clearance policy: identical figures advance, any mismatch reverses.
// A negative total delta (less debt reported than recorded) also reverses.
func (r Result) Outcome() Outcome {
	if r.Identical {
		return OutcomeAdvance
	}
	return OutcomeReverse
}

// CheckTotal rejects a recorded total that disagrees with the sum of its rows.
// A zero total means none was given.
func CheckTotal(rows []entity.DatasetRow, total decimal.Decimal) error {
	if total.IsZero() || len(rows) == 0 {
		return nil
	}
	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.Amount)
	}
	if !sum.Equal(total) {
		return fmt.Errorf("%w: total %s does not match row sum %s", ErrMalformedDataset, total.StringFixed(2), sum.StringFixed(2))
	}
	return nil
}

// Baseline returns the original figures a submission is compared with.
// A single reported figure is checked against the request's recorded total.
func Baseline(request *entity.Request, mode Mode) []entity.DatasetRow {
	if mode == ModeAggregate {
		return []entity.DatasetRow{{Label: AggregateLabel, Amount: request.Total}}
	}
	return request.Dataset
}

// Compare reconciles a submission against the original dataset.
// In aggregate mode the original is collapsed into one AggregateLabel entry.
func Compare(original []entity.DatasetRow, submission Submission) Result {
	var origLabels, subLabels []string
	var origAmounts, subAmounts map[string]decimal.Decimal

	if submission.Mode == ModeAggregate {
		total := decimal.Zero
		for _, row := range original {
			total = total.Add(row.Amount.Abs())
		}
		origLabels = []string{AggregateLabel}
		origAmounts = map[string]decimal.Decimal{AggregateLabel: total}
		subLabels = []string{AggregateLabel}
		subAmounts = map[string]decimal.Decimal{AggregateLabel: submission.Aggregate.Abs()}
	} else {
		origLabels, origAmounts = normalize(original)
		subLabels, subAmounts = normalize(submission.Rows)
	}

	result := Result{
		Mode:       submission.Mode,
		Identical:  true,
		TotalDelta: decimal.Zero,
	}

	for _, label := range union(origLabels, subLabels) {
		orig := origAmounts[label]
		sub := subAmounts[label]
		delta := sub.Sub(orig)
		if delta.IsZero() {
			continue
		}
		result.Identical = false
		result.Deltas = append(result.Deltas, Delta{
			Label:     label,
			Original:  orig,
			Submitted: sub,
			Delta:     delta,
		})
		result.TotalDelta = result.TotalDelta.Add(delta)
	}

	return result
}

// normalize folds rows into a label->absolute amount map, summing duplicate labels.
// The returned slice keeps first-seen label order.
func normalize(rows []entity.DatasetRow) ([]string, map[string]decimal.Decimal) {
	labels := make([]string, 0, len(rows))
	amounts := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		label := strings.TrimSpace(row.Label)
		if _, seen := amounts[label]; !seen {
			labels = append(labels, label)
			amounts[label] = decimal.Zero
		}
		amounts[label] = amounts[label].Add(row.Amount.Abs())
	}
	return labels, amounts
}

// union returns labels of a followed by labels only present in b
func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, l := range append(append([]string{}, a...), b...) {
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
