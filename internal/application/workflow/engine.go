package workflow

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/garyjia/debt-clearance/internal/application/assignment"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
	"github.com/garyjia/debt-clearance/internal/domain/reconcile"
)

// Engine drives requests through the clearance pipeline. Every call is one
// synchronous unit: it either commits a whole transition or leaves the request
// untouched.
type Engine interface {
	// Create persists a new request in its kind's initial state with a first assignee
	Create(ctx context.Context, cmd CreateCommand) (*entity.Request, error)

	// Decide applies an approver's decision to the request they hold
	Decide(ctx context.Context, cmd DecisionCommand) (*TransitionResult, error)

	// Resubmit puts a reversed request back at the start of its pipeline with corrected figures
	Resubmit(ctx context.Context, cmd ResubmitCommand) (*TransitionResult, error)
}

// Action is what an approver does with a request
type Action string

const (
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionReportDebt Action = "report_debt"
)

// IsValid returns true for known actions
func (a Action) IsValid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionReportDebt:
		return true
	default:
		return false
	}
}

// CreateCommand is the creation intake
type CreateCommand struct {
	Kind        entity.Kind         `json:"kind"`
	Branch      string              `json:"branch"`
	Brand       string              `json:"brand"`
	SubmitterID string              `json:"submitter_id"`
	Dataset     []entity.DatasetRow `json:"dataset"`
	Total       decimal.Decimal     `json:"total"`
	Context     string              `json:"context"`
}

// DecisionCommand is the decision intake. Submission is required for ActionReportDebt.
type DecisionCommand struct {
	RequestID  int64                 `json:"request_id"`
	ActorID    string                `json:"actor_id"`
	Action     Action                `json:"action"`
	Submission *reconcile.Submission `json:"submission,omitempty"`
	Reason     string                `json:"reason,omitempty"`
}

// ResubmitCommand replaces the figures of a reversed request
type ResubmitCommand struct {
	RequestID int64               `json:"request_id"`
	ActorID   string              `json:"actor_id"`
	Dataset   []entity.DatasetRow `json:"dataset"`
	Total     decimal.Decimal     `json:"total"`
	Context   string              `json:"context,omitempty"`
}

// TransitionResult describes a committed transition
type TransitionResult struct {
	Request        *entity.Request       `json:"request"`
	RecordID       int64                 `json:"record_id"`
	PreviousStatus string                `json:"previous_status"`
	NewStatus      string                `json:"new_status"`
	Assignee       *assignment.Candidate `json:"assignee,omitempty"`
	Reconciliation *reconcile.Result     `json:"reconciliation,omitempty"`
	Warnings       []string              `json:"warnings,omitempty"`

	// AssignmentErr is ErrNoEligibleAssignee when the transition left the request unassigned
	AssignmentErr error `json:"-"`
}
