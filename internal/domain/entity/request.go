package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies a debt-clearance request
type Kind string

const (
	KindNormal Kind = "NORMAL"
	KindSet    Kind = "SET"
)

// IsValid returns true if the kind is a known request kind
func (k Kind) IsValid() bool {
	return k == KindNormal || k == KindSet
}

// Role identifies which stage an actor may act for
type Role string

const (
	RoleManager    Role = "manager"
	RoleLeader     Role = "leader"
	RoleCashier    Role = "cashier"
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
)

// IsApprover returns true for roles that can hold a request stage
func (r Role) IsApprover() bool {
	switch r {
	case RoleLeader, RoleCashier, RoleOperator, RoleSupervisor:
		return true
	default:
		return false
	}
}

// DatasetRow is one labeled figure (per sub-agent or per client)
type DatasetRow struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// Request represents a debt-clearance request moving through the approval pipeline
type Request struct {
	ID          int64  `json:"id"`
	UID         string `json:"uid"`
	Kind        Kind   `json:"kind"`
	Status      string `json:"status"`
	Branch      string `json:"branch"`
	Brand       string `json:"brand"`
	SubmitterID string `json:"submitter_id"`

	// Routing fields, mutated only while the request is locked
	CurrentAssigneeID   *string    `json:"current_assignee_id,omitempty"`
	CurrentAssigneeRole *Role      `json:"current_assignee_role,omitempty"`
	Locked              bool       `json:"locked"`
	LockedBy            *string    `json:"locked_by,omitempty"`
	LockedAt            *time.Time `json:"locked_at,omitempty"`

	Dataset      []DatasetRow    `json:"dataset,omitempty"`
	Total        decimal.Decimal `json:"total"`
	Context      string          `json:"context,omitempty"`
	PublishedURL string          `json:"published_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasAssignee returns true when an actor currently holds the request
func (r *Request) HasAssignee() bool {
	return r.CurrentAssigneeID != nil && r.CurrentAssigneeRole != nil
}

// AssignedTo reports whether the given actor is the current assignee
func (r *Request) AssignedTo(actorID string) bool {
	return r.CurrentAssigneeID != nil && *r.CurrentAssigneeID == actorID
}

// DatasetTotal sums the dataset rows
func (r *Request) DatasetTotal() decimal.Decimal {
	total := decimal.Zero
	for _, row := range r.Dataset {
		total = total.Add(row.Amount)
	}
	return total
}

// Scope returns the scope a stage role is resolved against.
// Cashiers serve a branch; leaders, operators and supervisors serve a brand.
func (r *Request) Scope(role Role) Scope {
	if role == RoleCashier {
		return Scope{Type: ScopeBranch, ID: r.Branch}
	}
	return Scope{Type: ScopeBrand, ID: r.Brand}
}
