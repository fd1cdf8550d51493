package entity

import (
	"encoding/json"
	"time"
)

// Decision is the outcome recorded for a single approval step
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionReversed Decision = "reversed"
	DecisionRejected Decision = "rejected"

	// DecisionResubmitted is recorded when the submitter corrects a reversed request
	DecisionResubmitted Decision = "resubmitted"
)

// ApprovalRecord is an append-only entry in a request's audit trail
type ApprovalRecord struct {
	ID             int64           `json:"id"`
	RequestID      int64           `json:"request_id"`
	ActorID        string          `json:"actor_id"`
	Role           Role            `json:"role"`
	Decision       Decision        `json:"decision"`
	PreviousStatus string          `json:"previous_status"`
	NewStatus      string          `json:"new_status"`
	Detail         json.RawMessage `json:"detail,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ArchivedRequest is the read-only snapshot kept after final approval
type ArchivedRequest struct {
	RequestID  int64           `json:"request_id"`
	UID        string          `json:"uid"`
	Snapshot   json.RawMessage `json:"snapshot"`
	ArchivedAt time.Time       `json:"archived_at"`
}
