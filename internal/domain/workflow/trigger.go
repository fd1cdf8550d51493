package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerApprove  Trigger = "APPROVE"
	TriggerReverse  Trigger = "REVERSE"
	TriggerReject   Trigger = "REJECT"
	TriggerFinalize Trigger = "FINALIZE"
	TriggerResubmit Trigger = "RESUBMIT"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
