package event

// Type identifies the type of domain event
type Type string

const (
	TypeRequestCreated  Type = "request.created"
	TypeRequestAdvanced Type = "request.advanced"
	TypeRequestReversed Type = "request.reversed"
	TypeRequestRejected Type = "request.rejected"
	TypeRequestArchived Type = "request.archived"
	TypeRequestReminder Type = "request.reminder"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRequestCreated,
		TypeRequestAdvanced,
		TypeRequestReversed,
		TypeRequestRejected,
		TypeRequestArchived,
		TypeRequestReminder:
		return true
	default:
		return false
	}
}
