package workflow

import "github.com/garyjia/debt-clearance/internal/domain/entity"

// State represents a workflow state in the clearance lifecycle
type State string

const (
	StatePendingApproval      State = "PENDING_APPROVAL"
	StateSetPending           State = "SET_PENDING"
	StateApprovedByLeader     State = "APPROVED_BY_LEADER"
	StateApprovedByCashier    State = "APPROVED_BY_CASHIER"
	StateApprovedByOperator   State = "APPROVED_BY_OPERATOR"
	StateApprovedBySupervisor State = "APPROVED_BY_SUPERVISOR"
	StateFinalApproved        State = "FINAL_APPROVED"
	StateRejected             State = "REJECTED"
	StateReversedByCashier    State = "REVERSED_BY_CASHIER"
	StateReversedByOperator   State = "REVERSED_BY_OPERATOR"
	StateReversedBySupervisor State = "REVERSED_BY_SUPERVISOR"
)

var validStates = map[State]bool{
	StatePendingApproval:      true,
	StateSetPending:           true,
	StateApprovedByLeader:     true,
	StateApprovedByCashier:    true,
	StateApprovedByOperator:   true,
	StateApprovedBySupervisor: true,
	StateFinalApproved:        true,
	StateRejected:             true,
	StateReversedByCashier:    true,
	StateReversedByOperator:   true,
	StateReversedBySupervisor: true,
}

var terminalStates = map[State]bool{
	StateFinalApproved: true,
	StateRejected:      true,
}

var reversedStates = map[State]bool{
	StateReversedByCashier:    true,
	StateReversedByOperator:   true,
	StateReversedBySupervisor: true,
}

// stageRoles lists the assignee roles a state may be held by
var stageRoles = map[State][]entity.Role{
	StateSetPending:        {entity.RoleLeader},
	StatePendingApproval:   {entity.RoleCashier},
	StateApprovedByLeader:  {entity.RoleCashier},
	StateApprovedByCashier: {entity.RoleOperator, entity.RoleSupervisor},
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsReversed returns true for the REVERSED_BY_<ROLE> states
func (s State) IsReversed() bool {
	return reversedStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}

// StageRoles returns the roles that may hold a request in this state.
// States without a human stage return nil.
func (s State) StageRoles() []entity.Role {
	return stageRoles[s]
}

// AcceptsRole reports whether an assignee with the given role is consistent with the state
func (s State) AcceptsRole(role entity.Role) bool {
	for _, r := range stageRoles[s] {
		if r == role {
			return true
		}
	}
	return false
}

// InitialState returns the state a freshly created request of the given kind starts in
func InitialState(kind entity.Kind) State {
	if kind == entity.KindSet {
		return StateSetPending
	}
	return StatePendingApproval
}

// NonTerminalStates returns every state that still routes work
func NonTerminalStates() []State {
	states := make([]State, 0, len(validStates))
	for s := range validStates {
		if !s.IsTerminal() {
			states = append(states, s)
		}
	}
	return states
}
