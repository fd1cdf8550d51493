package workflow

import (
	"github.com/garyjia/debt-clearance/internal/domain/entity"
	domainwf "github.com/garyjia/debt-clearance/internal/domain/workflow"
)

// BuildNormalStateMachine creates a state machine for requests without a leadership gate
func BuildNormalStateMachine(initialState domainwf.State) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	configureCashierStage(builder, domainwf.StatePendingApproval)
	configureOperatorStage(builder)
	configureResubmit(builder, domainwf.StatePendingApproval)

	return builder.Build(initialState)
}

// BuildSetStateMachine creates a state machine for SET requests, which pass a
// leader of the brand before reaching the cashier
func BuildSetStateMachine(initialState domainwf.State) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	leader := domainwf.RoleIs(entity.RoleLeader)
	builder.Configure(domainwf.StateSetPending).
		PermitIf(domainwf.TriggerApprove, domainwf.StateApprovedByLeader, leader).
		PermitIf(domainwf.TriggerReject, domainwf.StateRejected, leader)

	configureCashierStage(builder, domainwf.StateApprovedByLeader)
	configureOperatorStage(builder)
	configureResubmit(builder, domainwf.StateSetPending)

	return builder.Build(initialState)
}

// MachineFor returns the machine matching a request's kind, positioned at state
func MachineFor(kind entity.Kind, state domainwf.State) domainwf.StateMachine {
	if kind == entity.KindSet {
		return BuildSetStateMachine(state)
	}
	return BuildNormalStateMachine(state)
}

func configureCashierStage(builder domainwf.StateMachineBuilder, from domainwf.State) {
	cashier := domainwf.RoleIs(entity.RoleCashier)
	builder.Configure(from).
		PermitIf(domainwf.TriggerApprove, domainwf.StateApprovedByCashier, cashier).
		PermitIf(domainwf.TriggerReverse, domainwf.StateReversedByCashier, cashier)
}

func configureOperatorStage(builder domainwf.StateMachineBuilder) {
	operator := domainwf.RoleIs(entity.RoleOperator)
	supervisor := domainwf.RoleIs(entity.RoleSupervisor)

	builder.Configure(domainwf.StateApprovedByCashier).
		PermitIf(domainwf.TriggerApprove, domainwf.StateApprovedByOperator, operator).
		PermitIf(domainwf.TriggerApprove, domainwf.StateApprovedBySupervisor, supervisor).
		PermitIf(domainwf.TriggerReverse, domainwf.StateReversedByOperator, operator).
		PermitIf(domainwf.TriggerReverse, domainwf.StateReversedBySupervisor, supervisor)

	builder.Configure(domainwf.StateApprovedByOperator).
		Permit(domainwf.TriggerFinalize, domainwf.StateFinalApproved)
	builder.Configure(domainwf.StateApprovedBySupervisor).
		Permit(domainwf.TriggerFinalize, domainwf.StateFinalApproved)
}

func configureResubmit(builder domainwf.StateMachineBuilder, initial domainwf.State) {
	manager := domainwf.RoleIs(entity.RoleManager)
	for _, reversed := range []domainwf.State{
		domainwf.StateReversedByCashier,
		domainwf.StateReversedByOperator,
		domainwf.StateReversedBySupervisor,
	} {
		builder.Configure(reversed).
			PermitIf(domainwf.TriggerResubmit, initial, manager)
	}
}
