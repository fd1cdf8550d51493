package workflow

import "context"

// StateMachine tracks the state of one request and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is configured for the current state and
	// at least one of its guards passes for ctx
	CanFire(ctx context.Context, trigger Trigger) bool

	// Peek returns the state Fire would move to without changing the machine
	Peek(ctx context.Context, trigger Trigger) (State, error)

	// Fire attempts to execute the trigger, transitioning to the new state if allowed
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns all triggers configured for the current state
	PermittedTriggers() []Trigger
}
