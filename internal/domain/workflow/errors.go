package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a trigger is not configured for the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a stored status is not a known state
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when every configured transition for a trigger is guarded out,
	// typically because the acting role does not match
	ErrGuardFailed = errors.New("guard condition failed")
)
