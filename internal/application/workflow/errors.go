package workflow

import (
	"errors"

	"github.com/garyjia/debt-clearance/internal/domain/reconcile"
)

var (
	// ErrNotEligible is returned when the actor may not perform the decision on the
	// request in its current state. Nothing is mutated.
	ErrNotEligible = errors.New("actor not eligible for this request")

	// ErrAlreadyInProgress is returned when another transition holds the request lock
	ErrAlreadyInProgress = errors.New("request already being processed")

	// ErrNoEligibleAssignee marks a transition that completed without a next assignee
	ErrNoEligibleAssignee = errors.New("no eligible assignee")

	// ErrPersistence wraps storage failures during a transition
	ErrPersistence = errors.New("persistence failure")

	// ErrRequestNotFound is returned when the request id is unknown
	ErrRequestNotFound = errors.New("request not found")

	// ErrInvalidRequest is returned for malformed creation or decision commands
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMalformedDataset is returned when submitted figures cannot be parsed
	ErrMalformedDataset = reconcile.ErrMalformedDataset
)
