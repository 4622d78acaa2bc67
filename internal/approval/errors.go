package approval

import "errors"

var (
	// ErrNotPending is returned when a decision or override targets an
	// expense that has already reached a terminal status
	ErrNotPending = errors.New("expense is not pending")

	// ErrNotCurrentApprover is returned when the acting user is not the
	// approver whose decision is currently expected
	ErrNotCurrentApprover = errors.New("user is not the current approver")

	// ErrNotEligible is returned when a user tries to vote on a dynamic
	// step without being an active manager or admin of the company
	ErrNotEligible = errors.New("user is not eligible to act on this step")

	// ErrNoApprover is returned when no rule matches and the default
	// sequence resolves to nobody; the expense needs manual intervention
	ErrNoApprover = errors.New("no approver available for expense")

	// ErrUnknownAction is returned for decision actions other than
	// approve and reject
	ErrUnknownAction = errors.New("unknown decision action")
)
