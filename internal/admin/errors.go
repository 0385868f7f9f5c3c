package admin

import "errors"

// Sentinel errors for admin operations.
var (
	ErrInvalidPhase       = errors.New("unknown phase value")
	ErrTransitionRejected = errors.New("transition rejected by state machine")
	ErrReasonRequired     = errors.New("a reason is required for forced changes")
)
