package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition     = errors.New("transition not allowed")
	ErrOrderTerminal         = errors.New("order is in a terminal state")
	ErrNotOrderOwner         = errors.New("order belongs to another customer")
	ErrNoActiveSession       = errors.New("no active review session")
	ErrUnexpectedReviewInput = errors.New("input does not match the current review step")
	// ErrLedgerUnavailable is returned by a ledger running in degraded mode.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// ValidationError is malformed caller input. It is recovered by asking
// again, never treated as a failure of the service.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
