package domain

import (
	"errors"
	"fmt"
)

// Local validation and remote rejection errors. Callers match them with
// errors.Is; every layer wraps instead of replacing them.
var (
	ErrInvalidAmount                = errors.New("invalid amount")
	ErrInvalidInput                 = errors.New("invalid input")
	ErrInsufficientFreeToPlan       = errors.New("insufficient free-to-plan")
	ErrInsufficientReservedBalance  = errors.New("insufficient reserved balance")
	ErrInsufficientAccountBalance   = errors.New("insufficient account balance")
	ErrInsufficientSaved            = errors.New("insufficient saved amount")
	ErrAmountExceedsRemainingTarget = errors.New("amount exceeds remaining target")
	ErrCurrencyMismatch             = errors.New("currency mismatch")
	ErrNonZeroBalance               = errors.New("non-zero balance")
	ErrGoalNotActive                = errors.New("goal is not active")
	ErrNetwork                      = errors.New("network error")
	ErrCompensationFailure          = errors.New("compensation failure")
)

// CompensationError reports a saga whose compensating action could not be
// applied. The store is left holding a persisted inconsistency (for example
// a LedgerEvent whose reservation debit never happened).
type CompensationError struct {
	Operation string
	EntityID  string
	Cause     error
	Err       error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("%s: %s %s left inconsistent after %v: compensation error: %v",
		ErrCompensationFailure, e.Operation, e.EntityID, e.Cause, e.Err)
}

// Unwrap exposes both ErrCompensationFailure and the original cause.
func (e *CompensationError) Unwrap() []error {
	return []error{ErrCompensationFailure, e.Cause}
}
