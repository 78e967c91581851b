package validator

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
)

var (
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidAccount  = errors.New("invalid account")
	ErrInvalidType     = errors.New("invalid event type")
	ErrInvalidField    = errors.New("invalid field")
)

// EventValidator checks the per-type field rules of a LedgerEvent. It never
// touches the store.
type EventValidator struct {
	currencyRegex *regexp.Regexp
	maxFutureSkew time.Duration
}

func NewEventValidator() *EventValidator {
	return &EventValidator{
		currencyRegex: regexp.MustCompile(`^[A-Z]{3}$`),
		maxFutureSkew: 5 * time.Minute,
	}
}

// Validate reports every rule the event breaks. Each failure wraps
// domain.ErrInvalidAmount or domain.ErrInvalidInput.
func (v *EventValidator) Validate(e *domain.LedgerEvent) error {
	var errs []error

	if e.Amount <= 0 {
		errs = append(errs, fmt.Errorf("%w: amount must be positive, got %s", domain.ErrInvalidAmount, e.Amount))
	}

	if !v.currencyRegex.MatchString(e.Currency) {
		errs = append(errs, invalid(ErrInvalidCurrency, "%q", e.Currency))
	}

	from, to := e.FromAccountID != "", e.ToAccountID != ""
	switch e.Type {
	case domain.EventExpense, domain.EventGoalDeposit:
		if !from || to {
			errs = append(errs, invalid(ErrInvalidAccount, "%s needs a source account only", e.Type))
		}
	case domain.EventIncome, domain.EventGoalWithdraw:
		if from || !to {
			errs = append(errs, invalid(ErrInvalidAccount, "%s needs a destination account only", e.Type))
		}
	case domain.EventTransfer:
		if !from || !to {
			errs = append(errs, invalid(ErrInvalidAccount, "transfer needs both accounts"))
		} else if e.FromAccountID == e.ToAccountID {
			errs = append(errs, invalid(ErrInvalidAccount, "cannot transfer to same account"))
		}
	default:
		errs = append(errs, invalid(ErrInvalidType, "%q", e.Type))
	}

	if e.Type.IsGoal() && e.GoalID == "" {
		errs = append(errs, invalid(ErrInvalidField, "%s needs a goal", e.Type))
	}
	if e.CategoryID != "" && e.Type != domain.EventExpense && e.Type != domain.EventIncome {
		errs = append(errs, invalid(ErrInvalidField, "%s cannot carry a category", e.Type))
	}

	if e.CreatedAt.After(time.Now().Add(v.maxFutureSkew)) {
		errs = append(errs, invalid(ErrInvalidField, "event date cannot be in the future"))
	}

	return errors.Join(errs...)
}

// ValidateCurrency checks a bare ISO 4217 style code.
func (v *EventValidator) ValidateCurrency(currency string) error {
	if !v.currencyRegex.MatchString(currency) {
		return invalid(ErrInvalidCurrency, "%q", currency)
	}
	return nil
}

func invalid(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", domain.ErrInvalidInput, kind, fmt.Sprintf(format, args...))
}
