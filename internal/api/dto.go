package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
)

type CreateAccountRequest struct {
	Name     string             `json:"name" validate:"required,max=100"`
	Type     domain.AccountType `json:"type" validate:"required,oneof=cash checking savings credit_card"`
	Currency string             `json:"currency" validate:"required,len=3,uppercase"`
	Balance  domain.Amount      `json:"balance"`
}

type SetBalanceRequest struct {
	Balance *domain.Amount `json:"balance" validate:"required"`
}

type CreateCategoryRequest struct {
	Name  string              `json:"name" validate:"required,max=100"`
	Kind  domain.CategoryKind `json:"kind" validate:"required,oneof=expense income"`
	Emoji string              `json:"emoji,omitempty" validate:"max=16"`
}

type CreateReservationRequest struct {
	Kind          domain.OwnerKind `json:"kind" validate:"required,oneof=category_fund category_reservation fund"`
	CategoryID    string           `json:"category_id,omitempty" validate:"required_unless=Kind fund"`
	AccountID     string           `json:"account_id" validate:"required"`
	Name          string           `json:"name,omitempty" validate:"required_if=Kind fund,max=100"`
	Currency      string           `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	InitialAmount domain.Amount    `json:"initial_amount" validate:"gte=0"`
	TargetAmount  *domain.Amount   `json:"target_amount,omitempty" validate:"omitempty,gte=0"`
}

type AmountRequest struct {
	Amount domain.Amount `json:"amount" validate:"gt=0"`
}

type CreateTransactionRequest struct {
	Type          domain.EventType `json:"type" validate:"required,oneof=expense income transfer goal goal_withdraw"`
	Amount        domain.Amount    `json:"amount" validate:"gt=0"`
	Currency      string           `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	FromAccountID string           `json:"from_account_id,omitempty"`
	ToAccountID   string           `json:"to_account_id,omitempty"`
	CategoryID    string           `json:"category_id,omitempty"`
	GoalID        string           `json:"goal_id,omitempty"`
	Note          string           `json:"note,omitempty" validate:"max=500"`
}

type UpdateTransactionRequest struct {
	Amount        domain.Amount `json:"amount" validate:"gt=0"`
	FromAccountID string        `json:"from_account_id,omitempty"`
	ToAccountID   string        `json:"to_account_id,omitempty"`
	CategoryID    string        `json:"category_id,omitempty"`
	Note          string        `json:"note,omitempty" validate:"max=500"`
}

type CreateGoalRequest struct {
	Title        string          `json:"title" validate:"required,max=100"`
	TargetAmount domain.Amount   `json:"target_amount" validate:"gte=0"`
	Currency     string          `json:"currency" validate:"required,len=3,uppercase"`
	FundType     domain.FundType `json:"fund_type,omitempty" validate:"omitempty,oneof=target_goal emergency_fund budget_fund"`
}

type GoalMovementRequest struct {
	AccountID string        `json:"account_id" validate:"required"`
	Amount    domain.Amount `json:"amount" validate:"gt=0"`
	Note      string        `json:"note,omitempty" validate:"max=500"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

var errValidation = errors.New("validation failed")

var amountType = reflect.TypeOf(domain.Amount(0))

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest reports every failed field of req in one error. A failed
// amount field also wraps domain.ErrInvalidAmount.
func validateRequest(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", errValidation, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	badAmount := false
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
		badAmount = badAmount || isAmountField(fe)
	}
	if badAmount {
		return fmt.Errorf("%w: %w: %s", errValidation, domain.ErrInvalidAmount, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %s", errValidation, strings.Join(msgs, "; "))
}

// isAmountField reports whether fe failed a range check on an Amount.
// A missing required amount stays a plain validation error.
func isAmountField(fe validator.FieldError) bool {
	if fe.Tag() == "required" {
		return false
	}
	t := fe.Type()
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t == amountType
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_if", "required_unless":
		return fmt.Sprintf("'%s' is required", field)
	case "oneof":
		return fmt.Sprintf("'%s' must be one of [%s]", field, fe.Param())
	case "gt":
		return fmt.Sprintf("'%s' must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("'%s' must be at least %s", field, fe.Param())
	case "len":
		return fmt.Sprintf("'%s' must be %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("'%s' must be at most %s characters", field, fe.Param())
	case "uppercase":
		return fmt.Sprintf("'%s' must be uppercase", field)
	default:
		return fmt.Sprintf("'%s' failed '%s'", field, fe.Tag())
	}
}
