package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
)

func TestEventValidator_Validate(t *testing.T) {
	v := NewEventValidator()

	tests := []struct {
		name    string
		event   *domain.LedgerEvent
		wantErr []error
	}{
		{
			name:  "valid expense",
			event: domain.NewLedgerEvent(domain.EventExpense, 500, "INR").WithAccounts("a1", "").WithCategory("c1"),
		},
		{
			name:  "valid transfer",
			event: domain.NewLedgerEvent(domain.EventTransfer, 500, "INR").WithAccounts("a1", "a2"),
		},
		{
			name:  "valid goal deposit",
			event: domain.NewLedgerEvent(domain.EventGoalDeposit, 500, "INR").WithAccounts("a1", "").WithGoal("g1"),
		},
		{
			name:    "zero amount",
			event:   domain.NewLedgerEvent(domain.EventIncome, 0, "INR").WithAccounts("", "a1"),
			wantErr: []error{domain.ErrInvalidAmount},
		},
		{
			name:    "negative amount and bad currency",
			event:   domain.NewLedgerEvent(domain.EventIncome, -5, "inr").WithAccounts("", "a1"),
			wantErr: []error{domain.ErrInvalidAmount, ErrInvalidCurrency, domain.ErrInvalidInput},
		},
		{
			name:    "expense with destination",
			event:   domain.NewLedgerEvent(domain.EventExpense, 5, "INR").WithAccounts("a1", "a2"),
			wantErr: []error{ErrInvalidAccount},
		},
		{
			name:    "income without destination",
			event:   domain.NewLedgerEvent(domain.EventIncome, 5, "INR"),
			wantErr: []error{ErrInvalidAccount},
		},
		{
			name:    "transfer to same account",
			event:   domain.NewLedgerEvent(domain.EventTransfer, 5, "INR").WithAccounts("a1", "a1"),
			wantErr: []error{ErrInvalidAccount},
		},
		{
			name:    "goal withdraw without goal",
			event:   domain.NewLedgerEvent(domain.EventGoalWithdraw, 5, "INR").WithAccounts("", "a1"),
			wantErr: []error{ErrInvalidField},
		},
		{
			name:    "transfer with category",
			event:   domain.NewLedgerEvent(domain.EventTransfer, 5, "INR").WithAccounts("a1", "a2").WithCategory("c1"),
			wantErr: []error{ErrInvalidField},
		},
		{
			name:    "unknown type",
			event:   domain.NewLedgerEvent("refund", 5, "INR").WithAccounts("a1", ""),
			wantErr: []error{ErrInvalidType},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.event)
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
		})
	}
}

func TestEventValidator_FutureDate(t *testing.T) {
	v := NewEventValidator()
	e := domain.NewLedgerEvent(domain.EventIncome, 100, "USD").WithAccounts("", "a1")
	e.CreatedAt = time.Now().Add(time.Hour)

	assert.ErrorIs(t, v.Validate(e), domain.ErrInvalidInput)
}

func TestEventValidator_ValidateCurrency(t *testing.T) {
	v := NewEventValidator()
	assert.NoError(t, v.ValidateCurrency("EUR"))
	assert.ErrorIs(t, v.ValidateCurrency("EURO"), ErrInvalidCurrency)
}
