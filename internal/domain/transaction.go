package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventExpense      EventType = "expense"
	EventIncome       EventType = "income"
	EventTransfer     EventType = "transfer"
	EventGoalDeposit  EventType = "goal"
	EventGoalWithdraw EventType = "goal_withdraw"
)

func (t EventType) Valid() bool {
	switch t {
	case EventExpense, EventIncome, EventTransfer, EventGoalDeposit, EventGoalWithdraw:
		return true
	}
	return false
}

// IsGoal reports whether the event moves money into or out of a Goal.
func (t EventType) IsGoal() bool {
	return t == EventGoalDeposit || t == EventGoalWithdraw
}

// LedgerEvent is an append-only record of money movement (a transaction).
type LedgerEvent struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Type          EventType `json:"type"`
	Amount        Amount    `json:"amount"`
	FromAccountID string    `json:"from_account_id,omitempty"`
	ToAccountID   string    `json:"to_account_id,omitempty"`
	CategoryID    string    `json:"category_id,omitempty"`
	GoalID        string    `json:"goal_id,omitempty"`
	// ReservationID is the reservation an expense debited, if any.
	ReservationID string    `json:"reservation_id,omitempty"`
	Currency      string    `json:"currency"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func NewLedgerEvent(t EventType, amount Amount, currency string) *LedgerEvent {
	now := time.Now().UTC()
	return &LedgerEvent{
		ID:        uuid.New().String(),
		Type:      t,
		Amount:    amount,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (e *LedgerEvent) WithOwner(ownerID string) *LedgerEvent {
	e.OwnerID = ownerID
	return e
}

func (e *LedgerEvent) WithAccounts(fromID, toID string) *LedgerEvent {
	e.FromAccountID = fromID
	e.ToAccountID = toID
	return e
}

func (e *LedgerEvent) WithCategory(categoryID string) *LedgerEvent {
	e.CategoryID = categoryID
	return e
}

func (e *LedgerEvent) WithGoal(goalID string) *LedgerEvent {
	e.GoalID = goalID
	return e
}

func (e *LedgerEvent) WithReservation(reservationID string) *LedgerEvent {
	e.ReservationID = reservationID
	return e
}

func (e *LedgerEvent) WithNote(note string) *LedgerEvent {
	e.Note = note
	return e
}

// BalanceEffects lists the account balance changes the event implies.
func (e LedgerEvent) BalanceEffects() []BalanceEffect {
	switch e.Type {
	case EventExpense, EventGoalDeposit:
		return []BalanceEffect{{AccountID: e.FromAccountID, Delta: -e.Amount}}
	case EventIncome, EventGoalWithdraw:
		return []BalanceEffect{{AccountID: e.ToAccountID, Delta: e.Amount}}
	case EventTransfer:
		return []BalanceEffect{
			{AccountID: e.FromAccountID, Delta: -e.Amount},
			{AccountID: e.ToAccountID, Delta: e.Amount},
		}
	}
	return nil
}

// AccountIDs returns the non-empty account ids the event references.
func (e LedgerEvent) AccountIDs() []string {
	var ids []string
	if e.FromAccountID != "" {
		ids = append(ids, e.FromAccountID)
	}
	if e.ToAccountID != "" {
		ids = append(ids, e.ToAccountID)
	}
	return ids
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.New().String()
}
