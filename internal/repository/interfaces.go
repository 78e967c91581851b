package repository

import (
	"context"
	"errors"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
)

type AccountRepository interface {
	Save(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByOwnerID(ctx context.Context, ownerID string) ([]*domain.Account, error)
	// SetBalance is a direct account edit. It is rejected when the new
	// balance would fall below the account's reserved total.
	SetBalance(ctx context.Context, id string, balance domain.Amount) (*domain.Account, error)
	// Delete is rejected while a reservation with a non-zero balance is
	// bound to the account; empty reservations are removed with it.
	Delete(ctx context.Context, id string) error
}

type CategoryRepository interface {
	Save(ctx context.Context, category *domain.Category) error
	GetByID(ctx context.Context, id string) (*domain.Category, error)
	GetByOwnerID(ctx context.Context, ownerID string) ([]*domain.Category, error)
}

type ReservationRepository interface {
	// Create registers a reservation with a zero balance. Balances are
	// changed only through LedgerStore deltas.
	Create(ctx context.Context, reservation *domain.Reservation) error
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)
	GetByAccountID(ctx context.Context, accountID string) ([]*domain.Reservation, error)
	GetByOwnerID(ctx context.Context, ownerID string) ([]*domain.Reservation, error)
	// Delete is rejected with domain.ErrNonZeroBalance unless the balance is 0.
	Delete(ctx context.Context, id string) error
}

type GoalRepository interface {
	Save(ctx context.Context, goal *domain.Goal) error
	GetByID(ctx context.Context, id string) (*domain.Goal, error)
	GetByOwnerID(ctx context.Context, ownerID string) ([]*domain.Goal, error)
	// Complete moves an active goal to completed; anything else is
	// rejected with domain.ErrGoalNotActive.
	Complete(ctx context.Context, id string) (*domain.Goal, error)
}

// EventRepository persists LedgerEvents. Insert, Update and Delete apply the
// event's balance effects to the referenced accounts atomically with the row
// change.
type EventRepository interface {
	Insert(ctx context.Context, event *domain.LedgerEvent) error
	GetByID(ctx context.Context, id string) (*domain.LedgerEvent, error)
	GetByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*domain.LedgerEvent, error)
	Update(ctx context.Context, event *domain.LedgerEvent) error
	Delete(ctx context.Context, id string) error
}

// LedgerStore is the remote delta contract. Each call takes a signed delta
// and is an atomic compare-and-adjust: it is rejected server-side when it
// would drive a balance negative or push an account's reserved total above
// its balance.
type LedgerStore interface {
	// AdjustCategoryFundBalance maps to adjust_category_fund_balance. When
	// accountID is non-empty it must match the fund's account.
	AdjustCategoryFundBalance(ctx context.Context, categoryID string, amountDelta domain.Amount, accountID string) (*domain.Reservation, error)
	// AdjustCategoryReservation maps to adjust_category_reservation.
	AdjustCategoryReservation(ctx context.Context, categoryID, accountID string, amountDelta domain.Amount) (*domain.Reservation, error)
	// AdjustAccountFundBalance maps to adjust_account_fund_balance.
	AdjustAccountFundBalance(ctx context.Context, fundID string, amountDelta domain.Amount) (*domain.Reservation, error)
	// AdjustGoalSavedAmount maps to adjust_goal_saved_amount.
	AdjustGoalSavedAmount(ctx context.Context, goalID string, amountDelta domain.Amount) (*domain.Goal, error)
}

// Store bundles the collaborators the ledger core talks to.
type Store struct {
	Accounts     AccountRepository
	Categories   CategoryRepository
	Reservations ReservationRepository
	Goals        GoalRepository
	Events       EventRepository
	Ledger       LedgerStore
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)
