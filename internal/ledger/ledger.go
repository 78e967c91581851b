// Package ledger keeps account balances, reservations and goals consistent.
// Engines pre-validate against a Snapshot, write through the store, and
// unwind multi-call operations with compensating actions when a later call
// fails.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
	"github.com/Utkarshvr/budget-tracker-sub000/pkg/validator"
)

type Ledger struct {
	Loader       *Loader
	Registry     *Registry
	Allocation   *AllocationEngine
	Goals        *GoalEngine
	Orchestrator *Orchestrator

	store     repository.Store
	validator *validator.EventValidator
	c         *caller
}

func New(store repository.Store, opts Options) *Ledger {
	c := newCaller(opts)
	v := validator.NewEventValidator()
	registry := &Registry{logger: c.logger, metrics: c.metrics}
	allocation := &AllocationEngine{store: store, registry: registry, c: c}
	goals := &GoalEngine{store: store, c: c}

	return &Ledger{
		Loader:     &Loader{store: store, c: c},
		Registry:   registry,
		Allocation: allocation,
		Goals:      goals,
		Orchestrator: &Orchestrator{
			store:      store,
			validator:  v,
			registry:   registry,
			allocation: allocation,
			goals:      goals,
			c:          c,
		},
		store:     store,
		validator: v,
		c:         c,
	}
}

type CreateAccountRequest struct {
	Name     string
	Type     domain.AccountType
	Currency string
	Balance  domain.Amount
}

func (l *Ledger) CreateAccount(ctx context.Context, snap *Snapshot, req CreateAccountRequest) (account *domain.Account, err error) {
	defer l.c.observe("create_account", time.Now(), &err)

	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: account needs a name", domain.ErrInvalidInput)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: account type %q", domain.ErrInvalidInput, req.Type)
	}
	if err := l.validator.ValidateCurrency(req.Currency); err != nil {
		return nil, err
	}

	account = &domain.Account{
		ID:       domain.NewID(),
		OwnerID:  snap.OwnerID,
		Name:     req.Name,
		Type:     req.Type,
		Currency: req.Currency,
		Balance:  req.Balance,
	}

	err = l.c.call(ctx, func(ctx context.Context) error {
		return l.store.Accounts.Save(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	snap.putAccount(*account)
	return account, nil
}

// SetAccountBalance is a direct account edit. The new balance must still
// cover everything reserved against the account.
func (l *Ledger) SetAccountBalance(ctx context.Context, snap *Snapshot, accountID string, balance domain.Amount) (account *domain.Account, err error) {
	defer l.c.observe("set_account_balance", time.Now(), &err)

	if _, err := snap.Account(accountID); err != nil {
		return nil, err
	}
	reserved, err := l.Registry.ReservedTotal(snap, accountID)
	if err != nil {
		return nil, err
	}
	if balance < reserved {
		return nil, fmt.Errorf("%w: account %s has %s reserved, balance %s would leave it overcommitted",
			domain.ErrInsufficientFreeToPlan, accountID, reserved, balance)
	}

	err = l.c.call(ctx, func(ctx context.Context) error {
		var err error
		account, err = l.store.Accounts.SetBalance(ctx, accountID, balance)
		return err
	})
	if err != nil {
		return nil, err
	}

	snap.putAccount(*account)
	return account, nil
}

// DeleteAccount is blocked while any reservation on the account holds
// money. Empty reservations are removed with it.
func (l *Ledger) DeleteAccount(ctx context.Context, snap *Snapshot, accountID string) (err error) {
	defer l.c.observe("delete_account", time.Now(), &err)

	if _, err := snap.Account(accountID); err != nil {
		return err
	}
	for _, res := range snap.ReservationsOn(accountID) {
		if res.Balance != 0 {
			return fmt.Errorf("%w: reservation %s on account %s holds %s",
				domain.ErrNonZeroBalance, res.ID, accountID, res.Balance)
		}
	}

	err = l.c.call(ctx, func(ctx context.Context) error {
		return l.store.Accounts.Delete(ctx, accountID)
	})
	if err != nil {
		return err
	}

	snap.removeAccount(accountID)
	return nil
}

func (l *Ledger) CreateCategory(ctx context.Context, ownerID, name string, kind domain.CategoryKind, emoji string) (category *domain.Category, err error) {
	defer l.c.observe("create_category", time.Now(), &err)

	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: category needs a name", domain.ErrInvalidInput)
	}
	if kind != domain.CategoryExpense && kind != domain.CategoryIncome {
		return nil, fmt.Errorf("%w: category kind %q", domain.ErrInvalidInput, kind)
	}

	category = &domain.Category{
		ID:      domain.NewID(),
		OwnerID: ownerID,
		Name:    name,
		Kind:    kind,
		Emoji:   emoji,
	}
	err = l.c.call(ctx, func(ctx context.Context) error {
		return l.store.Categories.Save(ctx, category)
	})
	if err != nil {
		return nil, err
	}
	return category, nil
}

func (l *Ledger) Categories(ctx context.Context, ownerID string) ([]*domain.Category, error) {
	var categories []*domain.Category
	err := l.c.call(ctx, func(ctx context.Context) error {
		var err error
		categories, err = l.store.Categories.GetByOwnerID(ctx, ownerID)
		return err
	})
	return categories, err
}

// Category reads one of ownerID's categories.
func (l *Ledger) Category(ctx context.Context, ownerID, id string) (category *domain.Category, err error) {
	defer l.c.observe("get_category", time.Now(), &err)
	return lookupCategory(ctx, l.c, l.store, ownerID, id)
}

// lookupCategory reads a category, reporting another owner's category as
// not found.
func lookupCategory(ctx context.Context, c *caller, store repository.Store, ownerID, id string) (*domain.Category, error) {
	var category *domain.Category
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		category, err = store.Categories.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if category.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: category %s", repository.ErrNotFound, id)
	}
	return category, nil
}

// AccountSummary is an account with its free-to-plan breakdown and the
// reservations drawn against it.
type AccountSummary struct {
	Account      domain.Account       `json:"account"`
	FreeToPlan   FreeToPlan           `json:"free_to_plan"`
	Reservations []domain.Reservation `json:"reservations"`
}

func (l *Ledger) Summary(snap *Snapshot, accountID string) (AccountSummary, error) {
	account, err := snap.Account(accountID)
	if err != nil {
		return AccountSummary{}, err
	}
	ftp, err := l.Registry.FreeToPlan(snap, accountID)
	if err != nil {
		return AccountSummary{}, err
	}

	reservations := snap.ReservationsOn(accountID)
	if reservations == nil {
		reservations = []domain.Reservation{}
	}
	return AccountSummary{Account: account, FreeToPlan: ftp, Reservations: reservations}, nil
}

func (l *Ledger) Summaries(snap *Snapshot) []AccountSummary {
	accounts := snap.Accounts()
	result := make([]AccountSummary, 0, len(accounts))
	for _, account := range accounts {
		summary, err := l.Summary(snap, account.ID)
		if err != nil {
			continue
		}
		result = append(result, summary)
	}
	return result
}
