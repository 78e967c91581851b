package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

var now = func() time.Time { return time.Now().UTC() }

type AccountRepository struct {
	s *state
}

func (r *AccountRepository) Save(ctx context.Context, account *domain.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.accounts[account.ID]; exists {
		return fmt.Errorf("%w: account %s", repository.ErrDuplicate, account.ID)
	}

	at := now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = at
	}
	account.UpdatedAt = at
	r.s.accounts[account.ID] = *account

	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	account, exists := r.s.accounts[id]
	if !exists {
		return nil, fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}
	return &account, nil
}

func (r *AccountRepository) GetByOwnerID(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]*domain.Account, 0)
	for _, account := range r.s.accounts {
		if account.OwnerID == ownerID {
			account := account
			result = append(result, &account)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (r *AccountRepository) SetBalance(ctx context.Context, id string, balance domain.Amount) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	account, exists := r.s.accounts[id]
	if !exists {
		return nil, fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}

	if reserved := r.s.reservedOn(id); balance < reserved {
		return nil, fmt.Errorf("%w: account %s has %s reserved, balance %s would leave it overcommitted",
			domain.ErrInsufficientFreeToPlan, id, reserved, balance)
	}

	account.Balance = balance
	account.UpdatedAt = now()
	r.s.accounts[id] = account

	return &account, nil
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.accounts[id]; !exists {
		return fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}

	var bound []string
	for _, res := range r.s.reservations {
		if res.AccountID != id {
			continue
		}
		if res.Balance != 0 {
			return fmt.Errorf("%w: reservation %s on account %s holds %s",
				domain.ErrNonZeroBalance, res.ID, id, res.Balance)
		}
		bound = append(bound, res.ID)
	}

	for _, resID := range bound {
		delete(r.s.reservations, resID)
	}
	delete(r.s.accounts, id)

	return nil
}
