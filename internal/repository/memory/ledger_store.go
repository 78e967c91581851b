package memory

import (
	"context"
	"fmt"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

// LedgerStore applies reservation and goal deltas under the shared lock, so
// every call is an atomic compare-and-adjust.
type LedgerStore struct {
	s *state
}

func (l *LedgerStore) AdjustCategoryFundBalance(ctx context.Context, categoryID string, amountDelta domain.Amount, accountID string) (*domain.Reservation, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	for _, res := range l.s.reservations {
		if res.Kind != domain.KindCategoryFund || res.OwnerEntityID != categoryID {
			continue
		}
		if accountID != "" && res.AccountID != accountID {
			return nil, fmt.Errorf("%w: category fund %s is not on account %s",
				repository.ErrNotFound, categoryID, accountID)
		}
		return l.s.adjustReservation(res, amountDelta)
	}

	return nil, fmt.Errorf("%w: category fund %s", repository.ErrNotFound, categoryID)
}

func (l *LedgerStore) AdjustCategoryReservation(ctx context.Context, categoryID, accountID string, amountDelta domain.Amount) (*domain.Reservation, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	for _, res := range l.s.reservations {
		if res.Kind == domain.KindCategoryReservation && res.OwnerEntityID == categoryID && res.AccountID == accountID {
			return l.s.adjustReservation(res, amountDelta)
		}
	}

	return nil, fmt.Errorf("%w: category reservation %s on account %s",
		repository.ErrNotFound, categoryID, accountID)
}

func (l *LedgerStore) AdjustAccountFundBalance(ctx context.Context, fundID string, amountDelta domain.Amount) (*domain.Reservation, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	res, exists := l.s.reservations[fundID]
	if !exists || res.Kind != domain.KindFund {
		return nil, fmt.Errorf("%w: fund %s", repository.ErrNotFound, fundID)
	}

	return l.s.adjustReservation(res, amountDelta)
}

func (l *LedgerStore) AdjustGoalSavedAmount(ctx context.Context, goalID string, amountDelta domain.Amount) (*domain.Goal, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if amountDelta == 0 {
		return nil, fmt.Errorf("%w: delta must be non-zero", domain.ErrInvalidAmount)
	}

	goal, exists := l.s.goals[goalID]
	if !exists {
		return nil, fmt.Errorf("%w: goal %s", repository.ErrNotFound, goalID)
	}

	next, err := goal.SavedAmount.Add(amountDelta)
	if err != nil {
		return nil, err
	}
	if next < 0 {
		return nil, fmt.Errorf("%w: goal %s has %s saved, requested %s",
			domain.ErrInsufficientSaved, goalID, goal.SavedAmount, amountDelta.Abs())
	}

	goal.SavedAmount = next
	goal.UpdatedAt = now()
	l.s.goals[goalID] = goal

	goal = goal.Clone()
	return &goal, nil
}
