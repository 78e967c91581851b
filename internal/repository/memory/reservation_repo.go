package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

type ReservationRepository struct {
	s *state
}

func (r *ReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if !res.Kind.Valid() {
		return fmt.Errorf("%w: reservation kind %q", domain.ErrInvalidInput, res.Kind)
	}
	if res.Balance != 0 {
		return fmt.Errorf("%w: reservation must be created empty", domain.ErrInvalidAmount)
	}
	if res.ID == "" {
		res.ID = domain.NewID()
	}
	if res.Kind == domain.KindFund {
		res.OwnerEntityID = res.ID
	}
	if _, exists := r.s.reservations[res.ID]; exists {
		return fmt.Errorf("%w: reservation %s", repository.ErrDuplicate, res.ID)
	}

	account, exists := r.s.accounts[res.AccountID]
	if !exists {
		return fmt.Errorf("%w: account %s", repository.ErrNotFound, res.AccountID)
	}
	if account.Currency != res.Currency {
		return fmt.Errorf("%w: reservation in %s on account %s in %s",
			domain.ErrCurrencyMismatch, res.Currency, account.ID, account.Currency)
	}

	for _, existing := range r.s.reservations {
		if existing.Kind != res.Kind || existing.OwnerEntityID != res.OwnerEntityID {
			continue
		}
		switch res.Kind {
		case domain.KindCategoryFund:
			return fmt.Errorf("%w: category %s already has a fund", repository.ErrDuplicate, res.OwnerEntityID)
		case domain.KindCategoryReservation:
			if existing.AccountID == res.AccountID {
				return fmt.Errorf("%w: category %s already reserves on account %s",
					repository.ErrDuplicate, res.OwnerEntityID, res.AccountID)
			}
		}
	}

	at := now()
	res.CreatedAt = at
	res.UpdatedAt = at
	r.s.reservations[res.ID] = res.Clone()

	return nil
}

func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	res, exists := r.s.reservations[id]
	if !exists {
		return nil, fmt.Errorf("%w: reservation %s", repository.ErrNotFound, id)
	}
	res = res.Clone()
	return &res, nil
}

func (r *ReservationRepository) GetByAccountID(ctx context.Context, accountID string) ([]*domain.Reservation, error) {
	return r.filter(func(res domain.Reservation) bool { return res.AccountID == accountID }), nil
}

func (r *ReservationRepository) GetByOwnerID(ctx context.Context, ownerID string) ([]*domain.Reservation, error) {
	return r.filter(func(res domain.Reservation) bool { return res.OwnerID == ownerID }), nil
}

func (r *ReservationRepository) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res, exists := r.s.reservations[id]
	if !exists {
		return fmt.Errorf("%w: reservation %s", repository.ErrNotFound, id)
	}
	if res.Balance != 0 {
		return fmt.Errorf("%w: reservation %s holds %s", domain.ErrNonZeroBalance, id, res.Balance)
	}

	delete(r.s.reservations, id)
	return nil
}

func (r *ReservationRepository) filter(keep func(domain.Reservation) bool) []*domain.Reservation {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]*domain.Reservation, 0)
	for _, res := range r.s.reservations {
		if keep(res) {
			res = res.Clone()
			result = append(result, &res)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result
}
