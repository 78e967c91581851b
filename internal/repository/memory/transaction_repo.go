package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

// TransactionRepository stores LedgerEvents and keeps account balances in
// step with them.
type TransactionRepository struct {
	s *state
}

func (r *TransactionRepository) Insert(ctx context.Context, event *domain.LedgerEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.events[event.ID]; exists {
		return fmt.Errorf("%w: transaction %s", repository.ErrDuplicate, event.ID)
	}

	planned, err := r.s.planBalances(nil, event.BalanceEffects())
	if err != nil {
		return err
	}

	at := now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = at
	}
	event.UpdatedAt = at

	r.s.commitBalances(planned)
	r.s.events[event.ID] = *event
	r.index(event.ID, event.AccountIDs())

	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.LedgerEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	event, exists := r.s.events[id]
	if !exists {
		return nil, fmt.Errorf("%w: transaction %s", repository.ErrNotFound, id)
	}
	return &event, nil
}

func (r *TransactionRepository) GetByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*domain.LedgerEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids := append([]string(nil), r.s.eventIndex[accountID]...)
	sort.Slice(ids, func(i, j int) bool {
		return r.s.events[ids[i]].CreatedAt.After(r.s.events[ids[j]].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return []*domain.LedgerEvent{}, nil
	}
	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	result := make([]*domain.LedgerEvent, 0, end-offset)
	for _, id := range ids[offset:end] {
		event := r.s.events[id]
		result = append(result, &event)
	}

	return result, nil
}

func (r *TransactionRepository) Update(ctx context.Context, event *domain.LedgerEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	old, exists := r.s.events[event.ID]
	if !exists {
		return fmt.Errorf("%w: transaction %s", repository.ErrNotFound, event.ID)
	}
	if old.Type != event.Type {
		return fmt.Errorf("%w: transaction %s type cannot change from %s to %s",
			domain.ErrInvalidInput, event.ID, old.Type, event.Type)
	}

	planned, err := r.s.planBalances(old.BalanceEffects(), event.BalanceEffects())
	if err != nil {
		return err
	}
	if err := r.s.checkReserved(planned, event); err != nil {
		return err
	}

	event.CreatedAt = old.CreatedAt
	event.UpdatedAt = now()

	r.s.commitBalances(planned)
	r.unindex(old.ID, old.AccountIDs())
	r.s.events[event.ID] = *event
	r.index(event.ID, event.AccountIDs())

	return nil
}

func (r *TransactionRepository) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	old, exists := r.s.events[id]
	if !exists {
		return fmt.Errorf("%w: transaction %s", repository.ErrNotFound, id)
	}

	planned, err := r.s.planBalances(old.BalanceEffects(), nil)
	if err != nil {
		return err
	}
	if err := r.s.checkReserved(planned, nil); err != nil {
		return err
	}

	r.s.commitBalances(planned)
	r.unindex(id, old.AccountIDs())
	delete(r.s.events, id)

	return nil
}

func (r *TransactionRepository) index(id string, accountIDs []string) {
	for _, accountID := range accountIDs {
		r.s.eventIndex[accountID] = append(r.s.eventIndex[accountID], id)
	}
}

func (r *TransactionRepository) unindex(id string, accountIDs []string) {
	for _, accountID := range accountIDs {
		ids := r.s.eventIndex[accountID]
		kept := ids[:0]
		for _, existing := range ids {
			if existing != id {
				kept = append(kept, existing)
			}
		}
		if len(kept) == 0 {
			delete(r.s.eventIndex, accountID)
			continue
		}
		r.s.eventIndex[accountID] = kept
	}
}
