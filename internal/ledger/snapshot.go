package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

// Snapshot is the locally cached state of one owner's accounts,
// reservations and goals. It may be stale; the store stays the authority and
// rejects deltas the snapshot wrongly allowed.
type Snapshot struct {
	OwnerID  string
	LoadedAt time.Time

	mu           sync.RWMutex
	accounts     map[string]domain.Account
	reservations map[string]domain.Reservation
	goals        map[string]domain.Goal
}

func NewSnapshot(ownerID string) *Snapshot {
	return &Snapshot{
		OwnerID:      ownerID,
		accounts:     make(map[string]domain.Account),
		reservations: make(map[string]domain.Reservation),
		goals:        make(map[string]domain.Goal),
	}
}

func (s *Snapshot) Account(id string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}
	return account, nil
}

func (s *Snapshot) Accounts() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (s *Snapshot) Reservation(id string) (domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.reservations[id]
	if !ok {
		return domain.Reservation{}, fmt.Errorf("%w: reservation %s", repository.ErrNotFound, id)
	}
	return res.Clone(), nil
}

// ReservationsOn lists the reservations bound to accountID.
func (s *Snapshot) ReservationsOn(accountID string) []domain.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Reservation
	for _, res := range s.reservations {
		if res.AccountID == accountID {
			result = append(result, res.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// ReservationFor finds the reservation an expense in categoryID paid from
// accountID draws on. A category reservation on the account is preferred
// over the category fund.
func (s *Snapshot) ReservationFor(categoryID, accountID string) (domain.Reservation, bool) {
	if categoryID == "" || accountID == "" {
		return domain.Reservation{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var fund domain.Reservation
	found := false
	for _, res := range s.reservations {
		if !res.Debits(categoryID, accountID) {
			continue
		}
		if res.Kind == domain.KindCategoryReservation {
			return res.Clone(), true
		}
		fund, found = res, true
	}
	if found {
		return fund.Clone(), true
	}
	return domain.Reservation{}, false
}

// CategoryFund returns the single fund a category holds, on any account.
func (s *Snapshot) CategoryFund(categoryID string) (domain.Reservation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, res := range s.reservations {
		if res.Kind == domain.KindCategoryFund && res.OwnerEntityID == categoryID {
			return res.Clone(), true
		}
	}
	return domain.Reservation{}, false
}

func (s *Snapshot) Goal(id string) (domain.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	goal, ok := s.goals[id]
	if !ok {
		return domain.Goal{}, fmt.Errorf("%w: goal %s", repository.ErrNotFound, id)
	}
	return goal.Clone(), nil
}

func (s *Snapshot) Goals() []domain.Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Goal, 0, len(s.goals))
	for _, goal := range s.goals {
		result = append(result, goal.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (s *Snapshot) putAccount(account domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
}

func (s *Snapshot) removeAccount(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accounts, id)
	for resID, res := range s.reservations {
		if res.AccountID == id {
			delete(s.reservations, resID)
		}
	}
}

func (s *Snapshot) putReservation(res domain.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[res.ID] = res.Clone()
}

func (s *Snapshot) removeReservation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reservations, id)
}

func (s *Snapshot) putGoal(goal domain.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals[goal.ID] = goal.Clone()
}

// applyEffects mirrors the balance change the store made for an event write.
// sign is +1 to apply and -1 to reverse.
func (s *Snapshot) applyEffects(effects []domain.BalanceEffect, sign domain.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, effect := range effects {
		account, ok := s.accounts[effect.AccountID]
		if !ok {
			continue
		}
		account.Balance += effect.Delta * sign
		s.accounts[effect.AccountID] = account
	}
}

func (s *Snapshot) replace(accounts []*domain.Account, reservations []*domain.Reservation, goals []*domain.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[string]domain.Account, len(accounts))
	for _, a := range accounts {
		s.accounts[a.ID] = *a
	}
	s.reservations = make(map[string]domain.Reservation, len(reservations))
	for _, r := range reservations {
		s.reservations[r.ID] = r.Clone()
	}
	s.goals = make(map[string]domain.Goal, len(goals))
	for _, g := range goals {
		s.goals[g.ID] = g.Clone()
	}
	s.LoadedAt = time.Now().UTC()
}

// Loader reads snapshots from the store.
type Loader struct {
	store repository.Store
	c     *caller
}

func (l *Loader) Load(ctx context.Context, ownerID string) (*Snapshot, error) {
	snap := NewSnapshot(ownerID)
	if err := l.Refresh(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Refresh re-reads snap from the store. On error snap is left unchanged.
func (l *Loader) Refresh(ctx context.Context, snap *Snapshot) (err error) {
	defer l.c.observe("load_snapshot", time.Now(), &err)

	var (
		accounts     []*domain.Account
		reservations []*domain.Reservation
		goals        []*domain.Goal
	)

	err = l.c.call(ctx, func(ctx context.Context) error {
		var err error
		if accounts, err = l.store.Accounts.GetByOwnerID(ctx, snap.OwnerID); err != nil {
			return err
		}
		if reservations, err = l.store.Reservations.GetByOwnerID(ctx, snap.OwnerID); err != nil {
			return err
		}
		goals, err = l.store.Goals.GetByOwnerID(ctx, snap.OwnerID)
		return err
	})
	if err != nil {
		return err
	}

	snap.replace(accounts, reservations, goals)
	return nil
}
