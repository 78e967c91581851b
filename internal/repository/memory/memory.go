package memory

import (
	"fmt"
	"sync"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

var (
	_ repository.AccountRepository     = (*AccountRepository)(nil)
	_ repository.CategoryRepository    = (*CategoryRepository)(nil)
	_ repository.ReservationRepository = (*ReservationRepository)(nil)
	_ repository.GoalRepository        = (*GoalRepository)(nil)
	_ repository.EventRepository       = (*TransactionRepository)(nil)
	_ repository.LedgerStore           = (*LedgerStore)(nil)
)

// state is shared by every repository of one Store so that a delta can read
// the account and all of its reservations under a single lock.
type state struct {
	mu           sync.RWMutex
	accounts     map[string]domain.Account
	categories   map[string]domain.Category
	reservations map[string]domain.Reservation
	goals        map[string]domain.Goal
	events       map[string]domain.LedgerEvent
	eventIndex   map[string][]string
}

// Store is an in-process Ledger Store.
type Store struct {
	Accounts     *AccountRepository
	Categories   *CategoryRepository
	Reservations *ReservationRepository
	Goals        *GoalRepository
	Transactions *TransactionRepository
	Ledger       *LedgerStore
}

func NewStore() *Store {
	s := &state{
		accounts:     make(map[string]domain.Account),
		categories:   make(map[string]domain.Category),
		reservations: make(map[string]domain.Reservation),
		goals:        make(map[string]domain.Goal),
		events:       make(map[string]domain.LedgerEvent),
		eventIndex:   make(map[string][]string),
	}

	return &Store{
		Accounts:     &AccountRepository{s: s},
		Categories:   &CategoryRepository{s: s},
		Reservations: &ReservationRepository{s: s},
		Goals:        &GoalRepository{s: s},
		Transactions: &TransactionRepository{s: s},
		Ledger:       &LedgerStore{s: s},
	}
}

func (st *Store) Repositories() repository.Store {
	return repository.Store{
		Accounts:     st.Accounts,
		Categories:   st.Categories,
		Reservations: st.Reservations,
		Goals:        st.Goals,
		Events:       st.Transactions,
		Ledger:       st.Ledger,
	}
}

// reservedOn must be called with s.mu held.
func (s *state) reservedOn(accountID string) domain.Amount {
	var total domain.Amount
	for _, r := range s.reservations {
		if r.AccountID == accountID {
			total += r.Balance
		}
	}
	return total
}

// adjustReservation is the compare-and-adjust shared by all reservation
// deltas. It must be called with s.mu held for writing.
func (s *state) adjustReservation(res domain.Reservation, delta domain.Amount) (*domain.Reservation, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: delta must be non-zero", domain.ErrInvalidAmount)
	}

	next, err := res.Balance.Add(delta)
	if err != nil {
		return nil, err
	}
	if next < 0 {
		return nil, fmt.Errorf("%w: reservation %s holds %s, requested %s",
			domain.ErrInsufficientReservedBalance, res.ID, res.Balance, delta.Abs())
	}

	if delta > 0 {
		account, exists := s.accounts[res.AccountID]
		if !exists {
			return nil, fmt.Errorf("%w: account %s", repository.ErrNotFound, res.AccountID)
		}
		free := account.Balance - s.reservedOn(account.ID)
		if delta > free {
			return nil, fmt.Errorf("%w: account %s has %s free, requested %s",
				domain.ErrInsufficientFreeToPlan, account.ID, free, delta)
		}
	}

	res.Balance = next
	res.UpdatedAt = now()
	s.reservations[res.ID] = res

	updated := res.Clone()
	return &updated, nil
}

// planBalances computes the account balances that result from reversing
// one set of effects and applying another, without mutating anything.
func (s *state) planBalances(reverse, apply []domain.BalanceEffect) (map[string]domain.Amount, error) {
	planned := make(map[string]domain.Amount)

	step := func(effects []domain.BalanceEffect, sign domain.Amount) error {
		for _, effect := range effects {
			current, seen := planned[effect.AccountID]
			if !seen {
				account, exists := s.accounts[effect.AccountID]
				if !exists {
					return fmt.Errorf("%w: account %s", repository.ErrNotFound, effect.AccountID)
				}
				current = account.Balance
			}
			next, err := current.Add(effect.Delta * sign)
			if err != nil {
				return err
			}
			planned[effect.AccountID] = next
		}
		return nil
	}

	if err := step(reverse, -1); err != nil {
		return nil, err
	}
	if err := step(apply, 1); err != nil {
		return nil, err
	}
	return planned, nil
}

// checkReserved rejects planned balances that would drop an account below
// what is reserved on it. Only lowered balances are checked. The part of
// next's debit that its own reservation will absorb is not counted. It must
// be called with s.mu held.
func (s *state) checkReserved(planned map[string]domain.Amount, next *domain.LedgerEvent) error {
	coveredAccount, covered := s.reservedDebit(next)
	for id, balance := range planned {
		if balance >= s.accounts[id].Balance {
			continue
		}
		reserved := s.reservedOn(id)
		if id == coveredAccount {
			reserved -= covered
		}
		if balance < reserved {
			return fmt.Errorf("%w: account %s has %s reserved, balance %s would leave it overcommitted",
				domain.ErrInsufficientFreeToPlan, id, reserved, balance)
		}
	}
	return nil
}

// reservedDebit reports the account and amount of an expense debit that the
// event's reservation covers.
func (s *state) reservedDebit(event *domain.LedgerEvent) (string, domain.Amount) {
	if event == nil || event.Type != domain.EventExpense || event.ReservationID == "" {
		return "", 0
	}
	res, exists := s.reservations[event.ReservationID]
	if !exists || res.AccountID != event.FromAccountID {
		return "", 0
	}
	return res.AccountID, min(event.Amount, res.Balance)
}

func (s *state) commitBalances(planned map[string]domain.Amount) {
	at := now()
	for id, balance := range planned {
		account := s.accounts[id]
		account.Balance = balance
		account.UpdatedAt = at
		s.accounts[id] = account
	}
}
