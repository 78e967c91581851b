package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
	"github.com/Utkarshvr/budget-tracker-sub000/pkg/validator"
)

type EventRequest struct {
	Type          domain.EventType
	Amount        domain.Amount
	FromAccountID string
	ToAccountID   string
	CategoryID    string
	GoalID        string
	// Currency defaults to the currency of the event's accounts.
	Currency string
	Note     string
}

// EventEdit replaces the mutable fields of an existing event. The type is
// fixed at creation.
type EventEdit struct {
	Amount        domain.Amount
	FromAccountID string
	ToAccountID   string
	CategoryID    string
	Note          string
}

// Orchestrator records LedgerEvents together with the reservation or goal
// delta they imply. The two writes are separate store calls, so a failed
// second write is undone by a compensating action on the first.
type Orchestrator struct {
	store      repository.Store
	validator  *validator.EventValidator
	registry   *Registry
	allocation *AllocationEngine
	goals      *GoalEngine
	c          *caller
}

func (o *Orchestrator) CreateEvent(ctx context.Context, snap *Snapshot, req EventRequest) (event *domain.LedgerEvent, err error) {
	if req.Type.IsGoal() {
		return o.createGoalEvent(ctx, snap, req)
	}

	defer o.c.observe("create_event", time.Now(), &err)

	event = domain.NewLedgerEvent(req.Type, req.Amount, req.Currency).
		WithOwner(snap.OwnerID).
		WithAccounts(req.FromAccountID, req.ToAccountID).
		WithCategory(req.CategoryID).
		WithNote(req.Note)
	if err := o.check(ctx, snap, event); err != nil {
		return nil, err
	}

	var res *domain.Reservation
	if event.Type == domain.EventExpense {
		if found, ok := snap.ReservationFor(event.CategoryID, event.FromAccountID); ok {
			if err := o.registry.ValidateDelta(snap, found, -event.Amount); err != nil {
				return nil, err
			}
			res = &found
			event.WithReservation(found.ID)
		}
	}

	err = o.c.call(ctx, func(ctx context.Context) error {
		return o.store.Events.Insert(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	snap.applyEffects(event.BalanceEffects(), 1)

	if res != nil {
		updated, err := o.allocation.applyDelta(ctx, *res, -event.Amount)
		if err != nil {
			err = o.c.compensate(ctx, "create_event", event.ID, err,
				ignoreNotFound(func(ctx context.Context) error {
					return o.store.Events.Delete(ctx, event.ID)
				}))
			if !errors.Is(err, domain.ErrCompensationFailure) {
				snap.applyEffects(event.BalanceEffects(), -1)
			}
			return nil, err
		}
		snap.putReservation(*updated)
	}

	o.notifyEvent(ctx, domain.NoticeEventRecorded, event)
	return event, nil
}

func (o *Orchestrator) createGoalEvent(ctx context.Context, snap *Snapshot, req EventRequest) (*domain.LedgerEvent, error) {
	candidate := domain.NewLedgerEvent(req.Type, req.Amount, req.Currency).
		WithOwner(snap.OwnerID).
		WithAccounts(req.FromAccountID, req.ToAccountID).
		WithCategory(req.CategoryID).
		WithGoal(req.GoalID)
	if req.GoalID != "" {
		goal, err := snap.Goal(req.GoalID)
		if err != nil {
			return nil, err
		}
		if candidate.Currency == "" {
			candidate.Currency = goal.Currency
		}
	}
	if err := o.validator.Validate(candidate); err != nil {
		return nil, err
	}

	var (
		event *domain.LedgerEvent
		err   error
	)
	if req.Type == domain.EventGoalDeposit {
		event, err = o.goals.Deposit(ctx, snap, req.GoalID, req.FromAccountID, req.Amount, req.Note)
	} else {
		event, err = o.goals.Withdraw(ctx, snap, req.GoalID, req.ToAccountID, req.Amount, req.Note)
	}
	if err != nil {
		return nil, err
	}

	o.notifyEvent(ctx, domain.NoticeEventRecorded, event)
	return event, nil
}

// UpdateEvent edits an expense, income or transfer. Goal events cannot be
// edited; delete and record them again.
//
// Reservation effects are applied debit-first: the new reservation is
// debited before the old one is credited back, so every intermediate state
// satisfies the store's conservation check. When old and new draw on the
// same reservation a single net delta is applied.
func (o *Orchestrator) UpdateEvent(ctx context.Context, snap *Snapshot, id string, edit EventEdit) (event *domain.LedgerEvent, err error) {
	defer o.c.observe("update_event", time.Now(), &err)

	old, err := o.getOwned(ctx, snap, id)
	if err != nil {
		return nil, err
	}
	if old.Type.IsGoal() {
		return nil, fmt.Errorf("%w: goal transactions cannot be edited", domain.ErrInvalidInput)
	}

	next := *old
	next.Amount = edit.Amount
	next.FromAccountID = edit.FromAccountID
	next.ToAccountID = edit.ToAccountID
	next.CategoryID = edit.CategoryID
	next.Note = edit.Note
	next.ReservationID = ""
	event = &next

	if err := o.check(ctx, snap, event); err != nil {
		return nil, err
	}

	var oldRes, newRes *domain.Reservation
	if old.ReservationID != "" {
		if res, err := snap.Reservation(old.ReservationID); err == nil {
			oldRes = &res
		} else {
			o.c.logger.Warn("reservation debited by transaction no longer exists",
				slog.String("event_id", old.ID),
				slog.String("reservation_id", old.ReservationID))
		}
	}
	if event.Type == domain.EventExpense {
		if res, ok := snap.ReservationFor(event.CategoryID, event.FromAccountID); ok {
			newRes = &res
			event.ReservationID = res.ID
		}
	}

	sameReservation := oldRes != nil && newRes != nil && oldRes.ID == newRes.ID
	if newRes != nil {
		available := newRes.Balance
		if sameReservation {
			available += old.Amount
		}
		if event.Amount > available {
			return nil, fmt.Errorf("%w: reservation %s holds %s, requested %s",
				domain.ErrInsufficientReservedBalance, newRes.ID, available, event.Amount)
		}
	}
	if err := o.checkReserved(snap, old.BalanceEffects(), event.BalanceEffects(), newRes, event.Amount); err != nil {
		return nil, err
	}

	err = o.c.call(ctx, func(ctx context.Context) error {
		return o.store.Events.Update(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	snap.applyEffects(old.BalanceEffects(), -1)
	snap.applyEffects(event.BalanceEffects(), 1)

	revertEvent := func(ctx context.Context) error {
		restored := *old
		return o.store.Events.Update(ctx, &restored)
	}
	// The event is reverted before any reservation undo so the account
	// balance is back in place when the undo credit is checked.
	fail := func(cause error, undo ...func(ctx context.Context) error) error {
		steps := append([]func(ctx context.Context) error{revertEvent}, undo...)
		err := o.c.compensate(ctx, "update_event", event.ID, cause, steps...)
		if !errors.Is(err, domain.ErrCompensationFailure) {
			snap.applyEffects(event.BalanceEffects(), -1)
			snap.applyEffects(old.BalanceEffects(), 1)
		}
		return err
	}

	switch {
	case sameReservation:
		if delta := old.Amount - event.Amount; delta != 0 {
			updated, err := o.allocation.applyDelta(ctx, *newRes, delta)
			if err != nil {
				return nil, fail(err)
			}
			snap.putReservation(*updated)
		}
	default:
		if newRes != nil {
			updated, err := o.allocation.applyDelta(ctx, *newRes, -event.Amount)
			if err != nil {
				return nil, fail(err)
			}
			snap.putReservation(*updated)
		}
		if oldRes != nil {
			updated, err := o.allocation.applyDelta(ctx, *oldRes, old.Amount)
			if err != nil {
				var undo []func(ctx context.Context) error
				if newRes != nil {
					debited := *newRes
					undo = append(undo, func(ctx context.Context) error {
						_, err := o.allocation.applyDelta(ctx, debited, event.Amount)
						return err
					})
				}
				err = fail(err, undo...)
				if newRes != nil && !errors.Is(err, domain.ErrCompensationFailure) {
					snap.putReservation(*newRes)
				}
				return nil, err
			}
			snap.putReservation(*updated)
		}
	}

	o.notifyEvent(ctx, domain.NoticeEventUpdated, event)
	return event, nil
}

// DeleteEvent removes an event, restoring account balances, then credits
// back the reservation it debited or reverses its goal movement. If that
// second step fails the event is re-inserted.
func (o *Orchestrator) DeleteEvent(ctx context.Context, snap *Snapshot, id string) (err error) {
	defer o.c.observe("delete_event", time.Now(), &err)

	old, err := o.getOwned(ctx, snap, id)
	if err != nil {
		return err
	}

	var (
		res       *domain.Reservation
		goalDelta domain.Amount
	)
	switch old.Type {
	case domain.EventExpense:
		if old.ReservationID != "" {
			if found, err := snap.Reservation(old.ReservationID); err == nil {
				res = &found
			} else {
				o.c.logger.Warn("reservation debited by transaction no longer exists",
					slog.String("event_id", old.ID),
					slog.String("reservation_id", old.ReservationID))
			}
		}
	case domain.EventGoalDeposit:
		goalDelta = -old.Amount
	case domain.EventGoalWithdraw:
		goalDelta = old.Amount
	}

	if goalDelta < 0 {
		goal, err := snap.Goal(old.GoalID)
		if err != nil {
			return err
		}
		if goalDelta.Abs() > goal.SavedAmount {
			return fmt.Errorf("%w: goal %s has %s saved, deleting deposit needs %s",
				domain.ErrInsufficientSaved, goal.ID, goal.SavedAmount, goalDelta.Abs())
		}
	}

	if err := o.checkReserved(snap, old.BalanceEffects(), nil, nil, 0); err != nil {
		return err
	}

	err = o.c.call(ctx, func(ctx context.Context) error {
		return o.store.Events.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	snap.applyEffects(old.BalanceEffects(), -1)

	var step error
	switch {
	case res != nil:
		var updated *domain.Reservation
		if updated, step = o.allocation.applyDelta(ctx, *res, old.Amount); step == nil {
			snap.putReservation(*updated)
		}
	case goalDelta != 0:
		var goal *domain.Goal
		if goal, step = o.goals.adjustSaved(ctx, old.GoalID, goalDelta); step == nil {
			snap.putGoal(*goal)
		}
	}
	if step != nil {
		err = o.c.compensate(ctx, "delete_event", old.ID, step,
			ignoreDuplicate(func(ctx context.Context) error {
				restored := *old
				return o.store.Events.Insert(ctx, &restored)
			}))
		if !errors.Is(err, domain.ErrCompensationFailure) {
			snap.applyEffects(old.BalanceEffects(), 1)
		}
		return err
	}

	o.notifyEvent(ctx, domain.NoticeEventDeleted, old)
	return nil
}

// GetEvent reads one of the snapshot owner's events.
func (o *Orchestrator) GetEvent(ctx context.Context, snap *Snapshot, id string) (*domain.LedgerEvent, error) {
	return o.getOwned(ctx, snap, id)
}

// History lists the events touching accountID, newest first.
func (o *Orchestrator) History(ctx context.Context, snap *Snapshot, accountID string, limit, offset int) ([]*domain.LedgerEvent, error) {
	if _, err := snap.Account(accountID); err != nil {
		return nil, err
	}

	var events []*domain.LedgerEvent
	err := o.c.call(ctx, func(ctx context.Context) error {
		var err error
		events, err = o.store.Events.GetByAccountID(ctx, accountID, limit, offset)
		return err
	})
	return events, err
}

// check runs the field rules, resolves accounts and currency against the
// snapshot, then confirms the category belongs to the snapshot's owner.
func (o *Orchestrator) check(ctx context.Context, snap *Snapshot, event *domain.LedgerEvent) error {
	if event.Currency == "" {
		for _, id := range event.AccountIDs() {
			if account, err := snap.Account(id); err == nil {
				event.Currency = account.Currency
				break
			}
		}
	}
	if err := o.validator.Validate(event); err != nil {
		return err
	}

	for _, id := range event.AccountIDs() {
		account, err := snap.Account(id)
		if err != nil {
			return err
		}
		if account.Currency != event.Currency {
			return fmt.Errorf("%w: transaction in %s touches account %s in %s",
				domain.ErrCurrencyMismatch, event.Currency, account.ID, account.Currency)
		}
	}

	if event.CategoryID != "" {
		if _, err := lookupCategory(ctx, o.c, o.store, snap.OwnerID, event.CategoryID); err != nil {
			return err
		}
	}
	return nil
}

// checkReserved rejects an edit or delete that would lower an account's
// balance below what is reserved on it. debit is the part of the new event
// that res will absorb.
func (o *Orchestrator) checkReserved(snap *Snapshot, reverse, apply []domain.BalanceEffect, res *domain.Reservation, debit domain.Amount) error {
	deltas := make(map[string]domain.Amount)
	for _, e := range reverse {
		deltas[e.AccountID] -= e.Delta
	}
	for _, e := range apply {
		deltas[e.AccountID] += e.Delta
	}

	for id, delta := range deltas {
		if delta >= 0 {
			continue
		}
		account, err := snap.Account(id)
		if err != nil {
			continue
		}
		reserved, err := o.registry.ReservedTotal(snap, id)
		if err != nil {
			return err
		}
		if res != nil && res.AccountID == id {
			reserved -= min(debit, res.Balance)
		}
		balance, err := account.Balance.Add(delta)
		if err != nil {
			return err
		}
		if balance < reserved {
			return fmt.Errorf("%w: account %s has %s reserved, balance %s would leave it overcommitted",
				domain.ErrInsufficientFreeToPlan, id, reserved, balance)
		}
	}
	return nil
}

func (o *Orchestrator) getOwned(ctx context.Context, snap *Snapshot, id string) (*domain.LedgerEvent, error) {
	var event *domain.LedgerEvent
	err := o.c.call(ctx, func(ctx context.Context) error {
		var err error
		event, err = o.store.Events.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if event.OwnerID != snap.OwnerID {
		return nil, fmt.Errorf("%w: transaction %s", repository.ErrNotFound, id)
	}
	return event, nil
}

func (o *Orchestrator) notifyEvent(ctx context.Context, kind domain.NoticeKind, event *domain.LedgerEvent) {
	attrs := map[string]string{"type": string(event.Type)}
	for key, value := range map[string]string{
		"from_account_id": event.FromAccountID,
		"to_account_id":   event.ToAccountID,
		"category_id":     event.CategoryID,
		"goal_id":         event.GoalID,
		"reservation_id":  event.ReservationID,
	} {
		if value != "" {
			attrs[key] = value
		}
	}

	o.c.notify(ctx, domain.Notice{
		Kind:       kind,
		OwnerID:    event.OwnerID,
		SubjectID:  event.ID,
		Amount:     event.Amount,
		Attributes: attrs,
	})
}
