package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

type CreateReservationRequest struct {
	Kind domain.OwnerKind
	// OwnerEntityID is the category id for category kinds. Funds own
	// themselves and leave it empty.
	OwnerEntityID string
	AccountID     string
	Name          string
	// Currency defaults to the account's currency.
	Currency      string
	InitialAmount domain.Amount
	TargetAmount  *domain.Amount
}

// AllocationEngine moves money between an account's free-to-plan and its
// reservations. Every reservation shape goes through the same rules.
type AllocationEngine struct {
	store    repository.Store
	registry *Registry
	c        *caller
}

func (e *AllocationEngine) CreateReservation(ctx context.Context, snap *Snapshot, req CreateReservationRequest) (res *domain.Reservation, err error) {
	defer e.c.observe("create_reservation", time.Now(), &err)

	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: reservation kind %q", domain.ErrInvalidInput, req.Kind)
	}
	if req.Kind.IsCategory() && req.OwnerEntityID == "" {
		return nil, fmt.Errorf("%w: %s needs a category", domain.ErrInvalidInput, req.Kind)
	}
	if req.Kind == domain.KindFund && req.Name == "" {
		return nil, fmt.Errorf("%w: fund needs a name", domain.ErrInvalidInput)
	}
	if req.InitialAmount < 0 {
		return nil, fmt.Errorf("%w: initial amount %s is negative", domain.ErrInvalidAmount, req.InitialAmount)
	}
	if req.TargetAmount != nil && *req.TargetAmount < 0 {
		return nil, fmt.Errorf("%w: target amount %s is negative", domain.ErrInvalidAmount, *req.TargetAmount)
	}

	account, err := snap.Account(req.AccountID)
	if err != nil {
		return nil, err
	}
	currency := req.Currency
	if currency == "" {
		currency = account.Currency
	}
	if currency != account.Currency {
		return nil, fmt.Errorf("%w: reservation in %s on account %s in %s",
			domain.ErrCurrencyMismatch, currency, account.ID, account.Currency)
	}

	switch req.Kind {
	case domain.KindCategoryFund:
		if _, exists := snap.CategoryFund(req.OwnerEntityID); exists {
			return nil, fmt.Errorf("%w: category %s already has a fund", repository.ErrDuplicate, req.OwnerEntityID)
		}
	case domain.KindCategoryReservation:
		for _, existing := range snap.ReservationsOn(account.ID) {
			if existing.Kind == req.Kind && existing.OwnerEntityID == req.OwnerEntityID {
				return nil, fmt.Errorf("%w: category %s already reserves on account %s",
					repository.ErrDuplicate, req.OwnerEntityID, account.ID)
			}
		}
	}

	ftp, err := e.registry.FreeToPlan(snap, account.ID)
	if err != nil {
		return nil, err
	}
	if req.InitialAmount > ftp.Signed {
		return nil, fmt.Errorf("%w: account %s has %s free, requested %s",
			domain.ErrInsufficientFreeToPlan, account.ID, ftp.Signed, req.InitialAmount)
	}

	if req.Kind.IsCategory() {
		if _, err := lookupCategory(ctx, e.c, e.store, snap.OwnerID, req.OwnerEntityID); err != nil {
			return nil, err
		}
	}

	created := &domain.Reservation{
		Kind:          req.Kind,
		OwnerID:       snap.OwnerID,
		AccountID:     account.ID,
		OwnerEntityID: req.OwnerEntityID,
		Name:          req.Name,
		Currency:      currency,
		TargetAmount:  req.TargetAmount,
	}
	if req.Kind == domain.KindFund {
		created.OwnerEntityID = ""
	}

	err = e.c.call(ctx, func(ctx context.Context) error {
		return e.store.Reservations.Create(ctx, created)
	})
	if err != nil {
		return nil, err
	}
	snap.putReservation(*created)

	if req.InitialAmount == 0 {
		return created, nil
	}

	seeded, err := e.applyDelta(ctx, *created, req.InitialAmount)
	if err != nil {
		err = e.c.compensate(ctx, "create_reservation", created.ID, err,
			ignoreNotFound(func(ctx context.Context) error {
				return e.store.Reservations.Delete(ctx, created.ID)
			}))
		if !errors.Is(err, domain.ErrCompensationFailure) {
			snap.removeReservation(created.ID)
		}
		return nil, err
	}

	snap.putReservation(*seeded)
	e.notifyAdjusted(ctx, snap, seeded, req.InitialAmount)
	return seeded, nil
}

// AdjustReservation applies a signed delta after the registry pre-check.
// The store may still reject it when the snapshot is stale.
func (e *AllocationEngine) AdjustReservation(ctx context.Context, snap *Snapshot, reservationID string, delta domain.Amount) (res *domain.Reservation, err error) {
	defer e.c.observe("adjust_reservation", time.Now(), &err)

	current, err := snap.Reservation(reservationID)
	if err != nil {
		return nil, err
	}
	if err := e.registry.ValidateDelta(snap, current, delta); err != nil {
		return nil, err
	}

	res, err = e.applyDelta(ctx, current, delta)
	if err != nil {
		return nil, err
	}

	snap.putReservation(*res)
	e.notifyAdjusted(ctx, snap, res, delta)
	return res, nil
}

// Allocate moves a positive amount from free-to-plan into a reservation.
func (e *AllocationEngine) Allocate(ctx context.Context, snap *Snapshot, reservationID string, amount domain.Amount) (*domain.Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: allocation must be positive, got %s", domain.ErrInvalidAmount, amount)
	}
	return e.AdjustReservation(ctx, snap, reservationID, amount)
}

// Withdraw returns a positive amount from a reservation to free-to-plan.
func (e *AllocationEngine) Withdraw(ctx context.Context, snap *Snapshot, reservationID string, amount domain.Amount) (*domain.Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: withdrawal must be positive, got %s", domain.ErrInvalidAmount, amount)
	}
	return e.AdjustReservation(ctx, snap, reservationID, -amount)
}

// DeleteReservation requires an empty reservation; money held in it must be
// withdrawn first.
func (e *AllocationEngine) DeleteReservation(ctx context.Context, snap *Snapshot, reservationID string) (err error) {
	defer e.c.observe("delete_reservation", time.Now(), &err)

	res, err := snap.Reservation(reservationID)
	if err != nil {
		return err
	}
	if res.Balance != 0 {
		return fmt.Errorf("%w: reservation %s holds %s, withdraw it first",
			domain.ErrNonZeroBalance, res.ID, res.Balance)
	}

	err = e.c.call(ctx, func(ctx context.Context) error {
		return e.store.Reservations.Delete(ctx, reservationID)
	})
	if err != nil {
		return err
	}

	snap.removeReservation(reservationID)
	return nil
}

// applyDelta routes a delta to the store procedure for the reservation's
// shape.
func (e *AllocationEngine) applyDelta(ctx context.Context, res domain.Reservation, delta domain.Amount) (*domain.Reservation, error) {
	var updated *domain.Reservation

	err := e.c.call(ctx, func(ctx context.Context) error {
		var err error
		switch res.Kind {
		case domain.KindCategoryFund:
			updated, err = e.store.Ledger.AdjustCategoryFundBalance(ctx, res.OwnerEntityID, delta, res.AccountID)
		case domain.KindCategoryReservation:
			updated, err = e.store.Ledger.AdjustCategoryReservation(ctx, res.OwnerEntityID, res.AccountID, delta)
		case domain.KindFund:
			updated, err = e.store.Ledger.AdjustAccountFundBalance(ctx, res.ID, delta)
		default:
			err = fmt.Errorf("%w: reservation kind %q", domain.ErrInvalidInput, res.Kind)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (e *AllocationEngine) notifyAdjusted(ctx context.Context, snap *Snapshot, res *domain.Reservation, delta domain.Amount) {
	e.c.notify(ctx, domain.Notice{
		Kind:      domain.NoticeReservationAdjusted,
		OwnerID:   snap.OwnerID,
		SubjectID: res.ID,
		Amount:    delta,
		Attributes: map[string]string{
			"kind":       string(res.Kind),
			"account_id": res.AccountID,
			"balance":    res.Balance.String(),
		},
	})
}
