package ledger

import (
	"fmt"
	"log/slog"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
)

// FreeToPlan describes how much of an account's balance is unreserved.
type FreeToPlan struct {
	AccountID string        `json:"account_id"`
	Currency  string        `json:"currency"`
	Balance   domain.Amount `json:"balance"`
	Reserved  domain.Amount `json:"reserved"`
	// Signed is Balance - Reserved, unclamped. Validation uses it.
	Signed domain.Amount `json:"signed"`
	// Available is Signed floored at 0, for display.
	Available     domain.Amount `json:"available"`
	Overcommitted bool          `json:"overcommitted"`
}

// Registry computes reserved totals and free-to-plan from a snapshot and
// pre-validates reservation deltas against them.
type Registry struct {
	logger  *slog.Logger
	metrics Metrics
}

func (r *Registry) ReservedTotal(snap *Snapshot, accountID string) (domain.Amount, error) {
	var total domain.Amount
	for _, res := range snap.ReservationsOn(accountID) {
		var err error
		if total, err = total.Add(res.Balance); err != nil {
			return 0, fmt.Errorf("reserved total of account %s: %w", accountID, err)
		}
	}
	return total, nil
}

func (r *Registry) FreeToPlan(snap *Snapshot, accountID string) (FreeToPlan, error) {
	account, err := snap.Account(accountID)
	if err != nil {
		return FreeToPlan{}, err
	}

	reserved, err := r.ReservedTotal(snap, accountID)
	if err != nil {
		return FreeToPlan{}, err
	}
	signed, err := account.Balance.Sub(reserved)
	if err != nil {
		return FreeToPlan{}, fmt.Errorf("free-to-plan of account %s: %w", accountID, err)
	}
	ftp := FreeToPlan{
		AccountID: accountID,
		Currency:  account.Currency,
		Balance:   account.Balance,
		Reserved:  reserved,
		Signed:    signed,
	}
	ftp.Available = ftp.Signed
	if ftp.Signed < 0 {
		ftp.Available = 0
		ftp.Overcommitted = true
		r.logger.Warn("account reserved total exceeds balance",
			slog.String("account_id", accountID),
			slog.String("balance", account.Balance.String()),
			slog.String("reserved", reserved.String()))
	}

	r.metrics.ObserveAccount(accountID, account.Currency, reserved, ftp.Signed)
	return ftp, nil
}

// ValidateDelta is the client-side pre-check for a signed reservation delta.
// A delta equal to the limit is allowed.
func (r *Registry) ValidateDelta(snap *Snapshot, res domain.Reservation, delta domain.Amount) error {
	if delta == 0 {
		return fmt.Errorf("%w: delta must be non-zero", domain.ErrInvalidAmount)
	}

	ftp, err := r.FreeToPlan(snap, res.AccountID)
	if err != nil {
		return err
	}
	if res.Currency != ftp.Currency {
		return fmt.Errorf("%w: reservation %s is in %s, account %s in %s",
			domain.ErrCurrencyMismatch, res.ID, res.Currency, res.AccountID, ftp.Currency)
	}

	if delta > 0 && delta > ftp.Signed {
		return fmt.Errorf("%w: account %s has %s free, requested %s",
			domain.ErrInsufficientFreeToPlan, res.AccountID, ftp.Signed, delta)
	}
	if delta < 0 && delta.Abs() > res.Balance {
		return fmt.Errorf("%w: reservation %s holds %s, requested %s",
			domain.ErrInsufficientReservedBalance, res.ID, res.Balance, delta.Abs())
	}
	return nil
}
