package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

// LedgerStore implements the four delta procedures. Each call locks the
// account row before the reservation row, matching AccountRepository.Delete.
type LedgerStore struct {
	db *sql.DB
}

func (l *LedgerStore) AdjustCategoryFundBalance(ctx context.Context, categoryID string, amountDelta domain.Amount, accountID string) (*domain.Reservation, error) {
	return l.adjust(ctx, amountDelta,
		`WHERE kind = 'category_fund' AND owner_entity_id = $1`, []any{categoryID},
		func(res *domain.Reservation) error {
			if accountID != "" && res.AccountID != accountID {
				return fmt.Errorf("%w: category fund %s is not on account %s",
					repository.ErrNotFound, categoryID, accountID)
			}
			return nil
		},
		fmt.Sprintf("category fund %s", categoryID))
}

func (l *LedgerStore) AdjustCategoryReservation(ctx context.Context, categoryID, accountID string, amountDelta domain.Amount) (*domain.Reservation, error) {
	return l.adjust(ctx, amountDelta,
		`WHERE kind = 'category_reservation' AND owner_entity_id = $1 AND account_id = $2`, []any{categoryID, accountID},
		nil,
		fmt.Sprintf("category reservation %s on account %s", categoryID, accountID))
}

func (l *LedgerStore) AdjustAccountFundBalance(ctx context.Context, fundID string, amountDelta domain.Amount) (*domain.Reservation, error) {
	return l.adjust(ctx, amountDelta,
		`WHERE kind = 'fund' AND id = $1`, []any{fundID},
		nil,
		fmt.Sprintf("fund %s", fundID))
}

func (l *LedgerStore) adjust(ctx context.Context, delta domain.Amount, where string, args []any, check func(*domain.Reservation) error, subject string) (*domain.Reservation, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: delta must be non-zero", domain.ErrInvalidAmount)
	}

	var updated *domain.Reservation
	err := inTx(ctx, l.db, func(tx *sql.Tx) error {
		var accountID string
		err := tx.QueryRowContext(ctx, `SELECT account_id FROM reservations `+where, args...).Scan(&accountID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", repository.ErrNotFound, subject)
		}
		if err != nil {
			return err
		}

		var accountBalance int64
		err = tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&accountBalance)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: account %s", repository.ErrNotFound, accountID)
		}
		if err != nil {
			return err
		}

		res, err := scanReservation(tx.QueryRowContext(ctx,
			`SELECT `+reservationColumns+` FROM reservations `+where+` FOR UPDATE`, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", repository.ErrNotFound, subject)
		}
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(res); err != nil {
				return err
			}
		}

		next, err := res.Balance.Add(delta)
		if err != nil {
			return err
		}
		if next < 0 {
			return fmt.Errorf("%w: reservation %s holds %s, requested %s",
				domain.ErrInsufficientReservedBalance, res.ID, res.Balance, delta.Abs())
		}

		if delta > 0 {
			reserved, err := reservedOn(ctx, tx, accountID)
			if err != nil {
				return err
			}
			free := domain.Amount(accountBalance) - reserved
			if delta > free {
				return fmt.Errorf("%w: account %s has %s free, requested %s",
					domain.ErrInsufficientFreeToPlan, accountID, free, delta)
			}
		}

		updated, err = scanReservation(tx.QueryRowContext(ctx,
			`UPDATE reservations SET balance = $2, updated_at = now() WHERE id = $1 RETURNING `+reservationColumns,
			res.ID, int64(next)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (l *LedgerStore) AdjustGoalSavedAmount(ctx context.Context, goalID string, amountDelta domain.Amount) (*domain.Goal, error) {
	if amountDelta == 0 {
		return nil, fmt.Errorf("%w: delta must be non-zero", domain.ErrInvalidAmount)
	}

	var updated *domain.Goal
	err := inTx(ctx, l.db, func(tx *sql.Tx) error {
		goal, err := scanGoal(tx.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1 FOR UPDATE`, goalID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: goal %s", repository.ErrNotFound, goalID)
		}
		if err != nil {
			return err
		}

		next, err := goal.SavedAmount.Add(amountDelta)
		if err != nil {
			return err
		}
		if next < 0 {
			return fmt.Errorf("%w: goal %s has %s saved, requested %s",
				domain.ErrInsufficientSaved, goalID, goal.SavedAmount, amountDelta.Abs())
		}

		updated, err = scanGoal(tx.QueryRowContext(ctx,
			`UPDATE goals SET saved_amount = $2, updated_at = now() WHERE id = $1 RETURNING `+goalColumns,
			goalID, int64(next)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
