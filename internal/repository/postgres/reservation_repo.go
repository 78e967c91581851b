package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

const reservationColumns = `id, kind, owner_id, account_id, owner_entity_id, name, balance, currency, target_amount, created_at, updated_at`

type ReservationRepository struct {
	db *sql.DB
}

func scanReservation(row scanner) (*domain.Reservation, error) {
	var (
		r      domain.Reservation
		target sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.Kind, &r.OwnerID, &r.AccountID, &r.OwnerEntityID, &r.Name,
		&r.Balance, &r.Currency, &target, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if target.Valid {
		amount := domain.Amount(target.Int64)
		r.TargetAmount = &amount
	}
	return &r, nil
}

func (r *ReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
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

	var target sql.NullInt64
	if res.TargetAmount != nil {
		target = sql.NullInt64{Int64: int64(*res.TargetAmount), Valid: true}
	}

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		var currency string
		err := tx.QueryRowContext(ctx, `SELECT currency FROM accounts WHERE id = $1 FOR SHARE`, res.AccountID).Scan(&currency)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: account %s", repository.ErrNotFound, res.AccountID)
		}
		if err != nil {
			return err
		}
		if currency != res.Currency {
			return fmt.Errorf("%w: reservation in %s on account %s in %s",
				domain.ErrCurrencyMismatch, res.Currency, res.AccountID, currency)
		}

		const query = `INSERT INTO reservations (id, kind, owner_id, account_id, owner_entity_id, name, balance, currency, target_amount)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
		RETURNING created_at, updated_at`
		return tx.QueryRowContext(ctx, query,
			res.ID, res.Kind, res.OwnerID, res.AccountID, res.OwnerEntityID, res.Name, res.Currency, target,
		).Scan(&res.CreatedAt, &res.UpdatedAt)
	})
}

func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	res, err := scanReservation(r.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: reservation %s", repository.ErrNotFound, id)
	}
	return res, mapError(err)
}

func (r *ReservationRepository) GetByAccountID(ctx context.Context, accountID string) ([]*domain.Reservation, error) {
	return r.list(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE account_id = $1 ORDER BY created_at`, accountID)
}

func (r *ReservationRepository) GetByOwnerID(ctx context.Context, ownerID string) ([]*domain.Reservation, error) {
	return r.list(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE owner_id = $1 ORDER BY created_at`, ownerID)
}

func (r *ReservationRepository) Delete(ctx context.Context, id string) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		var balance int64
		err := tx.QueryRowContext(ctx, `SELECT balance FROM reservations WHERE id = $1 FOR UPDATE`, id).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: reservation %s", repository.ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if balance != 0 {
			return fmt.Errorf("%w: reservation %s holds %s", domain.ErrNonZeroBalance, id, domain.Amount(balance))
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = $1`, id)
		return err
	})
}

func (r *ReservationRepository) list(ctx context.Context, query string, arg string) ([]*domain.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*domain.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, mapError(err)
		}
		result = append(result, res)
	}
	return result, mapError(rows.Err())
}
