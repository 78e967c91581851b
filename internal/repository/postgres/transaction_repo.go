package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

const eventColumns = `id, owner_id, type, amount, from_account_id, to_account_id, category_id, goal_id, reservation_id, currency, note, created_at, updated_at`

// TransactionRepository stores LedgerEvents in the transactions table.
type TransactionRepository struct {
	db *sql.DB
}

func scanEvent(row scanner) (*domain.LedgerEvent, error) {
	var (
		e                       domain.LedgerEvent
		from, to, cat, gid, rid sql.NullString
	)
	err := row.Scan(&e.ID, &e.OwnerID, &e.Type, &e.Amount, &from, &to, &cat, &gid, &rid,
		&e.Currency, &e.Note, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.FromAccountID = from.String
	e.ToAccountID = to.String
	e.CategoryID = cat.String
	e.GoalID = gid.String
	e.ReservationID = rid.String
	return &e, nil
}

func (r *TransactionRepository) Insert(ctx context.Context, event *domain.LedgerEvent) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := applyEffects(ctx, tx, nil, event.BalanceEffects()); err != nil {
			return err
		}

		const query = `INSERT INTO transactions (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, now()), now())
		RETURNING created_at, updated_at`

		createdAt := sql.NullTime{Time: event.CreatedAt, Valid: !event.CreatedAt.IsZero()}
		return tx.QueryRowContext(ctx, query,
			event.ID, event.OwnerID, event.Type, int64(event.Amount),
			nullString(event.FromAccountID), nullString(event.ToAccountID),
			nullString(event.CategoryID), nullString(event.GoalID), nullString(event.ReservationID),
			event.Currency, event.Note, createdAt,
		).Scan(&event.CreatedAt, &event.UpdatedAt)
	})
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.LedgerEvent, error) {
	event, err := scanEvent(r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", repository.ErrNotFound, id)
	}
	return event, mapError(err)
}

func (r *TransactionRepository) GetByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*domain.LedgerEvent, error) {
	if offset < 0 {
		offset = 0
	}
	var pageLimit sql.NullInt64
	if limit > 0 {
		pageLimit = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM transactions
	WHERE from_account_id = $1 OR to_account_id = $1
	ORDER BY created_at DESC
	LIMIT $2 OFFSET $3`, accountID, pageLimit, offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*domain.LedgerEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, mapError(err)
		}
		result = append(result, event)
	}
	return result, mapError(rows.Err())
}

func (r *TransactionRepository) Update(ctx context.Context, event *domain.LedgerEvent) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		old, err := scanEvent(tx.QueryRowContext(ctx,
			`SELECT `+eventColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, event.ID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: transaction %s", repository.ErrNotFound, event.ID)
		}
		if err != nil {
			return err
		}
		if old.Type != event.Type {
			return fmt.Errorf("%w: transaction %s type cannot change from %s to %s",
				domain.ErrInvalidInput, event.ID, old.Type, event.Type)
		}

		deltas, err := applyEffects(ctx, tx, old.BalanceEffects(), event.BalanceEffects())
		if err != nil {
			return err
		}
		if err := checkReserved(ctx, tx, deltas, event); err != nil {
			return err
		}

		return tx.QueryRowContext(ctx, `UPDATE transactions
		SET amount = $2, from_account_id = $3, to_account_id = $4, category_id = $5, goal_id = $6,
			reservation_id = $7, currency = $8, note = $9, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
			event.ID, int64(event.Amount),
			nullString(event.FromAccountID), nullString(event.ToAccountID),
			nullString(event.CategoryID), nullString(event.GoalID), nullString(event.ReservationID),
			event.Currency, event.Note,
		).Scan(&event.CreatedAt, &event.UpdatedAt)
	})
}

func (r *TransactionRepository) Delete(ctx context.Context, id string) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		old, err := scanEvent(tx.QueryRowContext(ctx,
			`SELECT `+eventColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: transaction %s", repository.ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		deltas, err := applyEffects(ctx, tx, old.BalanceEffects(), nil)
		if err != nil {
			return err
		}
		if err := checkReserved(ctx, tx, deltas, nil); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
		return err
	})
}
