package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

const accountColumns = `id, owner_id, name, type, currency, balance, created_at, updated_at`

type AccountRepository struct {
	db *sql.DB
}

func scanAccount(row scanner) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Type, &a.Currency, &a.Balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepository) Save(ctx context.Context, account *domain.Account) error {
	const query = `INSERT INTO accounts (id, owner_id, name, type, currency, balance)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		account.ID, account.OwnerID, account.Name, account.Type, account.Currency, int64(account.Balance),
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	return mapError(err)
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}
	return account, mapError(err)
}

func (r *AccountRepository) GetByOwnerID(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, mapError(err)
		}
		result = append(result, account)
	}
	return result, mapError(rows.Err())
}

func (r *AccountRepository) SetBalance(ctx context.Context, id string, balance domain.Amount) (*domain.Account, error) {
	var updated *domain.Account

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		reserved, err := reservedOn(ctx, tx, id)
		if err != nil {
			return err
		}
		if balance < reserved {
			return fmt.Errorf("%w: account %s has %s reserved, balance %s would leave it overcommitted",
				domain.ErrInsufficientFreeToPlan, id, reserved, balance)
		}

		updated, err = scanAccount(tx.QueryRowContext(ctx,
			`UPDATE accounts SET balance = $2, updated_at = now() WHERE id = $1 RETURNING `+accountColumns,
			id, int64(balance)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		var resID string
		var held int64
		err = tx.QueryRowContext(ctx,
			`SELECT id, balance FROM reservations WHERE account_id = $1 AND balance <> 0 LIMIT 1`, id,
		).Scan(&resID, &held)
		switch {
		case err == nil:
			return fmt.Errorf("%w: reservation %s on account %s holds %s",
				domain.ErrNonZeroBalance, resID, id, domain.Amount(held))
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		// Empty reservations go with the account through ON DELETE CASCADE.
		_, err = tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
		return err
	})
}

// reservedOn sums the reservation balances bound to accountID.
func reservedOn(ctx context.Context, tx *sql.Tx, accountID string) (domain.Amount, error) {
	var total int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(balance), 0) FROM reservations WHERE account_id = $1`, accountID,
	).Scan(&total)
	return domain.Amount(total), err
}

type CategoryRepository struct {
	db *sql.DB
}

func (r *CategoryRepository) Save(ctx context.Context, category *domain.Category) error {
	const query = `INSERT INTO categories (id, owner_id, name, kind, emoji)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		category.ID, category.OwnerID, category.Name, category.Kind, category.Emoji,
	).Scan(&category.CreatedAt)
	return mapError(err)
}

func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*domain.Category, error) {
	var c domain.Category
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, kind, emoji, created_at FROM categories WHERE id = $1`, id,
	).Scan(&c.ID, &c.OwnerID, &c.Name, &c.Kind, &c.Emoji, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: category %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func (r *CategoryRepository) GetByOwnerID(ctx context.Context, ownerID string) ([]*domain.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, name, kind, emoji, created_at FROM categories WHERE owner_id = $1 ORDER BY name`, ownerID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*domain.Category, 0)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Kind, &c.Emoji, &c.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		result = append(result, &c)
	}
	return result, mapError(rows.Err())
}
