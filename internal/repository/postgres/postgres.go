// Package postgres is the durable Ledger Store. Every delta runs in its own
// transaction with row locks on the account and the reservation it touches.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingRetries     int
	PingBackoff     time.Duration
	Logger          *slog.Logger
}

// Open connects to dsn and waits until the server answers a ping.
func Open(ctx context.Context, dsn string, opts Options) (*sql.DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	backoff := opts.PingBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			return db, nil
		}
		if attempt >= opts.PingRetries {
			db.Close()
			return nil, fmt.Errorf("%w: ping postgres: %v", domain.ErrNetwork, err)
		}

		logger.Warn("postgres not ready, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(backoff << attempt):
		}
	}
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	target, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", target)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no new migrations")
			return nil
		}

		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			return fmt.Errorf("migration failed: dirty database version %d", dirtyErr.Version)
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("migrations applied", slog.Uint64("version", uint64(version)))
	return nil
}

// NewStore builds the repositories over db.
func NewStore(db *sql.DB) repository.Store {
	return repository.Store{
		Accounts:     &AccountRepository{db: db},
		Categories:   &CategoryRepository{db: db},
		Reservations: &ReservationRepository{db: db},
		Goals:        &GoalRepository{db: db},
		Events:       &TransactionRepository{db: db},
		Ledger:       &LedgerStore{db: db},
	}
}

var (
	_ repository.AccountRepository     = (*AccountRepository)(nil)
	_ repository.CategoryRepository    = (*CategoryRepository)(nil)
	_ repository.ReservationRepository = (*ReservationRepository)(nil)
	_ repository.GoalRepository        = (*GoalRepository)(nil)
	_ repository.EventRepository       = (*TransactionRepository)(nil)
	_ repository.LedgerStore           = (*LedgerStore)(nil)
)

// mapError translates driver failures into the ledger's error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", repository.ErrDuplicate, pqErr.Message)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", repository.ErrNotFound, pqErr.Message)
		case codeCheckViolation:
			return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, pqErr.Message)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}

	return err
}

// inTx runs fn in a transaction and maps whatever it returns.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return mapError(err)
	}
	if err = tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

// applyEffects adds the net per-account deltas of reverse (negated) and
// apply and returns them. Accounts are updated in id order so concurrent
// writers lock rows in the same sequence.
func applyEffects(ctx context.Context, tx *sql.Tx, reverse, apply []domain.BalanceEffect) (map[string]domain.Amount, error) {
	deltas := make(map[string]domain.Amount)
	for _, e := range reverse {
		deltas[e.AccountID] -= e.Delta
	}
	for _, e := range apply {
		deltas[e.AccountID] += e.Delta
	}

	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	const query = `UPDATE accounts SET balance = balance + $2, updated_at = now() WHERE id = $1`
	for _, id := range ids {
		result, err := tx.ExecContext(ctx, query, id, int64(deltas[id]))
		if err != nil {
			return nil, err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
		}
	}
	return deltas, nil
}

// checkReserved rejects lowered balances that leave an account with less
// than is reserved on it. The part of next's debit that its own reservation
// will absorb is not counted. The account rows are already locked by
// applyEffects.
func checkReserved(ctx context.Context, tx *sql.Tx, deltas map[string]domain.Amount, next *domain.LedgerEvent) error {
	coveredAccount, covered, err := reservedDebit(ctx, tx, next)
	if err != nil {
		return err
	}

	for id, delta := range deltas {
		if delta >= 0 {
			continue
		}
		var balance int64
		if err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1`, id).Scan(&balance); err != nil {
			return err
		}
		reserved, err := reservedOn(ctx, tx, id)
		if err != nil {
			return err
		}
		if id == coveredAccount {
			reserved -= covered
		}
		if domain.Amount(balance) < reserved {
			return fmt.Errorf("%w: account %s has %s reserved, balance %s would leave it overcommitted",
				domain.ErrInsufficientFreeToPlan, id, reserved, domain.Amount(balance))
		}
	}
	return nil
}

// reservedDebit reports the account and amount of an expense debit that the
// event's reservation covers.
func reservedDebit(ctx context.Context, tx *sql.Tx, event *domain.LedgerEvent) (string, domain.Amount, error) {
	if event == nil || event.Type != domain.EventExpense || event.ReservationID == "" {
		return "", 0, nil
	}

	var (
		accountID string
		balance   int64
	)
	err := tx.QueryRowContext(ctx, `SELECT account_id, balance FROM reservations WHERE id = $1`,
		event.ReservationID).Scan(&accountID, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	if accountID != event.FromAccountID {
		return "", 0, nil
	}
	return accountID, min(event.Amount, domain.Amount(balance)), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scanner interface {
	Scan(dest ...any) error
}
