package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

const goalColumns = `id, owner_id, title, target_amount, saved_amount, currency, fund_type, status, created_at, updated_at, completed_at`

type GoalRepository struct {
	db *sql.DB
}

func scanGoal(row scanner) (*domain.Goal, error) {
	var (
		g           domain.Goal
		completedAt sql.NullTime
	)
	err := row.Scan(&g.ID, &g.OwnerID, &g.Title, &g.TargetAmount, &g.SavedAmount, &g.Currency,
		&g.FundType, &g.Status, &g.CreatedAt, &g.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		at := completedAt.Time
		g.CompletedAt = &at
	}
	return &g, nil
}

func (r *GoalRepository) Save(ctx context.Context, goal *domain.Goal) error {
	if goal.Status == "" {
		goal.Status = domain.GoalActive
	}

	const query = `INSERT INTO goals (id, owner_id, title, target_amount, saved_amount, currency, fund_type, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		goal.ID, goal.OwnerID, goal.Title, int64(goal.TargetAmount), int64(goal.SavedAmount),
		goal.Currency, goal.FundType, goal.Status,
	).Scan(&goal.CreatedAt, &goal.UpdatedAt)
	return mapError(err)
}

func (r *GoalRepository) GetByID(ctx context.Context, id string) (*domain.Goal, error) {
	goal, err := scanGoal(r.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: goal %s", repository.ErrNotFound, id)
	}
	return goal, mapError(err)
}

func (r *GoalRepository) GetByOwnerID(ctx context.Context, ownerID string) ([]*domain.Goal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*domain.Goal, 0)
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, mapError(err)
		}
		result = append(result, goal)
	}
	return result, mapError(rows.Err())
}

func (r *GoalRepository) Complete(ctx context.Context, id string) (*domain.Goal, error) {
	goal, err := scanGoal(r.db.QueryRowContext(ctx,
		`UPDATE goals SET status = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING `+goalColumns, id, domain.GoalCompleted, domain.GoalActive))
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: goal %s is %s", domain.ErrGoalNotActive, id, existing.Status)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return goal, nil
}
