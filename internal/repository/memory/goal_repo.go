package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

type GoalRepository struct {
	s *state
}

func (r *GoalRepository) Save(ctx context.Context, goal *domain.Goal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.goals[goal.ID]; exists {
		return fmt.Errorf("%w: goal %s", repository.ErrDuplicate, goal.ID)
	}

	at := now()
	goal.CreatedAt = at
	goal.UpdatedAt = at
	if goal.Status == "" {
		goal.Status = domain.GoalActive
	}
	r.s.goals[goal.ID] = goal.Clone()

	return nil
}

func (r *GoalRepository) GetByID(ctx context.Context, id string) (*domain.Goal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	goal, exists := r.s.goals[id]
	if !exists {
		return nil, fmt.Errorf("%w: goal %s", repository.ErrNotFound, id)
	}
	goal = goal.Clone()
	return &goal, nil
}

func (r *GoalRepository) GetByOwnerID(ctx context.Context, ownerID string) ([]*domain.Goal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]*domain.Goal, 0)
	for _, goal := range r.s.goals {
		if goal.OwnerID == ownerID {
			goal = goal.Clone()
			result = append(result, &goal)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (r *GoalRepository) Complete(ctx context.Context, id string) (*domain.Goal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	goal, exists := r.s.goals[id]
	if !exists {
		return nil, fmt.Errorf("%w: goal %s", repository.ErrNotFound, id)
	}
	if !goal.IsActive() {
		return nil, fmt.Errorf("%w: goal %s is %s", domain.ErrGoalNotActive, id, goal.Status)
	}

	at := now()
	goal.Status = domain.GoalCompleted
	goal.CompletedAt = &at
	goal.UpdatedAt = at
	r.s.goals[id] = goal

	goal = goal.Clone()
	return &goal, nil
}
