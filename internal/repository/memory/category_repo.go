package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

type CategoryRepository struct {
	s *state
}

func (r *CategoryRepository) Save(ctx context.Context, category *domain.Category) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.categories[category.ID]; exists {
		return fmt.Errorf("%w: category %s", repository.ErrDuplicate, category.ID)
	}

	if category.CreatedAt.IsZero() {
		category.CreatedAt = now()
	}
	r.s.categories[category.ID] = *category

	return nil
}

func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*domain.Category, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	category, exists := r.s.categories[id]
	if !exists {
		return nil, fmt.Errorf("%w: category %s", repository.ErrNotFound, id)
	}
	return &category, nil
}

func (r *CategoryRepository) GetByOwnerID(ctx context.Context, ownerID string) ([]*domain.Category, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]*domain.Category, 0)
	for _, category := range r.s.categories {
		if category.OwnerID == ownerID {
			category := category
			result = append(result, &category)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result, nil
}
