package parts

import (
	"context"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/catalog/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Part, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Part, error) {
	if id <= 0 {
		return Part{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

// Exists resolves a part id to existence, for collaborators that only need
// the reference check.
func (s *Service) Exists(ctx context.Context, id int64) error {
	_, err := s.Get(ctx, id)
	return err
}

func (s *Service) Create(ctx context.Context, part Part) (Part, error) {
	if err := s.validate(part); err != nil {
		return Part{}, err
	}
	return s.repo.Create(ctx, part)
}

func (s *Service) Update(ctx context.Context, id int64, part Part) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	if err := s.validate(part); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, part)
}

// Delete removes a part. Blocked while any location still holds stock of it.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	stocked, err := s.repo.HasStock(ctx, id)
	if err != nil {
		return err
	}
	if stocked {
		return fmt.Errorf("part %d: %w", id, shared.ErrInUse)
	}
	return s.repo.Delete(ctx, id)
}
