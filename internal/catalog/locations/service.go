package locations

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/catalog/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Location, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Location, error) {
	if id <= 0 {
		return Location{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

// Exists resolves a location id to existence.
func (s *Service) Exists(ctx context.Context, id int64) error {
	_, err := s.Get(ctx, id)
	return err
}

func (s *Service) Create(ctx context.Context, location Location) (Location, error) {
	if err := validate(location); err != nil {
		return Location{}, err
	}
	return s.repo.Create(ctx, location)
}

func (s *Service) Update(ctx context.Context, id int64, location Location) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	if err := validate(location); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, location)
}

// Delete removes a location. Blocked while it still holds stock.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	stocked, err := s.repo.HasStock(ctx, id)
	if err != nil {
		return err
	}
	if stocked {
		return fmt.Errorf("location %d: %w", id, shared.ErrInUse)
	}
	return s.repo.Delete(ctx, id)
}

func validate(l Location) error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("location name: %w", shared.ErrRequiredField)
	}
	return nil
}
