package parts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/catalog/shared"
)

type memoryPartRepo struct {
	parts   map[int64]Part
	stocked map[int64]bool
	nextID  int64
}

func newMemoryPartRepo() *memoryPartRepo {
	return &memoryPartRepo{parts: make(map[int64]Part), stocked: make(map[int64]bool)}
}

func (r *memoryPartRepo) List(ctx context.Context, filters shared.ListFilters) ([]Part, int, error) {
	items := make([]Part, 0, len(r.parts))
	for _, part := range r.parts {
		items = append(items, part)
	}
	return items, len(items), nil
}

func (r *memoryPartRepo) Get(ctx context.Context, id int64) (Part, error) {
	part, ok := r.parts[id]
	if !ok {
		return Part{}, shared.ErrNotFound
	}
	return part, nil
}

func (r *memoryPartRepo) Create(ctx context.Context, part Part) (Part, error) {
	for _, existing := range r.parts {
		if existing.PartNumber == part.PartNumber {
			return Part{}, shared.ErrDuplicate
		}
	}
	r.nextID++
	part.ID = r.nextID
	r.parts[part.ID] = part
	return part, nil
}

func (r *memoryPartRepo) Update(ctx context.Context, id int64, part Part) error {
	if _, ok := r.parts[id]; !ok {
		return shared.ErrNotFound
	}
	part.ID = id
	r.parts[id] = part
	return nil
}

func (r *memoryPartRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.parts[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.parts, id)
	return nil
}

func (r *memoryPartRepo) HasStock(ctx context.Context, id int64) (bool, error) {
	return r.stocked[id], nil
}

func TestCreateValidatesRequiredFields(t *testing.T) {
	svc := NewService(newMemoryPartRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, Part{Name: "Widget"})
	require.ErrorIs(t, err, shared.ErrRequiredField)

	_, err = svc.Create(ctx, Part{PartNumber: "P-001"})
	require.ErrorIs(t, err, shared.ErrRequiredField)

	_, err = svc.Create(ctx, Part{PartNumber: "  ", Name: "Widget"})
	require.ErrorIs(t, err, shared.ErrRequiredField)

	part, err := svc.Create(ctx, Part{PartNumber: "P-001", Name: "Widget", Unit: "ea"})
	require.NoError(t, err)
	require.NotZero(t, part.ID)
}

func TestCreateRejectsDuplicatePartNumber(t *testing.T) {
	svc := NewService(newMemoryPartRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, Part{PartNumber: "P-001", Name: "Widget"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, Part{PartNumber: "P-001", Name: "Other widget"})
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestDeleteBlockedWhileStocked(t *testing.T) {
	repo := newMemoryPartRepo()
	svc := NewService(repo)
	ctx := context.Background()

	part, err := svc.Create(ctx, Part{PartNumber: "P-001", Name: "Widget"})
	require.NoError(t, err)

	repo.stocked[part.ID] = true
	err = svc.Delete(ctx, part.ID)
	require.ErrorIs(t, err, shared.ErrInUse)

	repo.stocked[part.ID] = false
	require.NoError(t, svc.Delete(ctx, part.ID))
	_, err = svc.Get(ctx, part.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGetRejectsInvalidID(t *testing.T) {
	svc := NewService(newMemoryPartRepo())

	_, err := svc.Get(context.Background(), 0)
	require.ErrorIs(t, err, shared.ErrInvalidID)
	require.ErrorIs(t, svc.Exists(context.Background(), -1), shared.ErrInvalidID)
}
