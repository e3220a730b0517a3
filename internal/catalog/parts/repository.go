package parts

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/catalog/shared"
)

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Part, int, error)
	Get(ctx context.Context, id int64) (Part, error)
	Create(ctx context.Context, part Part) (Part, error)
	Update(ctx context.Context, id int64, part Part) error
	Delete(ctx context.Context, id int64) error
	HasStock(ctx context.Context, id int64) (bool, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Part, int, error) {
	query := `SELECT id, part_number, name, description, unit, created_at, updated_at FROM parts WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		query += ` AND (part_number ILIKE $` + strconv.Itoa(argCount) + ` OR name ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}

	countQuery := `SELECT COUNT(*) FROM parts WHERE 1=1`
	countArgs := []interface{}{}
	if filters.Search != "" {
		countQuery += ` AND (part_number ILIKE $1 OR name ILIKE $1)`
		countArgs = append(countArgs, "%"+filters.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY " + sortOrder(filters.SortBy, filters.SortDir)

	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)

		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, filters.Offset())
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var parts []Part
	for rows.Next() {
		var p Part
		if err := rows.Scan(&p.ID, &p.PartNumber, &p.Name, &p.Description, &p.Unit, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		parts = append(parts, p)
	}
	return parts, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Part, error) {
	var p Part
	err := r.pool.QueryRow(ctx, `SELECT id, part_number, name, description, unit, created_at, updated_at FROM parts WHERE id=$1`, id).
		Scan(&p.ID, &p.PartNumber, &p.Name, &p.Description, &p.Unit, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Part{}, shared.ErrNotFound
		}
		return Part{}, err
	}
	return p, nil
}

func (r *repository) Create(ctx context.Context, part Part) (Part, error) {
	now := time.Now()
	err := r.pool.QueryRow(ctx, `INSERT INTO parts (part_number, name, description, unit, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5) RETURNING id`, part.PartNumber, part.Name, part.Description, part.Unit, now).Scan(&part.ID)
	if err != nil {
		return Part{}, mapPgError(err)
	}
	part.CreatedAt = now
	part.UpdatedAt = now
	return part, nil
}

func (r *repository) Update(ctx context.Context, id int64, part Part) error {
	tag, err := r.pool.Exec(ctx, `UPDATE parts SET part_number=$1, name=$2, description=$3, unit=$4, updated_at=NOW() WHERE id=$5`,
		part.PartNumber, part.Name, part.Description, part.Unit, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM parts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// HasStock reports whether any aggregate row for the part holds a positive
// quantity. Deletion is blocked while it does.
func (r *repository) HasStock(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_aggregates WHERE part_id=$1 AND quantity_on_hand > 0)`, id).Scan(&exists)
	return exists, err
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrDuplicate
	}
	return err
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "part_number":
		return "part_number " + dir
	case "name":
		return "name " + dir
	default:
		return "part_number " + dir
	}
}
