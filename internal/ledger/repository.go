package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists the layer ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	LockStock(ctx context.Context, partID, locationID int64) error
	GetAggregateForUpdate(ctx context.Context, partID, locationID int64) (Aggregate, error)
	UpsertAggregate(ctx context.Context, agg Aggregate) error
	ListOpenLayers(ctx context.Context, partID, locationID int64) ([]Layer, error)
	GetNewestLayer(ctx context.Context, partID, locationID int64) (Layer, error)
	InsertLayer(ctx context.Context, layer Layer) (int64, error)
	DecrementLayer(ctx context.Context, layerID, qty int64) error
	InsertTransaction(ctx context.Context, record Transaction) (int64, error)
	InsertEntries(ctx context.Context, txID int64, entries []Entry) error
}

type txRepository struct {
	tx pgx.Tx
}

// ErrAggregateNotFound indicates a missing aggregate row.
var ErrAggregateNotFound = errors.New("inventory aggregate not found")

// ErrLayerNotFound indicates no layer exists for the pair.
var ErrLayerNotFound = errors.New("fifo layer not found")

// TxFromPgx wraps an existing pgx transaction so another module's unit of
// work can carry ledger writes atomically with its own.
func TxFromPgx(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetAggregate returns the committed on-hand quantity for a pair.
func (r *Repository) GetAggregate(ctx context.Context, partID, locationID int64) (Aggregate, error) {
	var agg Aggregate
	err := r.pool.QueryRow(ctx, `SELECT part_id, location_id, quantity_on_hand, updated_at FROM inventory_aggregates WHERE part_id=$1 AND location_id=$2`, partID, locationID).
		Scan(&agg.PartID, &agg.LocationID, &agg.QuantityOnHand, &agg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Aggregate{PartID: partID, LocationID: locationID}, ErrAggregateNotFound
		}
		return Aggregate{}, err
	}
	return agg, nil
}

func (r *txRepository) LockStock(ctx context.Context, partID, locationID int64) error {
	// Advisory lock scoped to the transaction; serialises all stock mutation
	// for one (part, location) pair, including first-receipt races where no
	// aggregate row exists yet to lock.
	_, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, shared.StockLockKey(partID, locationID))
	return err
}

func (r *txRepository) GetAggregateForUpdate(ctx context.Context, partID, locationID int64) (Aggregate, error) {
	var agg Aggregate
	err := r.tx.QueryRow(ctx, `SELECT part_id, location_id, quantity_on_hand, updated_at FROM inventory_aggregates WHERE part_id=$1 AND location_id=$2 FOR UPDATE`, partID, locationID).
		Scan(&agg.PartID, &agg.LocationID, &agg.QuantityOnHand, &agg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Aggregate{PartID: partID, LocationID: locationID}, ErrAggregateNotFound
		}
		return Aggregate{}, err
	}
	return agg, nil
}

func (r *txRepository) UpsertAggregate(ctx context.Context, agg Aggregate) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_aggregates (part_id, location_id, quantity_on_hand, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (part_id, location_id) DO UPDATE SET quantity_on_hand=EXCLUDED.quantity_on_hand, updated_at=NOW()`, agg.PartID, agg.LocationID, agg.QuantityOnHand)
	return err
}

func (r *txRepository) ListOpenLayers(ctx context.Context, partID, locationID int64) ([]Layer, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, part_id, location_id, source_type, source_ref, original_qty, remaining_qty, unit_cost, created_at
FROM fifo_layers
WHERE part_id=$1 AND location_id=$2 AND remaining_qty > 0
ORDER BY created_at ASC, id ASC`, partID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var layers []Layer
	for rows.Next() {
		var layer Layer
		if err := rows.Scan(&layer.ID, &layer.PartID, &layer.LocationID, &layer.SourceType, &layer.SourceRef, &layer.OriginalQty, &layer.RemainingQty, &layer.UnitCost, &layer.CreatedAt); err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func (r *txRepository) GetNewestLayer(ctx context.Context, partID, locationID int64) (Layer, error) {
	var layer Layer
	err := r.tx.QueryRow(ctx, `SELECT id, part_id, location_id, source_type, source_ref, original_qty, remaining_qty, unit_cost, created_at
FROM fifo_layers
WHERE part_id=$1 AND location_id=$2
ORDER BY created_at DESC, id DESC
LIMIT 1`, partID, locationID).
		Scan(&layer.ID, &layer.PartID, &layer.LocationID, &layer.SourceType, &layer.SourceRef, &layer.OriginalQty, &layer.RemainingQty, &layer.UnitCost, &layer.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Layer{}, ErrLayerNotFound
		}
		return Layer{}, err
	}
	return layer, nil
}

func (r *txRepository) InsertLayer(ctx context.Context, layer Layer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO fifo_layers (part_id, location_id, source_type, source_ref, original_qty, remaining_qty, unit_cost, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`, layer.PartID, layer.LocationID, string(layer.SourceType), layer.SourceRef, layer.OriginalQty, layer.RemainingQty, layer.UnitCost, layer.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) DecrementLayer(ctx context.Context, layerID, qty int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE fifo_layers SET remaining_qty = remaining_qty - $2 WHERE id=$1 AND remaining_qty >= $2`, layerID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: layer %d has fewer than %d units remaining", layerID, qty)
	}
	return nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, record Transaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transactions (tx_type, part_id, location_id, to_location_id, quantity, unit_cost, total_cost, reference, reason, posted_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW()) RETURNING id`,
		string(record.Type), record.PartID, record.LocationID, nullInt(record.ToLocationID), record.Quantity, record.UnitCost, record.TotalCost, record.Reference, record.Reason, record.PostedAt, nullInt(record.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertEntries(ctx context.Context, txID int64, entries []Entry) error {
	for _, entry := range entries {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_transaction_entries (transaction_id, layer_id, quantity, unit_cost, cost)
VALUES ($1,$2,$3,$4,$5)`, txID, entry.LayerID, entry.Quantity, entry.UnitCost, entry.Cost); err != nil {
			return err
		}
	}
	return nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
