package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// Repository provides PostgreSQL backed persistence for purchase orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	NextNumber(ctx context.Context) (string, error)
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertLineItem(ctx context.Context, line LineItem) (int64, error)
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	GetLineItems(ctx context.Context, poID int64) ([]LineItem, error)
	IncrementReceived(ctx context.Context, lineID, qty int64) error
	UpdatePOStatus(ctx context.Context, id int64, status POStatus) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction. The callback
// also receives a ledger transaction bound to the same database transaction,
// so receipt postings commit or roll back together with the PO writes.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository, ledger.TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepo{tx: tx}, ledger.TxFromPgx(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetPO returns the purchase order and its lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, []LineItem, error) {
	var po PurchaseOrder
	err := r.pool.QueryRow(ctx, `SELECT id, number, supplier_id, status, note, created_at, updated_at FROM purchase_orders WHERE id=$1`, id).
		Scan(&po.ID, &po.Number, &po.SupplierID, &po.Status, &po.Note, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, ErrNotFound
		}
		return PurchaseOrder{}, nil, err
	}
	lines, err := r.listLines(ctx, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

// List returns purchase orders, optionally filtered by status, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, number, supplier_id, status, note, created_at, updated_at FROM purchase_orders`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status=$1`
		args = append(args, string(filter.Status))
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		if err := rows.Scan(&po.ID, &po.Number, &po.SupplierID, &po.Status, &po.Note, &po.CreatedAt, &po.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

func (r *Repository) listLines(ctx context.Context, poID int64) ([]LineItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, po_id, part_id, quantity_ordered, quantity_received, unit_cost FROM po_line_items WHERE po_id=$1 ORDER BY id ASC`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []LineItem
	for rows.Next() {
		var line LineItem
		if err := rows.Scan(&line.ID, &line.POID, &line.PartID, &line.QtyOrdered, &line.QtyReceived, &line.UnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *txRepo) NextNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.tx.QueryRow(ctx, `SELECT nextval('po_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("PO-%06d", seq), nil
}

func (r *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, status, note, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5) RETURNING id`, po.Number, po.SupplierID, string(po.Status), po.Note, time.Now()).Scan(&id)
	return id, err
}

func (r *txRepo) InsertLineItem(ctx context.Context, line LineItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO po_line_items (po_id, part_id, quantity_ordered, quantity_received, unit_cost)
VALUES ($1,$2,$3,0,$4) RETURNING id`, line.POID, line.PartID, line.QtyOrdered, line.UnitCost).Scan(&id)
	return id, err
}

func (r *txRepo) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := r.tx.QueryRow(ctx, `SELECT id, number, supplier_id, status, note, created_at, updated_at FROM purchase_orders WHERE id=$1 FOR UPDATE`, id).
		Scan(&po.ID, &po.Number, &po.SupplierID, &po.Status, &po.Note, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (r *txRepo) GetLineItems(ctx context.Context, poID int64) ([]LineItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, po_id, part_id, quantity_ordered, quantity_received, unit_cost FROM po_line_items WHERE po_id=$1 ORDER BY id ASC FOR UPDATE`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []LineItem
	for rows.Next() {
		var line LineItem
		if err := rows.Scan(&line.ID, &line.POID, &line.PartID, &line.QtyOrdered, &line.QtyReceived, &line.UnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *txRepo) IncrementReceived(ctx context.Context, lineID, qty int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE po_line_items SET quantity_received = quantity_received + $2 WHERE id=$1 AND quantity_received + $2 <= quantity_ordered`, lineID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOverReceipt
	}
	return nil
}

func (r *txRepo) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	return err
}
