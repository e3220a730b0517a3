package reporting

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// Repository runs the read-only report queries. Everything here reads
// committed state without locks; a report is a consistent snapshot of
// whatever has finished, nothing more.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// OpenLayers returns every layer with stock remaining, joined to its part
// and location names, oldest first.
func (r *Repository) OpenLayers(ctx context.Context) ([]ValuationLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.id, l.part_id, p.part_number, l.location_id, loc.name, l.remaining_qty, l.unit_cost, l.created_at
FROM fifo_layers l
JOIN parts p ON p.id = l.part_id
JOIN locations loc ON loc.id = l.location_id
WHERE l.remaining_qty > 0
ORDER BY l.part_id, l.location_id, l.created_at ASC, l.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []ValuationLine
	for rows.Next() {
		var line ValuationLine
		if err := rows.Scan(&line.LayerID, &line.PartID, &line.PartNumber, &line.LocationID, &line.LocationName, &line.RemainingQty, &line.UnitCost, &line.ReceivedAt); err != nil {
			return nil, err
		}
		line.Value = line.UnitCost.Mul(decimal.NewFromInt(line.RemainingQty))
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// History returns transactions newest first with their entry breakdowns.
func (r *Repository) History(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, tx_type, part_id, location_id, COALESCE(to_location_id, 0), quantity, unit_cost, total_cost, reference, reason, posted_at, COALESCE(created_by, 0)
FROM stock_transactions`
	var conds []string
	var args []any
	if filter.PartID > 0 {
		args = append(args, filter.PartID)
		conds = append(conds, "part_id=$"+strconv.Itoa(len(args)))
	}
	if filter.LocationID > 0 {
		args = append(args, filter.LocationID)
		conds = append(conds, "(location_id=$"+strconv.Itoa(len(args))+" OR to_location_id=$"+strconv.Itoa(len(args))+")")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY posted_at DESC, id DESC LIMIT " + strconv.Itoa(limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var history []HistoryEntry
	for rows.Next() {
		var tx ledger.Transaction
		if err := rows.Scan(&tx.ID, &tx.Type, &tx.PartID, &tx.LocationID, &tx.ToLocationID, &tx.Quantity, &tx.UnitCost, &tx.TotalCost, &tx.Reference, &tx.Reason, &tx.PostedAt, &tx.CreatedBy); err != nil {
			return nil, err
		}
		history = append(history, HistoryEntry{Transaction: tx})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range history {
		entries, err := r.entriesFor(ctx, history[i].Transaction.ID)
		if err != nil {
			return nil, err
		}
		history[i].Entries = entries
	}
	return history, nil
}

func (r *Repository) entriesFor(ctx context.Context, txID int64) ([]ledger.Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, transaction_id, layer_id, quantity, unit_cost, cost
FROM stock_transaction_entries WHERE transaction_id=$1 ORDER BY id ASC`, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []ledger.Entry
	for rows.Next() {
		var entry ledger.Entry
		if err := rows.Scan(&entry.ID, &entry.TransactionID, &entry.LayerID, &entry.Quantity, &entry.UnitCost, &entry.Cost); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LowStock returns pairs with stock on hand at or below the threshold.
// Zero-quantity pairs are excluded; empty is empty, not low.
func (r *Repository) LowStock(ctx context.Context, threshold int64) ([]LowStockLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.part_id, p.part_number, p.name, a.location_id, loc.name, a.quantity_on_hand
FROM inventory_aggregates a
JOIN parts p ON p.id = a.part_id
JOIN locations loc ON loc.id = a.location_id
WHERE a.quantity_on_hand > 0 AND a.quantity_on_hand <= $1
ORDER BY a.quantity_on_hand ASC, p.part_number`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []LowStockLine
	for rows.Next() {
		var line LowStockLine
		if err := rows.Scan(&line.PartID, &line.PartNumber, &line.PartName, &line.LocationID, &line.LocationName, &line.QuantityOnHand); err != nil {
			return nil, err
		}
		line.Threshold = threshold
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// OpenPOs aggregates ordered, received and outstanding value for every
// purchase order not yet closed.
func (r *Repository) OpenPOs(ctx context.Context) ([]OpenPOLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT po.id, po.number, po.supplier_id, s.name, po.status, po.created_at,
COALESCE(SUM(li.quantity_ordered), 0),
COALESCE(SUM(li.quantity_received), 0),
COALESCE(SUM((li.quantity_ordered - li.quantity_received) * li.unit_cost), 0)
FROM purchase_orders po
JOIN suppliers s ON s.id = po.supplier_id
LEFT JOIN po_line_items li ON li.po_id = po.id
WHERE po.status <> 'CLOSED'
GROUP BY po.id, po.number, po.supplier_id, s.name, po.status, po.created_at
ORDER BY po.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []OpenPOLine
	for rows.Next() {
		var line OpenPOLine
		if err := rows.Scan(&line.POID, &line.Number, &line.SupplierID, &line.SupplierName, &line.Status, &line.CreatedAt, &line.QtyOrdered, &line.QtyReceived, &line.OutstandValue); err != nil {
			return nil, err
		}
		line.QtyRemaining = line.QtyOrdered - line.QtyReceived
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
