package reporting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// ValuationLine is one open layer contributing to stock value.
type ValuationLine struct {
	LayerID      int64           `json:"layer_id"`
	PartID       int64           `json:"part_id"`
	PartNumber   string          `json:"part_number"`
	LocationID   int64           `json:"location_id"`
	LocationName string          `json:"location_name"`
	RemainingQty int64           `json:"remaining_qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	Value        decimal.Decimal `json:"value"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// ValuationSummary aggregates a (part, location) pair's open layers.
type ValuationSummary struct {
	PartID          int64           `json:"part_id"`
	PartNumber      string          `json:"part_number"`
	LocationID      int64           `json:"location_id"`
	LocationName    string          `json:"location_name"`
	QuantityOnHand  int64           `json:"quantity_on_hand"`
	TotalValue      decimal.Decimal `json:"total_value"`
	AverageUnitCost decimal.Decimal `json:"average_unit_cost"`
}

// ValuationReport is the full point-in-time valuation.
type ValuationReport struct {
	Lines      []ValuationLine    `json:"lines"`
	Summaries  []ValuationSummary `json:"summaries"`
	GrandTotal decimal.Decimal    `json:"grand_total"`
}

// HistoryEntry is one transaction with its layer breakdown.
type HistoryEntry struct {
	Transaction ledger.Transaction `json:"transaction"`
	Entries     []ledger.Entry     `json:"entries"`
}

// HistoryFilter narrows transaction history queries.
type HistoryFilter struct {
	PartID     int64
	LocationID int64
	Limit      int
}

// LowStockLine is one pair at or below the reorder threshold but not empty.
type LowStockLine struct {
	PartID         int64  `json:"part_id"`
	PartNumber     string `json:"part_number"`
	PartName       string `json:"part_name"`
	LocationID     int64  `json:"location_id"`
	LocationName   string `json:"location_name"`
	QuantityOnHand int64  `json:"quantity_on_hand"`
	Threshold      int64  `json:"threshold"`
}

// OpenPOLine summarises one open purchase order.
type OpenPOLine struct {
	POID          int64           `json:"po_id"`
	Number        string          `json:"number"`
	SupplierID    int64           `json:"supplier_id"`
	SupplierName  string          `json:"supplier_name"`
	Status        string          `json:"status"`
	QtyOrdered    int64           `json:"quantity_ordered"`
	QtyReceived   int64           `json:"quantity_received"`
	QtyRemaining  int64           `json:"quantity_remaining"`
	OutstandValue decimal.Decimal `json:"outstanding_value"`
	CreatedAt     time.Time       `json:"created_at"`
}
