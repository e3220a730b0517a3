package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SourceType identifies the origin of a cost layer.
type SourceType string

const (
	// SourcePOReceipt marks layers created by goods received against a PO.
	SourcePOReceipt SourceType = "PO_RECEIPT"
	// SourceAdjustment marks layers created by positive stock adjustments.
	SourceAdjustment SourceType = "ADJUSTMENT"
	// SourceReturn marks layers created by stock returns.
	SourceReturn SourceType = "RETURN"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	TransactionReceive    TransactionType = "RECEIVE"
	TransactionIssue      TransactionType = "ISSUE"
	TransactionMove       TransactionType = "MOVE"
	TransactionDispose    TransactionType = "DISPOSE"
	TransactionAdjustment TransactionType = "ADJUSTMENT"
	TransactionReturn     TransactionType = "RETURN"
)

// Layer is one batch of stock with a single origin and unit cost. Only
// RemainingQty ever changes after insert; layers are never merged or deleted,
// even when two receipts share identical part, location and cost.
type Layer struct {
	ID           int64           `json:"id"`
	PartID       int64           `json:"part_id"`
	LocationID   int64           `json:"location_id"`
	SourceType   SourceType      `json:"source_type"`
	SourceRef    string          `json:"source_ref"`
	OriginalQty  int64           `json:"original_qty"`
	RemainingQty int64           `json:"remaining_qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Aggregate holds the denormalized on-hand quantity for one (part, location)
// pair. Invariant: QuantityOnHand equals the sum of RemainingQty over the
// pair's layers after every unit of work.
type Aggregate struct {
	PartID         int64     `json:"part_id"`
	LocationID     int64     `json:"location_id"`
	QuantityOnHand int64     `json:"quantity_on_hand"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Transaction is the immutable header of one ledger-affecting event.
// Quantity is signed: positive for inflows, negative for outflows. MOVE
// records carry a positive quantity plus both locations.
type Transaction struct {
	ID           int64           `json:"id"`
	Type         TransactionType `json:"type"`
	PartID       int64           `json:"part_id"`
	LocationID   int64           `json:"location_id"`
	ToLocationID int64           `json:"to_location_id,omitempty"`
	Quantity     int64           `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Reference    string          `json:"reference,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	PostedAt     time.Time       `json:"posted_at"`
	CreatedBy    int64           `json:"created_by,omitempty"`
}

// Entry is one child row of a transaction recording how a single layer was
// touched. Quantity follows the same sign convention as the header: consumed
// layers carry negative quantities, created layers positive.
type Entry struct {
	ID            int64           `json:"id"`
	TransactionID int64           `json:"transaction_id"`
	LayerID       int64           `json:"layer_id"`
	Quantity      int64           `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	Cost          decimal.Decimal `json:"cost"`
}

// Consumption reports one layer drained (fully or partially) by an outflow,
// in consumption order.
type Consumption struct {
	LayerID  int64           `json:"layer_id"`
	Quantity int64           `json:"quantity_consumed"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Cost     decimal.Decimal `json:"cost"`
}

// Result describes the outcome of one transaction-engine operation.
type Result struct {
	Transaction     Transaction
	CreatedLayer    *Layer
	CreatedLayers   []Layer
	Consumed        []Consumption
	TotalCost       decimal.Decimal
	AverageUnitCost decimal.Decimal
	QuantityBefore  int64
	QuantityAfter   int64
	NoChange        bool
}

// ReceiveInput describes a goods receipt against a purchase order.
type ReceiveInput struct {
	PartID     int64
	LocationID int64
	Qty        int64
	UnitCost   decimal.Decimal
	PORef      string
	ActorID    int64
}

// IssueInput describes stock issued out of a location.
type IssueInput struct {
	PartID     int64
	LocationID int64
	Qty        int64
	Reason     string
	Reference  string
	ActorID    int64
}

// DisposeInput describes stock written off. Reason is mandatory.
type DisposeInput struct {
	PartID     int64
	LocationID int64
	Qty        int64
	Reason     string
	ActorID    int64
}

// MoveInput describes a stock transfer between two locations.
type MoveInput struct {
	PartID         int64
	FromLocationID int64
	ToLocationID   int64
	Qty            int64
	ActorID        int64
}

// ReturnInput describes stock returned into a location. The unit cost is
// caller-supplied and may differ from whatever was originally issued.
type ReturnInput struct {
	PartID     int64
	LocationID int64
	Qty        int64
	UnitCost   decimal.Decimal
	Reason     string
	Reference  string
	ActorID    int64
}

// AdjustInput sets the on-hand quantity for a pair to NewQuantity. UnitCost
// is optional for overages; when nil the newest existing layer's cost is
// inherited.
type AdjustInput struct {
	PartID      int64
	LocationID  int64
	NewQuantity int64
	Reason      string
	UnitCost    *decimal.Decimal
	ActorID     int64
}

// HistoryFilter narrows transaction history queries.
type HistoryFilter struct {
	PartID     int64
	LocationID int64
	Limit      int
}

var (
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("ledger: unit cost must be >= 0")
	// ErrReasonRequired indicates a missing mandatory reason.
	ErrReasonRequired = errors.New("ledger: reason is required")
	// ErrSameLocation occurs when a move names one location twice.
	ErrSameLocation = errors.New("ledger: source and destination location must differ")
	// ErrInsufficientStock occurs when the requested quantity exceeds on-hand.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrNoCostBasis occurs on an overage adjustment with no supplied cost and
	// no prior layer to infer one from.
	ErrNoCostBasis = errors.New("ledger: no unit cost supplied and no prior layer to infer from")
)
