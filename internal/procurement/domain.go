package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Purchase order lifecycle statuses. Closed is terminal; nothing reopens it.
type POStatus string

const (
	POStatusDraft             POStatus = "DRAFT"
	POStatusOrdered           POStatus = "ORDERED"
	POStatusPartiallyReceived POStatus = "PARTIALLY_RECEIVED"
	POStatusClosed            POStatus = "CLOSED"
)

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID         int64     `json:"id"`
	Number     string    `json:"number"`
	SupplierID int64     `json:"supplier_id"`
	Status     POStatus  `json:"status"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LineItem is one ordered part on a purchase order.
type LineItem struct {
	ID          int64           `json:"id"`
	POID        int64           `json:"po_id"`
	PartID      int64           `json:"part_id"`
	QtyOrdered  int64           `json:"quantity_ordered"`
	QtyReceived int64           `json:"quantity_received"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// Remaining reports the quantity still outstanding on the line. Never
// negative: receiving is validated against it before any write.
func (l LineItem) Remaining() int64 {
	return l.QtyOrdered - l.QtyReceived
}

// CreatePOInput describes a new purchase order and its lines.
type CreatePOInput struct {
	SupplierID int64
	Note       string
	Lines      []LineInput
	ActorID    int64
}

// LineInput describes one ordered line.
type LineInput struct {
	PartID   int64
	Qty      int64
	UnitCost decimal.Decimal
}

// ReceiveLine pairs a line item with a received quantity.
type ReceiveLine struct {
	LineItemID int64
	Qty        int64
}

// ReceiveInput describes one receiving call against a purchase order. The
// whole batch is validated before any write; the first invalid pair aborts
// everything.
type ReceiveInput struct {
	POID       int64
	LocationID int64
	Lines      []ReceiveLine
	ActorID    int64
}

// ListFilter narrows purchase order listings.
type ListFilter struct {
	Status POStatus
	Limit  int
}

var (
	// ErrInvalidState occurs when an action violates the status workflow,
	// such as receiving against a Draft or Closed order.
	ErrInvalidState = errors.New("procurement: invalid state transition")
	// ErrNotFound indicates a missing purchase order or line item.
	ErrNotFound = errors.New("procurement: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrOverReceipt occurs when a received quantity exceeds a line's remainder.
	ErrOverReceipt = errors.New("procurement: quantity exceeds remaining on line")
)
