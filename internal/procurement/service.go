package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository, ledger.TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, []LineItem, error)
	List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error)
}

// CatalogPort resolves master-data references.
type CatalogPort interface {
	EnsurePart(ctx context.Context, id int64) error
	EnsureLocation(ctx context.Context, id int64) error
	EnsureSupplier(ctx context.Context, id int64) error
}

// LedgerPort posts goods receipts into the stock ledger within an existing
// transactional scope.
type LedgerPort interface {
	ReceiveWithin(ctx context.Context, tx ledger.TxRepository, input ledger.ReceiveInput) (ledger.Result, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the purchase order workflow. Receiving is the only path
// that touches the stock ledger; each received line posts through the ledger
// inside the same database transaction as the PO updates.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	stock   LedgerPort
	audit   AuditPort
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, catalog CatalogPort, stock LedgerPort, audit AuditPort) *Service {
	return &Service{repo: repo, catalog: catalog, stock: stock, audit: audit, now: time.Now}
}

// Create opens a new purchase order in Draft with at least one line.
func (s *Service) Create(ctx context.Context, input CreatePOInput) (PurchaseOrder, []LineItem, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, nil, fmt.Errorf("%w: purchase order needs at least one line", ErrValidation)
	}
	if err := s.catalog.EnsureSupplier(ctx, input.SupplierID); err != nil {
		return PurchaseOrder{}, nil, err
	}
	for i, line := range input.Lines {
		if line.Qty <= 0 {
			return PurchaseOrder{}, nil, fmt.Errorf("%w: line %d quantity must be positive", ErrValidation, i+1)
		}
		if line.UnitCost.IsNegative() {
			return PurchaseOrder{}, nil, fmt.Errorf("%w: line %d unit cost must be >= 0", ErrValidation, i+1)
		}
		if err := s.catalog.EnsurePart(ctx, line.PartID); err != nil {
			return PurchaseOrder{}, nil, err
		}
	}

	var po PurchaseOrder
	var lines []LineItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository, _ ledger.TxRepository) error {
		number, err := tx.NextNumber(ctx)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		po = PurchaseOrder{
			Number:     number,
			SupplierID: input.SupplierID,
			Status:     POStatusDraft,
			Note:       input.Note,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		poID, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = poID

		lines = make([]LineItem, 0, len(input.Lines))
		for _, in := range input.Lines {
			line := LineItem{
				POID:       poID,
				PartID:     in.PartID,
				QtyOrdered: in.Qty,
				UnitCost:   in.UnitCost,
			}
			lineID, err := tx.InsertLineItem(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	s.recordAudit(ctx, input.ActorID, "po:create", po.ID, map[string]any{
		"number":      po.Number,
		"supplier_id": input.SupplierID,
		"lines":       len(lines),
	})
	return po, lines, nil
}

// MarkOrdered moves a Draft order to Ordered. Lines are frozen from here on.
func (s *Service) MarkOrdered(ctx context.Context, id, actorID int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository, _ ledger.TxRepository) error {
		var err error
		po, err = tx.GetPOForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != POStatusDraft {
			return fmt.Errorf("%w: cannot order a %s purchase order", ErrInvalidState, po.Status)
		}
		po.Status = POStatusOrdered
		return tx.UpdatePOStatus(ctx, id, POStatusOrdered)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "po:order", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

// Receive posts a batch of received quantities against an order. The whole
// batch is validated up front and runs as one unit of work: every pair
// creates its own cost layer at the line's ordered unit cost, line counters
// advance, and the order's status is recomputed. Any failure rolls the whole
// batch back, ledger postings included.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) ([]ledger.Result, PurchaseOrder, error) {
	if len(input.Lines) == 0 {
		return nil, PurchaseOrder{}, fmt.Errorf("%w: nothing to receive", ErrValidation)
	}
	if err := s.catalog.EnsureLocation(ctx, input.LocationID); err != nil {
		return nil, PurchaseOrder{}, err
	}

	var po PurchaseOrder
	var results []ledger.Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository, stockTx ledger.TxRepository) error {
		var err error
		po, err = tx.GetPOForUpdate(ctx, input.POID)
		if err != nil {
			return err
		}
		if po.Status != POStatusOrdered && po.Status != POStatusPartiallyReceived {
			return fmt.Errorf("%w: cannot receive against a %s purchase order", ErrInvalidState, po.Status)
		}

		lines, err := tx.GetLineItems(ctx, input.POID)
		if err != nil {
			return err
		}
		byID := make(map[int64]*LineItem, len(lines))
		for i := range lines {
			byID[lines[i].ID] = &lines[i]
		}

		// Validate every pair before writing anything.
		requested := make(map[int64]int64, len(input.Lines))
		for _, pair := range input.Lines {
			if pair.Qty <= 0 {
				return fmt.Errorf("%w: received quantity must be positive", ErrValidation)
			}
			line, ok := byID[pair.LineItemID]
			if !ok {
				return fmt.Errorf("line item %d: %w", pair.LineItemID, ErrNotFound)
			}
			requested[pair.LineItemID] += pair.Qty
			if requested[pair.LineItemID] > line.Remaining() {
				return fmt.Errorf("%w: line item %d has %d remaining", ErrOverReceipt, line.ID, line.Remaining())
			}
		}

		results = make([]ledger.Result, 0, len(input.Lines))
		for _, pair := range input.Lines {
			line := byID[pair.LineItemID]
			res, err := s.stock.ReceiveWithin(ctx, stockTx, ledger.ReceiveInput{
				PartID:     line.PartID,
				LocationID: input.LocationID,
				Qty:        pair.Qty,
				UnitCost:   line.UnitCost,
				PORef:      po.Number,
				ActorID:    input.ActorID,
			})
			if err != nil {
				return err
			}
			results = append(results, res)
			if err := tx.IncrementReceived(ctx, line.ID, pair.Qty); err != nil {
				return err
			}
			line.QtyReceived += pair.Qty
		}

		next := POStatusClosed
		for _, line := range lines {
			if line.Remaining() > 0 {
				next = POStatusPartiallyReceived
				break
			}
		}
		if next != po.Status {
			if err := tx.UpdatePOStatus(ctx, po.ID, next); err != nil {
				return err
			}
			po.Status = next
		}
		return nil
	})
	if err != nil {
		return nil, PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "po:receive", po.ID, map[string]any{
		"number":      po.Number,
		"location_id": input.LocationID,
		"lines":       len(input.Lines),
		"status":      string(po.Status),
	})
	return results, po, nil
}

// Get returns one purchase order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, []LineItem, error) {
	return s.repo.GetPO(ctx, id)
}

// List returns purchase orders newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, poID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: fmt.Sprintf("%d", poID),
		Meta:     meta,
	})
}
