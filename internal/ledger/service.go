package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// CatalogPort resolves part and location references. Unknown ids fail as
// not-found before any mutation.
type CatalogPort interface {
	EnsurePart(ctx context.Context, id int64) error
	EnsureLocation(ctx context.Context, id int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the transaction engine. Each operation runs as one atomic unit
// of work spanning layer mutations, the aggregate update and the transaction
// record; any failure inside aborts the whole unit.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	audit   AuditPort
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, catalog CatalogPort, audit AuditPort) *Service {
	return &Service{repo: repo, catalog: catalog, audit: audit, now: time.Now}
}

// Receive creates one new PO_RECEIPT layer and increments the aggregate.
// Repeated partial receipts against the same line item each create their own
// distinct layer.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (Result, error) {
	if err := s.ensureRefs(ctx, input.PartID, input.LocationID); err != nil {
		return Result{}, err
	}

	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.ReceiveWithin(ctx, tx, input)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stock:receive", result.Transaction, map[string]any{
		"part_id":     input.PartID,
		"location_id": input.LocationID,
		"qty":         input.Qty,
		"po_ref":      input.PORef,
	})
	return result, nil
}

// ReceiveWithin runs the receive unit of work against an existing
// transactional scope. Callers composing several receipts into one larger
// unit of work (the PO receiving batch) use this directly; everything else
// goes through Receive.
func (s *Service) ReceiveWithin(ctx context.Context, tx TxRepository, input ReceiveInput) (Result, error) {
	if input.Qty <= 0 {
		return Result{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return Result{}, ErrInvalidUnitCost
	}
	if err := tx.LockStock(ctx, input.PartID, input.LocationID); err != nil {
		return Result{}, err
	}
	agg, err := s.aggregateOrZero(ctx, tx, input.PartID, input.LocationID)
	if err != nil {
		return Result{}, err
	}
	now := s.now().UTC()
	layer := Layer{
		PartID:       input.PartID,
		LocationID:   input.LocationID,
		SourceType:   SourcePOReceipt,
		SourceRef:    input.PORef,
		OriginalQty:  input.Qty,
		RemainingQty: input.Qty,
		UnitCost:     input.UnitCost,
		CreatedAt:    now,
	}
	layerID, err := tx.InsertLayer(ctx, layer)
	if err != nil {
		return Result{}, err
	}
	layer.ID = layerID

	total := input.UnitCost.Mul(decimal.NewFromInt(input.Qty))
	record := Transaction{
		Type:       TransactionReceive,
		PartID:     input.PartID,
		LocationID: input.LocationID,
		Quantity:   input.Qty,
		UnitCost:   input.UnitCost,
		TotalCost:  total,
		Reference:  input.PORef,
		PostedAt:   now,
		CreatedBy:  input.ActorID,
	}
	txID, err := s.writeRecord(ctx, tx, record, []Entry{{
		LayerID:  layerID,
		Quantity: input.Qty,
		UnitCost: input.UnitCost,
		Cost:     total,
	}})
	if err != nil {
		return Result{}, err
	}
	record.ID = txID

	agg.QuantityOnHand += input.Qty
	if err := tx.UpsertAggregate(ctx, agg); err != nil {
		return Result{}, err
	}

	return Result{
		Transaction:     record,
		CreatedLayer:    &layer,
		TotalCost:       total,
		AverageUnitCost: input.UnitCost,
		QuantityBefore:  agg.QuantityOnHand - input.Qty,
		QuantityAfter:   agg.QuantityOnHand,
	}, nil
}

// Issue consumes stock oldest-first and decrements the aggregate.
func (s *Service) Issue(ctx context.Context, input IssueInput) (Result, error) {
	if input.Qty <= 0 {
		return Result{}, ErrInvalidQuantity
	}
	if err := s.ensureRefs(ctx, input.PartID, input.LocationID); err != nil {
		return Result{}, err
	}
	if input.Reference == "" {
		// Issues without a work-order or target reference still need a
		// traceable handle for reconciliation.
		input.Reference = uuid.NewString()
	}
	result, err := s.postOutflow(ctx, outflowParams{
		Type:       TransactionIssue,
		PartID:     input.PartID,
		LocationID: input.LocationID,
		Qty:        input.Qty,
		Reason:     input.Reason,
		Reference:  input.Reference,
		ActorID:    input.ActorID,
	})
	if err != nil {
		return Result{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stock:issue", result.Transaction, map[string]any{
		"part_id":     input.PartID,
		"location_id": input.LocationID,
		"qty":         input.Qty,
		"reason":      input.Reason,
	})
	return result, nil
}

// Dispose writes stock off with identical consumption mechanics to Issue.
// A reason is mandatory.
func (s *Service) Dispose(ctx context.Context, input DisposeInput) (Result, error) {
	if input.Reason == "" {
		return Result{}, ErrReasonRequired
	}
	if input.Qty <= 0 {
		return Result{}, ErrInvalidQuantity
	}
	if err := s.ensureRefs(ctx, input.PartID, input.LocationID); err != nil {
		return Result{}, err
	}
	result, err := s.postOutflow(ctx, outflowParams{
		Type:       TransactionDispose,
		PartID:     input.PartID,
		LocationID: input.LocationID,
		Qty:        input.Qty,
		Reason:     input.Reason,
		ActorID:    input.ActorID,
	})
	if err != nil {
		return Result{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stock:dispose", result.Transaction, map[string]any{
		"part_id":     input.PartID,
		"location_id": input.LocationID,
		"qty":         input.Qty,
		"reason":      input.Reason,
	})
	return result, nil
}

// Move transfers stock between locations. Every consumed source layer spawns
// a brand-new destination layer preserving the source layer's origin, unit
// cost and created_at, so moved stock keeps its original age for future FIFO
// ordering. Exactly one MOVE record is written, carrying both locations.
func (s *Service) Move(ctx context.Context, input MoveInput) (Result, error) {
	if input.FromLocationID == input.ToLocationID {
		return Result{}, ErrSameLocation
	}
	if input.Qty <= 0 {
		return Result{}, ErrInvalidQuantity
	}
	if err := s.catalog.EnsurePart(ctx, input.PartID); err != nil {
		return Result{}, err
	}
	if err := s.catalog.EnsureLocation(ctx, input.FromLocationID); err != nil {
		return Result{}, err
	}
	if err := s.catalog.EnsureLocation(ctx, input.ToLocationID); err != nil {
		return Result{}, err
	}

	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Locks taken in location order so two opposing moves cannot deadlock.
		first, second := input.FromLocationID, input.ToLocationID
		if second < first {
			first, second = second, first
		}
		if err := tx.LockStock(ctx, input.PartID, first); err != nil {
			return err
		}
		if err := tx.LockStock(ctx, input.PartID, second); err != nil {
			return err
		}

		source, err := s.aggregateOrZero(ctx, tx, input.PartID, input.FromLocationID)
		if err != nil {
			return err
		}
		if source.QuantityOnHand < input.Qty {
			return ErrInsufficientStock
		}
		dest, err := s.aggregateOrZero(ctx, tx, input.PartID, input.ToLocationID)
		if err != nil {
			return err
		}

		draws, total, err := consumeLayers(ctx, tx, input.PartID, input.FromLocationID, input.Qty)
		if err != nil {
			return err
		}

		entries := make([]Entry, 0, 2*len(draws))
		created := make([]Layer, 0, len(draws))
		for _, d := range draws {
			entries = append(entries, Entry{
				LayerID:  d.layer.ID,
				Quantity: -d.qty,
				UnitCost: d.layer.UnitCost,
				Cost:     d.cost.Neg(),
			})
			layer := Layer{
				PartID:       input.PartID,
				LocationID:   input.ToLocationID,
				SourceType:   d.layer.SourceType,
				SourceRef:    d.layer.SourceRef,
				OriginalQty:  d.qty,
				RemainingQty: d.qty,
				UnitCost:     d.layer.UnitCost,
				CreatedAt:    d.layer.CreatedAt,
			}
			layerID, err := tx.InsertLayer(ctx, layer)
			if err != nil {
				return err
			}
			layer.ID = layerID
			created = append(created, layer)
			entries = append(entries, Entry{
				LayerID:  layerID,
				Quantity: d.qty,
				UnitCost: d.layer.UnitCost,
				Cost:     d.cost,
			})
		}

		avg := weightedAverage(total, input.Qty)
		record := Transaction{
			Type:         TransactionMove,
			PartID:       input.PartID,
			LocationID:   input.FromLocationID,
			ToLocationID: input.ToLocationID,
			Quantity:     input.Qty,
			UnitCost:     avg,
			TotalCost:    total,
			PostedAt:     s.now().UTC(),
			CreatedBy:    input.ActorID,
		}
		txID, err := s.writeRecord(ctx, tx, record, entries)
		if err != nil {
			return err
		}
		record.ID = txID

		source.QuantityOnHand -= input.Qty
		if err := tx.UpsertAggregate(ctx, source); err != nil {
			return err
		}
		dest.QuantityOnHand += input.Qty
		if err := tx.UpsertAggregate(ctx, dest); err != nil {
			return err
		}

		result = Result{
			Transaction:     record,
			CreatedLayers:   created,
			Consumed:        toConsumptions(draws),
			TotalCost:       total,
			AverageUnitCost: avg,
			QuantityBefore:  source.QuantityOnHand + input.Qty,
			QuantityAfter:   source.QuantityOnHand,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stock:move", result.Transaction, map[string]any{
		"part_id":          input.PartID,
		"from_location_id": input.FromLocationID,
		"to_location_id":   input.ToLocationID,
		"qty":              input.Qty,
	})
	return result, nil
}

// Return brings stock back into a location as a new RETURN layer, regardless
// of what was originally issued.
func (s *Service) Return(ctx context.Context, input ReturnInput) (Result, error) {
	if input.Qty <= 0 {
		return Result{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return Result{}, ErrInvalidUnitCost
	}
	if err := s.ensureRefs(ctx, input.PartID, input.LocationID); err != nil {
		return Result{}, err
	}

	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockStock(ctx, input.PartID, input.LocationID); err != nil {
			return err
		}
		agg, err := s.aggregateOrZero(ctx, tx, input.PartID, input.LocationID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		layer := Layer{
			PartID:       input.PartID,
			LocationID:   input.LocationID,
			SourceType:   SourceReturn,
			SourceRef:    input.Reference,
			OriginalQty:  input.Qty,
			RemainingQty: input.Qty,
			UnitCost:     input.UnitCost,
			CreatedAt:    now,
		}
		layerID, err := tx.InsertLayer(ctx, layer)
		if err != nil {
			return err
		}
		layer.ID = layerID

		total := input.UnitCost.Mul(decimal.NewFromInt(input.Qty))
		record := Transaction{
			Type:       TransactionReturn,
			PartID:     input.PartID,
			LocationID: input.LocationID,
			Quantity:   input.Qty,
			UnitCost:   input.UnitCost,
			TotalCost:  total,
			Reference:  input.Reference,
			Reason:     input.Reason,
			PostedAt:   now,
			CreatedBy:  input.ActorID,
		}
		txID, err := s.writeRecord(ctx, tx, record, []Entry{{
			LayerID:  layerID,
			Quantity: input.Qty,
			UnitCost: input.UnitCost,
			Cost:     total,
		}})
		if err != nil {
			return err
		}
		record.ID = txID

		agg.QuantityOnHand += input.Qty
		if err := tx.UpsertAggregate(ctx, agg); err != nil {
			return err
		}

		result = Result{
			Transaction:     record,
			CreatedLayer:    &layer,
			TotalCost:       total,
			AverageUnitCost: input.UnitCost,
			QuantityBefore:  agg.QuantityOnHand - input.Qty,
			QuantityAfter:   agg.QuantityOnHand,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stock:return", result.Transaction, map[string]any{
		"part_id":     input.PartID,
		"location_id": input.LocationID,
		"qty":         input.Qty,
		"reference":   input.Reference,
	})
	return result, nil
}

// Adjust reconciles the on-hand quantity to a counted value. A zero delta is
// a pure no-op that writes nothing; a shortage behaves like Dispose; an
// overage creates one ADJUSTMENT layer.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Result, error) {
	if input.Reason == "" {
		return Result{}, ErrReasonRequired
	}
	if input.NewQuantity < 0 {
		return Result{}, ErrInvalidQuantity
	}
	if input.UnitCost != nil && input.UnitCost.IsNegative() {
		return Result{}, ErrInvalidUnitCost
	}
	if err := s.ensureRefs(ctx, input.PartID, input.LocationID); err != nil {
		return Result{}, err
	}

	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockStock(ctx, input.PartID, input.LocationID); err != nil {
			return err
		}
		agg, err := s.aggregateOrZero(ctx, tx, input.PartID, input.LocationID)
		if err != nil {
			return err
		}
		before := agg.QuantityOnHand
		delta := input.NewQuantity - before

		if delta == 0 {
			result = Result{NoChange: true, QuantityBefore: before, QuantityAfter: before}
			return nil
		}

		now := s.now().UTC()
		if delta < 0 {
			shortage := -delta
			draws, total, err := consumeLayers(ctx, tx, input.PartID, input.LocationID, shortage)
			if err != nil {
				return err
			}
			avg := weightedAverage(total, shortage)
			record := Transaction{
				Type:       TransactionAdjustment,
				PartID:     input.PartID,
				LocationID: input.LocationID,
				Quantity:   delta,
				UnitCost:   avg,
				TotalCost:  total.Neg(),
				Reason:     input.Reason,
				PostedAt:   now,
				CreatedBy:  input.ActorID,
			}
			entries := make([]Entry, 0, len(draws))
			for _, d := range draws {
				entries = append(entries, Entry{
					LayerID:  d.layer.ID,
					Quantity: -d.qty,
					UnitCost: d.layer.UnitCost,
					Cost:     d.cost.Neg(),
				})
			}
			txID, err := s.writeRecord(ctx, tx, record, entries)
			if err != nil {
				return err
			}
			record.ID = txID

			agg.QuantityOnHand = input.NewQuantity
			if err := tx.UpsertAggregate(ctx, agg); err != nil {
				return err
			}
			result = Result{
				Transaction:     record,
				Consumed:        toConsumptions(draws),
				TotalCost:       total,
				AverageUnitCost: avg,
				QuantityBefore:  before,
				QuantityAfter:   input.NewQuantity,
			}
			return nil
		}

		unitCost, err := s.resolveAdjustCost(ctx, tx, input)
		if err != nil {
			return err
		}
		layer := Layer{
			PartID:       input.PartID,
			LocationID:   input.LocationID,
			SourceType:   SourceAdjustment,
			SourceRef:    input.Reason,
			OriginalQty:  delta,
			RemainingQty: delta,
			UnitCost:     unitCost,
			CreatedAt:    now,
		}
		layerID, err := tx.InsertLayer(ctx, layer)
		if err != nil {
			return err
		}
		layer.ID = layerID

		total := unitCost.Mul(decimal.NewFromInt(delta))
		record := Transaction{
			Type:       TransactionAdjustment,
			PartID:     input.PartID,
			LocationID: input.LocationID,
			Quantity:   delta,
			UnitCost:   unitCost,
			TotalCost:  total,
			Reason:     input.Reason,
			PostedAt:   now,
			CreatedBy:  input.ActorID,
		}
		txID, err := s.writeRecord(ctx, tx, record, []Entry{{
			LayerID:  layerID,
			Quantity: delta,
			UnitCost: unitCost,
			Cost:     total,
		}})
		if err != nil {
			return err
		}
		record.ID = txID

		agg.QuantityOnHand = input.NewQuantity
		if err := tx.UpsertAggregate(ctx, agg); err != nil {
			return err
		}
		result = Result{
			Transaction:     record,
			CreatedLayer:    &layer,
			TotalCost:       total,
			AverageUnitCost: unitCost,
			QuantityBefore:  before,
			QuantityAfter:   input.NewQuantity,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if result.NoChange {
		return result, nil
	}
	s.recordAudit(ctx, input.ActorID, "stock:adjust", result.Transaction, map[string]any{
		"part_id":      input.PartID,
		"location_id":  input.LocationID,
		"new_quantity": input.NewQuantity,
		"delta":        result.Transaction.Quantity,
		"reason":       input.Reason,
	})
	return result, nil
}

type outflowParams struct {
	Type       TransactionType
	PartID     int64
	LocationID int64
	Qty        int64
	Reason     string
	Reference  string
	ActorID    int64
}

func (s *Service) postOutflow(ctx context.Context, params outflowParams) (Result, error) {
	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockStock(ctx, params.PartID, params.LocationID); err != nil {
			return err
		}
		agg, err := s.aggregateOrZero(ctx, tx, params.PartID, params.LocationID)
		if err != nil {
			return err
		}
		if agg.QuantityOnHand < params.Qty {
			return ErrInsufficientStock
		}

		draws, total, err := consumeLayers(ctx, tx, params.PartID, params.LocationID, params.Qty)
		if err != nil {
			return err
		}
		avg := weightedAverage(total, params.Qty)
		record := Transaction{
			Type:       params.Type,
			PartID:     params.PartID,
			LocationID: params.LocationID,
			Quantity:   -params.Qty,
			UnitCost:   avg,
			TotalCost:  total.Neg(),
			Reference:  params.Reference,
			Reason:     params.Reason,
			PostedAt:   s.now().UTC(),
			CreatedBy:  params.ActorID,
		}
		entries := make([]Entry, 0, len(draws))
		for _, d := range draws {
			entries = append(entries, Entry{
				LayerID:  d.layer.ID,
				Quantity: -d.qty,
				UnitCost: d.layer.UnitCost,
				Cost:     d.cost.Neg(),
			})
		}
		txID, err := s.writeRecord(ctx, tx, record, entries)
		if err != nil {
			return err
		}
		record.ID = txID

		agg.QuantityOnHand -= params.Qty
		if err := tx.UpsertAggregate(ctx, agg); err != nil {
			return err
		}

		result = Result{
			Transaction:     record,
			Consumed:        toConsumptions(draws),
			TotalCost:       total,
			AverageUnitCost: avg,
			QuantityBefore:  agg.QuantityOnHand + params.Qty,
			QuantityAfter:   agg.QuantityOnHand,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (s *Service) resolveAdjustCost(ctx context.Context, tx TxRepository, input AdjustInput) (decimal.Decimal, error) {
	if input.UnitCost != nil {
		return *input.UnitCost, nil
	}
	// Cost basis comes from the most recently created layer, not the oldest.
	newest, err := tx.GetNewestLayer(ctx, input.PartID, input.LocationID)
	if err != nil {
		if errors.Is(err, ErrLayerNotFound) {
			return decimal.Zero, ErrNoCostBasis
		}
		return decimal.Zero, err
	}
	return newest.UnitCost, nil
}

func (s *Service) aggregateOrZero(ctx context.Context, tx TxRepository, partID, locationID int64) (Aggregate, error) {
	agg, err := tx.GetAggregateForUpdate(ctx, partID, locationID)
	if err != nil {
		if errors.Is(err, ErrAggregateNotFound) {
			return Aggregate{PartID: partID, LocationID: locationID}, nil
		}
		return Aggregate{}, err
	}
	return agg, nil
}

func (s *Service) ensureRefs(ctx context.Context, partID, locationID int64) error {
	if err := s.catalog.EnsurePart(ctx, partID); err != nil {
		return err
	}
	return s.catalog.EnsureLocation(ctx, locationID)
}

func (s *Service) writeRecord(ctx context.Context, tx TxRepository, record Transaction, entries []Entry) (int64, error) {
	txID, err := tx.InsertTransaction(ctx, record)
	if err != nil {
		return 0, err
	}
	if err := tx.InsertEntries(ctx, txID, entries); err != nil {
		return 0, err
	}
	return txID, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, record Transaction, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_tx",
		EntityID: fmt.Sprintf("%d", record.ID),
		Meta:     meta,
	})
}
