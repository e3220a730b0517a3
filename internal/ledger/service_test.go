package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type pairKey struct {
	partID     int64
	locationID int64
}

// memoryLedger keeps the full ledger state in maps. WithTx serialises every
// unit of work behind one mutex and restores the prior state on error, so the
// fake rolls back the same way the database does.
type memoryLedger struct {
	mu      sync.Mutex
	layers  map[int64]Layer
	aggs    map[pairKey]Aggregate
	txs     map[int64]Transaction
	entries map[int64][]Entry
	nextID  int64
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		layers:  make(map[int64]Layer),
		aggs:    make(map[pairKey]Aggregate),
		txs:     make(map[int64]Transaction),
		entries: make(map[int64][]Entry),
	}
}

func (m *memoryLedger) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshot()
	if err := fn(ctx, &memoryLedgerTx{store: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type ledgerSnapshot struct {
	layers  map[int64]Layer
	aggs    map[pairKey]Aggregate
	txs     map[int64]Transaction
	entries map[int64][]Entry
	nextID  int64
}

func (m *memoryLedger) snapshot() ledgerSnapshot {
	snap := ledgerSnapshot{
		layers:  make(map[int64]Layer, len(m.layers)),
		aggs:    make(map[pairKey]Aggregate, len(m.aggs)),
		txs:     make(map[int64]Transaction, len(m.txs)),
		entries: make(map[int64][]Entry, len(m.entries)),
		nextID:  m.nextID,
	}
	for id, layer := range m.layers {
		snap.layers[id] = layer
	}
	for key, agg := range m.aggs {
		snap.aggs[key] = agg
	}
	for id, record := range m.txs {
		snap.txs[id] = record
	}
	for id, es := range m.entries {
		snap.entries[id] = append([]Entry(nil), es...)
	}
	return snap
}

func (m *memoryLedger) restore(snap ledgerSnapshot) {
	m.layers = snap.layers
	m.aggs = snap.aggs
	m.txs = snap.txs
	m.entries = snap.entries
	m.nextID = snap.nextID
}

func (m *memoryLedger) openLayers(partID, locationID int64) []Layer {
	var layers []Layer
	for _, layer := range m.layers {
		if layer.PartID == partID && layer.LocationID == locationID && layer.RemainingQty > 0 {
			layers = append(layers, layer)
		}
	}
	sort.Slice(layers, func(i, j int) bool {
		if !layers[i].CreatedAt.Equal(layers[j].CreatedAt) {
			return layers[i].CreatedAt.Before(layers[j].CreatedAt)
		}
		return layers[i].ID < layers[j].ID
	})
	return layers
}

func (m *memoryLedger) sumRemaining(partID, locationID int64) int64 {
	var sum int64
	for _, layer := range m.layers {
		if layer.PartID == partID && layer.LocationID == locationID {
			sum += layer.RemainingQty
		}
	}
	return sum
}

func (m *memoryLedger) onHand(partID, locationID int64) int64 {
	return m.aggs[pairKey{partID, locationID}].QuantityOnHand
}

type memoryLedgerTx struct {
	store *memoryLedger
}

func (t *memoryLedgerTx) LockStock(ctx context.Context, partID, locationID int64) error {
	return nil
}

func (t *memoryLedgerTx) GetAggregateForUpdate(ctx context.Context, partID, locationID int64) (Aggregate, error) {
	agg, ok := t.store.aggs[pairKey{partID, locationID}]
	if !ok {
		return Aggregate{}, ErrAggregateNotFound
	}
	return agg, nil
}

func (t *memoryLedgerTx) UpsertAggregate(ctx context.Context, agg Aggregate) error {
	agg.UpdatedAt = time.Now()
	t.store.aggs[pairKey{agg.PartID, agg.LocationID}] = agg
	return nil
}

func (t *memoryLedgerTx) ListOpenLayers(ctx context.Context, partID, locationID int64) ([]Layer, error) {
	return t.store.openLayers(partID, locationID), nil
}

func (t *memoryLedgerTx) GetNewestLayer(ctx context.Context, partID, locationID int64) (Layer, error) {
	var newest *Layer
	for id := range t.store.layers {
		layer := t.store.layers[id]
		if layer.PartID != partID || layer.LocationID != locationID {
			continue
		}
		if newest == nil || layer.CreatedAt.After(newest.CreatedAt) ||
			(layer.CreatedAt.Equal(newest.CreatedAt) && layer.ID > newest.ID) {
			newest = &layer
		}
	}
	if newest == nil {
		return Layer{}, ErrLayerNotFound
	}
	return *newest, nil
}

func (t *memoryLedgerTx) InsertLayer(ctx context.Context, layer Layer) (int64, error) {
	t.store.nextID++
	layer.ID = t.store.nextID
	t.store.layers[layer.ID] = layer
	return layer.ID, nil
}

func (t *memoryLedgerTx) DecrementLayer(ctx context.Context, layerID, qty int64) error {
	layer, ok := t.store.layers[layerID]
	if !ok || layer.RemainingQty < qty {
		return fmt.Errorf("ledger: layer %d has fewer than %d units remaining", layerID, qty)
	}
	layer.RemainingQty -= qty
	t.store.layers[layerID] = layer
	return nil
}

func (t *memoryLedgerTx) InsertTransaction(ctx context.Context, record Transaction) (int64, error) {
	t.store.nextID++
	record.ID = t.store.nextID
	t.store.txs[record.ID] = record
	return record.ID, nil
}

func (t *memoryLedgerTx) InsertEntries(ctx context.Context, txID int64, entries []Entry) error {
	for i := range entries {
		t.store.nextID++
		entries[i].ID = t.store.nextID
		entries[i].TransactionID = txID
	}
	t.store.entries[txID] = append(t.store.entries[txID], entries...)
	return nil
}

type allowAllCatalog struct{}

func (allowAllCatalog) EnsurePart(ctx context.Context, id int64) error     { return nil }
func (allowAllCatalog) EnsureLocation(ctx context.Context, id int64) error { return nil }

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

// fixedClock hands out strictly increasing timestamps so layer age ordering
// is deterministic.
type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

func newTestLedger() (*Service, *memoryLedger, *recordingAudit) {
	store := newMemoryLedger()
	audit := &recordingAudit{}
	svc := NewService(store, allowAllCatalog{}, audit)
	clock := &fixedClock{current: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc.now = clock.Now
	return svc, store, audit
}

func dec(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return d
}

func receiveN(t *testing.T, svc *Service, partID, locationID, qty int64, cost string) Result {
	t.Helper()
	res, err := svc.Receive(context.Background(), ReceiveInput{
		PartID:     partID,
		LocationID: locationID,
		Qty:        qty,
		UnitCost:   dec(cost),
		PORef:      "PO-000042",
	})
	require.NoError(t, err)
	return res
}

func TestReceiveCreatesDistinctLayers(t *testing.T) {
	svc, store, _ := newTestLedger()

	first := receiveN(t, svc, 1, 1, 10, "5")
	second := receiveN(t, svc, 1, 1, 10, "5")

	require.NotNil(t, first.CreatedLayer)
	require.NotNil(t, second.CreatedLayer)
	require.NotEqual(t, first.CreatedLayer.ID, second.CreatedLayer.ID)
	require.Len(t, store.openLayers(1, 1), 2)
	require.Equal(t, int64(20), store.onHand(1, 1))
	require.Equal(t, int64(0), first.QuantityBefore)
	require.Equal(t, int64(10), first.QuantityAfter)
	require.True(t, first.TotalCost.Equal(dec("50")))
}

func TestIssueConsumesOldestFirst(t *testing.T) {
	svc, store, _ := newTestLedger()
	receiveN(t, svc, 1, 1, 10, "5")
	receiveN(t, svc, 1, 1, 10, "7")

	res, err := svc.Issue(context.Background(), IssueInput{PartID: 1, LocationID: 1, Qty: 15, Reason: "work order"})
	require.NoError(t, err)

	require.True(t, res.TotalCost.Equal(dec("85")))
	require.True(t, res.AverageUnitCost.Equal(dec("5.6667")))
	require.Len(t, res.Consumed, 2)
	require.Equal(t, int64(10), res.Consumed[0].Quantity)
	require.True(t, res.Consumed[0].UnitCost.Equal(dec("5")))
	require.Equal(t, int64(5), res.Consumed[1].Quantity)
	require.True(t, res.Consumed[1].UnitCost.Equal(dec("7")))

	open := store.openLayers(1, 1)
	require.Len(t, open, 1)
	require.Equal(t, int64(5), open[0].RemainingQty)
	require.True(t, open[0].UnitCost.Equal(dec("7")))
	require.Equal(t, int64(5), store.onHand(1, 1))

	record := res.Transaction
	require.Equal(t, int64(-15), record.Quantity)
	require.True(t, record.TotalCost.Equal(dec("-85")))
	require.NotEmpty(t, record.Reference, "issues without a caller reference get a generated one")
	entries := store.entries[record.ID]
	require.Len(t, entries, 2)
	require.Equal(t, int64(-10), entries[0].Quantity)
	require.True(t, entries[0].Cost.Equal(dec("-50")))
}

func TestIssueInsufficientStockWritesNothing(t *testing.T) {
	svc, store, _ := newTestLedger()
	receiveN(t, svc, 1, 1, 10, "5")
	txCount := len(store.txs)

	_, err := svc.Issue(context.Background(), IssueInput{PartID: 1, LocationID: 1, Qty: 25})
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.Equal(t, txCount, len(store.txs))
	require.Equal(t, int64(10), store.sumRemaining(1, 1))
	require.Equal(t, int64(10), store.onHand(1, 1))
}

func TestMovePreservesCostAndAge(t *testing.T) {
	svc, store, _ := newTestLedger()
	receiveN(t, svc, 1, 1, 5, "10")
	receiveN(t, svc, 1, 1, 5, "20")

	res, err := svc.Move(context.Background(), MoveInput{PartID: 1, FromLocationID: 1, ToLocationID: 2, Qty: 7})
	require.NoError(t, err)

	require.True(t, res.TotalCost.Equal(dec("90")))
	require.Len(t, res.CreatedLayers, 2)

	source := store.openLayers(1, 1)
	require.Len(t, source, 1)
	require.Equal(t, int64(3), source[0].RemainingQty)
	require.True(t, source[0].UnitCost.Equal(dec("20")))

	dest := store.openLayers(1, 2)
	require.Len(t, dest, 2)
	require.Equal(t, int64(5), dest[0].RemainingQty)
	require.True(t, dest[0].UnitCost.Equal(dec("10")))
	require.Equal(t, int64(2), dest[1].RemainingQty)
	require.True(t, dest[1].UnitCost.Equal(dec("20")))

	// Destination layers inherit the source layers' age for future ordering.
	require.True(t, dest[0].CreatedAt.Before(dest[1].CreatedAt))
	require.Equal(t, int64(3), store.onHand(1, 1))
	require.Equal(t, int64(7), store.onHand(1, 2))

	record := res.Transaction
	require.Equal(t, TransactionMove, record.Type)
	require.Equal(t, int64(7), record.Quantity)
	require.Equal(t, int64(1), record.LocationID)
	require.Equal(t, int64(2), record.ToLocationID)
}

func TestMoveRoundTripPreservesValue(t *testing.T) {
	svc, store, _ := newTestLedger()
	receiveN(t, svc, 1, 1, 5, "10")
	receiveN(t, svc, 1, 1, 5, "20")

	out, err := svc.Move(context.Background(), MoveInput{PartID: 1, FromLocationID: 1, ToLocationID: 2, Qty: 7})
	require.NoError(t, err)
	back, err := svc.Move(context.Background(), MoveInput{PartID: 1, FromLocationID: 2, ToLocationID: 1, Qty: 7})
	require.NoError(t, err)

	require.True(t, out.TotalCost.Equal(back.TotalCost))
	require.Equal(t, int64(10), store.onHand(1, 1))
	require.Equal(t, int64(0), store.onHand(1, 2))

	var value decimal.Decimal
	for _, layer := range store.openLayers(1, 1) {
		value = value.Add(layer.UnitCost.Mul(decimal.NewFromInt(layer.RemainingQty)))
	}
	require.True(t, value.Equal(dec("150")))
}

func TestMoveRejectsSameLocation(t *testing.T) {
	svc, _, _ := newTestLedger()
	_, err := svc.Move(context.Background(), MoveInput{PartID: 1, FromLocationID: 3, ToLocationID: 3, Qty: 1})
	require.ErrorIs(t, err, ErrSameLocation)
}

func TestReturnCreatesNewLayer(t *testing.T) {
	svc, store, _ := newTestLedger()
	original := receiveN(t, svc, 1, 1, 10, "5")

	_, err := svc.Issue(context.Background(), IssueInput{PartID: 1, LocationID: 1, Qty: 10})
	require.NoError(t, err)
	require.Empty(t, store.openLayers(1, 1))

	res, err := svc.Return(context.Background(), ReturnInput{PartID: 1, LocationID: 1, Qty: 5, UnitCost: dec("5"), Reference: "RMA-9"})
	require.NoError(t, err)

	open := store.openLayers(1, 1)
	require.Len(t, open, 1)
	require.NotEqual(t, original.CreatedLayer.ID, open[0].ID)
	require.Equal(t, SourceReturn, open[0].SourceType)
	require.Equal(t, int64(5), store.onHand(1, 1))
	require.Equal(t, TransactionReturn, res.Transaction.Type)

	// The drained receipt layer stays at zero; the return never reopens it.
	require.Equal(t, int64(0), store.layers[original.CreatedLayer.ID].RemainingQty)
}

func TestAdjustShortageConsumesLikeDispose(t *testing.T) {
	svc, store, _ := newTestLedger()
	receiveN(t, svc, 1, 1, 10, "5")

	res, err := svc.Adjust(context.Background(), AdjustInput{PartID: 1, LocationID: 1, NewQuantity: 4, Reason: "cycle count"})
	require.NoError(t, err)

	require.Equal(t, int64(-6), res.Transaction.Quantity)
	require.True(t, res.Transaction.TotalCost.Equal(dec("-30")))
	require.Equal(t, int64(4), store.onHand(1, 1))
	require.Equal(t, int64(4), store.sumRemaining(1, 1))
}

func TestAdjustOverageInheritsNewestCost(t *testing.T) {
	svc, store, _ := newTestLedger()
	receiveN(t, svc, 1, 1, 10, "5")
	receiveN(t, svc, 1, 1, 5, "8")

	res, err := svc.Adjust(context.Background(), AdjustInput{PartID: 1, LocationID: 1, NewQuantity: 20, Reason: "cycle count"})
	require.NoError(t, err)

	require.NotNil(t, res.CreatedLayer)
	require.True(t, res.CreatedLayer.UnitCost.Equal(dec("8")))
	require.True(t, res.TotalCost.Equal(dec("40")))
	require.Equal(t, int64(20), store.onHand(1, 1))
}

func TestAdjustFromZeroNeedsCost(t *testing.T) {
	svc, store, _ := newTestLedger()

	_, err := svc.Adjust(context.Background(), AdjustInput{PartID: 1, LocationID: 1, NewQuantity: 5, Reason: "found stock"})
	require.ErrorIs(t, err, ErrNoCostBasis)

	cost := dec("20")
	res, err := svc.Adjust(context.Background(), AdjustInput{PartID: 1, LocationID: 1, NewQuantity: 5, Reason: "found stock", UnitCost: &cost})
	require.NoError(t, err)
	require.True(t, res.TotalCost.Equal(dec("100")))
	require.Equal(t, int64(5), store.onHand(1, 1))
	require.Equal(t, SourceAdjustment, res.CreatedLayer.SourceType)
}

func TestAdjustNoOpWritesNothing(t *testing.T) {
	svc, store, audit := newTestLedger()
	receiveN(t, svc, 1, 1, 10, "5")
	txCount := len(store.txs)
	layerCount := len(store.layers)
	auditCount := len(audit.logs)

	res, err := svc.Adjust(context.Background(), AdjustInput{PartID: 1, LocationID: 1, NewQuantity: 10, Reason: "cycle count"})
	require.NoError(t, err)

	require.True(t, res.NoChange)
	require.Equal(t, txCount, len(store.txs))
	require.Equal(t, layerCount, len(store.layers))
	require.Equal(t, auditCount, len(audit.logs))
}

func TestReasonRequired(t *testing.T) {
	svc, _, _ := newTestLedger()

	_, err := svc.Dispose(context.Background(), DisposeInput{PartID: 1, LocationID: 1, Qty: 1})
	require.ErrorIs(t, err, ErrReasonRequired)

	_, err = svc.Adjust(context.Background(), AdjustInput{PartID: 1, LocationID: 1, NewQuantity: 3})
	require.ErrorIs(t, err, ErrReasonRequired)
}

func TestInputValidation(t *testing.T) {
	svc, _, _ := newTestLedger()
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{PartID: 1, LocationID: 1, Qty: 0, UnitCost: dec("5")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Receive(ctx, ReceiveInput{PartID: 1, LocationID: 1, Qty: 5, UnitCost: dec("-1")})
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	_, err = svc.Issue(ctx, IssueInput{PartID: 1, LocationID: 1, Qty: -3})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Adjust(ctx, AdjustInput{PartID: 1, LocationID: 1, NewQuantity: -1, Reason: "count"})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestAggregateTracksLayerSums(t *testing.T) {
	svc, store, _ := newTestLedger()
	ctx := context.Background()

	check := func() {
		require.Equal(t, store.sumRemaining(1, 1), store.onHand(1, 1))
		require.Equal(t, store.sumRemaining(1, 2), store.onHand(1, 2))
	}

	receiveN(t, svc, 1, 1, 10, "5")
	check()
	receiveN(t, svc, 1, 1, 10, "7")
	check()
	_, err := svc.Issue(ctx, IssueInput{PartID: 1, LocationID: 1, Qty: 15})
	require.NoError(t, err)
	check()
	_, err = svc.Move(ctx, MoveInput{PartID: 1, FromLocationID: 1, ToLocationID: 2, Qty: 3})
	require.NoError(t, err)
	check()
	_, err = svc.Issue(ctx, IssueInput{PartID: 1, LocationID: 1, Qty: 99})
	require.ErrorIs(t, err, ErrInsufficientStock)
	check()
}

func TestAuditTrailRecordsOperations(t *testing.T) {
	svc, _, audit := newTestLedger()
	ctx := context.Background()

	receiveN(t, svc, 1, 1, 10, "5")
	_, err := svc.Issue(ctx, IssueInput{PartID: 1, LocationID: 1, Qty: 2, ActorID: 42})
	require.NoError(t, err)

	require.Len(t, audit.logs, 2)
	require.Equal(t, "stock:receive", audit.logs[0].Action)
	require.Equal(t, "stock:issue", audit.logs[1].Action)
	require.Equal(t, int64(42), audit.logs[1].ActorID)
	require.Equal(t, "stock_tx", audit.logs[1].Entity)
}
