package procurement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

type memoryPORepo struct {
	pos    map[int64]PurchaseOrder
	lines  map[int64][]LineItem
	nextID int64
	seq    int64
}

func newMemoryPORepo() *memoryPORepo {
	return &memoryPORepo{
		pos:   make(map[int64]PurchaseOrder),
		lines: make(map[int64][]LineItem),
	}
}

func (r *memoryPORepo) snapshot() (map[int64]PurchaseOrder, map[int64][]LineItem) {
	pos := make(map[int64]PurchaseOrder, len(r.pos))
	for id, po := range r.pos {
		pos[id] = po
	}
	lines := make(map[int64][]LineItem, len(r.lines))
	for id, ls := range r.lines {
		lines[id] = append([]LineItem(nil), ls...)
	}
	return pos, lines
}

// WithTx restores the pre-call state on error, mirroring a database rollback.
func (r *memoryPORepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository, ledger.TxRepository) error) error {
	pos, lines := r.snapshot()
	if err := fn(ctx, &memoryPOTx{repo: r}, nil); err != nil {
		r.pos, r.lines = pos, lines
		return err
	}
	return nil
}

func (r *memoryPORepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, []LineItem, error) {
	po, ok := r.pos[id]
	if !ok {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	return po, append([]LineItem(nil), r.lines[id]...), nil
}

func (r *memoryPORepo) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	var orders []PurchaseOrder
	for _, po := range r.pos {
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		orders = append(orders, po)
	}
	return orders, nil
}

type memoryPOTx struct {
	repo *memoryPORepo
}

func (t *memoryPOTx) NextNumber(ctx context.Context) (string, error) {
	t.repo.seq++
	return fmt.Sprintf("PO-%06d", t.repo.seq), nil
}

func (t *memoryPOTx) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	t.repo.nextID++
	po.ID = t.repo.nextID
	t.repo.pos[po.ID] = po
	return po.ID, nil
}

func (t *memoryPOTx) InsertLineItem(ctx context.Context, line LineItem) (int64, error) {
	t.repo.nextID++
	line.ID = t.repo.nextID
	t.repo.lines[line.POID] = append(t.repo.lines[line.POID], line)
	return line.ID, nil
}

func (t *memoryPOTx) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := t.repo.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return po, nil
}

func (t *memoryPOTx) GetLineItems(ctx context.Context, poID int64) ([]LineItem, error) {
	return append([]LineItem(nil), t.repo.lines[poID]...), nil
}

func (t *memoryPOTx) IncrementReceived(ctx context.Context, lineID, qty int64) error {
	for poID, lines := range t.repo.lines {
		for i := range lines {
			if lines[i].ID != lineID {
				continue
			}
			if lines[i].QtyReceived+qty > lines[i].QtyOrdered {
				return ErrOverReceipt
			}
			t.repo.lines[poID][i].QtyReceived += qty
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryPOTx) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	po, ok := t.repo.pos[id]
	if !ok {
		return ErrNotFound
	}
	po.Status = status
	po.UpdatedAt = time.Now()
	t.repo.pos[id] = po
	return nil
}

type stubCatalog struct{}

func (stubCatalog) EnsurePart(ctx context.Context, id int64) error     { return nil }
func (stubCatalog) EnsureLocation(ctx context.Context, id int64) error { return nil }
func (stubCatalog) EnsureSupplier(ctx context.Context, id int64) error { return nil }

type stubLedger struct {
	received []ledger.ReceiveInput
	failAt   int
}

func (s *stubLedger) ReceiveWithin(ctx context.Context, tx ledger.TxRepository, input ledger.ReceiveInput) (ledger.Result, error) {
	if s.failAt > 0 && len(s.received)+1 == s.failAt {
		return ledger.Result{}, errors.New("ledger write failed")
	}
	s.received = append(s.received, input)
	return ledger.Result{
		Transaction: ledger.Transaction{
			ID:       int64(len(s.received)),
			Type:     ledger.TransactionReceive,
			PartID:   input.PartID,
			Quantity: input.Qty,
			UnitCost: input.UnitCost,
		},
		TotalCost: input.UnitCost.Mul(decimal.NewFromInt(input.Qty)),
	}, nil
}

func newTestService(repo *memoryPORepo, stock *stubLedger) *Service {
	return NewService(repo, stubCatalog{}, stock, nil)
}

func createOrderedPO(t *testing.T, svc *Service, lines []LineInput) (PurchaseOrder, []LineItem) {
	t.Helper()
	po, items, err := svc.Create(context.Background(), CreatePOInput{SupplierID: 1, Lines: lines})
	require.NoError(t, err)
	po, err = svc.MarkOrdered(context.Background(), po.ID, 7)
	require.NoError(t, err)
	return po, items
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	repo := newMemoryPORepo()
	svc := newTestService(repo, &stubLedger{})
	ctx := context.Background()

	first, _, err := svc.Create(ctx, CreatePOInput{SupplierID: 1, Lines: []LineInput{{PartID: 1, Qty: 5, UnitCost: decimal.NewFromInt(10)}}})
	require.NoError(t, err)
	second, _, err := svc.Create(ctx, CreatePOInput{SupplierID: 1, Lines: []LineInput{{PartID: 2, Qty: 3, UnitCost: decimal.NewFromInt(4)}}})
	require.NoError(t, err)

	require.Equal(t, "PO-000001", first.Number)
	require.Equal(t, "PO-000002", second.Number)
	require.Equal(t, POStatusDraft, first.Status)
}

func TestCreateRejectsEmptyAndInvalidLines(t *testing.T) {
	svc := newTestService(newMemoryPORepo(), &stubLedger{})
	ctx := context.Background()

	_, _, err := svc.Create(ctx, CreatePOInput{SupplierID: 1})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = svc.Create(ctx, CreatePOInput{SupplierID: 1, Lines: []LineInput{{PartID: 1, Qty: 0}}})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = svc.Create(ctx, CreatePOInput{SupplierID: 1, Lines: []LineInput{{PartID: 1, Qty: 1, UnitCost: decimal.NewFromInt(-1)}}})
	require.ErrorIs(t, err, ErrValidation)
}

func TestMarkOrderedOnlyFromDraft(t *testing.T) {
	repo := newMemoryPORepo()
	svc := newTestService(repo, &stubLedger{})
	ctx := context.Background()

	po, _, err := svc.Create(ctx, CreatePOInput{SupplierID: 1, Lines: []LineInput{{PartID: 1, Qty: 5, UnitCost: decimal.NewFromInt(10)}}})
	require.NoError(t, err)

	po, err = svc.MarkOrdered(ctx, po.ID, 7)
	require.NoError(t, err)
	require.Equal(t, POStatusOrdered, po.Status)

	_, err = svc.MarkOrdered(ctx, po.ID, 7)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReceiveRejectsDraftAndClosed(t *testing.T) {
	repo := newMemoryPORepo()
	stock := &stubLedger{}
	svc := newTestService(repo, stock)
	ctx := context.Background()

	po, items, err := svc.Create(ctx, CreatePOInput{SupplierID: 1, Lines: []LineInput{{PartID: 1, Qty: 5, UnitCost: decimal.NewFromInt(10)}}})
	require.NoError(t, err)

	_, _, err = svc.Receive(ctx, ReceiveInput{POID: po.ID, LocationID: 1, Lines: []ReceiveLine{{LineItemID: items[0].ID, Qty: 5}}})
	require.ErrorIs(t, err, ErrInvalidState)

	po, err = svc.MarkOrdered(ctx, po.ID, 7)
	require.NoError(t, err)
	_, po, err = svc.Receive(ctx, ReceiveInput{POID: po.ID, LocationID: 1, Lines: []ReceiveLine{{LineItemID: items[0].ID, Qty: 5}}})
	require.NoError(t, err)
	require.Equal(t, POStatusClosed, po.Status)

	_, _, err = svc.Receive(ctx, ReceiveInput{POID: po.ID, LocationID: 1, Lines: []ReceiveLine{{LineItemID: items[0].ID, Qty: 1}}})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPartialReceiptsAdvanceStatus(t *testing.T) {
	repo := newMemoryPORepo()
	stock := &stubLedger{}
	svc := newTestService(repo, stock)
	ctx := context.Background()

	po, items := createOrderedPO(t, svc, []LineInput{
		{PartID: 1, Qty: 10, UnitCost: decimal.NewFromInt(5)},
		{PartID: 2, Qty: 4, UnitCost: decimal.NewFromInt(7)},
	})

	_, po, err := svc.Receive(ctx, ReceiveInput{POID: po.ID, LocationID: 1, Lines: []ReceiveLine{{LineItemID: items[0].ID, Qty: 6}}})
	require.NoError(t, err)
	require.Equal(t, POStatusPartiallyReceived, po.Status)

	results, po, err := svc.Receive(ctx, ReceiveInput{POID: po.ID, LocationID: 1, Lines: []ReceiveLine{
		{LineItemID: items[0].ID, Qty: 4},
		{LineItemID: items[1].ID, Qty: 4},
	}})
	require.NoError(t, err)
	require.Equal(t, POStatusClosed, po.Status)
	require.Len(t, results, 2)

	// Each receipt posts at the line's ordered unit cost under the PO number.
	require.Len(t, stock.received, 3)
	require.Equal(t, po.Number, stock.received[0].PORef)
	require.True(t, stock.received[2].UnitCost.Equal(decimal.NewFromInt(7)))
}

func TestOverReceiptRejectedBeforeAnyWrite(t *testing.T) {
	repo := newMemoryPORepo()
	stock := &stubLedger{}
	svc := newTestService(repo, stock)
	ctx := context.Background()

	po, items := createOrderedPO(t, svc, []LineInput{{PartID: 1, Qty: 10, UnitCost: decimal.NewFromInt(5)}})

	_, _, err := svc.Receive(ctx, ReceiveInput{POID: po.ID, LocationID: 1, Lines: []ReceiveLine{{LineItemID: items[0].ID, Qty: 11}}})
	require.ErrorIs(t, err, ErrOverReceipt)
	require.Empty(t, stock.received)

	// Two pairs naming the same line count against the remainder together.
	_, _, err = svc.Receive(ctx, ReceiveInput{POID: po.ID, LocationID: 1, Lines: []ReceiveLine{
		{LineItemID: items[0].ID, Qty: 6},
		{LineItemID: items[0].ID, Qty: 6},
	}})
	require.ErrorIs(t, err, ErrOverReceipt)
	require.Empty(t, stock.received)

	_, _, lines, _ := getPO(t, repo, po.ID)
	require.Equal(t, int64(0), lines[0].QtyReceived)
}

func TestReceiveUnknownLineFails(t *testing.T) {
	repo := newMemoryPORepo()
	stock := &stubLedger{}
	svc := newTestService(repo, stock)
	ctx := context.Background()

	po, _ := createOrderedPO(t, svc, []LineInput{{PartID: 1, Qty: 10, UnitCost: decimal.NewFromInt(5)}})

	_, _, err := svc.Receive(ctx, ReceiveInput{POID: po.ID, LocationID: 1, Lines: []ReceiveLine{{LineItemID: 9999, Qty: 1}}})
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, stock.received)
}

func TestReceiveBatchRollsBackOnLedgerFailure(t *testing.T) {
	repo := newMemoryPORepo()
	stock := &stubLedger{failAt: 2}
	svc := newTestService(repo, stock)
	ctx := context.Background()

	po, items := createOrderedPO(t, svc, []LineInput{
		{PartID: 1, Qty: 10, UnitCost: decimal.NewFromInt(5)},
		{PartID: 2, Qty: 4, UnitCost: decimal.NewFromInt(7)},
	})

	_, _, err := svc.Receive(ctx, ReceiveInput{POID: po.ID, LocationID: 1, Lines: []ReceiveLine{
		{LineItemID: items[0].ID, Qty: 10},
		{LineItemID: items[1].ID, Qty: 4},
	}})
	require.Error(t, err)

	got, _, lines, status := getPO(t, repo, po.ID)
	require.Equal(t, po.Number, got.Number)
	require.Equal(t, POStatusOrdered, status)
	for _, line := range lines {
		require.Equal(t, int64(0), line.QtyReceived)
	}
}

func getPO(t *testing.T, repo *memoryPORepo, id int64) (PurchaseOrder, int64, []LineItem, POStatus) {
	t.Helper()
	po, lines, err := repo.GetPO(context.Background(), id)
	require.NoError(t, err)
	return po, po.ID, lines, po.Status
}
