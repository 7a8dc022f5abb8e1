package receiving

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
	"github.com/zazakia/fbmsbackup3-sub010/internal/shared"
)

type productState struct {
	stock float64
	cost  float64
}

// memoryReceivingRepo implements RepositoryPort and TxRepository in memory.
// WithTx snapshots mutable state and restores it when fn fails, mirroring
// the rollback behaviour of the real pgx transaction.
type memoryReceivingRepo struct {
	orders   map[int64]purchasing.PurchaseOrder
	products map[int64]productState

	records          []ReceivingRecord
	failedTxs        []CostUpdateTransaction
	variances        []PriceVarianceRecord
	nextID           int64
	txCalls          int
	failCostWrite    bool
	failRecordInsert bool
	afterGetPO       func()
}

func newMemoryReceivingRepo() *memoryReceivingRepo {
	return &memoryReceivingRepo{
		orders:   make(map[int64]purchasing.PurchaseOrder),
		products: make(map[int64]productState),
	}
}

func (r *memoryReceivingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txCalls++
	productsBefore := make(map[int64]productState, len(r.products))
	for id, st := range r.products {
		productsBefore[id] = st
	}
	ordersBefore := make(map[int64]purchasing.PurchaseOrder, len(r.orders))
	for id, po := range r.orders {
		po.Items = append([]purchasing.PurchaseOrderItem(nil), po.Items...)
		ordersBefore[id] = po
	}
	if err := fn(ctx, r); err != nil {
		r.products = productsBefore
		r.orders = ordersBefore
		return err
	}
	return nil
}

func (r *memoryReceivingRepo) GetPO(ctx context.Context, id int64) (purchasing.PurchaseOrder, error) {
	po, ok := r.orders[id]
	if !ok {
		return purchasing.PurchaseOrder{}, purchasing.ErrNotFound
	}
	po.Items = append([]purchasing.PurchaseOrderItem(nil), po.Items...)
	if r.afterGetPO != nil {
		hook := r.afterGetPO
		r.afterGetPO = nil
		hook()
	}
	return po, nil
}

func (r *memoryReceivingRepo) RecordFailedCostTransaction(ctx context.Context, tx CostUpdateTransaction) error {
	r.failedTxs = append(r.failedTxs, tx)
	return nil
}

func (r *memoryReceivingRepo) ListRecords(ctx context.Context, poID int64, limit int) ([]ReceivingRecord, error) {
	var out []ReceivingRecord
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].POID == poID {
			out = append(out, r.records[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryReceivingRepo) GetProductCostForUpdate(ctx context.Context, productID int64) (float64, float64, error) {
	st, ok := r.products[productID]
	if !ok {
		return 0, 0, ErrProductNotFound
	}
	return st.stock, st.cost, nil
}

func (r *memoryReceivingRepo) UpdateProductCosts(ctx context.Context, updates []ProductCostUpdate) error {
	if r.failCostWrite {
		r.failCostWrite = false
		return errors.New("products table unavailable")
	}
	for _, u := range updates {
		r.products[u.ProductID] = productState{stock: u.NewStock, cost: u.NewCost}
	}
	return nil
}

func (r *memoryReceivingRepo) InsertPriceVariances(ctx context.Context, records []PriceVarianceRecord) error {
	r.variances = append(r.variances, records...)
	return nil
}

func (r *memoryReceivingRepo) InsertValueAdjustments(ctx context.Context, poID int64, adjustments []ValueAdjustment) error {
	return nil
}

func (r *memoryReceivingRepo) InsertCostTransaction(ctx context.Context, tx CostUpdateTransaction) (int64, error) {
	r.nextID++
	return r.nextID, nil
}

func (r *memoryReceivingRepo) SetItemReceivedQty(ctx context.Context, poID, productID int64, from, to float64) error {
	po, ok := r.orders[poID]
	if !ok {
		return purchasing.ErrNotFound
	}
	for i := range po.Items {
		if po.Items[i].ProductID == productID {
			if po.Items[i].ReceivedQty != from {
				return shared.ErrConcurrentModification
			}
			po.Items[i].ReceivedQty = to
		}
	}
	r.orders[poID] = po
	return nil
}

func (r *memoryReceivingRepo) UpdatePOStatus(ctx context.Context, poID int64, from, to purchasing.Status) error {
	po, ok := r.orders[poID]
	if !ok {
		return purchasing.ErrNotFound
	}
	if po.Status != from {
		return shared.ErrConcurrentModification
	}
	po.Status = to
	r.orders[poID] = po
	return nil
}

func (r *memoryReceivingRepo) InsertReceivingRecord(ctx context.Context, record ReceivingRecord) (int64, error) {
	if r.failRecordInsert {
		r.failRecordInsert = false
		return 0, errors.New("receiving_records table unavailable")
	}
	r.nextID++
	record.ID = r.nextID
	r.records = append(r.records, record)
	return record.ID, nil
}

type memoryGuard struct {
	keys map[string]bool
}

func newMemoryGuard() *memoryGuard { return &memoryGuard{keys: make(map[string]bool)} }

func (g *memoryGuard) CheckAndInsert(ctx context.Context, key, module string) error {
	if g.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	g.keys[key] = true
	return nil
}

func (g *memoryGuard) Delete(ctx context.Context, key string) error {
	delete(g.keys, key)
	return nil
}

type recordingAudit struct {
	entries []shared.AuditEntry
}

func (a *recordingAudit) LogPurchaseOrderAction(ctx context.Context, entry shared.AuditEntry) (int64, error) {
	a.entries = append(a.entries, entry)
	return int64(len(a.entries)), nil
}

type recordingIntegration struct {
	statusChanges []purchasing.StatusChangeEvent
}

func (h *recordingIntegration) HandleApproval(ctx context.Context, event purchasing.ApprovalEvent) error {
	return nil
}

func (h *recordingIntegration) HandleStatusChange(ctx context.Context, event purchasing.StatusChangeEvent) error {
	h.statusChanges = append(h.statusChanges, event)
	return nil
}

func (h *recordingIntegration) HandleCancellation(ctx context.Context, event purchasing.CancellationEvent) error {
	return nil
}

func receiver() shared.Actor {
	return shared.Actor{ID: 9, Name: "Ana Reyes", Role: "warehouse"}
}

func newReceivingFixture(t *testing.T) (*Service, *memoryReceivingRepo, *memoryGuard, *recordingAudit, *recordingIntegration) {
	t.Helper()
	repo := newMemoryReceivingRepo()
	repo.orders[7] = receivablePO()
	repo.products[1] = productState{stock: 100, cost: 10}
	repo.products[2] = productState{stock: 0, cost: 0}
	guard := newMemoryGuard()
	audit := &recordingAudit{}
	integration := &recordingIntegration{}
	svc := NewService(repo, guard, audit, integration, ServiceConfig{})
	return svc, repo, guard, audit, integration
}

func TestProcessReceiptRequiresAuthentication(t *testing.T) {
	svc, _, _, _, _ := newReceivingFixture(t)

	_, err := svc.ProcessReceipt(context.Background(), 7, []ReceiptItem{goodItem(1, 10, 10)}, shared.Actor{}, "")
	require.ErrorIs(t, err, purchasing.ErrAuthenticationRequired)

	viewer := shared.Actor{ID: 4, Name: "Jo", Role: "viewer"}
	_, err = svc.ProcessReceipt(context.Background(), 7, []ReceiptItem{goodItem(1, 10, 10)}, viewer, "")
	require.ErrorIs(t, err, purchasing.ErrInsufficientPermissions)
}

func TestProcessReceiptValidationFailureMutatesNothing(t *testing.T) {
	svc, repo, _, _, _ := newReceivingFixture(t)

	result, err := svc.ProcessReceipt(context.Background(), 7, []ReceiptItem{goodItem(1, 150, 10)}, receiver(), "")

	require.ErrorIs(t, err, ErrValidationFailed)
	require.False(t, result.Validation.Valid)
	require.NotEmpty(t, result.Validation.Errors)
	require.Zero(t, repo.txCalls)
	require.Equal(t, productState{stock: 100, cost: 10}, repo.products[1])
}

func TestProcessReceiptPartialDelivery(t *testing.T) {
	svc, repo, _, audit, integration := newReceivingFixture(t)

	items := []ReceiptItem{
		goodItem(1, 100, 12), // full line
		goodItem(2, 25, 4),   // half of the 50 ordered
	}
	result, err := svc.ProcessReceipt(context.Background(), 7, items, receiver(), "first truck")
	require.NoError(t, err)

	require.Equal(t, purchasing.StatusPartiallyReceived, result.NewStatus)
	require.Equal(t, purchasing.StatusPartiallyReceived, repo.orders[7].Status)

	// 100 @ 10 plus 100 @ 12 averages to 11.
	require.InDelta(t, 200.0, repo.products[1].stock, 1e-9)
	require.InDelta(t, 11.0, repo.products[1].cost, 1e-9)

	require.NotZero(t, result.Record.ID)
	require.Equal(t, "PO-2024-0007", result.Record.PONumber)
	require.Len(t, result.Record.Adjustments, 2)
	require.Len(t, result.Outcome.CostResults, 2)

	// 12 vs 10 ordered is a 20% gap, above the reporting threshold.
	require.Len(t, repo.variances, 1)
	require.Equal(t, int64(1), repo.variances[0].ProductID)

	require.Len(t, audit.entries, 1)
	require.Equal(t, "po_receipt_posted", audit.entries[0].Action)

	require.Len(t, integration.statusChanges, 1)
	require.Equal(t, purchasing.StatusApproved, integration.statusChanges[0].OldStatus)
	require.Equal(t, purchasing.StatusPartiallyReceived, integration.statusChanges[0].NewStatus)
}

func TestProcessReceiptFullDeliveryCompletesOrder(t *testing.T) {
	svc, repo, _, _, _ := newReceivingFixture(t)

	items := []ReceiptItem{goodItem(1, 100, 10), goodItem(2, 50, 4)}
	result, err := svc.ProcessReceipt(context.Background(), 7, items, receiver(), "")
	require.NoError(t, err)

	require.Equal(t, purchasing.StatusFullyReceived, result.NewStatus)
	require.Equal(t, purchasing.StatusFullyReceived, repo.orders[7].Status)
	require.Equal(t, 50.0, repo.orders[7].Items[1].ReceivedQty)
}

func TestProcessReceiptRejectsDuplicateSubmission(t *testing.T) {
	svc, repo, _, _, _ := newReceivingFixture(t)

	items := []ReceiptItem{goodItem(1, 40, 10)}
	_, err := svc.ProcessReceipt(context.Background(), 7, items, receiver(), "")
	require.NoError(t, err)
	stockAfterFirst := repo.products[1].stock

	_, err = svc.ProcessReceipt(context.Background(), 7, items, receiver(), "")
	require.ErrorIs(t, err, ErrDuplicateReceipt)
	require.Equal(t, stockAfterFirst, repo.products[1].stock)
	require.Len(t, repo.records, 1)
}

func TestProcessReceiptCostUpdateFailureReleasesGuard(t *testing.T) {
	svc, repo, guard, _, _ := newReceivingFixture(t)
	repo.failCostWrite = true

	items := []ReceiptItem{goodItem(1, 40, 10)}
	_, err := svc.ProcessReceipt(context.Background(), 7, items, receiver(), "")

	require.ErrorIs(t, err, ErrCostUpdateFailed)
	require.Equal(t, productState{stock: 100, cost: 10}, repo.products[1])
	require.Len(t, repo.failedTxs, 1)
	require.Equal(t, CostTransactionFailed, repo.failedTxs[0].Status)
	require.Empty(t, guard.keys)

	// The same submission goes through once the write path recovers.
	_, err = svc.ProcessReceipt(context.Background(), 7, items, receiver(), "")
	require.NoError(t, err)
}

func TestProcessReceiptRecordFailureRollsBackEverything(t *testing.T) {
	svc, repo, guard, _, _ := newReceivingFixture(t)
	repo.failRecordInsert = true

	items := []ReceiptItem{goodItem(1, 40, 10)}
	_, err := svc.ProcessReceipt(context.Background(), 7, items, receiver(), "")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrCostUpdateFailed)

	// The committed stock and cost must not outlive the failed record:
	// everything rolls back together.
	require.Equal(t, productState{stock: 100, cost: 10}, repo.products[1])
	require.Equal(t, 0.0, repo.orders[7].Items[0].ReceivedQty)
	require.Empty(t, repo.records)
	require.Empty(t, guard.keys)

	// A retry of the identical submission applies the receipt exactly once.
	result, err := svc.ProcessReceipt(context.Background(), 7, items, receiver(), "")
	require.NoError(t, err)
	require.NotZero(t, result.Record.ID)
	require.InDelta(t, 140.0, repo.products[1].stock, 1e-9)
	require.Len(t, repo.records, 1)
}

func TestProcessReceiptDetectsConcurrentReceipt(t *testing.T) {
	svc, repo, guard, _, _ := newReceivingFixture(t)

	// A second warehouse terminal posts 3 units between our read of the
	// order and the write transaction.
	repo.afterGetPO = func() {
		po := repo.orders[7]
		po.Items[0].ReceivedQty = 3
		repo.orders[7] = po
		repo.products[1] = productState{stock: 103, cost: 10}
	}

	_, err := svc.ProcessReceipt(context.Background(), 7, []ReceiptItem{goodItem(1, 3, 10)}, receiver(), "")
	require.ErrorIs(t, err, shared.ErrConcurrentModification)

	// Only the concurrent receipt's 3 units survive; ours rolled back
	// instead of overwriting the line with a stale quantity.
	require.InDelta(t, 103.0, repo.products[1].stock, 1e-9)
	require.Equal(t, 3.0, repo.orders[7].Items[0].ReceivedQty)
	require.Empty(t, repo.records)
	require.Empty(t, guard.keys)
}

func TestProcessReceiptUnknownOrder(t *testing.T) {
	svc, _, _, _, _ := newReceivingFixture(t)

	_, err := svc.ProcessReceipt(context.Background(), 404, []ReceiptItem{goodItem(1, 10, 10)}, receiver(), "")
	require.ErrorIs(t, err, purchasing.ErrNotFound)
}

func TestReceiptFingerprintIgnoresItemOrder(t *testing.T) {
	a := []ReceiptItem{goodItem(1, 10, 5), goodItem(2, 20, 7)}
	b := []ReceiptItem{goodItem(2, 20, 7), goodItem(1, 10, 5)}

	require.Equal(t, receiptFingerprint(7, a), receiptFingerprint(7, b))
	require.NotEqual(t, receiptFingerprint(7, a), receiptFingerprint(8, a))
}

func TestHistoryReturnsNewestFirst(t *testing.T) {
	svc, repo, _, _, _ := newReceivingFixture(t)
	repo.records = []ReceivingRecord{
		{ID: 1, POID: 7, Notes: "first"},
		{ID: 2, POID: 7, Notes: "second"},
		{ID: 3, POID: 9},
	}

	records, err := svc.History(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "second", records[0].Notes)
}

func TestReadinessReportsAdvisoryIssues(t *testing.T) {
	svc, repo, _, _, _ := newReceivingFixture(t)

	result, err := svc.Readiness(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, result.Valid)

	po := repo.orders[7]
	po.Status = purchasing.StatusDraft
	repo.orders[7] = po

	result, err = svc.Readiness(context.Background(), 7)
	require.NoError(t, err)
	require.False(t, result.Valid)
}
