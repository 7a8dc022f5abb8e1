package purchasing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zazakia/fbmsbackup3-sub010/internal/shared"
)

type memoryPORepo struct {
	orders  map[int64]PurchaseOrder
	txCalls int
}

func newMemoryPORepo(orders ...PurchaseOrder) *memoryPORepo {
	repo := &memoryPORepo{orders: make(map[int64]PurchaseOrder)}
	for _, po := range orders {
		repo.orders[po.ID] = po
	}
	return repo
}

func (r *memoryPORepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txCalls++
	return fn(ctx, r)
}

func (r *memoryPORepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return po, nil
}

func (r *memoryPORepo) ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	var out []PurchaseOrder
	for _, po := range r.orders {
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		out = append(out, po)
	}
	return out, len(out), nil
}

func (r *memoryPORepo) ListOverdue(ctx context.Context, asOf time.Time) ([]PurchaseOrder, error) {
	var out []PurchaseOrder
	for _, po := range r.orders {
		if po.Status.Receivable() && po.ExpectedDate.Before(asOf) {
			out = append(out, po)
		}
	}
	return out, nil
}

func (r *memoryPORepo) UpdateStatus(ctx context.Context, poID int64, from, to Status) error {
	po, ok := r.orders[poID]
	if !ok {
		return ErrNotFound
	}
	if po.Status != from {
		return shared.ErrConcurrentModification
	}
	po.Status = to
	r.orders[poID] = po
	return nil
}

func (r *memoryPORepo) SetApproval(ctx context.Context, poID int64, approvedBy int64, approvedAt time.Time) error {
	po, ok := r.orders[poID]
	if !ok {
		return ErrNotFound
	}
	po.ApprovedBy = approvedBy
	po.ApprovedAt = approvedAt
	r.orders[poID] = po
	return nil
}

type recordingIntegration struct {
	approvals     []ApprovalEvent
	statusChanges []StatusChangeEvent
	cancellations []CancellationEvent
}

func (h *recordingIntegration) HandleApproval(ctx context.Context, evt ApprovalEvent) error {
	h.approvals = append(h.approvals, evt)
	return nil
}

func (h *recordingIntegration) HandleStatusChange(ctx context.Context, evt StatusChangeEvent) error {
	h.statusChanges = append(h.statusChanges, evt)
	return nil
}

func (h *recordingIntegration) HandleCancellation(ctx context.Context, evt CancellationEvent) error {
	h.cancellations = append(h.cancellations, evt)
	return nil
}

type recordingAudit struct {
	entries []shared.AuditEntry
}

func (a *recordingAudit) LogPurchaseOrderAction(ctx context.Context, entry shared.AuditEntry) (int64, error) {
	a.entries = append(a.entries, entry)
	return int64(len(a.entries)), nil
}

type countingRefresher struct {
	refreshes int
}

func (c *countingRefresher) RefreshReceivingQueue(ctx context.Context) error {
	c.refreshes++
	return nil
}

func pendingOrder(id int64, total float64) PurchaseOrder {
	return PurchaseOrder{
		ID:         id,
		Number:     "PO-2024-0042",
		SupplierID: 3,
		Status:     StatusPendingApproval,
		Total:      total,
		Items:      []PurchaseOrderItem{{ProductID: 1, OrderedQty: 10, UnitCost: total / 10}},
	}
}

func manager() shared.Actor {
	return shared.Actor{ID: 2, Name: "Mia Santos", Role: "manager", ApprovalLimit: 50000}
}

func TestApproveHappyPath(t *testing.T) {
	repo := newMemoryPORepo(pendingOrder(42, 10000))
	audit := &recordingAudit{}
	integration := &recordingIntegration{}
	svc := NewService(repo, audit, integration, nil)

	err := svc.Approve(context.Background(), 42, manager(), "within budget")
	require.NoError(t, err)

	po := repo.orders[42]
	require.Equal(t, StatusApproved, po.Status)
	require.Equal(t, int64(2), po.ApprovedBy)
	require.False(t, po.ApprovedAt.IsZero())

	require.Len(t, audit.entries, 1)
	require.Equal(t, "po_approved", audit.entries[0].Action)
	require.Len(t, integration.approvals, 1)
	require.Equal(t, "within budget", integration.approvals[0].Context.Reason)
}

func TestApprovePermissionChecks(t *testing.T) {
	repo := newMemoryPORepo(pendingOrder(42, 10000))
	svc := NewService(repo, nil, nil, nil)

	err := svc.Approve(context.Background(), 42, shared.Actor{}, "")
	require.ErrorIs(t, err, ErrAuthenticationRequired)

	cashier := shared.Actor{ID: 5, Name: "Leo", Role: "cashier"}
	err = svc.Approve(context.Background(), 42, cashier, "")
	require.ErrorIs(t, err, ErrInsufficientPermissions)

	require.Equal(t, StatusPendingApproval, repo.orders[42].Status)
}

func TestApproveEnforcesApprovalLimit(t *testing.T) {
	repo := newMemoryPORepo(pendingOrder(42, 80000))
	svc := NewService(repo, nil, nil, nil)

	err := svc.Approve(context.Background(), 42, manager(), "")
	require.ErrorIs(t, err, ErrApprovalLimitExceeded)
	require.Equal(t, StatusPendingApproval, repo.orders[42].Status)

	// A zero limit means unlimited.
	unlimited := shared.Actor{ID: 1, Name: "Root", Role: "admin"}
	require.NoError(t, svc.Approve(context.Background(), 42, unlimited, ""))
}

func TestApproveRejectsWrongStatus(t *testing.T) {
	draft := pendingOrder(1, 100)
	draft.Status = StatusDraft
	approved := pendingOrder(2, 100)
	approved.Status = StatusApproved
	repo := newMemoryPORepo(draft, approved)
	svc := NewService(repo, nil, nil, nil)

	err := svc.Approve(context.Background(), 1, manager(), "")
	require.ErrorIs(t, err, ErrInvalidState)

	err = svc.Approve(context.Background(), 2, manager(), "")
	require.ErrorIs(t, err, ErrAlreadyApproved)
}

func TestSubmitMovesDraftToPending(t *testing.T) {
	draft := pendingOrder(7, 100)
	draft.Status = StatusDraft
	repo := newMemoryPORepo(draft)
	integration := &recordingIntegration{}
	svc := NewService(repo, nil, integration, nil)

	err := svc.Submit(context.Background(), 7, manager())
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, repo.orders[7].Status)
	require.Len(t, integration.statusChanges, 1)

	err = svc.Submit(context.Background(), 7, manager())
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestMarkSent(t *testing.T) {
	po := pendingOrder(7, 100)
	po.Status = StatusApproved
	repo := newMemoryPORepo(po)
	svc := NewService(repo, nil, nil, nil)

	require.NoError(t, svc.MarkSent(context.Background(), 7, manager()))
	require.Equal(t, StatusSentToSupplier, repo.orders[7].Status)
}

func TestCancelRefusesOrdersWithReceivedGoods(t *testing.T) {
	po := pendingOrder(7, 100)
	po.Status = StatusPartiallyReceived
	po.Items[0].ReceivedQty = 4
	repo := newMemoryPORepo(po)
	svc := NewService(repo, nil, nil, nil)

	err := svc.Cancel(context.Background(), 7, manager(), "supplier folded")
	require.ErrorIs(t, err, ErrCannotCancelReceived)
	require.Equal(t, StatusPartiallyReceived, repo.orders[7].Status)
}

func TestCancelApprovedOrder(t *testing.T) {
	po := pendingOrder(7, 100)
	po.Status = StatusApproved
	repo := newMemoryPORepo(po)
	integration := &recordingIntegration{}
	svc := NewService(repo, nil, integration, nil)

	require.NoError(t, svc.Cancel(context.Background(), 7, manager(), "duplicate order"))
	require.Equal(t, StatusCancelled, repo.orders[7].Status)
	require.Len(t, integration.cancellations, 1)

	closed := pendingOrder(8, 100)
	closed.Status = StatusClosed
	repo.orders[8] = closed
	err := svc.Cancel(context.Background(), 8, manager(), "")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestBulkApproveCollectsIndividualFailures(t *testing.T) {
	good := pendingOrder(1, 100)
	tooBig := pendingOrder(2, 90000)
	repo := newMemoryPORepo(good, tooBig)
	refresher := &countingRefresher{}
	svc := NewService(repo, nil, nil, refresher)

	results := svc.BulkApprove(context.Background(), []int64{1, 2, 404}, manager(), "quarter close")

	require.Len(t, results, 3)
	require.Empty(t, results[0].Error)
	require.NotEmpty(t, results[1].Error)
	require.NotEmpty(t, results[2].Error)
	require.Equal(t, StatusApproved, repo.orders[1].Status)
	require.Equal(t, StatusPendingApproval, repo.orders[2].Status)

	// One refresh for the whole batch, not one per order.
	require.Equal(t, 1, refresher.refreshes)
}

func TestListOverdueComputesDerivedFields(t *testing.T) {
	asOf := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	overdue := PurchaseOrder{
		ID:           1,
		Number:       "PO-2024-0001",
		SupplierID:   3,
		SupplierName: "Mang Tomas Trading",
		Status:       StatusSentToSupplier,
		ExpectedDate: asOf.AddDate(0, 0, -10),
		Items: []PurchaseOrderItem{
			{ProductID: 1, OrderedQty: 100, ReceivedQty: 40, UnitCost: 25},
		},
	}
	onTime := PurchaseOrder{
		ID:           2,
		Status:       StatusApproved,
		ExpectedDate: asOf.AddDate(0, 0, 5),
		Items:        []PurchaseOrderItem{{ProductID: 2, OrderedQty: 10, UnitCost: 5}},
	}
	repo := newMemoryPORepo(overdue, onTime)
	svc := NewService(repo, nil, nil, nil)

	alerts, err := svc.ListOverdue(context.Background(), asOf)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	alert := alerts[0]
	require.Equal(t, int64(1), alert.POID)
	require.Equal(t, 10, alert.DaysOverdue)
	require.Equal(t, 60.0, alert.PendingQty)
	require.Contains(t, alert.PendingValue, "1,500.00")
}

func TestIsPermissionError(t *testing.T) {
	require.True(t, IsPermissionError(ErrInsufficientPermissions))
	require.True(t, IsPermissionError(ErrApprovalLimitExceeded))
	require.True(t, IsPermissionError(ErrAuthenticationRequired))
	require.False(t, IsPermissionError(ErrInvalidState))
}
