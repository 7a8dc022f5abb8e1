package queue

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
	"github.com/zazakia/fbmsbackup3-sub010/internal/shared"
)

type memoryQueueRepo struct {
	items     map[int64]Item
	rebuilds  int
	listCalls int
	failNext  error
}

func newMemoryQueueRepo() *memoryQueueRepo {
	return &memoryQueueRepo{items: map[int64]Item{}}
}

func (m *memoryQueueRepo) Contains(ctx context.Context, poID int64) (bool, error) {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return false, err
	}
	_, ok := m.items[poID]
	return ok, nil
}

func (m *memoryQueueRepo) Upsert(ctx context.Context, item Item) error {
	m.items[item.POID] = item
	return nil
}

func (m *memoryQueueRepo) Remove(ctx context.Context, poID int64) error {
	delete(m.items, poID)
	return nil
}

func (m *memoryQueueRepo) List(ctx context.Context) ([]Item, error) {
	m.listCalls++
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	return out, nil
}

func (m *memoryQueueRepo) Rebuild(ctx context.Context) error {
	m.rebuilds++
	return nil
}

type memoryPOStore struct {
	orders map[int64]purchasing.PurchaseOrder
}

func (m *memoryPOStore) GetPO(ctx context.Context, id int64) (purchasing.PurchaseOrder, error) {
	po, ok := m.orders[id]
	if !ok {
		return purchasing.PurchaseOrder{}, purchasing.ErrNotFound
	}
	return po, nil
}

type memoryAudit struct {
	entries []shared.AuditEntry
	fail    error
}

func (m *memoryAudit) LogPurchaseOrderAction(ctx context.Context, entry shared.AuditEntry) (int64, error) {
	if m.fail != nil {
		return 0, m.fail
	}
	m.entries = append(m.entries, entry)
	return int64(len(m.entries)), nil
}

type countingNotifier struct {
	sent int
}

func (n *countingNotifier) NotifyReceivingQueue(ctx context.Context, poID int64, message string) error {
	n.sent++
	return nil
}

func testOrder(id int64, status purchasing.Status) purchasing.PurchaseOrder {
	return purchasing.PurchaseOrder{
		ID:           id,
		Number:       "PO-2026-0042",
		SupplierID:   7,
		SupplierName: "Mega Manila Trading",
		Status:       status,
		ExpectedDate: time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		Items: []purchasing.PurchaseOrderItem{
			{ProductID: 1, OrderedQty: 100, ReceivedQty: 20, UnitCost: 10},
		},
	}
}

func newTestService(repo *memoryQueueRepo, pos *memoryPOStore, audit *memoryAudit, notifier Notifier, cache *Cache) *Service {
	return NewService(repo, pos, audit, notifier, cache, nil, slog.New(slog.NewTextHandler(discardWriter{}, nil)))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestHandleApprovalAddsNewOrder(t *testing.T) {
	repo := newMemoryQueueRepo()
	pos := &memoryPOStore{orders: map[int64]purchasing.PurchaseOrder{42: testOrder(42, purchasing.StatusApproved)}}
	audit := &memoryAudit{}
	notifier := &countingNotifier{}
	svc := newTestService(repo, pos, audit, notifier, nil)

	mutation, result := svc.HandleApproval(context.Background(), purchasing.ApprovalEvent{
		POID:    42,
		Number:  "PO-2026-0042",
		Context: purchasing.EventContext{ActorID: 1, ActorName: "Ana", At: time.Now()},
	})

	require.True(t, result.Success)
	require.True(t, result.ReceivingQueueUpdated)
	require.Equal(t, 1, result.NotificationsSent)
	require.NotZero(t, result.AuditLogID)
	require.Equal(t, []int64{42}, mutation.Added)
	require.Empty(t, mutation.Updated)
	require.Equal(t, 1, mutation.TotalAffected)
	require.Contains(t, repo.items, int64(42))
	require.Equal(t, 80.0, repo.items[42].PendingQty)
	require.Len(t, audit.entries, 1)
	require.Equal(t, "receiving_integration", audit.entries[0].Action)
}

func TestHandleApprovalRefreshesExistingOrder(t *testing.T) {
	repo := newMemoryQueueRepo()
	repo.items[42] = Item{POID: 42, PendingQty: 100}
	pos := &memoryPOStore{orders: map[int64]purchasing.PurchaseOrder{42: testOrder(42, purchasing.StatusApproved)}}
	svc := newTestService(repo, pos, &memoryAudit{}, &countingNotifier{}, nil)

	mutation, result := svc.HandleApproval(context.Background(), purchasing.ApprovalEvent{POID: 42, Number: "PO-2026-0042"})

	require.True(t, result.Success)
	require.Equal(t, []int64{42}, mutation.Updated)
	require.Empty(t, mutation.Added)
	require.Equal(t, 80.0, repo.items[42].PendingQty)
}

func TestHandleStatusChangeRemovesNonReceivable(t *testing.T) {
	repo := newMemoryQueueRepo()
	repo.items[42] = Item{POID: 42}
	pos := &memoryPOStore{orders: map[int64]purchasing.PurchaseOrder{42: testOrder(42, purchasing.StatusFullyReceived)}}
	svc := newTestService(repo, pos, &memoryAudit{}, nil, nil)

	mutation, result := svc.HandleStatusChange(context.Background(), purchasing.StatusChangeEvent{
		POID:      42,
		Number:    "PO-2026-0042",
		OldStatus: purchasing.StatusPartiallyReceived,
		NewStatus: purchasing.StatusFullyReceived,
	})

	require.True(t, result.Success)
	require.True(t, result.ReceivingQueueUpdated)
	require.Equal(t, []int64{42}, mutation.Removed)
	require.NotContains(t, repo.items, int64(42))
}

func TestHandleStatusChangeNoMutationWhenAbsentAndNotReceivable(t *testing.T) {
	repo := newMemoryQueueRepo()
	pos := &memoryPOStore{orders: map[int64]purchasing.PurchaseOrder{42: testOrder(42, purchasing.StatusCancelled)}}
	svc := newTestService(repo, pos, &memoryAudit{}, nil, nil)

	mutation, result := svc.HandleStatusChange(context.Background(), purchasing.StatusChangeEvent{
		POID:      42,
		NewStatus: purchasing.StatusCancelled,
	})

	require.True(t, result.Success)
	require.False(t, result.ReceivingQueueUpdated)
	require.Zero(t, mutation.TotalAffected)
}

func TestHandleCancellationRemovesQueuedOrder(t *testing.T) {
	repo := newMemoryQueueRepo()
	repo.items[42] = Item{POID: 42}
	svc := newTestService(repo, &memoryPOStore{}, &memoryAudit{}, nil, nil)

	mutation, result := svc.HandleCancellation(context.Background(), purchasing.CancellationEvent{POID: 42, Number: "PO-2026-0042"})

	require.True(t, result.Success)
	require.Equal(t, []int64{42}, mutation.Removed)
	require.NotContains(t, repo.items, int64(42))
}

func TestHandleApprovalReportsFailureWithoutPanicking(t *testing.T) {
	repo := newMemoryQueueRepo()
	repo.failNext = errors.New("connection refused")
	svc := newTestService(repo, &memoryPOStore{}, &memoryAudit{}, nil, nil)

	mutation, result := svc.HandleApproval(context.Background(), purchasing.ApprovalEvent{POID: 42})

	require.False(t, result.Success)
	require.Contains(t, result.Error, "connection refused")
	require.Zero(t, mutation.TotalAffected)

	// The adapter swallows the failure so callers keep their committed state.
	adapter := NewAdapter(svc)
	require.NoError(t, adapter.HandleApproval(context.Background(), purchasing.ApprovalEvent{POID: 42}))
}

func TestAuditWriteFailureDowngradesResult(t *testing.T) {
	repo := newMemoryQueueRepo()
	pos := &memoryPOStore{orders: map[int64]purchasing.PurchaseOrder{42: testOrder(42, purchasing.StatusApproved)}}
	audit := &memoryAudit{fail: errors.New("audit store unavailable")}
	svc := newTestService(repo, pos, audit, &countingNotifier{}, nil)

	mutation, result := svc.HandleApproval(context.Background(), purchasing.ApprovalEvent{POID: 42, Number: "PO-2026-0042"})

	// The queue mutation stays applied, but the unrecorded audit write
	// must surface as a failed integration.
	require.False(t, result.Success)
	require.Contains(t, result.Error, "audit store unavailable")
	require.Zero(t, result.AuditLogID)
	require.Equal(t, []int64{42}, mutation.Added)
	require.Contains(t, repo.items, int64(42))

	_, result = svc.HandleStatusChange(context.Background(), purchasing.StatusChangeEvent{
		POID:      42,
		NewStatus: purchasing.StatusCancelled,
	})
	require.False(t, result.Success)
	require.Contains(t, result.Error, "audit store unavailable")
}

func TestListServesFromCache(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryQueueRepo()
	repo.items[42] = Item{POID: 42, Number: "PO-2026-0042", PendingQty: 80}
	cache := NewCache(client, time.Minute)
	svc := newTestService(repo, &memoryPOStore{}, &memoryAudit{}, nil, cache)

	first, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, 1, repo.listCalls)
}

func TestCacheInvalidateForcesReload(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryQueueRepo()
	repo.items[42] = Item{POID: 42}
	cache := NewCache(client, time.Minute)
	svc := newTestService(repo, &memoryPOStore{}, &memoryAudit{}, nil, cache)

	_, err := svc.List(context.Background())
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(context.Background()))

	repo.items[43] = Item{POID: 43}
	items, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, 2, repo.listCalls)
}

func TestRefreshReceivingQueueRebuildsView(t *testing.T) {
	repo := newMemoryQueueRepo()
	svc := newTestService(repo, &memoryPOStore{}, &memoryAudit{}, nil, nil)

	require.NoError(t, svc.RefreshReceivingQueue(context.Background()))
	require.Equal(t, 1, repo.rebuilds)
}

func TestRefreshReceivingQueueSkipsWhenLockHeld(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryQueueRepo()
	cache := NewCache(client, time.Minute)
	svc := newTestService(repo, &memoryPOStore{}, &memoryAudit{}, nil, cache)

	acquired, err := cache.TryRebuildLock(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// Another process holds the lock, so this refresh is a no-op.
	require.NoError(t, svc.RefreshReceivingQueue(context.Background()))
	require.Zero(t, repo.rebuilds)

	cache.ReleaseRebuildLock(context.Background())
	require.NoError(t, svc.RefreshReceivingQueue(context.Background()))
	require.Equal(t, 1, repo.rebuilds)
}
