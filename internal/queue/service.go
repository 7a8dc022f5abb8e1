// Package queue maintains the receivable purchase order queue view. It
// reacts to purchasing lifecycle events, keeps the cached view fresh and
// audit-logs every mutation. Integration failures are reported, never
// propagated: a broken queue refresh must not block the approval or receipt
// that triggered it.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zazakia/fbmsbackup3-sub010/internal/observability"
	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
	"github.com/zazakia/fbmsbackup3-sub010/internal/shared"
)

// Item is one receivable order in the queue view.
type Item struct {
	POID         int64             `json:"po_id"`
	Number       string            `json:"number"`
	SupplierID   int64             `json:"supplier_id"`
	SupplierName string            `json:"supplier_name"`
	Status       purchasing.Status `json:"status"`
	ExpectedDate time.Time         `json:"expected_date"`
	PendingQty   float64           `json:"pending_qty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Mutation reports which orders an event added, refreshed or removed.
type Mutation struct {
	Added         []int64 `json:"added"`
	Updated       []int64 `json:"updated"`
	Removed       []int64 `json:"removed"`
	TotalAffected int     `json:"total_affected"`
}

// IntegrationResult reports the side-effect outcome of one event.
type IntegrationResult struct {
	Success               bool   `json:"success"`
	ReceivingQueueUpdated bool   `json:"receiving_queue_updated"`
	NotificationsSent     int    `json:"notifications_sent"`
	AuditLogID            int64  `json:"audit_log_id,omitempty"`
	Error                 string `json:"error,omitempty"`
}

// RepositoryPort describes queue view persistence.
type RepositoryPort interface {
	Contains(ctx context.Context, poID int64) (bool, error)
	Upsert(ctx context.Context, item Item) error
	Remove(ctx context.Context, poID int64) error
	List(ctx context.Context) ([]Item, error)
	// Rebuild resynchronises the whole view from purchase_orders.
	Rebuild(ctx context.Context) error
}

// POPort loads purchase orders; implemented by purchasing.Repository.
type POPort interface {
	GetPO(ctx context.Context, id int64) (purchasing.PurchaseOrder, error)
}

// Notifier is the fire-and-count notification collaborator. The service
// reports how many notifications it caused, not their content or delivery.
type Notifier interface {
	NotifyReceivingQueue(ctx context.Context, poID int64, message string) error
}

// Service handles purchasing lifecycle events for the queue view.
type Service struct {
	repo     RepositoryPort
	pos      POPort
	audit    shared.AuditPort
	notifier Notifier
	cache    *Cache
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewService constructs the queue integration service.
func NewService(repo RepositoryPort, pos POPort, audit shared.AuditPort, notifier Notifier, cache *Cache, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pos: pos, audit: audit, notifier: notifier, cache: cache, metrics: metrics, logger: logger}
}

// HandleApproval adds the approved order to the queue, or refreshes it when
// already present. Always audit-logged, always one notification.
func (s *Service) HandleApproval(ctx context.Context, evt purchasing.ApprovalEvent) (Mutation, IntegrationResult) {
	var mutation Mutation
	present, err := s.repo.Contains(ctx, evt.POID)
	if err != nil {
		return mutation, s.failed("approval", evt.POID, evt.Context, err)
	}
	if err := s.upsertFromOrder(ctx, evt.POID); err != nil {
		return mutation, s.failed("approval", evt.POID, evt.Context, err)
	}
	if present {
		mutation.Updated = append(mutation.Updated, evt.POID)
	} else {
		mutation.Added = append(mutation.Added, evt.POID)
	}
	mutation.TotalAffected = 1
	s.invalidate(ctx)
	s.observeMutation("approval", mutation)

	result := s.finish(ctx, "approval", evt.POID, evt.Number, evt.Context, mutation, true)
	result.NotificationsSent = s.notify(ctx, evt.POID, fmt.Sprintf("purchase order %s ready for receiving", evt.Number))
	return mutation, result
}

// HandleStatusChange adds orders entering a receivable status and removes
// orders leaving it. Anything else succeeds without touching the queue.
func (s *Service) HandleStatusChange(ctx context.Context, evt purchasing.StatusChangeEvent) (Mutation, IntegrationResult) {
	var mutation Mutation
	present, err := s.repo.Contains(ctx, evt.POID)
	if err != nil {
		return mutation, s.failed("status_change", evt.POID, evt.Context, err)
	}

	updated := false
	switch {
	case evt.NewStatus.Receivable() && !present:
		if err := s.upsertFromOrder(ctx, evt.POID); err != nil {
			return mutation, s.failed("status_change", evt.POID, evt.Context, err)
		}
		mutation.Added = append(mutation.Added, evt.POID)
		mutation.TotalAffected = 1
		updated = true
	case !evt.NewStatus.Receivable() && present:
		if err := s.repo.Remove(ctx, evt.POID); err != nil {
			return mutation, s.failed("status_change", evt.POID, evt.Context, err)
		}
		mutation.Removed = append(mutation.Removed, evt.POID)
		mutation.TotalAffected = 1
		updated = true
	case evt.NewStatus.Receivable() && present:
		// Still receivable: refresh pending quantities in place.
		if err := s.upsertFromOrder(ctx, evt.POID); err != nil {
			return mutation, s.failed("status_change", evt.POID, evt.Context, err)
		}
		mutation.Updated = append(mutation.Updated, evt.POID)
		mutation.TotalAffected = 1
		updated = true
	}
	if updated {
		s.invalidate(ctx)
		s.observeMutation("status_change", mutation)
	}

	return mutation, s.finish(ctx, "status_change", evt.POID, evt.Number, evt.Context, mutation, updated)
}

// HandleCancellation removes the order from the queue when present.
func (s *Service) HandleCancellation(ctx context.Context, evt purchasing.CancellationEvent) (Mutation, IntegrationResult) {
	var mutation Mutation
	present, err := s.repo.Contains(ctx, evt.POID)
	if err != nil {
		return mutation, s.failed("cancellation", evt.POID, evt.Context, err)
	}
	if present {
		if err := s.repo.Remove(ctx, evt.POID); err != nil {
			return mutation, s.failed("cancellation", evt.POID, evt.Context, err)
		}
		mutation.Removed = append(mutation.Removed, evt.POID)
		mutation.TotalAffected = 1
		s.invalidate(ctx)
		s.observeMutation("cancellation", mutation)
	}

	return mutation, s.finish(ctx, "cancellation", evt.POID, evt.Number, evt.Context, mutation, present)
}

// List returns the queue view, served from cache when possible.
func (s *Service) List(ctx context.Context) ([]Item, error) {
	if s.cache != nil {
		return s.cache.Items(ctx, s.repo.List)
	}
	return s.repo.List(ctx)
}

// rebuildLockTTL caps how long a crashed rebuild can block the next one.
const rebuildLockTTL = 30 * time.Second

// RefreshReceivingQueue resynchronises the view from purchase_orders and
// invalidates the cache. Used after bulk approvals and by the background
// refresh job. A distributed lock collapses overlapping rebuilds across
// the api and worker processes.
func (s *Service) RefreshReceivingQueue(ctx context.Context) error {
	acquired, err := s.cache.TryRebuildLock(ctx, rebuildLockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		s.logger.Info("receiving queue rebuild already in progress, skipping")
		return nil
	}
	defer s.cache.ReleaseRebuildLock(ctx)

	if err := s.repo.Rebuild(ctx); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) upsertFromOrder(ctx context.Context, poID int64) error {
	po, err := s.pos.GetPO(ctx, poID)
	if err != nil {
		return err
	}
	return s.repo.Upsert(ctx, Item{
		POID:         po.ID,
		Number:       po.Number,
		SupplierID:   po.SupplierID,
		SupplierName: po.SupplierName,
		Status:       po.Status,
		ExpectedDate: po.ExpectedDate,
		PendingQty:   po.TotalPending(),
		UpdatedAt:    time.Now(),
	})
}

func (s *Service) observeMutation(kind string, mutation Mutation) {
	if mutation.TotalAffected > 0 {
		s.metrics.ObserveQueueMutation(kind)
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("queue cache invalidate", slog.Any("error", err))
		}
	}
}

func (s *Service) notify(ctx context.Context, poID int64, message string) int {
	if s.notifier == nil {
		return 0
	}
	if err := s.notifier.NotifyReceivingQueue(ctx, poID, message); err != nil {
		s.logger.Warn("queue notification", slog.Int64("po_id", poID), slog.Any("error", err))
		return 0
	}
	return 1
}

// finish builds the IntegrationResult for a handled event. The queue
// mutation has already been applied at this point; a failed audit write
// keeps it but downgrades the result so callers see the event was not
// fully recorded.
func (s *Service) finish(ctx context.Context, kind string, poID int64, number string, evtCtx purchasing.EventContext, mutation Mutation, updated bool) IntegrationResult {
	result := IntegrationResult{Success: true, ReceivingQueueUpdated: updated}
	id, err := s.auditEvent(ctx, kind, poID, number, evtCtx, mutation)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		return result
	}
	result.AuditLogID = id
	return result
}

func (s *Service) auditEvent(ctx context.Context, kind string, poID int64, number string, evtCtx purchasing.EventContext, mutation Mutation) (int64, error) {
	if s.audit == nil {
		return 0, nil
	}
	id, err := s.audit.LogPurchaseOrderAction(ctx, shared.AuditEntry{
		POID:      poID,
		PONumber:  number,
		Action:    "receiving_integration",
		ActorID:   evtCtx.ActorID,
		ActorName: evtCtx.ActorName,
		Reason:    evtCtx.Reason,
		At:        evtCtx.At,
		Meta: map[string]any{
			"integration_event_id": uuid.NewString(),
			"event_kind":           kind,
			"actor_role":           evtCtx.ActorRole,
			"added":                mutation.Added,
			"updated":              mutation.Updated,
			"removed":              mutation.Removed,
		},
	})
	if err != nil {
		s.logger.Warn("queue audit write", slog.Int64("po_id", poID), slog.Any("error", err))
		return 0, err
	}
	return id, nil
}

func (s *Service) failed(kind string, poID int64, evtCtx purchasing.EventContext, err error) IntegrationResult {
	s.logger.Error("receiving queue integration",
		slog.String("event", kind),
		slog.Int64("po_id", poID),
		slog.Any("error", err))
	return IntegrationResult{Success: false, Error: err.Error()}
}

// Adapter exposes the service as a purchasing.IntegrationHandler. It never
// returns an error: failures in queue refresh or audit writes are already
// caught, logged and reported inside the service, and must not unwind the
// committed business operation.
type Adapter struct {
	service *Service
}

// NewAdapter wraps the service for purchasing event wiring.
func NewAdapter(service *Service) *Adapter {
	return &Adapter{service: service}
}

func (a *Adapter) HandleApproval(ctx context.Context, evt purchasing.ApprovalEvent) error {
	a.service.HandleApproval(ctx, evt)
	return nil
}

func (a *Adapter) HandleStatusChange(ctx context.Context, evt purchasing.StatusChangeEvent) error {
	a.service.HandleStatusChange(ctx, evt)
	return nil
}

func (a *Adapter) HandleCancellation(ctx context.Context, evt purchasing.CancellationEvent) error {
	a.service.HandleCancellation(ctx, evt)
	return nil
}

// LogNotifier is the default notification sink: it only records that a
// notification would have been sent. Delivery belongs to an external
// collaborator.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) NotifyReceivingQueue(ctx context.Context, poID int64, message string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("receiving queue notification", slog.Int64("po_id", poID), slog.String("message", message))
	return nil
}
