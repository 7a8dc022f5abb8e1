package purchasing

import (
	"context"
	"errors"
	"time"

	"github.com/zazakia/fbmsbackup3-sub010/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]PurchaseOrder, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	UpdateStatus(ctx context.Context, poID int64, from, to Status) error
	SetApproval(ctx context.Context, poID int64, approvedBy int64, approvedAt time.Time) error
}

// QueueRefresher rebuilds the receiving queue view once after a batch of
// lifecycle changes.
type QueueRefresher interface {
	RefreshReceivingQueue(ctx context.Context) error
}

// ListFilter narrows purchase order listings.
type ListFilter struct {
	Status     Status
	SupplierID int64
	Search     string
	Limit      int
	Offset     int
}

// Service orchestrates the purchase order lifecycle.
type Service struct {
	repo        RepositoryPort
	audit       shared.AuditPort
	integration IntegrationHandler
	refresher   QueueRefresher
}

// NewService constructs the purchasing service.
func NewService(repo RepositoryPort, audit shared.AuditPort, integration IntegrationHandler, refresher QueueRefresher) *Service {
	return &Service{repo: repo, audit: audit, integration: integration, refresher: refresher}
}

// Get loads one purchase order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

// List returns purchase orders plus the total across all pages.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = shared.DefaultPerPage
	}
	return s.repo.ListPOs(ctx, filter)
}

// Submit moves a draft order into the approval flow.
func (s *Service) Submit(ctx context.Context, poID int64, actor shared.Actor) error {
	if actor.ID == 0 {
		return ErrAuthenticationRequired
	}
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return err
	}
	if po.Status != StatusDraft {
		return ErrInvalidState
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, poID, StatusDraft, StatusPendingApproval)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, po, "po_submitted", actor, "")
	s.notifyStatusChange(ctx, po, StatusDraft, StatusPendingApproval, actor, "submitted for approval")
	return nil
}

// Approve marks the order approved after permission and limit checks. The
// receiving queue integration runs as a side effect and can never unwind
// the committed approval.
func (s *Service) Approve(ctx context.Context, poID int64, actor shared.Actor, reason string) error {
	if actor.ID == 0 {
		return ErrAuthenticationRequired
	}
	if !actor.CanApprove() {
		return ErrInsufficientPermissions
	}
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return err
	}
	switch po.Status {
	case StatusPendingApproval:
	case StatusApproved, StatusSentToSupplier, StatusPartiallyReceived, StatusFullyReceived:
		return ErrAlreadyApproved
	default:
		return ErrInvalidState
	}
	if actor.ApprovalLimit > 0 && po.Total > actor.ApprovalLimit {
		return ErrApprovalLimitExceeded
	}

	now := time.Now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, poID, StatusPendingApproval, StatusApproved); err != nil {
			return err
		}
		return tx.SetApproval(ctx, poID, actor.ID, now)
	})
	if err != nil {
		return err
	}

	s.recordAudit(ctx, po, "po_approved", actor, reason)
	if s.integration != nil {
		_ = s.integration.HandleApproval(ctx, ApprovalEvent{
			POID:    poID,
			Number:  po.Number,
			Context: eventContext(actor, reason, now),
		})
	}
	return nil
}

// MarkSent records dispatch of the order to the supplier.
func (s *Service) MarkSent(ctx context.Context, poID int64, actor shared.Actor) error {
	if actor.ID == 0 {
		return ErrAuthenticationRequired
	}
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return err
	}
	if po.Status != StatusApproved {
		return ErrInvalidState
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, poID, StatusApproved, StatusSentToSupplier)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, po, "po_sent", actor, "")
	s.notifyStatusChange(ctx, po, StatusApproved, StatusSentToSupplier, actor, "sent to supplier")
	return nil
}

// Cancel voids an order that has not received goods yet.
func (s *Service) Cancel(ctx context.Context, poID int64, actor shared.Actor, reason string) error {
	if actor.ID == 0 {
		return ErrAuthenticationRequired
	}
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return err
	}
	if po.Status.Terminal() {
		return ErrInvalidState
	}
	if po.TotalReceived() > 0 {
		return ErrCannotCancelReceived
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, poID, po.Status, StatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, po, "po_cancelled", actor, reason)
	if s.integration != nil {
		_ = s.integration.HandleCancellation(ctx, CancellationEvent{
			POID:    poID,
			Number:  po.Number,
			Context: eventContext(actor, reason, time.Now()),
		})
	}
	return nil
}

// BulkApproveResult reports one order's outcome inside a batch approval.
type BulkApproveResult struct {
	POID  int64  `json:"po_id"`
	Error string `json:"error,omitempty"`
}

// BulkApprove approves many orders sequentially. Individual failures are
// collected, not all-or-nothing, and the queue view is refreshed once at
// the end.
func (s *Service) BulkApprove(ctx context.Context, poIDs []int64, actor shared.Actor, reason string) []BulkApproveResult {
	results := make([]BulkApproveResult, 0, len(poIDs))
	for _, id := range poIDs {
		result := BulkApproveResult{POID: id}
		if err := s.Approve(ctx, id, actor, reason); err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	if s.refresher != nil {
		_ = s.refresher.RefreshReceivingQueue(ctx)
	}
	return results
}

// ListOverdue computes overdue alerts from receivable orders past their
// expected date. Derived view only; nothing is persisted.
func (s *Service) ListOverdue(ctx context.Context, asOf time.Time) ([]OverdueAlert, error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	orders, err := s.repo.ListOverdue(ctx, asOf)
	if err != nil {
		return nil, err
	}
	alerts := make([]OverdueAlert, 0, len(orders))
	for _, po := range orders {
		if !po.Status.Receivable() {
			continue
		}
		days := int(asOf.Sub(po.ExpectedDate).Hours() / 24)
		if days <= 0 {
			continue
		}
		pendingQty := po.TotalPending()
		var pendingValue float64
		for _, item := range po.Items {
			remaining := item.OrderedQty - item.ReceivedQty
			if remaining > 0 {
				pendingValue += remaining * item.UnitCost
			}
		}
		alerts = append(alerts, OverdueAlert{
			POID:         po.ID,
			Number:       po.Number,
			SupplierID:   po.SupplierID,
			SupplierName: po.SupplierName,
			Status:       po.Status,
			ExpectedDate: po.ExpectedDate,
			DaysOverdue:  days,
			PendingQty:   pendingQty,
			PendingValue: shared.FormatPeso(pendingValue),
		})
	}
	return alerts, nil
}

func (s *Service) notifyStatusChange(ctx context.Context, po PurchaseOrder, from, to Status, actor shared.Actor, reason string) {
	if s.integration == nil {
		return
	}
	_ = s.integration.HandleStatusChange(ctx, StatusChangeEvent{
		POID:      po.ID,
		Number:    po.Number,
		OldStatus: from,
		NewStatus: to,
		Context:   eventContext(actor, reason, time.Now()),
	})
}

func (s *Service) recordAudit(ctx context.Context, po PurchaseOrder, action string, actor shared.Actor, reason string) {
	if s.audit == nil {
		return
	}
	_, _ = s.audit.LogPurchaseOrderAction(ctx, shared.AuditEntry{
		POID:      po.ID,
		PONumber:  po.Number,
		Action:    action,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Reason:    reason,
		Meta:      map[string]any{"total": po.Total, "supplier_id": po.SupplierID},
	})
}

func eventContext(actor shared.Actor, reason string, at time.Time) EventContext {
	return EventContext{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		ActorRole: actor.Role,
		Reason:    reason,
		At:        at,
	}
}

// IsPermissionError reports whether err must never be auto-retried.
func IsPermissionError(err error) bool {
	return errors.Is(err, ErrInsufficientPermissions) ||
		errors.Is(err, ErrApprovalLimitExceeded) ||
		errors.Is(err, ErrAuthenticationRequired)
}
