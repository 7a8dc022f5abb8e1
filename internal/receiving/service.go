package receiving

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
	"github.com/zazakia/fbmsbackup3-sub010/internal/shared"
)

// RepositoryPort describes repository operations used by Service and
// Orchestrator.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (purchasing.PurchaseOrder, error)
	RecordFailedCostTransaction(ctx context.Context, tx CostUpdateTransaction) error
	ListRecords(ctx context.Context, poID int64, limit int) ([]ReceivingRecord, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetProductCostForUpdate(ctx context.Context, productID int64) (stock, cost float64, err error)
	UpdateProductCosts(ctx context.Context, updates []ProductCostUpdate) error
	InsertPriceVariances(ctx context.Context, records []PriceVarianceRecord) error
	InsertValueAdjustments(ctx context.Context, poID int64, adjustments []ValueAdjustment) error
	InsertCostTransaction(ctx context.Context, tx CostUpdateTransaction) (int64, error)
	// SetItemReceivedQty advances the cumulative received quantity from its
	// expected prior value; shared.ErrConcurrentModification surfaces when
	// another receipt moved it first, so the lost update rolls back instead
	// of silently winning.
	SetItemReceivedQty(ctx context.Context, poID, productID int64, from, to float64) error
	// UpdatePOStatus transitions the order only when it is still in the
	// expected status; otherwise shared.ErrConcurrentModification surfaces
	// so the caller re-fetches and retries instead of replaying stale state.
	UpdatePOStatus(ctx context.Context, poID int64, from, to purchasing.Status) error
	InsertReceivingRecord(ctx context.Context, record ReceivingRecord) (int64, error)
}

// DuplicateGuard rejects resubmission of an already processed receipt.
// Implemented by shared.IdempotencyStore.
type DuplicateGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ServiceConfig groups receiving tunables.
type ServiceConfig struct {
	Validator ValidatorOptions
	// VarianceReportPct is the price variance reporting threshold.
	VarianceReportPct float64
}

// Service orchestrates the full receiving flow for a purchase order.
type Service struct {
	repo         RepositoryPort
	orchestrator *Orchestrator
	guard        DuplicateGuard
	audit        shared.AuditPort
	integration  purchasing.IntegrationHandler
	opts         ValidatorOptions
}

// NewService constructs the receiving service.
func NewService(repo RepositoryPort, guard DuplicateGuard, audit shared.AuditPort, integration purchasing.IntegrationHandler, cfg ServiceConfig) *Service {
	opts := cfg.Validator
	if opts.CostVarianceWarnPct <= 0 {
		opts.CostVarianceWarnPct = DefaultValidatorOptions().CostVarianceWarnPct
	}
	return &Service{
		repo:         repo,
		orchestrator: NewOrchestrator(cfg.VarianceReportPct),
		guard:        guard,
		audit:        audit,
		integration:  integration,
		opts:         opts,
	}
}

// ProcessReceipt records a receiving event against a purchase order:
// validate, compute adjustments, update costs, advance the order status and
// persist the immutable receiving record. Validation must pass before any
// mutation is attempted; cost updates, item quantities, the status
// transition and the receiving record then commit in a single transaction,
// so a failure anywhere leaves no partial stock or cost mutation behind.
// A duplicate guard prevents double-applying the same submission.
func (s *Service) ProcessReceipt(ctx context.Context, poID int64, items []ReceiptItem, actor shared.Actor, notes string) (ReceiptProcessingResult, error) {
	var result ReceiptProcessingResult

	if actor.ID == 0 {
		return result, purchasing.ErrAuthenticationRequired
	}
	if !actor.CanReceive() {
		return result, purchasing.ErrInsufficientPermissions
	}

	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		if errors.Is(err, purchasing.ErrNotFound) {
			return result, fmt.Errorf("purchase order %d: %w", poID, purchasing.ErrNotFound)
		}
		return result, err
	}

	result.Validation = ValidateReceipt(po, items, s.opts)
	if !result.Validation.Valid {
		return result, ErrValidationFailed
	}

	adjustments := ComputeAdjustments(items)

	key := receiptFingerprint(poID, items)
	guardHeld := false
	if s.guard != nil {
		if err := s.guard.CheckAndInsert(ctx, key, "receiving"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return result, ErrDuplicateReceipt
			}
			return result, err
		}
		guardHeld = true
	}
	release := func() {
		if guardHeld && s.guard != nil {
			_ = s.guard.Delete(ctx, key)
		}
	}

	received := make(map[int64]float64, len(items))
	for _, item := range items {
		if item.ReceivedQty > 0 {
			received[item.ProductID] += item.ReceivedQty
		}
	}
	prior := make(map[int64]float64, len(received))
	for i := range po.Items {
		delta, ok := received[po.Items[i].ProductID]
		if !ok {
			continue
		}
		prior[po.Items[i].ProductID] = po.Items[i].ReceivedQty
		po.Items[i].ReceivedQty += delta
	}

	oldStatus := po.Status
	newStatus := oldStatus
	switch {
	case po.IsFullyReceived():
		newStatus = purchasing.StatusFullyReceived
	case po.IsPartiallyReceived():
		newStatus = purchasing.StatusPartiallyReceived
	}
	if newStatus != oldStatus && !purchasing.CanTransition(oldStatus, newStatus) {
		release()
		return result, purchasing.ErrInvalidState
	}

	record := ReceivingRecord{
		POID:            poID,
		PONumber:        po.Number,
		ReceivedBy:      actor.ID,
		ReceivedByName:  actor.Name,
		ReceivedAt:      time.Now(),
		Notes:           notes,
		ResultingStatus: newStatus,
		Adjustments:     adjustments,
	}

	var outcome CostUpdateOutcome
	var costErr error
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		outcome, costErr = s.orchestrator.ProcessPurchaseOrderCostUpdates(ctx, tx, poID, po.Items, items, actor.ID)
		if costErr != nil {
			return costErr
		}
		record.CostResults = outcome.CostResults
		for _, line := range po.Items {
			if _, ok := received[line.ProductID]; !ok {
				continue
			}
			if err := tx.SetItemReceivedQty(ctx, poID, line.ProductID, prior[line.ProductID], line.ReceivedQty); err != nil {
				return err
			}
		}
		if newStatus != oldStatus {
			if err := tx.UpdatePOStatus(ctx, poID, oldStatus, newStatus); err != nil {
				return err
			}
		}
		id, err := tx.InsertReceivingRecord(ctx, record)
		if err != nil {
			return err
		}
		record.ID = id
		return nil
	})
	if err != nil {
		// Nothing committed, so releasing the guard lets the client retry
		// the identical submission.
		release()
		if costErr != nil {
			outcome.Transaction.Status = CostTransactionFailed
			outcome.Transaction.Error = costErr.Error()
			// Best effort: the failed marker lives outside the aborted tx.
			_ = s.repo.RecordFailedCostTransaction(ctx, outcome.Transaction)
			return result, fmt.Errorf("%w: %w", ErrCostUpdateFailed, costErr)
		}
		return result, err
	}
	result.Outcome = outcome
	result.Record = record
	result.NewStatus = newStatus

	if s.audit != nil {
		_, _ = s.audit.LogPurchaseOrderAction(ctx, shared.AuditEntry{
			POID:      poID,
			PONumber:  po.Number,
			Action:    "po_receipt_posted",
			ActorID:   actor.ID,
			ActorName: actor.Name,
			Reason:    notes,
			Meta: map[string]any{
				"resulting_status": string(newStatus),
				"items_received":   len(adjustments),
				"total_value":      shared.FormatPeso(totalCost(adjustments)),
			},
		})
	}

	if s.integration != nil && newStatus != oldStatus {
		// Integration failures never unwind the committed receipt; the
		// handler logs and reports on its own side of the boundary.
		_ = s.integration.HandleStatusChange(ctx, purchasing.StatusChangeEvent{
			POID:      poID,
			Number:    po.Number,
			OldStatus: oldStatus,
			NewStatus: newStatus,
			Context: purchasing.EventContext{
				ActorID:   actor.ID,
				ActorName: actor.Name,
				ActorRole: actor.Role,
				Reason:    "goods receipt posted",
				At:        record.ReceivedAt,
			},
		})
	}

	return result, nil
}

// Readiness loads the order and runs the advisory readiness check.
func (s *Service) Readiness(ctx context.Context, poID int64) (ValidationResult, error) {
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return ValidationResult{}, err
	}
	return ValidateReceivingReadiness(po), nil
}

// History lists receiving records for an order, newest first.
func (s *Service) History(ctx context.Context, poID int64, limit int) ([]ReceivingRecord, error) {
	return s.repo.ListRecords(ctx, poID, limit)
}

// receiptFingerprint derives a deterministic key from the submission so the
// identical receipt resubmitted within the idempotency retention window is
// rejected instead of double-applied.
func receiptFingerprint(poID int64, items []ReceiptItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%d:%.4f:%.4f", item.ProductID, item.ReceivedQty, item.UnitCost))
	}
	sort.Strings(parts)
	seed := fmt.Sprintf("PO:%d|%s", poID, strings.Join(parts, "|"))
	return "RECEIPT:" + uuid.NewSHA1(uuid.Nil, []byte(seed)).String()
}

func totalCost(adjustments []InventoryAdjustment) float64 {
	var total float64
	for _, adj := range adjustments {
		total += adj.TotalCost
	}
	return total
}
