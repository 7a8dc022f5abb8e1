// Package purchasing owns the purchase order lifecycle: approval, dispatch,
// cancellation and the receivable-status state machine consumed by receiving.
package purchasing

import (
	"errors"
	"fmt"
	"time"
)

// Status is the canonical purchase order lifecycle status. Legacy rows that
// still carry the old status/enhanced_status pair are collapsed into this
// enum at the persistence boundary, never inside business logic.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPendingApproval   Status = "pending_approval"
	StatusApproved          Status = "approved"
	StatusSentToSupplier    Status = "sent_to_supplier"
	StatusPartiallyReceived Status = "partially_received"
	StatusFullyReceived     Status = "fully_received"
	StatusCancelled         Status = "cancelled"
	StatusClosed            Status = "closed"
)

// Receivable reports whether a receipt may still be recorded against the PO.
func (s Status) Receivable() bool {
	switch s {
	case StatusApproved, StatusSentToSupplier, StatusPartiallyReceived:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusFullyReceived, StatusCancelled, StatusClosed:
		return true
	}
	return false
}

// Valid reports whether s is a member of the canonical enum.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusSentToSupplier,
		StatusPartiallyReceived, StatusFullyReceived, StatusCancelled, StatusClosed:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusDraft:             {StatusPendingApproval, StatusCancelled},
	StatusPendingApproval:   {StatusApproved, StatusCancelled},
	StatusApproved:          {StatusSentToSupplier, StatusPartiallyReceived, StatusFullyReceived, StatusCancelled},
	StatusSentToSupplier:    {StatusPartiallyReceived, StatusFullyReceived, StatusCancelled},
	StatusPartiallyReceived: {StatusPartiallyReceived, StatusFullyReceived, StatusCancelled},
	StatusFullyReceived:     {StatusClosed},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Cancelled orders that already received goods are rejected at
// the service layer, not here.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusFromLegacy collapses the historical status/enhanced_status pair into
// the canonical enum. The enhanced column wins when populated and valid;
// otherwise the legacy shorthand is mapped.
func StatusFromLegacy(legacy, enhanced string) (Status, error) {
	if enhanced != "" {
		s := Status(enhanced)
		if s.Valid() {
			return s, nil
		}
		return "", fmt.Errorf("purchasing: unknown enhanced status %q", enhanced)
	}
	switch legacy {
	case "draft", "":
		return StatusDraft, nil
	case "pending":
		return StatusPendingApproval, nil
	case "approved":
		return StatusApproved, nil
	case "sent":
		return StatusSentToSupplier, nil
	case "partial":
		return StatusPartiallyReceived, nil
	case "received":
		return StatusFullyReceived, nil
	case "cancelled":
		return StatusCancelled, nil
	case "closed":
		return StatusClosed, nil
	}
	return "", fmt.Errorf("purchasing: unknown legacy status %q", legacy)
}

// PurchaseOrder domain model. Orders are never deleted, only status
// transitioned.
type PurchaseOrder struct {
	ID           int64
	Number       string
	SupplierID   int64
	SupplierName string
	Status       Status
	Items        []PurchaseOrderItem
	Subtotal     float64
	Tax          float64
	Total        float64
	ExpectedDate time.Time
	ApprovedBy   int64
	ApprovedAt   time.Time
	CreatedBy    int64
	CreatedAt    time.Time
}

// PurchaseOrderItem is one ordered line. ReceivedQty only grows until the
// order reaches a terminal status.
type PurchaseOrderItem struct {
	ID          int64
	POID        int64
	ProductID   int64
	ProductName string
	OrderedQty  float64
	UnitCost    float64
	LineTotal   float64
	ReceivedQty float64
}

// TotalOrdered sums ordered quantities across lines.
func (po PurchaseOrder) TotalOrdered() float64 {
	var total float64
	for _, item := range po.Items {
		total += item.OrderedQty
	}
	return total
}

// TotalReceived sums cumulative received quantities across lines.
func (po PurchaseOrder) TotalReceived() float64 {
	var total float64
	for _, item := range po.Items {
		total += item.ReceivedQty
	}
	return total
}

// TotalPending is the remaining quantity still expected from the supplier.
func (po PurchaseOrder) TotalPending() float64 {
	pending := po.TotalOrdered() - po.TotalReceived()
	if pending < 0 {
		return 0
	}
	return pending
}

// IsFullyReceived reports whether every line is complete.
func (po PurchaseOrder) IsFullyReceived() bool {
	if len(po.Items) == 0 {
		return false
	}
	for _, item := range po.Items {
		if item.ReceivedQty < item.OrderedQty {
			return false
		}
	}
	return true
}

// IsPartiallyReceived reports whether something arrived but the order is not
// yet complete.
func (po PurchaseOrder) IsPartiallyReceived() bool {
	return po.TotalReceived() > 0 && !po.IsFullyReceived()
}

// OverdueAlert is a derived view of an order past its expected date,
// recomputed on each query.
type OverdueAlert struct {
	POID         int64     `json:"po_id"`
	Number       string    `json:"number"`
	SupplierID   int64     `json:"supplier_id"`
	SupplierName string    `json:"supplier_name"`
	Status       Status    `json:"status"`
	ExpectedDate time.Time `json:"expected_date"`
	DaysOverdue  int       `json:"days_overdue"`
	PendingQty   float64   `json:"pending_qty"`
	PendingValue string    `json:"pending_value"`
}

var (
	// ErrNotFound indicates the purchase order does not exist.
	ErrNotFound = errors.New("purchasing: purchase order not found")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("purchasing: invalid status transition")
	// ErrAlreadyApproved occurs when approving an already approved order.
	ErrAlreadyApproved = errors.New("purchasing: order already approved")
	// ErrCannotCancelReceived guards orders that already received goods.
	ErrCannotCancelReceived = errors.New("purchasing: cannot cancel order with received goods")
	// ErrApprovalLimitExceeded occurs when the actor limit is below the order total.
	ErrApprovalLimitExceeded = errors.New("purchasing: approval limit exceeded")
	// ErrInsufficientPermissions occurs when the actor role may not act.
	ErrInsufficientPermissions = errors.New("purchasing: insufficient permissions")
	// ErrAuthenticationRequired occurs when no actor is attached to the call.
	ErrAuthenticationRequired = errors.New("purchasing: authentication required")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("purchasing: invalid input")
)
