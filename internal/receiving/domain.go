// Package receiving implements the purchase order receiving pipeline:
// receipt validation, inventory adjustment calculation, price variance
// detection, weighted-average cost updates and the receiving record itself.
package receiving

import (
	"errors"
	"time"

	"github.com/zazakia/fbmsbackup3-sub010/internal/costing"
	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
)

// Condition describes the physical state of received goods.
type Condition string

const (
	ConditionGood    Condition = "good"
	ConditionDamaged Condition = "damaged"
	ConditionExpired Condition = "expired"
)

// Valid reports whether the condition code is part of the fixed set.
func (c Condition) Valid() bool {
	switch c {
	case ConditionGood, ConditionDamaged, ConditionExpired:
		return true
	}
	return false
}

// ReceiptItem is the transient per-event input: how much of one product
// arrived in this receipt, at what actual cost. It is consumed during
// validation and processing, never persisted as-is.
type ReceiptItem struct {
	ProductID          int64      `json:"product_id" validate:"required"`
	OrderedQty         float64    `json:"ordered_qty"`
	ReceivedQty        float64    `json:"received_qty" validate:"required"`
	PreviouslyReceived float64    `json:"previously_received"`
	UnitCost           float64    `json:"unit_cost"`
	Condition          Condition  `json:"condition"`
	BatchNumber        string     `json:"batch_number,omitempty"`
	ExpiryDate         *time.Time `json:"expiry_date,omitempty"`
}

// IssueCode identifies one violated rule. The codes double as the error
// classification vocabulary consumed by the recovery package.
type IssueCode string

const (
	IssueRequiredFieldMissing    IssueCode = "REQUIRED_FIELD_MISSING"
	IssueProductNotInOrder       IssueCode = "PRODUCT_NOT_IN_ORDER"
	IssueInvalidReceivedQuantity IssueCode = "INVALID_RECEIVED_QUANTITY"
	IssueNegativeCost            IssueCode = "NEGATIVE_COST"
	IssueOverReceiving           IssueCode = "OVER_RECEIVING"
	IssueCostVarianceHigh        IssueCode = "COST_VARIANCE_HIGH"
	IssueInvalidFormat           IssueCode = "INVALID_FORMAT"
	IssueInvalidStatusTransition IssueCode = "INVALID_STATUS_TRANSITION"
)

// Issue is one violated rule with optional remediation suggestions. Every
// consumer can switch over Code exhaustively; there are no loosely shaped
// validation payloads.
type Issue struct {
	Code        IssueCode `json:"code"`
	Message     string    `json:"message"`
	ProductID   int64     `json:"product_id,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
}

// ValidationResult aggregates every violated rule across all items. Rules
// are collected, never short-circuited, so one call surfaces every problem.
type ValidationResult struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// ValidatorOptions toggles receipt validation behaviour per deployment.
type ValidatorOptions struct {
	AllowOverReceiving   bool
	TolerancePct         float64
	RequireBatchTracking bool
	RequireExpiryDates   bool
	// CostVarianceWarnPct is the non-blocking warning threshold. It is
	// intentionally independent from the variance detector's reporting
	// threshold; the two serve different purposes.
	CostVarianceWarnPct float64
}

// DefaultValidatorOptions mirrors the strictest useful defaults.
func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{CostVarianceWarnPct: 10}
}

// MovementPurchaseReceipt is the fixed movement type of receipt adjustments.
const MovementPurchaseReceipt = "purchase_receipt"

// InventoryAdjustment is one append-only stock movement produced by a
// receiving event.
type InventoryAdjustment struct {
	ID          int64      `json:"id,omitempty"`
	ProductID   int64      `json:"product_id"`
	QtyChange   float64    `json:"qty_change"`
	UnitCost    float64    `json:"unit_cost"`
	TotalCost   float64    `json:"total_cost"`
	Movement    string     `json:"movement"`
	BatchNumber string     `json:"batch_number,omitempty"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
}

// PriceVarianceRecord is persisted when the ordered/actual cost gap exceeds
// the reporting threshold.
type PriceVarianceRecord struct {
	ID            int64   `json:"id,omitempty"`
	POID          int64   `json:"po_id"`
	ProductID     int64   `json:"product_id"`
	ExpectedCost  float64 `json:"expected_cost"`
	ActualCost    float64 `json:"actual_cost"`
	VariancePct   float64 `json:"variance_pct"`
	TotalVariance float64 `json:"total_variance"`
	ReceivedQty   float64 `json:"received_qty"`
}

// ValueAdjustmentType distinguishes inventory value increases from decreases.
type ValueAdjustmentType string

const (
	ValueAdjustmentIncrease ValueAdjustmentType = "increase"
	ValueAdjustmentDecrease ValueAdjustmentType = "decrease"
)

// ValueAdjustment names the ledger accounts affected by a cost update. It is
// metadata for the external ledger collaborator, not posted here.
type ValueAdjustment struct {
	ProductID     int64               `json:"product_id"`
	Type          ValueAdjustmentType `json:"type"`
	Amount        float64             `json:"amount"`
	DebitAccount  string              `json:"debit_account"`
	CreditAccount string              `json:"credit_account"`
}

// CostTransactionStatus tracks the outcome of a cost update batch.
type CostTransactionStatus string

const (
	CostTransactionCompleted CostTransactionStatus = "completed"
	CostTransactionFailed    CostTransactionStatus = "failed"
)

// CostUpdateTransaction wraps one batch of cost updates for a purchase order.
type CostUpdateTransaction struct {
	ID          int64                 `json:"id,omitempty"`
	POID        int64                 `json:"po_id"`
	PerformedBy int64                 `json:"performed_by"`
	Status      CostTransactionStatus `json:"status"`
	Error       string                `json:"error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

// CostUpdateOutcome is the result of the cost update orchestrator.
type CostUpdateOutcome struct {
	CostResults      []costing.Result      `json:"cost_results"`
	PriceVariances   []PriceVarianceRecord `json:"price_variances"`
	ValueAdjustments []ValueAdjustment     `json:"value_adjustments"`
	Transaction      CostUpdateTransaction `json:"transaction"`
}

// ReceivingRecord captures one receiving event. Records are immutable after
// creation; corrections are new events, not edits.
type ReceivingRecord struct {
	ID              int64                 `json:"id,omitempty"`
	POID            int64                 `json:"po_id"`
	PONumber        string                `json:"po_number"`
	ReceivedBy      int64                 `json:"received_by"`
	ReceivedByName  string                `json:"received_by_name"`
	ReceivedAt      time.Time             `json:"received_at"`
	Notes           string                `json:"notes,omitempty"`
	ResultingStatus purchasing.Status     `json:"resulting_status"`
	Adjustments     []InventoryAdjustment `json:"adjustments"`
	CostResults     []costing.Result      `json:"cost_results"`
}

// ReceiptProcessingResult is returned by Service.ProcessReceipt.
type ReceiptProcessingResult struct {
	Validation ValidationResult  `json:"validation"`
	Record     ReceivingRecord   `json:"record"`
	Outcome    CostUpdateOutcome `json:"outcome"`
	NewStatus  purchasing.Status `json:"new_status"`
}

var (
	// ErrValidationFailed indicates the receipt violated at least one rule;
	// the full issue list travels in the ReceiptProcessingResult.
	ErrValidationFailed = errors.New("receiving: receipt validation failed")
	// ErrDuplicateReceipt indicates the same submission was already applied
	// within the duplicate window.
	ErrDuplicateReceipt = errors.New("receiving: duplicate receipt detected")
	// ErrCostUpdateFailed indicates the cost update batch did not commit.
	ErrCostUpdateFailed = errors.New("receiving: cost update failed")
	// ErrProductNotFound indicates a missing product row during cost lookup.
	ErrProductNotFound = errors.New("receiving: product not found")
	// ErrNotReceivable indicates the order status does not accept receipts.
	ErrNotReceivable = errors.New("receiving: purchase order not in receivable status")
)
