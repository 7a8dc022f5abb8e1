package receiving

import (
	"fmt"
	"math"

	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
)

// ValidateReceipt checks proposed receipt items against the purchase order.
// Every violated rule is collected; nothing short-circuits, so the caller can
// present all problems at once. The same input always yields the same result.
func ValidateReceipt(po purchasing.PurchaseOrder, items []ReceiptItem, opts ValidatorOptions) ValidationResult {
	var result ValidationResult

	if !po.Status.Receivable() {
		result.Errors = append(result.Errors, Issue{
			Code:        IssueInvalidStatusTransition,
			Message:     fmt.Sprintf("purchase order %s is %s and cannot accept receipts", po.Number, po.Status),
			Suggestions: []string{"approve the purchase order before receiving"},
		})
	}

	if len(items) == 0 {
		result.Errors = append(result.Errors, Issue{
			Code:    IssueRequiredFieldMissing,
			Message: "receipt must contain at least one item",
		})
	}

	lines := make(map[int64]purchasing.PurchaseOrderItem, len(po.Items))
	for _, line := range po.Items {
		lines[line.ProductID] = line
	}

	warnPct := opts.CostVarianceWarnPct
	if warnPct <= 0 {
		warnPct = DefaultValidatorOptions().CostVarianceWarnPct
	}

	for _, item := range items {
		line, ok := lines[item.ProductID]
		if !ok {
			result.Errors = append(result.Errors, Issue{
				Code:        IssueProductNotInOrder,
				Message:     fmt.Sprintf("product %d is not part of purchase order %s", item.ProductID, po.Number),
				ProductID:   item.ProductID,
				Suggestions: []string{"remove the item or create a separate purchase order"},
			})
			continue
		}

		if item.ReceivedQty <= 0 {
			result.Errors = append(result.Errors, Issue{
				Code:      IssueInvalidReceivedQuantity,
				Message:   fmt.Sprintf("received quantity for product %d must be greater than zero", item.ProductID),
				ProductID: item.ProductID,
			})
		}

		if item.UnitCost < 0 {
			result.Errors = append(result.Errors, Issue{
				Code:      IssueNegativeCost,
				Message:   fmt.Sprintf("unit cost for product %d cannot be negative", item.ProductID),
				ProductID: item.ProductID,
			})
		}

		cumulative := line.ReceivedQty + item.ReceivedQty
		if cumulative > line.OrderedQty {
			allowed := line.OrderedQty * (1 + opts.TolerancePct/100)
			switch {
			case !opts.AllowOverReceiving:
				result.Errors = append(result.Errors, Issue{
					Code:      IssueOverReceiving,
					Message:   fmt.Sprintf("product %d: cumulative received %.2f exceeds ordered %.2f", item.ProductID, cumulative, line.OrderedQty),
					ProductID: item.ProductID,
					Suggestions: []string{
						"reduce the received quantity",
						"contact the supplier about the excess delivery",
					},
				})
			case cumulative > allowed:
				result.Errors = append(result.Errors, Issue{
					Code:      IssueOverReceiving,
					Message:   fmt.Sprintf("product %d: cumulative received %.2f exceeds ordered %.2f beyond the %.1f%% tolerance", item.ProductID, cumulative, line.OrderedQty, opts.TolerancePct),
					ProductID: item.ProductID,
					Suggestions: []string{
						"reduce the received quantity",
						"raise the over-receiving tolerance if this supplier routinely over-ships",
					},
				})
			default:
				result.Warnings = append(result.Warnings, Issue{
					Code:      IssueOverReceiving,
					Message:   fmt.Sprintf("product %d: received %.2f over the ordered %.2f but within tolerance", item.ProductID, cumulative, line.OrderedQty),
					ProductID: item.ProductID,
				})
			}
		}

		if line.UnitCost > 0 {
			variance := math.Abs((item.UnitCost - line.UnitCost) / line.UnitCost * 100)
			if variance > warnPct {
				result.Warnings = append(result.Warnings, Issue{
					Code:        IssueCostVarianceHigh,
					Message:     fmt.Sprintf("product %d: actual cost %.2f deviates %.1f%% from ordered cost %.2f", item.ProductID, item.UnitCost, variance, line.UnitCost),
					ProductID:   item.ProductID,
					Suggestions: []string{"verify the supplier invoice before posting"},
				})
			}
		}

		if opts.RequireBatchTracking && item.BatchNumber == "" {
			result.Errors = append(result.Errors, Issue{
				Code:      IssueRequiredFieldMissing,
				Message:   fmt.Sprintf("product %d: batch number is required", item.ProductID),
				ProductID: item.ProductID,
			})
		}

		if opts.RequireExpiryDates && item.ExpiryDate == nil {
			result.Errors = append(result.Errors, Issue{
				Code:      IssueRequiredFieldMissing,
				Message:   fmt.Sprintf("product %d: expiry date is required", item.ProductID),
				ProductID: item.ProductID,
			})
		}

		if !item.Condition.Valid() {
			result.Errors = append(result.Errors, Issue{
				Code:      IssueInvalidFormat,
				Message:   fmt.Sprintf("product %d: condition %q is not one of good/damaged/expired", item.ProductID, item.Condition),
				ProductID: item.ProductID,
			})
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// ValidateReceivingReadiness is a read-only advisory check usable before
// attempting a receipt. It mirrors the structural rules enforced during an
// actual receipt without touching any state.
func ValidateReceivingReadiness(po purchasing.PurchaseOrder) ValidationResult {
	var result ValidationResult

	if po.SupplierID == 0 {
		result.Errors = append(result.Errors, Issue{
			Code:    IssueRequiredFieldMissing,
			Message: "purchase order has no supplier",
		})
	}
	if len(po.Items) == 0 {
		result.Errors = append(result.Errors, Issue{
			Code:    IssueRequiredFieldMissing,
			Message: "purchase order has no line items",
		})
	}
	if po.Total <= 0 {
		result.Errors = append(result.Errors, Issue{
			Code:    IssueInvalidFormat,
			Message: "purchase order total must be greater than zero",
		})
	}
	if !po.Status.Receivable() {
		result.Errors = append(result.Errors, Issue{
			Code:    IssueInvalidStatusTransition,
			Message: fmt.Sprintf("status %s does not accept receipts", po.Status),
		})
	}
	for _, line := range po.Items {
		if line.OrderedQty <= 0 {
			result.Errors = append(result.Errors, Issue{
				Code:      IssueInvalidReceivedQuantity,
				Message:   fmt.Sprintf("product %d: ordered quantity must be greater than zero", line.ProductID),
				ProductID: line.ProductID,
			})
		}
		if line.UnitCost < 0 {
			result.Errors = append(result.Errors, Issue{
				Code:      IssueNegativeCost,
				Message:   fmt.Sprintf("product %d: ordered cost cannot be negative", line.ProductID),
				ProductID: line.ProductID,
			})
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}
