// Package costing implements the weighted-average inventory cost engine.
package costing

import (
	"errors"
	"math"
)

// SignificantVariancePct is the threshold above which a cost change is
// flagged for review.
const SignificantVariancePct = 10.0

var (
	// ErrInvalidQuantity indicates negative stock or non-positive incoming qty.
	ErrInvalidQuantity = errors.New("costing: invalid quantity")
	// ErrInvalidCost indicates a negative unit cost input.
	ErrInvalidCost = errors.New("costing: unit cost must be >= 0")
)

// Result captures a single weighted-average recalculation.
type Result struct {
	ProductID int64 `json:"product_id"`

	CurrentStock      float64 `json:"current_stock"`
	CurrentCost       float64 `json:"current_cost"`
	CurrentTotalValue float64 `json:"current_total_value"`

	IncomingQty        float64 `json:"incoming_qty"`
	IncomingCost       float64 `json:"incoming_cost"`
	IncomingTotalValue float64 `json:"incoming_total_value"`

	NewStock      float64 `json:"new_stock"`
	NewCost       float64 `json:"new_cost"`
	NewTotalValue float64 `json:"new_total_value"`

	CostVariance        float64 `json:"cost_variance"`
	CostVariancePct     float64 `json:"cost_variance_pct"`
	SignificantVariance bool    `json:"significant_variance"`
}

// Calculate recomputes the weighted-average unit cost after a receipt.
// Zero existing stock degenerates cleanly to the incoming cost, so there is
// never a division by zero.
func Calculate(currentStock, currentCost, incomingQty, incomingCost float64) (Result, error) {
	if currentStock < 0 || incomingQty <= 0 {
		return Result{}, ErrInvalidQuantity
	}
	if currentCost < 0 || incomingCost < 0 {
		return Result{}, ErrInvalidCost
	}

	newStock := currentStock + incomingQty
	var newCost float64
	if newStock > 0 {
		newCost = (currentStock*currentCost + incomingQty*incomingCost) / newStock
	} else {
		newCost = incomingCost
	}

	variance := newCost - currentCost
	var variancePct float64
	if currentCost > 0 {
		variancePct = variance / currentCost * 100
	}

	return Result{
		CurrentStock:        currentStock,
		CurrentCost:         currentCost,
		CurrentTotalValue:   currentStock * currentCost,
		IncomingQty:         incomingQty,
		IncomingCost:        incomingCost,
		IncomingTotalValue:  incomingQty * incomingCost,
		NewStock:            newStock,
		NewCost:             newCost,
		NewTotalValue:       newStock * newCost,
		CostVariance:        variance,
		CostVariancePct:     variancePct,
		SignificantVariance: math.Abs(variancePct) > SignificantVariancePct,
	}, nil
}
