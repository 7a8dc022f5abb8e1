package receiving

import (
	"context"
	"fmt"
	"time"

	"github.com/zazakia/fbmsbackup3-sub010/internal/costing"
	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
)

// Ledger account names attached to value adjustments for the external
// ledger collaborator.
const (
	AccountInventoryAsset  = "inventory_asset"
	AccountAccountsPayable = "accounts_payable"
	AccountCOGSAdjustment  = "cogs_adjustment"
)

// ProductCostUpdate is one row of the batch cost/stock write.
type ProductCostUpdate struct {
	ProductID int64
	NewStock  float64
	NewCost   float64
}

// Orchestrator sequences cost recalculation, price variance detection and
// the batch cost update for one purchase order. It runs against the open
// receipt transaction supplied by the caller, so its writes commit or roll
// back together with the item quantities, status transition and receiving
// record. All failures abort the whole call; the caller observes either a
// completed transaction or a failed one, never a partial write.
type Orchestrator struct {
	thresholdPct float64
}

// NewOrchestrator constructs the orchestrator. thresholdPct <= 0 falls back
// to VarianceReportPct.
func NewOrchestrator(thresholdPct float64) *Orchestrator {
	if thresholdPct <= 0 {
		thresholdPct = VarianceReportPct
	}
	return &Orchestrator{thresholdPct: thresholdPct}
}

// ProcessPurchaseOrderCostUpdates recomputes weighted-average costs for all
// received products, persists the batch inside tx and derives the value
// adjustments for the ledger. When it fails, tx must be rolled back; the
// caller owns recording the failed-transaction marker outside of it.
func (o *Orchestrator) ProcessPurchaseOrderCostUpdates(ctx context.Context, tx TxRepository, poID int64, ordered []purchasing.PurchaseOrderItem, receipts []ReceiptItem, performedBy int64) (CostUpdateOutcome, error) {
	outcome := CostUpdateOutcome{
		Transaction: CostUpdateTransaction{POID: poID, PerformedBy: performedBy, CreatedAt: time.Now()},
	}

	updates := make([]ProductCostUpdate, 0, len(receipts))
	for _, receipt := range receipts {
		if receipt.ReceivedQty <= 0 {
			continue
		}
		stock, cost, err := tx.GetProductCostForUpdate(ctx, receipt.ProductID)
		if err != nil {
			return outcome, fmt.Errorf("product %d: %w", receipt.ProductID, err)
		}
		result, err := costing.Calculate(stock, cost, receipt.ReceivedQty, receipt.UnitCost)
		if err != nil {
			return outcome, fmt.Errorf("product %d: %w", receipt.ProductID, err)
		}
		result.ProductID = receipt.ProductID
		outcome.CostResults = append(outcome.CostResults, result)
		updates = append(updates, ProductCostUpdate{
			ProductID: receipt.ProductID,
			NewStock:  result.NewStock,
			NewCost:   result.NewCost,
		})
	}

	outcome.PriceVariances = DetectPriceVariances(ordered, receipts, poID, o.thresholdPct)
	outcome.ValueAdjustments = deriveValueAdjustments(outcome.CostResults)

	if err := tx.UpdateProductCosts(ctx, updates); err != nil {
		return outcome, err
	}
	if err := tx.InsertPriceVariances(ctx, outcome.PriceVariances); err != nil {
		return outcome, err
	}
	if err := tx.InsertValueAdjustments(ctx, poID, outcome.ValueAdjustments); err != nil {
		return outcome, err
	}
	outcome.Transaction.Status = CostTransactionCompleted
	id, err := tx.InsertCostTransaction(ctx, outcome.Transaction)
	if err != nil {
		return outcome, err
	}
	outcome.Transaction.ID = id
	return outcome, nil
}

func deriveValueAdjustments(results []costing.Result) []ValueAdjustment {
	adjustments := make([]ValueAdjustment, 0, len(results))
	for _, result := range results {
		diff := result.NewTotalValue - result.CurrentTotalValue
		if diff == 0 {
			continue
		}
		adj := ValueAdjustment{ProductID: result.ProductID}
		if diff > 0 {
			adj.Type = ValueAdjustmentIncrease
			adj.Amount = diff
			adj.DebitAccount = AccountInventoryAsset
			adj.CreditAccount = AccountAccountsPayable
		} else {
			adj.Type = ValueAdjustmentDecrease
			adj.Amount = -diff
			adj.DebitAccount = AccountCOGSAdjustment
			adj.CreditAccount = AccountInventoryAsset
		}
		adjustments = append(adjustments, adj)
	}
	return adjustments
}
