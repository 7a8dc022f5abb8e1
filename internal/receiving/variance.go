package receiving

import (
	"math"

	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
)

// VarianceReportPct is the default reporting threshold for persisted price
// variance records. It is deliberately looser than the validator's warning
// threshold: this one serves cost accounting, the other receiving-time
// feedback.
const VarianceReportPct = 5.0

// DetectPriceVariances compares ordered against actual unit costs and
// returns one record per product whose variance reaches the threshold.
// Below-threshold variances produce nothing at all.
func DetectPriceVariances(ordered []purchasing.PurchaseOrderItem, receipts []ReceiptItem, poID int64, thresholdPct float64) []PriceVarianceRecord {
	if thresholdPct <= 0 {
		thresholdPct = VarianceReportPct
	}
	lines := make(map[int64]purchasing.PurchaseOrderItem, len(ordered))
	for _, line := range ordered {
		lines[line.ProductID] = line
	}

	var records []PriceVarianceRecord
	for _, receipt := range receipts {
		if receipt.ReceivedQty <= 0 {
			continue
		}
		line, ok := lines[receipt.ProductID]
		if !ok || line.UnitCost <= 0 {
			continue
		}
		variancePct := (receipt.UnitCost - line.UnitCost) / line.UnitCost * 100
		if math.Abs(variancePct) < thresholdPct {
			continue
		}
		records = append(records, PriceVarianceRecord{
			POID:          poID,
			ProductID:     receipt.ProductID,
			ExpectedCost:  line.UnitCost,
			ActualCost:    receipt.UnitCost,
			VariancePct:   variancePct,
			TotalVariance: (receipt.UnitCost - line.UnitCost) * receipt.ReceivedQty,
			ReceivedQty:   receipt.ReceivedQty,
		})
	}
	return records
}
