package receiving

// ComputeAdjustments turns validated receipt items into append-only stock
// movement records. Zero-quantity items mean "not received this time" and
// are skipped silently. Pure transformation; the caller persists the result.
func ComputeAdjustments(items []ReceiptItem) []InventoryAdjustment {
	adjustments := make([]InventoryAdjustment, 0, len(items))
	for _, item := range items {
		if item.ReceivedQty <= 0 {
			continue
		}
		adjustments = append(adjustments, InventoryAdjustment{
			ProductID:   item.ProductID,
			QtyChange:   item.ReceivedQty,
			UnitCost:    item.UnitCost,
			TotalCost:   item.ReceivedQty * item.UnitCost,
			Movement:    MovementPurchaseReceipt,
			BatchNumber: item.BatchNumber,
			ExpiryDate:  item.ExpiryDate,
		})
	}
	return adjustments
}
