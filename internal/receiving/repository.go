package receiving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zazakia/fbmsbackup3-sub010/internal/platform/db"
	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
	"github.com/zazakia/fbmsbackup3-sub010/internal/shared"
)

// Repository provides PostgreSQL backed persistence for receiving.
type Repository struct {
	pool *pgxpool.Pool
	pos  *purchasing.Repository
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, pos: purchasing.NewRepository(pool)}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetPO delegates to the purchasing repository, which owns the legacy
// status collapse.
func (r *Repository) GetPO(ctx context.Context, id int64) (purchasing.PurchaseOrder, error) {
	return r.pos.GetPO(ctx, id)
}

// RecordFailedCostTransaction marks a failed batch outside the aborted tx.
func (r *Repository) RecordFailedCostTransaction(ctx context.Context, tx CostUpdateTransaction) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO cost_update_transactions (po_id, performed_by, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		tx.POID, tx.PerformedBy, CostTransactionFailed, tx.Error, tx.CreatedAt)
	return err
}

// ListRecords returns receiving records for an order, newest first.
func (r *Repository) ListRecords(ctx context.Context, poID int64, limit int) ([]ReceivingRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = shared.DefaultPerPage
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, po_id, po_number, received_by, received_by_name, received_at, notes, resulting_status, adjustments, cost_results
		 FROM receiving_records
		 WHERE po_id = $1
		 ORDER BY received_at DESC
		 LIMIT $2`, poID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ReceivingRecord
	for rows.Next() {
		var record ReceivingRecord
		var status string
		var adjustmentsJSON, resultsJSON []byte
		if err := rows.Scan(&record.ID, &record.POID, &record.PONumber, &record.ReceivedBy, &record.ReceivedByName,
			&record.ReceivedAt, &record.Notes, &status, &adjustmentsJSON, &resultsJSON); err != nil {
			return nil, err
		}
		record.ResultingStatus = purchasing.Status(status)
		if len(adjustmentsJSON) > 0 {
			if err := json.Unmarshal(adjustmentsJSON, &record.Adjustments); err != nil {
				return nil, err
			}
		}
		if len(resultsJSON) > 0 {
			if err := json.Unmarshal(resultsJSON, &record.CostResults); err != nil {
				return nil, err
			}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (t *txRepo) GetProductCostForUpdate(ctx context.Context, productID int64) (float64, float64, error) {
	var stock, cost float64
	err := t.tx.QueryRow(ctx,
		`SELECT stock, cost FROM products WHERE id = $1 FOR UPDATE`, productID,
	).Scan(&stock, &cost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrProductNotFound
		}
		return 0, 0, err
	}
	return stock, cost, nil
}

func (t *txRepo) UpdateProductCosts(ctx context.Context, updates []ProductCostUpdate) error {
	batch := &pgx.Batch{}
	for _, update := range updates {
		batch.Queue(`UPDATE products SET stock = $2, cost = $3, updated_at = NOW() WHERE id = $1`,
			update.ProductID, update.NewStock, update.NewCost)
	}
	results := t.tx.SendBatch(ctx, batch)
	defer results.Close()
	for range updates {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) InsertPriceVariances(ctx context.Context, records []PriceVarianceRecord) error {
	for _, record := range records {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO price_variances (po_id, product_id, expected_cost, actual_cost, variance_pct, total_variance, received_qty, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
			record.POID, record.ProductID, record.ExpectedCost, record.ActualCost,
			record.VariancePct, record.TotalVariance, record.ReceivedQty)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) InsertValueAdjustments(ctx context.Context, poID int64, adjustments []ValueAdjustment) error {
	for _, adj := range adjustments {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO inventory_value_adjustments (po_id, product_id, adjustment_type, amount, debit_account, credit_account, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
			poID, adj.ProductID, adj.Type, adj.Amount, adj.DebitAccount, adj.CreditAccount)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) InsertCostTransaction(ctx context.Context, tx CostUpdateTransaction) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO cost_update_transactions (po_id, performed_by, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		tx.POID, tx.PerformedBy, tx.Status, tx.Error, tx.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) SetItemReceivedQty(ctx context.Context, poID, productID int64, from, to float64) error {
	// The prior value in the WHERE clause makes the write optimistic: a
	// concurrent receipt that already advanced the line leaves zero rows
	// matched instead of being silently overwritten.
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_order_items SET received_qty = $4 WHERE po_id = $1 AND product_id = $2 AND received_qty = $3`,
		poID, productID, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("po %d product %d: %w", poID, productID, shared.ErrConcurrentModification)
	}
	return nil
}

func (t *txRepo) UpdatePOStatus(ctx context.Context, poID int64, from, to purchasing.Status) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_orders SET status = $3, enhanced_status = $3, updated_at = NOW()
		 WHERE id = $1 AND (enhanced_status = $2 OR (COALESCE(enhanced_status, '') = '' AND status = $4))`,
		poID, from, to, legacyFromStatus(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("po %d: %w", poID, shared.ErrConcurrentModification)
	}
	return nil
}

func (t *txRepo) InsertReceivingRecord(ctx context.Context, record ReceivingRecord) (int64, error) {
	adjustmentsJSON, err := json.Marshal(record.Adjustments)
	if err != nil {
		return 0, err
	}
	resultsJSON, err := json.Marshal(record.CostResults)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx,
		`INSERT INTO receiving_records (po_id, po_number, received_by, received_by_name, received_at, notes, resulting_status, adjustments, cost_results)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		record.POID, record.PONumber, record.ReceivedBy, record.ReceivedByName,
		record.ReceivedAt, record.Notes, record.ResultingStatus, adjustmentsJSON, resultsJSON).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, adj := range record.Adjustments {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO inventory_adjustments (receiving_record_id, product_id, qty_change, unit_cost, total_cost, movement, batch_number, expiry_date, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NOW())`,
			id, adj.ProductID, adj.QtyChange, adj.UnitCost, adj.TotalCost, adj.Movement, adj.BatchNumber, adj.ExpiryDate)
		if err != nil {
			return 0, err
		}
	}
	return id, nil
}

// legacyFromStatus maps canonical statuses back to the legacy shorthand so
// optimistic checks also match rows not yet migrated.
func legacyFromStatus(s purchasing.Status) string {
	switch s {
	case purchasing.StatusPendingApproval:
		return "pending"
	case purchasing.StatusSentToSupplier:
		return "sent"
	case purchasing.StatusPartiallyReceived:
		return "partial"
	case purchasing.StatusFullyReceived:
		return "received"
	default:
		return string(s)
	}
}
