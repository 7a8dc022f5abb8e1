package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zazakia/fbmsbackup3-sub010/internal/platform/db"
	"github.com/zazakia/fbmsbackup3-sub010/internal/shared"
)

// Repository provides PostgreSQL backed persistence for purchase orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
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

const poColumns = `po.id, po.number, po.supplier_id, COALESCE(s.name, ''), po.status, COALESCE(po.enhanced_status, ''),
	po.subtotal, po.tax, po.total, po.expected_date, COALESCE(po.approved_by, 0), COALESCE(po.approved_at, 'epoch'::timestamptz),
	po.created_by, po.created_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var legacy, enhanced string
	err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &po.SupplierName, &legacy, &enhanced,
		&po.Subtotal, &po.Tax, &po.Total, &po.ExpectedDate, &po.ApprovedBy, &po.ApprovedAt,
		&po.CreatedBy, &po.CreatedAt)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Status, err = StatusFromLegacy(legacy, enhanced)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// GetPO loads the order header and lines. The legacy status/enhanced_status
// pair is collapsed here, at the persistence boundary, so the enum is the
// only representation that travels through business logic.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+poColumns+`
		 FROM purchase_orders po
		 LEFT JOIN suppliers s ON s.id = po.supplier_id
		 WHERE po.id = $1`, id)
	po, err := scanPO(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	po.Items, err = r.loadItems(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (r *Repository) loadItems(ctx context.Context, poID int64) ([]PurchaseOrderItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT i.id, i.po_id, i.product_id, COALESCE(p.name, ''), i.ordered_qty, i.unit_cost, i.line_total, i.received_qty
		 FROM purchase_order_items i
		 LEFT JOIN products p ON p.id = i.product_id
		 WHERE i.po_id = $1
		 ORDER BY i.id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []PurchaseOrderItem
	for rows.Next() {
		var item PurchaseOrderItem
		if err := rows.Scan(&item.ID, &item.POID, &item.ProductID, &item.ProductName,
			&item.OrderedQty, &item.UnitCost, &item.LineTotal, &item.ReceivedQty); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListPOs returns filtered orders (headers only) plus the total count.
func (r *Repository) ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = shared.DefaultPerPage
	}
	query := `SELECT ` + poColumns + `
		 FROM purchase_orders po
		 LEFT JOIN suppliers s ON s.id = po.supplier_id
		 WHERE ($1 = '' OR po.status = $1 OR po.enhanced_status = $1)
		   AND ($2 = 0 OR po.supplier_id = $2)
		   AND ($3 = '' OR po.number ILIKE '%' || $3 || '%')
		 ORDER BY po.expected_date ASC, po.id ASC
		 LIMIT $4 OFFSET $5`
	rows, err := r.pool.Query(ctx, query, string(filter.Status), filter.SupplierID, filter.Search, limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM purchase_orders po
		 WHERE ($1 = '' OR po.status = $1 OR po.enhanced_status = $1)
		   AND ($2 = 0 OR po.supplier_id = $2)
		   AND ($3 = '' OR po.number ILIKE '%' || $3 || '%')`,
		string(filter.Status), filter.SupplierID, filter.Search).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListOverdue returns receivable orders (with lines) past their expected
// date, ordered by how late they are.
func (r *Repository) ListOverdue(ctx context.Context, asOf time.Time) ([]PurchaseOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+poColumns+`
		 FROM purchase_orders po
		 LEFT JOIN suppliers s ON s.id = po.supplier_id
		 WHERE po.expected_date < $1
		   AND (po.enhanced_status IN ('approved', 'sent_to_supplier', 'partially_received')
		        OR (COALESCE(po.enhanced_status, '') = '' AND po.status IN ('approved', 'sent', 'partial')))
		 ORDER BY po.expected_date ASC`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (t *txRepo) UpdateStatus(ctx context.Context, poID int64, from, to Status) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_orders SET status = $3, enhanced_status = $3, updated_at = NOW()
		 WHERE id = $1 AND (enhanced_status = $2 OR (COALESCE(enhanced_status, '') = '' AND status = $4))`,
		poID, from, to, legacyShorthand(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("po %d: %w", poID, shared.ErrConcurrentModification)
	}
	return nil
}

func (t *txRepo) SetApproval(ctx context.Context, poID int64, approvedBy int64, approvedAt time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE purchase_orders SET approved_by = $2, approved_at = $3 WHERE id = $1`,
		poID, approvedBy, approvedAt)
	return err
}

// legacyShorthand maps canonical statuses back to the legacy column values
// so optimistic checks also match rows not yet migrated.
func legacyShorthand(s Status) string {
	switch s {
	case StatusPendingApproval:
		return "pending"
	case StatusSentToSupplier:
		return "sent"
	case StatusPartiallyReceived:
		return "partial"
	case StatusFullyReceived:
		return "received"
	default:
		return string(s)
	}
}
