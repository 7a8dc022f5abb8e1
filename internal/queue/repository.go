package queue

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
)

// Repository persists the queue view in the receiving_queue table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires the pg-backed queue view store.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Contains(ctx context.Context, poID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM receiving_queue WHERE po_id = $1)`, poID).Scan(&exists)
	return exists, err
}

func (r *Repository) Upsert(ctx context.Context, item Item) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO receiving_queue (po_id, number, supplier_id, supplier_name, status, expected_date, pending_qty, added_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, now(), $8)
        ON CONFLICT (po_id) DO UPDATE SET
            status = EXCLUDED.status,
            expected_date = EXCLUDED.expected_date,
            pending_qty = EXCLUDED.pending_qty,
            updated_at = EXCLUDED.updated_at`,
		item.POID, item.Number, item.SupplierID, item.SupplierName,
		string(item.Status), item.ExpectedDate, item.PendingQty, item.UpdatedAt)
	return err
}

func (r *Repository) Remove(ctx context.Context, poID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM receiving_queue WHERE po_id = $1`, poID)
	return err
}

func (r *Repository) List(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT po_id, number, supplier_id, supplier_name, status, expected_date, pending_qty, updated_at
        FROM receiving_queue
        ORDER BY expected_date ASC, po_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var status string
		if err := rows.Scan(&it.POID, &it.Number, &it.SupplierID, &it.SupplierName,
			&status, &it.ExpectedDate, &it.PendingQty, &it.UpdatedAt); err != nil {
			return nil, err
		}
		it.Status = statusFromStored(status)
		items = append(items, it)
	}
	return items, rows.Err()
}

// Rebuild resynchronises the queue view from purchase_orders: drops rows for
// orders no longer receivable and upserts every order that is.
func (r *Repository) Rebuild(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
        DELETE FROM receiving_queue q
        WHERE NOT EXISTS (
            SELECT 1 FROM purchase_orders po
            WHERE po.id = q.po_id
              AND (po.enhanced_status IN ('approved', 'sent_to_supplier', 'partially_received')
                   OR (COALESCE(po.enhanced_status, '') = '' AND po.status IN ('approved', 'sent', 'partial')))
        )`)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
        INSERT INTO receiving_queue (po_id, number, supplier_id, supplier_name, status, expected_date, pending_qty, added_at, updated_at)
        SELECT po.id, po.number, po.supplier_id, COALESCE(s.name, ''),
               CASE
                   WHEN COALESCE(po.enhanced_status, '') <> '' THEN po.enhanced_status
                   WHEN po.status = 'sent' THEN 'sent_to_supplier'
                   WHEN po.status = 'partial' THEN 'partially_received'
                   ELSE po.status
               END,
               po.expected_date,
               COALESCE((SELECT SUM(i.ordered_qty - i.received_qty) FROM purchase_order_items i WHERE i.po_id = po.id), 0),
               now(), now()
        FROM purchase_orders po
        LEFT JOIN suppliers s ON s.id = po.supplier_id
        WHERE po.enhanced_status IN ('approved', 'sent_to_supplier', 'partially_received')
           OR (COALESCE(po.enhanced_status, '') = '' AND po.status IN ('approved', 'sent', 'partial'))
        ON CONFLICT (po_id) DO UPDATE SET
            status = EXCLUDED.status,
            expected_date = EXCLUDED.expected_date,
            pending_qty = EXCLUDED.pending_qty,
            updated_at = EXCLUDED.updated_at`)
	return err
}

func statusFromStored(raw string) purchasing.Status {
	return purchasing.Status(raw)
}
