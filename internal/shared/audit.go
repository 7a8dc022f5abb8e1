package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry represents a record stored in purchase_order_audit_logs.
type AuditEntry struct {
	POID      int64          `json:"po_id"`
	PONumber  string         `json:"po_number"`
	Action    string         `json:"action"`
	ActorID   int64          `json:"actor_id"`
	ActorName string         `json:"actor_name"`
	Reason    string         `json:"reason,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	At        time.Time      `json:"at"`
}

// AuditPort is implemented by AuditLogger and by test fakes.
type AuditPort interface {
	LogPurchaseOrderAction(ctx context.Context, entry AuditEntry) (int64, error)
}

// AuditLogger writes purchase order action records.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// LogPurchaseOrderAction persists the entry and returns the audit log id.
func (l *AuditLogger) LogPurchaseOrderAction(ctx context.Context, entry AuditEntry) (int64, error) {
	if l == nil || l.pool == nil {
		return 0, errors.New("audit logger not initialised")
	}
	if entry.POID == 0 || entry.Action == "" {
		return 0, errors.New("audit entry requires po id and action")
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return 0, err
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	var id int64
	err = l.pool.QueryRow(ctx,
		`INSERT INTO purchase_order_audit_logs (po_id, po_number, action, actor_id, actor_name, reason, meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		entry.POID, entry.PONumber, entry.Action, entry.ActorID, entry.ActorName, entry.Reason, metaJSON, at,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	POID   int64
	Action string
	Limit  int
}

// ListPurchaseOrderActions returns recent entries, newest first.
func (l *AuditLogger) ListPurchaseOrderActions(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	if l == nil || l.pool == nil {
		return nil, errors.New("audit logger not initialised")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT po_id, po_number, action, actor_id, actor_name, reason, meta, occurred_at
		 FROM purchase_order_audit_logs
		 WHERE ($1 = 0 OR po_id = $1) AND ($2 = '' OR action = $2)
		 ORDER BY occurred_at DESC
		 LIMIT $3`,
		filter.POID, filter.Action, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var metaJSON []byte
		if err := rows.Scan(&entry.POID, &entry.PONumber, &entry.Action, &entry.ActorID, &entry.ActorName, &entry.Reason, &metaJSON, &entry.At); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &entry.Meta); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
