// Package jobs holds the background task definitions and the Asynq worker
// plumbing that runs them.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
	"github.com/zazakia/fbmsbackup3-sub010/internal/recovery"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskQueueRefresh resynchronises the receiving queue view.
	TaskQueueRefresh = "receiving:queue_refresh"
	// TaskOverdueScan looks for purchase orders past their expected date.
	TaskOverdueScan = "purchasing:overdue_scan"
	// TaskIdempotencyCleanup prunes expired duplicate receipt fingerprints.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// QueueRefreshPayload carries scheduling metadata.
type QueueRefreshPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewQueueRefreshTask constructs an Asynq task for the queue view rebuild.
func NewQueueRefreshTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(QueueRefreshPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQueueRefresh, body, asynq.Queue(QueueDefault)), nil
}

// QueueRefresher rebuilds the receiving queue view.
type QueueRefresher interface {
	RefreshReceivingQueue(ctx context.Context) error
}

// NewQueueRefreshHandler processes TaskQueueRefresh tasks. The rebuild runs
// under the recovery executor so transient database failures retry in-process
// before asynq-level retries kick in; permission and unknown failures bail
// straight to the asynq retry policy.
func NewQueueRefreshHandler(refresher QueueRefresher, exec *recovery.Executor, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload QueueRefreshPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		outcome := exec.Execute(ctx, "receiving_queue_refresh", func(ctx context.Context) error {
			return refresher.RefreshReceivingQueue(ctx)
		})
		if outcome.Err != nil {
			return outcome.Err
		}
		logger.Info("receiving queue refreshed",
			slog.Time("scheduled_for", payload.ScheduledFor),
			slog.Int("attempts", outcome.Attempts))
		return nil
	}
}

// OverdueScanPayload carries scheduling metadata.
type OverdueScanPayload struct {
	AsOf time.Time `json:"as_of"`
}

// NewOverdueScanTask constructs an Asynq task for the overdue order scan.
func NewOverdueScanTask(asOf time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(OverdueScanPayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueScan, body, asynq.Queue(QueueDefault)), nil
}

// OverdueLister surfaces purchase orders past their expected delivery date.
type OverdueLister interface {
	ListOverdue(ctx context.Context, asOf time.Time) ([]purchasing.OverdueAlert, error)
}

// NewOverdueScanHandler processes TaskOverdueScan tasks. Alert delivery is
// external; the scan logs what it found so operators can follow up.
func NewOverdueScanHandler(lister OverdueLister, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload OverdueScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		asOf := payload.AsOf
		if asOf.IsZero() {
			asOf = time.Now()
		}
		alerts, err := lister.ListOverdue(ctx, asOf)
		if err != nil {
			return err
		}
		for _, alert := range alerts {
			logger.Warn("overdue purchase order",
				slog.Int64("po_id", alert.POID),
				slog.String("number", alert.Number),
				slog.Int("days_overdue", alert.DaysOverdue),
				slog.String("pending_value", alert.PendingValue))
		}
		logger.Info("overdue scan complete", slog.Int("alerts", len(alerts)))
		return nil
	}
}

// IdempotencyCleanupPayload sets the retention horizon for fingerprints.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewIdempotencyCleanupTask constructs an Asynq task pruning fingerprints
// older than the given retention.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// FingerprintStore prunes expired duplicate receipt fingerprints.
type FingerprintStore interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewIdempotencyCleanupHandler processes TaskIdempotencyCleanup tasks. The
// retention doubles as the duplicate receipt detection window: a fingerprint
// pruned here makes the same submission acceptable again.
func NewIdempotencyCleanupHandler(store FingerprintStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.OlderThan <= 0 {
			return asynq.SkipRetry
		}
		if err := store.Cleanup(ctx, payload.OlderThan); err != nil {
			return err
		}
		logger.Info("idempotency cleanup complete",
			slog.Duration("older_than", payload.OlderThan))
		return nil
	}
}
