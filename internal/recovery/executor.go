package recovery

import (
	"context"
	"log/slog"
	"time"
)

// Executor runs an operation under the recovery strategy table. Operations
// must re-fetch any order or stock state inside the closure: a retry after
// CONCURRENT_MODIFICATION reloads, it does not replay stale quantities.
type Executor struct {
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewExecutor builds an executor with a linear backoff between attempts.
func NewExecutor(maxRetries int, backoff time.Duration, logger *slog.Logger) *Executor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{maxRetries: maxRetries, backoff: backoff, logger: logger}
}

// Outcome reports how an execution ended.
type Outcome struct {
	Attempts int      `json:"attempts"`
	Strategy Strategy `json:"strategy"`
	Err      error    `json:"-"`
}

// Execute runs op, retrying automatically while the selected strategy is
// auto-executable. It stops on success, on a non-retryable strategy, or when
// the attempt budget runs out. The returned outcome always carries the last
// strategy so callers can route manual-intervention cases.
func (e *Executor) Execute(ctx context.Context, name string, op func(context.Context) error) Outcome {
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return Outcome{Attempts: attempt}
		}

		// Plan forces manual intervention once the attempt budget is spent.
		strategy := Plan(CodeFromError(lastErr), attempt, e.maxRetries)
		if strategy.Primary != ActionRetryOperation || !strategy.AutoExecutable {
			return Outcome{Attempts: attempt, Strategy: strategy, Err: lastErr}
		}

		e.logger.Warn("retrying operation",
			slog.String("operation", name),
			slog.Int("attempt", attempt),
			slog.String("code", strategy.Code),
			slog.Any("error", lastErr))

		select {
		case <-ctx.Done():
			return Outcome{Attempts: attempt, Strategy: strategy, Err: ctx.Err()}
		case <-time.After(e.backoff * time.Duration(attempt)):
		}
	}
}
