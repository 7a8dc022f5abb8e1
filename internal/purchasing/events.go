package purchasing

import (
	"context"
	"time"
)

// EventContext carries actor metadata shared by all lifecycle events.
type EventContext struct {
	ActorID   int64
	ActorName string
	ActorRole string
	Reason    string
	At        time.Time
}

// ApprovalEvent is emitted after an order is approved.
type ApprovalEvent struct {
	POID    int64
	Number  string
	Context EventContext
}

// StatusChangeEvent is emitted after any persisted status transition.
type StatusChangeEvent struct {
	POID      int64
	Number    string
	OldStatus Status
	NewStatus Status
	Context   EventContext
}

// CancellationEvent is emitted after an order is cancelled.
type CancellationEvent struct {
	POID    int64
	Number  string
	Context EventContext
}

// IntegrationHandler receives lifecycle events so downstream views (the
// receiving queue) stay current. Implementations must swallow their own
// failures: a broken integration must never unwind the committed business
// operation that triggered it.
type IntegrationHandler interface {
	HandleApproval(ctx context.Context, evt ApprovalEvent) error
	HandleStatusChange(ctx context.Context, evt StatusChangeEvent) error
	HandleCancellation(ctx context.Context, evt CancellationEvent) error
}
