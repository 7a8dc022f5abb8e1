// Package recovery classifies failures from the receiving and purchasing
// workflows and selects a recovery strategy for each. The classification is
// code-based so callers and operators share one vocabulary across logs,
// audit entries and retry decisions.
package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
	"github.com/zazakia/fbmsbackup3-sub010/internal/receiving"
	"github.com/zazakia/fbmsbackup3-sub010/internal/shared"
)

// Error codes recognised by the classifier. Validation codes reuse the
// receiving issue vocabulary so a failed receipt maps straight onto a plan.
const (
	CodeDatabaseError     = "DATABASE_ERROR"
	CodeConnectionTimeout = "CONNECTION_TIMEOUT"
	CodeDeadlockDetected  = "DEADLOCK_DETECTED"
	CodeOverReceiving     = string(receiving.IssueOverReceiving)
	CodeInvalidQuantity   = string(receiving.IssueInvalidReceivedQuantity)
	CodeProductNotInOrder = string(receiving.IssueProductNotInOrder)
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeNegativeStock     = "NEGATIVE_STOCK"
	CodeConcurrentModify  = "CONCURRENT_MODIFICATION"
	CodeInsufficientPerms = "INSUFFICIENT_PERMISSIONS"
	CodeApprovalLimit     = "APPROVAL_LIMIT_EXCEEDED"
	CodeAuthRequired      = "AUTHENTICATION_REQUIRED"
	CodeInvalidTransition = string(receiving.IssueInvalidStatusTransition)
	CodeAlreadyApproved   = "ALREADY_APPROVED"
	CodeCannotCancel      = "CANNOT_CANCEL_RECEIVED_ORDER"
	CodeDuplicateReceipt  = "DUPLICATE_RECEIPT_DETECTED"
	CodeCostUpdateFailed  = "COST_UPDATE_FAILED"
)

// Category groups error codes by how they can be recovered.
type Category string

const (
	CategoryDatabase     Category = "database"
	CategoryValidation   Category = "validation"
	CategoryStock        Category = "stock_concurrency"
	CategoryPermission   Category = "permission"
	CategoryBusinessRule Category = "business_rule"
	CategoryUnknown      Category = "unknown"
)

// Action names one recovery step.
type Action string

const (
	ActionRetryOperation     Action = "retry_operation"
	ActionQueueForLater      Action = "queue_for_later"
	ActionPartialRecovery    Action = "partial_recovery"
	ActionRollbackChanges    Action = "rollback_changes"
	ActionManualIntervention Action = "manual_intervention"
)

// Strategy is the selected recovery plan for one failure occurrence.
type Strategy struct {
	Code           string   `json:"code"`
	Category       Category `json:"category"`
	Primary        Action   `json:"primary"`
	Fallback       Action   `json:"fallback,omitempty"`
	AutoExecutable bool     `json:"auto_executable"`
	Message        string   `json:"message"`
}

// Classify maps an error code to its recovery category. Unrecognised codes
// land in CategoryUnknown.
func Classify(code string) Category {
	switch code {
	case CodeDatabaseError, CodeConnectionTimeout, CodeDeadlockDetected:
		return CategoryDatabase
	case CodeOverReceiving, CodeInvalidQuantity, CodeProductNotInOrder:
		return CategoryValidation
	case CodeInsufficientStock, CodeNegativeStock, CodeConcurrentModify:
		return CategoryStock
	case CodeInsufficientPerms, CodeApprovalLimit, CodeAuthRequired:
		return CategoryPermission
	case CodeInvalidTransition, CodeAlreadyApproved, CodeCannotCancel:
		return CategoryBusinessRule
	default:
		return CategoryUnknown
	}
}

// Plan selects the recovery strategy for a failure on its Nth attempt.
// Once the attempt count exceeds maxRetries the plan is always manual
// intervention, whatever the classification says.
func Plan(code string, attempt, maxRetries int) Strategy {
	if attempt > maxRetries {
		return Strategy{
			Code:     code,
			Category: Classify(code),
			Primary:  ActionManualIntervention,
			Message:  fmt.Sprintf("operation failed after %d attempts", attempt),
		}
	}

	category := Classify(code)
	switch category {
	case CategoryDatabase:
		return Strategy{
			Code:           code,
			Category:       category,
			Primary:        ActionRetryOperation,
			Fallback:       ActionQueueForLater,
			AutoExecutable: true,
			Message:        "transient database failure, retrying",
		}
	case CategoryValidation:
		return Strategy{
			Code:     code,
			Category: category,
			Primary:  ActionPartialRecovery,
			Fallback: ActionManualIntervention,
			Message:  "receipt data rejected, correct the flagged lines and resubmit",
		}
	case CategoryStock:
		return Strategy{
			Code:           code,
			Category:       category,
			Primary:        ActionRetryOperation,
			AutoExecutable: true,
			Message:        "stale stock or order state, reload and retry",
		}
	case CategoryPermission:
		return Strategy{
			Code:     code,
			Category: category,
			Primary:  ActionManualIntervention,
			Message:  "actor is not allowed to perform this operation",
		}
	case CategoryBusinessRule:
		return Strategy{
			Code:           code,
			Category:       category,
			Primary:        ActionRollbackChanges,
			AutoExecutable: true,
			Message:        "order state no longer permits this operation",
		}
	default:
		return Strategy{
			Code:     code,
			Category: CategoryUnknown,
			Primary:  ActionManualIntervention,
			Message:  "unrecognised failure, manual review required",
		}
	}
}

// CodeFromError maps domain and driver errors onto the classifier's code
// vocabulary. Unmapped errors come back as empty string and classify as
// unknown.
func CodeFromError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return CodeConnectionTimeout
	case errors.Is(err, shared.ErrConcurrentModification):
		return CodeConcurrentModify
	case errors.Is(err, purchasing.ErrInsufficientPermissions):
		return CodeInsufficientPerms
	case errors.Is(err, purchasing.ErrApprovalLimitExceeded):
		return CodeApprovalLimit
	case errors.Is(err, purchasing.ErrAuthenticationRequired):
		return CodeAuthRequired
	case errors.Is(err, purchasing.ErrAlreadyApproved):
		return CodeAlreadyApproved
	case errors.Is(err, purchasing.ErrCannotCancelReceived):
		return CodeCannotCancel
	case errors.Is(err, purchasing.ErrInvalidState), errors.Is(err, receiving.ErrNotReceivable):
		return CodeInvalidTransition
	case errors.Is(err, receiving.ErrDuplicateReceipt):
		return CodeDuplicateReceipt
	case errors.Is(err, receiving.ErrCostUpdateFailed):
		return CodeCostUpdateFailed
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01":
			return CodeDeadlockDetected
		case "57014", "57P01":
			return CodeConnectionTimeout
		default:
			return CodeDatabaseError
		}
	}
	return ""
}
