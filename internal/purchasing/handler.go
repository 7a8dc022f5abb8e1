package purchasing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/zazakia/fbmsbackup3-sub010/internal/platform/httpx"
	"github.com/zazakia/fbmsbackup3-sub010/internal/shared"
)

// AuditLister reads back the purchase order action trail.
type AuditLister interface {
	ListPurchaseOrderActions(ctx context.Context, filter shared.AuditFilter) ([]shared.AuditEntry, error)
}

// Handler serves the purchase order lifecycle API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	audits   AuditLister
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, audits AuditLister) *Handler {
	return &Handler{logger: logger, service: service, audits: audits, validate: validator.New()}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/purchase-orders", h.handleList)
	r.Get("/purchase-orders/overdue", h.handleOverdue)
	r.Get("/purchase-orders/{id}", h.handleGet)
	r.Get("/purchase-orders/{id}/audit", h.handleAuditTrail)
	r.Post("/purchase-orders/{id}/submit", h.handleSubmit)
	r.Post("/purchase-orders/{id}/approve", h.handleApprove)
	r.Post("/purchase-orders/{id}/send", h.handleMarkSent)
	r.Post("/purchase-orders/{id}/cancel", h.handleCancel)
	r.Post("/purchase-orders/bulk-approve", h.handleBulkApprove)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = shared.DefaultPerPage
	}
	supplierID, _ := strconv.ParseInt(r.URL.Query().Get("supplier_id"), 10, 64)
	filter := ListFilter{
		Status:     Status(r.URL.Query().Get("status")),
		SupplierID: supplierID,
		Search:     r.URL.Query().Get("search"),
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	}
	orders, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list purchase orders", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"purchase_orders": orders,
		"pagination":      shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid purchase order id")
		return
	}
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

type actionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(poID int64, actor shared.Actor, _ string) error {
		return h.service.Submit(r.Context(), poID, actor)
	})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(poID int64, actor shared.Actor, reason string) error {
		return h.service.Approve(r.Context(), poID, actor, reason)
	})
}

func (h *Handler) handleMarkSent(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(poID int64, actor shared.Actor, _ string) error {
		return h.service.MarkSent(r.Context(), poID, actor)
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(poID int64, actor shared.Actor, reason string) error {
		return h.service.Cancel(r.Context(), poID, actor, reason)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(int64, shared.Actor, string) error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid purchase order id")
		return
	}
	var req actionRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := op(id, actor, req.Reason); err != nil {
		h.respondError(w, err)
		return
	}
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

type bulkApproveRequest struct {
	POIDs  []int64 `json:"po_ids" validate:"required,min=1,max=100"`
	Reason string  `json:"reason" validate:"max=500"`
}

func (h *Handler) handleBulkApprove(w http.ResponseWriter, r *http.Request) {
	var req bulkApproveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	results := h.service.BulkApprove(r.Context(), req.POIDs, actor, req.Reason)
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) handleOverdue(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "as_of must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}
	alerts, err := h.service.ListOverdue(r.Context(), asOf)
	if err != nil {
		h.logger.Error("list overdue purchase orders", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid purchase order id")
		return
	}
	if h.audits == nil {
		httpx.JSON(w, http.StatusOK, map[string]any{"entries": []shared.AuditEntry{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.audits.ListPurchaseOrderActions(r.Context(), shared.AuditFilter{
		POID:   id,
		Action: r.URL.Query().Get("action"),
		Limit:  limit,
	})
	if err != nil {
		h.logger.Error("list audit trail", slog.Int64("po_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "purchase order not found")
	case errors.Is(err, ErrAuthenticationRequired):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, ErrInsufficientPermissions), errors.Is(err, ErrApprovalLimitExceeded):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadyApproved),
		errors.Is(err, ErrCannotCancelReceived), errors.Is(err, shared.ErrConcurrentModification):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("purchase order request", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
