package receiving

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/zazakia/fbmsbackup3-sub010/internal/observability"
	"github.com/zazakia/fbmsbackup3-sub010/internal/platform/httpx"
	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
	"github.com/zazakia/fbmsbackup3-sub010/internal/shared"
)

const receiptRateLimit = 30
const receiptRateWindow = time.Minute

// Handler serves the goods receipt API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	metrics  *observability.Metrics
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics, validate: validator.New()}
}

// MountRoutes registers receiving routes. Receipt submission is rate
// limited per actor: a stuck client retrying a large receipt should back
// off before it burns the duplicate window.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/purchase-orders/{id}/receiving-readiness", h.handleReadiness)
	r.Get("/purchase-orders/{id}/receipts", h.handleHistory)
	r.Group(func(gr chi.Router) {
		gr.Use(httprate.Limit(receiptRateLimit, receiptRateWindow,
			httprate.WithKeyFuncs(receiptRateKey)))
		gr.Post("/purchase-orders/{id}/receipts", h.handleProcessReceipt)
	})
}

func receiptRateKey(r *http.Request) (string, error) {
	if actor, ok := shared.ActorFromContext(r.Context()); ok && actor.ID != 0 {
		return "actor:" + strconv.FormatInt(actor.ID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

type receiptRequest struct {
	Items []ReceiptItem `json:"items" validate:"required,min=1,dive"`
	Notes string        `json:"notes" validate:"max=1000"`
}

func (h *Handler) handleProcessReceipt(w http.ResponseWriter, r *http.Request) {
	poID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid purchase order id")
		return
	}
	var req receiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())

	start := time.Now()
	result, err := h.service.ProcessReceipt(r.Context(), poID, req.Items, actor, req.Notes)
	h.metrics.ObserveCostUpdate(time.Since(start))
	if err != nil {
		// Rule violations still carry the full issue list for the client.
		if errors.Is(err, ErrValidationFailed) {
			h.metrics.ObserveReceipt("validation_failed")
			httpx.JSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		if errors.Is(err, ErrDuplicateReceipt) {
			h.metrics.ObserveReceipt("duplicate")
		} else {
			h.metrics.ObserveReceipt("failed")
		}
		h.respondError(w, err)
		return
	}
	h.metrics.ObserveReceipt("applied")
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	poID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid purchase order id")
		return
	}
	result, err := h.service.Readiness(r.Context(), poID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	poID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid purchase order id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.service.History(r.Context(), poID, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receipts": records})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, purchasing.ErrNotFound), errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, purchasing.ErrAuthenticationRequired):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, purchasing.ErrInsufficientPermissions):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrDuplicateReceipt):
		httpx.Problem(w, http.StatusConflict, "Duplicate Receipt", err.Error())
	case errors.Is(err, ErrNotReceivable), errors.Is(err, purchasing.ErrInvalidState),
		errors.Is(err, shared.ErrConcurrentModification):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrCostUpdateFailed):
		h.logger.Error("cost update", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Cost Update Failed", "the receipt was not applied")
	default:
		h.logger.Error("receiving request", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
