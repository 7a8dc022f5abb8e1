package queue

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zazakia/fbmsbackup3-sub010/internal/platform/httpx"
)

// Handler serves the receiving queue dashboard API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers receiving queue routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/receiving-queue", h.handleList)
	r.Post("/receiving-queue/refresh", h.handleRefresh)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list receiving queue", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RefreshReceivingQueue(r.Context()); err != nil {
		h.logger.Error("refresh receiving queue", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.NoContent(w)
}
