package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/zazakia/fbmsbackup3-sub010/internal/observability"
	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
	"github.com/zazakia/fbmsbackup3-sub010/internal/queue"
	"github.com/zazakia/fbmsbackup3-sub010/internal/receiving"
	"github.com/zazakia/fbmsbackup3-sub010/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	PurchasingHandler *purchasing.Handler
	ReceivingHandler  *receiving.Handler
	QueueHandler      *queue.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(api chi.Router) {
		if params.PurchasingHandler != nil {
			params.PurchasingHandler.MountRoutes(api)
		}
		if params.ReceivingHandler != nil {
			params.ReceivingHandler.MountRoutes(api)
		}
		if params.QueueHandler != nil {
			params.QueueHandler.MountRoutes(api)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
