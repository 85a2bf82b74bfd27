package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gestix-erp/gestix/internal/agenda"
	"github.com/gestix-erp/gestix/internal/interventions"
	"github.com/gestix-erp/gestix/internal/inventory"
	"github.com/gestix-erp/gestix/internal/invoices"
	"github.com/gestix-erp/gestix/internal/observability"
	"github.com/gestix-erp/gestix/internal/quotes"
	"github.com/gestix-erp/gestix/internal/rbac"
	"github.com/gestix-erp/gestix/internal/timesheets"
	"github.com/gestix-erp/gestix/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger               *slog.Logger
	Config               *Config
	QuotesHandler        *quotes.Handler
	InterventionsHandler *interventions.Handler
	InvoicesHandler      *invoices.Handler
	InventoryHandler     *inventory.Handler
	TimesheetsHandler    *timesheets.Handler
	AgendaHandler        *agenda.Handler
	PermissionsHandler   *rbac.PermissionsHandler
	JobsHandler          *jobs.Handler
	Pool                 *pgxpool.Pool
	Metrics              *observability.Metrics
}

// NewRouter constructs the chi.Router with Gestix defaults.
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
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		if params.PermissionsHandler != nil {
			api.Route("/me", params.PermissionsHandler.MountRoutes)
		}
		if params.QuotesHandler != nil {
			api.Route("/quotes", params.QuotesHandler.MountRoutes)
		}
		if params.InterventionsHandler != nil {
			api.Route("/interventions", params.InterventionsHandler.MountRoutes)
		}
		if params.InvoicesHandler != nil {
			api.Route("/invoices", params.InvoicesHandler.MountRoutes)
		}
		if params.InventoryHandler != nil {
			api.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.TimesheetsHandler != nil {
			api.Route("/timesheets", params.TimesheetsHandler.MountRoutes)
		}
		if params.AgendaHandler != nil {
			api.Route("/agenda", params.AgendaHandler.MountRoutes)
		}
		if params.JobsHandler != nil {
			api.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	return r
}
