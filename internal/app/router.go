package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accruals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/scheduler"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Metrics         *observability.Metrics
	Accounts        *accounts.Handler
	Periods         *periods.Handler
	Journals        *journals.Handler
	Ledger          *ledger.Handler
	Accruals        *accruals.Handler
	ScheduledTasks  *scheduler.Handler
	Jobs            *jobs.Handler
	ReadinessChecks map[string]Pinger
}

// NewRouter constructs the chi.Router with API defaults.
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
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(params.ReadinessChecks))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.Accounts != nil {
			r.Route("/accounts", params.Accounts.MountRoutes)
		}
		if params.Periods != nil {
			r.Route("/periods", params.Periods.MountRoutes)
		}
		if params.Journals != nil {
			r.Route("/journals", params.Journals.MountRoutes)
		}
		if params.Ledger != nil {
			r.Route("/ledger", params.Ledger.MountRoutes)
		}
		if params.Accruals != nil {
			r.Route("/accruals", params.Accruals.MountRoutes)
		}
		if params.ScheduledTasks != nil {
			r.Route("/scheduled-tasks", params.ScheduledTasks.MountRoutes)
		}
		if params.Jobs != nil {
			r.Route("/jobs", params.Jobs.MountRoutes)
		}
	})

	return r
}

func readiness(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		result := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				result[name] = err.Error()
				continue
			}
			result[name] = "ok"
		}
		httpx.JSON(w, status, result)
	}
}
