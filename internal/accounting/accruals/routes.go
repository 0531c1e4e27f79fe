package accruals

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.ListRules)
		r.Post("/", h.CreateRule)
		r.Get("/{id}", h.GetRule)
		r.Post("/{id}/run", h.RunOne)
	})
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.ListRuns)
		r.Get("/{id}", h.GetRun)
	})
	r.Post("/run-due", h.RunDue)
	r.Post("/run-period-end", h.RunPeriodEnd)
	r.Post("/run-reversals", h.RunReversals)
	r.Post("/jobs", h.Enqueue)
}

// parseOptionalUUID assumes the value already passed the uuid validator.
func parseOptionalUUID(raw *string) *uuid.UUID {
	if raw == nil || *raw == "" {
		return nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil
	}
	return &id
}

// parseOptionalDate assumes the value already passed the ymd validator.
func parseOptionalDate(raw *string) *time.Time {
	if raw == nil || *raw == "" {
		return nil
	}
	d, err := httpx.ParseDate(*raw)
	if err != nil {
		return nil
	}
	return &d
}
