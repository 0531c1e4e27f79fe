package accounts

import (
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
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
