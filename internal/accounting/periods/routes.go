package periods

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/open", h.FindOpen)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/close-preview", h.Preview)
	r.Post("/{id}/close", h.Close)
	r.Post("/{id}/reopen", h.Reopen)
}
