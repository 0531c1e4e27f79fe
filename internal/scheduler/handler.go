package scheduler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler serves scheduled task administration under /api/v1/scheduled-tasks.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.ListTasks)
	r.Patch("/{code}", h.Toggle)
	r.Get("/{code}/runs", h.ListRuns)
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	if _, err := httpx.Identity(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tasks, err := h.service.ListTasks(r.Context())
	if err != nil {
		h.fail(w, "list scheduled tasks", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	if _, err := httpx.Identity(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req toggleRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	task, err := h.service.SetEnabled(r.Context(), chi.URLParam(r, "code"), *req.Enabled)
	if err != nil {
		h.fail(w, "toggle scheduled task", err)
		return
	}
	httpx.JSON(w, http.StatusOK, task)
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if _, err := httpx.Identity(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", defaultRunLimit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	runs, err := h.service.ListRuns(r.Context(), chi.URLParam(r, "code"), limit)
	if err != nil {
		h.fail(w, "list scheduled task runs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
