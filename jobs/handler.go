package jobs

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// QueueHealth summarises the accrual queue for operators.
type QueueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Failed    int    `json:"failed"`
	Paused    bool   `json:"paused"`
}

// QueueInspector is the slice of asynq.Inspector the handler reads.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler serves queue health under /api/v1/jobs.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler builds the handler. A nil inspector reports an empty queue.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	out := QueueHealth{Queue: QueueDefault}
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, out)
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	switch {
	case errors.Is(err, asynq.ErrQueueNotFound):
		// Nothing has been enqueued yet.
	case err != nil:
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue unavailable", "job queue cannot be inspected")
		return
	case info != nil:
		out = QueueHealth{
			Queue:     info.Queue,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Failed:    info.Retry + info.Archived,
			Paused:    info.Paused,
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}
