package periods

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

type Handler struct {
	service *Service
	audit   AuditPort
	logger  *slog.Logger
}

func NewHandler(logger *slog.Logger, service *Service, audit AuditPort) *Handler {
	return &Handler{logger: logger, service: service, audit: audit}
}

type createRequest struct {
	Code      string `json:"code" validate:"required,max=32"`
	StartDate string `json:"startDate" validate:"required,ymd"`
	EndDate   string `json:"endDate" validate:"required,ymd"`
}

type closeRequest struct {
	AutoRunAccruals *bool `json:"autoRunAccruals"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	periods, err := h.service.List(r.Context(), id.OrganizationID)
	if err != nil {
		h.fail(w, "list periods", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": periods})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, periodID, ok := h.scope(w, r)
	if !ok {
		return
	}
	period, err := h.service.GetPeriod(r.Context(), id.OrganizationID, periodID)
	if err != nil {
		h.fail(w, "get period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) FindOpen(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := httpx.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.FindOpenPeriodForDate(r.Context(), id.OrganizationID, date)
	if err != nil {
		h.fail(w, "find open period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	start, _ := httpx.ParseDate(req.StartDate)
	end, _ := httpx.ParseDate(req.EndDate)
	period, err := h.service.CreatePeriod(r.Context(), CreateInput{
		OrganizationID: id.OrganizationID,
		Code:           req.Code,
		StartDate:      start,
		EndDate:        end,
	})
	if err != nil {
		h.fail(w, "create period", err)
		return
	}
	h.record(r.Context(), id, "period.created", period.ID, map[string]any{"code": period.Code})
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	id, periodID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req closeRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	period, err := h.service.ClosePeriod(r.Context(), CloseInput{
		OrganizationID:  id.OrganizationID,
		PeriodID:        periodID,
		ActorID:         id.UserID,
		AutoRunAccruals: req.AutoRunAccruals,
	})
	if err != nil {
		h.fail(w, "close period", err)
		return
	}
	h.record(r.Context(), id, "period.closed", period.ID, map[string]any{"code": period.Code})
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	id, periodID, ok := h.scope(w, r)
	if !ok {
		return
	}
	period, err := h.service.ReopenPeriod(r.Context(), id.OrganizationID, periodID)
	if err != nil {
		h.fail(w, "reopen period", err)
		return
	}
	h.record(r.Context(), id, "period.reopened", period.ID, map[string]any{"code": period.Code})
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	id, periodID, ok := h.scope(w, r)
	if !ok {
		return
	}
	preview, err := h.service.ClosePreview(r.Context(), id.OrganizationID, periodID)
	if err != nil {
		h.fail(w, "close preview", err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (internalShared.Identity, uuid.UUID, bool) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return id, uuid.Nil, false
	}
	periodID, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return id, uuid.Nil, false
	}
	return id, periodID, true
}

func (h *Handler) record(ctx context.Context, id internalShared.Identity, action string, periodID uuid.UUID, meta map[string]any) {
	if h.audit == nil {
		return
	}
	err := h.audit.Record(ctx, internalShared.AuditLog{
		OrganizationID: id.OrganizationID,
		ActorID:        id.UserID,
		Action:         action,
		Entity:         "period",
		EntityID:       periodID.String(),
		Meta:           meta,
	})
	if err != nil {
		h.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
