package journals

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

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

type lineRequest struct {
	AccountID   string          `json:"accountId" validate:"required,uuid"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description" validate:"max=500"`
}

type createRequest struct {
	PeriodID       string        `json:"periodId" validate:"required,uuid"`
	EntryDate      string        `json:"entryDate" validate:"required,ymd"`
	Type           string        `json:"type" validate:"omitempty,oneof=GENERAL ADJUSTMENT CLOSING"`
	Memo           string        `json:"memo" validate:"max=1000"`
	IdempotencyKey string        `json:"idempotencyKey" validate:"max=200"`
	Lines          []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	periodID, err := httpx.QueryUUID(r, "periodId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", defaultListLimit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	offset, err := httpx.QueryInt(r, "offset", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.List(r.Context(), ListFilter{
		OrganizationID: id.OrganizationID,
		PeriodID:       periodID,
		Status:         JournalStatus(r.URL.Query().Get("status")),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		h.fail(w, "list journals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"journals": entries})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, journalID, ok := h.scope(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Get(r.Context(), id.OrganizationID, journalID)
	if err != nil {
		h.fail(w, "get journal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
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
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	entryDate, _ := httpx.ParseDate(req.EntryDate)
	in := CreateDraftInput{
		OrganizationID: id.OrganizationID,
		ActorID:        id.UserID,
		PeriodID:       uuid.MustParse(req.PeriodID),
		EntryDate:      entryDate,
		Type:           JournalType(req.Type),
		Memo:           req.Memo,
		IdempotencyKey: req.IdempotencyKey,
		Lines:          make([]LineInput, len(req.Lines)),
	}
	for i, l := range req.Lines {
		in.Lines[i] = LineInput{
			AccountID:   uuid.MustParse(l.AccountID),
			Debit:       l.Debit,
			Credit:      l.Credit,
			Description: l.Description,
		}
	}
	result, err := h.service.CreateDraftJournal(r.Context(), in)
	if err != nil {
		h.fail(w, "create journal", err)
		return
	}
	status := http.StatusCreated
	if result.Idempotent {
		status = http.StatusOK
	} else {
		h.record(r.Context(), id, "journal.created", result.JournalID, map[string]any{"idempotency_key": in.IdempotencyKey})
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	id, journalID, ok := h.scope(w, r)
	if !ok {
		return
	}
	result, err := h.service.PostDraftJournal(r.Context(), id.OrganizationID, journalID, id.UserID)
	if err != nil {
		h.fail(w, "post journal", err)
		return
	}
	h.record(r.Context(), id, "journal.posted", result.JournalID, nil)
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	id, journalID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req voidRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.VoidPostedJournal(r.Context(), VoidInput{
		OrganizationID: id.OrganizationID,
		JournalID:      journalID,
		ActorID:        id.UserID,
		Reason:         req.Reason,
	})
	if err != nil {
		h.fail(w, "void journal", err)
		return
	}
	h.record(r.Context(), id, "journal.voided", result.JournalID, map[string]any{
		"reason":              req.Reason,
		"reversal_journal_id": result.ReversalJournalID.String(),
	})
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (internalShared.Identity, uuid.UUID, bool) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return id, uuid.Nil, false
	}
	journalID, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return id, uuid.Nil, false
	}
	return id, journalID, true
}

func (h *Handler) record(ctx context.Context, id internalShared.Identity, action string, journalID uuid.UUID, meta map[string]any) {
	if h.audit == nil {
		return
	}
	err := h.audit.Record(ctx, internalShared.AuditLog{
		OrganizationID: id.OrganizationID,
		ActorID:        id.UserID,
		Action:         action,
		Entity:         "journal_entry",
		EntityID:       journalID.String(),
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
