package accruals

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const enqueueModule = "accruals.enqueue"

type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// JobQueue hands accrual operations to background workers.
type JobQueue interface {
	EnqueueAccrualJob(ctx context.Context, job AsyncJob) (string, error)
}

// RequestGuard claims request idempotency keys.
type RequestGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

type Handler struct {
	service *Service
	audit   AuditPort
	queue   JobQueue
	guard   RequestGuard
	logger  *slog.Logger
}

func NewHandler(logger *slog.Logger, service *Service, audit AuditPort, queue JobQueue, guard RequestGuard) *Handler {
	return &Handler{logger: logger, service: service, audit: audit, queue: queue, guard: guard}
}

type ruleLineRequest struct {
	LineNo      int             `json:"lineNo" validate:"omitempty,min=1"`
	AccountID   string          `json:"accountId" validate:"required,uuid"`
	Side        string          `json:"side" validate:"required,oneof=debit credit"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=500"`
}

type createRuleRequest struct {
	Code          string            `json:"code" validate:"required,max=64"`
	Name          string            `json:"name" validate:"required,max=200"`
	RuleType      string            `json:"ruleType" validate:"required,oneof=REVERSING RECURRING DEFERRAL DERIVED"`
	Frequency     string            `json:"frequency" validate:"required,oneof=DAILY WEEKLY MONTHLY PERIOD_END ON_DEMAND"`
	AutoReverse   bool              `json:"autoReverse"`
	ReverseTiming *string           `json:"reverseTiming" validate:"omitempty,oneof=NEXT_PERIOD_START"`
	StartDate     *string           `json:"startDate" validate:"omitempty,ymd"`
	EndDate       *string           `json:"endDate" validate:"omitempty,ymd"`
	Status        string            `json:"status" validate:"omitempty,oneof=active inactive"`
	IsRequired    bool              `json:"isRequired"`
	Lines         []ruleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type runOneRequest struct {
	AsOfDate string  `json:"asOfDate" validate:"required,ymd"`
	PeriodID *string `json:"periodId" validate:"omitempty,uuid"`
}

type runDueRequest struct {
	AsOfDate string `json:"asOfDate" validate:"required,ymd"`
}

type periodEndRequest struct {
	PeriodID string  `json:"periodId" validate:"required,uuid"`
	AsOfDate *string `json:"asOfDate" validate:"omitempty,ymd"`
}

type reversalsRequest struct {
	PeriodID string `json:"periodId" validate:"required,uuid"`
}

type enqueueRequest struct {
	Kind     string  `json:"kind" validate:"required,oneof=run_one run_due period_end reversals"`
	RuleID   *string `json:"ruleId" validate:"omitempty,uuid"`
	PeriodID *string `json:"periodId" validate:"omitempty,uuid"`
	AsOfDate *string `json:"asOfDate" validate:"omitempty,ymd"`
}

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRuleRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateRuleInput{
		OrganizationID: id.OrganizationID,
		ActorID:        id.UserID,
		Code:           req.Code,
		Name:           req.Name,
		RuleType:       RuleType(req.RuleType),
		Frequency:      Frequency(req.Frequency),
		AutoReverse:    req.AutoReverse,
		Status:         RuleStatus(req.Status),
		IsRequired:     req.IsRequired,
		StartDate:      parseOptionalDate(req.StartDate),
		EndDate:        parseOptionalDate(req.EndDate),
	}
	if req.ReverseTiming != nil && *req.ReverseTiming != "" {
		timing := ReverseTiming(*req.ReverseTiming)
		in.ReverseTiming = &timing
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, RuleLineInput{
			LineNo:      l.LineNo,
			AccountID:   uuid.MustParse(l.AccountID),
			Side:        accounts.Side(l.Side),
			Amount:      l.Amount,
			Description: l.Description,
		})
	}
	rule, err := h.service.CreateRule(r.Context(), in)
	if err != nil {
		h.fail(w, "create accrual rule", err)
		return
	}
	h.record(r.Context(), id, "accrual_rule.created", "accrual_rule", rule.ID, map[string]any{"code": rule.Code})
	httpx.JSON(w, http.StatusCreated, rule)
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rules, err := h.service.ListRules(r.Context(), id.OrganizationID)
	if err != nil {
		h.fail(w, "list accrual rules", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ruleID, ok := h.scope(w, r)
	if !ok {
		return
	}
	rule, err := h.service.GetRule(r.Context(), id.OrganizationID, ruleID)
	if err != nil {
		h.fail(w, "get accrual rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) RunOne(w http.ResponseWriter, r *http.Request) {
	id, ruleID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req runOneRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf, _ := httpx.ParseDate(req.AsOfDate)
	result, err := h.service.RunOne(r.Context(), RunOneInput{
		OrganizationID:   id.OrganizationID,
		ActorID:          id.UserID,
		RuleID:           ruleID,
		AsOfDate:         asOf,
		PeriodIDOverride: parseOptionalUUID(req.PeriodID),
	})
	if err != nil {
		h.fail(w, "run accrual", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) RunDue(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req runDueRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf, _ := httpx.ParseDate(req.AsOfDate)
	results, err := h.service.RunDue(r.Context(), id.OrganizationID, id.UserID, asOf)
	if err != nil {
		h.fail(w, "run due accruals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) RunPeriodEnd(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req periodEndRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	results, err := h.service.RunPeriodEnd(r.Context(), PeriodEndInput{
		OrganizationID:   id.OrganizationID,
		ActorID:          id.UserID,
		PeriodID:         uuid.MustParse(req.PeriodID),
		AsOfDateOverride: parseOptionalDate(req.AsOfDate),
	})
	if err != nil {
		h.fail(w, "run period-end accruals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) RunReversals(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reversalsRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.RunReversals(r.Context(), id.OrganizationID, id.UserID, uuid.MustParse(req.PeriodID))
	if err != nil {
		h.fail(w, "run accrual reversals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := RunFilter{OrganizationID: id.OrganizationID, Status: RunStatus(r.URL.Query().Get("status"))}
	if filter.RuleID, err = httpx.QueryUUID(r, "ruleId"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.PeriodID, err = httpx.QueryUUID(r, "periodId"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.From, err = httpx.QueryDate(r, "from"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = httpx.QueryDate(r, "to"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit", defaultRunLimit); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Offset, err = httpx.QueryInt(r, "offset", 0); err != nil {
		httpx.RespondError(w, err)
		return
	}
	runs, err := h.service.ListRuns(r.Context(), filter)
	if err != nil {
		h.fail(w, "list accrual runs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, runID, ok := h.scope(w, r)
	if !ok {
		return
	}
	run, err := h.service.GetRun(r.Context(), id.OrganizationID, runID)
	if err != nil {
		h.fail(w, "get accrual run", err)
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}

// Enqueue hands an accrual operation to the background worker. An
// Idempotency-Key header makes repeated submissions a conflict.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.queue == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "background queue not configured")
		return
	}
	var req enqueueRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	job := AsyncJob{
		Kind:           JobKind(req.Kind),
		OrganizationID: id.OrganizationID,
		ActorID:        id.UserID,
		RuleID:         parseOptionalUUID(req.RuleID),
		PeriodID:       parseOptionalUUID(req.PeriodID),
		AsOfDate:       parseOptionalDate(req.AsOfDate),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	if err := job.Validate(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	guardKey := ""
	if job.IdempotencyKey != "" && h.guard != nil {
		guardKey = id.OrganizationID.String() + ":" + job.IdempotencyKey
		if err := h.guard.CheckAndInsert(r.Context(), guardKey, enqueueModule); err != nil {
			h.fail(w, "claim enqueue key", err)
			return
		}
	}
	taskID, err := h.queue.EnqueueAccrualJob(r.Context(), job)
	if err != nil {
		if guardKey != "" {
			if derr := h.guard.Delete(r.Context(), guardKey, enqueueModule); derr != nil {
				err = errors.Join(err, derr)
			}
		}
		h.logger.Error("enqueue accrual job", slog.String("kind", string(job.Kind)), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "could not enqueue job")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"taskId": taskID, "kind": job.Kind})
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (internalShared.Identity, uuid.UUID, bool) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return id, uuid.Nil, false
	}
	resourceID, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return id, uuid.Nil, false
	}
	return id, resourceID, true
}

func (h *Handler) record(ctx context.Context, id internalShared.Identity, action, entity string, entityID uuid.UUID, meta map[string]any) {
	if h.audit == nil {
		return
	}
	err := h.audit.Record(ctx, internalShared.AuditLog{
		OrganizationID: id.OrganizationID,
		ActorID:        id.UserID,
		Action:         action,
		Entity:         entity,
		EntityID:       entityID.String(),
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
