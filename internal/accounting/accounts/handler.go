package accounts

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type createRequest struct {
	Code       string  `json:"code" validate:"required,max=32"`
	Name       string  `json:"name" validate:"required,max=200"`
	Type       string  `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	ParentID   *string `json:"parentId" validate:"omitempty,uuid"`
	IsPostable *bool   `json:"isPostable"`
	Status     string  `json:"status" validate:"omitempty,oneof=active inactive"`
}

type updateRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=200"`
	ParentID    *string `json:"parentId" validate:"omitempty,uuid"`
	ClearParent bool    `json:"clearParent"`
	IsPostable  *bool   `json:"isPostable"`
	Status      *string `json:"status" validate:"omitempty,oneof=active inactive"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	accounts, err := h.service.List(r.Context(), id.OrganizationID)
	if err != nil {
		h.fail(w, "list accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	accountID, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.Get(r.Context(), id.OrganizationID, accountID)
	if err != nil {
		h.fail(w, "get account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
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
	in := CreateInput{
		OrganizationID: id.OrganizationID,
		Code:           req.Code,
		Name:           req.Name,
		Type:           AccountType(req.Type),
		ParentID:       parseOptionalUUID(req.ParentID),
		IsPostable:     req.IsPostable,
		Status:         Status(req.Status),
	}
	account, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	accountID, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := UpdateInput{
		OrganizationID: id.OrganizationID,
		ID:             accountID,
		Name:           req.Name,
		ParentID:       parseOptionalUUID(req.ParentID),
		ClearParent:    req.ClearParent,
		IsPostable:     req.IsPostable,
	}
	if req.Status != nil {
		status := Status(*req.Status)
		in.Status = &status
	}
	account, err := h.service.Update(r.Context(), in)
	if err != nil {
		h.fail(w, "update account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
