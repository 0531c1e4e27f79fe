package ledger

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) TrialBalance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	periodID, err := httpx.URLParamUUID(r, "periodId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tb, err := h.service.TrialBalance(r.Context(), id.OrganizationID, periodID)
	if err != nil {
		h.fail(w, "trial balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) ProfitAndLoss(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	periodID, err := httpx.URLParamUUID(r, "periodId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pl, err := h.service.ProfitAndLoss(r.Context(), id.OrganizationID, periodID)
	if err != nil {
		h.fail(w, "profit and loss", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pl)
}

func (h *Handler) GLBalances(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	periodID, err := httpx.URLParamUUID(r, "periodId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.service.GLBalances(r.Context(), id.OrganizationID, periodID)
	if err != nil {
		h.fail(w, "gl balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balances": balances})
}

func (h *Handler) AccountActivity(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	accountID, err := httpx.URLParamUUID(r, "accountId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, err := httpx.QueryDate(r, "from")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.QueryDate(r, "to")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if from == nil || to == nil {
		httpx.RespondError(w, shared.Invalid("ledger: from and to query parameters required"))
		return
	}
	lines, err := h.service.AccountActivity(r.Context(), ActivityFilter{
		OrganizationID: id.OrganizationID,
		AccountID:      accountID,
		From:           *from,
		To:             *to,
	})
	if err != nil {
		h.fail(w, "account activity", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
