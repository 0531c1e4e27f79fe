package ledger

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/trial-balance/{periodId}", h.TrialBalance)
	r.Get("/balances/{periodId}", h.GLBalances)
	r.Get("/profit-and-loss/{periodId}", h.ProfitAndLoss)
	r.Get("/accounts/{accountId}/activity", h.AccountActivity)
}
