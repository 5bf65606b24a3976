package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/keyledger/internal/account"
	"github.com/dukerupert/keyledger/internal/auth"
	"github.com/dukerupert/keyledger/internal/ledger"
	"github.com/dukerupert/keyledger/internal/model"
	"github.com/dukerupert/keyledger/internal/purchase"
)

type AccountHandler struct {
	accounts  *account.Service
	ledger    *ledger.Ledger
	purchases *purchase.Coordinator
	logger    *slog.Logger
}

func NewAccountHandler(accounts *account.Service, l *ledger.Ledger, purchases *purchase.Coordinator, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, ledger: l, purchases: purchases, logger: logger}
}

type accountResponse struct {
	Account             *model.Account     `json:"account"`
	PendingVerification bool               `json:"pending_verification"`
	Keys                []model.LicenseKey `json:"keys"`
	Purchases           []model.Purchase   `json:"purchases"`
}

// Me returns the signed-in account with its keys and purchase history.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := auth.AccountID(ctx)

	acct, err := h.accounts.GetAccount(ctx, id)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	keys, err := h.ledger.ListByAccount(ctx, id)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	purchases, err := h.purchases.ListPurchases(ctx, id)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	if keys == nil {
		keys = []model.LicenseKey{}
	}
	if purchases == nil {
		purchases = []model.Purchase{}
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Account:             acct,
		PendingVerification: acct.HasPendingVerification(),
		Keys:                keys,
		Purchases:           purchases,
	})
}
