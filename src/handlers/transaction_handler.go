package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/services"
	"github.com/username/cryptofolio/backend/src/utils"
)

type TransactionHandler struct {
	ledgerService services.LedgerService
}

func NewTransactionHandler(ledgerService services.LedgerService) *TransactionHandler {
	return &TransactionHandler{ledgerService: ledgerService}
}

// reportFilterFromRequest reads the shared listing parameters: account_id,
// currency_id, from, to (storage timestamp layout).
func reportFilterFromRequest(r *http.Request) services.ReportFilter {
	f := services.ReportFilter{
		AccountID:  utils.QueryInt64(r, "account_id"),
		CurrencyID: utils.QueryInt64(r, "currency_id"),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(utils.TimestampLayout, v); err == nil {
			f.From = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(utils.TimestampLayout, v); err == nil {
			f.To = t
		}
	}
	return f
}

// requireOwnedAccount resolves account_id from the query and checks it
// belongs to the authenticated user.
func (h *TransactionHandler) requireOwnedAccount(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return 0, false
	}
	accountID := utils.QueryInt64(r, "account_id")
	if accountID == 0 {
		utils.SendJSONError(w, "account_id is required", http.StatusBadRequest)
		return 0, false
	}
	owned, err := accountOwnedBy(userID, accountID)
	if err != nil {
		logger.L.Error("Ownership check failed", "account_id", accountID, "error", err)
		utils.SendJSONError(w, "Failed to verify account", http.StatusInternalServerError)
		return 0, false
	}
	if !owned {
		utils.SendJSONError(w, "Account not found", http.StatusNotFound)
		return 0, false
	}
	return accountID, true
}

// HandleListTransactions lists an account's normalized transactions.
func (h *TransactionHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireOwnedAccount(w, r)
	if !ok {
		return
	}

	filter := reportFilterFromRequest(r)
	filter.AccountID = accountID
	txs, err := h.ledgerService.GetTransactions(filter)
	if err != nil {
		logger.L.Error("Failed to list transactions", "account_id", accountID, "error", err)
		utils.SendJSONError(w, "Failed to list transactions", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, txs, http.StatusOK)
}

// HandleProcessAccount runs the tax-lot engine over the account's
// unprocessed transactions.
func (h *TransactionHandler) HandleProcessAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireOwnedAccount(w, r)
	if !ok {
		return
	}

	processed, err := h.ledgerService.ProcessAccount(accountID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, models.ErrAmbiguousTransferMatch),
			errors.Is(err, models.ErrInsufficientLots),
			errors.Is(err, models.ErrSpecIdentification),
			errors.Is(err, models.ErrValidation):
			status = http.StatusConflict
		}
		logger.L.Error("Account processing failed", "account_id", accountID, "processed", processed, "error", err)
		utils.SendJSON(w, map[string]interface{}{
			"processed": processed,
			"error":     err.Error(),
		}, status)
		return
	}

	utils.SendJSON(w, map[string]interface{}{"processed": processed}, http.StatusOK)
}
