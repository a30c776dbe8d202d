package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/username/cryptofolio/backend/src/database"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/registry"
	"github.com/username/cryptofolio/backend/src/services"
	"github.com/username/cryptofolio/backend/src/utils"
)

type PortfolioHandler struct {
	ledgerService services.LedgerService
	reg           *registry.Registry
}

func NewPortfolioHandler(ledgerService services.LedgerService, reg *registry.Registry) *PortfolioHandler {
	return &PortfolioHandler{ledgerService: ledgerService, reg: reg}
}

func (h *PortfolioHandler) requireOwnedPortfolio(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return 0, false
	}
	portfolioID := utils.QueryInt64(r, "portfolio_id")
	if portfolioID == 0 {
		utils.SendJSONError(w, "portfolio_id is required", http.StatusBadRequest)
		return 0, false
	}
	owned, err := portfolioOwnedBy(userID, portfolioID)
	if err != nil {
		logger.L.Error("Ownership check failed", "portfolio_id", portfolioID, "error", err)
		utils.SendJSONError(w, "Failed to verify portfolio", http.StatusInternalServerError)
		return 0, false
	}
	if !owned {
		utils.SendJSONError(w, "Portfolio not found", http.StatusNotFound)
		return 0, false
	}
	return portfolioID, true
}

// HandleListPortfolios lists the authenticated user's portfolios.
func (h *PortfolioHandler) HandleListPortfolios(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	rows, err := database.DB.Query(`SELECT id, user_id, name FROM portfolios WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		logger.L.Error("Failed to list portfolios", "user_id", userID, "error", err)
		utils.SendJSONError(w, "Failed to list portfolios", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	portfolios := []models.Portfolio{}
	for rows.Next() {
		var p models.Portfolio
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name); err != nil {
			utils.SendJSONError(w, "Failed to list portfolios", http.StatusInternalServerError)
			return
		}
		portfolios = append(portfolios, p)
	}
	utils.SendJSON(w, portfolios, http.StatusOK)
}

// HandleCreateAccount creates an account inside one of the user's
// portfolios. The accounting method is fixed at creation.
func (h *PortfolioHandler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var body struct {
		PortfolioID      int64  `json:"portfolio_id"`
		Platform         string `json:"platform"`
		Name             string `json:"name"`
		AccountingMethod string `json:"accounting_method"`
		StartedOn        string `json:"started_on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	owned, err := portfolioOwnedBy(userID, body.PortfolioID)
	if err != nil || !owned {
		utils.SendJSONError(w, "Portfolio not found", http.StatusNotFound)
		return
	}

	platform, ok := h.reg.PlatformByName(body.Platform)
	if !ok {
		utils.SendJSONError(w, "Unknown platform", http.StatusBadRequest)
		return
	}

	account := &models.Account{
		PortfolioID:      body.PortfolioID,
		PlatformID:       platform.ID,
		Name:             body.Name,
		AccountingMethod: models.AccountingMethod(body.AccountingMethod),
	}
	if body.StartedOn != "" {
		if t, err := time.Parse("2006-01-02", body.StartedOn); err == nil {
			account.StartedOn = t
		}
	}

	if err := h.ledgerService.CreateAccount(account); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	utils.SendJSON(w, account, http.StatusCreated)
}

// HandleListAccounts lists a portfolio's accounts.
func (h *PortfolioHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	portfolioID, ok := h.requireOwnedPortfolio(w, r)
	if !ok {
		return
	}
	accounts, err := h.ledgerService.GetAccounts(portfolioID)
	if err != nil {
		logger.L.Error("Failed to list accounts", "portfolio_id", portfolioID, "error", err)
		utils.SendJSONError(w, "Failed to list accounts", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, accounts, http.StatusOK)
}

// HandleListAcquisitions lists acquisition records, filterable by
// account_id, currency_id, and date range.
func (h *PortfolioHandler) HandleListAcquisitions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireOwnedPortfolio(w, r); !ok {
		return
	}
	acquisitions, err := h.ledgerService.GetAcquisitions(reportFilterFromRequest(r))
	if err != nil {
		utils.SendJSONError(w, "Failed to list acquisitions", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, acquisitions, http.StatusOK)
}

// HandleListAssets lists the open lots.
func (h *PortfolioHandler) HandleListAssets(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireOwnedPortfolio(w, r); !ok {
		return
	}
	assets, err := h.ledgerService.GetAssets(reportFilterFromRequest(r))
	if err != nil {
		utils.SendJSONError(w, "Failed to list assets", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, assets, http.StatusOK)
}

// HandleListDisposals lists disposal records.
func (h *PortfolioHandler) HandleListDisposals(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireOwnedPortfolio(w, r); !ok {
		return
	}
	disposals, err := h.ledgerService.GetDisposals(reportFilterFromRequest(r))
	if err != nil {
		utils.SendJSONError(w, "Failed to list disposals", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, disposals, http.StatusOK)
}

// HandleListTransfers lists reconciled transfers for a portfolio.
func (h *PortfolioHandler) HandleListTransfers(w http.ResponseWriter, r *http.Request) {
	portfolioID, ok := h.requireOwnedPortfolio(w, r)
	if !ok {
		return
	}
	transfers, err := h.ledgerService.GetTransfers(portfolioID)
	if err != nil {
		utils.SendJSONError(w, "Failed to list transfers", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, transfers, http.StatusOK)
}

// HandleGainsSummary returns the short/long-term capital gains summary for a
// calendar year (defaults to the current year).
func (h *PortfolioHandler) HandleGainsSummary(w http.ResponseWriter, r *http.Request) {
	portfolioID, ok := h.requireOwnedPortfolio(w, r)
	if !ok {
		return
	}
	year := int(utils.QueryInt64(r, "year"))
	if year == 0 {
		year = time.Now().Year()
	}
	summary, err := h.ledgerService.GainsSummary(portfolioID, year)
	if err != nil {
		logger.L.Error("Failed to compute gains summary", "portfolio_id", portfolioID, "year", year, "error", err)
		utils.SendJSONError(w, "Failed to compute gains summary", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, summary, http.StatusOK)
}

// HandleExportTXF streams a TurboTax TXF Form 8949 document for a year's
// disposals.
func (h *PortfolioHandler) HandleExportTXF(w http.ResponseWriter, r *http.Request) {
	portfolioID, ok := h.requireOwnedPortfolio(w, r)
	if !ok {
		return
	}
	year := int(utils.QueryInt64(r, "year"))
	if year == 0 {
		year = time.Now().Year()
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "cryptofolio"
	}

	doc, err := h.ledgerService.ExportTXF(portfolioID, year, name)
	if err != nil {
		logger.L.Error("Failed to export TXF", "portfolio_id", portfolioID, "year", year, "error", err)
		utils.SendJSONError(w, "Failed to export TXF", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="form8949.txf"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc))
}
