package handlers

import (
	"errors"
	"net/http"

	"github.com/username/cryptofolio/backend/src/config"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/services"
	"github.com/username/cryptofolio/backend/src/utils"
)

type UploadHandler struct {
	uploadService services.UploadService
	ledgerService services.LedgerService
}

func NewUploadHandler(uploadService services.UploadService, ledgerService services.LedgerService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService, ledgerService: ledgerService}
}

// HandleUpload accepts a multipart form with a "file" part, a "platform"
// field naming the report source, and an "account_id" field.
func (h *UploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.Cfg.MaxUploadSizeBytes)
	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		utils.SendJSONError(w, "Upload too large or malformed", http.StatusRequestEntityTooLarge)
		return
	}

	accountID := utils.QueryInt64(r, "account_id")
	if accountID == 0 {
		if v := r.FormValue("account_id"); v != "" {
			accountID = utils.FormInt64(v)
		}
	}
	if accountID == 0 {
		utils.SendJSONError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	owned, err := accountOwnedBy(userID, accountID)
	if err != nil {
		logger.L.Error("Ownership check failed", "account_id", accountID, "error", err)
		utils.SendJSONError(w, "Failed to verify account", http.StatusInternalServerError)
		return
	}
	if !owned {
		utils.SendJSONError(w, "Account not found", http.StatusNotFound)
		return
	}

	platform := r.FormValue("platform")
	if platform == "" {
		utils.SendJSONError(w, "platform is required", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		utils.SendJSONError(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	account, err := h.ledgerService.GetAccount(accountID)
	if err != nil {
		utils.SendJSONError(w, "Account not found", http.StatusNotFound)
		return
	}

	result, err := h.uploadService.ProcessUpload(file, platform, account)
	if err != nil {
		if errors.Is(err, services.ErrParsingFailed) {
			utils.SendJSONError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		logger.L.Error("Upload processing failed", "account_id", accountID, "platform", platform, "error", err)
		utils.SendJSONError(w, "Failed to process upload", http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, result, http.StatusOK)
}
