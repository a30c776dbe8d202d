package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/username/cryptofolio/backend/src/config"
	"github.com/username/cryptofolio/backend/src/database"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/security"
	"github.com/username/cryptofolio/backend/src/utils"
)

// contextKey is unexported so no other package can collide with our keys.
type contextKey string

const userIDContextKey contextKey = "userID"

type UserHandler struct {
	authService *security.AuthService
}

func NewUserHandler(authService *security.AuthService) *UserHandler {
	return &UserHandler{authService: authService}
}

// RegisterUserHandler creates the user and a default portfolio so uploads
// can start immediately.
func (h *UserHandler) RegisterUserHandler(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if credentials.Username == "" || len(credentials.Password) < 8 {
		utils.SendJSONError(w, "Username and a password of at least 8 characters are required", http.StatusBadRequest)
		return
	}

	hash, err := h.authService.HashPassword(credentials.Password)
	if err != nil {
		utils.SendJSONError(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	tx, err := database.DB.Begin()
	if err != nil {
		utils.SendJSONError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO users (username, password) VALUES (?, ?)`, credentials.Username, hash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			utils.SendJSONError(w, "Username already taken", http.StatusConflict)
			return
		}
		logger.L.Error("Failed to insert user", "username", credentials.Username, "error", err)
		utils.SendJSONError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	userID, err := res.LastInsertId()
	if err != nil {
		utils.SendJSONError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	if _, err := tx.Exec(`INSERT INTO portfolios (user_id, name) VALUES (?, ?)`, userID, "Default"); err != nil {
		logger.L.Error("Failed to create default portfolio", "user_id", userID, "error", err)
		utils.SendJSONError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(); err != nil {
		utils.SendJSONError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	logger.L.Info("User registered", "user_id", userID, "username", credentials.Username)
	utils.SendJSON(w, map[string]interface{}{"id": userID, "username": credentials.Username}, http.StatusCreated)
}

func (h *UserHandler) LoginUserHandler(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := getUserByUsername(credentials.Username)
	if err != nil {
		logger.L.Warn("Login failed: user lookup", "username", credentials.Username, "error", err)
		utils.SendJSONError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}
	if err := h.authService.CompareHashAndPassword(user.Password, credentials.Password); err != nil {
		logger.L.Warn("Login failed: password mismatch", "username", credentials.Username)
		utils.SendJSONError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	userIDStr := fmt.Sprintf("%d", user.ID)
	accessToken, err := h.authService.GenerateToken(userIDStr)
	if err != nil {
		utils.SendJSONError(w, "Failed to generate access token", http.StatusInternalServerError)
		return
	}
	refreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		utils.SendJSONError(w, "Failed to generate refresh token", http.StatusInternalServerError)
		return
	}

	expiresAt := time.Now().Add(config.Cfg.RefreshTokenExpiry)
	if _, err := database.DB.Exec(
		`INSERT INTO sessions (user_id, token, refresh_token, expires_at) VALUES (?, ?, ?, ?)`,
		user.ID, accessToken, refreshToken, expiresAt); err != nil {
		logger.L.Error("Failed to create session", "user_id", user.ID, "error", err)
		utils.SendJSONError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"user":          map[string]interface{}{"id": user.ID, "username": user.Username},
	}, http.StatusOK)
}

func (h *UserHandler) RefreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	var requestBody struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil || requestBody.RefreshToken == "" {
		utils.SendJSONError(w, "Refresh token is required", http.StatusBadRequest)
		return
	}

	var userID int64
	err := database.DB.QueryRow(
		`SELECT user_id FROM sessions WHERE refresh_token = ?`, requestBody.RefreshToken).Scan(&userID)
	if err != nil {
		utils.SendJSONError(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	userIDStr := fmt.Sprintf("%d", userID)
	newAccessToken, err := h.authService.GenerateToken(userIDStr)
	if err != nil {
		utils.SendJSONError(w, "Failed to generate new access token", http.StatusInternalServerError)
		return
	}
	newRefreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		utils.SendJSONError(w, "Failed to generate new refresh token", http.StatusInternalServerError)
		return
	}

	expiresAt := time.Now().Add(config.Cfg.RefreshTokenExpiry)
	if _, err := database.DB.Exec(
		`UPDATE sessions SET token = ?, refresh_token = ?, expires_at = ? WHERE refresh_token = ?`,
		newAccessToken, newRefreshToken, expiresAt, requestBody.RefreshToken); err != nil {
		utils.SendJSONError(w, "Failed to refresh session", http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, map[string]string{
		"access_token":  newAccessToken,
		"refresh_token": newRefreshToken,
	}, http.StatusOK)
}

// AuthMiddleware validates the bearer token and its session, then stores the
// user id in the request context.
func (h *UserHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			utils.SendJSONError(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		userIDStr, err := h.authService.ValidateToken(tokenString)
		if err != nil {
			logger.L.Warn("Token validation failed", "path", r.URL.Path, "error", err)
			utils.SendJSONError(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		var sessionID int64
		if err := database.DB.QueryRow(`SELECT id FROM sessions WHERE token = ?`, tokenString).Scan(&sessionID); err != nil {
			utils.SendJSONError(w, "Invalid or expired session", http.StatusUnauthorized)
			return
		}

		userID, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil {
			utils.SendJSONError(w, "Invalid user ID in token", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), userIDContextKey, userID)
		next(w, r.WithContext(ctx))
	}
}

// GetUserIDFromContext retrieves the authenticated user id set by
// AuthMiddleware.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	return userID, ok
}

func getUserByUsername(username string) (*models.User, error) {
	var u models.User
	err := database.DB.QueryRow(
		`SELECT id, username, password FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.Password)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %q not found", username)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// portfolioOwnedBy reports whether the portfolio belongs to the user.
func portfolioOwnedBy(userID, portfolioID int64) (bool, error) {
	var ownerID int64
	err := database.DB.QueryRow(`SELECT user_id FROM portfolios WHERE id = ?`, portfolioID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ownerID == userID, nil
}

// accountOwnedBy reports whether the account's portfolio belongs to the user.
func accountOwnedBy(userID, accountID int64) (bool, error) {
	var ownerID int64
	err := database.DB.QueryRow(`
		SELECT p.user_id FROM accounts a JOIN portfolios p ON p.id = a.portfolio_id
		WHERE a.id = ?`, accountID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ownerID == userID, nil
}
