package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/cryptofolio/backend/src/config"
	"github.com/username/cryptofolio/backend/src/database"
	"github.com/username/cryptofolio/backend/src/handlers"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/processors"
	"github.com/username/cryptofolio/backend/src/registry"
	"github.com/username/cryptofolio/backend/src/security"
	"github.com/username/cryptofolio/backend/src/services"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Cryptofolio backend server starting...")

	if config.Cfg.JWTSecret == "" || len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid. Must be at least 32 bytes.")
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	if err := database.Seed(); err != nil {
		logger.L.Error("Failed to seed database", "error", err)
		os.Exit(1)
	}
	logger.L.Info("Database initialized successfully.")

	reg, err := registry.Load(database.DB)
	if err != nil {
		logger.L.Error("Failed to load currency/platform registry", "error", err)
		os.Exit(1)
	}
	fiat, ok := reg.FiatBySymbol(config.Cfg.FiatSymbol)
	if !ok {
		logger.L.Error("Configured fiat currency is not seeded", "symbol", config.Cfg.FiatSymbol)
		os.Exit(1)
	}

	logger.L.Info("Initializing report cache...")
	reportCache := cache.New(15*time.Minute, 30*time.Minute)

	logger.L.Info("Initializing services and handlers...")
	authService := security.NewAuthService(config.Cfg.JWTSecret)
	userHandler := handlers.NewUserHandler(authService)

	priceService := services.NewPriceService(config.Cfg.QuoteAPIBaseURL, config.Cfg.QuoteAPITimeout)
	processor := processors.NewTransactionProcessor(database.DB, reg, fiat, config.Cfg.TransferTolerance)
	ledgerService := services.NewLedgerService(database.DB, processor, reg, reportCache)
	uploadService := services.NewUploadService(database.DB, reg, fiat, priceService, reportCache)

	uploadHandler := handlers.NewUploadHandler(uploadService, ledgerService)
	portfolioHandler := handlers.NewPortfolioHandler(ledgerService, reg)
	txHandler := handlers.NewTransactionHandler(ledgerService)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	apiRouter.HandleFunc("POST /api/auth/login", userHandler.LoginUserHandler)
	apiRouter.HandleFunc("POST /api/auth/register", userHandler.RegisterUserHandler)
	apiRouter.HandleFunc("POST /api/auth/refresh", userHandler.RefreshTokenHandler)

	apiRouter.Handle("GET /api/portfolios", userHandler.AuthMiddleware(portfolioHandler.HandleListPortfolios))
	apiRouter.Handle("GET /api/accounts", userHandler.AuthMiddleware(portfolioHandler.HandleListAccounts))
	apiRouter.Handle("POST /api/accounts", userHandler.AuthMiddleware(portfolioHandler.HandleCreateAccount))

	apiRouter.Handle("POST /api/upload", userHandler.AuthMiddleware(uploadHandler.HandleUpload))
	apiRouter.Handle("GET /api/transactions", userHandler.AuthMiddleware(txHandler.HandleListTransactions))
	apiRouter.Handle("POST /api/process", userHandler.AuthMiddleware(txHandler.HandleProcessAccount))

	apiRouter.Handle("GET /api/acquisitions", userHandler.AuthMiddleware(portfolioHandler.HandleListAcquisitions))
	apiRouter.Handle("GET /api/assets", userHandler.AuthMiddleware(portfolioHandler.HandleListAssets))
	apiRouter.Handle("GET /api/disposals", userHandler.AuthMiddleware(portfolioHandler.HandleListDisposals))
	apiRouter.Handle("GET /api/transfers", userHandler.AuthMiddleware(portfolioHandler.HandleListTransfers))
	apiRouter.Handle("GET /api/gains", userHandler.AuthMiddleware(portfolioHandler.HandleGainsSummary))
	apiRouter.Handle("GET /api/export/txf", userHandler.AuthMiddleware(portfolioHandler.HandleExportTXF))

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Cryptofolio backend is running"})
		} else if !strings.HasPrefix(r.URL.Path, "/api/") {
			logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
			http.NotFound(w, r)
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
