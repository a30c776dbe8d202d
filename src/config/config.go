package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	JWTSecret          string
	Port               string
	DatabasePath       string
	LogLevel           string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	MaxUploadSizeBytes int64

	// FiatSymbol is the single designated fiat unit per portfolio; cost basis
	// and proceeds are always denominated in it.
	FiatSymbol string

	// TransferTolerance bounds how far apart in time a transfer_out and its
	// matching transfer_in may be recorded on the two platforms.
	TransferTolerance time.Duration

	QuoteAPIBaseURL string
	QuoteAPITimeout time.Duration
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	jwtSecret := getEnv("JWT_SECRET", "your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes")
	if jwtSecret == "your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes" {
		log.Println("WARNING: Using default insecure JWT_SECRET. Set JWT_SECRET environment variable for production.")
	}

	maxUploadSizeBytesStr := getEnv("MAX_UPLOAD_SIZE_BYTES", "10485760")
	maxUploadSizeBytes, err := strconv.ParseInt(maxUploadSizeBytesStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid MAX_UPLOAD_SIZE_BYTES format '%s'. Using default 10MB. Error: %v", maxUploadSizeBytesStr, err)
		maxUploadSizeBytes = 10 * 1024 * 1024
	}

	toleranceStr := getEnv("TRANSFER_TOLERANCE", "259200")
	toleranceSeconds, err := strconv.ParseInt(toleranceStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid TRANSFER_TOLERANCE format '%s'. Using default 259200s (3 days). Error: %v", toleranceStr, err)
		toleranceSeconds = 259200
	}

	Cfg = &AppConfig{
		JWTSecret:          jwtSecret,
		Port:               getEnv("PORT", "8080"),
		DatabasePath:       getEnv("DATABASE_PATH", "./cryptofolio.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 60*time.Minute),
		RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 168*time.Hour),
		MaxUploadSizeBytes: maxUploadSizeBytes,
		FiatSymbol:         getEnv("FIAT_SYMBOL", "USD"),
		TransferTolerance:  time.Duration(toleranceSeconds) * time.Second,
		QuoteAPIBaseURL:    getEnv("QUOTE_API_BASE_URL", "https://api.coinmarketcap.com"),
		QuoteAPITimeout:    getEnvAsDuration("QUOTE_API_TIMEOUT", 20*time.Second),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, Fiat=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.FiatSymbol)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
