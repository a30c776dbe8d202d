package services

import (
	"errors"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/models"
)

var (
	ErrParsingFailed  = errors.New("parsing failed")
	ErrPriceNotFound  = errors.New("no historical price available")
	ErrUnknownAccount = errors.New("unknown account")
)

// UploadResult summarizes one report import.
type UploadResult struct {
	BatchID      string `json:"batch_id"`
	Platform     string `json:"platform"`
	AccountID    int64  `json:"account_id"`
	Parsed       int    `json:"parsed"`
	Inserted     int    `json:"inserted"`
	Duplicates   int    `json:"duplicates"`
	PricesFilled int    `json:"prices_filled"`
}

// UploadService parses a platform CSV report and stores the normalized
// transactions for an account.
type UploadService interface {
	ProcessUpload(file io.Reader, platform string, account *models.Account) (*UploadResult, error)
}

// PriceService resolves the fiat market value of one unit of a crypto
// currency at a moment in the past.
type PriceService interface {
	HistoricalPrice(symbol string, at time.Time) (decimal.Decimal, error)
}

// ReportFilter narrows ledger listings. Zero values mean "any".
type ReportFilter struct {
	AccountID  int64
	CurrencyID int64
	From       time.Time
	To         time.Time
}

// YearGains is the capital-gains summary for one calendar year.
type YearGains struct {
	Year          int             `json:"year"`
	ShortProceeds decimal.Decimal `json:"short_term_proceeds"`
	ShortCost     decimal.Decimal `json:"short_term_cost"`
	ShortGain     decimal.Decimal `json:"short_term_gain"`
	LongProceeds  decimal.Decimal `json:"long_term_proceeds"`
	LongCost      decimal.Decimal `json:"long_term_cost"`
	LongGain      decimal.Decimal `json:"long_term_gain"`
	Disposals     int             `json:"disposals"`
}

// LedgerService runs the processing engine and exposes the persisted
// acquisition/disposal/transfer records for reporting.
type LedgerService interface {
	ProcessAccount(accountID int64) (int, error)
	GetAccount(accountID int64) (*models.Account, error)
	GetAccounts(portfolioID int64) ([]models.Account, error)
	CreateAccount(account *models.Account) error
	GetTransactions(filter ReportFilter) ([]models.Transaction, error)
	GetAcquisitions(filter ReportFilter) ([]models.Acquisition, error)
	GetAssets(filter ReportFilter) ([]models.Asset, error)
	GetDisposals(filter ReportFilter) ([]models.Disposal, error)
	GetTransfers(portfolioID int64) ([]models.Transfer, error)
	GainsSummary(portfolioID int64, year int) (*YearGains, error)
	ExportTXF(portfolioID int64, year int, name string) (string, error)
}
