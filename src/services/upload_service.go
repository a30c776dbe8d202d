package services

import (
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/parsers"
	"github.com/username/cryptofolio/backend/src/processors"
	"github.com/username/cryptofolio/backend/src/registry"
)

type uploadServiceImpl struct {
	db           *sql.DB
	reg          *registry.Registry
	fiat         models.Currency
	priceService PriceService
	reportCache  *cache.Cache
}

func NewUploadService(db *sql.DB, reg *registry.Registry, fiat models.Currency,
	priceService PriceService, reportCache *cache.Cache) UploadService {
	return &uploadServiceImpl{
		db:           db,
		reg:          reg,
		fiat:         fiat,
		priceService: priceService,
		reportCache:  reportCache,
	}
}

// ProcessUpload parses the report, fills missing market values from the
// price service, and stores the drafts. Re-uploading the same report is
// safe: rows colliding on (account, type, platform_transaction_id) are
// counted as duplicates and skipped.
func (s *uploadServiceImpl) ProcessUpload(file io.Reader, platform string, account *models.Account) (*UploadResult, error) {
	parser, err := parsers.GetParser(platform, s.reg, s.fiat)
	if err != nil {
		return nil, err
	}

	txs, err := parser.Parse(file, account)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	result := &UploadResult{
		BatchID:   uuid.NewString(),
		Platform:  platform,
		AccountID: account.ID,
		Parsed:    len(txs),
	}

	for i := range txs {
		if s.fillMarketValue(&txs[i]) {
			result.PricesFilled++
		}
	}

	dbtx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("error beginning upload transaction: %w", err)
	}
	defer dbtx.Rollback()

	for i := range txs {
		err := processors.InsertTransaction(dbtx, &txs[i])
		if errors.Is(err, models.ErrDuplicateTransaction) {
			result.Duplicates++
			continue
		}
		if err != nil {
			return nil, err
		}
		result.Inserted++
	}

	if err := dbtx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing upload transaction: %w", err)
	}

	s.reportCache.Flush()
	logger.L.Info("Report imported", "batch_id", result.BatchID, "platform", platform,
		"account_id", account.ID, "parsed", result.Parsed, "inserted", result.Inserted,
		"duplicates", result.Duplicates, "prices_filled", result.PricesFilled)
	return result, nil
}

// fillMarketValue resolves a missing fiat value for drafts whose cost basis
// depends on one: crypto-funded acquisitions and exchanges. A lookup failure
// is logged and left for the processor to reject, never guessed.
func (s *uploadServiceImpl) fillMarketValue(tx *models.Transaction) bool {
	if tx.MarketValue.Valid {
		return false
	}

	var symbol string
	var amount decimal.Decimal
	switch {
	case tx.Type == models.TypeExchange:
		from, ok := s.reg.CurrencyByID(tx.FromCurrencyID)
		if !ok {
			return false
		}
		symbol, amount = from.Symbol, tx.FromAmount.Abs()
	case tx.Type.IsAcquisition():
		from, ok := s.reg.CurrencyByID(tx.FromCurrencyID)
		if !ok || from.Fiat() {
			return false
		}
		to, ok := s.reg.CurrencyByID(tx.ToCurrencyID)
		if !ok {
			return false
		}
		symbol, amount = to.Symbol, tx.ToAmount.Abs()
	default:
		return false
	}

	price, err := s.priceService.HistoricalPrice(symbol, tx.CompletedAt)
	if err != nil {
		logger.L.Warn("Could not fill market value", "platform_transaction_id", tx.PlatformTransactionID,
			"symbol", symbol, "error", err)
		return false
	}

	tx.MarketValue = decimal.NewNullDecimal(price.Mul(amount))
	tx.MarketValueCurrencyID = sql.NullInt64{Int64: s.fiat.ID, Valid: true}
	return true
}
