// Package coinbasepro parses the Coinbase Pro / Exchange account statement
// CSV. Trade legs arrive as separate match and fee rows sharing a trade id;
// they are folded into one transaction and classified once both sides are
// known.
package coinbasepro

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/processors"
	"github.com/username/cryptofolio/backend/src/registry"
	"github.com/username/cryptofolio/backend/src/utils"
)

const (
	colType       = "type"
	colTime       = "time"
	colAmount     = "amount"
	colCurrency   = "amount/balance unit"
	colTradeID    = "trade id"
	colOrderID    = "order id"
	colTransferID = "transfer id"
)

type CoinbaseProParser struct {
	reg *registry.Registry
}

func NewParser(reg *registry.Registry) *CoinbaseProParser {
	return &CoinbaseProParser{reg: reg}
}

func (p *CoinbaseProParser) Parse(file io.Reader, account *models.Account) ([]models.Transaction, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[h] = i
	}

	drafts := map[string]*models.Transaction{}
	var order []string

	draftFor := func(key, platformTxID string, completedAt string) (*models.Transaction, error) {
		if tx, ok := drafts[key]; ok {
			return tx, nil
		}
		at, err := utils.ParseReportTime(completedAt)
		if err != nil {
			return nil, err
		}
		tx := &models.Transaction{
			AccountID:             account.ID,
			PortfolioID:           account.PortfolioID,
			PlatformTransactionID: platformTxID,
			CompletedAt:           at,
		}
		drafts[key] = tx
		order = append(order, key)
		return tx, nil
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		field := func(name string) string {
			if i, ok := col[name]; ok && i < len(record) {
				return record[i]
			}
			return ""
		}

		rowType := field(colType)
		switch rowType {
		case "match", "fee", "conversion":
			currency, ok := p.reg.BySymbol(field(colCurrency))
			if !ok {
				logger.L.Warn("Skipping row with unknown currency", "symbol", field(colCurrency), "row_type", rowType)
				continue
			}
			amount, err := utils.ParseDecimal(field(colAmount))
			if err != nil {
				logger.L.Warn("Skipping row with bad amount", "row_type", rowType, "error", err)
				continue
			}

			var tx *models.Transaction
			if rowType == "conversion" {
				at, perr := utils.ParseReportTime(field(colTime))
				if perr != nil {
					logger.L.Warn("Skipping conversion row with bad timestamp", "error", perr)
					continue
				}
				key := fmt.Sprintf("conversion:%d", at.Unix())
				tx, err = draftFor(key, fmt.Sprintf("%d:%s", account.ID, key), field(colTime))
			} else {
				key := field(colTradeID)
				tx, err = draftFor(key, field(colOrderID)+":"+key, field(colTime))
			}
			if err != nil {
				logger.L.Warn("Skipping row with bad timestamp", "row_type", rowType, "error", err)
				continue
			}

			if rowType == "fee" {
				tx.FeeCurrencyID = sql.NullInt64{Int64: currency.ID, Valid: true}
				tx.Fee = decimal.NewNullDecimal(amount)
			} else {
				tx.SetAmount(currency.ID, amount)
			}

		case "deposit", "withdrawal":
			transferID := field(colTransferID)
			if transferID == "" {
				continue
			}
			currency, ok := p.reg.CryptoBySymbol(field(colCurrency))
			if !ok {
				// fiat deposits and withdrawals are not ledger events
				continue
			}
			amount, err := utils.ParseDecimal(field(colAmount))
			if err != nil {
				logger.L.Warn("Skipping transfer row with bad amount", "transfer_id", transferID, "error", err)
				continue
			}
			at, err := utils.ParseReportTime(field(colTime))
			if err != nil {
				logger.L.Warn("Skipping transfer row with bad timestamp", "transfer_id", transferID, "error", err)
				continue
			}

			txType := models.TypeTransferIn
			if rowType == "withdrawal" {
				txType = models.TypeTransferOut
			}
			key := "transfer:" + transferID
			drafts[key] = &models.Transaction{
				AccountID:             account.ID,
				PortfolioID:           account.PortfolioID,
				PlatformTransactionID: transferID,
				Type:                  txType,
				FromCurrencyID:        currency.ID,
				ToCurrencyID:          currency.ID,
				FromAmount:            amount,
				ToAmount:              amount,
				CompletedAt:           at,
			}
			order = append(order, key)
		}
	}

	var txs []models.Transaction
	for _, key := range order {
		tx := drafts[key]
		if tx.Type == "" {
			if err := p.classify(tx); err != nil {
				logger.L.Warn("Skipping unclassifiable transaction", "platform_transaction_id", tx.PlatformTransactionID, "error", err)
				continue
			}
		}
		txs = append(txs, *tx)
	}
	return txs, nil
}

func (p *CoinbaseProParser) classify(tx *models.Transaction) error {
	from, ok := p.reg.CurrencyByID(tx.FromCurrencyID)
	if !ok {
		return fmt.Errorf("%w: missing outflow side", models.ErrValidation)
	}
	to, ok := p.reg.CurrencyByID(tx.ToCurrencyID)
	if !ok {
		return fmt.Errorf("%w: missing inflow side", models.ErrValidation)
	}
	txType, err := processors.ClassifyTrade(from, tx.FromAmount, to, tx.ToAmount)
	if err != nil {
		return err
	}
	tx.Type = txType
	return nil
}
