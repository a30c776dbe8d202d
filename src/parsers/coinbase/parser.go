// Package coinbase parses the Coinbase raw transactions CSV from
// https://accounts.coinbase.com/taxes/documents.
package coinbase

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/registry"
	"github.com/username/cryptofolio/backend/src/utils"
)

const (
	colTime           = "Date & time"
	colAcquiredAsset  = "Asset Acquired"
	colAcquiredAmount = "Quantity Acquired (Bought, Received, etc)"
	colCost           = "Cost Basis (incl. fees paid) (USD)"
	colTradeID        = "Transaction ID"
	colType           = "Transaction Type"
	colSource         = "Data Source"
)

type CoinbaseParser struct {
	reg  *registry.Registry
	fiat models.Currency
}

func NewParser(reg *registry.Registry, fiat models.Currency) *CoinbaseParser {
	return &CoinbaseParser{reg: reg, fiat: fiat}
}

// Parse extracts Reward rows; buys and sells come through the Coinbase Pro
// fills report instead and other row types carry no ledger effect here.
func (p *CoinbaseParser) Parse(file io.Reader, account *models.Account) ([]models.Transaction, error) {
	rows, err := readRows(file)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var txs []models.Transaction
	for _, row := range rows {
		if row[colSource] != "Coinbase" || row[colType] != "Reward" {
			continue
		}

		tradeID := row[colTradeID]
		if seen[tradeID] {
			return nil, fmt.Errorf("duplicate transaction id %q in report", tradeID)
		}
		seen[tradeID] = true

		currency, ok := p.reg.CryptoBySymbol(row[colAcquiredAsset])
		if !ok {
			logger.L.Warn("Skipping reward row with unknown currency", "symbol", row[colAcquiredAsset], "trade_id", tradeID)
			continue
		}
		amount, err := utils.ParseDecimal(row[colAcquiredAmount])
		if err != nil {
			logger.L.Warn("Skipping reward row with bad amount", "trade_id", tradeID, "error", err)
			continue
		}
		completedAt, err := utils.ParseReportTime(row[colTime])
		if err != nil {
			logger.L.Warn("Skipping reward row with bad timestamp", "trade_id", tradeID, "error", err)
			continue
		}
		marketValue, err := utils.ParseDecimal(row[colCost])
		if err != nil {
			logger.L.Warn("Skipping reward row with bad cost basis", "trade_id", tradeID, "error", err)
			continue
		}

		txs = append(txs, models.Transaction{
			AccountID:             account.ID,
			PortfolioID:           account.PortfolioID,
			PlatformTransactionID: tradeID,
			Type:                  models.TypeReward,
			FromCurrencyID:        currency.ID,
			ToCurrencyID:          currency.ID,
			FromAmount:            amount,
			ToAmount:              amount,
			MarketValueCurrencyID: nullID(p.fiat.ID),
			MarketValue:           decimal.NewNullDecimal(marketValue),
			CompletedAt:           completedAt,
		})
	}
	return txs, nil
}

func readRows(file io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(record) {
				row[h] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: true}
}
