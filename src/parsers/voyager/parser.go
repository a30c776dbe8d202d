// Package voyager parses the Voyager transactions CSV from
// https://research.investvoyager.com/tax/ (default Voyager format).
package voyager

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/registry"
	"github.com/username/cryptofolio/backend/src/utils"
)

const (
	colTime      = "transaction_date"
	colAmount    = "quantity"
	colCurrency  = "base_asset"
	colPrice     = "price"
	colTradeID   = "transaction_id"
	colType      = "transaction_type"
	colDirection = "transaction_direction"
)

type VoyagerParser struct {
	reg  *registry.Registry
	fiat models.Currency
}

func NewParser(reg *registry.Registry, fiat models.Currency) *VoyagerParser {
	return &VoyagerParser{reg: reg, fiat: fiat}
}

type row struct {
	time      string
	amount    string
	currency  string
	price     string
	tradeID   string
	rowType   string
	direction string
}

func (p *VoyagerParser) Parse(file io.Reader, account *models.Account) ([]models.Transaction, error) {
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
	for _, required := range []string{colTime, colAmount, colCurrency, colPrice, colTradeID, colType, colDirection} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("report is missing column %q", required)
		}
	}

	var rows []row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		field := func(name string) string {
			if i := col[name]; i < len(record) {
				return record[i]
			}
			return ""
		}
		rows = append(rows, row{
			time:      field(colTime),
			amount:    field(colAmount),
			currency:  field(colCurrency),
			price:     field(colPrice),
			tradeID:   field(colTradeID),
			rowType:   field(colType),
			direction: field(colDirection),
		})
	}

	// The report is not guaranteed to be chronological.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].time < rows[j].time })

	seen := map[string]bool{}
	var txs []models.Transaction
	for _, r := range rows {
		if seen[r.tradeID] {
			return nil, fmt.Errorf("duplicate transaction id %q in report", r.tradeID)
		}

		var (
			tx  *models.Transaction
			err error
		)
		switch r.rowType {
		case "TRADE":
			tx, err = p.parseTrade(r)
		case "INTEREST":
			tx, err = p.parseIncome(r, models.TypeInterest)
		case "ADMIN", "REWARD":
			tx, err = p.parseIncome(r, models.TypeReward)
		case "BLOCKCHAIN":
			tx, err = p.parseTransfer(r)
		default:
			continue
		}
		if err != nil {
			logger.L.Warn("Skipping report row", "trade_id", r.tradeID, "type", r.rowType, "error", err)
			continue
		}

		seen[r.tradeID] = true
		tx.AccountID = account.ID
		tx.PortfolioID = account.PortfolioID
		txs = append(txs, *tx)
	}
	return txs, nil
}

// parseRow resolves the crypto currency, amount, and fiat value; price is
// always quoted in fiat.
func (p *VoyagerParser) parseRow(r row) (models.Currency, decimal.Decimal, decimal.Decimal, error) {
	currency, ok := p.reg.CryptoBySymbol(r.currency)
	if !ok {
		return models.Currency{}, decimal.Zero, decimal.Zero, fmt.Errorf("unknown currency %q", r.currency)
	}
	amount, err := utils.ParseDecimal(r.amount)
	if err != nil {
		return models.Currency{}, decimal.Zero, decimal.Zero, err
	}
	price, err := utils.ParseDecimal(r.price)
	if err != nil {
		return models.Currency{}, decimal.Zero, decimal.Zero, err
	}
	return currency, amount, amount.Mul(price), nil
}

func (p *VoyagerParser) newTransaction(r row) (models.Transaction, error) {
	completedAt, err := utils.ParseReportTime(r.time)
	if err != nil {
		return models.Transaction{}, err
	}
	return models.Transaction{
		PlatformTransactionID: r.tradeID,
		CompletedAt:           completedAt,
	}, nil
}

func (p *VoyagerParser) parseTrade(r row) (*models.Transaction, error) {
	tx, err := p.newTransaction(r)
	if err != nil {
		return nil, err
	}
	currency, amount, fiatAmount, err := p.parseRow(r)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(r.direction) {
	case "buy":
		tx.Type = models.TypeBuy
		tx.FromCurrencyID = p.fiat.ID
		tx.FromAmount = fiatAmount.Neg()
		tx.ToCurrencyID = currency.ID
		tx.ToAmount = amount
	case "sell":
		tx.Type = models.TypeSell
		tx.FromCurrencyID = currency.ID
		tx.FromAmount = amount.Neg()
		tx.ToCurrencyID = p.fiat.ID
		tx.ToAmount = fiatAmount
	default:
		return nil, fmt.Errorf("unknown trade direction %q", r.direction)
	}
	return &tx, nil
}

func (p *VoyagerParser) parseIncome(r row, txType models.TransactionType) (*models.Transaction, error) {
	tx, err := p.newTransaction(r)
	if err != nil {
		return nil, err
	}
	currency, amount, fiatAmount, err := p.parseRow(r)
	if err != nil {
		return nil, err
	}

	tx.Type = txType
	tx.FromCurrencyID = currency.ID
	tx.ToCurrencyID = currency.ID
	tx.FromAmount = amount
	tx.ToAmount = amount
	tx.MarketValueCurrencyID = sql.NullInt64{Int64: p.fiat.ID, Valid: true}
	tx.MarketValue = decimal.NewNullDecimal(fiatAmount)
	return &tx, nil
}

func (p *VoyagerParser) parseTransfer(r row) (*models.Transaction, error) {
	tx, err := p.newTransaction(r)
	if err != nil {
		return nil, err
	}
	currency, amount, _, err := p.parseRow(r)
	if err != nil {
		return nil, err
	}

	switch {
	case r.direction == "deposit":
		tx.Type = models.TypeTransferIn
		tx.FromAmount = amount
		tx.ToAmount = amount
	case strings.HasPrefix(r.direction, "withdraw"):
		tx.Type = models.TypeTransferOut
		tx.FromAmount = amount.Neg()
		tx.ToAmount = amount.Neg()
	default:
		return nil, fmt.Errorf("unknown transfer direction %q", r.direction)
	}
	tx.FromCurrencyID = currency.ID
	tx.ToCurrencyID = currency.ID
	return &tx, nil
}
