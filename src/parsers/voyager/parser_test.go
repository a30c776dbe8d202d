package voyager

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/backend/src/database"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/registry"
)

const reportHeader = "transaction_date,quantity,base_asset,price,transaction_id,transaction_type,transaction_direction\n"

func newTestParser(t *testing.T) (*VoyagerParser, *registry.Registry) {
	t.Helper()
	logger.InitLogger("error")
	database.InitDB(":memory:")
	require.NoError(t, database.Seed())

	reg, err := registry.Load(database.DB)
	require.NoError(t, err)
	usd, ok := reg.FiatBySymbol("USD")
	require.True(t, ok)
	return NewParser(reg, usd), reg
}

func parseReport(t *testing.T, p *VoyagerParser, body string) []models.Transaction {
	t.Helper()
	account := &models.Account{ID: 7, PortfolioID: 3}
	txs, err := p.Parse(strings.NewReader(reportHeader+body), account)
	require.NoError(t, err)
	return txs
}

func TestParseTrades(t *testing.T) {
	p, reg := newTestParser(t)
	btc, _ := reg.CryptoBySymbol("BTC")

	txs := parseReport(t, p,
		"2021-02-01T09:00:00Z,0.5,BTC,40000,t2,TRADE,SELL\n"+
			"2021-01-01T09:00:00Z,1,BTC,30000,t1,TRADE,BUY\n")
	require.Len(t, txs, 2)

	// rows are reordered chronologically
	buy := txs[0]
	require.Equal(t, "t1", buy.PlatformTransactionID)
	require.Equal(t, models.TypeBuy, buy.Type)
	require.Equal(t, btc.ID, buy.ToCurrencyID)
	require.True(t, buy.FromAmount.Equal(decimal.RequireFromString("-30000")))
	require.True(t, buy.ToAmount.Equal(decimal.RequireFromString("1")))
	require.Equal(t, int64(7), buy.AccountID)
	require.Equal(t, int64(3), buy.PortfolioID)

	sell := txs[1]
	require.Equal(t, models.TypeSell, sell.Type)
	require.Equal(t, btc.ID, sell.FromCurrencyID)
	require.True(t, sell.FromAmount.Equal(decimal.RequireFromString("-0.5")))
	require.True(t, sell.ToAmount.Equal(decimal.RequireFromString("20000")))
}

func TestParseInterestCarriesMarketValue(t *testing.T) {
	p, reg := newTestParser(t)
	eth, _ := reg.CryptoBySymbol("ETH")

	txs := parseReport(t, p, "2021-03-01T00:00:00Z,0.1,ETH,2000,i1,INTEREST,interest\n")
	require.Len(t, txs, 1)

	tx := txs[0]
	require.Equal(t, models.TypeInterest, tx.Type)
	require.Equal(t, eth.ID, tx.FromCurrencyID)
	require.Equal(t, eth.ID, tx.ToCurrencyID)
	require.True(t, tx.FromAmount.Equal(decimal.RequireFromString("0.1")))
	require.True(t, tx.ToAmount.Equal(decimal.RequireFromString("0.1")))
	require.True(t, tx.MarketValue.Valid)
	require.True(t, tx.MarketValue.Decimal.Equal(decimal.RequireFromString("200")))
}

func TestParseBlockchainTransfers(t *testing.T) {
	p, _ := newTestParser(t)

	txs := parseReport(t, p,
		"2021-04-01T00:00:00Z,1,BTC,0,w1,BLOCKCHAIN,withdrawal\n"+
			"2021-04-02T00:00:00Z,2,BTC,0,d1,BLOCKCHAIN,deposit\n")
	require.Len(t, txs, 2)

	require.Equal(t, models.TypeTransferOut, txs[0].Type)
	require.True(t, txs[0].FromAmount.Equal(decimal.RequireFromString("-1")))
	require.True(t, txs[0].ToAmount.Equal(decimal.RequireFromString("-1")))

	require.Equal(t, models.TypeTransferIn, txs[1].Type)
	require.True(t, txs[1].ToAmount.Equal(decimal.RequireFromString("2")))
}

func TestParseSkipsBadRowsAndUnknownTypes(t *testing.T) {
	p, _ := newTestParser(t)

	txs := parseReport(t, p,
		"2021-01-01T00:00:00Z,1,NOPE,100,x1,TRADE,BUY\n"+
			"2021-01-02T00:00:00Z,1,BTC,100,x2,FEE,fee\n"+
			"2021-01-03T00:00:00Z,1,BTC,100,x3,TRADE,BUY\n")
	require.Len(t, txs, 1)
	require.Equal(t, "x3", txs[0].PlatformTransactionID)
}

func TestParseRejectsDuplicateIDs(t *testing.T) {
	p, _ := newTestParser(t)
	account := &models.Account{ID: 7, PortfolioID: 3}

	_, err := p.Parse(strings.NewReader(reportHeader+
		"2021-01-01T00:00:00Z,1,BTC,100,t1,TRADE,BUY\n"+
		"2021-01-02T00:00:00Z,1,BTC,100,t1,TRADE,BUY\n"), account)
	require.ErrorContains(t, err, "duplicate transaction id")
}

func TestParseRejectsMissingColumns(t *testing.T) {
	p, _ := newTestParser(t)
	account := &models.Account{ID: 7, PortfolioID: 3}

	_, err := p.Parse(strings.NewReader("transaction_date,quantity\n"), account)
	require.ErrorContains(t, err, "missing column")
}
