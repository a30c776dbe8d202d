package processors

import (
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/backend/src/database"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/registry"
	"github.com/username/cryptofolio/backend/src/utils"
)

type fixture struct {
	db          *sql.DB
	reg         *registry.Registry
	usd         models.Currency
	btc         models.Currency
	eth         models.Currency
	portfolioID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger.InitLogger("error")
	database.InitDB(":memory:")
	require.NoError(t, database.Seed())

	reg, err := registry.Load(database.DB)
	require.NoError(t, err)

	f := &fixture{db: database.DB, reg: reg}
	var ok bool
	f.usd, ok = reg.FiatBySymbol("USD")
	require.True(t, ok)
	f.btc, ok = reg.CryptoBySymbol("BTC")
	require.True(t, ok)
	f.eth, ok = reg.CryptoBySymbol("ETH")
	require.True(t, ok)

	res, err := f.db.Exec(`INSERT INTO users (username, password) VALUES ('tester', 'x')`)
	require.NoError(t, err)
	userID, err := res.LastInsertId()
	require.NoError(t, err)

	res, err = f.db.Exec(`INSERT INTO portfolios (user_id, name) VALUES (?, 'Main')`, userID)
	require.NoError(t, err)
	f.portfolioID, err = res.LastInsertId()
	require.NoError(t, err)

	return f
}

func (f *fixture) createAccount(t *testing.T, name string, method models.AccountingMethod) *models.Account {
	t.Helper()
	platform, ok := f.reg.PlatformByName("Coinbase")
	require.True(t, ok)

	res, err := f.db.Exec(`
		INSERT INTO accounts (portfolio_id, platform_id, name, accounting_method, started_on)
		VALUES (?, ?, ?, ?, ?)`,
		f.portfolioID, platform.ID, name, method, utils.FormatTime(ts(t, "2020-01-01 00:00:00")))
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)

	return &models.Account{
		ID:               id,
		PortfolioID:      f.portfolioID,
		PlatformID:       platform.ID,
		Name:             name,
		AccountingMethod: method,
	}
}

// acquireLot inserts an acquisition with its open lot directly.
func (f *fixture) acquireLot(t *testing.T, account *models.Account, currency models.Currency,
	amount, cost string, acquiredAt time.Time) *models.Asset {
	t.Helper()
	acq := &models.Acquisition{
		AccountID:         account.ID,
		CurrencyID:        currency.ID,
		Amount:            dec(amount),
		CostCurrencyID:    sql.NullInt64{Int64: f.usd.ID, Valid: true},
		CostAmount:        dec(cost),
		AverageCostAmount: dec(cost).Div(dec(amount)),
		HasCost:           true,
		Type:              models.TypeBuy,
		AcquiredAt:        acquiredAt,
	}
	asset, err := insertAcquisition(f.db, acq)
	require.NoError(t, err)
	return asset
}

func (f *fixture) insertTx(t *testing.T, tx models.Transaction) *models.Transaction {
	t.Helper()
	if tx.PortfolioID == 0 {
		tx.PortfolioID = f.portfolioID
	}
	require.NoError(t, InsertTransaction(f.db, &tx))
	return &tx
}

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(utils.TimestampLayout, s)
	require.NoError(t, err)
	return parsed
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
