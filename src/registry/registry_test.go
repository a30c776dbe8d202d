package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/backend/src/database"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
)

func loadSeeded(t *testing.T) *Registry {
	t.Helper()
	logger.InitLogger("error")
	database.InitDB(":memory:")
	require.NoError(t, database.Seed())

	reg, err := Load(database.DB)
	require.NoError(t, err)
	return reg
}

func TestLookupsBySymbolAndID(t *testing.T) {
	reg := loadSeeded(t)

	btc, ok := reg.CryptoBySymbol("BTC")
	require.True(t, ok)
	require.Equal(t, models.KindCrypto, btc.Kind)

	usd, ok := reg.FiatBySymbol("USD")
	require.True(t, ok)
	require.Equal(t, models.KindFiat, usd.Kind)

	byID, ok := reg.CurrencyByID(btc.ID)
	require.True(t, ok)
	require.Equal(t, btc, byID)

	_, ok = reg.CurrencyByID(0)
	require.False(t, ok)
	_, ok = reg.CryptoBySymbol("USD")
	require.False(t, ok)
}

func TestBySymbolPrefersCrypto(t *testing.T) {
	reg := loadSeeded(t)

	_, err := database.DB.Exec(
		`INSERT INTO currencies (name, symbol, kind) VALUES ('Fakecoin USD', 'USD', 'crypto')`)
	require.NoError(t, err)
	require.NoError(t, reg.Reload(database.DB))

	c, ok := reg.BySymbol("USD")
	require.True(t, ok)
	require.Equal(t, models.KindCrypto, c.Kind)

	c, ok = reg.BySymbol("EUR")
	require.True(t, ok)
	require.Equal(t, models.KindFiat, c.Kind)
}

func TestPlatformByName(t *testing.T) {
	reg := loadSeeded(t)

	p, ok := reg.PlatformByName("Coinbase")
	require.True(t, ok)
	require.NotZero(t, p.ID)

	_, ok = reg.PlatformByName("Mt. Gox")
	require.False(t, ok)
}

func TestReloadPicksUpNewRows(t *testing.T) {
	reg := loadSeeded(t)

	_, ok := reg.CryptoBySymbol("XYZ")
	require.False(t, ok)

	_, err := database.DB.Exec(
		`INSERT INTO currencies (name, symbol, kind) VALUES ('Xyzcoin', 'XYZ', 'crypto')`)
	require.NoError(t, err)
	require.NoError(t, reg.Reload(database.DB))

	xyz, ok := reg.CryptoBySymbol("XYZ")
	require.True(t, ok)
	require.Equal(t, "Xyzcoin", xyz.Name)
}
