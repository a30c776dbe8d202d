package reports

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/backend/src/database"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/registry"
)

func loadRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	logger.InitLogger("error")
	database.InitDB(":memory:")
	require.NoError(t, database.Seed())

	reg, err := registry.Load(database.DB)
	require.NoError(t, err)
	return reg
}

func TestForm8949TXF(t *testing.T) {
	reg := loadRegistry(t)
	btc, _ := reg.CryptoBySymbol("BTC")
	eth, _ := reg.CryptoBySymbol("ETH")

	disposals := []models.Disposal{
		{
			CurrencyID:            btc.ID,
			CapitalGainsTreatment: models.ShortTerm,
			Amount:                decimal.RequireFromString("0.5"),
			CostAmount:            decimal.RequireFromString("15000.005"),
			SoldAmount:            decimal.RequireFromString("25000"),
			AcquiredAt:            time.Date(2021, 1, 15, 0, 0, 0, 0, time.UTC),
			DisposedAt:            time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			CurrencyID:            eth.ID,
			CapitalGainsTreatment: models.LongTerm,
			Amount:                decimal.RequireFromString("10"),
			CostAmount:            decimal.RequireFromString("2000"),
			SoldAmount:            decimal.RequireFromString("30000"),
			AcquiredAt:            time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
			DisposedAt:            time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	out, err := Form8949TXF(disposals, reg, "cryptofolio", time.Date(2022, 4, 15, 0, 0, 0, 0, time.UTC), StatusNone)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(out, "V042\nAcryptofolio\nD04/15/2022\n^\n"), "header: %q", out)

	records := strings.Split(out, "TD\n")
	require.Len(t, records, 3)

	require.Equal(t,
		"N712\nC1\nL1\nP0.5 BTC\nD01/15/2021\nD06/01/2021\n$15000.01\n$25000\n^\n",
		records[1])
	require.Equal(t,
		"N714\nC1\nL1\nP10 ETH\nD03/01/2020\nD06/01/2021\n$2000\n$30000\n^\n",
		records[2])
}

func TestForm8949TXFReportedStatusUsesBoxA(t *testing.T) {
	reg := loadRegistry(t)
	btc, _ := reg.CryptoBySymbol("BTC")

	disposals := []models.Disposal{{
		CurrencyID:            btc.ID,
		CapitalGainsTreatment: models.ShortTerm,
		Amount:                decimal.New(1, 0),
		CostAmount:            decimal.New(100, 0),
		SoldAmount:            decimal.New(200, 0),
		AcquiredAt:            time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		DisposedAt:            time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
	}}

	out, err := Form8949TXF(disposals, reg, "x", time.Now(), StatusReported)
	require.NoError(t, err)
	require.Contains(t, out, "N321\n")
}

func TestForm8949TXFRejectsUnknownStatus(t *testing.T) {
	reg := loadRegistry(t)
	_, err := Form8949TXF(nil, reg, "x", time.Now(), Status1099B("bogus"))
	require.ErrorContains(t, err, "unknown 1099-B status")
}

func TestForm8949TXFRejectsUnknownCurrency(t *testing.T) {
	reg := loadRegistry(t)
	_, err := Form8949TXF([]models.Disposal{{CurrencyID: 99999}}, reg, "x", time.Now(), StatusNone)
	require.ErrorContains(t, err, "unknown currency")
}
