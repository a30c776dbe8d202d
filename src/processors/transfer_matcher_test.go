package processors

import (
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/backend/src/models"
)

const matchTolerance = 3 * 24 * time.Hour

func (f *fixture) transferOut(t *testing.T, account *models.Account, id, amount, fee string, at time.Time) *models.Transaction {
	t.Helper()
	tx := models.Transaction{
		AccountID:             account.ID,
		PlatformTransactionID: id,
		Type:                  models.TypeTransferOut,
		FromCurrencyID:        f.btc.ID,
		ToCurrencyID:          f.btc.ID,
		FromAmount:            dec(amount).Neg(),
		ToAmount:              dec(amount).Neg(),
		CompletedAt:           at,
	}
	if fee != "" {
		tx.FeeCurrencyID = sql.NullInt64{Int64: f.btc.ID, Valid: true}
		tx.Fee = decimal.NewNullDecimal(dec(fee))
	}
	return f.insertTx(t, tx)
}

func (f *fixture) transferIn(t *testing.T, account *models.Account, id, amount string, at time.Time) *models.Transaction {
	t.Helper()
	return f.insertTx(t, models.Transaction{
		AccountID:             account.ID,
		PlatformTransactionID: id,
		Type:                  models.TypeTransferIn,
		FromCurrencyID:        f.btc.ID,
		ToCurrencyID:          f.btc.ID,
		FromAmount:            dec(amount),
		ToAmount:              dec(amount),
		CompletedAt:           at,
	})
}

func TestFindMatchingTransferFeeAdjusted(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, "exchange", models.MethodFIFO)
	b := f.createAccount(t, "wallet", models.MethodFIFO)

	out := f.transferOut(t, a, "w1", "1.0", "0.001", ts(t, "2021-05-01 12:00:00"))
	in := f.transferIn(t, b, "d1", "0.999", ts(t, "2021-05-02 09:00:00"))

	match, err := FindMatchingTransfer(f.db, out, matchTolerance)
	require.NoError(t, err)
	require.Equal(t, in.ID, match.ID)

	// symmetric from the inbound side
	match, err = FindMatchingTransfer(f.db, in, matchTolerance)
	require.NoError(t, err)
	require.Equal(t, out.ID, match.ID)
}

func TestFindMatchingTransferRejectsAmountMismatch(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, "exchange", models.MethodFIFO)
	b := f.createAccount(t, "wallet", models.MethodFIFO)

	out := f.transferOut(t, a, "w1", "1.0", "0.001", ts(t, "2021-05-01 12:00:00"))
	f.transferIn(t, b, "d1", "0.95", ts(t, "2021-05-01 13:00:00"))

	_, err := FindMatchingTransfer(f.db, out, matchTolerance)
	require.ErrorIs(t, err, models.ErrAmbiguousTransferMatch)
}

func TestFindMatchingTransferOutsideToleranceWindow(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, "exchange", models.MethodFIFO)
	b := f.createAccount(t, "wallet", models.MethodFIFO)

	out := f.transferOut(t, a, "w1", "1.0", "", ts(t, "2021-05-01 12:00:00"))
	f.transferIn(t, b, "d1", "1.0", ts(t, "2021-05-10 12:00:00"))

	_, err := FindMatchingTransfer(f.db, out, matchTolerance)
	require.ErrorIs(t, err, models.ErrAmbiguousTransferMatch)
}

func TestFindMatchingTransferAmbiguousCandidates(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, "exchange", models.MethodFIFO)
	b := f.createAccount(t, "wallet", models.MethodFIFO)

	out := f.transferOut(t, a, "w1", "1.0", "", ts(t, "2021-05-01 12:00:00"))
	f.transferIn(t, b, "d1", "1.0", ts(t, "2021-05-01 14:00:00"))
	f.transferIn(t, b, "d2", "1.0", ts(t, "2021-05-01 16:00:00"))

	_, err := FindMatchingTransfer(f.db, out, matchTolerance)
	require.ErrorIs(t, err, models.ErrAmbiguousTransferMatch)
}

func TestFindMatchingTransferIgnoresOwnAccount(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, "exchange", models.MethodFIFO)

	out := f.transferOut(t, a, "w1", "1.0", "", ts(t, "2021-05-01 12:00:00"))
	f.transferIn(t, a, "d1", "1.0", ts(t, "2021-05-01 13:00:00"))

	_, err := FindMatchingTransfer(f.db, out, matchTolerance)
	require.ErrorIs(t, err, models.ErrAmbiguousTransferMatch)
}

func TestFindMatchingTransferRejectsNonTransfer(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, "exchange", models.MethodFIFO)

	tx := f.insertTx(t, models.Transaction{
		AccountID:             a.ID,
		PlatformTransactionID: "b1",
		Type:                  models.TypeBuy,
		FromCurrencyID:        f.usd.ID,
		ToCurrencyID:          f.btc.ID,
		FromAmount:            dec("-100"),
		ToAmount:              dec("0.01"),
		CompletedAt:           ts(t, "2021-05-01 12:00:00"),
	})

	_, err := FindMatchingTransfer(f.db, tx, matchTolerance)
	require.ErrorIs(t, err, models.ErrValidation)
}
