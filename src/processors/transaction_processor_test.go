package processors

import (
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/backend/src/models"
)

func newProcessor(f *fixture) *TransactionProcessor {
	return NewTransactionProcessor(f.db, f.reg, f.usd, matchTolerance)
}

func (f *fixture) countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestProcessBuyCreatesLot(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "exchange", models.MethodFIFO)
	proc := newProcessor(f)

	tx := f.insertTx(t, models.Transaction{
		AccountID:             account.ID,
		PlatformTransactionID: "b1",
		Type:                  models.TypeBuy,
		FromCurrencyID:        f.usd.ID,
		ToCurrencyID:          f.btc.ID,
		FromAmount:            dec("-31000"),
		ToAmount:              dec("1"),
		FeeCurrencyID:         sql.NullInt64{Int64: f.usd.ID, Valid: true},
		Fee:                   decimal.NewNullDecimal(dec("100")),
		CompletedAt:           ts(t, "2021-01-01 00:00:00"),
	})

	require.NoError(t, proc.Process(tx, account))
	require.True(t, tx.Processed)

	var amount, cost, avg decimal.Decimal
	require.NoError(t, f.db.QueryRow(
		`SELECT amount, cost_amount, average_cost_amount FROM acquisitions WHERE transaction_id = ?`, tx.ID).
		Scan(&amount, &cost, &avg))
	require.True(t, amount.Equal(dec("1")))
	require.True(t, cost.Equal(dec("31100")), "fee absorbed into basis, got %s", cost)
	require.True(t, avg.Equal(dec("31100")))

	require.Equal(t, 1, f.countRows(t, "assets"))
}

func TestProcessSellSplitsFinalLot(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "exchange", models.MethodFIFO)
	proc := newProcessor(f)

	f.acquireLot(t, account, f.btc, "1", "10000", ts(t, "2021-01-01 00:00:00"))
	lot2 := f.acquireLot(t, account, f.btc, "2", "40000", ts(t, "2021-02-01 00:00:00"))
	f.acquireLot(t, account, f.btc, "3", "90000", ts(t, "2021-03-01 00:00:00"))

	sell := f.insertTx(t, models.Transaction{
		AccountID:             account.ID,
		PlatformTransactionID: "s1",
		Type:                  models.TypeSell,
		FromCurrencyID:        f.btc.ID,
		ToCurrencyID:          f.usd.ID,
		FromAmount:            dec("-2.5"),
		ToAmount:              dec("125000"),
		CompletedAt:           ts(t, "2021-06-01 00:00:00"),
	})
	require.NoError(t, proc.Process(sell, account))

	rows, err := f.db.Query(`SELECT amount, cost_amount, sold_amount, capital_gains_treatment
		FROM disposals WHERE transaction_id = ? ORDER BY id`, sell.ID)
	require.NoError(t, err)
	defer rows.Close()

	type disposal struct {
		amount, cost, sold decimal.Decimal
		treatment          string
	}
	var disposals []disposal
	for rows.Next() {
		var d disposal
		require.NoError(t, rows.Scan(&d.amount, &d.cost, &d.sold, &d.treatment))
		disposals = append(disposals, d)
	}
	require.NoError(t, rows.Err())
	require.Len(t, disposals, 2)

	// lot 1 fully consumed at its full basis
	require.True(t, disposals[0].amount.Equal(dec("1")))
	require.True(t, disposals[0].cost.Equal(dec("10000")))
	require.True(t, disposals[0].sold.Equal(dec("50000")))
	require.Equal(t, "short_term", disposals[0].treatment)

	// lot 2 split: 1.5 taken at 20000/unit
	require.True(t, disposals[1].amount.Equal(dec("1.5")))
	require.True(t, disposals[1].cost.Equal(dec("30000")))
	require.True(t, disposals[1].sold.Equal(dec("75000")))

	var remaining, remainingCost decimal.Decimal
	require.NoError(t, f.db.QueryRow(`SELECT amount, cost_amount FROM assets WHERE id = ?`, lot2.ID).
		Scan(&remaining, &remainingCost))
	require.True(t, remaining.Equal(dec("0.5")))
	require.True(t, remainingCost.Equal(dec("10000")))
}

func TestProcessDisposalLongTermTreatment(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "exchange", models.MethodFIFO)
	proc := newProcessor(f)

	f.acquireLot(t, account, f.btc, "1", "10000", ts(t, "2020-01-01 00:00:00"))

	sell := f.insertTx(t, models.Transaction{
		AccountID:             account.ID,
		PlatformTransactionID: "s1",
		Type:                  models.TypeSell,
		FromCurrencyID:        f.btc.ID,
		ToCurrencyID:          f.usd.ID,
		FromAmount:            dec("-1"),
		ToAmount:              dec("50000"),
		CompletedAt:           ts(t, "2021-06-01 00:00:00"),
	})
	require.NoError(t, proc.Process(sell, account))

	var treatment string
	require.NoError(t, f.db.QueryRow(`SELECT capital_gains_treatment FROM disposals WHERE transaction_id = ?`, sell.ID).
		Scan(&treatment))
	require.Equal(t, "long_term", treatment)
}

func TestProcessExchangeDisposesAndAcquires(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "exchange", models.MethodFIFO)
	proc := newProcessor(f)

	f.acquireLot(t, account, f.btc, "1", "10000", ts(t, "2021-01-01 00:00:00"))

	exchange := f.insertTx(t, models.Transaction{
		AccountID:             account.ID,
		PlatformTransactionID: "x1",
		Type:                  models.TypeExchange,
		FromCurrencyID:        f.btc.ID,
		ToCurrencyID:          f.eth.ID,
		FromAmount:            dec("-0.5"),
		ToAmount:              dec("10"),
		MarketValueCurrencyID: sql.NullInt64{Int64: f.usd.ID, Valid: true},
		MarketValue:           decimal.NewNullDecimal(dec("20000")),
		CompletedAt:           ts(t, "2021-06-01 00:00:00"),
	})
	require.NoError(t, proc.Process(exchange, account))

	var cost, sold decimal.Decimal
	require.NoError(t, f.db.QueryRow(`SELECT cost_amount, sold_amount FROM disposals WHERE transaction_id = ?`, exchange.ID).
		Scan(&cost, &sold))
	require.True(t, cost.Equal(dec("5000")))
	require.True(t, sold.Equal(dec("20000")))

	var ethAmount, ethCost decimal.Decimal
	require.NoError(t, f.db.QueryRow(
		`SELECT amount, cost_amount FROM acquisitions WHERE transaction_id = ? AND currency_id = ?`,
		exchange.ID, f.eth.ID).Scan(&ethAmount, &ethCost))
	require.True(t, ethAmount.Equal(dec("10")))
	require.True(t, ethCost.Equal(dec("20000")))
}

func TestProcessExchangeWithoutMarketValueFails(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "exchange", models.MethodFIFO)
	proc := newProcessor(f)

	f.acquireLot(t, account, f.btc, "1", "10000", ts(t, "2021-01-01 00:00:00"))

	exchange := f.insertTx(t, models.Transaction{
		AccountID:             account.ID,
		PlatformTransactionID: "x1",
		Type:                  models.TypeExchange,
		FromCurrencyID:        f.btc.ID,
		ToCurrencyID:          f.eth.ID,
		FromAmount:            dec("-0.5"),
		ToAmount:              dec("10"),
		CompletedAt:           ts(t, "2021-06-01 00:00:00"),
	})
	require.ErrorIs(t, proc.Process(exchange, account), models.ErrValidation)
	require.False(t, exchange.Processed)
	require.Equal(t, 0, f.countRows(t, "disposals"))
}

func TestProcessIdempotence(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "exchange", models.MethodFIFO)
	proc := newProcessor(f)

	tx := f.insertTx(t, models.Transaction{
		AccountID:             account.ID,
		PlatformTransactionID: "b1",
		Type:                  models.TypeBuy,
		FromCurrencyID:        f.usd.ID,
		ToCurrencyID:          f.btc.ID,
		FromAmount:            dec("-30000"),
		ToAmount:              dec("1"),
		CompletedAt:           ts(t, "2021-01-01 00:00:00"),
	})

	require.NoError(t, proc.Process(tx, account))
	require.NoError(t, proc.Process(tx, account))
	require.Equal(t, 1, f.countRows(t, "acquisitions"))

	// a fresh batch run sees nothing left to do
	processed, err := proc.ProcessAccount(account)
	require.NoError(t, err)
	require.Equal(t, 0, processed)
}

func TestProcessInsufficientLotsRollsBack(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "exchange", models.MethodFIFO)
	proc := newProcessor(f)

	f.acquireLot(t, account, f.btc, "1", "10000", ts(t, "2021-01-01 00:00:00"))

	sell := f.insertTx(t, models.Transaction{
		AccountID:             account.ID,
		PlatformTransactionID: "s1",
		Type:                  models.TypeSell,
		FromCurrencyID:        f.btc.ID,
		ToCurrencyID:          f.usd.ID,
		FromAmount:            dec("-2"),
		ToAmount:              dec("100000"),
		CompletedAt:           ts(t, "2021-06-01 00:00:00"),
	})
	require.ErrorIs(t, proc.Process(sell, account), models.ErrInsufficientLots)
	require.False(t, sell.Processed)
	require.Equal(t, 0, f.countRows(t, "disposals"))

	var remaining decimal.Decimal
	require.NoError(t, f.db.QueryRow(`SELECT amount FROM assets`).Scan(&remaining))
	require.True(t, remaining.Equal(dec("1")), "lot untouched after rollback")
}

func TestProcessAccountOrderAndCostBasisInvariant(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "exchange", models.MethodFIFO)
	proc := newProcessor(f)

	// inserted out of order; processing must follow completed_at
	f.insertTx(t, models.Transaction{
		AccountID:             account.ID,
		PlatformTransactionID: "s1",
		Type:                  models.TypeSell,
		FromCurrencyID:        f.btc.ID,
		ToCurrencyID:          f.usd.ID,
		FromAmount:            dec("-0.5"),
		ToAmount:              dec("25000"),
		CompletedAt:           ts(t, "2021-03-01 00:00:00"),
	})
	f.insertTx(t, models.Transaction{
		AccountID:             account.ID,
		PlatformTransactionID: "b1",
		Type:                  models.TypeBuy,
		FromCurrencyID:        f.usd.ID,
		ToCurrencyID:          f.btc.ID,
		FromAmount:            dec("-30000"),
		ToAmount:              dec("1"),
		CompletedAt:           ts(t, "2021-01-01 00:00:00"),
	})

	processed, err := proc.ProcessAccount(account)
	require.NoError(t, err)
	require.Equal(t, 2, processed)

	// sum(acquisition cost) - sum(disposal cost) == sum(open lot cost)
	var acquired, disposed, open decimal.Decimal
	require.NoError(t, f.db.QueryRow(`SELECT COALESCE(SUM(CAST(cost_amount AS REAL)), 0) FROM acquisitions`).Scan(&acquired))
	require.NoError(t, f.db.QueryRow(`SELECT COALESCE(SUM(CAST(cost_amount AS REAL)), 0) FROM disposals`).Scan(&disposed))
	require.NoError(t, f.db.QueryRow(`SELECT COALESCE(SUM(CAST(cost_amount AS REAL)), 0) FROM assets`).Scan(&open))
	require.True(t, acquired.Sub(disposed).Equal(open),
		"cost basis invariant: %s - %s != %s", acquired, disposed, open)
}

func TestProcessLossDisposesEntireBalance(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "exchange", models.MethodFIFO)
	proc := newProcessor(f)

	f.acquireLot(t, account, f.btc, "1", "10000", ts(t, "2021-01-01 00:00:00"))
	f.acquireLot(t, account, f.btc, "0.5", "20000", ts(t, "2021-02-01 00:00:00"))

	loss := f.insertTx(t, models.Transaction{
		AccountID:             account.ID,
		PlatformTransactionID: "l1",
		Type:                  models.TypeLossTheft,
		FromCurrencyID:        f.btc.ID,
		ToCurrencyID:          f.btc.ID,
		FromAmount:            dec("-1.5"),
		ToAmount:              dec("0"),
		CompletedAt:           ts(t, "2021-06-01 00:00:00"),
	})
	require.NoError(t, proc.Process(loss, account))

	balance, err := OpenBalance(f.db, account.ID, f.btc.ID, ts(t, "2021-12-01 00:00:00"))
	require.NoError(t, err)
	require.True(t, balance.IsZero(), "got %s", balance)

	var soldTotal decimal.Decimal
	require.NoError(t, f.db.QueryRow(`SELECT COALESCE(SUM(CAST(sold_amount AS REAL)), 0) FROM disposals`).Scan(&soldTotal))
	require.True(t, soldTotal.IsZero(), "loss has no proceeds")
}

func TestProcessTransferPairIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, "exchange", models.MethodFIFO)
	b := f.createAccount(t, "wallet", models.MethodFIFO)
	proc := newProcessor(f)

	out := f.transferOut(t, a, "w1", "1.0", "0.001", ts(t, "2021-05-01 12:00:00"))
	in := f.transferIn(t, b, "d1", "0.999", ts(t, "2021-05-02 09:00:00"))

	require.NoError(t, proc.Process(out, a))
	require.Equal(t, 1, f.countRows(t, "transfers"))

	var amount decimal.Decimal
	var fromTx, toTx int64
	require.NoError(t, f.db.QueryRow(
		`SELECT amount, from_transaction_id, to_transaction_id FROM transfers`).Scan(&amount, &fromTx, &toTx))
	require.True(t, amount.Equal(dec("1")), "transfer records the pre-fee amount, got %s", amount)
	require.Equal(t, out.ID, fromTx)
	require.Equal(t, in.ID, toTx)

	// the inbound side finds the existing record instead of creating another
	require.NoError(t, proc.Process(in, b))
	require.True(t, in.Processed)
	require.Equal(t, 1, f.countRows(t, "transfers"))
}

func TestProcessTransferWithoutCounterpartFails(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, "exchange", models.MethodFIFO)
	f.createAccount(t, "wallet", models.MethodFIFO)
	proc := newProcessor(f)

	out := f.transferOut(t, a, "w1", "1.0", "", ts(t, "2021-05-01 12:00:00"))
	require.ErrorIs(t, proc.Process(out, a), models.ErrAmbiguousTransferMatch)
	require.False(t, out.Processed)
}

func TestProcessNoOpTypesStillMarkProcessed(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "exchange", models.MethodFIFO)
	proc := newProcessor(f)

	tx := f.insertTx(t, models.Transaction{
		AccountID:             account.ID,
		PlatformTransactionID: "p1",
		Type:                  models.TypePayment,
		FromCurrencyID:        f.btc.ID,
		ToCurrencyID:          f.btc.ID,
		FromAmount:            dec("-0.1"),
		ToAmount:              dec("-0.1"),
		CompletedAt:           ts(t, "2021-05-01 12:00:00"),
	})
	require.NoError(t, proc.Process(tx, account))
	require.True(t, tx.Processed)
	require.Equal(t, 0, f.countRows(t, "acquisitions"))
	require.Equal(t, 0, f.countRows(t, "disposals"))
}

func TestProcessRewardUsesMarketValueAsBasis(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "exchange", models.MethodFIFO)
	proc := newProcessor(f)

	tx := f.insertTx(t, models.Transaction{
		AccountID:             account.ID,
		PlatformTransactionID: "r1",
		Type:                  models.TypeReward,
		FromCurrencyID:        f.btc.ID,
		ToCurrencyID:          f.btc.ID,
		FromAmount:            dec("0.01"),
		ToAmount:              dec("0.01"),
		MarketValueCurrencyID: sql.NullInt64{Int64: f.usd.ID, Valid: true},
		MarketValue:           decimal.NewNullDecimal(dec("300")),
		CompletedAt:           ts(t, "2021-05-01 12:00:00"),
	})
	require.NoError(t, proc.Process(tx, account))

	var cost decimal.Decimal
	var hasCost bool
	require.NoError(t, f.db.QueryRow(
		`SELECT cost_amount, has_cost FROM acquisitions WHERE transaction_id = ?`, tx.ID).Scan(&cost, &hasCost))
	require.True(t, cost.Equal(dec("300")))
	require.True(t, hasCost)
}
