// Package processors contains the transaction-to-tax-lot engine: the
// classifier, the transfer matcher, the lot selection engine, and the
// processor state machine that turns unprocessed transactions into
// Acquisition, Disposal, and Transfer records.
package processors

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/registry"
)

// TransactionProcessor runs the per-transaction state machine. One instance
// is shared; every Process call opens its own database transaction so all
// writes for one ledger event commit or roll back together.
type TransactionProcessor struct {
	db        *sql.DB
	reg       *registry.Registry
	fiat      models.Currency
	tolerance time.Duration
}

func NewTransactionProcessor(db *sql.DB, reg *registry.Registry, fiat models.Currency, tolerance time.Duration) *TransactionProcessor {
	return &TransactionProcessor{db: db, reg: reg, fiat: fiat, tolerance: tolerance}
}

// ProcessAccount processes the account's unprocessed transactions in
// ascending (completed_at, id) order. It stops at the first failing
// transaction: a later disposal must never select lots while an earlier
// event is known to be missing from the ledger. Returns the number of
// transactions processed.
//
// Callers must not run ProcessAccount concurrently for the same account.
func (p *TransactionProcessor) ProcessAccount(account *models.Account) (int, error) {
	txs, err := FetchUnprocessed(p.db, account.ID)
	if err != nil {
		return 0, err
	}

	for i := range txs {
		if err := p.Process(&txs[i], account); err != nil {
			return i, fmt.Errorf("error processing transaction %d for account %d: %w", txs[i].ID, account.ID, err)
		}
	}
	return len(txs), nil
}

// Process dispatches on the transaction type and marks the transaction
// processed. Already-processed transactions are a no-op, so reprocessing
// never duplicates ledger rows.
func (p *TransactionProcessor) Process(t *models.Transaction, account *models.Account) error {
	if t.Processed {
		return nil
	}
	if t.AccountID != account.ID {
		return fmt.Errorf("%w: transaction %d belongs to account %d, not %d",
			models.ErrValidation, t.ID, t.AccountID, account.ID)
	}

	dbtx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("error beginning processing transaction: %w", err)
	}
	defer dbtx.Rollback()

	switch {
	case t.Type.IsAcquisition():
		err = p.processAcquisition(dbtx, t)
	case t.Type == models.TypeSell:
		err = p.processDisposal(dbtx, t, account)
	case t.Type == models.TypeExchange:
		if err = p.processDisposal(dbtx, t, account); err == nil {
			err = p.processAcquisition(dbtx, t)
		}
	case t.Type.IsLoss():
		err = p.processLoss(dbtx, t, account)
	case t.Type == models.TypeTransferOut || t.Type == models.TypeTransferIn:
		err = p.processTransfer(dbtx, t)
	default:
		// staking, gift_sent, payment, fee: bookkeeping only, no ledger effect
		logger.L.Debug("No ledger effect for transaction type", "transaction_id", t.ID, "type", t.Type)
	}
	if err != nil {
		return err
	}

	if err := markProcessed(dbtx, t.ID); err != nil {
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("error committing processing transaction: %w", err)
	}
	t.Processed = true
	return nil
}

// processAcquisition creates the Acquisition and its open lot. Cost basis:
// crypto outflow side (exchange, one-sided income events) takes market_value
// with the fee apportioned pro-rata; fiat outflow side (buy) takes
// |from_amount| plus the fee.
func (p *TransactionProcessor) processAcquisition(q querier, t *models.Transaction) error {
	if t.FromAmount.IsZero() || t.ToAmount.IsZero() {
		logger.L.Debug("Skipping zero-amount acquisition", "transaction_id", t.ID, "type", t.Type)
		return nil
	}
	if !t.ToAmount.IsPositive() {
		return fmt.Errorf("%w: acquisition transaction %d has non-positive to_amount %s",
			models.ErrValidation, t.ID, t.ToAmount)
	}

	fromCurrency, ok := p.reg.CurrencyByID(t.FromCurrencyID)
	if !ok {
		return fmt.Errorf("%w: transaction %d references unknown currency %d",
			models.ErrValidation, t.ID, t.FromCurrencyID)
	}

	var (
		cost           decimal.Decimal
		costCurrencyID sql.NullInt64
		hasCost        bool
	)
	if fromCurrency.Crypto() {
		if !t.MarketValue.Valid {
			if t.Type == models.TypeExchange {
				return fmt.Errorf("%w: exchange transaction %d has no market_value for the acquired side",
					models.ErrValidation, t.ID)
			}
			// income-style event with no recorded value: zero-basis lot
			cost = decimal.Zero
			costCurrencyID = sql.NullInt64{Int64: p.fiat.ID, Valid: true}
		} else {
			cost = t.MarketValue.Decimal
			if t.Fee.Valid {
				cost = cost.Add(t.FeeAmount().Mul(t.MarketValue.Decimal.Div(t.FromAmount.Abs())))
			}
			costCurrencyID = t.MarketValueCurrencyID
			if !costCurrencyID.Valid {
				costCurrencyID = sql.NullInt64{Int64: p.fiat.ID, Valid: true}
			}
			hasCost = true
		}
	} else {
		cost = t.FromAmount.Abs().Add(t.FeeAmount())
		costCurrencyID = sql.NullInt64{Int64: t.FromCurrencyID, Valid: true}
		hasCost = true
	}

	acq := &models.Acquisition{
		TransactionID:     sql.NullInt64{Int64: t.ID, Valid: true},
		AccountID:         t.AccountID,
		CurrencyID:        t.ToCurrencyID,
		Amount:            t.ToAmount,
		CostCurrencyID:    costCurrencyID,
		CostAmount:        cost,
		AverageCostAmount: cost.Div(t.ToAmount),
		HasCost:           hasCost,
		Type:              t.Type,
		AcquiredAt:        t.CompletedAt,
	}
	if _, err := insertAcquisition(q, acq); err != nil {
		return err
	}
	logger.L.Debug("Acquisition recorded", "transaction_id", t.ID, "acquisition_id", acq.ID,
		"currency_id", acq.CurrencyID, "amount", acq.Amount, "cost_amount", acq.CostAmount)
	return nil
}

// processDisposal consumes open lots for a sell or the disposal half of an
// exchange. A fee denominated in the disposed crypto is absorbed into the
// disposed amount; the fiat proceeds come from to_amount+fee for a sell
// (fee is fiat, stored negative) and from market_value for an exchange.
func (p *TransactionProcessor) processDisposal(q querier, t *models.Transaction, account *models.Account) error {
	disposed := t.FromAmount.Abs()
	if t.Fee.Valid && t.FeeCurrencyID.Valid && t.FeeCurrencyID.Int64 == t.FromCurrencyID {
		disposed = disposed.Add(t.FeeAmount())
	}
	if disposed.IsZero() {
		logger.L.Debug("Skipping zero-amount disposal", "transaction_id", t.ID, "type", t.Type)
		return nil
	}

	var (
		fiatAmount     decimal.Decimal
		fiatCurrencyID int64
	)
	switch t.Type {
	case models.TypeSell:
		fiatAmount = t.ToAmount
		if t.Fee.Valid && (!t.FeeCurrencyID.Valid || t.FeeCurrencyID.Int64 != t.FromCurrencyID) {
			fiatAmount = fiatAmount.Add(t.Fee.Decimal)
		}
		fiatCurrencyID = t.ToCurrencyID
	case models.TypeExchange:
		if !t.MarketValue.Valid {
			return fmt.Errorf("%w: exchange transaction %d has no market_value for the disposed side",
				models.ErrValidation, t.ID)
		}
		// scale so the per-unit price survives fee absorption
		fiatAmount = t.MarketValue.Decimal.Mul(disposed).Div(t.FromAmount.Abs())
		fiatCurrencyID = p.fiat.ID
		if t.MarketValueCurrencyID.Valid {
			fiatCurrencyID = t.MarketValueCurrencyID.Int64
		}
	default:
		return fmt.Errorf("%w: transaction %d type %s is not a disposal",
			models.ErrValidation, t.ID, t.Type)
	}

	fiatPrice := fiatAmount.Div(disposed)
	return p.consumeLots(q, t, account, t.FromCurrencyID, disposed, fiatPrice, fiatCurrencyID)
}

// processLoss disposes the account's entire remaining balance of the lost
// currency as of the event date, with zero proceeds. An in-kind replacement
// on the inflow side becomes a follow-on exchange acquisition.
func (p *TransactionProcessor) processLoss(q querier, t *models.Transaction, account *models.Account) error {
	balance, err := OpenBalance(q, account.ID, t.FromCurrencyID, t.CompletedAt)
	if err != nil {
		return err
	}
	if !balance.IsPositive() {
		logger.L.Debug("No open balance to dispose for loss event", "transaction_id", t.ID, "currency_id", t.FromCurrencyID)
		return nil
	}

	fiatCurrencyID := p.fiat.ID
	if t.MarketValueCurrencyID.Valid {
		fiatCurrencyID = t.MarketValueCurrencyID.Int64
	}
	if err := p.consumeLots(q, t, account, t.FromCurrencyID, balance, decimal.Zero, fiatCurrencyID); err != nil {
		return err
	}

	if t.ToAmount.IsPositive() && t.ToCurrencyID != t.FromCurrencyID {
		if toCurrency, ok := p.reg.CurrencyByID(t.ToCurrencyID); ok && toCurrency.Crypto() {
			replacement := *t
			replacement.Type = models.TypeExchange
			if err := p.processAcquisition(q, &replacement); err != nil {
				return err
			}
		}
	}
	return nil
}

// consumeLots runs the greedy consumption loop: full lots are zeroed, the
// final partial lot is split at amount_taken * average_cost_amount. One
// Disposal row is written per lot touched, tagged short or long term by
// whether a full year passed since the lot's acquisition.
func (p *TransactionProcessor) consumeLots(q querier, t *models.Transaction, account *models.Account,
	currencyID int64, disposed, fiatPrice decimal.Decimal, fiatCurrencyID int64) error {

	lots, err := SelectLots(q, account, currencyID, disposed, t.CompletedAt)
	if err != nil {
		return err
	}

	remaining := disposed
	for i := range lots {
		lot := &lots[i]

		var take, costTaken decimal.Decimal
		if remaining.GreaterThanOrEqual(lot.Amount) {
			take = lot.Amount
			costTaken = lot.CostAmount
		} else {
			take = remaining
			costTaken = take.Mul(lot.AverageCostAmount)
		}
		remaining = remaining.Sub(take)

		treatment := models.ShortTerm
		if !t.CompletedAt.Before(lot.AcquiredAt.AddDate(1, 0, 0)) {
			treatment = models.LongTerm
		}

		d := &models.Disposal{
			PortfolioID:           t.PortfolioID,
			AccountID:             account.ID,
			CurrencyID:            currencyID,
			FiatCurrencyID:        fiatCurrencyID,
			TransactionID:         sql.NullInt64{Int64: t.ID, Valid: true},
			AcquisitionID:         lot.AcquisitionID,
			AcquisitionType:       lot.Type,
			Type:                  t.Type,
			CapitalGainsTreatment: treatment,
			Amount:                take,
			CostAmount:            costTaken,
			SoldAmount:            fiatPrice.Mul(take),
			AcquiredAt:            lot.AcquiredAt,
			DisposedAt:            t.CompletedAt,
		}
		if err := insertDisposal(q, d); err != nil {
			return err
		}

		lot.Amount = lot.Amount.Sub(take)
		lot.CostAmount = lot.CostAmount.Sub(costTaken)
		if err := decrementAsset(q, lot); err != nil {
			return err
		}

		if remaining.IsZero() {
			break
		}
	}

	if remaining.IsPositive() {
		return fmt.Errorf("%w: transaction %d left %s unconsumed", models.ErrInsufficientLots, t.ID, remaining)
	}
	logger.L.Debug("Disposal recorded", "transaction_id", t.ID, "currency_id", currencyID,
		"disposed", disposed, "lots", len(lots))
	return nil
}

// processTransfer reconciles a transfer_out/transfer_in pair. A Transfer
// already recorded for either side means the counterpart was processed
// first; nothing more to do.
func (p *TransactionProcessor) processTransfer(q querier, t *models.Transaction) error {
	existing, err := findTransferFor(q, t.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		logger.L.Debug("Transfer already reconciled", "transaction_id", t.ID, "transfer_id", existing.ID)
		return nil
	}

	match, err := FindMatchingTransfer(q, t, p.tolerance)
	if err != nil {
		return err
	}

	out, in := t, match
	if t.Type == models.TypeTransferIn {
		out, in = match, t
	}
	tr := &models.Transfer{
		PortfolioID:       t.PortfolioID,
		FromAccountID:     out.AccountID,
		ToAccountID:       in.AccountID,
		FromTransactionID: out.ID,
		ToTransactionID:   in.ID,
		CurrencyID:        out.ToCurrencyID,
		Amount:            out.ToAmount.Abs(),
		FromCompletedAt:   out.CompletedAt,
		ToCompletedAt:     in.CompletedAt,
	}
	if err := insertTransfer(q, tr); err != nil {
		return err
	}
	logger.L.Debug("Transfer reconciled", "from_transaction_id", out.ID, "to_transaction_id", in.ID,
		"amount", tr.Amount, "currency_id", tr.CurrencyID)
	return nil
}
