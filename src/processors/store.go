package processors

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/utils"
)

const transactionColumns = `id, portfolio_id, account_id, platform_transaction_id,
	from_wallet_id, to_wallet_id, from_currency_id, to_currency_id,
	fee_currency_id, market_value_currency_id,
	from_amount, to_amount, market_value, fee, type, processed, completed_at`

func scanTransaction(rows *sql.Rows) (models.Transaction, error) {
	var (
		t           models.Transaction
		completedAt string
	)
	err := rows.Scan(&t.ID, &t.PortfolioID, &t.AccountID, &t.PlatformTransactionID,
		&t.FromWalletID, &t.ToWalletID, &t.FromCurrencyID, &t.ToCurrencyID,
		&t.FeeCurrencyID, &t.MarketValueCurrencyID,
		&t.FromAmount, &t.ToAmount, &t.MarketValue, &t.Fee, &t.Type, &t.Processed, &completedAt)
	if err != nil {
		return t, fmt.Errorf("error scanning transaction row: %w", err)
	}
	t.CompletedAt = utils.ParseTime(completedAt)
	return t, nil
}

// InsertTransaction persists a normalized draft. A platform_transaction_id
// collision for the same account and type returns ErrDuplicateTransaction.
func InsertTransaction(q querier, t *models.Transaction) error {
	res, err := q.Exec(`
		INSERT INTO transactions (portfolio_id, account_id, platform_transaction_id,
			from_wallet_id, to_wallet_id, from_currency_id, to_currency_id,
			fee_currency_id, market_value_currency_id,
			from_amount, to_amount, market_value, fee, type, processed, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.PortfolioID, t.AccountID, t.PlatformTransactionID,
		t.FromWalletID, t.ToWalletID, t.FromCurrencyID, t.ToCurrencyID,
		t.FeeCurrencyID, t.MarketValueCurrencyID,
		t.FromAmount, t.ToAmount, t.MarketValue, t.Fee, t.Type, t.Processed,
		utils.FormatTime(t.CompletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: account %d %s %q", models.ErrDuplicateTransaction,
				t.AccountID, t.Type, t.PlatformTransactionID)
		}
		return fmt.Errorf("error inserting transaction %q: %w", t.PlatformTransactionID, err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("error reading inserted transaction id: %w", err)
	}
	return nil
}

// FetchUnprocessed returns the account's unprocessed transactions in
// processing order: non-decreasing completed_at, id breaking ties.
func FetchUnprocessed(q querier, accountID int64) ([]models.Transaction, error) {
	rows, err := q.Query(`SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = ? AND processed = 0
		ORDER BY completed_at ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("error querying unprocessed transactions for account %d: %w", accountID, err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unprocessed transactions: %w", err)
	}
	return txs, nil
}

func markProcessed(q querier, transactionID int64) error {
	_, err := q.Exec(`UPDATE transactions SET processed = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, transactionID)
	if err != nil {
		return fmt.Errorf("error marking transaction %d processed: %w", transactionID, err)
	}
	return nil
}

// insertAcquisition persists the acquisition and spawns its open lot in the
// same scope; an Acquisition without an Asset must never exist.
func insertAcquisition(q querier, acq *models.Acquisition) (*models.Asset, error) {
	res, err := q.Exec(`
		INSERT INTO acquisitions (transaction_id, account_id, currency_id, amount,
			cost_currency_id, cost_amount, average_cost_amount, has_cost, type, acquired_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acq.TransactionID, acq.AccountID, acq.CurrencyID, acq.Amount,
		acq.CostCurrencyID, acq.CostAmount, acq.AverageCostAmount, acq.HasCost,
		acq.Type, utils.FormatTime(acq.AcquiredAt))
	if err != nil {
		return nil, fmt.Errorf("error inserting acquisition: %w", err)
	}
	acq.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("error reading inserted acquisition id: %w", err)
	}

	var portfolioID int64
	if err := q.QueryRow(`SELECT portfolio_id FROM accounts WHERE id = ?`, acq.AccountID).Scan(&portfolioID); err != nil {
		return nil, fmt.Errorf("error resolving portfolio for account %d: %w", acq.AccountID, err)
	}

	asset := &models.Asset{
		PortfolioID:       portfolioID,
		AccountID:         acq.AccountID,
		CurrencyID:        acq.CurrencyID,
		CostCurrencyID:    acq.CostCurrencyID.Int64,
		AcquisitionID:     acq.ID,
		Type:              acq.Type,
		Amount:            acq.Amount,
		CostAmount:        acq.CostAmount,
		AverageCostAmount: acq.AverageCostAmount,
		AcquiredAt:        acq.AcquiredAt,
	}
	ares, err := q.Exec(`
		INSERT INTO assets (portfolio_id, account_id, currency_id, cost_currency_id,
			acquisition_id, type, amount, cost_amount, average_cost_amount, acquired_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.PortfolioID, asset.AccountID, asset.CurrencyID, asset.CostCurrencyID,
		asset.AcquisitionID, asset.Type, asset.Amount, asset.CostAmount,
		asset.AverageCostAmount, utils.FormatTime(asset.AcquiredAt))
	if err != nil {
		return nil, fmt.Errorf("error inserting asset for acquisition %d: %w", acq.ID, err)
	}
	asset.ID, err = ares.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("error reading inserted asset id: %w", err)
	}
	return asset, nil
}

func insertDisposal(q querier, d *models.Disposal) error {
	res, err := q.Exec(`
		INSERT INTO disposals (portfolio_id, account_id, currency_id, fiat_currency_id,
			transaction_id, acquisition_id, acquisition_type, type, capital_gains_treatment,
			amount, cost_amount, sold_amount, acquired_at, disposed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.PortfolioID, d.AccountID, d.CurrencyID, d.FiatCurrencyID,
		d.TransactionID, d.AcquisitionID, d.AcquisitionType, d.Type, d.CapitalGainsTreatment,
		d.Amount, d.CostAmount, d.SoldAmount,
		utils.FormatTime(d.AcquiredAt), utils.FormatTime(d.DisposedAt))
	if err != nil {
		return fmt.Errorf("error inserting disposal: %w", err)
	}
	d.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("error reading inserted disposal id: %w", err)
	}
	return nil
}

func decrementAsset(q querier, asset *models.Asset) error {
	_, err := q.Exec(`UPDATE assets SET amount = ?, cost_amount = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		asset.Amount, asset.CostAmount, asset.ID)
	if err != nil {
		return fmt.Errorf("error updating asset %d: %w", asset.ID, err)
	}
	return nil
}

func insertTransfer(q querier, tr *models.Transfer) error {
	res, err := q.Exec(`
		INSERT INTO transfers (portfolio_id, from_account_id, to_account_id,
			from_transaction_id, to_transaction_id, currency_id, amount,
			from_completed_at, to_completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.PortfolioID, tr.FromAccountID, tr.ToAccountID,
		tr.FromTransactionID, tr.ToTransactionID, tr.CurrencyID, tr.Amount,
		utils.FormatTime(tr.FromCompletedAt), utils.FormatTime(tr.ToCompletedAt))
	if err != nil {
		return fmt.Errorf("error inserting transfer: %w", err)
	}
	tr.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("error reading inserted transfer id: %w", err)
	}
	return nil
}

// findTransferFor returns a previously recorded Transfer referencing the
// transaction on either side, making transfer processing idempotent.
func findTransferFor(q querier, transactionID int64) (*models.Transfer, error) {
	rows, err := q.Query(`
		SELECT id, portfolio_id, from_account_id, to_account_id,
		       from_transaction_id, to_transaction_id, currency_id, amount,
		       from_completed_at, to_completed_at
		FROM transfers
		WHERE from_transaction_id = ? OR to_transaction_id = ?`,
		transactionID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("error querying transfers for transaction %d: %w", transactionID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var (
		tr     models.Transfer
		fromAt string
		toAt   string
	)
	if err := rows.Scan(&tr.ID, &tr.PortfolioID, &tr.FromAccountID, &tr.ToAccountID,
		&tr.FromTransactionID, &tr.ToTransactionID, &tr.CurrencyID, &tr.Amount,
		&fromAt, &toAt); err != nil {
		return nil, fmt.Errorf("error scanning transfer row: %w", err)
	}
	tr.FromCompletedAt = utils.ParseTime(fromAt)
	tr.ToCompletedAt = utils.ParseTime(toAt)
	return &tr, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
