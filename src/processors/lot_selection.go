package processors

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/utils"
)

// querier is satisfied by both *sql.DB and *sql.Tx so lot selection can run
// inside the per-transaction scope.
type querier interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// SelectLots returns the ordered open lots a disposal consumes, according to
// the account's accounting method. The returned lots cover at least amount;
// the last one may only be partially needed, the caller splits it. Lots
// acquired after disposedAt are never eligible.
func SelectLots(q querier, account *models.Account, currencyID int64, amount decimal.Decimal, disposedAt time.Time) ([]models.Asset, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: disposal amount must be positive, got %s", models.ErrValidation, amount)
	}

	var order string
	switch account.AccountingMethod {
	case models.MethodFIFO:
		order = "acquired_at ASC, id ASC"
	case models.MethodLIFO:
		order = "acquired_at DESC, id DESC"
	case models.MethodHIFO:
		order = "CAST(average_cost_amount AS REAL) DESC, acquired_at ASC, id ASC"
	case models.MethodSpec:
		return nil, fmt.Errorf("%w: account %d", models.ErrSpecIdentification, account.ID)
	default:
		return nil, fmt.Errorf("%w: unknown accounting method %q", models.ErrValidation, account.AccountingMethod)
	}

	// The CAST only drives ordering and the open-lot filter; all amount
	// arithmetic stays in exact decimals.
	rows, err := q.Query(`
		SELECT id, portfolio_id, account_id, currency_id, cost_currency_id, acquisition_id,
		       type, amount, cost_amount, average_cost_amount, acquired_at
		FROM assets
		WHERE account_id = ? AND currency_id = ?
		  AND CAST(amount AS REAL) > 0
		  AND acquired_at <= ?
		ORDER BY `+order,
		account.ID, currencyID, utils.FormatTime(disposedAt))
	if err != nil {
		return nil, fmt.Errorf("error querying open lots for account %d: %w", account.ID, err)
	}
	defer rows.Close()

	var (
		lots      []models.Asset
		remaining = amount
		seen      = map[int64]bool{}
	)
	for rows.Next() {
		var (
			a          models.Asset
			acquiredAt string
		)
		if err := rows.Scan(&a.ID, &a.PortfolioID, &a.AccountID, &a.CurrencyID, &a.CostCurrencyID,
			&a.AcquisitionID, &a.Type, &a.Amount, &a.CostAmount, &a.AverageCostAmount, &acquiredAt); err != nil {
			return nil, fmt.Errorf("error scanning open lot: %w", err)
		}
		// Guard against a lot ever being offered twice within one selection.
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		a.AcquiredAt = utils.ParseTime(acquiredAt)

		lots = append(lots, a)
		remaining = remaining.Sub(a.Amount)
		if !remaining.IsPositive() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating open lots: %w", err)
	}

	if remaining.IsPositive() {
		return nil, fmt.Errorf("%w: account %d currency %d short %s of %s",
			models.ErrInsufficientLots, account.ID, currencyID, remaining, amount)
	}
	return lots, nil
}

// OpenBalance sums the open lots for (account, currency) as of a moment.
// Loss events dispose this entire amount.
func OpenBalance(q querier, accountID, currencyID int64, asOf time.Time) (decimal.Decimal, error) {
	rows, err := q.Query(`
		SELECT amount FROM assets
		WHERE account_id = ? AND currency_id = ?
		  AND CAST(amount AS REAL) > 0
		  AND acquired_at <= ?`,
		accountID, currencyID, utils.FormatTime(asOf))
	if err != nil {
		return decimal.Zero, fmt.Errorf("error querying open balance for account %d: %w", accountID, err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("error scanning open balance row: %w", err)
		}
		total = total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating open balance rows: %w", err)
	}
	return total, nil
}
