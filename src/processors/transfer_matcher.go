package processors

import (
	"fmt"
	"strings"
	"time"

	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/utils"
)

// FindMatchingTransfer locates the counterpart of a transfer transaction:
// an unprocessed transaction of the opposite direction, in a different
// account of the same portfolio, in the same currency, completed within
// tolerance of tx. Network fees are absorbed on the outbound side, so the
// amounts compare fee-adjusted: |out.to_amount| - |out.fee| == in.to_amount.
//
// Exactly one candidate must remain. Zero or more than one returns
// ErrAmbiguousTransferMatch and leaves the transaction unprocessed.
func FindMatchingTransfer(q querier, tx *models.Transaction, tolerance time.Duration) (*models.Transaction, error) {
	var opposite models.TransactionType
	switch tx.Type {
	case models.TypeTransferOut:
		opposite = models.TypeTransferIn
	case models.TypeTransferIn:
		opposite = models.TypeTransferOut
	default:
		return nil, fmt.Errorf("%w: transaction %d is not a transfer (%s)", models.ErrValidation, tx.ID, tx.Type)
	}

	lower := utils.FormatTime(tx.CompletedAt.Add(-tolerance))
	upper := utils.FormatTime(tx.CompletedAt.Add(tolerance))

	rows, err := q.Query(`
		SELECT `+qualified(transactionColumns, "t")+`
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.portfolio_id = ?
		  AND t.account_id != ?
		  AND t.type = ?
		  AND t.processed = 0
		  AND t.from_currency_id = ?
		  AND t.to_currency_id = ?
		  AND t.completed_at BETWEEN ? AND ?
		ORDER BY t.completed_at ASC, t.id ASC`,
		tx.PortfolioID, tx.AccountID, opposite,
		tx.FromCurrencyID, tx.ToCurrencyID, lower, upper)
	if err != nil {
		return nil, fmt.Errorf("error querying transfer candidates for transaction %d: %w", tx.ID, err)
	}
	defer rows.Close()

	var matches []models.Transaction
	for rows.Next() {
		candidate, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		if amountsReconcile(tx, &candidate) {
			matches = append(matches, candidate)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfer candidates: %w", err)
	}

	if len(matches) != 1 {
		return nil, fmt.Errorf("%w: transaction %d has %d candidates", models.ErrAmbiguousTransferMatch, tx.ID, len(matches))
	}
	m := matches[0]
	return &m, nil
}

// amountsReconcile checks the fee-adjusted amount equality between the two
// sides of a candidate pair, whichever side tx is on.
func amountsReconcile(tx, candidate *models.Transaction) bool {
	out, in := tx, candidate
	if tx.Type == models.TypeTransferIn {
		out, in = candidate, tx
	}
	sent := out.ToAmount.Abs().Sub(out.FeeAmount())
	return sent.Equal(in.ToAmount.Abs())
}

// qualified prefixes each column in a comma-separated list with a table alias.
func qualified(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
