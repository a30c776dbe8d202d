package processors

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/models"
)

// ClassifyTrade turns a raw (from, to) currency/amount pair into a semantic
// transaction type. Pure function; importers use it so classification rules
// live in exactly one place, and the processor falls back to it for trades
// imported without a type.
//
// Convention: from is the outflow (negative amount), to the inflow (positive).
func ClassifyTrade(from models.Currency, fromAmount decimal.Decimal, to models.Currency, toAmount decimal.Decimal) (models.TransactionType, error) {
	if from.ID == 0 || to.ID == 0 {
		return "", fmt.Errorf("%w: classification requires both currencies", models.ErrValidation)
	}
	if !fromAmount.IsNegative() || !toAmount.IsPositive() {
		return "", fmt.Errorf("%w: classification requires negative from_amount and positive to_amount (got %s -> %s)",
			models.ErrValidation, fromAmount, toAmount)
	}

	switch {
	case from.Crypto() && to.Crypto():
		return models.TypeExchange, nil
	case from.Fiat() && to.Crypto():
		return models.TypeBuy, nil
	case from.Crypto() && to.Fiat():
		return models.TypeSell, nil
	}
	return "", fmt.Errorf("%w: no classification for %s -> %s", models.ErrValidation, from.Symbol, to.Symbol)
}
