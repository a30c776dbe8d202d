package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyKind distinguishes crypto assets from fiat money.
type CurrencyKind string

const (
	KindCrypto CurrencyKind = "crypto"
	KindFiat   CurrencyKind = "fiat"
)

// AccountingMethod selects the lot ordering used for disposals in an account.
// Fixed at account creation.
type AccountingMethod string

const (
	MethodFIFO AccountingMethod = "fifo"
	MethodLIFO AccountingMethod = "lifo"
	MethodHIFO AccountingMethod = "hifo"
	MethodSpec AccountingMethod = "spec"
)

// TransactionType is the closed set of semantic transaction types.
type TransactionType string

const (
	TypeBuy            TransactionType = "buy"
	TypeSell           TransactionType = "sell"
	TypeExchange       TransactionType = "exchange"
	TypeTransferIn     TransactionType = "transfer_in"
	TypeTransferOut    TransactionType = "transfer_out"
	TypeRefund         TransactionType = "refund"
	TypeIncome         TransactionType = "income"
	TypeInterest       TransactionType = "interest"
	TypeReward         TransactionType = "reward"
	TypeAirdrop        TransactionType = "airdrop"
	TypeStaking        TransactionType = "staking"
	TypeMining         TransactionType = "mining"
	TypeFork           TransactionType = "fork"
	TypeGiftReceived   TransactionType = "gift_received"
	TypeGiftSent       TransactionType = "gift_sent"
	TypePayment        TransactionType = "payment"
	TypeFee            TransactionType = "fee"
	TypeLossInvestment TransactionType = "loss_investment"
	TypeLossTheft      TransactionType = "loss_theft"
	TypeLossCasualty   TransactionType = "loss_casualty"
)

// IsAcquisition reports whether processing t creates a new lot.
func (t TransactionType) IsAcquisition() bool {
	switch t {
	case TypeBuy, TypeInterest, TypeReward, TypeRefund, TypeIncome,
		TypeAirdrop, TypeMining, TypeFork, TypeGiftReceived:
		return true
	}
	return false
}

// IsLoss reports whether t disposes the full remaining balance of a currency.
func (t TransactionType) IsLoss() bool {
	switch t {
	case TypeLossInvestment, TypeLossTheft, TypeLossCasualty:
		return true
	}
	return false
}

// CapitalGainsTreatment tags a disposal with its holding-period class.
type CapitalGainsTreatment string

const (
	ShortTerm CapitalGainsTreatment = "short_term"
	LongTerm  CapitalGainsTreatment = "long_term"
)

type Currency struct {
	ID     int64        `json:"id"`
	Name   string       `json:"name"`
	Symbol string       `json:"symbol"`
	Kind   CurrencyKind `json:"kind"`
}

func (c Currency) Crypto() bool { return c.Kind == KindCrypto }
func (c Currency) Fiat() bool   { return c.Kind == KindFiat }

type Platform struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

type Portfolio struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

type Account struct {
	ID                int64            `json:"id"`
	PortfolioID       int64            `json:"portfolio_id"`
	PlatformID        int64            `json:"platform_id"`
	PlatformAccountID string           `json:"platform_account_id,omitempty"`
	Name              string           `json:"name"`
	AccountingMethod  AccountingMethod `json:"accounting_method"`
	StartedOn         time.Time        `json:"started_on"`
}

// Transaction is the normalized ledger event. By convention FromAmount is the
// outflow (negative) and ToAmount the inflow (positive); for one-sided events
// (rewards, transfers) importers set both sides to the same currency/amount.
type Transaction struct {
	ID                    int64               `json:"id"`
	PortfolioID           int64               `json:"portfolio_id"`
	AccountID             int64               `json:"account_id"`
	PlatformTransactionID string              `json:"platform_transaction_id"`
	FromWalletID          sql.NullInt64       `json:"-"`
	ToWalletID            sql.NullInt64       `json:"-"`
	FromCurrencyID        int64               `json:"from_currency_id"`
	ToCurrencyID          int64               `json:"to_currency_id"`
	FeeCurrencyID         sql.NullInt64       `json:"fee_currency_id,omitempty"`
	MarketValueCurrencyID sql.NullInt64       `json:"market_value_currency_id,omitempty"`
	FromAmount            decimal.Decimal     `json:"from_amount"`
	ToAmount              decimal.Decimal     `json:"to_amount"`
	MarketValue           decimal.NullDecimal `json:"market_value,omitempty"`
	Fee                   decimal.NullDecimal `json:"fee,omitempty"`
	Type                  TransactionType     `json:"type"`
	Processed             bool                `json:"processed"`
	CompletedAt           time.Time           `json:"completed_at"`
}

// SetAmount assigns currency/amount to the outflow side when amount is
// negative, otherwise to the inflow side.
func (t *Transaction) SetAmount(currencyID int64, amount decimal.Decimal) {
	if amount.IsNegative() {
		t.FromCurrencyID = currencyID
		t.FromAmount = amount
	} else {
		t.ToCurrencyID = currencyID
		t.ToAmount = amount
	}
}

// FeeAmount returns the absolute fee, or zero when no fee is recorded.
func (t *Transaction) FeeAmount() decimal.Decimal {
	if !t.Fee.Valid {
		return decimal.Zero
	}
	return t.Fee.Decimal.Abs()
}

// Acquisition is the immutable record of crypto obtained. Creating one always
// spawns exactly one Asset open lot with the same amounts.
type Acquisition struct {
	ID                int64           `json:"id"`
	TransactionID     sql.NullInt64   `json:"transaction_id,omitempty"`
	AccountID         int64           `json:"account_id"`
	CurrencyID        int64           `json:"currency_id"`
	Amount            decimal.Decimal `json:"amount"`
	CostCurrencyID    sql.NullInt64   `json:"cost_currency_id,omitempty"`
	CostAmount        decimal.Decimal `json:"cost_amount"`
	AverageCostAmount decimal.Decimal `json:"average_cost_amount"`
	HasCost           bool            `json:"has_cost"`
	Type              TransactionType `json:"type"`
	AcquiredAt        time.Time       `json:"acquired_at"`
}

// Asset is the mutable open-lot view of an Acquisition. Amount and CostAmount
// decrease in lockstep as disposals consume the lot; the row is never deleted,
// a fully consumed lot just sits at zero. AverageCostAmount is fixed at
// creation and drives HIFO ordering and partial-lot cost math.
type Asset struct {
	ID                int64           `json:"id"`
	PortfolioID       int64           `json:"portfolio_id"`
	AccountID         int64           `json:"account_id"`
	CurrencyID        int64           `json:"currency_id"`
	CostCurrencyID    int64           `json:"cost_currency_id"`
	AcquisitionID     int64           `json:"acquisition_id"`
	Type              TransactionType `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	CostAmount        decimal.Decimal `json:"cost_amount"`
	AverageCostAmount decimal.Decimal `json:"average_cost_amount"`
	AcquiredAt        time.Time       `json:"acquired_at"`
	TransferredAt     sql.NullTime    `json:"-"`
}

// Disposal is the immutable record of crypto given up. One disposing
// transaction emits one Disposal per lot it consumes.
type Disposal struct {
	ID                    int64                 `json:"id"`
	PortfolioID           int64                 `json:"portfolio_id"`
	AccountID             int64                 `json:"account_id"`
	CurrencyID            int64                 `json:"currency_id"`
	FiatCurrencyID        int64                 `json:"fiat_currency_id"`
	TransactionID         sql.NullInt64         `json:"transaction_id,omitempty"`
	AcquisitionID         int64                 `json:"acquisition_id"`
	AcquisitionType       TransactionType       `json:"acquisition_type"`
	Type                  TransactionType       `json:"type"`
	CapitalGainsTreatment CapitalGainsTreatment `json:"capital_gains_treatment"`
	Amount                decimal.Decimal       `json:"amount"`
	CostAmount            decimal.Decimal       `json:"cost_amount"`
	SoldAmount            decimal.Decimal       `json:"sold_amount"`
	AcquiredAt            time.Time             `json:"acquired_at"`
	DisposedAt            time.Time             `json:"disposed_at"`
}

// Transfer reconciles a transfer_out in one account with a transfer_in in a
// sibling account of the same portfolio. Amount is the outbound amount before
// the network fee.
type Transfer struct {
	ID                int64           `json:"id"`
	PortfolioID       int64           `json:"portfolio_id"`
	FromAccountID     int64           `json:"from_account_id"`
	ToAccountID       int64           `json:"to_account_id"`
	FromTransactionID int64           `json:"from_transaction_id"`
	ToTransactionID   int64           `json:"to_transaction_id"`
	CurrencyID        int64           `json:"currency_id"`
	Amount            decimal.Decimal `json:"amount"`
	FromCompletedAt   time.Time       `json:"from_completed_at"`
	ToCompletedAt     time.Time       `json:"to_completed_at"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
}
