package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/processors"
	"github.com/username/cryptofolio/backend/src/registry"
	"github.com/username/cryptofolio/backend/src/reports"
	"github.com/username/cryptofolio/backend/src/utils"
)

type ledgerServiceImpl struct {
	db          *sql.DB
	processor   *processors.TransactionProcessor
	reg         *registry.Registry
	reportCache *cache.Cache
}

func NewLedgerService(db *sql.DB, processor *processors.TransactionProcessor,
	reg *registry.Registry, reportCache *cache.Cache) LedgerService {
	return &ledgerServiceImpl{db: db, processor: processor, reg: reg, reportCache: reportCache}
}

// ProcessAccount runs the engine over the account's unprocessed transactions
// and invalidates cached report results when anything changed.
func (s *ledgerServiceImpl) ProcessAccount(accountID int64) (int, error) {
	account, err := s.GetAccount(accountID)
	if err != nil {
		return 0, err
	}

	processed, err := s.processor.ProcessAccount(account)
	if processed > 0 {
		s.reportCache.Flush()
	}
	return processed, err
}

func (s *ledgerServiceImpl) GetAccount(accountID int64) (*models.Account, error) {
	var (
		a         models.Account
		startedOn string
	)
	err := s.db.QueryRow(`
		SELECT id, portfolio_id, platform_id, COALESCE(platform_account_id, ''), name, accounting_method, started_on
		FROM accounts WHERE id = ?`, accountID).
		Scan(&a.ID, &a.PortfolioID, &a.PlatformID, &a.PlatformAccountID, &a.Name, &a.AccountingMethod, &startedOn)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAccount, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading account %d: %w", accountID, err)
	}
	a.StartedOn = utils.ParseTime(startedOn)
	return &a, nil
}

func (s *ledgerServiceImpl) GetAccounts(portfolioID int64) ([]models.Account, error) {
	rows, err := s.db.Query(`
		SELECT id, portfolio_id, platform_id, COALESCE(platform_account_id, ''), name, accounting_method, started_on
		FROM accounts WHERE portfolio_id = ? ORDER BY id`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("error listing accounts for portfolio %d: %w", portfolioID, err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var (
			a         models.Account
			startedOn string
		)
		if err := rows.Scan(&a.ID, &a.PortfolioID, &a.PlatformID, &a.PlatformAccountID,
			&a.Name, &a.AccountingMethod, &startedOn); err != nil {
			return nil, fmt.Errorf("error scanning account row: %w", err)
		}
		a.StartedOn = utils.ParseTime(startedOn)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *ledgerServiceImpl) CreateAccount(account *models.Account) error {
	switch account.AccountingMethod {
	case models.MethodFIFO, models.MethodLIFO, models.MethodHIFO, models.MethodSpec:
	default:
		return fmt.Errorf("%w: unknown accounting method %q", models.ErrValidation, account.AccountingMethod)
	}
	if account.Name == "" {
		return fmt.Errorf("%w: account name is required", models.ErrValidation)
	}
	if account.StartedOn.IsZero() {
		account.StartedOn = time.Now()
	}

	res, err := s.db.Exec(`
		INSERT INTO accounts (portfolio_id, platform_id, platform_account_id, name, accounting_method, started_on)
		VALUES (?, ?, ?, ?, ?, ?)`,
		account.PortfolioID, account.PlatformID, account.PlatformAccountID,
		account.Name, account.AccountingMethod, utils.FormatTime(account.StartedOn))
	if err != nil {
		return fmt.Errorf("error creating account: %w", err)
	}
	account.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("error reading created account id: %w", err)
	}
	logger.L.Info("Account created", "account_id", account.ID, "portfolio_id", account.PortfolioID,
		"accounting_method", account.AccountingMethod)
	return nil
}

// filterClause renders a ReportFilter into a WHERE fragment. timeColumn is
// the per-table timestamp column the date range applies to.
func filterClause(f ReportFilter, timeColumn string) (string, []interface{}) {
	clause := " WHERE 1=1"
	var args []interface{}
	if f.AccountID != 0 {
		clause += " AND account_id = ?"
		args = append(args, f.AccountID)
	}
	if f.CurrencyID != 0 {
		clause += " AND currency_id = ?"
		args = append(args, f.CurrencyID)
	}
	if !f.From.IsZero() {
		clause += " AND " + timeColumn + " >= ?"
		args = append(args, utils.FormatTime(f.From))
	}
	if !f.To.IsZero() {
		clause += " AND " + timeColumn + " <= ?"
		args = append(args, utils.FormatTime(f.To))
	}
	return clause, args
}

func (s *ledgerServiceImpl) GetTransactions(f ReportFilter) ([]models.Transaction, error) {
	clause := " WHERE 1=1"
	var args []interface{}
	if f.AccountID != 0 {
		clause += " AND account_id = ?"
		args = append(args, f.AccountID)
	}
	if f.CurrencyID != 0 {
		clause += " AND (from_currency_id = ? OR to_currency_id = ?)"
		args = append(args, f.CurrencyID, f.CurrencyID)
	}
	if !f.From.IsZero() {
		clause += " AND completed_at >= ?"
		args = append(args, utils.FormatTime(f.From))
	}
	if !f.To.IsZero() {
		clause += " AND completed_at <= ?"
		args = append(args, utils.FormatTime(f.To))
	}

	rows, err := s.db.Query(`
		SELECT id, portfolio_id, account_id, platform_transaction_id,
		       from_wallet_id, to_wallet_id, from_currency_id, to_currency_id,
		       fee_currency_id, market_value_currency_id,
		       from_amount, to_amount, market_value, fee, type, processed, completed_at
		FROM transactions`+clause+` ORDER BY completed_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var (
			t           models.Transaction
			completedAt string
		)
		if err := rows.Scan(&t.ID, &t.PortfolioID, &t.AccountID, &t.PlatformTransactionID,
			&t.FromWalletID, &t.ToWalletID, &t.FromCurrencyID, &t.ToCurrencyID,
			&t.FeeCurrencyID, &t.MarketValueCurrencyID,
			&t.FromAmount, &t.ToAmount, &t.MarketValue, &t.Fee, &t.Type, &t.Processed, &completedAt); err != nil {
			return nil, fmt.Errorf("error scanning transaction row: %w", err)
		}
		t.CompletedAt = utils.ParseTime(completedAt)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *ledgerServiceImpl) GetAcquisitions(f ReportFilter) ([]models.Acquisition, error) {
	clause, args := filterClause(f, "acquired_at")
	rows, err := s.db.Query(`
		SELECT id, transaction_id, account_id, currency_id, amount,
		       cost_currency_id, cost_amount, average_cost_amount, has_cost, type, acquired_at
		FROM acquisitions`+clause+` ORDER BY acquired_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing acquisitions: %w", err)
	}
	defer rows.Close()

	var acquisitions []models.Acquisition
	for rows.Next() {
		var (
			a          models.Acquisition
			acquiredAt string
		)
		if err := rows.Scan(&a.ID, &a.TransactionID, &a.AccountID, &a.CurrencyID, &a.Amount,
			&a.CostCurrencyID, &a.CostAmount, &a.AverageCostAmount, &a.HasCost, &a.Type, &acquiredAt); err != nil {
			return nil, fmt.Errorf("error scanning acquisition row: %w", err)
		}
		a.AcquiredAt = utils.ParseTime(acquiredAt)
		acquisitions = append(acquisitions, a)
	}
	return acquisitions, rows.Err()
}

func (s *ledgerServiceImpl) GetAssets(f ReportFilter) ([]models.Asset, error) {
	clause, args := filterClause(f, "acquired_at")
	rows, err := s.db.Query(`
		SELECT id, portfolio_id, account_id, currency_id, cost_currency_id, acquisition_id,
		       type, amount, cost_amount, average_cost_amount, acquired_at
		FROM assets`+clause+` AND CAST(amount AS REAL) > 0 ORDER BY acquired_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing assets: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var (
			a          models.Asset
			acquiredAt string
		)
		if err := rows.Scan(&a.ID, &a.PortfolioID, &a.AccountID, &a.CurrencyID, &a.CostCurrencyID,
			&a.AcquisitionID, &a.Type, &a.Amount, &a.CostAmount, &a.AverageCostAmount, &acquiredAt); err != nil {
			return nil, fmt.Errorf("error scanning asset row: %w", err)
		}
		a.AcquiredAt = utils.ParseTime(acquiredAt)
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (s *ledgerServiceImpl) GetDisposals(f ReportFilter) ([]models.Disposal, error) {
	clause, args := filterClause(f, "disposed_at")
	return s.queryDisposals(clause, args)
}

func (s *ledgerServiceImpl) queryDisposals(clause string, args []interface{}) ([]models.Disposal, error) {
	rows, err := s.db.Query(`
		SELECT id, portfolio_id, account_id, currency_id, fiat_currency_id,
		       transaction_id, acquisition_id, acquisition_type, type, capital_gains_treatment,
		       amount, cost_amount, sold_amount, acquired_at, disposed_at
		FROM disposals`+clause+` ORDER BY disposed_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing disposals: %w", err)
	}
	defer rows.Close()

	var disposals []models.Disposal
	for rows.Next() {
		var (
			d          models.Disposal
			acquiredAt string
			disposedAt string
		)
		if err := rows.Scan(&d.ID, &d.PortfolioID, &d.AccountID, &d.CurrencyID, &d.FiatCurrencyID,
			&d.TransactionID, &d.AcquisitionID, &d.AcquisitionType, &d.Type, &d.CapitalGainsTreatment,
			&d.Amount, &d.CostAmount, &d.SoldAmount, &acquiredAt, &disposedAt); err != nil {
			return nil, fmt.Errorf("error scanning disposal row: %w", err)
		}
		d.AcquiredAt = utils.ParseTime(acquiredAt)
		d.DisposedAt = utils.ParseTime(disposedAt)
		disposals = append(disposals, d)
	}
	return disposals, rows.Err()
}

func (s *ledgerServiceImpl) GetTransfers(portfolioID int64) ([]models.Transfer, error) {
	rows, err := s.db.Query(`
		SELECT id, portfolio_id, from_account_id, to_account_id,
		       from_transaction_id, to_transaction_id, currency_id, amount,
		       from_completed_at, to_completed_at
		FROM transfers WHERE portfolio_id = ? ORDER BY from_completed_at ASC, id ASC`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("error listing transfers for portfolio %d: %w", portfolioID, err)
	}
	defer rows.Close()

	var transfers []models.Transfer
	for rows.Next() {
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
		transfers = append(transfers, tr)
	}
	return transfers, rows.Err()
}

// disposalsForYear returns a portfolio's disposals within one calendar year.
func (s *ledgerServiceImpl) disposalsForYear(portfolioID int64, year int) ([]models.Disposal, error) {
	from := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0).Add(-time.Second)
	clause := " WHERE portfolio_id = ? AND disposed_at >= ? AND disposed_at <= ?"
	args := []interface{}{portfolioID, utils.FormatTime(from), utils.FormatTime(to)}
	return s.queryDisposals(clause, args)
}

// GainsSummary aggregates a year's disposals into short- and long-term
// proceeds, cost, and gain. Results are cached until the ledger changes.
func (s *ledgerServiceImpl) GainsSummary(portfolioID int64, year int) (*YearGains, error) {
	cacheKey := fmt.Sprintf("gains:%d:%d", portfolioID, year)
	if cached, found := s.reportCache.Get(cacheKey); found {
		summary := cached.(YearGains)
		return &summary, nil
	}

	disposals, err := s.disposalsForYear(portfolioID, year)
	if err != nil {
		return nil, err
	}

	summary := YearGains{
		Year:          year,
		ShortProceeds: decimal.Zero, ShortCost: decimal.Zero, ShortGain: decimal.Zero,
		LongProceeds: decimal.Zero, LongCost: decimal.Zero, LongGain: decimal.Zero,
		Disposals: len(disposals),
	}
	for _, d := range disposals {
		if d.CapitalGainsTreatment == models.LongTerm {
			summary.LongProceeds = summary.LongProceeds.Add(d.SoldAmount)
			summary.LongCost = summary.LongCost.Add(d.CostAmount)
		} else {
			summary.ShortProceeds = summary.ShortProceeds.Add(d.SoldAmount)
			summary.ShortCost = summary.ShortCost.Add(d.CostAmount)
		}
	}
	summary.ShortGain = summary.ShortProceeds.Sub(summary.ShortCost)
	summary.LongGain = summary.LongProceeds.Sub(summary.LongCost)

	s.reportCache.Set(cacheKey, summary, cache.DefaultExpiration)
	return &summary, nil
}

// ExportTXF renders a year's disposals as a TurboTax Form 8949 document.
func (s *ledgerServiceImpl) ExportTXF(portfolioID int64, year int, name string) (string, error) {
	disposals, err := s.disposalsForYear(portfolioID, year)
	if err != nil {
		return "", err
	}
	return reports.Form8949TXF(disposals, s.reg, name, time.Now(), reports.StatusNone)
}
