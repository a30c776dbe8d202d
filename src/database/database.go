package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/cryptofolio/backend/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	// Single-writer model: one connection keeps sqlite happy and matches the
	// sequential per-account processing contract.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		stdlog.Fatalf("failed to enable foreign keys: %v", err)
	}

	DB = db

	if logger.L != nil {
		logger.L.Info("Ensuring database schema", "databasePath", databasePath)
	} else {
		stdlog.Println("Ensuring database schema for:", databasePath)
	}

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS portfolios (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS platforms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		url TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS currencies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('crypto','fiat')),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, kind)
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		portfolio_id INTEGER NOT NULL,
		platform_id INTEGER NOT NULL,
		platform_account_id TEXT,
		name TEXT NOT NULL,
		accounting_method TEXT NOT NULL DEFAULT 'fifo'
			CHECK (accounting_method IN ('fifo','lifo','hifo','spec')),
		started_on TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(portfolio_id) REFERENCES portfolios(id),
		FOREIGN KEY(platform_id) REFERENCES platforms(id)
	);
	CREATE INDEX IF NOT EXISTS accounts_portfolio_platform ON accounts(portfolio_id, platform_id);

	CREATE TABLE IF NOT EXISTS wallets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		platform_id INTEGER NOT NULL,
		currency_id INTEGER NOT NULL,
		address TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(platform_id) REFERENCES platforms(id),
		FOREIGN KEY(currency_id) REFERENCES currencies(id),
		UNIQUE(platform_id, currency_id, address)
	);

	CREATE TABLE IF NOT EXISTS account_wallets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		wallet_id INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(account_id) REFERENCES accounts(id),
		FOREIGN KEY(wallet_id) REFERENCES wallets(id),
		UNIQUE(account_id, wallet_id)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		portfolio_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL,
		platform_transaction_id TEXT NOT NULL,
		from_wallet_id INTEGER,
		to_wallet_id INTEGER,
		from_currency_id INTEGER NOT NULL,
		to_currency_id INTEGER NOT NULL,
		fee_currency_id INTEGER,
		market_value_currency_id INTEGER,
		from_amount TEXT NOT NULL,
		to_amount TEXT NOT NULL,
		market_value TEXT,
		fee TEXT,
		type TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(portfolio_id) REFERENCES portfolios(id),
		FOREIGN KEY(account_id) REFERENCES accounts(id),
		UNIQUE(account_id, type, platform_transaction_id)
	);
	CREATE INDEX IF NOT EXISTS transactions_account_processed_completed
		ON transactions(account_id, processed, completed_at, type);
	CREATE INDEX IF NOT EXISTS transactions_portfolio_completed_type
		ON transactions(portfolio_id, completed_at, type);

	CREATE TABLE IF NOT EXISTS acquisitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transaction_id INTEGER UNIQUE,
		account_id INTEGER NOT NULL,
		currency_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		cost_currency_id INTEGER,
		cost_amount TEXT NOT NULL DEFAULT '0',
		average_cost_amount TEXT NOT NULL DEFAULT '0',
		has_cost INTEGER NOT NULL DEFAULT 0,
		type TEXT NOT NULL,
		acquired_at TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(account_id) REFERENCES accounts(id),
		FOREIGN KEY(currency_id) REFERENCES currencies(id)
	);
	CREATE INDEX IF NOT EXISTS acquisitions_account_currency_acquired
		ON acquisitions(account_id, currency_id, acquired_at);

	CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		portfolio_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL,
		currency_id INTEGER NOT NULL,
		cost_currency_id INTEGER NOT NULL,
		acquisition_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		cost_amount TEXT NOT NULL,
		average_cost_amount TEXT NOT NULL,
		acquired_at TEXT NOT NULL,
		transferred_at TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(acquisition_id) REFERENCES acquisitions(id)
	);
	CREATE INDEX IF NOT EXISTS assets_account_currency_acquired
		ON assets(portfolio_id, account_id, currency_id, acquired_at, amount);
	CREATE INDEX IF NOT EXISTS assets_account_currency_avg_cost
		ON assets(portfolio_id, account_id, currency_id, average_cost_amount, acquired_at, amount);

	CREATE TABLE IF NOT EXISTS disposals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		portfolio_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL,
		currency_id INTEGER NOT NULL,
		fiat_currency_id INTEGER NOT NULL,
		transaction_id INTEGER,
		acquisition_id INTEGER NOT NULL,
		acquisition_type TEXT NOT NULL,
		type TEXT NOT NULL,
		capital_gains_treatment TEXT NOT NULL
			CHECK (capital_gains_treatment IN ('short_term','long_term')),
		amount TEXT NOT NULL,
		cost_amount TEXT NOT NULL,
		sold_amount TEXT NOT NULL,
		acquired_at TEXT NOT NULL,
		disposed_at TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(acquisition_id) REFERENCES acquisitions(id)
	);
	CREATE INDEX IF NOT EXISTS disposals_account_disposed
		ON disposals(portfolio_id, account_id, disposed_at, acquired_at);
	CREATE INDEX IF NOT EXISTS disposals_account_treatment_disposed
		ON disposals(portfolio_id, account_id, capital_gains_treatment, disposed_at);

	CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		portfolio_id INTEGER NOT NULL,
		from_account_id INTEGER NOT NULL,
		to_account_id INTEGER NOT NULL,
		from_transaction_id INTEGER UNIQUE,
		to_transaction_id INTEGER UNIQUE,
		currency_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		from_completed_at TEXT NOT NULL,
		to_completed_at TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(from_account_id) REFERENCES accounts(id),
		FOREIGN KEY(to_account_id) REFERENCES accounts(id)
	);
	CREATE INDEX IF NOT EXISTS transfers_portfolio_from_completed
		ON transfers(portfolio_id, from_completed_at);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}
