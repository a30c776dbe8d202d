package database

import (
	"fmt"

	"github.com/username/cryptofolio/backend/src/logger"
)

type seedPlatform struct {
	name string
	url  string
}

type seedCurrency struct {
	name   string
	symbol string
	kind   string
}

var seedPlatforms = []seedPlatform{
	{"Unknown", ""},
	{"BlockFi", "https://www.blockfi.com"},
	{"Coinbase", "https://www.coinbase.com"},
	{"Coinbase Pro", "https://pro.coinbase.com"},
	{"Coinbase Wallet", "https://www.coinbase.com/wallet"},
	{"Gemini", "https://www.gemini.com/"},
	{"Gemini Earn", "https://www.gemini.com/earn"},
	{"MetaMask", "https://metamask.io/"},
	{"Voyager", "https://www.investvoyager.com/"},
}

var seedCurrencies = []seedCurrency{
	{"US Dollar", "USD", "fiat"},
	{"Euro", "EUR", "fiat"},
	{"Pound Sterling", "GBP", "fiat"},
	{"Bitcoin", "BTC", "crypto"},
	{"Ethereum", "ETH", "crypto"},
	{"Litecoin", "LTC", "crypto"},
	{"Bitcoin Cash", "BCH", "crypto"},
	{"Solana", "SOL", "crypto"},
	{"Cardano", "ADA", "crypto"},
	{"Polkadot", "DOT", "crypto"},
	{"Dogecoin", "DOGE", "crypto"},
	{"Chainlink", "LINK", "crypto"},
	{"Stellar", "XLM", "crypto"},
	{"USD Coin", "USDC", "crypto"},
	{"Tether", "USDT", "crypto"},
	{"Gemini Dollar", "GUSD", "crypto"},
	{"Voyager Token", "VGX", "crypto"},
	{"Shiba Inu", "SHIB", "crypto"},
	{"Avalanche", "AVAX", "crypto"},
	{"Polygon", "MATIC", "crypto"},
	{"Algorand", "ALGO", "crypto"},
}

// Seed inserts the baseline platforms and currencies. Safe to run on every
// startup; existing rows are left untouched.
func Seed() error {
	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("error beginning seed transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range seedPlatforms {
		_, err := tx.Exec(
			`INSERT INTO platforms (name, url) VALUES (?, ?)
			 ON CONFLICT(name) DO NOTHING`, p.name, p.url)
		if err != nil {
			return fmt.Errorf("error seeding platform %q: %w", p.name, err)
		}
	}

	for _, c := range seedCurrencies {
		_, err := tx.Exec(
			`INSERT INTO currencies (name, symbol, kind) VALUES (?, ?, ?)
			 ON CONFLICT(symbol, kind) DO NOTHING`, c.name, c.symbol, c.kind)
		if err != nil {
			return fmt.Errorf("error seeding currency %q: %w", c.symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing seed transaction: %w", err)
	}
	if logger.L != nil {
		logger.L.Info("Seed data ensured", "platforms", len(seedPlatforms), "currencies", len(seedCurrencies))
	}
	return nil
}
