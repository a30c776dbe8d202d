// Package registry holds the loaded-once currency and platform lookup
// tables. It replaces implicit process-wide caches: the registry is built
// explicitly at startup and handed to importers and the processing engine.
package registry

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/username/cryptofolio/backend/src/models"
)

type Registry struct {
	mu              sync.RWMutex
	currenciesByID  map[int64]models.Currency
	currenciesByKey map[string]models.Currency // symbol + "/" + kind
	platformsByName map[string]models.Platform
}

// Load reads all currencies and platforms from the database.
func Load(db *sql.DB) (*Registry, error) {
	r := &Registry{}
	if err := r.Reload(db); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the registry contents, e.g. after seeding new currencies.
func (r *Registry) Reload(db *sql.DB) error {
	byID := make(map[int64]models.Currency)
	byKey := make(map[string]models.Currency)
	byName := make(map[string]models.Platform)

	rows, err := db.Query(`SELECT id, name, symbol, kind FROM currencies`)
	if err != nil {
		return fmt.Errorf("error loading currencies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c models.Currency
		if err := rows.Scan(&c.ID, &c.Name, &c.Symbol, &c.Kind); err != nil {
			return fmt.Errorf("error scanning currency row: %w", err)
		}
		byID[c.ID] = c
		byKey[currencyKey(c.Symbol, c.Kind)] = c
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating currency rows: %w", err)
	}

	prows, err := db.Query(`SELECT id, name, COALESCE(url, '') FROM platforms`)
	if err != nil {
		return fmt.Errorf("error loading platforms: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var p models.Platform
		if err := prows.Scan(&p.ID, &p.Name, &p.URL); err != nil {
			return fmt.Errorf("error scanning platform row: %w", err)
		}
		byName[p.Name] = p
	}
	if err := prows.Err(); err != nil {
		return fmt.Errorf("error iterating platform rows: %w", err)
	}

	r.mu.Lock()
	r.currenciesByID = byID
	r.currenciesByKey = byKey
	r.platformsByName = byName
	r.mu.Unlock()
	return nil
}

func currencyKey(symbol string, kind models.CurrencyKind) string {
	return symbol + "/" + string(kind)
}

// CurrencyByID looks a currency up by primary key.
func (r *Registry) CurrencyByID(id int64) (models.Currency, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.currenciesByID[id]
	return c, ok
}

// CryptoBySymbol resolves a crypto currency by symbol.
func (r *Registry) CryptoBySymbol(symbol string) (models.Currency, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.currenciesByKey[currencyKey(symbol, models.KindCrypto)]
	return c, ok
}

// FiatBySymbol resolves a fiat currency by symbol.
func (r *Registry) FiatBySymbol(symbol string) (models.Currency, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.currenciesByKey[currencyKey(symbol, models.KindFiat)]
	return c, ok
}

// BySymbol resolves a symbol that may be either kind; crypto wins when both
// exist (symbols are unique per kind, not globally).
func (r *Registry) BySymbol(symbol string) (models.Currency, bool) {
	if c, ok := r.CryptoBySymbol(symbol); ok {
		return c, true
	}
	return r.FiatBySymbol(symbol)
}

// PlatformByName looks a platform up by its unique name.
func (r *Registry) PlatformByName(name string) (models.Platform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platformsByName[name]
	return p, ok
}
