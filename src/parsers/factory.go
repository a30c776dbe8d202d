package parsers

import (
	"fmt"

	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/parsers/coinbase"
	"github.com/username/cryptofolio/backend/src/parsers/coinbasepro"
	"github.com/username/cryptofolio/backend/src/parsers/voyager"
	"github.com/username/cryptofolio/backend/src/registry"
)

// GetParser returns the parser for a seeded platform name.
func GetParser(platform string, reg *registry.Registry, fiat models.Currency) (Parser, error) {
	switch platform {
	case "Coinbase":
		return coinbase.NewParser(reg, fiat), nil
	case "Coinbase Pro":
		return coinbasepro.NewParser(reg), nil
	case "Voyager":
		return voyager.NewParser(reg, fiat), nil
	default:
		return nil, fmt.Errorf("no parser available for platform: %s", platform)
	}
}
