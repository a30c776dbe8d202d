package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/logger"
)

const (
	quoteEndpoint = "/data-api/v3/cryptocurrency/historical"
	usdConvertID  = 2781
)

// coinMarketCapIDs maps the seeded crypto symbols to CoinMarketCap ids.
var coinMarketCapIDs = map[string]int{
	"BTC": 1, "LTC": 2, "DOGE": 74, "XLM": 512, "USDT": 825,
	"ETH": 1027, "VGX": 1817, "BCH": 1831, "LINK": 1975, "ADA": 2010,
	"GUSD": 3306, "USDC": 3408, "MATIC": 3890, "ALGO": 4030,
	"SOL": 5426, "AVAX": 5805, "SHIB": 5994, "DOT": 6636,
}

// Response shape of the CoinMarketCap historical endpoint.
type historicalResponse struct {
	Data struct {
		Quotes []struct {
			Quote struct {
				Open      float64   `json:"open"`
				Close     float64   `json:"close"`
				Timestamp time.Time `json:"timestamp"`
			} `json:"quote"`
		} `json:"quotes"`
	} `json:"data"`
}

// priceServiceImpl fetches daily USD closes from CoinMarketCap's historical
// endpoint and caches them per (symbol, day).
type priceServiceImpl struct {
	baseURL    string
	httpClient http.Client
	quoteCache *cache.Cache
}

func NewPriceService(baseURL string, timeout time.Duration) PriceService {
	return &priceServiceImpl{
		baseURL:    baseURL,
		httpClient: http.Client{Timeout: timeout},
		quoteCache: cache.New(24*time.Hour, 1*time.Hour),
	}
}

// HistoricalPrice returns the USD close of the UTC day containing at.
func (s *priceServiceImpl) HistoricalPrice(symbol string, at time.Time) (decimal.Decimal, error) {
	id, ok := coinMarketCapIDs[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no CoinMarketCap id for %s", ErrPriceNotFound, symbol)
	}

	day := at.UTC().Truncate(24 * time.Hour)
	cacheKey := fmt.Sprintf("%s:%d", symbol, day.Unix())
	if cached, found := s.quoteCache.Get(cacheKey); found {
		return cached.(decimal.Decimal), nil
	}

	params := url.Values{}
	params.Set("id", fmt.Sprintf("%d", id))
	params.Set("convertId", fmt.Sprintf("%d", usdConvertID))
	params.Set("timeStart", fmt.Sprintf("%d", day.Unix()))
	params.Set("timeEnd", fmt.Sprintf("%d", day.Add(24*time.Hour).Unix()))

	reqURL := s.baseURL + quoteEndpoint + "?" + params.Encode()
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote request for %s failed: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("quote request for %s returned status %d", symbol, resp.StatusCode)
	}

	var parsed historicalResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode quote response for %s: %w", symbol, err)
	}
	if len(parsed.Data.Quotes) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s at %s", ErrPriceNotFound, symbol, day.Format("2006-01-02"))
	}

	price := decimal.NewFromFloat(parsed.Data.Quotes[0].Quote.Close)
	s.quoteCache.Set(cacheKey, price, cache.DefaultExpiration)
	logger.L.Debug("Fetched historical price", "symbol", symbol, "day", day.Format("2006-01-02"), "price", price)
	return price, nil
}
