// Tiingo market data connector for stocks, ETFs and crypto pricing.
package tiingo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/username/wealthos/backend/src/config"
	"github.com/username/wealthos/backend/src/connectors"
	"github.com/username/wealthos/backend/src/logger"
	"github.com/username/wealthos/backend/src/models"
)

const (
	defaultBaseURL  = "https://api.tiingo.com"
	defaultCacheTTL = 300 // seconds
	requestTimeout  = 30 * time.Second
)

// cryptoSymbols are priced through the crypto endpoint instead of IEX.
var cryptoSymbols = map[string]bool{
	"BTC": true, "ETH": true, "BNB": true, "SOL": true, "ADA": true,
	"XRP": true, "DOT": true, "DOGE": true, "AVAX": true, "MATIC": true,
	"LINK": true, "UNI": true, "ATOM": true, "LTC": true, "ETC": true,
	"XLM": true, "ALGO": true, "NEAR": true, "FTM": true, "SAND": true,
	"MANA": true, "APE": true, "SHIB": true, "CRO": true,
	"USDT": true, "USDC": true, "BUSD": true, "DAI": true,
}

var metadata = connectors.ConnectorMetadata{
	ID:                 "tiingo",
	Name:               "Tiingo Market Data",
	Type:               connectors.TypeMarketData,
	Version:            "1.0.0",
	Description:        "Current and historical prices for stocks, ETFs and crypto",
	Capabilities:       []string{},
	AuthenticationType: connectors.AuthAPIKey,
	RateLimitPerMinute: 500,
	DocumentationURL:   "https://api.tiingo.com/documentation/general/overview",
}

// PricePoint is one bar of historical price data.
type PricePoint struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	AdjClose float64   `json:"adjClose"`
}

// SymbolMatch is one result of a symbol search.
type SymbolMatch struct {
	Ticker    string `json:"ticker"`
	Name      string `json:"name"`
	AssetType string `json:"assetType"`
	Exchange  string `json:"exchange"`
}

// Connector is a pure market data provider. It satisfies the source contract
// so the orchestrator can manage it uniformly, but holdings and transactions
// are always empty.
type Connector struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *connectors.RateLimiter
	cache      *connectors.ResponseCache
	retry      connectors.RetryPolicy
	now        func() time.Time

	mu            sync.Mutex
	authenticated bool
}

func New(cfg config.MarketDataConfig) *Connector {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	callsPerMinute := cfg.CallsPerMinute
	if callsPerMinute <= 0 {
		callsPerMinute = 500
	}
	callsPerSecond := cfg.CallsPerSecond
	if callsPerSecond <= 0 {
		callsPerSecond = 10.0
	}

	return &Connector{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    connectors.NewRateLimiter(callsPerMinute, callsPerSecond),
		cache:      connectors.NewResponseCache(cacheTTL),
		retry:      connectors.DefaultRetryPolicy,
		now:        time.Now,
	}
}

func (c *Connector) Metadata() connectors.ConnectorMetadata { return metadata }

// Authenticate validates the API token against the test endpoint.
func (c *Connector) Authenticate(ctx context.Context) (string, error) {
	if c.apiKey == "" {
		return "", &connectors.ConfigurationError{Missing: []string{"api_key"}}
	}
	if err := c.get(ctx, "/api/test", nil, nil); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()

	logger.L.Info("Tiingo API key validated", "apiKey", connectors.SanitizeAPIKey(c.apiKey, 4))
	return "Tiingo API key validated", nil
}

// GetHoldings returns nothing: a market data provider has no positions.
func (c *Connector) GetHoldings(ctx context.Context, accountID string) ([]models.Holding, error) {
	return nil, nil
}

// GetTransactions returns nothing: a market data provider has no history.
func (c *Connector) GetTransactions(ctx context.Context, query models.TransactionQuery) ([]models.Transaction, error) {
	return nil, nil
}

// GetCurrentPrice returns the latest price for a stock, ETF or crypto symbol.
// A zero price with nil error means the symbol was not found.
func (c *Connector) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if !c.isAuthenticated() {
		return 0, &connectors.DataFetchError{Source: metadata.ID, Message: "not authenticated"}
	}

	cacheKey := connectors.CacheKey("price", symbol)
	if cached, found := c.cache.Get(cacheKey); found {
		return cached.(float64), nil
	}

	var price float64
	err := connectors.Retry(ctx, c.retry, func() error {
		if _, err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var fetchErr error
		if isCrypto(symbol) {
			price, fetchErr = c.fetchCryptoPrice(ctx, symbol)
		} else {
			price, fetchErr = c.fetchStockPrice(ctx, symbol)
		}
		return fetchErr
	})
	if err != nil {
		return 0, err
	}
	if price > 0 {
		c.cache.Set(cacheKey, price)
	}
	return price, nil
}

func (c *Connector) fetchStockPrice(ctx context.Context, symbol string) (float64, error) {
	var quotes []struct {
		Last     float64 `json:"last"`
		TngoLast float64 `json:"tngoLast"`
	}
	if err := c.get(ctx, "/iex/"+url.PathEscape(symbol), nil, &quotes); err != nil {
		return 0, err
	}
	if len(quotes) == 0 {
		return 0, nil
	}
	if quotes[0].Last > 0 {
		return quotes[0].Last, nil
	}
	return quotes[0].TngoLast, nil
}

func (c *Connector) fetchCryptoPrice(ctx context.Context, symbol string) (float64, error) {
	var results []struct {
		PriceData []struct {
			Close float64 `json:"close"`
		} `json:"priceData"`
	}
	q := url.Values{"tickers": {normalizeCrypto(symbol)}}
	if err := c.get(ctx, "/tiingo/crypto/prices", q, &results); err != nil {
		return 0, err
	}
	if len(results) == 0 || len(results[0].PriceData) == 0 {
		return 0, nil
	}
	return results[0].PriceData[0].Close, nil
}

// GetHistoricalPrices returns daily bars for [start, end]. Frequency applies
// to stock symbols only; crypto history is always daily.
func (c *Connector) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, frequency string) ([]PricePoint, error) {
	if !c.isAuthenticated() {
		return nil, &connectors.DataFetchError{Source: metadata.ID, Message: "not authenticated"}
	}
	if end.IsZero() {
		end = c.now()
	}
	if start.IsZero() {
		start = end.AddDate(-1, 0, 0)
	}
	if frequency == "" {
		frequency = "daily"
	}

	var points []PricePoint
	err := connectors.Retry(ctx, c.retry, func() error {
		if _, err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var fetchErr error
		if isCrypto(symbol) {
			points, fetchErr = c.fetchCryptoHistory(ctx, symbol, start, end)
		} else {
			points, fetchErr = c.fetchStockHistory(ctx, symbol, start, end, frequency)
		}
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

func (c *Connector) fetchStockHistory(ctx context.Context, symbol string, start, end time.Time, frequency string) ([]PricePoint, error) {
	q := url.Values{
		"startDate":    {start.Format("2006-01-02")},
		"endDate":      {end.Format("2006-01-02")},
		"resampleFreq": {frequency},
	}
	var points []PricePoint
	if err := c.get(ctx, "/tiingo/daily/"+url.PathEscape(symbol)+"/prices", q, &points); err != nil {
		return nil, err
	}
	return points, nil
}

func (c *Connector) fetchCryptoHistory(ctx context.Context, symbol string, start, end time.Time) ([]PricePoint, error) {
	q := url.Values{
		"tickers":      {normalizeCrypto(symbol)},
		"startDate":    {start.Format("2006-01-02")},
		"endDate":      {end.Format("2006-01-02")},
		"resampleFreq": {"1day"},
	}
	var results []struct {
		PriceData []PricePoint `json:"priceData"`
	}
	if err := c.get(ctx, "/tiingo/crypto/prices", q, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0].PriceData, nil
}

// SearchSymbol finds tickers matching a name or symbol fragment.
func (c *Connector) SearchSymbol(ctx context.Context, query string, limit int) ([]SymbolMatch, error) {
	if !c.isAuthenticated() {
		return nil, &connectors.DataFetchError{Source: metadata.ID, Message: "not authenticated"}
	}
	if limit <= 0 {
		limit = 10
	}
	if _, err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{"limit": {fmt.Sprintf("%d", limit)}}
	var matches []SymbolMatch
	if err := c.get(ctx, "/tiingo/utilities/search/"+url.PathEscape(query), q, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// HealthCheck probes the API test endpoint.
func (c *Connector) HealthCheck(ctx context.Context) (bool, string) {
	if !c.isAuthenticated() {
		return false, "not authenticated"
	}
	if err := c.get(ctx, "/api/test", nil, nil); err != nil {
		return false, fmt.Sprintf("API unreachable: %v", err)
	}
	return true, "Tiingo API healthy"
}

// Disconnect clears the session state and cache.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.authenticated = false
	c.mu.Unlock()
	c.cache.Clear()
	return nil
}

func (c *Connector) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Connector) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	reqURL := c.baseURL + path
	if query != nil {
		if encoded := query.Encode(); encoded != "" {
			reqURL += "?" + encoded
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &connectors.DataFetchError{Source: metadata.ID, Endpoint: path, Message: "building request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &connectors.DataFetchError{Source: metadata.ID, Endpoint: path, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		// Unknown symbol. Callers see an empty result.
		io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &connectors.AuthenticationError{Source: metadata.ID, Message: "invalid API key"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &connectors.RateLimitError{
			Message:    "Tiingo rate limit exceeded",
			RetryAfter: 60 * time.Second,
		}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &connectors.DataFetchError{
			Source:   metadata.ID,
			Endpoint: path,
			Message:  fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body)),
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &connectors.DataFetchError{Source: metadata.ID, Endpoint: path, Message: "decoding response", Err: err}
	}
	return nil
}

func isCrypto(symbol string) bool {
	return cryptoSymbols[strings.ToUpper(symbol)] || strings.HasSuffix(strings.ToLower(symbol), "usd")
}

func normalizeCrypto(symbol string) string {
	normalized := strings.ToLower(symbol)
	if !strings.HasSuffix(normalized, "usd") {
		normalized += "usd"
	}
	return normalized
}
