// Multi-exchange cryptocurrency connector for Binance-dialect venues.
package cryptoexch

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/username/wealthos/backend/src/config"
	"github.com/username/wealthos/backend/src/connectors"
	"github.com/username/wealthos/backend/src/logger"
	"github.com/username/wealthos/backend/src/models"
)

// venueDefaults carries per-exchange base URLs and documented rate limits for
// the venues that speak the Binance REST dialect.
var venueDefaults = map[string]struct {
	baseURL        string
	callsPerMinute int
	callsPerSecond float64
}{
	"binance":   {"https://api.binance.com", 60, 5.0},
	"binanceus": {"https://api.binance.us", 60, 5.0},
	"mexc":      {"https://api.mexc.com", 60, 2.0},
}

// dust positions below this quantity are skipped outright.
const dustThreshold = 0.00001

// Connector aggregates holdings and transactions across several configured
// exchanges. Each venue gets its own rate limiter; a single response cache is
// shared across venues because cache keys embed the exchange id.
type Connector struct {
	cfg      config.CryptoConfig
	cache    *connectors.ResponseCache
	retry    connectors.RetryPolicy
	lookback time.Duration

	mu            sync.Mutex
	clients       map[string]*exchangeClient
	limiters      map[string]*connectors.RateLimiter
	authenticated bool
}

var metadata = connectors.ConnectorMetadata{
	ID:                 "cryptoexch",
	Name:               "Crypto Exchanges",
	Type:               connectors.TypeCryptoExchange,
	Version:            "1.0.0",
	Description:        "Holdings and trade history from Binance-dialect cryptocurrency exchanges",
	Capabilities:       []string{connectors.CapabilityHoldings, connectors.CapabilityTransactions},
	AuthenticationType: connectors.AuthAPIKey,
	RateLimitPerMinute: 60,
	DocumentationURL:   "https://developers.binance.com/docs",
}

func New(cfg config.CryptoConfig, lookbackDays int) *Connector {
	if lookbackDays <= 0 {
		lookbackDays = 365
	}
	return &Connector{
		cfg:      cfg,
		cache:    connectors.NewResponseCache(cfg.CacheTTL),
		retry:    connectors.DefaultRetryPolicy,
		lookback: time.Duration(lookbackDays) * 24 * time.Hour,
		clients:  make(map[string]*exchangeClient),
		limiters: make(map[string]*connectors.RateLimiter),
	}
}

func (c *Connector) Metadata() connectors.ConnectorMetadata { return metadata }

// Authenticate connects every enabled exchange. Partial success is still
// success: venues that fail are reported in the status message and skipped
// by later fetches.
func (c *Connector) Authenticate(ctx context.Context) (string, error) {
	enabled := c.enabledExchangeIDs()
	if len(enabled) == 0 {
		return "", &connectors.ConfigurationError{Missing: []string{"exchanges"}}
	}

	var connected []string
	var failures []string

	for _, exchangeID := range enabled {
		exCfg := c.cfg.Exchanges[exchangeID]
		if err := c.authenticateExchange(ctx, exchangeID, exCfg); err != nil {
			logger.L.Error("Exchange authentication failed", "exchange", exchangeID, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", exchangeID, err))
			continue
		}
		connected = append(connected, exchangeID)
	}

	c.mu.Lock()
	c.authenticated = len(connected) > 0
	c.mu.Unlock()

	if len(connected) == 0 {
		return "", &connectors.AuthenticationError{
			Source:  metadata.ID,
			Message: "all exchange connections failed: " + strings.Join(failures, "; "),
		}
	}
	msg := fmt.Sprintf("connected to %d exchange(s): %s", len(connected), strings.Join(connected, ", "))
	if len(failures) > 0 {
		msg += "; failed: " + strings.Join(failures, "; ")
	}
	return msg, nil
}

func (c *Connector) authenticateExchange(ctx context.Context, exchangeID string, exCfg config.ExchangeConfig) error {
	if exCfg.APIKey == "" || exCfg.APISecret == "" {
		return &connectors.ConfigurationError{Missing: []string{"api_key", "api_secret"}}
	}

	defaults, known := venueDefaults[exchangeID]
	baseURL := exCfg.BaseURL
	if baseURL == "" {
		if !known {
			return &connectors.AuthenticationError{Source: exchangeID, Message: "unknown exchange and no base_url configured"}
		}
		baseURL = defaults.baseURL
	}

	client := newExchangeClient(exchangeID, baseURL, exCfg.APIKey, exCfg.APISecret)

	// Probe credentials by fetching the account; the dialect has no
	// dedicated auth endpoint.
	var acct accountResponse
	if err := client.get(ctx, "/api/v3/account", nil, true, &acct); err != nil {
		return err
	}

	callsPerMinute := exCfg.CallsPerMinute
	callsPerSecond := exCfg.CallsPerSecond
	if callsPerMinute <= 0 && known {
		callsPerMinute = defaults.callsPerMinute
	}
	if callsPerSecond <= 0 && known {
		callsPerSecond = defaults.callsPerSecond
	}

	c.mu.Lock()
	c.clients[exchangeID] = client
	c.limiters[exchangeID] = connectors.NewRateLimiter(callsPerMinute, callsPerSecond)
	c.mu.Unlock()

	logger.L.Info("Authenticated with exchange",
		"exchange", exchangeID,
		"apiKey", connectors.SanitizeAPIKey(exCfg.APIKey, 4))
	return nil
}

func (c *Connector) enabledExchangeIDs() []string {
	var ids []string
	for id, exCfg := range c.cfg.Exchanges {
		if exCfg.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (c *Connector) connectedExchangeIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.clients))
	for id := range c.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Connector) client(exchangeID string) (*exchangeClient, *connectors.RateLimiter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	client, ok := c.clients[exchangeID]
	if !ok {
		return nil, nil, false
	}
	return client, c.limiters[exchangeID], true
}

// GetHoldings fans out across connected exchanges. AccountID, when set,
// restricts the fetch to that exchange. A venue failure is logged and
// skipped; the remaining venues still contribute.
func (c *Connector) GetHoldings(ctx context.Context, accountID string) ([]models.Holding, error) {
	if !c.isAuthenticated() {
		return nil, &connectors.DataFetchError{Source: metadata.ID, Message: "not authenticated"}
	}

	targets := c.connectedExchangeIDs()
	if accountID != "" {
		targets = []string{accountID}
	}

	var all []models.Holding
	var lastErr error
	for _, exchangeID := range targets {
		holdings, err := c.fetchExchangeHoldings(ctx, exchangeID)
		if err != nil {
			logger.L.Error("Failed to fetch holdings from exchange", "exchange", exchangeID, "error", err)
			lastErr = err
			continue
		}
		all = append(all, holdings...)
	}

	if len(all) == 0 && lastErr != nil && len(targets) == 1 {
		return nil, lastErr
	}
	return all, nil
}

func (c *Connector) fetchExchangeHoldings(ctx context.Context, exchangeID string) ([]models.Holding, error) {
	client, limiter, ok := c.client(exchangeID)
	if !ok {
		return nil, &connectors.DataFetchError{Source: exchangeID, Message: "exchange not authenticated"}
	}

	cacheKey := connectors.CacheKey("holdings", exchangeID)
	if cached, found := c.cache.Get(cacheKey); found {
		return cached.([]models.Holding), nil
	}

	var acct accountResponse
	err := connectors.Retry(ctx, c.retry, func() error {
		if _, err := limiter.Wait(ctx); err != nil {
			return err
		}
		return client.get(ctx, "/api/v3/account", nil, true, &acct)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var holdings []models.Holding
	for _, bal := range acct.Balances {
		qty := parseAmount(bal.Free) + parseAmount(bal.Locked)
		if qty <= dustThreshold {
			continue
		}

		price := c.fetchPrice(ctx, client, limiter, bal.Asset)

		holdings = append(holdings, models.Holding{
			Symbol:       bal.Asset,
			Name:         assetName(bal.Asset),
			Quantity:     qty,
			CurrentPrice: price,
			MarketValue:  qty * price,
			Currency:     "USD",
			AccountID:    exchangeID,
			Source:       metadata.ID,
			SnapshotAt:   now,
		})
	}

	c.cache.Set(cacheKey, holdings)
	return holdings, nil
}

// fetchPrice resolves a USD price via the quote-currency fallback chain.
// Pricing failures degrade to zero rather than failing the holdings fetch.
func (c *Connector) fetchPrice(ctx context.Context, client *exchangeClient, limiter *connectors.RateLimiter, asset string) float64 {
	if stablecoins[asset] {
		return 1.0
	}

	cacheKey := connectors.CacheKey("price", client.exchangeID, asset)
	if cached, found := c.cache.Get(cacheKey); found {
		return cached.(float64)
	}

	for _, quote := range quoteFallbacks {
		if _, err := limiter.Wait(ctx); err != nil {
			return 0
		}
		var ticker tickerPrice
		query := url.Values{"symbol": {asset + quote}}
		if err := client.get(ctx, "/api/v3/ticker/price", query, false, &ticker); err != nil {
			logger.L.Debug("Price lookup failed", "exchange", client.exchangeID, "pair", asset+quote, "error", err)
			continue
		}
		if price := parseAmount(ticker.Price); price > 0 {
			c.cache.Set(cacheKey, price)
			return price
		}
	}
	return 0
}

// GetTransactions fans out across exchanges, merging trades, deposits and
// withdrawals mapped to canonical types. Results are sorted newest first.
func (c *Connector) GetTransactions(ctx context.Context, query models.TransactionQuery) ([]models.Transaction, error) {
	if !c.isAuthenticated() {
		return nil, &connectors.DataFetchError{Source: metadata.ID, Message: "not authenticated"}
	}

	since := query.Since
	if since.IsZero() {
		since = time.Now().Add(-c.lookback)
	}
	until := query.Until

	targets := c.connectedExchangeIDs()
	if query.AccountID != "" {
		targets = []string{query.AccountID}
	}

	var all []models.Transaction
	var lastErr error
	for _, exchangeID := range targets {
		txs, err := c.fetchExchangeTransactions(ctx, exchangeID, since)
		if err != nil {
			logger.L.Error("Failed to fetch transactions from exchange", "exchange", exchangeID, "error", err)
			lastErr = err
			continue
		}
		all = append(all, txs...)
	}

	if len(all) == 0 && lastErr != nil && len(targets) == 1 {
		return nil, lastErr
	}

	if !until.IsZero() {
		filtered := all[:0]
		for _, tx := range all {
			if tx.Date.Before(until) {
				filtered = append(filtered, tx)
			}
		}
		all = filtered
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Date.After(all[j].Date) })
	return all, nil
}

func (c *Connector) fetchExchangeTransactions(ctx context.Context, exchangeID string, since time.Time) ([]models.Transaction, error) {
	client, limiter, ok := c.client(exchangeID)
	if !ok {
		return nil, &connectors.DataFetchError{Source: exchangeID, Message: "exchange not authenticated"}
	}

	sinceMillis := strconv.FormatInt(since.UnixMilli(), 10)
	var txs []models.Transaction

	var trades []tradeRecord
	err := connectors.Retry(ctx, c.retry, func() error {
		if _, err := limiter.Wait(ctx); err != nil {
			return err
		}
		q := url.Values{"startTime": {sinceMillis}, "limit": {"1000"}}
		return client.get(ctx, "/api/v3/myTrades", q, true, &trades)
	})
	if err != nil {
		return nil, err
	}
	for _, trade := range trades {
		base := baseAsset(trade.Symbol)
		txType := models.TypeSell
		if trade.IsBuyer {
			txType = models.TypeBuy
		}
		txs = append(txs, models.Transaction{
			Date:      time.UnixMilli(trade.Time).UTC(),
			Symbol:    base,
			Name:      assetName(base),
			Type:      txType,
			Quantity:  parseAmount(trade.Qty),
			Price:     parseAmount(trade.Price),
			Amount:    parseAmount(trade.QuoteQty),
			Currency:  "USD",
			Fees:      parseAmount(trade.Commission),
			SourceID:  fmt.Sprintf("%s_%d", exchangeID, trade.ID),
			Source:    metadata.ID,
			AccountID: exchangeID,
		})
	}

	// Deposits and withdrawals are best-effort: some venues gate these
	// endpoints behind extra permissions.
	var deposits []depositRecord
	err = connectors.Retry(ctx, c.retry, func() error {
		if _, err := limiter.Wait(ctx); err != nil {
			return err
		}
		q := url.Values{"startTime": {sinceMillis}, "limit": {"500"}}
		return client.get(ctx, "/sapi/v1/capital/deposit/hisrec", q, true, &deposits)
	})
	if err != nil {
		logger.L.Debug("Could not fetch deposits", "exchange", exchangeID, "error", err)
	} else {
		for _, dep := range deposits {
			if dep.Status != 1 { // only credited deposits
				continue
			}
			amount := parseAmount(dep.Amount)
			txs = append(txs, models.Transaction{
				Date:      time.UnixMilli(dep.InsertTime).UTC(),
				Symbol:    dep.Coin,
				Name:      assetName(dep.Coin),
				Type:      models.TypeDeposit,
				Quantity:  amount,
				Amount:    amount,
				Currency:  "USD",
				SourceID:  fmt.Sprintf("%s_dep_%s", exchangeID, dep.ID),
				Source:    metadata.ID,
				AccountID: exchangeID,
			})
		}
	}

	var withdrawals []withdrawRecord
	err = connectors.Retry(ctx, c.retry, func() error {
		if _, err := limiter.Wait(ctx); err != nil {
			return err
		}
		q := url.Values{"startTime": {sinceMillis}, "limit": {"500"}}
		return client.get(ctx, "/sapi/v1/capital/withdraw/history", q, true, &withdrawals)
	})
	if err != nil {
		logger.L.Debug("Could not fetch withdrawals", "exchange", exchangeID, "error", err)
	} else {
		for _, wth := range withdrawals {
			if wth.Status != 6 { // only completed withdrawals
				continue
			}
			applyTime, _ := time.Parse("2006-01-02 15:04:05", wth.ApplyTime)
			amount := parseAmount(wth.Amount)
			txs = append(txs, models.Transaction{
				Date:      applyTime.UTC(),
				Symbol:    wth.Coin,
				Name:      assetName(wth.Coin),
				Type:      models.TypeWithdrawal,
				Quantity:  amount,
				Amount:    amount,
				Currency:  "USD",
				Fees:      parseAmount(wth.TransactionFee),
				SourceID:  fmt.Sprintf("%s_wth_%s", exchangeID, wth.ID),
				Source:    metadata.ID,
				AccountID: exchangeID,
			})
		}
	}

	return txs, nil
}

// baseAsset strips the quote suffix from a dialect pair symbol like BTCUSDT.
func baseAsset(pair string) string {
	for _, quote := range quoteFallbacks {
		if strings.HasSuffix(pair, quote) && len(pair) > len(quote) {
			return strings.TrimSuffix(pair, quote)
		}
	}
	return pair
}

// GetAccountInfo lists one entry per connected exchange.
func (c *Connector) GetAccountInfo(ctx context.Context) ([]models.AccountInfo, error) {
	if !c.isAuthenticated() {
		return nil, nil
	}
	var infos []models.AccountInfo
	for _, exchangeID := range c.connectedExchangeIDs() {
		infos = append(infos, models.AccountInfo{
			AccountID:    exchangeID,
			AccountType:  "Crypto Exchange",
			BaseCurrency: "USD",
			Status:       "connected",
		})
	}
	return infos, nil
}

// HealthCheck pings every connected exchange's public time endpoint.
func (c *Connector) HealthCheck(ctx context.Context) (bool, string) {
	targets := c.connectedExchangeIDs()
	if len(targets) == 0 {
		return false, "no exchanges connected"
	}

	var issues []string
	for _, exchangeID := range targets {
		client, _, ok := c.client(exchangeID)
		if !ok {
			continue
		}
		if err := client.get(ctx, "/api/v3/time", nil, false, nil); err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", exchangeID, err))
		}
	}
	if len(issues) > 0 {
		return false, "issues: " + strings.Join(issues, "; ")
	}
	return true, fmt.Sprintf("all %d exchange(s) healthy", len(targets))
}

// Disconnect drops all exchange sessions and cached data.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.clients = make(map[string]*exchangeClient)
	c.limiters = make(map[string]*connectors.RateLimiter)
	c.authenticated = false
	c.mu.Unlock()
	c.cache.Clear()
	logger.L.Info("Disconnected from all exchanges")
	return nil
}

func (c *Connector) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}
