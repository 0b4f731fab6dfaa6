// Interactive Brokers connector built on the Client Portal REST gateway.
package ibkr

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/username/wealthos/backend/src/config"
	"github.com/username/wealthos/backend/src/connectors"
	"github.com/username/wealthos/backend/src/logger"
	"github.com/username/wealthos/backend/src/models"
)

const (
	defaultGatewayURL = "https://localhost:5000"
	defaultCacheTTL   = 300 // seconds
)

// transactionTypeMap translates gateway trade sides to canonical types.
var transactionTypeMap = map[string]models.TransactionType{
	"BUY":      models.TypeBuy,
	"SELL":     models.TypeSell,
	"DIV":      models.TypeDividend,
	"INT":      models.TypeInterest,
	"DEP":      models.TypeDeposit,
	"WITH":     models.TypeWithdrawal,
	"FEE":      models.TypeFee,
	"SPLIT":    models.TypeSplit,
	"MERGER":   models.TypeMerger,
	"TRANSFER": models.TypeTransfer,
}

var metadata = connectors.ConnectorMetadata{
	ID:                 "ibkr",
	Name:               "Interactive Brokers",
	Type:               connectors.TypeBroker,
	Version:            "1.0.0",
	Description:        "Brokerage accounts for stocks, ETFs, options, futures and bonds via the Client Portal gateway",
	Capabilities:       []string{connectors.CapabilityHoldings, connectors.CapabilityTransactions, connectors.CapabilityBalances},
	AuthenticationType: connectors.AuthAPIKey,
	RateLimitPerMinute: 50,
	DocumentationURL:   "https://interactivebrokers.github.io/cpwebapi/",
}

// Connector fetches holdings and trade history through a running gateway.
// The gateway handles the brokerage login; this side only needs the gateway
// to report an authenticated session, or a bearer token for cloud access.
type Connector struct {
	cfg      config.BrokerConfig
	client   *gatewayClient
	limiter  *connectors.RateLimiter
	cache    *connectors.ResponseCache
	retry    connectors.RetryPolicy
	lookback time.Duration
	now      func() time.Time

	mu            sync.Mutex
	accounts      []string
	authenticated bool
}

func New(cfg config.BrokerConfig, lookbackDays int) *Connector {
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = defaultGatewayURL
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	callsPerMinute := cfg.CallsPerMinute
	if callsPerMinute <= 0 {
		callsPerMinute = 50
	}
	callsPerSecond := cfg.CallsPerSecond
	if callsPerSecond <= 0 {
		callsPerSecond = 5.0
	}
	if lookbackDays <= 0 {
		lookbackDays = 365
	}

	return &Connector{
		cfg:      cfg,
		limiter:  connectors.NewRateLimiter(callsPerMinute, callsPerSecond),
		cache:    connectors.NewResponseCache(cacheTTL),
		retry:    connectors.DefaultRetryPolicy,
		lookback: time.Duration(lookbackDays) * 24 * time.Hour,
		now:      time.Now,
	}
}

func (c *Connector) Metadata() connectors.ConnectorMetadata { return metadata }

// Authenticate verifies the gateway session and enumerates linked accounts,
// applying the configured account filter.
func (c *Connector) Authenticate(ctx context.Context) (string, error) {
	if c.cfg.BearerToken != "" {
		if err := checkTokenExpiry(c.cfg.BearerToken, c.now()); err != nil {
			return "", err
		}
	}

	// Remote gateways use public certificates; the local default ships a
	// self-signed one.
	verifySSL := !strings.Contains(c.cfg.GatewayURL, "localhost") &&
		!strings.Contains(c.cfg.GatewayURL, "127.0.0.1")

	client := newGatewayClient(c.cfg.GatewayURL, clientOptions{
		bearerToken:   c.cfg.BearerToken,
		oauthClientID: c.cfg.OAuthClientID,
		oauthSecret:   c.cfg.OAuthSecret,
		oauthTokenURL: c.cfg.OAuthTokenURL,
		verifySSL:     verifySSL,
	})

	var status authStatusResponse
	if err := client.get(ctx, "/v1/api/iserver/auth/status", nil, &status); err != nil {
		return "", err
	}
	if !status.Authenticated {
		return "", &connectors.AuthenticationError{
			Source:  metadata.ID,
			Message: "gateway session not authenticated, login via the gateway first",
		}
	}

	var accountList []portfolioAccount
	if err := client.get(ctx, "/v1/api/portfolio/accounts", nil, &accountList); err != nil {
		return "", err
	}

	var accounts []string
	for _, acc := range accountList {
		if acc.ID == "" {
			continue
		}
		if len(c.cfg.Accounts) > 0 && !contains(c.cfg.Accounts, acc.ID) {
			continue
		}
		accounts = append(accounts, acc.ID)
	}
	if len(accounts) == 0 {
		return "", &connectors.AuthenticationError{
			Source:  metadata.ID,
			Message: "no accounts found or all filtered out",
		}
	}
	sort.Strings(accounts)

	c.mu.Lock()
	c.client = client
	c.accounts = accounts
	c.authenticated = true
	c.mu.Unlock()

	logger.L.Info("Authenticated with IBKR gateway", "gateway", c.cfg.GatewayURL, "accounts", len(accounts))
	return fmt.Sprintf("connected to %d account(s)", len(accounts)), nil
}

// checkTokenExpiry inspects the bearer token's exp claim without verifying
// the signature; the gateway is the verifying party.
func checkTokenExpiry(token string, now time.Time) error {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		// Opaque tokens are passed through for the gateway to judge.
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(now) {
		return &connectors.AuthenticationError{
			Source:  metadata.ID,
			Message: fmt.Sprintf("bearer token expired at %s", exp.Format(time.RFC3339)),
		}
	}
	return nil
}

func (c *Connector) session() (*gatewayClient, []string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authenticated || c.client == nil {
		return nil, nil, false
	}
	return c.client, c.accounts, true
}

// GetHoldings fetches positions per account. A single account failure is
// logged and skipped so the remaining accounts still contribute.
func (c *Connector) GetHoldings(ctx context.Context, accountID string) ([]models.Holding, error) {
	client, accounts, ok := c.session()
	if !ok {
		return nil, &connectors.DataFetchError{Source: metadata.ID, Message: "not authenticated"}
	}
	if accountID != "" {
		accounts = []string{accountID}
	}

	var all []models.Holding
	var lastErr error
	for _, acct := range accounts {
		holdings, err := c.fetchAccountHoldings(ctx, client, acct)
		if err != nil {
			logger.L.Error("Failed to fetch IBKR holdings", "account", acct, "error", err)
			lastErr = err
			continue
		}
		all = append(all, holdings...)
	}
	if len(all) == 0 && lastErr != nil && len(accounts) == 1 {
		return nil, lastErr
	}
	return all, nil
}

func (c *Connector) fetchAccountHoldings(ctx context.Context, client *gatewayClient, accountID string) ([]models.Holding, error) {
	cacheKey := connectors.CacheKey("holdings", accountID)
	if cached, found := c.cache.Get(cacheKey); found {
		return cached.([]models.Holding), nil
	}

	var positions []position
	err := connectors.Retry(ctx, c.retry, func() error {
		if _, err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return client.get(ctx, "/v1/api/portfolio/"+accountID+"/positions/0", nil, &positions)
	})
	if err != nil {
		return nil, err
	}

	snapshotAt := c.now().UTC()
	var holdings []models.Holding
	for _, pos := range positions {
		symbol := pos.Ticker
		if symbol == "" {
			symbol = strconv.FormatInt(pos.ConID, 10)
		}
		name := pos.ContractDesc
		if name == "" {
			name = symbol
		}
		currency := pos.Currency
		if currency == "" {
			currency = "USD"
		}
		holdings = append(holdings, models.Holding{
			Symbol:       symbol,
			Name:         name,
			Quantity:     pos.Position,
			CurrentPrice: pos.MktPrice,
			MarketValue:  pos.MktValue,
			CostBasis:    pos.AvgCost * pos.Position,
			Currency:     currency,
			AccountID:    accountID,
			Source:       metadata.ID,
			SnapshotAt:   snapshotAt,
		})
	}

	c.cache.Set(cacheKey, holdings)
	return holdings, nil
}

// GetTransactions fetches trades per account, mapping gateway trade sides to
// canonical types and sorting newest first.
func (c *Connector) GetTransactions(ctx context.Context, query models.TransactionQuery) ([]models.Transaction, error) {
	client, accounts, ok := c.session()
	if !ok {
		return nil, &connectors.DataFetchError{Source: metadata.ID, Message: "not authenticated"}
	}
	if query.AccountID != "" {
		accounts = []string{query.AccountID}
	}

	until := query.Until
	if until.IsZero() {
		until = c.now()
	}
	since := query.Since
	if since.IsZero() {
		since = until.Add(-c.lookback)
	}
	days := int(until.Sub(since).Hours() / 24)
	if days < 1 {
		days = 1
	}

	var all []models.Transaction
	var lastErr error
	for _, acct := range accounts {
		txs, err := c.fetchAccountTransactions(ctx, client, acct, days)
		if err != nil {
			logger.L.Error("Failed to fetch IBKR transactions", "account", acct, "error", err)
			lastErr = err
			continue
		}
		all = append(all, txs...)
	}
	if len(all) == 0 && lastErr != nil && len(accounts) == 1 {
		return nil, lastErr
	}

	// The gateway filters by day count only; trim to the exact window here.
	filtered := all[:0]
	for _, tx := range all {
		if !tx.Date.Before(since) && tx.Date.Before(until) {
			filtered = append(filtered, tx)
		}
	}
	all = filtered

	sort.Slice(all, func(i, j int) bool { return all[i].Date.After(all[j].Date) })
	return all, nil
}

func (c *Connector) fetchAccountTransactions(ctx context.Context, client *gatewayClient, accountID string, days int) ([]models.Transaction, error) {
	var trades []trade
	err := connectors.Retry(ctx, c.retry, func() error {
		if _, err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		q := url.Values{"days": {strconv.Itoa(days)}}
		return client.get(ctx, "/v1/api/iserver/account/trades", q, &trades)
	})
	if err != nil {
		return nil, err
	}

	var txs []models.Transaction
	for _, tr := range trades {
		txType, mapped := transactionTypeMap[strings.ToUpper(tr.Side)]
		if !mapped {
			txType = models.TransactionType(tr.Side)
		}
		date := c.now().UTC()
		if tr.TradeTimeR > 0 {
			date = time.UnixMilli(tr.TradeTimeR).UTC()
		}
		name := tr.Description
		if name == "" {
			name = tr.Symbol
		}
		currency := tr.Currency
		if currency == "" {
			currency = "USD"
		}
		qty := tr.Size
		if qty < 0 {
			qty = -qty
		}
		txs = append(txs, models.Transaction{
			Date:      date,
			Symbol:    tr.Symbol,
			Name:      name,
			Type:      txType,
			Quantity:  qty,
			Price:     tr.Price,
			Amount:    tr.NetAmount,
			Currency:  currency,
			Fees:      tr.Commission,
			SourceID:  "ibkr_" + tr.ExecutionID,
			Source:    metadata.ID,
			AccountID: accountID,
		})
	}
	return txs, nil
}

// GetAccountInfo fetches per-account metadata from the gateway.
func (c *Connector) GetAccountInfo(ctx context.Context) ([]models.AccountInfo, error) {
	client, accounts, ok := c.session()
	if !ok {
		return nil, nil
	}

	var infos []models.AccountInfo
	for _, acct := range accounts {
		var meta accountMeta
		if err := client.get(ctx, "/v1/api/portfolio/"+acct+"/meta", nil, &meta); err != nil {
			logger.L.Error("Failed to fetch IBKR account meta", "account", acct, "error", err)
			continue
		}
		accountType := meta.AccountType
		if accountType == "" {
			accountType = "Unknown"
		}
		baseCurrency := meta.BaseCurrency
		if baseCurrency == "" {
			baseCurrency = "USD"
		}
		infos = append(infos, models.AccountInfo{
			AccountID:    acct,
			AccountType:  accountType,
			BaseCurrency: baseCurrency,
			Status:       "connected",
		})
	}
	return infos, nil
}

// HealthCheck probes the gateway auth status endpoint.
func (c *Connector) HealthCheck(ctx context.Context) (bool, string) {
	client, _, ok := c.session()
	if !ok {
		return false, "not authenticated"
	}
	var status authStatusResponse
	if err := client.get(ctx, "/v1/api/iserver/auth/status", nil, &status); err != nil {
		return false, fmt.Sprintf("gateway unreachable: %v", err)
	}
	if !status.Authenticated {
		return false, "gateway session no longer authenticated"
	}
	return true, "gateway healthy and authenticated"
}

// Disconnect drops the gateway session and cached data.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.client = nil
	c.accounts = nil
	c.authenticated = false
	c.mu.Unlock()
	c.cache.Clear()
	logger.L.Info("Disconnected from IBKR gateway")
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
