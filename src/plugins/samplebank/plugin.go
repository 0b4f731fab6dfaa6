// Package samplebank is a template bank integration plugin. It returns
// deterministic demo data so operators can exercise the plugin pipeline end
// to end before wiring a real bank API. Copy this package, rename the id,
// and replace the demo calls with real ones.
package samplebank

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/username/wealthos/backend/src/connectors"
	"github.com/username/wealthos/backend/src/logger"
	"github.com/username/wealthos/backend/src/models"
	"github.com/username/wealthos/backend/src/plugins"
)

const pluginID = "sample_bank"

func init() {
	plugins.Register(pluginID, New)
}

var metadata = connectors.ConnectorMetadata{
	ID:                 pluginID,
	Name:               "Sample Bank Integration",
	Type:               connectors.TypePlugin,
	Version:            "1.0.0",
	Description:        "A template bank integration plugin for demonstration",
	Capabilities:       []string{connectors.CapabilityHoldings, connectors.CapabilityTransactions, connectors.CapabilityBalances},
	AuthenticationType: connectors.AuthCredentials,
}

type demoAccount struct {
	id       string
	name     string
	kind     string
	currency string
	balance  float64
}

// Connector is the sample plugin instance. A real plugin would hold a
// session token and an HTTP client here.
type Connector struct {
	settings map[string]string
	now      func() time.Time

	mu            sync.Mutex
	authenticated bool
	accounts      []demoAccount
}

func New(settings map[string]string) (plugins.Plugin, error) {
	return &Connector{
		settings: settings,
		now:      time.Now,
	}, nil
}

func (c *Connector) Metadata() connectors.ConnectorMetadata { return metadata }

// RequiredPermissions asserts what this code touches. The demo makes no
// real network calls, but a bank integration would, so the template
// declares network to match its manifest.
func (c *Connector) RequiredPermissions() []plugins.Permission {
	return []plugins.Permission{plugins.PermissionNetwork}
}

// Authenticate simulates a bank login. A real implementation calls the
// bank's login endpoint, handles MFA, and stores the session token.
func (c *Connector) Authenticate(ctx context.Context) (string, error) {
	username := c.settings["username"]
	password := c.settings["password"]
	if username == "" || password == "" {
		var missing []string
		if username == "" {
			missing = append(missing, "username")
		}
		if password == "" {
			missing = append(missing, "password")
		}
		return "", &connectors.ConfigurationError{Missing: missing}
	}

	c.mu.Lock()
	c.authenticated = true
	c.accounts = []demoAccount{
		{id: "ACC001", name: "Checking Account", kind: "checking", currency: "USD", balance: 12500.00},
		{id: "ACC002", name: "Savings Account", kind: "savings", currency: "USD", balance: 48000.00},
	}
	c.mu.Unlock()

	logger.L.Info("Sample bank authenticated", "user", connectors.SanitizeAPIKey(username, 3))
	return fmt.Sprintf("connected to %d account(s)", 2), nil
}

func (c *Connector) demoAccounts(accountID string) ([]demoAccount, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authenticated {
		return nil, false
	}
	if accountID == "" {
		return append([]demoAccount(nil), c.accounts...), true
	}
	for _, acct := range c.accounts {
		if acct.id == accountID {
			return []demoAccount{acct}, true
		}
	}
	return nil, true
}

// GetHoldings reports each cash account as a single-unit holding.
func (c *Connector) GetHoldings(ctx context.Context, accountID string) ([]models.Holding, error) {
	accounts, ok := c.demoAccounts(accountID)
	if !ok {
		return nil, &plugins.DataError{PluginID: pluginID, Message: "not authenticated"}
	}

	snapshotAt := c.now().UTC()
	var holdings []models.Holding
	for _, acct := range accounts {
		holdings = append(holdings, models.Holding{
			Symbol:       "CASH:" + acct.id,
			Name:         acct.name,
			Quantity:     1,
			CurrentPrice: acct.balance,
			MarketValue:  acct.balance,
			CostBasis:    acct.balance,
			Currency:     acct.currency,
			AccountID:    acct.id,
			Source:       pluginID,
			SnapshotAt:   snapshotAt,
		})
	}
	return holdings, nil
}

// GetTransactions generates a deterministic demo history: one deposit, one
// interest payment and one fee per account inside the query window.
func (c *Connector) GetTransactions(ctx context.Context, query models.TransactionQuery) ([]models.Transaction, error) {
	accounts, ok := c.demoAccounts(query.AccountID)
	if !ok {
		return nil, &plugins.DataError{PluginID: pluginID, Message: "not authenticated"}
	}

	until := query.Until
	if until.IsZero() {
		until = c.now()
	}
	since := query.Since
	if since.IsZero() {
		since = until.AddDate(0, -3, 0)
	}

	demo := []struct {
		txType  models.TransactionType
		amount  float64
		daysAgo int
	}{
		{models.TypeDeposit, 2500.00, 5},
		{models.TypeInterest, 12.40, 15},
		{models.TypeFee, -4.99, 25},
	}

	var txs []models.Transaction
	for _, acct := range accounts {
		for _, d := range demo {
			date := until.AddDate(0, 0, -d.daysAgo).UTC()
			if date.Before(since) || !date.Before(until) {
				continue
			}
			amount := d.amount
			if amount < 0 {
				amount = -amount
			}
			txs = append(txs, models.Transaction{
				Date:      date,
				Symbol:    "CASH",
				Name:      fmt.Sprintf("%s - %s", d.txType, acct.name),
				Type:      d.txType,
				Quantity:  1,
				Price:     amount,
				Amount:    d.amount,
				Currency:  acct.currency,
				SourceID:  fmt.Sprintf("%s_%s_%s_%s", pluginID, acct.id, d.txType, date.Format("20060102")),
				Source:    pluginID,
				AccountID: acct.id,
			})
		}
	}

	sort.Slice(txs, func(i, j int) bool { return txs[i].Date.After(txs[j].Date) })
	return txs, nil
}

// GetAccounts enumerates the connected demo accounts.
func (c *Connector) GetAccounts(ctx context.Context) ([]models.AccountInfo, error) {
	accounts, ok := c.demoAccounts("")
	if !ok {
		return nil, &plugins.DataError{PluginID: pluginID, Message: "not authenticated"}
	}
	var infos []models.AccountInfo
	for _, acct := range accounts {
		infos = append(infos, models.AccountInfo{
			AccountID:    acct.id,
			AccountType:  acct.kind,
			BaseCurrency: acct.currency,
			Status:       "connected",
		})
	}
	return infos, nil
}

// HealthCheck reports healthy while a session exists.
func (c *Connector) HealthCheck(ctx context.Context) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authenticated {
		return false, "not authenticated"
	}
	return true, "connection healthy"
}

// Disconnect drops the demo session.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.authenticated = false
	c.accounts = nil
	c.mu.Unlock()
	return nil
}
