package samplebank

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/username/wealthos/backend/src/connectors"
	"github.com/username/wealthos/backend/src/logger"
	"github.com/username/wealthos/backend/src/models"
	"github.com/username/wealthos/backend/src/plugins"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func authedPlugin(t *testing.T) *Connector {
	t.Helper()
	p, err := New(map[string]string{"username": "demo", "password": "demo"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := p.(*Connector)
	c.now = func() time.Time { return fixedNow }
	if _, err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	return c
}

func TestRegisteredInPluginRegistry(t *testing.T) {
	found := false
	for _, id := range plugins.RegisteredIDs() {
		if id == pluginID {
			found = true
		}
	}
	if !found {
		t.Fatal("sample_bank not registered")
	}
}

func TestAuthenticateRequiresCredentials(t *testing.T) {
	p, err := New(map[string]string{"username": "demo"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Authenticate(context.Background())
	var ce *connectors.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConfigurationError", err)
	}
	if len(ce.Missing) != 1 || ce.Missing[0] != "password" {
		t.Errorf("missing = %v", ce.Missing)
	}
}

func TestGetHoldings(t *testing.T) {
	c := authedPlugin(t)
	holdings, err := c.GetHoldings(context.Background(), "")
	if err != nil {
		t.Fatalf("GetHoldings: %v", err)
	}
	if len(holdings) != 2 {
		t.Fatalf("got %d holdings, want 2", len(holdings))
	}
	h := holdings[0]
	if h.Symbol != "CASH:ACC001" || h.Quantity != 1 || h.MarketValue != 12500.00 {
		t.Errorf("holding = %+v", h)
	}
	if h.Source != pluginID {
		t.Errorf("source = %q", h.Source)
	}

	scoped, err := c.GetHoldings(context.Background(), "ACC002")
	if err != nil {
		t.Fatalf("GetHoldings(ACC002): %v", err)
	}
	if len(scoped) != 1 || scoped[0].AccountID != "ACC002" {
		t.Errorf("scoped holdings = %+v", scoped)
	}
}

func TestGetTransactions(t *testing.T) {
	c := authedPlugin(t)
	txs, err := c.GetTransactions(context.Background(), models.TransactionQuery{})
	if err != nil {
		t.Fatalf("GetTransactions: %v", err)
	}
	// 3 demo events per account.
	if len(txs) != 6 {
		t.Fatalf("got %d transactions, want 6", len(txs))
	}

	seen := map[string]bool{}
	for _, tx := range txs {
		if seen[tx.SourceID] {
			t.Errorf("duplicate source id %q", tx.SourceID)
		}
		seen[tx.SourceID] = true
		if !models.IsStandardTransactionType(tx.Type) {
			t.Errorf("nonstandard type %q", tx.Type)
		}
	}
	for i := 1; i < len(txs); i++ {
		if txs[i].Date.After(txs[i-1].Date) {
			t.Fatal("transactions not sorted newest first")
		}
	}
}

func TestGetTransactionsWindow(t *testing.T) {
	c := authedPlugin(t)
	// Only the deposit 5 days back falls inside a 10 day window.
	txs, err := c.GetTransactions(context.Background(), models.TransactionQuery{
		Since: fixedNow.AddDate(0, 0, -10),
		Until: fixedNow,
	})
	if err != nil {
		t.Fatalf("GetTransactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2 (one deposit per account)", len(txs))
	}
	for _, tx := range txs {
		if tx.Type != models.TypeDeposit {
			t.Errorf("type = %v, want Deposit", tx.Type)
		}
	}
}

func TestGetAccounts(t *testing.T) {
	c := authedPlugin(t)
	infos, err := c.GetAccounts(context.Background())
	if err != nil {
		t.Fatalf("GetAccounts: %v", err)
	}
	if len(infos) != 2 || infos[0].AccountID != "ACC001" || infos[1].AccountType != "savings" {
		t.Errorf("accounts = %+v", infos)
	}
}

func TestLifecycle(t *testing.T) {
	c := authedPlugin(t)
	if ok, _ := c.HealthCheck(context.Background()); !ok {
		t.Error("unhealthy after authentication")
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if ok, _ := c.HealthCheck(context.Background()); ok {
		t.Error("healthy after Disconnect")
	}
	if _, err := c.GetHoldings(context.Background(), ""); err == nil {
		t.Error("GetHoldings succeeded after Disconnect")
	}
}
