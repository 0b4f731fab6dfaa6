package connectors

import (
	"context"

	"github.com/username/wealthos/backend/src/models"
)

// ConnectorType categorizes data source connectors.
type ConnectorType string

const (
	TypeBroker         ConnectorType = "broker"
	TypeCryptoExchange ConnectorType = "crypto"
	TypeMarketData     ConnectorType = "market"
	TypeBank           ConnectorType = "bank"
	TypePlugin         ConnectorType = "plugin"
)

// Authentication modes a connector can declare.
const (
	AuthAPIKey      = "api_key"
	AuthOAuth       = "oauth"
	AuthCredentials = "credentials"
)

// Capabilities a source can declare.
const (
	CapabilityHoldings     = "holdings"
	CapabilityTransactions = "transactions"
	CapabilityBalances     = "balances"
)

// ConnectorMetadata is the static descriptor of a connector. One value per
// connector implementation, created at registration time and never mutated.
type ConnectorMetadata struct {
	ID                 string
	Name               string
	Type               ConnectorType
	Version            string
	Description        string
	Capabilities       []string
	AuthenticationType string
	RateLimitPerMinute int
	DocumentationURL   string
}

// HasCapability reports whether the connector declares the given capability.
func (m ConnectorMetadata) HasCapability(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Connector is the contract every data source integration implements.
//
// Authenticate must be idempotent: a second call on a valid session is either
// a no-op or a clean re-auth. GetHoldings and GetTransactions return an empty
// slice, not an error, when the account legitimately has no records. Failures
// surface as *AuthenticationError, *RateLimitError or *DataFetchError.
//
// A connector instance is not required to be reentrant: the orchestrator
// never interleaves Authenticate with a concurrent fetch on the same
// instance, but distinct connector instances may run concurrently.
type Connector interface {
	// Metadata returns the connector's static descriptor.
	Metadata() ConnectorMetadata

	// Authenticate establishes or validates a session and returns a
	// human-readable status message.
	Authenticate(ctx context.Context) (string, error)

	// GetHoldings returns the current position set for the account, or for
	// all accounts when accountID is empty.
	GetHoldings(ctx context.Context, accountID string) ([]models.Holding, error)

	// GetTransactions returns transactions in [query.Since, query.Until).
	// When Since is zero, implementations default to a bounded lookback
	// window rather than unbounded history.
	GetTransactions(ctx context.Context, query models.TransactionQuery) ([]models.Transaction, error)
}

// AccountInfoProvider is implemented by connectors that can enumerate their
// accounts.
type AccountInfoProvider interface {
	GetAccountInfo(ctx context.Context) ([]models.AccountInfo, error)
}

// HealthChecker is implemented by connectors with a cheap liveness probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (bool, string)
}

// Disconnector is implemented by connectors that hold releasable resources.
type Disconnector interface {
	Disconnect(ctx context.Context) error
}

// HealthCheck probes c if it implements HealthChecker, defaulting to healthy.
func HealthCheck(ctx context.Context, c Connector) (bool, string) {
	if hc, ok := c.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return true, "OK"
}

// Disconnect releases c's resources if it implements Disconnector.
func Disconnect(ctx context.Context, c Connector) error {
	if d, ok := c.(Disconnector); ok {
		return d.Disconnect(ctx)
	}
	return nil
}
