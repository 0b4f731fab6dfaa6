package connectors

import (
	"context"
	"errors"
	"testing"

	"github.com/username/wealthos/backend/src/models"
)

type stubConnector struct {
	meta ConnectorMetadata
}

func (s *stubConnector) Metadata() ConnectorMetadata { return s.meta }
func (s *stubConnector) Authenticate(ctx context.Context) (string, error) {
	return "ok", nil
}
func (s *stubConnector) GetHoldings(ctx context.Context, accountID string) ([]models.Holding, error) {
	return nil, nil
}
func (s *stubConnector) GetTransactions(ctx context.Context, query models.TransactionQuery) ([]models.Transaction, error) {
	return nil, nil
}

type stubDisconnector struct {
	stubConnector
	disconnected bool
	err          error
}

func (s *stubDisconnector) Disconnect(ctx context.Context) error {
	s.disconnected = true
	return s.err
}

type stubHealthChecker struct {
	stubConnector
	healthy bool
	msg     string
}

func (s *stubHealthChecker) HealthCheck(ctx context.Context) (bool, string) {
	return s.healthy, s.msg
}

func TestHasCapability(t *testing.T) {
	m := ConnectorMetadata{Capabilities: []string{CapabilityHoldings, CapabilityTransactions}}
	if !m.HasCapability(CapabilityHoldings) {
		t.Error("expected holdings capability")
	}
	if m.HasCapability(CapabilityBalances) {
		t.Error("unexpected balances capability")
	}
}

func TestHealthCheckDefaultsToHealthy(t *testing.T) {
	ok, msg := HealthCheck(context.Background(), &stubConnector{})
	if !ok || msg != "OK" {
		t.Errorf("HealthCheck = (%v, %q), want (true, OK)", ok, msg)
	}
}

func TestHealthCheckDelegates(t *testing.T) {
	c := &stubHealthChecker{healthy: false, msg: "gateway unreachable"}
	ok, msg := HealthCheck(context.Background(), c)
	if ok || msg != "gateway unreachable" {
		t.Errorf("HealthCheck = (%v, %q)", ok, msg)
	}
}

func TestDisconnectDelegates(t *testing.T) {
	if err := Disconnect(context.Background(), &stubConnector{}); err != nil {
		t.Errorf("Disconnect on plain connector returned %v", err)
	}

	c := &stubDisconnector{err: errors.New("close failed")}
	if err := Disconnect(context.Background(), c); err == nil {
		t.Error("expected error from Disconnect")
	}
	if !c.disconnected {
		t.Error("Disconnect was not delegated")
	}
}
