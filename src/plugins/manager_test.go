package plugins

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/username/wealthos/backend/src/connectors"
	"github.com/username/wealthos/backend/src/logger"
	"github.com/username/wealthos/backend/src/models"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

// testPlugin is the minimal compiled plugin used by manager tests.
type testPlugin struct {
	perms        []Permission
	disconnected bool
}

func (p *testPlugin) Metadata() connectors.ConnectorMetadata {
	return connectors.ConnectorMetadata{ID: "test_bank", Type: connectors.TypePlugin}
}
func (p *testPlugin) Authenticate(ctx context.Context) (string, error) { return "ok", nil }
func (p *testPlugin) GetHoldings(ctx context.Context, accountID string) ([]models.Holding, error) {
	return nil, nil
}
func (p *testPlugin) GetTransactions(ctx context.Context, query models.TransactionQuery) ([]models.Transaction, error) {
	return nil, nil
}
func (p *testPlugin) GetAccounts(ctx context.Context) ([]models.AccountInfo, error) {
	return nil, nil
}
func (p *testPlugin) RequiredPermissions() []Permission { return p.perms }
func (p *testPlugin) Disconnect(ctx context.Context) error {
	p.disconnected = true
	return nil
}

func init() {
	Register("test_bank", func(settings map[string]string) (Plugin, error) {
		if settings["fail"] == "yes" {
			return nil, errors.New("constructor exploded")
		}
		perms := []Permission{PermissionNetwork}
		if settings["assert_subprocess"] == "yes" {
			perms = append(perms, PermissionSubprocess)
		}
		return &testPlugin{perms: perms}, nil
	})
}

const testBankManifest = `id: test_bank
name: Test Bank
version: 1.0.0
author: Tester
description: Manager test fixture
capabilities:
  - holdings
authentication_type: credentials
required_fields:
  - username
permissions:
  - network
supported_countries:
  - US
`

func writePluginDir(t *testing.T, root, dir, manifest string) {
	t.Helper()
	p := filepath.Join(root, dir)
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p, "manifest.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
}

func discoveredManager(t *testing.T, manifests map[string]string, granted []Permission) *Manager {
	t.Helper()
	root := t.TempDir()
	for dir, manifest := range manifests {
		writePluginDir(t, root, dir, manifest)
	}
	m := NewManager(root, granted)
	if _, err := m.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	return m
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writePluginDir(t, root, "test_bank", testBankManifest)
	writePluginDir(t, root, "_disabled", testBankManifest)
	writePluginDir(t, root, ".hidden", testBankManifest)
	writePluginDir(t, root, "broken", "id: [unclosed")
	if err := os.MkdirAll(filepath.Join(root, "no_manifest"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(root, nil)
	manifests, err := m.Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(manifests) != 1 || manifests[0].ID != "test_bank" {
		t.Errorf("discovered %v, want only test_bank", manifests)
	}
}

func TestDiscoverMissingDirectory(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	manifests, err := m.Discover()
	if err != nil || manifests != nil {
		t.Errorf("Discover = (%v, %v), want (nil, nil)", manifests, err)
	}
}

func TestValidate(t *testing.T) {
	m := discoveredManager(t, map[string]string{"test_bank": testBankManifest}, nil)

	if ok, issues := m.Validate("test_bank"); !ok {
		t.Errorf("valid plugin rejected: %v", issues)
	}

	ok, issues := m.Validate("ghost")
	if ok || len(issues) != 1 || issues[0] != "plugin not found: ghost" {
		t.Errorf("Validate(ghost) = (%v, %v)", ok, issues)
	}
}

func TestValidateUnregisteredConstructor(t *testing.T) {
	manifest := strings.Replace(testBankManifest, "id: test_bank", "id: orphan_bank", 1)
	m := discoveredManager(t, map[string]string{"orphan_bank": manifest}, nil)

	ok, issues := m.Validate("orphan_bank")
	if ok {
		t.Fatal("manifest without compiled code validated")
	}
	found := false
	for _, issue := range issues {
		if strings.Contains(issue, "no compiled implementation") {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %v, want unregistered-constructor issue", issues)
	}
}

func TestValidateUngrantedPermission(t *testing.T) {
	manifest := strings.Replace(testBankManifest, "- network", "- network\n  - filesystem", 1)
	m := discoveredManager(t, map[string]string{"test_bank": manifest}, nil)

	ok, issues := m.Validate("test_bank")
	if ok {
		t.Fatal("plugin with ungranted permission validated under default grants")
	}
	found := false
	for _, issue := range issues {
		if issue == "permission not granted by host: filesystem" {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %v, want filesystem grant issue", issues)
	}

	// Granting filesystem clears the violation.
	wider := discoveredManager(t, map[string]string{"test_bank": manifest},
		[]Permission{PermissionNetwork, PermissionFilesystem})
	if ok, issues := wider.Validate("test_bank"); !ok {
		t.Errorf("plugin rejected despite grant: %v", issues)
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	m := discoveredManager(t, map[string]string{"test_bank": testBankManifest}, nil)
	settings := map[string]string{"username": "demo"}

	first, err := m.Load("test_bank", settings)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	second, err := m.Load("test_bank", settings)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if first != second {
		t.Error("Load returned a new instance instead of the cached one")
	}
	if !m.IsLoaded("test_bank") {
		t.Error("IsLoaded = false after Load")
	}
}

func TestLoadMissingRequiredSetting(t *testing.T) {
	m := discoveredManager(t, map[string]string{"test_bank": testBankManifest}, nil)

	_, err := m.Load("test_bank", nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(ve.Issues) != 1 || ve.Issues[0] != "missing required setting: username" {
		t.Errorf("issues = %v", ve.Issues)
	}
}

func TestLoadUndiscoveredPlugin(t *testing.T) {
	m := discoveredManager(t, nil, nil)
	_, err := m.Load("test_bank", map[string]string{"username": "demo"})
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *LoadError", err)
	}
}

func TestLoadConstructorFailure(t *testing.T) {
	m := discoveredManager(t, map[string]string{"test_bank": testBankManifest}, nil)
	_, err := m.Load("test_bank", map[string]string{"username": "demo", "fail": "yes"})
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *LoadError", err)
	}
	if m.IsLoaded("test_bank") {
		t.Error("failed load left a cached instance")
	}
}

func TestLoadRejectsUndeclaredCodePermission(t *testing.T) {
	m := discoveredManager(t, map[string]string{"test_bank": testBankManifest}, nil)

	_, err := m.Load("test_bank", map[string]string{"username": "demo", "assert_subprocess": "yes"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(ve.Issues) != 1 || !strings.Contains(ve.Issues[0], "subprocess") {
		t.Errorf("issues = %v", ve.Issues)
	}
	if m.IsLoaded("test_bank") {
		t.Error("rejected plugin left a cached instance")
	}
}

func TestUnload(t *testing.T) {
	m := discoveredManager(t, map[string]string{"test_bank": testBankManifest}, nil)
	instance, err := m.Load("test_bank", map[string]string{"username": "demo"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !m.Unload(context.Background(), "test_bank") {
		t.Error("Unload of loaded plugin returned false")
	}
	if m.Unload(context.Background(), "test_bank") {
		t.Error("second Unload returned true")
	}
	if m.IsLoaded("test_bank") {
		t.Error("plugin still loaded after Unload")
	}
	if tp, ok := instance.(*testPlugin); !ok || !tp.disconnected {
		t.Error("Unload did not disconnect the instance")
	}
}

func TestListFilters(t *testing.T) {
	other := strings.Replace(testBankManifest, "id: test_bank", "id: other_bank", 1)
	other = strings.Replace(other, "- US", "- DE", 1)
	other = strings.Replace(other, "- holdings", "- balances", 1)
	m := discoveredManager(t, map[string]string{"test_bank": testBankManifest, "other_bank": other}, nil)

	if got := m.ListManifests(); len(got) != 2 || got[0].ID != "other_bank" {
		t.Errorf("ListManifests order wrong: %v", got)
	}
	if got := m.ListByCapability("holdings"); len(got) != 1 || got[0].ID != "test_bank" {
		t.Errorf("ListByCapability = %v", got)
	}
	if got := m.ListByCountry("DE"); len(got) != 1 || got[0].ID != "other_bank" {
		t.Errorf("ListByCountry = %v", got)
	}
}

func TestGetConfigSchema(t *testing.T) {
	m := discoveredManager(t, map[string]string{"test_bank": testBankManifest}, nil)

	schema, ok := m.GetConfigSchema("test_bank")
	if !ok {
		t.Fatal("schema not found")
	}
	if len(schema.Required) != 1 || schema.Required[0] != "username" {
		t.Errorf("required = %v", schema.Required)
	}
	if schema.AuthenticationType != "credentials" {
		t.Errorf("auth type = %q", schema.AuthenticationType)
	}

	if _, ok := m.GetConfigSchema("ghost"); ok {
		t.Error("schema returned for unknown plugin")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	ctor := func(settings map[string]string) (Plugin, error) { return &testPlugin{}, nil }
	Register("dup_bank", ctor)

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register did not panic")
		}
	}()
	Register("dup_bank", ctor)
}
