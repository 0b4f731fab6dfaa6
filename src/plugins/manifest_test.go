package plugins

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/username/wealthos/backend/src/connectors"
)

func validManifest() *Manifest {
	return &Manifest{
		ID:                 "acme_bank",
		Name:               "Acme Bank",
		Version:            "1.2.0",
		Author:             "Acme",
		Description:        "Acme Bank integration",
		Capabilities:       []string{"holdings", "transactions"},
		AuthenticationType: "credentials",
		RequiredFields:     []string{"username", "password"},
		Permissions:        []string{"network"},
		SupportedCountries: []string{"US"},
	}
}

func TestManifestValidateOK(t *testing.T) {
	if issues := validManifest().Validate(); len(issues) != 0 {
		t.Errorf("valid manifest produced issues: %v", issues)
	}
}

func TestManifestValidateCollectsAllIssues(t *testing.T) {
	m := validManifest()
	m.ID = ""
	m.Author = ""
	m.Version = "v1.2"
	m.Capabilities = append(m.Capabilities, "teleportation")
	m.AuthenticationType = "telepathy"
	m.Permissions = append(m.Permissions, "root")

	issues := m.Validate()
	want := []string{
		"missing required field: id",
		"missing required field: author",
		`version "v1.2" is not a semantic version`,
		"unknown capability: teleportation",
		"unknown authentication_type: telepathy",
		"unknown permission: root",
	}
	if len(issues) != len(want) {
		t.Fatalf("got %d issues %v, want %d", len(issues), issues, len(want))
	}
	for _, w := range want {
		found := false
		for _, issue := range issues {
			if issue == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing issue %q in %v", w, issues)
		}
	}
}

func TestManifestValidateMissingFields(t *testing.T) {
	m := &Manifest{}
	issues := m.Validate()
	for _, field := range []string{"id", "name", "version", "author", "description"} {
		found := false
		for _, issue := range issues {
			if issue == "missing required field: "+field {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no issue for missing %s: %v", field, issues)
		}
	}
}

func TestDeclaresPermission(t *testing.T) {
	m := validManifest()
	if !m.DeclaresPermission(PermissionNetwork) {
		t.Error("network not declared")
	}
	if m.DeclaresPermission(PermissionSubprocess) {
		t.Error("subprocess unexpectedly declared")
	}
}

func TestManifestMetadata(t *testing.T) {
	meta := validManifest().Metadata()
	if meta.ID != "acme_bank" || meta.Type != connectors.TypePlugin {
		t.Errorf("metadata = %+v", meta)
	}

	m := validManifest()
	m.AuthenticationType = ""
	if got := m.Metadata().AuthenticationType; got != connectors.AuthAPIKey {
		t.Errorf("default auth type = %q, want api_key", got)
	}
}

func TestParseManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	content := strings.Join([]string{
		"id: demo",
		"name: Demo",
		"version: 0.1.0",
		"author: Someone",
		"description: A demo",
		"permissions:",
		"  - network",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := ParseManifest(path)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.ID != "demo" || m.Version != "0.1.0" || len(m.Permissions) != 1 {
		t.Errorf("manifest = %+v", m)
	}

	if _, err := ParseManifest(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("id: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseManifest(bad); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
