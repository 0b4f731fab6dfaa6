package plugins

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/username/wealthos/backend/src/connectors"
)

// Manifest is the operator-facing declaration shipped alongside each plugin
// as manifest.yaml.
type Manifest struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	Version            string   `yaml:"version"`
	Author             string   `yaml:"author"`
	Description        string   `yaml:"description"`
	Capabilities       []string `yaml:"capabilities"`
	AuthenticationType string   `yaml:"authentication_type"`
	RequiredFields     []string `yaml:"required_fields"`
	OptionalFields     []string `yaml:"optional_fields"`
	Permissions        []string `yaml:"permissions"`
	SupportedCountries []string `yaml:"supported_countries"`
	DocumentationURL   string   `yaml:"documentation_url"`
	MinSystemVersion   string   `yaml:"min_system_version"`
}

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

var knownCapabilities = map[string]bool{
	connectors.CapabilityHoldings:     true,
	connectors.CapabilityTransactions: true,
	connectors.CapabilityBalances:     true,
}

var knownAuthTypes = map[string]bool{
	connectors.AuthAPIKey:      true,
	connectors.AuthOAuth:       true,
	connectors.AuthCredentials: true,
}

// ParseManifest reads and decodes a manifest.yaml. Decoding failures are
// returned as errors; semantic problems are left to Validate.
func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate schema-checks the manifest and returns every violation found.
// An empty result means the manifest is valid.
func (m *Manifest) Validate() []string {
	var issues []string

	required := []struct {
		name  string
		value string
	}{
		{"id", m.ID},
		{"name", m.Name},
		{"version", m.Version},
		{"author", m.Author},
		{"description", m.Description},
	}
	for _, f := range required {
		if f.value == "" {
			issues = append(issues, fmt.Sprintf("missing required field: %s", f.name))
		}
	}

	if m.Version != "" && !semverPattern.MatchString(m.Version) {
		issues = append(issues, fmt.Sprintf("version %q is not a semantic version", m.Version))
	}

	for _, cap := range m.Capabilities {
		if !knownCapabilities[cap] {
			issues = append(issues, fmt.Sprintf("unknown capability: %s", cap))
		}
	}

	if m.AuthenticationType != "" && !knownAuthTypes[m.AuthenticationType] {
		issues = append(issues, fmt.Sprintf("unknown authentication_type: %s", m.AuthenticationType))
	}

	for _, perm := range m.Permissions {
		if !knownPermissions[Permission(perm)] {
			issues = append(issues, fmt.Sprintf("unknown permission: %s", perm))
		}
	}

	return issues
}

// DeclaresPermission reports whether the manifest declares the permission.
func (m *Manifest) DeclaresPermission(p Permission) bool {
	for _, perm := range m.Permissions {
		if Permission(perm) == p {
			return true
		}
	}
	return false
}

// Metadata converts the manifest to the standard connector descriptor.
func (m *Manifest) Metadata() connectors.ConnectorMetadata {
	authType := m.AuthenticationType
	if authType == "" {
		authType = connectors.AuthAPIKey
	}
	return connectors.ConnectorMetadata{
		ID:                 m.ID,
		Name:               m.Name,
		Type:               connectors.TypePlugin,
		Version:            m.Version,
		Description:        m.Description,
		Capabilities:       append([]string(nil), m.Capabilities...),
		AuthenticationType: authType,
		DocumentationURL:   m.DocumentationURL,
	}
}
