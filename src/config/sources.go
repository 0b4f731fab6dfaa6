package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/username/wealthos/backend/src/security"
)

// SourcesConfig mirrors sources.yaml: one block per source category. Secrets
// are never written literally in the file; credential values use ${ENV_VAR}
// indirection and are resolved against the environment at load time.
type SourcesConfig struct {
	Crypto     CryptoConfig                  `yaml:"crypto"`
	Brokers    map[string]BrokerConfig       `yaml:"brokers"`
	MarketData map[string]MarketDataConfig   `yaml:"market_data"`
	Plugins    map[string]PluginSourceConfig `yaml:"plugins"`

	// PrimarySources orders sources by preference. Used as the final
	// tie-break when overlapping sources report the same asset with equal
	// quality and equal recency.
	PrimarySources []string `yaml:"primary_sources"`
}

type CryptoConfig struct {
	Enabled   bool                      `yaml:"enabled"`
	CacheTTL  int                       `yaml:"cache_ttl"` // seconds
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`
}

type ExchangeConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`

	// Rate-limit overrides. Zero means the connector default applies.
	CallsPerMinute int     `yaml:"calls_per_minute"`
	CallsPerSecond float64 `yaml:"calls_per_second"`
}

type BrokerConfig struct {
	Enabled       bool     `yaml:"enabled"`
	GatewayURL    string   `yaml:"gateway_url"`
	BearerToken   string   `yaml:"bearer_token"`
	OAuthClientID string   `yaml:"oauth_client_id"`
	OAuthSecret   string   `yaml:"oauth_client_secret"`
	OAuthTokenURL string   `yaml:"oauth_token_url"`
	Accounts      []string `yaml:"accounts"`
	CacheTTL      int      `yaml:"cache_ttl"`
	SyncFrequency string   `yaml:"sync_frequency"`

	CallsPerMinute int     `yaml:"calls_per_minute"`
	CallsPerSecond float64 `yaml:"calls_per_second"`
}

type MarketDataConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	CacheTTL int    `yaml:"cache_ttl"`

	CallsPerMinute int     `yaml:"calls_per_minute"`
	CallsPerSecond float64 `yaml:"calls_per_second"`
}

type PluginSourceConfig struct {
	Enabled       bool              `yaml:"enabled"`
	SyncFrequency string            `yaml:"sync_frequency"`
	Settings      map[string]string `yaml:"settings"`
}

var envRefPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// LoadSourcesConfig reads and parses sources.yaml, resolving ${ENV} credential
// references. A missing file is not an error: it yields an empty config so a
// plugin-only deployment needs no sources.yaml at all.
func LoadSourcesConfig(path string) (*SourcesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SourcesConfig{}, nil
		}
		return nil, fmt.Errorf("reading sources config %s: %w", path, err)
	}

	var cfg SourcesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing sources config %s: %w", path, err)
	}

	for id, ex := range cfg.Crypto.Exchanges {
		ex.APIKey = resolveEnvRef(ex.APIKey)
		ex.APISecret = resolveEnvRef(ex.APISecret)
		cfg.Crypto.Exchanges[id] = ex
	}
	for id, br := range cfg.Brokers {
		br.BearerToken = resolveEnvRef(br.BearerToken)
		br.OAuthClientID = resolveEnvRef(br.OAuthClientID)
		br.OAuthSecret = resolveEnvRef(br.OAuthSecret)
		cfg.Brokers[id] = br
	}
	for id, md := range cfg.MarketData {
		md.APIKey = resolveEnvRef(md.APIKey)
		cfg.MarketData[id] = md
	}
	for id, pl := range cfg.Plugins {
		for k, v := range pl.Settings {
			pl.Settings[k] = resolveEnvRef(v)
		}
		cfg.Plugins[id] = pl
	}

	return &cfg, nil
}

// resolveEnvRef replaces a ${VAR} value with the environment variable VAR.
// Plain values pass through untouched; an unset referenced variable resolves
// to empty, which downstream credential validation reports as missing.
// Resolved values are cleaned of stray unprintable characters, which .env
// files edited on Windows tend to introduce.
func resolveEnvRef(value string) string {
	m := envRefPattern.FindStringSubmatch(value)
	if m == nil {
		return value
	}
	return security.CleanCredential(os.Getenv(m[1]))
}
