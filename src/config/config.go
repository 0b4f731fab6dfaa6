package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	DatabasePath string
	LogLevel     string

	// Master key for encrypting plugin credentials at rest. Must be set in
	// production; the default exists only so local development can boot.
	CredentialMasterKey string

	// Path to the per-source configuration file (sources.yaml).
	SourcesConfigPath string

	// Root directory scanned for plugin manifests.
	PluginsDir string

	// Orchestrator tuning.
	MaxConcurrentSources int
	SourceFetchTimeout   time.Duration
	DefaultLookbackDays  int

	// Alerting.
	AlertProvider        string // mailgun or mock
	MailgunDomain        string
	MailgunPrivateAPIKey string
	AlertSenderEmail     string
	AlertRecipientEmail  string
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	masterKey := getEnv("CREDENTIAL_MASTER_KEY", "insecure-development-master-key-change-me")
	if masterKey == "insecure-development-master-key-change-me" {
		log.Println("WARNING: Using default insecure CREDENTIAL_MASTER_KEY. Set CREDENTIAL_MASTER_KEY environment variable for production.")
	}

	maxConcurrent := getEnvAsInt("MAX_CONCURRENT_SOURCES", 4)
	if maxConcurrent < 1 {
		log.Printf("WARNING: MAX_CONCURRENT_SOURCES must be >= 1, got %d. Using 1.", maxConcurrent)
		maxConcurrent = 1
	}

	lookbackDays := getEnvAsInt("DEFAULT_LOOKBACK_DAYS", 365)
	if lookbackDays < 1 {
		log.Printf("WARNING: DEFAULT_LOOKBACK_DAYS must be >= 1, got %d. Using 365.", lookbackDays)
		lookbackDays = 365
	}

	Cfg = &AppConfig{
		DatabasePath:        getEnv("DATABASE_PATH", "./wealthos.db"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		CredentialMasterKey: masterKey,
		SourcesConfigPath:   getEnv("SOURCES_CONFIG_PATH", "./sources.yaml"),
		PluginsDir:          getEnv("PLUGINS_DIR", "./plugins"),

		MaxConcurrentSources: maxConcurrent,
		SourceFetchTimeout:   getEnvAsDuration("SOURCE_FETCH_TIMEOUT", 2*time.Minute),
		DefaultLookbackDays:  lookbackDays,

		AlertProvider:        getEnv("ALERT_PROVIDER", "mock"),
		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunPrivateAPIKey: getEnv("MAILGUN_PRIVATE_API_KEY", ""),
		AlertSenderEmail:     getEnv("ALERT_SENDER_EMAIL", "alerts@example.com"),
		AlertRecipientEmail:  getEnv("ALERT_RECIPIENT_EMAIL", ""),
	}

	if Cfg.AlertProvider == "mailgun" {
		if Cfg.MailgunDomain == "" {
			log.Fatalf("FATAL: MAILGUN_DOMAIN is required when ALERT_PROVIDER is 'mailgun', but it's not set in environment or .env file.")
		}
		if Cfg.MailgunPrivateAPIKey == "" {
			log.Fatalf("FATAL: MAILGUN_PRIVATE_API_KEY is required when ALERT_PROVIDER is 'mailgun', but it's not set in environment or .env file.")
		}
		if Cfg.AlertRecipientEmail == "" {
			log.Fatalf("FATAL: ALERT_RECIPIENT_EMAIL must be configured when ALERT_PROVIDER is 'mailgun'.")
		}
	}

	log.Printf("Configuration loaded: LogLevel=%s, DBPath=%s, PluginsDir=%s, AlertProvider=%s",
		Cfg.LogLevel, Cfg.DatabasePath, Cfg.PluginsDir, Cfg.AlertProvider)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Integer value for %s not set or empty, using default: %d", key, fallback)
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Duration value for %s not set or empty, using default: %s", key, fallback.String())
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
