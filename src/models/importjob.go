package models

import "time"

// Import job statuses. A job is terminal once it leaves StatusRunning.
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusPartial   = "partial"
	JobStatusFailed    = "failed"
)

// ImportJob records one orchestrator run. It is created when the run starts,
// updated as sources finish, and owned exclusively by the orchestrator.
type ImportJob struct {
	ID              int64     `json:"id,omitempty"`
	JobID           string    `json:"job_id"`
	SourceType      string    `json:"source_type"`
	SourceID        string    `json:"source_id"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at,omitempty"`
	Status          string    `json:"status"`
	RecordsFetched  int       `json:"records_fetched"`
	RecordsImported int       `json:"records_imported"`
	RecordsUpdated  int       `json:"records_updated"`
	RecordsSkipped  int       `json:"records_skipped"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	TriggeredBy     string    `json:"triggered_by"`
	Metadata        string    `json:"metadata,omitempty"` // free-form JSON
}

// PluginConfigRecord is the persisted, encrypted configuration for one plugin
// instance. ConfigJSON is ciphertext at rest; it is decrypted only in memory
// for the duration of a plugin call.
type PluginConfigRecord struct {
	ID                  int64     `json:"id,omitempty"`
	PluginID            string    `json:"plugin_id"`
	PluginName          string    `json:"plugin_name"`
	PluginVersion       string    `json:"plugin_version"`
	ConfigJSON          string    `json:"-"`
	Enabled             bool      `json:"enabled"`
	SyncFrequency       string    `json:"sync_frequency"` // manual, hourly, daily, weekly
	LastSync            time.Time `json:"last_sync,omitempty"`
	NextSync            time.Time `json:"next_sync,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// DataSourceMetadata links normalized data back to the (source, account) pair
// that produced it. The quality score arbitrates conflicts between
// overlapping sources.
type DataSourceMetadata struct {
	ID                int64     `json:"id,omitempty"`
	SourceType        string    `json:"source_type"`
	SourceID          string    `json:"source_id"`
	AssetSymbol       string    `json:"asset_symbol"`
	DataType          string    `json:"data_type"` // holdings, transactions, prices, balances
	LastUpdate        time.Time `json:"last_update"`
	RecordCount       int       `json:"record_count"`
	QualityScore      float64   `json:"data_quality_score"` // 0-100
	CompletenessScore float64   `json:"completeness_score"` // 0-100
	FreshnessHours    float64   `json:"freshness_hours"`
}
