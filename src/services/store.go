package services

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/username/wealthos/backend/src/models"
)

// Store persists the orchestrator's output. Transaction deduplication rides
// on the UNIQUE(source, source_id) constraint: a duplicate insert fails with
// a constraint error and is counted as skipped instead of re-inserted.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// SaveTransactions inserts transactions, skipping rows whose (source,
// source_id) key already exists. Returns imported and skipped counts.
func (s *Store) SaveTransactions(txs []models.Transaction, jobID string) (int, int, error) {
	if len(txs) == 0 {
		return 0, 0, nil
	}

	stmt, err := s.db.Prepare(`
		INSERT INTO transactions
			(date, symbol, name, transaction_type, quantity, price, amount, currency, fees, source_id, source, account_id, import_job_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, 0, fmt.Errorf("preparing transaction insert: %w", err)
	}
	defer stmt.Close()

	imported, skipped := 0, 0
	for _, tx := range txs {
		_, err := stmt.Exec(
			tx.Date, tx.Symbol, tx.Name, string(tx.Type), tx.Quantity, tx.Price,
			tx.Amount, tx.Currency, tx.Fees, tx.SourceID, tx.Source, tx.AccountID, jobID,
		)
		if err != nil {
			if isUniqueConstraintErr(err) {
				skipped++
				continue
			}
			return imported, skipped, fmt.Errorf("inserting transaction %s/%s: %w", tx.Source, tx.SourceID, err)
		}
		imported++
	}
	return imported, skipped, nil
}

// SaveHoldings upserts the holdings snapshot keyed by (source, account,
// symbol). Returns imported (new) and updated counts.
func (s *Store) SaveHoldings(holdings []models.Holding) (int, int, error) {
	if len(holdings) == 0 {
		return 0, 0, nil
	}

	stmt, err := s.db.Prepare(`
		INSERT INTO holdings
			(symbol, name, quantity, current_price, market_value, cost_basis, currency, account_id, source, snapshot_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, account_id, symbol) DO UPDATE SET
			name = excluded.name,
			quantity = excluded.quantity,
			current_price = excluded.current_price,
			market_value = excluded.market_value,
			cost_basis = excluded.cost_basis,
			currency = excluded.currency,
			snapshot_at = excluded.snapshot_at`)
	if err != nil {
		return 0, 0, fmt.Errorf("preparing holdings upsert: %w", err)
	}
	defer stmt.Close()

	imported, updated := 0, 0
	for _, h := range holdings {
		var exists int
		err := s.db.QueryRow(
			"SELECT COUNT(1) FROM holdings WHERE source = ? AND account_id = ? AND symbol = ?",
			h.Source, h.AccountID, h.Symbol,
		).Scan(&exists)
		if err != nil {
			return imported, updated, fmt.Errorf("checking holding %s/%s: %w", h.Source, h.Symbol, err)
		}

		_, err = stmt.Exec(
			h.Symbol, h.Name, h.Quantity, h.CurrentPrice, h.MarketValue,
			h.CostBasis, h.Currency, h.AccountID, h.Source, h.SnapshotAt,
		)
		if err != nil {
			return imported, updated, fmt.Errorf("upserting holding %s/%s: %w", h.Source, h.Symbol, err)
		}
		if exists > 0 {
			updated++
		} else {
			imported++
		}
	}
	return imported, updated, nil
}

// CreateImportJob writes the initial running job row.
func (s *Store) CreateImportJob(job *models.ImportJob) error {
	_, err := s.db.Exec(`
		INSERT INTO import_jobs
			(job_id, source_type, source_id, started_at, status, triggered_by, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.SourceType, job.SourceID, job.StartedAt, job.Status, job.TriggeredBy, job.Metadata,
	)
	if err != nil {
		return fmt.Errorf("creating import job %s: %w", job.JobID, err)
	}
	return nil
}

// UpdateImportJob writes the job's final state.
func (s *Store) UpdateImportJob(job *models.ImportJob) error {
	_, err := s.db.Exec(`
		UPDATE import_jobs SET
			completed_at = ?, status = ?, records_fetched = ?, records_imported = ?,
			records_updated = ?, records_skipped = ?, error_message = ?, metadata_json = ?
		WHERE job_id = ?`,
		job.CompletedAt, job.Status, job.RecordsFetched, job.RecordsImported,
		job.RecordsUpdated, job.RecordsSkipped, job.ErrorMessage, job.Metadata, job.JobID,
	)
	if err != nil {
		return fmt.Errorf("updating import job %s: %w", job.JobID, err)
	}
	return nil
}

// GetImportJob fetches one job by its job id.
func (s *Store) GetImportJob(jobID string) (*models.ImportJob, error) {
	row := s.db.QueryRow(`
		SELECT id, job_id, source_type, source_id, started_at, completed_at, status,
			records_fetched, records_imported, records_updated, records_skipped,
			COALESCE(error_message, ''), triggered_by, COALESCE(metadata_json, '')
		FROM import_jobs WHERE job_id = ?`, jobID)

	var job models.ImportJob
	var completedAt sql.NullTime
	err := row.Scan(
		&job.ID, &job.JobID, &job.SourceType, &job.SourceID, &job.StartedAt, &completedAt,
		&job.Status, &job.RecordsFetched, &job.RecordsImported, &job.RecordsUpdated,
		&job.RecordsSkipped, &job.ErrorMessage, &job.TriggeredBy, &job.Metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching import job %s: %w", jobID, err)
	}
	if completedAt.Valid {
		job.CompletedAt = completedAt.Time
	}
	return &job, nil
}

// ListImportJobs returns the most recent jobs, newest first.
func (s *Store) ListImportJobs(limit int) ([]models.ImportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, job_id, source_type, source_id, started_at, completed_at, status,
			records_fetched, records_imported, records_updated, records_skipped,
			COALESCE(error_message, ''), triggered_by, COALESCE(metadata_json, '')
		FROM import_jobs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing import jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ImportJob
	for rows.Next() {
		var job models.ImportJob
		var completedAt sql.NullTime
		if err := rows.Scan(
			&job.ID, &job.JobID, &job.SourceType, &job.SourceID, &job.StartedAt, &completedAt,
			&job.Status, &job.RecordsFetched, &job.RecordsImported, &job.RecordsUpdated,
			&job.RecordsSkipped, &job.ErrorMessage, &job.TriggeredBy, &job.Metadata,
		); err != nil {
			return nil, fmt.Errorf("scanning import job: %w", err)
		}
		if completedAt.Valid {
			job.CompletedAt = completedAt.Time
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpsertPluginConfig creates or replaces a plugin's persisted configuration.
// ConfigJSON must already be encrypted by the caller.
func (s *Store) UpsertPluginConfig(rec *models.PluginConfigRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO plugin_configs
			(plugin_id, plugin_name, plugin_version, config_json, enabled, sync_frequency)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(plugin_id) DO UPDATE SET
			plugin_name = excluded.plugin_name,
			plugin_version = excluded.plugin_version,
			config_json = excluded.config_json,
			enabled = excluded.enabled,
			sync_frequency = excluded.sync_frequency,
			updated_at = CURRENT_TIMESTAMP`,
		rec.PluginID, rec.PluginName, rec.PluginVersion, rec.ConfigJSON, rec.Enabled, rec.SyncFrequency,
	)
	if err != nil {
		return fmt.Errorf("upserting plugin config %s: %w", rec.PluginID, err)
	}
	return nil
}

// GetPluginConfig fetches one plugin's persisted configuration.
func (s *Store) GetPluginConfig(pluginID string) (*models.PluginConfigRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, plugin_id, COALESCE(plugin_name, ''), COALESCE(plugin_version, ''),
			COALESCE(config_json, ''), enabled, COALESCE(sync_frequency, 'daily'),
			last_sync, next_sync, consecutive_failures, COALESCE(last_error, '')
		FROM plugin_configs WHERE plugin_id = ?`, pluginID)

	var rec models.PluginConfigRecord
	var lastSync, nextSync sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.PluginID, &rec.PluginName, &rec.PluginVersion,
		&rec.ConfigJSON, &rec.Enabled, &rec.SyncFrequency,
		&lastSync, &nextSync, &rec.ConsecutiveFailures, &rec.LastError,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching plugin config %s: %w", pluginID, err)
	}
	if lastSync.Valid {
		rec.LastSync = lastSync.Time
	}
	if nextSync.Valid {
		rec.NextSync = nextSync.Time
	}
	return &rec, nil
}

// RecordPluginSyncResult updates a plugin's sync bookkeeping after a run.
// Success resets the failure counter; failure increments it and records the
// error.
func (s *Store) RecordPluginSyncResult(pluginID string, syncedAt, nextSync time.Time, runErr error) error {
	var err error
	if runErr == nil {
		_, err = s.db.Exec(`
			UPDATE plugin_configs SET
				last_sync = ?, next_sync = ?, consecutive_failures = 0,
				last_error = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE plugin_id = ?`,
			syncedAt, nextSync, pluginID)
	} else {
		_, err = s.db.Exec(`
			UPDATE plugin_configs SET
				next_sync = ?, consecutive_failures = consecutive_failures + 1,
				last_error = ?, updated_at = CURRENT_TIMESTAMP
			WHERE plugin_id = ?`,
			nextSync, runErr.Error(), pluginID)
	}
	if err != nil {
		return fmt.Errorf("recording sync result for plugin %s: %w", pluginID, err)
	}
	return nil
}

// UpsertDataSourceMetadata recomputes one lineage row per
// (source_type, source_id, asset, data_type).
func (s *Store) UpsertDataSourceMetadata(meta models.DataSourceMetadata) error {
	_, err := s.db.Exec(`
		INSERT INTO data_source_metadata
			(source_type, source_id, asset_symbol, data_type, last_update, record_count,
			 data_quality_score, completeness_score, freshness_hours)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_type, source_id, asset_symbol, data_type) DO UPDATE SET
			last_update = excluded.last_update,
			record_count = excluded.record_count,
			data_quality_score = excluded.data_quality_score,
			completeness_score = excluded.completeness_score,
			freshness_hours = excluded.freshness_hours,
			updated_at = CURRENT_TIMESTAMP`,
		meta.SourceType, meta.SourceID, meta.AssetSymbol, meta.DataType, meta.LastUpdate,
		meta.RecordCount, meta.QualityScore, meta.CompletenessScore, meta.FreshnessHours,
	)
	if err != nil {
		return fmt.Errorf("upserting data source metadata %s/%s: %w", meta.SourceID, meta.AssetSymbol, err)
	}
	return nil
}

// GetAssetMetadata returns all lineage rows for an asset and data type,
// highest quality first.
func (s *Store) GetAssetMetadata(assetSymbol, dataType string) ([]models.DataSourceMetadata, error) {
	rows, err := s.db.Query(`
		SELECT id, source_type, source_id, asset_symbol, data_type, last_update,
			record_count, data_quality_score, completeness_score, freshness_hours
		FROM data_source_metadata
		WHERE asset_symbol = ? AND data_type = ?
		ORDER BY data_quality_score DESC, last_update DESC`, assetSymbol, dataType)
	if err != nil {
		return nil, fmt.Errorf("fetching metadata for asset %s: %w", assetSymbol, err)
	}
	defer rows.Close()

	var metas []models.DataSourceMetadata
	for rows.Next() {
		var meta models.DataSourceMetadata
		var lastUpdate sql.NullTime
		if err := rows.Scan(
			&meta.ID, &meta.SourceType, &meta.SourceID, &meta.AssetSymbol, &meta.DataType,
			&lastUpdate, &meta.RecordCount, &meta.QualityScore, &meta.CompletenessScore,
			&meta.FreshnessHours,
		); err != nil {
			return nil, fmt.Errorf("scanning data source metadata: %w", err)
		}
		if lastUpdate.Valid {
			meta.LastUpdate = lastUpdate.Time
		}
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// CountTransactionsBySource reports how many stored transactions each source
// has contributed.
func (s *Store) CountTransactionsBySource() (map[string]int, error) {
	rows, err := s.db.Query("SELECT source, COUNT(1) FROM transactions GROUP BY source")
	if err != nil {
		return nil, fmt.Errorf("counting transactions by source: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("scanning source count: %w", err)
		}
		counts[source] = count
	}
	return counts, rows.Err()
}
