package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/username/wealthos/backend/src/config"
	"github.com/username/wealthos/backend/src/connectors"
	"github.com/username/wealthos/backend/src/connectors/cryptoexch"
	"github.com/username/wealthos/backend/src/connectors/ibkr"
	"github.com/username/wealthos/backend/src/connectors/tiingo"
	"github.com/username/wealthos/backend/src/logger"
	"github.com/username/wealthos/backend/src/models"
	"github.com/username/wealthos/backend/src/plugins"
	"github.com/username/wealthos/backend/src/security"
)

// degradedFailureThreshold is the consecutive-failure count past which a
// plugin source triggers a degraded alert.
const degradedFailureThreshold = 3

// ImportOrchestrator drives one sync run across every enabled connector and
// plugin. Sources run under a bounded worker pool with a per-source timeout;
// one slow or failing source never aborts its siblings. The orchestrator
// exclusively owns the ImportJob record for the run.
type ImportOrchestrator struct {
	sources    *config.SourcesConfig
	store      ImportStore
	plugins    *plugins.Manager
	alerts     AlertService
	cipher     *security.CredentialCipher
	maxWorkers int
	perSource  time.Duration
	lookback   int
	now        func() time.Time

	mu          sync.Mutex
	connectors  map[string]connectors.Connector
	initialized bool
	// pluginSources maps plugin-backed source ids to their configured sync
	// frequency, for post-run sync bookkeeping.
	pluginSources map[string]string
}

func NewImportOrchestrator(
	sources *config.SourcesConfig,
	store ImportStore,
	pluginManager *plugins.Manager,
	alerts AlertService,
	cipher *security.CredentialCipher,
) *ImportOrchestrator {
	maxWorkers := 4
	perSource := 2 * time.Minute
	lookback := 365
	if config.Cfg != nil {
		maxWorkers = config.Cfg.MaxConcurrentSources
		perSource = config.Cfg.SourceFetchTimeout
		lookback = config.Cfg.DefaultLookbackDays
	}
	return &ImportOrchestrator{
		sources:       sources,
		store:         store,
		plugins:       pluginManager,
		alerts:        alerts,
		cipher:        cipher,
		maxWorkers:    maxWorkers,
		perSource:     perSource,
		lookback:      lookback,
		now:           time.Now,
		connectors:    make(map[string]connectors.Connector),
		pluginSources: make(map[string]string),
	}
}

// RegisterConnector adds a pre-built connector under a source id. Used by
// tests and by callers wiring custom sources.
func (o *ImportOrchestrator) RegisterConnector(sourceID string, c connectors.Connector) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connectors[sourceID] = c
	o.initialized = true
}

// InitializeConnectors builds and authenticates every enabled source.
// Authentication failures are returned per source; a failed source is not
// registered and will not be fetched.
func (o *ImportOrchestrator) InitializeConnectors(ctx context.Context) map[string]error {
	results := make(map[string]error)

	if o.sources.Crypto.Enabled {
		c := cryptoexch.New(o.sources.Crypto, o.lookback)
		results["cryptoexch"] = o.authAndRegister(ctx, "cryptoexch", c)
	}

	for brokerID, brokerCfg := range o.sources.Brokers {
		if !brokerCfg.Enabled {
			continue
		}
		switch brokerID {
		case "ibkr":
			c := ibkr.New(brokerCfg, o.lookback)
			results[brokerID] = o.authAndRegister(ctx, brokerID, c)
		default:
			results[brokerID] = fmt.Errorf("unknown broker: %s", brokerID)
		}
	}

	for providerID, providerCfg := range o.sources.MarketData {
		if !providerCfg.Enabled {
			continue
		}
		switch providerID {
		case "tiingo":
			c := tiingo.New(providerCfg)
			results[providerID] = o.authAndRegister(ctx, providerID, c)
		default:
			results[providerID] = fmt.Errorf("unknown market data provider: %s", providerID)
		}
	}

	if o.plugins != nil {
		for pluginID, pluginCfg := range o.sources.Plugins {
			if !pluginCfg.Enabled {
				continue
			}
			o.mu.Lock()
			o.pluginSources[pluginID] = pluginCfg.SyncFrequency
			o.mu.Unlock()

			instance, err := o.plugins.Load(pluginID, pluginCfg.Settings)
			if err != nil {
				results[pluginID] = err
				continue
			}
			o.persistPluginConfig(pluginID, pluginCfg)
			results[pluginID] = o.authAndRegister(ctx, pluginID, instance)
		}
	}

	o.mu.Lock()
	o.initialized = true
	o.mu.Unlock()
	return results
}

func (o *ImportOrchestrator) authAndRegister(ctx context.Context, sourceID string, c connectors.Connector) error {
	msg, err := c.Authenticate(ctx)
	if err != nil {
		logger.L.Error("Source authentication failed", "source", sourceID, "error", err)
		return err
	}
	logger.L.Info("Source authenticated", "source", sourceID, "status", msg)
	o.mu.Lock()
	o.connectors[sourceID] = c
	o.mu.Unlock()
	return nil
}

// persistPluginConfig stores a plugin's settings encrypted at rest. Without
// a cipher nothing is written: settings must never land in the database as
// plaintext.
func (o *ImportOrchestrator) persistPluginConfig(pluginID string, cfg config.PluginSourceConfig) {
	if o.cipher == nil {
		logger.L.Warn("Credential cipher not configured, plugin settings not persisted", "plugin", pluginID)
		return
	}

	settingsJSON, err := json.Marshal(cfg.Settings)
	if err != nil {
		logger.L.Error("Failed to serialize plugin settings", "plugin", pluginID, "error", err)
		return
	}
	encrypted, err := o.cipher.Encrypt(string(settingsJSON))
	if err != nil {
		logger.L.Error("Failed to encrypt plugin settings", "plugin", pluginID, "error", err)
		return
	}

	rec := &models.PluginConfigRecord{
		PluginID:      pluginID,
		ConfigJSON:    encrypted,
		Enabled:       cfg.Enabled,
		SyncFrequency: cfg.SyncFrequency,
	}
	if manifest, ok := o.plugins.GetManifest(pluginID); ok {
		rec.PluginName = manifest.Name
		rec.PluginVersion = manifest.Version
	}
	if err := o.store.UpsertPluginConfig(rec); err != nil {
		logger.L.Error("Failed to persist plugin config", "plugin", pluginID, "error", err)
	}
}

// GetConnector returns a registered connector by source id.
func (o *ImportOrchestrator) GetConnector(sourceID string) (connectors.Connector, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.connectors[sourceID]
	return c, ok
}

func (o *ImportOrchestrator) snapshotConnectors(filter []string) map[string]connectors.Connector {
	allowed := make(map[string]bool, len(filter))
	for _, id := range filter {
		allowed[id] = true
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]connectors.Connector, len(o.connectors))
	for id, c := range o.connectors {
		if len(filter) > 0 && !allowed[id] {
			continue
		}
		out[id] = c
	}
	return out
}

// RunFullSync executes one sync run across the registered sources,
// optionally restricted to sourceFilter, fetching transactions since the
// given time (zero means each connector's default lookback).
//
// Only a failure writing the ImportJob record itself is returned as an
// error; source failures are recorded on the results and the job row.
func (o *ImportOrchestrator) RunFullSync(ctx context.Context, sourceFilter []string, since time.Time) (*SyncResults, error) {
	o.mu.Lock()
	initialized := o.initialized
	o.mu.Unlock()

	results := &SyncResults{
		JobID:               uuid.NewString()[:8],
		StartedAt:           o.now(),
		AuthoritativeSource: make(map[string]string),
	}

	initFailures := make(map[string]error)
	if !initialized {
		for sourceID, err := range o.InitializeConnectors(ctx) {
			if err != nil {
				initFailures[sourceID] = err
			}
		}
	}

	logger.L.Info("Starting sync job", "jobID", results.JobID)

	job := &models.ImportJob{
		JobID:       results.JobID,
		SourceType:  "multi",
		SourceID:    "orchestrator",
		StartedAt:   results.StartedAt,
		Status:      models.JobStatusRunning,
		TriggeredBy: "manual",
	}
	if err := o.store.CreateImportJob(job); err != nil {
		// Bookkeeping failure is the one fatal condition.
		return nil, fmt.Errorf("creating import job record: %w", err)
	}

	sources := o.snapshotConnectors(sourceFilter)
	sourceIDs := make([]string, 0, len(sources))
	for id := range sources {
		sourceIDs = append(sourceIDs, id)
	}
	sort.Strings(sourceIDs)

	type fetchOutcome struct {
		result   SourceResult
		holdings []models.Holding
		txs      []models.Transaction
	}

	outcomes := make([]fetchOutcome, len(sourceIDs))
	sem := make(chan struct{}, o.maxWorkers)
	var wg sync.WaitGroup

	for i, sourceID := range sourceIDs {
		wg.Add(1)
		go func(slot int, sourceID string, c connectors.Connector) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fetchCtx, cancel := context.WithTimeout(ctx, o.perSource)
			defer cancel()

			result, holdings, txs := o.fetchSource(fetchCtx, sourceID, c, since)
			outcomes[slot] = fetchOutcome{result: result, holdings: holdings, txs: txs}
		}(i, sourceID, sources[sourceID])
	}
	wg.Wait()

	// Persist sequentially after the parallel fetch phase: sqlite writes
	// serialize anyway, and it keeps the counts deterministic.
	holdingCandidates := make(map[string][]sourceQuality)
	for i := range outcomes {
		out := &outcomes[i]
		if out.result.Success {
			o.persistSource(out.result.SourceType, &out.result, out.holdings, out.txs, results.JobID, holdingCandidates)
		}
		results.SourceResults = append(results.SourceResults, out.result)
		results.TotalImported += out.result.RecordsImported
		results.TotalUpdated += out.result.RecordsUpdated
		results.TotalSkipped += out.result.RecordsSkipped
		if !out.result.Success && out.result.ErrorMessage != "" {
			results.Errors = append(results.Errors, fmt.Sprintf("%s: %s", out.result.SourceID, out.result.ErrorMessage))
		}
	}

	// Sources that never got registered (authentication or construction
	// failed, plugin failed to load) still count as failed source results,
	// so the job status, metadata and alerting reflect them.
	failedInitIDs := make([]string, 0, len(initFailures))
	for sourceID := range initFailures {
		if len(sourceFilter) > 0 && !containsString(sourceFilter, sourceID) {
			continue
		}
		failedInitIDs = append(failedInitIDs, sourceID)
	}
	sort.Strings(failedInitIDs)
	for _, sourceID := range failedInitIDs {
		msg := classifyError(initFailures[sourceID])
		results.SourceResults = append(results.SourceResults, SourceResult{
			SourceID:     sourceID,
			ErrorMessage: msg,
		})
		results.Errors = append(results.Errors, fmt.Sprintf("%s: %s", sourceID, msg))
	}

	o.recordPluginSyncs(results)

	results.MergedHoldings, results.AuthoritativeSource = ResolveHoldingConflicts(holdingCandidates, o.sources.PrimarySources)

	results.CompletedAt = o.now()
	o.finalizeJob(job, results)

	logger.L.Info("Sync job completed", "jobID", results.JobID, "status", job.Status,
		"imported", results.TotalImported, "skipped", results.TotalSkipped, "errors", len(results.Errors))

	if o.alerts != nil && len(results.FailedSources()) > 0 {
		summary := ""
		for _, e := range results.Errors {
			summary += e + "\n"
		}
		if err := o.alerts.SendSyncFailureAlert(results.JobID, results.FailedSources(), summary); err != nil {
			logger.L.Warn("Failed to send sync failure alert", "error", err)
		}
	}

	return results, nil
}

// fetchSource runs one source's authenticate-fetch cycle. Errors are mapped
// to the taxonomy and recorded, never propagated.
func (o *ImportOrchestrator) fetchSource(
	ctx context.Context,
	sourceID string,
	c connectors.Connector,
	since time.Time,
) (SourceResult, []models.Holding, []models.Transaction) {
	start := o.now()
	result := SourceResult{
		SourceType: string(c.Metadata().Type),
		SourceID:   sourceID,
	}

	// Authenticate is idempotent per the contract: on an already-valid
	// session this validates it, otherwise it re-auths. A source whose
	// session lapsed since initialization fails here, not mid-fetch.
	if _, err := c.Authenticate(ctx); err != nil {
		result.ErrorMessage = classifyError(err)
		result.Duration = o.now().Sub(start)
		return result, nil, nil
	}

	holdings, err := c.GetHoldings(ctx, "")
	if err != nil {
		result.ErrorMessage = classifyError(err)
		result.Duration = o.now().Sub(start)
		return result, nil, nil
	}
	result.RecordsFetched += len(holdings)
	if len(holdings) > 0 {
		logger.L.Info("Fetched holdings", "source", sourceID, "count", len(holdings))
	}

	txs, err := c.GetTransactions(ctx, models.TransactionQuery{Since: since})
	if err != nil {
		result.ErrorMessage = classifyError(err)
		result.Duration = o.now().Sub(start)
		return result, nil, nil
	}
	result.RecordsFetched += len(txs)
	if len(txs) > 0 {
		logger.L.Info("Fetched transactions", "source", sourceID, "count", len(txs))
	}

	// Transactions without a provider-native id get a content-hash key so
	// re-imports still deduplicate.
	for i := range txs {
		if txs[i].Source == "" {
			txs[i].Source = sourceID
		}
		if txs[i].SourceID == "" {
			txs[i].SourceID = connectors.GenerateSourceID(
				txs[i].Source, "", txs[i].Date, txs[i].Symbol, txs[i].Type, txs[i].Amount)
		}
	}
	for i := range holdings {
		if holdings[i].Source == "" {
			holdings[i].Source = sourceID
		}
	}

	result.Success = true
	result.Duration = o.now().Sub(start)
	return result, holdings, txs
}

// persistSource writes one source's fetch to storage and records lineage.
func (o *ImportOrchestrator) persistSource(
	sourceType string,
	result *SourceResult,
	holdings []models.Holding,
	txs []models.Transaction,
	jobID string,
	holdingCandidates map[string][]sourceQuality,
) {
	imported, updated, err := o.store.SaveHoldings(holdings)
	if err != nil {
		logger.L.Error("Failed to persist holdings", "source", result.SourceID, "error", err)
		result.Success = false
		result.ErrorMessage = fmt.Sprintf("persisting holdings: %v", err)
		return
	}
	result.RecordsImported += imported
	result.RecordsUpdated += updated

	txImported, txSkipped, err := o.store.SaveTransactions(txs, jobID)
	if err != nil {
		logger.L.Error("Failed to persist transactions", "source", result.SourceID, "error", err)
		result.Success = false
		result.ErrorMessage = fmt.Sprintf("persisting transactions: %v", err)
		return
	}
	result.RecordsImported += txImported
	result.RecordsSkipped += txSkipped

	now := o.now()
	metas := buildSourceMetadata(sourceType, result.SourceID, holdings, txs, now)
	metaBySymbol := make(map[string]models.DataSourceMetadata)
	for _, meta := range metas {
		if err := o.store.UpsertDataSourceMetadata(meta); err != nil {
			logger.L.Error("Failed to record data source metadata",
				"source", result.SourceID, "asset", meta.AssetSymbol, "error", err)
		}
		if meta.DataType == "holdings" {
			metaBySymbol[meta.AssetSymbol] = meta
		}
	}

	for _, h := range holdings {
		meta, ok := metaBySymbol[h.Symbol]
		if !ok {
			continue
		}
		holdingCandidates[h.Symbol] = append(holdingCandidates[h.Symbol], sourceQuality{
			holding: h,
			meta:    meta,
		})
	}
}

func (o *ImportOrchestrator) finalizeJob(job *models.ImportJob, results *SyncResults) {
	job.CompletedAt = results.CompletedAt
	job.Status = results.Status()
	for _, sr := range results.SourceResults {
		job.RecordsFetched += sr.RecordsFetched
	}
	job.RecordsImported = results.TotalImported
	job.RecordsUpdated = results.TotalUpdated
	job.RecordsSkipped = results.TotalSkipped
	if len(results.Errors) > 0 {
		errMsg := ""
		for i, e := range results.Errors {
			if i > 0 {
				errMsg += "\n"
			}
			errMsg += e
		}
		job.ErrorMessage = errMsg
	}

	perSource := make(map[string]string, len(results.SourceResults))
	for _, sr := range results.SourceResults {
		status := "ok"
		if !sr.Success {
			status = "failed"
		}
		perSource[sr.SourceID] = status
	}
	if metaJSON, err := json.Marshal(perSource); err == nil {
		job.Metadata = string(metaJSON)
	}

	if err := o.store.UpdateImportJob(job); err != nil {
		logger.L.Error("Failed to finalize import job record", "jobID", job.JobID, "error", err)
	}
}

// recordPluginSyncs updates each plugin source's sync bookkeeping after a
// run: last/next sync on success, the consecutive-failure counter otherwise.
// A source degraded past the failure threshold triggers an alert.
func (o *ImportOrchestrator) recordPluginSyncs(results *SyncResults) {
	o.mu.Lock()
	pluginSources := make(map[string]string, len(o.pluginSources))
	for id, freq := range o.pluginSources {
		pluginSources[id] = freq
	}
	o.mu.Unlock()

	for _, sr := range results.SourceResults {
		frequency, isPlugin := pluginSources[sr.SourceID]
		if !isPlugin {
			continue
		}

		now := o.now()
		var runErr error
		if !sr.Success {
			runErr = errors.New(sr.ErrorMessage)
		}
		if err := o.store.RecordPluginSyncResult(sr.SourceID, now, computeNextSync(now, frequency), runErr); err != nil {
			logger.L.Error("Failed to record plugin sync result", "plugin", sr.SourceID, "error", err)
			continue
		}
		if sr.Success || o.alerts == nil {
			continue
		}

		rec, err := o.store.GetPluginConfig(sr.SourceID)
		if err != nil || rec == nil {
			continue
		}
		if rec.ConsecutiveFailures >= degradedFailureThreshold {
			if err := o.alerts.SendSourceDegradedAlert(sr.SourceID, rec.ConsecutiveFailures, rec.LastError); err != nil {
				logger.L.Warn("Failed to send source degraded alert", "plugin", sr.SourceID, "error", err)
			}
		}
	}
}

// computeNextSync derives the next scheduled sync from the configured
// cadence. Manual sources get a zero time: they are never auto-scheduled.
func computeNextSync(from time.Time, frequency string) time.Time {
	switch frequency {
	case "manual":
		return time.Time{}
	case "hourly":
		return from.Add(time.Hour)
	case "weekly":
		return from.AddDate(0, 0, 7)
	default: // daily
		return from.AddDate(0, 0, 1)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// classifyError renders an error with its taxonomy class for job records.
func classifyError(err error) string {
	var authErr *connectors.AuthenticationError
	if errors.As(err, &authErr) {
		return fmt.Sprintf("Authentication failed: %v", err)
	}
	var rateErr *connectors.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Sprintf("Rate limit exceeded: %v", err)
	}
	var fetchErr *connectors.DataFetchError
	if errors.As(err, &fetchErr) {
		return fmt.Sprintf("Data fetch failed: %v", err)
	}
	return fmt.Sprintf("Unexpected error: %v", err)
}

// HealthCheckAll probes every registered source.
func (o *ImportOrchestrator) HealthCheckAll(ctx context.Context) map[string]string {
	results := make(map[string]string)
	for sourceID, c := range o.snapshotConnectors(nil) {
		healthy, msg := connectors.HealthCheck(ctx, c)
		status := "healthy"
		if !healthy {
			status = "unhealthy"
		}
		results[sourceID] = fmt.Sprintf("%s: %s", status, msg)
	}
	return results
}

// DisconnectAll releases every registered source's resources. Disconnect
// failures are logged and swallowed.
func (o *ImportOrchestrator) DisconnectAll(ctx context.Context) {
	o.mu.Lock()
	sources := o.connectors
	o.connectors = make(map[string]connectors.Connector)
	o.initialized = false
	o.mu.Unlock()

	for sourceID, c := range sources {
		if err := connectors.Disconnect(ctx, c); err != nil {
			logger.L.Error("Error disconnecting source", "source", sourceID, "error", err)
			continue
		}
		logger.L.Info("Disconnected source", "source", sourceID)
	}
	if o.plugins != nil {
		o.plugins.UnloadAll(ctx)
	}
}
