package services

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/username/wealthos/backend/src/database"
	"github.com/username/wealthos/backend/src/logger"
	"github.com/username/wealthos/backend/src/models"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func testStore(t *testing.T) *Store {
	t.Helper()
	database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	db := database.DB
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func sampleTx(sourceID string, date time.Time) models.Transaction {
	return models.Transaction{
		Date:     date,
		Symbol:   "AAPL",
		Name:     "Apple Inc",
		Type:     models.TypeBuy,
		Quantity: 10,
		Price:    150,
		Amount:   1500,
		Currency: "USD",
		SourceID: sourceID,
		Source:   "ibkr",
	}
}

func TestSaveTransactionsDeduplicates(t *testing.T) {
	s := testStore(t)
	date := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	imported, skipped, err := s.SaveTransactions([]models.Transaction{
		sampleTx("ibkr_e1", date),
		sampleTx("ibkr_e2", date),
	}, "job1")
	if err != nil {
		t.Fatalf("SaveTransactions: %v", err)
	}
	if imported != 2 || skipped != 0 {
		t.Errorf("first save = (%d, %d), want (2, 0)", imported, skipped)
	}

	// Re-importing the same records plus one new one only adds the new one.
	imported, skipped, err = s.SaveTransactions([]models.Transaction{
		sampleTx("ibkr_e1", date),
		sampleTx("ibkr_e2", date),
		sampleTx("ibkr_e3", date),
	}, "job2")
	if err != nil {
		t.Fatalf("second SaveTransactions: %v", err)
	}
	if imported != 1 || skipped != 2 {
		t.Errorf("second save = (%d, %d), want (1, 2)", imported, skipped)
	}

	counts, err := s.CountTransactionsBySource()
	if err != nil {
		t.Fatalf("CountTransactionsBySource: %v", err)
	}
	if counts["ibkr"] != 3 {
		t.Errorf("stored %d rows, want 3", counts["ibkr"])
	}
}

func TestSaveTransactionsSameIDDifferentSources(t *testing.T) {
	s := testStore(t)
	date := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	a := sampleTx("shared_1", date)
	b := sampleTx("shared_1", date)
	b.Source = "cryptoexch"

	imported, skipped, err := s.SaveTransactions([]models.Transaction{a, b}, "job1")
	if err != nil {
		t.Fatalf("SaveTransactions: %v", err)
	}
	// The dedup key is (source, source_id), so both rows land.
	if imported != 2 || skipped != 0 {
		t.Errorf("save = (%d, %d), want (2, 0)", imported, skipped)
	}
}

func TestSaveHoldingsUpsert(t *testing.T) {
	s := testStore(t)
	snapshot := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	holdings := []models.Holding{
		{Symbol: "AAPL", Name: "Apple Inc", Quantity: 10, CurrentPrice: 150, MarketValue: 1500,
			Currency: "USD", AccountID: "U111", Source: "ibkr", SnapshotAt: snapshot},
		{Symbol: "BTC", Name: "Bitcoin", Quantity: 0.5, CurrentPrice: 40000, MarketValue: 20000,
			Currency: "USD", AccountID: "binance", Source: "cryptoexch", SnapshotAt: snapshot},
	}

	imported, updated, err := s.SaveHoldings(holdings)
	if err != nil {
		t.Fatalf("SaveHoldings: %v", err)
	}
	if imported != 2 || updated != 0 {
		t.Errorf("first save = (%d, %d), want (2, 0)", imported, updated)
	}

	holdings[0].Quantity = 12
	holdings[0].MarketValue = 1800
	imported, updated, err = s.SaveHoldings(holdings[:1])
	if err != nil {
		t.Fatalf("second SaveHoldings: %v", err)
	}
	if imported != 0 || updated != 1 {
		t.Errorf("second save = (%d, %d), want (0, 1)", imported, updated)
	}

	var quantity float64
	err = database.DB.QueryRow(
		"SELECT quantity FROM holdings WHERE source = ? AND account_id = ? AND symbol = ?",
		"ibkr", "U111", "AAPL").Scan(&quantity)
	if err != nil {
		t.Fatalf("reading back holding: %v", err)
	}
	if quantity != 12 {
		t.Errorf("quantity = %v after upsert, want 12", quantity)
	}
}

func TestImportJobLifecycle(t *testing.T) {
	s := testStore(t)
	started := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	job := &models.ImportJob{
		JobID:       "abc123",
		SourceType:  "multi",
		SourceID:    "orchestrator",
		StartedAt:   started,
		Status:      models.JobStatusRunning,
		TriggeredBy: "manual",
	}
	if err := s.CreateImportJob(job); err != nil {
		t.Fatalf("CreateImportJob: %v", err)
	}

	got, err := s.GetImportJob("abc123")
	if err != nil {
		t.Fatalf("GetImportJob: %v", err)
	}
	if got.Status != models.JobStatusRunning || !got.CompletedAt.IsZero() {
		t.Errorf("running job = %+v", got)
	}

	job.CompletedAt = started.Add(time.Minute)
	job.Status = models.JobStatusCompleted
	job.RecordsFetched = 40
	job.RecordsImported = 30
	job.RecordsSkipped = 10
	job.Metadata = `{"ibkr":"ok"}`
	if err := s.UpdateImportJob(job); err != nil {
		t.Fatalf("UpdateImportJob: %v", err)
	}

	got, err = s.GetImportJob("abc123")
	if err != nil {
		t.Fatalf("GetImportJob after update: %v", err)
	}
	if got.Status != models.JobStatusCompleted || got.RecordsImported != 30 || got.Metadata != `{"ibkr":"ok"}` {
		t.Errorf("finalized job = %+v", got)
	}
	if got.CompletedAt.IsZero() {
		t.Error("completed_at not persisted")
	}

	if _, err := s.GetImportJob("ghost"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestListImportJobsNewestFirst(t *testing.T) {
	s := testStore(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"older", "newer"} {
		job := &models.ImportJob{
			JobID: id, SourceType: "multi", SourceID: "orchestrator",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Status:    models.JobStatusCompleted, TriggeredBy: "manual",
		}
		if err := s.CreateImportJob(job); err != nil {
			t.Fatalf("CreateImportJob(%s): %v", id, err)
		}
	}

	jobs, err := s.ListImportJobs(10)
	if err != nil {
		t.Fatalf("ListImportJobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].JobID != "newer" || jobs[1].JobID != "older" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestPluginConfigRoundTrip(t *testing.T) {
	s := testStore(t)

	if rec, err := s.GetPluginConfig("sample_bank"); err != nil || rec != nil {
		t.Fatalf("GetPluginConfig on empty table = (%v, %v), want (nil, nil)", rec, err)
	}

	rec := &models.PluginConfigRecord{
		PluginID:      "sample_bank",
		PluginName:    "Sample Bank",
		PluginVersion: "1.0.0",
		ConfigJSON:    "ciphertext-blob",
		Enabled:       true,
		SyncFrequency: "daily",
	}
	if err := s.UpsertPluginConfig(rec); err != nil {
		t.Fatalf("UpsertPluginConfig: %v", err)
	}

	got, err := s.GetPluginConfig("sample_bank")
	if err != nil {
		t.Fatalf("GetPluginConfig: %v", err)
	}
	if got == nil || got.ConfigJSON != "ciphertext-blob" || !got.Enabled {
		t.Errorf("record = %+v", got)
	}

	rec.PluginVersion = "1.1.0"
	if err := s.UpsertPluginConfig(rec); err != nil {
		t.Fatalf("second UpsertPluginConfig: %v", err)
	}
	got, _ = s.GetPluginConfig("sample_bank")
	if got.PluginVersion != "1.1.0" {
		t.Errorf("version = %q after upsert, want 1.1.0", got.PluginVersion)
	}
}

func TestRecordPluginSyncResult(t *testing.T) {
	s := testStore(t)
	if err := s.UpsertPluginConfig(&models.PluginConfigRecord{PluginID: "sample_bank", Enabled: true}); err != nil {
		t.Fatalf("UpsertPluginConfig: %v", err)
	}
	syncedAt := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	nextSync := syncedAt.Add(24 * time.Hour)

	for i := 0; i < 2; i++ {
		if err := s.RecordPluginSyncResult("sample_bank", syncedAt, nextSync, errors.New("bank closed")); err != nil {
			t.Fatalf("RecordPluginSyncResult(failure %d): %v", i, err)
		}
	}
	got, err := s.GetPluginConfig("sample_bank")
	if err != nil {
		t.Fatalf("GetPluginConfig: %v", err)
	}
	if got.ConsecutiveFailures != 2 || got.LastError != "bank closed" {
		t.Errorf("after failures: %+v", got)
	}

	if err := s.RecordPluginSyncResult("sample_bank", syncedAt, nextSync, nil); err != nil {
		t.Fatalf("RecordPluginSyncResult(success): %v", err)
	}
	got, _ = s.GetPluginConfig("sample_bank")
	if got.ConsecutiveFailures != 0 || got.LastError != "" {
		t.Errorf("success did not reset failure tracking: %+v", got)
	}
	if got.LastSync.IsZero() {
		t.Error("last_sync not recorded on success")
	}
}

func TestDataSourceMetadataUpsert(t *testing.T) {
	s := testStore(t)
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	meta := models.DataSourceMetadata{
		SourceType: "broker", SourceID: "ibkr", AssetSymbol: "AAPL", DataType: "holdings",
		LastUpdate: now, RecordCount: 1, QualityScore: 90, CompletenessScore: 100, FreshnessHours: 0,
	}
	if err := s.UpsertDataSourceMetadata(meta); err != nil {
		t.Fatalf("UpsertDataSourceMetadata: %v", err)
	}

	meta.QualityScore = 95
	if err := s.UpsertDataSourceMetadata(meta); err != nil {
		t.Fatalf("second UpsertDataSourceMetadata: %v", err)
	}

	lower := meta
	lower.SourceID = "plaid"
	lower.SourceType = "plugin"
	lower.QualityScore = 70
	if err := s.UpsertDataSourceMetadata(lower); err != nil {
		t.Fatalf("third UpsertDataSourceMetadata: %v", err)
	}

	metas, err := s.GetAssetMetadata("AAPL", "holdings")
	if err != nil {
		t.Fatalf("GetAssetMetadata: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("got %d rows, want 2 (upsert must not duplicate)", len(metas))
	}
	if metas[0].SourceID != "ibkr" || metas[0].QualityScore != 95 {
		t.Errorf("best source = %+v, want updated ibkr row first", metas[0])
	}
}
