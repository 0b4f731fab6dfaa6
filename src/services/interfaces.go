package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/username/wealthos/backend/src/models"
)

// ImportStore is the persistence surface the orchestrator depends on.
// *Store implements it; tests substitute an in-memory database.
type ImportStore interface {
	SaveTransactions(txs []models.Transaction, jobID string) (imported, skipped int, err error)
	SaveHoldings(holdings []models.Holding) (imported, updated int, err error)
	CreateImportJob(job *models.ImportJob) error
	UpdateImportJob(job *models.ImportJob) error
	UpsertDataSourceMetadata(meta models.DataSourceMetadata) error
	UpsertPluginConfig(rec *models.PluginConfigRecord) error
	GetPluginConfig(pluginID string) (*models.PluginConfigRecord, error)
	RecordPluginSyncResult(pluginID string, syncedAt, nextSync time.Time, runErr error) error
}

// SourceResult summarizes one source's fetch cycle inside a sync run.
type SourceResult struct {
	SourceType      string
	SourceID        string
	Success         bool
	RecordsFetched  int
	RecordsImported int
	RecordsUpdated  int
	RecordsSkipped  int
	ErrorMessage    string
	Duration        time.Duration
}

// SyncResults aggregates a full orchestrator run.
type SyncResults struct {
	JobID          string
	StartedAt      time.Time
	CompletedAt    time.Time
	SourceResults  []SourceResult
	MergedHoldings []models.Holding
	// AuthoritativeSource maps each merged symbol to the source whose data
	// won the conflict resolution.
	AuthoritativeSource map[string]string
	TotalImported       int
	TotalUpdated        int
	TotalSkipped        int
	Errors              []string
}

// Success reports whether at least one source completed.
func (r *SyncResults) Success() bool {
	for _, sr := range r.SourceResults {
		if sr.Success {
			return true
		}
	}
	return false
}

// Status derives the terminal job status: completed when everything
// succeeded, failed when everything failed, partial otherwise.
func (r *SyncResults) Status() string {
	if len(r.SourceResults) == 0 {
		return models.JobStatusFailed
	}
	failures := 0
	for _, sr := range r.SourceResults {
		if !sr.Success {
			failures++
		}
	}
	switch failures {
	case 0:
		return models.JobStatusCompleted
	case len(r.SourceResults):
		return models.JobStatusFailed
	default:
		return models.JobStatusPartial
	}
}

// FailedSources lists the ids of sources that did not complete.
func (r *SyncResults) FailedSources() []string {
	var failed []string
	for _, sr := range r.SourceResults {
		if !sr.Success {
			failed = append(failed, sr.SourceID)
		}
	}
	return failed
}

// Summary renders a human-readable run report.
func (r *SyncResults) Summary() string {
	duration := r.CompletedAt.Sub(r.StartedAt)
	lines := []string{
		fmt.Sprintf("Sync Job: %s", r.JobID),
		fmt.Sprintf("Duration: %.1fs", duration.Seconds()),
		fmt.Sprintf("Sources: %d", len(r.SourceResults)),
		fmt.Sprintf("Imported: %d", r.TotalImported),
		fmt.Sprintf("Updated: %d", r.TotalUpdated),
		fmt.Sprintf("Skipped: %d", r.TotalSkipped),
	}
	if len(r.Errors) > 0 {
		lines = append(lines, fmt.Sprintf("Errors: %d", len(r.Errors)))
		show := r.Errors
		if len(show) > 5 {
			show = show[:5]
		}
		for _, e := range show {
			lines = append(lines, "  - "+e)
		}
	}
	return strings.Join(lines, "\n")
}
