package services

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/username/wealthos/backend/src/models"
)

func TestSyncResultsStatus(t *testing.T) {
	tests := []struct {
		name    string
		results []SourceResult
		want    string
	}{
		{"no sources", nil, models.JobStatusFailed},
		{"all succeed", []SourceResult{{Success: true}, {Success: true}}, models.JobStatusCompleted},
		{"all fail", []SourceResult{{}, {}}, models.JobStatusFailed},
		{"mixed", []SourceResult{{Success: true}, {}}, models.JobStatusPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &SyncResults{SourceResults: tt.results}
			if got := r.Status(); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSyncResultsSuccess(t *testing.T) {
	r := &SyncResults{SourceResults: []SourceResult{{}, {Success: true}}}
	if !r.Success() {
		t.Error("one succeeding source should make the run a success")
	}
	r = &SyncResults{}
	if r.Success() {
		t.Error("run with no sources reported success")
	}
}

func TestSyncResultsFailedSources(t *testing.T) {
	r := &SyncResults{SourceResults: []SourceResult{
		{SourceID: "ibkr", Success: true},
		{SourceID: "cryptoexch"},
		{SourceID: "sample_bank"},
	}}
	failed := r.FailedSources()
	if len(failed) != 2 || failed[0] != "cryptoexch" || failed[1] != "sample_bank" {
		t.Errorf("FailedSources = %v", failed)
	}
}

func TestSyncResultsSummaryTruncatesErrors(t *testing.T) {
	started := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	r := &SyncResults{
		JobID:         "abc123",
		StartedAt:     started,
		CompletedAt:   started.Add(90 * time.Second),
		TotalImported: 42,
	}
	for i := 0; i < 8; i++ {
		r.Errors = append(r.Errors, fmt.Sprintf("source%d: boom", i))
	}

	summary := r.Summary()
	if !strings.Contains(summary, "abc123") || !strings.Contains(summary, "Imported: 42") {
		t.Errorf("summary missing core fields:\n%s", summary)
	}
	if !strings.Contains(summary, "Errors: 8") {
		t.Errorf("summary missing error count:\n%s", summary)
	}
	if !strings.Contains(summary, "source4: boom") || strings.Contains(summary, "source5: boom") {
		t.Errorf("summary should show the first 5 errors only:\n%s", summary)
	}
}
