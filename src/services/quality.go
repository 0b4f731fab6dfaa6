package services

import (
	"sort"
	"time"

	"github.com/username/wealthos/backend/src/models"
	"github.com/username/wealthos/backend/src/utils"
)

// Quality scores weight completeness over freshness. A score of 100 means
// every record carried its required fields and the data is under an hour
// old; freshness decays linearly to zero over one week.
const (
	completenessWeight = 0.6
	freshnessWeight    = 0.4
	freshnessHorizon   = 168.0 // hours
)

// HoldingsCompleteness scores 0-100 how many holdings carry the fields the
// merge step needs, and checks the market value invariant.
func HoldingsCompleteness(holdings []models.Holding) float64 {
	if len(holdings) == 0 {
		return 0
	}
	complete := 0
	for _, h := range holdings {
		if h.Symbol == "" || h.Quantity <= 0 || h.CurrentPrice < 0 {
			continue
		}
		if !utils.FloatEquals(h.MarketValue, h.Quantity*h.CurrentPrice) {
			continue
		}
		complete++
	}
	return 100 * float64(complete) / float64(len(holdings))
}

// TransactionsCompleteness scores 0-100 how many transactions carry a
// dedup key, a standard type and a date.
func TransactionsCompleteness(txs []models.Transaction) float64 {
	if len(txs) == 0 {
		return 0
	}
	complete := 0
	for _, tx := range txs {
		if tx.SourceID == "" || tx.Date.IsZero() {
			continue
		}
		if !models.IsStandardTransactionType(tx.Type) {
			continue
		}
		complete++
	}
	return 100 * float64(complete) / float64(len(txs))
}

// FreshnessScore maps data age in hours to 0-100.
func FreshnessScore(ageHours float64) float64 {
	if ageHours <= 1 {
		return 100
	}
	if ageHours >= freshnessHorizon {
		return 0
	}
	return 100 * (1 - ageHours/freshnessHorizon)
}

// QualityScore combines completeness and freshness into the overall score
// stored on DataSourceMetadata.
func QualityScore(completeness, freshnessHours float64) float64 {
	return utils.RoundFloat(
		completenessWeight*completeness+freshnessWeight*FreshnessScore(freshnessHours), 2)
}

// sourceQuality pairs one source's holding for an asset with that source's
// recorded metadata.
type sourceQuality struct {
	holding models.Holding
	meta    models.DataSourceMetadata
}

// ResolveHoldingConflicts merges holdings reported by overlapping sources.
// For each symbol the winner is the source with the highest quality score;
// on a tie the most recent last_update wins; a remaining tie falls back to
// the configured primary source order, then source id for determinism.
// Returns the merged holdings and the winning source per symbol.
func ResolveHoldingConflicts(
	candidates map[string][]sourceQuality,
	primaryOrder []string,
) ([]models.Holding, map[string]string) {
	rank := make(map[string]int, len(primaryOrder))
	for i, id := range primaryOrder {
		rank[id] = i
	}
	orderOf := func(sourceID string) int {
		if r, ok := rank[sourceID]; ok {
			return r
		}
		return len(primaryOrder)
	}

	var merged []models.Holding
	winners := make(map[string]string, len(candidates))

	symbols := make([]string, 0, len(candidates))
	for symbol := range candidates {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		entries := candidates[symbol]
		if len(entries) == 0 {
			continue
		}
		best := entries[0]
		for _, e := range entries[1:] {
			if qualityLess(best, e, orderOf) {
				best = e
			}
		}
		merged = append(merged, best.holding)
		winners[symbol] = best.meta.SourceID
	}
	return merged, winners
}

// qualityLess reports whether b beats a.
func qualityLess(a, b sourceQuality, orderOf func(string) int) bool {
	if b.meta.QualityScore != a.meta.QualityScore {
		return b.meta.QualityScore > a.meta.QualityScore
	}
	if !b.meta.LastUpdate.Equal(a.meta.LastUpdate) {
		return b.meta.LastUpdate.After(a.meta.LastUpdate)
	}
	if orderOf(b.meta.SourceID) != orderOf(a.meta.SourceID) {
		return orderOf(b.meta.SourceID) < orderOf(a.meta.SourceID)
	}
	return b.meta.SourceID < a.meta.SourceID
}

// buildSourceMetadata computes the lineage rows for one source's fetch.
func buildSourceMetadata(
	sourceType, sourceID string,
	holdings []models.Holding,
	txs []models.Transaction,
	now time.Time,
) []models.DataSourceMetadata {
	var metas []models.DataSourceMetadata

	if len(holdings) > 0 {
		completeness := HoldingsCompleteness(holdings)
		perAsset := make(map[string]int)
		for _, h := range holdings {
			perAsset[h.Symbol]++
		}
		for symbol, count := range perAsset {
			metas = append(metas, models.DataSourceMetadata{
				SourceType:        sourceType,
				SourceID:          sourceID,
				AssetSymbol:       symbol,
				DataType:          "holdings",
				LastUpdate:        now,
				RecordCount:       count,
				CompletenessScore: utils.RoundFloat(completeness, 2),
				FreshnessHours:    0,
				QualityScore:      QualityScore(completeness, 0),
			})
		}
	}

	if len(txs) > 0 {
		completeness := TransactionsCompleteness(txs)
		perAsset := make(map[string]struct {
			count  int
			newest time.Time
		})
		for _, tx := range txs {
			entry := perAsset[tx.Symbol]
			entry.count++
			if tx.Date.After(entry.newest) {
				entry.newest = tx.Date
			}
			perAsset[tx.Symbol] = entry
		}
		for symbol, entry := range perAsset {
			ageHours := now.Sub(entry.newest).Hours()
			if ageHours < 0 {
				ageHours = 0
			}
			metas = append(metas, models.DataSourceMetadata{
				SourceType:        sourceType,
				SourceID:          sourceID,
				AssetSymbol:       symbol,
				DataType:          "transactions",
				LastUpdate:        now,
				RecordCount:       entry.count,
				CompletenessScore: utils.RoundFloat(completeness, 2),
				FreshnessHours:    utils.RoundFloat(ageHours, 2),
				QualityScore:      QualityScore(completeness, ageHours),
			})
		}
	}

	return metas
}
