// Package freshness decides when indexed records are stale and refreshes
// them on the read path, outside the crawl loop's cadence.
package freshness

import (
	"time"

	"github.com/avncodex/indexer/internal/indexer"
)

// DefaultWindow is how long an enrichment stays fresh.
const DefaultWindow = 7 * 24 * time.Hour

// Policy is the pure staleness decision applied by the read path.
type Policy struct {
	Window time.Duration
}

// NewPolicy applies the default window when none is configured.
func NewPolicy(window time.Duration) Policy {
	if window <= 0 {
		window = DefaultWindow
	}
	return Policy{Window: window}
}

// IsStale reports whether a record warrants a re-check: never enriched, or
// enriched longer ago than the freshness window.
func (p Policy) IsStale(rec indexer.GameRecord, now time.Time) bool {
	if rec.LastEnrichedAt == nil {
		return true
	}
	return now.Sub(*rec.LastEnrichedAt) > p.Window
}

// StaleCandidates filters a result page down to at most limit refresh
// candidates.
func (p Policy) StaleCandidates(recs []indexer.GameRecord, now time.Time, limit int) []indexer.GameRecord {
	var out []indexer.GameRecord
	for _, rec := range recs {
		if !p.IsStale(rec, now) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
