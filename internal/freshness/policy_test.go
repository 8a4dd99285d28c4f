package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avncodex/indexer/internal/indexer"
)

var policyNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func enrichedAt(ago time.Duration) *time.Time {
	ts := policyNow.Add(-ago)
	return &ts
}

// TestPolicyIsStale covers the three freshness cases: never enriched,
// inside the window, and past it.
func TestPolicyIsStale(t *testing.T) {
	t.Parallel()

	p := NewPolicy(0)
	require.Equal(t, DefaultWindow, p.Window)

	require.True(t, p.IsStale(indexer.GameRecord{ID: 1}, policyNow), "never enriched is stale")
	require.False(t, p.IsStale(indexer.GameRecord{ID: 2, LastEnrichedAt: enrichedAt(time.Hour)}, policyNow))
	require.True(t, p.IsStale(indexer.GameRecord{ID: 3, LastEnrichedAt: enrichedAt(8 * 24 * time.Hour)}, policyNow))
}

// TestStaleCandidatesLimit bounds the candidate set to the given size.
func TestStaleCandidatesLimit(t *testing.T) {
	t.Parallel()

	p := NewPolicy(time.Hour)
	recs := []indexer.GameRecord{
		{ID: 1},
		{ID: 2, LastEnrichedAt: enrichedAt(time.Minute)},
		{ID: 3},
		{ID: 4},
	}

	out := p.StaleCandidates(recs, policyNow, 2)
	require.Len(t, out, 2)
	require.EqualValues(t, 1, out[0].ID)
	require.EqualValues(t, 3, out[1].ID)
}
