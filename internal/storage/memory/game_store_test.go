package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avncodex/indexer/internal/indexer"
)

var storeNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func seedItem(id int64, title string) indexer.ListingItem {
	return indexer.ListingItem{ID: id, Title: title}
}

// TestUpsertBasicNonEmptyWins keeps existing values when a later listing
// row omits a field.
func TestUpsertBasicNonEmptyWins(t *testing.T) {
	t.Parallel()

	s := NewGameStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertBasic(ctx, indexer.ListingItem{
		ID: 1, Title: "Full Title", Creator: "dev", Version: "v1",
	}, storeNow))
	require.NoError(t, s.UpsertBasic(ctx, seedItem(1, "Full Title"), storeNow.Add(time.Hour)))

	rec, err := s.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "dev", rec.Creator)
	require.Equal(t, "v1", rec.Version)
	require.Equal(t, storeNow.Add(time.Hour), rec.LastTouchedAt)
}

// TestUpsertBasicLeavesEnrichmentSurface verifies listing writes never
// clobber enrichment-phase fields.
func TestUpsertBasicLeavesEnrichmentSurface(t *testing.T) {
	t.Parallel()

	s := NewGameStore()
	ctx := context.Background()

	enriched := storeNow.Add(-time.Hour)
	require.NoError(t, s.Save(ctx, indexer.GameRecord{
		ID: 2, Name: "Game", StatusLabel: "Ongoing",
		TagsJSON: `["romance"]`, DetailsJSON: `{"k":"v"}`,
		LastEnrichedAt: &enriched,
	}))
	require.NoError(t, s.UpsertBasic(ctx, indexer.ListingItem{ID: 2, Title: "Game v2", Version: "v2"}, storeNow))

	rec, err := s.Get(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "Game v2", rec.Name)
	require.Equal(t, "v2", rec.Version)
	require.Equal(t, "Ongoing", rec.StatusLabel)
	require.Equal(t, `["romance"]`, rec.TagsJSON)
	require.Equal(t, `{"k":"v"}`, rec.DetailsJSON)
	require.Equal(t, enriched, *rec.LastEnrichedAt)
}

// TestUpsertBasicCoverCandidateOrder takes the first non-empty cover
// candidate.
func TestUpsertBasicCoverCandidateOrder(t *testing.T) {
	t.Parallel()

	s := NewGameStore()
	item := seedItem(3, "Covers")
	item.CoverCandidates = []string{"", "https://cdn/a.jpg", "https://cdn/b.jpg"}
	require.NoError(t, s.UpsertBasic(context.Background(), item, storeNow))

	rec, err := s.Get(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, "https://cdn/a.jpg", rec.CoverURL)
}

// TestUpsertBasicRemoteTimestampMonotonic never rewinds RemoteUpdatedAt.
func TestUpsertBasicRemoteTimestampMonotonic(t *testing.T) {
	t.Parallel()

	s := NewGameStore()
	ctx := context.Background()

	newer := storeNow
	older := storeNow.Add(-24 * time.Hour)

	item := seedItem(4, "TS")
	item.UpdatedAt = &newer
	require.NoError(t, s.UpsertBasic(ctx, item, storeNow))

	item.UpdatedAt = &older
	require.NoError(t, s.UpsertBasic(ctx, item, storeNow))

	rec, err := s.Get(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, newer, *rec.RemoteUpdatedAt)
}

// TestListUnenrichedOrderAndLimit returns id-ordered pending records
// bounded by the limit.
func TestListUnenrichedOrderAndLimit(t *testing.T) {
	t.Parallel()

	s := NewGameStore()
	ctx := context.Background()

	enriched := storeNow
	require.NoError(t, s.Save(ctx, indexer.GameRecord{ID: 5, Name: "done", LastEnrichedAt: &enriched}))
	for _, id := range []int64{9, 3, 7} {
		require.NoError(t, s.Save(ctx, indexer.GameRecord{ID: id, Name: "pending"}))
	}

	got, err := s.ListUnenriched(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(3), got[0].ID)
	require.Equal(t, int64(7), got[1].ID)

	count, err := s.CountUnenriched(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

// TestSearchFilters covers substring, tracked and pagination filters.
func TestSearchFilters(t *testing.T) {
	t.Parallel()

	s := NewGameStore()
	ctx := context.Background()

	ongoing := 1
	completed := 2
	renpy := 3
	require.NoError(t, s.Save(ctx, indexer.GameRecord{ID: 1, Name: "Summer Story", Tracked: true, StatusCode: &ongoing}))
	require.NoError(t, s.Save(ctx, indexer.GameRecord{ID: 2, Name: "Winter Story", StatusCode: &completed, EngineCode: &renpy}))
	require.NoError(t, s.Save(ctx, indexer.GameRecord{ID: 3, Name: "Summer Heat"}))

	got, err := s.Search(ctx, indexer.SearchQuery{Text: "summer"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	tracked := true
	got, err = s.Search(ctx, indexer.SearchQuery{Tracked: &tracked})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(1), got[0].ID)

	got, err = s.Search(ctx, indexer.SearchQuery{StatusCode: &completed})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(2), got[0].ID)

	got, err = s.Search(ctx, indexer.SearchQuery{EngineCode: &renpy})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(2), got[0].ID)

	got, err = s.Search(ctx, indexer.SearchQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(3), got[0].ID)

	got, err = s.Search(ctx, indexer.SearchQuery{Page: 9, PageSize: 2})
	require.NoError(t, err)
	require.Empty(t, got)
}

// TestSetTracked flips the flag and reports missing records.
func TestSetTracked(t *testing.T) {
	t.Parallel()

	s := NewGameStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, indexer.GameRecord{ID: 6, Name: "Flag"}))
	require.NoError(t, s.SetTracked(ctx, 6, true))

	rec, err := s.Get(ctx, 6)
	require.NoError(t, err)
	require.True(t, rec.Tracked)

	require.ErrorIs(t, s.SetTracked(ctx, 999, true), indexer.ErrNotFound)
}

// TestGetMissing returns ErrNotFound for unknown ids.
func TestGetMissing(t *testing.T) {
	t.Parallel()

	s := NewGameStore()
	_, err := s.Get(context.Background(), 42)
	require.ErrorIs(t, err, indexer.ErrNotFound)
}
