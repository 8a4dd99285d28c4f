// Package memory provides in-memory store implementations for tests and
// local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avncodex/indexer/internal/indexer"
)

// GameStore is a mutex-guarded in-memory indexer.RecordStore.
type GameStore struct {
	mu    sync.RWMutex
	games map[int64]indexer.GameRecord
}

// NewGameStore creates an empty GameStore.
func NewGameStore() *GameStore {
	return &GameStore{games: make(map[int64]indexer.GameRecord)}
}

// UpsertBasic writes listing-level fields, leaving the enrichment surface
// untouched.
func (s *GameStore) UpsertBasic(_ context.Context, item indexer.ListingItem, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.games[item.ID]
	if !ok {
		rec = indexer.GameRecord{ID: item.ID}
	}
	if item.Title != "" {
		rec.Name = item.Title
	}
	if item.Creator != "" {
		rec.Creator = item.Creator
	}
	if item.Version != "" {
		rec.Version = item.Version
	}
	for _, c := range item.CoverCandidates {
		if c != "" {
			rec.CoverURL = c
			break
		}
	}
	if item.UpdatedAt != nil {
		if rec.RemoteUpdatedAt == nil || item.UpdatedAt.After(*rec.RemoteUpdatedAt) {
			at := *item.UpdatedAt
			rec.RemoteUpdatedAt = &at
		}
	}
	rec.LastTouchedAt = now
	s.games[item.ID] = rec
	return nil
}

// Save replaces the whole record.
func (s *GameStore) Save(_ context.Context, rec indexer.GameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[rec.ID] = rec
	return nil
}

// Get returns a record or indexer.ErrNotFound.
func (s *GameStore) Get(_ context.Context, id int64) (indexer.GameRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.games[id]
	if !ok {
		return indexer.GameRecord{}, indexer.ErrNotFound
	}
	return rec, nil
}

// ListUnenriched returns up to limit records awaiting enrichment, ordered
// by id for determinism in tests.
func (s *GameStore) ListUnenriched(_ context.Context, limit int) ([]indexer.GameRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []indexer.GameRecord
	for _, rec := range s.games {
		if rec.LastEnrichedAt == nil {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountUnenriched counts pending enrichment candidates.
func (s *GameStore) CountUnenriched(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, rec := range s.games {
		if rec.LastEnrichedAt == nil {
			count++
		}
	}
	return count, nil
}

// Search filters by name substring and tracked flag with pagination.
func (s *GameStore) Search(_ context.Context, q indexer.SearchQuery) ([]indexer.GameRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(q.Text)
	var matched []indexer.GameRecord
	for _, rec := range s.games {
		if needle != "" && !strings.Contains(strings.ToLower(rec.Name), needle) {
			continue
		}
		if q.Tracked != nil && rec.Tracked != *q.Tracked {
			continue
		}
		if q.StatusCode != nil && (rec.StatusCode == nil || *rec.StatusCode != *q.StatusCode) {
			continue
		}
		if q.EngineCode != nil && (rec.EngineCode == nil || *rec.EngineCode != *q.EngineCode) {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	offset := q.Offset()
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if q.PageSize > 0 && len(matched) > q.PageSize {
		matched = matched[:q.PageSize]
	}
	return matched, nil
}

// SetTracked flips the tracked flag or returns indexer.ErrNotFound.
func (s *GameStore) SetTracked(_ context.Context, id int64, tracked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.games[id]
	if !ok {
		return indexer.ErrNotFound
	}
	rec.Tracked = tracked
	s.games[id] = rec
	return nil
}

// Len reports the number of stored records.
func (s *GameStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.games)
}
