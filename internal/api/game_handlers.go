package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avncodex/indexer/internal/indexer"
)

const (
	defaultPageSize  = 30
	maxPageSize      = 100
	feedDiscoveryCap = 30
)

// searchGames serves GET /v1/games. Stored results pass through the
// freshness refresher before they are returned; a miss on a text query
// falls back to the discovery feed and seeds the store with what it finds.
func (s *Server) searchGames(w http.ResponseWriter, r *http.Request) {
	query, err := parseSearchQuery(r)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.records.Search(r.Context(), query)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "search failed")
		return
	}

	if len(page) == 0 && query.Text != "" && s.feed != nil {
		if n := s.discoverFromFeed(r, query.Text); n > 0 {
			page, err = s.records.Search(r.Context(), query)
			if err != nil {
				writeError(s.logger, w, http.StatusInternalServerError, "search failed")
				return
			}
		}
	}

	if s.refresher != nil {
		page = s.refresher.RefreshPage(r.Context(), page)
	}

	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"games":     page,
		"count":     len(page),
		"page":      query.Page,
		"page_size": query.PageSize,
	})
}

// discoverFromFeed seeds the store from the RSS feed for an unknown title.
// Failures are logged and swallowed; discovery is best effort.
func (s *Server) discoverFromFeed(r *http.Request, search string) int {
	items, err := s.feed.FetchRecent(r.Context(), feedDiscoveryCap, search)
	if err != nil {
		s.logger.Warn("feed discovery failed", zap.String("search", search), zap.Error(err))
		return 0
	}
	now := time.Now().UTC()
	seeded := 0
	for _, item := range items {
		if err := s.records.UpsertBasic(r.Context(), item, now); err != nil {
			s.logger.Warn("feed discovery upsert failed", zap.Int64("id", item.ID), zap.Error(err))
			continue
		}
		seeded++
	}
	if seeded > 0 {
		s.logger.Info("seeded records from feed", zap.String("search", search), zap.Int("count", seeded))
	}
	return seeded
}

func (s *Server) getGame(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(s, w, r)
	if !ok {
		return
	}
	rec, err := s.records.Get(r.Context(), id)
	if errors.Is(err, indexer.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "game not found")
		return
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, rec)
}

// refreshGame serves POST /v1/games/{game_id}/refresh: a forced synchronous
// re-check against upstream regardless of freshness.
func (s *Server) refreshGame(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(s, w, r)
	if !ok {
		return
	}
	rec, err := s.records.Get(r.Context(), id)
	if errors.Is(err, indexer.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "game not found")
		return
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "lookup failed")
		return
	}
	refreshed, err := s.refresher.RefreshOne(r.Context(), rec)
	if err != nil {
		writeError(s.logger, w, http.StatusBadGateway, "upstream refresh failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, refreshed)
}

// trackGame flips the tracked flag on and kicks a best-effort refresh so a
// freshly tracked game shows current data right away.
func (s *Server) trackGame(w http.ResponseWriter, r *http.Request) {
	id, ok := s.setTracked(w, r, true)
	if !ok {
		return
	}
	if rec, err := s.records.Get(r.Context(), id); err == nil {
		if _, err := s.refresher.RefreshOne(r.Context(), rec); err != nil {
			s.logger.Warn("refresh after track failed", zap.Int64("id", id), zap.Error(err))
		}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"id": id, "tracked": true})
}

func (s *Server) untrackGame(w http.ResponseWriter, r *http.Request) {
	id, ok := s.setTracked(w, r, false)
	if !ok {
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"id": id, "tracked": false})
}

// setTracked writes the flag and reports whether the handler should keep
// going; on failure the error response is already written.
func (s *Server) setTracked(w http.ResponseWriter, r *http.Request, tracked bool) (int64, bool) {
	id, ok := gameID(s, w, r)
	if !ok {
		return 0, false
	}
	err := s.records.SetTracked(r.Context(), id, tracked)
	if errors.Is(err, indexer.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "game not found")
		return 0, false
	}
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "update failed")
		return 0, false
	}
	return id, true
}

func gameID(s *Server, w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "game_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(s.logger, w, http.StatusBadRequest, "invalid game id")
		return 0, false
	}
	return id, true
}

func parseSearchQuery(r *http.Request) (indexer.SearchQuery, error) {
	q := indexer.SearchQuery{
		Text:     r.URL.Query().Get("q"),
		Page:     1,
		PageSize: defaultPageSize,
	}
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return q, errors.New("page must be a positive integer")
		}
		q.Page = page
	}
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 || size > maxPageSize {
			return q, errors.New("page_size must be between 1 and 100")
		}
		q.PageSize = size
	}
	if raw := r.URL.Query().Get("tracked"); raw != "" {
		tracked, err := strconv.ParseBool(raw)
		if err != nil {
			return q, errors.New("tracked must be a boolean")
		}
		q.Tracked = &tracked
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return q, errors.New("status must be an integer")
		}
		q.StatusCode = &code
	}
	if raw := r.URL.Query().Get("engine"); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return q, errors.New("engine must be an integer")
		}
		q.EngineCode = &code
	}
	return q, nil
}
