// Package indexer defines core types shared across subsystems.
package indexer

import (
	"encoding/json"
	"time"
)

// SortMode selects the ordering of a listing page fetch.
type SortMode string

// Listing sort modes understood by the forum listing endpoint.
const (
	SortByTitle SortMode = "title"
	SortByDate  SortMode = "date"
)

// GameRecord is the normalized row persisted for each indexed game. The
// external thread id is the immutable primary key.
//
// Basic fields (Name, Creator, Version, CoverURL) are written by the seed
// phase; rich fields (StatusLabel, StatusCode, EngineCode, TagsJSON, Rating,
// Likes, DetailsJSON) are the enrichment merge's exclusive write surface.
type GameRecord struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Creator  string `json:"creator,omitempty"`
	Version  string `json:"version,omitempty"`
	CoverURL string `json:"cover_url,omitempty"`

	StatusLabel string   `json:"status_label,omitempty"`
	StatusCode  *int     `json:"status_code,omitempty"`
	EngineCode  *int     `json:"engine_code,omitempty"`
	TagsJSON    string   `json:"tags,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	Likes       *int     `json:"likes,omitempty"`
	DetailsJSON string   `json:"details,omitempty"`

	Tracked bool `json:"tracked"`

	// RemoteUpdatedAt is the best-known upstream last-modified time. The
	// merge prefers a detail-payload timestamp over the fast-check one.
	RemoteUpdatedAt *time.Time `json:"remote_updated_at,omitempty"`
	// LastEnrichedAt is nil until the record has been through an enrichment
	// merge or was confirmed absent upstream. Nil marks it as a pending
	// enrichment candidate.
	LastEnrichedAt *time.Time `json:"last_enriched_at,omitempty"`
	// LastTouchedAt is bumped on every local mutation.
	LastTouchedAt time.Time `json:"last_touched_at"`
}

// ListingItem is one entry of a listing page or feed result.
type ListingItem struct {
	ID      int64
	Title   string
	Creator string
	Version string
	// CoverCandidates holds alternate cover URLs in preference order.
	CoverCandidates []string
	// UpdatedAt is the upstream update time when the listing carried a
	// parseable timestamp; nil when only a relative date string was present.
	UpdatedAt *time.Time
}

// DetailPayload is the schemaless detail document returned by the detail
// source. Values stay opaque; the merge only interprets a handful of
// well-known keys and shallow-merges the rest into DetailsJSON.
type DetailPayload map[string]json.RawMessage

// SearchQuery captures read-path search filters. Nil pointer filters are
// not applied.
type SearchQuery struct {
	Text       string
	Tracked    *bool
	StatusCode *int
	EngineCode *int
	Page       int
	PageSize   int
}

// Offset converts page/page-size into a scan offset.
func (q SearchQuery) Offset() int {
	page := q.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * q.PageSize
}
