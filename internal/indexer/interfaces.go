package indexer

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("game record not found")

// RecordStore persists game records.
type RecordStore interface {
	// UpsertBasic inserts or updates listing-level fields only. It must
	// never modify the enrichment phase's write surface (status, tags,
	// details blob).
	UpsertBasic(ctx context.Context, item ListingItem, now time.Time) error
	// Save writes the full record, replacing all columns.
	Save(ctx context.Context, rec GameRecord) error
	// Get loads a single record or returns ErrNotFound.
	Get(ctx context.Context, id int64) (GameRecord, error)
	// ListUnenriched returns up to limit records with no enrichment stamp,
	// in no particular order.
	ListUnenriched(ctx context.Context, limit int) ([]GameRecord, error)
	// CountUnenriched returns the pending enrichment candidate count.
	CountUnenriched(ctx context.Context) (int, error)
	// Search runs a filtered, paginated scan.
	Search(ctx context.Context, q SearchQuery) ([]GameRecord, error)
	// SetTracked flips the user-controlled tracked flag.
	SetTracked(ctx context.Context, id int64, tracked bool) error
}

// ListingSource pages through the forum listing endpoint.
type ListingSource interface {
	// Authenticate is best effort; a false return does not block listing
	// calls, they may still succeed anonymously with degraded results.
	Authenticate(ctx context.Context) bool
	// FetchPage returns one listing page. A nil slice with an error is a
	// transient failure; an empty non-nil slice means end of list.
	FetchPage(ctx context.Context, page, pageSize int, sort SortMode) ([]ListingItem, error)
}

// FastCheckSource maps external ids to upstream change timestamps in one
// batched call. Ids missing from the result were not found upstream.
type FastCheckSource interface {
	CheckBatch(ctx context.Context, ids []int64) (map[int64]int64, error)
}

// DetailSource fetches the full detail payload for a single id. A nil
// payload with a nil error means the record is absent upstream.
type DetailSource interface {
	FetchDetail(ctx context.Context, id int64, asOf int64) (DetailPayload, error)
}

// FeedSource is the lower-fidelity RSS fallback used only by the read-path
// remote search.
type FeedSource interface {
	FetchRecent(ctx context.Context, limit int, search string) ([]ListingItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper is a cancellable delay. Pause returns early when the context is
// done; tests inject a zero-delay fake.
type Sleeper interface {
	Pause(ctx context.Context, d time.Duration)
}
