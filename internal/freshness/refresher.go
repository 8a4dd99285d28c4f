package freshness

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/avncodex/indexer/internal/indexer"
	"github.com/avncodex/indexer/internal/metrics"
)

// Refresher re-checks stale records synchronously within a read request's
// scope. It shares the fast-check, detail and merge contract with the crawl
// enrichment phase but acts immediately on the caller's result page and
// never touches crawl state.
type Refresher struct {
	policy    Policy
	records   indexer.RecordStore
	fastCheck indexer.FastCheckSource
	details   indexer.DetailSource
	clock     indexer.Clock
	logger    *zap.Logger
	maxBatch  int
}

// NewRefresher wires a read-path refresher. maxBatch bounds the per-request
// refresh work to at most one search page.
func NewRefresher(
	policy Policy,
	records indexer.RecordStore,
	fastCheck indexer.FastCheckSource,
	details indexer.DetailSource,
	clock indexer.Clock,
	maxBatch int,
	logger *zap.Logger,
) *Refresher {
	if maxBatch <= 0 {
		maxBatch = 60
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		policy:    policy,
		records:   records,
		fastCheck: fastCheck,
		details:   details,
		clock:     clock,
		logger:    logger.Named("freshness"),
		maxBatch:  maxBatch,
	}
}

// RefreshPage re-checks the stale subset of one search result page and
// returns the page with refreshed records substituted in place. Upstream
// failures degrade to returning the stored data unchanged; a read must not
// fail because a refresh could not run.
func (r *Refresher) RefreshPage(ctx context.Context, page []indexer.GameRecord) []indexer.GameRecord {
	now := r.clock.Now()
	candidates := r.policy.StaleCandidates(page, now, r.maxBatch)
	if len(candidates) == 0 {
		return page
	}

	ids := make([]int64, 0, len(candidates))
	for _, rec := range candidates {
		ids = append(ids, rec.ID)
	}

	stamps, err := r.fastCheck.CheckBatch(ctx, ids)
	if err != nil {
		metrics.UpstreamError("fastcheck")
		r.logger.Warn("fast check failed, serving stored data", zap.Error(err))
		return page
	}

	refreshed := make(map[int64]indexer.GameRecord, len(candidates))
	for _, rec := range candidates {
		updated, err := r.refreshOne(ctx, rec, stamps)
		if err != nil {
			r.logger.Warn("record refresh failed", zap.Int64("id", rec.ID), zap.Error(err))
			continue
		}
		refreshed[updated.ID] = updated
	}

	out := make([]indexer.GameRecord, len(page))
	for i, rec := range page {
		if updated, ok := refreshed[rec.ID]; ok {
			out[i] = updated
			continue
		}
		out[i] = rec
	}
	return out
}

// RefreshOne force-refreshes a single record regardless of staleness.
func (r *Refresher) RefreshOne(ctx context.Context, rec indexer.GameRecord) (indexer.GameRecord, error) {
	stamps, err := r.fastCheck.CheckBatch(ctx, []int64{rec.ID})
	if err != nil {
		return rec, fmt.Errorf("fast check %d: %w", rec.ID, err)
	}
	return r.refreshOne(ctx, rec, stamps)
}

func (r *Refresher) refreshOne(ctx context.Context, rec indexer.GameRecord, stamps map[int64]int64) (indexer.GameRecord, error) {
	now := r.clock.Now()

	ts, found := stamps[rec.ID]
	if !found {
		// Confirmed absent upstream; stamp so it leaves the stale set.
		rec.LastEnrichedAt = &now
		rec.LastTouchedAt = now
		if err := r.records.Save(ctx, rec); err != nil {
			return rec, fmt.Errorf("save record %d: %w", rec.ID, err)
		}
		return rec, nil
	}

	changed := rec.LastEnrichedAt == nil ||
		rec.RemoteUpdatedAt == nil ||
		ts > rec.RemoteUpdatedAt.Unix()
	if !changed {
		// Upstream unchanged; renew the freshness stamp without a detail
		// round trip.
		rec.LastEnrichedAt = &now
		rec.LastTouchedAt = now
		if err := r.records.Save(ctx, rec); err != nil {
			return rec, fmt.Errorf("save record %d: %w", rec.ID, err)
		}
		return rec, nil
	}

	payload, err := r.details.FetchDetail(ctx, rec.ID, ts)
	if err != nil {
		metrics.UpstreamError("detail")
		return rec, fmt.Errorf("fetch detail %d: %w", rec.ID, err)
	}

	now = r.clock.Now()
	if payload == nil {
		rec.LastEnrichedAt = &now
		rec.LastTouchedAt = now
	} else {
		indexer.MergeDetails(&rec, payload, ts, now, r.logger)
		metrics.ItemEnriched("merged")
	}
	if err := r.records.Save(ctx, rec); err != nil {
		return rec, fmt.Errorf("save record %d: %w", rec.ID, err)
	}
	return rec, nil
}
