package crawl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avncodex/indexer/internal/indexer"
	"github.com/avncodex/indexer/internal/metrics"
	"github.com/avncodex/indexer/internal/progress"
)

// Config controls orchestrator pacing and batch sizes.
type Config struct {
	// PageSize is the listing page size requested during seeding.
	PageSize int
	// PageDelay is the politeness pause between listing pages.
	PageDelay time.Duration
	// PageRetryBackoff is the wait before retrying a failed listing page.
	PageRetryBackoff time.Duration
	// BatchSize bounds each enrichment batch.
	BatchSize int
	// DetailDelay is the politeness pause before each detail fetch.
	DetailDelay time.Duration
	// BatchDelay is the pause between enrichment batches.
	BatchDelay time.Duration
	// BatchOverhead amortizes fixed per-batch cost into the ETA estimate.
	BatchOverhead time.Duration
}

func (c *Config) withDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 60
	}
	if c.PageDelay <= 0 {
		c.PageDelay = 30 * time.Second
	}
	if c.PageRetryBackoff <= 0 {
		c.PageRetryBackoff = 60 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.DetailDelay <= 0 {
		c.DetailDelay = 2 * time.Second
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = 60 * time.Second
	}
	if c.BatchOverhead <= 0 {
		c.BatchOverhead = 5 * time.Second
	}
}

// AvgSecondsPerItem is the per-item cost used for the ETA estimate: the
// configured detail delay plus the per-batch overhead amortized across the
// batch.
func (c Config) AvgSecondsPerItem() float64 {
	return c.DetailDelay.Seconds() + c.BatchOverhead.Seconds()/float64(c.BatchSize)
}

// Status is the introspection snapshot returned to the API. It combines the
// last-persisted state with live in-memory counters.
type Status struct {
	State
	PendingEnrichment int   `json:"pending_enrichment"`
	ETASeconds        int64 `json:"eta_seconds"`
}

// Orchestrator drives the two-phase crawl: a seed phase paging the listing
// source, then a slow rate-limited enrichment phase. Exactly one crawl loop
// runs per process; StartCrawl is idempotent-reentrant.
type Orchestrator struct {
	cfg       Config
	records   indexer.RecordStore
	listing   indexer.ListingSource
	fastCheck indexer.FastCheckSource
	details   indexer.DetailSource
	states    StateStore
	clock     indexer.Clock
	sleeper   indexer.Sleeper
	events    progress.Emitter
	logger    *zap.Logger

	running atomic.Bool
	pending atomic.Int64
	crawlID [16]byte

	mu    sync.Mutex
	state State
}

// NewOrchestrator loads the persisted state and wires the crawl loop's
// collaborators.
func NewOrchestrator(
	cfg Config,
	records indexer.RecordStore,
	listing indexer.ListingSource,
	fastCheck indexer.FastCheckSource,
	details indexer.DetailSource,
	states StateStore,
	clock indexer.Clock,
	sleeper indexer.Sleeper,
	events progress.Emitter,
	logger *zap.Logger,
) (*Orchestrator, error) {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	st, err := states.Load()
	if err != nil {
		return nil, fmt.Errorf("load crawl state: %w", err)
	}
	o := &Orchestrator{
		cfg:       cfg,
		records:   records,
		listing:   listing,
		fastCheck: fastCheck,
		details:   details,
		states:    states,
		clock:     clock,
		sleeper:   sleeper,
		events:    events,
		logger:    logger.Named("crawl"),
	}
	o.state = st
	return o, nil
}

// emit stamps and publishes one progress event. A nil emitter disables the
// stream without affecting the crawl.
func (o *Orchestrator) emit(evt progress.Event) {
	if o.events == nil {
		return
	}
	evt.CrawlID = o.crawlID
	evt.TS = o.clock.Now()
	o.events.Emit(evt)
}

// ResumeNeeded reports whether the process shut down mid-crawl and the boot
// sequence should relaunch StartCrawl immediately.
func (o *Orchestrator) ResumeNeeded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.WasRunningAtShutdown
}

// StartCrawl runs one full crawl cycle in the calling goroutine. If a crawl
// is already active it never launches a second loop; a requested reset is
// still applied to the persisted cursor and counters.
func (o *Orchestrator) StartCrawl(ctx context.Context, reset bool) error {
	if !o.running.CompareAndSwap(false, true) {
		if reset {
			o.applyReset()
		}
		o.logger.Info("crawl already running, start ignored", zap.Bool("reset", reset))
		return nil
	}
	defer o.running.Store(false)

	metrics.SetCrawlRunning(true)
	defer metrics.SetCrawlRunning(false)

	if reset {
		o.applyReset()
	}

	o.mu.Lock()
	resumeEnrichment := o.state.Mode == ModeEnriching
	incremental := !reset && !resumeEnrichment && o.state.LastRunCompletedAt > 0
	o.state.Running = true
	o.state.LastError = ""
	if !resumeEnrichment {
		o.state.Mode = ModeSeeding
	}
	o.mu.Unlock()
	if err := o.persist(); err != nil {
		return o.fail(err)
	}

	o.crawlID = progress.UUIDToBytes(uuid.New())
	o.emit(progress.Event{Stage: progress.StageCrawlStart, Mode: cycleMode(resumeEnrichment, incremental)})

	if resumeEnrichment {
		o.logger.Info("resuming enrichment phase from persisted state")
	} else {
		o.logger.Info("starting seed phase", zap.Bool("incremental", incremental))
		if err := o.runSeedPhase(ctx, incremental); err != nil {
			return o.finish(ctx, err)
		}
	}

	return o.finish(ctx, o.runEnrichmentPhase(ctx))
}

// finish routes a phase result into the cancellation vs fatal paths.
// Cancellation leaves running=true persisted so the next boot resumes the
// same phase and cursor; a fatal error parks the crawler idle with the
// error recorded.
func (o *Orchestrator) finish(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		o.logger.Info("crawl cancelled, state preserved for resume")
		return err
	}
	return o.fail(err)
}

func cycleMode(resume, incremental bool) string {
	switch {
	case resume:
		return "resume"
	case incremental:
		return "incremental"
	default:
		return "full"
	}
}

func (o *Orchestrator) fail(err error) error {
	o.logger.Error("crawl stopped on fatal error", zap.Error(err))
	o.emit(progress.Event{Stage: progress.StageCrawlError, Note: err.Error()})
	o.mu.Lock()
	o.state.LastError = err.Error()
	o.state.Mode = ModeIdle
	o.state.Running = false
	o.mu.Unlock()
	if perr := o.persist(); perr != nil {
		o.logger.Error("persist state after failure", zap.Error(perr))
	}
	return err
}

func (o *Orchestrator) applyReset() {
	o.mu.Lock()
	o.state.Reset()
	o.mu.Unlock()
	if err := o.persist(); err != nil {
		o.logger.Error("persist reset state", zap.Error(err))
	}
	o.logger.Info("crawl state reset")
}

func (o *Orchestrator) persist() error {
	o.mu.Lock()
	st := o.state
	o.mu.Unlock()
	if err := o.states.Save(st); err != nil {
		return fmt.Errorf("persist crawl state: %w", err)
	}
	return nil
}

// runSeedPhase pages through the listing source until it signals the end of
// the list, a repeated page is detected, or (in incremental mode) the stop
// gate proves the remaining items are already known.
func (o *Orchestrator) runSeedPhase(ctx context.Context, incremental bool) error {
	o.mu.Lock()
	if o.state.SeedStartedAt == 0 {
		o.state.SeedStartedAt = o.clock.Now().Unix()
	}
	phaseStart := o.state.SeedStartedAt
	// The skip gate must only trust ids left behind by prior runs. Date
	// sorting does not order ids, so a new thread with a lower id can
	// appear after a new thread with a higher one; gating on a mark that
	// advances mid-run would drop it for good.
	priorMax := o.state.MaxProcessedID
	o.mu.Unlock()
	if err := o.persist(); err != nil {
		return err
	}

	sort := indexer.SortByTitle
	modeLabel := "full"
	if incremental {
		sort = indexer.SortByDate
		modeLabel = "incremental"
	}

	if !o.listing.Authenticate(ctx) {
		o.logger.Warn("listing authentication failed, continuing anonymously")
	}

	var prevPageIDs map[int64]struct{}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		o.mu.Lock()
		page := o.state.Page
		o.mu.Unlock()

		items, err := o.listing.FetchPage(ctx, page, o.cfg.PageSize, sort)
		if err != nil || items == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.emit(progress.Event{Stage: progress.StageUpstreamError, Source: "listing", Note: errNote(err)})
			o.logger.Warn("listing page fetch failed, backing off",
				zap.Int("page", page), zap.Error(err))
			o.sleeper.Pause(ctx, o.cfg.PageRetryBackoff)
			continue
		}

		if len(items) == 0 {
			o.logger.Info("listing exhausted", zap.Int("page", page))
			break
		}

		ids := idSet(items)
		if prevPageIDs != nil && sameIDSet(ids, prevPageIDs) {
			// Upstream repeats the last page instead of going empty.
			o.logger.Warn("listing repeated previous page, treating as end of list",
				zap.Int("page", page))
			break
		}
		prevPageIDs = ids

		stopped, processed, err := o.ingestPage(ctx, items, incremental, priorMax)
		if err != nil {
			return err
		}
		o.emit(progress.Event{Stage: progress.StageSeedPage, Mode: modeLabel, Page: int64(page), Items: processed})

		o.mu.Lock()
		o.state.ItemsProcessed += processed
		o.state.Page++
		o.mu.Unlock()
		if err := o.persist(); err != nil {
			return err
		}

		if stopped {
			o.logger.Info("incremental stop gate reached", zap.Int("page", page))
			break
		}

		o.logger.Debug("listing page ingested",
			zap.Int("page", page), zap.Int("items", processed))
		o.sleeper.Pause(ctx, o.cfg.PageDelay)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	o.mu.Lock()
	// The next incremental run must catch updates that landed while this
	// pass was running, so the watermark is the seed start, not "now".
	o.state.LastRunCompletedAt = phaseStart
	o.state.SeedStartedAt = 0
	seeded := o.state.ItemsProcessed
	o.state.Page = 1
	o.state.Mode = ModeEnriching
	o.mu.Unlock()
	o.emit(progress.Event{Stage: progress.StageSeedDone, Mode: modeLabel, Items: seeded})
	return o.persist()
}

// ingestPage upserts the basic fields of one listing page. In incremental
// mode it applies the stop gate (old timestamp proves the rest of the
// reverse-chronological listing is known) and the skip gate (id at or below
// priorMax was seen by a prior run). priorMax is fixed for the whole pass;
// the mark committed to state only starts gating on the next run.
func (o *Orchestrator) ingestPage(ctx context.Context, items []indexer.ListingItem, incremental bool, priorMax int64) (stopped bool, processed int, err error) {
	o.mu.Lock()
	watermark := o.state.LastRunCompletedAt
	maxID := o.state.MaxProcessedID
	o.mu.Unlock()

	for _, item := range items {
		if incremental {
			if item.UpdatedAt != nil && item.UpdatedAt.Unix() < watermark {
				stopped = true
				break
			}
			if item.ID <= priorMax {
				continue
			}
		}

		if err := o.records.UpsertBasic(ctx, item, o.clock.Now()); err != nil {
			return false, processed, fmt.Errorf("upsert listing item %d: %w", item.ID, err)
		}
		processed++
		if item.ID > maxID {
			maxID = item.ID
		}
	}

	o.mu.Lock()
	if maxID > o.state.MaxProcessedID {
		o.state.MaxProcessedID = maxID
	}
	o.mu.Unlock()
	return stopped, processed, nil
}

// runEnrichmentPhase drains the pending candidate set in small batches. Each
// batch is one fast-check call plus strictly sequential detail fetches; ids
// absent from the fast-check response are stamped without a merge so the
// phase always terminates.
func (o *Orchestrator) runEnrichmentPhase(ctx context.Context) error {
	o.mu.Lock()
	o.state.Mode = ModeEnriching
	o.mu.Unlock()
	if err := o.persist(); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batch, err := o.records.ListUnenriched(ctx, o.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("list enrichment candidates: %w", err)
		}
		if len(batch) == 0 {
			return o.completeCycle()
		}

		ids := make([]int64, 0, len(batch))
		for _, rec := range batch {
			ids = append(ids, rec.ID)
		}

		stamps, err := o.fastCheck.CheckBatch(ctx, ids)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.emit(progress.Event{Stage: progress.StageUpstreamError, Source: "fastcheck", Note: errNote(err)})
			o.logger.Warn("fast check batch failed, will retry", zap.Error(err))
			o.sleeper.Pause(ctx, o.cfg.BatchDelay)
			continue
		}

		batchStart := o.clock.Now()
		merged, absent, err := o.enrichBatch(ctx, batch, stamps)
		if err != nil {
			return err
		}

		pending, err := o.records.CountUnenriched(ctx)
		if err != nil {
			return fmt.Errorf("count pending enrichment: %w", err)
		}
		o.pending.Store(int64(pending))
		o.emit(progress.Event{
			Stage:      progress.StageEnrichBatch,
			Items:      merged + absent,
			Absent:     absent,
			Pending:    pending,
			ETASeconds: o.etaSeconds(pending),
			Dur:        o.clock.Now().Sub(batchStart),
		})

		o.mu.Lock()
		o.state.ItemsProcessed += len(batch)
		o.state.Page++
		o.mu.Unlock()
		if err := o.persist(); err != nil {
			return err
		}

		o.logger.Info("enrichment batch complete",
			zap.Int("batch", len(batch)),
			zap.Int("pending", pending),
			zap.Int64("eta_seconds", o.etaSeconds(pending)),
		)

		o.sleeper.Pause(ctx, o.cfg.BatchDelay)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) enrichBatch(ctx context.Context, batch []indexer.GameRecord, stamps map[int64]int64) (merged, absent int, err error) {
	for _, rec := range batch {
		if ctx.Err() != nil {
			return merged, absent, ctx.Err()
		}

		ts, found := stamps[rec.ID]
		if !found {
			// Not known to the enrichment source. Stamp it anyway or the
			// candidate set never drains.
			now := o.clock.Now()
			rec.LastEnrichedAt = &now
			rec.LastTouchedAt = now
			if err := o.records.Save(ctx, rec); err != nil {
				return merged, absent, fmt.Errorf("save record %d: %w", rec.ID, err)
			}
			absent++
			o.logger.Debug("record absent from fast check", zap.Int64("id", rec.ID))
			continue
		}

		o.sleeper.Pause(ctx, o.cfg.DetailDelay)
		if ctx.Err() != nil {
			return merged, absent, ctx.Err()
		}

		payload, err := o.details.FetchDetail(ctx, rec.ID, ts)
		if err != nil {
			if ctx.Err() != nil {
				return merged, absent, ctx.Err()
			}
			// Transient: leave unstamped so a later batch retries it.
			o.emit(progress.Event{Stage: progress.StageUpstreamError, Source: "detail", Note: errNote(err)})
			o.logger.Warn("detail fetch failed", zap.Int64("id", rec.ID), zap.Error(err))
			continue
		}

		now := o.clock.Now()
		if payload == nil {
			rec.LastEnrichedAt = &now
			rec.LastTouchedAt = now
			absent++
		} else {
			indexer.MergeDetails(&rec, payload, ts, now, o.logger)
			merged++
		}
		if err := o.records.Save(ctx, rec); err != nil {
			return merged, absent, fmt.Errorf("save record %d: %w", rec.ID, err)
		}
	}
	return merged, absent, nil
}

// completeCycle resets the machine to idle once the candidate set is empty,
// making the state machine cyclic without manual intervention.
func (o *Orchestrator) completeCycle() error {
	o.mu.Lock()
	o.state.ItemsProcessed = 0
	o.state.Page = 1
	o.state.Mode = ModeIdle
	o.state.Running = false
	o.mu.Unlock()
	o.pending.Store(0)
	o.emit(progress.Event{Stage: progress.StageCycleDone})
	o.logger.Info("enrichment complete, crawler idle")
	return o.persist()
}

func errNote(err error) string {
	if err == nil {
		return "empty page payload"
	}
	return err.Error()
}

func (o *Orchestrator) etaSeconds(pending int) int64 {
	return int64(float64(pending) * o.cfg.AvgSecondsPerItem())
}

// Status returns the best-known snapshot. It never fails: when a live
// pending count is unavailable it falls back to the last computed value.
func (o *Orchestrator) Status(ctx context.Context) Status {
	pending := int(o.pending.Load())
	if count, err := o.records.CountUnenriched(ctx); err == nil {
		pending = count
		o.pending.Store(int64(count))
	}

	o.mu.Lock()
	st := o.state
	o.mu.Unlock()
	st.Running = o.running.Load()

	return Status{
		State:             st,
		PendingEnrichment: pending,
		ETASeconds:        o.etaSeconds(pending),
	}
}

func idSet(items []indexer.ListingItem) map[int64]struct{} {
	set := make(map[int64]struct{}, len(items))
	for _, item := range items {
		set[item.ID] = struct{}{}
	}
	return set
}

func sameIDSet(a, b map[int64]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}
