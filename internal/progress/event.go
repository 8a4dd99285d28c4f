// Package progress defines the event structures emitted by the crawl
// orchestrator and the hub that fans them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart    Stage = "CRAWL_START"
	StageSeedPage      Stage = "SEED_PAGE"
	StageSeedDone      Stage = "SEED_DONE"
	StageEnrichBatch   Stage = "ENRICH_BATCH"
	StageCycleDone     Stage = "CYCLE_DONE"
	StageCrawlError    Stage = "CRAWL_ERROR"
	StageUpstreamError Stage = "UPSTREAM_ERROR"
)

// Event captures a single milestone of crawl progress.
type Event struct {
	// CrawlID identifies one crawl cycle using the 16-byte UUID form.
	CrawlID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Mode labels the cycle as "full", "incremental", or "resume".
	Mode string
	// Source scopes upstream errors to "listing", "fastcheck", or "detail".
	Source string
	// Page is the listing page cursor for seed events.
	Page int64
	// Items counts records touched by the event (seeded or enriched).
	Items int
	// Absent counts batch items confirmed gone upstream.
	Absent int
	// Pending is the enrichment backlog after the event.
	Pending int
	// ETASeconds estimates time to drain the backlog at the current pace.
	ETASeconds int64
	// Dur captures execution latency for pages and batches.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == [16]byte{} {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageSeedDone, StageCycleDone, StageCrawlError:
	case StageSeedPage:
		if e.Page < 1 {
			return errors.New("seed page requires a page cursor")
		}
	case StageEnrichBatch:
		if e.Items < 0 || e.Absent < 0 {
			return errors.New("enrich batch counts must be >= 0")
		}
	case StageUpstreamError:
		if e.Source == "" {
			return errors.New("upstream error requires a source")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// CrawlUUID converts the binary crawl ID to uuid.UUID for display.
func (e Event) CrawlUUID() uuid.UUID {
	return uuid.UUID(e.CrawlID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
