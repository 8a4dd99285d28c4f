package sinks

import (
	"context"

	"github.com/avncodex/indexer/internal/metrics"
	"github.com/avncodex/indexer/internal/progress"
)

// PrometheusSink translates progress events into the shared Prometheus
// collectors. It keeps the orchestrator free of metric bookkeeping.
type PrometheusSink struct{}

// NewPrometheusSink registers the shared collectors and returns the sink.
func NewPrometheusSink() *PrometheusSink {
	metrics.Init()
	return &PrometheusSink{}
}

// Consume folds the batch into counters and gauges.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageSeedPage:
			metrics.SeedPageFetched(evt.Mode)
			metrics.ItemsSeeded(evt.Items)
		case progress.StageEnrichBatch:
			if merged := evt.Items - evt.Absent; merged > 0 {
				metrics.ItemsEnriched("merged", merged)
			}
			if evt.Absent > 0 {
				metrics.ItemsEnriched("absent", evt.Absent)
			}
			metrics.SetPending(evt.Pending)
		case progress.StageCycleDone:
			metrics.SetPending(0)
		case progress.StageUpstreamError:
			metrics.UpstreamError(evt.Source)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
