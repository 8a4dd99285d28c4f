// Package scheduler triggers periodic incremental crawls.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// crawlStarter matches the orchestrator's StartCrawl.
type crawlStarter interface {
	StartCrawl(ctx context.Context, reset bool) error
}

// Scheduler owns a cron runner that kicks off an incremental crawl on a
// fixed interval. Overlapping triggers are harmless: the orchestrator
// ignores a start while a crawl is active.
type Scheduler struct {
	cron    *cron.Cron
	crawler crawlStarter
	logger  *zap.Logger
	ctx     context.Context
}

// New builds a scheduler that fires every interval. ctx bounds the crawls
// it launches; pass the process lifetime context.
func New(ctx context.Context, crawler crawlStarter, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:    cron.New(),
		crawler: crawler,
		logger:  logger.Named("scheduler"),
		ctx:     ctx,
	}
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.cron.AddFunc(spec, s.trigger); err != nil {
		return nil, fmt.Errorf("schedule crawl: %w", err)
	}
	return s, nil
}

func (s *Scheduler) trigger() {
	s.logger.Info("scheduled incremental crawl trigger")
	if err := s.crawler.StartCrawl(s.ctx, false); err != nil {
		s.logger.Error("scheduled crawl ended with error", zap.Error(err))
	}
}

// Start launches the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and waits for a running trigger to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
