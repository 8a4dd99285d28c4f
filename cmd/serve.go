package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newServeCmd creates the 'serve' subcommand: the long-running API service.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the indexer HTTP service",
		Long: `Starts the HTTP API and, when the process previously shut down
mid-crawl, resumes the interrupted crawl from its persisted cursor. The
optional scheduler fires incremental crawls on a fixed interval.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := a.Logger.Named("serve")

	// Boot contract: a crawl interrupted by shutdown restarts immediately
	// and picks up at the persisted phase and cursor.
	if a.Orchestrator.ResumeNeeded() {
		logger.Info("resuming interrupted crawl")
		go func() {
			if err := a.Orchestrator.StartCrawl(ctx, false); err != nil {
				logger.Error("resumed crawl ended with error", zap.Error(err))
			}
		}()
	}

	if a.Scheduler != nil {
		a.Scheduler.Start()
		logger.Info("scheduler started", zap.String("interval", a.Cfg.Scheduler.Interval))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Cfg.Server.Port),
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", a.Cfg.Server.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	logger.Info("service stopped")
	return nil
}
