package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newCrawlCmd creates the 'crawl' subcommand: one full crawl cycle in the
// foreground, exiting when enrichment completes.
func newCrawlCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl cycle and exit",
		Long: `Seeds the catalog from the listing endpoint and enriches every
pending record, then exits. An interrupted cycle resumes from its persisted
cursor on the next run; --reset discards that cursor and starts over.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Orchestrator.StartCrawl(cmd.Context(), reset); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("crawl: %w", err)
			}
			a.Logger.Info("crawl command finished")
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "discard the persisted crawl cursor and start a full crawl")
	return cmd
}
