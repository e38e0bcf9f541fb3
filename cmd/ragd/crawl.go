package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCrawlCmd() *cobra.Command {
	var (
		userID string
		depth  int
	)
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a site into a user's namespace",
		Long: `Crawl a site breadth-first within its domain, indexing up to --depth pages
into the user's namespace. The job is recorded like one started over HTTP
and the command waits for it to finish.

Examples:
  ragd crawl https://example.com --user u1
  ragd crawl https://example.com/docs --user u1 --depth 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			job, err := a.crawler.Submit(ctx, userID, args[0], depth)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s started\n", job.ID)
			if err := a.crawler.Run(ctx, job, depth); err != nil {
				return fmt.Errorf("job %s failed: %w", job.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s succeeded\n", job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id owning the crawl (required)")
	cmd.Flags().IntVar(&depth, "depth", 1, "maximum number of pages to index")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
