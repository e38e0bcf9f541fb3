package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragd/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Index local documents into a user's namespace",
		Long: `Extract, chunk and index pdf, docx, epub and txt files. The batch is
aborted on the first failure.

Examples:
  ragd ingest report.pdf notes.txt --user u1`,
		Args: cobra.MinimumNArgs(1),
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

			files := make([]ingest.File, len(args))
			for i, path := range args {
				files[i] = ingest.PathFile(path)
			}
			processed, err := a.ingest.Ingest(ctx, userID, files)
			if err != nil {
				return err
			}
			for _, name := range processed {
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id owning the documents (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
