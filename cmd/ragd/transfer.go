package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTransferCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Copy every vector from one namespace into another",
		Long: `Copy every record of a namespace into another, unchanged. Rerunning is
safe: records keep their ids and are overwritten.

Examples:
  # Seed a user with the shared knowledge base
  ragd transfer --from chatbot --to u1`,
		Args: cobra.NoArgs,
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

			n, err := a.users.Transfer(ctx, from, to)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "transferred %d records from %s to %s\n", n, from, to)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source namespace (required)")
	cmd.Flags().StringVar(&to, "to", "", "destination namespace (required)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
