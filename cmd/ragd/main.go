// Ragd serves the retrieval chatbot backend: crawling, scraping and
// document ingestion into a vector store, plus query answering over it.
//
// Configuration comes from ~/.config/ragd/config.yaml (or --config) and
// environment variables, with an optional .env file loaded first.
//
// Usage:
//
//	# Start the HTTP API
//	ragd serve
//
//	# Crawl a site into a user's namespace and wait for the result
//	ragd crawl https://example.com --user u1 --depth 3
//
//	# Index local documents
//	ragd ingest notes.pdf guide.epub --user u1
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides the default config file location.
	configPath string
	// envFile is loaded into the environment before configuration.
	envFile string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragd",
		Short: "Retrieval chatbot backend",
		Long: `ragd crawls sites, scrapes pages and ingests documents into per-user
vector namespaces, and answers chat queries from them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile, cmd.Flags().Changed("env-file"))
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/ragd/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCrawlCmd())
	root.AddCommand(newIngestCmd())
	root.AddCommand(newTransferCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadEnvFile loads path without overriding variables already set. A
// missing default file is fine; a missing explicit one is an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ragd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
