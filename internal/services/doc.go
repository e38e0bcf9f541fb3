// Package services provides the service registry handed to the HTTP API
// and the CLI.
//
// The registry holds the crawl, scrape, ingestion, chat and user services
// plus the shared indexer and record store. Use NewRegistry to build one,
// then the accessor methods to reach individual services.
package services
