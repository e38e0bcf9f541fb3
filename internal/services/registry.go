package services

import (
	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/crawler"
	"github.com/fyrsmithlabs/ragd/internal/events"
	"github.com/fyrsmithlabs/ragd/internal/indexer"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/store"
	"github.com/fyrsmithlabs/ragd/internal/users"
)

// Registry provides access to all ragd services.
type Registry interface {
	Crawler() *crawler.Service
	Scraper() *crawler.Scraper
	Ingest() *ingest.Service
	Chat() *chat.Service
	Users() *users.Service
	Indexer() *indexer.Indexer
	Store() store.Store
	// Events is nil when job events are not published to NATS.
	Events() events.Subscriber
}

// Options configures the registry with service instances.
type Options struct {
	Crawler *crawler.Service
	Scraper *crawler.Scraper
	Ingest  *ingest.Service
	Chat    *chat.Service
	Users   *users.Service
	Indexer *indexer.Indexer
	Store   store.Store
	Events  events.Subscriber
}

type registry struct {
	crawler *crawler.Service
	scraper *crawler.Scraper
	ingest  *ingest.Service
	chat    *chat.Service
	users   *users.Service
	indexer *indexer.Indexer
	store   store.Store
	events  events.Subscriber
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		crawler: opts.Crawler,
		scraper: opts.Scraper,
		ingest:  opts.Ingest,
		chat:    opts.Chat,
		users:   opts.Users,
		indexer: opts.Indexer,
		store:   opts.Store,
		events:  opts.Events,
	}
}

func (r *registry) Crawler() *crawler.Service { return r.crawler }
func (r *registry) Scraper() *crawler.Scraper { return r.scraper }
func (r *registry) Ingest() *ingest.Service   { return r.ingest }
func (r *registry) Chat() *chat.Service       { return r.chat }
func (r *registry) Users() *users.Service     { return r.users }
func (r *registry) Indexer() *indexer.Indexer { return r.indexer }
func (r *registry) Store() store.Store        { return r.store }
func (r *registry) Events() events.Subscriber { return r.events }
