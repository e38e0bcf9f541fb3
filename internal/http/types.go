package http

import (
	"time"

	"github.com/fyrsmithlabs/ragd/internal/store"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Message string `json:"message"`
}

// ScrapeRequest is the request body for POST /api/v1/scrape.
type ScrapeRequest struct {
	UserID string `json:"user_id"`
	URL    string `json:"url"`
}

// ScrapeResponse is the response body for POST /api/v1/scrape.
type ScrapeResponse struct {
	Message string `json:"message"`
	URL     string `json:"url"`
}

// CrawlRequest is the request body for POST /api/v1/crawl.
type CrawlRequest struct {
	UserID string `json:"user_id"`
	URL    string `json:"url"`
	// Depth is the page budget, 1 to 5. Zero means 1.
	Depth int `json:"depth"`
}

// CrawlResponse is the response body for POST /api/v1/crawl.
type CrawlResponse struct {
	JobID  string          `json:"job_id"`
	Status store.JobStatus `json:"status"`
}

// ListResponse is the response body for the per-user list endpoints.
type ListResponse struct {
	UserID string   `json:"user_id"`
	Items  []string `json:"items"`
}

// CreateUserRequest is the request body for POST /api/v1/users.
type CreateUserRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// CreateUserResponse is the response body for POST /api/v1/users.
type CreateUserResponse struct {
	User *store.User `json:"user"`
	// Transferred is the number of shared records copied into the user's namespace.
	Transferred int `json:"transferred"`
}

// UserResponse is the response body for GET /api/v1/users/:user_id.
type UserResponse struct {
	User   *store.User `json:"user"`
	Counts UserCounts  `json:"counts"`
}

// UserCounts holds the length of each per-user list.
type UserCounts struct {
	SinglePageURLs int `json:"single_page_urls"`
	WebCrawlURLs   int `json:"web_crawl_urls"`
	Documents      int `json:"documents"`
}

// QueryHistoryResponse is the response body for GET /api/v1/users/:user_id/queries.
type QueryHistoryResponse struct {
	UserID  string          `json:"user_id"`
	Queries []QueryHistItem `json:"queries"`
}

// QueryHistItem is one answered query.
type QueryHistItem struct {
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentsResponse is the response body for POST /api/v1/documents.
type DocumentsResponse struct {
	Processed []string `json:"processed"`
}

// ChunksRequest is the request body for POST /api/v1/chunks.
type ChunksRequest struct {
	Text string `json:"text"`
}

// ChunksResponse is the response body for POST /api/v1/chunks.
type ChunksResponse struct {
	Chunks []string `json:"chunks"`
}
