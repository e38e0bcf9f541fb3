// Package store persists crawl jobs, per-user URL and document lists, and
// query history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrJobNotFound is returned for unknown job ids and for jobs owned by
	// another user.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal is returned when updating a job that already succeeded
	// or failed.
	ErrJobTerminal = errors.New("job already in a terminal state")

	// ErrInvalidTransition is returned for a status other than succeeded or
	// failed on update.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrUserExists is returned by CreateUser for a duplicate id.
	ErrUserExists = errors.New("user already exists")

	// ErrUserNotFound is returned for unknown user ids.
	ErrUserNotFound = errors.New("user not found")
)

// JobStatus is the lifecycle state of a crawl job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Job is a crawl job record.
type Job struct {
	ID           string     `json:"job_id"`
	UserID       string     `json:"user_id"`
	URL          string     `json:"url"`
	Status       JobStatus  `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	ErrorMessage *string    `json:"error_message"`
}

// NewJobID returns an id of the form job_<uuid>.
func NewJobID() string {
	return "job_" + uuid.NewString()
}

// User is a chatbot account.
type User struct {
	ID        string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListKind names a per-user list.
type ListKind string

const (
	SinglePageURLs ListKind = "single_page_urls"
	WebCrawlURLs   ListKind = "web_crawl_urls"
	Documents      ListKind = "documents"
)

// Valid reports whether k is a known list.
func (k ListKind) Valid() bool {
	switch k {
	case SinglePageURLs, WebCrawlURLs, Documents:
		return true
	}
	return false
}

// QueryRecord is one answered query.
type QueryRecord struct {
	UserID    string    `json:"user_id"`
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the record store. Implementations are safe for concurrent use;
// job updates are scoped to one row.
type Store interface {
	// CreateJob inserts job in the pending state. ID and CreatedAt are
	// filled in when empty.
	CreateJob(ctx context.Context, job *Job) error
	// UpdateJobStatus moves a pending job to succeeded or failed and sets
	// completed_at. errMsg is stored for failed jobs only.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errMsg string) error
	// GetJob returns the job if it belongs to userID.
	GetJob(ctx context.Context, jobID, userID string) (*Job, error)

	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID string) (*User, error)

	// Append adds values to the end of a user's list.
	Append(ctx context.Context, userID string, kind ListKind, values ...string) error
	// List returns a user's list in insertion order.
	List(ctx context.Context, userID string, kind ListKind) ([]string, error)

	AddQuery(ctx context.Context, rec QueryRecord) error
	RecentQueries(ctx context.Context, userID string, limit int) ([]QueryRecord, error)

	Close() error
}
