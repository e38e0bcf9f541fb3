// Package events publishes crawl job lifecycle events to NATS.
//
// Events go to subjects of the form:
//
//	{prefix}.{user_id}.{job_id}.{type}
//
// where type is one of created, page, succeeded or failed. Publishing is
// best effort: the job record in the store stays the source of truth.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Type is the event kind; it is the last subject token.
type Type string

const (
	JobCreated   Type = "created"
	PageIndexed  Type = "page"
	JobSucceeded Type = "succeeded"
	JobFailed    Type = "failed"
)

// Terminal reports whether no further events follow for the job.
func (t Type) Terminal() bool {
	return t == JobSucceeded || t == JobFailed
}

// Event is the JSON payload of every message.
type Event struct {
	Type      Type      `json:"type"`
	JobID     string    `json:"job_id"`
	UserID    string    `json:"user_id"`
	URL       string    `json:"url,omitempty"`
	Chunks    int       `json:"chunks,omitempty"`
	Visited   int       `json:"visited,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher sends job events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber streams the events of one job. Matching messages are sent to
// ch until the subscription is unsubscribed.
type Subscriber interface {
	Subscribe(userID, jobID string, ch chan *nats.Msg) (*nats.Subscription, error)
}

// Nop discards events. It is used when NATS is not configured.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// conn is the subset of *nats.Conn used here.
type conn interface {
	Publish(subject string, data []byte) error
	ChanSubscribe(subject string, ch chan *nats.Msg) (*nats.Subscription, error)
	Drain() error
}

// NATSPublisher publishes events on a NATS connection.
type NATSPublisher struct {
	nc     conn
	prefix string
	logger *zap.Logger
}

// Connect dials url and returns a publisher using prefix for subjects.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("ragd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return newNATSPublisher(nc, prefix, logger), nil
}

func newNATSPublisher(nc conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "ragd.jobs"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}
}

// Subject returns the subject for one event of a job.
func (p *NATSPublisher) Subject(userID, jobID string, t Type) string {
	return fmt.Sprintf("%s.%s.%s.%s", p.prefix, token(userID), token(jobID), t)
}

// Publish marshals ev and publishes it. A zero Timestamp is set to now.
func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(ev.UserID, ev.JobID, ev.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

// Subscribe delivers every event of one job to ch until the returned
// subscription is unsubscribed.
func (p *NATSPublisher) Subscribe(userID, jobID string, ch chan *nats.Msg) (*nats.Subscription, error) {
	return p.nc.ChanSubscribe(fmt.Sprintf("%s.%s.%s.*", p.prefix, token(userID), token(jobID)), ch)
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// EventType returns the type token of a message subject.
func EventType(subject string) Type {
	return Type(subject[strings.LastIndexByte(subject, '.')+1:])
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
