package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/events"
	"github.com/fyrsmithlabs/ragd/internal/store"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // Random port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

type sseFrame struct {
	event string
	data  string
}

// readFrames parses an event stream until the body closes.
func readFrames(t *testing.T, resp *http.Response) []sseFrame {
	t.Helper()
	var (
		frames []sseFrame
		cur    sseFrame
	)
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.event != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, sc.Err())
	return frames
}

func TestCrawlEvents_ForwardsLiveEventsUntilTerminal(t *testing.T) {
	tests := []struct {
		name     string
		terminal events.Event
	}{
		{
			name:     "succeeded",
			terminal: events.Event{Type: events.JobSucceeded, Visited: 1},
		},
		{
			name:     "failed",
			terminal: events.Event{Type: events.JobFailed, Visited: 1, Error: "embedding service down"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			srv := startTestNATSServer(t)

			pub, err := events.Connect(srv.ClientURL(), "", nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = pub.Close() })

			env := setupTestServerWithEvents(t, pub)
			job := &store.Job{UserID: "u1", URL: "http://example.com/"}
			require.NoError(t, env.registry.Store().CreateJob(ctx, job))

			ts := httptest.NewServer(env.server.echo)
			t.Cleanup(ts.Close)

			reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet,
				ts.URL+"/api/v1/crawl/"+job.ID+"/events?user_id=u1", nil)
			require.NoError(t, err)

			// Headers are flushed after the subscription exists.
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

			// Another job's events must not leak into the stream.
			require.NoError(t, pub.Publish(ctx, events.Event{
				Type: events.JobSucceeded, JobID: "job_other", UserID: "u1",
			}))
			require.NoError(t, pub.Publish(ctx, events.Event{
				Type: events.PageIndexed, JobID: job.ID, UserID: "u1",
				URL: "http://example.com/", Chunks: 3, Visited: 1,
			}))
			terminal := tt.terminal
			terminal.JobID, terminal.UserID = job.ID, "u1"
			require.NoError(t, pub.Publish(ctx, terminal))
			// Published after the terminal event; the stream is already closed.
			require.NoError(t, pub.Publish(ctx, events.Event{
				Type: events.PageIndexed, JobID: job.ID, UserID: "u1", URL: "http://example.com/late",
			}))

			frames := readFrames(t, resp)
			require.Len(t, frames, 2)
			assert.Equal(t, "page", frames[0].event)
			assert.Equal(t, string(tt.terminal.Type), frames[1].event)

			var page events.Event
			require.NoError(t, json.Unmarshal([]byte(frames[0].data), &page))
			assert.Equal(t, job.ID, page.JobID)
			assert.Equal(t, "http://example.com/", page.URL)
			assert.Equal(t, 3, page.Chunks)

			var last events.Event
			require.NoError(t, json.Unmarshal([]byte(frames[1].data), &last))
			assert.Equal(t, job.ID, last.JobID)
			assert.Equal(t, tt.terminal.Error, last.Error)
			assert.NoError(t, reqCtx.Err(), "stream did not end on its own")
		})
	}
}
