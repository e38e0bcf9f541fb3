package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/ragd/internal/events"
)

const heartbeatInterval = 30 * time.Second

// handleCrawlEvents streams a crawl job's events via Server-Sent Events.
//
// The stream ends after the succeeded or failed event, or when the client
// disconnects. A job that is already finished gets a single event built
// from its stored status.
//
// Example:
//
//	GET /api/v1/crawl/{job_id}/events?user_id=u1
//
//	event: page
//	data: {"type":"page","job_id":"job_...","url":"https://example.com/","chunks":4,"visited":1}
//
//	event: succeeded
//	data: {"type":"succeeded","job_id":"job_...","visited":3}
func (s *Server) handleCrawlEvents(c echo.Context) error {
	sub := s.registry.Events()
	if sub == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "job events are not enabled")
	}
	userID, jobID := c.QueryParam("user_id"), c.Param("job_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id query parameter is required")
	}
	st := s.registry.Store()
	if st == nil {
		return errUnavailable
	}
	ctx := c.Request().Context()

	// Subscribe before reading the status so a transition in between is
	// still delivered.
	msgChan := make(chan *nats.Msg, 16)
	subscription, err := sub.Subscribe(userID, jobID, msgChan)
	if err != nil {
		return err
	}
	defer func() {
		if subscription != nil {
			_ = subscription.Unsubscribe()
		}
	}()

	job, err := st.GetJob(ctx, jobID, userID)
	if err != nil {
		return s.apiError(c, "job lookup failed", err)
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if job.Status.Terminal() {
		ev := events.Event{Type: events.Type(job.Status), JobID: job.ID, UserID: job.UserID, URL: job.URL}
		if job.ErrorMessage != nil {
			ev.Error = *job.ErrorMessage
		}
		fmt.Fprintf(w, "event: %s\n", ev.Type)
		if err := writeJSONData(w, ev); err != nil {
			return err
		}
		w.Flush()
		return nil
	}
	w.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			eventType := events.EventType(msg.Subject)
			fmt.Fprintf(w, "event: %s\n", eventType)
			fmt.Fprintf(w, "data: %s\n\n", string(msg.Data))
			w.Flush()
			if eventType.Terminal() {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			w.Flush()

		case <-ctx.Done():
			return nil
		}
	}
}

func writeJSONData(w *echo.Response, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
