package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs    []published
	err     error
	drained bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject, data})
	return nil
}

func (f *fakeConn) ChanSubscribe(string, chan *nats.Msg) (*nats.Subscription, error) {
	return nil, errors.New("not supported")
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestPublish(t *testing.T) {
	fc := &fakeConn{}
	p := newNATSPublisher(fc, "", nil)

	err := p.Publish(context.Background(), Event{Type: JobFailed, JobID: "job_1", UserID: "alice", Error: "boom"})
	require.NoError(t, err)
	require.Len(t, fc.msgs, 1)
	assert.Equal(t, "ragd.jobs.alice.job_1.failed", fc.msgs[0].subject)

	var ev Event
	require.NoError(t, json.Unmarshal(fc.msgs[0].data, &ev))
	assert.Equal(t, "boom", ev.Error)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestPublish_Error(t *testing.T) {
	fc := &fakeConn{err: nats.ErrConnectionClosed}
	p := newNATSPublisher(fc, "ragd.jobs", nil)

	err := p.Publish(context.Background(), Event{Type: JobCreated, JobID: "job_1", UserID: "u"})
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}

func TestSubject_SanitizesTokens(t *testing.T) {
	p := newNATSPublisher(&fakeConn{}, "x", nil)
	assert.Equal(t, "x.user_example_com.job_1.page", p.Subject("user.example.com", "job_1", PageIndexed))
	assert.Equal(t, "x._.job_2.created", p.Subject("", "job_2", JobCreated))
	assert.Equal(t, "x.a_b_.j.created", p.Subject("a*b>", "j", JobCreated))
}

func TestEventType(t *testing.T) {
	assert.Equal(t, JobSucceeded, EventType("ragd.jobs.u.job_1.succeeded"))
	assert.True(t, JobSucceeded.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.False(t, PageIndexed.Terminal())
}

func TestClose(t *testing.T) {
	fc := &fakeConn{}
	p := newNATSPublisher(fc, "", nil)
	require.NoError(t, p.Close())
	assert.True(t, fc.drained)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}
