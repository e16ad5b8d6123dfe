package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/config"
	"github.com/systemshift/bizops/internal/server/metrics"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]ChangeEvent
	err     error
	block   chan struct{}
	closed  bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Write(_ context.Context, events []ChangeEvent) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]ChangeEvent(nil), events...))
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) all() []ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ChangeEvent
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func newTestDispatcher(sink Sink, queue int) (*Dispatcher, *metrics.Registry) {
	m := metrics.NewRegistry()
	cfg := &config.Config{Events: config.EventsConfig{QueueSize: queue}}
	d := NewDispatcher(cfg, sink, zap.NewNop(), m)
	d.now = func() time.Time { return time.Unix(1700000000, 0) }
	return d, m
}

func TestDispatcherDeliversAndStamps(t *testing.T) {
	sink := &recordingSink{}
	d, m := newTestDispatcher(sink, 10)
	d.Start()

	ref := core.NodeRef{Type: "Team", Code: "platform"}
	d.Publish(NodeEvent(CreatedNode, actor, ref), NodeEvent(UpdatedNode, actor, ref))
	require.NoError(t, d.Stop(context.Background()))

	got := sink.all()
	require.Len(t, got, 2)
	for _, e := range got {
		assert.NotEmpty(t, e.EventID)
		assert.Equal(t, int64(1700000000), e.Time)
	}
	assert.NotEqual(t, got[0].EventID, got[1].EventID)
	assert.True(t, sink.closed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("CREATED_NODE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("UPDATED_NODE")))
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &recordingSink{}
	d, m := newTestDispatcher(sink, 2)

	// not started: nothing drains the queue
	ref := core.NodeRef{Type: "Team", Code: "platform"}
	d.Publish(
		NodeEvent(UpdatedNode, actor, ref),
		NodeEvent(UpdatedNode, actor, ref),
		NodeEvent(UpdatedNode, actor, ref),
	)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))

	d.Start()
	require.NoError(t, d.Stop(context.Background()))
	assert.Len(t, sink.all(), 2)
}

func TestDispatcherSinkFailureIsSwallowed(t *testing.T) {
	sink := &recordingSink{err: errors.New("stream unavailable")}
	d, m := newTestDispatcher(sink, 10)
	d.Start()

	d.Publish(Pair(CreatedRelationship, actor,
		core.NodeRef{Type: "Team", Code: "platform"}, "OWNS", core.Outgoing,
		core.NodeRef{Type: "System", Code: "api"})...)
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsFailed))
}

func TestDispatcherCountsPartialFailures(t *testing.T) {
	sink := &recordingSink{err: &FailedRecordsError{Failed: 1, Total: 2, Reason: "throttled"}}
	d, m := newTestDispatcher(sink, 10)
	d.Start()

	ref := core.NodeRef{Type: "Team", Code: "platform"}
	d.Publish(NodeEvent(UpdatedNode, actor, ref), NodeEvent(UpdatedNode, actor, ref))
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsFailed))
}

func TestDispatcherPublishAfterStop(t *testing.T) {
	sink := &recordingSink{}
	d, m := newTestDispatcher(sink, 10)
	d.Start()
	require.NoError(t, d.Stop(context.Background()))
	require.NoError(t, d.Stop(context.Background()))

	d.Publish(NodeEvent(UpdatedNode, actor, core.NodeRef{Type: "Team", Code: "platform"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))
	assert.Empty(t, sink.all())
}

func TestDispatcherStopHonoursContext(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d, _ := newTestDispatcher(sink, 10)
	d.Start()
	d.Publish(NodeEvent(UpdatedNode, actor, core.NodeRef{Type: "Team", Code: "platform"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	close(sink.block)
}
