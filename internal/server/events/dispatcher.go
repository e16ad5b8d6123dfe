package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/server/config"
	"github.com/systemshift/bizops/internal/server/logging"
	"github.com/systemshift/bizops/internal/server/metrics"
)

// Module provides the event sink and the dispatcher publishing to it
var Module = fx.Module("events",
	fx.Provide(
		NewSink,
		NewDispatcher,
		func(d *Dispatcher) Publisher { return d },
	),
	fx.Invoke(RegisterLifecycle),
)

// maxBatch is the most records one Kinesis PutRecords call accepts
const maxBatch = 500

const writeTimeout = 10 * time.Second

// Publisher accepts events for asynchronous delivery
type Publisher interface {
	Publish(events ...ChangeEvent)
}

// Dispatcher queues events and delivers them to a sink from a single
// worker. Publishing never blocks: when the queue is full the event is
// dropped and counted.
type Dispatcher struct {
	sink    Sink
	queue   chan ChangeEvent
	log     *zap.Logger
	metrics *metrics.Registry
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with a queue of EVENT_QUEUE_SIZE
func NewDispatcher(cfg *config.Config, sink Sink, log *zap.Logger, m *metrics.Registry) *Dispatcher {
	size := cfg.Events.QueueSize
	if size < 1 {
		size = 1
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan ChangeEvent, size),
		log:     log.With(logging.Component("events")),
		metrics: m,
		now:     time.Now,
	}
}

// RegisterLifecycle starts the worker with the app and drains it on stop
func RegisterLifecycle(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: d.Stop,
	})
}

// Start begins delivering events
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	d.log.Info("event dispatcher started", zap.String("sink", d.sink.Name()), zap.Int("queue", cap(d.queue)))
}

// Stop closes the queue, waits for queued events to be delivered and closes
// the sink
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.log.Warn("event dispatcher stopped before the queue drained", zap.Int("pending", len(d.queue)))
	}

	if err := d.sink.Close(); err != nil {
		return err
	}
	d.log.Info("event dispatcher stopped")
	return nil
}

// Publish stamps and queues events
func (d *Dispatcher) Publish(events ...ChangeEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := d.now().Unix()
	for _, e := range events {
		if e.EventID == "" {
			e.EventID = uuid.New().String()
		}
		if e.Time == 0 {
			e.Time = now
		}
		if d.closed {
			d.drop(e, "dispatcher stopped")
			continue
		}
		select {
		case d.queue <- e:
		default:
			d.drop(e, "queue full")
		}
	}
}

func (d *Dispatcher) drop(e ChangeEvent, reason string) {
	d.metrics.EventsDropped.Inc()
	d.log.Warn("dropping change event",
		zap.String("reason", reason),
		zap.String("eventId", e.EventID),
		zap.String("event", string(e.Event)),
		zap.String("requestId", e.RequestID))
}

// run drains the queue, batching whatever is already waiting
func (d *Dispatcher) run() {
	defer d.wg.Done()

	for e := range d.queue {
		batch := []ChangeEvent{e}
		open := true
	fill:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-d.queue:
				if !ok {
					open = false
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		d.deliver(batch)
		if !open {
			return
		}
	}
}

func (d *Dispatcher) deliver(batch []ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := d.sink.Write(ctx, batch)
	if err == nil {
		for _, e := range batch {
			d.metrics.EventsPublished.WithLabelValues(string(e.Event)).Inc()
		}
		return
	}

	failed := len(batch)
	var partial *FailedRecordsError
	if errors.As(err, &partial) {
		failed = partial.Failed
	}
	d.metrics.EventsFailed.Add(float64(failed))
	d.log.Error("failed to publish change events",
		zap.String("sink", d.sink.Name()),
		zap.Int("batch", len(batch)),
		zap.Int("failed", failed),
		zap.String("requestId", batch[0].RequestID),
		zap.Error(err))
}
