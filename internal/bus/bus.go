// Package bus implements the in-process event bus that fans entity events
// out to registered subscribers.
//
// Each subscriber gets an independent bounded queue drained by its own
// worker. Publish hands the event to every lane and returns without waiting
// for handlers; a saturated lane falls back to caller-runs, so no event is
// dropped and queues cannot grow without bound. A failure inside one
// subscriber never reaches the publisher or the other subscribers.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/finchops/finch/internal/model"
)

// Subscriber consumes every published event.
type Subscriber interface {
	// Name identifies the subscriber in logs.
	Name() string
	// Handle processes one event. Errors are logged by the bus and do not
	// propagate; Handle must be safe for concurrent calls across events.
	Handle(ctx context.Context, event *model.Event) error
}

// DefaultQueueSize is the per-subscriber queue bound used by New.
const DefaultQueueSize = 256

// Bus dispatches events to subscribers on independent lanes.
type Bus struct {
	logger *slog.Logger
	lanes  []*lane

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type lane struct {
	sub   Subscriber
	queue chan job
}

type job struct {
	ctx   context.Context
	event *model.Event
}

// Option configures a Bus.
type Option func(*options)

type options struct {
	queueSize int
}

// WithQueueSize overrides the per-subscriber queue bound.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// New creates a bus dispatching to the given subscribers and starts one
// worker per lane. Lane order is fixed but carries no delivery guarantee.
func New(logger *slog.Logger, subs []Subscriber, opts ...Option) *Bus {
	o := options{queueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Bus{logger: logger}
	for _, sub := range subs {
		ln := &lane{sub: sub, queue: make(chan job, o.queueSize)}
		b.lanes = append(b.lanes, ln)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for j := range ln.queue {
				b.deliver(ln.sub, j)
			}
		}()
	}
	return b
}

// Publish hands the event to every subscriber lane and returns. It does not
// wait for handlers. When a lane's queue is full the publishing goroutine
// runs that handler inline (caller-runs backpressure) rather than blocking
// or dropping. Publishing after Close is a logged no-op.
//
// The handler context keeps the publish context's values (acting user) but
// not its cancellation: dispatch outlives the request that triggered it.
func (b *Bus) Publish(ctx context.Context, event *model.Event) {
	if event.OrgID == "" {
		b.logger.Error("dropping event without org id", "key", event.Key(), "entity_id", event.EntityID)
		return
	}

	j := job{ctx: context.WithoutCancel(ctx), event: event}

	// The read lock spans the sends so Close cannot close a queue out from
	// under an in-flight Publish.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("publish on closed bus", "key", event.Key(), "entity_id", event.EntityID)
		return
	}

	for _, ln := range b.lanes {
		select {
		case ln.queue <- j:
		default:
			b.deliver(ln.sub, j)
		}
	}
}

func (b *Bus) deliver(sub Subscriber, j job) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				"subscriber", sub.Name(), "key", j.event.Key(), "entity_id", j.event.EntityID, "panic", r)
		}
	}()
	if err := sub.Handle(j.ctx, j.event); err != nil {
		b.logger.Error("subscriber failed",
			"subscriber", sub.Name(), "key", j.event.Key(), "entity_id", j.event.EntityID, "error", err)
	}
}

// Close stops accepting events, drains the queues, and waits for in-flight
// handlers to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	for _, ln := range b.lanes {
		close(ln.queue)
	}
	b.wg.Wait()
}
