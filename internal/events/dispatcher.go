package events

import (
	"context"
	"time"

	"github.com/campusnet/forum/internal/common/logging"
	"github.com/campusnet/forum/internal/messaging"
	"go.uber.org/zap"
)

const drainTimeout = 5 * time.Second

// Sink receives every envelope after local delivery. Errors are logged and
// never reach the write path.
type Sink interface {
	Name() string
	Publish(ctx context.Context, env *Envelope) error
}

// Dispatcher publishes committed domain events. A single goroutine drains
// the queue, which keeps the per-room order of Dispatch calls.
type Dispatcher struct {
	hub    *Hub
	sinks  []Sink
	queue  chan messaging.Event
	origin string
	logger *zap.Logger
}

func NewDispatcher(hub *Hub, queueSize int, origin string, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		hub:    hub,
		sinks:  sinks,
		queue:  make(chan messaging.Event, queueSize),
		origin: origin,
		logger: logger,
	}
}

// Dispatch enqueues events without blocking. Events that do not fit are
// dropped: clients recover by re-reading the paginated lists.
func (d *Dispatcher) Dispatch(events ...messaging.Event) {
	for _, e := range events {
		select {
		case d.queue <- e:
		default:
			d.logger.Warn("dispatch queue full, dropping event",
				zap.String("event_type", string(e.Type)),
				logging.MessageID(e.MessageID),
			)
		}
	}
}

// Run publishes queued events until ctx is done, then flushes what is
// already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case e := <-d.queue:
			d.publish(ctx, e)
		case <-ctx.Done():
			d.drain(ctx)
			return nil
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()

	for {
		select {
		case e := <-d.queue:
			d.publish(ctx, e)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, e messaging.Event) {
	payload := e.Payload()

	for _, room := range Route(e) {
		env, err := NewEnvelope(room, e.Type, payload)
		if err != nil {
			d.logger.Error("failed to build event envelope", logging.Room(room), zap.Error(err))
			continue
		}
		env.Origin = d.origin

		d.hub.Deliver(env)

		for _, sink := range d.sinks {
			if err := sink.Publish(ctx, env); err != nil {
				d.logger.Warn("event sink publish failed",
					zap.String("sink", sink.Name()),
					logging.Room(room),
					zap.String("event_type", string(e.Type)),
					zap.Error(err),
				)
			}
		}
	}
}
