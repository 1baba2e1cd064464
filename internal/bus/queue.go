package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"main/internal/obs"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Sink is the external fan-out capability the queue drains into. Topic
// naming and wire framing belong to the collaborator implementing it.
type Sink interface {
	Publish(topic string, payload []byte)
}

// Event is the unit passed through the in-memory bus.
type Event struct {
	Topic   string
	Payload []byte
	Time    time.Time
}

// Bus is a bounded, non-blocking publish queue between the core components
// and the external event sink. A full queue drops the event rather than
// stalling the delivery path that produced it.
type Bus struct {
	ch     chan Event
	done   chan struct{}
	closed uint32
	stats  *obs.Stats
}

// New allocates a bus with the given capacity.
func New(capacity int, stats *obs.Stats) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bus{
		ch:    make(chan Event, capacity),
		done:  make(chan struct{}),
		stats: stats,
	}
}

// Publish marshals the payload and enqueues it without blocking. Drops are
// counted, never surfaced to the producer.
func (b *Bus) Publish(topic string, payload any) {
	raw, err := sonic.ConfigFastest.Marshal(payload)
	if err != nil {
		logs.Warnf("marshal bus payload %s, err: %+v", topic, err)
		return
	}

	if err := b.TryPublish(Event{Topic: topic, Payload: raw, Time: time.Now()}); err != nil {
		switch {
		case errors.Is(err, ErrQueueFull):
			b.stats.IncBusDrop()
		case errors.Is(err, ErrQueueClosed):
			b.stats.IncBusClosed()
		}
		return
	}

	b.stats.IncBusPublished()
}

// TryPublish enqueues an event without blocking.
func (b *Bus) TryPublish(e Event) error {
	if atomic.LoadUint32(&b.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case b.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the bus from accepting new events. The event channel itself is
// never closed so producers racing Close cannot panic on a late send.
func (b *Bus) Close() {
	if atomic.CompareAndSwapUint32(&b.closed, 0, 1) {
		close(b.done)
	}
}

// Run drains events into the sink until the context is done or the bus is
// closed and empty.
func (b *Bus) Run(ctx context.Context, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			for {
				select {
				case e := <-b.ch:
					sink.Publish(e.Topic, e.Payload)
				default:
					return
				}
			}
		case e := <-b.ch:
			sink.Publish(e.Topic, e.Payload)
		}
	}
}
