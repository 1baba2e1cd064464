package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/obs"
)

type captureSink struct {
	mu     sync.Mutex
	topics []string
}

func (c *captureSink) Publish(topic string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
}

func TestPublishDrainsToSink(t *testing.T) {
	stats := obs.NewStats()
	b := New(8, stats)

	sink := &captureSink{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(t.Context(), sink)
	}()

	b.Publish("order.filled", map[string]string{"orderId": "abc"})
	b.Publish("position.updated", map[string]string{"symbol": "BTC"})
	b.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run never drained")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"order.filled", "position.updated"}, sink.topics)
	assert.Equal(t, uint64(2), stats.Snapshot().BusPublished)
}

func TestFullQueueDropsWithoutBlocking(t *testing.T) {
	stats := obs.NewStats()
	b := New(1, stats)

	b.Publish("t", 1)
	b.Publish("t", 2) // queue full, must drop silently

	snap := stats.Snapshot()
	assert.Equal(t, uint64(1), snap.BusPublished)
	assert.Equal(t, uint64(1), snap.BusDrops)
}

func TestConcurrentPublishDuringClose(t *testing.T) {
	stats := obs.NewStats()
	b := New(4, stats)

	go b.Run(t.Context(), &captureSink{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b.Publish("t", j)
			}
		}()
	}
	b.Close()
	wg.Wait() // a send racing Close must never panic
}

func TestCloseDrainsBufferedEvents(t *testing.T) {
	stats := obs.NewStats()
	b := New(8, stats)

	b.Publish("a", 1)
	b.Publish("b", 2)
	b.Close()

	sink := &captureSink{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(t.Context(), sink)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run never drained")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, sink.topics)
}

func TestClosedQueueRejects(t *testing.T) {
	stats := obs.NewStats()
	b := New(4, stats)
	b.Close()

	require.ErrorIs(t, b.TryPublish(Event{Topic: "t"}), ErrQueueClosed)

	b.Publish("t", 1)
	assert.Equal(t, uint64(1), stats.Snapshot().BusClosed)
}
