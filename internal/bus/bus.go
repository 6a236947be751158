// Package bus is the fan-out between the acquisition loop and its consumers.
// One guaranteed consumer (the persistence worker) reads a bounded channel
// with backpressure: publishing may block the producer but never drops.
// Best-effort consumers (live views) get their own buffered channels where
// the oldest unconsumed sample is discarded in favor of the newest:
// staleness is preferable to stalling the instrument timing loop.
package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/iv-workbench/backend/internal/models"
)

// Message travels the guaranteed path: either one sample or a sync-marker
// checkpoint request. Markers preserve queue order relative to samples.
type Message struct {
	Sample *models.Sample
	Sync   bool
}

// DefaultCapacity is the guaranteed-channel depth. Deep enough to absorb
// flush latency, small enough that a wedged disk backpressures the loop
// within a handful of points.
const DefaultCapacity = 64

// DefaultSubscriberBuffer is the per-subscriber buffer for best-effort
// consumers.
const DefaultSubscriberBuffer = 256

// Bus fans samples out from the single producer (the acquisition loop).
type Bus struct {
	guaranteed chan Message

	mu     sync.RWMutex
	subs   map[string]chan models.Sample
	closed bool
}

// New creates a bus with the given guaranteed-channel capacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		guaranteed: make(chan Message, capacity),
		subs:       make(map[string]chan models.Sample),
	}
}

// Publish delivers a sample. It blocks until the guaranteed channel accepts
// it (or ctx is cancelled), then fans out to best-effort subscribers without
// blocking. The sample is a value copy; consumers must not mutate it.
func (b *Bus) Publish(ctx context.Context, s models.Sample) error {
	select {
	case b.guaranteed <- Message{Sample: &s}:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			// Full: drop the oldest, then offer the newest once more.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
	b.mu.RUnlock()
	return nil
}

// PublishSync injects a sync-marker checkpoint into the guaranteed path.
// It queues in order behind any samples already published.
func (b *Bus) PublishSync(ctx context.Context) error {
	select {
	case b.guaranteed <- Message{Sync: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Guaranteed returns the channel the guaranteed consumer drains.
func (b *Bus) Guaranteed() <-chan Message { return b.guaranteed }

// Subscribe registers a best-effort consumer and returns its id and channel.
// The channel is closed on Unsubscribe or Close.
func (b *Bus) Subscribe(buffer int) (string, <-chan models.Sample) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan models.Sample, buffer)
	id := uuid.New().String()

	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs[id] = ch
	}
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a best-effort consumer and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Close ends the stream. Only the producer may call it, after its last
// Publish: the guaranteed channel is closed so the worker can drain, and
// subscriber channels are closed after delivery stops.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]chan models.Sample)
	b.mu.Unlock()

	close(b.guaranteed)
	for _, ch := range subs {
		close(ch)
	}
}
