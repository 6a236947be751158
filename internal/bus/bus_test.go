package bus

import (
	"context"
	"testing"
	"time"

	"github.com/iv-workbench/backend/internal/models"
)

func TestPublishReachesGuaranteedConsumer(t *testing.T) {
	b := New(4)
	ctx := context.Background()

	if err := b.Publish(ctx, models.Sample{PointIndex: 7}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	b.Close()

	var got []Message
	for msg := range b.Guaranteed() {
		got = append(got, msg)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(got))
	}
	if got[0].Sample == nil || got[0].Sample.PointIndex != 7 {
		t.Errorf("Sample did not survive delivery: %+v", got[0])
	}
}

func TestPublishBlocksWhenGuaranteedFull(t *testing.T) {
	b := New(1)
	ctx := context.Background()

	if err := b.Publish(ctx, models.Sample{}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Channel is full; the next publish must block until cancelled.
	blockedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := b.Publish(blockedCtx, models.Sample{})
	if err == nil {
		t.Fatal("Expected publish to block and fail on cancellation")
	}
}

func TestSyncMarkerPreservesOrder(t *testing.T) {
	b := New(8)
	ctx := context.Background()

	b.Publish(ctx, models.Sample{PointIndex: 0})
	b.PublishSync(ctx)
	b.Publish(ctx, models.Sample{PointIndex: 1})
	b.Close()

	var kinds []string
	for msg := range b.Guaranteed() {
		if msg.Sync {
			kinds = append(kinds, "sync")
		} else {
			kinds = append(kinds, "sample")
		}
	}
	want := []string{"sample", "sync", "sample"}
	if len(kinds) != len(want) {
		t.Fatalf("Expected %d messages, got %d", len(want), len(kinds))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestSubscriberDropsOldestWhenFull(t *testing.T) {
	b := New(16)
	ctx := context.Background()

	_, ch := b.Subscribe(2)

	// Three samples into a buffer of two: the oldest is sacrificed.
	b.Publish(ctx, models.Sample{PointIndex: 0})
	b.Publish(ctx, models.Sample{PointIndex: 1})
	b.Publish(ctx, models.Sample{PointIndex: 2})
	b.Close()

	var got []int
	for s := range ch {
		got = append(got, s.PointIndex)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(got))
	}
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("Expected newest samples [1 2], got %v", got)
	}
}

func TestSlowSubscriberNeverBlocksProducer(t *testing.T) {
	b := New(256)
	ctx := context.Background()

	b.Subscribe(1) // nobody drains it

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			b.Publish(ctx, models.Sample{PointIndex: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Producer blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(4)
	id, ch := b.Subscribe(4)
	b.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("Expected closed channel after unsubscribe")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New(4)
	b.Close()
	b.Close() // must not panic
}
