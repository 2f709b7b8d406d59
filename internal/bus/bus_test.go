package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestBus() *EventBus {
	return New(slog.Default())
}

func TestPublishSync_AllHandlersRun(t *testing.T) {
	b := newTestBus()
	var count atomic.Int32
	for i := 0; i < 3; i++ {
		b.Subscribe("t", func(topic string, payload any) {
			count.Add(1)
			if payload.(int) != 7 {
				t.Errorf("payload = %v", payload)
			}
		})
	}
	b.PublishSync("t", 7)
	if count.Load() != 3 {
		t.Fatalf("handlers run = %d, want 3", count.Load())
	}
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBus()
	var count atomic.Int32
	id := b.Subscribe("t", func(string, any) { count.Add(1) })
	b.Subscribe("t", func(string, any) { count.Add(1) })

	b.Unsubscribe("t", id)
	b.PublishSync("t", nil)
	if count.Load() != 1 {
		t.Fatalf("handlers run = %d, want 1", count.Load())
	}

	// Unknown id is a no-op.
	b.Unsubscribe("t", 999)
	b.Unsubscribe("missing", 1)
}

func TestPublish_SlowHandlerDoesNotBlockSiblings(t *testing.T) {
	b := newTestBus()
	release := make(chan struct{})
	fastRan := make(chan struct{})

	b.Subscribe("t", func(string, any) { <-release })
	b.Subscribe("t", func(string, any) { close(fastRan) })

	b.Publish("t", nil)

	select {
	case <-fastRan:
	case <-time.After(2 * time.Second):
		t.Fatal("fast handler blocked behind slow handler")
	}
	close(release)
}

func TestPublish_PanicIsolated(t *testing.T) {
	b := newTestBus()
	var ran atomic.Bool
	b.Subscribe("t", func(string, any) { panic("boom") })
	b.Subscribe("t", func(string, any) { ran.Store(true) })

	b.PublishSync("t", nil) // must not panic the publisher
	if !ran.Load() {
		t.Fatal("sibling handler should still run after a panic")
	}
}

func TestPublish_SnapshotUnderConcurrentSubscribe(t *testing.T) {
	b := newTestBus()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	b.Subscribe("t", func(string, any) {})

	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				id := b.Subscribe("t", func(string, any) {})
				b.Unsubscribe("t", id)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			b.PublishSync("t", i)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestHasSubscribers(t *testing.T) {
	b := newTestBus()
	if b.HasSubscribers("t") {
		t.Fatal("empty bus should have no subscribers")
	}
	id := b.Subscribe("t", func(string, any) {})
	if !b.HasSubscribers("t") {
		t.Fatal("expected subscriber")
	}
	b.Unsubscribe("t", id)
	if b.HasSubscribers("t") {
		t.Fatal("expected no subscribers after unsubscribe")
	}
}
