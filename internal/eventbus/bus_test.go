package eventbus

import (
	"sync"
	"testing"
)

func TestPublishFansOutAndFilters(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	only, unsubOnly := b.Subscribe(4, "pass.finished")
	defer unsubOnly()

	b.Publish(Event{Type: "pass.started"})
	b.Publish(Event{Type: "pass.finished", Data: 1})

	if e := <-all; e.Type != "pass.started" || e.Time.IsZero() {
		t.Fatalf("first event = %+v", e)
	}
	if e := <-all; e.Type != "pass.finished" {
		t.Fatalf("second event = %+v", e)
	}
	e := <-only
	if e.Type != "pass.finished" || e.Data != 1 {
		t.Fatalf("filtered event = %+v", e)
	}
	select {
	case e := <-only:
		t.Fatalf("unexpected event %+v", e)
	default:
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	b.Publish(Event{Type: "c"})
	if got := b.Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "x"})
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	t.Parallel()

	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		_, unsub := b.Subscribe(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(Event{Type: "tick"})
			}
		}()
		go func() {
			defer wg.Done()
			unsub()
		}()
	}
	wg.Wait()
}
