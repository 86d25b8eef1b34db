package memorybus

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish("job.created", []byte(`{"id":"j1"}`))

	select {
	case evt := <-ch:
		if evt.Topic != "job.created" {
			t.Fatalf("unexpected topic %q", evt.Topic)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event delivery")
	}
}

func TestBus_CloseUnblocksSubscribers(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Close()
	if _, open := <-ch; open {
		t.Fatalf("channel should be closed after Close")
	}

	// Publier après Close est un no-op.
	b.Publish("job.created", nil)
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	defer b.Close()

	_, cancel := b.Subscribe()
	defer cancel()

	// Remplit largement le buffer : Publish ne doit jamais bloquer.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish("job.progress", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
}
