package eventbus

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	bus := New(zap.NewNop())
	go bus.Start()
	defer bus.Stop()

	deviceEvents := bus.Subscribe("device.connected")
	allEvents := bus.Subscribe("*")

	bus.Publish(Event{Type: "device.connected", Source: "device_service"})
	bus.Publish(Event{Type: "job.completed", Source: "scheduler"})

	select {
	case ev := <-deviceEvents:
		if ev.Type != "device.connected" {
			t.Fatalf("type = %s", ev.Type)
		}
		if ev.Timestamp.IsZero() {
			t.Fatal("timestamp not stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("typed subscriber got no event")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-allEvents:
		case <-time.After(time.Second):
			t.Fatalf("wildcard subscriber got %d of 2 events", i)
		}
	}

	select {
	case ev := <-deviceEvents:
		t.Fatalf("unexpected event for typed subscriber: %s", ev.Type)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := New(zap.NewNop())
	// no Start: the queue fills, then publishes are dropped

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			bus.Publish(Event{Type: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full bus")
	}
}
