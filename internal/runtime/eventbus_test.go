package runtime

import (
	"sync"
	"testing"
)

func TestEventBus_Subscribe(t *testing.T) {
	eb := NewEventBus()
	called := false

	eb.Subscribe(EventTurnAppended, func(e Event) {
		called = true
	})
	eb.Publish(Event{Type: EventReplyGenerated})
	if called {
		t.Error("handler called for a different event type")
	}

	eb.Publish(Event{Type: EventTurnAppended})
	if !called {
		t.Error("handler was not called")
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	eb := NewEventBus()
	count := 0

	eb.SubscribeAll(func(e Event) {
		count++
	})

	eb.Publish(Event{Type: EventTurnAppended})
	eb.Publish(Event{Type: EventTurnsEvicted})
	eb.Publish(Event{Type: EventSessionEnded})

	if count != 3 {
		t.Errorf("expected 3 calls, got %d", count)
	}
}

func TestEventBus_PublishWithData(t *testing.T) {
	eb := NewEventBus()
	var received Event

	eb.Subscribe(EventTurnsEvicted, func(e Event) {
		received = e
	})

	eb.PublishWithData(EventTurnsEvicted, "sess-123", "friendly", map[string]any{"turns": 10})

	if received.SessionID != "sess-123" || received.Persona != "friendly" {
		t.Errorf("unexpected event identity %+v", received)
	}
	if received.Data["turns"] != 10 {
		t.Error("data not properly passed")
	}
	if received.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestEventBus_HandlerMaySubscribe(t *testing.T) {
	eb := NewEventBus()
	eb.Subscribe(EventSessionReset, func(e Event) {
		eb.Subscribe(EventSessionEnded, func(Event) {})
	})
	eb.Publish(Event{Type: EventSessionReset})
}

func TestEventBus_Concurrent(t *testing.T) {
	eb := NewEventBus()
	var mu sync.Mutex
	count := 0

	eb.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eb.Publish(Event{Type: EventTurnAppended})
		}()
	}
	wg.Wait()

	if count != 100 {
		t.Errorf("expected 100 calls, got %d", count)
	}
}
