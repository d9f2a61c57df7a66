package runtime

import (
	"sync"
	"time"
)

// EventType represents the type of chat session event.
type EventType string

const (
	EventTurnAppended    EventType = "turn_appended"
	EventTurnsEvicted    EventType = "turns_evicted"
	EventReplyGenerated  EventType = "reply_generated"
	EventReplyFailed     EventType = "reply_failed"
	EventPersonaSwitched EventType = "persona_switched"
	EventSessionReset    EventType = "session_reset"
	EventSessionEnded    EventType = "session_ended"
)

// Event represents a session event with associated data.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Persona   string
	Data      map[string]any
}

// EventHandler is a function that handles events.
type EventHandler func(Event)

// EventBus fans session events out to subscribers. Handlers run
// synchronously on the publishing goroutine and must not call back into the
// Engine.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish sends an event to all registered handlers.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	specific := eb.handlers[event.Type]
	all := eb.allHandlers
	eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, handler := range specific {
		handler(event)
	}
	for _, handler := range all {
		handler(event)
	}
}

// PublishWithData publishes an event with associated data.
func (eb *EventBus) PublishWithData(eventType EventType, sessionID, persona string, data map[string]any) {
	eb.Publish(Event{
		Type:      eventType,
		SessionID: sessionID,
		Persona:   persona,
		Data:      data,
	})
}
