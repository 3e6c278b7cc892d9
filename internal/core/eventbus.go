package core

import (
	"sync"

	"github.com/google/uuid"
)

// EventType defines the type of event being published.
type EventType string

const (
	StateChangedEvent    EventType = "StateChanged"
	PhaseChangedEvent    EventType = "PhaseChanged"
	ErrorEvent           EventType = "Error"
	ProfileSavedEvent    EventType = "ProfileSaved"
	ProfileLoadedEvent   EventType = "ProfileLoaded"
	DeviceConnectedEvent EventType = "DeviceConnected"
)

// Event is the envelope for all status events sent to front-ends.
type Event struct {
	Type      EventType
	CommandID uuid.UUID
	State     *EngineState
	Phase     string
	Profile   string
	Err       error
}

// Subscriber is a channel that receives events.
type Subscriber chan Event

// EventBus handles pub/sub messaging for the application.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe returns a channel that receives events of the given types.
func (eb *EventBus) Subscribe(eventTypes ...EventType) Subscriber {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(Subscriber, 100) // Buffered channel so publishers don't block
	for _, t := range eventTypes {
		eb.subscribers[t] = append(eb.subscribers[t], ch)
	}

	return ch
}

// Unsubscribe removes a subscriber channel.
func (eb *EventBus) Unsubscribe(ch Subscriber, eventTypes ...EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, t := range eventTypes {
		subs := eb.subscribers[t]
		for i, sub := range subs {
			if sub == ch {
				eb.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish distributes an event to all active subscribers for its type.
// A full subscriber drops the event rather than blocking the engine.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, sub := range eb.subscribers[event.Type] {
		select {
		case sub <- event:
		default:
		}
	}
}
