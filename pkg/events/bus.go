package events

import (
	"sync"
	"time"

	"github.com/tripzi-app/calling/pkg/logger"
	"go.uber.org/zap"
)

// Call lifecycle event types published by the signaling layer
const (
	CallCreated  = "call.created"
	CallAnswered = "call.answered"
	CallDeclined = "call.declined"
	CallEnded    = "call.ended"
	CallExpired  = "call.expired"
)

// Event is one system event
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Source    string                 `json:"source"`
}

// EventHandler consumes one event
type EventHandler func(event Event) error

// EventBus fans events out to subscribed handlers
type EventBus struct {
	handlers map[string][]EventHandler
	mu       sync.RWMutex
}

var globalBus *EventBus
var once sync.Once

// GetEventBus returns the global bus instance
func GetEventBus() *EventBus {
	once.Do(func() {
		globalBus = &EventBus{handlers: make(map[string][]EventHandler)}
	})
	return globalBus
}

// Subscribe registers a handler for an event type. "*" matches every type.
func (bus *EventBus) Subscribe(eventType string, handler EventHandler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.handlers[eventType] = append(bus.handlers[eventType], handler)
}

// Unsubscribe removes all handlers of the given type
func (bus *EventBus) Unsubscribe(eventType string) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.handlers, eventType)
}

// Publish delivers the event to every matching handler. Handlers run
// asynchronously; a failing handler never blocks the publisher.
func (bus *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	bus.mu.RLock()
	handlers := append([]EventHandler{}, bus.handlers[event.Type]...)
	handlers = append(handlers, bus.handlers["*"]...)
	bus.mu.RUnlock()

	for _, handler := range handlers {
		go func(h EventHandler) {
			if err := h(event); err != nil {
				logger.Error("event handler failed",
					zap.String("eventType", event.Type),
					zap.Error(err))
			}
		}(handler)
	}
}

// PublishEvent is a convenience wrapper around the global bus
func PublishEvent(eventType string, data map[string]interface{}, source string) {
	GetEventBus().Publish(Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Source:    source,
	})
}
