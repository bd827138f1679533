// internal/eventbus/bus.go
package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event represents a system event
type Event struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// Bus fans events out to subscribers. Publishing never blocks: the bus
// drops events when its queue is full and skips subscribers that fall
// behind, so device and scheduler paths are never delayed by a slow
// websocket client.
type Bus struct {
	subscribers map[string][]chan Event
	events      chan Event
	mutex       sync.RWMutex
	logger      *zap.Logger
	done        chan struct{}
	stopOnce    sync.Once
}

// New creates an event bus
func New(logger *zap.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]chan Event),
		events:      make(chan Event, 1000),
		logger:      logger.With(zap.String("component", "event_bus")),
		done:        make(chan struct{}),
	}
}

// Start runs the distribution loop until Stop is called. Call from a
// dedicated goroutine.
func (b *Bus) Start() {
	for {
		select {
		case event := <-b.events:
			b.distribute(event)
		case <-b.done:
			return
		}
	}
}

// Stop halts the distribution loop
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

// Publish enqueues an event for distribution. Timestamp is filled in
// if the caller left it zero.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.events <- event:
	default:
		b.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", event.Type),
		)
	}
}

// Subscribe returns a channel receiving events of the given type.
// Subscribing to "*" receives every event.
func (b *Bus) Subscribe(eventType string) <-chan Event {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	subscriber := make(chan Event, 100)
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
	return subscriber
}

func (b *Bus) distribute(event Event) {
	b.mutex.RLock()
	targets := make([]chan Event, 0, len(b.subscribers[event.Type])+len(b.subscribers["*"]))
	targets = append(targets, b.subscribers[event.Type]...)
	targets = append(targets, b.subscribers["*"]...)
	b.mutex.RUnlock()

	for _, subscriber := range targets {
		select {
		case subscriber <- event:
		default:
			// subscriber is slow, skip
		}
	}
}
