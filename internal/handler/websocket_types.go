// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketMessage is the frame exchanged with stream clients in both
// directions
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// wsClient is one connected stream consumer. Subscriptions filter
// which event types the client receives; an empty set means all.
type wsClient struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	remoteAddr  string
	connectedAt time.Time

	mu            sync.RWMutex
	subscriptions map[string]bool
}

// wants reports whether the client subscribed to the given event type
func (c *wsClient) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[eventType]
}

func (c *wsClient) subscribe(topic string) {
	c.mu.Lock()
	if c.subscriptions == nil {
		c.subscriptions = make(map[string]bool)
	}
	c.subscriptions[topic] = true
	c.mu.Unlock()
}

func (c *wsClient) unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.subscriptions, topic)
	c.mu.Unlock()
}
