// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"perfusion-service/internal/eventbus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsSendBuffer = 256
)

// WebSocketHandler streams event bus traffic to connected clients.
// Clients may narrow the stream with subscribe/unsubscribe messages;
// without subscriptions they receive everything.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	bus      *eventbus.Bus
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// NewWebSocketHandler creates the handler and starts forwarding bus
// events to connected clients
func NewWebSocketHandler(bus *eventbus.Bus, logger *zap.Logger) *WebSocketHandler {
	h := &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// same-host lab deployments; tighten when exposed
				return true
			},
		},
		bus:     bus,
		logger:  logger.With(zap.String("handler", "websocket")),
		clients: make(map[string]*wsClient),
	}

	go h.forwardEvents(bus.Subscribe("*"))
	return h
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventStream)
}

// HandleEventStream upgrades the connection and starts the client pumps
func (h *WebSocketHandler) HandleEventStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &wsClient{
		id:          uuid.New().String(),
		conn:        conn,
		send:        make(chan []byte, wsSendBuffer),
		remoteAddr:  c.Request.RemoteAddr,
		connectedAt: time.Now(),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	h.logger.Info("Event stream client connected",
		zap.String("client_id", client.id),
		zap.String("remote_addr", client.remoteAddr),
	)

	go h.readPump(client)
	go h.writePump(client)
}

// forwardEvents fans bus events out to every client whose subscription
// set matches
func (h *WebSocketHandler) forwardEvents(events <-chan eventbus.Event) {
	for event := range events {
		frame, err := json.Marshal(WebSocketMessage{
			Type:      "event",
			Data:      event,
			Timestamp: time.Now(),
		})
		if err != nil {
			h.logger.Error("Failed to marshal event frame", zap.Error(err))
			continue
		}

		h.mu.RLock()
		for _, client := range h.clients {
			if !client.wants(event.Type) {
				continue
			}
			select {
			case client.send <- frame:
			default:
				// slow consumer, drop the frame for this client
			}
		}
		h.mu.RUnlock()
	}
}

func (h *WebSocketHandler) readPump(client *wsClient) {
	defer func() {
		h.unregister(client)
		client.conn.Close()
	}()

	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.id),
				)
			}
			return
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendMessage(client, &WebSocketMessage{
				Type:      "error",
				Data:      gin.H{"error": "malformed message"},
				Timestamp: time.Now(),
			})
			continue
		}
		h.handleClientMessage(client, &msg)
	}
}

func (h *WebSocketHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) handleClientMessage(client *wsClient, msg *WebSocketMessage) {
	switch msg.Type {
	case "subscribe":
		if topic, ok := messageTopic(msg); ok {
			client.subscribe(topic)
			h.sendMessage(client, &WebSocketMessage{
				Type:      "subscription_confirmed",
				Data:      gin.H{"topic": topic},
				Timestamp: time.Now(),
			})
		}
	case "unsubscribe":
		if topic, ok := messageTopic(msg); ok {
			client.unsubscribe(topic)
		}
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
		})
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", msg.Type),
			zap.String("client_id", client.id),
		)
	}
}

func (h *WebSocketHandler) sendMessage(client *wsClient, msg *WebSocketMessage) {
	frame, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}
	select {
	case client.send <- frame:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.id),
		)
	}
}

func (h *WebSocketHandler) unregister(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		close(client.send)
	}
	h.mu.Unlock()

	h.logger.Info("Event stream client disconnected",
		zap.String("client_id", client.id),
	)
}

func messageTopic(msg *WebSocketMessage) (string, bool) {
	data, ok := msg.Data.(map[string]interface{})
	if !ok {
		return "", false
	}
	topic, ok := data["topic"].(string)
	return topic, ok && topic != ""
}
