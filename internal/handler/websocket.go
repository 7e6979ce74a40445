package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/insider-one/notification-dispatcher/internal/domain"
	"github.com/insider-one/notification-dispatcher/internal/provider"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHub fans status updates and in-app messages out to live connections
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan *StatusUpdate
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	done       chan struct{}
	logger     *slog.Logger
	mu         sync.RWMutex
}

var _ provider.InAppPusher = (*WebSocketHub)(nil)

// WebSocketClient represents a WebSocket client connection
type WebSocketClient struct {
	hub    *WebSocketHub
	conn   *websocket.Conn
	send   chan []byte
	id     string
	userID domain.UserID

	mu     sync.Mutex
	filter *ClientFilter
}

// ClientFilter represents subscription filters
type ClientFilter struct {
	NotificationIDs []domain.NotificationID `json:"notification_ids,omitempty"`
	BatchIDs        []domain.BatchID        `json:"batch_ids,omitempty"`
	Channels        []domain.Channel        `json:"channels,omitempty"`
}

// StatusUpdate is sent for every dispatch event
type StatusUpdate struct {
	Type      string           `json:"type"`
	EventType domain.EventType `json:"event_type"`
	Event     domain.Event     `json:"event"`
	Timestamp time.Time        `json:"timestamp"`

	target eventTarget
}

// InAppUpdate carries an in-app notification to its recipient
type InAppUpdate struct {
	Type         string                `json:"type"`
	Notification provider.InAppMessage `json:"notification"`
	Timestamp    time.Time             `json:"timestamp"`
}

// SubscribeMessage represents a subscription request from client
type SubscribeMessage struct {
	Action string       `json:"action"`
	Filter ClientFilter `json:"filter"`
}

// eventTarget holds the fields a filter can match on
type eventTarget struct {
	notificationID domain.NotificationID
	batchID        domain.BatchID
	channel        domain.Channel
}

// NewWebSocketHub creates a new WebSocketHub
func NewWebSocketHub(logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan *StatusUpdate, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until ctx is cancelled, then disconnects every client
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("websocket client connected", "client_id", client.id, "user_id", client.userID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("websocket client disconnected", "client_id", client.id)

		case update := <-h.broadcast:
			message, err := json.Marshal(update)
			if err != nil {
				h.logger.Error("failed to marshal status update", "error", err)
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				if client.shouldReceive(update.target) {
					select {
					case client.send <- message:
					default:
						// Client buffer full, skip
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleEvent broadcasts a dispatch event to subscribed clients
func (h *WebSocketHub) HandleEvent(_ context.Context, event domain.Event) error {
	update := &StatusUpdate{
		Type:      "status_update",
		EventType: event.EventType(),
		Event:     event,
		Timestamp: time.Now().UTC(),
		target:    targetOf(event),
	}

	select {
	case h.broadcast <- update:
	default:
		h.logger.Warn("broadcast channel full, dropping update", "event_type", event.EventType())
	}
	return nil
}

// PushToUser sends an in-app message to every connection of the user
func (h *WebSocketHub) PushToUser(userID domain.UserID, msg provider.InAppMessage) int {
	message, err := json.Marshal(InAppUpdate{
		Type:         "in_app_notification",
		Notification: msg,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("failed to marshal in-app message", "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	reached := 0
	for client := range h.clients {
		if client.userID != userID {
			continue
		}
		select {
		case client.send <- message:
			reached++
		default:
			h.logger.Warn("client buffer full, in-app message dropped",
				"client_id", client.id,
				"notification_id", msg.NotificationID,
			)
		}
	}
	return reached
}

// GetClientCount returns the number of connected clients
func (h *WebSocketHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func targetOf(event domain.Event) eventTarget {
	switch e := event.(type) {
	case domain.NotificationSentEvent:
		return eventTarget{notificationID: e.NotificationID, batchID: e.BatchID, channel: e.Channel}
	case domain.NotificationFailedEvent:
		return eventTarget{notificationID: e.NotificationID, batchID: e.BatchID, channel: e.Channel}
	case domain.NotificationDeliveredEvent:
		return eventTarget{notificationID: e.NotificationID, channel: e.Channel}
	case domain.BatchCompletedEvent:
		return eventTarget{batchID: e.BatchID, channel: e.Channel}
	}
	return eventTarget{}
}

func (c *WebSocketClient) setFilter(f *ClientFilter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

// shouldReceive reports whether any filter matches; no filter receives everything
func (c *WebSocketClient) shouldReceive(t eventTarget) bool {
	c.mu.Lock()
	f := c.filter
	c.mu.Unlock()

	if f == nil {
		return true
	}
	if len(f.NotificationIDs) == 0 && len(f.BatchIDs) == 0 && len(f.Channels) == 0 {
		return true
	}

	if t.notificationID != "" && slices.Contains(f.NotificationIDs, t.notificationID) {
		return true
	}
	if t.batchID != "" && slices.Contains(f.BatchIDs, t.batchID) {
		return true
	}
	return slices.Contains(f.Channels, t.channel)
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub *WebSocketHub
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *WebSocketHub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleWebSocket upgrades the connection. An optional user_id query
// parameter subscribes the connection to that user's in-app messages.
// @Summary WebSocket connection
// @Description Connect to WebSocket for real-time notification updates
// @Tags websocket
// @Param user_id query string false "Recipient id for in-app messages"
// @Success 101 {string} string "Switching Protocols"
// @Router /ws [get]
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var userID domain.UserID
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := domain.ParseUserID(raw)
		if err != nil {
			HandleError(w, h.hub.logger, err)
			return
		}
		userID = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Error("failed to upgrade websocket", "error", err)
		return
	}

	client := &WebSocketClient{
		hub:    h.hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		id:     uuid.New().String(),
		userID: userID,
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the websocket connection to the hub
func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "error", err)
			}
			break
		}

		var subMsg SubscribeMessage
		if err := json.Unmarshal(message, &subMsg); err != nil {
			continue
		}

		switch subMsg.Action {
		case "subscribe":
			c.setFilter(&subMsg.Filter)
			c.hub.logger.Info("client subscribed with filter", "client_id", c.id, "filter", subMsg.Filter)
		case "unsubscribe":
			c.setFilter(nil)
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one frame per message so clients can decode each as JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
