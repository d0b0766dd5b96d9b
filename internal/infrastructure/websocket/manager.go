package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rentalhub/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 256
)

// Client represents one UI connection of a user. A user may have several.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
	}
}

// Manager tracks the live UI connections and routes their actions to the chat
// service.
type Manager struct {
	clients map[string]map[*Client]bool
	closed  bool
	mutex   sync.RWMutex

	actions          ChatActions
	onLastDisconnect func(userID string)
}

func NewManager() *Manager {
	return &Manager{
		clients: make(map[string]map[*Client]bool),
	}
}

// SetActions wires the chat service. It must be called before clients connect.
func (m *Manager) SetActions(actions ChatActions) {
	m.actions = actions
}

// OnLastDisconnect registers fn to run when a user's last connection closes.
func (m *Manager) OnLastDisconnect(fn func(userID string)) {
	m.onLastDisconnect = fn
}

// Start closes every connection once ctx is done.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		m.closeAll()
	}()
}

// AddClient registers a connection. It reports false once the manager has
// shut down.
func (m *Manager) AddClient(client *Client) bool {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return false
	}
	if m.clients[client.UserID] == nil {
		m.clients[client.UserID] = make(map[*Client]bool)
	}
	m.clients[client.UserID][client] = true
	count := len(m.clients[client.UserID])
	m.mutex.Unlock()

	logger.Info("WebSocket: client registered for user %s (%d open)", client.UserID, count)
	return true
}

// RemoveClient drops one connection. When it was the user's last one the
// OnLastDisconnect callback runs.
func (m *Manager) RemoveClient(client *Client) {
	m.mutex.Lock()
	last := m.removeLocked(client)
	m.mutex.Unlock()

	if last {
		logger.Info("WebSocket: last client of user %s gone", client.UserID)
		if m.onLastDisconnect != nil {
			m.onLastDisconnect(client.UserID)
		}
	}
}

// removeLocked reports whether client was the last connection of its user.
func (m *Manager) removeLocked(client *Client) bool {
	conns, ok := m.clients[client.UserID]
	if !ok || !conns[client] {
		return false
	}
	delete(conns, client)
	close(client.Send)
	if len(conns) == 0 {
		delete(m.clients, client.UserID)
		return true
	}
	return false
}

func (m *Manager) closeAll() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	for userID, conns := range m.clients {
		for client := range conns {
			close(client.Send)
		}
		delete(m.clients, userID)
	}
}

// PushToUser sends a server message to every connection of userID. A
// connection whose buffer is full is dropped.
func (m *Manager) PushToUser(userID, msgType string, data interface{}) {
	payload, err := json.Marshal(WSMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("WebSocket: failed to marshal %s for user %s: %v", msgType, userID, err)
		return
	}

	var last bool
	m.mutex.Lock()
	for client := range m.clients[userID] {
		select {
		case client.Send <- payload:
		default:
			logger.Warn("WebSocket: send buffer of user %s full, dropping connection", userID)
			if m.removeLocked(client) {
				last = true
			}
		}
	}
	m.mutex.Unlock()

	if last && m.onLastDisconnect != nil {
		m.onLastDisconnect(userID)
	}
}

// ConnectionCount reports the open connections of userID.
func (m *Manager) ConnectionCount(userID string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients[userID])
}

// ReadPump reads messages from the WebSocket connection until it fails.
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		m.RemoveClient(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket: read error for user %s: %v", c.UserID, err)
			}
			return
		}
		m.HandleClientMessage(c, message)
	}
}

// WritePump sends queued messages to the WebSocket connection and keeps it
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("WebSocket: write error for user %s: %v", c.UserID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
