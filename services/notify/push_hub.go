package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	MaxPushClients     = 500
	pushWriteTimeout   = 10 * time.Second
	pushPongTimeout    = 60 * time.Second
	pushPingInterval   = (pushPongTimeout * 9) / 10
	pushSendBufferSize = 64
)

// PushMessage is the frame sent to subscribed websocket clients
type PushMessage struct {
	Type    string `json:"type"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	Time    string `json:"time"`
}

// pushClient is one websocket connection and the user ids it listens for
type pushClient struct {
	conn  *websocket.Conn
	send  chan []byte
	users map[uint]bool
	mu    sync.RWMutex
}

func (c *pushClient) wants(userID uint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.users[userID]
}

// PushHub delivers notifications to browser clients over websockets
type PushHub struct {
	clients    map[*pushClient]bool
	register   chan *pushClient
	unregister chan *pushClient
	shutdown   chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	log        logrus.FieldLogger
}

// NewPushHub creates the hub and starts its loop
func NewPushHub(log logrus.FieldLogger) *PushHub {
	h := &PushHub{
		clients:    make(map[*pushClient]bool),
		register:   make(chan *pushClient),
		unregister: make(chan *pushClient),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log.WithField("component", "push_hub"),
	}
	go h.run()
	return h
}

func (h *PushHub) Channel() string { return "push" }

// Shutdown closes every connection and stops the hub loop
func (h *PushHub) Shutdown() {
	h.closeOnce.Do(func() {
		close(h.shutdown)

		h.mu.Lock()
		for client := range h.clients {
			close(client.send)
		}
		h.clients = make(map[*pushClient]bool)
		h.mu.Unlock()

		h.log.Info("Push hub shutdown complete")
	})
}

func (h *PushHub) run() {
	for {
		select {
		case <-h.shutdown:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= MaxPushClients {
				h.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				h.log.WithField("max", MaxPushClients).Warn("Push client rejected, hub full")
				continue
			}
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.WithField("clients", count).Debug("Push client connected")
			go client.writePump()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.log.WithField("clients", count).Debug("Push client disconnected")
		}
	}
}

// Subscribers counts connected clients listening for userID
func (h *PushHub) Subscribers(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.wants(userID) {
			n++
		}
	}
	return n
}

// Send pushes msg to every client subscribed to the recipient. A recipient
// with no open connection is not an error.
func (h *PushHub) Send(_ context.Context, to Recipient, msg *RenderedMessage) error {
	data, err := json.Marshal(PushMessage{
		Type:    "notification",
		Subject: msg.Subject,
		Text:    msg.Text,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	var dropped int
	for c := range h.clients {
		if !c.wants(to.UserID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return errors.New("push client send buffer full")
	}
	return nil
}

// HandleWebSocket upgrades the request and registers the client. Clients send
// {"action":"subscribe","user_ids":[1]} to receive notifications for users.
func (h *PushHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	atCapacity := len(h.clients) >= MaxPushClients
	h.mu.RUnlock()
	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	client := &pushClient{
		conn:  conn,
		send:  make(chan []byte, pushSendBufferSize),
		users: make(map[uint]bool),
	}
	select {
	case h.register <- client:
	case <-h.shutdown:
		conn.Close()
		return
	}
	go client.readPump(h)
}

func (c *pushClient) writePump() {
	ticker := time.NewTicker(pushPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(pushWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(pushWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *pushClient) readPump(h *PushHub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pushPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pushPongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Debug("WebSocket read error")
			}
			return
		}

		var cmd struct {
			Action  string `json:"action"`
			UserIDs []uint `json:"user_ids"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.mu.Lock()
			for _, id := range cmd.UserIDs {
				c.users[id] = true
			}
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			for _, id := range cmd.UserIDs {
				delete(c.users, id)
			}
			c.mu.Unlock()
		}
	}
}
