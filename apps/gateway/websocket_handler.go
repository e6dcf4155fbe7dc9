package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/baithak/sandesh/pkg/auth"
	"github.com/baithak/sandesh/pkg/config"
	"github.com/baithak/sandesh/pkg/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one user's live push connection. It satisfies registry.Handle:
// Send queues without blocking and reports refusal so the registry can evict
// a stalled connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan model.Event
	userID string

	mu     sync.Mutex
	closed bool
}

func (c *Client) Send(ev model.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump consumes frames from the peer. The only meaningful inbound frame
// is mark_read; everything else is dropped with a warning.
func (c *Client) readPump(wsCfg config.GatewayConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	pongWait := time.Duration(wsCfg.PongWaitSeconds) * time.Second
	c.conn.SetReadLimit(wsCfg.MaxMessageSizeBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error("read frame", "user", c.userID, "error", err)
			}
			break
		}

		var ev model.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.hub.log.Warn("dropping malformed frame", "user", c.userID, "error", err)
			continue
		}

		switch ev.Type {
		case model.EventMarkRead:
			c.hub.handleMarkRead(c, ev.PeerID)
		default:
			c.hub.log.Warn("dropping unexpected frame", "user", c.userID, "type", ev.Type)
		}
	}
}

// writePump forwards queued events to the peer and keeps the connection alive
// with pings.
func (c *Client) writePump(wsCfg config.GatewayConfig) {
	writeWait := time.Duration(wsCfg.WriteWaitSeconds) * time.Second
	pingPeriod := time.Duration(wsCfg.PongWaitSeconds) * time.Second * 9 / 10

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				c.hub.log.Error("marshal event", "user", c.userID, "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// serveWs authenticates the request and hands the upgraded connection to the
// hub.
func serveWs(hub *Hub, tokens *auth.Manager, wsCfg config.GatewayConfig, w http.ResponseWriter, r *http.Request) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		// Browser websocket clients cannot set headers.
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	claims, err := tokens.ValidateToken(tokenString)
	if err != nil {
		hub.log.Warn("rejecting connection", "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Error("upgrade", "error", err)
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan model.Event, 256),
		userID: claims.UserID,
	}
	hub.register(client)

	go client.writePump(wsCfg)
	go client.readPump(wsCfg)
}
