package main

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/baithak/sandesh/pkg/fanout"
	"github.com/baithak/sandesh/pkg/model"
	"github.com/baithak/sandesh/pkg/registry"
)

const presenceKey = "online_users"

// Hub ties the websocket connections to the registry, the presence set and
// the fanout paths. Unlike a broadcast hub there is no fan-to-room: every
// event targets exactly one user.
type Hub struct {
	reg      *registry.Registry
	receipts *fanout.Receipts
	redis    *redis.Client
	log      *slog.Logger
}

func NewHub(reg *registry.Registry, receipts *fanout.Receipts, rdb *redis.Client, log *slog.Logger) *Hub {
	return &Hub{
		reg:      reg,
		receipts: receipts,
		redis:    rdb,
		log:      log,
	}
}

// register installs c as the user's live connection. A prior connection for
// the same user is closed: one active session per user.
func (h *Hub) register(c *Client) {
	if old := h.reg.Register(c.userID, c); old != nil {
		h.log.Info("replacing existing connection", "user", c.userID)
		old.Close()
	}

	if err := h.redis.SAdd(context.Background(), presenceKey, c.userID).Err(); err != nil {
		h.log.Error("set presence", "user", c.userID, "error", err)
	}
	h.log.Info("client registered", "user", c.userID)
}

// unregister removes c if it is still the user's current connection; a
// connection that was already replaced leaves its successor alone.
func (h *Hub) unregister(c *Client) {
	if h.reg.Unregister(c.userID, c) {
		if err := h.redis.SRem(context.Background(), presenceKey, c.userID).Err(); err != nil {
			h.log.Error("clear presence", "user", c.userID, "error", err)
		}
		h.log.Info("client unregistered", "user", c.userID)
	}
	c.Close()
}

// HandleBusEvent pushes a bus event to its receiver's live connection, if
// there is one. An offline receiver is normal: the message is already durable
// and their next history fetch returns it.
func (h *Hub) HandleBusEvent(ev model.Event) {
	if ev.Type != model.EventNewMessage || ev.Message == nil {
		h.log.Warn("dropping unexpected bus event", "type", ev.Type)
		return
	}
	h.reg.Push(ev.Message.ReceiverID, ev)
}

// handleMarkRead applies an inbound mark_read frame from the connected user.
func (h *Hub) handleMarkRead(c *Client, peerID string) {
	if peerID == "" {
		h.log.Warn("dropping mark_read without peer", "user", c.userID)
		return
	}
	if err := h.receipts.MarkRead(context.Background(), c.userID, peerID); err != nil {
		h.log.Error("mark read", "reader", c.userID, "peer", peerID, "error", err)
	}
}
