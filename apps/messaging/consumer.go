package main

import (
	"context"
	"log/slog"

	"github.com/baithak/sandesh/pkg/model"
	"github.com/baithak/sandesh/pkg/store"
)

// Indexer keeps the chat-partner lists and unread counters current. Message
// persistence itself happens synchronously at submit time; this consumer owns
// only the derived bookkeeping, so it can lag without anyone losing a
// message.
type Indexer struct {
	store store.Store
	log   *slog.Logger
}

func NewIndexer(st store.Store, log *slog.Logger) *Indexer {
	return &Indexer{store: st, log: log}
}

func (ix *Indexer) Handle(ev model.Event) {
	if ev.Type != model.EventNewMessage || ev.Message == nil {
		return
	}
	msg := *ev.Message

	if err := ix.store.RecordConversation(context.Background(), msg); err != nil {
		ix.log.Error("record conversation",
			"sender", msg.SenderID, "receiver", msg.ReceiverID, "error", err)
		return
	}
	ix.log.Debug("conversation indexed", "message_id", msg.ID,
		"conversation", model.ConversationID(msg.SenderID, msg.ReceiverID))
}
