// Package store holds the durable message record. Two backends implement the
// same contract: ScyllaDB (conversation-partitioned, the deployment default)
// and PostgreSQL via bun.
package store

import (
	"context"
	"fmt"

	"github.com/baithak/sandesh/pkg/config"
	"github.com/baithak/sandesh/pkg/model"
)

// Store is the persistence contract consumed by the fanout components and the
// HTTP handlers. History order is insertion order (ascending IDs); read state
// only ever moves from unread to read.
type Store interface {
	// Insert appends a confirmed message.
	Insert(ctx context.Context, msg model.Message) error

	// History returns every message between the two users, oldest first.
	History(ctx context.Context, userA, userB string) ([]model.Message, error)

	// MarkRead flips is_read on all unread messages sent by peerID to
	// readerID and reports how many rows changed. Zero is a normal result,
	// not an error.
	MarkRead(ctx context.Context, readerID, peerID string) (int, error)

	// RecordConversation updates both participants' chat-partner entries for
	// the given message and bumps the receiver's unread count.
	RecordConversation(ctx context.Context, msg model.Message) error

	// Conversations returns the user's chat-partner list.
	Conversations(ctx context.Context, userID string) ([]model.Conversation, error)

	// UpsertUser records a user seen at login.
	UpsertUser(ctx context.Context, userID, name string) error

	// Contacts returns all known users.
	Contacts(ctx context.Context) ([]model.Contact, error)
}

// Open builds the store selected by the configuration.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "scylla":
		return OpenScylla(cfg.ScyllaHosts, cfg.Keyspace)
	case "postgres":
		return OpenPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
