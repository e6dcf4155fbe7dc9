package model

import "time"

type EventType string

const (
	// Server -> client: a message addressed to the connected user.
	EventNewMessage EventType = "new_message"
	// Client -> server: "I have read everything PeerID sent me."
	EventMarkRead EventType = "mark_read"
	// Server -> client: "ReaderID has read your messages."
	EventReadReceipt EventType = "read_receipt"
)

// Message is the durable chat record. Unconfirmed (optimistic) messages are a
// separate client-side type and never appear on the wire or in storage.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	IsRead     bool      `json:"is_read"`
}

// Event is the envelope for frames on the push channel and on the bus. Which
// fields are set depends on Type; unknown or incomplete events are dropped by
// receivers, never fatal.
type Event struct {
	Type     EventType `json:"type"`
	Message  *Message  `json:"message,omitempty"`
	PeerID   string    `json:"peer_id,omitempty"`
	ReaderID string    `json:"reader_id,omitempty"`
}

type Contact struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Online bool   `json:"online"`
}

// Conversation is one row of a user's chat-partner list.
type Conversation struct {
	UserID      string    `json:"user_id"`
	OtherUserID string    `json:"other_user_id"`
	LastUpdated time.Time `json:"last_updated"`
	UnreadCount int64     `json:"unread_count"`
}
