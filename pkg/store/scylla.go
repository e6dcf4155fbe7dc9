package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/baithak/sandesh/pkg/db"
	"github.com/baithak/sandesh/pkg/model"
)

// Scylla stores messages partitioned by conversation ID, clustered by the
// snowflake message ID in ascending order so history reads come back in
// insertion order.
type Scylla struct {
	session *db.Session

	// Scylla has no multi-row conditional update, so MarkRead is a read of
	// the unread set followed by per-row updates. The per-conversation lock
	// serialises that read-then-write against concurrent MarkRead calls for
	// the same pair. Independent conversations do not contend.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func OpenScylla(hosts []string, keyspace string) (*Scylla, error) {
	session, err := db.NewSession(hosts, keyspace)
	if err != nil {
		return nil, fmt.Errorf("connect scylla: %w", err)
	}
	return &Scylla{
		session: session,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

func (s *Scylla) Close() {
	s.session.Close()
}

func (s *Scylla) convLock(convID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[convID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[convID] = l
	}
	return l
}

func (s *Scylla) Insert(ctx context.Context, msg model.Message) error {
	convID := model.ConversationID(msg.SenderID, msg.ReceiverID)

	l := s.convLock(convID)
	l.Lock()
	defer l.Unlock()

	q := `INSERT INTO messages (conversation_id, id, sender_id, receiver_id, text, image, created_at, is_read)
	      VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if err := s.session.Query(q,
		convID, msg.ID, msg.SenderID, msg.ReceiverID, msg.Text, msg.Image, msg.CreatedAt, msg.IsRead,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Scylla) History(ctx context.Context, userA, userB string) ([]model.Message, error) {
	convID := model.ConversationID(userA, userB)

	iter := s.session.Query(
		`SELECT id, sender_id, receiver_id, text, image, created_at, is_read
		 FROM messages WHERE conversation_id = ?`, convID,
	).WithContext(ctx).Iter()

	var msgs []model.Message
	var m model.Message
	for iter.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Image, &m.CreatedAt, &m.IsRead) {
		msgs = append(msgs, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func (s *Scylla) MarkRead(ctx context.Context, readerID, peerID string) (int, error) {
	convID := model.ConversationID(readerID, peerID)

	l := s.convLock(convID)
	l.Lock()
	defer l.Unlock()

	iter := s.session.Query(
		`SELECT id, sender_id, receiver_id, is_read FROM messages WHERE conversation_id = ?`, convID,
	).WithContext(ctx).Iter()

	var unread []int64
	var id int64
	var senderID, receiverID string
	var isRead bool
	for iter.Scan(&id, &senderID, &receiverID, &isRead) {
		if senderID == peerID && receiverID == readerID && !isRead {
			unread = append(unread, id)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("scan unread: %w", err)
	}

	for _, id := range unread {
		if err := s.session.Query(
			`UPDATE messages SET is_read = true WHERE conversation_id = ? AND id = ?`, convID, id,
		).WithContext(ctx).Exec(); err != nil {
			return 0, fmt.Errorf("mark message %d read: %w", id, err)
		}
	}

	if len(unread) > 0 {
		// Counter columns reset by row deletion.
		if err := s.session.Query(
			`DELETE FROM conversation_counters WHERE user_id = ? AND other_user_id = ?`, readerID, peerID,
		).WithContext(ctx).Exec(); err != nil {
			return 0, fmt.Errorf("reset unread count: %w", err)
		}
	}

	return len(unread), nil
}

func (s *Scylla) RecordConversation(ctx context.Context, msg model.Message) error {
	q := `INSERT INTO user_conversations (user_id, other_user_id, last_updated) VALUES (?, ?, ?)`
	if err := s.session.Query(q, msg.SenderID, msg.ReceiverID, msg.CreatedAt).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("update conversation for sender: %w", err)
	}
	if err := s.session.Query(q, msg.ReceiverID, msg.SenderID, msg.CreatedAt).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("update conversation for receiver: %w", err)
	}

	if err := s.session.Query(
		`UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE user_id = ? AND other_user_id = ?`,
		msg.ReceiverID, msg.SenderID,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("increment unread count: %w", err)
	}
	return nil
}

func (s *Scylla) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	iter := s.session.Query(
		`SELECT user_id, other_user_id, last_updated FROM user_conversations WHERE user_id = ?`, userID,
	).WithContext(ctx).Iter()

	var convs []model.Conversation
	var c model.Conversation
	for iter.Scan(&c.UserID, &c.OtherUserID, &c.LastUpdated) {
		var count int64
		if err := s.session.Query(
			`SELECT unread_count FROM conversation_counters WHERE user_id = ? AND other_user_id = ?`,
			c.UserID, c.OtherUserID,
		).WithContext(ctx).Scan(&count); err == nil {
			c.UnreadCount = count
		}
		convs = append(convs, c)
		c = model.Conversation{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

func (s *Scylla) UpsertUser(ctx context.Context, userID, name string) error {
	if err := s.session.Query(
		`INSERT INTO users (user_id, name, last_seen) VALUES (?, ?, ?)`,
		userID, name, time.Now().UTC(),
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Scylla) Contacts(ctx context.Context) ([]model.Contact, error) {
	iter := s.session.Query(`SELECT user_id, name FROM users`).WithContext(ctx).Iter()

	var contacts []model.Contact
	var c model.Contact
	for iter.Scan(&c.UserID, &c.Name) {
		contacts = append(contacts, c)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return contacts, nil
}
