package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/baithak/sandesh/pkg/model"
)

// Postgres is the relational store variant. Unlike Scylla it can flip the
// whole unread set in a single statement, so MarkRead needs no extra
// serialisation beyond the database itself.
type Postgres struct {
	bun *bun.DB
}

// OpenPostgres connects and pings the database to ensure the connection is
// working.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{bun: bun.NewDB(sqlDB, pgdialect.New())}, nil
}

func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

// Init creates the tables if they do not exist.
func (pg *Postgres) Init(ctx context.Context) error {
	models := []any{(*pgMessage)(nil), (*pgConversation)(nil), (*pgUser)(nil)}
	for _, m := range models {
		if _, err := pg.bun.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

type pgMessage struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID         int64     `bun:"id,pk"`
	SenderID   string    `bun:"sender_id,notnull"`
	ReceiverID string    `bun:"receiver_id,notnull"`
	Text       string    `bun:"text"`
	Image      string    `bun:"image"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	IsRead     bool      `bun:"is_read,notnull,default:false"`
}

func (m *pgMessage) toModel() model.Message {
	return model.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Image:      m.Image,
		CreatedAt:  m.CreatedAt,
		IsRead:     m.IsRead,
	}
}

type pgConversation struct {
	bun.BaseModel `bun:"table:user_conversations,alias:uc"`

	UserID      string    `bun:"user_id,pk"`
	OtherUserID string    `bun:"other_user_id,pk"`
	LastUpdated time.Time `bun:"last_updated,notnull"`
	UnreadCount int64     `bun:"unread_count,notnull,default:0"`
}

type pgUser struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	UserID   string    `bun:"user_id,pk"`
	Name     string    `bun:"name"`
	LastSeen time.Time `bun:"last_seen,notnull"`
}

func (pg *Postgres) Insert(ctx context.Context, msg model.Message) error {
	m := &pgMessage{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		Image:      msg.Image,
		CreatedAt:  msg.CreatedAt,
		IsRead:     msg.IsRead,
	}
	if _, err := pg.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (pg *Postgres) History(ctx context.Context, userA, userB string) ([]model.Message, error) {
	var msgs []pgMessage
	err := pg.bun.NewSelect().
		Model(&msgs).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}

	out := make([]model.Message, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].toModel()
	}
	return out, nil
}

func (pg *Postgres) MarkRead(ctx context.Context, readerID, peerID string) (int, error) {
	res, err := pg.bun.NewUpdate().
		Model((*pgMessage)(nil)).
		Set("is_read = TRUE").
		Where("sender_id = ?", peerID).
		Where("receiver_id = ?", readerID).
		Where("is_read = FALSE").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if n > 0 {
		_, err = pg.bun.NewUpdate().
			Model((*pgConversation)(nil)).
			Set("unread_count = 0").
			Where("user_id = ?", readerID).
			Where("other_user_id = ?", peerID).
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("reset unread count: %w", err)
		}
	}

	return int(n), nil
}

func (pg *Postgres) RecordConversation(ctx context.Context, msg model.Message) error {
	sender := &pgConversation{
		UserID:      msg.SenderID,
		OtherUserID: msg.ReceiverID,
		LastUpdated: msg.CreatedAt,
	}
	_, err := pg.bun.NewInsert().
		Model(sender).
		On("CONFLICT (user_id, other_user_id) DO UPDATE").
		Set("last_updated = EXCLUDED.last_updated").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update conversation for sender: %w", err)
	}

	receiver := &pgConversation{
		UserID:      msg.ReceiverID,
		OtherUserID: msg.SenderID,
		LastUpdated: msg.CreatedAt,
		UnreadCount: 1,
	}
	_, err = pg.bun.NewInsert().
		Model(receiver).
		On("CONFLICT (user_id, other_user_id) DO UPDATE").
		Set("last_updated = EXCLUDED.last_updated").
		Set("unread_count = uc.unread_count + 1").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update conversation for receiver: %w", err)
	}
	return nil
}

func (pg *Postgres) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	var convs []pgConversation
	err := pg.bun.NewSelect().
		Model(&convs).
		Where("user_id = ?", userID).
		Order("last_updated DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan conversations: %w", err)
	}

	out := make([]model.Conversation, len(convs))
	for i, c := range convs {
		out[i] = model.Conversation{
			UserID:      c.UserID,
			OtherUserID: c.OtherUserID,
			LastUpdated: c.LastUpdated,
			UnreadCount: c.UnreadCount,
		}
	}
	return out, nil
}

func (pg *Postgres) UpsertUser(ctx context.Context, userID, name string) error {
	u := &pgUser{UserID: userID, Name: name, LastSeen: time.Now().UTC()}
	_, err := pg.bun.NewInsert().
		Model(u).
		On("CONFLICT (user_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("last_seen = EXCLUDED.last_seen").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (pg *Postgres) Contacts(ctx context.Context) ([]model.Contact, error) {
	var users []pgUser
	if err := pg.bun.NewSelect().Model(&users).Order("user_id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}

	out := make([]model.Contact, len(users))
	for i, u := range users {
		out[i] = model.Contact{UserID: u.UserID, Name: u.Name}
	}
	return out, nil
}
