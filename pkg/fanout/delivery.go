// Package fanout implements the two server-side propagation paths: new
// messages out to their receiver, and read receipts back to the original
// sender.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/baithak/sandesh/pkg/model"
	"github.com/baithak/sandesh/pkg/snowflake"
	"github.com/baithak/sandesh/pkg/store"
)

var ErrEmptyMessage = errors.New("message needs text or an image")

// Publisher puts an event on the bus for the gateway and messaging consumers.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Pusher targets a user's live push connection, reporting whether a delivery
// happened. An offline user is a miss, not an error.
type Pusher interface {
	Push(userID string, ev model.Event) bool
}

// Delivery persists submitted messages and hands them to the bus. The
// confirmed record goes back to the sender synchronously; live push to the
// receiver happens downstream at the gateway.
type Delivery struct {
	Store store.Store
	IDs   *snowflake.Node
	Bus   Publisher
	Log   *slog.Logger
}

// Submit assigns the durable identity and timestamp, stores the message, and
// publishes it. A receiver with no live connection gets nothing pushed; the
// stored record is picked up by their next history fetch. A publish failure
// is logged but not returned: the message is already durable, which is the
// contract with the sender.
func (d *Delivery) Submit(ctx context.Context, senderID, receiverID, text, image string) (model.Message, error) {
	if text == "" && image == "" {
		return model.Message{}, ErrEmptyMessage
	}

	msg := model.Message{
		ID:         d.IDs.Generate(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Image:      image,
		CreatedAt:  time.Now().UTC(),
		IsRead:     false,
	}

	if err := d.Store.Insert(ctx, msg); err != nil {
		return model.Message{}, fmt.Errorf("persist message: %w", err)
	}

	if err := d.Bus.Publish(ctx, model.Event{Type: model.EventNewMessage, Message: &msg}); err != nil {
		d.Log.Error("publish message event", "message_id", msg.ID, "error", err)
	}

	return msg, nil
}
