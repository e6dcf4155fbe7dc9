package chatclient

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/baithak/sandesh/pkg/model"
)

// Entry is one item in the conversation view. A Pending entry exists only in
// this process, between the local append and the server's answer; a Confirmed
// entry mirrors a durable record. Keeping them as distinct types makes it
// structurally impossible to push or persist an unconfirmed message.
type Entry interface {
	entry()
}

type Pending struct {
	TempID     string
	SenderID   string
	ReceiverID string
	Text       string
	Image      string
	CreatedAt  time.Time
}

func (Pending) entry() {}

type Confirmed struct {
	model.Message
}

func (Confirmed) entry() {}

// newTempID returns an identity unique within this client session. The clock
// component keeps temp IDs ordered; the uuid fragment covers two sends within
// the same nanosecond tick.
func newTempID() string {
	return fmt.Sprintf("temp-%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}
