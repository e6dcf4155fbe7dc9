package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/baithak/sandesh/pkg/model"
	"github.com/baithak/sandesh/pkg/snowflake"
)

// memStore is an in-memory Store for exercising the fanout paths.
type memStore struct {
	mu        sync.Mutex
	msgs      []model.Message
	insertErr error
}

func (s *memStore) Insert(_ context.Context, msg model.Message) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *memStore) History(_ context.Context, userA, userB string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.msgs {
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) MarkRead(_ context.Context, readerID, peerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i, m := range s.msgs {
		if m.SenderID == peerID && m.ReceiverID == readerID && !m.IsRead {
			s.msgs[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *memStore) RecordConversation(context.Context, model.Message) error { return nil }

func (s *memStore) Conversations(context.Context, string) ([]model.Conversation, error) {
	return nil, nil
}

func (s *memStore) UpsertUser(context.Context, string, string) error { return nil }

func (s *memStore) Contacts(context.Context) ([]model.Contact, error) { return nil, nil }

type capturePublisher struct {
	events []model.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, ev model.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

type capturePusher struct {
	online map[string]bool
	pushed []model.Event
	to     []string
}

func (p *capturePusher) Push(userID string, ev model.Event) bool {
	if !p.online[userID] {
		return false
	}
	p.to = append(p.to, userID)
	p.pushed = append(p.pushed, ev)
	return true
}

func newIDs(t *testing.T) *snowflake.Node {
	t.Helper()
	n, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestDelivery_Submit(t *testing.T) {
	st := &memStore{}
	pub := &capturePublisher{}
	d := &Delivery{Store: st, IDs: newIDs(t), Bus: pub, Log: slogt.New(t)}

	msg, err := d.Submit(context.Background(), "alice", "bob", "hi", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if msg.ID == 0 {
		t.Error("no durable identity assigned")
	}
	if msg.CreatedAt.IsZero() {
		t.Error("no timestamp assigned")
	}
	if msg.IsRead {
		t.Error("new message must start unread")
	}

	if len(st.msgs) != 1 {
		t.Fatalf("stored %d messages, want 1", len(st.msgs))
	}
	if diff := cmp.Diff(msg, st.msgs[0]); diff != "" {
		t.Errorf("stored message differs from returned (-want +got):\n%s", diff)
	}

	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Type != model.EventNewMessage || ev.Message == nil || ev.Message.ID != msg.ID {
		t.Errorf("unexpected published event %+v", ev)
	}
}

func TestDelivery_Submit_EmptyBody(t *testing.T) {
	d := &Delivery{Store: &memStore{}, IDs: newIDs(t), Bus: &capturePublisher{}, Log: slogt.New(t)}

	if _, err := d.Submit(context.Background(), "alice", "bob", "", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("got %v, want ErrEmptyMessage", err)
	}
}

func TestDelivery_Submit_StoreFailure(t *testing.T) {
	pub := &capturePublisher{}
	d := &Delivery{
		Store: &memStore{insertErr: errors.New("scylla down")},
		IDs:   newIDs(t),
		Bus:   pub,
		Log:   slogt.New(t),
	}

	if _, err := d.Submit(context.Background(), "alice", "bob", "hi", ""); err == nil {
		t.Fatal("expected error when the store fails")
	}
	if len(pub.events) != 0 {
		t.Fatal("nothing may be published for an unpersisted message")
	}
}

func TestDelivery_Submit_PublishFailureStillConfirms(t *testing.T) {
	st := &memStore{}
	d := &Delivery{
		Store: st,
		IDs:   newIDs(t),
		Bus:   &capturePublisher{err: errors.New("kafka down")},
		Log:   slogt.New(t),
	}

	msg, err := d.Submit(context.Background(), "alice", "bob", "hi", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	// The message is durable; history fetch covers the missed push.
	if len(st.msgs) != 1 || st.msgs[0].ID != msg.ID {
		t.Fatal("message not persisted")
	}
}

func TestReceipts_MarkRead_FlipsAndPushes(t *testing.T) {
	st := &memStore{msgs: []model.Message{
		{ID: 1, SenderID: "alice", ReceiverID: "bob"},
		{ID: 2, SenderID: "alice", ReceiverID: "bob"},
		{ID: 3, SenderID: "bob", ReceiverID: "alice"},
	}}
	pusher := &capturePusher{online: map[string]bool{"alice": true}}
	r := &Receipts{Store: st, Reg: pusher, Log: slogt.New(t)}

	if err := r.MarkRead(context.Background(), "bob", "alice"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	for _, m := range st.msgs[:2] {
		if !m.IsRead {
			t.Errorf("message %d still unread", m.ID)
		}
	}
	if st.msgs[2].IsRead {
		t.Error("message in the other direction was flipped")
	}

	if len(pusher.pushed) != 1 {
		t.Fatalf("pushed %d receipts, want 1", len(pusher.pushed))
	}
	if pusher.to[0] != "alice" {
		t.Errorf("receipt went to %s, want alice", pusher.to[0])
	}
	ev := pusher.pushed[0]
	if ev.Type != model.EventReadReceipt || ev.ReaderID != "bob" {
		t.Errorf("unexpected receipt event %+v", ev)
	}
}

func TestReceipts_MarkRead_NoUnreadIsNoOp(t *testing.T) {
	st := &memStore{msgs: []model.Message{
		{ID: 1, SenderID: "alice", ReceiverID: "bob", IsRead: true},
	}}
	pusher := &capturePusher{online: map[string]bool{"alice": true}}
	r := &Receipts{Store: st, Reg: pusher, Log: slogt.New(t)}

	// Twice: the repeat must also be a clean no-op.
	for i := 0; i < 2; i++ {
		if err := r.MarkRead(context.Background(), "bob", "alice"); err != nil {
			t.Fatalf("MarkRead #%d failed: %v", i+1, err)
		}
	}
	if len(pusher.pushed) != 0 {
		t.Fatalf("pushed %d events, want none", len(pusher.pushed))
	}
}

func TestReceipts_MarkRead_SenderOffline(t *testing.T) {
	st := &memStore{msgs: []model.Message{
		{ID: 1, SenderID: "alice", ReceiverID: "bob"},
	}}
	r := &Receipts{Store: st, Reg: &capturePusher{online: map[string]bool{}}, Log: slogt.New(t)}

	// The flip still happens; the push is silently skipped.
	if err := r.MarkRead(context.Background(), "bob", "alice"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if !st.msgs[0].IsRead {
		t.Fatal("message not flipped for an offline sender")
	}
}
