// Package chatclient implements the client side of the message
// synchronisation protocol: optimistic send with server reconciliation,
// push-event ingestion scoped to the open conversation, and read-receipt
// handling.
package chatclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/baithak/sandesh/pkg/model"
)

var ErrNoPeerSelected = errors.New("no conversation selected")

// API is the request/response boundary the engine talks to.
type API interface {
	Contacts(ctx context.Context) ([]model.Contact, error)
	ChatPartners(ctx context.Context) ([]model.Conversation, error)
	History(ctx context.Context, peerID string) ([]model.Message, error)
	Send(ctx context.Context, peerID, text, image string) (model.Message, error)
}

// Pusher is the persistent push channel. Subscribe attaches the single event
// listener; the returned Subscription is the only teardown path. EmitMarkRead
// is fire-and-forget.
type Pusher interface {
	Subscribe(fn func(model.Event)) (Subscription, error)
	EmitMarkRead(peerID string) error
}

type Subscription interface {
	Cancel()
}

// Engine is the per-session conversation state machine. All mutations happen
// under one mutex, so a push event arriving mid-send cannot clobber the
// optimistic entry and vice versa; every mutation is targeted (append,
// replace, remove), never a wholesale overwrite while a send is open.
type Engine struct {
	userID string
	api    API
	push   Pusher
	log    *slog.Logger

	// notify fires on an incoming message when sound is enabled.
	notify func()
	// onChange fires after any entries mutation, outside the lock.
	onChange func()

	mu       sync.Mutex
	selected string
	entries  []Entry
	loading  bool
	sub      Subscription
	sound    bool
	// loadGen invalidates in-flight history fetches when the selection moves.
	loadGen uint64
}

func NewEngine(userID string, api API, push Pusher, log *slog.Logger) *Engine {
	return &Engine{
		userID: userID,
		api:    api,
		push:   push,
		log:    log,
	}
}

// SetNotify installs the new-message notification hook (the sound player).
func (e *Engine) SetNotify(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notify = fn
}

// SetOnChange installs a hook called after every entries mutation. UIs use it
// to re-render.
func (e *Engine) SetOnChange(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

func (e *Engine) SetSoundEnabled(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sound = on
}

func (e *Engine) SoundEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sound
}

func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

func (e *Engine) SelectedPeer() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// Entries returns a snapshot of the conversation view in display order.
func (e *Engine) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Entry, len(e.entries))
	copy(out, e.entries)
	return out
}

func (e *Engine) Contacts(ctx context.Context) ([]model.Contact, error) {
	return e.api.Contacts(ctx)
}

func (e *Engine) ChatPartners(ctx context.Context) ([]model.Conversation, error) {
	return e.api.ChatPartners(ctx)
}

// SelectPeer moves the active conversation: the old subscription is fully
// released before anything else happens, then the history is loaded, a fresh
// subscription attached, and a read-mark emitted for the newly opened
// conversation.
func (e *Engine) SelectPeer(ctx context.Context, peerID string) error {
	e.mu.Lock()
	if e.sub != nil {
		e.sub.Cancel()
		e.sub = nil
	}
	e.selected = peerID
	e.loadGen++
	gen := e.loadGen
	e.mu.Unlock()

	loadErr := e.loadHistory(ctx, peerID, gen)

	e.mu.Lock()
	current := e.selected == peerID
	if current && e.sub == nil {
		sub, err := e.push.Subscribe(e.ingest)
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("subscribe: %w", err)
		}
		e.sub = sub
	}
	e.mu.Unlock()

	// If the selection already moved on, this call is stale end to end:
	// marking the abandoned conversation read would flip messages the user
	// never saw rendered.
	if !current {
		return loadErr
	}

	// The conversation is now open, so everything the peer sent counts as
	// read. No local mutation: our own view flips via the receipt the peer's
	// session receives, and unread counts are server state.
	if err := e.push.EmitMarkRead(peerID); err != nil {
		e.log.Warn("emit read mark", "peer", peerID, "error", err)
	}

	return loadErr
}

// LoadHistory refreshes the active conversation from the durable store. On
// failure the current view is left untouched.
func (e *Engine) LoadHistory(ctx context.Context, peerID string) error {
	e.mu.Lock()
	e.loadGen++
	gen := e.loadGen
	e.mu.Unlock()
	return e.loadHistory(ctx, peerID, gen)
}

func (e *Engine) loadHistory(ctx context.Context, peerID string, gen uint64) error {
	e.mu.Lock()
	e.loading = true
	e.mu.Unlock()

	msgs, err := e.api.History(ctx, peerID)

	e.mu.Lock()
	e.loading = false
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("load history: %w", err)
	}
	if gen != e.loadGen || e.selected != peerID {
		// The selection moved while this fetch was in flight. Applying it
		// would overwrite the newer conversation's view.
		e.mu.Unlock()
		e.log.Debug("discarding stale history", "peer", peerID)
		return nil
	}
	entries := make([]Entry, len(msgs))
	for i, m := range msgs {
		entries[i] = Confirmed{m}
	}
	e.entries = entries
	e.mu.Unlock()

	e.changed()
	return nil
}

// Send appends an optimistic entry before the network round-trip, then
// reconciles it with the server's answer: on success the temp entry is
// swapped for the confirmed record in a single locked mutation, on failure it
// is removed with no residue. If the user switched conversations while the
// request was in flight, the reconciliation quietly drops the temp entry; the
// confirmed copy is durable and returns with the next history load.
func (e *Engine) Send(ctx context.Context, text, image string) error {
	e.mu.Lock()
	peerID := e.selected
	if peerID == "" {
		e.mu.Unlock()
		return ErrNoPeerSelected
	}
	tempID := newTempID()
	e.entries = append(e.entries, Pending{
		TempID:     tempID,
		SenderID:   e.userID,
		ReceiverID: peerID,
		Text:       text,
		Image:      image,
		CreatedAt:  time.Now(),
	})
	e.mu.Unlock()
	e.changed()

	msg, err := e.api.Send(ctx, peerID, text, image)

	e.mu.Lock()
	if err != nil {
		e.removeTempLocked(tempID)
		e.mu.Unlock()
		e.changed()
		return fmt.Errorf("send message: %w", err)
	}
	if e.selected == peerID {
		e.replaceTempLocked(tempID, Confirmed{msg})
	} else {
		e.removeTempLocked(tempID)
	}
	e.mu.Unlock()

	e.changed()
	return nil
}

// removeTempLocked drops the pending entry with the given temp ID, if it is
// still present. Callers hold e.mu.
func (e *Engine) removeTempLocked(tempID string) {
	for i, entry := range e.entries {
		if p, ok := entry.(Pending); ok && p.TempID == tempID {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			return
		}
	}
}

// replaceTempLocked removes the pending entry and appends its confirmed
// counterpart as one mutation, so no interleaved reader ever sees both or
// neither. If a history reload already brought in the confirmed record, the
// append is skipped: the view never holds two entries with one identity.
// Callers hold e.mu.
func (e *Engine) replaceTempLocked(tempID string, c Confirmed) {
	e.removeTempLocked(tempID)
	if e.hasConfirmedLocked(c.ID) {
		return
	}
	e.entries = append(e.entries, c)
}

func (e *Engine) hasConfirmedLocked(id int64) bool {
	for _, entry := range e.entries {
		if c, ok := entry.(Confirmed); ok && c.ID == id {
			return true
		}
	}
	return false
}

// EmitMarkRead tells the server the local user has read everything peerID
// sent. Fire-and-forget: local read state only changes through the receipt
// push the message sender receives.
func (e *Engine) EmitMarkRead(peerID string) {
	if err := e.push.EmitMarkRead(peerID); err != nil {
		e.log.Warn("emit read mark", "peer", peerID, "error", err)
	}
}

// Teardown releases the push listener. Safe to call repeatedly or with no
// subscription active.
func (e *Engine) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sub != nil {
		e.sub.Cancel()
		e.sub = nil
	}
}

// ingest is the push-event listener. It runs on the transport's read
// goroutine; every state change it makes goes through the same mutex as the
// user-driven operations.
func (e *Engine) ingest(ev model.Event) {
	switch ev.Type {
	case model.EventNewMessage:
		if ev.Message == nil {
			e.log.Warn("dropping new_message event without payload")
			return
		}
		e.ingestNewMessage(*ev.Message)
	case model.EventReadReceipt:
		if ev.ReaderID == "" {
			e.log.Warn("dropping read_receipt event without reader")
			return
		}
		e.ingestReadReceipt(ev.ReaderID)
	default:
		e.log.Warn("dropping unknown push event", "type", ev.Type)
	}
}

func (e *Engine) ingestNewMessage(msg model.Message) {
	e.mu.Lock()
	if e.selected == "" || msg.SenderID != e.selected {
		// Not the open conversation; unread-badge bookkeeping is server
		// state, nothing to do here.
		e.mu.Unlock()
		return
	}
	if e.hasConfirmedLocked(msg.ID) {
		// The bus delivers at least once, and a history reload can land the
		// same record ahead of its push. Either way the message is already on
		// screen and already marked read.
		e.mu.Unlock()
		return
	}
	e.entries = append(e.entries, Confirmed{msg})
	sound := e.sound
	notify := e.notify
	e.mu.Unlock()

	e.changed()

	// The conversation is on screen, so the message is seen on arrival.
	if err := e.push.EmitMarkRead(msg.SenderID); err != nil {
		e.log.Warn("emit read mark", "peer", msg.SenderID, "error", err)
	}

	if sound && notify != nil {
		notify()
	}
}

// ingestReadReceipt flips the most recent unread message we sent to the
// reader. The server flipped the whole unread set; naming only the latest
// outstanding entry here approximates that batch truth with the information
// the receipt carries (just the reader). A history reload converges the view;
// extending the receipt payload to carry the flipped message IDs is the
// protocol change that would remove the approximation.
func (e *Engine) ingestReadReceipt(readerID string) {
	e.mu.Lock()
	flipped := false
	for i := len(e.entries) - 1; i >= 0; i-- {
		c, ok := e.entries[i].(Confirmed)
		if !ok || c.SenderID != e.userID || c.ReceiverID != readerID || c.IsRead {
			continue
		}
		c.IsRead = true
		e.entries[i] = c
		flipped = true
		break
	}
	e.mu.Unlock()

	if flipped {
		e.changed()
	}
}

func (e *Engine) changed() {
	e.mu.Lock()
	fn := e.onChange
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}
