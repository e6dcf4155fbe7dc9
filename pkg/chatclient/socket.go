package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/baithak/sandesh/pkg/model"
)

const writeWait = 10 * time.Second

var ErrAlreadySubscribed = errors.New("a subscription is already active")

// Socket is the client side of the push channel. One listener may be attached
// at a time; the Subscription returned by Subscribe is the only way to detach
// it, and a stale Subscription cannot detach its successor.
type Socket struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	active  *socketSub
	handler func(model.Event)

	done chan struct{}
}

// DialSocket connects to the gateway websocket endpoint with the session
// token and starts the read loop.
func DialSocket(ctx context.Context, gatewayURL, token string, log *slog.Logger) (*Socket, error) {
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, gatewayURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	s := &Socket{
		conn: conn,
		log:  log,
		done: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Socket) readLoop() {
	defer close(s.done)
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Error("push connection closed", "error", err)
			}
			return
		}

		var ev model.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.log.Warn("dropping malformed push frame", "error", err)
			continue
		}

		s.mu.Lock()
		handler := s.handler
		s.mu.Unlock()
		if handler != nil {
			handler(ev)
		}
	}
}

// Subscribe attaches the event listener. The engine releases its prior
// subscription before creating a new one, so a second concurrent listener is
// a programming error, not something to paper over.
func (s *Socket) Subscribe(fn func(model.Event)) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, ErrAlreadySubscribed
	}
	sub := &socketSub{socket: s}
	s.active = sub
	s.handler = fn
	return sub, nil
}

// EmitMarkRead sends a mark_read frame for the given peer.
func (s *Socket) EmitMarkRead(peerID string) error {
	return s.writeEvent(model.Event{Type: model.EventMarkRead, PeerID: peerID})
}

func (s *Socket) writeEvent(ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close sends a close frame and waits briefly for the server to finish the
// handshake.
func (s *Socket) Close() error {
	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	if err == nil {
		select {
		case <-s.done:
		case <-time.After(time.Second):
		}
	}
	return s.conn.Close()
}

// Done is closed when the read loop exits.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

type socketSub struct {
	socket *Socket
}

// Cancel detaches the listener. Cancelling a subscription that was already
// replaced or cancelled is a no-op.
func (sub *socketSub) Cancel() {
	s := sub.socket
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == sub {
		s.active = nil
		s.handler = nil
	}
}
