package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/neilotoole/slogt"

	"github.com/baithak/sandesh/pkg/auth"
	"github.com/baithak/sandesh/pkg/fanout"
	"github.com/baithak/sandesh/pkg/model"
	"github.com/baithak/sandesh/pkg/snowflake"
)

type teststore struct {
	insert        func(t *testing.T, msg model.Message) error
	history       func(t *testing.T, userA, userB string) ([]model.Message, error)
	markRead      func(t *testing.T, readerID, peerID string) (int, error)
	conversations func(t *testing.T, userID string) ([]model.Conversation, error)
	upsertUser    func(t *testing.T, userID, name string) error
	contacts      func(t *testing.T) ([]model.Contact, error)

	t *testing.T
}

func (s *teststore) Insert(_ context.Context, msg model.Message) error {
	if s.insert == nil {
		return nil
	}
	return s.insert(s.t, msg)
}

func (s *teststore) History(_ context.Context, userA, userB string) ([]model.Message, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history(s.t, userA, userB)
}

func (s *teststore) MarkRead(_ context.Context, readerID, peerID string) (int, error) {
	if s.markRead == nil {
		return 0, nil
	}
	return s.markRead(s.t, readerID, peerID)
}

func (s *teststore) RecordConversation(context.Context, model.Message) error { return nil }

func (s *teststore) Conversations(_ context.Context, userID string) ([]model.Conversation, error) {
	if s.conversations == nil {
		return nil, nil
	}
	return s.conversations(s.t, userID)
}

func (s *teststore) UpsertUser(_ context.Context, userID, name string) error {
	if s.upsertUser == nil {
		return nil
	}
	return s.upsertUser(s.t, userID, name)
}

func (s *teststore) Contacts(context.Context) ([]model.Contact, error) {
	if s.contacts == nil {
		return nil, nil
	}
	return s.contacts(s.t)
}

type testpublisher struct {
	events []model.Event
}

func (p *testpublisher) Publish(_ context.Context, ev model.Event) error {
	p.events = append(p.events, ev)
	return nil
}

type testpresence struct {
	online []string
	err    error
}

func (p testpresence) Online(context.Context) ([]string, error) {
	return p.online, p.err
}

func newTestServer(t *testing.T, st *teststore, pub *testpublisher, pres testpresence) *server {
	t.Helper()
	st.t = t
	log := slogt.New(t)
	ids, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	return &server{
		log:      log,
		store:    st,
		delivery: &fanout.Delivery{Store: st, IDs: ids, Bus: pub, Log: log},
		tokens:   auth.NewManager("test_secret", time.Hour),
		presence: pres,
		validate: validator.New(),
	}
}

func authHeader(t *testing.T, s *server, userID string) string {
	t.Helper()
	token, err := s.tokens.GenerateToken(userID)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + token
}

func TestLogin(t *testing.T) {
	var recorded string
	st := &teststore{
		upsertUser: func(t *testing.T, userID, name string) error {
			recorded = userID
			return nil
		},
	}
	s := newTestServer(t, st, &testpublisher{}, testpresence{})

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"user_id":"alice","name":"Alice"}`))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200: %s", rec.Code, rec.Body)
	}
	if recorded != "alice" {
		t.Errorf("recorded user %q, want alice", recorded)
	}

	var resp loginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	claims, err := s.tokens.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("minted token does not validate: %v", err)
	}
	if claims.UserID != "alice" {
		t.Errorf("token user %q, want alice", claims.UserID)
	}
}

func TestLogin_MissingUserID(t *testing.T) {
	s := newTestServer(t, &teststore{}, &testpublisher{}, testpresence{})

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"name":"nobody"}`))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestSend_PersistsPublishesAndConfirms(t *testing.T) {
	var stored []model.Message
	st := &teststore{
		insert: func(t *testing.T, msg model.Message) error {
			stored = append(stored, msg)
			return nil
		},
	}
	pub := &testpublisher{}
	s := newTestServer(t, st, pub, testpresence{})

	req := httptest.NewRequest(http.MethodPost, "/messages/send/bob", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Authorization", authHeader(t, s, "alice"))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201: %s", rec.Code, rec.Body)
	}

	var confirmed model.Message
	if err := json.NewDecoder(rec.Body).Decode(&confirmed); err != nil {
		t.Fatal(err)
	}
	if confirmed.ID == 0 || confirmed.SenderID != "alice" || confirmed.ReceiverID != "bob" {
		t.Errorf("unexpected confirmed message %+v", confirmed)
	}
	if confirmed.IsRead {
		t.Error("new message must start unread")
	}

	if len(stored) != 1 || stored[0].ID != confirmed.ID {
		t.Fatalf("stored %d messages, want the confirmed one", len(stored))
	}
	if len(pub.events) != 1 || pub.events[0].Type != model.EventNewMessage {
		t.Fatalf("published %v, want one new_message event", pub.events)
	}
}

func TestSend_EmptyBody(t *testing.T) {
	s := newTestServer(t, &teststore{}, &testpublisher{}, testpresence{})

	req := httptest.NewRequest(http.MethodPost, "/messages/send/bob", strings.NewReader(`{}`))
	req.Header.Set("Authorization", authHeader(t, s, "alice"))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400: %s", rec.Code, rec.Body)
	}
}

func TestSend_ToSelf(t *testing.T) {
	s := newTestServer(t, &teststore{}, &testpublisher{}, testpresence{})

	req := httptest.NewRequest(http.MethodPost, "/messages/send/alice", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Authorization", authHeader(t, s, "alice"))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestSend_StoreFailure(t *testing.T) {
	st := &teststore{
		insert: func(t *testing.T, msg model.Message) error {
			return errors.New("store down")
		},
	}
	pub := &testpublisher{}
	s := newTestServer(t, st, pub, testpresence{})

	req := httptest.NewRequest(http.MethodPost, "/messages/send/bob", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Authorization", authHeader(t, s, "alice"))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", rec.Code)
	}
	if len(pub.events) != 0 {
		t.Error("event published for an unpersisted message")
	}
}

func TestHistory_RequiresAuth(t *testing.T) {
	s := newTestServer(t, &teststore{}, &testpublisher{}, testpresence{})

	req := httptest.NewRequest(http.MethodGet, "/messages/bob", nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}

func TestHistory_ScopedToCaller(t *testing.T) {
	st := &teststore{
		history: func(t *testing.T, userA, userB string) ([]model.Message, error) {
			if userA != "alice" || userB != "bob" {
				t.Errorf("history queried for %s/%s", userA, userB)
			}
			return []model.Message{{ID: 1, SenderID: "bob", ReceiverID: "alice", Text: "hey"}}, nil
		},
	}
	s := newTestServer(t, st, &testpublisher{}, testpresence{})

	req := httptest.NewRequest(http.MethodGet, "/messages/bob", nil)
	req.Header.Set("Authorization", authHeader(t, s, "alice"))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200: %s", rec.Code, rec.Body)
	}
	var msgs []model.Message
	if err := json.NewDecoder(rec.Body).Decode(&msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != 1 {
		t.Errorf("unexpected history %v", msgs)
	}
}

func TestContacts_JoinsPresence(t *testing.T) {
	st := &teststore{
		contacts: func(t *testing.T) ([]model.Contact, error) {
			return []model.Contact{{UserID: "bob"}, {UserID: "carol"}}, nil
		},
	}
	s := newTestServer(t, st, &testpublisher{}, testpresence{online: []string{"bob"}})

	req := httptest.NewRequest(http.MethodGet, "/contacts", nil)
	req.Header.Set("Authorization", authHeader(t, s, "alice"))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	var contacts []model.Contact
	if err := json.NewDecoder(rec.Body).Decode(&contacts); err != nil {
		t.Fatal(err)
	}
	if !contacts[0].Online || contacts[1].Online {
		t.Errorf("presence join wrong: %v", contacts)
	}
}
