package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/baithak/sandesh/pkg/fanout"
	"github.com/baithak/sandesh/pkg/model"
)

// handleContacts returns all known users with their presence state joined in.
func (s *server) handleContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.store.Contacts(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err, "Failed to load contacts")
		return
	}

	online, err := s.presence.Online(r.Context())
	if err != nil {
		// Presence is cosmetic; the contact list still works without it.
		s.log.Warn("fetch presence", "error", err)
	}
	onlineSet := make(map[string]bool, len(online))
	for _, id := range online {
		onlineSet[id] = true
	}
	for i := range contacts {
		contacts[i].Online = onlineSet[contacts[i].UserID]
	}

	if contacts == nil {
		contacts = []model.Contact{}
	}
	s.respond(w, http.StatusOK, contacts)
}

// handleChats returns the caller's chat-partner list.
func (s *server) handleChats(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.claims(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, nil, "Unauthorized")
		return
	}

	convs, err := s.store.Conversations(r.Context(), claims.UserID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err, "Failed to load chats")
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	s.respond(w, http.StatusOK, convs)
}

// handleHistory returns the full message history between the caller and the
// peer, oldest first.
func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.claims(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, nil, "Unauthorized")
		return
	}
	peerID := mux.Vars(r)["peerID"]

	msgs, err := s.store.History(r.Context(), claims.UserID, peerID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err, "Failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	s.respond(w, http.StatusOK, msgs)
}

type sendRequest struct {
	Text  string `json:"text" validate:"max=4096"`
	Image string `json:"image"`
}

// handleSend persists and fans out a new message, returning the confirmed
// record the client swaps in for its optimistic entry.
func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.claims(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, nil, "Unauthorized")
		return
	}
	peerID := mux.Vars(r)["peerID"]
	if peerID == claims.UserID {
		s.respondError(w, http.StatusBadRequest, nil, "Cannot message yourself")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err, "Message too large")
		return
	}

	msg, err := s.delivery.Submit(r.Context(), claims.UserID, peerID, req.Text, req.Image)
	if err != nil {
		if errors.Is(err, fanout.ErrEmptyMessage) {
			s.respondError(w, http.StatusBadRequest, err, "Message needs text or an image")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err, "Failed to send message")
		return
	}

	s.respond(w, http.StatusCreated, msg)
}

// handlePresence returns the user IDs with a live push connection.
func (s *server) handlePresence(w http.ResponseWriter, r *http.Request) {
	online, err := s.presence.Online(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err, "Failed to fetch presence")
		return
	}
	if online == nil {
		online = []string{}
	}
	s.respond(w, http.StatusOK, online)
}
