package main

import (
	"encoding/json"
	"net/http"
)

type loginRequest struct {
	UserID string `json:"user_id" validate:"required,min=1,max=64"`
	Name   string `json:"name" validate:"max=128"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// handleLogin mints a session token. Real credential checks live in the auth
// service in front of this one; here a user is whoever they claim to be.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err, "user_id is required")
		return
	}

	if err := s.store.UpsertUser(r.Context(), req.UserID, req.Name); err != nil {
		s.respondError(w, http.StatusInternalServerError, err, "Failed to record user")
		return
	}

	token, err := s.tokens.GenerateToken(req.UserID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err, "Failed to generate token")
		return
	}

	s.respond(w, http.StatusOK, loginResponse{Token: token})
}
