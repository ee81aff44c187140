package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/challenge"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/middleware"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ChallengeResponse is returned when a session is opened.
type ChallengeResponse struct {
	ID        string                    `json:"id"`
	ExpiresAt time.Time                 `json:"expires_at"`
	Challenge challenge.PublicChallenge `json:"challenge"`
}

// NewChallengeHandler opens a challenge session for the caller.
func (s *Server) NewChallengeHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "challenge_new"
	const method = "POST"

	client := s.client(r)
	sess, err := s.Challenges.NewChallenge(r.Context(), client.ClientID)
	if err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("new challenge", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "could not create challenge")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}

	s.writeJSON(w, r, http.StatusCreated, ChallengeResponse{
		ID:        sess.ID,
		ExpiresAt: sess.ExpiresAt,
		Challenge: sess.Challenge.PublicView(),
	})
	s.observe(endpoint, method, http.StatusCreated, start)
}

// VerifyChallengeHandler checks an answer. A wrong answer is a 200 with
// verified=false; an unknown, used or foreign session is an error.
func (s *Server) VerifyChallengeHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "challenge_verify"
	const method = "POST"

	id := mux.Vars(r)["id"]
	var resp challenge.Response
	if err := decodeJSON(w, r, &resp); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid json")
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}

	client := s.client(r)
	res, err := s.Challenges.Verify(r.Context(), id, client.ClientID, resp)
	switch {
	case errors.Is(err, challenge.ErrNoSession):
		s.writeError(w, r, http.StatusNotFound, "no active challenge, request a new one")
		s.observe(endpoint, method, http.StatusNotFound, start)
		return
	case errors.Is(err, challenge.ErrSessionConsumed):
		s.writeError(w, r, http.StatusConflict, "challenge already used, request a new one")
		s.observe(endpoint, method, http.StatusConflict, start)
		return
	case errors.Is(err, challenge.ErrClientMismatch):
		s.writeError(w, r, http.StatusForbidden, "challenge belongs to another client")
		s.observe(endpoint, method, http.StatusForbidden, start)
		return
	case err != nil:
		middleware.LoggerFromRequest(r, s.Logger).Error("verify challenge", zap.String("session_id", id), zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "could not verify challenge")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}

	s.writeJSON(w, r, http.StatusOK, res)
	s.observe(endpoint, method, http.StatusOK, start)
}
