package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/cdp-core/internal/auth"
)

// tokenRequest is the body of POST /auth/token.
type tokenRequest struct {
	Subject string `json:"subject"`
	Key     string `json:"key"`
}

// handleToken exchanges an access key for a bearer token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Subject == "" {
		writeBadRequest(w, "subject is required")
		return
	}

	token, err := s.auth.Issue(req.Subject, req.Key)
	switch {
	case err == nil:
		s.logger.Info("token issued", "subject", req.Subject, "role", token.Role)
		writeJSON(w, http.StatusOK, token)
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.logger.Warn("token request rejected", "subject", req.Subject)
		writeUnauthorized(w, "invalid credentials")
	case errors.Is(err, auth.ErrNoKeys):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no access keys configured")
	default:
		s.logger.Error("issuing token", "subject", req.Subject, "error", err)
		writeInternalError(w, "failed to issue token")
	}
}
