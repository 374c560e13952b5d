package httpapi

import (
	"net/http"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/audit"
)

// handleSessionRegister exchanges a preshared client key for a bearer
// session token.
func (s *Server) handleSessionRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PresharedKey string `json:"preshared_key"`
		ClientName   string `json:"client_name"`
		UserID       string `json:"user_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.checkAuthBackoff(r); err != nil {
		writeError(w, s.logger, err)
		return
	}
	token, sess, err := s.sessions.Register(r.Context(), body.PresharedKey, body.ClientName, body.UserID)
	if err != nil {
		s.noteAuthResult(r, false)
		event := audit.NewEvent(audit.EventAuthFailure, audit.SeverityWarn, "session_register")
		event.SourceIP = sourceIP(r)
		event.Metadata = map[string]string{"error_code": string(apperr.CodeOf(err))}
		s.auditor.Add(event)
		writeError(w, s.logger, err)
		return
	}
	s.noteAuthResult(r, true)
	event := audit.NewEvent(audit.EventAuthSuccess, audit.SeverityInfo, "session_register")
	event.SourceIP = sourceIP(r)
	event.SessionID = sess.SessionID
	event.ClientID = sess.ClientID
	event.UserID = sess.UserID
	s.auditor.Add(event)

	writeData(w, http.StatusCreated, map[string]any{
		"session_token": token,
		"session":       sess,
	})
}

// handleSessionHeartbeat extends a live session by one TTL.
func (s *Server) handleSessionHeartbeat(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Session-Token")
	if token == "" {
		writeError(w, s.logger, apperr.New(apperr.CodeMissingCredentials, "missing session token"))
		return
	}
	sess, err := s.sessions.Heartbeat(r.Context(), token)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, sess)
}
