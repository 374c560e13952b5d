package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/audit"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

// --- web auth ---

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.checkAuthBackoff(r); err != nil {
		writeError(w, s.logger, err)
		return
	}
	token, sess, err := s.sessions.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		s.noteAuthResult(r, false)
		event := audit.NewEvent(audit.EventAuthFailure, audit.SeverityWarn, "login")
		event.SourceIP = sourceIP(r)
		s.auditor.Add(event)
		writeError(w, s.logger, err)
		return
	}
	s.noteAuthResult(r, true)
	event := audit.NewEvent(audit.EventAuthSuccess, audit.SeverityInfo, "login")
	event.SourceIP = sourceIP(r)
	event.SessionID = sess.SessionID
	event.UserID = sess.UserID
	s.auditor.Add(event)

	s.setSessionCookie(w, token, 0)
	writeData(w, http.StatusOK, map[string]any{
		"session_token": token,
		"session":       sess,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if sess, err := s.sessions.Validate(r.Context(), token); err == nil {
			if err := s.sessions.Terminate(r.Context(), sess.SessionID); err != nil {
				writeError(w, s.logger, err)
				return
			}
		}
	}
	s.setSessionCookie(w, "", -1)
	writeData(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"session": sessionFrom(r.Context()),
		"user":    userFrom(r.Context()),
	})
}

// --- self-service clients ---

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	var body struct {
		ClientName string `json:"client_name"`
		ProfileID  string `json:"profile_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	created, err := s.registerClient(r, user.UserID, body.ClientName, body.ProfileID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	clients, err := s.store.ListClientsByUser(r.Context(), user.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writePage(w, clients, &Pagination{TotalCount: len(clients)})
}

// ownClient loads a client and enforces that the session user owns it. A
// foreign client reads as not_found so ownership is never leaked.
func (s *Server) ownClient(r *http.Request, clientID string) (*storage.Client, error) {
	user := userFrom(r.Context())
	client, err := s.store.GetClient(r.Context(), clientID)
	if err != nil {
		return nil, err
	}
	if client.UserID != user.UserID {
		return nil, apperr.New(apperr.CodeNotFound, "client not found")
	}
	return client, nil
}

func (s *Server) handlePatchClient(w http.ResponseWriter, r *http.Request) {
	client, err := s.ownClient(r, chi.URLParam(r, "clientID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	switch body.Status {
	case storage.ClientStatusActive, storage.ClientStatusSuspended, storage.ClientStatusRevoked:
	default:
		writeError(w, s.logger, apperr.Newf(apperr.CodeValidationError, "unknown client status %q", body.Status))
		return
	}
	if err := s.store.UpdateClientStatus(r.Context(), client.ClientID, body.Status); err != nil {
		writeError(w, s.logger, err)
		return
	}
	client.Status = body.Status
	writeData(w, http.StatusOK, client)
}

func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	client, err := s.ownClient(r, chi.URLParam(r, "clientID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.store.DeleteClient(r.Context(), client.ClientID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"client_id": client.ClientID})
}

// --- subscriptions ---

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	client, err := s.ownClient(r, chi.URLParam(r, "clientID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var body struct {
		McpID         string   `json:"mcp_id"`
		SelectedTools []string `json:"selected_tools"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	entry, err := s.store.GetCatalogEntry(r.Context(), body.McpID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if entry.Status != storage.McpStatusPublished {
		writeError(w, s.logger, apperr.New(apperr.CodeUnprocessable, "mcp is not published"))
		return
	}
	allowed, err := s.store.UserCanAccessMcp(r.Context(), user.UserID, entry.McpID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if !allowed {
		// Access is group-granted; an out-of-group MCP reads as missing.
		writeError(w, s.logger, apperr.New(apperr.CodeNotFound, "mcp not found"))
		return
	}
	sub := &storage.Subscription{
		SubscriptionID: uuid.NewString(),
		ClientID:       client.ClientID,
		McpID:          entry.McpID,
		SelectedTools:  body.SelectedTools,
	}
	if err := s.store.CreateSubscription(r.Context(), sub); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusCreated, sub)
}

func (s *Server) handleListClientSubscriptions(w http.ResponseWriter, r *http.Request) {
	client, err := s.ownClient(r, chi.URLParam(r, "clientID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	subs, err := s.store.ListSubscriptionsByClient(r.Context(), client.ClientID, false)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writePage(w, subs, &Pagination{TotalCount: len(subs)})
}

func (s *Server) ownSubscription(r *http.Request, clientID, subID string) (*storage.Subscription, error) {
	client, err := s.ownClient(r, clientID)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.GetSubscription(r.Context(), subID)
	if err != nil {
		return nil, err
	}
	if sub.ClientID != client.ClientID {
		return nil, apperr.New(apperr.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

func (s *Server) handlePatchSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.ownSubscription(r, chi.URLParam(r, "clientID"), chi.URLParam(r, "subID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var patch map[string]any
	if err := decodeRaw(r, &patch); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if v, ok := patch["status"].(string); ok {
		if v != storage.SubscriptionActive && v != storage.SubscriptionPaused {
			writeError(w, s.logger, apperr.Newf(apperr.CodeValidationError, "unknown subscription status %q", v))
			return
		}
		sub.Status = v
	}
	if v, ok := patch["selected_tools"].([]any); ok {
		selected := make([]string, 0, len(v))
		for _, item := range v {
			name, ok := item.(string)
			if !ok {
				writeError(w, s.logger, apperr.New(apperr.CodeValidationError, "selected_tools must be strings"))
				return
			}
			selected = append(selected, name)
		}
		sub.SelectedTools = selected
	}
	if err := s.store.UpdateSubscription(r.Context(), sub); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.ownSubscription(r, chi.URLParam(r, "clientID"), chi.URLParam(r, "subID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.store.DeleteSubscription(r.Context(), sub.SubscriptionID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"subscription_id": sub.SubscriptionID})
}

func (s *Server) handleListAllSubscriptions(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	subs, err := s.store.ListSubscriptionsByUser(r.Context(), user.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writePage(w, subs, &Pagination{TotalCount: len(subs)})
}

// --- marketplace ---

// marketplaceView is the user-facing projection of a catalog entry. Config
// and transport internals stay admin-only.
type marketplaceView struct {
	McpID                   string `json:"mcp_id"`
	Name                    string `json:"name"`
	DisplayName             string `json:"display_name"`
	Description             string `json:"description"`
	IsolationMode           string `json:"isolation_mode"`
	RequiresUserCredentials bool   `json:"requires_user_credentials"`
	CredentialSchema        string `json:"credential_schema,omitempty"`
	ToolCatalog             string `json:"tool_catalog,omitempty"`
}

func toMarketplaceView(e *storage.McpCatalogEntry) *marketplaceView {
	return &marketplaceView{
		McpID:                   e.McpID,
		Name:                    e.Name,
		DisplayName:             e.DisplayName,
		Description:             e.Description,
		IsolationMode:           e.IsolationMode,
		RequiresUserCredentials: e.RequiresUserCredentials,
		CredentialSchema:        e.CredentialSchema,
		ToolCatalog:             e.ToolCatalog,
	}
}

func (s *Server) handleMarketplace(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	entries, err := s.store.ListAccessibleMcps(r.Context(), user.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	views := make([]*marketplaceView, 0, len(entries))
	for _, e := range entries {
		views = append(views, toMarketplaceView(e))
	}
	writePage(w, views, &Pagination{TotalCount: len(views)})
}

func (s *Server) handleMarketplaceEntry(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	entry, err := s.store.GetCatalogEntry(r.Context(), chi.URLParam(r, "mcpID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	allowed, err := s.store.UserCanAccessMcp(r.Context(), user.UserID, entry.McpID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if entry.Status != storage.McpStatusPublished || !allowed {
		writeError(w, s.logger, apperr.New(apperr.CodeNotFound, "mcp not found"))
		return
	}
	writeData(w, http.StatusOK, toMarketplaceView(entry))
}

// --- credentials ---

func (s *Server) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	entry, err := s.store.GetCatalogEntry(r.Context(), chi.URLParam(r, "mcpID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var body struct {
		Credentials map[string]string `json:"credentials"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.credentials.Put(r.Context(), user.UserID, entry, body.Credentials); err != nil {
		writeError(w, s.logger, err)
		return
	}
	// Live instances spawned with the old secrets are stale; kill them so
	// the next invocation picks up the new material.
	s.perUser.TerminateForUser(r.Context(), user.UserID)
	writeData(w, http.StatusOK, map[string]string{"mcp_id": entry.McpID, "status": "stored"})
}
