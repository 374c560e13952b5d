package httpapi

import (
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/audit"
	"github.com/mcp-ambassador/ambassador-go/internal/keys"
	"github.com/mcp-ambassador/ambassador-go/internal/killswitch"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
	"github.com/mcp-ambassador/ambassador-go/internal/validate"
	"github.com/mcp-ambassador/ambassador-go/internal/vault"
)

// --- admin keys ---

func (s *Server) handleAdminKeyGenerate(w http.ResponseWriter, r *http.Request) {
	result, err := s.adminKeys.Generate(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "admin_key_generate", map[string]string{"key_id": result.KeyID})
	// Plaintext values appear in this response and nowhere else.
	writeData(w, http.StatusCreated, map[string]string{
		"key_id":         result.KeyID,
		"admin_key":      result.AdminKey,
		"recovery_token": result.RecoveryToken,
	})
}

func (s *Server) handleAdminKeyRecover(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecoveryToken string `json:"recovery_token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	adminKey, err := s.adminKeys.Recover(r.Context(), body.RecoveryToken, sourceIP(r))
	if err != nil {
		s.auditAdmin(r, audit.SeverityCritical, "admin_key_recover_failure", nil)
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityWarn, "admin_key_recover", nil)
	writeData(w, http.StatusOK, map[string]string{"admin_key": adminKey})
}

func (s *Server) handleAdminKeyRotate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AdminKey      string `json:"admin_key"`
		RecoveryToken string `json:"recovery_token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	result, err := s.adminKeys.Rotate(r.Context(), body.AdminKey, body.RecoveryToken)
	if err != nil {
		// A failed rotation keeps the old pair valid; flag it loudly.
		s.auditAdmin(r, audit.SeverityCritical, "admin_key_rotate_failure", nil)
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "admin_key_rotate", map[string]string{"key_id": result.KeyID})
	writeData(w, http.StatusOK, map[string]string{
		"key_id":         result.KeyID,
		"admin_key":      result.AdminKey,
		"recovery_token": result.RecoveryToken,
	})
}

func (s *Server) handleAdminKeyFactoryReset(w http.ResponseWriter, r *http.Request) {
	result, err := s.adminKeys.FactoryReset(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityCritical, "admin_key_factory_reset", map[string]string{"key_id": result.KeyID})
	writeData(w, http.StatusOK, map[string]string{
		"key_id":         result.KeyID,
		"admin_key":      result.AdminKey,
		"recovery_token": result.RecoveryToken,
	})
}

// --- client registration (admin-driven) ---

type clientCreated struct {
	*storage.Client
	PlaintextKey string `json:"plaintext_key"`
}

func (s *Server) registerClient(r *http.Request, userID, clientName, profileID string) (*clientCreated, error) {
	if clientName == "" {
		return nil, apperr.New(apperr.CodeValidationError, "client_name is required")
	}
	if _, err := s.store.GetUser(r.Context(), userID); err != nil {
		return nil, err
	}
	fullKey, keyPrefix, err := keys.Generate(keys.PrefixClientKey)
	if err != nil {
		return nil, err
	}
	keyHash, err := keys.Hash(fullKey)
	if err != nil {
		return nil, err
	}
	client := &storage.Client{
		ClientID:   uuid.NewString(),
		ClientName: clientName,
		KeyPrefix:  keyPrefix,
		KeyHash:    keyHash,
		UserID:     userID,
		ProfileID:  profileID,
		Status:     storage.ClientStatusActive,
	}
	if err := s.store.CreateClient(r.Context(), client); err != nil {
		return nil, err
	}
	return &clientCreated{Client: client, PlaintextKey: fullKey}, nil
}

func (s *Server) handleAdminRegisterClient(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID     string `json:"user_id"`
		ClientName string `json:"client_name"`
		ProfileID  string `json:"profile_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	created, err := s.registerClient(r, body.UserID, body.ClientName, body.ProfileID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "client_register", map[string]string{
		"client_id": created.ClientID,
		"user_id":   created.UserID,
	})
	writeData(w, http.StatusCreated, created)
}

func (s *Server) handleAdminRotateClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	client, err := s.store.GetClient(r.Context(), clientID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	fullKey, keyPrefix, err := keys.Generate(keys.PrefixClientKey)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	keyHash, err := keys.Hash(fullKey)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	// The old hash is replaced atomically; the previous key stops verifying
	// the moment this commits.
	if err := s.store.RotateClientKey(r.Context(), client.ClientID, keyPrefix, keyHash); err != nil {
		writeError(w, s.logger, err)
		return
	}
	client.KeyPrefix = keyPrefix
	s.auditAdmin(r, audit.SeverityInfo, "client_key_rotate", map[string]string{"client_id": client.ClientID})
	writeData(w, http.StatusOK, &clientCreated{Client: client, PlaintextKey: fullKey})
}

// --- catalog ---

type mcpBody struct {
	Name                    string `json:"name"`
	DisplayName             string `json:"display_name"`
	Description             string `json:"description"`
	TransportType           string `json:"transport_type"`
	Config                  string `json:"config"`
	IsolationMode           string `json:"isolation_mode"`
	RequiresUserCredentials bool   `json:"requires_user_credentials"`
	CredentialSchema        string `json:"credential_schema"`
	AuthType                string `json:"auth_type"`
	OAuthConfig             string `json:"oauth_config"`
}

func (s *Server) handleCreateMcp(w http.ResponseWriter, r *http.Request) {
	var body mcpBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.IsolationMode == "" {
		body.IsolationMode = storage.IsolationShared
	}
	if body.IsolationMode != storage.IsolationShared && body.IsolationMode != storage.IsolationPerUser {
		writeError(w, s.logger, apperr.Newf(apperr.CodeValidationError,
			"isolation_mode must be %q or %q", storage.IsolationShared, storage.IsolationPerUser))
		return
	}
	if body.AuthType == "" {
		body.AuthType = "none"
	}
	entry := &storage.McpCatalogEntry{
		McpID:                   uuid.NewString(),
		Name:                    body.Name,
		DisplayName:             body.DisplayName,
		Description:             body.Description,
		TransportType:           body.TransportType,
		Config:                  body.Config,
		IsolationMode:           body.IsolationMode,
		RequiresUserCredentials: body.RequiresUserCredentials,
		CredentialSchema:        body.CredentialSchema,
		AuthType:                body.AuthType,
		OAuthConfig:             body.OAuthConfig,
	}
	if err := s.store.CreateCatalogEntry(r.Context(), entry); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "mcp_create", map[string]string{"mcp_id": entry.McpID, "name": entry.Name})
	writeData(w, http.StatusCreated, entry)
}

func (s *Server) handleListMcps(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListCatalogEntries(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writePage(w, entries, &Pagination{TotalCount: len(entries)})
}

func (s *Server) handleGetMcp(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.GetCatalogEntry(r.Context(), chi.URLParam(r, "mcpID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, entry)
}

func (s *Server) handlePatchMcp(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.GetCatalogEntry(r.Context(), chi.URLParam(r, "mcpID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var patch map[string]any
	if err := decodeRaw(r, &patch); err != nil {
		writeError(w, s.logger, err)
		return
	}
	applyString := func(field string, dst *string) {
		if v, ok := patch[field].(string); ok {
			*dst = v
		}
	}
	applyString("name", &entry.Name)
	applyString("display_name", &entry.DisplayName)
	applyString("description", &entry.Description)
	applyString("transport_type", &entry.TransportType)
	applyString("config", &entry.Config)
	applyString("isolation_mode", &entry.IsolationMode)
	applyString("credential_schema", &entry.CredentialSchema)
	applyString("auth_type", &entry.AuthType)
	applyString("oauth_config", &entry.OAuthConfig)
	if v, ok := patch["requires_user_credentials"].(bool); ok {
		entry.RequiresUserCredentials = v
	}

	// The store enforces structural immutability of published rows and
	// answers published_mcp_structural_change when violated.
	if err := s.store.UpdateCatalogEntry(r.Context(), entry); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "mcp_update", map[string]string{"mcp_id": entry.McpID})
	writeData(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteMcp(w http.ResponseWriter, r *http.Request) {
	mcpID := chi.URLParam(r, "mcpID")
	if err := s.store.DeleteCatalogEntry(r.Context(), mcpID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "mcp_delete", map[string]string{"mcp_id": mcpID})
	writeData(w, http.StatusOK, map[string]string{"mcp_id": mcpID})
}

func (s *Server) handleValidateMcp(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.GetCatalogEntry(r.Context(), chi.URLParam(r, "mcpID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	result := validate.McpConfig(entry)
	verdict := storage.McpValidationInvalid
	if result.Valid {
		verdict = storage.McpValidationValid
	}
	if err := s.store.SetCatalogValidation(r.Context(), entry.McpID, verdict); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) handlePublishMcp(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.GetCatalogEntry(r.Context(), chi.URLParam(r, "mcpID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if entry.ValidationStatus != storage.McpValidationValid {
		writeError(w, s.logger, apperr.New(apperr.CodeUnprocessable,
			"mcp must pass validation before publication"))
		return
	}
	if err := s.store.SetCatalogStatus(r.Context(), entry.McpID, storage.McpStatusPublished); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "mcp_publish", map[string]string{"mcp_id": entry.McpID, "name": entry.Name})
	entry.Status = storage.McpStatusPublished
	writeData(w, http.StatusOK, entry)
}

func (s *Server) handleArchiveMcp(w http.ResponseWriter, r *http.Request) {
	mcpID := chi.URLParam(r, "mcpID")
	if err := s.store.SetCatalogStatus(r.Context(), mcpID, storage.McpStatusArchived); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "mcp_archive", map[string]string{"mcp_id": mcpID})
	writeData(w, http.StatusOK, map[string]string{"mcp_id": mcpID, "status": storage.McpStatusArchived})
}

func (s *Server) handleCatalogStatus(w http.ResponseWriter, r *http.Request) {
	diff, err := s.reloader.Preview(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, diff)
}

func (s *Server) handleCatalogApply(w http.ResponseWriter, r *http.Request) {
	results, err := s.reloader.Apply(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "catalog_apply", nil)
	writeData(w, http.StatusOK, results)
}

// --- groups ---

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.Name == "" {
		writeError(w, s.logger, apperr.New(apperr.CodeValidationError, "name is required"))
		return
	}
	group := &storage.Group{
		GroupID:     uuid.NewString(),
		Name:        body.Name,
		Description: body.Description,
		Status:      storage.GroupStatusActive,
	}
	if err := s.store.CreateGroup(r.Context(), group); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "group_create", map[string]string{"group_id": group.GroupID})
	writeData(w, http.StatusCreated, group)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writePage(w, groups, &Pagination{TotalCount: len(groups)})
}

func (s *Server) handlePatchGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.store.GetGroup(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var patch map[string]any
	if err := decodeRaw(r, &patch); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if v, ok := patch["name"].(string); ok {
		group.Name = v
	}
	if v, ok := patch["description"].(string); ok {
		group.Description = v
	}
	if v, ok := patch["status"].(string); ok {
		if v != storage.GroupStatusActive && v != storage.GroupStatusSuspended {
			writeError(w, s.logger, apperr.Newf(apperr.CodeValidationError, "unknown group status %q", v))
			return
		}
		group.Status = v
	}
	if err := s.store.UpdateGroup(r.Context(), group); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "group_update", map[string]string{"group_id": group.GroupID})
	writeData(w, http.StatusOK, group)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	if err := s.store.DeleteGroup(r.Context(), groupID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "group_delete", map[string]string{"group_id": groupID})
	writeData(w, http.StatusOK, map[string]string{"group_id": groupID})
}

func (s *Server) handleAddGroupMember(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	groupID := chi.URLParam(r, "groupID")
	if err := s.store.AddGroupMember(r.Context(), groupID, body.UserID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "group_member_add",
		map[string]string{"group_id": groupID, "user_id": body.UserID})
	writeData(w, http.StatusCreated, map[string]string{"group_id": groupID, "user_id": body.UserID})
}

func (s *Server) handleRemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	userID := chi.URLParam(r, "userID")
	if err := s.store.RemoveGroupMember(r.Context(), groupID, userID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "group_member_remove",
		map[string]string{"group_id": groupID, "user_id": userID})
	writeData(w, http.StatusOK, map[string]string{"group_id": groupID, "user_id": userID})
}

func (s *Server) handleAddGroupMcp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		McpID string `json:"mcp_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	groupID := chi.URLParam(r, "groupID")
	if err := s.store.AddGroupMcp(r.Context(), groupID, body.McpID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "group_mcp_add",
		map[string]string{"group_id": groupID, "mcp_id": body.McpID})
	writeData(w, http.StatusCreated, map[string]string{"group_id": groupID, "mcp_id": body.McpID})
}

func (s *Server) handleRemoveGroupMcp(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	mcpID := chi.URLParam(r, "mcpID")
	if err := s.store.RemoveGroupMcp(r.Context(), groupID, mcpID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "group_mcp_remove",
		map[string]string{"group_id": groupID, "mcp_id": mcpID})
	writeData(w, http.StatusOK, map[string]string{"group_id": groupID, "mcp_id": mcpID})
}

// --- kill switch ---

func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	kind, name, ok := strings.Cut(target, ":")
	if !ok || name == "" {
		writeError(w, s.logger, apperr.New(apperr.CodeValidationError,
			`target must be "<kind>:<name>", e.g. "mcp:github"`))
		return
	}
	switch kind {
	case killswitch.KindMcp, killswitch.KindUser, killswitch.KindTool:
	default:
		writeError(w, s.logger, apperr.Newf(apperr.CodeValidationError, "unknown kill-switch kind %q", kind))
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.killSwitch.Set(kind, name, !body.Enabled)
	severity := audit.SeverityInfo
	if !body.Enabled {
		severity = audit.SeverityWarn
	}
	s.auditAdmin(r, severity, "kill_switch", map[string]string{
		"target":  target,
		"enabled": boolString(body.Enabled),
	})
	writeData(w, http.StatusOK, map[string]any{
		"target":  target,
		"enabled": body.Enabled,
		"blocked": s.killSwitch.Blocked(),
	})
}

func (s *Server) handleKillSwitchStatus(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]any{"blocked": s.killSwitch.Blocked()})
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// --- security rotations ---

func (s *Server) handleRotateHmacSecret(w http.ResponseWriter, r *http.Request) {
	if err := s.rotateSessionSecret(r.Context()); err != nil {
		s.auditAdmin(r, audit.SeverityCritical, "hmac_secret_rotate_failure", nil)
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityWarn, "hmac_secret_rotate", nil)
	writeData(w, http.StatusOK, map[string]string{"status": "rotated", "note": "all sessions invalidated"})
}

func (s *Server) handleRotateCredentialKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewKey string `json:"new_key"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	raw, err := hex.DecodeString(body.NewKey)
	if err != nil || len(raw) != vault.MasterKeySize {
		writeError(w, s.logger, apperr.Newf(apperr.CodeValidationError,
			"new_key must be %d hex characters", vault.MasterKeySize*2))
		return
	}
	defer vault.Zero(raw)
	if err := s.rotateMasterKey(r.Context(), raw); err != nil {
		s.auditAdmin(r, audit.SeverityCritical, "credential_key_rotate_failure", nil)
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityWarn, "credential_key_rotate", nil)
	writeData(w, http.StatusOK, map[string]string{"status": "rotated"})
}

// --- user administration ---

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
		IsAdmin     bool   `json:"is_admin"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.Password == "" {
		writeError(w, s.logger, apperr.New(apperr.CodeValidationError, "password is required"))
		return
	}
	hash, err := keys.Hash(body.Password)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	salt, err := vault.NewSalt()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	user := &storage.User{
		UserID:       uuid.NewString(),
		Username:     body.Username,
		PasswordHash: hash,
		Status:       storage.UserStatusActive,
		VaultSalt:    salt,
		DisplayName:  body.DisplayName,
		Email:        body.Email,
		IsAdmin:      body.IsAdmin,
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityInfo, "user_create", map[string]string{"user_id": user.UserID})
	writeData(w, http.StatusCreated, user)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writePage(w, users, &Pagination{TotalCount: len(users)})
}

func (s *Server) handlePatchUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	user, err := s.store.GetUser(r.Context(), userID)
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
	case storage.UserStatusActive, storage.UserStatusSuspended, storage.UserStatusDeactivated:
	default:
		writeError(w, s.logger, apperr.Newf(apperr.CodeValidationError, "unknown user status %q", body.Status))
		return
	}
	if err := s.store.UpdateUserStatus(r.Context(), userID, body.Status); err != nil {
		writeError(w, s.logger, err)
		return
	}
	// Suspending or deactivating a user tears down their live instances.
	if body.Status != storage.UserStatusActive {
		s.perUser.TerminateForUser(r.Context(), userID)
	}
	user.Status = body.Status
	s.auditAdmin(r, audit.SeverityInfo, "user_status_change",
		map[string]string{"user_id": userID, "status": body.Status})
	writeData(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	s.perUser.TerminateForUser(r.Context(), userID)
	if err := s.store.DeleteUser(r.Context(), userID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.auditAdmin(r, audit.SeverityWarn, "user_delete", map[string]string{"user_id": userID})
	writeData(w, http.StatusOK, map[string]string{"user_id": userID})
}
