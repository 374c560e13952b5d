package storage

// Entity status enumerations. These are closed sets persisted as strings.
const (
	UserStatusActive      = "active"
	UserStatusSuspended   = "suspended"
	UserStatusDeactivated = "deactivated"

	ClientStatusActive    = "active"
	ClientStatusSuspended = "suspended"
	ClientStatusRevoked   = "revoked"

	McpStatusDraft     = "draft"
	McpStatusPublished = "published"
	McpStatusArchived  = "archived"

	McpValidationPending = "pending"
	McpValidationValid   = "valid"
	McpValidationInvalid = "invalid"

	IsolationShared  = "shared"
	IsolationPerUser = "per_user"

	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"

	GroupStatusActive    = "active"
	GroupStatusSuspended = "suspended"

	SubscriptionActive = "active"
	SubscriptionPaused = "paused"

	SessionStatusActive       = "active"
	SessionStatusIdle         = "idle"
	SessionStatusSpinningDown = "spinning_down"
	SessionStatusExpired      = "expired"
)

// User is an account that owns clients and per-MCP credentials.
type User struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Status       string `json:"status"`
	VaultSalt    []byte `json:"-"`
	DisplayName  string `json:"display_name"`
	Email        string `json:"email,omitempty"`
	IsAdmin      bool   `json:"is_admin"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// Client is one API-key holder: a host tool on one machine bound to a user
// and a tool profile.
type Client struct {
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name"`
	KeyPrefix  string `json:"key_prefix"`
	KeyHash    string `json:"-"`
	UserID     string `json:"user_id"`
	ProfileID  string `json:"profile_id,omitempty"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	LastUsedAt string `json:"last_used_at,omitempty"`
	Metadata   string `json:"metadata,omitempty"`
}

// AdminKey is the gateway admin credential row. At most one row is active.
type AdminKey struct {
	ID                string `json:"id"`
	KeyHash           string `json:"-"`
	RecoveryTokenHash string `json:"-"`
	IsActive          bool   `json:"is_active"`
	CreatedAt         string `json:"created_at"`
	RotatedAt         string `json:"rotated_at,omitempty"`
}

// RateLimits are per-profile invocation limits. A child profile overrides
// its parent field-by-field when a field is non-zero.
type RateLimits struct {
	RPM           int `json:"rpm,omitempty"`
	RPH           int `json:"rph,omitempty"`
	MaxConcurrent int `json:"max_concurrent,omitempty"`
}

// ToolProfile is an allow/deny policy with optional single-parent
// inheritance. Denied patterns win over allowed ones.
type ToolProfile struct {
	ProfileID        string     `json:"profile_id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	AllowedTools     []string   `json:"allowed_tools"`
	DeniedTools      []string   `json:"denied_tools"`
	RateLimits       RateLimits `json:"rate_limits"`
	InheritedFrom    string     `json:"inherited_from,omitempty"`
	EnvironmentScope string     `json:"environment_scope,omitempty"`
	TimeRestrictions string     `json:"time_restrictions,omitempty"`
}

// McpCatalogEntry describes one downstream MCP server in the catalog.
// Structural fields (name, transport, config, isolation mode) are immutable
// once the entry is published.
type McpCatalogEntry struct {
	McpID                   string `json:"mcp_id"`
	Name                    string `json:"name"`
	DisplayName             string `json:"display_name"`
	Description             string `json:"description"`
	TransportType           string `json:"transport_type"`
	Config                  string `json:"config"`
	IsolationMode           string `json:"isolation_mode"`
	RequiresUserCredentials bool   `json:"requires_user_credentials"`
	CredentialSchema        string `json:"credential_schema,omitempty"`
	ToolCatalog             string `json:"tool_catalog,omitempty"`
	ValidationStatus        string `json:"validation_status"`
	Status                  string `json:"status"`
	AuthType                string `json:"auth_type"`
	OAuthConfig             string `json:"oauth_config,omitempty"`
	CreatedAt               string `json:"created_at"`
	UpdatedAt               string `json:"updated_at"`
}

// Group is an associative access grant between users and MCPs.
type Group struct {
	GroupID     string `json:"group_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Subscription links one client to one MCP, optionally restricting tools.
// An empty SelectedTools set means every tool of the MCP.
type Subscription struct {
	SubscriptionID string   `json:"subscription_id"`
	ClientID       string   `json:"client_id"`
	McpID          string   `json:"mcp_id"`
	SelectedTools  []string `json:"selected_tools"`
	Status         string   `json:"status"`
	SubscribedAt   string   `json:"subscribed_at"`
	UpdatedAt      string   `json:"updated_at"`
}

// UserMcpCredential is an envelope-encrypted per-user credential blob.
// Plaintext is never persisted.
type UserMcpCredential struct {
	CredentialID         string `json:"credential_id"`
	UserID               string `json:"user_id"`
	McpID                string `json:"mcp_id"`
	EncryptedCredentials []byte `json:"-"`
	EncryptionIV         []byte `json:"-"`
	CreatedAt            string `json:"created_at"`
	UpdatedAt            string `json:"updated_at"`
}

// UserSession is a signed session row. The HMAC signature covers the
// session ID with the rotatable process session secret.
type UserSession struct {
	SessionID     string `json:"session_id"`
	UserID        string `json:"user_id"`
	ClientID      string `json:"client_id,omitempty"`
	Status        string `json:"status"`
	IssuedAt      string `json:"issued_at"`
	ExpiresAt     string `json:"expires_at"`
	HmacSignature string `json:"-"`
}
