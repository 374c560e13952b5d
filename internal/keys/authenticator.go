package keys

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

// SessionTTL is the community-tier session lifetime.
const SessionTTL = time.Hour

// SessionContext is the authenticated identity attached to a request.
type SessionContext struct {
	SessionID  string            `json:"session_id"`
	ClientID   string            `json:"client_id"`
	UserID     string            `json:"user_id"`
	AuthMethod string            `json:"auth_method"`
	Groups     []string          `json:"groups"`
	Attributes map[string]string `json:"attributes,omitempty"`
	IssuedAt   time.Time         `json:"issued_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// ClientStore is the slice of storage the authenticator needs.
type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (*storage.Client, error)
	GetUser(ctx context.Context, userID string) (*storage.User, error)
	TouchClientLastUsed(ctx context.Context, clientID string) error
	ListGroupIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// Authenticator verifies X-API-Key / X-Client-Id pairs.
type Authenticator struct {
	store  ClientStore
	logger *zap.Logger

	// dummyHash is verified against unknown client IDs so a lookup miss
	// costs the same as a real Argon2id verification.
	dummyHash string
}

// NewAuthenticator precomputes the timing-defense dummy hash.
func NewAuthenticator(store ClientStore, logger *zap.Logger) (*Authenticator, error) {
	throwaway, _, err := Generate(PrefixClientKey)
	if err != nil {
		return nil, err
	}
	dummy, err := Hash(throwaway)
	if err != nil {
		return nil, err
	}
	return &Authenticator{store: store, logger: logger, dummyHash: dummy}, nil
}

// Authenticate runs the API-key flow: format checks before any database or
// hashing work, a constant-cost verify for unknown clients, then Argon2id
// verification of the presented key.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey, clientID string) (*SessionContext, error) {
	if apiKey == "" || clientID == "" {
		return nil, apperr.New(apperr.CodeMissingCredentials, "missing api key or client id")
	}
	if err := CheckFormat(apiKey, PrefixClientKey); err != nil {
		return nil, apperr.New(apperr.CodeInvalidFormat, "malformed api key")
	}
	parsed, err := uuid.Parse(clientID)
	if err != nil || parsed.Version() != 4 {
		return nil, apperr.New(apperr.CodeInvalidFormat, "client id must be a uuid")
	}

	client, err := a.store.GetClient(ctx, clientID)
	if err != nil {
		// Burn one verification so a missing client is indistinguishable
		// from a wrong key by timing.
		_, _ = Verify(apiKey, a.dummyHash)
		return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid credentials")
	}
	if client.Status != storage.ClientStatusActive {
		return nil, apperr.New(apperr.CodeClientSuspended, "client is not active")
	}
	if client.ExpiresAt != "" {
		if exp, err := time.Parse(time.RFC3339, client.ExpiresAt); err == nil && time.Now().After(exp) {
			return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid credentials")
		}
	}

	ok, err := Verify(apiKey, client.KeyHash)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "key verification failed", err)
	}
	if !ok {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid credentials")
	}

	user, err := a.store.GetUser(ctx, client.UserID)
	if err != nil {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid credentials")
	}
	if user.Status != storage.UserStatusActive {
		return nil, apperr.New(apperr.CodeClientSuspended, "user is not active")
	}

	groups, err := a.store.ListGroupIDsForUser(ctx, client.UserID)
	if err != nil {
		a.logger.Warn("failed to resolve groups", zap.String("user_id", client.UserID), zap.Error(err))
		groups = nil
	}

	// last_used_at is eventually consistent; a lost update is fine.
	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.store.TouchClientLastUsed(touchCtx, client.ClientID); err != nil {
			a.logger.Debug("last_used_at update failed", zap.Error(err))
		}
	}()

	var attrs map[string]string
	if client.ProfileID != "" {
		attrs = map[string]string{"profile_id": client.ProfileID}
	}

	now := time.Now().UTC()
	return &SessionContext{
		SessionID:  uuid.NewString(),
		ClientID:   client.ClientID,
		UserID:     client.UserID,
		AuthMethod: "api_key",
		Groups:     groups,
		Attributes: attrs,
		IssuedAt:   now,
		ExpiresAt:  now.Add(SessionTTL),
	}, nil
}

// ProfileID returns the tool profile bound to the authenticated client.
func (s *SessionContext) ProfileID() string {
	return s.Attributes["profile_id"]
}
