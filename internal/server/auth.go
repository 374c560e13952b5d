package server

import (
	"context"
	"time"

	"github.com/mcp-ambassador/ambassador-go/internal/aaa"
	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/keys"
	"github.com/mcp-ambassador/ambassador-go/internal/session"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

// compositeAuth authenticates a request either by API-key pair or by
// bearer session token. A bearer token wins when both are presented.
type compositeAuth struct {
	apiKeys  *keys.Authenticator
	sessions *session.Manager
	store    *storage.Store
}

func (c *compositeAuth) Authenticate(ctx context.Context, in aaa.AuthInputs) (*keys.SessionContext, error) {
	if in.BearerToken != "" {
		return c.fromSession(ctx, in.BearerToken)
	}
	if in.APIKey != "" || in.ClientID != "" {
		return c.apiKeys.Authenticate(ctx, in.APIKey, in.ClientID)
	}
	return nil, apperr.New(apperr.CodeMissingCredentials, "missing credentials")
}

// fromSession turns a validated session row into a pipeline identity. The
// tool profile comes from the client the session was registered with;
// web sessions (no client) carry no profile and are denied by authz.
func (c *compositeAuth) fromSession(ctx context.Context, token string) (*keys.SessionContext, error) {
	sess, err := c.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	var attrs map[string]string
	groups, err := c.store.ListGroupIDsForUser(ctx, sess.UserID)
	if err != nil {
		groups = nil
	}
	if sess.ClientID != "" {
		client, err := c.store.GetClient(ctx, sess.ClientID)
		if err != nil {
			return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid credentials")
		}
		if client.Status != storage.ClientStatusActive {
			return nil, apperr.New(apperr.CodeClientSuspended, "client is not active")
		}
		if client.ProfileID != "" {
			attrs = map[string]string{"profile_id": client.ProfileID}
		}
	}

	issued, _ := time.Parse(time.RFC3339, sess.IssuedAt)
	expires, _ := time.Parse(time.RFC3339, sess.ExpiresAt)
	return &keys.SessionContext{
		SessionID:  sess.SessionID,
		ClientID:   sess.ClientID,
		UserID:     sess.UserID,
		AuthMethod: "session_token",
		Groups:     groups,
		Attributes: attrs,
		IssuedAt:   issued,
		ExpiresAt:  expires,
	}, nil
}
