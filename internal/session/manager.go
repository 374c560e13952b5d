// Package session issues and validates signed user sessions. Tokens are
// HS256 JWTs bound to a database row whose HMAC signature is derived from a
// rotatable process secret, so rotating the secret invalidates every
// outstanding session at once.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/keys"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

// Store is the slice of storage the manager needs.
type Store interface {
	CreateSession(ctx context.Context, sess *storage.UserSession) error
	GetSession(ctx context.Context, sessionID string) (*storage.UserSession, error)
	ExtendSession(ctx context.Context, sessionID, expiresAt string) error
	DeleteSession(ctx context.Context, sessionID string) error
	ExpireSessionsBefore(ctx context.Context, cutoff string) ([]string, error)
	GetUser(ctx context.Context, userID string) (*storage.User, error)
	GetUserByUsername(ctx context.Context, username string) (*storage.User, error)
	ListClientsByUser(ctx context.Context, userID string) ([]*storage.Client, error)
}

// Claims are the JWT payload of a session token.
type Claims struct {
	ClientID string `json:"client_id,omitempty"`
	jwt.RegisteredClaims
}

// Manager owns the session secret and the session lifecycle.
type Manager struct {
	store  Store
	logger *zap.Logger
	ttl    time.Duration

	mu     sync.RWMutex
	secret []byte

	done    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewManager builds a manager with the given TTL and signing secret.
func NewManager(store Store, secret []byte, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		store:  store,
		logger: logger,
		ttl:    ttl,
		secret: secret,
		done:   make(chan struct{}),
	}
}

func (m *Manager) currentSecret() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.secret
}

// sign computes the row signature binding a session ID to the current
// secret.
func (m *Manager) sign(sessionID string) string {
	mac := hmac.New(sha256.New, m.currentSecret())
	mac.Write([]byte(sessionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Register authenticates a preshared client key and issues a session. The
// key must be one of the user's active client keys.
func (m *Manager) Register(ctx context.Context, presharedKey, clientName, userID string) (string, *storage.UserSession, error) {
	if presharedKey == "" || userID == "" {
		return "", nil, apperr.New(apperr.CodeMissingCredentials, "missing preshared key or user id")
	}
	if err := keys.CheckFormat(presharedKey, keys.PrefixClientKey); err != nil {
		return "", nil, apperr.New(apperr.CodeInvalidFormat, "malformed preshared key")
	}

	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return "", nil, apperr.New(apperr.CodeInvalidCredentials, "invalid credentials")
	}
	if user.Status != storage.UserStatusActive {
		return "", nil, apperr.New(apperr.CodeClientSuspended, "user is not active")
	}

	client, err := m.matchClientKey(ctx, userID, presharedKey)
	if err != nil {
		return "", nil, err
	}

	return m.issue(ctx, userID, client.ClientID)
}

// Login authenticates a username/password pair and issues a session not
// bound to any client. Used by the web surface.
func (m *Manager) Login(ctx context.Context, username, password string) (string, *storage.UserSession, error) {
	if username == "" || password == "" {
		return "", nil, apperr.New(apperr.CodeMissingCredentials, "missing username or password")
	}
	user, err := m.store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", nil, apperr.New(apperr.CodeInvalidCredentials, "invalid credentials")
	}
	if user.Status != storage.UserStatusActive {
		return "", nil, apperr.New(apperr.CodeClientSuspended, "user is not active")
	}
	ok, err := keys.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return "", nil, apperr.New(apperr.CodeInvalidCredentials, "invalid credentials")
	}
	return m.issue(ctx, user.UserID, "")
}

// matchClientKey finds the active client whose stored hash verifies the
// presented key. The lookup prefix narrows candidates before any Argon2id
// work.
func (m *Manager) matchClientKey(ctx context.Context, userID, presharedKey string) (*storage.Client, error) {
	clients, err := m.store.ListClientsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "client lookup failed", err)
	}
	prefix := keys.LookupPrefix(presharedKey, keys.PrefixClientKey)
	for _, c := range clients {
		if c.Status != storage.ClientStatusActive || c.KeyPrefix != prefix {
			continue
		}
		ok, err := keys.Verify(presharedKey, c.KeyHash)
		if err == nil && ok {
			return c, nil
		}
	}
	return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid credentials")
}

// issue creates the row and signs the token.
func (m *Manager) issue(ctx context.Context, userID, clientID string) (string, *storage.UserSession, error) {
	now := time.Now().UTC()
	sess := &storage.UserSession{
		SessionID: uuid.NewString(),
		UserID:    userID,
		ClientID:  clientID,
		Status:    storage.SessionStatusActive,
		IssuedAt:  now.Format(time.RFC3339),
		ExpiresAt: now.Add(m.ttl).Format(time.RFC3339),
	}
	sess.HmacSignature = m.sign(sess.SessionID)
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return "", nil, err
	}

	claims := Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.SessionID,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.currentSecret())
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, sess, nil
}

// Validate checks a token's signature and expiry, then cross-checks the
// database row's HMAC against the current secret.
func (m *Manager) Validate(ctx context.Context, token string) (*storage.UserSession, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.currentSecret(), nil
	})
	if err != nil || !parsed.Valid {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid session token")
	}

	sess, err := m.store.GetSession(ctx, claims.ID)
	if err != nil {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid session token")
	}
	if !hmac.Equal([]byte(sess.HmacSignature), []byte(m.sign(sess.SessionID))) {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "session signature mismatch")
	}
	switch sess.Status {
	case storage.SessionStatusActive, storage.SessionStatusIdle:
	default:
		return nil, apperr.New(apperr.CodeInvalidCredentials, "session is no longer active")
	}
	if exp, err := time.Parse(time.RFC3339, sess.ExpiresAt); err != nil || time.Now().After(exp) {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "session expired")
	}
	return sess, nil
}

// Heartbeat extends a live session's expiry by one TTL.
func (m *Manager) Heartbeat(ctx context.Context, token string) (*storage.UserSession, error) {
	sess, err := m.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	sess.ExpiresAt = time.Now().UTC().Add(m.ttl).Format(time.RFC3339)
	sess.Status = storage.SessionStatusActive
	if err := m.store.ExtendSession(ctx, sess.SessionID, sess.ExpiresAt); err != nil {
		return nil, err
	}
	return sess, nil
}

// Rotate replaces a session's ID in place, used on privilege elevation to
// prevent fixation. The old session is deleted and a fresh token returned.
func (m *Manager) Rotate(ctx context.Context, token string) (string, *storage.UserSession, error) {
	old, err := m.Validate(ctx, token)
	if err != nil {
		return "", nil, err
	}
	if err := m.store.DeleteSession(ctx, old.SessionID); err != nil {
		return "", nil, err
	}
	return m.issue(ctx, old.UserID, old.ClientID)
}

// Terminate ends a session immediately.
func (m *Manager) Terminate(ctx context.Context, sessionID string) error {
	return m.store.DeleteSession(ctx, sessionID)
}

// RotateSecret swaps the signing secret. Every outstanding session stops
// verifying, both at the JWT layer and at the row HMAC.
func (m *Manager) RotateSecret(newSecret []byte) {
	m.mu.Lock()
	m.secret = newSecret
	m.mu.Unlock()
	m.logger.Info("session secret rotated; all sessions invalidated")
}

// StartReaper periodically expires overdue sessions. onExpired receives the
// affected user IDs so per-user pools can be torn down.
func (m *Manager) StartReaper(interval time.Duration, onExpired func(userIDs []string)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cutoff := time.Now().UTC().Format(time.RFC3339)
				users, err := m.store.ExpireSessionsBefore(context.Background(), cutoff)
				if err != nil {
					m.logger.Warn("session reaper sweep failed", zap.Error(err))
					continue
				}
				if len(users) > 0 && onExpired != nil {
					onExpired(users)
				}
			case <-m.done:
				return
			}
		}
	}()
}

// Stop halts the reaper.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()
	close(m.done)
	m.wg.Wait()
}
