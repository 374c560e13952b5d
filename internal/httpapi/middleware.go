package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/audit"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

// SessionCookie carries the web session token.
const SessionCookie = "amb_session"

type contextKey string

const (
	ctxSession contextKey = "session"
	ctxUser    contextKey = "user"
)

// sourceIP strips the port from RemoteAddr, preferring X-Forwarded-For
// when present.
func sourceIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sessionToken extracts the web/session token from cookie, header or
// bearer.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if t := r.Header.Get("X-Session-Token"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// requireSession authenticates the session token and stores the session
// row and user on the request context.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeError(w, s.logger, apperr.New(apperr.CodeMissingCredentials, "missing session token"))
			return
		}
		sess, err := s.sessions.Validate(r.Context(), token)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		user, err := s.store.GetUser(r.Context(), sess.UserID)
		if err != nil {
			writeError(w, s.logger, apperr.New(apperr.CodeInvalidCredentials, "invalid session"))
			return
		}
		ctx := context.WithValue(r.Context(), ctxSession, sess)
		ctx = context.WithValue(ctx, ctxUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) *storage.UserSession {
	sess, _ := ctx.Value(ctxSession).(*storage.UserSession)
	return sess
}

func userFrom(ctx context.Context) *storage.User {
	user, _ := ctx.Value(ctxUser).(*storage.User)
	return user
}

// requireAdmin accepts either a valid X-Admin-Key header or an
// authenticated session belonging to an admin user.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if adminKey := r.Header.Get("X-Admin-Key"); adminKey != "" {
			if err := s.adminKeys.VerifyAdminKey(r.Context(), adminKey); err != nil {
				s.auditAdmin(r, audit.SeverityWarn, "admin_auth_failure", nil)
				writeError(w, s.logger, err)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		token := sessionToken(r)
		if token == "" {
			writeError(w, s.logger, apperr.New(apperr.CodeMissingCredentials, "missing admin credentials"))
			return
		}
		sess, err := s.sessions.Validate(r.Context(), token)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		user, err := s.store.GetUser(r.Context(), sess.UserID)
		if err != nil || !user.IsAdmin {
			writeError(w, s.logger, apperr.New(apperr.CodeForbidden, "admin access required"))
			return
		}
		ctx := context.WithValue(r.Context(), ctxSession, sess)
		ctx = context.WithValue(ctx, ctxUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// registrationLimit applies the per-IP sliding window to registration
// endpoints.
func (s *Server) registrationLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := sourceIP(r)
		if !s.regLimiter.Allow("register:" + ip) {
			s.logger.Warn("registration rate limit hit", zap.String("source_ip", ip))
			writeError(w, s.logger, apperr.New(apperr.CodeRateLimitExceeded,
				"too many registrations from this address"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkAuthBackoff rejects attempts from addresses locked out after
// repeated authentication failures.
func (s *Server) checkAuthBackoff(r *http.Request) error {
	if s.authBackoff == nil {
		return nil
	}
	if !s.authBackoff.Allowed("auth:" + sourceIP(r)) {
		s.logger.Warn("auth backoff lockout", zap.String("source_ip", sourceIP(r)))
		return apperr.New(apperr.CodeRateLimitExceeded, "too many failed attempts")
	}
	return nil
}

// noteAuthResult feeds the backoff limiter after an authentication attempt.
func (s *Server) noteAuthResult(r *http.Request, ok bool) {
	if s.authBackoff == nil {
		return
	}
	key := "auth:" + sourceIP(r)
	if ok {
		s.authBackoff.RecordSuccess(key)
	} else {
		s.authBackoff.RecordFailure(key)
	}
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("source_ip", sourceIP(r)))
	})
}

// auditAdmin emits an admin_action event for mutating admin endpoints.
func (s *Server) auditAdmin(r *http.Request, severity, action string, metadata map[string]string) {
	event := audit.NewEvent(audit.EventAdminAction, severity, action)
	event.SourceIP = sourceIP(r)
	event.Metadata = metadata
	if sess := sessionFrom(r.Context()); sess != nil {
		event.SessionID = sess.SessionID
		event.UserID = sess.UserID
	}
	s.auditor.Add(event)
}
