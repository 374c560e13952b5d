// Package httpapi exposes the gateway's admin, user and session surfaces
// over a chi router. Every JSON response uses the ok/data/error envelope.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/aaa"
	"github.com/mcp-ambassador/ambassador-go/internal/audit"
	"github.com/mcp-ambassador/ambassador-go/internal/keys"
	"github.com/mcp-ambassador/ambassador-go/internal/ratelimit"
	"github.com/mcp-ambassador/ambassador-go/internal/reload"
	"github.com/mcp-ambassador/ambassador-go/internal/router"
	"github.com/mcp-ambassador/ambassador-go/internal/session"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
	"github.com/mcp-ambassador/ambassador-go/internal/vault"
)

// Auditor receives API-surface audit events.
type Auditor interface {
	Add(event *audit.Event)
}

// PoolControl is what the API needs from the per-user pool.
type PoolControl interface {
	TerminateForUser(ctx context.Context, userID string)
}

// SharedStatus reports the shared pool's running members.
type SharedStatus interface {
	Running() []string
}

// KillSwitch is the registry surface the API flips.
type KillSwitch interface {
	Set(kind, name string, blocked bool)
	Blocked() []string
}

// Deps wires the server to the rest of the gateway.
type Deps struct {
	Store       *storage.Store
	Logger      *zap.Logger
	Auditor     Auditor
	AdminKeys   *keys.AdminKeyService
	Sessions    *session.Manager
	Pipeline    *aaa.Pipeline
	Router      *router.Router
	Reloader    *reload.Reloader
	KillSwitch  KillSwitch
	Credentials *vault.CredentialService
	PerUser     PoolControl
	Shared      SharedStatus
	RegLimiter  *ratelimit.Limiter
	AuthBackoff *ratelimit.BackoffLimiter

	// RotateSessionSecret swaps the session HMAC secret on disk and in
	// memory; every outstanding session dies with it.
	RotateSessionSecret func(ctx context.Context) error
	// RotateMasterKey re-encrypts the credential vault under newKey.
	RotateMasterKey func(ctx context.Context, newKey []byte) error
}

// Server is the HTTP front of the gateway.
type Server struct {
	store       *storage.Store
	logger      *zap.Logger
	auditor     Auditor
	adminKeys   *keys.AdminKeyService
	sessions    *session.Manager
	pipeline    *aaa.Pipeline
	toolRouter  *router.Router
	reloader    *reload.Reloader
	killSwitch  KillSwitch
	credentials *vault.CredentialService
	perUser     PoolControl
	shared      SharedStatus
	regLimiter  *ratelimit.Limiter
	authBackoff *ratelimit.BackoffLimiter

	rotateSessionSecret func(ctx context.Context) error
	rotateMasterKey     func(ctx context.Context, newKey []byte) error

	mux *chi.Mux
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	s := &Server{
		store:               deps.Store,
		logger:              deps.Logger.Named("httpapi"),
		auditor:             deps.Auditor,
		adminKeys:           deps.AdminKeys,
		sessions:            deps.Sessions,
		pipeline:            deps.Pipeline,
		toolRouter:          deps.Router,
		reloader:            deps.Reloader,
		killSwitch:          deps.KillSwitch,
		credentials:         deps.Credentials,
		perUser:             deps.PerUser,
		shared:              deps.Shared,
		regLimiter:          deps.RegLimiter,
		authBackoff:         deps.AuthBackoff,
		rotateSessionSecret: deps.RotateSessionSecret,
		rotateMasterKey:     deps.RotateMasterKey,
		mux:                 chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.Use(middleware.Recoverer)
	s.mux.Use(middleware.RequestID)
	s.mux.Use(s.requestLogger)

	s.mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.mux.Route("/v1", func(r chi.Router) {
		// Tool invocation and catalog, authenticated per request by the
		// pipeline (API key pair or bearer session token).
		r.Post("/mcp/invoke", s.handleInvoke)
		r.Get("/mcp/tools", s.handleListTools)

		// Agent session lifecycle.
		r.With(s.registrationLimit).Post("/sessions/register", s.handleSessionRegister)
		r.Post("/sessions/heartbeat", s.handleSessionHeartbeat)

		// Web auth.
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)
		r.With(s.requireSession).Get("/auth/session", s.handleWhoAmI)

		// Client registration is an admin surface.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.With(s.registrationLimit).Post("/clients/register", s.handleAdminRegisterClient)
			r.Post("/clients/{clientID}/rotate", s.handleAdminRotateClient)
		})

		// Self-service user surface.
		r.Route("/users/me", func(r chi.Router) {
			r.Use(s.requireSession)
			r.Post("/clients", s.handleCreateClient)
			r.Get("/clients", s.handleListClients)
			r.Patch("/clients/{clientID}", s.handlePatchClient)
			r.Delete("/clients/{clientID}", s.handleDeleteClient)
			r.Post("/clients/{clientID}/subscriptions", s.handleCreateSubscription)
			r.Get("/clients/{clientID}/subscriptions", s.handleListClientSubscriptions)
			r.Patch("/clients/{clientID}/subscriptions/{subID}", s.handlePatchSubscription)
			r.Delete("/clients/{clientID}/subscriptions/{subID}", s.handleDeleteSubscription)
			r.Get("/subscriptions", s.handleListAllSubscriptions)
			r.Put("/credentials/{mcpID}", s.handlePutCredentials)
		})

		r.With(s.requireSession).Get("/marketplace", s.handleMarketplace)
		r.With(s.requireSession).Get("/marketplace/{mcpID}", s.handleMarketplaceEntry)

		// Admin surface. Key recovery replaces a lost admin key, so the
		// recovery token itself is the credential; it sits outside the
		// admin-auth group but behind the registration rate limit.
		r.Route("/admin", func(r chi.Router) {
			r.With(s.registrationLimit).Post("/keys/recover", s.handleAdminKeyRecover)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)

				r.Post("/keys/generate", s.handleAdminKeyGenerate)
				r.Post("/keys/rotate", s.handleAdminKeyRotate)
				r.Post("/keys/factory-reset", s.handleAdminKeyFactoryReset)

				r.Post("/mcps", s.handleCreateMcp)
				r.Get("/mcps", s.handleListMcps)
				r.Get("/mcps/{mcpID}", s.handleGetMcp)
				r.Patch("/mcps/{mcpID}", s.handlePatchMcp)
				r.Delete("/mcps/{mcpID}", s.handleDeleteMcp)
				r.Post("/mcps/{mcpID}/validate", s.handleValidateMcp)
				r.Post("/mcps/{mcpID}/publish", s.handlePublishMcp)
				r.Post("/mcps/{mcpID}/archive", s.handleArchiveMcp)
				r.Get("/catalog/status", s.handleCatalogStatus)
				r.Post("/catalog/apply", s.handleCatalogApply)

				r.Post("/groups", s.handleCreateGroup)
				r.Get("/groups", s.handleListGroups)
				r.Patch("/groups/{groupID}", s.handlePatchGroup)
				r.Delete("/groups/{groupID}", s.handleDeleteGroup)
				r.Post("/groups/{groupID}/members", s.handleAddGroupMember)
				r.Delete("/groups/{groupID}/members/{userID}", s.handleRemoveGroupMember)
				r.Post("/groups/{groupID}/mcps", s.handleAddGroupMcp)
				r.Delete("/groups/{groupID}/mcps/{mcpID}", s.handleRemoveGroupMcp)

				r.Post("/kill-switch/{target}", s.handleKillSwitch)
				r.Get("/kill-switch", s.handleKillSwitchStatus)
				r.Post("/rotate-hmac-secret", s.handleRotateHmacSecret)
				r.Post("/rotate-credential-key", s.handleRotateCredentialKey)

				r.Post("/users", s.handleCreateUser)
				r.Get("/users", s.handleListUsers)
				r.Patch("/users/{userID}", s.handlePatchUser)
				r.Delete("/users/{userID}", s.handleDeleteUser)
			})
		})
	})
}
