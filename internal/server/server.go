// Package server is the composition root: it builds every gateway
// component from configuration, wires them together, and runs the
// lifecycle from startup to deadline-bounded shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mcp-ambassador/ambassador-go/internal/aaa"
	"github.com/mcp-ambassador/ambassador-go/internal/audit"
	"github.com/mcp-ambassador/ambassador-go/internal/authz"
	"github.com/mcp-ambassador/ambassador-go/internal/config"
	"github.com/mcp-ambassador/ambassador-go/internal/downstream/peruser"
	"github.com/mcp-ambassador/ambassador-go/internal/downstream/shared"
	"github.com/mcp-ambassador/ambassador-go/internal/httpapi"
	"github.com/mcp-ambassador/ambassador-go/internal/keys"
	"github.com/mcp-ambassador/ambassador-go/internal/killswitch"
	"github.com/mcp-ambassador/ambassador-go/internal/ratelimit"
	"github.com/mcp-ambassador/ambassador-go/internal/reload"
	"github.com/mcp-ambassador/ambassador-go/internal/router"
	"github.com/mcp-ambassador/ambassador-go/internal/session"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
	"github.com/mcp-ambassador/ambassador-go/internal/validate"
	"github.com/mcp-ambassador/ambassador-go/internal/vault"
)

// shutdownTimeout bounds the entire teardown sequence.
const shutdownTimeout = 30 * time.Second

// Server owns every long-lived component of the gateway.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	store       *storage.Store
	vault       *vault.Vault
	credentials *vault.CredentialService
	auditBuffer *audit.Buffer
	adminKeys   *keys.AdminKeyService
	sessions    *session.Manager
	sharedPool  *shared.Pool
	perUserPool *peruser.Pool
	killSwitch  *killswitch.Registry
	reloader    *reload.Reloader
	regLimiter  *ratelimit.Limiter
	httpServer  *http.Server
}

// New builds the full component graph. Nothing is started yet; Run does
// that.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	store, err := storage.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}

	masterKey, err := vault.LoadOrCreateMasterKey(cfg.DataDir)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	v, err := vault.New(masterKey)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	credentials := vault.NewCredentialService(v, store, logger)

	sessionSecret, err := session.LoadOrCreateSecret(cfg.DataDir)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sessions := session.NewManager(store, sessionSecret, cfg.Sessions.TTL, logger)

	auditBuffer := audit.NewBuffer(audit.Config{
		Size:          cfg.Audit.BufferSize,
		FlushInterval: cfg.Audit.FlushInterval,
		SpillToDisk:   cfg.Audit.SpillToDisk,
		SpillPath:     spillPath(cfg),
	}, audit.NewStoreSink(store), logger)

	adminKeys := keys.NewAdminKeyService(store, cfg.DataDir, logger)

	authenticator, err := keys.NewAuthenticator(store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sharedPool := shared.NewPool(logger, cfg.Downstream.InvokeTimeout)
	perUserPool := peruser.NewPool(cfg.Pools, credentials, cfg.Downstream.InvokeTimeout, logger)

	registry := killswitch.NewRegistry()
	toolRouter := router.New(store, sharedPool, perUserPool, registry, logger)
	reloader := reload.New(store, sharedPool, perUserPool, logger)

	denied, err := validate.CompileDenyPatterns(cfg.DenyPatterns)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("invalid deny pattern: %w", err)
	}
	engine := authz.NewEngine(store, logger)
	auth := &compositeAuth{apiKeys: authenticator, sessions: sessions, store: store}
	pipeline := aaa.New(auth, engine, toolRouter, auditBuffer, denied, logger)

	regLimiter := ratelimit.NewLimiter(cfg.RateLimit.RegistrationsPerHour, time.Hour)
	authBackoff := ratelimit.NewBackoffLimiter(cfg.RateLimit.AuthFailuresPerMin, time.Second, time.Minute)

	s := &Server{
		cfg:         cfg,
		logger:      logger.Named("server"),
		store:       store,
		vault:       v,
		credentials: credentials,
		auditBuffer: auditBuffer,
		adminKeys:   adminKeys,
		sessions:    sessions,
		sharedPool:  sharedPool,
		perUserPool: perUserPool,
		killSwitch:  registry,
		reloader:    reloader,
		regLimiter:  regLimiter,
	}

	api := httpapi.NewServer(httpapi.Deps{
		Store:               store,
		Logger:              logger,
		Auditor:             auditBuffer,
		AdminKeys:           adminKeys,
		Sessions:            sessions,
		Pipeline:            pipeline,
		Router:              toolRouter,
		Reloader:            reloader,
		KillSwitch:          registry,
		Credentials:         credentials,
		PerUser:             perUserPool,
		Shared:              sharedPool,
		RegLimiter:          regLimiter,
		AuthBackoff:         authBackoff,
		RotateSessionSecret: s.rotateSessionSecret,
		RotateMasterKey:     s.rotateMasterKey,
	})
	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func spillPath(cfg *config.Config) string {
	if cfg.Audit.SpillPath != "" {
		return cfg.Audit.SpillPath
	}
	return filepath.Join(cfg.DataDir, "audit-spill.jsonl")
}

func (s *Server) rotateSessionSecret(_ context.Context) error {
	secret, err := session.RotateSecretFile(s.cfg.DataDir)
	if err != nil {
		return err
	}
	s.sessions.RotateSecret(secret)
	return nil
}

func (s *Server) rotateMasterKey(ctx context.Context, newKey []byte) error {
	return vault.RotateMasterKeyTo(ctx, s.vault, s.store, s.cfg.DataDir, newKey, s.logger)
}

// Run starts every background component, brings up published shared MCPs,
// serves HTTP, and blocks until ctx is cancelled. Shutdown order is the
// reverse of startup: HTTP drain, pools, session reaper, audit drain,
// store close.
func (s *Server) Run(ctx context.Context) error {
	s.auditBuffer.Start()
	s.regLimiter.StartJanitor(s.cfg.RateLimit.JanitorInterval)
	s.perUserPool.Start()
	s.sessions.StartReaper(s.cfg.Sessions.ReapInterval, func(userIDs []string) {
		// Expired sessions take their per-user instances with them.
		reapCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Downstream.ShutdownTimeout)
		defer cancel()
		for _, userID := range userIDs {
			s.perUserPool.TerminateForUser(reapCtx, userID)
		}
	})

	published, err := s.store.ListCatalogEntries(ctx, storage.McpStatusPublished)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	s.sharedPool.StartAll(ctx, published)

	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.logger.Info("ambassador listening",
		zap.String("addr", listener.Addr().String()),
		zap.Int("shared_mcps", len(s.sharedPool.Running())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})
	return g.Wait()
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http drain incomplete", zap.Error(err))
	}

	s.sharedPool.StopAll(ctx)
	s.perUserPool.Stop(ctx)
	s.sessions.Stop()
	s.regLimiter.Stop()

	if err := s.auditBuffer.Shutdown(ctx); err != nil {
		s.logger.Warn("audit drain incomplete", zap.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("database close failed", zap.Error(err))
	}
	s.logger.Info("shutdown complete")
}
