// Package gateway is the HTTP/WebSocket entry point (C7): the
// local-network guard, CORS, the mTLS/bearer/API-key auth hook chain,
// the per-route RBAC hook, and the /ws/metrics broadcast hub all sit in
// front of the routes that call into the executor, auth service, RBAC
// engine and audit chain built elsewhere in the substrate.
package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sentineld/runtime/internal/audit"
	"github.com/sentineld/runtime/internal/auth"
	apperrors "github.com/sentineld/runtime/internal/errors"
	"github.com/sentineld/runtime/internal/executor"
	"github.com/sentineld/runtime/internal/ratelimit"
	"github.com/sentineld/runtime/internal/rbac"
)

// Version is the substrate's reported version string.
const Version = "0.1.0"

// Config bounds the gateway's network and TLS behavior.
type Config struct {
	BindHost          string
	BindPort          string
	TLSCertFile       string
	TLSKeyFile        string
	AgentCACertFile   string
	RequireClientCert bool
	CORSOrigins       []string
}

// Gateway wires every component built elsewhere into one gin.Engine and
// owns the resulting http.Server's lifecycle.
type Gateway struct {
	cfg       Config
	authSvc   *auth.Service
	apiKeys   auth.ApiKeyStore
	rbac      *rbac.Engine
	limiter   ratelimit.Limiter
	chain     *audit.Chain
	executor  *executor.Executor
	hub       *MetricsHub
	logger    *zerolog.Logger
	startedAt time.Time

	engine *gin.Engine
	srv    *http.Server
}

// New builds a Gateway. Call Run to start serving.
func New(cfg Config, authSvc *auth.Service, apiKeys auth.ApiKeyStore, rbacEngine *rbac.Engine, limiter ratelimit.Limiter, chain *audit.Chain, exec *executor.Executor, logger *zerolog.Logger) *Gateway {
	g := &Gateway{
		cfg:       cfg,
		authSvc:   authSvc,
		apiKeys:   apiKeys,
		rbac:      rbacEngine,
		limiter:   limiter,
		chain:     chain,
		executor:  exec,
		hub:       NewMetricsHub(logger),
		logger:    logger,
		startedAt: time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(apperrors.Recovery(logger))
	engine.Use(RequestID())
	engine.Use(AccessLog(logger))
	engine.Use(SecurityHeaders())
	engine.Use(BodySizeLimit())
	engine.Use(LocalNetworkGuard())
	engine.Use(CORS(cfg.CORSOrigins))
	engine.Use(AuthMiddleware(authSvc, apiKeys, publicRoutes))
	engine.Use(RBACMiddleware(rbacEngine, routePermissions, skipRBAC(), g.recordPermissionDenied))

	g.engine = engine
	g.registerRoutes(engine)
	return g
}

// Engine exposes the underlying gin.Engine, primarily for tests.
func (g *Gateway) Engine() *gin.Engine { return g.engine }

// Hub exposes the metrics broadcast hub so callers can Publish to it.
// The gateway starts no metrics ticker and publishes nothing itself.
func (g *Gateway) Hub() *MetricsHub { return g.hub }

// Run starts the HTTP(S) server, optionally with mTLS for agent
// authentication, and blocks until ctx is cancelled, at which point it
// shuts down gracefully within shutdownTimeout.
func (g *Gateway) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := fmt.Sprintf("%s:%s", g.cfg.BindHost, g.cfg.BindPort)

	var tlsConfig *tls.Config
	if g.cfg.AgentCACertFile != "" {
		caCert, err := os.ReadFile(g.cfg.AgentCACertFile)
		if err != nil {
			return fmt.Errorf("gateway: failed to read agent CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return fmt.Errorf("gateway: failed to parse agent CA certificate")
		}
		clientAuth := tls.VerifyClientCertIfGiven
		if g.cfg.RequireClientCert {
			clientAuth = tls.RequireAndVerifyClientCert
		}
		tlsConfig = &tls.Config{ClientCAs: pool, ClientAuth: clientAuth, MinVersion: tls.VersionTLS12}
	}

	g.srv = &http.Server{
		Addr:              addr,
		Handler:           g.engine,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		TLSConfig:         tlsConfig,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if g.cfg.TLSCertFile != "" && g.cfg.TLSKeyFile != "" {
			if g.logger != nil {
				g.logger.Info().Str("addr", addr).Bool("mtls", g.cfg.AgentCACertFile != "").Msg("gateway listening (tls)")
			}
			err = g.srv.ListenAndServeTLS(g.cfg.TLSCertFile, g.cfg.TLSKeyFile)
		} else {
			if g.logger != nil {
				g.logger.Warn().Str("addr", addr).Msg("gateway listening without tls")
			}
			err = g.srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		} else {
			errCh <- nil
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := g.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway: shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func asAppError(err error) (*apperrors.AppError, bool) {
	appErr, ok := err.(*apperrors.AppError)
	return appErr, ok
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
