// Command server bootstraps the substrate: it constructs every component
// (audit chain, RBAC engine, rate limiter, auth service, task executor,
// HTTP/WS gateway) through explicit dependency injection and wires them
// together, then serves until SIGINT/SIGTERM triggers a graceful
// shutdown. No component reaches for a package-level singleton; this
// function is the one place that owns construction order.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentineld/runtime/internal/audit"
	"github.com/sentineld/runtime/internal/auth"
	"github.com/sentineld/runtime/internal/config"
	"github.com/sentineld/runtime/internal/executor"
	"github.com/sentineld/runtime/internal/gateway"
	"github.com/sentineld/runtime/internal/logger"
	"github.com/sentineld/runtime/internal/ratelimit"
	"github.com/sentineld/runtime/internal/rbac"
)

func main() {
	cfg := config.Load()
	log0 := logger.New(cfg.LogLevel, cfg.LogPretty)

	if cfg.TokenSigningSecret == "" || cfg.AdminPasswordHash == "" || cfg.AuditSigningKey == "" {
		log.Fatal("TOKEN_SIGNING_SECRET, ADMIN_PASSWORD_HASH and AUDIT_SIGNING_KEY must all be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chain, err := audit.New(audit.NewMemoryStorage(), []byte(cfg.AuditSigningKey), log0.Audit())
	if err != nil {
		log.Fatalf("failed to construct audit chain: %v", err)
	}
	if err := chain.Initialize(ctx); err != nil {
		log.Fatalf("failed to initialize audit chain: %v", err)
	}

	rbacEngine := rbac.New(rbac.NewMemoryStorage(), log0.RBAC())
	if err := rbacEngine.Load(ctx); err != nil {
		log.Fatalf("failed to load RBAC engine: %v", err)
	}
	if err := rbacEngine.LoadSeedFile(ctx, cfg.RBACSeedFile); err != nil {
		log.Fatalf("failed to load RBAC seed file: %v", err)
	}

	tokens := auth.NewTokenManager("sentineld-runtime", []byte(cfg.TokenSigningSecret))

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to parse REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
	}

	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, ratelimit.DefaultRules(), log0.RateLimit())
	} else {
		memLimiter := ratelimit.New(ratelimit.DefaultRules(), log0.RateLimit())
		if err := memLimiter.StartSweeper("@every 1m"); err != nil {
			log.Fatalf("failed to start rate limiter sweeper: %v", err)
		}
		defer memLimiter.Stop()
		limiter = memLimiter
	}

	var blacklist auth.BlacklistStore
	if redisClient != nil {
		blacklist = auth.NewRedisBlacklist(redisClient, log0.Auth())
	} else {
		memBlacklist := auth.NewBlacklist()
		if err := memBlacklist.StartJanitor(""); err != nil {
			log.Fatalf("failed to start blacklist janitor: %v", err)
		}
		defer memBlacklist.Stop()
		blacklist = memBlacklist
	}

	apiKeys := auth.NewMemoryApiKeyStore()
	refreshTokens := auth.NewMemoryRefreshTokenStore()
	authSvc := auth.NewService(tokens, blacklist, apiKeys, refreshTokens, limiter, chain, cfg.AdminPasswordHash, log0.Auth())

	exec := executor.New(executor.Config{
		MaxConcurrent:    cfg.MaxConcurrentTasks,
		DefaultTimeoutMs: int64(cfg.DefaultTaskTimeoutMs),
		MaxTimeoutMs:     int64(cfg.MaxTaskTimeoutMs),
		QueueSize:        256,
	}, rbacEngine, limiter, chain, nil, log0.Executor())

	gw := gateway.New(gateway.Config{
		BindHost:          cfg.BindHost,
		BindPort:          cfg.BindPort,
		TLSCertFile:       cfg.TLSCertFile,
		TLSKeyFile:        cfg.TLSKeyFile,
		AgentCACertFile:   cfg.AgentCACertFile,
		RequireClientCert: cfg.RequireClientCert,
		CORSOrigins:       cfg.CORSOrigins,
	}, authSvc, apiKeys, rbacEngine, limiter, chain, exec, log0.Gateway())

	execErrCh := make(chan error, 1)
	go func() { execErrCh <- exec.Run(ctx)() }()

	gatewayErrCh := make(chan error, 1)
	go func() { gatewayErrCh <- gw.Run(ctx, 30*time.Second) }()

	select {
	case <-ctx.Done():
		log0.Raw().Info().Msg("shutdown signal received, draining in-flight tasks")
		exec.Stop()
		<-gatewayErrCh
	case err := <-execErrCh:
		if err != nil {
			log0.Raw().Error().Err(err).Msg("task executor exited unexpectedly")
		}
		stop()
		<-gatewayErrCh
	case err := <-gatewayErrCh:
		if err != nil {
			log0.Raw().Error().Err(err).Msg("gateway exited unexpectedly")
		}
		stop()
		exec.Stop()
	}

	log0.Raw().Info().Msg("shutdown complete")
	os.Exit(0)
}
