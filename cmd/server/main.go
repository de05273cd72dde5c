// Server runs the API security gateway: the HTTP listener, the optional internal gRPC listener,
// the security monitor sweep and the health watcher.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	auditrepo "security-gateway/backend/internal/audit/repository"
	"security-gateway/backend/internal/config"
	"security-gateway/backend/internal/csrf"
	"security-gateway/backend/internal/db"
	"security-gateway/backend/internal/db/migrate"
	healthhandler "security-gateway/backend/internal/health/handler"
	identityhandler "security-gateway/backend/internal/identity/handler"
	identityrepo "security-gateway/backend/internal/identity/repository"
	"security-gateway/backend/internal/identity/service"
	"security-gateway/backend/internal/kvstore"
	"security-gateway/backend/internal/logging"
	"security-gateway/backend/internal/monitor"
	monitorhandler "security-gateway/backend/internal/monitor/handler"
	"security-gateway/backend/internal/policy/engine"
	policyrepo "security-gateway/backend/internal/policy/repository"
	"security-gateway/backend/internal/querysafety"
	"security-gateway/backend/internal/security"
	"security-gateway/backend/internal/server"
	"security-gateway/backend/internal/server/interceptors"
	"security-gateway/backend/internal/server/middleware"
	"security-gateway/backend/internal/telemetry"
	gatewayotel "security-gateway/backend/internal/telemetry/otel"
	"security-gateway/backend/internal/telemetry/producer"
	"security-gateway/backend/internal/threat"
	"security-gateway/backend/internal/validation"
)

const (
	serviceName       = "security-gateway"
	blacklistCacheLen = 10000
	auditLogCapacity  = 1000
	healthInterval    = 15 * time.Second
	pruneInterval     = time.Minute
	shutdownTimeout   = 15 * time.Second
	redisKeyPrefix    = "gateway"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gateway stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := gatewayotel.NewProviders(ctx, cfg.OTelEndpoint, serviceName, cfg.OTelInsecure)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetry.ShutdownDrainDuration)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown", zap.Error(err))
		}
	}()

	async := telemetry.NewAsync(logger, 0)

	// Durable event log and query audit trail.
	var (
		conn      *sql.DB
		events    monitor.EventStore
		lister    monitorhandler.EventLister
		auditRepo *auditrepo.SQLRepository
	)
	if cfg.DatabaseURL != "" {
		conn, err = db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer conn.Close()
		if cfg.DatabaseDriver == db.DriverSQLite {
			if err := migrate.Up(conn, cfg.DatabaseDriver); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		auditRepo = auditrepo.NewSQLRepository(querysafety.NewSafeDB(conn, querysafety.DialectFor(cfg.DatabaseDriver), nil, nil, logger))
		events, lister = auditRepo, auditRepo
	} else {
		logger.Warn("DATABASE_URL not set; security events are kept in memory only")
	}

	// External sinks.
	var (
		emitters []telemetry.EventEmitter
		sinks    = []monitor.AlertSink{monitor.LogSink(logger)}
	)
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kp := producer.NewKafkaProducer(brokers, cfg.KafkaSecurityTopic)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Warn("kafka producer close", zap.Error(err))
			}
		}()
		emitters = append(emitters, kp)
		sinks = append(sinks, kp)
	}
	if cfg.OTelEndpoint != "" {
		adapter := gatewayotel.NewAdapter(providers.LoggerProvider)
		emitters = append(emitters, adapter)
		sinks = append(sinks, adapter)
	}
	var emitter telemetry.EventEmitter
	if len(emitters) > 0 {
		emitter = telemetry.Fanout(emitters...)
	}

	mon := monitor.New(monitor.Options{
		Thresholds: monitor.Thresholds{
			FailedLogins: cfg.AlertFailedLogins,
			Suspicious:   cfg.AlertSuspicious,
			Attacks:      cfg.AlertAttacks,
			ScoreFloor:   cfg.AlertScoreFloor,
		},
	}, events, emitter, async, monitor.NewMetrics(), logger)
	for _, s := range sinks {
		mon.AddSink(s)
	}

	// Policies live in the database when there is one; otherwise only the built-in policy applies.
	var policies policyrepo.Repository
	if conn != nil {
		audit := querysafety.NewAuditLog(auditLogCapacity, auditRepo, async)
		policies = policyrepo.NewSQLRepository(querysafety.NewSafeDB(conn, querysafety.DialectFor(cfg.DatabaseDriver), audit, mon, logger))
	}
	authz, err := engine.NewOPAEvaluator(ctx, policies, logger)
	if err != nil {
		return fmt.Errorf("policy engine: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	accessKey, err := security.ResolveKey(cfg.JWTAccessSecret, cfg.JWTSecret, security.PurposeAccess)
	if err != nil {
		return fmt.Errorf("JWT_SECRET or JWT_ACCESS_SECRET must be set: %w", err)
	}
	refreshKey, err := security.ResolveKey(cfg.JWTRefreshSecret, cfg.JWTSecret, security.PurposeRefresh)
	if err != nil {
		return fmt.Errorf("JWT_SECRET or JWT_REFRESH_SECRET must be set: %w", err)
	}
	csrfKey, err := security.ResolveKey(cfg.CSRFSecret, cfg.JWTSecret, security.PurposeCSRF)
	if err != nil {
		return fmt.Errorf("JWT_SECRET or CSRF_SECRET must be set: %w", err)
	}
	tokens := security.NewTokenProvider(accessKey, refreshKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())

	blacklist := identityrepo.NewCachedBlacklist(
		identityrepo.NewKVBlacklist(store, cfg.StoreTimeoutDuration()),
		blacklistCacheLen, cfg.RefreshTTL())
	manager := service.NewTokenLifecycleManager(tokens, blacklist, cfg.RefreshInterval(), mon, logger)

	maxSize, err := threat.ParseSize(cfg.MaxRequestSize)
	if err != nil {
		return fmt.Errorf("MAX_REQUEST_SIZE: %w", err)
	}
	detector := threat.New(threat.Options{
		Enforce:              cfg.IsProduction(),
		RateWindow:           cfg.RateWindow(),
		RateMax:              cfg.RateLimitMax,
		SlowWindow:           cfg.SlowWindow(),
		SlowDelayAfter:       cfg.SlowDownDelayAfter,
		SlowDelay:            cfg.SlowDelay(),
		SlowMaxDelay:         cfg.SlowMaxDelay(),
		MaxRequestSize:       maxSize,
		FirstPartyUserAgents: cfg.FirstPartyUserAgentList(),
		WhitelistedParams:    cfg.WhitelistedParamList(),
	}, mon, logger)
	bruteForce := querysafety.NewBruteForceGuard(0, 0, detector, mon, logger)

	csrfGuard := csrf.NewGuard(store, csrfKey, logger,
		csrf.WithTTL(cfg.CSRFTokenTTL()),
		csrf.WithStoreTimeout(cfg.StoreTimeoutDuration()))
	sessions := csrf.NewSessionResolver(tokens, middleware.RequestIP)

	checks := healthhandler.New(logger).
		Add("kvstore", healthhandler.CheckFunc(store.Ping)).
		Add("policy", healthhandler.CheckFunc(authz.HealthCheck))
	if conn != nil {
		checks.Add("database", conn)
	}
	grpcHealth := health.NewServer()
	checks.AttachGRPC(grpcHealth)

	proxies, err := interceptors.ParseTrustedProxies(cfg.TrustedProxyCIDRList())
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	router := server.NewRouter(server.Deps{
		Logger:         logger,
		Production:     cfg.IsProduction(),
		TrustedProxies: proxies,
		Monitor:       mon,
		Threat:        detector,
		CSRF:          csrf.NewMiddleware(csrfGuard, sessions, cfg.CSRFExemptPathList(), mon, middleware.RequestIP),
		CSRFTokens:    csrf.NewTokenHandler(csrfGuard, sessions),
		Authenticator: middleware.NewAuthenticator(manager, mon, logger),
		Authorizer:    authz,
		Auth: identityhandler.NewAuthHandler(manager, authz, validation.New(mon), logger).
			WithBruteForceGuard(bruteForce),
		Security:     monitorhandler.NewSecurityHandler(mon, lister, detector, logger),
		Health:       checks,
		Transformers: []middleware.ResponseTransformer{middleware.StripFields(middleware.SensitiveFields...)},
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcServer = server.NewGRPCServer(server.GRPCDeps{
			Verifier:       manager,
			Admitter:       detector,
			Events:         mon,
			Observer:       mon,
			TrustedProxies: proxies,
			Health:         grpcHealth,
			Logger:         logger,
		})
		go func() {
			logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("grpc serve", zap.Error(err))
				stop()
			}
		}()
	}

	go mon.Run(ctx, cfg.SweepInterval())
	go checks.Watch(ctx, healthInterval)
	go prune(ctx, pruneInterval, detector, bruteForce)

	go func() {
		logger.Info("HTTP gateway listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.Env))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), telemetry.ShutdownDrainDuration)
	defer drainCancel()
	if err := mon.Close(drainCtx); err != nil {
		logger.Warn("event drain incomplete", zap.Error(err))
	}
	logger.Info("gateway stopped")
	return nil
}

// openStore connects to Redis when REDIS_URL is set, else falls back to a process-local store.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (kvstore.Store, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set; blacklist and CSRF tokens are process-local")
		return kvstore.NewMemoryStore(), func() {}, nil
	}
	client, err := kvstore.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return kvstore.NewRedisStore(client, redisKeyPrefix), func() { _ = client.Close() }, nil
}

// prune drops expired process-local threat state on every tick until ctx is done.
func prune(ctx context.Context, interval time.Duration, detector *threat.Detector, guard *querysafety.BruteForceGuard) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			detector.Prune()
			guard.Prune()
		}
	}
}
