package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/bordereau/console/docs"
	"github.com/bordereau/console/internal/application/session"
	"github.com/bordereau/console/internal/domain/bpc"
	"github.com/bordereau/console/internal/infrastructure/auth"
	"github.com/bordereau/console/internal/infrastructure/cache"
	"github.com/bordereau/console/internal/infrastructure/config"
	"github.com/bordereau/console/internal/infrastructure/logger"
	"github.com/bordereau/console/internal/infrastructure/push"
	"github.com/bordereau/console/internal/infrastructure/remote"
	"github.com/bordereau/console/internal/infrastructure/telemetry"
	"github.com/bordereau/console/internal/interfaces/http/handler"
	"github.com/bordereau/console/internal/interfaces/http/middleware"
	"github.com/bordereau/console/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

//go:generate swag init -d ../../ -g cmd/server/main.go -o ../../docs --parseInternal

//	@title			Bordereau Console Gateway API
//	@version		1.0
//	@description	Session, permission and live bordereau API behind the clerk console.
//	@BasePath		/

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token issued by the core API. Format: "Bearer {token}"

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}, cfg.App.Env)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting console gateway",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx := context.Background()

	// Telemetry
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log = loggerProvider.Bridge(log)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.ProfilerAddress,
		ApplicationName: cfg.Telemetry.ServiceName,
		ProfileTypes:    cfg.Telemetry.ProfileTypes,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if profiler.IsEnabled() {
		tracerProvider.EnableSpanProfiles()
	}

	meter := meterProvider.Meter("github.com/bordereau/console")
	consoleMetrics, err := telemetry.NewConsoleMetrics(meter)
	if err != nil {
		log.Warn("Console metrics disabled", zap.Error(err))
	}

	// Query cache, toast ledger and the shared Redis client
	cacheFactory := cache.NewFactory(cfg.Redis, cfg.Cache, cache.WithLogger(log))
	queryCache, err := cacheFactory.CreateQueryCache()
	if err != nil {
		log.Fatal("Failed to create query cache", zap.Error(err))
	}
	ledger, err := cacheFactory.CreateToastLedger()
	if err != nil {
		log.Fatal("Failed to create toast ledger", zap.Error(err))
	}

	var blacklist auth.TokenBlacklist = auth.NewInMemoryTokenBlacklist()
	connectorOpts := []push.ConnectorOption{push.WithConnectorLogger(log)}
	if cfg.Redis.Enabled {
		if client, err := cacheFactory.RedisClient(); err == nil {
			blacklist = auth.NewRedisTokenBlacklistWithClient(client)
			connectorOpts = append(connectorOpts, push.WithRedisClient(client))
		} else {
			log.Warn("Redis unavailable, token revocation is local to this instance", zap.Error(err))
		}
	}

	// Push transport and core API client
	connector, err := push.NewConnector(cfg.Realtime, connectorOpts...)
	if err != nil {
		log.Fatal("Failed to configure push transport", zap.Error(err))
	}
	core, err := remote.NewClient(cfg.Remote, remote.WithLogger(log))
	if err != nil {
		log.Fatal("Failed to create core API client", zap.Error(err))
	}

	// Browser sessions
	sessions := session.NewManager(session.Config{
		IdleTimeout:   cfg.Session.IdleTimeout,
		SweepInterval: cfg.Session.SweepInterval,
		EventName:     cfg.Realtime.EventName,
		RecipientRole: bpc.Role(cfg.Realtime.RecipientRole),
		EntityTTL:     cfg.Cache.DefaultTTL,
	}, core, connector, queryCache, ledger,
		session.WithLogger(log),
		session.WithMetrics(consoleMetrics),
	)
	sessions.Start()

	// Handlers
	sessionHandler := handler.NewSessionHandler(
		handler.WithTokenBlacklist(blacklist),
		handler.WithReadyTimeout(cfg.Access.ReadyTimeout),
		handler.WithTokenCookie(cfg.JWT.CookieName),
		handler.WithSessionLogger(log),
	)
	bpcHandler := handler.NewBpcHandler(core, cfg.Cache.DefaultTTL, log)
	streamHandler := handler.NewStreamHandler(
		handler.WithStreamLogger(log),
		handler.WithStreamMetrics(consoleMetrics),
	)
	var healthOpts []handler.HealthOption
	if stats, ok := queryCache.(handler.CacheStats); ok {
		healthOpts = append(healthOpts, handler.WithCacheStats(stats))
	}
	healthHandler := handler.NewHealthHandler(cfg.App.Name, version, connector.Transport(), sessions, streamHandler, healthOpts...)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Logger - Log requests
	// 3. Recovery - Catch panics
	// 4. Tracing - Server spans
	// 5. HTTPMetrics - Request metrics
	// 6. CORS - Handle cross-origin requests from the console SPA
	engine.Use(middleware.RequestID())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     tracerProvider.IsEnabled(),
	}))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.HTTPMetrics(meter))

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsConfig.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler.Health)
	router.DocsRoutes(engine, middleware.SwaggerConfig{
		Enabled:    cfg.Swagger.Enabled,
		AllowedIPs: cfg.Swagger.AllowedIPs,
	})

	// Every API route runs against the caller's console session
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Use(
		middleware.Session(middleware.SessionConfig{
			JWTService:     auth.NewJWTService(cfg.JWT),
			TokenBlacklist: blacklist,
			Sessions:       sessions,
			TokenCookie:    cfg.JWT.CookieName,
			SessionCookie:  cfg.Session.CookieName,
			SessionMaxAge:  cfg.Session.IdleTimeout,
			SecureCookies:  cfg.App.Env == "production",
			Logger:         log,
		}),
		middleware.TracingAttributeInjector(),
	)
	permissionConfig := middleware.PermissionConfig{
		ReadyTimeout: cfg.Access.ReadyTimeout,
		Logger:       log,
	}
	r.Register(router.SessionRoutes(sessionHandler)).
		Register(router.BpcRoutes(bpcHandler, streamHandler, permissionConfig))
	r.Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// event streams never finish on their own
	streamHandler.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	sessions.Shutdown(shutdownCtx)
	if err := queryCache.Close(); err != nil {
		log.Warn("Error closing query cache", zap.Error(err))
	}
	if err := ledger.Close(); err != nil {
		log.Warn("Error closing toast ledger", zap.Error(err))
	}
	if err := cacheFactory.Close(); err != nil {
		log.Warn("Error closing cache factory", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Error shutting down tracer provider", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Warn("Error stopping profiler", zap.Error(err))
	}

	log.Info("Server exited gracefully")
	if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Error shutting down logger provider", zap.Error(err))
	}
}
