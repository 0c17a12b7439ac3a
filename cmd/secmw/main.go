package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avsecmw/internal/audit"
	"github.com/vyrodovalexey/avsecmw/internal/auth"
	"github.com/vyrodovalexey/avsecmw/internal/auth/apikey"
	"github.com/vyrodovalexey/avsecmw/internal/auth/jwt"
	"github.com/vyrodovalexey/avsecmw/internal/auth/local"
	"github.com/vyrodovalexey/avsecmw/internal/auth/session"
	"github.com/vyrodovalexey/avsecmw/internal/authz/rbac"
	"github.com/vyrodovalexey/avsecmw/internal/config"
	"github.com/vyrodovalexey/avsecmw/internal/observability"
	"github.com/vyrodovalexey/avsecmw/internal/pipeline"
	"github.com/vyrodovalexey/avsecmw/internal/ratelimit"
	ratestore "github.com/vyrodovalexey/avsecmw/internal/ratelimit/store"
	"github.com/vyrodovalexey/avsecmw/internal/reputation"
	"github.com/vyrodovalexey/avsecmw/internal/request"
	"github.com/vyrodovalexey/avsecmw/internal/security"
	httpserver "github.com/vyrodovalexey/avsecmw/internal/server/http"
	"github.com/vyrodovalexey/avsecmw/internal/server/http/middleware"
	"github.com/vyrodovalexey/avsecmw/internal/threat"
)

// Build-time variables set via ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const (
	metricsNamespace    = "secmw"
	rateLimitKeyPrefix  = "secmw:ratelimit:"
	reputationKeyPrefix = "secmw:reputation:"
	shutdownTimeout     = 30 * time.Second
)

type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func parseFlags() *cliFlags {
	flags := &cliFlags{}
	flag.StringVar(&flags.configPath, "config", getEnvOrDefault("SECMW_CONFIG_PATH", "config.yaml"), "Path to configuration file")
	flag.StringVar(&flags.logLevel, "log-level", os.Getenv("SECMW_LOG_LEVEL"), "Override log level (debug, info, warn, error)")
	flag.StringVar(&flags.logFormat, "log-format", os.Getenv("SECMW_LOG_FORMAT"), "Override log format (json, console)")
	flag.BoolVar(&flags.showVersion, "version", false, "Show version information")
	flag.Parse()
	return flags
}

func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func printVersion() {
	fmt.Printf("secmw version %s (commit %s, built %s)\n", version, gitCommit, buildTime)
}

// application holds the wired components that need a coordinated
// shutdown.
type application struct {
	config  *config.Config
	logger  observability.Logger
	server  *httpserver.Server
	reaper  *audit.Reaper
	watcher *config.Watcher
	closers []func() error
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	cfg, err := loadAndValidateConfig(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logCfg := cfg.Log.ToLog()
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		logCfg.Format = flags.logFormat
	}
	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting secmw",
		observability.String("version", version),
		observability.String("commit", gitCommit),
		observability.String("config", flags.configPath),
	)

	app, err := initApplication(cfg, logger)
	if err != nil {
		logger.Error("initialization failed", observability.Error(err))
		os.Exit(1)
	}

	if err := run(app, flags.configPath); err != nil {
		logger.Error("runtime failure", observability.Error(err))
		os.Exit(1)
	}
}

func loadAndValidateConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return cfg, nil
}

func initApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	redisClient, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	if redisClient != nil {
		app.closers = append(app.closers, redisClient.Close)
	}

	// Audit trail. The store is in-memory; durability beyond process
	// lifetime is handled by the structured escalation log.
	auditStore := audit.NewMemoryStore()
	trail := audit.NewTrail(auditStore,
		audit.WithTrailLogger(logger),
		audit.WithTrailMetrics(audit.NewMetricsWithRegisterer(metricsNamespace, registry)),
		audit.WithRetentionPolicy(cfg.Audit.RetentionPolicy()),
		audit.WithEscalationHook(func(event *audit.Event, err error) {
			logger.Error("audit write failed",
				observability.String("action", string(event.Action)),
				observability.String("category", string(event.Category)),
				observability.Error(err),
			)
		}),
	)

	reputationStore, err := newReputationStore(cfg, redisClient)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, reputationStore.Close)

	rateStore, err := newRateLimitStore(cfg, redisClient, logger)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, rateStore.Close)

	limiter := ratelimit.NewDualWindowLimiter(rateStore, cfg.RateLimit.ToRateLimit(),
		ratelimit.WithLimiterLogger(logger),
		ratelimit.WithLimiterMetrics(ratelimit.NewMetricsWithRegisterer(metricsNamespace, registry)),
		ratelimit.WithEscalation(func(key string, denials int) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := reputationStore.Block(ctx, key, time.Duration(cfg.Pipeline.BlockDuration), "rate limit escalation"); err != nil {
				logger.Error("escalation block failed",
					observability.String("key", key),
					observability.Error(err),
				)
				return
			}
			event := audit.NewEvent(audit.CategorySecurity, audit.ActionIPBlock, audit.OutcomeSuccess).
				WithLevel(audit.LevelCritical).
				WithIP(key).
				WithDetail("reason", "rate limit escalation").
				WithDetail("denials", denials)
			if _, err := trail.Record(ctx, event); err != nil {
				logger.Error("escalation audit failed", observability.Error(err))
			}
		}),
	)

	keys := apikey.NewMemoryStore()
	accounts := local.NewAuthenticator(cfg.Auth.Local.ToLocal(), local.WithLogger(logger))
	if err := bootstrapAdminAccount(accounts, logger); err != nil {
		return nil, err
	}

	managerOpts := []auth.ManagerOption{
		auth.WithManagerLogger(logger),
		auth.WithSessionStore(session.NewMemoryStore()),
	}
	if ttl := time.Duration(cfg.Auth.Session.TTL); ttl > 0 {
		managerOpts = append(managerOpts, auth.WithSessionTTL(ttl))
	}
	if cfg.Auth.JWT.Enabled {
		authority, err := jwt.NewAuthority(cfg.Auth.JWT.ToJWT(), jwt.WithAuthorityLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("jwt authority: %w", err)
		}
		managerOpts = append(managerOpts,
			auth.WithTokenResolver(authority),
			auth.WithTokenIssuer(authority),
		)
	}
	if cfg.Auth.APIKey.Enabled {
		managerOpts = append(managerOpts,
			auth.WithAPIKeyResolver(apikey.NewResolver(keys, apikey.WithValidatorLogger(logger))),
		)
	}
	manager := auth.NewManager(managerOpts...)

	scanner := threat.NewScanner(
		threat.WithScannerLogger(logger),
		threat.WithScannerMetrics(threat.NewMetricsWithRegisterer(metricsNamespace, registry)),
	)
	engine := rbac.NewEngine(
		rbac.WithEngineLogger(logger),
		rbac.WithEngineMetrics(rbac.NewMetricsWithRegisterer(metricsNamespace, registry)),
	)

	pipe := pipeline.New(reputationStore, limiter, scanner, manager, engine, trail,
		pipeline.WithConfig(cfg.Pipeline.ToPipeline()),
		pipeline.WithPipelineLogger(logger),
		pipeline.WithPipelineMetrics(pipeline.NewMetricsWithRegisterer(metricsNamespace, registry)),
	)

	consent := audit.NewConsentRegistry(trail)
	assessor := audit.NewAssessor(trail, consent, cfg.Audit.RetentionPolicy())
	admin := pipeline.NewAdmin(pipe, manager.Sessions(), keys, reputationStore, trail, assessor)

	app.reaper = audit.NewReaper(auditStore, trail, time.Duration(cfg.Audit.ReapInterval), logger)
	app.server = buildServer(cfg, logger, registry, pipe, accounts, manager, trail, admin)
	return app, nil
}

func newRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.RateLimit.Store != config.StoreRedis && cfg.Reputation.Store != config.StoreRedis {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Address, err)
	}
	return client, nil
}

func newReputationStore(cfg *config.Config, client *redis.Client) (reputation.Store, error) {
	if cfg.Reputation.Store == config.StoreRedis {
		return reputation.NewRedisStore(client, reputationKeyPrefix), nil
	}
	return reputation.NewMemoryStore(), nil
}

func newRateLimitStore(cfg *config.Config, client *redis.Client, logger observability.Logger) (ratestore.Store, error) {
	if cfg.RateLimit.Store == config.StoreRedis {
		return ratestore.NewRedisStoreFromClient(client, rateLimitKeyPrefix, logger), nil
	}
	return ratestore.NewMemoryStore(), nil
}

// bootstrapAdminAccount seeds one local admin account from the
// environment. Without it the admin surface is reachable only via API
// keys issued out of band.
func bootstrapAdminAccount(accounts *local.Authenticator, logger observability.Logger) error {
	password := os.Getenv("SECMW_ADMIN_PASSWORD")
	if password == "" {
		return nil
	}
	username := getEnvOrDefault("SECMW_ADMIN_USER", "admin")
	hash, err := local.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}
	accounts.AddAccount(&local.Account{
		Subject:      username,
		Username:     username,
		PasswordHash: hash,
		Roles:        []rbac.Role{rbac.RoleAdmin},
	})
	logger.Info("bootstrap admin account registered", observability.String("username", username))
	return nil
}

func buildServer(
	cfg *config.Config,
	logger observability.Logger,
	registry *prometheus.Registry,
	pipe *pipeline.Pipeline,
	accounts *local.Authenticator,
	manager *auth.Manager,
	trail *audit.Trail,
	admin *pipeline.Admin,
) *httpserver.Server {
	server := httpserver.NewServer(&httpserver.ServerConfig{
		Address:            cfg.Server.Address,
		Port:               cfg.Server.Port,
		ReadTimeout:        time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout:       time.Duration(cfg.Server.WriteTimeout),
		IdleTimeout:        time.Duration(cfg.Server.IdleTimeout),
		MaxRequestBodySize: cfg.Server.MaxRequestBodySize,
	}, logger)

	profiles := httpserver.NewProfileRegistry()
	profiles.RegisterPrefix("", "/admin", &request.EndpointProfile{
		RequiresAuth:       true,
		RequiredPermission: string(rbac.PermissionAdmin),
		SecurityLevel:      request.SecurityLevelHigh,
	})
	profiles.Register("POST", "/auth/logout", &request.EndpointProfile{
		RequiresAuth:  true,
		SecurityLevel: request.SecurityLevelStandard,
	})

	server.Use(
		middleware.Recovery(logger),
		middleware.LoggingWithConfig(middleware.LoggingConfig{
			Logger:    logger,
			SkipPaths: []string{"/healthz", "/metrics"},
		}),
		middleware.Pipeline(middleware.PipelineConfig{
			Pipeline:     pipe,
			Profiles:     profiles,
			Headers:      security.NewHeaders(&cfg.Security),
			Logger:       logger,
			MaxBodyBytes: cfg.Pipeline.MaxScanBodyBytes,
			SkipPaths:    []string{"/healthz", "/metrics"},
		}),
	)

	engine := server.Engine()
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	httpserver.NewAuthHandler(accounts, manager, trail, logger).Register(engine.Group("/auth"))
	httpserver.NewAdminHandler(admin, logger).Register(engine.Group("/admin"))
	return server
}

func run(app *application, configPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go app.reaper.Run(ctx)

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.Info("http server starting",
			observability.String("address", app.config.Server.Address),
			observability.Int("port", app.config.Server.Port),
		)
		if err := app.server.Start(ctx); err != nil {
			serverErrors <- err
		}
	}()

	startConfigWatcher(app, configPath)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		app.logger.Info("shutdown signal received", observability.String("signal", sig.String()))
	}

	return shutdown(app, cancel)
}

// startConfigWatcher watches the config file and logs drift. Runtime
// rewiring is deliberately not attempted; a restart picks changes up.
func startConfigWatcher(app *application, configPath string) {
	watcher, err := config.NewWatcher(configPath,
		func(cfg *config.Config) {
			app.logger.Info("configuration file changed; restart to apply",
				observability.String("path", configPath),
			)
		},
		config.WithLogger(app.logger),
		config.WithErrorCallback(func(err error) {
			app.logger.Error("configuration reload failed", observability.Error(err))
		}),
	)
	if err != nil {
		app.logger.Warn("config watcher unavailable", observability.Error(err))
		return
	}
	if err := watcher.Start(context.Background()); err != nil {
		app.logger.Warn("config watcher failed to start", observability.Error(err))
		return
	}
	app.watcher = watcher
}

func shutdown(app *application, cancelBackground context.CancelFunc) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.Error("http server shutdown failed", observability.Error(err))
	}

	cancelBackground()

	if app.watcher != nil {
		if err := app.watcher.Stop(); err != nil {
			app.logger.Warn("config watcher stop failed", observability.Error(err))
		}
	}
	for _, closeFn := range app.closers {
		if err := closeFn(); err != nil {
			app.logger.Warn("close failed", observability.Error(err))
		}
	}

	app.logger.Info("shutdown complete")
	return nil
}
