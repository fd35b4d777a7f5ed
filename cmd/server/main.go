// Command server starts the shelfshare API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"shelfshare/internal/access"
	"shelfshare/internal/api"
	"shelfshare/internal/auth"
	"shelfshare/internal/observability/logging"
	"shelfshare/internal/observability/metrics"
	"shelfshare/internal/search"
	"shelfshare/internal/server"
	"shelfshare/internal/storage"
)

const defaultCloseTimeout = 5 * time.Second

func main() {
	envFile, explicit := strings.TrimSpace(os.Getenv(envPrefix+"ENV_FILE")), true
	if envFile == "" {
		envFile, explicit = ".env", false
	}
	if err := loadDotEnv(envFile, explicit); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	recorder := metrics.New()
	metrics.SetDefault(recorder)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, recorder, nil); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// run assembles the service from cfg and serves until ctx is cancelled.
func run(ctx context.Context, cfg config, logger *slog.Logger, recorder *metrics.Recorder, onListen func(net.Addr)) error {
	a, err := newApp(ctx, cfg, logger, recorder)
	if err != nil {
		return err
	}
	defer a.close(logger)

	return a.server.Run(ctx, onListen)
}

type app struct {
	server  *server.Server
	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg config, logger *slog.Logger, recorder *metrics.Recorder) (*app, error) {
	if recorder == nil {
		recorder = metrics.Default()
	}
	a := &app{}

	repo, err := openRepository(ctx, cfg, logging.WithComponent(logger, "storage"))
	if err != nil {
		return nil, err
	}
	if closer, ok := repo.(interface{ Close(context.Context) error }); ok {
		a.closers = append(a.closers, closer.Close)
	}

	checks := healthChecks{repo}
	var grants access.GrantStore = repo
	if cfg.GrantStore == grantsRedis {
		redisStore, err := access.NewRedisGrantStore(ctx, access.RedisGrantStoreConfig{
			Addr:         cfg.Redis.Addr,
			Addrs:        cfg.Redis.Addrs,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			DialTimeout:  cfg.Redis.Timeout,
			ReadTimeout:  cfg.Redis.Timeout,
			WriteTimeout: cfg.Redis.Timeout,
			PoolSize:     cfg.Redis.PoolSize,
			MasterName:   cfg.Redis.MasterName,
			TLS:          cfg.Redis.TLS,
		})
		if err != nil {
			a.close(logger)
			return nil, fmt.Errorf("open redis grant store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return redisStore.Close() })
		grants = redisStore
		checks = append(checks, redisStore)
		logger.Info("access grants stored in redis", "prefix", cfg.Redis.KeyPrefix)
	}

	tokens, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Lifetime: cfg.JWT.Lifetime,
	})
	if err != nil {
		a.close(logger)
		return nil, fmt.Errorf("configure tokens: %w", err)
	}

	provider := search.NewCatalogProvider(search.Config{
		Timeout:   cfg.SearchTimeout,
		GoogleURL: cfg.GoogleURL,
		MIFURL:    cfg.MIFURL,
		Observer:  recorder,
	})
	logger.Info("catalog search enabled", "sources", provider.Sources(), "timeout", cfg.SearchTimeout)

	handler := api.NewHandler(
		auth.NewCredentialStore(repo, tokens),
		repo,
		access.NewPolicy(grants),
		provider,
	)
	handler.MaxUploadBytes = cfg.MaxUploadBytes
	handler.Grants = recorder

	dispatcher, err := handler.NewRouter(tokens, logging.WithComponent(logger, "api"), api.WithAuthObserver(recorder))
	if err != nil {
		a.close(logger)
		return nil, fmt.Errorf("build router: %w", err)
	}

	srv, err := server.New(dispatcher, server.Config{
		Addr:            cfg.Addr,
		TLS:             cfg.TLS,
		Logger:          logger,
		Metrics:         recorder,
		Health:          checks,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Security:        securityConfig(cfg),
	})
	if err != nil {
		a.close(logger)
		return nil, fmt.Errorf("initialise server: %w", err)
	}
	a.server = srv
	return a, nil
}

func (a *app) close(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Warn("failed to close dependency", "error", err)
		}
	}
	a.closers = nil
}

func openRepository(ctx context.Context, cfg config, logger *slog.Logger) (storage.Repository, error) {
	switch cfg.StorageDriver {
	case driverJSON:
		repo, err := storage.NewJSONRepository(cfg.DataPath)
		if err != nil {
			return nil, fmt.Errorf("open json datastore: %w", err)
		}
		logger.Info("using json datastore", "path", cfg.DataPath)
		return repo, nil
	case driverPostgres:
		var opts []storage.Option
		if cfg.Postgres.MaxConns > 0 || cfg.Postgres.MinConns > 0 {
			opts = append(opts, storage.WithPostgresPoolLimits(int32(cfg.Postgres.MaxConns), int32(cfg.Postgres.MinConns)))
		}
		if cfg.Postgres.MaxConnLifetime > 0 || cfg.Postgres.MaxConnIdle > 0 || cfg.Postgres.HealthInterval > 0 {
			opts = append(opts, storage.WithPostgresPoolDurations(cfg.Postgres.MaxConnLifetime, cfg.Postgres.MaxConnIdle, cfg.Postgres.HealthInterval))
		}
		if cfg.Postgres.AcquireTimeout > 0 {
			opts = append(opts, storage.WithPostgresAcquireTimeout(cfg.Postgres.AcquireTimeout))
		}
		if cfg.Postgres.AppName != "" {
			opts = append(opts, storage.WithPostgresApplicationName(cfg.Postgres.AppName))
		}
		repo, err := storage.NewPostgresRepository(cfg.Postgres.DSN, opts...)
		if err != nil {
			return nil, fmt.Errorf("open postgres datastore: %w", err)
		}
		if cfg.Postgres.Migrate {
			if err := storage.ApplyMigrations(ctx, repo); err != nil {
				if closer, ok := repo.(interface{ Close(context.Context) error }); ok {
					_ = closer.Close(ctx)
				}
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres schema up to date")
		}
		logger.Info("using postgres datastore")
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func securityConfig(cfg config) server.SecurityConfig {
	var sec server.SecurityConfig
	if cfg.TLS.Enabled() {
		sec.StrictTransportSecurity = "max-age=63072000; includeSubDomains"
	}
	return sec
}

// healthChecks pings every backing store in order and reports the first
// failure.
type healthChecks []server.HealthChecker

func (h healthChecks) Ping(ctx context.Context) error {
	for _, check := range h {
		if err := check.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}
