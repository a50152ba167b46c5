// Command authcore-server serves the authcore HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deskflow/authcore"
	"github.com/deskflow/authcore/httpapi"
	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/identity/memstore"
	"github.com/deskflow/authcore/identity/pgstore"
	"github.com/deskflow/authcore/identity/redisstore"
	"github.com/deskflow/authcore/internal/appconfig"
	"github.com/deskflow/authcore/internal/logging"
	otelexport "github.com/deskflow/authcore/metrics/export/otel"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := appconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "dotenv: %v\n", err)
		os.Exit(1)
	}
	cfg, err := appconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.App.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appconfig.AppConfig, log *zap.Logger) error {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	client, stopRedis, err := openRedis(cfg.Redis, log)
	if err != nil {
		return err
	}
	defer stopRedis()

	store, closeStore, err := openStore(ctx, cfg, client)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := authcore.New().
		WithConfig(engineCfg).
		WithStore(store).
		WithRedis(client).
		WithNotifier(authcore.NewLogNotifier(log)).
		WithAuditSink(authcore.NewZapSink(log)).
		WithLogger(log).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	log.Info("security posture",
		zap.String("signing", report.SigningAlgorithm),
		zap.Duration("access_ttl", report.AccessTTL),
		zap.Duration("refresh_ttl", report.RefreshTTL),
		zap.Int("lockout_threshold", report.LockoutThreshold),
		zap.Int("max_sessions", report.MaxSessionsPerIdentity),
		zap.Bool("throttle", report.RequestThrottleActive),
		zap.Bool("external_login", report.ExternalLoginActive),
	)
	for _, w := range report.Warnings {
		log.Warn("security posture", zap.String("warning", w))
	}

	if interval := cfg.Metrics.OTelLogInterval; interval > 0 {
		stopMetrics, err := otelexport.StartLogging(engine, log.Named("otel"), interval)
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
			defer cancel()
			if err := stopMetrics(flushCtx); err != nil {
				log.Warn("otel metrics shutdown", zap.Error(err))
			}
		}()
	}

	router, err := httpapi.NewRouter(engine, httpapi.Options{
		Logger:         log,
		CookieInsecure: cfg.HTTP.CookieInsecure,
		CookieDomain:   cfg.HTTP.CookieDomain,
		TrustProxy:     cfg.HTTP.TrustProxy,
		RateLimit:      cfg.HTTP.RateLimit,
		RateBurst:      cfg.HTTP.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.App.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.App.Addr), zap.String("store", cfg.Store.Driver))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// openRedis connects to cfg.Addr, or starts an in-process miniredis when no
// address is configured.
func openRedis(cfg appconfig.RedisSettings, log *zap.Logger) (redis.UniversalClient, func(), error) {
	addr := cfg.Addr
	stop := func() {}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		addr = mr.Addr()
		stop = mr.Close
		log.Warn("using in-process redis; data is lost on exit")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return client, func() {
		_ = client.Close()
		stop()
	}, nil
}

func openStore(ctx context.Context, cfg *appconfig.AppConfig, client redis.UniversalClient) (identity.Store, func(), error) {
	switch cfg.Store.Driver {
	case "redis":
		return redisstore.New(client, cfg.Redis.Prefix), func() {}, nil
	case "postgres":
		s, err := pgstore.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.Store.Migrate {
			if err := s.Migrate(ctx); err != nil {
				_ = s.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return memstore.New(), func() {}, nil
	}
}
