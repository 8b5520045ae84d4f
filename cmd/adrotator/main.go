package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/adfetch"
	"github.com/patrickwarner/adrotator/internal/analytics"
	"github.com/patrickwarner/adrotator/internal/api"
	"github.com/patrickwarner/adrotator/internal/backend"
	"github.com/patrickwarner/adrotator/internal/config"
	"github.com/patrickwarner/adrotator/internal/db"
	"github.com/patrickwarner/adrotator/internal/entitlement"
	"github.com/patrickwarner/adrotator/internal/geoip"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/ratelimit"
	"github.com/patrickwarner/adrotator/internal/rotation"
	"github.com/patrickwarner/adrotator/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, observability.TracingOptions{
			ServiceName: cfg.ServiceName,
			Endpoint:    cfg.TempoEndpoint,
			SampleRate:  cfg.TracingSampleRate,
		})
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			defer shutdown()
		}
	}

	metricsRegistry := observability.NewPrometheusRegistry()

	placements, err := config.LoadPlacements(cfg.PlacementsFile, cfg)
	if err != nil {
		return fmt.Errorf("load placements: %w", err)
	}

	client := backend.NewClient(cfg.BackendURL, cfg.BackendAPIKey, cfg.BackendTimeout, logger)

	checker, cleanup, err := buildChecker(logger, cfg, client)
	if err != nil {
		return err
	}
	defer cleanup()
	gate := entitlement.NewGate(checker, logger, metricsRegistry)

	var fallback adfetch.Source
	if cfg.FallbackAdURL != "" {
		fallback = adfetch.NewFallbackSource(cfg.FallbackAdURL, cfg.FallbackTimeout)
	}
	fetcher := adfetch.NewClient(adfetch.NewRPCSource(client), fallback, logger, metricsRegistry)

	sink, closeSinks := buildSink(logger, cfg, client)
	defer closeSinks()
	emitter := telemetry.NewEmitter(sink, cfg.TelemetryQueue, cfg.TelemetryTimeout, logger, metricsRegistry)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := emitter.Close(drainCtx); err != nil {
			logger.Warn("telemetry drain incomplete", zap.Error(err))
		}
	}()

	geoSvc, err := geoip.Init(cfg.GeoIPDB)
	if err != nil {
		return fmt.Errorf("failed to load geoip db: %w", err)
	}
	defer func() { _ = geoSvc.Close() }()

	scheduler := rotation.TickerScheduler{}
	slots := api.NewRegistry(func() *rotation.Slot {
		return rotation.NewSlot(gate, fetcher, emitter, scheduler, logger, metricsRegistry)
	}, metricsRegistry)
	defer slots.Close()

	srvDeps := api.NewServer(logger, slots, placements, geoSvc, client, metricsRegistry, cfg)
	srvDeps.Clicks = ratelimit.NewLimiter(ratelimit.Config{Capacity: cfg.ClickBurst, RefillRate: cfg.ClickRefillRate})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      srvDeps.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Ad placement service running",
		zap.String("addr", addr),
		zap.Duration("rotate_interval", cfg.RotateInterval),
		zap.Bool("fallback", fallback != nil))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	if cfg.SlotIdleTTL > 0 {
		ticker := time.NewTicker(cfg.SlotIdleTTL / 2)
		go func() {
			for {
				select {
				case <-ticker.C:
					if n := slots.Sweep(cfg.SlotIdleTTL); n > 0 {
						logger.Info("swept idle slots", zap.Int("count", n))
					}
					logClickThrottle(logger, srvDeps.Clicks)
					srvDeps.Clicks.Prune(cfg.SlotIdleTTL)
				case <-ctx.Done():
					ticker.Stop()
					return
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}

// buildChecker picks the entitlement source: the subscriptions table when a
// Postgres DSN is configured, the backend RPC otherwise, optionally behind a
// Redis cache.
func buildChecker(logger *zap.Logger, cfg config.Config, client *backend.Client) (entitlement.Checker, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var checker entitlement.Checker = &entitlement.RPCChecker{Backend: client}
	if cfg.PostgresDSN != "" {
		pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to connect postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		checker = &entitlement.PostgresChecker{DB: pg.DB}
	}

	if cfg.RedisAddr != "" {
		store, err := db.InitRedis(cfg.RedisAddr)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("failed to connect redis: %w", err)
		}
		closers = append(closers, store.Close)
		checker = &entitlement.CachedChecker{
			Inner:  checker,
			Store:  store,
			TTL:    cfg.EntitlementCacheTTL,
			Logger: logger,
		}
	}
	return checker, cleanup, nil
}

// buildSink returns the backend logging sink plus any configured mirrors.
// Mirrors that fail to start are skipped.
func buildSink(logger *zap.Logger, cfg config.Config, client *backend.Client) (telemetry.Sink, func()) {
	sinks := telemetry.MultiSink{&telemetry.RPCSink{Backend: client}}
	var closers []func()

	if cfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			logger.Warn("clickhouse mirror disabled", zap.Error(err))
		} else {
			sinks = append(sinks, ch)
			closers = append(closers, ch.Close)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		k := &telemetry.KafkaSink{Writer: telemetry.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)}
		sinks = append(sinks, k)
		closers = append(closers, func() {
			if err := k.Close(); err != nil {
				logger.Warn("kafka writer close", zap.Error(err))
			}
		})
		logger.Info("kafka mirror enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	return sinks, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

// logClickThrottle summarises sessions that hit the click limit since their
// bucket was created.
func logClickThrottle(logger *zap.Logger, clicks *ratelimit.Limiter) {
	var sessions int
	var limited, total int64
	for _, st := range clicks.Stats() {
		total += st.Total
		if st.Hits > 0 {
			sessions++
			limited += st.Hits
		}
	}
	if sessions > 0 {
		logger.Info("click throttle activity",
			zap.Int("throttled_sessions", sessions),
			zap.Int64("clicks_rejected", limited),
			zap.Int64("clicks_seen", total))
	}
}
