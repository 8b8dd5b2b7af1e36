package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audimeta/internal/ratelimit"
	"audimeta/internal/util"
	"audimeta/pkg/cache"
	"audimeta/pkg/catalog"
	"audimeta/pkg/metrics"
	"audimeta/pkg/scrape"
	"audimeta/pkg/store"
	"audimeta/services/api/internal/app"
	"audimeta/services/api/internal/config"
	"audimeta/services/api/internal/server"
	"go.opentelemetry.io/otel/metric"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	// Durations were checked by config.Load.
	cacheTTL, _ := config.ParseDuration("cacheTTL", cfg.CacheTTL)
	interval, _ := config.ParseDuration("schedulerInterval", cfg.SchedulerInterval)
	staleAfter, _ := config.ParseDuration("staleAfter", cfg.StaleAfter)
	upstreamTimeout, _ := config.ParseDuration("upstreamTimeout", cfg.UpstreamTimeout)

	var (
		provider       metric.MeterProvider
		metricsHandler http.Handler
		shutdownMeter  func(context.Context) error
	)
	if cfg.MetricsEnabled {
		mp, handler, err := metrics.NewPrometheusProvider()
		if err != nil {
			log.Fatalf("failed to init metrics: %v", err)
		}
		provider, metricsHandler, shutdownMeter = mp, handler, mp.Shutdown
	}
	recorder, err := metrics.New(provider)
	if err != nil {
		log.Fatalf("failed to init metrics recorder: %v", err)
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer dataStore.Close()

	var (
		recordCache *cache.RedisCache
		limiter     *ratelimit.FixedWindowLimiter
	)
	if cfg.RedisAddr != "" {
		recordCache, err = cache.NewRedisCache(cache.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Fatalf("failed to init cache: %v", err)
		}
		defer recordCache.Close()
		if cfg.RateLimitPerMinute > 0 {
			limiter, err = ratelimit.NewFixedWindowLimiter(recordCache.Client(), "", cfg.RateLimitPerMinute, time.Minute)
			if err != nil {
				log.Fatalf("failed to init rate limiter: %v", err)
			}
		}
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCfg := app.Config{
		Store: dataStore,
		API: catalog.NewClient(catalog.Config{
			UserAgent:     cfg.UpstreamUserAgent,
			RatePerSecond: cfg.UpstreamRatePerSecond,
			MaxRetries:    cfg.UpstreamMaxRetries,
			Timeout:       upstreamTimeout,
		}),
		Pages: scrape.NewScraper(scrape.Config{
			UserAgent: cfg.UpstreamUserAgent,
			Timeout:   upstreamTimeout,
		}),
		Metrics:       recorder,
		DefaultRegion: cfg.DefaultRegion,
		CacheTTL:      cacheTTL,
		SortKeys:      cfg.SortKeys,
	}
	// A nil *RedisCache must not end up behind a non-nil interface.
	if recordCache != nil {
		appCfg.Cache = recordCache
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Limiter:        limiter,
		TrustedProxies: trusted,
		Metrics:        metricsHandler,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var scheduler *app.Scheduler
	if cfg.SchedulerEnabled {
		scheduler = app.NewScheduler(appCore, appCore, app.SchedulerConfig{
			Concurrency:  cfg.SchedulerConcurrency,
			MaxPerRegion: cfg.SchedulerMaxPerRegion,
			Parallel:     cfg.UseParallelScheduler,
			StaleAfter:   staleAfter,
			Interval:     interval,
			RunOnStart:   cfg.SchedulerRunOnStart,
		}, app.WithMetrics(recorder), app.WithLogger(logger))
		scheduler.Start(ctx)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	appCore.WaitSeeds()
	if shutdownMeter != nil {
		if err := shutdownMeter(shutdownCtx); err != nil {
			logger.Error("metrics shutdown", "err", err)
		}
	}
}
