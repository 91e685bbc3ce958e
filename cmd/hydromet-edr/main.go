package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/hydromet-edr/internal/api/http"
	"github.com/i474232898/hydromet-edr/internal/cache"
	"github.com/i474232898/hydromet-edr/internal/config"
	"github.com/i474232898/hydromet-edr/internal/hydromet"
	"github.com/i474232898/hydromet-edr/internal/hydromet/sources"
	"github.com/i474232898/hydromet-edr/internal/scheduler"
	"github.com/i474232898/hydromet-edr/internal/store"
	"github.com/i474232898/hydromet-edr/internal/upstream"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open %s cache store: %v", cfg.CacheBackend, err)
	}
	defer st.Close()

	// Shared HTTP client for outbound upstream calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}
	upstreamConfig := func(accept string) upstream.Config {
		return upstream.Config{
			Client: httpClient,
			Backoff: upstream.BackoffConfig{
				MaxRetries:      cfg.UpstreamMaxRetries,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     10 * time.Second,
			},
			RequestsPerSecond: cfg.UpstreamRPS,
			Burst:             cfg.UpstreamBurst,
			Accept:            accept,
		}
	}

	// One cache per upstream so each has its own circuit breaker and limiter.
	riseCache := cache.New(st, upstream.NewClient("rise", upstreamConfig("application/vnd.api+json")), cfg.CacheTTL)
	awdbCache := cache.New(st, upstream.NewClient("awdb", upstreamConfig("application/json")), cfg.CacheTTL)

	var (
		collections []httpapi.Collection
		warmers     []scheduler.Warmer
	)
	for _, name := range cfg.Sources {
		var svc *hydromet.Service
		switch name {
		case "rise":
			svc = hydromet.NewService(sources.NewRISE(cfg.RISEBaseURL), riseCache, cfg.PageSize)
		case "snotel":
			svc = hydromet.NewService(sources.NewAWDB(cfg.AWDBBaseURL, sources.SNOTEL), awdbCache, cfg.PageSize)
		case "awdb-forecasts":
			svc = hydromet.NewService(sources.NewAWDB(cfg.AWDBBaseURL, sources.Forecasts), awdbCache, cfg.PageSize)
		default:
			log.Fatalf("unknown source %q", name)
		}
		collections = append(collections, svc)
		warmers = append(warmers, svc)
		log.Printf("INFO: registered collection %s", name)
	}

	// Scheduler that periodically re-warms location and parameter caches.
	sched := scheduler.New(warmers, cfg.WarmInterval)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "hydromet-edr",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          2 * time.Minute,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(httpapi.RequestID())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestId} ${status} ${latency} ${method} ${path}?${queryParams}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "hydromet-edr",
		})
	})

	httpapi.RegisterRoutes(app, collections)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}

func openStore(ctx context.Context, cfg *config.AppConfig) (store.Store, error) {
	switch cfg.CacheBackend {
	case "redis":
		s, err := store.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return store.NewMemoryStore(cfg.CacheMaxEntries), nil
	}
}
