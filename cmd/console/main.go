package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/melih/lighthouse-console/internal/adapters/http"
	"github.com/melih/lighthouse-console/internal/adapters/platform"
	"github.com/melih/lighthouse-console/internal/adapters/sse"
	"github.com/melih/lighthouse-console/internal/config"
	"github.com/melih/lighthouse-console/internal/events"
	"github.com/melih/lighthouse-console/internal/logging"
	"github.com/melih/lighthouse-console/internal/querycache"
	"github.com/melih/lighthouse-console/internal/viewsync"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	configFile := flag.StringP("config", "c", "", "Path to YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	platformURL := flag.String("platform-url", "", "Platform API base URL (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile, *addr, *platformURL, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		Format:        logging.LogFormat(cfg.Logging.Format),
		IncludeCaller: cfg.Logging.IncludeCaller,
		GlobalFields:  cfg.Logging.GlobalFields,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Console failed")
	}
}

func run(cfg *config.Config) error {
	// 1. Real-time plumbing: one shared registry of event channels
	transport := sse.NewTransport(cfg.Platform.URL,
		sse.WithToken(cfg.Platform.Token),
		sse.WithBuffer(cfg.Events.StreamBuffer),
	)
	manager := events.NewManager(transport)
	defer manager.Shutdown()

	// 2. Query cache backed by the platform REST API
	cache, err := querycache.New(cfg.Cache.Size, config.Seconds(cfg.Cache.MaxAgeSeconds))
	if err != nil {
		return err
	}
	client := platform.NewClient(cfg.Platform.URL, cfg.Platform.Token, config.Seconds(cfg.Platform.RequestTimeout))
	platform.RegisterFetchers(cache, client)
	synchronizer := viewsync.New(manager, cache)

	// 3. HTTP handlers
	consoleHandler := http.NewConsoleHandler(cache, client, synchronizer, manager, config.Seconds(cfg.Events.HeartbeatInterval))
	proxyHandler, err := http.NewProxyHandler("/platform", cfg.Platform.URL, cfg.Platform.Token)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:               "lighthouse-console",
		DisableStartupMessage: true,
		ReadTimeout:           config.Seconds(cfg.Server.ReadTimeout),
		WriteTimeout:          config.Seconds(cfg.Server.WriteTimeout),
		IdleTimeout:           config.Seconds(cfg.Server.IdleTimeout),
	})
	app.Use(logging.Middleware())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if cfg.Metrics.Enabled {
		app.Get(cfg.Metrics.Endpoint, adaptor.HTTPHandler(promhttp.Handler()))
	}

	consoleHandler.Register(app.Group("/api/v1"))
	app.All("/platform/*", proxyHandler.ProxyRequest)

	// 4. Serve until a signal arrives
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Str("platform", cfg.Platform.URL).Msg("Console starting")
		return app.Listen(cfg.Server.Addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down console")
		// Ending channels first lets open view streams finish
		manager.Shutdown()
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("console stopped: %w", err)
	}
	return nil
}
