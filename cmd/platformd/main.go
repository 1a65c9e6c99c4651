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
	"github.com/melih/lighthouse-console/internal/adapters/builder"
	"github.com/melih/lighthouse-console/internal/adapters/docker"
	"github.com/melih/lighthouse-console/internal/adapters/http"
	"github.com/melih/lighthouse-console/internal/config"
	"github.com/melih/lighthouse-console/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	configFile := flag.StringP("config", "c", "", "Path to YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile, "", "", *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Emulator.Addr = *addr
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
		log.Fatal().Err(err).Msg("Platform emulator failed")
	}
}

func run(cfg *config.Config) error {
	// 1. Initialize Adapters (Infrastructure)
	dockerAdapter, err := docker.NewAdapter()
	if err != nil {
		return fmt.Errorf("failed to initialize Docker adapter: %w", err)
	}
	defer dockerAdapter.Close()
	builderAdapter := builder.NewBuilderAdapter(dockerAdapter.Client())

	// 2. Event hub fed by Docker events
	hub := http.NewEventHub(cfg.Emulator.SubscriberBuffer, config.Seconds(cfg.Events.HeartbeatInterval))
	defer hub.Close()

	// 3. Dependency Injection: Docker implements ContainerService, the
	// builder implements BuilderService
	containerHandler := http.NewContainerHandler(dockerAdapter, builderAdapter, hub, config.Seconds(cfg.Emulator.BuildTimeout))

	app := fiber.New(fiber.Config{
		AppName:               "lighthouse-platformd",
		DisableStartupMessage: true,
	})
	app.Use(logging.Middleware())
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if cfg.Metrics.Enabled {
		app.Get(cfg.Metrics.Endpoint, adaptor.HTTPHandler(promhttp.Handler()))
	}
	containerHandler.Register(app)

	// 4. Start Server
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(ctx, dockerAdapter)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Emulator.Addr).Msg("Platform emulator starting")
		return app.Listen(cfg.Emulator.Addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down platform emulator")
		hub.Close()
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("platform emulator stopped: %w", err)
	}
	return nil
}
