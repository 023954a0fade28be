package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/venkytv/calendar-publisher/internal/models"
	"github.com/venkytv/calendar-publisher/pkg/agent"
	"github.com/venkytv/calendar-publisher/pkg/calendar"
	"github.com/venkytv/calendar-publisher/pkg/calendar/google"
	"github.com/venkytv/calendar-publisher/pkg/calendar/ics"
	"github.com/venkytv/calendar-publisher/pkg/config"
	"github.com/venkytv/calendar-publisher/pkg/credentials"
	"github.com/venkytv/calendar-publisher/pkg/nats"
	"github.com/venkytv/calendar-publisher/pkg/template"
)

const (
	defaultConfigPath = "config.yaml"
	gracefulTimeout   = 30 * time.Second
	statusInterval    = 1 * time.Hour
)

var (
	configPath = flag.String("config", defaultConfigPath, "Path to configuration file")
	version    = flag.Bool("version", false, "Print version information")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	dryRun     = flag.Bool("dry-run", false, "Write events to local .ics files and log results instead of publishing them")
)

// Version information - can be set at build time
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	flag.Parse()

	if *version {
		printVersion()
		os.Exit(0)
	}

	app, err := NewApp(*configPath, *debug, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		app.logger.Error("Failed to start application", "error", err)
		os.Exit(1)
	}

	app.logger.Info("Calendar publisher started successfully")

	sig := <-sigChan
	app.logger.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulTimeout)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		app.logger.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	app.logger.Info("Calendar publisher stopped gracefully")
}

// App holds the main application components
type App struct {
	config     *config.Config
	logger     *slog.Logger
	conn       *natsgo.Conn
	publisher  *nats.Publisher
	subscriber *nats.Subscriber
	agent      *agent.PublishAgent
	dryRun     bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewApp creates a new application instance
func NewApp(configPath string, debugMode, dryRun bool) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.Logging, debugMode)
	logger.Info("Starting calendar publisher",
		"version", Version,
		"commit", GitCommit,
		"build_time", BuildTime,
		"config_path", configPath,
		"dry_run", dryRun)

	natsConfig := nats.DefaultConfig()
	natsConfig.URL = cfg.NATS.URL
	natsConfig.Name = cfg.Agent.Name
	conn, err := nats.Connect(natsConfig, logger)
	if err != nil {
		return nil, err
	}

	app, err := newApp(cfg, conn, logger, dryRun)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return app, nil
}

func newApp(cfg *config.Config, conn *natsgo.Conn, logger *slog.Logger, dryRun bool) (*App, error) {
	creds, err := credentialStore(cfg, conn, logger)
	if err != nil {
		return nil, err
	}

	backend, construct, err := clientConstructor(cfg.Calendar, dryRun)
	if err != nil {
		return nil, err
	}
	logger.Info("Using calendar backend", "backend", backend)

	var (
		publisher *nats.Publisher
		store     agent.EventStore
	)
	if dryRun {
		store = &DryRunStore{logger: logger}
		logger.Info("Running in dry-run mode - result events will not be published")
	} else {
		publisher, err = nats.NewPublisher(conn, cfg.NATS.OutboundSubject, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
		}
		store = publisher
	}

	publishAgent, err := agent.New(agent.Config{
		ID:                 cfg.Agent.ID,
		UserID:             cfg.Agent.UserID,
		Name:               cfg.Agent.Name,
		Options:            cfg.Agent.Options,
		Concurrency:        cfg.Agent.Concurrency,
		RequireCredentials: backend == "google",
	}, template.NewLiquid(creds), construct, store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	subscriber, err := nats.NewSubscriber(conn, nats.DefaultSubscriberConfig(cfg.NATS.InboundSubject), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS subscriber: %w", err)
	}

	return &App{
		config:     cfg,
		logger:     logger,
		conn:       conn,
		publisher:  publisher,
		subscriber: subscriber,
		agent:      publishAgent,
		dryRun:     dryRun,
	}, nil
}

// credentialStore picks the JetStream bucket when configured, then the
// credentials file, and finally an empty in-memory store
func credentialStore(cfg *config.Config, conn *natsgo.Conn, logger *slog.Logger) (credentials.Store, error) {
	switch {
	case cfg.NATS.CredentialsBucket != "":
		store, err := credentials.NewKVStore(conn, cfg.NATS.CredentialsBucket, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open credentials bucket: %w", err)
		}
		return store, nil

	case cfg.Credentials.File != "":
		store, err := credentials.LoadFile(cfg.Credentials.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load credentials: %w", err)
		}
		logger.Info("Loaded credentials file", "path", cfg.Credentials.File)
		return store, nil

	default:
		logger.Warn("No credential store configured; credential references will fail")
		return credentials.NewMemory(), nil
	}
}

// clientConstructor resolves the configured backend. Dry runs always use
// the local iCalendar backend.
func clientConstructor(cfg config.CalendarConfig, dryRun bool) (string, calendar.ClientConstructor, error) {
	factory := calendar.NewBackendFactory()
	factory.RegisterBackend("google", google.NewClient)
	factory.RegisterBackend("ics", ics.NewConstructor(cfg.ICSDir))

	backend := cfg.Backend
	if dryRun {
		backend = "ics"
	}

	construct, err := factory.Constructor(backend)
	if err != nil {
		return "", nil, fmt.Errorf("failed to resolve calendar backend: %w", err)
	}
	return backend, construct, nil
}

// Start validates the agent options and starts consuming inbound events
func (a *App) Start(ctx context.Context) error {
	if err := a.agent.ValidateOptions(); err != nil {
		return fmt.Errorf("invalid agent options: %w", err)
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	go func() {
		defer close(a.done)
		if err := a.subscriber.Run(ctx, a.agent.Receive); err != nil {
			a.logger.Error("Subscriber stopped", "error", err)
		}
	}()

	go a.runStatusRoutine(ctx)

	return nil
}

// Stop gracefully stops the application services
func (a *App) Stop(ctx context.Context) error {
	a.logger.Info("Shutting down application")

	if a.cancel != nil {
		a.cancel()
		select {
		case <-a.done:
		case <-ctx.Done():
			a.logger.Warn("Timed out waiting for in-flight events")
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("Error closing NATS publisher", "error", err)
		}
	}

	if a.conn != nil && !a.conn.IsClosed() {
		if err := a.conn.Drain(); err != nil {
			a.logger.Error("Error draining NATS connection", "error", err)
			a.conn.Close()
		}
	}

	stats := a.agent.Stats()
	a.logger.Info("Agent statistics",
		"received", stats.Received,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed)

	return nil
}

// runStatusRoutine periodically logs whether the agent is working
func (a *App) runStatusRoutine(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			stats := a.agent.Stats()
			a.logger.Info("Agent status",
				"working", a.agent.Working(now),
				"received", stats.Received,
				"succeeded", stats.Succeeded,
				"failed", stats.Failed)
		}
	}
}

// setupLogger configures the application logger
func setupLogger(cfg config.LoggingConfig, debugMode bool) *slog.Logger {
	var level slog.Level

	// Override config level if debug mode is enabled
	if debugMode {
		level = slog.LevelDebug
	} else {
		switch cfg.Level {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("Calendar Publisher %s\n", Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Time: %s\n", BuildTime)
}

// DryRunStore logs result events instead of publishing them
type DryRunStore struct {
	logger *slog.Logger
}

// Append logs the result event
func (s *DryRunStore) Append(ctx context.Context, event *models.Event) error {
	s.logger.Info("[DRY RUN] Would publish result event",
		"event_id", event.ID,
		"source_event_id", event.Payload[models.PayloadEventID],
		"success", event.Succeeded())
	return nil
}
