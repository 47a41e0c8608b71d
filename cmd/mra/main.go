package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ncolesummers/multi-research/pkg/api"
	"github.com/ncolesummers/multi-research/pkg/config"
	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/llm"
	"github.com/ncolesummers/multi-research/pkg/notify"
	"github.com/ncolesummers/multi-research/pkg/observability"
	"github.com/ncolesummers/multi-research/pkg/state"
	"github.com/ncolesummers/multi-research/pkg/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"

	// Global telemetry instance
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	tracer    trace.Tracer
)

func main() {
	// Parse command line flags
	var (
		configPath = flag.String("config", "configs/default.yaml", "Path to configuration file")
		envPath    = flag.String("env", ".env", "Path to .env file")
		version    = flag.Bool("version", false, "Show version information")
		apiMode    = flag.Bool("api", false, "Run in API server mode")
		topic      = flag.String("topic", "", "Research topic (for CLI mode)")
		providers  = flag.String("providers", "", "Comma-separated providers (default: all configured)")
		mergeAfter = flag.Bool("merge", false, "Merge the provider reports into a master report (CLI mode)")
		mergeWith  = flag.String("merge-provider", "", "Provider that synthesizes the merge (default from config)")
	)
	flag.Parse()

	// Show version if requested
	if *version {
		fmt.Printf("Multi-Provider Research\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Printf("Ignoring env file: %v", err)
	}

	// Load configuration
	cfg := config.LoadOrDefault(*configPath)
	observability.SetLogLevel(observability.ParseLogLevel(cfg.Observability.Logging.Level))

	// Initialize observability
	ctx := context.Background()
	if err := initObservability(ctx, cfg); err != nil {
		log.Fatalf("Failed to initialize observability: %v", err)
	}
	defer shutdownObservability(ctx)

	// Start main span
	ctx, span := tracer.Start(ctx, "main",
		trace.WithAttributes(
			attribute.String("version", Version),
			attribute.String("mode", getMode(*apiMode || cfg.API.Enabled)),
		),
	)
	defer span.End()

	log.Printf("Starting Multi-Provider Research v%s (built: %s)", Version, BuildTime)
	log.Printf("Configuration loaded from: %s", *configPath)

	opts := cliOptions{
		topic:         *topic,
		providers:     parseProviders(*providers),
		merge:         *mergeAfter,
		mergeProvider: domain.ProviderID(*mergeWith),
	}
	if err := run(ctx, cfg, *apiMode || cfg.API.Enabled, opts); err != nil {
		span.RecordError(err)
		log.Fatalf("Application failed: %v", err)
	}
}

func initObservability(ctx context.Context, cfg *config.Config) error {
	telConfig := &observability.TelemetryConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: Version,
		Environment:    getEnvironment(),
		OTLPEndpoint:   cfg.Observability.Tracing.Endpoint,
		Insecure:       cfg.Observability.Tracing.Insecure,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableTracing:  cfg.Observability.Tracing.Enabled,
		EnableMetrics:  cfg.Observability.Metrics.Enabled,
	}

	var err error
	telemetry, err = observability.NewTelemetry(telConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	tracer = telemetry.Tracer()

	metrics, err = observability.NewMetrics(telemetry.Meter())
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	log.Println("Observability initialized successfully")
	return nil
}

func shutdownObservability(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down telemetry: %v", err)
		}
	}
}

type cliOptions struct {
	topic         string
	providers     []domain.ProviderID
	merge         bool
	mergeProvider domain.ProviderID
}

// components are the wired services shared by both modes
type components struct {
	catalog     *llm.Catalog
	registry    *llm.Registry
	service     *workflow.ResearchService
	broadcaster *notify.Broadcaster
}

func run(ctx context.Context, cfg *config.Config, apiMode bool, opts cliOptions) error {
	// Set up graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	initCtx, span := tracer.Start(ctx, "initialize_components")

	store, closeStore, err := state.Open(initCtx, cfg.Storage)
	if err != nil {
		span.RecordError(err)
		span.End()
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer closeStore()

	broadcaster := notify.NewBroadcaster(cfg.Events.BufferSize)
	notifiers := notify.Multi{broadcaster, notify.NewLogNotifier()}
	if cfg.Events.RedisURL != "" {
		redisNotifier, client, err := notify.NewRedisNotifier(initCtx, cfg.Events.RedisURL, cfg.Events.ChannelPrefix)
		if err != nil {
			span.RecordError(err)
			span.End()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close() //nolint:errcheck
		notifiers = append(notifiers, redisNotifier)
		log.Printf("Publishing progress events to redis with prefix %q", cfg.Events.ChannelPrefix)
	}

	catalog := llm.DefaultCatalog()
	registry, err := llm.BuildRegistry(cfg, catalog, telemetry, metrics)
	if err != nil {
		span.RecordError(err)
		span.End()
		return fmt.Errorf("failed to build provider registry: %w", err)
	}
	if len(registry.List()) == 0 {
		log.Println("No providers configured; set OPENAI_API_KEY, ANTHROPIC_API_KEY, XAI_API_KEY or OLLAMA_BASE_URL")
	}

	service, err := buildService(cfg, store, registry, catalog, notifiers)
	if err != nil {
		span.RecordError(err)
		span.End()
		return err
	}
	span.End()

	c := &components{
		catalog:     catalog,
		registry:    registry,
		service:     service,
		broadcaster: broadcaster,
	}

	if apiMode {
		return runAPIServer(ctx, cfg, c)
	}
	return runCLI(ctx, c, opts)
}

func buildService(cfg *config.Config, store domain.SessionStore, registry *llm.Registry, catalog *llm.Catalog, notifier domain.ProgressNotifier) (*workflow.ResearchService, error) {
	runner, err := workflow.NewTaskRunner(workflow.TaskRunnerConfig{
		Registry:  registry,
		Store:     store,
		Notifier:  notifier,
		Timeout:   cfg.GetDuration(cfg.Research.ProviderTimeout, 30*time.Minute),
		Telemetry: telemetry,
		Metrics:   metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task runner: %w", err)
	}

	orchestrator, err := workflow.NewOrchestrator(workflow.OrchestratorConfig{
		Store:                  store,
		Runner:                 runner,
		Models:                 catalog,
		DefaultMaxTokens:       cfg.Research.DefaultMaxTokens,
		MaxConcurrentProviders: cfg.Research.MaxConcurrentProviders,
		Telemetry:              telemetry,
		Metrics:                metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	service, err := workflow.NewResearchService(workflow.ResearchServiceConfig{
		Store:        store,
		Registry:     registry,
		Orchestrator: orchestrator,
		Models:       catalog,
		Queue: workflow.SessionQueueConfig{
			MaxConcurrent: cfg.Research.MaxConcurrentSessions,
			QueueSize:     cfg.Research.QueueSize,
		},
		Merge: workflow.MergeSettings{
			DefaultProvider:  domain.ProviderID(cfg.Merge.Provider),
			Model:            cfg.Merge.Model,
			SectionMaxTokens: cfg.Merge.SectionMaxTokens,
			ReportMaxTokens:  cfg.Merge.ReportMaxTokens,
			FailureThreshold: cfg.Merge.FailureThreshold,
			ResetTimeout:     cfg.GetDuration(cfg.Merge.ResetTimeout, time.Minute),
		},
		Telemetry: telemetry,
		Metrics:   metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create research service: %w", err)
	}
	return service, nil
}

func runAPIServer(ctx context.Context, cfg *config.Config, c *components) error {
	if err := c.service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session queue: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := c.service.Stop(stopCtx); err != nil {
			log.Printf("Error stopping session queue: %v", err)
		}
	}()

	router := api.NewRouter(api.RouterConfig{
		ServiceName:    cfg.Observability.ServiceName,
		EnableTracing:  cfg.Observability.Tracing.Enabled,
		EnableMetrics:  cfg.Observability.Metrics.Enabled,
		AllowOrigins:   cfg.API.AllowOrigins,
		EventHeartbeat: cfg.GetDuration(cfg.API.EventHeartbeat, 25*time.Second),
	}, api.Services{
		Research:  c.service,
		Catalog:   c.catalog,
		Providers: c.registry,
		Events:    c.broadcaster,
		Queue:     c.service,
	})

	server := api.NewServer(cfg.API, router)
	log.Printf("API server listening on %s", server.Addr())
	return server.Run(ctx)
}

func runCLI(ctx context.Context, c *components, opts cliOptions) error {
	topic := strings.TrimSpace(opts.topic)
	if topic == "" {
		return fmt.Errorf("no research topic provided; use -topic")
	}

	providers := opts.providers
	if len(providers) == 0 {
		providers = c.registry.List()
	}

	ctx, span := tracer.Start(ctx, "research_execution",
		trace.WithAttributes(attribute.String("research.topic", topic)),
	)
	defer span.End()

	session, err := c.service.CreateSession(ctx, topic, providers, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create session: %w", err)
	}

	startTime := time.Now()
	log.Printf("Researching %q with %d providers (session %s)", topic, len(session.Providers), session.ID)

	if err := c.service.RunSession(ctx, session.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("research failed: %w", err)
	}

	status, err := c.service.Status(context.WithoutCancel(ctx), session.ID)
	if err != nil {
		return err
	}

	fmt.Println("\n=== Provider Reports ===")
	for _, task := range status.Tasks {
		fmt.Printf("%s (%s): %s\n", task.Provider, task.Model, task.Status)
		if task.Error != "" {
			fmt.Printf("   Error: %s\n", task.Error)
		} else {
			fmt.Printf("   %d words\n", len(strings.Fields(task.Content)))
		}
	}
	fmt.Printf("\nSession: %s\n", status.Session.Status)
	fmt.Printf("Duration: %s\n", time.Since(startTime).Round(time.Second))

	if !opts.merge {
		return nil
	}
	if status.Session.Status != domain.StatusCompleted {
		return fmt.Errorf("cannot merge: session %s", status.Session.Status)
	}

	report, err := c.service.Merge(ctx, session.ID, opts.mergeProvider)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("merge failed: %w", err)
	}

	fmt.Println("\n=== Master Report ===")
	fmt.Println(report.Content)
	return nil
}

func parseProviders(value string) []domain.ProviderID {
	var out []domain.ProviderID
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, domain.ProviderID(strings.ToLower(p)))
		}
	}
	return out
}

func getMode(apiMode bool) string {
	if apiMode {
		return "api"
	}
	return "cli"
}

func getEnvironment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}
