// redrive — self-healing DLQ recovery service. Hosts the Monitor
// scheduler, the Analyzer and Executor bus consumers, the retention
// sweeper and the ops API in one process.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/recoverloop/redrive/pkg/analyzer"
	"github.com/recoverloop/redrive/pkg/api"
	"github.com/recoverloop/redrive/pkg/archive"
	"github.com/recoverloop/redrive/pkg/bus"
	"github.com/recoverloop/redrive/pkg/cleanup"
	"github.com/recoverloop/redrive/pkg/config"
	"github.com/recoverloop/redrive/pkg/database"
	"github.com/recoverloop/redrive/pkg/deploys"
	"github.com/recoverloop/redrive/pkg/dlq"
	"github.com/recoverloop/redrive/pkg/executor"
	"github.com/recoverloop/redrive/pkg/incident"
	"github.com/recoverloop/redrive/pkg/ledger"
	"github.com/recoverloop/redrive/pkg/llm"
	"github.com/recoverloop/redrive/pkg/monitor"
	"github.com/recoverloop/redrive/pkg/records"
	"github.com/recoverloop/redrive/pkg/redact"
	"github.com/recoverloop/redrive/pkg/rules"
	"github.com/recoverloop/redrive/pkg/semcache"
	"github.com/recoverloop/redrive/pkg/slack"
	"github.com/recoverloop/redrive/pkg/version"
)

const shutdownTimeout = 25 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolveConsumerID determines this replica's queue-consumer identity.
// Priority: CONSUMER_ID env > HOSTNAME env > "local".
func resolveConsumerID() string {
	if id := os.Getenv("CONSUMER_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "redrive"))

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	consumerID := resolveConsumerID()
	slog.Info("Starting redrive",
		"version", version.Full(),
		"consumer_id", consumerID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database (runs embedded migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	recordRepo := records.NewRepository(dbClient.DB)
	deployStore := deploys.NewStore(dbClient.DB)

	// 3. Connect Redis: queue client, dedup ledger, semantic cache
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.DialTimeout(),
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	queueClient := dlq.NewClient(rdb, "redrive", consumerID, cfg.Monitor.VisibilityTimeout())
	dedupLedger := ledger.New(rdb, cfg.Retention.LedgerTTL())
	semCache := semcache.New(rdb, cfg.Retention.CacheTTL())

	// 4. Connect the event bus
	eventBus, err := bus.Connect(cfg.Bus)
	if err != nil {
		slog.Error("Failed to connect to event bus", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			slog.Error("Error closing event bus", "error", err)
		}
	}()
	slog.Info("Connected to event bus", "exchange", cfg.Bus.Exchange)

	// 5. Initialize the archive store
	archiveStore, err := archive.NewStore(cfg.Archive)
	if err != nil {
		slog.Error("Failed to create archive store", "error", err)
		os.Exit(1)
	}
	if err := archiveStore.EnsureBucket(ctx); err != nil {
		slog.Error("Failed to ensure archive bucket", "error", err)
		os.Exit(1)
	}

	// 6. Shared kernel: redaction, rule table, notifications
	redactor := redact.NewService(cfg.Rules.Redaction)
	ruleTable := rules.NewTable(cfg.Rules.Patterns)
	notifier := slack.NewService(cfg.Notifications)

	// 7. Optional collaborators: LLM classifier, incident client
	var classifier analyzer.Classifier
	if cfg.Analyzer.LLMEnabled() {
		llmClient, err := llm.NewClient(cfg.LLM, redactor)
		if err != nil {
			slog.Error("Failed to initialize LLM client", "error", err)
			os.Exit(1)
		}
		classifier = llmClient
		slog.Info("LLM classification enabled", "model", cfg.LLM.Model)
	} else {
		slog.Info("LLM classification disabled, heuristic misses take the fallback path")
	}

	var incidents executor.IncidentAPI
	if cfg.Incident.IntegrationEnabled() {
		incidentClient, err := incident.NewClient(cfg.Incident, cfg.Service.Project)
		if err != nil {
			slog.Error("Failed to initialize incident client", "error", err)
			os.Exit(1)
		}
		incidents = incidentClient
		slog.Info("Incident integration enabled", "url", cfg.Incident.URL)
	} else {
		slog.Info("Incident integration disabled, escalations are record-only")
	}

	// 8. Assemble the pipeline stages
	monitorService := monitor.NewService(cfg.Monitor, queueClient, dedupLedger, recordRepo, deployStore, eventBus)
	scheduler := monitor.NewScheduler(monitorService, cfg.Monitor)

	analyzerService := analyzer.NewService(cfg.Analyzer, cfg.Retention, ruleTable, semCache, recordRepo, classifier, eventBus)
	executorService := executor.NewService(cfg.Executor, cfg.Incident, queueClient, archiveStore, incidents, recordRepo, eventBus, redactor, notifier)

	// 9. Start consumers, scheduler and background loops
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	analyzerSub, err := eventBus.Subscribe(runCtx, cfg.Bus.EnrichedQueue,
		[]string{bus.KeyMessageEnriched}, cfg.Analyzer.Consumers, cfg.Analyzer.Prefetch,
		analyzerService.HandleEnriched)
	if err != nil {
		slog.Error("Failed to subscribe analyzer", "error", err)
		os.Exit(1)
	}
	executorSub, err := eventBus.Subscribe(runCtx, cfg.Bus.ClassifiedQueue,
		[]string{bus.KeyClassifiedAll}, cfg.Executor.Consumers, cfg.Executor.Prefetch,
		executorService.HandleClassified)
	if err != nil {
		slog.Error("Failed to subscribe executor", "error", err)
		os.Exit(1)
	}

	scheduler.Start(runCtx)
	defer scheduler.Stop()

	promoter := dlq.NewPromoter(queueClient, time.Second)
	promoter.Start(runCtx)
	defer promoter.Stop()

	cleanupService := cleanup.NewService(cfg.Retention, recordRepo, deployStore)
	cleanupService.Start(runCtx)
	defer cleanupService.Stop()

	// 10. Start the ops API
	apiServer := api.NewServer(cfg.API, recordRepo, deployStore, scheduler, map[string]api.ReadyCheck{
		"database": func(ctx context.Context) error {
			_, err := dbClient.Health(ctx)
			return err
		},
		"redis":   queueClient.Ping,
		"bus":     func(context.Context) error { return eventBus.Ping() },
		"archive": archiveStore.Ping,
	})
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Ops API listening", "addr", cfg.API.ListenAddr)
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("Ops API server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("redrive started",
		"project", cfg.Service.Project,
		"environment", cfg.Service.Environment,
		"analyzer_consumers", cfg.Analyzer.Consumers,
		"executor_consumers", cfg.Executor.Consumers)

	// 11. Wait for a shutdown signal, a server error, or bus loss. A lost
	// broker connection exits the process; the orchestrator restarts it
	// clean instead of the service re-wiring channels in place.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	case amqpErr := <-eventBus.NotifyClose():
		slog.Error("Event bus connection lost, shutting down for restart", "error", amqpErr)
	}

	// 12. Graceful shutdown: stop producing, drain consumers, stop HTTP
	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, shutdownTimeout)
	defer cancelShutdown()

	scheduler.Stop()
	cancelRun()

	drained := make(chan struct{})
	go func() {
		analyzerSub.Wait()
		executorSub.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		slog.Info("Bus consumers drained")
	case <-shutdownCtx.Done():
		slog.Warn("Consumer drain timeout exceeded, unacked events will be redelivered")
	}

	httpCtx, cancelHTTP := context.WithTimeout(ctx, 5*time.Second)
	defer cancelHTTP()
	if err := apiServer.Shutdown(httpCtx); err != nil {
		slog.Error("Ops API shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
