// incidentkit server — hosts the triage engine behind an HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/incidentkit/incidentkit/pkg/agent"
	"github.com/incidentkit/incidentkit/pkg/agent/coordinator"
	"github.com/incidentkit/incidentkit/pkg/api"
	"github.com/incidentkit/incidentkit/pkg/classifier"
	"github.com/incidentkit/incidentkit/pkg/cleanup"
	"github.com/incidentkit/incidentkit/pkg/config"
	"github.com/incidentkit/incidentkit/pkg/database"
	"github.com/incidentkit/incidentkit/pkg/embedding"
	"github.com/incidentkit/incidentkit/pkg/llm"
	"github.com/incidentkit/incidentkit/pkg/metrics"
	"github.com/incidentkit/incidentkit/pkg/notify"
	"github.com/incidentkit/incidentkit/pkg/retrieval"
	"github.com/incidentkit/incidentkit/pkg/tools"
	"github.com/incidentkit/incidentkit/pkg/triage"
	"github.com/incidentkit/incidentkit/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("CONFIG_PATH", "./config.yaml"),
		"Path to the configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	slog.Info("Starting incidentkit",
		"version", version.Full(),
		"config_path", *configPath)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(*configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		slog.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	// 2. Episodic memory backing store. Without DB_PASSWORD the engine
	// runs with in-process memory only; episodes are lost on restart.
	var dbClient *database.Client
	var episodeStore retrieval.EpisodeStore
	var pruner cleanup.Pruner
	if os.Getenv("DB_PASSWORD") != "" {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		store := retrieval.NewPostgresEpisodeStore(dbClient.DB())
		episodeStore, pruner = store, store
		slog.Info("Connected to PostgreSQL database")
	} else {
		store := retrieval.NewInMemoryEpisodeStore()
		episodeStore, pruner = store, store
		slog.Warn("DB_PASSWORD not set, episodic memory will not survive restarts")
	}

	retention := cleanup.NewService(cleanup.Config{
		RetentionDays: cfg.Retention.EpisodeRetentionDays,
		Interval:      cfg.Retention.CleanupInterval.Std(),
	}, pruner)
	retention.Start(ctx)
	defer retention.Stop()

	// 3. Model client: retry inside the breaker so transient faults are
	// absorbed before they count against the failure threshold.
	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		slog.Error("Model API key not set", "env", cfg.LLM.APIKeyEnv)
		os.Exit(1)
	}
	base := llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey:    apiKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.Agent.MaxTokensPerCall,
	})
	retryCfg := llm.DefaultRetryConfig()
	if cfg.LLM.RetryMaxAttempts > 0 {
		retryCfg.MaxAttempts = int(cfg.LLM.RetryMaxAttempts)
	}
	breaker := llm.NewBreakerClient(llm.WithRetry(base, retryCfg), llm.BreakerConfig{
		FailureThreshold: cfg.LLM.BreakerFailureThreshold,
		Cooldown:         cfg.LLM.BreakerCooldown.Std(),
		HalfOpenTrials:   cfg.LLM.BreakerHalfOpenTrials,
	})
	breaker.OnStateChange(metrics.SetBreakerState)
	var client llm.Client = breaker
	slog.Info("Model client initialized", "model", cfg.LLM.Model)

	// 4. Embeddings, episodic memory, runbook knowledge
	var memory *retrieval.MemoryStore
	var knowledge *retrieval.KnowledgeBase
	embeddingKey := os.Getenv(cfg.Embedding.APIKeyEnv)
	if embeddingKey == "" {
		slog.Warn("Embedding API key not set, recall and runbook search disabled",
			"env", cfg.Embedding.APIKeyEnv)
	} else {
		embedder, err := embedding.NewGeminiEmbedder(ctx, embedding.GeminiConfig{
			APIKey:     embeddingKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			slog.Error("Failed to initialize embedder", "error", err)
			os.Exit(1)
		}

		memory, err = retrieval.NewMemoryStore(ctx, episodeStore, embedder)
		if err != nil {
			slog.Error("Failed to initialize episodic memory", "error", err)
			os.Exit(1)
		}

		if cfg.Knowledge.CorpusPath != "" {
			knowledge, err = retrieval.LoadKnowledgeBase(ctx, cfg.Knowledge.CorpusPath, embedder)
			if err != nil {
				slog.Error("Failed to load runbook corpus",
					"path", cfg.Knowledge.CorpusPath, "error", err)
				os.Exit(1)
			}
		}
	}

	// 5. Diagnostic tools
	registry := tools.NewRegistry(cfg.Tools.MaxResultTokens)
	if err := tools.RegisterDiagnostics(registry, tools.NewStaticBackend()); err != nil {
		slog.Error("Failed to register diagnostic tools", "error", err)
		os.Exit(1)
	}
	if knowledge != nil {
		if err := tools.RegisterRunbookSearch(registry, knowledge); err != nil {
			slog.Error("Failed to register runbook search", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Tool registry initialized", "tools", len(registry.List()))

	// 6. Specialists and coordinator
	pool, err := agent.NewPool(cfg.Specialists, registry, client, cfg.LLM.Pricing, cfg.AgentLoopConfig())
	if err != nil {
		slog.Error("Failed to build specialist pool", "error", err)
		os.Exit(1)
	}
	coord := coordinator.New(pool, client, cfg.LLM.Pricing, cfg.CoordinatorRunConfig())

	// 7. Notifications (nil service disables them)
	var notifier triage.Notifier
	if cfg.Slack.Enabled {
		if svc := notify.NewService(notify.ServiceConfig{
			Token:   os.Getenv(cfg.Slack.TokenEnv),
			Channel: cfg.Slack.Channel,
		}); svc != nil {
			notifier = svc
			slog.Info("Slack notifications enabled", "channel", cfg.Slack.Channel)
		} else {
			slog.Warn("Slack enabled but token or channel missing, notifications disabled")
		}
	}

	// 8. Orchestrator and HTTP server
	orchestrator := triage.NewOrchestrator(
		classifier.New(client),
		client,
		registry,
		coord,
		memory,
		knowledge,
		notifier,
		triage.Config{
			Budget:            cfg.BudgetLimits(),
			RecallK:           cfg.Triage.RecallK,
			RecallMaxDistance: cfg.Triage.RecallMaxDistance,
			MaxTokensPerCall:  cfg.Triage.MaxTokensPerCall,
			Agent:             cfg.AgentLoopConfig(),
			Pricing:           cfg.LLM.Pricing,
		},
	)

	server := api.NewServer(api.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, orchestrator, dbClient, slog.Default())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("incidentkit started",
		"specialists", len(cfg.Specialists),
		"addr", cfg.Server.Host, "port", cfg.Server.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
