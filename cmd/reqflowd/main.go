// reqflowd is the requirements-engineering orchestration server: it loads
// configuration, wires the Orchestrator to PostgreSQL-backed storage and
// the Anthropic LLM Gateway, starts the stale-session reaper, and serves
// the HTTP/WebSocket API.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/reqflow/reqflow/pkg/api"
	"github.com/reqflow/reqflow/pkg/config"
	"github.com/reqflow/reqflow/pkg/events"
	"github.com/reqflow/reqflow/pkg/knowledge"
	"github.com/reqflow/reqflow/pkg/llmgateway"
	"github.com/reqflow/reqflow/pkg/masking"
	"github.com/reqflow/reqflow/pkg/metrics"
	"github.com/reqflow/reqflow/pkg/notify"
	"github.com/reqflow/reqflow/pkg/orchestrator"
	"github.com/reqflow/reqflow/pkg/reaper"
	"github.com/reqflow/reqflow/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	ctx := context.Background()

	dsn := getEnv("DATABASE_URL", "")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if err := store.Migrate(dsn); err != nil {
		log.Fatalf("Failed to apply database migrations: %v", err)
	}

	pool, err := store.Open(ctx, dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	log.Println("Connected to PostgreSQL and applied migrations")

	stores := orchestrator.Stores{
		Sessions:       store.NewSessionRepo(pool),
		Tasks:          store.NewTaskRepo(pool),
		Clarifications: store.NewClarificationRepo(pool),
		Messages:       store.NewMessageRepo(pool),
		Artifacts:      store.NewArtifactRepo(pool),
		Collab:         store.NewCollabRepo(pool),
	}

	eventRepo := store.NewEventRepo(pool)
	notifierPool, err := store.Open(ctx, dsn)
	if err != nil {
		log.Fatalf("Failed to open dedicated NOTIFY connection pool: %v", err)
	}
	defer notifierPool.Close()
	bus := events.New(eventRepo, events.NewNotifier(notifierPool.Raw(), slog.Default()))

	apiKey := os.Getenv(cfg.Provider.APIKeyEnv)
	if apiKey == "" {
		log.Fatalf("%s is required", cfg.Provider.APIKeyEnv)
	}
	provider, err := llmgateway.NewAnthropicProvider(cfg.Provider.BuildAnthropicConfig(apiKey))
	if err != nil {
		log.Fatalf("Failed to construct Anthropic provider: %v", err)
	}
	gateway := llmgateway.New(provider, slog.Default())

	maskSvc := masking.NewService(cfg.Masking)

	var kb *knowledge.Client
	if host := os.Getenv("WEAVIATE_HOST"); host != "" {
		kb, err = knowledge.New(knowledge.Config{
			Scheme: getEnv("WEAVIATE_SCHEME", "http"),
			Host:   host,
			APIKey: os.Getenv("WEAVIATE_API_KEY"),
			Limit:  5,
		})
		if err != nil {
			log.Fatalf("Failed to construct knowledge base client: %v", err)
		}
		log.Println("Connected to Weaviate knowledge base")
	} else {
		log.Println("WEAVIATE_HOST not set, knowledge base lookups disabled")
	}

	podID := getEnv("POD_ID", uuid.NewString())

	m := metrics.New("reqflow")

	var notifySvc *notify.Service
	if cfg.Notify.Slack.Enabled {
		notifySvc = notify.NewService(notify.Config{
			Enabled: cfg.Notify.Slack.Enabled,
			Token:   os.Getenv(cfg.Notify.Slack.TokenEnv),
			Channel: cfg.Notify.Slack.Channel,
		})
	}

	orch := orchestrator.New(cfg.Orch, stores, bus, cfg.RoleRegistry, gateway, maskSvc, kb, podID).
		WithMetrics(m).
		WithNotify(notifySvc)

	rp := reaper.New(reaper.Config{
		StaleThreshold: cfg.Reaper.StaleThreshold,
		SweepInterval:  cfg.Reaper.SweepInterval,
		PurgeAfter:     cfg.Reaper.PurgeAfter,
	}, stores.Sessions, bus, slog.Default()).WithMetrics(m)
	rp.Start()

	server := api.NewServer(api.Config{AllowedWSOrigins: cfg.API.AllowedWSOrigins}, orch).WithMetrics(m)

	log.Printf("Starting reqflowd")
	log.Printf("HTTP listening on %s", cfg.API.ListenAddr)
	log.Printf("Config directory: %s", *configDir)
	log.Printf("Pod ID: %s", podID)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("Shutdown signal received, draining connections...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down HTTP server: %v", err)
		}
		rp.Stop()
	}()

	if err := server.Start(cfg.API.ListenAddr); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
