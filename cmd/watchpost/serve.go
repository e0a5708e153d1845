package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/watchpost/internal/api"
	"github.com/opensource-finance/watchpost/internal/assess"
	"github.com/opensource-finance/watchpost/internal/bus"
	"github.com/opensource-finance/watchpost/internal/cache"
	"github.com/opensource-finance/watchpost/internal/config"
	"github.com/opensource-finance/watchpost/internal/domain"
	"github.com/opensource-finance/watchpost/internal/metrics"
	"github.com/opensource-finance/watchpost/internal/repository"
	"github.com/opensource-finance/watchpost/internal/rules"
	"github.com/opensource-finance/watchpost/internal/telemetry"
	"github.com/opensource-finance/watchpost/internal/velocity"
	"github.com/opensource-finance/watchpost/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the asynchronous worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if os.Getenv("WATCHPOST_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	slog.SetDefault(config.NewLogger(cfg.Logging, os.Stdout))

	slog.Info("starting watchpost",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"strategy", cfg.Reasoning.Strategy,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, Version, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	sightings := velocity.NewService(cacheImpl, time.Duration(cfg.Reasoning.CorrelationWindowSeconds*float64(time.Second)))

	engine, err := rules.NewEngine(sightings.GetSightingGetter(), 16)
	if err != nil {
		return fmt.Errorf("failed to initialize context rule engine: %w", err)
	}
	defer engine.Close()

	if err := engine.LoadRules(rules.DefaultContextRules()); err != nil {
		return fmt.Errorf("failed to load default context rules: %w", err)
	}
	loadStoredRules(ctx, repo, engine, cfg.Worker.Homes)
	slog.Info("context rule engine initialized", "rules_count", engine.RulesCount())

	m := metrics.New()

	assessor, err := assess.FromConfig(cfg.Reasoning,
		assess.WithRules(engine),
		assess.WithMetrics(m),
		assess.WithVersion(assess.EngineVersion+"+"+Version),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize assessor: %w", err)
	}

	sink := &assess.Sink{Repo: repo, Cache: cacheImpl, Bus: busImpl}

	// Incidents are pruned whether events arrive over the bus or HTTP.
	pruneInterval := time.Duration(cfg.Worker.PruneInterval) * time.Second
	go assessor.RunPruner(ctx, pruneInterval)

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, assessor, sink, cfg.DefaultExplain)
		if err := asyncWorker.Start(worker.Config{HomeIDs: cfg.Worker.Homes}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Assessor:       assessor,
		Sink:           sink,
		Repo:           repo,
		Cache:          cacheImpl,
		Bus:            busImpl,
		Metrics:        m,
		DefaultExplain: cfg.DefaultExplain,
		Version:        Version,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			cancel()
		}
	}()

	slog.Info("watchpost is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker before the bus it consumes from
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("watchpost shutdown complete")
	return nil
}

// loadStoredRules loads the persisted context rules of the configured homes.
// Homes not listed load their rules on POST /context-rules/reload.
func loadStoredRules(ctx context.Context, repo domain.Repository, engine *rules.Engine, homes []string) {
	for _, homeID := range homes {
		stored, err := repo.ListContextRules(ctx, homeID)
		if err != nil {
			slog.Warn("failed to list context rules", "home_id", homeID, "error", err)
			continue
		}
		if len(stored) == 0 {
			continue
		}
		if err := engine.ReloadHomeRules(homeID, stored); err != nil {
			slog.Warn("failed to load context rules", "home_id", homeID, "error", err)
			continue
		}
		slog.Info("context rules loaded", "home_id", homeID, "count", len(stored))
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               WATCHPOST                   ║")
	fmt.Println("  ║     Explainable Threat Assessment         ║")
	fmt.Println("  ║      Eyes on every doorstep.              ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Strategy: %s\n", cfg.Reasoning.Strategy)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /events                      - Assess an event")
	fmt.Println("    GET    /incidents/{track}           - Current incident")
	fmt.Println("    GET    /assessments/{id}            - Get assessment by ID")
	fmt.Println("    GET    /assessments/latest/{track}  - Latest assessment")
	fmt.Println("    GET    /cooldowns/{camera}/{track}  - Cooldown state")
	fmt.Println("    GET    /tracks/{track}/events       - Recorded events of a track")
	fmt.Println("    GET    /context-rules               - List context rules")
	fmt.Println("    POST   /context-rules               - Create a context rule")
	fmt.Println("    GET    /context-rules/{id}          - Get a stored context rule")
	fmt.Println("    POST   /context-rules/reload        - Hot-reload context rules")
	fmt.Println("    DELETE /context-rules/{id}          - Delete a context rule")
	fmt.Println("    GET    /config                      - Thresholds in effect")
	fmt.Println("    GET    /health                      - Health check")
	fmt.Println("    GET    /metrics                     - Prometheus metrics")
	fmt.Println()
}
