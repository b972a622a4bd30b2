package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AntonStoeckl/unit-of-work-orm-go/config"
	"github.com/AntonStoeckl/unit-of-work-orm-go/example/core"
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm/oteladapters"
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm/sqlengine"
)

const (
	defaultRate            = 30
	defaultInitialUsers    = 100
	defaultScenarioWeights = "20,80" // write, read
	defaultStatsInterval   = 10 * time.Second
	otelScope              = "unit-of-work-orm-load-generator"
)

type Config struct {
	ConfigPath           string
	Rate                 int
	ObservabilityEnabled bool
	InitialUsers         int
	ScenarioWeights      []int
	StatsInterval        time.Duration
}

func main() {
	cfg := parseFlags()

	storeConfig, err := config.Load(cfg.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := config.NewLogger(storeConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	options := []sqlengine.Option{sqlengine.WithEntities(core.Entities()...)}
	if cfg.ObservabilityEnabled {
		options = append(options, observabilityOptions()...)
	}

	store, err := config.Open(ctx, storeConfig, logger, options...)
	if err != nil {
		log.Fatalf("Failed to open the store: %v", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("Closing the store failed: %v", closeErr)
		}
	}()

	if err = store.ORM.Schema().RefreshDatabase(ctx); err != nil {
		log.Printf("Failed to refresh the schema: %v", err)
		return
	}

	loadGen := NewLoadGenerator(store.ORM, cfg, logger)

	if err = loadGen.Seed(ctx); err != nil {
		log.Printf("Failed to seed users: %v", err)
		return
	}

	errChan := make(chan error, 1)
	go func() {
		if startErr := loadGen.Start(ctx); startErr != nil {
			errChan <- fmt.Errorf("load generator failed: %w", startErr)
		}
	}()

	log.Printf("Load generator started: rate=%d req/s, initial_users=%d, scenario_weights=%v",
		cfg.Rate, cfg.InitialUsers, cfg.ScenarioWeights)
	log.Printf("Press Ctrl+C to stop...")

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	case startErr := <-errChan:
		log.Printf("Error occurred: %v", startErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err = loadGen.Stop(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Printf("Load generator stopped")
}

func parseFlags() Config {
	var (
		configPath      = flag.String("config", "", "Path to a TOML configuration file, the defaults use an in-memory SQLite store")
		rate            = flag.Int("rate", defaultRate, "Requests per second")
		observability   = flag.Bool("observability-enabled", false, "Report metrics and spans to the global OpenTelemetry providers")
		initialUsers    = flag.Int("initial-users", defaultInitialUsers, "Number of users to create initially")
		scenarioWeights = flag.String("scenario-weights", defaultScenarioWeights, "Comma-separated weights for write,read scenarios")
		statsInterval   = flag.Duration("stats-interval", defaultStatsInterval, "Interval for logging the stats")
	)

	flag.Parse()

	weights, err := parseScenarioWeights(*scenarioWeights)
	if err != nil {
		log.Fatalf("Invalid scenario weights '%s': %v", *scenarioWeights, err)
	}

	if *rate < 1 {
		log.Fatalf("Invalid rate %d, at least 1 request per second is required", *rate)
	}

	return Config{
		ConfigPath:           *configPath,
		Rate:                 *rate,
		ObservabilityEnabled: *observability,
		InitialUsers:         *initialUsers,
		ScenarioWeights:      weights,
		StatsInterval:        *statsInterval,
	}
}

func parseScenarioWeights(weightsStr string) ([]int, error) {
	parts := strings.Split(weightsStr, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("expected 2 weights, got %d", len(parts))
	}

	weights := make([]int, 2)
	total := 0
	for i, part := range parts {
		weight, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid weight '%s': %w", part, err)
		}
		if weight < 0 || weight > 100 {
			return nil, fmt.Errorf("weight %d out of range [0, 100]", weight)
		}
		weights[i] = weight
		total += weight
	}

	if total != 100 {
		return nil, fmt.Errorf("weights must sum to 100, got %d", total)
	}

	return weights, nil
}

func observabilityOptions() []sqlengine.Option {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	return []sqlengine.Option{
		sqlengine.WithMetrics(oteladapters.NewMetricsCollector(meter)),
		sqlengine.WithTracing(oteladapters.NewTracingCollector(tracer)),
		sqlengine.WithContextualLogger(oteladapters.NewSlogBridgeLogger(otelScope)),
	}
}
