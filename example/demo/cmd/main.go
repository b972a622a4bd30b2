// Package main runs the user/location scenario of the example application against a configured store:
// create users with their locations, read them back with and without populating the location,
// rename them, and remove them again.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AntonStoeckl/unit-of-work-orm-go/config"
	"github.com/AntonStoeckl/unit-of-work-orm-go/example/core"
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm/oteladapters"
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm/sqlengine"
)

const (
	defaultUsers   = 3
	defaultTimeout = 30 * time.Second
	otelScope      = "unit-of-work-orm-demo"
)

type flags struct {
	configPath           string
	users                int
	observabilityEnabled bool
	keepData             bool
}

func main() {
	f := parseFlags()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := config.NewLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ctx, cancelTimeout := context.WithTimeout(ctx, defaultTimeout)
	defer cancelTimeout()

	options := []sqlengine.Option{sqlengine.WithEntities(core.Entities()...)}
	if f.observabilityEnabled {
		options = append(options, observabilityOptions()...)
	}

	store, err := config.Open(ctx, cfg, logger, options...)
	if err != nil {
		logger.Error("opening the store failed", "error", err)
		os.Exit(1)
	}

	runErr := run(ctx, store.ORM, logger, f)

	if closeErr := store.Close(); closeErr != nil {
		logger.Warn("closing the store failed", "error", closeErr)
	}

	if runErr != nil {
		logger.Error("scenario failed", "error", runErr)
		os.Exit(1)
	}
}

func run(ctx context.Context, o *sqlengine.ORM, logger *slog.Logger, f flags) error {
	if err := o.Schema().RefreshDatabase(ctx); err != nil {
		return err
	}

	report, err := NewScenario(o, logger).Run(ctx, f.users, f.keepData)
	if err != nil {
		return err
	}

	logger.Info("scenario completed",
		"users_created", report.Created,
		"stubs_after_clear", report.Stubs,
		"populated_locations", report.Populated,
		"renamed", report.Renamed,
		"remaining_users", report.Remaining,
	)

	return nil
}

func parseFlags() flags {
	var (
		configPath    = flag.String("config", "", "Path to a TOML configuration file, the defaults use an in-memory SQLite store")
		users         = flag.Int("users", defaultUsers, "Number of users to create")
		observability = flag.Bool("observability-enabled", false, "Report metrics and spans to the global OpenTelemetry providers")
		keepData      = flag.Bool("keep-data", false, "Do not remove the users at the end of the scenario")
	)

	flag.Parse()

	if *users < 1 {
		log.Fatalf("Invalid number of users %d, at least 1 is required", *users)
	}

	return flags{
		configPath:           *configPath,
		users:                *users,
		observabilityEnabled: *observability,
		keepData:             *keepData,
	}
}

func observabilityOptions() []sqlengine.Option {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	return []sqlengine.Option{
		sqlengine.WithMetrics(oteladapters.NewMetricsCollector(meter)),
		sqlengine.WithTracing(oteladapters.NewTracingCollector(tracer)),
	}
}
