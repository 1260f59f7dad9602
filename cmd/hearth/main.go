// Hearth Core - Home Automation Rules Engine
//
// This is the main entry point for the Hearth Core application. Hearth
// evaluates user-defined automation rules against device events arriving
// over MQTT: time and astronomical schedules, sustained-state triggers,
// conditional actions, and usage pattern analysis.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/hearthlight/hearth-core/migrations"

	"github.com/hearthlight/hearth-core/internal/analyzer"
	"github.com/hearthlight/hearth-core/internal/astro"
	"github.com/hearthlight/hearth-core/internal/bridges/mqttdev"
	"github.com/hearthlight/hearth-core/internal/duration"
	"github.com/hearthlight/hearth-core/internal/engine"
	"github.com/hearthlight/hearth-core/internal/history"
	"github.com/hearthlight/hearth-core/internal/infrastructure/config"
	"github.com/hearthlight/hearth-core/internal/infrastructure/database"
	"github.com/hearthlight/hearth-core/internal/infrastructure/influxdb"
	"github.com/hearthlight/hearth-core/internal/infrastructure/logging"
	"github.com/hearthlight/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthlight/hearth-core/internal/rules"
	"github.com/hearthlight/hearth-core/internal/schedule"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Hearth Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open execution history database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Load the rule store
	store := rules.NewStore(cfg.Engine.StorePath)
	store.SetLogger(log.Component("store"))
	if loadErr := store.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading rule store: %w", loadErr)
	}
	defer func() {
		log.Info("flushing rule store")
		if flushErr := store.Flush(); flushErr != nil {
			log.Error("error flushing rule store", "error", flushErr)
		}
	}()
	log.Info("rule store loaded", "path", cfg.Engine.StorePath, "rules", store.Count())

	// Astronomical calculator. Without coordinates it still constructs,
	// but astronomical triggers and sunrise/sunset conditions error out.
	var calc *astro.Calculator
	if cfg.Site.Location.Set() {
		calc = astro.New(&astro.Location{
			Latitude:  cfg.Site.Location.Latitude,
			Longitude: cfg.Site.Location.Longitude,
			Name:      cfg.Site.Name,
			Timezone:  cfg.Site.Timezone,
		})
		log.Info("astronomical calculator initialised",
			"latitude", cfg.Site.Location.Latitude,
			"longitude", cfg.Site.Location.Longitude,
		)
	} else {
		calc = astro.New(nil)
		log.Warn("no site location configured, astronomical triggers unavailable")
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Device bridge over MQTT
	bridge := mqttdev.New(mqttClient, byte(cfg.MQTT.QoS), log.Component("bridge"))

	// Rules engine: evaluator, executor, sinks
	engineLog := log.Component("engine")
	evaluator := engine.NewEvaluator(bridge, calc, engineLog)
	executor := engine.NewExecutor(store, bridge, evaluator, engineLog)
	executor.AddSink(history.NewRepository(db.DB))
	if influxClient != nil {
		executor.AddSink(influxClient)
	}

	// Usage analyzer and event dispatcher
	usage := analyzer.New(cfg.Engine.AnalyzerBufferSize)
	dispatcher := engine.NewDispatcher(store, executor, engineLog)
	dispatcher.SetRecorder(usage)
	if influxClient != nil {
		dispatcher.SetEventWriter(influxClient)
	}

	runner := &ruleRunner{executor: executor, log: log}

	// Duration tracker for sustained-state triggers
	tracker := duration.New(store, runner, cfg.DurationCheckInterval(), log.Component("duration"))
	dispatcher.SetTracker(tracker)
	tracker.Start(ctx)
	defer tracker.Stop()

	// Start receiving device events
	bridge.SetHandler(dispatcher)
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting device bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping device bridge")
		bridge.Stop()
	}()
	log.Info("device bridge started")

	// Trigger scheduler for time, cron, and astronomical triggers
	scheduler := schedule.New(store, runner, calc, log.Component("schedule"))
	if startErr := scheduler.Start(ctx); startErr != nil {
		return fmt.Errorf("starting scheduler: %w", startErr)
	}
	defer func() {
		log.Info("stopping scheduler")
		scheduler.Stop()
	}()

	// Edits to the rule store reschedule jobs and reset hold timers
	store.AddListener(scheduler)
	store.AddListener(tracker)

	// Periodic execution history pruning
	if retention := cfg.HistoryRetention(); retention > 0 {
		go pruneHistory(ctx, history.NewRepository(db.DB), retention, log)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred cleanup runs in reverse order:
	// 1. Scheduler
	// 2. Device bridge
	// 3. Duration tracker
	// 4. InfluxDB (if enabled)
	// 5. MQTT
	// 6. Rule store flush
	// 7. Database

	log.Info("Hearth Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HEARTH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HEARTH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// pruneHistory deletes old execution records once a day, always keeping
// the most recent records regardless of age.
func pruneHistory(ctx context.Context, repo *history.Repository, retention time.Duration, log *logging.Logger) {
	const keepAtLeast = 1000

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			deleted, err := repo.Prune(ctx, cutoff, keepAtLeast)
			if err != nil {
				log.Error("pruning execution history failed", "error", err)
				continue
			}
			if deleted > 0 {
				log.Info("pruned execution history", "deleted", deleted)
			}
		}
	}
}

// ruleRunner adapts the engine executor to the scheduler's and duration
// tracker's runner interfaces. Each fire executes the rule by ID with
// the appropriate trigger source.
type ruleRunner struct {
	executor *engine.Executor
	log      *logging.Logger
}

// RunScheduled implements schedule.RuleRunner.
func (r *ruleRunner) RunScheduled(ctx context.Context, id rules.RuleID) {
	result, err := r.executor.ExecuteRuleByID(ctx, id, &engine.ExecutionContext{
		TriggeredBy: engine.TriggerSchedule,
	})
	if err != nil {
		if errors.Is(err, rules.ErrRuleDisabled) {
			r.log.Debug("scheduled rule is disabled", "rule_id", id)
			return
		}
		r.log.Error("scheduled rule execution failed", "rule_id", id, "error", err)
		return
	}
	if !result.Success {
		r.log.Warn("scheduled rule completed with errors", "rule_id", id, "error", result.Error)
	}
}

// RunDuration implements duration.RuleRunner.
func (r *ruleRunner) RunDuration(ctx context.Context, id rules.RuleID, variables map[string]any) {
	result, err := r.executor.ExecuteRuleByID(ctx, id, &engine.ExecutionContext{
		TriggeredBy: engine.TriggerEvent,
		Variables:   variables,
	})
	if err != nil {
		if errors.Is(err, rules.ErrRuleDisabled) {
			return
		}
		r.log.Error("duration rule execution failed", "rule_id", id, "error", err)
		return
	}
	if !result.Success {
		r.log.Warn("duration rule completed with errors", "rule_id", id, "error", result.Error)
	}
}
