// cdpd is the block-device control plane daemon.
//
// It owns the minor space and the device registry, serves the control
// API and publishes device state to the inventory, MQTT and InfluxDB.
// Startup brings components up leaves first; shutdown tears them down in
// reverse order, removing every idle device before the stores close.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/cdp-core/internal/api"
	"github.com/nerrad567/cdp-core/internal/audit"
	"github.com/nerrad567/cdp-core/internal/auth"
	"github.com/nerrad567/cdp-core/internal/backing"
	"github.com/nerrad567/cdp-core/internal/control"
	"github.com/nerrad567/cdp-core/internal/infrastructure/config"
	"github.com/nerrad567/cdp-core/internal/infrastructure/database"
	"github.com/nerrad567/cdp-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/cdp-core/internal/infrastructure/logging"
	"github.com/nerrad567/cdp-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/cdp-core/internal/inventory"
	"github.com/nerrad567/cdp-core/internal/lifecycle"
	"github.com/nerrad567/cdp-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when CDP_CONFIG is unset.
	defaultConfigPath = "configs/cdp.yaml"

	// shutdownTimeout bounds device teardown on exit.
	shutdownTimeout = 30 * time.Second

	// statsSampleInterval is how often lifecycle gauges are written to InfluxDB.
	statsSampleInterval = 30 * time.Second

	// mqttResyncTimeout bounds the state republish after a broker reconnect.
	mqttResyncTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the daemon logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence with matching teardown
	log := logging.Default()
	log.Info("starting cdpd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"node", cfg.Node.ID,
		"policy", cfg.Devices.Policy,
		"max_minors", cfg.Devices.MaxMinors,
	)

	// Database and schema
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path(), "migrations_applied", applied)

	// Inventory: rows still published by a previous run are stale.
	inv := inventory.New(db)
	inv.SetLogger(log.Component("inventory"))
	orphaned, err := inv.MarkOrphaned(ctx)
	if err != nil {
		return fmt.Errorf("marking orphaned inventory: %w", err)
	}
	log.Info("inventory ready", "run_id", inv.RunID(), "orphaned", orphaned)

	// MQTT (optional). Connected before the manager so unpublish on
	// shutdown still reaches the broker.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Node.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
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
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
			stats := influxClient.Stats()
			log.Info("InfluxDB closed", "queued", stats.Queued, "dropped", stats.Dropped, "failed", stats.Failed)
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Device lifecycle
	provider, err := backing.New(cfg.Backing, log.Component("backing"))
	if err != nil {
		return fmt.Errorf("creating backing provider: %w", err)
	}
	manager, err := lifecycle.New(lifecycle.ConfigFrom(cfg.Devices, version), provider)
	if err != nil {
		return fmt.Errorf("creating lifecycle manager: %w", err)
	}
	manager.SetLogger(log.Component("lifecycle"))
	manager.AddPublisher(inv)
	if mqttClient != nil {
		announcer := mqtt.NewAnnouncer(mqttClient, mqttClient.Topics(), mqttClient.QoS())
		manager.AddPublisher(announcer)
		mqttClient.SetOnConnect(func() {
			resyncCtx, cancel := context.WithTimeout(context.Background(), mqttResyncTimeout)
			defer cancel()
			if resyncErr := announcer.Resync(resyncCtx, manager.List()); resyncErr != nil {
				log.Warn("MQTT state resync incomplete", "error", resyncErr)
				return
			}
			log.Info("MQTT reconnected, device state resynced")
		})
	}
	defer func() {
		log.Info("removing devices")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := manager.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error("error removing devices", "error", shutdownErr)
		}
	}()

	// Command dispatch
	dispatcher := control.NewDispatcher(manager)
	dispatcher.SetLogger(log.Component("control"))
	auditStore := audit.NewStore(db)
	auditStore.SetLogger(log.Component("audit"))
	dispatcher.AddSink(auditStore)

	if influxClient != nil {
		metrics := influxdb.NewMetrics(influxClient, cfg.Node.ID)
		manager.SetRecorder(metrics)
		dispatcher.AddSink(metrics)
		go metrics.SampleStats(ctx, statsSampleInterval, manager.Stats)
	}

	// Control API
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.Component("api"),
		Auth:       auth.NewAuthenticator(cfg.Security),
		Devices:    manager,
		Dispatcher: dispatcher,
		Audit:      auditStore,
		Inventory:  inv,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Device removal (unpublishes to inventory and MQTT)
	// 3. InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Database

	return nil
}

// getConfigPath returns the configuration file path.
// Uses CDP_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CDP_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (nil if disabled)
//   - influxClient: InfluxDB client to check (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
