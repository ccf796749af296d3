// SmartConnect server
//
// This is the main entry point of the SmartConnect server. It polls
// SmartConnect boitiers for their CSV telemetry, stores sensors and
// readings in SQLite, and serves them over a REST API.
//
// Optional outputs:
//   - MQTT: retained latest-value snapshots per sensor
//   - InfluxDB: every new reading mirrored as a point
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nomanocra/SmartConnectServer/internal/api"
	"github.com/nomanocra/SmartConnectServer/internal/autopull"
	"github.com/nomanocra/SmartConnectServer/internal/device"
	"github.com/nomanocra/SmartConnectServer/internal/devicepull"
	"github.com/nomanocra/SmartConnectServer/internal/infrastructure/config"
	"github.com/nomanocra/SmartConnectServer/internal/infrastructure/database"
	"github.com/nomanocra/SmartConnectServer/internal/infrastructure/influxdb"
	"github.com/nomanocra/SmartConnectServer/internal/infrastructure/logging"
	"github.com/nomanocra/SmartConnectServer/internal/infrastructure/metrics"
	"github.com/nomanocra/SmartConnectServer/internal/infrastructure/mqtt"
	"github.com/nomanocra/SmartConnectServer/internal/ingest"
	"github.com/nomanocra/SmartConnectServer/internal/maintenance"
	"github.com/nomanocra/SmartConnectServer/internal/sensor"
	"github.com/nomanocra/SmartConnectServer/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// defaultEnvFile is loaded before the configuration. It may be absent.
	defaultEnvFile = ".env"

	// shutdownTimeout bounds how long in-flight pulls may finish on exit.
	shutdownTimeout = 30 * time.Second
)

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
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting SmartConnect server",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := loadDotEnv(defaultEnvFile); err != nil {
		return fmt.Errorf("loading %s: %w", defaultEnvFile, err)
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Stores
	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log.Component("device"))

	sensorRepo := sensor.NewSQLiteRepository(db.DB)
	readingRepo := sensor.NewSQLiteReadingRepository(db.DB)
	sensorRegistry := sensor.NewRegistry(sensorRepo)
	sensorRegistry.SetLogger(log.Component("sensor"))

	m := metrics.New()

	ingestor := ingest.New(ingest.Config{Location: cfg.Location()}, sensorRegistry, sensorRepo, readingRepo)
	ingestor.SetLogger(log.Component("ingest"))
	ingestor.SetRecorder(m)

	checks := make(map[string]api.HealthChecker)

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		ingestor.SetPublisher(mqttClient)
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		ingestor.SetSink(influxClient)
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Device pulls and auto-pull scheduling
	fetcher := devicepull.New(devicepull.Config{
		Timeout:  cfg.GetPullTimeout(),
		Location: cfg.Location(),
	})
	fetcher.SetLogger(log.Component("devicepull"))

	scheduler := autopull.New(autopull.Config{
		RetryDelay:         cfg.GetRetryDelay(),
		RestoreConcurrency: cfg.Pull.RestoreConcurrency,
	}, deviceRegistry, fetcher, ingestor)
	scheduler.SetLogger(log.Component("autopull"))
	scheduler.SetRecorder(m)
	m.RegisterActiveTasks(scheduler.ActiveCount)

	hooks := scheduler.DeviceHooks()
	if mqttClient != nil {
		stopTask := hooks.BeforeDelete
		hooks.BeforeDelete = func(id int64) {
			stopTask(id)
			clearRetainedStates(ctx, sensorRepo, mqttClient, id, log)
		}
	}
	deviceRegistry.SetHooks(hooks)

	restored, err := scheduler.RestoreAll(ctx)
	if err != nil {
		return fmt.Errorf("restoring auto-pull tasks: %w", err)
	}
	log.Info("auto-pull tasks restored",
		"total", restored.Total,
		"started", restored.Started,
		"failed", restored.Failed,
	)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("stopping auto-pull tasks", "active", scheduler.ActiveCount())
		if stopErr := scheduler.StopAll(stopCtx); stopErr != nil {
			log.Error("error stopping auto-pull tasks", "error", stopErr)
		}
	}()

	// Housekeeping
	var runner *maintenance.Runner
	if cfg.Maintenance.Enabled {
		runner, err = maintenance.New(maintenance.Config{
			ReconcileSchedule: cfg.Maintenance.ReconcileSchedule,
			RetentionSchedule: cfg.Maintenance.RetentionSchedule,
			RetentionDays:     cfg.Maintenance.RetentionDays,
		}, scheduler, readingRepo)
		if err != nil {
			return fmt.Errorf("configuring maintenance: %w", err)
		}
		runner.SetLogger(log.Component("maintenance"))
		runner.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := runner.Stop(stopCtx); stopErr != nil {
				log.Error("error stopping maintenance jobs", "error", stopErr)
			}
		}()
	}

	// REST API
	deps := api.Deps{
		Config:        cfg.API,
		Logger:        log.Component("api"),
		DB:            db,
		Devices:       deviceRegistry,
		Sensors:       sensorRepo,
		Readings:      readingRepo,
		Scheduler:     scheduler,
		Fetcher:       fetcher,
		Ingester:      ingestor,
		Metrics:       m,
		Checks:        checks,
		ConnectWindow: cfg.GetConnectWindow(),
		Version:       version,
	}
	if runner != nil {
		deps.Jobs = runner
	}
	server, err := api.New(deps)
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

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Maintenance jobs
	// 3. Auto-pull tasks (in-flight pulls finish)
	// 4. InfluxDB, MQTT (if enabled)
	// 5. Database

	return nil
}

// getConfigPath returns the configuration file path.
// Uses SMARTCONNECT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SMARTCONNECT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// clearRetainedStates removes the retained MQTT snapshots of a device that
// is about to be deleted. Failures are logged only.
func clearRetainedStates(ctx context.Context, sensors api.SensorLister, client *mqtt.Client, deviceID int64, log *logging.Logger) {
	list, err := sensors.ListByDevice(ctx, deviceID)
	if err != nil {
		log.Warn("listing sensors for MQTT cleanup failed", "device_id", deviceID, "error", err)
		return
	}
	for _, s := range list {
		if err := client.ClearSensorState(deviceID, s.Type); err != nil {
			log.Warn("clearing retained sensor state failed",
				"device_id", deviceID, "type", s.Type, "error", err)
		}
	}
}
