// MIoT Core - Smart Home Device Synchronization
//
// This is the main entry point for the MIoT Core service. MIoT Core keeps
// a configured set of MIoT devices synchronized over their local or cloud
// transports and exposes their state through MQTT, a REST API, and a
// WebSocket event stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/miot-core/migrations"

	"github.com/nerrad567/miot-core/internal/api"
	"github.com/nerrad567/miot-core/internal/device"
	"github.com/nerrad567/miot-core/internal/infrastructure/config"
	"github.com/nerrad567/miot-core/internal/infrastructure/database"
	"github.com/nerrad567/miot-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/miot-core/internal/infrastructure/logging"
	"github.com/nerrad567/miot-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/miot-core/internal/manager"
	"github.com/nerrad567/miot-core/internal/miot/spec"
	"github.com/nerrad567/miot-core/internal/transport/cloud"
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
func run(ctx context.Context) error { //nolint:gocognit // Linear startup sequence with a defer per component
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting MIoT Core",
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
	log.Info("configuration loaded", "path", configPath, "devices", len(cfg.Devices))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device registry mirrors the configured device list for the API
	deviceRepo := device.NewSQLiteRepository(db.DB)

	// Capability spec fetcher with SQLite cache
	specCache := spec.NewSQLiteRepository(db.DB)
	fetcher := spec.NewFetcher(specCache)
	fetcher.SetLogger(log)
	if cfg.Spec.BaseURL != "" {
		fetcher.SetBaseURL(cfg.Spec.BaseURL)
		log.Info("using spec mirror", "base_url", cfg.Spec.BaseURL)
	}

	// Connect to MQTT broker (optional)
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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Authenticate against the vendor cloud (optional)
	var cloudClient *cloud.Client
	if cfg.Cloud.Enabled {
		auth, loginErr := cloud.Login(ctx, cfg.Cloud.Username, cfg.Cloud.Password, cfg.Cloud.Region)
		if loginErr != nil {
			return fmt.Errorf("cloud login: %w", loginErr)
		}
		cloudClient = cloud.NewClient(auth)
		log.Info("cloud authenticated", "region", cfg.Cloud.Region)
	} else {
		log.Info("cloud disabled")
	}

	// Start the device manager
	mgr, err := newManager(cfg, fetcher, deviceRepo, mqttClient, influxClient, cloudClient, log)
	if err != nil {
		return fmt.Errorf("creating device manager: %w", err)
	}
	if startErr := mgr.Start(ctx); startErr != nil {
		return fmt.Errorf("starting device manager: %w", startErr)
	}
	defer func() {
		log.Info("stopping device manager")
		mgr.Stop()
	}()
	log.Info("device manager started", "sessions", len(mgr.DIDs()))

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Sessions: mgr,
		Registry: deviceRepo,
		MQTT:     mqttClient,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Device manager
	// 3. InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Database

	log.Info("MIoT Core stopped")
	return nil
}

// newManager assembles the device manager from the optional infrastructure
// pieces. Typed nils must not leak into the manager's interface fields, so
// each optional client is only assigned when it exists.
func newManager(cfg *config.Config, fetcher *spec.Fetcher, registry *device.SQLiteRepository,
	mqttClient *mqtt.Client, influxClient *influxdb.Client, cloudClient *cloud.Client,
	log *logging.Logger,
) (*manager.Manager, error) {
	opts := manager.Options{
		Config:   cfg,
		Specs:    fetcher,
		Registry: registry,
		Logger:   log,
	}
	if mqttClient != nil {
		opts.MQTT = mqttClient
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}
	if cloudClient != nil {
		opts.CloudTransport = cloudClient
	}
	return manager.New(opts)
}

// getConfigPath returns the configuration file path.
// Uses MIOTCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MIOTCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// The MQTT and InfluxDB clients may be nil when disabled.
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
