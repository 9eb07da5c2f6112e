// Gray Logic myQ Bridge
//
// This is the main entry point for the myQ bridge service. The bridge
// polls the myQ cloud for garage doors, gates and lamp modules, publishes
// their state over MQTT and exposes a local HTTP API for pairing and
// commands.
//
// Usage:
//
//	myqbridge                           run the service
//	myqbridge -issue-token -role viewer issue a local API token and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nerrad567/gray-logic-myq/internal/api"
	"github.com/nerrad567/gray-logic-myq/internal/audit"
	"github.com/nerrad567/gray-logic-myq/internal/auth"
	"github.com/nerrad567/gray-logic-myq/internal/bridges/myqbridge"
	"github.com/nerrad567/gray-logic-myq/internal/device"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-myq/internal/metrics"
	"github.com/nerrad567/gray-logic-myq/internal/myq"
	"github.com/nerrad567/gray-logic-myq/internal/scheduler"
	"github.com/nerrad567/gray-logic-myq/internal/settings"
	"github.com/nerrad567/gray-logic-myq/migrations"
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
	issue := flag.Bool("issue-token", false, "issue a local API token and exit")
	role := flag.String("role", string(auth.RoleAdmin), "role for -issue-token (admin, operator, viewer)")
	subject := flag.String("subject", "local", "subject for -issue-token")
	ttl := flag.Duration("ttl", 0, "lifetime for -issue-token (default: security.jwt.access_token_ttl)")
	flag.Parse()

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: loading .env: %v\n", err)
		os.Exit(1)
	}

	if *issue {
		if err := issueToken(os.Stdout, auth.Role(*role), *subject, *ttl); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// issueToken prints a signed API token for role. There is no user
// database; operators mint tokens on the host.
func issueToken(w io.Writer, role auth.Role, subject string, ttl time.Duration) error {
	if !auth.IsValidRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := auth.GenerateAccessToken(subject, role, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic myQ bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer func() {
		_ = log.Close() //nolint:errcheck // nothing left to report to
	}()
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Settings store holds the token state and account id
	store, err := settings.New(ctx, cfg.Store, db.DB)
	if err != nil {
		return fmt.Errorf("opening settings store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing settings store", "error", closeErr)
		}
	}()
	log.Info("settings store ready", "backend", orDefault(cfg.Store.Backend, "sqlite"))

	// Initialise device registry
	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log)
	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.DeviceCount())

	metrics.MustRegister()

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
	mqttClient.SetLogger(log)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
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
	}

	if !cfg.MyQ.Enabled {
		log.Info("myQ bridge disabled, waiting for shutdown signal")
		<-ctx.Done()
		return nil
	}

	bridge, err := startBridge(ctx, cfg, store, deviceRegistry, mqttClient, influxClient, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("stopping myQ bridge")
		bridge.Stop()
	}()

	// Restore retained device states after a broker outage.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		bridge.OnMQTTReconnect()
	})

	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Bridge:   bridge,
		Devices:  deviceRegistry,
		Audit:    audit.NewSQLiteRepository(db.DB),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API, bridge, InfluxDB,
	// MQTT, settings store, database.
	log.Info("Gray Logic myQ bridge stopped")
	return nil
}

// startBridge builds the cloud client and the bridge, then applies a
// configured refresh token when nothing has been persisted yet.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	store settings.Store,
	registry *device.Registry,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*myqbridge.Bridge, error) {
	clock := scheduler.NewSystem()

	client, err := myq.NewClient(myq.ClientOptions{
		Store:          store,
		Clock:          clock,
		RequestTimeout: cfg.MyQ.RequestTimeoutDuration(),
		DeviceCacheTTL: cfg.MyQ.DeviceCacheTTLDuration(),
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating myQ client: %w", err)
	}
	if initErr := client.Init(ctx); initErr != nil {
		return nil, fmt.Errorf("loading myQ token state: %w", initErr)
	}

	opts := myqbridge.BridgeOptions{
		Client:             client,
		Registry:           registry,
		Store:              store,
		MQTTClient:         mqttClient,
		Scheduler:          clock,
		PollInterval:       cfg.MyQ.PollIntervalDuration(),
		ActivePollInterval: cfg.MyQ.ActivePollIntervalDuration(),
		ActivePollDuration: cfg.MyQ.ActivePollWindow(),
		HealthInterval:     time.Duration(cfg.MyQ.HealthInterval) * time.Second,
		Version:            version,
		Logger:             log,
	}
	// A nil *influxdb.Client must not become a non-nil interface.
	if influxClient != nil {
		opts.Recorder = influxClient
	}

	bridge, err := myqbridge.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating myQ bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return nil, fmt.Errorf("starting myQ bridge: %w", startErr)
	}
	log.Info("myQ bridge started",
		"configured", client.IsConfigured(),
		"devices", bridge.DeviceCount(),
	)

	if cfg.MyQ.RefreshToken != "" && !client.IsConfigured() {
		if applyErr := bridge.ApplyRefreshToken(ctx, cfg.MyQ.RefreshToken); applyErr != nil {
			log.Warn("configured refresh token was not accepted", "error", applyErr)
		} else {
			log.Info("myQ account configured from refresh token")
		}
	}

	return bridge, nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
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
	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
