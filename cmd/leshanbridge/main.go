// Leshan bridge - LwM2M devices on the MQTT bus
//
// This is the main entry point for the Leshan bridge. It connects to a
// Leshan LwM2M server over its REST and event-stream API and:
//   - Observes and polls device resources according to the rules file
//   - Publishes state, discovery and health messages to MQTT
//   - Writes MQTT commands back to devices
//   - Logs readings to SQLite and, optionally, InfluxDB
//   - Serves a status API with live WebSocket notifications
//
// Subcommands:
//
//	leshanbridge              run the bridge
//	leshanbridge token ...    print a signed API access token
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-leshan/internal/api"
	"github.com/nerrad567/gray-logic-leshan/internal/bridges/lwm2m"
	"github.com/nerrad567/gray-logic-leshan/internal/history"
	"github.com/nerrad567/gray-logic-leshan/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-leshan/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-leshan/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-leshan/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-leshan/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-leshan/internal/leshan"
	"github.com/nerrad567/gray-logic-leshan/internal/poller"
	"github.com/nerrad567/gray-logic-leshan/migrations"
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

	// configEnv overrides defaultConfigPath.
	configEnv = "LESHAN_CONFIG"

	// pruneInterval is how often the reading log is trimmed.
	pruneInterval = 24 * time.Hour
)

func main() {
	// Cancel on Ctrl+C and SIGTERM so deferred closes run.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "token" {
		err = runToken(os.Args[2:], os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Leshan bridge",
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
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
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
	journal, err := db.JournalMode(ctx)
	if err != nil {
		return fmt.Errorf("checking database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path, "journal_mode", journal)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := history.NewStore(db.DB)
	retention := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
	pruneHistory(ctx, store, db, retention, log)

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
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
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

	// Leshan client
	leshanLog := log.Component("leshan")
	leshanClient := leshan.NewClient(leshan.ClientOptions{
		BaseURL:           cfg.Leshan.Host,
		Timeout:           cfg.GetRequestTimeout(),
		StreamIdleTimeout: cfg.GetStreamIdleTimeout(),
		Backoff:           cfg.GetReconnectBackoff(),
		Logger:            leshanLog,
		OnStreamStateChange: func(endpoint string, state leshan.StreamState) {
			leshanLog.Debug("event stream state", "endpoint", endpoint, "state", state.String())
		},
	})
	defer func() {
		log.Info("closing Leshan client")
		leshanClient.Close()
	}()
	if testErr := leshanClient.TestServer(ctx); testErr != nil {
		return fmt.Errorf("reaching Leshan server at %s: %w", cfg.Leshan.Host, testErr)
	}
	log.Info("Leshan server reachable", "host", cfg.Leshan.Host)

	rules, err := loadRules(cfg.Bridge.RulesFile, log)
	if err != nil {
		return err
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// The poller reports into the bridge, which feeds the poller its list.
	var bridge *lwm2m.Bridge
	coordinator := poller.New(leshanClient, poller.Options{
		Interval: cfg.GetScanInterval(),
		Logger:   log.Component("poller"),
		OnUpdate: func(snap *poller.Snapshot) { bridge.HandleSnapshot(snap) },
		OnError:  func(err error) { bridge.HandlePollError(err) },
	})

	hub := api.NewHub(cfg.WebSocket, log)

	bridgeOpts := lwm2m.BridgeOptions{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		Rules:          rules,
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0-2
		HealthInterval: time.Duration(cfg.Bridge.HealthInterval) * time.Second,
		MQTT:           mqttClient,
		Leshan:         leshanClient,
		Polls:          coordinator,
		History:        store,
		Hub:            hub,
		HealthChecks: map[string]lwm2m.HealthCheck{
			"database": db.HealthCheck,
			"leshan":   leshanClient.TestServer,
		},
		Logger: log.Component("bridge"),
	}
	if influxClient != nil {
		bridgeOpts.Metrics = influxClient
		bridgeOpts.HealthChecks["influxdb"] = influxClient.HealthCheck
	}
	bridge, err = lwm2m.NewBridge(bridgeOpts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := bridge.Start(gctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	g.Go(func() error {
		coordinator.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		pruneLoop(gctx, store, db, retention, log)
		return nil
	})

	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:        cfg.API,
			WS:            cfg.WebSocket,
			Security:      cfg.Security,
			Logger:        log.Component("api"),
			Devices:       leshanClient.Directory(),
			Subscriptions: leshanClient.Registry(),
			Snapshots:     coordinator,
			History:       store,
			Health:        bridge,
			Hub:           hub,
			Version:       version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "address", apiServer.Addr())
	} else {
		log.Info("API server disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := g.Wait(); err != nil {
		log.Error("background task failed", "error", err)
	}

	// Deferred closes run in reverse order:
	// API server, bridge, Leshan client, InfluxDB, MQTT, database.
	log.Info("Leshan bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LESHAN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadRules reads the rules file. A missing file falls back to the
// built-in rules; any other failure is fatal.
func loadRules(path string, log *logging.Logger) (lwm2m.Rules, error) {
	if path == "" {
		log.Info("no rules file configured, using built-in rules")
		return lwm2m.DefaultRules(), nil
	}
	rules, err := lwm2m.LoadRules(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("rules file not found, using built-in rules", "path", path)
		return lwm2m.DefaultRules(), nil
	}
	if err != nil {
		return lwm2m.Rules{}, fmt.Errorf("loading rules: %w", err)
	}
	log.Info("rules loaded", "path", path, "objects", len(rules.Objects))
	return rules, nil
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

// pruneHistory deletes readings older than retention and shrinks the WAL
// afterwards. Zero retention keeps everything.
func pruneHistory(ctx context.Context, store *history.Store, db *database.DB, retention time.Duration, log *logging.Logger) {
	if retention <= 0 {
		return
	}
	n, err := store.Prune(ctx, retention)
	if err != nil {
		log.Warn("pruning reading log failed", "error", err)
		return
	}
	if n == 0 {
		return
	}
	log.Info("reading log pruned", "deleted", n, "retention", retention.String())
	if err := db.Checkpoint(ctx); err != nil {
		log.Warn("checkpointing after prune failed", "error", err)
	}
}

// pruneLoop runs pruneHistory every pruneInterval until ctx is done.
func pruneLoop(ctx context.Context, store *history.Store, db *database.DB, retention time.Duration, log *logging.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneHistory(ctx, store, db, retention, log)
		}
	}
}

// runToken prints a signed access token for the status API.
//
// Usage: leshanbridge token [-role viewer|admin] [-ttl 15m] <subject>
func runToken(args []string, out io.Writer) error {
	opts, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.ttl == 0 {
		opts.ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := issueToken(opts, cfg.Security.JWT.Secret)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
