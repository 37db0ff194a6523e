// reolinkd - Reolink camera command registry and sync engine
//
// This is the main entry point for reolinkd. It provisions Reolink cameras,
// hubs and hub channels, keeps their command values in sync on a schedule,
// and exposes them over MQTT and a REST/WebSocket API.
//
// Usage:
//
//	reolinkd                 run the daemon
//	reolinkd token [-subject name] [-ttl 720h]
//	                         print an API bearer token signed with the configured secret
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/reolink-core/migrations"

	"github.com/nerrad567/reolink-core/internal/action"
	"github.com/nerrad567/reolink-core/internal/api"
	"github.com/nerrad567/reolink-core/internal/audit"
	reolink "github.com/nerrad567/reolink-core/internal/bridges/reolink"
	"github.com/nerrad567/reolink-core/internal/catalog"
	"github.com/nerrad567/reolink-core/internal/demux"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/hub"
	"github.com/nerrad567/reolink-core/internal/infrastructure/config"
	"github.com/nerrad567/reolink-core/internal/infrastructure/database"
	"github.com/nerrad567/reolink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/reolink-core/internal/infrastructure/logging"
	"github.com/nerrad567/reolink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/reolink-core/internal/probe"
	"github.com/nerrad567/reolink-core/internal/process"
	"github.com/nerrad567/reolink-core/internal/refresh"
	"github.com/nerrad567/reolink-core/internal/statesync"
	"github.com/nerrad567/reolink-core/internal/synth"
	"github.com/nerrad567/reolink-core/internal/transport"
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

// auditRetentionInterval is how often old audit entries are pruned.
const auditRetentionInterval = 6 * time.Hour

// defaultTokenTTL is the lifetime of tokens printed by the token command.
const defaultTokenTTL = 30 * 24 * time.Hour

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
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

// runToken prints a bearer token for the REST API.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "operator", "token subject")
	ttl := fs.Duration("ttl", defaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := api.IssueToken(cfg.Security.JWT, *subject, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting reolinkd",
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device registry and command store
	repo := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(repo)
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())

	cat, err := loadCatalog(cfg.Reolink.CatalogPath)
	if err != nil {
		return err
	}
	log.Info("command catalog loaded", "commands", cat.Len(), "path", cfg.Reolink.CatalogPath)

	// MQTT
	bus, closeBus, err := connectMQTT(cfg.MQTT, log)
	if err != nil {
		return err
	}
	defer closeBus()

	// InfluxDB (optional)
	influxClient, err := connectInfluxDB(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// Transports
	direct := transport.NewDirectClient()
	direct.SetLogger(log)
	mediated := transport.NewMediatedClient(cfg.Reolink.AIOAPI.Host, cfg.Reolink.AIOAPI.Port)
	mediated.SetLogger(log)

	// Hub-mediation service, when reolinkd runs it
	if len(cfg.Reolink.AIOAPI.Command) > 0 {
		sup, supErr := process.NewSupervisor(process.Config{
			Name:         "aio-api",
			Command:      cfg.Reolink.AIOAPI.Command,
			Env:          mediationEnv(cfg.Reolink),
			Ready:        mediated.Ping,
			ReadyTimeout: time.Duration(cfg.Reolink.AIOAPI.StartTimeout) * time.Second,
		})
		if supErr != nil {
			return fmt.Errorf("configuring mediation service: %w", supErr)
		}
		sup.SetLogger(log)
		if startErr := sup.Start(ctx); startErr != nil {
			return fmt.Errorf("starting mediation service: %w", startErr)
		}
		defer func() {
			log.Info("stopping mediation service")
			if stopErr := sup.Stop(); stopErr != nil {
				log.Error("error stopping mediation service", "error", stopErr)
			}
		}()
	}
	router := transport.NewRouter(registry, direct, mediated, transport.Timeouts{
		Status:  cfg.Reolink.Timeouts.StatusTimeout(),
		Default: cfg.Reolink.Timeouts.DefaultTimeout(),
		Long:    cfg.Reolink.Timeouts.LongTimeout(),
	})
	router.SetLogger(log)

	prober := probe.NewProber(router, cfg.Reolink.AbilityCacheDuration())
	prober.SetLogger(log)

	synthesizer := synth.New(repo)
	synthesizer.SetLogger(log)

	demuxer := demux.New()
	demuxer.SetLogger(log)

	// State fan-out: MQTT retained state, WebSocket, InfluxDB
	wsHub := api.NewHub(cfg.WebSocket, log)
	go wsHub.Run(ctx)

	state := statesync.New(repo)
	state.SetLogger(log)
	state.AddNotifier(wsHub)
	if bus.publisher != nil {
		state.AddNotifier(statesync.NewMQTTNotifier(bus.publisher, log))
	}
	refreshOpts := refresh.Options{
		Devices:       registry,
		Commands:      repo,
		Scheduler:     refresh.NewScheduler(router, cfg.Reolink.BatchSize),
		Demuxer:       demuxer,
		State:         state,
		DetectionMode: cfg.Reolink.DetectionMode,
		Logger:        log,
	}
	if influxClient != nil {
		state.AddNotifier(statesync.NewInfluxNotifier(influxClient))
		refreshOpts.Recorder = influxClient
	}

	scenes := hub.NewScenes(router)
	motion := hub.NewMotion(router)
	discoverer := hub.NewDiscoverer(registry, router)
	discoverer.SetLogger(log)
	refreshOpts.Motion = motion

	refresher, err := refresh.NewRefresher(refreshOpts)
	if err != nil {
		return fmt.Errorf("creating refresher: %w", err)
	}

	executor, err := action.NewExecutor(action.ExecutorOptions{
		Devices:   registry,
		Commands:  repo,
		Sender:    router,
		State:     state,
		Refresher: refresher,
		Scenes:    scenes,
		Motion:    motion,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating executor: %w", err)
	}

	// The scheduler fires through the bridge so scheduled cycles are
	// counted and announced like manual ones.
	runner := &bridgeRunner{}
	autorefresh := refresh.NewCron(runner, registry, cfg.Reolink.DefaultAutoRefresh)
	autorefresh.SetLogger(log)

	bridge, err := reolink.NewBridge(reolink.BridgeOptions{
		Version:     version,
		MQTTClient:  bus.client,
		Devices:     registry,
		Prober:      prober,
		Synthesizer: synthesizer,
		Catalog:     cat,
		Executor:    executor,
		Refresher:   refresher,
		Scheduler:   autorefresh,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	runner.bridge = bridge

	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	if reconcileErr := autorefresh.Reconcile(ctx); reconcileErr != nil {
		return fmt.Errorf("scheduling autorefresh: %w", reconcileErr)
	}
	autorefresh.Start()
	defer func() {
		log.Info("stopping autorefresh")
		autorefresh.Stop()
	}()

	// Audit trail
	var auditLog api.AuditLog
	if cfg.Audit.Enabled {
		auditRepo := audit.NewSQLiteRepository(db.DB)
		go auditRepo.RunRetention(ctx, cfg.Audit.Retention(), auditRetentionInterval, log)
		auditLog = auditRepo
		log.Info("audit trail enabled", "retention_days", cfg.Audit.RetentionDays)
	}

	// REST API
	apiDeps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Registry:   registry,
		Commands:   repo,
		Workflows:  bridge,
		Executor:   executor,
		Discoverer: discoverer,
		Tester:     router,
		Scheduler:  autorefresh,
		DB:         db,
		Audit:      auditLog,
		Hub:        wsHub,
		Version:    version,
	}
	if bus.status != nil {
		apiDeps.MQTT = bus.status
	}
	apiServer, err := api.New(apiDeps)
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

	if err := healthCheck(ctx, db, bus.health, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, autorefresh, bridge,
	// InfluxDB, MQTT, database.
	log.Info("reolinkd stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses REOLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("REOLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadCatalog reads the catalog file when one is configured, otherwise the
// embedded catalog.
func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		cat, err := catalog.Default()
		if err != nil {
			return nil, fmt.Errorf("loading embedded catalog: %w", err)
		}
		return cat, nil
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return cat, nil
}

// mediationEnv passes the engine settings the mediation service shares
// with reolinkd.
func mediationEnv(cfg config.ReolinkConfig) []string {
	return []string{
		fmt.Sprintf("REOLINK_AIO_API_PORT=%d", cfg.AIOAPI.Port),
		fmt.Sprintf("REOLINK_WEBHOOK_PORT=%d", cfg.WebhookPort),
		"REOLINK_DETECTION_MODE=" + cfg.DetectionMode,
	}
}

// mqttBus is the broker connection as seen by each consumer. When MQTT is
// disabled the bridge gets a detached client and the optional fields stay nil.
type mqttBus struct {
	client    reolink.MQTTClient
	publisher statesync.StatePublisher
	status    api.ConnectionStatus
	health    healthChecker
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// connectMQTT dials the broker and returns a close function.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (mqttBus, func(), error) {
	if !cfg.Enabled {
		log.Info("MQTT disabled, bridge commands unavailable")
		return mqttBus{client: detachedMQTT{}}, func() {}, nil
	}

	client, err := mqtt.Connect(cfg)
	if err != nil {
		return mqttBus{}, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)

	closeFn := func() {
		log.Info("disconnecting from MQTT")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}
	return mqttBus{client: client, publisher: client, status: client, health: client}, closeFn, nil
}

// connectInfluxDB connects when enabled; a nil client means disabled.
func connectInfluxDB(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, broker healthChecker, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if broker != nil {
		if err := broker.HealthCheck(ctx); err != nil {
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

// bridgeRunner lets the autorefresh scheduler exist before the bridge it
// fires through.
type bridgeRunner struct {
	bridge *reolink.Bridge
}

func (r *bridgeRunner) Refresh(ctx context.Context, deviceID string) (*refresh.Report, error) {
	if r.bridge == nil {
		return nil, reolink.ErrBridgeStopped
	}
	return r.bridge.Refresh(ctx, deviceID)
}

// detachedMQTT stands in for the broker when MQTT is disabled.
type detachedMQTT struct{}

func (detachedMQTT) Publish(string, []byte, byte, bool) error          { return nil }
func (detachedMQTT) Subscribe(string, byte, mqtt.MessageHandler) error { return nil }
func (detachedMQTT) Unsubscribe(string) error                          { return nil }
func (detachedMQTT) IsConnected() bool                                 { return false }
