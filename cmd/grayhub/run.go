package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-hub/internal/adapter"
	"github.com/nerrad567/gray-logic-hub/internal/adapter/mqttbridge"
	"github.com/nerrad567/gray-logic-hub/internal/adapter/virtual"
	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/history"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/journal"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/pending"
	"github.com/nerrad567/gray-logic-hub/internal/scheduler"
	"github.com/nerrad567/gray-logic-hub/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the hub until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, configPath)
		},
	}
}

// run is the hub's lifetime, separated from the command for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - path: Configuration file path
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, path string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting grayhub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", path)

	// Reinitialise logger with config settings
	log, logFile, err := logging.Open(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("opening log output: %w", err)
	}
	defer logFile.Close() //nolint:errcheck // log output closed at exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	// Metrics (optional)
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		go func() {
			if serveErr := collector.Serve(ctx, cfg.Metrics.Listen); serveErr != nil {
				log.Error("metrics server stopped", "error", serveErr)
			}
		}()
		log.Info("metrics server started", "listen", cfg.Metrics.Listen)
	}

	// Diagnostics journal (optional)
	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		jrnl, err = journal.Open(cfg.Journal.Path, journal.Options{Logger: log.Component("journal")})
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer func() {
			if closeErr := jrnl.Close(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
		}()
		log.Info("journal opened", "path", cfg.Journal.Path, "session", jrnl.Session())
	}

	// Scheduler
	schedOpts := scheduler.Options{
		Workers: cfg.Scheduler.Workers,
		Logger:  log.Component("scheduler"),
	}
	if collector != nil {
		schedOpts.Metrics = collector
	}
	if jrnl != nil {
		schedOpts.Observer = jrnl
	}
	sched := scheduler.New(schedOpts)
	sched.Start()
	defer func() {
		log.Info("stopping scheduler")
		sched.Stop()
	}()

	// Pending-Update Registry
	pendOpts := pending.Options{Logger: log.Component("pending")}
	if collector != nil {
		pendOpts.Metrics = collector
	}
	pend := pending.New(sched, pendOpts)
	defer pend.Close()

	// Device registry and history
	store := history.NewSQLiteStore(db.DB, cfg.History.Bucket)
	bus := device.NewEventBus()
	regOpts := device.Options{
		Scheduler:  sched,
		Repository: device.NewSQLiteRepository(db.DB),
		History:    store,
		Publisher:  bus,
		Logger:     log.Component("device"),
	}
	if collector != nil {
		regOpts.Metrics = collector
	}
	if jrnl != nil {
		regOpts.Diagnostics = jrnl
	}
	registry := device.NewRegistry(regOpts)

	aggregator := history.NewAggregator(sched, store, history.AggregatorOptions{
		Interval:    cfg.History.Interval,
		Stagger:     cfg.History.Stagger,
		TrendBucket: cfg.History.TrendBucket,
		Logger:      log.Component("history"),
	})
	defer aggregator.Close()

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
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
		mqttClient.OnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.OnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		statePub := telemetry.NewStatePublisher(mqttClient, log.Component("telemetry"))
		defer bus.Subscribe(statePub.HandleEvent)()
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			influxClient.Flush()
			log.Info("closing InfluxDB connection", "write_failures", influxClient.WriteFailures())
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		var faults sinkFaultRecorder
		if jrnl != nil {
			faults = jrnl
		}
		influxClient.SetOnError(sinkErrorHandler("influxdb", log, faults))
		defer bus.Subscribe(telemetry.NewRecorder(influxClient).HandleEvent)()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Adapters
	deps := adapterDeps{
		cfg:      cfg,
		registry: registry,
		sched:    sched,
		pending:  pend,
		mqtt:     mqttClient,
		log:      log,
	}
	if jrnl != nil {
		deps.diagnostics = jrnl
	}
	devices, stop, err := startAdapters(ctx, deps)
	defer stop()
	if err != nil {
		return err
	}
	for _, d := range devices {
		aggregator.Track(d)
	}
	log.Info("devices declared", "devices", len(devices), "tracked", aggregator.Tracked())
	if mqttClient != nil {
		log.Info("MQTT subscriptions", "filters", mqttClient.Subscriptions())
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: adapters, aggregator, InfluxDB
	// (flushed first), MQTT, pending registry, scheduler, journal, database.

	log.Info("grayhub stopped")
	return nil
}

// openDatabase opens the SQLite database and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	return db, nil
}

// adapterDeps carries what the adapters are built from.
type adapterDeps struct {
	cfg         *config.Config
	registry    *device.Registry
	sched       *scheduler.Scheduler
	pending     *pending.Registry
	mqtt        *mqtt.Client
	diagnostics device.Diagnostics
	log         *logging.Logger
}

// startAdapters starts the virtual adapter and every configured bridge.
// Devices that fail to declare are logged and skipped.
//
// Returns:
//   - []*device.Device: Every declared device
//   - func(): Stops the started adapters; always non-nil
//   - error: If an adapter could not be built
func startAdapters(ctx context.Context, deps adapterDeps) ([]*device.Device, func(), error) {
	var (
		devices []*device.Device
		stops   []func()
	)
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}
	cfg := deps.cfg

	if cfg.Adapters.Virtual.Enabled {
		decls, err := declarations(cfg, cfg.Adapters.Virtual.Devices)
		if err != nil {
			return nil, stopAll, fmt.Errorf("virtual adapter: %w", err)
		}
		v := virtual.New(deps.registry, adapter.Options{
			Pending:     deps.pending,
			BlockWindow: cfg.Pending.BlockWindow,
			WaitWindow:  cfg.Pending.WaitWindow,
			Logger:      deps.log.Component("adapter.virtual"),
		})
		devs, err := v.Start(ctx, decls)
		if err != nil {
			deps.log.Warn("virtual adapter started with errors", "error", err)
		}
		stops = append(stops, v.Stop)
		devices = append(devices, devs...)
	}

	for _, bc := range cfg.Adapters.Bridges {
		if deps.mqtt == nil {
			return devices, stopAll, fmt.Errorf("bridge %s: %w", bc.ID, mqtt.ErrNotConnected)
		}
		decls, err := declarations(cfg, bc.Devices)
		if err != nil {
			return devices, stopAll, fmt.Errorf("bridge %s: %w", bc.ID, err)
		}
		block, wait := bc.BlockWindow, bc.WaitWindow
		if block == 0 {
			block = cfg.Pending.BlockWindow
		}
		if wait == 0 {
			wait = cfg.Pending.WaitWindow
		}
		b, err := mqttbridge.New(mqttbridge.Options{
			ID:              bc.ID,
			Protocol:        bc.Protocol,
			Client:          deps.mqtt,
			Registry:        deps.registry,
			Scheduler:       deps.sched,
			Pending:         deps.pending,
			BlockWindow:     block,
			WaitWindow:      wait,
			RetryInterval:   bc.RetryInterval,
			MaxRetries:      bc.MaxRetries,
			DuplicateFilter: cfg.Pending.DuplicateFilter,
			QoS:             byte(cfg.MQTT.QoS),
			Diagnostics:     deps.diagnostics,
			Logger:          deps.log.Component("adapter." + bc.ID),
		})
		if err != nil {
			return devices, stopAll, fmt.Errorf("bridge %s: %w", bc.ID, err)
		}
		devs, err := b.Start(ctx, decls)
		if err != nil {
			deps.log.Warn("bridge adapter started with errors", "adapter", bc.ID, "error", err)
		}
		stops = append(stops, b.Stop)
		devices = append(devices, devs...)
	}

	return devices, stopAll, nil
}

// declarations converts configured devices, filling retention defaults.
func declarations(cfg *config.Config, devices []config.DeviceConfig) ([]device.Declaration, error) {
	decls := make([]device.Declaration, 0, len(devices))
	var errs []error
	for _, d := range devices {
		decl, err := d.Declaration()
		if err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", d.Reference, err))
			continue
		}
		decl.Settings = cfg.DeviceDefaults(decl.Settings)
		decls = append(decls, decl)
	}
	return decls, errors.Join(errs...)
}

// sinkFaultRecorder receives telemetry write failures. *journal.Journal
// satisfies it.
type sinkFaultRecorder interface {
	SinkFault(sink string, err error)
}

// sinkErrorHandler logs failed writes to a telemetry sink and records
// them in the journal when one is open (faults may be nil).
func sinkErrorHandler(sink string, log *logging.Logger, faults sinkFaultRecorder) func(error) {
	return func(err error) {
		log.Error("telemetry write failed", "sink", sink, "error", err)
		if faults != nil {
			faults.SinkFault(sink, err)
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
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
