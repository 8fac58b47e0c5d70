// Race Lights - start sequence controller for the club's five-light board.
//
// This is the main entry point. It drives an EasyDaq USB relay card
// through the countdown to one or more race starts, and exposes the
// controller over HTTP, WebSocket and MQTT so that the race officer's
// laptop, the tower tablet and the club's home automation can all operate
// the lights.
//
// Usage:
//
//	racelights                       run the controller
//	racelights -list-ports           print the serial devices and exit
//	racelights -issue-token officer  print an API bearer token and exit
//
// The configuration path comes from RACELIGHTS_CONFIG, default
// configs/config.yaml.
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

	"github.com/hillheadsc/racelights/internal/api"
	"github.com/hillheadsc/racelights/internal/audit"
	"github.com/hillheadsc/racelights/internal/bridge"
	"github.com/hillheadsc/racelights/internal/history"
	"github.com/hillheadsc/racelights/internal/infrastructure/config"
	"github.com/hillheadsc/racelights/internal/infrastructure/database"
	"github.com/hillheadsc/racelights/internal/infrastructure/influxdb"
	"github.com/hillheadsc/racelights/internal/infrastructure/logging"
	"github.com/hillheadsc/racelights/internal/infrastructure/mqtt"
	"github.com/hillheadsc/racelights/internal/infrastructure/serialport"
	"github.com/hillheadsc/racelights/internal/racecontrol"
	"github.com/hillheadsc/racelights/internal/relay"
	"github.com/hillheadsc/racelights/internal/scheduler"
	"github.com/hillheadsc/racelights/internal/sequence"
	"github.com/hillheadsc/racelights/internal/telemetry"
	"github.com/hillheadsc/racelights/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds the final lights-off, grace period and disconnect.
const shutdownTimeout = 10 * time.Second

func main() {
	listPorts := flag.Bool("list-ports", false, "print the available serial devices and exit")
	subject := flag.String("issue-token", "", "print an API bearer token for `subject` and exit")
	flag.Parse()

	var err error
	switch {
	case *listPorts:
		err = printPorts(os.Stdout, serialport.List)
	case *subject != "":
		err = issueToken(os.Stdout, getConfigPath(), *subject)
	default:
		// Cancel on Ctrl+C or SIGTERM so the lights are switched off cleanly.
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = run(ctx)
		cancel()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled when the process should shut down
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting race lights",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version).ForSite(cfg.Site)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Every timer, serial write and controller call runs on this loop. It
	// outlives ctx so that shutdown can still switch the lights off.
	loop := scheduler.New(scheduler.SystemClock{})
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if runErr := loop.Run(loopCtx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			log.Error("scheduler loop stopped", "error", runErr)
		}
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	// Connect to InfluxDB (optional)
	var metrics *telemetry.Metrics
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
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
		metrics = telemetry.New(influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	controller, session, err := buildController(cfg, loop, metrics, log)
	if err != nil {
		return err
	}

	// Open the history database (optional). It also holds the command audit.
	var repo history.Repository
	var auditLog audit.Repository
	var db *database.DB
	var recorder *history.Recorder
	if cfg.History.Enabled {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database ready", "path", cfg.Database.Path)

		sqliteRepo := history.NewSQLiteRepository(db.DB)
		repo = sqliteRepo
		auditLog = audit.NewSQLiteRepository(db.DB)

		recorder = history.NewRecorder(sqliteRepo, cfg.Relay.Port, log.With("component", "history"))
		recorder.Attach(controller)
		defer func() {
			recorder.Close()
			stats := recorder.Stats()
			log.Info("history recorder stopped",
				"written", stats.Written,
				"dropped", stats.Dropped,
				"failed", stats.Failed,
			)
		}()

		pruner := history.NewPruner(sqliteRepo, cfg.History.Retention, history.DefaultPruneInterval, log)
		go pruner.Run(ctx)
	} else {
		log.Info("history disabled")
	}

	// Services that must keep running through the shutdown sequence use
	// svcCtx rather than ctx.
	svcCtx, stopServices := context.WithCancel(context.Background())
	defer stopServices()

	// Connect to MQTT and start the command bridge (optional)
	var mqttClient *mqtt.Client
	var mqttBridge *bridge.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, mqttBridge, err = startBridge(svcCtx, cfg, controller, auditLog, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// Start the HTTP API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log.With("component", "api"),
			Controller: controller,
			History:    repo,
			Audit:      auditLog,
			Version:    version,
		}
		// Typed nil pointers must not reach the optional interface fields.
		if mqttClient != nil {
			deps.MQTT = mqttClient
			deps.Bridge = mqttBridge
		}
		if recorder != nil {
			deps.Recorder = recorder
			deps.DB = db
		}
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(svcCtx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "addr", server.Addr(), "auth", cfg.API.Auth.Enabled)
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if cfg.Relay.AutoConnect {
		if connErr := controller.Connect(ctx); connErr != nil {
			return fmt.Errorf("connecting to relay: %w", connErr)
		}
		log.Info("relay connecting", "port", cfg.Relay.Port)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, switching lights off")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := controller.Shutdown(shutdownCtx); err != nil {
		log.Error("relay shutdown incomplete", "error", err)
	}

	stats := session.Stats()
	log.Info("race lights stopped",
		"packets_tx", stats.PacketsTx,
		"commands_tx", stats.CommandsTx,
		"reconnects", stats.ReconnectsTotal,
		"errors", stats.ErrorsTotal,
	)

	// Deferred calls run in reverse order: API, bridge, MQTT, history
	// recorder, database, InfluxDB, then the scheduler loop.
	return nil
}

// buildController creates the relay session, the sequence and the
// controller that owns them.
//
// Parameters:
//   - cfg: Application configuration
//   - loop: Scheduler loop all three run on
//   - metrics: Telemetry sink, nil when InfluxDB is disabled
//   - log: Logger instance
//
// Returns:
//   - *racecontrol.Controller: Idle controller
//   - *relay.Session: The controller's relay session
//   - error: If the configuration is rejected
func buildController(cfg *config.Config, loop *scheduler.Loop, metrics *telemetry.Metrics, log *logging.Logger) (*racecontrol.Controller, *relay.Session, error) {
	relayOpts := relay.Options{
		Config: relay.Config{
			Port: cfg.Relay.Port,
			Serial: serialport.Options{
				BaudRate: cfg.Relay.BaudRate,
				DataBits: cfg.Relay.DataBits,
				StopBits: cfg.Relay.StopBits,
				Parity:   cfg.Relay.Parity,
			},
			SettleDelay:       cfg.Relay.SettleDelay,
			HeartbeatInterval: cfg.Relay.HeartbeatInterval,
			PacingInterval:    cfg.Relay.PacingInterval,
			ReconnectBackoff:  cfg.Relay.ReconnectBackoff,
			ReadTimeout:       cfg.Relay.ReadTimeout,
		},
		Opener: serialport.SystemOpener{},
		Loop:   loop,
		Logger: log.With("component", "relay"),
	}
	if metrics != nil {
		relayOpts.Metrics = metrics
	}
	session, err := relay.NewSession(relayOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("creating relay session: %w", err)
	}

	seq := sequence.New(sequence.Options{
		Loop:          loop,
		Acceleration:  cfg.Sequence.TimeAcceleration,
		FlashInterval: cfg.Sequence.FlashInterval,
		Logger:        log.With("component", "sequence"),
	})
	if metrics != nil {
		seq.AddObserver(func(snap sequence.Snapshot) {
			metrics.RecordSequence(snap, loop.Now())
		})
	}
	if cfg.Sequence.TimeAcceleration > 1 {
		log.Warn("sequence time is accelerated", "factor", cfg.Sequence.TimeAcceleration)
	}

	controller, err := racecontrol.New(racecontrol.Options{
		Config: racecontrol.Config{
			DefaultPolicy:     cfg.Sequence.DefaultPolicy,
			MaxStarts:         cfg.Sequence.MaxStarts,
			MaxMinutesToStart: cfg.Sequence.MaxMinutesToStart,
			FlashInterval:     cfg.Sequence.FlashInterval,
			ShutdownGrace:     cfg.Sequence.ShutdownGrace,
		},
		Loop:     loop,
		Relay:    session,
		Sequence: seq,
		Logger:   log.With("component", "racecontrol"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating controller: %w", err)
	}
	return controller, session, nil
}

// openDatabase opens the SQLite file and applies the embedded migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// startBridge connects to the broker and starts the MQTT bridge. The
// bridge republishes retained state after every reconnect.
//
// Returns:
//   - *mqtt.Client: Connected client, closed by the caller
//   - *bridge.Bridge: Running bridge, stopped by the caller
//   - error: If the broker is unreachable or the bridge cannot subscribe
func startBridge(ctx context.Context, cfg *config.Config, controller *racecontrol.Controller, auditLog audit.Repository, log *logging.Logger) (*mqtt.Client, *bridge.Bridge, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.With("component", "mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"prefix", client.Topics().Prefix(),
	)

	// #nosec G115 -- qos is validated to 0..2 by config.Validate
	b, err := bridge.New(bridge.Options{
		MQTT:           client,
		Controller:     controller,
		Topics:         client.Topics(),
		QoS:            byte(cfg.MQTT.QoS),
		Site:           cfg.Site.ID,
		Version:        version,
		HealthInterval: cfg.MQTT.HealthInterval,
		Logger:         log.With("component", "bridge"),
		Audit:          auditLog,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}

	client.SetOnConnect(func() {
		log.Info("MQTT reconnected, republishing state")
		// Paho runs this on its own goroutine; the snapshot waits on the loop.
		go func() {
			if pubErr := b.PublishState(ctx); pubErr != nil {
				log.Warn("failed to republish state", "error", pubErr)
			}
		}()
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT bridge started")
	return client, b, nil
}

// getConfigPath returns the configuration file path.
// Uses RACELIGHTS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RACELIGHTS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the enabled infrastructure connections.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database to check (nil if history is disabled)
//   - mqttClient: MQTT client to check (nil if MQTT is disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	return nil
}

// issueToken loads the configuration at path and writes a signed bearer
// token for subject to w.
func issueToken(w io.Writer, path, subject string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := api.IssueToken(cfg.Security.JWT.Secret, subject, cfg.GetTokenLifetime())
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// printPorts writes one serial device name per line.
func printPorts(w io.Writer, list func() ([]string, error)) error {
	ports, err := list()
	if err != nil {
		return fmt.Errorf("listing serial ports: %w", err)
	}
	if len(ports) == 0 {
		_, err = fmt.Fprintln(w, "no serial ports found")
		return err
	}
	for _, p := range ports {
		if _, err := fmt.Fprintln(w, p); err != nil {
			return err
		}
	}
	return nil
}
