// PowerWatch Core - Power Outlet Watchdog
//
// This is the main entry point for the PowerWatch daemon. PowerWatch
// monitors groups of servers over the network and power cycles a
// group's outlet when every server in it stops responding, on the
// theory that a locked-up machine comes back after a hard restart.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maraxa/powerwatch-core/internal/gpio"
	"github.com/maraxa/powerwatch-core/internal/infrastructure/config"
	"github.com/maraxa/powerwatch-core/internal/infrastructure/influxdb"
	"github.com/maraxa/powerwatch-core/internal/infrastructure/logging"
	"github.com/maraxa/powerwatch-core/internal/infrastructure/mqtt"
	"github.com/maraxa/powerwatch-core/internal/monitor"
	"github.com/maraxa/powerwatch-core/internal/probe"
	"github.com/maraxa/powerwatch-core/internal/stats"
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
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting PowerWatch Core",
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

	// Resolve the immutable configuration snapshot
	snap, err := config.BuildSnapshot(cfg)
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}
	store := config.NewStore(snap)
	log.Info("configuration resolved",
		"groups", len(snap.Groups),
		"outlets", len(snap.Outlets),
	)

	// Select a GPIO backend and set up the actuator
	backend, err := gpio.Detect(cfg.GPIO, log)
	if err != nil {
		return fmt.Errorf("selecting GPIO backend: %w", err)
	}
	defer func() {
		log.Info("closing GPIO backend")
		if closeErr := backend.Close(); closeErr != nil {
			log.Error("error closing GPIO backend", "error", closeErr)
		}
	}()
	actuator := gpio.NewActuator(backend, snap.Outlets, log)
	log.Info("GPIO backend selected", "backend", actuator.Backend())

	// Drive every outlet on at startup so a crash that left an outlet
	// off does not strand its servers.
	for name := range snap.Outlets {
		if setErr := actuator.SetState(name, true); setErr != nil {
			log.Warn("could not power on outlet at startup", "outlet", name, "error", setErr)
		}
	}

	// Start the statistics recorder
	recorder, err := stats.New(cfg.Stats, log)
	if err != nil {
		return fmt.Errorf("starting stats recorder: %w", err)
	}
	defer func() {
		log.Info("flushing statistics")
		if closeErr := recorder.Close(); closeErr != nil {
			log.Error("error closing stats recorder", "error", closeErr)
		}
	}()
	log.Info("stats recorder started", "dir", cfg.Stats.Dir)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	var bus monitor.Publisher
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			// The watchdog's core job does not need a broker. Run
			// without the event surface rather than not at all.
			log.Warn("MQTT unavailable, running without event publishing", "error", err)
			mqttClient = nil
		} else {
			defer func() {
				log.Info("disconnecting from MQTT")
				if closeErr := mqttClient.Close(); closeErr != nil {
					log.Error("error closing MQTT", "error", closeErr)
				}
			}()
			mqttClient.SetLogger(log)
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
			bus = mqttClient
		}
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var metrics monitor.MetricsSink
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
		metrics = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// Verify infrastructure connections before starting loops
	if err := healthCheck(ctx, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Reload configuration on SIGHUP
	go watchReload(ctx, configPath, store, actuator, log)

	engine := monitor.New(store, probe.New(snap.ProbeTimeout), actuator, recorder, metrics, bus, log)

	log.Info("initialisation complete, starting watchdog")
	return engine.Run(ctx)
}

// getConfigPath returns the configuration file path.
// Uses POWERWATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("POWERWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// watchReload re-reads the configuration on SIGHUP and installs it
// atomically. A broken file leaves the running configuration in place.
func watchReload(ctx context.Context, path string, store *config.Store, actuator *gpio.Actuator, log *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			log.Info("SIGHUP received, reloading configuration", "path", path)

			cfg, err := config.Load(path)
			if err != nil {
				log.Error("reload failed, keeping current configuration", "error", err)
				continue
			}

			snap, err := store.Swap(cfg)
			if err != nil {
				log.Error("reload rejected, keeping current configuration", "error", err)
				continue
			}

			actuator.Reconfigure(snap.Outlets)
			log.Info("configuration reloaded",
				"generation", snap.Generation,
				"groups", len(snap.Groups),
			)
		}
	}
}

// healthCheck verifies the optional infrastructure connections.
// Either client may be nil when disabled.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
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
