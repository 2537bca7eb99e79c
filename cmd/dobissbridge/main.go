// Command dobissbridge drives Dobiss Ambiance Pro relay and dimmer modules
// over CAN and exposes them to Gray Logic Core over MQTT, with an HTTP API,
// a WebSocket state feed and optional InfluxDB telemetry. Output state is
// kept in SQLite and re-confirmed from the bus at startup.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-logic-dobiss/migrations"

	"github.com/nerrad567/gray-logic-dobiss/internal/bridges/dobiss"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/mqtt"
)

// Build metadata, injected with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is used when DOBISS_CONFIG is unset.
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the bridge and blocks until ctx is cancelled. Everything it
// opens is released in reverse order on return.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Dobiss bridge", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	var cleanup shutdownStack
	defer cleanup.unwind(log)

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	cleanup.push("database", db.Close)
	log.Info("database ready", "path", cfg.Database.Path)

	// The Last Will carries the bridge ID from the bus config, so the bus
	// config is read before the broker is dialled.
	var busCfg *dobiss.Config
	bridgeID := cfg.Site.ID
	if cfg.Protocols.Dobiss.Enabled {
		if busCfg, err = dobiss.LoadConfig(cfg.Protocols.Dobiss.ConfigFile); err != nil {
			return fmt.Errorf("loading Dobiss bus config: %w", err)
		}
		bridgeID = busCfg.Bridge.ID
		log.Info("Dobiss bus config loaded",
			"path", cfg.Protocols.Dobiss.ConfigFile,
			"interface", busCfg.CAN.Interface,
			"outputs", len(busCfg.Outputs),
		)
	}

	mqttClient, err := connectMQTT(cfg.MQTT, bridgeID, log)
	if err != nil {
		return err
	}
	cleanup.push("mqtt", mqttClient.Close)

	influxClient, err := connectInflux(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		cleanup.push("influxdb", func() error {
			err := influxClient.Close()
			st := influxClient.Stats()
			log.Info("InfluxDB totals",
				"points_queued", st.PointsQueued,
				"points_skipped", st.PointsSkipped,
				"write_errors", st.WriteErrors,
			)
			return err
		})
	}

	checks := []healthProbe{
		{"database", db.HealthCheck},
		{"mqtt", mqttClient.HealthCheck},
	}
	if influxClient != nil {
		checks = append(checks, healthProbe{"influxdb", influxClient.HealthCheck})
	}

	if busCfg == nil {
		log.Info("Dobiss bridge disabled, nothing to run")
	} else {
		rt, err := startDobiss(ctx, cfg, busCfg, db, mqttClient, influxClient, log)
		if err != nil {
			return err
		}
		cleanup.push("dobiss", func() error { rt.stop(log); return nil })

		if cfg.API.Enabled {
			apiServer, err := startAPIServer(ctx, cfg, rt, db, mqttClient, log)
			if err != nil {
				return fmt.Errorf("starting API server: %w", err)
			}
			cleanup.push("api", apiServer.Close)
			checks = append(checks, healthProbe{"api", apiServer.HealthCheck})
		} else {
			log.Info("API server disabled")
		}
	}

	// The CAN link is left out: the driver reconnects on its own and a
	// down link is published as degraded health.
	if err := checkHealth(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("startup complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns DOBISS_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("DOBISS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// connectMQTT dials the broker with a Last Will that marks the bridge
// offline if the process dies without a clean shutdown.
func connectMQTT(cfg config.MQTTConfig, bridgeID string, log *logging.Logger) (*mqtt.Client, error) {
	will, err := lastWill(bridgeID)
	if err != nil {
		return nil, fmt.Errorf("building last will: %w", err)
	}
	client, err := mqtt.Connect(cfg, will)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() { log.Info("MQTT reconnected") })
	client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, nil
}

// connectInflux returns a nil client when telemetry is disabled.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client, nil
}

// lastWill builds the retained "offline" health message the broker
// publishes if the connection drops.
func lastWill(bridgeID string) (mqtt.Will, error) {
	payload, err := json.Marshal(dobiss.NewLWTMessage(bridgeID))
	if err != nil {
		return mqtt.Will{}, err
	}
	return mqtt.Will{Topic: dobiss.HealthTopic(), Payload: payload}, nil
}

type healthProbe struct {
	name  string
	check func(context.Context) error
}

// checkHealth returns the first failing probe.
func checkHealth(ctx context.Context, probes []healthProbe) error {
	for _, p := range probes {
		if err := p.check(ctx); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return nil
}

type closer struct {
	name  string
	close func() error
}

// shutdownStack releases components in the reverse of the order they
// were started: API, then the bridge and driver, InfluxDB, MQTT and
// finally the database.
type shutdownStack []closer

func (s *shutdownStack) push(name string, fn func() error) {
	*s = append(*s, closer{name: name, close: fn})
}

func (s *shutdownStack) unwind(log *logging.Logger) {
	for i := len(*s) - 1; i >= 0; i-- {
		c := (*s)[i]
		log.Info("stopping " + c.name)
		if err := c.close(); err != nil {
			log.Error("error stopping "+c.name, "error", err)
		}
	}
	*s = nil
	log.Info("Dobiss bridge stopped")
}
