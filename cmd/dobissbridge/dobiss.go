package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-dobiss/internal/api"
	"github.com/nerrad567/gray-logic-dobiss/internal/audit"
	"github.com/nerrad567/gray-logic-dobiss/internal/bridges/dobiss"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/mqtt"
)

const (
	// snapshotLoadTimeout bounds reading persisted output state at startup.
	snapshotLoadTimeout = 10 * time.Second

	// auditRetention is how long API command entries are kept.
	auditRetention = 90 * 24 * time.Hour
)

// dobissRuntime holds the running bus components so they can be stopped
// in reverse start order.
type dobissRuntime struct {
	bus      dobiss.Bus
	driver   *dobiss.Driver
	bridge   *dobiss.Bridge
	recorder *dobiss.FrameRecorder
	capture  *dobiss.CaptureWriter
}

// startDobiss opens the CAN bus, seeds and starts the driver, then starts
// the MQTT bridge.
//
// Parameters:
//   - ctx: Context for connection/cancellation
//   - cfg: Application configuration
//   - busCfg: Loaded bus configuration (interface, driver settings, outputs)
//   - db: Database holding output snapshots and unhandled frames
//   - mqttClient: MQTT client for publishing/subscribing
//   - influxClient: Telemetry sink (may be nil if disabled)
//   - log: Logger instance
//
// Returns:
//   - *dobissRuntime: Running components; call stop to shut down
//   - error: If any component fails to start
func startDobiss(
	ctx context.Context,
	cfg *config.Config,
	busCfg *dobiss.Config,
	db *database.DB,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (_ *dobissRuntime, err error) {
	rt := &dobissRuntime{}
	defer func() {
		if err != nil {
			rt.stop(log)
		}
	}()

	table, err := busCfg.BuildAddressTable()
	if err != nil {
		return nil, fmt.Errorf("building address table: %w", err)
	}

	busLog := log.Component("dobiss")

	rt.bus, err = dobiss.OpenBus(ctx, busCfg, table, busLog)
	if err != nil {
		return nil, fmt.Errorf("opening CAN bus: %w", err)
	}
	log.Info("CAN bus opened",
		"interface", busCfg.CAN.Interface,
		"channel", busCfg.CAN.Channel,
		"connected", rt.bus.IsConnected(),
	)

	var observers []dobiss.FrameObserver

	if cfg.Protocols.Dobiss.RecordUnhandled {
		rt.recorder = dobiss.NewFrameRecorder(db.DB)
		rt.recorder.SetLogger(busLog)
		if err = rt.recorder.Start(); err != nil {
			return nil, fmt.Errorf("starting frame recorder: %w", err)
		}
		observers = append(observers, rt.recorder)
	}

	if busCfg.Capture.Path != "" {
		rt.capture, err = dobiss.NewCaptureWriter(busCfg.Capture.Path)
		if err != nil {
			return nil, fmt.Errorf("opening capture: %w", err)
		}
		observers = append(observers, rt.capture)
		log.Info("frame capture enabled", "path", busCfg.Capture.Path)
	}

	opts := busCfg.ToDriverOptions()
	opts.Table = table
	opts.Bus = rt.bus
	opts.Logger = busLog
	opts.Observers = observers

	rt.driver, err = dobiss.NewDriver(opts)
	if err != nil {
		return nil, fmt.Errorf("creating driver: %w", err)
	}

	snapshots := dobiss.NewSnapshotRepository(db.DB, table)
	loadCtx, cancel := context.WithTimeout(ctx, snapshotLoadTimeout)
	states, err := snapshots.Load(loadCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("loading output snapshots: %w", err)
	}
	seeded, err := rt.driver.Seed(states)
	if err != nil {
		return nil, fmt.Errorf("seeding driver: %w", err)
	}
	log.Info("output state restored", "seeded", seeded, "outputs", table.Len())

	if err = rt.driver.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting driver: %w", err)
	}

	bridgeOpts := dobiss.BridgeOptions{
		Config:     busCfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Driver:     rt.driver,
		Bus:        rt.bus,
		Version:    version,
		Logger:     busLog,
		Snapshots:  snapshots,
	}
	if influxClient != nil {
		bridgeOpts.Telemetry = dobiss.NewPointTelemetry(influxClient)
	}

	rt.bridge, err = dobiss.NewBridge(bridgeOpts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	if err = rt.bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("Dobiss bridge started", "bridge_id", busCfg.Bridge.ID)

	return rt, nil
}

// stop shuts components down in reverse start order. Nil components are
// skipped, so it is safe on a partially started runtime.
func (rt *dobissRuntime) stop(log *logging.Logger) {
	if rt.bridge != nil {
		log.Info("stopping Dobiss bridge")
		rt.bridge.Stop()
	}
	if rt.driver != nil {
		rt.driver.Stop()
	}
	if rt.recorder != nil {
		rt.recorder.Stop()
	}
	if rt.capture != nil {
		if err := rt.capture.Close(); err != nil {
			log.Error("error closing capture file", "error", err)
		}
	}
	if rt.bus != nil {
		if err := rt.bus.Close(); err != nil {
			log.Error("error closing CAN bus", "error", err)
		}
	}
}

// startAPIServer creates and starts the HTTP API server.
//
// Parameters:
//   - ctx: Context for server lifecycle
//   - cfg: Application configuration
//   - rt: Running bus components
//   - db: Database holding the audit trail
//   - mqttClient: MQTT client feeding the WebSocket hub
//   - log: Logger instance
//
// Returns:
//   - *api.Server: Running API server
//   - error: If server fails to start
func startAPIServer(ctx context.Context, cfg *config.Config, rt *dobissRuntime, db *database.DB, mqttClient *mqtt.Client, log *logging.Logger) (*api.Server, error) {
	auditRepo := audit.NewSQLiteRepository(db.DB)
	if n, err := auditRepo.Prune(ctx, time.Now().Add(-auditRetention)); err != nil {
		log.Warn("failed to prune audit log", "error", err)
	} else if n > 0 {
		log.Info("pruned audit log", "removed", n)
	}

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Driver:   rt.driver,
		MQTT:     mqttClient,
		Bridge:   rt.bridge,
		Audit:    auditRepo,
		Version:  version,
	}
	if rt.recorder != nil {
		deps.Frames = rt.recorder
	}

	server, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		return nil, err
	}

	log.Info("API server started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)
	return server, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - Dobiss bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Ensure mqttBridgeAdapter implements dobiss.MQTTClient.
var _ dobiss.MQTTClient = (*mqttBridgeAdapter)(nil)

// Publish implements dobiss.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements dobiss.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements dobiss.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
