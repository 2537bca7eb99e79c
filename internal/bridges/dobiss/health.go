package dobiss

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher publishes the retained health message. *mqtt.Client
// implements it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// DriverStatsProvider supplies driver counters. *Driver implements it.
type DriverStatsProvider interface {
	Stats() DriverStats
}

// Telemetry records command outcomes and bus counters to a time-series
// store. It is optional.
type Telemetry interface {
	RecordCommand(address string, status AckStatus, attempts int, latency time.Duration)
	RecordBusStats(bridgeID string, bus BusStats, drv DriverStats)
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string
	Channel  string        // CAN interface name, reported as the connection address
	Interval time.Duration // default 30s

	Publisher   HealthPublisher
	Bus         Bus
	Driver      DriverStatsProvider
	Telemetry   Telemetry
	DeviceCount int
}

// HealthReporter publishes the bridge's retained health message on a
// timer and, when Telemetry is set, records bus counters with it.
//
// Status is derived from the links the bridge depends on:
//
//	CAN bus closed                     unhealthy
//	MQTT down, or CAN link recovering  degraded
//	commands timing out, none confirmed since the last report  degraded
//	otherwise                          healthy
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	mu         sync.Mutex
	lastDrv    DriverStats
	lastStatus HealthStatus
	logger     Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for publish failures and status changes.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

// Start reports once immediately, then every interval until ctx ends or
// Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.cfg.Interval)
		defer ticker.Stop()

		for {
			h.report()
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the loop and publishes a final "stopping" status. It is safe
// to call more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		_ = h.publish(HealthStopping, "") //nolint:errcheck // shutting down
	})
}

// PublishStarting publishes the "starting" status sent before the driver
// has polled the bus.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow evaluates and publishes the current status.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.evaluate()
	return h.publish(status, reason)
}

// GetLWTPayload returns the "offline" message registered as MQTT Last Will.
func (h *HealthReporter) GetLWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(h.cfg.BridgeID))
}

func (h *HealthReporter) report() {
	if err := h.PublishNow(); err != nil {
		if logger := h.getLogger(); logger != nil {
			logger.Error("failed to publish health", "error", err)
		}
	}
	if h.cfg.Telemetry != nil {
		h.cfg.Telemetry.RecordBusStats(h.cfg.BridgeID, h.busStats(), h.driverStats())
	}
}

// evaluate derives the status and records it as the baseline for the next
// evaluation.
func (h *HealthReporter) evaluate() (HealthStatus, string) {
	drv := h.driverStats()

	h.mu.Lock()
	prev := h.lastDrv
	h.lastDrv = drv
	h.mu.Unlock()

	status, reason := HealthHealthy, ""
	switch {
	case h.cfg.Bus == nil || !h.cfg.Bus.IsConnected():
		status, reason = HealthUnhealthy, "CAN bus disconnected"
	case h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected():
		status, reason = HealthDegraded, "MQTT disconnected"
	case h.cfg.Driver != nil && !drv.LinkUp:
		status, reason = HealthDegraded, "CAN bus recovering"
	case drv.CommandsTimedOut > prev.CommandsTimedOut && drv.CommandsConfirmed == prev.CommandsConfirmed:
		status, reason = HealthDegraded, "modules not acknowledging"
	}

	h.noteStatus(status, reason)
	return status, reason
}

// noteStatus logs transitions between evaluated statuses.
func (h *HealthReporter) noteStatus(status HealthStatus, reason string) {
	h.mu.Lock()
	prev := h.lastStatus
	h.lastStatus = status
	logger := h.logger
	h.mu.Unlock()

	if logger == nil || prev == status || prev == "" && status == HealthHealthy {
		return
	}
	if status == HealthHealthy {
		logger.Info("bridge health recovered", "from", string(prev))
		return
	}
	logger.Warn("bridge health changed", "from", string(prev), "to", string(status), "reason", reason)
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	msg := NewHealthMessage(h.cfg.BridgeID, h.cfg.Version, status,
		h.busStats(), h.driverStats(), h.cfg.DeviceCount, h.startTime)
	msg.Reason = reason
	if msg.Connection != nil {
		msg.Connection.Address = h.cfg.Channel
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) busStats() BusStats {
	if h.cfg.Bus == nil {
		return BusStats{}
	}
	return h.cfg.Bus.Stats()
}

func (h *HealthReporter) driverStats() DriverStats {
	if h.cfg.Driver == nil {
		return DriverStats{}
	}
	return h.cfg.Driver.Stats()
}

func (h *HealthReporter) getLogger() Logger {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logger
}
