package dobiss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Bridge operation constants.
const (
	// topicParts is the number of parts in a command or request topic:
	// graylogic/{type}/dobiss/{address|request_id}.
	topicParts = 4

	// enqueueTimeout bounds how long a command may wait for the driver
	// mailbox.
	enqueueTimeout = 5 * time.Second

	// persistTimeout bounds one snapshot write.
	persistTimeout = 2 * time.Second
)

// Bridge translates between Gray Logic MQTT messages and the Driver:
//   - Commands from Core become SetState calls, acknowledged twice
//     (accepted on send, confirmed or timeout on resolution)
//   - State changes from the Driver are published as retained state messages
//     and persisted to the snapshot store
//   - Requests trigger status polls or return the current snapshot
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       *Config
	mqtt      MQTTClient
	driver    Controller
	health    *HealthReporter
	snapshots SnapshotStore
	telemetry Telemetry

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// Controller is the driver surface used by the bridge and the API.
// *Driver implements it.
type Controller interface {
	SetState(ctx context.Context, addr DeviceAddress, on bool, level uint8) (*Handle, error)
	Refresh(ctx context.Context, addr DeviceAddress) error
	RefreshAll(ctx context.Context) error
	State(addr DeviceAddress) (OutputState, error)
	Snapshot() map[DeviceAddress]OutputState
	Notifications() <-chan StateChange
	Table() *AddressTable
	Stats() DriverStats
}

// Ensure Driver implements Controller.
var _ Controller = (*Driver)(nil)

// SnapshotStore persists the latest state of each output. It is optional.
type SnapshotStore interface {
	SaveState(ctx context.Context, deviceID string, st OutputState) error
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	Config     *Config
	MQTTClient MQTTClient
	Driver     Controller

	// Bus is used for health reporting.
	Bus Bus

	// Version is reported in health messages.
	Version string

	Logger Logger

	// Snapshots is an optional state persistence store.
	Snapshots SnapshotStore

	// Telemetry is an optional metrics sink.
	Telemetry Telemetry
}

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Driver == nil {
		return nil, fmt.Errorf("driver is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       opts.Config,
		mqtt:      opts.MQTTClient,
		driver:    opts.Driver,
		snapshots: opts.Snapshots,
		telemetry: opts.Telemetry,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:    opts.Config.Bridge.ID,
		Version:     opts.Version,
		Channel:     opts.Config.CAN.Channel,
		Interval:    opts.Config.GetHealthInterval(),
		Publisher:   opts.MQTTClient,
		Bus:         opts.Bus,
		Driver:      opts.Driver,
		Telemetry:   opts.Telemetry,
		DeviceCount: opts.Driver.Table().Len(),
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to command and request topics, starts forwarding state
// changes and begins health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.publishKnownStates()

	b.wg.Add(1)
	go b.forwardStateChanges()

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"outputs", b.driver.Table().Len())

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// handleMQTTMessage routes incoming MQTT messages to the appropriate handler.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(parts[3], payload)
	case "request":
		b.handleRequest(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(topicAddress string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	ref := cmd.DeviceID
	if ref == "" {
		ref = topicAddress
	}
	out, err := b.driver.Table().Lookup(ref)
	if err != nil {
		b.publishAckError(cmd, topicAddress, ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", ref), 0)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = out.ID
	}
	address := out.Address.String()

	on, level, err := b.translateCommand(cmd, out)
	if err != nil {
		code := ErrCodeInvalidParameters
		if errors.Is(err, errUnknownCommand) {
			code = ErrCodeInvalidCommand
		}
		b.publishAckError(cmd, address, code, err.Error(), 0)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, enqueueTimeout)
	defer cancel()

	h, err := b.driver.SetState(ctx, out.Address, on, level)
	if err != nil {
		b.publishAckError(cmd, address, errorCode(err), err.Error(), 0)
		b.recordCommand(address, AckFailed, 0, 0)
		return
	}

	b.publishAck(NewAckMessage(cmd, AckAccepted, address))

	b.wg.Add(1)
	go b.awaitResult(cmd, address, h)
}

var errUnknownCommand = errors.New("unknown command")

// translateCommand maps a command to the on/level pair for SetState.
func (b *Bridge) translateCommand(cmd CommandMessage, out Output) (bool, uint8, error) {
	switch cmd.Command {
	case "on":
		level, _, err := levelParam(cmd.Parameters)
		return true, level, err
	case "off":
		return false, 0, nil
	case "toggle":
		current, err := b.driver.State(out.Address)
		if err != nil {
			return false, 0, err
		}
		return !current.On, current.Level, nil
	case "dim":
		level, ok, err := levelParam(cmd.Parameters)
		if err != nil {
			return false, 0, err
		}
		if !ok {
			return false, 0, fmt.Errorf("missing 'level' parameter")
		}
		if !out.Dimmable() {
			return false, 0, fmt.Errorf("output %s is not dimmable", out.Address)
		}
		return level > 0, level, nil
	default:
		return false, 0, fmt.Errorf("%w: %s", errUnknownCommand, cmd.Command)
	}
}

// levelParam reads an optional 0-100 "level" parameter.
func levelParam(params map[string]any) (uint8, bool, error) {
	raw, ok := params["level"]
	if !ok {
		return 0, false, nil
	}
	level, ok := raw.(float64)
	if !ok {
		return 0, false, fmt.Errorf("'level' must be a number")
	}
	if level < 0 || level > MaxLevel {
		return 0, false, fmt.Errorf("'level' must be 0-100, got %.2f", level)
	}
	return uint8(level), true, nil
}

// awaitResult publishes the final acknowledgment once the driver resolves
// the command.
func (b *Bridge) awaitResult(cmd CommandMessage, address string, h *Handle) {
	defer b.wg.Done()

	select {
	case <-b.done:
		return
	case <-h.Done():
	}

	state, err := h.Wait(b.ctx)
	switch {
	case err == nil:
		ack := NewAckMessage(cmd, AckConfirmed, address)
		ack.State = StateMap(state)
		b.publishAck(ack)
		b.recordCommand(address, AckConfirmed, h.Attempts(), h.Latency())
	case errors.Is(err, ErrSuperseded):
		b.logDebug("command superseded", "command_id", cmd.ID, "address", address)
	case errors.Is(err, ErrCommandTimeout):
		b.publishAckError(cmd, address, ErrCodeTimeout, err.Error(), h.Attempts()-1)
		b.recordCommand(address, AckTimeout, h.Attempts(), h.Latency())
	default:
		b.publishAckError(cmd, address, errorCode(err), err.Error(), h.Attempts()-1)
		b.recordCommand(address, AckFailed, h.Attempts(), h.Latency())
	}
}

// errorCode maps driver errors to bridge error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownDevice):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrInvalidLevel):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrTransport), errors.Is(err, ErrNotConnected):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrCommandTimeout):
		return ErrCodeTimeout
	default:
		return ErrCodeBridgeError
	}
}

// handleRequest processes a request message from Core.
func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage

	switch req.Action {
	case "read_state":
		resp = b.handleReadState(req)
	case "read_all":
		resp = b.handleReadAll(req)
	case "snapshot":
		resp = b.handleSnapshot(req)
	default:
		resp = failedResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}

	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

// handleReadState queues a status poll for one output.
func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return failedResponse(req, ErrCodeInvalidParameters, "device_id is required")
	}

	out, err := b.driver.Table().Lookup(req.DeviceID)
	if err != nil {
		return failedResponse(req, ErrCodeNotConfigured, fmt.Sprintf("device %s not configured", req.DeviceID))
	}

	ctx, cancel := context.WithTimeout(b.ctx, enqueueTimeout)
	defer cancel()

	if err := b.driver.Refresh(ctx, out.Address); err != nil {
		return failedResponse(req, errorCode(err), err.Error())
	}

	current, _ := b.driver.State(out.Address)
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"message": "status request queued, state updates will follow",
			"state":   StateMap(current),
		},
	}
}

// handleReadAll queues a status poll for every output.
func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	ctx, cancel := context.WithTimeout(b.ctx, enqueueTimeout)
	defer cancel()

	if err := b.driver.RefreshAll(ctx); err != nil {
		return failedResponse(req, errorCode(err), err.Error())
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"message": "status requests queued, state updates will follow",
			"outputs": b.driver.Table().Len(),
		},
	}
}

// handleSnapshot returns the modelled state of every output.
func (b *Bridge) handleSnapshot(req RequestMessage) ResponseMessage {
	snap := b.driver.Snapshot()
	outputs := make([]map[string]any, 0, len(snap))
	for _, out := range b.driver.Table().Entries() {
		st := snap[out.Address]
		outputs = append(outputs, map[string]any{
			"device_id": out.ID,
			"name":      out.Name,
			"address":   out.Address.String(),
			"state":     StateMap(st),
			"known":     st.Known(),
		})
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      map[string]any{"outputs": outputs},
	}
}

func failedResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error: &ResponseError{
			Code:    code,
			Message: message,
		},
	}
}

// forwardStateChanges publishes and persists every driver notification
// until Stop.
func (b *Bridge) forwardStateChanges() {
	defer b.wg.Done()

	notifications := b.driver.Notifications()
	for {
		select {
		case <-b.done:
			return
		case change := <-notifications:
			b.handleStateChange(change)
		}
	}
}

func (b *Bridge) handleStateChange(change StateChange) {
	out, err := b.driver.Table().Resolve(change.Address)
	if err != nil {
		b.logError("state change for unknown output", err)
		return
	}

	b.logDebug("output changed",
		"device_id", out.ID,
		"address", change.Address.String(),
		"on", change.Current.On,
		"level", change.Current.Level,
		"confidence", change.Current.Confidence)

	b.publishState(out.ID, change.Current)

	if b.snapshots != nil {
		ctx, cancel := context.WithTimeout(b.ctx, persistTimeout)
		defer cancel()
		if err := b.snapshots.SaveState(ctx, out.ID, change.Current); err != nil {
			b.logError("failed to persist output state", err)
		}
	}
}

// publishKnownStates publishes every output with a known value, so Core
// sees seeded state without waiting for a change.
func (b *Bridge) publishKnownStates() {
	snap := b.driver.Snapshot()
	for _, out := range b.driver.Table().Entries() {
		if st := snap[out.Address]; st.Known() {
			b.publishState(out.ID, st)
		}
	}
}

func (b *Bridge) publishState(deviceID string, st OutputState) {
	payload, err := json.Marshal(NewStateMessage(deviceID, st))
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(st.Address.String()), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.Address), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string, retries int) {
	b.publishAck(NewAckError(cmd, address, code, message, retries))
}

func (b *Bridge) recordCommand(address string, status AckStatus, attempts int, latency time.Duration) {
	if b.telemetry != nil {
		b.telemetry.RecordCommand(address, status, attempts, latency)
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Connected         bool
	Status            string
	FramesTx          uint64
	FramesRx          uint64
	DevicesManaged    int
	PendingCommands   int
	CommandsConfirmed uint64
	CommandsTimedOut  uint64
}

// GetMetrics returns current bridge metrics for the API metrics endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	bus := b.health.busStats()
	drv := b.driver.Stats()

	status := "disconnected"
	if bus.Connected && drv.LinkUp {
		status = "healthy"
	} else if bus.Connected {
		status = "recovering"
	}

	return BridgeMetrics{
		Connected:         bus.Connected,
		Status:            status,
		FramesTx:          bus.FramesTx,
		FramesRx:          bus.FramesRx,
		DevicesManaged:    b.driver.Table().Len(),
		PendingCommands:   drv.Pending,
		CommandsConfirmed: drv.CommandsConfirmed,
		CommandsTimedOut:  drv.CommandsTimedOut,
	}
}
