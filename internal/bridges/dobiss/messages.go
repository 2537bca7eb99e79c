package dobiss

import (
	"encoding/json"
	"fmt"
	"time"
)

// Protocol names this bridge in topics and payloads.
const Protocol = "dobiss"

// CommandMessage asks the bridge to change one output. It arrives on
// CommandTopic(address); an empty DeviceID falls back to that address.
type CommandMessage struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"` // on, off, toggle or dim
	Source    string    `json:"source"`
	UserID    string    `json:"user_id,omitempty"`

	// Parameters holds "level" (0-100) for dim.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// AckStatus is how far a command got.
type AckStatus string

const (
	AckAccepted  AckStatus = "accepted"  // frame queued, no answer awaited
	AckConfirmed AckStatus = "confirmed" // module echoed the new value
	AckFailed    AckStatus = "failed"
	AckTimeout   AckStatus = "timeout" // no answer after every resend
)

// AckMessage reports the outcome of a CommandMessage on AckTopic.
// State is set only when Status is AckConfirmed, Error only for failures.
type AckMessage struct {
	CommandID string         `json:"command_id"`
	Timestamp time.Time      `json:"timestamp"`
	DeviceID  string         `json:"device_id"`
	Status    AckStatus      `json:"status"`
	Protocol  string         `json:"protocol"`
	Address   string         `json:"address"`
	State     map[string]any `json:"state,omitempty"`
	Error     *AckError      `json:"error,omitempty"`
}

// AckError explains a failed command. Retries counts resends, not the
// first attempt.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retries int    `json:"retries,omitempty"`
}

// Failure codes carried in AckError and ResponseError.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is the retained snapshot of one output on StateTopic.
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"` // see StateMap
	Protocol  string         `json:"protocol"`
	Address   string         `json:"address"`
}

// HealthStatus is the bridge status published on HealthTopic.
type HealthStatus string

const (
	HealthStarting  HealthStatus = "starting"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStopping  HealthStatus = "stopping"
	HealthOffline   HealthStatus = "offline" // Last Will only
)

// HealthMessage is retained on HealthTopic.
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Reason         string            `json:"reason,omitempty"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	DevicesManaged int               `json:"devices_managed"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
}

// ConnectionStatus describes the CAN link. Address is the channel name
// and Status one of connected, reconnecting or disconnected.
type ConnectionStatus struct {
	Status       string     `json:"status"`
	Address      string     `json:"address"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics are cumulative since the bridge started.
type BridgeStatistics struct {
	MessagesReceived  uint64 `json:"messages_received"`
	MessagesSent      uint64 `json:"messages_sent"`
	Errors            uint64 `json:"errors"`
	CommandsConfirmed uint64 `json:"commands_confirmed"`
	CommandsTimedOut  uint64 `json:"commands_timed_out"`
	UnknownFrames     uint64 `json:"unknown_frames"`
	PendingCommands   int    `json:"pending_commands"`
}

// RequestMessage is a query on RequestTopic. Action is read_state (needs
// DeviceID), read_all or snapshot.
type RequestMessage struct {
	RequestID  string         `json:"request_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"`
	DeviceID   string         `json:"device_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage answers a RequestMessage on ResponseTopic.
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

type ResponseError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// UnmarshalJSON accepts a missing timestamp, leaving it zero.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type plain CommandMessage
	var raw struct {
		plain
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	*m = CommandMessage(raw.plain)
	if raw.Timestamp == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, raw.Timestamp)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	m.Timestamp = ts
	return nil
}

func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		DeviceID:  cmd.DeviceID,
		Address:   address,
		Protocol:  Protocol,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// NewAckError builds a failed acknowledgment. ErrCodeTimeout maps to
// AckTimeout, every other code to AckFailed.
func NewAckError(cmd CommandMessage, address, code, message string, retries int) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status, address)
	ack.Error = &AckError{Code: code, Message: message, Retries: retries}
	return ack
}

func NewStateMessage(deviceID string, st OutputState) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: st.LastUpdated.UTC(),
		State:     StateMap(st),
		Protocol:  Protocol,
		Address:   st.Address.String(),
	}
}

// StateMap is the "state" object shared by StateMessage, confirmed acks
// and the API: on and confidence always, level for dimmers only.
func StateMap(st OutputState) map[string]any {
	m := map[string]any{
		"on":         st.On,
		"confidence": string(st.Confidence),
	}
	if st.Dimmable {
		m["level"] = int(st.Level)
	}
	return m
}

// NewHealthMessage folds bus and driver counters into a health report.
func NewHealthMessage(bridgeID, version string, status HealthStatus, bus BusStats, drv DriverStats, deviceCount int, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: deviceCount,
		Connection:     linkStatus(bus),
		Statistics:     bridgeStatistics(bus, drv),
	}
}

func linkStatus(bus BusStats) *ConnectionStatus {
	conn := &ConnectionStatus{Status: "disconnected"}
	if bus.Connected {
		conn.Status = "connected"
	} else if bus.Reconnecting {
		conn.Status = "reconnecting"
	}
	if bus.LastActivity.Unix() > 0 {
		last := bus.LastActivity.UTC()
		conn.LastActivity = &last
	}
	return conn
}

func bridgeStatistics(bus BusStats, drv DriverStats) *BridgeStatistics {
	return &BridgeStatistics{
		MessagesReceived:  bus.FramesRx,
		MessagesSent:      bus.FramesTx,
		Errors:            bus.ErrorsTotal + drv.CommandsFailed,
		CommandsConfirmed: drv.CommandsConfirmed,
		CommandsTimedOut:  drv.CommandsTimedOut,
		UnknownFrames:     drv.FramesUnknown + drv.FramesUnconfigured,
		PendingCommands:   drv.Pending,
	}
}

// NewLWTMessage is the offline report registered as the MQTT Last Will.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}
