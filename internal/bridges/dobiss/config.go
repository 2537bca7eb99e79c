package dobiss

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported CAN interface types.
const (
	InterfaceSocketCAN = "socketcan"
	InterfaceVirtual   = "virtual"
)

// Config is the root configuration for the Dobiss bridge.
// Loaded from YAML with environment variable overrides.
type Config struct {
	Bridge  BridgeConfig   `yaml:"bridge"`
	CAN     CANSettings    `yaml:"can"`
	Driver  DriverSettings `yaml:"driver"`
	Capture CaptureConfig  `yaml:"capture"`
	Outputs []OutputConfig `yaml:"outputs"`
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance in health reports.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`
}

// CANSettings selects and configures the CAN transport.
type CANSettings struct {
	// Interface is "socketcan" for hardware or "virtual" for a simulated
	// installation. Default: "socketcan".
	Interface string `yaml:"interface"`

	// Channel is the network interface name. Default: "can0".
	Channel string `yaml:"channel"`

	// Bitrate documents the bus speed set on the interface by the OS.
	// Only 125000 is valid for Ambiance Pro.
	Bitrate int `yaml:"bitrate"`

	// Filters drops everything except ACK and STATUS frames on receive.
	// Default: true.
	Filters bool `yaml:"filters"`

	// ConnectTimeout is the maximum time to open the socket (seconds).
	// Default: 10 seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// ReconnectInterval is the initial reconnection delay (seconds).
	// Default: 5 seconds.
	ReconnectInterval int `yaml:"reconnect_interval"`

	// VirtualLatencyMS delays simulated replies (milliseconds).
	VirtualLatencyMS int `yaml:"virtual_latency_ms"`
}

// DriverSettings tunes command retries and polling.
type DriverSettings struct {
	// CommandTimeoutMS is the wait for an ACK before resending.
	// Default: 500.
	CommandTimeoutMS int `yaml:"command_timeout_ms"`

	// MaxAttempts is the number of sends before a command fails.
	// Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// TickIntervalMS is the timeout scan period. Default: 100.
	TickIntervalMS int `yaml:"tick_interval_ms"`

	// PollTimeoutMS is the wait for a STATUS reply. Default: 250.
	PollTimeoutMS int `yaml:"poll_timeout_ms"`

	// PollPacingMS is the quiet time between GET requests. Default: 10.
	PollPacingMS int `yaml:"poll_pacing_ms"`

	// PollInterval is the period of full status sweeps (seconds).
	// Default: 0 (disabled).
	PollInterval int `yaml:"poll_interval"`

	// MailboxSize is the driver event queue capacity. Default: 256.
	MailboxSize int `yaml:"mailbox_size"`
}

// CaptureConfig controls the frame capture file.
type CaptureConfig struct {
	// Path is the CBOR capture file. Empty disables capture.
	Path string `yaml:"path"`
}

// OutputConfig defines one output.
type OutputConfig struct {
	// ID is the Gray Logic device identifier.
	// Default: the unique id, e.g. "dobiss.1.2".
	ID string `yaml:"id"`

	// Name is a display name.
	Name string `yaml:"name"`

	// Module is the module number on the bus (1-255).
	Module int `yaml:"module"`

	// Output is the relay or channel number on the module (0-255).
	Output int `yaml:"output"`

	// Dimmable marks a dimmer channel.
	Dimmable bool `yaml:"dimmable"`
}

// Address returns the configured bus address.
func (o OutputConfig) Address() DeviceAddress {
	return DeviceAddress{Module: uint8(o.Module), Output: uint8(o.Output)}
}

func (o OutputConfig) toOutput() Output {
	addr := o.Address()
	out := Output{
		ID:         o.ID,
		Name:       o.Name,
		Address:    addr,
		Capability: CapabilityOnOff,
	}
	if out.ID == "" {
		out.ID = addr.UniqueID()
	}
	if out.Name == "" {
		out.Name = out.ID
	}
	if o.Dimmable {
		out.Capability = CapabilityDimmable
	}
	return out
}

// LoadConfig reads configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DOBISS_BRIDGE_SECTION_KEY
// For example: DOBISS_BRIDGE_CAN_CHANNEL, DOBISS_BRIDGE_CAPTURE_PATH
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "dobiss-bridge-01",
			HealthInterval: 30,
		},
		CAN: CANSettings{
			Interface:         InterfaceSocketCAN,
			Channel:           DefaultCANChannel,
			Bitrate:           Bitrate,
			Filters:           true,
			ConnectTimeout:    10,
			ReconnectInterval: 5,
		},
		Driver: DriverSettings{
			CommandTimeoutMS: int(DefaultCommandTimeout / time.Millisecond),
			MaxAttempts:      DefaultMaxAttempts,
			TickIntervalMS:   int(DefaultTickInterval / time.Millisecond),
			PollTimeoutMS:    int(DefaultPollTimeout / time.Millisecond),
			PollPacingMS:     int(DefaultPollPacing / time.Millisecond),
			MailboxSize:      defaultMailboxSize,
		},
		Outputs: []OutputConfig{},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOBISS_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("DOBISS_BRIDGE_CAN_INTERFACE"); v != "" {
		cfg.CAN.Interface = v
	}
	if v := os.Getenv("DOBISS_BRIDGE_CAN_CHANNEL"); v != "" {
		cfg.CAN.Channel = v
	}
	if v := os.Getenv("DOBISS_BRIDGE_CAPTURE_PATH"); v != "" {
		cfg.Capture.Path = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateCAN()...)
	errs = append(errs, c.validateDriver()...)
	errs = append(errs, c.validateOutputs()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	return errs
}

func (c *Config) validateCAN() []string {
	var errs []string
	switch c.CAN.Interface {
	case InterfaceSocketCAN, InterfaceVirtual:
	default:
		errs = append(errs, fmt.Sprintf("can.interface %q is invalid (use socketcan or virtual)", c.CAN.Interface))
	}
	if c.CAN.Channel == "" {
		errs = append(errs, "can.channel is required")
	}
	if c.CAN.Bitrate != Bitrate {
		errs = append(errs, fmt.Sprintf("can.bitrate must be %d", Bitrate))
	}
	if c.CAN.ConnectTimeout < 1 {
		errs = append(errs, "can.connect_timeout must be at least 1 second")
	}
	if c.CAN.ReconnectInterval < 1 {
		errs = append(errs, "can.reconnect_interval must be at least 1 second")
	}
	if c.CAN.VirtualLatencyMS < 0 {
		errs = append(errs, "can.virtual_latency_ms must not be negative")
	}
	return errs
}

func (c *Config) validateDriver() []string {
	var errs []string
	d := c.Driver
	if d.CommandTimeoutMS < 10 {
		errs = append(errs, "driver.command_timeout_ms must be at least 10")
	}
	if d.MaxAttempts < 1 {
		errs = append(errs, "driver.max_attempts must be at least 1")
	}
	if d.TickIntervalMS < 1 || d.TickIntervalMS > d.CommandTimeoutMS {
		errs = append(errs, "driver.tick_interval_ms must be between 1 and command_timeout_ms")
	}
	if d.PollTimeoutMS < 10 {
		errs = append(errs, "driver.poll_timeout_ms must be at least 10")
	}
	if d.PollPacingMS < 0 {
		errs = append(errs, "driver.poll_pacing_ms must not be negative")
	}
	if d.PollInterval < 0 {
		errs = append(errs, "driver.poll_interval must not be negative")
	}
	if d.MailboxSize < 1 {
		errs = append(errs, "driver.mailbox_size must be at least 1")
	}
	return errs
}

func (c *Config) validateOutputs() []string {
	var errs []string
	ids := make(map[string]bool)
	addrs := make(map[DeviceAddress]bool)

	for i, o := range c.Outputs {
		if o.Module < 1 || o.Module > 255 {
			errs = append(errs, fmt.Sprintf("outputs[%d].module must be 1-255", i))
			continue
		}
		if o.Output < 0 || o.Output > 255 {
			errs = append(errs, fmt.Sprintf("outputs[%d].output must be 0-255", i))
			continue
		}

		out := o.toOutput()
		if addrs[out.Address] {
			errs = append(errs, fmt.Sprintf("outputs[%d] address %s is duplicate", i, out.Address))
		}
		addrs[out.Address] = true

		if ids[out.ID] {
			errs = append(errs, fmt.Sprintf("outputs[%d].id %q is duplicate", i, out.ID))
		}
		ids[out.ID] = true
	}

	return errs
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// ToSocketCANConfig converts settings for DialSocketCAN.
func (c *Config) ToSocketCANConfig() SocketCANConfig {
	cfg := SocketCANConfig{
		Channel:           c.CAN.Channel,
		ConnectTimeout:    time.Duration(c.CAN.ConnectTimeout) * time.Second,
		ReconnectInterval: time.Duration(c.CAN.ReconnectInterval) * time.Second,
	}
	if c.CAN.Filters {
		cfg.Filters = KernelFilters()
	}
	return cfg
}

// ToDriverOptions converts settings for NewDriver. Table, Bus, Logger and
// Observers are left for the caller.
func (c *Config) ToDriverOptions() DriverOptions {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return DriverOptions{
		CommandTimeout: ms(c.Driver.CommandTimeoutMS),
		MaxAttempts:    c.Driver.MaxAttempts,
		TickInterval:   ms(c.Driver.TickIntervalMS),
		PollTimeout:    ms(c.Driver.PollTimeoutMS),
		PollPacing:     ms(c.Driver.PollPacingMS),
		PollInterval:   time.Duration(c.Driver.PollInterval) * time.Second,
		MailboxSize:    c.Driver.MailboxSize,
	}
}

// VirtualLatency returns the simulated reply delay.
func (c *Config) VirtualLatency() time.Duration {
	return time.Duration(c.CAN.VirtualLatencyMS) * time.Millisecond
}

// BuildAddressTable builds the output table from the configuration.
func (c *Config) BuildAddressTable() (*AddressTable, error) {
	return NewAddressTable(c.Outputs)
}
