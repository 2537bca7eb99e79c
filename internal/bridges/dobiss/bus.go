package dobiss

import (
	"context"
	"fmt"
	"time"

	"go.einride.tech/can"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Bus is a CAN transport. SocketCANBus drives real hardware and
// VirtualBus simulates an installation in memory.
type Bus interface {
	// Send transmits one frame. Errors wrap ErrTransport or ErrNotConnected.
	Send(ctx context.Context, f can.Frame) error

	// SetOnFrame sets the callback for received frames. The callback
	// must not block.
	SetOnFrame(callback func(can.Frame))

	// SetOnLinkChange sets the callback invoked when the bus goes down or
	// comes back.
	SetOnLinkChange(callback func(up bool))

	IsConnected() bool
	Stats() BusStats
	Close() error
}

// BusStats holds transport statistics.
type BusStats struct {
	FramesTx        uint64
	FramesRx        uint64
	FramesFiltered  uint64 // Received frames rejected by the receive filters
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool
}

// Direction tells whether a frame was received or sent.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Disposition records what the driver did with a frame.
type Disposition string

const (
	DispositionHandled      Disposition = "handled"
	DispositionUnknown      Disposition = "unknown"
	DispositionUnconfigured Disposition = "unconfigured"
	DispositionStray        Disposition = "stray"
	DispositionForeign      Disposition = "foreign"
	DispositionSent         Disposition = "sent"
	DispositionSendFailed   Disposition = "send_failed"
)

// FrameEvent describes one frame seen or sent by the driver.
type FrameEvent struct {
	Time        time.Time
	Direction   Direction
	Frame       can.Frame
	Message     Message
	Disposition Disposition

	// Detail explains unknown, unconfigured and stray frames.
	Detail string
}

// FrameObserver receives every FrameEvent. It is called on the driver loop
// and must return quickly.
type FrameObserver interface {
	ObserveFrame(ev FrameEvent)
}

// FrameObserverFunc adapts a function to FrameObserver.
type FrameObserverFunc func(ev FrameEvent)

// ObserveFrame calls f(ev).
func (f FrameObserverFunc) ObserveFrame(ev FrameEvent) { f(ev) }

// OpenBus opens the transport selected by cfg.CAN.Interface. The virtual
// bus simulates every output in table.
func OpenBus(ctx context.Context, cfg *Config, table *AddressTable, logger Logger) (Bus, error) {
	switch cfg.CAN.Interface {
	case InterfaceVirtual:
		return NewVirtualBus(table.Entries(), cfg.VirtualLatency()), nil
	case InterfaceSocketCAN:
		bus, err := DialSocketCAN(ctx, cfg.ToSocketCANConfig())
		if err != nil {
			return nil, err
		}
		if logger != nil {
			bus.SetLogger(logger)
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unsupported CAN interface %q", cfg.CAN.Interface)
	}
}
