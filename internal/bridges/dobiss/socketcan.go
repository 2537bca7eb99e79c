package dobiss

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for the CAN socket.
const (
	// DefaultCANChannel is the default SocketCAN interface.
	DefaultCANChannel = "can0"

	// defaultConnectTimeout is the maximum time to open the socket.
	defaultConnectTimeout = 10 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection attempts.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval is the maximum delay between reconnection attempts.
	maxReconnectInterval = 2 * time.Minute
)

// DialFunc opens a CAN socket on channel.
type DialFunc func(ctx context.Context, channel string) (net.Conn, error)

// dialSocketCAN opens a raw SocketCAN socket.
func dialSocketCAN(ctx context.Context, channel string) (net.Conn, error) {
	return socketcan.DialContext(ctx, "can", channel)
}

// SocketCANConfig holds CAN socket configuration.
type SocketCANConfig struct {
	// Channel is the network interface, e.g. "can0".
	Channel string

	// Filters restricts delivered frames. Empty passes everything.
	Filters []CANFilter

	// ConnectTimeout is the maximum time to open the socket.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration

	// Dial opens the socket. Default: SocketCAN raw socket.
	Dial DialFunc
}

// Ensure SocketCANBus implements Bus.
var _ Bus = (*SocketCANBus)(nil)

// SocketCANBus is a Bus on a Linux SocketCAN interface.
//
// Thread Safety: All methods are safe for concurrent use. The frame
// callback runs on the receive goroutine and must not block.
//
// Auto-Reconnection:
//   - When the socket fails, the bus reports link down and reconnects.
//   - Uses exponential backoff from ReconnectInterval up to 2 minutes.
//   - Reconnection stops only when Close() is called.
type SocketCANBus struct {
	cfg SocketCANConfig

	// Connection state
	connMu    sync.RWMutex
	conn      net.Conn
	tx        *socketcan.Transmitter
	connected bool
	writeMu   sync.Mutex

	// Reconnection state
	reconnecting   atomic.Bool
	reconnectCount atomic.Int32

	// Callbacks
	onFrame    func(can.Frame)
	onLink     func(up bool)
	callbackMu sync.RWMutex

	// Shutdown coordination
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics
	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	framesFiltered  atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64
}

// DialSocketCAN opens the CAN socket and starts the receive loop.
//
// Parameters:
//   - ctx: Context for the initial connection
//   - cfg: Socket configuration
//
// Returns:
//   - *SocketCANBus: Connected bus ready for use
//   - error: Wraps ErrConnectionFailed if the socket cannot be opened
func DialSocketCAN(ctx context.Context, cfg SocketCANConfig) (*SocketCANBus, error) {
	if cfg.Channel == "" {
		cfg.Channel = DefaultCANChannel
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.Dial == nil {
		cfg.Dial = dialSocketCAN
	}

	b := &SocketCANBus{
		cfg:  cfg,
		done: newCloseOnce(),
	}

	conn, err := b.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Channel, err)
	}
	b.attach(conn)

	b.wg.Add(1)
	go b.receiveLoop(conn)

	return b, nil
}

// Send transmits one frame.
func (b *SocketCANBus) Send(ctx context.Context, f can.Frame) error {
	b.connMu.RLock()
	tx := b.tx
	connected := b.connected
	b.connMu.RUnlock()

	if !connected || tx == nil {
		return ErrNotConnected
	}

	b.writeMu.Lock()
	err := tx.TransmitFrame(ctx, f)
	b.writeMu.Unlock()

	if err != nil {
		b.errorsTotal.Add(1)
		return fmt.Errorf("%w: transmit 0x%08X: %w", ErrTransport, f.ID, err)
	}

	b.framesTx.Add(1)
	b.lastActivity.Store(time.Now().Unix())
	return nil
}

// SetOnFrame sets the callback for received frames that pass the filters.
func (b *SocketCANBus) SetOnFrame(callback func(can.Frame)) {
	b.callbackMu.Lock()
	b.onFrame = callback
	b.callbackMu.Unlock()
}

// SetOnLinkChange sets the callback for link state changes.
func (b *SocketCANBus) SetOnLinkChange(callback func(up bool)) {
	b.callbackMu.Lock()
	b.onLink = callback
	b.callbackMu.Unlock()
}

// SetLogger sets the logger for this bus.
func (b *SocketCANBus) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// IsConnected returns true if the socket is open.
func (b *SocketCANBus) IsConnected() bool {
	b.connMu.RLock()
	defer b.connMu.RUnlock()
	return b.connected
}

// Stats returns current operational statistics.
func (b *SocketCANBus) Stats() BusStats {
	return BusStats{
		FramesTx:        b.framesTx.Load(),
		FramesRx:        b.framesRx.Load(),
		FramesFiltered:  b.framesFiltered.Load(),
		ErrorsTotal:     b.errorsTotal.Load(),
		ReconnectsTotal: b.reconnectsTotal.Load(),
		LastActivity:    time.Unix(b.lastActivity.Load(), 0),
		Connected:       b.IsConnected(),
		Reconnecting:    b.reconnecting.Load(),
	}
}

// Channel returns the interface name.
func (b *SocketCANBus) Channel() string {
	return b.cfg.Channel
}

// HealthCheck verifies the socket is open.
func (b *SocketCANBus) HealthCheck(_ context.Context) error {
	if !b.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close stops the receive loop and closes the socket. Safe to call
// multiple times.
func (b *SocketCANBus) Close() error {
	b.done.Close()

	b.connMu.Lock()
	b.connected = false
	conn := b.conn
	b.connMu.Unlock()

	// Closing the socket unblocks the pending read.
	if conn != nil {
		conn.Close()
	}

	b.wg.Wait()
	b.logInfo("CAN socket closed", "channel", b.cfg.Channel)
	return nil
}

func (b *SocketCANBus) dial(ctx context.Context) (net.Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()
	return b.cfg.Dial(ctx, b.cfg.Channel)
}

func (b *SocketCANBus) attach(conn net.Conn) {
	b.connMu.Lock()
	b.conn = conn
	b.tx = socketcan.NewTransmitter(conn)
	b.connected = true
	b.connMu.Unlock()
	b.lastActivity.Store(time.Now().Unix())
}

// receiveLoop reads frames until Close. On a read failure it reports link
// down and reconnects.
func (b *SocketCANBus) receiveLoop(conn net.Conn) {
	defer b.wg.Done()

	for {
		rx := socketcan.NewReceiver(conn)
		for rx.Receive() {
			if rx.HasErrorFrame() {
				b.errorsTotal.Add(1)
				continue
			}
			b.deliver(rx.Frame())
		}

		if b.isClosed() {
			return
		}

		b.logError("CAN receive failed", rx.Err())
		b.errorsTotal.Add(1)
		b.handleDisconnect()

		next, ok := b.reconnect()
		if !ok {
			return
		}
		conn = next
	}
}

// deliver filters a frame and hands it to the callback.
func (b *SocketCANBus) deliver(f can.Frame) {
	b.framesRx.Add(1)
	b.lastActivity.Store(time.Now().Unix())

	if !Accepts(b.cfg.Filters, f) {
		b.framesFiltered.Add(1)
		return
	}

	b.callbackMu.RLock()
	callback := b.onFrame
	b.callbackMu.RUnlock()

	if callback != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logError("frame callback panic", fmt.Errorf("%v", r))
				}
			}()
			callback(f)
		}()
	}
}

// handleDisconnect marks the bus down and notifies the link callback.
func (b *SocketCANBus) handleDisconnect() {
	b.connMu.Lock()
	wasConnected := b.connected
	b.connected = false
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
		b.tx = nil
	}
	b.connMu.Unlock()

	if wasConnected {
		b.logInfo("CAN socket lost, will attempt reconnection", "channel", b.cfg.Channel)
		b.notifyLink(false)
	}
}

// reconnect reopens the socket with exponential backoff. It returns false
// if Close was called.
func (b *SocketCANBus) reconnect() (net.Conn, bool) {
	if !b.reconnecting.CompareAndSwap(false, true) {
		return nil, false
	}
	defer b.reconnecting.Store(false)

	backoff := b.cfg.ReconnectInterval
	for {
		if b.isClosed() {
			return nil, false
		}

		attempt := b.reconnectCount.Add(1)
		b.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		conn, err := b.dial(context.Background())
		if err != nil {
			b.logError("reconnect: dial failed", err)
			b.errorsTotal.Add(1)

			select {
			case <-b.done.Done():
				return nil, false
			case <-time.After(backoff):
			}

			backoff = time.Duration(float64(backoff) * 1.5)
			if backoff > maxReconnectInterval {
				backoff = maxReconnectInterval
			}
			continue
		}

		if b.isClosed() {
			conn.Close()
			return nil, false
		}

		b.attach(conn)
		b.reconnectCount.Store(0)
		b.reconnectsTotal.Add(1)
		b.logInfo("reconnection successful", "total_reconnects", b.reconnectsTotal.Load())
		b.notifyLink(true)
		return conn, true
	}
}

func (b *SocketCANBus) notifyLink(up bool) {
	b.callbackMu.RLock()
	callback := b.onLink
	b.callbackMu.RUnlock()

	if callback != nil {
		callback(up)
	}
}

// isClosed returns true if Close has been called.
func (b *SocketCANBus) isClosed() bool {
	select {
	case <-b.done.Done():
		return true
	default:
		return false
	}
}

// logInfo logs an info message if logger is set.
func (b *SocketCANBus) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *SocketCANBus) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil && !errors.Is(err, net.ErrClosed) {
		logger.Error(msg, "error", err)
	}
}
