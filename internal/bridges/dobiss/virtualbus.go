package dobiss

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.einride.tech/can"
)

// Ensure VirtualBus implements Bus.
var _ Bus = (*VirtualBus)(nil)

// VirtualBus simulates an Ambiance Pro installation in memory. Modules
// answer SET with an ACK and GET with a STATUS reply, like the real
// hardware. It backs development mode and tests.
type VirtualBus struct {
	mu        sync.Mutex
	outputs   map[DeviceAddress]OutputValue
	dimmable  map[DeviceAddress]bool
	muted     map[DeviceAddress]bool
	connected bool
	latency   time.Duration
	sent      []can.Frame

	onFrame    func(can.Frame)
	onLink     func(up bool)
	callbackMu sync.RWMutex

	framesTx     atomic.Uint64
	framesRx     atomic.Uint64
	lastActivity atomic.Int64
}

// NewVirtualBus creates a simulated bus with one module output per entry,
// all off. Replies are delivered after latency (zero delivers them
// synchronously from Send).
func NewVirtualBus(outputs []Output, latency time.Duration) *VirtualBus {
	v := &VirtualBus{
		outputs:   make(map[DeviceAddress]OutputValue, len(outputs)),
		dimmable:  make(map[DeviceAddress]bool, len(outputs)),
		muted:     make(map[DeviceAddress]bool),
		connected: true,
		latency:   latency,
	}
	for _, out := range outputs {
		v.outputs[out.Address] = 0
		v.dimmable[out.Address] = out.Dimmable()
	}
	return v
}

// Send accepts a frame as if written to the bus and lets the simulated
// modules react to it.
func (v *VirtualBus) Send(ctx context.Context, f can.Frame) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	v.mu.Lock()
	if !v.connected {
		v.mu.Unlock()
		return ErrNotConnected
	}
	v.sent = append(v.sent, f)
	reply, ok := v.react(Decode(f))
	v.mu.Unlock()

	v.framesTx.Add(1)
	v.lastActivity.Store(time.Now().Unix())

	if ok {
		v.emit(reply)
	}
	return nil
}

// react applies a frame to the simulated modules. Caller holds mu.
func (v *VirtualBus) react(msg Message) (can.Frame, bool) {
	switch m := msg.(type) {
	case SetOutputCommand:
		addr := DeviceAddress{Module: m.Module, Output: m.Output}
		if _, ok := v.outputs[addr]; !ok || v.muted[addr] {
			return can.Frame{}, false
		}
		value := m.Value
		if !v.dimmable[addr] {
			value = Switch(value.On())
		}
		v.outputs[addr] = value
		return Encode(Acknowledgment{Module: m.Module, Output: m.Output, Value: value}), true

	case StatusRequest:
		addr := DeviceAddress{Module: m.Module, Output: m.Output}
		value, ok := v.outputs[addr]
		if !ok || v.muted[addr] {
			return can.Frame{}, false
		}
		return Encode(OutputStatusReport{Value: value}), true
	}
	return can.Frame{}, false
}

// Press simulates a wall switch: the output toggles and the module
// announces the new value with an unsolicited ACK.
func (v *VirtualBus) Press(addr DeviceAddress) error {
	v.mu.Lock()
	value, ok := v.outputs[addr]
	if !ok {
		v.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}
	switch {
	case value.On():
		value = 0
	case v.dimmable[addr]:
		value = Dim(MaxLevel)
	default:
		value = Switch(true)
	}
	v.outputs[addr] = value
	v.mu.Unlock()

	v.emit(Encode(Acknowledgment{Module: addr.Module, Output: addr.Output, Value: value}))
	return nil
}

// Inject delivers an arbitrary frame to the receiver.
func (v *VirtualBus) Inject(f can.Frame) {
	v.emit(f)
}

// SetMuted makes an output ignore all requests.
func (v *VirtualBus) SetMuted(addr DeviceAddress, muted bool) {
	v.mu.Lock()
	v.muted[addr] = muted
	v.mu.Unlock()
}

// SetConnected simulates the interface going down or coming back.
func (v *VirtualBus) SetConnected(up bool) {
	v.mu.Lock()
	changed := v.connected != up
	v.connected = up
	v.mu.Unlock()

	if !changed {
		return
	}
	v.callbackMu.RLock()
	callback := v.onLink
	v.callbackMu.RUnlock()
	if callback != nil {
		callback(up)
	}
}

// Value returns the simulated value of an output.
func (v *VirtualBus) Value(addr DeviceAddress) (OutputValue, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	value, ok := v.outputs[addr]
	return value, ok
}

// Sent returns a copy of every frame written to the bus.
func (v *VirtualBus) Sent() []can.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]can.Frame, len(v.sent))
	copy(out, v.sent)
	return out
}

// SetOnFrame sets the callback for frames produced by the simulation.
func (v *VirtualBus) SetOnFrame(callback func(can.Frame)) {
	v.callbackMu.Lock()
	v.onFrame = callback
	v.callbackMu.Unlock()
}

// SetOnLinkChange sets the callback for link state changes.
func (v *VirtualBus) SetOnLinkChange(callback func(up bool)) {
	v.callbackMu.Lock()
	v.onLink = callback
	v.callbackMu.Unlock()
}

// IsConnected reports the simulated link state.
func (v *VirtualBus) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

// Stats returns transport statistics.
func (v *VirtualBus) Stats() BusStats {
	return BusStats{
		FramesTx:     v.framesTx.Load(),
		FramesRx:     v.framesRx.Load(),
		LastActivity: time.Unix(v.lastActivity.Load(), 0),
		Connected:    v.IsConnected(),
	}
}

// Close marks the bus disconnected without notifying.
func (v *VirtualBus) Close() error {
	v.mu.Lock()
	v.connected = false
	v.mu.Unlock()
	return nil
}

func (v *VirtualBus) emit(f can.Frame) {
	deliver := func() {
		v.callbackMu.RLock()
		callback := v.onFrame
		v.callbackMu.RUnlock()
		if callback == nil {
			return
		}
		v.framesRx.Add(1)
		callback(f)
	}

	if v.latency > 0 {
		time.AfterFunc(v.latency, deliver)
		return
	}
	deliver()
}
