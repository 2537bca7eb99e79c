package dobiss

import (
	"context"
	"sync"
	"time"
)

// Handle tracks one SetState request until the module confirms it, it
// times out, or it is superseded.
//
// Thread Safety: All methods are safe for concurrent use.
type Handle struct {
	addr      DeviceAddress
	requested OutputValue
	created   time.Time

	// key is written by the driver loop before the request is accepted.
	key string

	done     chan struct{}
	once     sync.Once
	mu       sync.RWMutex
	state    OutputState
	err      error
	attempts int
	resolved time.Time
}

func newHandle(addr DeviceAddress, requested OutputValue, created time.Time) *Handle {
	return &Handle{
		addr:      addr,
		requested: requested,
		created:   created,
		done:      make(chan struct{}),
	}
}

// Key returns the correlation key of the underlying transaction.
func (h *Handle) Key() string { return h.key }

// Address returns the target output.
func (h *Handle) Address() DeviceAddress { return h.addr }

// Requested returns the value that was sent.
func (h *Handle) Requested() OutputValue { return h.requested }

// Done is closed once the request is resolved.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the outcome: nil if confirmed, or one of ErrCommandTimeout,
// ErrTransport, ErrSuperseded or ErrNotRunning. It returns nil while the
// request is still pending.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Attempts returns how many times the command was sent.
func (h *Handle) Attempts() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.attempts
}

// Latency returns the time from request to resolution, or zero while
// pending.
func (h *Handle) Latency() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.resolved.IsZero() {
		return 0
	}
	return h.resolved.Sub(h.created)
}

// Wait blocks until the request is resolved or ctx ends. On success it
// returns the confirmed state; on failure the state is what the output
// was reverted to.
func (h *Handle) Wait(ctx context.Context) (OutputState, error) {
	select {
	case <-h.done:
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.state, h.err
	case <-ctx.Done():
		return OutputState{}, ctx.Err()
	}
}

// resolve records the outcome. Only the first call has an effect.
func (h *Handle) resolve(state OutputState, err error, attempts int, at time.Time) {
	h.once.Do(func() {
		h.mu.Lock()
		h.state = state
		h.err = err
		h.attempts = attempts
		h.resolved = at
		h.mu.Unlock()
		close(h.done)
	})
}
