package dobiss

import (
	"time"

	"github.com/google/uuid"
)

// Default retry policy for unacknowledged commands.
const (
	// DefaultCommandTimeout is how long to wait for an ACK before resending.
	DefaultCommandTimeout = 500 * time.Millisecond

	// DefaultMaxAttempts is the number of sends before a command fails.
	DefaultMaxAttempts = 3
)

// PendingTransaction is a command that has been sent but not yet
// acknowledged with the requested value.
type PendingTransaction struct {
	// Key correlates the transaction with its Handle.
	Key string

	Address   DeviceAddress
	Requested OutputValue

	// SentAt is the time of the latest send.
	SentAt time.Time

	// Attempts counts sends, including the first.
	Attempts int
}

// Tracker correlates outgoing commands with incoming acknowledgments and
// decides when to resend or give up. It holds at most one transaction per
// address; a new command for the same address supersedes the old one.
//
// Tracker does no I/O and reads no clock: callers pass the current time.
// It is owned by the Driver loop and is not safe for concurrent use.
type Tracker struct {
	pending     map[DeviceAddress]*PendingTransaction
	timeout     time.Duration
	maxAttempts int
}

// NewTracker creates a tracker. Zero values select the defaults.
func NewTracker(timeout time.Duration, maxAttempts int) *Tracker {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Tracker{
		pending:     make(map[DeviceAddress]*PendingTransaction),
		timeout:     timeout,
		maxAttempts: maxAttempts,
	}
}

// Begin registers a command that is about to be sent. Any transaction
// already pending for addr is removed and returned as superseded.
func (t *Tracker) Begin(addr DeviceAddress, requested OutputValue, now time.Time) (string, *PendingTransaction) {
	superseded := t.pending[addr]

	tx := &PendingTransaction{
		Key:       uuid.NewString(),
		Address:   addr,
		Requested: requested,
		SentAt:    now,
		Attempts:  1,
	}
	t.pending[addr] = tx

	return tx.Key, superseded
}

// Resolve matches an observed value against the pending transaction for
// addr. When the value equals the requested one the transaction is removed
// and returned with matched set. A mismatching value leaves the
// transaction pending.
func (t *Tracker) Resolve(addr DeviceAddress, observed OutputValue) (*PendingTransaction, bool) {
	tx, ok := t.pending[addr]
	if !ok {
		return nil, false
	}
	if tx.Requested != observed {
		return tx, false
	}
	delete(t.pending, addr)
	return tx, true
}

// Tick advances timeouts. Transactions whose send is older than the
// timeout are either due for another attempt (returned in retries, with
// Attempts and SentAt already updated) or exhausted (removed and returned
// in failed).
func (t *Tracker) Tick(now time.Time) (retries, failed []*PendingTransaction) {
	for addr, tx := range t.pending {
		if now.Before(tx.SentAt.Add(t.timeout)) {
			continue
		}
		if tx.Attempts < t.maxAttempts {
			tx.Attempts++
			tx.SentAt = now
			retries = append(retries, tx)
			continue
		}
		delete(t.pending, addr)
		failed = append(failed, tx)
	}
	return retries, failed
}

// FailAll removes and returns every pending transaction.
func (t *Tracker) FailAll() []*PendingTransaction {
	all := make([]*PendingTransaction, 0, len(t.pending))
	for addr, tx := range t.pending {
		all = append(all, tx)
		delete(t.pending, addr)
	}
	return all
}

// Pending returns the transaction pending for addr, if any.
func (t *Tracker) Pending(addr DeviceAddress) (*PendingTransaction, bool) {
	tx, ok := t.pending[addr]
	return tx, ok
}

// Len returns the number of pending transactions.
func (t *Tracker) Len() int {
	return len(t.pending)
}

// MaxAttempts returns the configured attempt limit.
func (t *Tracker) MaxAttempts() int {
	return t.maxAttempts
}
