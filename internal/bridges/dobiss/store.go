package dobiss

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Confidence says how an OutputState was learnt.
type Confidence string

const (
	// ConfidenceAssumed marks state set optimistically after a command was
	// sent, or restored from storage, with no frame from the module yet.
	ConfidenceAssumed Confidence = "assumed"

	// ConfidenceConfirmed marks state reported by the module itself.
	ConfidenceConfirmed Confidence = "confirmed"
)

// defaultNotifyBuffer is the capacity of the notification channel.
const defaultNotifyBuffer = 64

// OutputState is the modelled state of one output.
type OutputState struct {
	Address     DeviceAddress `json:"-"`
	On          bool          `json:"on"`
	Level       uint8         `json:"level"`
	Dimmable    bool          `json:"dimmable"`
	Confidence  Confidence    `json:"confidence"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Known reports whether any value has been learnt for the output.
func (s OutputState) Known() bool {
	return !s.LastUpdated.IsZero()
}

// Value returns the wire value matching the state.
func (s OutputState) Value() OutputValue {
	if !s.Dimmable {
		return Switch(s.On)
	}
	if !s.On {
		return 0
	}
	return Dim(s.Level)
}

// observable holds the fields whose change triggers a notification.
type observable struct {
	on         bool
	level      uint8
	confidence Confidence
}

func (s OutputState) observable() observable {
	return observable{on: s.On, level: s.Level, confidence: s.Confidence}
}

// withValue returns s updated to v.
func (s OutputState) withValue(v OutputValue, c Confidence, ts time.Time) OutputState {
	s.On = v.On()
	s.Level = 0
	if s.Dimmable {
		s.Level = v.Level()
	}
	s.Confidence = c
	s.LastUpdated = ts
	return s
}

// StateChange is delivered whenever an output's on/off, level or
// confidence changes.
type StateChange struct {
	Address  DeviceAddress
	Previous OutputState
	Current  OutputState
}

type stateRecord struct {
	initial      OutputState
	current      OutputState
	confirmed    OutputState
	hasConfirmed bool
}

// StateStore holds the OutputState of every configured output. It is owned
// by the Driver loop; only Snapshot, Notifications and Dropped may be used
// from other goroutines.
type StateStore struct {
	records map[DeviceAddress]*stateRecord

	notify   chan StateChange
	dropped  atomic.Uint64
	snapshot atomic.Pointer[map[DeviceAddress]OutputState]
}

// NewStateStore creates one Assumed, off, never-updated entry per output
// in table. notifyBuffer sizes the notification channel (0 selects the
// default).
func NewStateStore(table *AddressTable, notifyBuffer int) *StateStore {
	if notifyBuffer <= 0 {
		notifyBuffer = defaultNotifyBuffer
	}

	s := &StateStore{
		records: make(map[DeviceAddress]*stateRecord, table.Len()),
		notify:  make(chan StateChange, notifyBuffer),
	}
	for _, out := range table.Entries() {
		initial := OutputState{
			Address:    out.Address,
			Dimmable:   out.Dimmable(),
			Confidence: ConfidenceAssumed,
		}
		s.records[out.Address] = &stateRecord{initial: initial, current: initial}
	}
	s.publish()

	return s
}

// Get returns the current state of addr.
func (s *StateStore) Get(addr DeviceAddress) (OutputState, error) {
	rec, ok := s.records[addr]
	if !ok {
		return OutputState{}, fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}
	return rec.current, nil
}

// ApplyConfirmed records a value reported by the module. It returns the
// new state and whether a notification was emitted.
func (s *StateStore) ApplyConfirmed(addr DeviceAddress, v OutputValue, ts time.Time) (OutputState, bool, error) {
	rec, ok := s.records[addr]
	if !ok {
		return OutputState{}, false, fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}

	next := rec.current.withValue(v, ConfidenceConfirmed, ts)
	rec.confirmed = next
	rec.hasConfirmed = true

	return next, s.set(rec, next), nil
}

// ApplyAssumed records a value the output is expected to take. It is
// ignored when the current state is Confirmed and newer than ts.
func (s *StateStore) ApplyAssumed(addr DeviceAddress, v OutputValue, ts time.Time) (OutputState, bool, error) {
	rec, ok := s.records[addr]
	if !ok {
		return OutputState{}, false, fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}
	if rec.current.Confidence == ConfidenceConfirmed && rec.current.LastUpdated.After(ts) {
		return rec.current, false, nil
	}

	next := rec.current.withValue(v, ConfidenceAssumed, ts)
	return next, s.set(rec, next), nil
}

// Revert restores the last Confirmed state of addr. If nothing was ever
// confirmed it restores the seeded state, or the initial unknown state
// when the output was not seeded.
func (s *StateStore) Revert(addr DeviceAddress) (OutputState, bool, error) {
	rec, ok := s.records[addr]
	if !ok {
		return OutputState{}, false, fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}

	next := rec.initial
	if rec.hasConfirmed {
		next = rec.confirmed
	}
	return next, s.set(rec, next), nil
}

// Seed loads previously persisted states as Assumed. Unconfigured
// addresses and outputs that already have a newer state are skipped.
// A seeded state is also what Revert falls back to until the module
// confirms a value. No notifications are emitted. It returns the number of
// outputs seeded.
func (s *StateStore) Seed(states []OutputState) int {
	n := 0
	for _, st := range states {
		rec, ok := s.records[st.Address]
		if !ok || !rec.current.LastUpdated.Before(st.LastUpdated) {
			continue
		}
		v := st.Value()
		if rec.current.Dimmable != st.Dimmable {
			v = Switch(st.On)
			if rec.current.Dimmable && st.On {
				v = Dim(MaxLevel)
			}
		}
		rec.current = rec.current.withValue(v, ConfidenceAssumed, st.LastUpdated)
		rec.initial = rec.current
		n++
	}
	if n > 0 {
		s.publish()
	}
	return n
}

// Notifications returns the channel on which StateChange values are
// delivered. The channel is never closed.
func (s *StateStore) Notifications() <-chan StateChange {
	return s.notify
}

// Dropped returns the number of notifications discarded because the
// consumer fell behind.
func (s *StateStore) Dropped() uint64 {
	return s.dropped.Load()
}

// Snapshot returns a copy of all states. Safe for concurrent use.
func (s *StateStore) Snapshot() map[DeviceAddress]OutputState {
	src := s.snapshot.Load()
	out := make(map[DeviceAddress]OutputState, len(*src))
	for k, v := range *src {
		out[k] = v
	}
	return out
}

// set stores next, republishes the snapshot and emits a notification if an
// observable field changed.
func (s *StateStore) set(rec *stateRecord, next OutputState) bool {
	prev := rec.current
	rec.current = next
	s.publish()

	if prev.observable() == next.observable() {
		return false
	}

	select {
	case s.notify <- StateChange{Address: next.Address, Previous: prev, Current: next}:
	default:
		s.dropped.Add(1)
	}
	return true
}

func (s *StateStore) publish() {
	snap := make(map[DeviceAddress]OutputState, len(s.records))
	for addr, rec := range s.records {
		snap[addr] = rec.current
	}
	s.snapshot.Store(&snap)
}
