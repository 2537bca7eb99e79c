package dobiss

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.einride.tech/can"
)

// Driver defaults.
const (
	// DefaultTickInterval is how often timeouts and the poll queue are
	// checked.
	DefaultTickInterval = 100 * time.Millisecond

	// DefaultPollTimeout is how long to wait for a STATUS reply.
	DefaultPollTimeout = 250 * time.Millisecond

	// DefaultPollPacing is the quiet time between consecutive GET requests.
	DefaultPollPacing = 10 * time.Millisecond

	// defaultMailboxSize is the capacity of the driver mailbox.
	defaultMailboxSize = 256

	// sendTimeout bounds a single frame write.
	sendTimeout = time.Second
)

// DriverOptions holds configuration for creating a driver.
type DriverOptions struct {
	// Table is the configured output table.
	Table *AddressTable

	// Bus is the CAN transport.
	Bus Bus

	// Logger is optional structured logger.
	Logger Logger

	// Observers receive every frame the driver sends or receives.
	Observers []FrameObserver

	// CommandTimeout is the wait for an ACK before resending.
	// Default: 500ms.
	CommandTimeout time.Duration

	// MaxAttempts is the number of sends before a command fails.
	// Default: 3.
	MaxAttempts int

	// TickInterval is the timeout scan period. Default: 100ms.
	TickInterval time.Duration

	// PollTimeout is the wait for a STATUS reply. Default: 250ms.
	PollTimeout time.Duration

	// PollPacing is the quiet time between GET requests. Default: 10ms.
	PollPacing time.Duration

	// PollInterval schedules a full status sweep. Zero disables it.
	PollInterval time.Duration

	// MailboxSize is the capacity of the event queue. Default: 256.
	MailboxSize int

	// NotifyBuffer is the capacity of the notification channel. Default: 64.
	NotifyBuffer int

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time
}

// DriverStats holds driver counters.
type DriverStats struct {
	FramesHandled        uint64
	FramesUnknown        uint64
	FramesUnconfigured   uint64
	FramesStray          uint64
	FramesDropped        uint64 // Mailbox full
	CommandsSent         uint64
	CommandsConfirmed    uint64
	CommandsRetried      uint64
	CommandsTimedOut     uint64
	CommandsSuperseded   uint64
	CommandsFailed       uint64 // Transport failures
	PollsSent            uint64
	PollsAnswered        uint64
	PollsMissed          uint64
	NotificationsDropped uint64
	Pending              int
	LinkUp               bool
}

// phase is the per-output protocol state.
type phase interface {
	name() string
}

type phaseIdle struct{}

type phasePending struct {
	key    string
	handle *Handle
	since  time.Time
}

func (phaseIdle) name() string    { return "idle" }
func (phasePending) name() string { return "pending" }

// pollState tracks the single outstanding GET.
type pollState struct {
	active   bool
	addr     DeviceAddress
	sentAt   time.Time
	lastDone time.Time

	queue     []DeviceAddress
	queued    map[DeviceAddress]bool
	nextSweep time.Time
}

// Mailbox events.
type event any

type frameEvent struct {
	frame can.Frame
	at    time.Time
}

type setEvent struct {
	handle   *Handle
	accepted chan error
}

type refreshEvent struct {
	addrs []DeviceAddress
}

type linkEvent struct {
	up bool
}

// Driver runs the Dobiss protocol on a Bus: it encodes commands, decodes
// replies, retries unacknowledged commands and maintains the StateStore.
//
// All protocol state is owned by a single loop goroutine fed by a mailbox,
// so received frames are processed in arrival order and commands for one
// output in request order.
//
// Thread Safety: All exported methods are safe for concurrent use.
type Driver struct {
	table     *AddressTable
	bus       Bus
	tracker   *Tracker
	store     *StateStore
	observers []FrameObserver
	now       func() time.Time

	tickInterval time.Duration
	pollTimeout  time.Duration
	pollPacing   time.Duration
	pollInterval time.Duration

	// Loop-owned state
	phases map[DeviceAddress]phase
	poll   pollState
	linkUp bool

	mailbox  chan event
	pollWake *time.Timer

	// Shutdown coordination
	running   atomic.Bool
	done      chan struct{}
	exited    chan struct{} // closed once the loop has returned
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	// Logger
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics
	framesHandled      atomic.Uint64
	framesUnknown      atomic.Uint64
	framesUnconfigured atomic.Uint64
	framesStray        atomic.Uint64
	framesDropped      atomic.Uint64
	commandsSent       atomic.Uint64
	commandsConfirmed  atomic.Uint64
	commandsRetried    atomic.Uint64
	commandsTimedOut   atomic.Uint64
	commandsSuperseded atomic.Uint64
	commandsFailed     atomic.Uint64
	pollsSent          atomic.Uint64
	pollsAnswered      atomic.Uint64
	pollsMissed        atomic.Uint64
	pending            atomic.Int64
	linkUpFlag         atomic.Bool
}

// NewDriver creates a driver. Call Start to begin processing.
func NewDriver(opts DriverOptions) (*Driver, error) {
	if opts.Table == nil {
		return nil, fmt.Errorf("address table is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}

	tick := opts.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	pacing := opts.PollPacing
	if pacing <= 0 {
		pacing = DefaultPollPacing
	}
	mailbox := opts.MailboxSize
	if mailbox <= 0 {
		mailbox = defaultMailboxSize
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	d := &Driver{
		table:        opts.Table,
		bus:          opts.Bus,
		tracker:      NewTracker(opts.CommandTimeout, opts.MaxAttempts),
		store:        NewStateStore(opts.Table, opts.NotifyBuffer),
		observers:    opts.Observers,
		now:          clock,
		tickInterval: tick,
		pollTimeout:  pollTimeout,
		pollPacing:   pacing,
		pollInterval: opts.PollInterval,
		phases:       make(map[DeviceAddress]phase, opts.Table.Len()),
		poll:         pollState{queued: make(map[DeviceAddress]bool)},
		mailbox:      make(chan event, mailbox),
		done:         make(chan struct{}),
		exited:       make(chan struct{}),
		ctx:          ctx,
		ctxCancel:    ctxCancel,
		logger:       opts.Logger,
	}
	for _, out := range opts.Table.Entries() {
		d.phases[out.Address] = phaseIdle{}
	}

	return d, nil
}

// Start connects the driver to the bus and starts the processing loop.
// A full status refresh is queued if the bus is up.
func (d *Driver) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("driver already started")
	}

	d.linkUp = d.bus.IsConnected()
	d.linkUpFlag.Store(d.linkUp)
	d.bus.SetOnFrame(d.OnFrameReceived)
	d.bus.SetOnLinkChange(d.onLinkChange)

	d.pollWake = time.NewTimer(time.Hour)
	d.pollWake.Stop()

	if d.linkUp {
		d.queuePolls(d.allAddresses())
		d.schedulePoll()
	}
	if d.pollInterval > 0 {
		d.poll.nextSweep = d.now().Add(d.pollInterval)
	}

	d.wg.Add(1)
	go d.loop(ctx)

	d.logInfo("driver started",
		"outputs", d.table.Len(),
		"link_up", d.linkUp)
	return nil
}

// Stop halts the loop. Pending requests resolve with ErrNotRunning.
// Safe to call multiple times.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		d.running.Store(false)
		close(d.done)
		d.ctxCancel()
		d.wg.Wait()
		d.bus.SetOnFrame(nil)
		d.bus.SetOnLinkChange(nil)
		d.logInfo("driver stopped")
	})
}

// SetState requests that the output at addr be switched on or off and, for
// dimmers, set to level (0-100; 0 with on=true means full). It returns once
// the request has been queued and sent; the Handle resolves when the
// module confirms or the request fails. ctx bounds only the wait for
// mailbox space; an enqueued request is always answered.
//
// Returns:
//   - *Handle: Resolves with the confirmed state or an error
//   - error: ErrUnknownDevice, ErrInvalidLevel, ErrTransport (bus down)
//     or ErrNotRunning
func (d *Driver) SetState(ctx context.Context, addr DeviceAddress, on bool, level uint8) (*Handle, error) {
	out, err := d.table.Resolve(addr)
	if err != nil {
		return nil, err
	}
	value, err := out.ValueFor(on, level)
	if err != nil {
		return nil, err
	}

	h := newHandle(addr, value, d.now())
	ev := setEvent{handle: h, accepted: make(chan error, 1)}
	if err := d.enqueue(ctx, ev); err != nil {
		return nil, err
	}

	// Once queued the loop always answers, either in handleSet or while
	// draining on shutdown, so ctx no longer applies: giving up here would
	// report a failure for a command the loop goes on to send.
	var acceptErr error
	select {
	case acceptErr = <-ev.accepted:
	case <-d.exited:
		select {
		case acceptErr = <-ev.accepted:
		default:
			acceptErr = ErrNotRunning
		}
	}
	if acceptErr != nil {
		return nil, acceptErr
	}
	return h, nil
}

// Refresh queues a status poll for addr.
func (d *Driver) Refresh(ctx context.Context, addr DeviceAddress) error {
	if _, err := d.table.Resolve(addr); err != nil {
		return err
	}
	return d.enqueue(ctx, refreshEvent{addrs: []DeviceAddress{addr}})
}

// RefreshAll queues a status poll for every configured output.
func (d *Driver) RefreshAll(ctx context.Context) error {
	return d.enqueue(ctx, refreshEvent{addrs: d.allAddresses()})
}

// OnFrameReceived hands a received frame to the driver. It never blocks:
// if the mailbox is full the frame is dropped and counted.
func (d *Driver) OnFrameReceived(f can.Frame) {
	select {
	case d.mailbox <- frameEvent{frame: f, at: d.now()}:
	default:
		d.framesDropped.Add(1)
		d.logWarn("mailbox full, dropping frame", "can_id", fmt.Sprintf("0x%08X", f.ID))
	}
}

// Snapshot returns the current state of every output.
func (d *Driver) Snapshot() map[DeviceAddress]OutputState {
	return d.store.Snapshot()
}

// State returns the current state of one output.
func (d *Driver) State(addr DeviceAddress) (OutputState, error) {
	st, ok := d.store.Snapshot()[addr]
	if !ok {
		return OutputState{}, fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}
	return st, nil
}

// Seed loads persisted states as Assumed. It must be called before Start.
func (d *Driver) Seed(states []OutputState) (int, error) {
	if d.running.Load() {
		return 0, fmt.Errorf("seed after start")
	}
	return d.store.Seed(states), nil
}

// Notifications returns the channel of state changes.
func (d *Driver) Notifications() <-chan StateChange {
	return d.store.Notifications()
}

// Table returns the output table.
func (d *Driver) Table() *AddressTable {
	return d.table
}

// LinkUp reports whether the driver considers the bus usable.
func (d *Driver) LinkUp() bool {
	return d.linkUpFlag.Load()
}

// Stats returns current driver counters.
func (d *Driver) Stats() DriverStats {
	return DriverStats{
		FramesHandled:        d.framesHandled.Load(),
		FramesUnknown:        d.framesUnknown.Load(),
		FramesUnconfigured:   d.framesUnconfigured.Load(),
		FramesStray:          d.framesStray.Load(),
		FramesDropped:        d.framesDropped.Load(),
		CommandsSent:         d.commandsSent.Load(),
		CommandsConfirmed:    d.commandsConfirmed.Load(),
		CommandsRetried:      d.commandsRetried.Load(),
		CommandsTimedOut:     d.commandsTimedOut.Load(),
		CommandsSuperseded:   d.commandsSuperseded.Load(),
		CommandsFailed:       d.commandsFailed.Load(),
		PollsSent:            d.pollsSent.Load(),
		PollsAnswered:        d.pollsAnswered.Load(),
		PollsMissed:          d.pollsMissed.Load(),
		NotificationsDropped: d.store.Dropped(),
		Pending:              int(d.pending.Load()),
		LinkUp:               d.linkUpFlag.Load(),
	}
}

// SetLogger sets the logger for the driver.
func (d *Driver) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

// onLinkChange is the bus callback. Link events are never dropped.
func (d *Driver) onLinkChange(up bool) {
	select {
	case d.mailbox <- linkEvent{up: up}:
	case <-d.exited:
	}
}

// enqueue fails with ErrNotRunning before Start and once the loop has
// exited, whether through Stop or cancellation of the Start context.
func (d *Driver) enqueue(ctx context.Context, ev event) error {
	if !d.running.Load() || d.loopExited() {
		return ErrNotRunning
	}
	select {
	case d.mailbox <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.exited:
		return ErrNotRunning
	}
	// The loop may have drained the mailbox for the last time just before
	// the send.
	if d.loopExited() {
		return ErrNotRunning
	}
	return nil
}

func (d *Driver) loopExited() bool {
	select {
	case <-d.exited:
		return true
	default:
		return false
	}
}

// loop is the only goroutine that touches tracker, store, phases and poll.
func (d *Driver) loop(ctx context.Context) {
	defer d.wg.Done()
	defer close(d.exited)
	defer d.shutdown()

	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()
	defer d.pollWake.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case ev := <-d.mailbox:
			d.process(ev)
		case <-ticker.C:
			d.tick(d.now())
		case <-d.pollWake.C:
			d.advancePoll(d.now())
		}
	}
}

// process dispatches one mailbox event.
func (d *Driver) process(ev event) {
	switch e := ev.(type) {
	case frameEvent:
		d.handleFrame(e.frame, e.at)
	case setEvent:
		d.handleSet(e)
	case refreshEvent:
		d.queuePolls(e.addrs)
		d.advancePoll(d.now())
	case linkEvent:
		d.handleLink(e.up)
	}
}

// handleSet sends a command and moves the output to pending.
func (d *Driver) handleSet(ev setEvent) {
	h := ev.handle
	if !d.linkUp {
		ev.accepted <- fmt.Errorf("%w: bus is down", ErrTransport)
		return
	}

	now := d.now()
	key, superseded := d.tracker.Begin(h.addr, h.requested, now)
	if superseded != nil {
		d.commandsSuperseded.Add(1)
		if p, ok := d.phases[h.addr].(phasePending); ok {
			current, _ := d.store.Get(h.addr)
			p.handle.resolve(current, ErrSuperseded, superseded.Attempts, now)
		}
		d.logDebug("request superseded", "address", h.addr.String(), "key", superseded.Key)
	}
	h.key = key
	d.setPhase(h.addr, phasePending{key: key, handle: h, since: now})
	d.pending.Store(int64(d.tracker.Len()))
	ev.accepted <- nil

	msg := SetOutputCommand{Module: h.addr.Module, Output: h.addr.Output, Value: h.requested}
	if err := d.send(msg); err != nil {
		d.transportFailed(err)
		return
	}
	d.commandsSent.Add(1)

	if _, _, err := d.store.ApplyAssumed(h.addr, h.requested, now); err != nil {
		d.logError("apply assumed state", err)
	}
}

// handleFrame decodes and applies one received frame.
func (d *Driver) handleFrame(f can.Frame, at time.Time) {
	msg, decodeErr := Classify(f)
	ev := FrameEvent{Time: at, Direction: Inbound, Frame: f, Message: msg, Disposition: DispositionHandled}

	switch m := msg.(type) {
	case Acknowledgment:
		addr, err := d.table.ReverseResolve(m.Module, m.Output)
		if err != nil {
			ev.Disposition, ev.Detail = DispositionUnconfigured, err.Error()
			d.framesUnconfigured.Add(1)
			d.logDebug("dropping frame for unconfigured output", "module", m.Module, "output", m.Output)
			break
		}
		d.confirm(addr, m.Value, at)

	case OutputStatusReport:
		if !d.poll.active {
			ev.Disposition, ev.Detail = DispositionStray, "no status request outstanding"
			d.framesStray.Add(1)
			d.logDebug("dropping unsolicited status reply", "value", m.Value)
			break
		}
		addr := d.poll.addr
		d.poll.active = false
		d.poll.lastDone = at
		d.pollsAnswered.Add(1)
		d.confirm(addr, m.Value, at)
		d.schedulePoll()

	case SetOutputCommand, StatusRequest:
		ev.Disposition = DispositionForeign
		d.logDebug("ignoring request from another controller", "kind", msg.Kind())

	case Unknown:
		ev.Disposition = DispositionUnknown
		if decodeErr != nil {
			ev.Detail = decodeErr.Error()
		}
		d.framesUnknown.Add(1)
		d.logDebug("undecodable frame", "error", decodeErr)
	}

	if ev.Disposition == DispositionHandled {
		d.framesHandled.Add(1)
	}
	d.observe(ev)
}

// confirm applies a value reported by a module and resolves a matching
// pending command.
func (d *Driver) confirm(addr DeviceAddress, v OutputValue, at time.Time) {
	tx, matched := d.tracker.Resolve(addr, v)
	state, _, err := d.store.ApplyConfirmed(addr, v, at)
	if err != nil {
		d.logError("apply confirmed state", err)
		return
	}

	switch {
	case matched:
		p, ok := d.phases[addr].(phasePending)
		d.setPhase(addr, phaseIdle{})
		d.pending.Store(int64(d.tracker.Len()))
		d.commandsConfirmed.Add(1)
		if ok && p.key == tx.Key {
			p.handle.resolve(state, nil, tx.Attempts, at)
		}
	case tx != nil:
		d.logDebug("reported value differs from pending request",
			"address", addr.String(), "requested", tx.Requested, "reported", v)
	}
}

// tick resends or fails overdue commands and advances polling.
func (d *Driver) tick(now time.Time) {
	retries, failed := d.tracker.Tick(now)

	for _, tx := range failed {
		d.commandsTimedOut.Add(1)
		state, _, _ := d.store.Revert(tx.Address)
		err := fmt.Errorf("%w: %s after %d attempts", ErrCommandTimeout, tx.Address, tx.Attempts)
		if p, ok := d.phases[tx.Address].(phasePending); ok && p.key == tx.Key {
			p.handle.resolve(state, err, tx.Attempts, now)
		}
		d.setPhase(tx.Address, phaseIdle{})
		d.logWarn("command not acknowledged", "address", tx.Address.String(), "attempts", tx.Attempts)
	}
	if len(failed) > 0 {
		d.pending.Store(int64(d.tracker.Len()))
	}

	for _, tx := range retries {
		d.commandsRetried.Add(1)
		d.logDebug("resending command", "address", tx.Address.String(), "attempt", tx.Attempts)
		msg := SetOutputCommand{Module: tx.Address.Module, Output: tx.Address.Output, Value: tx.Requested}
		if err := d.send(msg); err != nil {
			d.transportFailed(err)
			return
		}
		d.commandsSent.Add(1)
	}

	if d.poll.active && !now.Before(d.poll.sentAt.Add(d.pollTimeout)) {
		d.pollsMissed.Add(1)
		d.logDebug("status request unanswered", "address", d.poll.addr.String())
		d.poll.active = false
		d.poll.lastDone = now
	}
	if d.pollInterval > 0 && d.linkUp && !now.Before(d.poll.nextSweep) {
		d.poll.nextSweep = now.Add(d.pollInterval)
		d.queuePolls(d.allAddresses())
	}
	d.advancePoll(now)
}

// handleLink reacts to the bus going down or coming back.
func (d *Driver) handleLink(up bool) {
	if up == d.linkUp {
		return
	}
	if !up {
		d.logWarn("CAN bus down, failing pending commands", "pending", d.tracker.Len())
		d.transportFailed(fmt.Errorf("%w: %w", ErrTransport, errLinkDown))
		return
	}

	d.linkUp = true
	d.linkUpFlag.Store(true)
	d.logInfo("CAN bus up, refreshing outputs")
	d.queuePolls(d.allAddresses())
	d.advancePoll(d.now())
}

// transportFailed fails every pending command, reverts their outputs and
// clears the poll queue. The link stays down until the bus reports
// recovery.
func (d *Driver) transportFailed(cause error) {
	if !errors.Is(cause, ErrTransport) {
		cause = fmt.Errorf("%w: %w", ErrTransport, cause)
	}
	now := d.now()

	for _, tx := range d.tracker.FailAll() {
		d.commandsFailed.Add(1)
		state, _, _ := d.store.Revert(tx.Address)
		if p, ok := d.phases[tx.Address].(phasePending); ok {
			p.handle.resolve(state, cause, tx.Attempts, now)
		}
		d.setPhase(tx.Address, phaseIdle{})
	}
	d.pending.Store(0)

	d.poll.active = false
	d.poll.queue = nil
	clear(d.poll.queued)

	d.linkUp = d.bus.IsConnected() && !errors.Is(cause, errLinkDown)
	d.linkUpFlag.Store(d.linkUp)
	d.logError("transport failure", cause)
}

// errLinkDown marks failures caused by a link-down event.
var errLinkDown = errors.New("link down")

// queuePolls appends addresses to the poll queue, skipping duplicates.
func (d *Driver) queuePolls(addrs []DeviceAddress) {
	for _, addr := range addrs {
		if d.poll.queued[addr] {
			continue
		}
		d.poll.queued[addr] = true
		d.poll.queue = append(d.poll.queue, addr)
	}
}

// advancePoll sends the next GET if none is outstanding and the pacing
// delay has passed.
func (d *Driver) advancePoll(now time.Time) {
	if d.poll.active || len(d.poll.queue) == 0 || !d.linkUp {
		return
	}
	if now.Before(d.poll.lastDone.Add(d.pollPacing)) {
		d.schedulePoll()
		return
	}

	addr := d.poll.queue[0]
	d.poll.queue = d.poll.queue[1:]
	delete(d.poll.queued, addr)

	if err := d.send(StatusRequest{Module: addr.Module, Output: addr.Output}); err != nil {
		d.transportFailed(err)
		return
	}
	d.pollsSent.Add(1)
	d.poll.active = true
	d.poll.addr = addr
	d.poll.sentAt = now
}

// schedulePoll wakes the loop after the pacing delay if polls are queued.
func (d *Driver) schedulePoll() {
	if d.pollWake == nil || len(d.poll.queue) == 0 {
		return
	}
	d.pollWake.Reset(d.pollPacing)
}

// send encodes and transmits a message.
func (d *Driver) send(msg Message) error {
	f := Encode(msg)
	ctx, cancel := context.WithTimeout(d.ctx, sendTimeout)
	defer cancel()

	err := d.bus.Send(ctx, f)
	ev := FrameEvent{Time: d.now(), Direction: Outbound, Frame: f, Message: msg, Disposition: DispositionSent}
	if err != nil {
		ev.Disposition, ev.Detail = DispositionSendFailed, err.Error()
	}
	d.observe(ev)
	return err
}

func (d *Driver) observe(ev FrameEvent) {
	for _, o := range d.observers {
		o.ObserveFrame(ev)
	}
}

func (d *Driver) setPhase(addr DeviceAddress, next phase) {
	prev := d.phases[addr]
	d.phases[addr] = next
	if prev != nil && prev.name() != next.name() {
		d.logDebug("output phase", "address", addr.String(), "from", prev.name(), "to", next.name())
	}
}

// shutdown resolves anything still pending once the loop has exited.
func (d *Driver) shutdown() {
	now := d.now()
	for _, tx := range d.tracker.FailAll() {
		if p, ok := d.phases[tx.Address].(phasePending); ok {
			current, _ := d.store.Get(tx.Address)
			p.handle.resolve(current, ErrNotRunning, tx.Attempts, now)
		}
		d.phases[tx.Address] = phaseIdle{}
	}
	d.pending.Store(0)

	// Requests queued but never processed.
	for {
		select {
		case ev := <-d.mailbox:
			if s, ok := ev.(setEvent); ok {
				s.accepted <- ErrNotRunning
			}
		default:
			return
		}
	}
}

func (d *Driver) allAddresses() []DeviceAddress {
	entries := d.table.Entries()
	addrs := make([]DeviceAddress, len(entries))
	for i, out := range entries {
		addrs[i] = out.Address
	}
	return addrs
}

// logInfo logs an info message if logger is set.
func (d *Driver) logInfo(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (d *Driver) logWarn(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (d *Driver) logError(msg string, err error) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (d *Driver) logDebug(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
