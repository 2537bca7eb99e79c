package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/nerrad567/gray-logic-dobiss/internal/bridges/dobiss"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/logging"
)

// defaultWaitTimeout bounds how long a console command waits for the
// module to confirm.
const defaultWaitTimeout = 3 * time.Second

// runConsole opens the bus named in the bus config, starts a driver on it
// and reads commands until quit, EOF or interrupt.
func runConsole(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("console", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "configs/dobiss.yaml", "Bus configuration file")
	logLevel := fs.String("log-level", "warn", "Log level: debug, info, warn, error")
	wait := fs.Duration("wait", defaultWaitTimeout, "How long to wait for a module to confirm")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := dobiss.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading bus config: %w", err)
	}
	table, err := cfg.BuildAddressTable()
	if err != nil {
		return fmt.Errorf("building address table: %w", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "dobiss> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(table),
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	// Log through readline so output does not interfere with the prompt.
	log := logging.NewWithWriter(config.LoggingConfig{Level: *logLevel, Format: "text"}, version, rl.Stderr())

	bus, err := dobiss.OpenBus(ctx, cfg, table, log)
	if err != nil {
		return fmt.Errorf("opening CAN bus: %w", err)
	}
	defer bus.Close()

	opts := cfg.ToDriverOptions()
	opts.Table = table
	opts.Bus = bus
	opts.Logger = log

	driver, err := dobiss.NewDriver(opts)
	if err != nil {
		return fmt.Errorf("creating driver: %w", err)
	}
	if err := driver.Start(ctx); err != nil {
		return fmt.Errorf("starting driver: %w", err)
	}
	defer driver.Stop()

	c := newConsole(driver, bus, rl.Stdout(), *wait)
	c.logs = log
	go c.watchLoop(ctx)

	fmt.Fprintf(rl.Stdout(), "%s on %s, %d outputs. Type \"help\" for commands.\n",
		cfg.CAN.Interface, cfg.CAN.Channel, table.Len())

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return nil // EOF
		}
		if quit := c.exec(ctx, line); quit {
			return nil
		}
	}
}

// completer offers command names and output addresses.
func completer(table *dobiss.AddressTable) *readline.PrefixCompleter {
	var addrs []readline.PrefixCompleterInterface
	for _, out := range table.Entries() {
		addrs = append(addrs, readline.PcItem(out.Address.String()))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("list"),
		readline.PcItem("status", addrs...),
		readline.PcItem("on", addrs...),
		readline.PcItem("off", addrs...),
		readline.PcItem("toggle", addrs...),
		readline.PcItem("dim", addrs...),
		readline.PcItem("refresh", addrs...),
		readline.PcItem("watch"),
		readline.PcItem("stats"),
		readline.PcItem("log", readline.PcItem("debug"), readline.PcItem("info"), readline.PcItem("warn"), readline.PcItem("error")),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// busStatsProvider exposes transport counters. Every dobiss.Bus has them.
type busStatsProvider interface {
	Stats() dobiss.BusStats
}

// levelControl is the runtime level switch of the console's logger.
type levelControl interface {
	Level() string
	SetLevel(name string) error
}

// console executes commands against a driver and writes results to out.
type console struct {
	driver   dobiss.Controller
	bus      busStatsProvider
	logs     levelControl // nil disables the log command
	out      io.Writer
	wait     time.Duration
	watching atomic.Bool
}

func newConsole(driver dobiss.Controller, bus busStatsProvider, out io.Writer, wait time.Duration) *console {
	if wait <= 0 {
		wait = defaultWaitTimeout
	}
	return &console{driver: driver, bus: bus, out: out, wait: wait}
}

// exec runs one command line. It returns true when the user asked to quit.
func (c *console) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "list", "ls":
		c.cmdList()
	case "status", "s":
		err = c.cmdStatus(args)
	case "on", "off", "toggle":
		err = c.cmdSwitch(ctx, cmd, args)
	case "dim":
		err = c.cmdDim(ctx, args)
	case "refresh":
		err = c.cmdRefresh(ctx, args)
	case "watch":
		on := !c.watching.Load()
		c.watching.Store(on)
		fmt.Fprintf(c.out, "watch %s\n", onOff(on))
	case "stats":
		c.cmdStats()
	case "log":
		err = c.cmdLog(args)
	case "quit", "exit", "q":
		return true
	default:
		err = fmt.Errorf("unknown command %q, type \"help\"", cmd)
	}

	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
	return false
}

func (c *console) printHelp() {
	fmt.Fprint(c.out, `Commands:
  list                  List configured outputs with their state
  status [addr]         Show the state of one or all outputs
  on <addr>             Switch an output on (dimmers to full)
  off <addr>            Switch an output off
  toggle <addr>         Invert the current state
  dim <addr> <0-100>    Set a dimmer level; 0 switches off
  refresh [addr]        Ask modules for their current state
  watch                 Toggle printing of state changes
  stats                 Show driver and bus counters
  log [level]           Show or set the log level
  quit                  Exit

Outputs are addressed by id, unique id (dobiss.1.2) or address (1.2).
`)
}

func (c *console) cmdLog(args []string) error {
	if c.logs == nil {
		return errors.New("logging not available")
	}
	switch len(args) {
	case 0:
	case 1:
		if err := c.logs.SetLevel(args[0]); err != nil {
			return err
		}
	default:
		return errors.New("usage: log [debug|info|warn|error]")
	}
	fmt.Fprintf(c.out, "log level %s\n", strings.ToLower(c.logs.Level()))
	return nil
}

func (c *console) cmdList() {
	for _, out := range c.driver.Table().Entries() {
		st, _ := c.driver.State(out.Address)
		fmt.Fprintf(c.out, "%-6s %-20s %-9s %s\n", out.Address, out.Name, out.Capability, formatState(st))
	}
}

func (c *console) cmdStatus(args []string) error {
	if len(args) == 0 {
		c.cmdList()
		return nil
	}

	out, err := c.driver.Table().Lookup(args[0])
	if err != nil {
		return err
	}
	st, err := c.driver.State(out.Address)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "%s (%s) %s\n", out.Name, out.Address.UniqueID(), formatState(st))
	if st.Known() {
		fmt.Fprintf(c.out, "  last updated %s\n", st.LastUpdated.Local().Format(time.RFC3339))
	}
	return nil
}

func (c *console) cmdSwitch(ctx context.Context, cmd string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s <addr>", cmd)
	}
	out, err := c.driver.Table().Lookup(args[0])
	if err != nil {
		return err
	}

	on := cmd == "on"
	var level uint8
	if cmd == "toggle" {
		st, err := c.driver.State(out.Address)
		if err != nil {
			return err
		}
		on = !st.On
		if on && out.Dimmable() {
			level = st.Level
		}
	}

	return c.setState(ctx, out, on, level)
}

func (c *console) cmdDim(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: dim <addr> <0-100>")
	}
	out, err := c.driver.Table().Lookup(args[0])
	if err != nil {
		return err
	}
	if !out.Dimmable() {
		return fmt.Errorf("%s is not a dimmer", out.Address)
	}

	level, err := strconv.Atoi(args[1])
	if err != nil || level < 0 || level > dobiss.MaxLevel {
		return fmt.Errorf("%w: %q", dobiss.ErrInvalidLevel, args[1])
	}

	return c.setState(ctx, out, level > 0, uint8(level)) //nolint:gosec // bounded above
}

// setState sends the command and waits for the module to confirm.
func (c *console) setState(ctx context.Context, out dobiss.Output, on bool, level uint8) error {
	h, err := c.driver.SetState(ctx, out.Address, on, level)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.wait)
	defer cancel()

	st, err := h.Wait(waitCtx)
	if err != nil {
		return fmt.Errorf("%s: %w", out.Address, err)
	}

	fmt.Fprintf(c.out, "%s confirmed %s (attempts %d, %s)\n",
		out.Address, formatState(st), h.Attempts(), h.Latency().Round(time.Millisecond))
	return nil
}

func (c *console) cmdRefresh(ctx context.Context, args []string) error {
	if len(args) == 0 {
		if err := c.driver.RefreshAll(ctx); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "refresh queued for %d outputs\n", c.driver.Table().Len())
		return nil
	}

	out, err := c.driver.Table().Lookup(args[0])
	if err != nil {
		return err
	}
	if err := c.driver.Refresh(ctx, out.Address); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "refresh queued for %s\n", out.Address)
	return nil
}

func (c *console) cmdStats() {
	s := c.driver.Stats()
	fmt.Fprintf(c.out, "link        %s\n", upDown(s.LinkUp))
	fmt.Fprintf(c.out, "pending     %d\n", s.Pending)
	fmt.Fprintf(c.out, "commands    sent %d, confirmed %d, retried %d, timed out %d, superseded %d, failed %d\n",
		s.CommandsSent, s.CommandsConfirmed, s.CommandsRetried, s.CommandsTimedOut, s.CommandsSuperseded, s.CommandsFailed)
	fmt.Fprintf(c.out, "polls       sent %d, answered %d, missed %d\n", s.PollsSent, s.PollsAnswered, s.PollsMissed)
	fmt.Fprintf(c.out, "frames      handled %d, unknown %d, unconfigured %d, stray %d, dropped %d\n",
		s.FramesHandled, s.FramesUnknown, s.FramesUnconfigured, s.FramesStray, s.FramesDropped)

	if c.bus != nil {
		b := c.bus.Stats()
		fmt.Fprintf(c.out, "bus         tx %d, rx %d, filtered %d, errors %d, reconnects %d\n",
			b.FramesTx, b.FramesRx, b.FramesFiltered, b.ErrorsTotal, b.ReconnectsTotal)
	}
}

// watchLoop drains driver notifications and prints them while watching.
func (c *console) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-c.driver.Notifications():
			if !ok {
				return
			}
			if c.watching.Load() {
				fmt.Fprintf(c.out, "* %s %s -> %s\n",
					change.Address, formatState(change.Previous), formatState(change.Current))
			}
		}
	}
}

// formatState renders "on 60% confirmed", "off assumed" or "unknown".
func formatState(st dobiss.OutputState) string {
	if !st.Known() {
		return "unknown"
	}
	s := onOff(st.On)
	if st.Dimmable && st.On {
		s += fmt.Sprintf(" %d%%", st.Level)
	}
	return s + " " + string(st.Confidence)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func upDown(b bool) string {
	if b {
		return "up"
	}
	return "down"
}
