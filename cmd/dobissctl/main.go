// dobissctl - diagnostics for Dobiss Ambiance Pro installations
//
// Commands:
//
//	dobissctl console -config bus.yaml       interactive driver on the bus
//	dobissctl dump -file capture.cbor        decode a frame capture
//	dobissctl token -secret ... -subject ... mint an API bearer token
//
// The console opens the CAN interface itself, so stop the bridge service
// first when working on a live installation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
var version = "dev"

// errUsage marks errors after which the usage text is printed.
var errUsage = errors.New("usage")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches to a subcommand.
//
// Parameters:
//   - ctx: Cancelled on interrupt
//   - args: Command line without the program name
//   - stdout, stderr: Output streams
//
// Returns:
//   - error: Subcommand failure, or errUsage for a bad command line
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no command given", errUsage)
	}

	switch args[0] {
	case "console":
		return runConsole(ctx, args[1:], stderr)
	case "dump":
		return runDump(args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version)
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: dobissctl <command> [flags]

Commands:
  console   Run a driver on the bus with an interactive prompt
  dump      Decode a CBOR frame capture
  token     Mint an API bearer token
  version   Print the version

Run "dobissctl <command> -h" for command flags.
`)
}
