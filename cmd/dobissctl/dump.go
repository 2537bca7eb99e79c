package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-dobiss/internal/bridges/dobiss"
)

// dumpOptions selects records from a capture.
type dumpOptions struct {
	filter dobiss.CaptureFilter

	// canID matches one CAN identifier when hasID is set.
	canID uint32
	hasID bool
}

// runDump prints every matching record of a capture file, one per line.
func runDump(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	fs.SetOutput(stderr)

	file := fs.String("file", "", "CBOR capture file")
	dir := fs.String("dir", "", "Direction: in or out")
	kind := fs.String("kind", "", "Message kind, e.g. set, ack, get, status")
	disposition := fs.String("disposition", "", "Disposition, e.g. handled, unknown, stray")
	addr := fs.String("addr", "", "Output address M.O")
	id := fs.String("id", "", "CAN identifier, e.g. 0x0002FF01")
	since := fs.String("since", "", "Only records at or after this RFC 3339 time")
	until := fs.String("until", "", "Only records before this RFC 3339 time")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("%w: -file is required", errUsage)
	}

	opts, err := buildDumpOptions(*dir, *kind, *disposition, *addr, *id, *since, *until)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	r, err := dobiss.OpenCapture(*file, opts.filter)
	if err != nil {
		return err
	}
	defer r.Close()

	n, err := dumpRecords(r, opts, stdout)
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "%d records\n", n)
	return nil
}

func buildDumpOptions(dir, kind, disposition, addr, id, since, until string) (dumpOptions, error) {
	var opts dumpOptions

	switch dobiss.Direction(dir) {
	case "", dobiss.Inbound, dobiss.Outbound:
		opts.filter.Direction = dobiss.Direction(dir)
	default:
		return dumpOptions{}, fmt.Errorf("-dir must be in or out, got %q", dir)
	}

	opts.filter.Kind = kind
	opts.filter.Disposition = dobiss.Disposition(disposition)

	if addr != "" {
		a, err := dobiss.ParseDeviceAddress(addr)
		if err != nil {
			return dumpOptions{}, fmt.Errorf("-addr: %w", err)
		}
		opts.filter.Address = &a
	}

	if id != "" {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(id), "0x"), 16, 32)
		if err != nil {
			return dumpOptions{}, fmt.Errorf("-id: %w", err)
		}
		opts.canID = uint32(v)
		opts.hasID = true
	}

	var err error
	if since != "" {
		if opts.filter.TimeStart, err = time.Parse(time.RFC3339, since); err != nil {
			return dumpOptions{}, fmt.Errorf("-since: %w", err)
		}
	}
	if until != "" {
		if opts.filter.TimeEnd, err = time.Parse(time.RFC3339, until); err != nil {
			return dumpOptions{}, fmt.Errorf("-until: %w", err)
		}
	}

	return opts, nil
}

// recordSource yields capture records until io.EOF.
type recordSource interface {
	Next() (dobiss.CaptureRecord, error)
}

// dumpRecords writes matching records to w and returns how many it wrote.
func dumpRecords(r recordSource, opts dumpOptions, w io.Writer) (int, error) {
	n := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if opts.hasID && rec.CANID != opts.canID {
			continue
		}
		fmt.Fprintln(w, formatRecord(rec))
		n++
	}
}

// formatRecord renders one record as
//
//	15:04:05.000000 in  0x0002FF01 [01 02 64] ack handled Acknowledgment{...}
func formatRecord(rec dobiss.CaptureRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-3s 0x%08X [% X] %s %s",
		rec.Timestamp.Local().Format("15:04:05.000000"),
		rec.Direction,
		rec.CANID,
		rec.Data,
		rec.Kind,
		rec.Disposition,
	)

	msg := dobiss.Decode(rec.Frame())
	fmt.Fprintf(&b, " %T%+v", msg, msg)

	if rec.Detail != "" {
		fmt.Fprintf(&b, " (%s)", rec.Detail)
	}
	return b.String()
}

// Ensure CaptureReader implements recordSource.
var _ recordSource = (*dobiss.CaptureReader)(nil)
