package dobiss

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.einride.tech/can"
)

// captureEncMode and captureDecMode encode capture records with
// nanosecond timestamps and deterministic key order.
var (
	captureEncMode cbor.EncMode
	captureDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	captureEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	captureDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR decoder mode: %v", err))
	}
}

// CaptureRecord is one frame in a capture file.
type CaptureRecord struct {
	Timestamp   time.Time   `cbor:"1,keyasint"`
	Direction   Direction   `cbor:"2,keyasint"`
	CANID       uint32      `cbor:"3,keyasint"`
	Data        []byte      `cbor:"4,keyasint"`
	Kind        string      `cbor:"5,keyasint"`
	Disposition Disposition `cbor:"6,keyasint"`
	Detail      string      `cbor:"7,keyasint,omitempty"`
}

// NewCaptureRecord converts a FrameEvent to its capture form.
func NewCaptureRecord(ev FrameEvent) CaptureRecord {
	n := min(int(ev.Frame.Length), len(ev.Frame.Data))
	data := make([]byte, n)
	copy(data, ev.Frame.Data[:n])

	kind := "unknown"
	if ev.Message != nil {
		kind = ev.Message.Kind()
	}

	return CaptureRecord{
		Timestamp:   ev.Time,
		Direction:   ev.Direction,
		CANID:       ev.Frame.ID,
		Data:        data,
		Kind:        kind,
		Disposition: ev.Disposition,
		Detail:      ev.Detail,
	}
}

// Frame rebuilds the extended CAN frame.
func (r CaptureRecord) Frame() can.Frame {
	return newFrame(r.CANID, r.Data...)
}

// CaptureWriter appends every frame the driver sees or sends to a CBOR
// file. It implements FrameObserver and is safe for concurrent use.
type CaptureWriter struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
	errors  uint64
}

// Ensure CaptureWriter implements FrameObserver.
var _ FrameObserver = (*CaptureWriter)(nil)

// NewCaptureWriter opens path for appending, creating it with 0644
// permissions if needed.
func NewCaptureWriter(path string) (*CaptureWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // capture files are not secret
	if err != nil {
		return nil, fmt.Errorf("opening capture file: %w", err)
	}
	return &CaptureWriter{
		file:    f,
		encoder: captureEncMode.NewEncoder(f),
	}, nil
}

// ObserveFrame writes ev. Encoding errors are counted, not returned.
func (w *CaptureWriter) ObserveFrame(ev FrameEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if err := w.encoder.Encode(NewCaptureRecord(ev)); err != nil {
		w.errors++
	}
}

// Errors returns how many records failed to encode.
func (w *CaptureWriter) Errors() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errors
}

// Close closes the file. Later ObserveFrame calls are ignored.
func (w *CaptureWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// CaptureFilter selects records. Zero fields match everything.
type CaptureFilter struct {
	Direction   Direction
	Disposition Disposition
	Kind        string

	// Address matches SET, ACK and GET frames for one output.
	Address *DeviceAddress

	TimeStart time.Time
	TimeEnd   time.Time
}

func (f CaptureFilter) matches(r CaptureRecord) bool {
	if f.Direction != "" && r.Direction != f.Direction {
		return false
	}
	if f.Disposition != "" && r.Disposition != f.Disposition {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if !f.TimeStart.IsZero() && r.Timestamp.Before(f.TimeStart) {
		return false
	}
	if !f.TimeEnd.IsZero() && !r.Timestamp.Before(f.TimeEnd) {
		return false
	}
	if f.Address != nil {
		addr, ok := messageAddress(Decode(r.Frame()))
		if !ok || addr != *f.Address {
			return false
		}
	}
	return true
}

func messageAddress(m Message) (DeviceAddress, bool) {
	switch m := m.(type) {
	case SetOutputCommand:
		return DeviceAddress{Module: m.Module, Output: m.Output}, true
	case Acknowledgment:
		return DeviceAddress{Module: m.Module, Output: m.Output}, true
	case StatusRequest:
		return DeviceAddress{Module: m.Module, Output: m.Output}, true
	default:
		return DeviceAddress{}, false
	}
}

// CaptureReader streams records from a capture file.
type CaptureReader struct {
	closer  io.Closer
	decoder *cbor.Decoder
	filter  CaptureFilter
}

// OpenCapture opens a capture file for reading.
func OpenCapture(path string, filter CaptureFilter) (*CaptureReader, error) {
	f, err := os.Open(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("opening capture file: %w", err)
	}
	r := NewCaptureReader(f, filter)
	r.closer = f
	return r, nil
}

// NewCaptureReader reads records from r.
func NewCaptureReader(r io.Reader, filter CaptureFilter) *CaptureReader {
	return &CaptureReader{
		decoder: captureDecMode.NewDecoder(r),
		filter:  filter,
	}
}

// Next returns the next matching record, or io.EOF at the end.
func (r *CaptureReader) Next() (CaptureRecord, error) {
	for {
		var rec CaptureRecord
		if err := r.decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return CaptureRecord{}, io.EOF
			}
			return CaptureRecord{}, fmt.Errorf("decoding capture record: %w", err)
		}
		if r.filter.matches(rec) {
			return rec, nil
		}
	}
}

// Close closes the underlying file, if any.
func (r *CaptureReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
