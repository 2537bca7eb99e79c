package dobiss

import (
	"fmt"

	"go.einride.tech/can"
)

// Arbitration identifiers used by Ambiance Pro modules (29-bit extended).
const (
	// setBaseID is OR-ed with module<<8 to form the SET identifier.
	setBaseID uint32 = 0x01FC0002

	// setIDMask isolates the fixed bits of a SET identifier.
	setIDMask uint32 = 0x1FFF00FF

	// AckID is sent by a module after it switched an output.
	AckID uint32 = 0x0002FF01

	// StatusRequestID asks a module for the value of one output.
	StatusRequestID uint32 = 0x01FCFF01

	// StatusReplyID answers a StatusRequest. The payload carries no address.
	StatusReplyID uint32 = 0x01FDFF01

	// Bitrate is the nominal Ambiance Pro bus speed. It is configured on the
	// interface by the OS, not by this package.
	Bitrate = 125000

	// extendedIDMask matches all 29 identifier bits.
	extendedIDMask uint32 = 0x1FFFFFFF

	// MaxLevel is the highest dimmer level.
	MaxLevel = 100
)

// Payload lengths.
const (
	setPayloadLen     = 5
	ackPayloadLen     = 3
	requestPayloadLen = 2
	replyPayloadLen   = 1
	setTrailerByte    = 0xFF
)

// OutputValue is the state byte carried by SET, ACK and STATUS frames.
// Zero is off. Relay outputs use 1 for on; dimmer outputs carry their
// level from 1 to 100.
type OutputValue uint8

// Switch returns the value for a relay output.
func Switch(on bool) OutputValue {
	if on {
		return 1
	}
	return 0
}

// Dim returns the value for a dimmer output at level (0-100). Levels above
// 100 are clamped.
func Dim(level uint8) OutputValue {
	if level > MaxLevel {
		level = MaxLevel
	}
	return OutputValue(level)
}

// On reports whether the output is energised.
func (v OutputValue) On() bool { return v != 0 }

// Level returns the value as a dimmer level.
func (v OutputValue) Level() uint8 { return uint8(v) }

// Valid reports whether v fits the 0-100 range.
func (v OutputValue) Valid() bool { return v <= MaxLevel }

// Message is a decoded Dobiss frame. The concrete types are
// SetOutputCommand, Acknowledgment, StatusRequest, OutputStatusReport
// and Unknown.
type Message interface {
	// Kind returns a short name used in logs and captures.
	Kind() string

	isMessage()
}

// SetOutputCommand switches or dims one output.
type SetOutputCommand struct {
	Module uint8
	Output uint8
	Value  OutputValue
}

// Acknowledgment is a module's reply to SetOutputCommand. It reports the
// value the output now has.
type Acknowledgment struct {
	Module uint8
	Output uint8
	Value  OutputValue
}

// StatusRequest polls the value of one output.
type StatusRequest struct {
	Module uint8
	Output uint8
}

// OutputStatusReport answers a StatusRequest. The wire format carries no
// address; the receiver attributes it to its outstanding request.
type OutputStatusReport struct {
	Value OutputValue
}

// Unknown holds a frame that matched no known message shape.
type Unknown struct {
	Frame can.Frame
}

func (SetOutputCommand) Kind() string   { return "set" }
func (Acknowledgment) Kind() string     { return "ack" }
func (StatusRequest) Kind() string      { return "get" }
func (OutputStatusReport) Kind() string { return "status" }
func (Unknown) Kind() string            { return "unknown" }

func (SetOutputCommand) isMessage()   {}
func (Acknowledgment) isMessage()     {}
func (StatusRequest) isMessage()      {}
func (OutputStatusReport) isMessage() {}
func (Unknown) isMessage()            {}

// Encode serialises a message into a CAN frame. It never fails: every
// Message value has exactly one wire form, and Unknown re-emits its raw
// frame. A nil message encodes like the zero Unknown.
func Encode(m Message) can.Frame {
	switch msg := m.(type) {
	case SetOutputCommand:
		return newFrame(setBaseID|uint32(msg.Module)<<8,
			msg.Module, msg.Output, uint8(msg.Value), setTrailerByte, setTrailerByte)
	case Acknowledgment:
		return newFrame(AckID, msg.Module, msg.Output, uint8(msg.Value))
	case StatusRequest:
		return newFrame(StatusRequestID, msg.Module, msg.Output)
	case OutputStatusReport:
		return newFrame(StatusReplyID, uint8(msg.Value))
	case Unknown:
		return msg.Frame
	default:
		// Message is sealed, so only nil reaches here.
		return Unknown{}.Frame
	}
}

// Decode parses a CAN frame. Frames that do not match a known message
// shape decode to Unknown; Decode itself never fails.
func Decode(f can.Frame) Message {
	msg, _ := Classify(f)
	return msg
}

// Classify decodes f like Decode and, for Unknown results, also returns
// an error wrapping ErrDecodeAmbiguous that says why the frame was
// rejected.
func Classify(f can.Frame) (Message, error) {
	unknown := func(format string, args ...any) (Message, error) {
		return Unknown{Frame: f}, fmt.Errorf("%w: id=0x%08X: %s", ErrDecodeAmbiguous, f.ID, fmt.Sprintf(format, args...))
	}

	if !f.IsExtended {
		return unknown("standard identifier")
	}
	if f.IsRemote {
		return unknown("remote frame")
	}
	data := f.Data[:min(int(f.Length), len(f.Data))]

	switch {
	case f.ID == AckID:
		if len(data) < ackPayloadLen {
			return unknown("ack payload has %d bytes", len(data))
		}
		v := OutputValue(data[2])
		if !v.Valid() {
			return unknown("value %d out of range", v)
		}
		return Acknowledgment{Module: data[0], Output: data[1], Value: v}, nil

	case f.ID == StatusRequestID:
		if len(data) != requestPayloadLen {
			return unknown("request payload has %d bytes", len(data))
		}
		return StatusRequest{Module: data[0], Output: data[1]}, nil

	case f.ID == StatusReplyID:
		if len(data) < replyPayloadLen {
			return unknown("empty status payload")
		}
		v := OutputValue(data[0])
		if !v.Valid() {
			return unknown("value %d out of range", v)
		}
		return OutputStatusReport{Value: v}, nil

	case f.ID&setIDMask == setBaseID:
		module := uint8(f.ID >> 8)
		if len(data) != setPayloadLen {
			return unknown("set payload has %d bytes", len(data))
		}
		if data[0] != module {
			return unknown("module %d in payload, %d in identifier", data[0], module)
		}
		if data[3] != setTrailerByte || data[4] != setTrailerByte {
			return unknown("bad set trailer % X", data[3:5])
		}
		v := OutputValue(data[2])
		if !v.Valid() {
			return unknown("value %d out of range", v)
		}
		return SetOutputCommand{Module: module, Output: data[1], Value: v}, nil
	}

	return unknown("unrecognised identifier")
}

// CANFilter is a SocketCAN receive filter.
type CANFilter struct {
	ID   uint32
	Mask uint32
}

// KernelFilters returns the receive filters that pass only the frames a
// controller needs: SET acknowledgments and STATUS replies.
func KernelFilters() []CANFilter {
	return []CANFilter{
		{ID: AckID, Mask: extendedIDMask},
		{ID: StatusReplyID, Mask: extendedIDMask},
	}
}

// Accepts reports whether f passes at least one of the filters.
func Accepts(filters []CANFilter, f can.Frame) bool {
	if len(filters) == 0 {
		return true
	}
	for _, flt := range filters {
		if f.IsExtended && f.ID&flt.Mask == flt.ID&flt.Mask {
			return true
		}
	}
	return false
}

func newFrame(id uint32, payload ...byte) can.Frame {
	f := can.Frame{
		ID:         id,
		IsExtended: true,
		Length:     uint8(len(payload)),
	}
	copy(f.Data[:], payload)
	return f
}
