package dobiss

import (
	"fmt"
	"strconv"
	"strings"
)

// uniqueIDPrefix prefixes output unique ids ("dobiss.1.2").
const uniqueIDPrefix = "dobiss."

// DeviceAddress identifies one output: a module on the bus and an output
// (relay or dimmer channel) on that module.
type DeviceAddress struct {
	Module uint8
	Output uint8
}

// String returns the "module.output" form, e.g. "1.2".
func (a DeviceAddress) String() string {
	return strconv.Itoa(int(a.Module)) + "." + strconv.Itoa(int(a.Output))
}

// UniqueID returns the stable id used by other systems, e.g. "dobiss.1.2".
func (a DeviceAddress) UniqueID() string {
	return uniqueIDPrefix + a.String()
}

// ParseDeviceAddress parses "1.2" or "dobiss.1.2".
func ParseDeviceAddress(s string) (DeviceAddress, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), uniqueIDPrefix)
	moduleStr, outputStr, ok := strings.Cut(s, ".")
	if !ok {
		return DeviceAddress{}, fmt.Errorf("address %q: expected module.output", s)
	}
	module, err := strconv.ParseUint(moduleStr, 10, 8)
	if err != nil {
		return DeviceAddress{}, fmt.Errorf("address %q: module: %w", s, err)
	}
	output, err := strconv.ParseUint(outputStr, 10, 8)
	if err != nil {
		return DeviceAddress{}, fmt.Errorf("address %q: output: %w", s, err)
	}
	return DeviceAddress{Module: uint8(module), Output: uint8(output)}, nil
}

// Capability describes what an output can do.
type Capability string

const (
	// CapabilityOnOff is a relay output.
	CapabilityOnOff Capability = "on_off"

	// CapabilityDimmable is a dimmer output with a 0-100 level.
	CapabilityDimmable Capability = "dimmable"
)

// Output is one configured output.
type Output struct {
	ID         string
	Name       string
	Address    DeviceAddress
	Capability Capability
}

// Dimmable reports whether the output accepts levels.
func (o Output) Dimmable() bool { return o.Capability == CapabilityDimmable }

// ValueFor converts a requested on/level pair into the wire value.
// Relay outputs ignore level. A dimmer switched on with level 0 goes to
// full brightness.
func (o Output) ValueFor(on bool, level uint8) (OutputValue, error) {
	if level > MaxLevel {
		return 0, fmt.Errorf("%w: %d (want 0-%d)", ErrInvalidLevel, level, MaxLevel)
	}
	if !o.Dimmable() {
		return Switch(on), nil
	}
	if !on {
		return 0, nil
	}
	if level == 0 {
		level = MaxLevel
	}
	return Dim(level), nil
}

// AddressTable maps configured outputs to bus addresses and back.
// It is built once and never modified, so lookups need no locking.
type AddressTable struct {
	entries []Output
	byAddr  map[DeviceAddress]int
	byID    map[string]int
}

// NewAddressTable builds the table from the configured outputs. Entries
// keep configuration order.
func NewAddressTable(outputs []OutputConfig) (*AddressTable, error) {
	t := &AddressTable{
		entries: make([]Output, 0, len(outputs)),
		byAddr:  make(map[DeviceAddress]int, len(outputs)),
		byID:    make(map[string]int, len(outputs)),
	}

	for i, oc := range outputs {
		out := oc.toOutput()
		if _, dup := t.byAddr[out.Address]; dup {
			return nil, fmt.Errorf("outputs[%d]: address %s is duplicate", i, out.Address)
		}
		if _, dup := t.byID[out.ID]; dup {
			return nil, fmt.Errorf("outputs[%d]: id %q is duplicate", i, out.ID)
		}
		t.byAddr[out.Address] = len(t.entries)
		t.byID[out.ID] = len(t.entries)
		t.entries = append(t.entries, out)
	}

	return t, nil
}

// Resolve returns the configured output at addr.
func (t *AddressTable) Resolve(addr DeviceAddress) (Output, error) {
	i, ok := t.byAddr[addr]
	if !ok {
		return Output{}, fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}
	return t.entries[i], nil
}

// ReverseResolve maps the module/output pair seen in a frame to a
// configured address.
func (t *AddressTable) ReverseResolve(module, output uint8) (DeviceAddress, error) {
	addr := DeviceAddress{Module: module, Output: output}
	if _, ok := t.byAddr[addr]; !ok {
		return DeviceAddress{}, fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}
	return addr, nil
}

// Lookup finds an output by configured id, unique id ("dobiss.1.2") or
// address ("1.2").
func (t *AddressTable) Lookup(ref string) (Output, error) {
	if i, ok := t.byID[ref]; ok {
		return t.entries[i], nil
	}
	addr, err := ParseDeviceAddress(ref)
	if err != nil {
		return Output{}, fmt.Errorf("%w: %q", ErrUnknownDevice, ref)
	}
	return t.Resolve(addr)
}

// Entries returns all outputs in configuration order.
func (t *AddressTable) Entries() []Output {
	out := make([]Output, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of configured outputs.
func (t *AddressTable) Len() int {
	return len(t.entries)
}
