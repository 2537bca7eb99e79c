// Package dobiss implements the Dobiss Ambiance Pro CAN bridge for Gray Logic.
//
// Dobiss relay and dimmer modules sit on a 125 kbit/s CAN bus and speak a small
// request/reply protocol using 29-bit extended identifiers. This package drives
// those modules directly, without the vendor programmer, and keeps an
// in-memory model of every configured output.
//
// # Architecture
//
//	┌─────────────────┐          ┌──────────────────────────────┐
//	│   Gray Logic    │   MQTT   │ Bridge ─► Driver ─► Bus      │  SocketCAN
//	│      Core       │◄────────►│   ▲         │                │◄──────────► CAN
//	└─────────────────┘          │   └─ StateChange ◄─ Store    │
//	                             └──────────────────────────────┘
//
// The Driver owns the protocol. A single goroutine drains a mailbox that
// carries received frames, set requests, refresh requests and link events,
// so the Tracker and StateStore are never touched concurrently.
//
// # Wire Format
//
//	SET     0x01FC0002 | module<<8   [module, output, value, 0xFF, 0xFF]
//	ACK     0x0002FF01               [module, output, value]
//	GET     0x01FCFF01               [module, output]
//	STATUS  0x01FDFF01               [value]
//
// The value byte is 0 for off. Relay outputs report 1 for on, dimmer outputs
// report their level from 1 to 100. STATUS replies carry no address, so the
// Driver keeps at most one GET outstanding and attributes the reply to it.
//
// # Addresses
//
// Outputs are addressed as "module.output" (e.g. "1.2"). The unique id
// "dobiss.1.2" is also accepted wherever a device id is expected.
//
// # Thread Safety
//
// Exported methods on Driver, Bridge, SocketCANBus and VirtualBus are safe for
// concurrent use. Tracker and StateStore are owned by the Driver's loop and
// are not synchronised.
package dobiss
