// Package api implements the HTTP REST API and WebSocket server for the
// Dobiss bridge.
//
// This package provides:
//   - REST endpoints to list outputs, read their state, switch or dim them
//     and queue status refreshes
//   - A diagnostics endpoint listing frames the driver could not attribute
//   - An audit trail of the commands each caller issued
//   - A WebSocket hub broadcasting output.state_changed events
//   - Bearer token authentication with role permissions and ticket-based
//     WebSocket auth
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Architecture
//
// Output commands go straight to the driver, so a caller may wait for the
// module's acknowledgment. State changes reach WebSocket clients through
// the bridge's retained MQTT state topics, which keeps the driver's
// notification channel with a single consumer.
//
// # Graceful Degradation
//
// The server operates without MQTT; only the WebSocket feed stays silent.
package api
