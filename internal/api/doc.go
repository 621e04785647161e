// Package api implements the local HTTP status API of the bridge.
//
// This package provides:
//   - Health and metrics endpoints backed by the running bridge
//   - Read access to the command journal and the reported-state history
//   - Middleware stack (request ID, logging, recovery)
//
// # Architecture
//
// The API is read-only. It never talks to the OPC UA server or the cloud
// hub directly; everything it serves comes from the bridge's in-memory
// counters and the SQLite journal.
//
// # Graceful Degradation
//
// The server operates without a journal. The health and metrics endpoints
// still work; the journal endpoints answer 503.
package api
