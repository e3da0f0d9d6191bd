// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Server connection counts and handshake failures
//   - Frames received per opcode and messages broadcast
//   - Lifecycle events observed by the demo view
//
// All recording methods are safe on a nil *Metrics, so components can run
// without metrics wired in.
package metrics
