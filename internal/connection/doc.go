// Package connection implements a WebSocket client with the lifecycle of a
// browser WebSocket handle.
//
// The Client:
//   - Moves through connecting, open, closing and closed
//   - Reports open, message, error and close events to registered listeners
//   - Runs listeners serially on one dispatch goroutine, in event order
//   - Always ends with exactly one close event, after which Done is closed
//   - Sends keepalive pings and flags stale connections
//
// It never reconnects; a failed connection stays closed.
package connection
