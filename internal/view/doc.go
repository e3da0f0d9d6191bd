// Package view implements ConnectionDemoView, a component that demonstrates
// wiring a mount lifecycle to a WebSocket connection.
//
// On Mount the view connects to ws://localhost:3000 and forwards the four
// lifecycle events to its diagnostic sink:
//   - open: Info("Opened!")
//   - message: Info(event)
//   - error: Error(event)
//   - close: Info(event)
//
// Unmount closes the connection. Render always yields an empty <div>.
package view
