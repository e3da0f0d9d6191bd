// Package frame implements the WebSocket data framing layer (RFC 6455 §5).
//
// The Parser is an incremental state machine:
//   - first byte (FIN, reserved bits, opcode)
//   - payload length, then an optional 16 or 64 bit extended length
//   - masking key, when the mask bit is set
//   - payload
//
// Bytes may arrive in any chunking; completed frames are handed to a
// Receiver in order. Encode produces the wire form of a frame.
package frame
