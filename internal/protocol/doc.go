// Package protocol implements the server side of the WebSocket opening
// handshake (RFC 6455 §4.2): validating the client's upgrade request and
// deriving the Sec-WebSocket-Accept value.
package protocol
