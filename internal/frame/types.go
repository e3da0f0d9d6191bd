package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Errors
var (
	ErrReservedBits        = errors.New("reserved bits set")
	ErrUnknownOpcode       = errors.New("unknown opcode")
	ErrInvalidControl      = errors.New("invalid control frame")
	ErrPayloadTooLarge     = errors.New("payload too large")
	ErrInvalidLength       = errors.New("invalid payload length")
	ErrInvalidClosePayload = errors.New("invalid close payload")
	ErrUnmasked            = errors.New("unmasked client frame")
)

// Opcode identifies the frame type.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether the opcode is a control opcode (close, ping, pong).
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

// Valid reports whether the opcode is defined by RFC 6455.
func (o Opcode) Valid() bool {
	switch o {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(0x%x)", byte(o))
	}
}

// Close status codes used by this package's callers.
const (
	CloseNormal        uint16 = 1000
	CloseGoingAway     uint16 = 1001
	CloseProtocolError uint16 = 1002
	CloseNoStatus      uint16 = 1005
	CloseAbnormal      uint16 = 1006
	CloseMessageTooBig uint16 = 1009
)

// MaxControlPayload is the largest payload a control frame may carry.
const MaxControlPayload = 125

// Frame is a single decoded WebSocket data frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Payload []byte // nil when the frame carries no payload
}

var pingFrame = [2]byte{0b10001001, 0b00000000}

// PingFrame returns the wire bytes of an empty, unmasked ping.
func PingFrame() []byte {
	b := pingFrame
	return b[:]
}

// ClosePayload builds the payload of a close frame.
func ClosePayload(code uint16, reason string) []byte {
	if code == CloseNoStatus {
		return nil
	}
	b := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(b, code)
	copy(b[2:], reason)
	return b
}

// ValidCloseCode reports whether code may appear in a close frame sent by
// a peer. 1004-1006 and 1015 are reserved for local use and 1016-2999 are
// unassigned.
func ValidCloseCode(code uint16) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1014:
		return true
	case code >= 3000 && code <= 4999:
		return true
	}
	return false
}

// ParseClose decodes a close frame payload. An empty payload yields
// CloseNoStatus.
func ParseClose(payload []byte) (uint16, string, error) {
	switch {
	case len(payload) == 0:
		return CloseNoStatus, "", nil
	case len(payload) == 1:
		return 0, "", ErrInvalidClosePayload
	}
	code := binary.BigEndian.Uint16(payload)
	if !ValidCloseCode(code) {
		return 0, "", fmt.Errorf("%w: status code %d", ErrInvalidClosePayload, code)
	}
	reason := payload[2:]
	if !utf8.Valid(reason) {
		return 0, "", ErrInvalidClosePayload
	}
	return code, string(reason), nil
}
