package frame

import "encoding/binary"

// Encode returns the wire form of f. Frames sent by a server are unmasked
// (mask == nil); frames sent by a client must carry a masking key.
func Encode(f Frame, mask *[4]byte) []byte {
	n := len(f.Payload)

	b0 := byte(f.Opcode) & 0b00001111
	if f.Fin {
		b0 |= 0b10000000
	}
	var b1 byte
	if mask != nil {
		b1 = 0b10000000
	}

	out := make([]byte, 0, 14+n)
	switch {
	case n <= 125:
		out = append(out, b0, b1|byte(n))
	case n <= 0xFFFF:
		out = append(out, b0, b1|126)
		out = binary.BigEndian.AppendUint16(out, uint16(n))
	default:
		out = append(out, b0, b1|127)
		out = binary.BigEndian.AppendUint64(out, uint64(n))
	}

	if mask == nil {
		return append(out, f.Payload...)
	}

	out = append(out, mask[:]...)
	start := len(out)
	out = append(out, f.Payload...)
	applyMask(out[start:], *mask)
	return out
}
