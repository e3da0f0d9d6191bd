package frame

import (
	"encoding/binary"
)

// Receiver is handed every frame the parser completes, in wire order.
type Receiver interface {
	ReceiveFrame(f Frame) error
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(f Frame) error

// ReceiveFrame calls fn(f).
func (fn ReceiverFunc) ReceiveFrame(f Frame) error {
	return fn(f)
}

type parserState int

const (
	// Waiting for the first byte of a frame (FIN, RSV, opcode).
	stateFirstByte parserState = iota

	// Waiting for the mask bit and 7-bit payload length.
	statePayloadLength

	// Collecting the 2 or 8 byte extended payload length.
	stateExtendedLength

	// Collecting the 4 byte masking key.
	stateMaskingKey

	// Collecting payload bytes.
	statePayload
)

// payloadPrealloc caps the up-front allocation for a payload; larger
// payloads grow as bytes arrive.
const payloadPrealloc = 64 << 10

// Parser decodes WebSocket frames from a byte stream that may arrive in
// arbitrary chunks. A Parser is not safe for concurrent use.
type Parser struct {
	receiver    Receiver
	maxPayload  uint64
	requireMask bool

	state  parserState
	cur    Frame
	masked bool
	mask   [4]byte
	length uint64

	// scratch holds partial extended-length and masking-key bytes
	scratch []byte
	need    int

	payload []byte
	err     error
}

// NewParser creates a parser delivering frames to r. maxPayload bounds a
// single frame's payload; 0 means unbounded.
func NewParser(r Receiver, maxPayload uint64) *Parser {
	return &Parser{
		receiver:   r,
		maxPayload: maxPayload,
		scratch:    make([]byte, 0, 8),
	}
}

// RequireMask makes the parser fail with ErrUnmasked on any frame without
// a masking key, as a server must for frames sent by a client.
func (p *Parser) RequireMask() {
	p.requireMask = true
}

// Feed consumes a chunk of bytes. Frames completed by the chunk are
// delivered before Feed returns. Once a protocol error is returned the
// parser keeps returning it.
func (p *Parser) Feed(data []byte) error {
	if p.err != nil {
		return p.err
	}

	for len(data) > 0 {
		switch p.state {
		case stateFirstByte:
			if err := p.parseFirstByte(data[0]); err != nil {
				return p.fail(err)
			}
			data = data[1:]

		case statePayloadLength:
			b := data[0]
			data = data[1:]
			p.masked = b&0b10000000 != 0
			if p.requireMask && !p.masked {
				return p.fail(ErrUnmasked)
			}
			switch n := b & 0b01111111; n {
			case 126:
				p.need = 2
				p.state = stateExtendedLength
			case 127:
				p.need = 8
				p.state = stateExtendedLength
			default:
				if err := p.setLength(uint64(n)); err != nil {
					return p.fail(err)
				}
				if err := p.afterLength(); err != nil {
					return err
				}
			}

		case stateExtendedLength:
			data = p.collect(data)
			if len(p.scratch) < p.need {
				continue
			}
			var n uint64
			if p.need == 2 {
				n = uint64(binary.BigEndian.Uint16(p.scratch))
			} else {
				n = binary.BigEndian.Uint64(p.scratch)
				if n>>63 != 0 {
					return p.fail(ErrInvalidLength)
				}
			}
			p.scratch = p.scratch[:0]
			if err := p.setLength(n); err != nil {
				return p.fail(err)
			}
			if err := p.afterLength(); err != nil {
				return err
			}

		case stateMaskingKey:
			data = p.collect(data)
			if len(p.scratch) < p.need {
				continue
			}
			copy(p.mask[:], p.scratch)
			p.scratch = p.scratch[:0]
			if err := p.afterMask(); err != nil {
				return err
			}

		case statePayload:
			remaining := p.length - uint64(len(p.payload))
			take := uint64(len(data))
			if take > remaining {
				take = remaining
			}
			p.payload = append(p.payload, data[:take]...)
			data = data[take:]
			if uint64(len(p.payload)) == p.length {
				if err := p.finish(); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (p *Parser) parseFirstByte(b byte) error {
	if b&0b01110000 != 0 {
		return ErrReservedBits
	}
	op := Opcode(b & 0b00001111)
	if !op.Valid() {
		return ErrUnknownOpcode
	}
	fin := b&0b10000000 != 0
	if op.IsControl() && !fin {
		return ErrInvalidControl
	}

	p.cur = Frame{Fin: fin, Opcode: op}
	p.state = statePayloadLength
	return nil
}

func (p *Parser) setLength(n uint64) error {
	if p.cur.Opcode.IsControl() && n > MaxControlPayload {
		return ErrInvalidControl
	}
	if p.maxPayload > 0 && n > p.maxPayload {
		return ErrPayloadTooLarge
	}
	p.length = n
	return nil
}

func (p *Parser) afterLength() error {
	if p.masked {
		p.need = 4
		p.state = stateMaskingKey
		return nil
	}
	return p.afterMask()
}

func (p *Parser) afterMask() error {
	if p.length == 0 {
		return p.finish()
	}
	prealloc := p.length
	if prealloc > payloadPrealloc {
		prealloc = payloadPrealloc
	}
	p.payload = make([]byte, 0, prealloc)
	p.state = statePayload
	return nil
}

// collect moves up to p.need bytes into scratch and returns the rest.
func (p *Parser) collect(data []byte) []byte {
	take := p.need - len(p.scratch)
	if take > len(data) {
		take = len(data)
	}
	p.scratch = append(p.scratch, data[:take]...)
	return data[take:]
}

func (p *Parser) finish() error {
	f := p.cur
	if len(p.payload) > 0 {
		if p.masked {
			applyMask(p.payload, p.mask)
		}
		f.Payload = p.payload
	}

	p.cur = Frame{}
	p.payload = nil
	p.masked = false
	p.length = 0
	p.state = stateFirstByte

	if p.receiver == nil {
		return nil
	}
	return p.receiver.ReceiveFrame(f)
}

func (p *Parser) fail(err error) error {
	p.err = err
	return err
}

func applyMask(b []byte, mask [4]byte) {
	for i := range b {
		b[i] ^= mask[i%4]
	}
}
