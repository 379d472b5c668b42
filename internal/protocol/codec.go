package protocol

import (
	"fmt"

	"github.com/sigurn/crc16"
)

// FrameCodec delimits binary payloads on a byte stream.
type FrameCodec interface {
	// Frame wraps a payload for transmission.
	Frame(payload []byte) ([]byte, error)

	// Consume feeds received bytes and returns every complete payload.
	Consume(data []byte) [][]byte

	// SetOnInvalid registers the callback for frames that fail validation.
	SetOnInvalid(fn func(data []byte))

	// Reset discards any partial frame.
	Reset()
}

const (
	frameStart      = 0x7E
	maxFramePayload = 255
)

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

type crcState int

const (
	stateIdle crcState = iota
	stateLength
	statePayload
	stateChecksum
)

// CRCCodec frames payloads as 0x7E | length | payload | crc16 (MODBUS, big endian).
//
// On a checksum mismatch or a zero length the partial frame is reported as
// invalid and the decoder resynchronises on the next start byte.
type CRCCodec struct {
	state     crcState
	want      int
	buf       []byte
	onInvalid func([]byte)
}

// NewCRCCodec returns a codec in the idle state.
func NewCRCCodec() *CRCCodec {
	return &CRCCodec{}
}

// Frame wraps payload with start byte, length and checksum.
func (c *CRCCodec) Frame(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > maxFramePayload {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrFrameTooLarge, len(payload))
	}
	out := make([]byte, 0, len(payload)+4)
	out = append(out, frameStart, byte(len(payload)))
	out = append(out, payload...)
	sum := crc16.Checksum(payload, modbusTable)
	return append(out, byte(sum>>8), byte(sum)), nil
}

// SetOnInvalid registers the callback for bad frames.
func (c *CRCCodec) SetOnInvalid(fn func(data []byte)) {
	c.onInvalid = fn
}

// Reset returns the codec to the idle state.
func (c *CRCCodec) Reset() {
	c.state = stateIdle
	c.buf = nil
	c.want = 0
}

// Consume feeds data through the frame state machine.
func (c *CRCCodec) Consume(data []byte) [][]byte {
	var frames [][]byte
	for _, b := range data {
		switch c.state {
		case stateIdle:
			if b == frameStart {
				c.state = stateLength
			}
		case stateLength:
			if b == 0 {
				c.reject([]byte{frameStart, b})
				continue
			}
			c.want = int(b)
			c.buf = make([]byte, 0, c.want+2)
			c.state = statePayload
		case statePayload:
			c.buf = append(c.buf, b)
			if len(c.buf) == c.want {
				c.state = stateChecksum
			}
		case stateChecksum:
			c.buf = append(c.buf, b)
			if len(c.buf) < c.want+2 {
				continue
			}
			payload := c.buf[:c.want]
			got := uint16(c.buf[c.want])<<8 | uint16(c.buf[c.want+1])
			if crc16.Checksum(payload, modbusTable) != got {
				c.reject(c.buf)
				continue
			}
			frames = append(frames, payload)
			c.Reset()
		}
	}
	return frames
}

func (c *CRCCodec) reject(data []byte) {
	if c.onInvalid != nil {
		cp := make([]byte, len(data))
		copy(cp, data)
		c.onInvalid(cp)
	}
	c.Reset()
}
