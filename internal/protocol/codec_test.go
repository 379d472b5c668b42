package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestCRCCodec_RoundTrip(t *testing.T) {
	for _, text := range []string{"set charge_enable on", "charge 2560", "pulse"} {
		t.Run(text, func(t *testing.T) {
			payload, err := EncodeCommand(text)
			if err != nil {
				t.Fatalf("EncodeCommand() error = %v", err)
			}
			c := NewCRCCodec()
			framed, err := c.Frame(payload)
			if err != nil {
				t.Fatalf("Frame() error = %v", err)
			}
			frames := c.Consume(framed)
			if len(frames) != 1 || !bytes.Equal(frames[0], payload) {
				t.Errorf("Consume() = %v, want [%v]", frames, payload)
			}
		})
	}
}

func TestCRCCodec_FrameLayout(t *testing.T) {
	framed, err := NewCRCCodec().Frame([]byte{1, 2, 1})
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	if len(framed) != 7 || framed[0] != 0x7E || framed[1] != 3 {
		t.Errorf("Frame() = % x", framed)
	}
}

func TestCRCCodec_ByteAtATime(t *testing.T) {
	c := NewCRCCodec()
	framed, _ := c.Frame([]byte{8, 10, 0})

	var got [][]byte
	for _, b := range framed {
		got = append(got, c.Consume([]byte{b})...)
	}
	if len(got) != 1 || !bytes.Equal(got[0], []byte{8, 10, 0}) {
		t.Errorf("frames = %v", got)
	}
}

func TestCRCCodec_CorruptFrameResyncs(t *testing.T) {
	c := NewCRCCodec()
	var rejected [][]byte
	c.SetOnInvalid(func(data []byte) { rejected = append(rejected, data) })

	bad, _ := c.Frame([]byte{16})
	bad[2] ^= 0xFF
	good, _ := c.Frame([]byte{32})

	frames := c.Consume(append(bad, good...))
	if len(frames) != 1 || !bytes.Equal(frames[0], []byte{32}) {
		t.Errorf("frames = %v, want [[32]]", frames)
	}
	if len(rejected) != 1 {
		t.Errorf("rejected = %d, want 1", len(rejected))
	}
}

func TestCRCCodec_Limits(t *testing.T) {
	c := NewCRCCodec()
	if _, err := c.Frame(nil); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Frame(nil) error = %v", err)
	}
	if _, err := c.Frame(make([]byte, 256)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Frame(256) error = %v", err)
	}

	var rejected int
	c.SetOnInvalid(func([]byte) { rejected++ })
	c.Consume([]byte{0x7E, 0x00})
	if rejected != 1 {
		t.Errorf("zero length frame rejected %d times", rejected)
	}
}
