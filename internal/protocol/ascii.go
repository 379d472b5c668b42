package protocol

import (
	"bytes"
	"fmt"
	"strings"
)

// maxLineLength bounds a partial line; longer input is reported and dropped.
const maxLineLength = 4096

var lineTags = map[string]Category{
	"> ": CategoryReady,
	"E ": CategoryError,
	"C ": CategoryAck,
	"! ": CategoryStateChange,
	"X ": CategoryEvent,
	"I ": CategoryInfo,
	"M ": CategoryStatus,
	"R ": CategoryResponse,
}

// ClassifyLine turns one complete ASCII line (without terminator) into an
// Event. A bare ">" is treated as a ready prompt.
func ClassifyLine(line string) (Event, error) {
	line = strings.TrimRight(line, "\r")
	if line == ">" {
		return Event{Category: CategoryReady}, nil
	}
	if len(line) < 2 {
		return Event{}, fmt.Errorf("%w: %q", ErrUnrecognizedLine, line)
	}

	cat, ok := lineTags[line[:2]]
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnrecognizedLine, line)
	}

	ev := Event{Category: cat, Payload: strings.TrimSpace(line[2:])}
	if cat == CategoryStatus {
		values, err := ParseStatus(ev.Payload)
		if err != nil {
			return Event{}, err
		}
		ev.Values = values
	}
	return ev, nil
}

// LineDecoder splits an ASCII byte stream into newline-terminated lines and
// classifies each one.
type LineDecoder struct {
	buf       []byte
	onInvalid InvalidFunc
}

// NewLineDecoder returns an empty LineDecoder.
func NewLineDecoder() *LineDecoder {
	return &LineDecoder{}
}

// SetOnInvalid registers the callback for unrecognized lines.
func (d *LineDecoder) SetOnInvalid(fn InvalidFunc) {
	d.onInvalid = fn
}

// Reset discards any partial line.
func (d *LineDecoder) Reset() {
	d.buf = d.buf[:0]
}

// Decode appends data and returns the events of every completed line.
// Blank lines are skipped silently.
func (d *LineDecoder) Decode(data []byte) []Event {
	d.buf = append(d.buf, data...)

	var events []Event
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(d.buf[:idx])
		d.buf = d.buf[idx+1:]

		if strings.TrimSpace(line) == "" {
			continue
		}
		ev, err := ClassifyLine(line)
		if err != nil {
			d.invalid([]byte(line), err)
			continue
		}
		events = append(events, ev)
	}

	if len(d.buf) > maxLineLength {
		d.invalid(d.buf, fmt.Errorf("%w: line exceeds %d bytes", ErrUnrecognizedLine, maxLineLength))
		d.buf = d.buf[:0]
	}
	return events
}

func (d *LineDecoder) invalid(data []byte, err error) {
	if d.onInvalid != nil {
		cp := make([]byte, len(data))
		copy(cp, data)
		d.onInvalid(cp, err)
	}
}
