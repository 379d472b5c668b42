package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	heartbeatByte    = 'U'
	switchChangeCode = 99
	hvBiasSwitch     = 6
	bankCount        = 4
)

// DecodeFrame turns one binary frame payload into events.
//
// A five-byte frame is either a switch change notice (first byte 99) or a
// [command, parameter, response, value_hi, value_lo] reply. Longer get
// replies carry switch states or bank voltages. A lone 'U' is a heartbeat.
func DecodeFrame(frame []byte) ([]Event, error) {
	switch {
	case len(frame) == 1 && frame[0] == heartbeatByte:
		return []Event{{Category: CategoryHeartbeat}}, nil
	case len(frame) == 5 && frame[0] == switchChangeCode:
		return decodeSwitchChange(frame), nil
	case len(frame) == 5:
		return decodeReply(frame), nil
	case len(frame) > 2:
		return decodeGetReply(frame)
	default:
		return nil, fmt.Errorf("%w: %d byte frame % x", ErrMalformedFrame, len(frame), frame)
	}
}

func decodeSwitchChange(f []byte) []Event {
	bank, oldState, newState := f[1], f[2], f[4]
	subject := fmt.Sprintf("Bank %d", bank)
	if bank == hvBiasSwitch {
		subject = "HV BIAS"
	}
	text := fmt.Sprintf("%s switch change from %s to %s",
		subject, Switches.Name(oldState), Switches.Name(newState))

	return []Event{
		{Category: CategoryEvent, Payload: text},
		{
			Category: CategoryStatus,
			Values:   map[string]string{fmt.Sprintf("switch_%d", bank): Switches.Name(newState)},
		},
	}
}

func decodeReply(f []byte) []Event {
	cmd, param, resp := f[0], f[1], f[2]
	value := int(f[3])*256 + int(f[4])

	cmdName := Commands.Name(cmd)
	paramName := ""
	if cmdName == "get" || cmdName == "set" {
		paramName = Parameters.Name(param)
	}

	var text string
	cat := CategoryResponse
	if resp == ResponseOK {
		text = fmt.Sprintf("%s %s: %s, value = %d", cmdName, paramName, Responses.Name(resp), value)
	} else {
		cat = CategoryError
		text = fmt.Sprintf("%s %s: ERROR %s, value = %d", cmdName, paramName, Responses.Name(resp), value)
	}

	events := []Event{{Category: cat, Payload: text, Completes: true}}
	if cmdName == "get" && resp == ResponseOK && paramName != "" {
		events = append(events, Event{
			Category: CategoryStatus,
			Values:   map[string]string{paramName: strconv.Itoa(value)},
		})
	}
	return events
}

func decodeGetReply(f []byte) ([]Event, error) {
	if Commands.Name(f[0]) != "get" {
		return nil, fmt.Errorf("%w: unexpected %d byte reply to command %d", ErrMalformedFrame, len(f), f[0])
	}

	switch Parameters.Name(f[1]) {
	case "switch_state":
		states := f[2:]
		names := make([]string, len(states))
		values := make(map[string]string, len(states))
		for i, s := range states {
			names[i] = Switches.Name(s)
			values[fmt.Sprintf("switch_%d", i+1)] = names[i]
		}
		return []Event{
			{Category: CategoryResponse, Payload: "Switch states: " + strings.Join(names, " "), Completes: true},
			{Category: CategoryStatus, Values: values},
		}, nil

	case "bank_voltage":
		if len(f) < 2+4*bankCount {
			return nil, fmt.Errorf("%w: bank voltage reply needs %d bytes, got %d", ErrMalformedFrame, 2+4*bankCount, len(f))
		}
		values := make(map[string]string, 2*bankCount)
		lower := renderVoltages("lower", f[2:2+2*bankCount], values)
		upper := renderVoltages("upper", f[2+2*bankCount:2+4*bankCount], values)
		return []Event{
			{Category: CategoryResponse, Payload: "LOWER: " + lower},
			{Category: CategoryResponse, Payload: "UPPER: " + upper, Completes: true},
			{Category: CategoryStatus, Values: values},
		}, nil

	default:
		return nil, fmt.Errorf("%w: unexpected %d byte get reply for parameter %d", ErrMalformedFrame, len(f), f[1])
	}
}

func renderVoltages(prefix string, b []byte, values map[string]string) string {
	var sb strings.Builder
	for i := 0; i+1 < len(b); i += 2 {
		v := int(b[i])*256 + int(b[i+1])
		values[fmt.Sprintf("%s_%d", prefix, i/2+1)] = strconv.Itoa(v)
		fmt.Fprintf(&sb, "%dV ", v)
	}
	return sb.String()
}

// FrameDecoder decodes a binary byte stream using a FrameCodec for framing.
type FrameDecoder struct {
	codec     FrameCodec
	onInvalid InvalidFunc
}

// NewFrameDecoder returns a decoder reading frames through codec.
func NewFrameDecoder(codec FrameCodec) *FrameDecoder {
	d := &FrameDecoder{codec: codec}
	codec.SetOnInvalid(func(data []byte) {
		d.invalid(data, ErrMalformedFrame)
	})
	return d
}

// SetOnInvalid registers the callback for bad frames.
func (d *FrameDecoder) SetOnInvalid(fn InvalidFunc) {
	d.onInvalid = fn
}

// Reset discards any partial frame.
func (d *FrameDecoder) Reset() {
	d.codec.Reset()
}

// Decode feeds data through the codec and decodes every completed frame.
func (d *FrameDecoder) Decode(data []byte) []Event {
	var events []Event
	for _, frame := range d.codec.Consume(data) {
		evs, err := DecodeFrame(frame)
		if err != nil {
			d.invalid(frame, err)
			continue
		}
		events = append(events, evs...)
	}
	return events
}

func (d *FrameDecoder) invalid(data []byte, err error) {
	if d.onInvalid != nil {
		d.onInvalid(data, err)
	}
}
