package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeCommand translates a textual bank command into its binary payload.
//
// Accepted forms (case-insensitive):
//
//	get <parameter> [bank]
//	set <parameter> <value> [argument]
//	charge <volts>
//	pulse
//	reset
//	abort | stop
//	dry_run <value>
//
// <value> is a symbolic value (true, false, on, off, 0-5).
func EncodeCommand(text string) ([]byte, error) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrUnknownCommand)
	}

	name, args := fields[0], fields[1:]
	switch name {
	case "get":
		return encodeGet(args)
	case "set":
		return encodeSet(args)
	case "charge":
		return encodeCharge(args)
	case "pulse", "reset":
		if len(args) != 0 {
			return nil, fmt.Errorf("%w: '%s' takes no arguments", ErrBadArgument, name)
		}
		code, _ := Commands.Value(name)
		return []byte{code}, nil
	case "abort", "stop":
		code, _ := Commands.Value("abort")
		return []byte{code}, nil
	case "dry_run":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: dry_run expects one value", ErrBadArgument)
		}
		v, err := symbolic(args[0])
		if err != nil {
			return nil, err
		}
		code, _ := Commands.Value("dry_run")
		return []byte{code, v}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

func encodeGet(args []string) ([]byte, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("%w: get expects a parameter and an optional bank", ErrBadArgument)
	}
	param, err := parameter(args[0])
	if err != nil {
		return nil, err
	}
	out := []byte{0, param}
	if len(args) == 2 {
		b, err := byteArg(args[1])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func encodeSet(args []string) ([]byte, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, fmt.Errorf("%w: set expects a parameter, a value and an optional argument", ErrBadArgument)
	}
	param, err := parameter(args[0])
	if err != nil {
		return nil, err
	}
	v, err := symbolic(args[1])
	if err != nil {
		return nil, err
	}
	out := []byte{1, param, v}
	if len(args) == 3 {
		b, err := byteArg(args[2])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func encodeCharge(args []string) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: charge expects an (integer) voltage as argument", ErrBadArgument)
	}
	volts, err := strconv.Atoi(args[0])
	if err != nil || volts < 0 || volts > 0xFFFF {
		return nil, fmt.Errorf("%w: charge expects an (integer) voltage as argument", ErrBadArgument)
	}
	code, _ := Commands.Value("charge")
	return []byte{code, byte(volts / 256), byte(volts % 256)}, nil
}

func parameter(name string) (byte, error) {
	p, ok := Parameters.Value(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown parameter %q", ErrBadArgument, name)
	}
	return p, nil
}

func symbolic(name string) (byte, error) {
	v, ok := SymbolicValues.Value(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown value %q", ErrBadArgument, name)
	}
	return v, nil
}

func byteArg(s string) (byte, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 255 {
		return 0, fmt.Errorf("%w: %q is not a byte value", ErrBadArgument, s)
	}
	return byte(n), nil
}

// DescribeCommand renders a binary command payload back into text, for logs.
func DescribeCommand(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	name := Commands.Name(payload[0])
	if name == "" {
		name = fmt.Sprintf("0x%02x", payload[0])
	}
	parts := []string{name}
	rest := payload[1:]
	switch name {
	case "get", "set":
		if len(rest) > 0 {
			parts = append(parts, Parameters.Name(rest[0]))
			rest = rest[1:]
		}
	case "charge":
		if len(rest) == 2 {
			return fmt.Sprintf("charge %d", int(rest[0])*256+int(rest[1]))
		}
	}
	for _, b := range rest {
		parts = append(parts, strconv.Itoa(int(b)))
	}
	return strings.Join(parts, " ")
}
