package devices

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shieldgrid/gridctl/internal/driver"
	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
	"github.com/shieldgrid/gridctl/internal/protocol"
)

// Result is the outcome of translating one addressed bus command.
type Result struct {
	// Commands are queued to the device in order.
	Commands []driver.Command

	// Replies are published to the bus immediately.
	Replies []string
}

// Translator maps a device kind's bus command set onto its wire protocol.
type Translator interface {
	// Kind returns the configured device kind.
	Kind() string

	// Gate returns the send discipline of the device.
	Gate() driver.GateMode

	// NewDecoder returns a fresh inbound decoder.
	NewDecoder() protocol.Decoder

	// Translate handles the text after "<nick>: ".
	Translate(cmd string) (Result, error)

	// Raw encodes a configured on-connect line.
	Raw(line string) (driver.Command, error)

	// Stop returns the command written on a global STOP.
	Stop() driver.Command
}

// NewTranslator returns the translator for a device kind. nick is used in
// help and error text.
func NewTranslator(kind, nick string) (Translator, error) {
	switch kind {
	case config.KindBankASCII:
		return &BankASCII{nick: nick}, nil
	case config.KindBankBinary:
		return NewBankBinary(nick), nil
	case config.KindStepper:
		return &Stepper{nick: nick}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// textCommand builds a newline-terminated ASCII command.
func textCommand(line string) driver.Command {
	return driver.Command{Text: line, Payload: []byte(line + "\n")}
}

func parseUint(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil && n >= 0
}

func verb(cmd string) (string, []string) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}
