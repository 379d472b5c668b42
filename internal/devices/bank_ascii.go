package devices

import (
	"fmt"
	"strings"

	"github.com/shieldgrid/gridctl/internal/driver"
	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
	"github.com/shieldgrid/gridctl/internal/protocol"
)

// BankASCII drives the bank controller firmware that speaks tagged text
// lines and prints a "> " prompt when it is ready for the next command.
type BankASCII struct {
	nick string
}

func (b *BankASCII) Kind() string { return config.KindBankASCII }

// Gate returns driver.GatePrompt; the firmware prints "> " when it will
// take the next line.
func (b *BankASCII) Gate() driver.GateMode { return driver.GatePrompt }

func (b *BankASCII) NewDecoder() protocol.Decoder { return protocol.NewLineDecoder() }

// Stop resets the controller. The bot writes it through Interrupt, ahead
// of any queued command and without waiting for the prompt.
func (b *BankASCII) Stop() driver.Command { return textCommand("reset") }

// Raw sends an on-connect line verbatim.
func (b *BankASCII) Raw(line string) (driver.Command, error) {
	return textCommand(strings.TrimSpace(line)), nil
}

// Translate handles:
//
//	charge <volts>                  charge_V <volts>
//	set charge_power <on|off>       !chgPWR <1|0>
//	set charge_enable <on|off>      !chgEnbl <1|0>
//	pulse | reset
//	poll <seconds>                  !poll <seconds>
//	raw <line>                      <line>
//	help
func (b *BankASCII) Translate(cmd string) (Result, error) {
	v, args := verb(cmd)
	switch v {
	case "help":
		return Result{Replies: b.help()}, nil

	case "charge":
		if len(args) != 1 {
			return Result{}, usagef("charge expects an (integer) voltage as argument")
		}
		volts, ok := parseUint(args[0])
		if !ok {
			return Result{}, usagef("charge expects an (integer) voltage as argument")
		}
		return single(textCommand(fmt.Sprintf("charge_V %d", volts))), nil

	case "set":
		if len(args) != 2 {
			return Result{}, b.parseError()
		}
		value, ok := protocol.SymbolicValues.Value(args[1])
		if !ok || value > 1 {
			return Result{}, usagef("%s expects on or off", strings.ToLower(args[0]))
		}
		switch strings.ToLower(args[0]) {
		case "charge_power":
			return single(textCommand(fmt.Sprintf("!chgPWR %d", value))), nil
		case "charge_enable":
			return single(textCommand(fmt.Sprintf("!chgEnbl %d", value))), nil
		default:
			return Result{}, b.parseError()
		}

	case "pulse", "reset":
		if len(args) != 0 {
			return Result{}, usagef("'%s' takes no arguments", v)
		}
		return single(textCommand(v)), nil

	case "poll":
		if len(args) != 1 {
			return Result{}, usagef("poll expects an interval in seconds")
		}
		n, ok := parseUint(args[0])
		if !ok {
			return Result{}, usagef("poll expects an interval in seconds")
		}
		return single(textCommand(fmt.Sprintf("!poll %d", n))), nil

	case "raw":
		_, line, _ := strings.Cut(strings.TrimSpace(cmd), " ")
		line = strings.TrimSpace(line)
		if line == "" {
			return Result{}, usagef("raw expects a line to send")
		}
		return single(textCommand(line)), nil

	default:
		return Result{}, b.parseError()
	}
}

func (b *BankASCII) parseError() error {
	return usagef("Could not parse that. type '%s: help' for help", b.nick)
}

func (b *BankASCII) help() []string {
	n := b.nick
	return []string{
		fmt.Sprintf("Usage instructions for %s:", n),
		fmt.Sprintf("'%s: charge 100'             : charges bank to 100V", n),
		fmt.Sprintf("'%s: set charge_power on'    : switches the charger supply", n),
		fmt.Sprintf("'%s: set charge_enable off'  : enables or disables charging", n),
		fmt.Sprintf("'%s: pulse'                  : fires the bank", n),
		fmt.Sprintf("'%s: reset'                  : resets the controller", n),
		fmt.Sprintf("'%s: poll 1'                 : status report interval in seconds", n),
		fmt.Sprintf("'%s: raw <line>'             : sends a line to the firmware unchanged", n),
		"'STOP' from anyone resets the bank immediately",
	}
}

func single(c driver.Command) Result {
	return Result{Commands: []driver.Command{c}}
}
