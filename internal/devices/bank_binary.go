package devices

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shieldgrid/gridctl/internal/driver"
	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
	"github.com/shieldgrid/gridctl/internal/protocol"
)

// BankBinary drives the byte-coded bank firmware. Commands are encoded
// with protocol.EncodeCommand and framed with a CRCCodec; each command
// is answered by one reply frame.
type BankBinary struct {
	nick  string
	codec *protocol.CRCCodec
}

// NewBankBinary returns a binary bank translator.
func NewBankBinary(nick string) *BankBinary {
	return &BankBinary{nick: nick, codec: protocol.NewCRCCodec()}
}

// Kind returns config.KindBankBinary.
func (b *BankBinary) Kind() string { return config.KindBankBinary }

// Gate returns driver.GateReply. The binary firmware prints no prompt; it
// answers every command with exactly one CRC-checked frame, so the next
// command goes out once that frame arrives or the reply timeout expires.
func (b *BankBinary) Gate() driver.GateMode { return driver.GateReply }

// NewDecoder returns a frame decoder with its own CRCCodec. The driver
// calls it once and resets it on every reconnect, so the decoder must not
// share buffered state with b.codec, which only encodes.
func (b *BankBinary) NewDecoder() protocol.Decoder {
	return protocol.NewFrameDecoder(protocol.NewCRCCodec())
}

// Stop resets the controller, matching the ASCII firmware's STOP handling.
func (b *BankBinary) Stop() driver.Command {
	cmd, _ := b.encode("reset")
	return cmd
}

// Raw encodes an on-connect line as a text command.
func (b *BankBinary) Raw(line string) (driver.Command, error) {
	return b.encode(line)
}

// Translate handles get, set, charge, pulse, reset, abort, stop, dry_run
// and help. Input is case-insensitive.
func (b *BankBinary) Translate(cmd string) (Result, error) {
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	if v, _ := verb(cmd); v == "help" {
		return Result{Replies: b.help()}, nil
	}

	c, err := b.encode(cmd)
	if err != nil {
		var usage *UsageError
		if errors.As(err, &usage) {
			return Result{}, err
		}
		return Result{}, usagef("Could not parse that. type '%s: help' for help", b.nick)
	}
	return single(c), nil
}

func (b *BankBinary) encode(text string) (driver.Command, error) {
	payload, err := protocol.EncodeCommand(text)
	if err != nil {
		if errors.Is(err, protocol.ErrBadArgument) {
			msg := strings.TrimPrefix(err.Error(), protocol.ErrBadArgument.Error()+": ")
			return driver.Command{}, &UsageError{Text: msg}
		}
		return driver.Command{}, err
	}
	framed, err := b.codec.Frame(payload)
	if err != nil {
		return driver.Command{}, err
	}
	return driver.Command{Text: protocol.DescribeCommand(payload), Payload: framed}, nil
}

func (b *BankBinary) help() []string {
	n := b.nick
	lines := []string{
		fmt.Sprintf("Usage instructions for %s:", n),
		"  -- SUPPORTED COMMANDS -- ",
	}
	for _, c := range protocol.Commands.Entries() {
		lines = append(lines, "    "+c.Name)
	}
	lines = append(lines, "  -- SUPPORTED PARAMETERS ( use with get / set )-- ")
	for _, p := range protocol.Parameters.Entries() {
		lines = append(lines, "    "+p.Name)
	}
	return append(lines,
		" -- EXAMPLES -- ",
		fmt.Sprintf("'%s: get hv_voltage'    : retrieve bank HV voltage", n),
		fmt.Sprintf("'%s: charge 100'        : charges bank to 100V", n),
		fmt.Sprintf("%s is case-insensitive and understands some symbolic names", n),
		fmt.Sprintf("e.g '%s: set charge_enable on' and '%s: set CHARGE_EnAble 1'  will both work fine", n, n),
	)
}
