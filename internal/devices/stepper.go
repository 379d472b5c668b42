package devices

import (
	"fmt"
	"sync"

	"github.com/shieldgrid/gridctl/internal/driver"
	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
	"github.com/shieldgrid/gridctl/internal/protocol"
)

// Stepper drives the stepper-motor positioner. The controller has no
// prompt and no replies; commands are bare "F<mm>", "R<mm>" and "stop".
//
// The translator tracks the commanded position so "go" can move to an
// absolute position relative to the last "zero".
type Stepper struct {
	nick string

	mu       sync.Mutex
	position int
}

// Kind returns config.KindStepper.
func (s *Stepper) Kind() string { return config.KindStepper }

// Gate returns driver.GateNone: the controller never signals readiness,
// so commands are written as soon as they are dequeued.
func (s *Stepper) Gate() driver.GateMode { return driver.GateNone }

// NewDecoder returns a line decoder for the controller's occasional
// diagnostic output.
func (s *Stepper) NewDecoder() protocol.Decoder { return protocol.NewLineDecoder() }

// Stop halts the motor. The commanded position is left as it was, so a
// "go" after a STOP may be off by the distance not travelled.
func (s *Stepper) Stop() driver.Command { return bare("stop") }

// Raw sends an on-connect line verbatim.
func (s *Stepper) Raw(line string) (driver.Command, error) {
	return bare(line), nil
}

// Position returns the commanded position in millimetres.
func (s *Stepper) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Translate handles forward, backward(s), go, zero, position, stop and help.
func (s *Stepper) Translate(cmd string) (Result, error) {
	v, args := verb(cmd)
	switch v {
	case "help":
		return Result{Replies: s.help()}, nil
	case "stop":
		return single(s.Stop()), nil
	case "zero":
		s.mu.Lock()
		s.position = 0
		s.mu.Unlock()
		return Result{Replies: []string{"position zeroed"}}, nil
	case "position":
		return Result{Replies: []string{fmt.Sprintf("position = %d", s.Position())}}, nil
	}

	if len(args) != 1 {
		return Result{}, s.parseError()
	}
	mm, ok := parseUint(args[0])
	if !ok {
		return Result{}, s.parseError()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch v {
	case "forward":
		s.position += mm
		return single(bare(fmt.Sprintf("F%d", mm))), nil
	case "backward", "backwards":
		s.position -= mm
		return single(bare(fmt.Sprintf("R%d", mm))), nil
	case "go":
		delta := mm - s.position
		s.position = mm
		switch {
		case delta > 0:
			return single(bare(fmt.Sprintf("F%d", delta))), nil
		case delta < 0:
			return single(bare(fmt.Sprintf("R%d", -delta))), nil
		default:
			return Result{Replies: []string{fmt.Sprintf("already at %d", mm)}}, nil
		}
	default:
		return Result{}, s.parseError()
	}
}

func (s *Stepper) parseError() error {
	return usagef("Sorry, couldn't parse that! ('help' for supported commands)")
}

func (s *Stepper) help() []string {
	n := s.nick
	return []string{
		fmt.Sprintf("%s accepts simple movement commands.", n),
		fmt.Sprintf("'%s: forward 5' will move the stepper forward 5mm.", n),
		fmt.Sprintf("'%s: backward 10' will move the stepper backward 10mm.", n),
		fmt.Sprintf("'%s: go 20' moves to 20mm from the last 'zero'; '%s: position' reports it.", n, n),
		fmt.Sprintf("'%s: stop' halts the motor.", n),
	}
}

// bare builds an unterminated command, as the stepper firmware expects.
func bare(s string) driver.Command {
	return driver.Command{Text: s, Payload: []byte(s)}
}
