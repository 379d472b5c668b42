package sequencer

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted is returned by primitives once abort has been requested.
	ErrAborted = errors.New("sequencer: aborted")

	// ErrWaitPending is returned when a wait is issued while another is live.
	ErrWaitPending = errors.New("sequencer: a wait is already pending")

	// ErrUnknownFunction is returned when calling an undefined name.
	ErrUnknownFunction = errors.New("sequencer: unknown function")

	// ErrBadArguments is returned for wrong argument counts or types.
	ErrBadArguments = errors.New("sequencer: bad arguments")

	// ErrUndefined is returned when reading an unset variable.
	ErrUndefined = errors.New("sequencer: undefined variable")

	// ErrTooDeep is returned when function calls nest past maxDepth.
	ErrTooDeep = errors.New("sequencer: call depth exceeded")

	// ErrTooManyCalls is returned when one command makes more calls than
	// Config.MaxCalls allows.
	ErrTooManyCalls = errors.New("sequencer: call limit exceeded")

	// ErrNoFeeder is returned by feed when no router is attached.
	ErrNoFeeder = errors.New("sequencer: no feeder attached")
)

// TimedOutError reports a wait whose pattern was not seen in time.
type TimedOutError struct {
	Pattern string
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("timed out waiting for '%s'", e.Pattern)
}

// ParseError reports a macro line that could not be parsed.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d: %s", e.Pos, e.Msg)
}

// ErrReserved is returned when a definition would shadow a primitive.
var ErrReserved = errors.New("sequencer: name is reserved for a primitive")
