package sequencer

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultWaitTimeout is used by wait() when no timeout is given.
const DefaultWaitTimeout = time.Second

// DefaultMaxCalls bounds the function calls made by one command line.
const DefaultMaxCalls = 1_000_000

const (
	maxDepth      = 32
	maxIterations = 10000
)

//go:embed prelude.macro
var defaultPrelude string

// DefaultPrelude returns the built-in macro definitions.
func DefaultPrelude() string { return defaultPrelude }

// Publisher sends a line to the bus.
type Publisher interface {
	Publish(ctx context.Context, text string) error
}

// Feeder queues a command for this sequencer as if it had arrived
// addressed to it.
type Feeder interface {
	Feed(cmd string) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config configures a Sequencer.
type Config struct {
	// Nick is the bus identity fed commands are addressed to.
	Nick string

	// WaitTimeout is the default wait() timeout. Default: 1s.
	WaitTimeout time.Duration

	// MaxCalls caps primitive and user function calls per command line,
	// counting nested calls. Default: 1,000,000.
	MaxCalls int
}

// Function describes a callable name.
type Function struct {
	Name    string   `json:"name"`
	Params  []string `json:"params"`
	Source  string   `json:"source,omitempty"`
	Help    string   `json:"help,omitempty"`
	Builtin bool     `json:"builtin"`

	body []Stmt
}

// Signature returns "name(a, b)".
func (f Function) Signature() string {
	return f.Name + "(" + strings.Join(f.Params, ", ") + ")"
}

// Sequencer evaluates macro lines against the primitive set.
type Sequencer struct {
	cfg   Config
	state *State
	pub   Publisher

	mu        sync.RWMutex
	feeder    Feeder
	functions map[string]*Function
	globals   map[string]Value
	logger    Logger
}

// New creates a Sequencer. Call LoadPrelude to install macro definitions.
func New(cfg Config, state *State, pub Publisher) *Sequencer {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = DefaultMaxCalls
	}
	return &Sequencer{
		cfg:       cfg,
		state:     state,
		pub:       pub,
		functions: make(map[string]*Function),
		globals:   make(map[string]Value),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the sequencer.
func (s *Sequencer) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// SetFeeder attaches the router that receives fed commands.
func (s *Sequencer) SetFeeder(f Feeder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeder = f
}

func (s *Sequencer) log() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// Nick returns the sequencer's bus identity.
func (s *Sequencer) Nick() string { return s.cfg.Nick }

// State returns the shared wait/abort state.
func (s *Sequencer) State() *State { return s.state }

// LoadPrelude executes src line by line. It stops at the first line that
// fails to parse or run.
func (s *Sequencer) LoadPrelude(ctx context.Context, src string) error {
	for i, line := range strings.Split(src, "\n") {
		if err := s.Run(ctx, line); err != nil {
			return fmt.Errorf("prelude line %d: %w", i+1, err)
		}
	}
	return nil
}

// Run parses and executes one line without the error reporting of
// Execute.
func (s *Sequencer) Run(ctx context.Context, line string) error {
	stmts, err := Parse(line)
	if err != nil {
		return err
	}
	return s.exec(ctx, stmts, newScope())
}

// Execute runs one line and reports the outcome to the bus:
//
//   - aborted: the abort flag and wait are cleared, "Aborted" is published
//   - timed out: the wait is cleared and abort is set so queued steps of
//     the same script are dropped
//   - unparsable: `Could not understand "<line>"` is published
//   - anything else: "ERROR: <err>" is published
//
// The error is returned for logging; the sequencer remains usable.
func (s *Sequencer) Execute(ctx context.Context, line string) error {
	err := s.Run(ctx, line)
	if err == nil {
		return nil
	}

	var timedOut *TimedOutError
	var parseErr *ParseError
	switch {
	case errors.Is(err, ErrAborted):
		s.state.ClearAbort()
		s.state.ClearWait()
		s.say(ctx, "Aborted")

	case errors.As(err, &timedOut):
		s.state.ClearWait()
		s.state.Abort()
		s.say(ctx, fmt.Sprintf("Timed out waiting for '%s'", timedOut.Pattern))

	case errors.As(err, &parseErr):
		s.log().Debug("unparsable macro line", "line", line, "error", err)
		s.say(ctx, fmt.Sprintf(`Could not understand "%s"`, line))

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.state.ClearWait()

	default:
		s.log().Error("macro failed", "line", line, "error", err)
		s.say(ctx, "ERROR: "+err.Error())
	}
	return err
}

// say publishes regardless of the abort flag.
func (s *Sequencer) say(ctx context.Context, text string) {
	if err := s.pub.Publish(ctx, text); err != nil {
		s.log().Warn("publish failed", "text", text, "error", err)
	}
}

// Emit publishes text unless abort is set.
func (s *Sequencer) Emit(ctx context.Context, text string) error {
	if s.state.Aborted() {
		return ErrAborted
	}
	return s.pub.Publish(ctx, text)
}

// Wait blocks until a line starting with pattern is seen. The backlog is
// checked first. It returns ErrWaitPending if another wait is live,
// ErrAborted on abort and *TimedOutError when timeout elapses.
func (s *Sequencer) Wait(ctx context.Context, pattern string, timeout time.Duration) error {
	signal := s.state.AbortSignal()
	if s.state.Aborted() {
		return ErrAborted
	}
	done, err := s.state.beginWait(pattern)
	if err != nil {
		return err
	}
	if done == nil {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-signal:
		return ErrAborted
	case <-timer.C:
		s.state.endWait(done)
		select {
		case <-done:
			return nil
		default:
		}
		return &TimedOutError{Pattern: pattern}
	case <-ctx.Done():
		s.state.endWait(done)
		return ctx.Err()
	}
}

// Sleep blocks for d, returning ErrAborted as soon as abort is set.
func (s *Sequencer) Sleep(ctx context.Context, d time.Duration) error {
	signal := s.state.AbortSignal()
	if s.state.Aborted() {
		return ErrAborted
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-signal:
		return ErrAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort sets the abort flag and releases any wait or sleep.
func (s *Sequencer) Abort() {
	s.state.Abort()
}

// Feed queues cmd through the router as if it were addressed to us.
func (s *Sequencer) Feed(cmd string) error {
	s.mu.RLock()
	f := s.feeder
	s.mu.RUnlock()
	if f == nil {
		return ErrNoFeeder
	}
	return f.Feed(cmd)
}

// DeferredEmit feeds an emit of text, so it runs after the current line.
func (s *Sequencer) DeferredEmit(text string) error {
	return s.Feed("emit(" + quote(text) + ")")
}

// Help publishes the syntax hint and the function listing.
func (s *Sequencer) Help(ctx context.Context) error {
	s.say(ctx, "New commands can be defined using the following syntax:")
	s.say(ctx, "  def my_function(argument) -> dosomething(argument); dosomethingelse()")
	s.say(ctx, "Existing commands: ")
	for _, f := range s.Functions() {
		desc := f.Source
		if f.Builtin {
			desc = "Primitive: " + f.Help
		}
		s.say(ctx, fmt.Sprintf("   %s  ->  %s", f.Signature(), desc))
	}
	return nil
}

// Functions lists primitives and user functions sorted by name.
func (s *Sequencer) Functions() []Function {
	out := make([]Function, 0, len(builtins))
	for name, b := range builtins {
		out = append(out, Function{Name: name, Params: b.params, Help: b.help, Builtin: true})
	}

	s.mu.RLock()
	for _, f := range s.functions {
		out = append(out, Function{Name: f.Name, Params: f.Params, Source: f.Source, Help: f.Help})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Global returns a global variable.
func (s *Sequencer) Global(name string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.globals[name]
	return v, ok
}

// SetGlobal sets a global variable.
func (s *Sequencer) SetGlobal(name string, v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals[name] = v
}

// Call invokes a primitive or user function by name.
func (s *Sequencer) Call(ctx context.Context, name string, args ...Value) (Value, error) {
	return s.invoke(ctx, name, args, newScope())
}

func (s *Sequencer) define(d *DefStmt) error {
	if _, ok := builtins[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrReserved, d.Name)
	}
	s.mu.Lock()
	s.functions[d.Name] = &Function{
		Name:   d.Name,
		Params: d.Params,
		Source: d.Source,
		body:   d.Body,
	}
	s.mu.Unlock()

	s.log().Debug("function defined", "name", d.Name)
	return nil
}

func (s *Sequencer) function(name string) (*Function, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.functions[name]
	return f, ok
}
