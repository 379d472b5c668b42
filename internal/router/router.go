package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shieldgrid/gridctl/internal/bus"
	"github.com/shieldgrid/gridctl/internal/queue"
	"github.com/shieldgrid/gridctl/internal/sequencer"
)

// DefaultWorkQueueSize bounds pending addressed commands.
const DefaultWorkQueueSize = 3000

// AbortSynonyms abort the robot when they appear anywhere in a line.
var AbortSynonyms = []string{"ABORT", "HALT", "DIE", "STOP", "ERROR"}

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

// Config configures a Router.
type Config struct {
	// WorkQueueSize bounds pending work. Default: 3000.
	WorkQueueSize int
}

// Stats holds router counters.
type Stats struct {
	Consumed   uint64 `json:"consumed"`
	Queued     uint64 `json:"queued"`
	Executed   uint64 `json:"executed"`
	Matched    uint64 `json:"matched"`
	Backlogged uint64 `json:"backlogged"`
	Aborts     uint64 `json:"aborts"`
	Dropped    uint64 `json:"dropped"`
	Rejected   uint64 `json:"rejected"`
}

// Status is a snapshot of the robot's state.
type Status struct {
	Waiting  bool   `json:"waiting"`
	Pattern  string `json:"pattern,omitempty"`
	Aborted  bool   `json:"aborted"`
	Pending  int    `json:"pending"`
	Backlog  int    `json:"backlog"`
	Sequence int    `json:"sequence"`
}

// Router is the single consumer of bus traffic for the robot.
//
// Consume classifies each line as it arrives, answering help and abort
// immediately and queueing addressed commands. Run executes queued
// commands one at a time through the sequencer, so a command waiting on
// the bus never blocks the classification of the line it waits for.
//
// Thread Safety:
//   - Consume, HandleMessage and Feed are safe for concurrent use.
//   - Run must be called once; it owns sequencer execution.
type Router struct {
	seq   *sequencer.Sequencer
	state *sequencer.State
	pub   sequencer.Publisher
	work  *queue.Queue[string]

	mu     sync.RWMutex
	logger Logger

	consumed   atomic.Uint64
	queued     atomic.Uint64
	executed   atomic.Uint64
	matched    atomic.Uint64
	backlogged atomic.Uint64
	aborts     atomic.Uint64
	dropped    atomic.Uint64
	rejected   atomic.Uint64
}

// New creates a Router and attaches it as seq's feeder, so feed() and
// process_line("@...") inside macros queue behind the current command.
// The router shares seq's State for waits, backlog and abort.
func New(seq *sequencer.Sequencer, pub sequencer.Publisher, cfg Config) *Router {
	if cfg.WorkQueueSize <= 0 {
		cfg.WorkQueueSize = DefaultWorkQueueSize
	}
	r := &Router{
		seq:    seq,
		state:  seq.State(),
		pub:    pub,
		work:   queue.New[string](cfg.WorkQueueSize),
		logger: noopLogger{},
	}
	seq.SetFeeder(r)
	return r
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

func (r *Router) log() Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logger
}

// HandleMessage consumes an inbound bus message. It has the bus.Handler
// signature; failures are logged rather than returned.
func (r *Router) HandleMessage(msg bus.Message) {
	if err := r.Consume(msg.Text); err != nil {
		r.log().Warn("inbound command dropped", "sender", msg.Sender, "text", msg.Text, "error", err)
	}
}

// Consume classifies one bus line. It returns queue.ErrFull when an
// addressed command does not fit in the work queue.
func (r *Router) Consume(text string) error {
	r.consumed.Add(1)
	nick := r.seq.Nick()

	if rest, ok := bus.Addressed(nick, strings.TrimSpace(text)); ok && strings.HasPrefix(strings.ToLower(rest), "help") {
		return r.seq.Help(context.Background())
	}

	if strings.Contains(text, "ERROR") {
		r.say("Aborting due to ERROR message")
		r.abort("ERROR", text)
		return nil
	}
	for _, syn := range AbortSynonyms {
		if strings.Contains(text, syn) {
			r.abort(syn, text)
			return nil
		}
	}

	if r.state.Offer(text) {
		r.matched.Add(1)
		r.log().Debug("wait satisfied", "text", text)
		return nil
	}

	if rest, ok := bus.Addressed(nick, text); ok {
		if rest == "" {
			return nil
		}
		return r.Feed(rest)
	}

	r.state.AppendBacklog(text)
	r.backlogged.Add(1)
	return nil
}

// Feed queues cmd for execution after the work already queued.
func (r *Router) Feed(cmd string) error {
	if err := r.work.TryPut(cmd); err != nil {
		r.rejected.Add(1)
		return fmt.Errorf("queue %q: %w", cmd, err)
	}
	r.queued.Add(1)
	return nil
}

// abort drains the work queue before raising the flag: the running command
// returns as soon as the flag is up, and Run must find nothing left to take.
func (r *Router) abort(reason, text string) {
	n := len(r.work.Drain())
	r.state.Abort()
	r.aborts.Add(1)
	r.dropped.Add(uint64(n))
	r.log().Warn("abort requested", "reason", reason, "text", text, "dropped", n)
}

func (r *Router) say(text string) {
	if err := r.pub.Publish(context.Background(), text); err != nil {
		r.log().Warn("publish failed", "text", text, "error", err)
	}
}

// Run executes queued work until ctx is cancelled, then returns nil.
//
// Whenever the abort flag is found set between commands, remaining work is
// dropped and the flag is cleared. Run must not be called concurrently
// with itself.
func (r *Router) Run(ctx context.Context) error {
	for {
		if r.state.Aborted() {
			if n := len(r.work.Drain()); n > 0 {
				r.dropped.Add(uint64(n))
				r.log().Info("dropped pending work after abort", "count", n)
			}
			r.state.ClearAbort()
		}

		ready := r.work.Ready()
		if cmd, ok := r.work.TryGet(); ok {
			r.executed.Add(1)
			r.log().Debug("executing", "command", cmd)
			if err := r.seq.Execute(ctx, cmd); err != nil {
				r.log().Debug("command finished with error", "command", cmd, "error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ready:
		case <-r.state.AbortSignal():
		}
	}
}

// Pending returns the number of queued work items.
func (r *Router) Pending() int {
	return r.work.Len()
}

// Status returns a snapshot of the robot's state.
func (r *Router) Status() Status {
	pattern, waiting := r.state.Waiting()
	return Status{
		Waiting:  waiting,
		Pattern:  pattern,
		Aborted:  r.state.Aborted(),
		Pending:  r.work.Len(),
		Backlog:  len(r.state.Backlog()),
		Sequence: r.state.Seq(),
	}
}

// Stats returns router counters.
func (r *Router) Stats() Stats {
	return Stats{
		Consumed:   r.consumed.Load(),
		Queued:     r.queued.Load(),
		Executed:   r.executed.Load(),
		Matched:    r.matched.Load(),
		Backlogged: r.backlogged.Load(),
		Aborts:     r.aborts.Load(),
		Dropped:    r.dropped.Load(),
		Rejected:   r.rejected.Load(),
	}
}
