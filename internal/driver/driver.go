package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shieldgrid/gridctl/internal/protocol"
	"github.com/shieldgrid/gridctl/internal/queue"
)

// Default driver settings.
const (
	// DefaultQueueCapacity bounds the outbound command queue.
	DefaultQueueCapacity = 5

	// DefaultReconnectInterval is the flat delay between connection attempts.
	DefaultReconnectInterval = 5 * time.Second

	// DefaultResponseTimeout releases a reply gate whose reply never came.
	DefaultResponseTimeout = 5 * time.Second

	// readBufferSize is the size of one read from the port.
	readBufferSize = 256

	// readChanSize buffers chunks between the reader goroutine and Run.
	readChanSize = 64
)

// GateMode selects when a device accepts the next command. The gate is
// per connection: it starts closed under GatePrompt and open under the
// other modes every time the port is (re)opened.
type GateMode int

// Send gate modes.
const (
	GateNone GateMode = iota
	GatePrompt
	GateReply
)

func (g GateMode) String() string {
	switch g {
	case GatePrompt:
		return "prompt"
	case GateReply:
		return "reply"
	default:
		return "none"
	}
}

// Command is one outbound device command.
type Command struct {
	// Text is the human-readable form, recorded in the status log.
	Text string

	// Payload is written to the port verbatim.
	Payload []byte
}

// Config configures a Driver.
type Config struct {
	// Name identifies the device in logs.
	Name string

	// Gate selects the send discipline.
	Gate GateMode

	// QueueCapacity bounds the outbound queue. Default: 5.
	QueueCapacity int

	// ReconnectInterval is the delay between connection attempts. Default: 5s.
	ReconnectInterval time.Duration

	// ResponseTimeout applies to GateReply only. Default: 5s.
	ResponseTimeout time.Duration

	// OnConnect commands are written after every (re)connect, before queued work.
	OnConnect []Command
}

// Handlers receive driver notifications. Nil fields are skipped.
//
// Every handler runs on the Run goroutine between reads and writes, so a
// slow handler delays the device link; hand long work to another
// goroutine.
type Handlers struct {
	// OnEvent receives every decoded inbound event.
	OnEvent func(protocol.Event)

	// OnWrite is called after a command was written to the port.
	OnWrite func(Command)

	// OnConnect is called after the port opened.
	OnConnect func(port string)

	// OnDisconnect is called after an established link failed.
	OnDisconnect func(port string, err error)

	// OnInvalid receives inbound data the decoder rejected.
	OnInvalid protocol.InvalidFunc

	// OnReplyTimeout is called when a reply-gated command got no reply.
	OnReplyTimeout func(Command)
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

// Stats holds operational counters. Counters accumulate over the life of
// the Driver and are not reset by reconnects; QueueDepth and Connected
// are instantaneous.
type Stats struct {
	CommandsWritten uint64
	ChunksReceived  uint64
	EventsDecoded   uint64
	InvalidData     uint64
	WriteErrors     uint64
	ReplyTimeouts   uint64
	Reconnects      uint64
	QueueDepth      int
	Connected       bool
	LastActivity    time.Time
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Driver runs one device link.
//
// A Driver is created with New, configured with SetLogger and
// SetHandlers, then driven by a single call to Run, which owns the port
// for its whole lifetime. Commands may be queued before Run starts and
// while the link is down; they are written in order once a connection is
// up and the send gate opens.
//
// Thread Safety: Enqueue, TryEnqueue, Interrupt, Stats, IsConnected and
// Close are safe for concurrent use with Run.
type Driver struct {
	cfg     Config
	opener  Opener
	decoder protocol.Decoder

	queue      *queue.Queue[Command]
	interrupts chan Command

	// retry holds the command whose write failed. Owned by Run.
	retry *Command

	handlersMu sync.RWMutex
	handlers   Handlers

	logger   Logger
	loggerMu sync.RWMutex

	running   atomic.Bool
	connected atomic.Bool
	done      *closeOnce

	commandsWritten atomic.Uint64
	chunksReceived  atomic.Uint64
	eventsDecoded   atomic.Uint64
	invalidData     atomic.Uint64
	writeErrors     atomic.Uint64
	replyTimeouts   atomic.Uint64
	reconnects      atomic.Uint64
	lastActivity    atomic.Int64
}

// New creates a driver. Zero fields of cfg take the package defaults.
// The decoder is owned by the driver from now on: it is reset on every
// connect and its invalid-data callback is replaced.
func New(cfg Config, opener Opener, decoder protocol.Decoder) *Driver {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}

	d := &Driver{
		cfg:        cfg,
		opener:     opener,
		decoder:    decoder,
		queue:      queue.New[Command](cfg.QueueCapacity),
		interrupts: make(chan Command, 1),
		logger:     noopLogger{},
		done:       newCloseOnce(),
	}
	decoder.SetOnInvalid(d.handleInvalid)
	return d
}

// SetLogger sets the logger for the driver.
func (d *Driver) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	defer d.loggerMu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	d.logger = logger
}

func (d *Driver) log() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

// SetHandlers replaces the notification handlers.
func (d *Driver) SetHandlers(h Handlers) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.handlers = h
}

func (d *Driver) h() Handlers {
	d.handlersMu.RLock()
	defer d.handlersMu.RUnlock()
	return d.handlers
}

// Name returns the configured device name.
func (d *Driver) Name() string {
	return d.cfg.Name
}

// Port returns the configured endpoint.
func (d *Driver) Port() string {
	return d.opener.String()
}

// Enqueue queues cmd, blocking while the queue is full until ctx ends.
func (d *Driver) Enqueue(ctx context.Context, cmd Command) error {
	err := d.queue.Put(ctx, cmd)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, queue.ErrClosed):
		return ErrClosed
	default:
		return fmt.Errorf("%w: %w", ErrQueueFull, err)
	}
}

// TryEnqueue queues cmd without blocking.
func (d *Driver) TryEnqueue(cmd Command) error {
	err := d.queue.TryPut(cmd)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, queue.ErrClosed):
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Interrupt drops every queued command and writes cmd at the next
// opportunity, ignoring the send gate. It returns the number of queued
// commands dropped. A pending interrupt is replaced by a newer one.
func (d *Driver) Interrupt(cmd Command) int {
	dropped := len(d.queue.Drain())
	for {
		select {
		case d.interrupts <- cmd:
			return dropped
		default:
		}
		select {
		case <-d.interrupts:
		default:
		}
	}
}

// IsConnected reports whether the device link is up.
func (d *Driver) IsConnected() bool {
	return d.connected.Load()
}

// Stats returns a snapshot of the counters.
func (d *Driver) Stats() Stats {
	return Stats{
		CommandsWritten: d.commandsWritten.Load(),
		ChunksReceived:  d.chunksReceived.Load(),
		EventsDecoded:   d.eventsDecoded.Load(),
		InvalidData:     d.invalidData.Load(),
		WriteErrors:     d.writeErrors.Load(),
		ReplyTimeouts:   d.replyTimeouts.Load(),
		Reconnects:      d.reconnects.Load(),
		QueueDepth:      d.queue.Len(),
		Connected:       d.connected.Load(),
		LastActivity:    time.Unix(0, d.lastActivity.Load()),
	}
}

// Close stops Run and rejects further commands with ErrClosed. Commands
// still queued are never written. Close is idempotent and does not wait
// for Run to return.
func (d *Driver) Close() error {
	d.queue.Close()
	d.done.Close()
	return nil
}

// Run connects and services the device until ctx is cancelled or Close is
// called, and then returns nil.
//
// Failed opens and lost links are retried forever, ReconnectInterval
// apart; only the first failure of a streak is logged at warn level.
// After each connect the OnConnect commands are written first, then a
// command whose write failed on the previous link, then the queue.
//
// Run returns ErrAlreadyRunning if another call is active.
func (d *Driver) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	attempts := 0
	lost := false
	for {
		port, err := d.opener.Open(ctx)
		if err != nil {
			if attempts == 0 {
				d.log().Warn("device connect failed, retrying",
					"device", d.cfg.Name, "port", d.opener.String(),
					"interval", d.cfg.ReconnectInterval, "error", err)
			} else {
				d.log().Debug("device connect failed", "device", d.cfg.Name, "attempt", attempts+1, "error", err)
			}
			attempts++
		} else {
			if lost {
				d.reconnects.Add(1)
			}
			attempts = 0
			err = d.session(ctx, port)
			if d.stopped(ctx) {
				return nil
			}
			lost = true
			d.log().Warn("device connection lost", "device", d.cfg.Name, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-d.done.Done():
			return nil
		case <-time.After(d.cfg.ReconnectInterval):
		}
	}
}

func (d *Driver) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-d.done.Done():
		return true
	default:
		return false
	}
}

// gate tracks the send discipline for one connection.
type gate struct {
	mode        GateMode
	prompt      bool
	outstanding *Command
	timer       *time.Timer
}

func (g *gate) open() bool {
	switch g.mode {
	case GatePrompt:
		return g.prompt
	case GateReply:
		return g.outstanding == nil
	default:
		return true
	}
}

func (g *gate) timeout() <-chan time.Time {
	if g.timer == nil {
		return nil
	}
	return g.timer.C
}

func (g *gate) release() {
	g.outstanding = nil
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// session services one open port until it fails or the driver stops.
func (d *Driver) session(ctx context.Context, port Port) (err error) {
	portName := d.opener.String()
	d.decoder.Reset()

	data := make(chan []byte, readChanSize)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go d.readLoop(port, data, readErr, stop, &wg)

	g := &gate{mode: d.cfg.Gate}
	defer func() {
		g.release()
		close(stop)
		if err := port.Close(); err != nil {
			d.log().Debug("port close failed", "device", d.cfg.Name, "error", err)
		}
		wg.Wait()
		d.connected.Store(false)
		if !d.stopped(ctx) {
			if fn := d.h().OnDisconnect; fn != nil {
				fn(portName, err)
			}
		}
	}()

	d.connected.Store(true)
	d.log().Info("device connected", "device", d.cfg.Name, "port", portName)
	if fn := d.h().OnConnect; fn != nil {
		fn(portName)
	}

	for _, cmd := range d.cfg.OnConnect {
		if err := d.write(port, cmd, g); err != nil {
			return err
		}
	}

	for {
		select {
		case cmd := <-d.interrupts:
			if err := d.interrupt(port, cmd, g); err != nil {
				return err
			}
			continue
		default:
		}

		var queued <-chan struct{}
		if g.open() {
			if d.retry != nil {
				cmd := *d.retry
				d.retry = nil
				d.log().Info("retrying command after reconnect", "device", d.cfg.Name, "command", cmd.Text)
				if err := d.send(port, cmd, g); err != nil {
					return err
				}
				continue
			}
			queued = d.queue.Ready()
			if cmd, ok := d.queue.TryGet(); ok {
				if err := d.send(port, cmd, g); err != nil {
					return err
				}
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.done.Done():
			return ErrClosed
		case err := <-readErr:
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		case chunk := <-data:
			d.handleChunk(chunk, g)
		case cmd := <-d.interrupts:
			if err := d.interrupt(port, cmd, g); err != nil {
				return err
			}
		case <-g.timeout():
			d.replyTimedOut(g)
		case <-queued:
		}
	}
}

// interrupt writes cmd ahead of everything else. It supersedes a pending
// retry and an outstanding reply.
func (d *Driver) interrupt(port Port, cmd Command, g *gate) error {
	d.log().Warn("interrupt", "device", d.cfg.Name, "command", cmd.Text)
	d.retry = nil
	g.release()
	return d.send(port, cmd, g)
}

// send writes cmd, parking it in the retry slot when the write fails.
func (d *Driver) send(port Port, cmd Command, g *gate) error {
	if err := d.write(port, cmd, g); err != nil {
		d.retry = &cmd
		return err
	}
	return nil
}

func (d *Driver) write(port Port, cmd Command, g *gate) error {
	if _, err := port.Write(cmd.Payload); err != nil {
		d.writeErrors.Add(1)
		return fmt.Errorf("%w: write %q: %w", ErrConnectionLost, cmd.Text, err)
	}
	d.commandsWritten.Add(1)
	d.lastActivity.Store(time.Now().UnixNano())

	switch g.mode {
	case GatePrompt:
		g.prompt = false
	case GateReply:
		g.release()
		c := cmd
		g.outstanding = &c
		g.timer = time.NewTimer(d.cfg.ResponseTimeout)
	}

	d.log().Debug("command written", "device", d.cfg.Name, "command", cmd.Text)
	if fn := d.h().OnWrite; fn != nil {
		fn(cmd)
	}
	return nil
}

func (d *Driver) handleChunk(chunk []byte, g *gate) {
	d.chunksReceived.Add(1)
	d.lastActivity.Store(time.Now().UnixNano())

	onEvent := d.h().OnEvent
	for _, ev := range d.decoder.Decode(chunk) {
		d.eventsDecoded.Add(1)
		switch ev.Category {
		case protocol.CategoryReady:
			g.prompt = true
		case protocol.CategoryAck, protocol.CategoryStateChange:
			g.prompt = false
		}
		if ev.Completes && g.mode == GateReply {
			g.release()
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}
}

func (d *Driver) replyTimedOut(g *gate) {
	cmd := g.outstanding
	g.release()
	d.replyTimeouts.Add(1)
	if cmd == nil {
		return
	}
	d.log().Warn("no reply from device", "device", d.cfg.Name, "command", cmd.Text, "timeout", d.cfg.ResponseTimeout)
	if fn := d.h().OnReplyTimeout; fn != nil {
		fn(*cmd)
	}
}

func (d *Driver) handleInvalid(data []byte, err error) {
	d.invalidData.Add(1)
	d.log().Debug("invalid device data", "device", d.cfg.Name, "data", fmt.Sprintf("%q", data), "error", err)
	if fn := d.h().OnInvalid; fn != nil {
		fn(data, err)
	}
}

// readLoop copies port reads to data until the port fails or stop closes.
func (d *Driver) readLoop(port Port, data chan<- []byte, readErr chan<- error, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case data <- chunk:
			case <-stop:
				return
			}
		}
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
	}
}
