package devices

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shieldgrid/gridctl/internal/bus"
	"github.com/shieldgrid/gridctl/internal/driver"
	"github.com/shieldgrid/gridctl/internal/protocol"
	"github.com/shieldgrid/gridctl/internal/statuslog"
)

// DefaultEnqueueTimeout bounds how long a bus command waits for queue space.
const DefaultEnqueueTimeout = 2 * time.Second

// Driver is the part of driver.Driver a Bot uses.
type Driver interface {
	Run(ctx context.Context) error
	Enqueue(ctx context.Context, cmd driver.Command) error
	Interrupt(cmd driver.Command) int
	SetHandlers(h driver.Handlers)
	IsConnected() bool
	Stats() driver.Stats
}

// StatePublisher publishes a retained device state snapshot.
type StatePublisher interface {
	PublishState(device string, state map[string]string) error
}

// Recorder exports device activity as time series.
type Recorder interface {
	WriteStatus(device string, values map[string]string) int
	WriteEvent(device, category, text string)
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

// BotConfig configures a Bot.
type BotConfig struct {
	// Name is the bus nick the device answers to.
	Name string

	// EnqueueTimeout bounds the wait for queue space. Default: 2s.
	EnqueueTimeout time.Duration

	// ResponseTimeout is reported when a reply-gated command gets no reply.
	ResponseTimeout time.Duration
}

// Bot connects one device to the bus.
//
// Thread Safety:
//   - HandleMessage may be called from any goroutine.
//   - Driver callbacks arrive on the driver's Run goroutine.
type Bot struct {
	cfg        BotConfig
	translator Translator
	drv        Driver
	log        *statuslog.Log
	pub        bus.Publisher

	mu       sync.RWMutex
	logger   Logger
	recorder Recorder

	unsubscribe func()
}

// NewBot wires translator, driver and status log together. It registers
// itself as the driver's handler set and as a status log subscriber.
func NewBot(cfg BotConfig, tr Translator, drv Driver, log *statuslog.Log, pub bus.Publisher) *Bot {
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = DefaultEnqueueTimeout
	}
	b := &Bot{
		cfg:        cfg,
		translator: tr,
		drv:        drv,
		log:        log,
		pub:        pub,
		logger:     noopLogger{},
	}
	drv.SetHandlers(driver.Handlers{
		OnEvent:        b.onEvent,
		OnWrite:        b.onWrite,
		OnConnect:      b.onConnect,
		OnDisconnect:   b.onDisconnect,
		OnInvalid:      b.onInvalid,
		OnReplyTimeout: b.onReplyTimeout,
	})
	b.unsubscribe = log.Subscribe(statuslog.AllCategories, b.report)
	return b
}

// SetLogger sets the logger for the bot.
func (b *Bot) SetLogger(logger Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
}

// SetRecorder enables time-series export. nil disables it.
func (b *Bot) SetRecorder(r Recorder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recorder = r
}

func (b *Bot) l() Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.logger
}

func (b *Bot) rec() Recorder {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.recorder
}

// Name returns the bot's nick.
func (b *Bot) Name() string { return b.cfg.Name }

// Kind returns the device kind.
func (b *Bot) Kind() string { return b.translator.Kind() }

// Log returns the device's status log.
func (b *Bot) Log() *statuslog.Log { return b.log }

// Stats returns the driver counters.
func (b *Bot) Stats() driver.Stats { return b.drv.Stats() }

// Run services the device until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	defer b.unsubscribe()
	return b.drv.Run(ctx)
}

// HandleMessage processes one bus line. A global STOP interrupts the
// device; lines addressed to the bot are translated and queued.
func (b *Bot) HandleMessage(msg bus.Message) {
	if bus.IsStop(msg.Text) {
		dropped := b.drv.Interrupt(b.translator.Stop())
		b.l().Warn("global stop", "device", b.cfg.Name, "from", msg.Sender, "dropped", dropped)
		b.log.Record(protocol.LogCommands, "STOP")
		return
	}

	cmd, ok := bus.Addressed(b.cfg.Name, msg.Text)
	if !ok || cmd == "" {
		return
	}
	if strings.EqualFold(cmd, "state") {
		b.publish("state: " + protocol.FormatStatus(b.log.CurrentState()))
		return
	}

	res, err := b.translator.Translate(cmd)
	if err != nil {
		var usage *UsageError
		if errors.As(err, &usage) {
			b.publish(usage.Text)
			return
		}
		b.l().Error("translate failed", "device", b.cfg.Name, "command", cmd, "error", err)
		b.publish("ERROR: " + err.Error())
		return
	}

	for _, r := range res.Replies {
		b.publish(r)
	}
	for _, c := range res.Commands {
		if err := b.enqueue(c); err != nil {
			b.l().Warn("command rejected", "device", b.cfg.Name, "command", c.Text, "error", err)
			b.publish(fmt.Sprintf("ERROR: %s is busy, dropped '%s'", b.cfg.Name, c.Text))
			return
		}
	}
}

func (b *Bot) enqueue(c driver.Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.EnqueueTimeout)
	defer cancel()
	return b.drv.Enqueue(ctx, c)
}

func (b *Bot) publish(text string) {
	if err := b.pub.Publish(context.Background(), text); err != nil {
		b.l().Warn("bus publish failed", "device", b.cfg.Name, "text", text, "error", err)
	}
}

func (b *Bot) onEvent(ev protocol.Event) {
	gate := b.translator.Gate()
	switch ev.Category {
	case protocol.CategoryReady:
		b.log.SetReady(true)
		return
	case protocol.CategoryHeartbeat:
		return
	case protocol.CategoryAck, protocol.CategoryStateChange:
		b.log.SetReady(false)
	}
	if ev.Completes && gate == driver.GateReply {
		b.log.SetReady(true)
	}

	if ev.Values != nil {
		b.log.RecordStatus(ev.Values)
		return
	}
	if cat := ev.Category.LogCategory(); cat != "" {
		b.log.Record(cat, ev.Payload)
	}
}

func (b *Bot) onWrite(c driver.Command) {
	gate := b.translator.Gate()
	if gate != driver.GateNone {
		b.log.SetReady(false)
	}
	// Prompt-gated firmware acknowledges commands itself.
	if gate != driver.GatePrompt {
		b.log.Record(protocol.LogCommands, c.Text)
	}
}

func (b *Bot) onConnect(port string) {
	b.log.SetConnected(true)
	b.log.SetReady(b.translator.Gate() != driver.GatePrompt)
	b.publish(fmt.Sprintf("%s connected to %s", b.cfg.Name, port))
}

func (b *Bot) onDisconnect(port string, err error) {
	b.log.SetConnected(false)
	b.log.SetReady(false)
	b.l().Warn("device disconnected", "device", b.cfg.Name, "port", port, "error", err)
	b.publish(fmt.Sprintf("%s lost connection to %s, retrying", b.cfg.Name, port))
}

func (b *Bot) onInvalid(data []byte, err error) {
	b.l().Warn("invalid device data", "device", b.cfg.Name, "data", fmt.Sprintf("%q", data), "error", err)
}

func (b *Bot) onReplyTimeout(c driver.Command) {
	b.log.SetReady(true)
	msg := fmt.Sprintf("no reply to '%s'", c.Text)
	if b.cfg.ResponseTimeout > 0 {
		msg = fmt.Sprintf("%s within %s", msg, b.cfg.ResponseTimeout)
	}
	b.log.Record(protocol.LogErrors, msg)
}

// report republishes admitted log entries as bus lines.
func (b *Bot) report(e statuslog.Entry) error {
	if r := b.rec(); r != nil {
		if e.Category == protocol.LogStatus {
			r.WriteStatus(b.cfg.Name, e.Values)
		} else {
			r.WriteEvent(b.cfg.Name, e.Category, e.Payload)
		}
	}

	switch e.Category {
	case protocol.LogReplies, protocol.LogEvents:
		return b.pub.Publish(context.Background(), e.Payload)

	case protocol.LogErrors:
		text := e.Payload
		if !strings.Contains(text, "ERROR") {
			text = "ERROR " + text
		}
		return b.pub.Publish(context.Background(), text)

	case protocol.LogStatus:
		if sp, ok := b.pub.(StatePublisher); ok {
			if err := sp.PublishState(b.cfg.Name, b.log.CurrentState()); err != nil {
				b.l().Debug("state publish failed", "device", b.cfg.Name, "error", err)
			}
		}
		keys := make([]string, 0, len(e.Values))
		for k := range e.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var errs []error
		for _, k := range keys {
			if err := b.pub.Publish(context.Background(), fmt.Sprintf("status: %s = %s", k, e.Values[k])); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return nil
}
