package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shieldgrid/gridctl/internal/infrastructure/mqtt"
)

// Message is one bus line.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Channel   string    `json:"channel"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives inbound lines. Handlers run one line at a time, in
// arrival order, on the adapter's dispatch goroutine, never on the
// transport's delivery goroutine. A handler may publish and wait for the
// broker's ack, but while it runs later lines queue behind it.
type Handler func(Message)

// Publisher publishes lines to the bus.
type Publisher interface {
	Publish(ctx context.Context, text string) error
}

// Transport is the subset of the MQTT client the adapter needs.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// defaultInboxSize bounds inbound lines waiting for the dispatch goroutine.
const defaultInboxSize = 1024

// Config configures an Adapter.
type Config struct {
	Nick    string
	Channel string
	QoS     byte

	// InboxSize bounds queued inbound lines; when full, new lines are
	// dropped and counted. Default: 1024.
	InboxSize int
}

// Stats holds adapter counters.
type Stats struct {
	Published uint64
	Received  uint64
	Ignored   uint64
	Malformed uint64
	Dropped   uint64
}

// Adapter joins one bus channel.
//
// Inbound payloads are decoded on the transport's delivery goroutine and
// handed to a buffered inbox; a single dispatch goroutine, running between
// Start and Stop, feeds them to the handlers. Handlers can therefore
// publish (and wait for the ack, which the transport reads on that same
// delivery goroutine) without stalling inbound traffic, and arrival order
// is kept.
//
// Thread Safety: All methods are safe for concurrent use.
type Adapter struct {
	transport Transport
	topics    mqtt.Topics
	cfg       Config

	started atomic.Bool
	inbox   chan Message

	runMu    sync.Mutex
	quit     chan struct{}
	dispatch sync.WaitGroup

	handlersMu sync.RWMutex
	handlers   []Handler

	logger   Logger
	loggerMu sync.RWMutex

	published atomic.Uint64
	received  atomic.Uint64
	ignored   atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
}

var _ Publisher = (*Adapter)(nil)

// New creates an adapter. Call Start to subscribe.
func New(transport Transport, topics mqtt.Topics, cfg Config) *Adapter {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	return &Adapter{
		transport: transport,
		topics:    topics,
		cfg:       cfg,
		inbox:     make(chan Message, cfg.InboxSize),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the adapter.
func (a *Adapter) SetLogger(logger Logger) {
	a.loggerMu.Lock()
	defer a.loggerMu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	a.logger = logger
}

func (a *Adapter) log() Logger {
	a.loggerMu.RLock()
	defer a.loggerMu.RUnlock()
	return a.logger
}

// Nick returns the local identity.
func (a *Adapter) Nick() string {
	return a.cfg.Nick
}

// Channel returns the joined channel.
func (a *Adapter) Channel() string {
	return a.cfg.Channel
}

// OnMessage registers h for inbound lines. Handlers run in registration order.
func (a *Adapter) OnMessage(h Handler) {
	a.handlersMu.Lock()
	defer a.handlersMu.Unlock()
	a.handlers = append(a.handlers, h)
}

// Start launches the dispatch goroutine and subscribes to the channel.
// Starting a started adapter is a no-op.
func (a *Adapter) Start() error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.started.Load() {
		return nil
	}

	quit := make(chan struct{})
	a.quit = quit
	a.dispatch.Add(1)
	go a.dispatchLoop(quit)

	a.started.Store(true)
	if err := a.transport.Subscribe(a.topics.Channel(a.cfg.Channel), a.cfg.QoS, a.handle); err != nil {
		a.started.Store(false)
		close(quit)
		a.dispatch.Wait()
		return fmt.Errorf("joining channel %s: %w", a.cfg.Channel, err)
	}
	return nil
}

// Stop leaves the channel and waits for the dispatch goroutine; a handler
// already running is allowed to finish. Lines still queued are dropped.
func (a *Adapter) Stop() error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.started.Swap(false) {
		return nil
	}
	err := a.transport.Unsubscribe(a.topics.Channel(a.cfg.Channel))
	close(a.quit)
	a.dispatch.Wait()
	for {
		select {
		case <-a.inbox:
		default:
			return err
		}
	}
}

func (a *Adapter) dispatchLoop(quit <-chan struct{}) {
	defer a.dispatch.Done()
	for {
		select {
		case <-quit:
			return
		case msg := <-a.inbox:
			a.dispatchOne(msg)
		}
	}
}

func (a *Adapter) dispatchOne(msg Message) {
	a.handlersMu.RLock()
	handlers := make([]Handler, len(a.handlers))
	copy(handlers, a.handlers)
	a.handlersMu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

// Publish sends text to the channel as the local nick.
func (a *Adapter) Publish(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.started.Load() {
		return ErrNotStarted
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	msg := Message{
		ID:        uuid.NewString(),
		Sender:    a.cfg.Nick,
		Channel:   a.cfg.Channel,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding bus message: %w", err)
	}
	if err := a.transport.Publish(a.topics.Channel(a.cfg.Channel), payload, a.cfg.QoS, false); err != nil {
		return err
	}
	a.published.Add(1)
	return nil
}

// PublishState publishes a retained snapshot of a device's state.
func (a *Adapter) PublishState(device string, state map[string]string) error {
	payload, err := json.Marshal(struct {
		Device    string            `json:"device"`
		State     map[string]string `json:"state"`
		Timestamp time.Time         `json:"timestamp"`
	}{device, state, time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	return a.transport.Publish(a.topics.DeviceState(device), payload, a.cfg.QoS, true)
}

// Stats returns the adapter counters.
func (a *Adapter) Stats() Stats {
	return Stats{
		Published: a.published.Load(),
		Received:  a.received.Load(),
		Ignored:   a.ignored.Load(),
		Malformed: a.malformed.Load(),
		Dropped:   a.dropped.Load(),
	}
}

func (a *Adapter) handle(topic string, payload []byte) error {
	msg, err := Decode(payload)
	if err != nil {
		a.malformed.Add(1)
		return fmt.Errorf("decoding bus message on %s: %w", topic, err)
	}
	if msg.Channel == "" {
		msg.Channel, _ = a.topics.ChannelFromTopic(topic)
	}
	if strings.EqualFold(msg.Sender, a.cfg.Nick) {
		a.ignored.Add(1)
		return nil
	}
	if !a.started.Load() {
		return nil
	}

	// Never block here: this is the transport's delivery goroutine, which
	// also reads the acks handlers may be waiting for.
	select {
	case a.inbox <- msg:
		a.received.Add(1)
		a.log().Debug("bus message", "sender", msg.Sender, "text", msg.Text)
		return nil
	default:
		a.dropped.Add(1)
		return fmt.Errorf("%w: dropped line from %s", ErrInboxFull, msg.Sender)
	}
}

// Decode parses a bus payload. A payload that is not a JSON object is
// taken as the text of an anonymous line.
func Decode(payload []byte) (Message, error) {
	trimmed := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(trimmed, "{") {
		if trimmed == "" {
			return Message{}, ErrEmptyText
		}
		return Message{Text: trimmed, Timestamp: time.Now().UTC()}, nil
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Text == "" {
		return Message{}, ErrEmptyText
	}
	return msg, nil
}
