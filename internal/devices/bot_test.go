package devices

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shieldgrid/gridctl/internal/bus"
	"github.com/shieldgrid/gridctl/internal/driver"
	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
	"github.com/shieldgrid/gridctl/internal/protocol"
	"github.com/shieldgrid/gridctl/internal/statuslog"
)

type mockDriver struct {
	mu          sync.Mutex
	handlers    driver.Handlers
	queued      []driver.Command
	interrupted []driver.Command
	enqueueErr  error
}

func (m *mockDriver) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (m *mockDriver) Enqueue(_ context.Context, cmd driver.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.queued = append(m.queued, cmd)
	return nil
}

func (m *mockDriver) Interrupt(cmd driver.Command) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.queued)
	m.queued = nil
	m.interrupted = append(m.interrupted, cmd)
	return n
}

func (m *mockDriver) SetHandlers(h driver.Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = h
}

func (m *mockDriver) IsConnected() bool   { return false }
func (m *mockDriver) Stats() driver.Stats { return driver.Stats{} }

type mockPublisher struct {
	mu     sync.Mutex
	lines  []string
	states []map[string]string
}

func (m *mockPublisher) Publish(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, text)
	return nil
}

func (m *mockPublisher) PublishState(_ string, state map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
	return nil
}

func (m *mockPublisher) published() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

func (m *mockPublisher) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = nil
}

type mockRecorder struct {
	mu     sync.Mutex
	status []map[string]string
	events []string
}

func (m *mockRecorder) WriteStatus(_ string, values map[string]string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = append(m.status, values)
	return len(values)
}

func (m *mockRecorder) WriteEvent(_, category, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, category+":"+text)
}

func newTestBot(t *testing.T, kind, name string) (*Bot, *mockDriver, *mockPublisher) {
	t.Helper()
	tr, err := NewTranslator(kind, name)
	if err != nil {
		t.Fatalf("NewTranslator() error = %v", err)
	}
	drv := &mockDriver{}
	pub := &mockPublisher{}
	bot := NewBot(BotConfig{Name: name}, tr, drv, statuslog.New(10), pub)
	return bot, drv, pub
}

func msg(text string) bus.Message {
	return bus.Message{Sender: "operator", Text: text}
}

func TestBot_AddressedCommandQueued(t *testing.T) {
	bot, drv, pub := newTestBot(t, config.KindBankASCII, "bank")

	bot.HandleMessage(msg("Bank: charge 100"))
	bot.HandleMessage(msg("stepper: forward 5"))
	bot.HandleMessage(msg("bank:"))

	if len(drv.queued) != 1 || drv.queued[0].Text != "charge_V 100" {
		t.Fatalf("queued = %+v, want [charge_V 100]", drv.queued)
	}
	if got := pub.published(); len(got) != 0 {
		t.Errorf("published = %v, want nothing", got)
	}
}

func TestBot_UsageErrorPublished(t *testing.T) {
	bot, drv, pub := newTestBot(t, config.KindBankASCII, "bank")

	bot.HandleMessage(msg("bank: fire"))

	if len(drv.queued) != 0 {
		t.Errorf("queued = %+v, want none", drv.queued)
	}
	got := pub.published()
	if len(got) != 1 || got[0] != "Could not parse that. type 'bank: help' for help" {
		t.Errorf("published = %v", got)
	}
}

func TestBot_HelpRepliesImmediately(t *testing.T) {
	bot, drv, pub := newTestBot(t, config.KindStepper, "stepper")

	bot.HandleMessage(msg("stepper: help"))

	if len(drv.queued) != 0 {
		t.Errorf("queued = %+v, want none", drv.queued)
	}
	if got := pub.published(); len(got) == 0 || !strings.Contains(got[0], "stepper") {
		t.Errorf("published = %v, want help text", got)
	}
}

func TestBot_QueueFullPublishesError(t *testing.T) {
	bot, drv, pub := newTestBot(t, config.KindBankASCII, "bank")
	drv.enqueueErr = driver.ErrQueueFull

	bot.HandleMessage(msg("bank: pulse"))

	got := pub.published()
	if len(got) != 1 || !strings.HasPrefix(got[0], "ERROR: bank is busy") {
		t.Errorf("published = %v, want busy error", got)
	}
}

func TestBot_StopInterrupts(t *testing.T) {
	bot, drv, _ := newTestBot(t, config.KindBankASCII, "bank")

	bot.HandleMessage(msg("bank: charge 100"))
	bot.HandleMessage(msg("  STOP everything"))

	if len(drv.queued) != 0 {
		t.Errorf("queued = %+v, want drained", drv.queued)
	}
	if len(drv.interrupted) != 1 || drv.interrupted[0].Text != "reset" {
		t.Errorf("interrupted = %+v, want [reset]", drv.interrupted)
	}
}

func TestBot_ReportsDeviceEvents(t *testing.T) {
	bot, drv, pub := newTestBot(t, config.KindBankASCII, "bank")
	h := drv.handlers

	h.OnEvent(protocol.Event{Category: protocol.CategoryResponse, Payload: "charge_V 100"})
	h.OnEvent(protocol.Event{Category: protocol.CategoryError, Payload: "overvoltage"})
	h.OnEvent(protocol.Event{Category: protocol.CategoryError, Payload: "ERROR 4: overvoltage"})
	h.OnEvent(protocol.Event{Category: protocol.CategoryEvent, Payload: "pulse fired"})
	h.OnEvent(protocol.Event{Category: protocol.CategoryInfo, Payload: "firmware 2.1"})
	h.OnEvent(protocol.Event{Category: protocol.CategoryHeartbeat})

	want := []string{
		"charge_V 100",
		"ERROR overvoltage",
		"ERROR 4: overvoltage",
		"pulse fired",
	}
	got := pub.published()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("published = %q, want %q", got, want)
	}
	if n := len(bot.Log().History(protocol.LogInfo)); n != 1 {
		t.Errorf("info history = %d entries, want 1", n)
	}
}

func TestBot_StatusChangesPublished(t *testing.T) {
	bot, drv, pub := newTestBot(t, config.KindBankASCII, "bank")
	rec := &mockRecorder{}
	bot.SetRecorder(rec)
	h := drv.handlers

	h.OnEvent(protocol.Event{Category: protocol.CategoryStatus, Values: map[string]string{"hv": "100", "mode": "idle"}})
	h.OnEvent(protocol.Event{Category: protocol.CategoryStatus, Values: map[string]string{"hv": "100", "mode": "idle"}})
	h.OnEvent(protocol.Event{Category: protocol.CategoryStatus, Values: map[string]string{"hv": "120", "mode": "idle"}})

	want := []string{"status: hv = 100", "status: mode = idle", "status: hv = 120"}
	got := pub.published()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("published = %q, want %q", got, want)
	}
	if len(pub.states) != 2 {
		t.Errorf("state snapshots = %d, want 2", len(pub.states))
	}
	if len(rec.status) != 2 || rec.status[1]["hv"] != "120" {
		t.Errorf("recorded status = %v", rec.status)
	}
}

func TestBot_ReadyTracking(t *testing.T) {
	bot, drv, _ := newTestBot(t, config.KindBankASCII, "bank")
	h := drv.handlers
	ready := func() string { return bot.Log().CurrentState()[statuslog.KeyReady] }

	h.OnConnect("/dev/ttyACM0")
	if ready() != "false" {
		t.Errorf("ready after connect = %s, want false until prompt", ready())
	}
	h.OnEvent(protocol.Event{Category: protocol.CategoryReady})
	if ready() != "true" {
		t.Errorf("ready after prompt = %s, want true", ready())
	}
	h.OnWrite(driver.Command{Text: "pulse"})
	if ready() != "false" {
		t.Errorf("ready after write = %s, want false", ready())
	}
	if n := len(bot.Log().History(protocol.LogCommands)); n != 0 {
		t.Errorf("commands history = %d, want 0 for prompt-gated device", n)
	}
}

func TestBot_ReplyGateTracking(t *testing.T) {
	bot, drv, pub := newTestBot(t, config.KindBankBinary, "bank")
	h := drv.handlers
	ready := func() string { return bot.Log().CurrentState()[statuslog.KeyReady] }

	h.OnConnect("/dev/ttyUSB0")
	h.OnWrite(driver.Command{Text: "get hv_voltage"})
	if ready() != "false" {
		t.Errorf("ready with outstanding command = %s, want false", ready())
	}
	h.OnEvent(protocol.Event{Category: protocol.CategoryResponse, Payload: "get hv_voltage: OK, value = 3", Completes: true})
	if ready() != "true" {
		t.Errorf("ready after reply = %s, want true", ready())
	}

	pub.reset()
	h.OnWrite(driver.Command{Text: "pulse"})
	h.OnReplyTimeout(driver.Command{Text: "pulse"})
	got := pub.published()
	if len(got) != 1 || got[0] != "ERROR no reply to 'pulse'" {
		t.Errorf("published = %v, want reply timeout error", got)
	}
	if n := len(bot.Log().History(protocol.LogCommands)); n != 2 {
		t.Errorf("commands history = %d, want 2", n)
	}
}

func TestBot_ConnectivityMessages(t *testing.T) {
	bot, drv, pub := newTestBot(t, config.KindStepper, "stepper")
	h := drv.handlers

	h.OnConnect("/dev/ttyUSB1")
	if bot.Log().CurrentState()[statuslog.KeyConnected] != "true" {
		t.Error("connected flag not set")
	}
	h.OnDisconnect("/dev/ttyUSB1", errors.New("EOF"))
	if bot.Log().CurrentState()[statuslog.KeyConnected] != "false" {
		t.Error("connected flag not cleared")
	}

	want := []string{
		"stepper connected to /dev/ttyUSB1",
		"stepper lost connection to /dev/ttyUSB1, retrying",
	}
	if got := pub.published(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("published = %q, want %q", got, want)
	}
}

func TestBot_StateCommand(t *testing.T) {
	bot, drv, pub := newTestBot(t, config.KindBankASCII, "bank")
	drv.handlers.OnEvent(protocol.Event{Category: protocol.CategoryStatus, Values: map[string]string{"hv": "7"}})
	pub.reset()

	bot.HandleMessage(msg("bank: state"))

	got := pub.published()
	if len(got) != 1 || !strings.HasPrefix(got[0], "state: ") || !strings.Contains(got[0], "hv=7") {
		t.Errorf("published = %v, want state snapshot", got)
	}
}

func TestBot_RunUnsubscribes(t *testing.T) {
	bot, drv, pub := newTestBot(t, config.KindBankASCII, "bank")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bot.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	drv.handlers.OnEvent(protocol.Event{Category: protocol.CategoryEvent, Payload: "late"})
	if got := pub.published(); len(got) != 0 {
		t.Errorf("published after Run returned = %v", got)
	}
}
