package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shieldgrid/gridctl/internal/devices"
	"github.com/shieldgrid/gridctl/internal/driver"
	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
	"github.com/shieldgrid/gridctl/internal/infrastructure/logging"
	"github.com/shieldgrid/gridctl/internal/router"
	"github.com/shieldgrid/gridctl/internal/sequencer"
	"github.com/shieldgrid/gridctl/internal/statuslog"
)

// plainSource serves state and stats only.
type plainSource struct{}

func (plainSource) Name() string { return "scope" }
func (plainSource) State() any   { return map[string]string{"armed": "true"} }
func (plainSource) Stats() any   { return map[string]int{"frames": 3} }

// nopDriver satisfies devices.Driver without a port.
type nopDriver struct{}

func (nopDriver) Run(ctx context.Context) error                 { <-ctx.Done(); return nil }
func (nopDriver) Enqueue(context.Context, driver.Command) error { return nil }
func (nopDriver) Interrupt(driver.Command) int                  { return 0 }
func (nopDriver) SetHandlers(driver.Handlers)                   {}
func (nopDriver) IsConnected() bool                             { return true }
func (nopDriver) Stats() driver.Stats                           { return driver.Stats{CommandsWritten: 7} }

type mockPublisher struct {
	mu    sync.Mutex
	lines []string
}

func (m *mockPublisher) Publish(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, text)
	return nil
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "discard"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

func testServer(t *testing.T, src Source, log *statuslog.Log) *Server {
	t.Helper()
	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:        testWSConfig(),
		Logger:    testLogger(),
		Source:    src,
		StatusLog: log,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func deviceSource(t *testing.T) (DeviceSource, *statuslog.Log) {
	t.Helper()
	tr, err := devices.NewTranslator(config.KindBankBinary, "bank")
	if err != nil {
		t.Fatalf("NewTranslator: %v", err)
	}
	log := statuslog.New(10)
	bot := devices.NewBot(devices.BotConfig{Name: "bank"}, tr, nopDriver{}, log, &mockPublisher{})
	return DeviceSource{Bot: bot}, log
}

func robotSource() RobotSource {
	pub := &mockPublisher{}
	seq := sequencer.New(sequencer.Config{Nick: "robot"}, sequencer.NewState(10), pub)
	return RobotSource{Router: router.New(seq, pub, router.Config{}), Sequencer: seq}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return out
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Source: plainSource{}}); !errors.Is(err, ErrMissingDependency) {
		t.Errorf("New() without logger error = %v", err)
	}
	if _, err := New(Deps{Logger: testLogger()}); !errors.Is(err, ErrMissingDependency) {
		t.Errorf("New() without source error = %v", err)
	}

	srv := testServer(t, plainSource{}, nil)
	if err := srv.HealthCheck(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("HealthCheck() before Start = %v, want ErrNotStarted", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start = %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t, plainSource{}, nil)
	w := get(t, srv.buildRouter(), "/api/v1/health")

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	resp := decode(t, w)
	if resp["status"] != "ok" || resp["version"] != "test" || resp["name"] != "scope" {
		t.Errorf("health = %v", resp)
	}
}

func TestHealth_Degraded(t *testing.T) {
	srv := testServer(t, plainSource{}, nil)
	srv.health = func(context.Context) error { return errors.New("mqtt: not connected") }
	w := get(t, srv.buildRouter(), "/api/v1/health")

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode(t, w)
	if resp["status"] != "degraded" || resp["error"] != "mqtt: not connected" {
		t.Errorf("health = %v", resp)
	}
}

func TestRequestID(t *testing.T) {
	srv := testServer(t, plainSource{}, nil)
	h := srv.buildRouter()

	w := get(t, h, "/api/v1/health")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS(t *testing.T) {
	srv := testServer(t, plainSource{}, nil)
	srv.cfg.CORS.AllowedOrigins = []string{"http://bench.local"}
	h := srv.buildRouter()

	tests := []struct {
		origin string
		want   string
	}{
		{"http://bench.local", "http://bench.local"},
		{"http://elsewhere", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/state", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: ACAO = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestNotFound(t *testing.T) {
	srv := testServer(t, plainSource{}, nil)
	w := get(t, srv.buildRouter(), "/api/v1/nonexistent")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if resp := decode(t, w); resp["code"] != ErrCodeNotFound {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeNotFound)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := testServer(t, plainSource{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/state", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	if resp := decode(t, w); resp["code"] != ErrCodeMethodNotAllowed {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeMethodNotAllowed)
	}
}

func TestAccessLog_RecoversPanic(t *testing.T) {
	srv := testServer(t, plainSource{}, nil)
	h := requestID(srv.accessLog(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	})))

	w := get(t, h, "/boom")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if resp := decode(t, w); resp["code"] != ErrCodeInternal {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeInternal)
	}
}

func TestDeviceState(t *testing.T) {
	src, log := deviceSource(t)
	log.SetConnected(true)
	log.RecordStatus(map[string]string{"V": "1200"})

	srv := testServer(t, src, log)
	resp := decode(t, get(t, srv.buildRouter(), "/api/v1/state"))

	want := map[string]any{"V": "1200", "connected": "true", "ready": "false"}
	for k, v := range want {
		if resp[k] != v {
			t.Errorf("state[%s] = %v, want %v", k, resp[k], v)
		}
	}
}

func TestDeviceStats(t *testing.T) {
	src, log := deviceSource(t)
	srv := testServer(t, src, log)
	resp := decode(t, get(t, srv.buildRouter(), "/api/v1/stats"))
	if resp["CommandsWritten"] != float64(7) {
		t.Errorf("CommandsWritten = %v, want 7", resp["CommandsWritten"])
	}
}

func TestHistory(t *testing.T) {
	src, log := deviceSource(t)
	log.Record("ack", "charge : OK, value = 0")
	log.Record("ack", "pulse : OK, value = 0")

	srv := testServer(t, src, log)
	h := srv.buildRouter()

	resp := decode(t, get(t, h, "/api/v1/history/ack"))
	if resp["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", resp["count"])
	}
	entries := resp["entries"].([]any)
	first := entries[0].(map[string]any)
	if first["payload"] != "charge : OK, value = 0" {
		t.Errorf("first entry = %v, want oldest first", first["payload"])
	}

	cats := decode(t, get(t, h, "/api/v1/history"))
	if got := cats["categories"].([]any); len(got) != 1 || got[0] != "ack" {
		t.Errorf("categories = %v, want [ack]", got)
	}

	if w := get(t, h, "/api/v1/history/error"); w.Code != http.StatusNotFound {
		t.Errorf("empty category status = %d, want 404", w.Code)
	}
}

func TestHistory_NotKept(t *testing.T) {
	srv := testServer(t, plainSource{}, nil)
	w := get(t, srv.buildRouter(), "/api/v1/history/ack")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if resp := decode(t, w); resp["code"] != ErrCodeNotFound {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeNotFound)
	}
}

func TestMacros(t *testing.T) {
	src := robotSource()
	if err := src.Sequencer.LoadPrelude(context.Background(), `def blink(n) -> emit("bank: pulse")`); err != nil {
		t.Fatalf("LoadPrelude: %v", err)
	}

	srv := testServer(t, src, nil)
	h := srv.buildRouter()
	resp := decode(t, get(t, h, "/api/v1/macros"))

	found := map[string]bool{}
	for _, f := range resp["functions"].([]any) {
		fn := f.(map[string]any)
		found[fn["name"].(string)] = fn["builtin"].(bool)
	}
	if builtin, ok := found["emit"]; !ok || !builtin {
		t.Errorf("emit missing or not builtin: %v", found)
	}
	if builtin, ok := found["blink"]; !ok || builtin {
		t.Errorf("blink missing or marked builtin: %v", found)
	}

	if w := get(t, testServer(t, plainSource{}, nil).buildRouter(), "/api/v1/macros"); w.Code != http.StatusNotFound {
		t.Errorf("macros without sequencer status = %d, want 404", w.Code)
	}
}

func TestRobotState(t *testing.T) {
	src := robotSource()
	src.Sequencer.State().AppendBacklog("bank connected to /dev/ttyUSB0")

	srv := testServer(t, src, nil)
	resp := decode(t, get(t, srv.buildRouter(), "/api/v1/state"))
	if resp["backlog"] != float64(1) || resp["waiting"] != false {
		t.Errorf("state = %v", resp)
	}
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	srv := testServer(t, plainSource{}, nil)
	if w := get(t, srv.buildRouter(), "/ws?channels=status,video"); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func startServer(t *testing.T, src Source, log *statuslog.Log) *Server {
	t.Helper()
	srv := testServer(t, src, log)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func dial(t *testing.T, srv *Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws"+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) FeedMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg FeedMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocket_StreamsStatusLog(t *testing.T) {
	src, log := deviceSource(t)
	srv := startServer(t, src, log)
	conn := dial(t, srv, "?channels=status")

	log.Record("event", "Bank 1 switch change from OFF to ON")

	msg := readMessage(t, conn)
	if msg.Type != MsgEvent || msg.Channel != ChannelStatus {
		t.Fatalf("message = %+v, want status event", msg)
	}
	payload := msg.Data.(map[string]any)
	if payload["category"] != "event" || !strings.Contains(payload["payload"].(string), "switch change") {
		t.Errorf("payload = %v", payload)
	}

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestWebSocket_SubscribeMessage(t *testing.T) {
	srv := startServer(t, robotSource(), nil)
	conn := dial(t, srv, "")

	if err := conn.WriteJSON(FeedMessage{Type: MsgSubscribe, ID: "1", Channels: []string{ChannelBus}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readMessage(t, conn)
	if resp.Type != MsgAck || resp.ID != "1" || len(resp.Channels) != 1 || resp.Channels[0] != ChannelBus {
		t.Fatalf("subscribe response = %+v", resp)
	}

	srv.Broadcast(ChannelStatus, "not for this client")
	srv.Broadcast(ChannelBus, map[string]string{"text": "bank: pulse"})

	msg := readMessage(t, conn)
	if msg.Channel != ChannelBus {
		t.Errorf("channel = %q, want %q", msg.Channel, ChannelBus)
	}

	if err := conn.WriteJSON(FeedMessage{Type: MsgSubscribe, ID: "2", Channels: []string{"video"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := readMessage(t, conn); resp.Type != MsgError || resp.ID != "2" {
		t.Errorf("bad channel response = %+v, want error", resp)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv := startServer(t, robotSource(), nil)
	conn := dial(t, srv, "")

	if err := conn.WriteJSON(FeedMessage{Type: MsgPing, ID: "p"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := readMessage(t, conn); resp.Type != MsgPong || resp.ID != "p" {
		t.Errorf("response = %+v, want pong", resp)
	}

	if err := conn.WriteJSON(map[string]string{"type": "launch"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := readMessage(t, conn); resp.Type != MsgError {
		t.Errorf("response = %+v, want error", resp)
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	status := newFeedClient(hub, nil, chanStatus)
	bus := newFeedClient(hub, nil, chanBus)
	hub.register(status)
	hub.register(bus)

	hub.Broadcast(ChannelStatus, map[string]string{"category": "status"})
	hub.Broadcast("video", "ignored")

	select {
	case data := <-status.out:
		var msg FeedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != MsgEvent || msg.Channel != ChannelStatus || msg.Time.IsZero() {
			t.Errorf("event = %+v", msg)
		}
	default:
		t.Fatal("status subscriber got nothing")
	}

	select {
	case <-bus.out:
		t.Error("bus subscriber got a status event")
	default:
	}
}

func TestHub_DropsWhenFull(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	c := &feedClient{hub: hub, out: make(chan []byte, 1), done: make(chan struct{})}
	c.channels.Store(uint32(chanBus))
	hub.register(c)

	hub.Broadcast(ChannelBus, "first")
	hub.Broadcast(ChannelBus, "second")

	if got := hub.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	c := newFeedClient(hub, nil, chanStatus)

	hub.register(c)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}
	hub.unregister(c)
	hub.unregister(c)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
	if c.enqueue([]byte("late")) {
		t.Error("enqueue succeeded on a closed client")
	}
}

func TestHub_RunClosesClients(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	c := newFeedClient(hub, nil, chanBus)
	hub.register(c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	select {
	case <-c.done:
	default:
		t.Error("client not closed")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("count = %d after Run, want 0", hub.ClientCount())
	}
}

func TestParseChannels(t *testing.T) {
	tests := []struct {
		in      []string
		want    channelSet
		wantErr bool
	}{
		{in: nil, want: 0},
		{in: []string{"status"}, want: chanStatus},
		{in: []string{" bus", "status "}, want: chanStatus | chanBus},
		{in: []string{"status", "video"}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseChannels(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseChannels(%q) = %v, %v", tt.in, got, err)
		}
	}
	if names := (chanStatus | chanBus).names(); len(names) != 2 {
		t.Errorf("names() = %v", names)
	}
}
