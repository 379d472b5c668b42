package driver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shieldgrid/gridctl/internal/protocol"
)

// fakePort is an in-memory Port. Writes fail once failAfter writes succeeded
// (failAfter < 0 never fails).
type fakePort struct {
	mu        sync.Mutex
	writes    [][]byte
	failAfter int

	reads     chan []byte
	written   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		failAfter: -1,
		reads:     make(chan []byte, 16),
		written:   make(chan []byte, 64),
		closed:    make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case data := <-p.reads:
		return copy(b, data), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAfter >= 0 && len(p.writes) >= p.failAfter {
		return 0, errors.New("broken pipe")
	}
	cp := append([]byte(nil), b...)
	p.writes = append(p.writes, cp)
	p.written <- cp
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) feed(s string) {
	p.reads <- []byte(s)
}

// fakeOpener fails its first fails attempts, hands out its ports in order,
// then fails. Each attempt is reported on attempts when that is set.
type fakeOpener struct {
	mu       sync.Mutex
	ports    []*fakePort
	next     int
	fails    int
	attempts chan error
}

func (o *fakeOpener) Open(context.Context) (p Port, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer func() {
		if o.attempts != nil {
			o.attempts <- err
		}
	}()
	if o.fails > 0 {
		o.fails--
		return nil, errors.New("device busy")
	}
	if o.next >= len(o.ports) {
		return nil, errors.New("no such device")
	}
	fp := o.ports[o.next]
	o.next++
	return fp, nil
}

func (o *fakeOpener) String() string { return "/dev/fake0" }

func expectWrite(t *testing.T, p *fakePort, want string) {
	t.Helper()
	select {
	case got := <-p.written:
		if string(got) != want {
			t.Fatalf("write = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for write %q", want)
	}
}

func expectNoWrite(t *testing.T, p *fakePort, within time.Duration) {
	t.Helper()
	select {
	case got := <-p.written:
		t.Fatalf("unexpected write %q", got)
	case <-time.After(within):
	}
}

func cmd(text string) Command {
	return Command{Text: text, Payload: []byte(text)}
}

func startDriver(t *testing.T, d *Driver) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not stop")
		}
	})
}

func TestDriver_GateNoneWritesInOrder(t *testing.T) {
	port := newFakePort()
	d := New(Config{Name: "stepper", Gate: GateNone}, &fakeOpener{ports: []*fakePort{port}}, protocol.NewLineDecoder())

	for _, c := range []string{"F10", "R5", "F1"} {
		if err := d.TryEnqueue(cmd(c)); err != nil {
			t.Fatalf("TryEnqueue(%s) error = %v", c, err)
		}
	}
	startDriver(t, d)

	expectWrite(t, port, "F10")
	expectWrite(t, port, "R5")
	expectWrite(t, port, "F1")

	if got := d.Stats().CommandsWritten; got != 3 {
		t.Errorf("CommandsWritten = %d, want 3", got)
	}
}

func TestDriver_GatePromptWaitsForPrompt(t *testing.T) {
	port := newFakePort()
	d := New(Config{
		Name:      "bank",
		Gate:      GatePrompt,
		OnConnect: []Command{cmd("!poll 1\n")},
	}, &fakeOpener{ports: []*fakePort{port}}, protocol.NewLineDecoder())

	var mu sync.Mutex
	var events []protocol.Event
	d.SetHandlers(Handlers{OnEvent: func(ev protocol.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}})

	_ = d.TryEnqueue(cmd("charge_V 100\n"))
	_ = d.TryEnqueue(cmd("!chgPWR 1\n"))
	startDriver(t, d)

	expectWrite(t, port, "!poll 1\n")
	expectNoWrite(t, port, 50*time.Millisecond)

	port.feed("> \n")
	expectWrite(t, port, "charge_V 100\n")
	expectNoWrite(t, port, 50*time.Millisecond)

	// A state change clears the prompt again.
	port.feed("> \n! charging\n")
	expectNoWrite(t, port, 50*time.Millisecond)

	port.feed("R charged\n> \n")
	expectWrite(t, port, "!chgPWR 1\n")

	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 || events[len(events)-1].Category != protocol.CategoryReady {
		t.Errorf("last event = %+v, want ready", events)
	}
}

func TestDriver_GateReplyAndTimeout(t *testing.T) {
	port := newFakePort()
	codec := protocol.NewCRCCodec()
	d := New(Config{
		Name:            "bank",
		Gate:            GateReply,
		ResponseTimeout: 100 * time.Millisecond,
	}, &fakeOpener{ports: []*fakePort{port}}, protocol.NewFrameDecoder(protocol.NewCRCCodec()))

	timedOut := make(chan Command, 1)
	d.SetHandlers(Handlers{OnReplyTimeout: func(c Command) {
		select {
		case timedOut <- c:
		default:
		}
	}})

	_ = d.TryEnqueue(cmd("A"))
	_ = d.TryEnqueue(cmd("B"))
	_ = d.TryEnqueue(cmd("C"))
	startDriver(t, d)

	expectWrite(t, port, "A")
	expectNoWrite(t, port, 30*time.Millisecond)

	reply, _ := codec.Frame([]byte{16, 0, 0, 0, 0})
	port.feed(string(reply))
	expectWrite(t, port, "B")

	// No reply to B: the timeout releases the gate.
	select {
	case c := <-timedOut:
		if c.Text != "B" {
			t.Errorf("timed out command = %q, want B", c.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reply timeout not reported")
	}
	expectWrite(t, port, "C")

	if got := d.Stats().ReplyTimeouts; got < 1 {
		t.Errorf("ReplyTimeouts = %d, want >= 1", got)
	}
}

func TestDriver_ReconnectRetriesFailedWrite(t *testing.T) {
	first := newFakePort()
	first.failAfter = 1
	second := newFakePort()

	d := New(Config{
		Name:              "bank",
		Gate:              GateNone,
		ReconnectInterval: 10 * time.Millisecond,
		OnConnect:         []Command{cmd("!poll 1\n")},
	}, &fakeOpener{ports: []*fakePort{first, second}}, protocol.NewLineDecoder())

	disconnects := make(chan error, 1)
	d.SetHandlers(Handlers{OnDisconnect: func(_ string, err error) { disconnects <- err }})

	_ = d.TryEnqueue(cmd("A\n"))
	_ = d.TryEnqueue(cmd("B\n"))
	startDriver(t, d)

	expectWrite(t, first, "!poll 1\n")

	select {
	case err := <-disconnects:
		if !errors.Is(err, ErrConnectionLost) {
			t.Errorf("disconnect error = %v, want ErrConnectionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not reported")
	}

	expectWrite(t, second, "!poll 1\n")
	expectWrite(t, second, "A\n")
	expectWrite(t, second, "B\n")

	stats := d.Stats()
	if stats.Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", stats.Reconnects)
	}
	if stats.WriteErrors != 1 {
		t.Errorf("WriteErrors = %d, want 1", stats.WriteErrors)
	}
}

// A command queued while the device is unreachable goes out once, and
// only after the device prompts on the eventual connection.
func TestDriver_QueuedWhileDownWaitsForPromptAfterConnect(t *testing.T) {
	port := newFakePort()
	opener := &fakeOpener{ports: []*fakePort{port}, fails: 1, attempts: make(chan error, 8)}
	d := New(Config{
		Name:              "bank",
		Gate:              GatePrompt,
		ReconnectInterval: 50 * time.Millisecond,
	}, opener, protocol.NewLineDecoder())

	var mu sync.Mutex
	var order []string
	connected := make(chan struct{})
	d.SetHandlers(Handlers{
		OnConnect: func(string) { close(connected) },
		OnEvent: func(ev protocol.Event) {
			if ev.Category == protocol.CategoryReady {
				mu.Lock()
				order = append(order, "prompt")
				mu.Unlock()
			}
		},
		OnWrite: func(c Command) {
			mu.Lock()
			order = append(order, "write "+c.Text)
			mu.Unlock()
		},
	})
	startDriver(t, d)

	select {
	case err := <-opener.attempts:
		if err == nil {
			t.Fatal("first open succeeded, want failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no connection attempt")
	}
	if d.IsConnected() {
		t.Fatal("driver connected after a failed open")
	}
	if err := d.TryEnqueue(cmd("charge_V 100\n")); err != nil {
		t.Fatalf("TryEnqueue() while down error = %v", err)
	}

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not connect on retry")
	}
	expectNoWrite(t, port, 50*time.Millisecond)

	port.feed("> \n")
	expectWrite(t, port, "charge_V 100\n")
	expectNoWrite(t, port, 50*time.Millisecond)

	port.mu.Lock()
	writes := len(port.writes)
	port.mu.Unlock()
	if writes != 1 {
		t.Errorf("port writes = %d, want 1", writes)
	}
	if got := d.Stats().CommandsWritten; got != 1 {
		t.Errorf("CommandsWritten = %d, want 1", got)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"prompt", "write charge_V 100\n"}
	if len(order) != len(want) || order[0] != want[0] || order[1] != want[1] {
		t.Errorf("order = %q, want %q", order, want)
	}
}

func TestDriver_InterruptBypassesGateAndDropsQueue(t *testing.T) {
	port := newFakePort()
	connected := make(chan struct{})
	d := New(Config{Name: "bank", Gate: GatePrompt}, &fakeOpener{ports: []*fakePort{port}}, protocol.NewLineDecoder())
	d.SetHandlers(Handlers{OnConnect: func(string) { close(connected) }})

	_ = d.TryEnqueue(cmd("charge_V 100\n"))
	_ = d.TryEnqueue(cmd("pulse\n"))
	startDriver(t, d)
	<-connected

	if dropped := d.Interrupt(cmd("reset\n")); dropped != 2 {
		t.Errorf("Interrupt dropped %d, want 2", dropped)
	}
	expectWrite(t, port, "reset\n")

	port.feed("> \n")
	expectNoWrite(t, port, 50*time.Millisecond)
}

func TestDriver_QueueFull(t *testing.T) {
	d := New(Config{Name: "bank", QueueCapacity: 2}, &fakeOpener{}, protocol.NewLineDecoder())

	_ = d.TryEnqueue(cmd("a"))
	_ = d.TryEnqueue(cmd("b"))
	if err := d.TryEnqueue(cmd("c")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("TryEnqueue() error = %v, want ErrQueueFull", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Enqueue(ctx, cmd("c")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue() error = %v, want ErrQueueFull", err)
	}

	d.Close()
	if err := d.TryEnqueue(cmd("d")); !errors.Is(err, ErrClosed) {
		t.Errorf("TryEnqueue() after Close error = %v, want ErrClosed", err)
	}
}

func TestDriver_RunRetriesOpenUntilCancelled(t *testing.T) {
	d := New(Config{Name: "bank", ReconnectInterval: 5 * time.Millisecond}, &fakeOpener{}, protocol.NewLineDecoder())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil on cancel", err)
	}
	if d.IsConnected() {
		t.Error("driver should not report connected")
	}
}

func TestDriver_RunTwice(t *testing.T) {
	d := New(Config{Name: "bank", ReconnectInterval: time.Hour}, &fakeOpener{}, protocol.NewLineDecoder())
	startDriver(t, d)

	deadline := time.Now().Add(time.Second)
	for !d.running.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := d.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestDriver_InvalidDataCounted(t *testing.T) {
	port := newFakePort()
	d := New(Config{Name: "bank"}, &fakeOpener{ports: []*fakePort{port}}, protocol.NewLineDecoder())

	invalid := make(chan []byte, 1)
	d.SetHandlers(Handlers{OnInvalid: func(data []byte, _ error) { invalid <- data }})
	startDriver(t, d)

	port.feed("garbage\n")
	select {
	case data := <-invalid:
		if !bytes.Equal(data, []byte("garbage")) {
			t.Errorf("invalid data = %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("invalid data not reported")
	}
	if got := d.Stats().InvalidData; got != 1 {
		t.Errorf("InvalidData = %d, want 1", got)
	}
}

func TestMatchPort(t *testing.T) {
	ports := []PortInfo{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043", SerialNumber: "A603UX94"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "FT123"},
	}

	tests := []struct {
		selector string
		want     string
		wantErr  bool
	}{
		{selector: "2341:0043", want: "/dev/ttyACM0"},
		{selector: "0403:6001", want: "/dev/ttyUSB0"},
		{selector: "FT123", want: "/dev/ttyUSB0"},
		{selector: "dead:beef", wantErr: true},
		{selector: "nobody", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			got, err := matchPort(tt.selector, ports)
			if (err != nil) != tt.wantErr {
				t.Fatalf("matchPort() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrPortNotFound) {
				t.Errorf("error = %v, want ErrPortNotFound", err)
			}
			if got != tt.want {
				t.Errorf("matchPort() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolvePort_PlainPath(t *testing.T) {
	got, err := ResolvePort("/dev/ttyACM1")
	if err != nil || got != "/dev/ttyACM1" {
		t.Errorf("ResolvePort() = %q, %v", got, err)
	}
}
