package statuslog

import (
	"fmt"
	"maps"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shieldgrid/gridctl/internal/protocol"
)

// DefaultDepth is the default history length per category.
const DefaultDepth = 100

// AllCategories subscribes to every category.
const AllCategories = "*"

// Synthetic keys added to CurrentState.
const (
	KeyReady     = "ready"
	KeyConnected = "connected"
)

// Entry is one admitted record.
type Entry struct {
	Seq      uint64            `json:"seq"`
	Time     time.Time         `json:"time"`
	Category string            `json:"category"`
	Payload  string            `json:"payload"`
	Values   map[string]string `json:"values,omitempty"`
}

// Subscriber receives admitted entries.
type Subscriber func(Entry) error

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type subscription struct {
	id       uint64
	category string
	fn       Subscriber
}

// ring is a fixed-size history, oldest first.
type ring struct {
	entries []Entry
	next    int
	full    bool
}

func newRing(depth int) *ring {
	return &ring{entries: make([]Entry, depth)}
}

func (r *ring) add(e Entry) {
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) list() []Entry {
	if !r.full {
		out := make([]Entry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}

// Log records device activity.
//
// Thread Safety: All methods are safe for concurrent use.
type Log struct {
	mu        sync.Mutex
	depth     int
	seq       uint64
	history   map[string]*ring
	state     map[string]string
	ready     bool
	connected bool

	subsMu sync.RWMutex
	subs   []subscription
	nextID uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a log keeping depth entries per category. A depth below one
// uses DefaultDepth.
func New(depth int) *Log {
	if depth < 1 {
		depth = DefaultDepth
	}
	return &Log{
		depth:   depth,
		history: make(map[string]*ring),
		state:   make(map[string]string),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger used for subscriber failures.
func (l *Log) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	defer l.loggerMu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	l.logger = logger
}

func (l *Log) log() Logger {
	l.loggerMu.RLock()
	defer l.loggerMu.RUnlock()
	return l.logger
}

// Record appends payload to category's history and notifies subscribers.
// For the status category the payload is parsed as a status blob and only
// admitted when it changes at least one value. It reports whether the
// entry was admitted.
func (l *Log) Record(category, payload string) bool {
	if category == protocol.LogStatus {
		values, err := protocol.ParseStatus(payload)
		if err != nil {
			l.log().Warn("status payload rejected", "payload", payload, "error", err)
			return false
		}
		return l.RecordStatus(values)
	}

	e := l.admit(category, payload, nil)
	l.notify(e)
	return true
}

// RecordStatus merges values into the current state. Only the changed
// keys are recorded; nothing is recorded when nothing changed.
func (l *Log) RecordStatus(values map[string]string) bool {
	l.mu.Lock()
	changed := make(map[string]string)
	for k, v := range values {
		if cur, ok := l.state[k]; ok && cur == v {
			continue
		}
		l.state[k] = v
		changed[k] = v
	}
	if len(changed) == 0 {
		l.mu.Unlock()
		return false
	}
	e := l.appendLocked(protocol.LogStatus, protocol.FormatStatus(changed), changed)
	l.mu.Unlock()

	l.notify(e)
	return true
}

func (l *Log) admit(category, payload string, values map[string]string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(category, payload, values)
}

func (l *Log) appendLocked(category, payload string, values map[string]string) Entry {
	l.seq++
	e := Entry{
		Seq:      l.seq,
		Time:     time.Now(),
		Category: category,
		Payload:  payload,
		Values:   values,
	}
	r, ok := l.history[category]
	if !ok {
		r = newRing(l.depth)
		l.history[category] = r
	}
	r.add(e)
	return e
}

// Subscribe registers fn for category (or AllCategories) and returns a
// function that removes it.
func (l *Log) Subscribe(category string, fn Subscriber) (unsubscribe func()) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()

	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, subscription{id: id, category: category, fn: fn})

	return func() {
		l.subsMu.Lock()
		defer l.subsMu.Unlock()
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

func (l *Log) notify(e Entry) {
	l.subsMu.RLock()
	subs := make([]subscription, 0, len(l.subs))
	for _, s := range l.subs {
		if s.category == e.Category || s.category == AllCategories {
			subs = append(subs, s)
		}
	}
	l.subsMu.RUnlock()

	for _, s := range subs {
		l.deliver(s, e)
	}
}

func (l *Log) deliver(s subscription, e Entry) {
	defer func() {
		if r := recover(); r != nil {
			l.log().Error("status subscriber panicked", "category", e.Category, "panic", fmt.Sprint(r))
		}
	}()
	if err := s.fn(e); err != nil {
		l.log().Warn("status subscriber failed", "category", e.Category, "error", err)
	}
}

// SetReady updates the synthetic ready flag.
func (l *Log) SetReady(ready bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready = ready
}

// SetConnected updates the synthetic connected flag.
func (l *Log) SetConnected(connected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = connected
}

// CurrentState returns a snapshot of the merged status values plus the
// synthetic ready and connected flags.
func (l *Log) CurrentState() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]string, len(l.state)+2)
	maps.Copy(out, l.state)
	out[KeyReady] = strconv.FormatBool(l.ready)
	out[KeyConnected] = strconv.FormatBool(l.connected)
	return out
}

// History returns category's retained entries, oldest first.
func (l *Log) History(category string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.history[category]
	if !ok {
		return nil
	}
	return r.list()
}

// Categories returns the categories with at least one entry, sorted.
func (l *Log) Categories() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.history))
	for c := range l.history {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
