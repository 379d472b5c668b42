package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
	"github.com/shieldgrid/gridctl/internal/infrastructure/logging"
)

// Feed message types. Clients send subscribe, unsubscribe and ping; the
// server sends event, ack, pong and error.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
	MsgPong        = "pong"
	MsgEvent       = "event"
	MsgAck         = "ack"
	MsgError       = "error"
)

const feedBufferSize = 256

// FeedMessage is the single envelope used in both directions on /ws.
type FeedMessage struct {
	Type     string    `json:"type"`
	ID       string    `json:"id,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	Channels []string  `json:"channels,omitempty"`
	Time     time.Time `json:"time,omitzero"`
	Data     any       `json:"data,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// channelSet is a bitmask of feed channels.
type channelSet uint32

const (
	chanStatus channelSet = 1 << iota
	chanBus
)

func channelBit(name string) channelSet {
	switch name {
	case ChannelStatus:
		return chanStatus
	case ChannelBus:
		return chanBus
	}
	return 0
}

func parseChannels(names []string) (channelSet, error) {
	var set channelSet
	for _, n := range names {
		bit := channelBit(strings.TrimSpace(n))
		if bit == 0 {
			return 0, fmt.Errorf("unknown channel %q", n)
		}
		set |= bit
	}
	return set, nil
}

func (s channelSet) names() []string {
	out := []string{}
	if s&chanStatus != 0 {
		out = append(out, ChannelStatus)
	}
	if s&chanBus != 0 {
		out = append(out, ChannelBus)
	}
	return out
}

// Hub fans broadcasts out to the connected feed clients. A client whose
// buffer is full misses the message; misses are counted, never waited on.
//
// Thread Safety: all methods are safe for concurrent use.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.Mutex
	clients map[*feedClient]struct{}

	dropped atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger, clients: make(map[*feedClient]struct{})}
}

// Run waits for ctx and then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*feedClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

func (h *Hub) register(c *feedClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("feed client connected", "clients", n)
}

// unregister is idempotent.
func (h *Hub) unregister(c *feedClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	if ok {
		h.logger.Debug("feed client disconnected", "clients", n)
	}
}

// Broadcast sends payload as an event on channel to its subscribers.
func (h *Hub) Broadcast(channel string, payload any) {
	bit := channelBit(channel)
	if bit == 0 {
		h.logger.Warn("broadcast on unknown feed channel", "channel", channel)
		return
	}
	data, err := json.Marshal(FeedMessage{Type: MsgEvent, Channel: channel, Time: time.Now().UTC(), Data: payload})
	if err != nil {
		h.logger.Error("encoding feed event", "channel", channel, "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed()&bit != 0 {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many messages slow clients have missed.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

type feedClient struct {
	hub      *Hub
	conn     *websocket.Conn
	out      chan []byte
	done     chan struct{}
	once     sync.Once
	channels atomic.Uint32
}

func newFeedClient(hub *Hub, conn *websocket.Conn, set channelSet) *feedClient {
	c := &feedClient{
		hub:  hub,
		conn: conn,
		out:  make(chan []byte, feedBufferSize),
		done: make(chan struct{}),
	}
	c.channels.Store(uint32(set))
	return c
}

func (c *feedClient) subscribed() channelSet {
	return channelSet(c.channels.Load())
}

func (c *feedClient) close() {
	c.once.Do(func() { close(c.done) })
}

// enqueue never blocks. It reports whether data was queued.
func (c *feedClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- data:
		return true
	default:
		c.hub.dropped.Add(1)
		return false
	}
}

func (c *feedClient) reply(msg FeedMessage) {
	msg.Time = time.Now().UTC()
	if data, err := json.Marshal(msg); err == nil {
		c.enqueue(data)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are filtered by the cors middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleFeed upgrades to a feed connection. "?channels=status,bus"
// subscribes up front.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	var set channelSet
	if q := r.URL.Query().Get("channels"); q != "" {
		var err error
		if set, err = parseChannels(strings.Split(q, ",")); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("feed upgrade failed", "error", err)
		return
	}

	c := newFeedClient(s.hub, conn, set)
	s.hub.register(c)
	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

func (c *feedClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(wait)) }
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("feed read failed", "error", err)
			}
			return
		}
		_ = extend("")
		c.handle(data)
	}
}

func (c *feedClient) writeLoop(cfg config.WebSocketConfig) {
	ping := time.Duration(cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}
	wait := time.Duration(cfg.PongTimeout) * time.Second
	if wait <= 0 {
		wait = 10 * time.Second
	}
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wait))
		return c.conn.WriteMessage(kind, data)
	}
	for {
		select {
		case <-c.done:
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case data := <-c.out:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *feedClient) handle(data []byte) {
	var msg FeedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(FeedMessage{Type: MsgError, Error: "invalid JSON"})
		return
	}

	switch msg.Type {
	case MsgSubscribe, MsgUnsubscribe:
		set, err := parseChannels(msg.Channels)
		if err != nil {
			c.reply(FeedMessage{Type: MsgError, ID: msg.ID, Error: err.Error()})
			return
		}
		if msg.Type == MsgSubscribe {
			c.channels.Or(uint32(set))
		} else {
			c.channels.And(^uint32(set))
		}
		c.reply(FeedMessage{Type: MsgAck, ID: msg.ID, Channels: c.subscribed().names()})
	case MsgPing:
		c.reply(FeedMessage{Type: MsgPong, ID: msg.ID})
	default:
		c.reply(FeedMessage{Type: MsgError, ID: msg.ID, Error: "unknown message type " + msg.Type})
	}
}
