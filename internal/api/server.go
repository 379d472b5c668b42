package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
	"github.com/shieldgrid/gridctl/internal/infrastructure/logging"
	"github.com/shieldgrid/gridctl/internal/statuslog"
)

const shutdownTimeout = 10 * time.Second

// Live feed channels.
const (
	ChannelStatus = "status"
	ChannelBus    = "bus"
)

var (
	ErrMissingDependency = errors.New("api: missing dependency")
	ErrNotStarted        = errors.New("api: server not started")
)

// Deps is what New needs. Logger and Source are required.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Port    int
	Logger  *logging.Logger
	Source  Source
	Version string

	// StatusLog, when set, is streamed on the "status" channel.
	StatusLog *statuslog.Log

	// Health, when set, checks the process's outside connections; a
	// failure shows as "degraded" on /api/v1/health.
	Health func(ctx context.Context) error
}

// Server is the status API of one gridctl process.
//
// Thread Safety: safe for concurrent use once started.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	port      int
	logger    *logging.Logger
	source    Source
	statusLog *statuslog.Log
	health    func(ctx context.Context) error
	version   string
	started   time.Time
	hub       *Hub

	server    *http.Server
	listener  net.Listener
	stopHub   context.CancelFunc
	unsub     func()
	closeOnce sync.Once
	closeErr  error
}

// New builds a server; nothing listens until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	case deps.Source == nil:
		return nil, fmt.Errorf("%w: source", ErrMissingDependency)
	}
	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		port:      deps.Port,
		logger:    deps.Logger,
		source:    deps.Source,
		statusLog: deps.StatusLog,
		health:    deps.Health,
		version:   deps.Version,
		started:   time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start binds the port and serves in the background until Close. The
// status log, if any, is relayed to feed clients from here on.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.port)))
	if err != nil {
		return fmt.Errorf("listening for API: %w", err)
	}
	s.listener = ln

	hubCtx, cancel := context.WithCancel(ctx)
	s.stopHub = cancel
	go s.hub.Run(hubCtx)

	if s.statusLog != nil {
		s.unsub = s.statusLog.Subscribe(statuslog.AllCategories, func(e statuslog.Entry) error {
			s.hub.Broadcast(ChannelStatus, e)
			return nil
		})
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}()
	s.logger.Info("API listening", "address", ln.Addr().String(), "source", s.source.Name())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Broadcast sends payload to feed clients subscribed to channel.
func (s *Server) Broadcast(channel string, payload any) {
	s.hub.Broadcast(channel, payload)
}

// Close detaches from the status log, disconnects feed clients and gives
// in-flight requests up to ten seconds. Later calls return the first
// result.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		if s.unsub != nil {
			s.unsub()
		}
		s.stopHub()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.closeErr = fmt.Errorf("shutting down API server: %w", err)
		}
		s.logger.Info("API stopped")
	})
	return s.closeErr
}

// HealthCheck reports ErrNotStarted before Start.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return ErrNotStarted
	}
	return nil
}
