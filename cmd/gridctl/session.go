package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/shieldgrid/gridctl/internal/api"
	"github.com/shieldgrid/gridctl/internal/bus"
	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
	"github.com/shieldgrid/gridctl/internal/infrastructure/influxdb"
	"github.com/shieldgrid/gridctl/internal/infrastructure/logging"
	"github.com/shieldgrid/gridctl/internal/infrastructure/mqtt"
	"github.com/shieldgrid/gridctl/internal/statuslog"
)

// loadConfig reads the file named by --config / GRIDCTL_CONFIG and applies
// --log-level.
func loadConfig(v *viper.Viper) (*config.Config, string, error) {
	path := v.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	if level := v.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, path, nil
}

// session is one process's connection to the bus plus the resources that
// must be released on exit.
type session struct {
	log     *logging.Logger
	client  *mqtt.Client
	influx  *influxdb.Client
	bus     *bus.Adapter
	closers []func() error
}

// joinBus connects to the broker under a per-nick client id and prepares
// the bus adapter. Start is left to the caller so handlers can be
// registered first.
func joinBus(cfg *config.Config, nick string, log *logging.Logger) (*session, error) {
	mcfg := cfg.MQTT
	mcfg.Broker.ClientID = fmt.Sprintf("%s-%s", cfg.MQTT.Broker.ClientID, nick)

	client, err := mqtt.Connect(mcfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		st := client.Stats()
		log.Info("MQTT reconnected", "connects", st.Connects, "lost", st.ConnectionsLost, "subscriptions", st.Subscriptions)
	})
	client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mcfg.Broker.ClientID,
	)

	adapter := bus.New(client, client.Topics(), bus.Config{
		Nick:    nick,
		Channel: cfg.Bus.Channel,
		QoS:     byte(cfg.MQTT.QoS), //nolint:gosec // validated 0..2
	})
	adapter.SetLogger(log)

	s := &session{log: log, client: client, bus: adapter}
	s.onClose(client.Close)
	return s, nil
}

// start joins the channel; leaving it is deferred.
func (s *session) start() error {
	if err := s.bus.Start(); err != nil {
		return err
	}
	s.onClose(func() error {
		err := s.bus.Stop()
		st := s.bus.Stats()
		s.log.Info("left bus", "published", st.Published, "received", st.Received, "dropped", st.Dropped, "malformed", st.Malformed)
		return err
	})
	s.log.Info("joined bus", "nick", s.bus.Nick(), "channel", s.bus.Channel())
	return nil
}

func (s *session) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// serveAPI starts the status API on port. Port 0 disables it.
func (s *session) serveAPI(ctx context.Context, cfg *config.Config, port int, src api.Source, log *statuslog.Log) (*api.Server, error) {
	if port == 0 {
		return nil, nil
	}
	srv, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Port:      port,
		Logger:    s.log,
		Source:    src,
		StatusLog: log,
		Health:    s.healthCheck,
		Version:   version,
	})
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	s.onClose(srv.Close)
	return srv, nil
}

// healthCheck verifies the broker connection and, when enabled, InfluxDB.
func (s *session) healthCheck(ctx context.Context) error {
	if err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if s.influx != nil {
		if err := s.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// close releases resources in reverse order and combines their errors.
func (s *session) close() error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i]())
	}
	s.closers = nil
	return err
}
