package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/shieldgrid/gridctl/internal/api"
	"github.com/shieldgrid/gridctl/internal/devices"
	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
	"github.com/shieldgrid/gridctl/internal/infrastructure/influxdb"
	"github.com/shieldgrid/gridctl/internal/infrastructure/logging"
)

func driverCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "driver <name>",
		Short: "Run the bot for one configured serial device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(v)
			if err != nil {
				return err
			}
			dc, err := cfg.Device(args[0])
			if err != nil {
				return err
			}
			log := logging.NewService(cfg.Logging, "gridctl-"+dc.Name, version)
			return runDriver(cmd.Context(), cfg, dc, log)
		},
	}
}

func runDriver(ctx context.Context, cfg *config.Config, dc config.DeviceConfig, log *logging.Logger) (err error) {
	log.Info("starting device bot", "device", dc.Name, "kind", dc.Kind, "port", dc.Port, "version", version, "commit", commit)

	s, err := joinBus(cfg, dc.Name, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.close()) }()

	bot, drv, err := devices.Build(dc, nil, s.bus)
	if err != nil {
		return fmt.Errorf("building device %s: %w", dc.Name, err)
	}
	s.onClose(drv.Close)
	drv.SetLogger(log.With("component", "driver"))
	bot.SetLogger(log)
	bot.Log().SetLogger(log)

	if cfg.InfluxDB.Enabled {
		ic, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		ic.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
		s.onClose(func() error {
			err := ic.Close()
			st := ic.Stats()
			log.Info("InfluxDB closed", "points", st.Points, "write_errors", st.WriteErrors)
			return err
		})
		s.influx = ic
		bot.SetRecorder(ic)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	s.bus.OnMessage(bot.HandleMessage)
	if err := s.start(); err != nil {
		return err
	}
	if err := s.healthCheck(ctx); err != nil {
		log.Warn("startup health check failed", "error", err)
	}
	if _, err := s.serveAPI(ctx, cfg, dc.APIPort, api.DeviceSource{Bot: bot}, bot.Log()); err != nil {
		return err
	}

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("device %s: %w", dc.Name, err)
	}
	log.Info("device bot stopped", "device", dc.Name)
	return nil
}
