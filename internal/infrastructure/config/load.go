package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Load reads path over the defaults, applies GRIDCTL_* environment
// overrides and validates the result. Validation reports every problem,
// not just the first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDeviceDefaults()

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Lab: LabConfig{ID: "lab-001", Name: "Shielded Grid"},
		MQTT: MQTTConfig{
			TopicPrefix: "gridctl",
			Broker:      MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "gridctl"},
			QoS:         1,
			Reconnect:   MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 30},
		},
		Bus: BusConfig{Channel: "system"},
		Sequencer: SequencerConfig{
			Nick:          "robot",
			BacklogSize:   100,
			WorkQueueSize: 3000,
			WaitTimeout:   time.Second,
		},
		API: APIConfig{
			Host:     "0.0.0.0",
			Timeouts: APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
		},
		WebSocket: WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Supervisor: SupervisorConfig{
			RestartDelay:    5 * time.Second,
			GracefulTimeout: 10 * time.Second,
		},
	}
}

// applyDeviceDefaults fills unset per-device values. Devices are a list,
// so they cannot be pre-seeded before unmarshalling like the sections are.
func (c *Config) applyDeviceDefaults() {
	for i := range c.Devices {
		d := &c.Devices[i]
		setDefault(&d.Baud, 115200)
		setDefault(&d.ReconnectInterval, 5*time.Second)
		setDefault(&d.ReadTimeout, 100*time.Millisecond)
		setDefault(&d.ResponseTimeout, 5*time.Second)
		setDefault(&d.QueueCapacity, 5)
		setDefault(&d.EnqueueTimeout, 2*time.Second)
		setDefault(&d.HistoryDepth, 100)
		// ASCII banks stay silent until told to report.
		if d.OnConnect == nil && d.Kind == KindBankASCII {
			d.OnConnect = []string{"!poll 1"}
		}
	}
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// envOverrides maps GRIDCTL_* variables onto config fields.
var envOverrides = []struct {
	name  string
	apply func(*Config, string) error
}{
	{"GRIDCTL_MQTT_HOST", func(c *Config, v string) error { c.MQTT.Broker.Host = v; return nil }},
	{"GRIDCTL_MQTT_PORT", func(c *Config, v string) error { return parseInt(v, &c.MQTT.Broker.Port) }},
	{"GRIDCTL_MQTT_CLIENT_ID", func(c *Config, v string) error { c.MQTT.Broker.ClientID = v; return nil }},
	{"GRIDCTL_MQTT_USERNAME", func(c *Config, v string) error { c.MQTT.Auth.Username = v; return nil }},
	{"GRIDCTL_MQTT_PASSWORD", func(c *Config, v string) error { c.MQTT.Auth.Password = v; return nil }},
	{"GRIDCTL_BUS_CHANNEL", func(c *Config, v string) error { c.Bus.Channel = v; return nil }},
	{"GRIDCTL_API_HOST", func(c *Config, v string) error { c.API.Host = v; return nil }},
	{"GRIDCTL_INFLUXDB_ENABLED", func(c *Config, v string) error { return parseBool(v, &c.InfluxDB.Enabled) }},
	{"GRIDCTL_INFLUXDB_URL", func(c *Config, v string) error { c.InfluxDB.URL = v; return nil }},
	{"GRIDCTL_INFLUXDB_TOKEN", func(c *Config, v string) error { c.InfluxDB.Token = v; return nil }},
	{"GRIDCTL_LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
}

func applyEnvOverrides(cfg *Config) error {
	var errs error
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", o.name, err))
		}
	}
	return errs
}

func parseInt(s string, dst *int) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseBool(s string, dst *bool) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}
