package config

import (
	"fmt"
	"strings"
	"time"
)

// Device kinds understood by the driver command.
const (
	KindBankASCII  = "bank-ascii"
	KindBankBinary = "bank-binary"
	KindStepper    = "stepper"
)

// Config is the whole of configs/gridctl.yaml. Every process of an
// installation reads the same file.
type Config struct {
	Lab        LabConfig        `yaml:"lab"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Bus        BusConfig        `yaml:"bus"`
	Devices    []DeviceConfig   `yaml:"devices"`
	Sequencer  SequencerConfig  `yaml:"sequencer"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

type LabConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type MQTTConfig struct {
	// TopicPrefix is the first level of every gridctl topic.
	TopicPrefix string              `yaml:"topic_prefix"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`
	// ClientID is suffixed with the process nick ("gridctl-bank").
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig holds paho's reconnect backoff bounds, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// BusConfig names the shared text channel all bots join.
type BusConfig struct {
	Channel string `yaml:"channel"`
}

// DeviceConfig describes one serial device and the bot that drives it.
type DeviceConfig struct {
	// Name is the nick the device answers to on the bus.
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// Port is a device path, "auto:<VID>:<PID>" or "auto:<serial>".
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`

	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`

	// ResponseTimeout reopens the send gate of a reply-gated device when
	// the reply never comes.
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	QueueCapacity  int           `yaml:"queue_capacity"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`

	// OnConnect is written raw after every (re)connect.
	OnConnect []string `yaml:"on_connect"`

	HistoryDepth int `yaml:"history_depth"`
	APIPort      int `yaml:"api_port"` // 0 disables the status API
}

// SequencerConfig configures the macro robot.
type SequencerConfig struct {
	Nick string `yaml:"nick"`

	// Prelude is a script file replacing the built-in prelude.
	Prelude string `yaml:"prelude"`

	BacklogSize   int           `yaml:"backlog_size"`
	WorkQueueSize int           `yaml:"work_queue_size"`
	WaitTimeout   time.Duration `yaml:"wait_timeout"`
	APIPort       int           `yaml:"api_port"`
}

// APIConfig is shared by the status API of every process; the port comes
// from the device or sequencer section.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig holds HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig configures the live feed. Intervals are in seconds.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig configures optional telemetry. FlushInterval is in seconds.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SupervisorConfig controls "gridctl up".
type SupervisorConfig struct {
	// Binary defaults to the running gridctl executable.
	Binary             string        `yaml:"binary"`
	RestartDelay       time.Duration `yaml:"restart_delay"`
	MaxRestartAttempts int           `yaml:"max_restart_attempts"` // 0 is unlimited
	GracefulTimeout    time.Duration `yaml:"graceful_timeout"`
}

// Device returns the named device, matched case-insensitively like bus
// nicks are.
func (c *Config) Device(name string) (DeviceConfig, error) {
	for _, d := range c.Devices {
		if strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return DeviceConfig{}, fmt.Errorf("device %q is not configured", name)
}

func (c APIConfig) ReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

func (c APIConfig) WriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

func (c APIConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
