package config

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// ErrInvalid is wrapped by every validation problem.
var ErrInvalid = errors.New("invalid config")

// Validate returns all problems combined with multierr; use
// multierr.Errors to list them one by one.
func (c *Config) Validate() error {
	v := &validator{}

	v.check(c.Lab.ID != "", "lab.id is required")
	v.check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1 or 2")
	v.check(c.MQTT.TopicPrefix != "" && !strings.ContainsAny(c.MQTT.TopicPrefix, "+#"),
		"mqtt.topic_prefix must be non-empty and free of wildcards")
	v.check(c.Bus.Channel != "" && !strings.ContainsAny(c.Bus.Channel, "+#/"),
		"bus.channel must be a single non-empty topic level")

	nicks := map[string]bool{strings.ToLower(c.Sequencer.Nick): true}
	for i, d := range c.Devices {
		at := fmt.Sprintf("devices[%d]", i)
		key := strings.ToLower(d.Name)
		switch {
		case d.Name == "":
			v.fail("%s.name is required", at)
		case nicks[key]:
			v.fail("%s.name %q is already taken", at, d.Name)
		}
		nicks[key] = true

		switch d.Kind {
		case KindBankASCII, KindBankBinary, KindStepper:
		default:
			v.fail("%s.kind %q is not one of %s", at, d.Kind,
				strings.Join([]string{KindBankASCII, KindBankBinary, KindStepper}, ", "))
		}
		v.check(d.Port != "", at+".port is required")
		v.check(d.Baud >= 0, at+".baud must be positive")
		v.check(d.QueueCapacity >= 1 && d.QueueCapacity <= 64, at+".queue_capacity must be between 1 and 64")
		v.port(d.APIPort, at+".api_port")
	}

	s := c.Sequencer
	v.check(s.Nick != "", "sequencer.nick is required")
	v.check(s.BacklogSize >= 1, "sequencer.backlog_size must be at least 1")
	v.check(s.WorkQueueSize >= 1, "sequencer.work_queue_size must be at least 1")
	v.check(s.WaitTimeout > 0, "sequencer.wait_timeout must be positive")
	v.port(s.APIPort, "sequencer.api_port")

	v.check(!c.InfluxDB.Enabled || c.InfluxDB.URL != "", "influxdb.url is required when influxdb is enabled")
	v.check(c.Supervisor.MaxRestartAttempts >= 0, "supervisor.max_restart_attempts must not be negative")

	return v.errs
}

type validator struct {
	errs error
}

func (v *validator) fail(format string, args ...any) {
	v.errs = multierr.Append(v.errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
}

func (v *validator) check(ok bool, msg string) {
	if !ok {
		v.fail("%s", msg)
	}
}

func (v *validator) port(p int, field string) {
	v.check(p >= 0 && p <= 65535, field+" must be between 0 and 65535")
}
