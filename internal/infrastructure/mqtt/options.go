package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	keepAlive             = 60 * time.Second

	// defaultDisconnectQuiesce is in milliseconds, as paho expects.
	defaultDisconnectQuiesce = 1000
)

// clientOptions maps the config onto paho: tcp:// or ssl:// (TLS 1.2+),
// optional credentials, a clean session, reconnect backoff from the
// config, and the offline Last Will on the client's presence topic.
func clientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	id := cfg.Broker.ClientID

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(id).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay)*time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay)*time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(keepAlive).
		SetWill(topics.Status(id), string(presence(id, "offline", "unexpected_disconnect")), 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// Presence is the retained message on <prefix>/status/<client_id>.
type Presence struct {
	Status   string    `json:"status"` // online | offline
	ClientID string    `json:"client_id"`
	Reason   string    `json:"reason,omitempty"`
	Time     time.Time `json:"time"`
}

func presence(clientID, status, reason string) []byte {
	// Marshalling strings and a time cannot fail.
	b, _ := json.Marshal(Presence{Status: status, ClientID: clientID, Reason: reason, Time: time.Now().UTC()})
	return b
}
