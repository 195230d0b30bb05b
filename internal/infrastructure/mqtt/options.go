package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/knxnetip/internal/infrastructure/config"
)

const (
	connectTimeout      = 10 * time.Second
	operationTimeout    = 5 * time.Second
	disconnectQuiesceMs = 1000
	keepAlive           = 60 * time.Second
	maxQoS              = 2
)

// Values of statusMessage.Status.
const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// brokerURL returns tcp://host:port, or ssl:// when TLS is on.
func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// clientOptions maps the mqtt config section onto paho options: clean
// session, reconnect backoff from the config, and the offline will on
// topics.SystemStatus().
func clientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetWill(topics.SystemStatus(), statusPayload(statusOffline, cfg.Broker.ClientID, "unexpected_disconnect"), 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// statusMessage is the retained body of {prefix}/status.
type statusMessage struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func statusPayload(status, clientID, reason string) string {
	b, _ := json.Marshal(statusMessage{ //nolint:errchkjson // plain strings and a time
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	})
	return string(b)
}
