package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	tokenTimeout   = 5 * time.Second
	keepAlive      = 60 * time.Second

	disconnectQuiesceMillis = 1000

	maxQoS  = 2
	willQoS = 1
)

// brokerURL renders the broker address, ssl:// when TLS is on.
func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// buildClientOptions maps the mqtt config section onto paho. Sessions are
// clean: the bridge re-subscribes itself and republishes retained state on
// every connect, so nothing queued by the broker is needed.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password.Value())
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// configureLWT registers the retained offline health message.
func configureLWT(opts *pahomqtt.ClientOptions, will Will) {
	if will.Topic != "" {
		opts.SetBinaryWill(will.Topic, will.Payload, willQoS, true)
	}
}
