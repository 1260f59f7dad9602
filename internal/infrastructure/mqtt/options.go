package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hearthlight/hearth-core/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the initial broker connection.
	connectTimeout = 10 * time.Second

	// tokenTimeout bounds waiting for publish/subscribe acknowledgements.
	tokenTimeout = 5 * time.Second

	// disconnectQuiesceMS is how long Disconnect lets in-flight work
	// finish, in milliseconds.
	disconnectQuiesceMS = 1000

	// keepAlive is the MQTT keepalive interval; the broker uses it to
	// detect dead connections.
	keepAlive = 60 * time.Second

	// maxQoS is the highest valid MQTT QoS level.
	maxQoS = 2
)

// statusPayload is the retained message on hearth/system/status. Reason
// distinguishes a graceful shutdown from a broker-published LWT after a
// crash or network loss.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// marshalStatus builds a status payload stamped with the current time.
func marshalStatus(status, clientID, reason string) []byte {
	payload, _ := json.Marshal(statusPayload{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}

// buildClientOptions maps the mqtt section of config.yaml onto paho
// client options: broker address, credentials, TLS, keepalive, and
// auto-reconnect with capped backoff. The Last Will is registered here
// so the broker announces an unexpected disconnect on the status topic.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Fresh session each start; subscriptions are restored from our own
	// tracking, not broker-side session state.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	// LWT: retained at QoS 1 so late subscribers still learn the engine
	// went down uncleanly.
	opts.SetBinaryWill(Topics{}.SystemStatus(),
		marshalStatus("offline", cfg.Broker.ClientID, "unexpected_disconnect"), 1, true)

	return opts
}

// brokerURL assembles the paho broker address, switching scheme on TLS.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}
