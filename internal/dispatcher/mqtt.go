package dispatcher

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sensorgrid/sensorgrid-go/internal/common"
)

// MQTTTransport publishes payloads over a paho MQTT client with a bounded
// per-publish timeout.
type MQTTTransport struct {
	client  mqtt.Client
	timeout time.Duration
}

var _ Transport = (*MQTTTransport)(nil)

// NewMQTTTransport connects to the broker described by cfg.
func NewMQTTTransport(cfg common.BrokerConfig) (*MQTTTransport, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	connect := client.Connect()
	timeout := time.Duration(cfg.PublishTimeout) * time.Second
	if !connect.WaitTimeout(10 * time.Second) {
		return nil, common.ErrRemoteTimeout
	}
	if err := connect.Error(); err != nil {
		return nil, err
	}
	return &MQTTTransport{client: client, timeout: timeout}, nil
}

// Publish sends one message at QoS 0. A publish that cannot complete within
// the timeout fails rather than blocking the caller.
func (t *MQTTTransport) Publish(topic string, payload []byte) error {
	token := t.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(t.timeout) {
		return fmt.Errorf("%w: publish to %s", common.ErrRemoteTimeout, topic)
	}
	return token.Error()
}

// Close disconnects from the broker, allowing in-flight work to finish.
func (t *MQTTTransport) Close() {
	t.client.Disconnect(250)
}
