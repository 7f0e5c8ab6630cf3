package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	DefaultTopicPrefix    = "epdrelay"
	defaultPublishTimeout = 2 * time.Second
)

type Config struct {
	// Broker is a URL such as tcp://broker.lan:1883 or ssl://broker:8883.
	Broker      string
	TopicPrefix string
	Username    string
	Password    string
	ClientID    string
	QoS         byte
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Broker) != ""
}

// publishClient is the part of mqtt.Client the publisher needs.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
}

type MQTTPublisher struct {
	client  publishClient
	prefix  string
	qos     byte
	timeout time.Duration
	logger  zerolog.Logger
}

// NewMQTTPublisher connects to the broker. The client reconnects on its own
// after the first successful connect; a retained status topic flips to
// "offline" through the broker's will when the relay disappears.
func NewMQTTPublisher(cfg Config, logger zerolog.Logger) (*MQTTPublisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("missing mqtt broker")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}
	prefix := topicPrefix(cfg.TopicPrefix)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = randomClientID()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(statusTopic(prefix), "offline", 1, true)

	log := logger.With().Str("component", "events").Logger()
	opts.OnConnect = func(c mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
		c.Publish(statusTopic(prefix), 1, true, "online")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15*time.Second) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	return newMQTTPublisher(client, cfg, logger), nil
}

func newMQTTPublisher(client publishClient, cfg Config, logger zerolog.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:  client,
		prefix:  topicPrefix(cfg.TopicPrefix),
		qos:     cfg.QoS,
		timeout: defaultPublishTimeout,
		logger:  logger.With().Str("component", "events").Logger(),
	}
}

func (p *MQTTPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	topic := p.Topic(event)
	token := p.client.Publish(topic, p.qos, false, payload)

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if !token.WaitTimeout(timeout) {
		publishFailures.WithLabelValues(string(event.Type)).Inc()
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		publishFailures.WithLabelValues(string(event.Type)).Inc()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	published.WithLabelValues(string(event.Type)).Inc()
	p.logger.Debug().Str("topic", topic).Str("type", string(event.Type)).Msg("event published")
	return nil
}

// Topic returns <prefix>/devices/<ip>/<type> for device events and
// <prefix>/<type> otherwise.
func (p *MQTTPublisher) Topic(event Event) string {
	if event.Device == "" {
		return path.Join(p.prefix, string(event.Type))
	}
	return path.Join(p.prefix, "devices", event.Device, string(event.Type))
}

// Connected reports whether the broker connection is currently up.
func (p *MQTTPublisher) Connected() bool {
	return p.client.IsConnectionOpen()
}

func (p *MQTTPublisher) Close() {
	p.client.Publish(statusTopic(p.prefix), 1, true, "offline").WaitTimeout(p.timeout)
	p.client.Disconnect(250)
}

func topicPrefix(raw string) string {
	prefix := strings.Trim(strings.TrimSpace(raw), "/")
	if prefix == "" {
		return DefaultTopicPrefix
	}
	return prefix
}

func statusTopic(prefix string) string {
	return path.Join(prefix, "status")
}

func randomClientID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "epdrelay"
	}
	return "epdrelay-" + hex.EncodeToString(buf)
}
