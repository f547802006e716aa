package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/smartbin/internal/monitoring"
)

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (c MQTTConfig) withDefaults() MQTTConfig {
	if c.ClientID == "" {
		c.ClientID = "smartbin"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "smartbin"
	}
	c.TopicPrefix = strings.TrimRight(c.TopicPrefix, "/")
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
	if c.Broker != "" && !strings.Contains(c.Broker, "://") {
		c.Broker = "tcp://" + c.Broker
	}
	return c
}

// Topic returns the full topic for an event kind.
func (c MQTTConfig) Topic(kind string) string {
	return c.withDefaults().TopicPrefix + "/" + kind
}

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// MQTT publishes JSON events to a broker. Status messages are retained and
// the broker publishes an offline status if the connection drops.
type MQTT struct {
	cfg       MQTTConfig
	newClient func(*mqtt.ClientOptions) mqttClient

	mu        sync.RWMutex
	client    mqttClient
	connected bool
	published map[string]uint64
	errors    uint64
}

// NewMQTT returns an unconnected publisher.
func NewMQTT(cfg MQTTConfig) *MQTT {
	return &MQTT{
		cfg:       cfg.withDefaults(),
		newClient: func(o *mqtt.ClientOptions) mqttClient { return mqtt.NewClient(o) },
		published: make(map[string]uint64),
	}
}

func (m *MQTT) options() (*mqtt.ClientOptions, error) {
	will, err := json.Marshal(SystemStatus{Phase: PhaseOffline, Time: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetBinaryWill(m.cfg.Topic(KindStatus), will, m.cfg.QoS, true)
	opts.OnConnect = func(mqtt.Client) {
		m.setConnected(true)
		monitoring.Logf("mqtt connection established (broker %s, client %s)", m.cfg.Broker, m.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.setConnected(false)
		monitoring.Logf("mqtt connection lost, will auto-reconnect: %v", err)
	}
	return opts, nil
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// Connect dials the broker and waits up to the connect timeout.
func (m *MQTT) Connect(ctx context.Context) error {
	if m.cfg.Broker == "" {
		return fmt.Errorf("mqtt broker not configured")
	}
	opts, err := m.options()
	if err != nil {
		return err
	}
	client := m.newClient(opts)
	monitoring.Logf("connecting to mqtt broker %s", m.cfg.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(m.cfg.ConnectTimeout):
		return fmt.Errorf("mqtt connection timeout after %s", m.cfg.ConnectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	m.mu.Lock()
	m.client = client
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *MQTT) publish(kind string, retained bool, v any) error {
	m.mu.RLock()
	client, connected := m.client, m.connected
	m.mu.RUnlock()
	if client == nil || !connected {
		m.countError()
		return fmt.Errorf("publish %s: %w", kind, ErrNotConnected)
	}

	payload, err := json.Marshal(v)
	if err != nil {
		m.countError()
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	topic := m.cfg.Topic(kind)
	token := client.Publish(topic, m.cfg.QoS, retained, payload)
	if !token.WaitTimeout(m.cfg.PublishTimeout) {
		m.countError()
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		m.countError()
		return fmt.Errorf("publish %s failed: %w", topic, err)
	}

	m.mu.Lock()
	m.published[topic]++
	m.mu.Unlock()
	monitoring.Debugf("published %d bytes to %s", len(payload), topic)
	return nil
}

func (m *MQTT) countError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

func (m *MQTT) PublishDetection(e DetectionEvent) error {
	return m.publish(KindDetection, false, e)
}

func (m *MQTT) PublishBinStatus(s BinStatus) error {
	return m.publish(KindBins, false, s)
}

func (m *MQTT) PublishSystemStatus(s SystemStatus) error {
	return m.publish(KindStatus, true, s)
}

// Disconnect closes the connection with a 250ms grace period.
func (m *MQTT) Disconnect() error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.connected = false
	m.mu.Unlock()
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		monitoring.Logf("mqtt disconnected")
	}
	return nil
}

// MQTTStats are publish counters.
type MQTTStats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func (m *MQTT) Stats() MQTTStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	published := make(map[string]uint64, len(m.published))
	for k, v := range m.published {
		published[k] = v
	}
	return MQTTStats{Connected: m.connected, Published: published, Errors: m.errors}
}
