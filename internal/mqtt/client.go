package mqtt

import (
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/soundstage/internal/config"
	"github.com/AaronLay10/soundstage/internal/events"
)

const (
	qos            = 1
	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second
)

// Client wraps the Paho MQTT client. It remembers its subscriptions and
// restores them after an automatic reconnect.
type Client struct {
	client paho.Client
	url    string
	em     events.Emitter

	mu     sync.Mutex
	topics map[string]paho.MessageHandler
}

// NewClient creates a client for cfg but does not connect.
func NewClient(cfg config.MQTTConfig, em events.Emitter) *Client {
	c := &Client{
		url:    cfg.URL,
		em:     em,
		topics: make(map[string]paho.MessageHandler),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	c.client = paho.NewClient(opts)
	return c
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return &ConnectTimeoutError{URL: c.url}
	}
	return token.Error()
}

// Subscribe subscribes to a topic and records it for reconnects.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	c.topics[topic] = handler
	c.mu.Unlock()

	token := c.client.Subscribe(topic, qos, handler)
	if !token.WaitTimeout(connectTimeout) {
		return &TimeoutError{Op: "subscribe", Topic: topic}
	}
	return token.Error()
}

// Publish sends payload to topic without retaining it.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return &TimeoutError{Op: "publish", Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *Client) onConnect(cl paho.Client) {
	c.mu.Lock()
	topics := make(map[string]paho.MessageHandler, len(c.topics))
	for t, h := range c.topics {
		topics[t] = h
	}
	c.mu.Unlock()

	for topic, handler := range topics {
		token := cl.Subscribe(topic, qos, handler)
		if token.WaitTimeout(connectTimeout) && token.Error() == nil {
			continue
		}
		log.Printf("mqtt: failed to resubscribe to %s", topic)
	}

	if c.em != nil {
		c.em.Emit("info", "mqtt.connected", "", map[string]interface{}{"url": c.url})
	}
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	if c.em != nil {
		c.em.Emit("warn", "mqtt.disconnected", err.Error(), map[string]interface{}{"url": c.url})
	}
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct {
	URL string
}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout: " + e.URL
}

// TimeoutError indicates a subscribe or publish was not acknowledged in time.
type TimeoutError struct {
	Op    string
	Topic string
}

func (e *TimeoutError) Error() string {
	return "mqtt " + e.Op + " timeout: " + e.Topic
}
