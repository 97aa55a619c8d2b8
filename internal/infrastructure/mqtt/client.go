package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/cdp-core/internal/infrastructure/config"
)

// Client is a publish-only MQTT connection scoped to one control plane node.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - The reconnect callback runs on a paho goroutine.
type Client struct {
	client pahomqtt.Client
	qos    byte
	topics Topics
	id     string

	mu        sync.RWMutex
	connected bool
	onConnect func()
	logger    Logger
}

// Logger is the subset of logging.Logger used by the client.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Connect dials the broker and returns once the first connection is up.
// The broker holds an offline will on the node's status topic; every
// (re)connect replaces it with a retained online status.
//
// Parameters:
//   - cfg: MQTT section of the configuration
//   - node: node ID used to scope every topic
//
// Returns:
//   - *Client: connected client
//   - error: ErrInvalidNode, or ErrConnectionFailed if the broker is unreachable
func Connect(cfg config.MQTTConfig, node string) (*Client, error) {
	if node == "" {
		return nil, ErrInvalidNode
	}
	c := &Client{
		qos:    byte(cfg.QoS), //nolint:gosec // validated to 0-2 by config
		topics: Topics{Node: node},
		id:     cfg.Broker.ClientID,
		logger: noopLogger{},
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, c.id)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionLost(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no answer from broker within %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return c, nil
}

// Topics returns the topic builder for this client's node.
func (c *Client) Topics() Topics {
	return c.topics
}

// QoS returns the configured QoS.
func (c *Client) QoS() byte {
	return c.qos
}

func (c *Client) connectionUp() {
	c.mu.Lock()
	c.connected = true
	onConnect := c.onConnect
	logger := c.logger
	c.mu.Unlock()

	status := c.client.Publish(c.topics.SystemStatus(), c.qos, true, statusPayload(c.topics.Node, c.id, StatusOnline, ""))
	if status.WaitTimeout(defaultPublishTimeout) && status.Error() != nil {
		logger.Warn("publishing online status failed", "error", status.Error())
	}
	if onConnect != nil {
		onConnect()
	}
}

func (c *Client) connectionLost(err error) {
	c.mu.Lock()
	c.connected = false
	logger := c.logger
	c.mu.Unlock()
	logger.Warn("MQTT connection lost", "error", err)
}

// Close marks the node offline and disconnects. Safe on a nil client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.client.Publish(c.topics.SystemStatus(), c.qos, true,
			statusPayload(c.topics.Node, c.id, StatusOffline, "graceful_shutdown")).WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// HealthCheck reports ErrNotConnected while the broker connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnConnect sets a callback run after every (re)connect, once the online
// status has been published.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for connection events.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}
