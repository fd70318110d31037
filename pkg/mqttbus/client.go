package mqttbus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/illmade-knight/httpuploader/pkg/messagebus"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by operations that need a live connection.
var ErrNotConnected = errors.New("mqtt client is not connected")

// Client implements messagebus.Client on top of the Paho MQTT client.
type Client struct {
	cfg    MQTTClientConfig
	logger zerolog.Logger

	mu       sync.Mutex
	paho     mqtt.Client
	bindings map[string]messagebus.Handler
}

var _ messagebus.Client = (*Client)(nil)

// NewClient creates an unconnected client. Zero values in cfg get defaults.
func NewClient(cfg MQTTClientConfig, logger zerolog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:      cfg,
		logger:   logger.With().Str("component", "MQTTClient").Str("broker", cfg.BrokerURL).Logger(),
		bindings: make(map[string]messagebus.Handler),
	}
}

// Connect initializes and connects the Paho MQTT client. Once connected,
// Paho owns reconnection; every binding is re-subscribed on reconnect.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.BrokerURL == "" {
		return &messagebus.ConnectError{Broker: c.cfg.BrokerURL, Err: errors.New("broker URL is empty")}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	opts.SetClientID(c.cfg.ClientIDPrefix + uuid.NewString()[:8])
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.cfg.ReconnectWaitMax)
	opts.SetOrderMatters(false)

	opts.SetConnectionAttemptHandler(func(broker *url.URL, tlsCfg *tls.Config) *tls.Config {
		c.logger.Info().Str("broker", broker.String()).Msg("Attempting to connect to MQTT broker")
		return tlsCfg
	})

	if usesTLS(c.cfg.BrokerURL) {
		tlsConfig, err := newTLSConfig(&c.cfg)
		if err != nil {
			return &messagebus.ConnectError{Broker: c.cfg.BrokerURL, Err: fmt.Errorf("failed to create TLS config: %w", err)}
		}
		opts.SetTLSConfig(tlsConfig)
		c.logger.Info().Msg("TLS configured for MQTT client.")
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Error().Err(err).Msg("Paho client lost MQTT connection. Auto-reconnect will be attempted.")
	})

	client := mqtt.NewClient(opts)
	c.logger.Info().Str("client_id", opts.ClientID).Msg("Paho MQTT client created. Attempting to connect...")

	token := client.Connect()
	if err := waitToken(ctx, token, c.cfg.ConnectTimeout); err != nil {
		return &messagebus.ConnectError{Broker: c.cfg.BrokerURL, Err: err}
	}
	if !client.IsConnected() {
		return &messagebus.ConnectError{Broker: c.cfg.BrokerURL, Err: ErrNotConnected}
	}

	c.mu.Lock()
	c.paho = client
	c.mu.Unlock()
	return nil
}

// onConnect restores every binding after a (re)connect.
func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info().Msg("Paho client connected to MQTT broker")

	c.mu.Lock()
	bindings := make(map[string]messagebus.Handler, len(c.bindings))
	for topic, h := range c.bindings {
		bindings[topic] = h
	}
	c.mu.Unlock()

	for topic, h := range bindings {
		if token := client.Subscribe(topic, c.cfg.QoS, c.wrap(h)); token.Wait() && token.Error() != nil {
			c.logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to re-subscribe to MQTT topic")
		} else {
			c.logger.Info().Str("topic", topic).Msg("Re-subscribed to MQTT topic")
		}
	}
}

// Subscribe registers handler for topic.
func (c *Client) Subscribe(topic string, handler messagebus.Handler) error {
	c.mu.Lock()
	client := c.paho
	c.bindings[topic] = handler
	c.mu.Unlock()

	if client == nil || !client.IsConnected() {
		// onConnect will subscribe once a connection exists.
		c.logger.Warn().Str("topic", topic).Msg("Not connected, subscription deferred until connect")
		return nil
	}

	c.logger.Info().Str("topic", topic).Msg("Subscribing to MQTT topic")
	token := client.Subscribe(topic, c.cfg.QoS, c.wrap(handler))
	if err := waitToken(context.Background(), token, c.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	c.logger.Info().Str("topic", topic).Msg("Successfully subscribed to MQTT topic")
	return nil
}

// wrap adapts a messagebus.Handler to Paho's callback signature. The payload
// is copied because Paho may reuse its buffer.
func (c *Client) wrap(h messagebus.Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().Interface("panic", r).Str("topic", msg.Topic()).Msg("Recovered from panic in message handler.")
			}
		}()
		payload := make([]byte, len(msg.Payload()))
		copy(payload, msg.Payload())
		h(msg.Topic(), payload)
	}
}

// Publish sends payload with the configured QoS, not retained.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	client := c.paho
	c.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	token := client.Publish(topic, c.cfg.QoS, false, payload)
	if err := waitToken(ctx, token, 0); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

// Disconnect unsubscribes every binding and closes the connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	client := c.paho
	c.paho = nil
	topics := make([]string, 0, len(c.bindings))
	for topic := range c.bindings {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	if client == nil {
		return
	}
	if client.IsConnected() && len(topics) > 0 {
		if token := client.Unsubscribe(topics...); token.WaitTimeout(2*time.Second) && token.Error() != nil {
			c.logger.Warn().Err(token.Error()).Msg("Failed to unsubscribe during shutdown.")
		}
	}
	client.Disconnect(250)
	c.logger.Info().Msg("Paho MQTT client disconnected.")
}

// waitToken blocks until token completes, ctx ends or timeout (if > 0) passes.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timeoutCh:
		return fmt.Errorf("timed out after %s", timeout)
	}
}
