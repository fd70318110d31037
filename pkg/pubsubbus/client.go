package pubsubbus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/httpuploader/pkg/messagebus"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// Config holds configuration for the Google Cloud Pub/Sub bus.
type Config struct {
	ProjectID string
	// SubscriptionSuffix is appended to a topic ID to name the subscription
	// used for it.
	SubscriptionSuffix string
	// CreateMissing creates topics and subscriptions that do not exist yet.
	CreateMissing          bool
	CredentialsFile        string
	ClientOptions          []option.ClientOption
	MaxOutstandingMessages int
	NumGoroutines          int
}

// DefaultSubscriptionSuffix names subscriptions "<topic>-httpuploader".
const DefaultSubscriptionSuffix = "-httpuploader"

// TopicID maps a broker style topic name ("/heartbeat", "edge/telemetry")
// onto a valid Pub/Sub resource ID.
func TopicID(name string) string {
	id := strings.Trim(name, "/")
	id = strings.ReplaceAll(id, "/", "-")
	id = strings.ReplaceAll(id, "+", "any")
	id = strings.ReplaceAll(id, "#", "all")
	return id
}

// Client implements messagebus.Client for Google Cloud Pub/Sub.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	client    *pubsub.Client
	topics    map[string]*pubsub.Topic
	receiveWG sync.WaitGroup
	cancel    context.CancelFunc
	recvCtx   context.Context
}

var _ messagebus.Client = (*Client)(nil)

// NewClient creates an unconnected client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.SubscriptionSuffix == "" {
		cfg.SubscriptionSuffix = DefaultSubscriptionSuffix
	}
	if cfg.MaxOutstandingMessages <= 0 {
		cfg.MaxOutstandingMessages = 100
	}
	if cfg.NumGoroutines <= 0 {
		cfg.NumGoroutines = 1
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With().Str("component", "PubsubClient").Str("project_id", cfg.ProjectID).Logger(),
		topics: make(map[string]*pubsub.Topic),
	}
}

// Connect creates the Pub/Sub client. PUBSUB_EMULATOR_HOST is honoured by the
// underlying library.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.ProjectID == "" {
		return &messagebus.ConnectError{Broker: "pubsub", Err: errors.New("project ID is empty")}
	}
	opts := c.cfg.ClientOptions
	if emulator := os.Getenv("PUBSUB_EMULATOR_HOST"); emulator != "" {
		c.logger.Info().Str("emulator_host", emulator).Msg("Using Pub/Sub emulator.")
	} else if c.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(c.cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, c.cfg.ProjectID, opts...)
	if err != nil {
		return &messagebus.ConnectError{Broker: "pubsub/" + c.cfg.ProjectID, Err: fmt.Errorf("pubsub.NewClient: %w", err)}
	}

	recvCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.client = client
	c.recvCtx = recvCtx
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Info().Msg("Pub/Sub client created")
	return nil
}

// topic returns the cached handle for name, creating the topic when allowed.
func (c *Client) topic(ctx context.Context, name string) (*pubsub.Topic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, errors.New("pubsub client is not connected")
	}
	id := TopicID(name)
	if t, ok := c.topics[id]; ok {
		return t, nil
	}

	t := c.client.Topic(id)
	if c.cfg.CreateMissing {
		exists, err := t.Exists(ctx)
		if err != nil {
			return nil, fmt.Errorf("topic.Exists check for %s: %w", id, err)
		}
		if !exists {
			t, err = c.client.CreateTopic(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("create topic %s: %w", id, err)
			}
			c.logger.Info().Str("topic_id", id).Msg("Created missing Pub/Sub topic")
		}
	}
	c.topics[id] = t
	return t, nil
}

// Subscribe starts receiving from the subscription bound to topic. Messages
// are acknowledged before handler runs, so each is handled at most once.
func (c *Client) Subscribe(topic string, handler messagebus.Handler) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t, err := c.topic(ctx, topic)
	if err != nil {
		return err
	}

	c.mu.Lock()
	client, recvCtx := c.client, c.recvCtx
	c.mu.Unlock()

	subID := TopicID(topic) + c.cfg.SubscriptionSuffix
	sub := client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("subscription.Exists check for %s: %w", subID, err)
	}
	if !exists {
		if !c.cfg.CreateMissing {
			return fmt.Errorf("subscription %s does not exist in project %s", subID, c.cfg.ProjectID)
		}
		sub, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: t})
		if err != nil {
			return fmt.Errorf("create subscription %s: %w", subID, err)
		}
		c.logger.Info().Str("subscription_id", subID).Msg("Created missing Pub/Sub subscription")
	}
	sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = c.cfg.NumGoroutines

	c.receiveWG.Add(1)
	go func() {
		defer c.receiveWG.Done()
		c.logger.Info().Str("subscription_id", subID).Msg("Pub/Sub Receive goroutine started.")
		err := sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error().Interface("panic", r).Str("msg_id", msg.ID).Msg("Recovered from panic in message handler.")
				}
			}()
			payload := make([]byte, len(msg.Data))
			copy(payload, msg.Data)
			handler(topic, payload)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Str("subscription_id", subID).Msg("Pub/Sub Receive call exited with error")
		}
		c.logger.Info().Str("subscription_id", subID).Msg("Pub/Sub Receive goroutine stopped.")
	}()
	return nil
}

// Publish sends payload and waits for the server to assign a message ID.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	t, err := c.topic(ctx, topic)
	if err != nil {
		return err
	}
	result := t.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"source_topic": topic},
	})
	msgID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", t.ID(), err)
	}
	c.logger.Debug().Str("message_id", msgID).Str("topic_id", t.ID()).Msg("Message published to Pub/Sub")
	return nil
}

// Disconnect stops all receivers, flushes topics and closes the client.
func (c *Client) Disconnect() {
	c.mu.Lock()
	client, cancel := c.client, c.cancel
	c.client = nil
	topics := c.topics
	c.topics = make(map[string]*pubsub.Topic)
	c.mu.Unlock()

	if client == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	c.receiveWG.Wait()
	for _, t := range topics {
		t.Stop()
	}
	if err := client.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Error closing Pub/Sub client")
		return
	}
	c.logger.Info().Msg("Pub/Sub client closed.")
}
