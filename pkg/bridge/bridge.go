package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/httpuploader/pkg/httpsink"
	"github.com/illmade-knight/httpuploader/pkg/messagebus"
	"github.com/illmade-knight/httpuploader/pkg/metrics"
	"github.com/illmade-knight/httpuploader/pkg/payload"
	"github.com/illmade-knight/httpuploader/pkg/scheduler"
	"github.com/rs/zerolog"
)

// ErrNotStarted is returned by Run when Start has not completed successfully.
var ErrNotStarted = errors.New("bridge has not been started")

// Config holds configuration for the Bridge.
type Config struct {
	ModuleName        string
	TelemetryTopic    string
	WebhookURL        string
	WebhookToken      string
	RegistrationTopic string
	HeartbeatTopic    string

	HeartbeatInterval time.Duration
	DeliveryTimeout   time.Duration
	PublishTimeout    time.Duration
	// TickInterval is how long Run yields between scheduler ticks.
	TickInterval time.Duration
	// RegistrationDelay lets the connection settle before registering.
	RegistrationDelay time.Duration

	// DeliveryWorkers > 0 moves webhook delivery off the broker callback
	// onto a bounded pool. Zero delivers inline.
	DeliveryWorkers   int
	DeliveryQueueSize int
}

// DefaultConfig provides the reference timings.
func DefaultConfig() Config {
	return Config{
		ModuleName:        "HTTP Uploader",
		RegistrationTopic: "/registration",
		HeartbeatTopic:    "/heartbeat",
		HeartbeatInterval: 10 * time.Second,
		DeliveryTimeout:   httpsink.DefaultTimeout,
		PublishTimeout:    5 * time.Second,
		TickInterval:      time.Millisecond,
		RegistrationDelay: time.Second,
		DeliveryQueueSize: 100,
	}
}

// Deliverer performs a single webhook delivery. *httpsink.Sink implements it.
type Deliverer interface {
	Deliver(ctx context.Context, attempt httpsink.Attempt) httpsink.Result
}

// Bridge forwards telemetry received on a broker topic to a webhook and keeps
// the module's registration and heartbeat on the broker.
type Bridge struct {
	cfg       Config
	bus       messagebus.Client
	sink      Deliverer
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger
	now       func() time.Time

	started atomic.Bool

	// delivery pool, only used when cfg.DeliveryWorkers > 0
	queueMu     sync.RWMutex
	queue       chan payload.Message
	queueClosed bool
	wg          sync.WaitGroup
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithScheduler replaces the Bridge's own scheduler, mainly for tests.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(b *Bridge) {
		b.scheduler = s
	}
}

// WithClock sets the time source used to stamp status messages.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		b.now = now
	}
}

// New creates a Bridge. The bus is borrowed: the caller remains responsible
// for disconnecting it once Run has returned.
func New(cfg Config, bus messagebus.Client, sink Deliverer, logger zerolog.Logger, opts ...Option) (*Bridge, error) {
	if bus == nil {
		return nil, errors.New("bridge: message bus client is required")
	}
	if sink == nil {
		return nil, errors.New("bridge: deliverer is required")
	}
	if cfg.TelemetryTopic == "" {
		return nil, errors.New("bridge: telemetry topic is required")
	}
	if cfg.WebhookURL == "" {
		return nil, errors.New("bridge: webhook URL is required")
	}

	defaults := DefaultConfig()
	if cfg.ModuleName == "" {
		cfg.ModuleName = defaults.ModuleName
	}
	if cfg.HeartbeatInterval <= 0 {
		logger.Warn().Dur("default", defaults.HeartbeatInterval).Msg("HeartbeatInterval was zero or negative, applying default value.")
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaults.DeliveryTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaults.PublishTimeout
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaults.TickInterval
	}
	if cfg.DeliveryWorkers > 0 && cfg.DeliveryQueueSize <= 0 {
		logger.Warn().Int("default_capacity", defaults.DeliveryQueueSize).Msg("DeliveryQueueSize was zero or negative, applying default value.")
		cfg.DeliveryQueueSize = defaults.DeliveryQueueSize
	}

	b := &Bridge{
		cfg:    cfg,
		bus:    bus,
		sink:   sink,
		logger: logger.With().Str("component", "Bridge").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.scheduler == nil {
		b.scheduler = scheduler.New(scheduler.WithLogger(b.logger))
	}
	return b, nil
}

// Started reports whether Start has completed.
func (b *Bridge) Started() bool {
	return b.started.Load()
}

// Start connects to the broker, announces the module, subscribes to the
// telemetry topic and schedules the heartbeat. A connection failure is
// returned as a *messagebus.ConnectError and is fatal.
func (b *Bridge) Start(ctx context.Context) error {
	if b.started.Load() {
		return errors.New("bridge already started")
	}
	b.logger.Info().
		Str("topic", b.cfg.TelemetryTopic).
		Str("webhook", b.cfg.WebhookURL).
		Int("delivery_workers", b.cfg.DeliveryWorkers).
		Msg("Starting bridge...")

	if err := b.bus.Connect(ctx); err != nil {
		b.logger.Error().Err(err).Msg("Failed to connect to message broker")
		return err
	}

	if b.cfg.RegistrationDelay > 0 {
		select {
		case <-time.After(b.cfg.RegistrationDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Registration is fire-and-forget: a failure is reported, never retried.
	b.publishStatus(ctx, b.cfg.RegistrationTopic, NewRegistrationMessage(b.cfg.ModuleName, b.now()))

	b.startDeliveryPool()

	if err := b.bus.Subscribe(b.cfg.TelemetryTopic, b.HandleMessage); err != nil {
		b.logger.Error().Err(err).Str("topic", b.cfg.TelemetryTopic).Msg("Failed to subscribe to telemetry topic")
		b.stopDeliveryPool()
		return fmt.Errorf("subscribe to %s: %w", b.cfg.TelemetryTopic, err)
	}

	b.scheduler.Every(b.cfg.HeartbeatInterval).Named(KindHeartbeat).Do(b.publishHeartbeat)

	b.started.Store(true)
	b.logger.Info().Msg("Bridge started successfully.")
	return nil
}

// Run ticks the scheduler until ctx is cancelled, yielding TickInterval
// between ticks. Cancellation is a clean shutdown, not an error: any queued
// deliveries are drained and Run returns nil.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.started.Load() {
		return ErrNotStarted
	}
	b.logger.Info().Dur("heartbeat_interval", b.cfg.HeartbeatInterval).Msg("Bridge run loop started")

	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Interrupt received, stopping bridge run loop.")
			b.stopDeliveryPool()
			b.logger.Info().Msg("Bridge stopped.")
			return nil
		case <-ticker.C:
			b.scheduler.Tick(ctx)
		}
	}
}

// HandleMessage is the subscription callback. It never panics and never
// blocks longer than one delivery timeout: undecodable messages and failed
// deliveries are logged and dropped.
func (b *Bridge) HandleMessage(topic string, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("topic", topic).Msg("Recovered from panic in message handler.")
		}
	}()

	metrics.MessagesReceivedTotal.WithLabelValues(topic).Inc()

	msg, err := payload.Decode(raw)
	if err != nil {
		var decodeErr *payload.DecodeError
		reason := "unknown"
		if errors.As(err, &decodeErr) {
			reason = decodeErr.Reason
		}
		metrics.IncDecodeError(reason)
		b.logger.Error().Err(err).Str("topic", topic).Str("reason", reason).Msg("Failed to decode message payload, dropping message.")
		return
	}
	b.logger.Debug().Str("topic", topic).RawJSON("payload", msg.Raw).Msg("payload")

	if b.cfg.DeliveryWorkers > 0 {
		b.enqueue(topic, msg)
		return
	}
	b.deliver(context.Background(), msg, -1)
}

// deliver submits one attempt to the sink and reports the outcome.
func (b *Bridge) deliver(ctx context.Context, msg payload.Message, workerID int) {
	res := b.sink.Deliver(ctx, httpsink.Attempt{
		URL:     b.cfg.WebhookURL,
		Token:   b.cfg.WebhookToken,
		Body:    json.RawMessage(msg.Raw),
		Timeout: b.cfg.DeliveryTimeout,
	})
	if !res.Delivered() {
		b.logger.Error().
			Err(res.Err).
			Int("worker_id", workerID).
			Int("status", res.StatusCode).
			Dur("duration", res.Duration).
			Msg("HTTP POST failed")
		return
	}
	b.logger.Debug().Int("worker_id", workerID).Int("status", res.StatusCode).Msg("POST status")
}

// publishHeartbeat runs on the Run goroutine, so ctx is Run's context and a
// shutdown aborts an in-flight publish.
func (b *Bridge) publishHeartbeat(ctx context.Context) {
	b.publishStatus(ctx, b.cfg.HeartbeatTopic, NewHeartbeatMessage(b.cfg.ModuleName, b.now()))
}

// publishStatus sends msg to the broker, logging and counting the outcome.
func (b *Bridge) publishStatus(ctx context.Context, topic string, msg StatusMessage) {
	data, err := msg.Encode()
	if err == nil {
		ctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
		err = b.bus.Publish(ctx, topic, data)
		cancel()
	}
	metrics.IncStatusPublished(msg.Kind, err)
	if err != nil {
		b.logger.Error().Err(err).Str("topic", topic).Str("kind", msg.Kind).Msg("Failed to publish status message")
		return
	}
	b.logger.Debug().Str("topic", topic).Str("kind", msg.Kind).Msg("Status message published")
}
