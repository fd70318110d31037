package loadgen

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/httpuploader/pkg/messagebus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// PayloadGenerator builds the message body for one publish of a device.
type PayloadGenerator interface {
	GeneratePayload(device *Device) ([]byte, error)
}

// Device represents a single simulated device in the load test.
type Device struct {
	ID               string
	MessageRate      float64
	PayloadGenerator PayloadGenerator
}

// LoadGenerator publishes device payloads through a messagebus.Client.
// TopicPattern may contain one "+" which is replaced by the device ID.
type LoadGenerator struct {
	client         messagebus.Client
	topicPattern   string
	devices        []*Device
	logger         zerolog.Logger
	publishedCount int64
}

// NewLoadGenerator creates a new LoadGenerator.
func NewLoadGenerator(client messagebus.Client, topicPattern string, devices []*Device, logger zerolog.Logger) *LoadGenerator {
	return &LoadGenerator{
		client:       client,
		topicPattern: topicPattern,
		devices:      devices,
		logger:       logger.With().Str("component", "LoadGenerator").Logger(),
	}
}

// Run connects, publishes for duration (or until ctx ends) and returns the
// number of successful publishes.
func (lg *LoadGenerator) Run(ctx context.Context, duration time.Duration) (int, error) {
	atomic.StoreInt64(&lg.publishedCount, 0)
	lg.logger.Info().Int("num_devices", len(lg.devices)).Dur("duration", duration).Msg("Starting load generator")

	if err := lg.client.Connect(ctx); err != nil {
		lg.logger.Error().Err(err).Msg("Failed to connect client")
		return 0, err
	}
	defer lg.client.Disconnect()

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for _, device := range lg.devices {
		d := device
		g.Go(func() error {
			lg.runDevice(gctx, d)
			return nil
		})
	}
	_ = g.Wait()

	count := int(atomic.LoadInt64(&lg.publishedCount))
	lg.logger.Info().Int("successful_publishes", count).Msg("Load generator finished")
	return count, nil
}

// Topic returns the topic a device publishes to.
func (lg *LoadGenerator) Topic(device *Device) string {
	return strings.Replace(lg.topicPattern, "+", device.ID, 1)
}

func (lg *LoadGenerator) runDevice(ctx context.Context, device *Device) {
	if device.MessageRate <= 0 {
		lg.logger.Warn().Str("device_id", device.ID).Msg("Device has a message rate of 0, no messages will be sent")
		return
	}

	interval := time.Duration(float64(time.Second) / device.MessageRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	topic := lg.Topic(device)
	lg.logger.Info().Str("device_id", device.ID).Str("topic", topic).Float64("rate_hz", device.MessageRate).Msg("Device starting")

	for {
		select {
		case <-ctx.Done():
			lg.logger.Info().Str("device_id", device.ID).Msg("Device stopping")
			return
		case <-ticker.C:
			payload, err := device.PayloadGenerator.GeneratePayload(device)
			if err != nil {
				lg.logger.Error().Err(err).Str("device_id", device.ID).Msg("Failed to generate payload")
				continue
			}
			if err := lg.client.Publish(ctx, topic, payload); err != nil {
				if ctx.Err() == nil {
					lg.logger.Error().Err(err).Str("device_id", device.ID).Msg("Failed to publish message")
				}
				continue
			}
			atomic.AddInt64(&lg.publishedCount, 1)
		}
	}
}
