package sampler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/illmade-knight/httpuploader/pkg/messagebus"
	"github.com/rs/zerolog"
)

// CapturedMessage represents a single message saved to the output file.
type CapturedMessage struct {
	Timestamp time.Time       `json:"timestamp"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
}

// Sampler captures the first N messages seen on a topic.
type Sampler struct {
	bus         messagebus.Client
	topic       string
	logger      zerolog.Logger
	numMessages int
	now         func() time.Time

	mutex    sync.Mutex
	messages []CapturedMessage
	done     chan struct{}
}

// NewSampler creates a new sampler reading from topic through bus.
// numMessages must be at least 1.
func NewSampler(bus messagebus.Client, topic string, numMessages int, logger zerolog.Logger) (*Sampler, error) {
	if numMessages < 1 {
		return nil, fmt.Errorf("sampler: message count must be at least 1, got %d", numMessages)
	}
	return &Sampler{
		bus:         bus,
		topic:       topic,
		logger:      logger.With().Str("component", "Sampler").Str("topic", topic).Logger(),
		numMessages: numMessages,
		now:         time.Now,
		messages:    make([]CapturedMessage, 0, numMessages),
		done:        make(chan struct{}),
	}, nil
}

// Run connects, subscribes and blocks until the target count is reached or
// ctx ends. The bus is disconnected before Run returns.
func (s *Sampler) Run(ctx context.Context) error {
	s.logger.Info().Int("target_count", s.numMessages).Msg("Starting Sampler run...")
	if err := s.bus.Connect(ctx); err != nil {
		return err
	}
	defer s.bus.Disconnect()

	if err := s.bus.Subscribe(s.topic, s.HandleMessage); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.topic, err)
	}

	select {
	case <-s.done:
		s.logger.Info().Msg("Disconnecting due to message count reached.")
	case <-ctx.Done():
		s.logger.Info().Msg("Disconnecting due to context cancellation.")
	}
	return nil
}

// HandleMessage records one message. JSON payloads are stored indented,
// anything else as a JSON string.
func (s *Sampler) HandleMessage(topic string, payload []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.messages) >= s.numMessages {
		return
	}

	var pretty json.RawMessage
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err == nil {
		pretty = buf.Bytes()
	} else {
		escaped, _ := json.Marshal(string(payload))
		pretty = escaped
	}

	s.messages = append(s.messages, CapturedMessage{
		Timestamp: s.now().UTC(),
		Topic:     topic,
		Payload:   pretty,
	})
	s.logger.Info().Int("captured_count", len(s.messages)).Int("target_count", s.numMessages).Msg("Message captured")

	if len(s.messages) == s.numMessages {
		close(s.done)
	}
}

// Messages returns a copy of the captured messages.
func (s *Sampler) Messages() []CapturedMessage {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]CapturedMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// WriteJSON writes the captured messages as an indented JSON array.
func WriteJSON(w io.Writer, messages []CapturedMessage) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(messages); err != nil {
		return fmt.Errorf("could not encode messages to JSON: %w", err)
	}
	return nil
}
