package bridge

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/illmade-knight/httpuploader/pkg/httpsink"
	"github.com/illmade-knight/httpuploader/pkg/messagebus"
)

// --- Mocks ---

// publishedMessage stores the data passed to the bus's Publish method.
type publishedMessage struct {
	Topic   string
	Payload []byte
}

// fakeBus is an in-memory messagebus.Client. It is safe for concurrent use.
type fakeBus struct {
	mu           sync.Mutex
	calls        []string
	published    []publishedMessage
	handlers     map[string]messagebus.Handler
	disconnected bool

	ConnectErr   error
	SubscribeErr error
	PublishErr   error
	// PublishFunc, when set, runs outside the lock before each publish is
	// recorded. A non-nil error fails the publish.
	PublishFunc func(ctx context.Context, topic string) error
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]messagebus.Handler)}
}

func (f *fakeBus) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "connect")
	if f.ConnectErr != nil {
		return &messagebus.ConnectError{Broker: "fake://broker", Err: f.ConnectErr}
	}
	return nil
}

func (f *fakeBus) Subscribe(topic string, handler messagebus.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "subscribe:"+topic)
	if f.SubscribeErr != nil {
		return f.SubscribeErr
	}
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBus) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	hook := f.PublishFunc
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, topic); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "publish:"+topic)
	if f.PublishErr != nil {
		return f.PublishErr
	}
	f.published = append(f.published, publishedMessage{Topic: topic, Payload: payload})
	return nil
}

func (f *fakeBus) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

// Deliver simulates the broker invoking the subscription callback.
func (f *fakeBus) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h(topic, payload)
	return true
}

func (f *fakeBus) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeBus) Published(topic string) []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedMessage
	for _, p := range f.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// recordingSink is a Deliverer that records every attempt.
type recordingSink struct {
	mu       sync.Mutex
	attempts []httpsink.Attempt
	result   httpsink.Result
	delay    time.Duration
}

func (s *recordingSink) Deliver(_ context.Context, a httpsink.Attempt) httpsink.Result {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return s.result
}

func (s *recordingSink) Attempts() []httpsink.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]httpsink.Attempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}

// logBuffer collects zerolog output from concurrent writers.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *logBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

// Lines returns every log line containing all of the given fragments.
func (l *logBuffer) Lines(fragments ...string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, line := range strings.Split(l.buf.String(), "\n") {
		matched := line != ""
		for _, f := range fragments {
			if !strings.Contains(line, f) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, line)
		}
	}
	return out
}

// testConfig returns a configuration with no start-up delay and fast ticks.
func testConfig(webhookURL string) Config {
	cfg := DefaultConfig()
	cfg.TelemetryTopic = "telemetry"
	cfg.WebhookURL = webhookURL
	cfg.WebhookToken = "test-token"
	cfg.RegistrationDelay = 0
	return cfg
}
