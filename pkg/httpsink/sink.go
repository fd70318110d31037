package httpsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/illmade-knight/httpuploader/pkg/metrics"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultTimeout bounds the whole request, including reading the response.
	DefaultTimeout = 5 * time.Second
	// TokenHeader carries the webhook authentication token.
	TokenHeader = "Device-Token"

	// maxDrainBytes caps how much of a response body is read so the
	// connection can be reused.
	maxDrainBytes = 64 << 10
)

// Attempt is a single delivery: one POST, never retried.
type Attempt struct {
	URL   string
	Token string
	// Body is sent byte for byte when it is a json.RawMessage or []byte.
	// Anything else is encoded with encoding/json.
	Body    any
	Timeout time.Duration
}

// Result is the outcome of Deliver. Err is nil only when the endpoint
// answered with a 2xx status.
type Result struct {
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Delivered reports whether the endpoint accepted the payload.
func (r Result) Delivered() bool {
	return r.Err == nil
}

// DeliveryError describes a failed attempt. StatusCode is 0 when no
// response was received (connection refused, timeout, DNS etc).
type DeliveryError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("POST %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("POST %s returned status %d", e.URL, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Sink posts JSON documents to a webhook.
type Sink struct {
	client *http.Client
	logger zerolog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) {
		s.client = c
	}
}

// New creates a Sink. The default transport is wrapped with otelhttp so
// deliveries show up as client spans when a tracer provider is installed.
func New(logger zerolog.Logger, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "HTTPSink").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deliver performs exactly one POST of a.Body. It never panics and never
// returns an error directly; the outcome is carried in Result.
func (s *Sink) Deliver(ctx context.Context, a Attempt) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: &DeliveryError{URL: a.URL, Err: fmt.Errorf("panic during delivery: %v", r)}}
		}
		res.Duration = time.Since(start)
		metrics.ObserveDelivery(res.StatusCode, res.Duration.Seconds(), res.Delivered())
	}()

	body, err := encodeBody(a.Body)
	if err != nil {
		return Result{Err: &DeliveryError{URL: a.URL, Err: fmt.Errorf("marshal body: %w", err)}}
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Err: &DeliveryError{URL: a.URL, Err: fmt.Errorf("build request: %w", err)}}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, a.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{Err: &DeliveryError{URL: a.URL, Err: err}}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	s.logger.Debug().Str("url", a.URL).Int("status", resp.StatusCode).Msg("POST completed")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{StatusCode: resp.StatusCode, Err: &DeliveryError{URL: a.URL, StatusCode: resp.StatusCode}}
	}
	return Result{StatusCode: resp.StatusCode}
}

func encodeBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	default:
		return json.Marshal(v)
	}
}
