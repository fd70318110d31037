package httpsink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/httpuploader/pkg/payload"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturedRequest stores what the test webhook received.
type capturedRequest struct {
	Method      string
	Token       string
	ContentType string
	Body        []byte
}

// newWebhook starts a test server answering with status and recording every request.
func newWebhook(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var requests []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, capturedRequest{
			Method:      r.Method,
			Token:       r.Header.Get(TokenHeader),
			ContentType: r.Header.Get("Content-Type"),
			Body:        body,
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		out := make([]capturedRequest, len(requests))
		copy(out, requests)
		return out
	}
}

func TestDeliver_Success(t *testing.T) {
	srv, requests := newWebhook(t, http.StatusOK)
	sink := New(zerolog.Nop())

	msg, err := payload.Decode([]byte(`{"temp": 21.5}`))
	require.NoError(t, err)

	res := sink.Deliver(context.Background(), Attempt{URL: srv.URL, Token: "secret-token", Body: msg, Timeout: DefaultTimeout})

	require.True(t, res.Delivered())
	assert.NoError(t, res.Err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	got := requests()
	require.Len(t, got, 1, "exactly one POST per attempt")
	assert.Equal(t, http.MethodPost, got[0].Method)
	assert.Equal(t, "secret-token", got[0].Token)
	assert.Equal(t, "application/json", got[0].ContentType)
	assert.JSONEq(t, `{"temp": 21.5}`, string(got[0].Body))
}

func TestDeliver_RawBodyIsSentVerbatim(t *testing.T) {
	srv, requests := newWebhook(t, http.StatusOK)
	sink := New(zerolog.Nop())

	raw := `{"z": "<b>a & b</b>",  "a": 1, "a": 2}`
	res := sink.Deliver(context.Background(), Attempt{URL: srv.URL, Token: "t", Body: json.RawMessage(raw)})
	require.True(t, res.Delivered())

	res = sink.Deliver(context.Background(), Attempt{URL: srv.URL, Token: "t", Body: []byte(raw)})
	require.True(t, res.Delivered())

	got := requests()
	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, raw, string(r.Body), "no escaping, reordering or compaction")
		assert.Equal(t, "application/json", r.ContentType)
	}
}

func TestDeliver_ServerErrorIsNotRetried(t *testing.T) {
	srv, requests := newWebhook(t, http.StatusInternalServerError)
	sink := New(zerolog.Nop())

	res := sink.Deliver(context.Background(), Attempt{URL: srv.URL, Token: "t", Body: map[string]any{"a": 1}})

	assert.False(t, res.Delivered())
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)

	var deliveryErr *DeliveryError
	require.True(t, errors.As(res.Err, &deliveryErr))
	assert.Equal(t, http.StatusInternalServerError, deliveryErr.StatusCode)
	assert.Contains(t, deliveryErr.Error(), "500")
	assert.Len(t, requests(), 1)
}

func TestDeliver_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sink := New(zerolog.Nop())
	res := sink.Deliver(context.Background(), Attempt{URL: url, Token: "t", Body: map[string]any{"a": 1}})

	assert.False(t, res.Delivered())
	assert.Equal(t, 0, res.StatusCode)

	var deliveryErr *DeliveryError
	require.True(t, errors.As(res.Err, &deliveryErr))
	assert.Equal(t, 0, deliveryErr.StatusCode)
	assert.Contains(t, deliveryErr.Error(), "failed")
}

func TestDeliver_TimeoutBoundsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := New(zerolog.Nop())
	start := time.Now()
	res := sink.Deliver(context.Background(), Attempt{URL: srv.URL, Token: "t", Body: "x", Timeout: 100 * time.Millisecond})
	elapsed := time.Since(start)

	assert.False(t, res.Delivered())
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded), "expected a deadline error, got %v", res.Err)
	assert.Less(t, elapsed, time.Second)
}

func TestDeliver_UnencodableBody(t *testing.T) {
	srv, requests := newWebhook(t, http.StatusOK)
	sink := New(zerolog.Nop())

	res := sink.Deliver(context.Background(), Attempt{URL: srv.URL, Token: "t", Body: make(chan int)})

	assert.False(t, res.Delivered())
	assert.Empty(t, requests(), "nothing is sent when the body cannot be encoded")
}

func TestDeliver_InvalidURL(t *testing.T) {
	sink := New(zerolog.Nop())
	res := sink.Deliver(context.Background(), Attempt{URL: "://bad-url", Token: "t", Body: 1})
	assert.False(t, res.Delivered())
	assert.Error(t, res.Err)
}

func TestDeliver_CustomClient(t *testing.T) {
	srv, requests := newWebhook(t, http.StatusAccepted)
	sink := New(zerolog.Nop(), WithHTTPClient(srv.Client()))

	res := sink.Deliver(context.Background(), Attempt{URL: srv.URL, Token: "t", Body: []int{1, 2}})
	assert.True(t, res.Delivered())
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Len(t, requests(), 1)
}
