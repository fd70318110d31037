package mqttbus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/illmade-knight/httpuploader/pkg/messagebus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMessage is a minimal mqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestBrokerURLFromHost(t *testing.T) {
	assert.Equal(t, "tcp://10.0.0.5:1883", BrokerURLFromHost("10.0.0.5", 0))
	assert.Equal(t, "tcp://broker.local:8883", BrokerURLFromHost("broker.local", 8883))
	assert.Equal(t, "tcp://[::1]:1883", BrokerURLFromHost("::1", 0))
	assert.Empty(t, BrokerURLFromHost("", 1883))
}

func TestLoadMQTTClientConfigFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("success with defaults", func(t *testing.T) {
		path := filepath.Join(dir, "ok.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"broker_url": "tcp://localhost:1883",
			"username": "edge",
			"keep_alive_seconds": 30
		}`), 0o600))

		cfg, err := LoadMQTTClientConfigFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "tcp://localhost:1883", cfg.BrokerURL)
		assert.Equal(t, "edge", cfg.Username)
		assert.Equal(t, 30*time.Second, cfg.KeepAlive)
		assert.Equal(t, defaultConnectTimeout, cfg.ConnectTimeout)
		assert.Equal(t, defaultClientIDPrefix, cfg.ClientIDPrefix)
		assert.Equal(t, byte(1), cfg.QoS)
	})

	t.Run("missing broker", func(t *testing.T) {
		path := filepath.Join(dir, "nobroker.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"username":"edge"}`), 0o600))
		_, err := LoadMQTTClientConfigFromFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker_url")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadMQTTClientConfigFromFile(filepath.Join(dir, "absent.json"))
		assert.Error(t, err)
	})

	t.Run("bad json", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
		_, err := LoadMQTTClientConfigFromFile(path)
		assert.Error(t, err)
	})
}

func TestNewTLSConfig(t *testing.T) {
	assert.True(t, usesTLS("TLS://broker:8883"))
	assert.True(t, usesTLS("ssl://broker:8883"))
	assert.False(t, usesTLS("tcp://broker:1883"))

	cfg, err := newTLSConfig(&MQTTClientConfig{InsecureSkipVerify: true})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)

	_, err = newTLSConfig(&MQTTClientConfig{CACertFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)

	notPEM := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(notPEM, []byte("not a certificate"), 0o600))
	_, err = newTLSConfig(&MQTTClientConfig{CACertFile: notPEM})
	assert.Error(t, err)
}

func TestConnect_UnreachableBrokerIsConnectError(t *testing.T) {
	client := NewClient(MQTTClientConfig{
		BrokerURL:      "tcp://127.0.0.1:1",
		ConnectTimeout: 2 * time.Second,
	}, zerolog.Nop())

	err := client.Connect(context.Background())
	require.Error(t, err)

	var connectErr *messagebus.ConnectError
	require.True(t, errors.As(err, &connectErr))
	assert.Equal(t, "tcp://127.0.0.1:1", connectErr.Broker)
}

func TestConnect_EmptyBroker(t *testing.T) {
	err := NewClient(MQTTClientConfig{}, zerolog.Nop()).Connect(context.Background())
	var connectErr *messagebus.ConnectError
	assert.True(t, errors.As(err, &connectErr))
}

func TestClient_NotConnected(t *testing.T) {
	client := NewClient(MQTTClientConfig{BrokerURL: "tcp://127.0.0.1:1"}, zerolog.Nop())

	err := client.Publish(context.Background(), "/heartbeat", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotConnected)

	// Subscriptions before connecting are remembered for onConnect.
	require.NoError(t, client.Subscribe("telemetry", func(string, []byte) {}))
	assert.Len(t, client.bindings, 1)

	assert.NotPanics(t, client.Disconnect)
}

func TestWrap_CopiesPayloadAndRecovers(t *testing.T) {
	client := NewClient(MQTTClientConfig{BrokerURL: "tcp://127.0.0.1:1"}, zerolog.Nop())

	var gotTopic string
	var gotPayload []byte
	handler := client.wrap(func(topic string, payload []byte) {
		gotTopic = topic
		gotPayload = payload
	})

	original := []byte(`{"temp":21.5}`)
	handler(nil, &fakeMessage{topic: "telemetry", payload: original})
	original[2] = 'X'

	assert.Equal(t, "telemetry", gotTopic)
	assert.Equal(t, `{"temp":21.5}`, string(gotPayload))

	panicky := client.wrap(func(string, []byte) { panic("boom") })
	assert.NotPanics(t, func() { panicky(nil, &fakeMessage{topic: "telemetry"}) })
}
