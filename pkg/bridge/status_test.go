package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMessages(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*60*60))

	reg := NewRegistrationMessage("HTTP Uploader", now)
	assert.Equal(t, KindRegistration, reg.Kind)
	assert.Equal(t, "HTTP Uploader Module Registration", reg.Payload)
	assert.Equal(t, time.UTC, reg.Timestamp.Location())

	hb := NewHeartbeatMessage("Edge Relay", now)
	assert.Equal(t, KindHeartbeat, hb.Kind)
	assert.Equal(t, "Edge Relay Heartbeat", hb.Payload)

	data, err := hb.Encode()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "Edge Relay Heartbeat", wire["payload"])
	assert.Equal(t, "Edge Relay", wire["module"])
	assert.Equal(t, "heartbeat", wire["kind"])
	assert.Equal(t, "2025-06-01T10:00:00Z", wire["timestamp"])
}
