package bridge

import (
	"encoding/json"
	"time"
)

// Status message kinds.
const (
	KindRegistration = "registration"
	KindHeartbeat    = "heartbeat"
)

// StatusMessage is published to the broker to announce the module (once, at
// startup) and to signal liveness (on every heartbeat).
type StatusMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Kind      string    `json:"kind"`
	Payload   string    `json:"payload"`
}

// NewRegistrationMessage builds the startup announcement for module.
func NewRegistrationMessage(module string, now time.Time) StatusMessage {
	return StatusMessage{
		Timestamp: now.UTC(),
		Module:    module,
		Kind:      KindRegistration,
		Payload:   module + " Module Registration",
	}
}

// NewHeartbeatMessage builds a fresh liveness message for module.
func NewHeartbeatMessage(module string, now time.Time) StatusMessage {
	return StatusMessage{
		Timestamp: now.UTC(),
		Module:    module,
		Kind:      KindHeartbeat,
		Payload:   module + " Heartbeat",
	}
}

// Encode returns the wire form of the message.
func (m StatusMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}
