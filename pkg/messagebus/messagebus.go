package messagebus

import (
	"context"
	"fmt"
)

// Handler is invoked by a Client for every message delivered on a subscribed topic.
// Implementations must return promptly and must not panic; the Client's own
// delivery goroutine is the caller.
type Handler func(topic string, payload []byte)

// Client defines the broker capabilities the bridge depends on.
// This allows for different broker implementations (e.g., MQTT, Google Pub/Sub, mock)
// and keeps the bridge free of any broker specific code.
type Client interface {
	// Connect establishes the broker connection. A failure here is fatal to the caller
	// and is reported as a *ConnectError.
	Connect(ctx context.Context) error
	// Subscribe binds handler to topic for the lifetime of the connection,
	// including any reconnects the client performs on its own.
	Subscribe(topic string, handler Handler) error
	// Publish sends payload to topic and waits for the broker to accept it or ctx to end.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Disconnect releases the connection. It is safe to call more than once.
	Disconnect()
}

// ConnectError reports that the broker could not be reached at startup.
type ConnectError struct {
	Broker string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to broker %s: %v", e.Broker, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
