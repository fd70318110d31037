package mqttbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// MQTTClientConfig holds configuration for the paho client.
type MQTTClientConfig struct {
	BrokerURL          string        `json:"broker_url"`
	ClientIDPrefix     string        `json:"client_id_prefix"`
	Username           string        `json:"username"`
	Password           string        `json:"password"`
	QoS                byte          `json:"qos"`
	KeepAlive          time.Duration `json:"-"`
	ConnectTimeout     time.Duration `json:"-"`
	ReconnectWaitMax   time.Duration `json:"-"`
	CACertFile         string        `json:"ca_cert_file"`
	ClientCertFile     string        `json:"client_cert_file"`
	ClientKeyFile      string        `json:"client_key_file"`
	InsecureSkipVerify bool          `json:"insecure_skip_verify"`
}

const (
	defaultKeepAlive        = 60 * time.Second
	defaultConnectTimeout   = 10 * time.Second
	defaultReconnectWaitMax = 2 * time.Minute
	defaultClientIDPrefix   = "httpuploader-"
	defaultPort             = 1883
)

// applyDefaults fills zero values.
func (c *MQTTClientConfig) applyDefaults() {
	if c.KeepAlive == 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReconnectWaitMax == 0 {
		c.ReconnectWaitMax = defaultReconnectWaitMax
	}
	if c.ClientIDPrefix == "" {
		c.ClientIDPrefix = defaultClientIDPrefix
	}
	if c.QoS > 2 {
		c.QoS = 1
	}
}

// BrokerURLFromHost builds a tcp:// broker URL from a bare host and port, as
// supplied by MQTT_IP style settings. A zero port means 1883.
func BrokerURLFromHost(host string, port int) string {
	if host == "" {
		return ""
	}
	if port == 0 {
		port = defaultPort
	}
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// LoadMQTTClientConfigFromFile loads MQTT configuration from a JSON file.
func LoadMQTTClientConfigFromFile(filePath string) (*MQTTClientConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	// Unmarshal into a raw map to handle special types like duration manually
	var rawConfig map[string]interface{}
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw config from %s: %w", filePath, err)
	}

	cfg := MQTTClientConfig{QoS: 1}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal typed config from %s: %w", filePath, err)
	}

	// Durations are expressed in seconds in the file.
	if v, ok := rawConfig["keep_alive_seconds"].(float64); ok {
		cfg.KeepAlive = time.Duration(v * float64(time.Second))
	}
	if v, ok := rawConfig["connect_timeout_seconds"].(float64); ok {
		cfg.ConnectTimeout = time.Duration(v * float64(time.Second))
	}
	if v, ok := rawConfig["reconnect_wait_max_seconds"].(float64); ok {
		cfg.ReconnectWaitMax = time.Duration(v * float64(time.Second))
	}
	cfg.applyDefaults()

	if cfg.BrokerURL == "" {
		return nil, errors.New("'broker_url' is a required field in the config file")
	}
	return &cfg, nil
}
