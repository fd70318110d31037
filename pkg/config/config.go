package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/illmade-knight/httpuploader/pkg/bridge"
	"github.com/illmade-knight/httpuploader/pkg/messagebus"
	"github.com/illmade-knight/httpuploader/pkg/mqttbus"
	"github.com/illmade-knight/httpuploader/pkg/pubsubbus"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Supported broker kinds.
const (
	BusMQTT   = "mqtt"
	BusPubsub = "pubsub"
)

// WebhookConfig describes the HTTP endpoint telemetry is forwarded to.
type WebhookConfig struct {
	URL     string        `yaml:"url" env:"URL"`
	Token   string        `yaml:"token" env:"TOKEN"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// MQTTConfig holds the MQTT broker connection settings.
type MQTTConfig struct {
	BrokerURL          string        `yaml:"broker_url" env:"BROKER_URL"`
	IP                 string        `yaml:"ip" env:"IP"`
	Port               int           `yaml:"port" env:"PORT"`
	ClientIDPrefix     string        `yaml:"client_id_prefix" env:"CLIENT_ID_PREFIX"`
	Username           string        `yaml:"username" env:"USERNAME"`
	Password           string        `yaml:"password" env:"PASSWORD"`
	QoS                byte          `yaml:"qos" env:"QOS"`
	KeepAlive          time.Duration `yaml:"keep_alive" env:"KEEP_ALIVE"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	ReconnectWaitMax   time.Duration `yaml:"reconnect_wait_max" env:"RECONNECT_WAIT_MAX"`
	CACertFile         string        `yaml:"ca_cert_file" env:"CA_CERT_FILE"`
	ClientCertFile     string        `yaml:"client_cert_file" env:"CLIENT_CERT_FILE"`
	ClientKeyFile      string        `yaml:"client_key_file" env:"CLIENT_KEY_FILE"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

// PubsubConfig holds the Google Cloud Pub/Sub settings.
type PubsubConfig struct {
	ProjectID          string `yaml:"project_id" env:"GCP_PROJECT_ID"`
	CredentialsFile    string `yaml:"credentials_file" env:"GCP_PUBSUB_CREDENTIALS_FILE"`
	SubscriptionSuffix string `yaml:"subscription_suffix" env:"PUBSUB_SUBSCRIPTION_SUFFIX"`
	CreateMissing      bool   `yaml:"create_missing" env:"PUBSUB_CREATE_MISSING"`
}

// Config is the full process configuration.
type Config struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
	Debug    bool   `yaml:"debug" env:"DEBUG"`

	ModuleName         string `yaml:"module_name" env:"MODULE_NAME"`
	TelemetryTopic     string `yaml:"telemetry_topic" env:"TELEMETRY_TOPIC"`
	TelemetryJSONTopic string `yaml:"telemetry_json_topic" env:"TELEMETRY_JSON_TOPIC"`
	RegistrationTopic  string `yaml:"registration_topic" env:"REGISTRATION_TOPIC"`
	HeartbeatTopic     string `yaml:"heartbeat_topic" env:"HEARTBEAT_TOPIC"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	RegistrationDelay time.Duration `yaml:"registration_delay" env:"REGISTRATION_DELAY"`
	DeliveryWorkers   int           `yaml:"delivery_workers" env:"DELIVERY_WORKERS"`
	DeliveryQueueSize int           `yaml:"delivery_queue_size" env:"DELIVERY_QUEUE_SIZE"`
	MetricsAddr       string        `yaml:"metrics_addr" env:"METRICS_ADDR"`

	BusKind string        `yaml:"bus_kind" env:"BUS_KIND"`
	Webhook WebhookConfig `yaml:"webhook" envPrefix:"WEBHOOK_"`
	MQTT    MQTTConfig    `yaml:"mqtt" envPrefix:"MQTT_"`
	Pubsub  PubsubConfig  `yaml:"pubsub"`
}

// Default returns the reference configuration.
func Default() Config {
	b := bridge.DefaultConfig()
	return Config{
		LogLevel:          "info",
		ModuleName:        b.ModuleName,
		RegistrationTopic: b.RegistrationTopic,
		HeartbeatTopic:    b.HeartbeatTopic,
		HeartbeatInterval: b.HeartbeatInterval,
		RegistrationDelay: b.RegistrationDelay,
		DeliveryQueueSize: b.DeliveryQueueSize,
		BusKind:           BusMQTT,
		Webhook:           WebhookConfig{Timeout: b.DeliveryTimeout},
		MQTT:              MQTTConfig{QoS: 1},
		Pubsub:            PubsubConfig{SubscriptionSuffix: pubsubbus.DefaultSubscriptionSuffix},
	}
}

// Load builds a Config from defaults, then the YAML file at path (if path is
// not empty), then the environment. Variables that are unset leave the
// earlier value in place.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.TelemetryTopic == "" {
		cfg.TelemetryTopic = cfg.TelemetryJSONTopic
	}
	if cfg.MQTT.BrokerURL == "" {
		cfg.MQTT.BrokerURL = mqttbus.BrokerURLFromHost(cfg.MQTT.IP, cfg.MQTT.Port)
	}
	return &cfg, nil
}

// ApplyMQTTFile replaces the MQTT section with the JSON client file at path
// (see mqttbus.LoadMQTTClientConfigFromFile). MQTT_IP and MQTT_PORT no longer
// apply once a file is loaded because the file must name its broker_url.
func (c *Config) ApplyMQTTFile(path string) error {
	fileCfg, err := mqttbus.LoadMQTTClientConfigFromFile(path)
	if err != nil {
		return err
	}
	c.MQTT = MQTTConfig{
		BrokerURL:          fileCfg.BrokerURL,
		ClientIDPrefix:     fileCfg.ClientIDPrefix,
		Username:           fileCfg.Username,
		Password:           fileCfg.Password,
		QoS:                fileCfg.QoS,
		KeepAlive:          fileCfg.KeepAlive,
		ConnectTimeout:     fileCfg.ConnectTimeout,
		ReconnectWaitMax:   fileCfg.ReconnectWaitMax,
		CACertFile:         fileCfg.CACertFile,
		ClientCertFile:     fileCfg.ClientCertFile,
		ClientKeyFile:      fileCfg.ClientKeyFile,
		InsecureSkipVerify: fileCfg.InsecureSkipVerify,
	}
	return nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.TelemetryTopic == "" {
		errs = append(errs, errors.New("TELEMETRY_TOPIC (or TELEMETRY_JSON_TOPIC) is required"))
	}
	if c.Webhook.URL == "" {
		errs = append(errs, errors.New("WEBHOOK_URL is required"))
	}
	if c.Webhook.Token == "" {
		errs = append(errs, errors.New("WEBHOOK_TOKEN is required"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.DeliveryWorkers < 0 {
		errs = append(errs, errors.New("DELIVERY_WORKERS must not be negative"))
	}

	switch c.BusKind {
	case BusMQTT:
		if c.MQTT.BrokerURL == "" {
			errs = append(errs, errors.New("MQTT_BROKER_URL or MQTT_IP is required"))
		}
	case BusPubsub:
		if c.Pubsub.ProjectID == "" {
			errs = append(errs, errors.New("GCP_PROJECT_ID is required for the pubsub bus"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BUS_KIND %q", c.BusKind))
	}
	return errors.Join(errs...)
}

// Level resolves the effective log level; Debug forces debug.
func (c *Config) Level() zerolog.Level {
	if c.Debug {
		return zerolog.DebugLevel
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// BridgeConfig converts to the bridge's configuration.
func (c *Config) BridgeConfig() bridge.Config {
	b := bridge.DefaultConfig()
	b.ModuleName = c.ModuleName
	b.TelemetryTopic = c.TelemetryTopic
	b.WebhookURL = c.Webhook.URL
	b.WebhookToken = c.Webhook.Token
	b.DeliveryTimeout = c.Webhook.Timeout
	b.RegistrationTopic = c.RegistrationTopic
	b.HeartbeatTopic = c.HeartbeatTopic
	b.HeartbeatInterval = c.HeartbeatInterval
	b.RegistrationDelay = c.RegistrationDelay
	b.DeliveryWorkers = c.DeliveryWorkers
	b.DeliveryQueueSize = c.DeliveryQueueSize
	return b
}

// MQTTClientConfig converts to the paho client configuration.
func (c *Config) MQTTClientConfig() mqttbus.MQTTClientConfig {
	return mqttbus.MQTTClientConfig{
		BrokerURL:          c.MQTT.BrokerURL,
		ClientIDPrefix:     c.MQTT.ClientIDPrefix,
		Username:           c.MQTT.Username,
		Password:           c.MQTT.Password,
		QoS:                c.MQTT.QoS,
		KeepAlive:          c.MQTT.KeepAlive,
		ConnectTimeout:     c.MQTT.ConnectTimeout,
		ReconnectWaitMax:   c.MQTT.ReconnectWaitMax,
		CACertFile:         c.MQTT.CACertFile,
		ClientCertFile:     c.MQTT.ClientCertFile,
		ClientKeyFile:      c.MQTT.ClientKeyFile,
		InsecureSkipVerify: c.MQTT.InsecureSkipVerify,
	}
}

// PubsubClientConfig converts to the Pub/Sub client configuration.
func (c *Config) PubsubClientConfig() pubsubbus.Config {
	return pubsubbus.Config{
		ProjectID:          c.Pubsub.ProjectID,
		CredentialsFile:    c.Pubsub.CredentialsFile,
		SubscriptionSuffix: c.Pubsub.SubscriptionSuffix,
		CreateMissing:      c.Pubsub.CreateMissing,
	}
}

// NewBus returns an unconnected client for the configured broker kind.
func (c *Config) NewBus(logger zerolog.Logger) (messagebus.Client, error) {
	switch c.BusKind {
	case BusMQTT:
		return mqttbus.NewClient(c.MQTTClientConfig(), logger), nil
	case BusPubsub:
		return pubsubbus.NewClient(c.PubsubClientConfig(), logger), nil
	default:
		return nil, fmt.Errorf("unknown BUS_KIND %q", c.BusKind)
	}
}
