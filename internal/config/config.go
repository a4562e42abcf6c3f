package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the alerting engine.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// SensorDirectoryFile is the YAML file describing sensor bindings
	SensorDirectoryFile string `env:"SENSOR_DIRECTORY_FILE" envDefault:"sensors.yaml"`

	// PhoneEncryptionKey decrypts phone numbers stored at rest (16, 24 or 32 bytes)
	PhoneEncryptionKey string `env:"PHONE_ENCRYPTION_KEY"`

	Engine    EngineConfig
	Transport TransportConfig `envPrefix:"TRANSPORT_"`
	Postgres  PostgresConfig  `envPrefix:"POSTGRES_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Influx    InfluxConfig    `envPrefix:"INFLUX_"`
	Notify    NotifyConfig
}

// EngineConfig controls the ingest and notification pools.
type EngineConfig struct {
	WorkerPoolSize      int           `env:"WORKER_POOL_SIZE" envDefault:"8"`
	QueueSize           int           `env:"QUEUE_SIZE" envDefault:"256"`
	BackpressurePolicy  string        `env:"BACKPRESSURE_POLICY" envDefault:"block"`
	SubmitTimeout       time.Duration `env:"SUBMIT_TIMEOUT" envDefault:"2s"`
	DedupeWindowSeconds int           `env:"DEDUPE_WINDOW_SECONDS" envDefault:"300"`
	NotifyWorkers       int           `env:"NOTIFY_WORKERS" envDefault:"4"`
	NotifyQueueSize     int           `env:"NOTIFY_QUEUE_SIZE" envDefault:"128"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	StoreTimeout        time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	SystemRulesEnabled  bool          `env:"SYSTEM_RULES_ENABLED" envDefault:"true"`
}

// DedupeWindow returns the cool-down window as a duration.
func (e EngineConfig) DedupeWindow() time.Duration {
	return time.Duration(e.DedupeWindowSeconds) * time.Second
}

// TransportConfig selects and configures the inbound pub/sub transport.
type TransportConfig struct {
	// Kind is one of mqtt, kafka or http
	Kind string `env:"KIND" envDefault:"mqtt"`

	MQTTBroker   string   `env:"MQTT_BROKER" envDefault:"tcp://localhost:1883"`
	MQTTClientID string   `env:"MQTT_CLIENT_ID" envDefault:"roomwatch-engine"`
	MQTTTopics   []string `env:"MQTT_TOPICS" envSeparator:"," envDefault:"sensor/#"`
	MQTTQoS      int      `env:"MQTT_QOS" envDefault:"0"`
	MQTTUsername string   `env:"MQTT_USERNAME"`
	MQTTPassword string   `env:"MQTT_PASSWORD"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"sensor-telemetry"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"roomwatch-engine"`

	// AlertFeedTopic enables publishing fired alerts to Kafka when set
	AlertFeedTopic        string        `env:"ALERT_FEED_TOPIC"`
	AlertFeedCompression  string        `env:"ALERT_FEED_COMPRESSION" envDefault:"snappy"`
	AlertFeedMaxRetries   int           `env:"ALERT_FEED_MAX_RETRIES" envDefault:"3"`
	AlertFeedRetryBackoff time.Duration `env:"ALERT_FEED_RETRY_BACKOFF" envDefault:"100ms"`
}

// PostgresConfig holds the document store connection.
type PostgresConfig struct {
	URL string `env:"URL" envDefault:"postgres://localhost:5432/roomwatch?sslmode=disable"`
}

// RedisConfig holds the rule cache connection.
type RedisConfig struct {
	Addr         string        `env:"ADDR"`
	RuleCacheTTL time.Duration `env:"RULE_CACHE_TTL" envDefault:"30s"`
}

// InfluxConfig holds the raw telemetry sink. Empty URL disables it.
type InfluxConfig struct {
	URL    string `env:"URL"`
	Token  string `env:"TOKEN"`
	Org    string `env:"ORG" envDefault:"roomwatch"`
	Bucket string `env:"BUCKET" envDefault:"telemetry"`
}

// NotifyConfig configures the notification channels.
type NotifyConfig struct {
	EnabledChannels []string `env:"ENABLED_CHANNELS" envSeparator:"," envDefault:"email,sms,voice"`
	// RatePerMinute caps attempts per channel; 0 disables limiting
	RatePerMinute int `env:"NOTIFY_RATE_PER_MINUTE" envDefault:"60"`

	SMTPHost     string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	MailFrom     string `env:"MAIL_FROM" envDefault:"alerts@roomwatch.local"`
	MailSubject  string `env:"MAIL_SUBJECT" envDefault:"Room Monitoring Alert"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `env:"TWILIO_FROM"`
	TwilioBaseURL    string `env:"TWILIO_BASE_URL" envDefault:"https://api.twilio.com/2010-04-01"`
	VoiceTwimlURL    string `env:"VOICE_TWIML_URL" envDefault:"http://demo.twilio.com/docs/voice.xml"`

	Timeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"15s"`
}

// Backpressure policies
const (
	PolicyBlock      = "block"
	PolicyDropOldest = "drop_oldest"
)

// Load reads configuration from the environment, after an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	switch c.Engine.BackpressurePolicy {
	case PolicyBlock, PolicyDropOldest:
	default:
		return fmt.Errorf("config: BACKPRESSURE_POLICY must be %q or %q, got %q",
			PolicyBlock, PolicyDropOldest, c.Engine.BackpressurePolicy)
	}
	switch c.Transport.Kind {
	case "mqtt", "kafka", "http":
	default:
		return fmt.Errorf("config: TRANSPORT_KIND must be mqtt, kafka or http, got %q", c.Transport.Kind)
	}
	if c.Engine.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: WORKER_POOL_SIZE must be positive")
	}
	if c.Engine.DedupeWindowSeconds < 0 {
		return fmt.Errorf("config: DEDUPE_WINDOW_SECONDS must not be negative")
	}
	switch n := len(c.PhoneEncryptionKey); n {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("config: PHONE_ENCRYPTION_KEY must be 16, 24 or 32 bytes, got %d", n)
	}
	return nil
}

// Default returns a sensible default config for local dev and tests.
func Default() *Config {
	return &Config{
		LogLevel:            "info",
		HTTPAddr:            ":8080",
		SensorDirectoryFile: "sensors.yaml",
		Engine: EngineConfig{
			WorkerPoolSize:      8,
			QueueSize:           256,
			BackpressurePolicy:  PolicyBlock,
			SubmitTimeout:       2 * time.Second,
			DedupeWindowSeconds: 300,
			NotifyWorkers:       4,
			NotifyQueueSize:     128,
			ShutdownTimeout:     15 * time.Second,
			StoreTimeout:        5 * time.Second,
			SystemRulesEnabled:  true,
		},
		Transport: TransportConfig{
			Kind:         "http",
			MQTTBroker:   "tcp://localhost:1883",
			MQTTClientID: "roomwatch-engine",
			MQTTTopics:   []string{"sensor/#"},
			KafkaBrokers: []string{"localhost:9092"},
			KafkaTopic:   "sensor-telemetry",
			KafkaGroupID: "roomwatch-engine",

			AlertFeedCompression:  "snappy",
			AlertFeedMaxRetries:   3,
			AlertFeedRetryBackoff: 100 * time.Millisecond,
		},
		Postgres: PostgresConfig{URL: "postgres://localhost:5432/roomwatch?sslmode=disable"},
		Redis:    RedisConfig{RuleCacheTTL: 30 * time.Second},
		Influx:   InfluxConfig{Org: "roomwatch", Bucket: "telemetry"},
		Notify: NotifyConfig{
			EnabledChannels: []string{"email", "sms", "voice"},
			RatePerMinute:   60,
			SMTPHost:        "localhost",
			SMTPPort:        587,
			MailFrom:        "alerts@roomwatch.local",
			MailSubject:     "Room Monitoring Alert",
			TwilioBaseURL:   "https://api.twilio.com/2010-04-01",
			VoiceTwimlURL:   "http://demo.twilio.com/docs/voice.xml",
			Timeout:         15 * time.Second,
		},
	}
}
