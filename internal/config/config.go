package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration. Nested struct names form the
// environment variable prefix, e.g. Ingest.Workers reads INGEST_WORKERS.
type Config struct {
	Service    ServiceConfig    `envconfig:"SERVICE"`
	HTTP       HTTPConfig       `envconfig:"HTTP"`
	GRPC       GRPCConfig       `envconfig:"GRPC"`
	Ingest     IngestConfig     `envconfig:"INGEST"`
	Transcript TranscriptConfig `envconfig:"TRANSCRIPT"`
	Webhook    WebhookConfig    `envconfig:"WEBHOOK"`
	Kafka      KafkaConfig      `envconfig:"KAFKA"`
	Log        LogConfig        `envconfig:"LOG"`
	Metrics    MetricsConfig    `envconfig:"METRICS"`
}

type ServiceConfig struct {
	Principal string `envconfig:"PRINCIPAL" default:"svc-live-transcript"`
}

type HTTPConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

type GRPCConfig struct {
	Port string `envconfig:"PORT" default:"50051"`
}

// IngestConfig sizes the webhook dispatcher.
type IngestConfig struct {
	Workers   int `envconfig:"WORKERS" default:"8"`
	QueueSize int `envconfig:"QUEUE_SIZE" default:"1024"`
}

type TranscriptConfig struct {
	DedupeFinals bool `envconfig:"DEDUPE_FINALS" default:"true"`
}

type WebhookConfig struct {
	Secret       string `envconfig:"SECRET"`
	MaxBodyBytes int64  `envconfig:"MAX_BODY_BYTES" default:"1048576"`
}

type KafkaConfig struct {
	Enabled      bool     `envconfig:"ENABLED" default:"false"`
	Brokers      []string `envconfig:"BROKERS" default:"localhost:9092"`
	TopicPartial string   `envconfig:"TOPIC_PARTIAL" default:"meeting.transcript.partial"`
	TopicFinal   string   `envconfig:"TOPIC_FINAL" default:"meeting.transcript.final"`
	// Principal defaults to the service principal when unset.
	Principal string `envconfig:"PRINCIPAL"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"` // json or console
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"ENABLED" default:"true"`
	Port    string `envconfig:"PORT" default:"9090"`
}

// Load reads a .env file if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv reads configuration from the environment only.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Principal
	}
	cfg.Kafka.Brokers = trimAll(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Ingest.Workers < 1 {
		errs = append(errs, fmt.Errorf("INGEST_WORKERS must be >= 1, got %d", c.Ingest.Workers))
	}
	if c.Ingest.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("INGEST_QUEUE_SIZE must be >= 1, got %d", c.Ingest.QueueSize))
	}
	if c.Webhook.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("WEBHOOK_MAX_BODY_BYTES must be >= 1, got %d", c.Webhook.MaxBodyBytes))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true"))
	}
	return errors.Join(errs...)
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
