// Package config centralizes how photolib reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers accepted by PHOTO_STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config represents runtime configuration shared by the api, worker and CLI.
type Config struct {
	Env            string `env:"PHOTO_ENV" envDefault:"production"`
	LogLevel       string `env:"PHOTO_LOG_LEVEL" envDefault:"info"`
	Address        string `env:"PHOTO_API_ADDRESS" envDefault:":8080"`
	MetricsAddress string `env:"PHOTO_METRICS_ADDRESS" envDefault:":9090"`
	MaxFileSize    int64  `env:"PHOTO_MAX_FILE_BYTES" envDefault:"26214400"`

	StoreDriver string `env:"PHOTO_STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"PHOTO_DATABASE_URL"`
	SQLitePath  string `env:"PHOTO_SQLITE_PATH" envDefault:"data/photos.db"`

	Redis  RedisConfig  `envPrefix:"PHOTO_REDIS_"`
	S3     S3Config     `envPrefix:"PHOTO_S3_"`
	Queues QueueConfig  `envPrefix:"PHOTO_QUEUE_"`
	Mail   MailConfig   `envPrefix:"PHOTO_MAIL_"`
	Topics TopicConfig  `envPrefix:"PHOTO_TOPIC_"`
	Dedupe DedupeConfig `envPrefix:"PHOTO_DEDUPE_"`
}

// RedisConfig locates the asynq broker.
type RedisConfig struct {
	Addr     string `env:"ADDR,required"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// S3Config locates the upload bucket.
type S3Config struct {
	Endpoint  string `env:"ENDPOINT,required"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
	Region    string `env:"REGION,required"`
	Bucket    string `env:"BUCKET,required"`
}

// QueueConfig names the asynq queues and holds the retry policy.
type QueueConfig struct {
	Ingest     string `env:"INGEST" envDefault:"ingest"`
	DeadLetter string `env:"DEAD_LETTER" envDefault:"dead-letter"`
	Review     string `env:"REVIEW" envDefault:"review"`
	Mailer     string `env:"MAILER" envDefault:"mailer"`
	// MaxReceiveCount is how many times an ingestion message is attempted
	// before it is dead-lettered.
	MaxReceiveCount int `env:"MAX_RECEIVE_COUNT" envDefault:"1"`
	// DeliveryRetries bounds redelivery of routed messages.
	DeliveryRetries int           `env:"DELIVERY_RETRIES" envDefault:"3"`
	TaskTimeout     time.Duration `env:"TASK_TIMEOUT" envDefault:"10s"`
	Concurrency     int           `env:"CONCURRENCY" envDefault:"4"`
}

// TopicConfig names the two router topics.
type TopicConfig struct {
	Review string `env:"REVIEW" envDefault:"photo-review"`
	Mailer string `env:"MAILER" envDefault:"photo-mailer"`
}

// MailConfig holds sender/recipient and the SMTP relay.
type MailConfig struct {
	Sender    string `env:"SENDER,required"`
	Recipient string `env:"RECIPIENT,required"`
	SMTPHost  string `env:"SMTP_HOST,required"`
	SMTPPort  int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser  string `env:"SMTP_USER"`
	SMTPPass  string `env:"SMTP_PASS"`
}

// DedupeConfig sizes the mailer's sent-notification cache.
type DedupeConfig struct {
	Size int           `env:"SIZE" envDefault:"1024"`
	TTL  time.Duration `env:"TTL" envDefault:"1h"`
}

// Load reads a .env file when present, then the process environment.
// Missing required identifiers are a fatal configuration error.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse(env.Options{})
}

// LoadFrom parses configuration from an explicit environment map.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field rules env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.StoreDriver) {
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("PHOTO_DATABASE_URL is required for the postgres store"))
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("PHOTO_SQLITE_PATH is required for the sqlite store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.StoreDriver))
	}
	if c.Queues.MaxReceiveCount < 1 {
		errs = append(errs, errors.New("PHOTO_QUEUE_MAX_RECEIVE_COUNT must be >= 1"))
	}
	if c.Queues.DeliveryRetries < 0 {
		errs = append(errs, errors.New("PHOTO_QUEUE_DELIVERY_RETRIES cannot be negative"))
	}
	if c.Queues.Concurrency < 1 {
		errs = append(errs, errors.New("PHOTO_QUEUE_CONCURRENCY must be >= 1"))
	}
	if c.Queues.TaskTimeout <= 0 {
		errs = append(errs, errors.New("PHOTO_QUEUE_TASK_TIMEOUT must be positive"))
	}
	if c.MaxFileSize <= 0 {
		errs = append(errs, errors.New("PHOTO_MAX_FILE_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

// IngestMaxRetry converts the receive budget into asynq's retry count.
func (q QueueConfig) IngestMaxRetry() int {
	return q.MaxReceiveCount - 1
}
