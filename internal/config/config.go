package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete worker configuration
type Config struct {
	App         AppConfig         `yaml:"app"`
	Logging     LoggingConfig     `yaml:"logging"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Database    DatabaseConfig    `yaml:"database"`
	S3          S3Config          `yaml:"s3"`
	ModelServer ModelServerConfig `yaml:"model_server"`
	Worker      WorkerConfig      `yaml:"worker"`
	Ops         OpsConfig         `yaml:"ops"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"APP_ENV"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Format       string `yaml:"format" env:"LOG_FORMAT"`
	Output       string `yaml:"output" env:"LOG_OUTPUT"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// RabbitMQConfig holds the broker URL and the exchange the worker listens on
type RabbitMQConfig struct {
	URL         string           `yaml:"url" env:"RABBITMQ_URL"`
	Exchange    ExchangeConfig   `yaml:"exchange"`
	Queue       QueueConfig      `yaml:"queue"`
	RoutingKeys []string         `yaml:"routing_keys" env:"JOB_ROUTING_KEYS"`
	Connection  ConnectionConfig `yaml:"connection"`
	Consumer    ConsumerConfig   `yaml:"consumer"`
	Publish     PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name" env:"JOB_EXCHANGE_NAME"`
	Type    string `yaml:"type" env:"JOB_EXCHANGE_TYPE"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig holds RabbitMQ queue configuration. An empty name asks the
// broker for a private queue.
type QueueConfig struct {
	Name string `yaml:"name" env:"JOB_QUEUE_NAME"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	Heartbeat            time.Duration `yaml:"heartbeat"`
	ExitOnTransportError bool          `yaml:"exit_on_transport_error"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int    `yaml:"prefetch_count"`
	AutoAck       bool   `yaml:"auto_ack"`
	Tag           string `yaml:"tag"`
}

// PublishConfig holds job publisher settings
type PublishConfig struct {
	RoutingKey        string        `yaml:"routing_key" env:"JOB_ROUTING_KEY"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL             string        `yaml:"url" env:"DATABASE_URL"`
	Host            string        `yaml:"host" env:"POSTGRES_HOST"`
	Port            int           `yaml:"port" env:"POSTGRES_PORT"`
	User            string        `yaml:"user" env:"POSTGRES_USER"`
	Password        string        `yaml:"password" env:"POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" env:"POSTGRES_DB"`
	SSLMode         string        `yaml:"sslmode" env:"POSTGRES_SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// S3Config holds blob store settings
type S3Config struct {
	EndpointURL     string `yaml:"endpoint_url" env:"S3_ENDPOINT_URL"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY"`
	Region          string `yaml:"region" env:"S3_REGION_NAME"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET_NAME"`
	CreateBucket    bool   `yaml:"create_bucket"`
}

// ModelServerConfig holds the model server client settings
type ModelServerConfig struct {
	URL       string        `yaml:"url" env:"MODEL_SERVER_URL"`
	Timeout   time.Duration `yaml:"timeout"`
	Retries   int           `yaml:"retries"`
	RetryWait time.Duration `yaml:"retry_wait"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	KeyPrefix       string        `yaml:"key_prefix" env:"S3_KEY_PREFIX"`
}

// OpsConfig holds the health and metrics server configuration
type OpsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Port         int           `yaml:"port" env:"OPS_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Load reads the configuration file, applies environment overrides and fills defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills unset values
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tensor-trigger-worker"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
	if len(c.RabbitMQ.RoutingKeys) == 0 && c.RabbitMQ.Publish.RoutingKey != "" {
		c.RabbitMQ.RoutingKeys = []string{c.RabbitMQ.Publish.RoutingKey}
	}
	if c.RabbitMQ.Publish.RoutingKey == "" && len(c.RabbitMQ.RoutingKeys) > 0 {
		c.RabbitMQ.Publish.RoutingKey = c.RabbitMQ.RoutingKeys[0]
	}
	if c.RabbitMQ.Connection.ReconnectInterval == 0 {
		c.RabbitMQ.Connection.ReconnectInterval = 15 * time.Second
	}
	if c.RabbitMQ.Connection.Heartbeat == 0 {
		c.RabbitMQ.Connection.Heartbeat = 10 * time.Second
	}
	if c.RabbitMQ.Consumer.PrefetchCount == 0 {
		c.RabbitMQ.Consumer.PrefetchCount = 1
	}

	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}

	if c.ModelServer.Timeout == 0 {
		c.ModelServer.Timeout = 5 * time.Minute
	}

	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}

	if c.Ops.Port == 0 {
		c.Ops.Port = 9090
	}
}

// ValidateWorkerConfig checks everything the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	var errs []error

	if c.RabbitMQ.URL == "" {
		errs = append(errs, errors.New("rabbitmq url is required"))
	}
	if c.RabbitMQ.Exchange.Name == "" {
		errs = append(errs, errors.New("rabbitmq exchange name is required"))
	}
	if !slices.Contains([]string{"direct", "fanout", "topic", "headers"}, c.RabbitMQ.Exchange.Type) {
		errs = append(errs, fmt.Errorf("invalid rabbitmq exchange type: %q", c.RabbitMQ.Exchange.Type))
	}
	if c.RabbitMQ.Consumer.PrefetchCount < 0 {
		errs = append(errs, errors.New("rabbitmq prefetch_count must not be negative"))
	}

	if c.Database.URL == "" {
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database host is required"))
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			errs = append(errs, fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort))
		}
		if c.Database.Database == "" {
			errs = append(errs, errors.New("database name is required"))
		}
	}

	if c.S3.Bucket == "" {
		errs = append(errs, errors.New("s3 bucket is required"))
	}
	if c.ModelServer.URL == "" {
		errs = append(errs, errors.New("model server url is required"))
	}

	if c.Worker.JobTimeout < 0 {
		errs = append(errs, errors.New("worker job_timeout must not be negative"))
	}
	if c.Worker.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("worker shutdown_timeout must be greater than 0"))
	}

	if c.Ops.Enabled && (c.Ops.Port < MinPort || c.Ops.Port > MaxPort) {
		errs = append(errs, fmt.Errorf("invalid ops port: %d (must be between %d and %d)", c.Ops.Port, MinPort, MaxPort))
	}

	return errors.Join(errs...)
}

// ValidatePublisherConfig checks what the job publisher needs
func (c *Config) ValidatePublisherConfig() error {
	var errs []error
	if c.RabbitMQ.URL == "" {
		errs = append(errs, errors.New("rabbitmq url is required"))
	}
	if c.RabbitMQ.Exchange.Name == "" {
		errs = append(errs, errors.New("rabbitmq exchange name is required"))
	}
	if c.RabbitMQ.Exchange.Type != "fanout" && c.RabbitMQ.Publish.RoutingKey == "" {
		errs = append(errs, errors.New("rabbitmq publish routing_key is required"))
	}
	return errors.Join(errs...)
}
