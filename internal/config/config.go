package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuongbtq/brandgen/internal/pricing"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Storage drivers
const (
	StorageS3         = "s3"
	StorageFilesystem = "filesystem"
	StorageMemory     = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Retry     RetryConfig     `yaml:"retry"`
	Progress  ProgressConfig  `yaml:"progress"`
	Storage   StorageConfig   `yaml:"storage"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Derived   DerivedConfig   `yaml:"derived"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Pricing   pricing.Config  `yaml:"pricing"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	// MigrateOnStart applies pending migrations before serving
	MigrateOnStart bool `yaml:"migrate_on_start"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Notify     NotifyConfig     `yaml:"notify"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name    string `yaml:"name"`
	Durable bool   `yaml:"durable"`
}

// NotifyConfig is the outbound exchange the chat front end consumes
type NotifyConfig struct {
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	Tag           string `yaml:"tag"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// RedisConfig holds the job status cache connection
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"pool_size"`
	StatusTTL time.Duration `yaml:"status_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	RecoverInterval   time.Duration `yaml:"recover_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// RetryConfig is the provider backoff schedule
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
}

// ProgressConfig controls "still working" notifications
type ProgressConfig struct {
	Interval         time.Duration `yaml:"interval"`
	MaxTicks         int           `yaml:"max_ticks"`
	MaxTimersPerUser int           `yaml:"max_timers_per_user"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// StorageConfig selects and configures the object store
type StorageConfig struct {
	Driver           string           `yaml:"driver"`
	KeyPrefix        string           `yaml:"key_prefix"`
	FetchTimeout     time.Duration    `yaml:"fetch_timeout"`
	MaxDownloadBytes int64            `yaml:"max_download_bytes"`
	S3               S3Config         `yaml:"s3"`
	Filesystem       FilesystemConfig `yaml:"filesystem"`
}

// S3Config holds bucket settings
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PublicURL       string `yaml:"public_url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// FilesystemConfig serves objects from a local directory
type FilesystemConfig struct {
	BasePath string `yaml:"base_path"`
	BaseURL  string `yaml:"base_url"`
}

// SynthesisConfig configures the image provider. An empty APIKey selects
// the placeholder provider.
type SynthesisConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// DerivedConfig configures asset package builds
type DerivedConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	IconTimeout  time.Duration `yaml:"icon_timeout"`
	MinBytes     int64         `yaml:"min_bytes"`
	MaxBytes     int64         `yaml:"max_bytes"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// LedgerConfig holds balance settings
type LedgerConfig struct {
	ReferralReward int `yaml:"referral_reward"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Validate checks the sections both services share
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database host is required"))
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		errs = append(errs, fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort))
	}

	if c.Database.Database == "" {
		errs = append(errs, fmt.Errorf("database name is required"))
	}

	if c.RabbitMQ.Host == "" {
		errs = append(errs, fmt.Errorf("rabbitmq host is required"))
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		errs = append(errs, fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort))
	}

	if c.RabbitMQ.Exchange.Name == "" {
		errs = append(errs, fmt.Errorf("rabbitmq exchange name is required"))
	}

	if c.RabbitMQ.Queue.Name == "" {
		errs = append(errs, fmt.Errorf("rabbitmq queue name is required"))
	}

	if c.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("redis addr is required"))
	}

	return errors.Join(errs...)
}

// ValidateAPIConfig checks the configuration needed by the API service
func (c *Config) ValidateAPIConfig() error {
	var errs []error

	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort))
	}

	if c.Worker.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("worker job_timeout must be greater than 0"))
	}

	return errors.Join(errs...)
}

// ValidateWorkerConfig checks the configuration needed by the worker service
func (c *Config) ValidateWorkerConfig() error {
	var errs []error

	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker concurrency must be greater than 0"))
	}

	if c.Worker.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker heartbeat_interval must be greater than 0"))
	}

	if c.Worker.StaleAfter > 0 && c.Worker.StaleAfter <= c.Worker.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("worker stale_after must exceed heartbeat_interval"))
	}

	if c.Worker.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("worker shutdown_timeout must be greater than 0"))
	}

	if c.RabbitMQ.Notify.Exchange == "" {
		errs = append(errs, fmt.Errorf("rabbitmq notify exchange is required"))
	}

	if c.Synthesis.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("synthesis timeout must be greater than 0"))
	}

	switch c.Storage.Driver {
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage s3 bucket is required"))
		}
	case StorageFilesystem:
		if c.Storage.Filesystem.BasePath == "" {
			errs = append(errs, fmt.Errorf("storage filesystem base_path is required"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q (want %s, %s or %s)", c.Storage.Driver, StorageS3, StorageFilesystem, StorageMemory))
	}

	return errors.Join(errs...)
}
