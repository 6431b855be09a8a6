package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "brandgen_db", cfg.Database.Database)
				assert.Equal(t, "jobs_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "jobs_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "chat_outbound", cfg.RabbitMQ.Notify.Exchange)
				assert.Equal(t, "brandgen", cfg.App.Name)
				assert.Equal(t, 24*time.Hour, cfg.Redis.StatusTTL)
				assert.Equal(t, 5*time.Minute, cfg.Worker.StaleAfter)
				assert.Equal(t, StorageFilesystem, cfg.Storage.Driver)
				assert.Equal(t, 40, cfg.Pricing.MemeHDCost)
				assert.Equal(t, 4, cfg.Pricing.StickerBatchSize)
				assert.Equal(t, 90*time.Second, cfg.Synthesis.Timeout)
			}
		})
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("BRANDGEN_TEST_DB_PASSWORD", "s3cret")
	t.Setenv("BRANDGEN_TEST_GEMINI_KEY", "key-123")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "key-123", cfg.Synthesis.APIKey)
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "brandgen_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "jobs_exchange"},
			Queue:    QueueConfig{Name: "jobs_queue"},
			Notify:   NotifyConfig{Exchange: "chat_outbound"},
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Worker: WorkerConfig{
			Concurrency:       3,
			JobTimeout:        10 * time.Minute,
			HeartbeatInterval: 30 * time.Second,
			StaleAfter:        5 * time.Minute,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage:   StorageConfig{Driver: StorageMemory},
		Synthesis: SynthesisConfig{Timeout: 90 * time.Second},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = 0 },
			errString: "invalid database port",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "empty redis addr",
			mutate:    func(c *Config) { c.Redis.Addr = "" },
			errString: "redis addr is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "missing job timeout",
			mutate:    func(c *Config) { c.Worker.JobTimeout = 0 },
			errString: "job_timeout",
		},
		{
			name:      "shared section checked",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "stale window shorter than heartbeat",
			mutate:    func(c *Config) { c.Worker.StaleAfter = 10 * time.Second },
			errString: "stale_after must exceed heartbeat_interval",
		},
		{
			name:      "missing notify exchange",
			mutate:    func(c *Config) { c.RabbitMQ.Notify.Exchange = "" },
			errString: "notify exchange is required",
		},
		{
			name:      "zero synthesis timeout",
			mutate:    func(c *Config) { c.Synthesis.Timeout = 0 },
			errString: "synthesis timeout must be greater than 0",
		},
		{
			name:      "unknown storage driver",
			mutate:    func(c *Config) { c.Storage.Driver = "ftp" },
			errString: "unknown storage driver",
		},
		{
			name:      "s3 without bucket",
			mutate:    func(c *Config) { c.Storage.Driver = StorageS3 },
			errString: "storage s3 bucket is required",
		},
		{
			name: "filesystem without path",
			mutate: func(c *Config) {
				c.Storage.Driver = StorageFilesystem
			},
			errString: "base_path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
