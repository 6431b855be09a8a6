package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/brandgen/internal/config"
	"github.com/cuongbtq/brandgen/internal/derived"
	"github.com/cuongbtq/brandgen/internal/jobstatus"
	"github.com/cuongbtq/brandgen/internal/ledger"
	"github.com/cuongbtq/brandgen/internal/notify"
	"github.com/cuongbtq/brandgen/internal/objectstore"
	"github.com/cuongbtq/brandgen/internal/pipeline"
	"github.com/cuongbtq/brandgen/internal/pricing"
	"github.com/cuongbtq/brandgen/internal/progress"
	"github.com/cuongbtq/brandgen/internal/queue"
	"github.com/cuongbtq/brandgen/internal/records"
	"github.com/cuongbtq/brandgen/internal/retry"
	"github.com/cuongbtq/brandgen/internal/synthesis"
	"github.com/cuongbtq/brandgen/internal/worker"
	"github.com/cuongbtq/brandgen/shared/logger"
	"github.com/cuongbtq/brandgen/shared/postgresql"
	"github.com/cuongbtq/brandgen/shared/rabbitmq"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Database.MigrateOnStart {
		if err := dbClient.Migrate(); err != nil {
			return err
		}
	}

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	// Initialize job status cache
	statuses, err := jobstatus.NewRedisCache(ctx, jobstatus.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		TTL:      cfg.Redis.StatusTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer statuses.Close()

	appLogger.Info("Infrastructure connections established")

	db := dbClient.GetDB()
	jobQueue := queue.New(queue.NewPostgresStore(db, appLogger.Logger), rabbitClient, statuses, appLogger.Logger)

	store, err := initObjectStore(ctx, &cfg.Storage, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}
	fetcher := objectstore.NewFetcher(store, cfg.Storage.FetchTimeout, cfg.Storage.MaxDownloadBytes)

	provider, err := initProvider(ctx, &cfg.Synthesis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize image provider: %w", err)
	}

	registry := progress.NewRegistry(progress.Config{
		MaxTimersPerUser: cfg.Progress.MaxTimersPerUser,
	}, progress.SystemClock{}, appLogger.Logger)
	defer registry.Close()

	sweepInterval := cfg.Progress.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	go registry.RunSweeper(ctx, sweepInterval)

	dispatcher, err := pipeline.New(pipeline.Deps{
		Ledger:    ledger.New(ledger.NewPostgresStore(db, appLogger.Logger), ledger.Config{ReferralReward: cfg.Ledger.ReferralReward}, appLogger.Logger),
		Provider:  provider,
		Store:     fetcher,
		Records:   records.NewPostgresStore(db, appLogger.Logger),
		Messenger: notify.NewRabbitMessenger(rabbitClient, cfg.RabbitMQ.Notify.Exchange, cfg.RabbitMQ.Notify.RoutingKey, appLogger.Logger),
		Progress:  registry,
		Packager: derived.New(fetcher, provider, derived.Config{
			FetchTimeout: cfg.Derived.FetchTimeout,
			IconTimeout:  cfg.Derived.IconTimeout,
			MinBytes:     cfg.Derived.MinBytes,
			MaxBytes:     cfg.Derived.MaxBytes,
			KeyPrefix:    cfg.Derived.KeyPrefix,
		}, appLogger.Logger),
		Logger: appLogger.Logger,
	}, pipeline.Config{
		ProgressInterval: cfg.Progress.Interval,
		ProgressMaxTicks: cfg.Progress.MaxTicks,
		KeyPrefix:        cfg.Storage.KeyPrefix,
		Retry: retry.Options{
			MaxRetries:     cfg.Retry.MaxRetries,
			BaseDelay:      cfg.Retry.BaseDelay,
			MaxDelay:       cfg.Retry.MaxDelay,
			Multiplier:     cfg.Retry.Multiplier,
			AttemptTimeout: cfg.Synthesis.Timeout,
			Logger:         appLogger.Logger,
		},
		Pricing: pricing.New(cfg.Pricing).Config(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	if err := dispatcher.Register(jobQueue); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}

	workerID := cfg.Worker.ID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	// Create worker instance
	workerInstance, err := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Logger,
		Queue:             jobQueue,
		Consumer:          rabbitClient,
		WorkerID:          workerID,
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      cfg.Worker.PollInterval,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		StaleAfter:        cfg.Worker.StaleAfter,
		RecoverInterval:   cfg.Worker.RecoverInterval,
		DefaultTimeout:    cfg.Worker.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.String("worker_id", workerID),
		slog.String("provider", provider.Name()),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Stop claiming and let in-flight jobs drain
	workerInstance.Stop()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	cancel()
	appLogger.Info("Database pool at shutdown", slog.String("stats", dbClient.Stats()))
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectAttempts: 5,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client with the wake-up queue and
// the outbound notification exchange
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		RoutingKey:         cfg.RoutingKey,
		Prefetch:           cfg.Consumer.PrefetchCount,
		NotifyExchange:     cfg.Notify.Exchange,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initObjectStore selects the configured storage driver
func initObjectStore(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (objectstore.Store, error) {
	switch cfg.Driver {
	case config.StorageS3:
		return objectstore.NewS3Store(ctx, objectstore.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PublicURL:       cfg.S3.PublicURL,
			UsePathStyle:    cfg.S3.UsePathStyle,
		}, logger)
	case config.StorageFilesystem:
		return objectstore.NewFileStore(cfg.Filesystem.BasePath, cfg.Filesystem.BaseURL)
	default:
		logger.Warn("Using in-memory object store; uploads are lost on restart")
		return objectstore.NewMemoryStore(), nil
	}
}

// initProvider returns the Gemini provider, or the placeholder when no API key is set
func initProvider(ctx context.Context, cfg *config.SynthesisConfig, logger *slog.Logger) (synthesis.Provider, error) {
	if cfg.APIKey == "" {
		logger.Warn("No synthesis API key configured, using placeholder provider")
		return synthesis.PlaceholderProvider{}, nil
	}

	return synthesis.NewGeminiProvider(ctx, synthesis.GeminiConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
	}, logger)
}
