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

	"github.com/cuongbtq/tensor-trigger-worker/internal/config"
	"github.com/cuongbtq/tensor-trigger-worker/internal/modelclient"
	"github.com/cuongbtq/tensor-trigger-worker/internal/ops"
	"github.com/cuongbtq/tensor-trigger-worker/internal/worker"
	"github.com/cuongbtq/tensor-trigger-worker/internal/worker/domain"
	"github.com/cuongbtq/tensor-trigger-worker/internal/worker/storage"
	"github.com/cuongbtq/tensor-trigger-worker/shared/logger"
	"github.com/cuongbtq/tensor-trigger-worker/shared/postgresql"
	"github.com/cuongbtq/tensor-trigger-worker/shared/rabbitmq"
	"github.com/cuongbtq/tensor-trigger-worker/shared/s3"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

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

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	jobStorage := storage.NewStorage(dbClient.GetDB(), appLogger.With(slog.String("component", "storage")).Logger)
	if cfg.Database.MigrateOnStart {
		if err := jobStorage.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	blobs, err := initS3(ctx, &cfg.S3, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	keys := domain.BlobKeys{Prefix: cfg.Worker.KeyPrefix}
	models := modelclient.New(&modelclient.Config{
		BaseURL:   cfg.ModelServer.URL,
		Timeout:   cfg.ModelServer.Timeout,
		Retries:   cfg.ModelServer.Retries,
		RetryWait: cfg.ModelServer.RetryWait,
	}, blobs, keys, appLogger.With(slog.String("component", "modelclient")).Logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := worker.NewMetrics(registry)

	listener, err := initListener(&cfg.RabbitMQ, appLogger.With(slog.String("component", "listener")).Logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ listener: %w", err)
	}

	processor := worker.NewProcessor(&worker.ProcessorConfig{
		Logger:     appLogger.With(slog.String("component", "processor")).Logger,
		Store:      jobStorage,
		Blobs:      blobs,
		Inference:  models,
		Training:   models,
		Keys:       keys,
		JobTimeout: cfg.Worker.JobTimeout,
		Metrics:    metrics,
	})

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:    appLogger.Logger,
		Source:    listener,
		Processor: processor,
		Metrics:   metrics,
	})

	var opsServer *ops.Server
	var opsErr <-chan error
	if cfg.Ops.Enabled {
		opsServer = initOpsServer(cfg, appLogger.Logger, workerInstance, jobStorage, dbClient, registry)
		if opsErr, err = opsServer.Start(); err != nil {
			return err
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Worker error", slog.Any("error", runErr))
	case runErr = <-opsErr:
		appLogger.Error("Ops server error", slog.Any("error", runErr))
	}

	// Stop consuming; handling units keep running on their own context
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	if err := workerInstance.Stop(shutdownCtx); err != nil {
		appLogger.Warn("Worker shutdown timeout exceeded, abandoning running jobs",
			slog.Any("error", err),
			slog.Int("in_flight", len(workerInstance.InFlight())),
		)
	}

	if opsServer != nil {
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Ops server forced to shutdown", slog.Any("error", err))
		}
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		URL:             cfg.URL,
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
		ConnectTimeout:  cfg.ConnectTimeout,
	}, logger)
}

// initS3 creates the blob store client and optionally its bucket
func initS3(ctx context.Context, cfg *config.S3Config, logger *slog.Logger) (*s3.Client, error) {
	client, err := s3.NewClient(ctx, &s3.Config{
		EndpointURL:     cfg.EndpointURL,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.CreateBucket {
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// initListener builds the exchange listener and counts its reconnects
func initListener(cfg *config.RabbitMQConfig, logger *slog.Logger, metrics *worker.Metrics) (*rabbitmq.Listener, error) {
	return rabbitmq.NewListener(rabbitmq.Config{
		URL:                  cfg.URL,
		ExchangeName:         cfg.Exchange.Name,
		ExchangeType:         cfg.Exchange.Type,
		QueueName:            cfg.Queue.Name,
		RoutingKeys:          cfg.RoutingKeys,
		Durable:              cfg.Exchange.Durable,
		PrefetchCount:        cfg.Consumer.PrefetchCount,
		ReconnectInterval:    cfg.Connection.ReconnectInterval,
		AutoAck:              cfg.Consumer.AutoAck,
		Heartbeat:            cfg.Connection.Heartbeat,
		ConsumerTag:          cfg.Consumer.Tag,
		ExitOnTransportError: cfg.Connection.ExitOnTransportError,
	}, logger, rabbitmq.WithReconnectHook(func(error) {
		metrics.Reconnects.Inc()
	}))
}

// initOpsServer builds the health and metrics server
func initOpsServer(cfg *config.Config, logger *slog.Logger, w *worker.Worker, jobs *storage.Storage, db *postgresql.Client, registry *prometheus.Registry) *ops.Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := ops.SetupRouter(&ops.Dependencies{
		Service:  cfg.App.Name,
		Logger:   logger,
		Worker:   w,
		Jobs:     jobs,
		Database: db,
		Gatherer: registry,
	})

	return ops.NewServer(&ops.ServerConfig{
		Addr:         fmt.Sprintf(":%d", cfg.Ops.Port),
		ReadTimeout:  cfg.Ops.ReadTimeout,
		WriteTimeout: cfg.Ops.WriteTimeout,
		IdleTimeout:  cfg.Ops.IdleTimeout,
	}, router, logger)
}
