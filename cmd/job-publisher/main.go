package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/tensor-trigger-worker/internal/config"
	"github.com/cuongbtq/tensor-trigger-worker/internal/worker"
	"github.com/cuongbtq/tensor-trigger-worker/internal/worker/domain"
	"github.com/cuongbtq/tensor-trigger-worker/internal/worker/storage"
	"github.com/cuongbtq/tensor-trigger-worker/shared/logger"
	"github.com/cuongbtq/tensor-trigger-worker/shared/postgresql"
	"github.com/cuongbtq/tensor-trigger-worker/shared/rabbitmq"
	"github.com/cuongbtq/tensor-trigger-worker/shared/s3"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	eventPath := flag.String("event", "-", "Path to the job event JSON, - for stdin")
	register := flag.Bool("register", false, "Insert the job as QUEUED before publishing")
	inputPath := flag.String("input", "", "CSV file uploaded as the job's input (model_run only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidatePublisherConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: "stderr",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	body, err := readEvent(*eventPath, os.Stdin)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job := &jobPublisher{logger: appLogger.Logger, keys: domain.BlobKeys{Prefix: cfg.Worker.KeyPrefix}}

	if *register {
		dbClient, err := postgresql.NewClient(&postgresql.Config{
			URL:            cfg.Database.URL,
			Host:           cfg.Database.Host,
			Port:           cfg.Database.Port,
			User:           cfg.Database.User,
			Password:       cfg.Database.Password,
			Database:       cfg.Database.Database,
			SSLMode:        cfg.Database.SSLMode,
			MaxOpenConns:   1,
			ConnectTimeout: cfg.Database.ConnectTimeout,
		}, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()
		job.jobs = storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	}

	if *inputPath != "" {
		input, err := os.ReadFile(*inputPath)
		if err != nil {
			return fmt.Errorf("failed to read input data: %w", err)
		}
		blobs, err := s3.NewClient(ctx, &s3.Config{
			EndpointURL:     cfg.S3.EndpointURL,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
		}, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize blob store: %w", err)
		}
		job.blobs = blobs
		job.input = input
	}

	publisher, err := rabbitmq.NewPublisher(rabbitmq.PublisherConfig{
		URL:          cfg.RabbitMQ.URL,
		ExchangeName: cfg.RabbitMQ.Exchange.Name,
		ExchangeType: cfg.RabbitMQ.Exchange.Type,
		Durable:      cfg.RabbitMQ.Exchange.Durable,
		RoutingKey:   cfg.RabbitMQ.Publish.RoutingKey,
		Heartbeat:    cfg.RabbitMQ.Connection.Heartbeat,
		Retries:      cfg.RabbitMQ.Publish.RetryAttempts,
		RetryDelay:   cfg.RabbitMQ.Publish.RetryInterval,
		BackoffMult:  cfg.RabbitMQ.Publish.BackoffMultiplier,
	}, appLogger.Logger, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ publisher: %w", err)
	}
	defer publisher.Close()
	job.publisher = publisher

	publishCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	jobID, err := job.Publish(publishCtx, body)
	if err != nil {
		return err
	}

	fmt.Println(jobID)
	return nil
}

func readEvent(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read event from stdin: %w", err)
		}
		return body, nil
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event file: %w", err)
	}
	return body, nil
}

type eventPublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

type jobRegistry interface {
	CreateJob(ctx context.Context, jobID, modelID uuid.UUID, uploadSize int64) error
}

type inputUploader interface {
	Upload(ctx context.Context, data []byte, path string) error
}

// jobPublisher validates an event, prepares the job it refers to and publishes it
type jobPublisher struct {
	logger    *slog.Logger
	publisher eventPublisher
	jobs      jobRegistry
	blobs     inputUploader
	keys      domain.BlobKeys
	input     []byte
}

// Publish sends body unchanged once it decodes as a job event. The job row and
// the run input are written first so the worker never sees an unknown job.
func (p *jobPublisher) Publish(ctx context.Context, body []byte) (uuid.UUID, error) {
	event, err := worker.DecodeEvent(body)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job event: %w", err)
	}

	var modelID uuid.UUID
	switch ev := event.Event.(type) {
	case domain.ModelRunEvent:
		modelID = ev.ModelID
	case domain.ModelTrainEvent:
		modelID = ev.ModelID
	}

	if p.input != nil {
		if event.Type != domain.EventTypeModelRun {
			return uuid.Nil, fmt.Errorf("input data is only used by %s events", domain.EventTypeModelRun)
		}
		if err := p.blobs.Upload(ctx, p.input, p.keys.Input(event.JobID)); err != nil {
			return uuid.Nil, fmt.Errorf("failed to upload input data: %w", err)
		}
	}

	if p.jobs != nil {
		if err := p.jobs.CreateJob(ctx, event.JobID, modelID, int64(len(p.input))); err != nil {
			return uuid.Nil, err
		}
	}

	if err := p.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return uuid.Nil, err
	}

	p.logger.Info("Job event published",
		slog.String("job_id", event.JobID.String()),
		slog.String("event_type", string(event.Type)),
		slog.String("model_id", modelID.String()),
	)
	return event.JobID, nil
}
