package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/tensor-trigger-worker/internal/worker/domain"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Inference runs a stored model against a job's input. A nil result means the model produced nothing.
type Inference interface {
	Run(ctx context.Context, modelID, jobID uuid.UUID, user string) (any, error)
}

// Training trains a stored model and returns the new artifact. An empty artifact means training produced nothing.
type Training interface {
	Train(ctx context.Context, req domain.TrainRequest) ([]byte, error)
}

// JobStateStore persists job state transitions
type JobStateStore interface {
	UpdateJobState(ctx context.Context, jobID uuid.UUID, state domain.JobState) error
}

// BlobStore reads and writes job artifacts
type BlobStore interface {
	Upload(ctx context.Context, data []byte, path string) error
	Download(ctx context.Context, path string) ([]byte, error)
}

// EventHandler executes one kind of job event
type EventHandler interface {
	Handle(ctx context.Context, jobID uuid.UUID, event domain.Event) error
}

// ProcessorConfig holds the processor's collaborators
type ProcessorConfig struct {
	Logger     *slog.Logger
	Store      JobStateStore
	Blobs      BlobStore
	Inference  Inference
	Training   Training
	Keys       domain.BlobKeys
	JobTimeout time.Duration
	Metrics    *Metrics
}

// Processor decodes deliveries and drives jobs through their state machine
type Processor struct {
	logger     *slog.Logger
	store      JobStateStore
	handlers   map[domain.EventType]EventHandler
	jobTimeout time.Duration
	metrics    *Metrics
}

// NewProcessor creates a Processor with a handler registered for every event type
func NewProcessor(cfg *ProcessorConfig) *Processor {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	return &Processor{
		logger:     cfg.Logger,
		store:      cfg.Store,
		jobTimeout: cfg.JobTimeout,
		metrics:    metrics,
		handlers: map[domain.EventType]EventHandler{
			domain.EventTypeModelRun:   &modelRunHandler{inference: cfg.Inference, blobs: cfg.Blobs, keys: cfg.Keys},
			domain.EventTypeModelTrain: &modelTrainHandler{training: cfg.Training, blobs: cfg.Blobs, keys: cfg.Keys},
		},
	}
}

// Process handles one message body.
//
// A nil error means the outcome is recorded (or there is nothing to record)
// and the delivery can be acknowledged. Errors wrapping
// domain.ErrStateNotRecorded mean the delivery must be redelivered.
func (p *Processor) Process(ctx context.Context, body []byte) error {
	event, err := DecodeEvent(body)
	if err != nil {
		return p.reject(ctx, err)
	}

	logger := p.logger.With(
		slog.String("job_id", event.JobID.String()),
		slog.String("event_type", string(event.Type)),
	)

	if err := p.record(ctx, event.JobID, domain.JobStateRunning); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTransition):
			logger.Info("Job already finished, skipping redelivered event", slog.Any("reason", err))
			p.metrics.Jobs.WithLabelValues(string(event.Type), outcomeSkipped).Inc()
			return nil
		case errors.Is(err, domain.ErrJobNotFound):
			p.metrics.Jobs.WithLabelValues(string(event.Type), outcomeSkipped).Inc()
			return fmt.Errorf("cannot start job %s: %w", event.JobID, err)
		default:
			return err
		}
	}

	logger.Info("Processing job")
	start := time.Now()
	herr := p.handle(ctx, event)
	p.metrics.JobDuration.WithLabelValues(string(event.Type)).Observe(time.Since(start).Seconds())

	if herr != nil {
		p.metrics.Jobs.WithLabelValues(string(event.Type), outcomeFailed).Inc()
		logger.Error("Job failed", slog.Any("error", herr))
		if err := p.record(ctx, event.JobID, domain.JobStateFailed); err != nil {
			return errors.Join(herr, err)
		}
		return herr
	}

	if err := p.record(ctx, event.JobID, domain.JobStateSucceeded); err != nil {
		return err
	}
	p.metrics.Jobs.WithLabelValues(string(event.Type), outcomeSucceeded).Inc()
	logger.Info("Job completed successfully", slog.Duration("duration", time.Since(start)))
	return nil
}

// reject handles a body the decoder refused. FAILED is only recorded
// when the job id was parsed before decoding stopped.
func (p *Processor) reject(ctx context.Context, err error) error {
	p.metrics.InvalidMessages.Inc()

	jobID, ok := domain.JobIDFromError(err)
	if !ok {
		return err
	}

	p.logger.Warn("Rejecting invalid job event",
		slog.String("job_id", jobID.String()),
		slog.Any("error", err),
	)
	if serr := p.record(ctx, jobID, domain.JobStateFailed); serr != nil {
		return errors.Join(err, serr)
	}
	return err
}

// handle runs the registered handler and converts panics into handler errors
func (p *Processor) handle(ctx context.Context, event domain.JobEvent) (err error) {
	handler, ok := p.handlers[event.Type]
	if !ok {
		return &domain.HandlerError{JobID: event.JobID, EventType: event.Type, Err: domain.ErrUnknownEventType}
	}

	defer func() {
		if r := recover(); r != nil {
			err = &domain.HandlerError{
				JobID:     event.JobID,
				EventType: event.Type,
				Err:       fmt.Errorf("%w: %v", domain.ErrHandlerPanic, r),
			}
		}
	}()

	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	if err := handler.Handle(ctx, event.JobID, event.Event); err != nil {
		return &domain.HandlerError{JobID: event.JobID, EventType: event.Type, Err: err}
	}
	return nil
}

// record persists a state. Store errors other than a missing job or a
// rejected transition are wrapped with domain.ErrStateNotRecorded.
func (p *Processor) record(ctx context.Context, jobID uuid.UUID, state domain.JobState) error {
	err := p.store.UpdateJobState(ctx, jobID, state)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
		return err
	}

	p.logger.Error("Failed to update job state",
		slog.String("job_id", jobID.String()),
		slog.String("state", state.String()),
		slog.Any("error", err),
	)
	return fmt.Errorf("%w: %s for job %s: %w", domain.ErrStateNotRecorded, state, jobID, err)
}
