package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/tensor-trigger-worker/shared/rabbitmq"
	"github.com/prometheus/client_golang/prometheus"
)

// MessageSource delivers broker messages until ctx is cancelled
type MessageSource interface {
	Run(ctx context.Context, onMessage func(rabbitmq.Message)) error
	State() rabbitmq.State
}

// Config holds worker configuration
type Config struct {
	Logger    *slog.Logger
	Source    MessageSource
	Processor *Processor
	Metrics   *Metrics
}

// Worker consumes job events and processes each one concurrently
type Worker struct {
	logger     *slog.Logger
	source     MessageSource
	processor  *Processor
	dispatcher *Dispatcher
	metrics    *Metrics
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	w := &Worker{
		logger:    cfg.Logger,
		source:    cfg.Source,
		processor: cfg.Processor,
		metrics:   metrics,
	}
	w.dispatcher = NewDispatcher(w.handleMessage, cfg.Logger, metrics)
	return w
}

// Start consumes until ctx is cancelled or the source gives up.
// Handling units outlive ctx; call Stop to wait for them.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker")

	unitCtx := context.WithoutCancel(ctx)
	err := w.source.Run(ctx, func(msg rabbitmq.Message) {
		w.metrics.MessagesReceived.Inc()
		w.dispatcher.Dispatch(unitCtx, msg)
	})
	if err != nil {
		return fmt.Errorf("message source stopped: %w", err)
	}

	w.logger.Info("Worker stopped consuming")
	return nil
}

// Stop waits for in-flight handling units until ctx is done
func (w *Worker) Stop(ctx context.Context) error {
	w.logger.Info("Stopping worker...", slog.Int("in_flight", len(w.dispatcher.InFlight())))
	if err := w.dispatcher.Wait(ctx); err != nil {
		return err
	}
	w.logger.Info("Worker stopped")
	return nil
}

// InFlight returns the deliveries currently being handled
func (w *Worker) InFlight() []InFlightJob {
	return w.dispatcher.InFlight()
}

// State returns the broker connection state
func (w *Worker) State() rabbitmq.State {
	return w.source.State()
}
