package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/tensor-trigger-worker/internal/worker/domain"
	"github.com/cuongbtq/tensor-trigger-worker/shared/rabbitmq"
)

// handleMessage is the body of one handling unit. A panic anywhere in it
// still releases the delivery; a second settle is refused by the acknowledger.
func (w *Worker) handleMessage(ctx context.Context, msg rabbitmq.Message) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Recovered panic while handling message, acknowledging",
				slog.Uint64("delivery_tag", msg.DeliveryTag),
				slog.Any("panic", r),
			)
			if err := msg.Ack(); err != nil && !errors.Is(err, rabbitmq.ErrAlreadySettled) {
				w.logger.Warn("Failed to ACK message", slog.Any("error", err))
			}
		}
	}()

	err := w.processor.Process(ctx, msg.Body)
	w.settle(msg, err)
}

// settle acknowledges or requeues a delivery after processing
func (w *Worker) settle(msg rabbitmq.Message, err error) {
	logger := w.logger.With(
		slog.Uint64("delivery_tag", msg.DeliveryTag),
		slog.Bool("redelivered", msg.Redelivered),
	)

	if err != nil && shouldRequeue(err) {
		logger.Warn("Job outcome not recorded, requeueing message", slog.Any("error", err))
		w.metrics.Settlements.WithLabelValues("requeue").Inc()
		if nackErr := msg.Nack(true); nackErr != nil {
			logger.Warn("Failed to NACK message", slog.Any("error", nackErr))
		}
		return
	}

	if err != nil {
		logger.Error("Message processing failed", slog.Any("error", err))
	}

	w.metrics.Settlements.WithLabelValues("ack").Inc()
	if ackErr := msg.Ack(); ackErr != nil {
		logger.Warn("Failed to ACK message", slog.Any("error", ackErr))
	}
}

// shouldRequeue determines if a delivery must be redelivered based on the error type.
// Decode, validation and handler failures are final; the job state is the outcome.
func shouldRequeue(err error) bool {
	return errors.Is(err, domain.ErrStateNotRecorded)
}
