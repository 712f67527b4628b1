package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/tensor-trigger-worker/shared/rabbitmq"
)

// InFlightJob describes a delivery whose handling unit has not finished
type InFlightJob struct {
	ID          uint64    `json:"id"`
	DeliveryTag uint64    `json:"delivery_tag"`
	RoutingKey  string    `json:"routing_key"`
	Redelivered bool      `json:"redelivered"`
	StartedAt   time.Time `json:"started_at"`
}

// Dispatcher runs every delivery on its own goroutine so the listener never waits on handler work
type Dispatcher struct {
	handle  func(ctx context.Context, msg rabbitmq.Message)
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	seq      uint64
	inflight map[uint64]InFlightJob
	wg       sync.WaitGroup
}

// NewDispatcher creates a Dispatcher calling handle for each delivery
func NewDispatcher(handle func(ctx context.Context, msg rabbitmq.Message), logger *slog.Logger, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		handle:   handle,
		logger:   logger,
		metrics:  metrics,
		inflight: make(map[uint64]InFlightJob),
	}
}

// Dispatch starts a handling unit for msg and returns immediately.
// ctx must not be cancelled by listener shutdown.
func (d *Dispatcher) Dispatch(ctx context.Context, msg rabbitmq.Message) {
	d.mu.Lock()
	d.seq++
	id := d.seq
	d.inflight[id] = InFlightJob{
		ID:          id,
		DeliveryTag: msg.DeliveryTag,
		RoutingKey:  msg.RoutingKey,
		Redelivered: msg.Redelivered,
		StartedAt:   time.Now(),
	}
	d.wg.Add(1)
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.InFlight.Inc()
	}

	go d.run(ctx, id, msg)
}

func (d *Dispatcher) run(ctx context.Context, id uint64, msg rabbitmq.Message) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.inflight, id)
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.InFlight.Dec()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered panic in message handler",
				slog.Uint64("delivery_tag", msg.DeliveryTag),
				slog.Any("panic", r),
			)
		}
	}()

	d.handle(ctx, msg)
}

// InFlight returns the running units ordered by start
func (d *Dispatcher) InFlight() []InFlightJob {
	d.mu.Lock()
	jobs := make([]InFlightJob, 0, len(d.inflight))
	for _, j := range d.inflight {
		jobs = append(jobs, j)
	}
	d.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// Wait blocks until every dispatched unit has finished or ctx is done
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d jobs still running: %w", len(d.InFlight()), ctx.Err())
	}
}
