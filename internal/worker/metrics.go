package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the worker's Prometheus collectors
type Metrics struct {
	MessagesReceived prometheus.Counter
	InvalidMessages  prometheus.Counter
	Jobs             *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	InFlight         prometheus.Gauge
	Settlements      *prometheus.CounterVec
	Reconnects       prometheus.Counter
}

// NewMetrics registers the worker collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "tensor_trigger_worker_messages_received_total",
			Help: "Total deliveries received from the job exchange",
		}),
		InvalidMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "tensor_trigger_worker_invalid_messages_total",
			Help: "Deliveries rejected by the event decoder",
		}),
		Jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tensor_trigger_worker_jobs_total",
			Help: "Jobs processed by event type and outcome",
		}, []string{"event_type", "outcome"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tensor_trigger_worker_job_duration_seconds",
			Help:    "Time spent in event handlers",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"event_type"}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tensor_trigger_worker_in_flight_jobs",
			Help: "Deliveries currently being handled",
		}),
		Settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tensor_trigger_worker_settlements_total",
			Help: "Delivery settlements by action",
		}, []string{"action"}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "tensor_trigger_worker_reconnects_total",
			Help: "Broker reconnect attempts after transport errors",
		}),
	}
}

// Job outcomes
const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)
