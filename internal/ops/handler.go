package ops

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/tensor-trigger-worker/internal/worker"
	"github.com/cuongbtq/tensor-trigger-worker/internal/worker/domain"
	"github.com/cuongbtq/tensor-trigger-worker/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WorkerStatus reports the broker connection and the jobs being handled
type WorkerStatus interface {
	State() rabbitmq.State
	InFlight() []worker.InFlightJob
}

// JobReader looks up persisted jobs
type JobReader interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler serves the worker's operational endpoints
type Handler struct {
	service  string
	logger   *slog.Logger
	worker   WorkerStatus
	jobs     JobReader
	database HealthChecker
}

// Health handles GET /health. It returns 503 unless the listener is consuming
// and the database, when configured, answers.
func (h *Handler) Health(c *gin.Context) {
	state := h.worker.State()
	status := http.StatusOK
	body := gin.H{
		"status":    "healthy",
		"service":   h.service,
		"listener":  state.String(),
		"in_flight": len(h.worker.InFlight()),
	}

	if state != rabbitmq.StateConsuming {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}

	if h.database != nil {
		if err := h.database.HealthCheck(c.Request.Context()); err != nil {
			h.logger.Warn("Database health check failed", slog.String("error", err.Error()))
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["database"] = "unreachable"
		} else {
			body["database"] = "ok"
		}
	}

	c.JSON(status, body)
}

// InFlight handles GET /api/v1/inflight
func (h *Handler) InFlight(c *gin.Context) {
	jobs := h.worker.InFlight()
	c.JSON(http.StatusOK, gin.H{
		"count": len(jobs),
		"jobs":  jobs,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *Handler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":       job.JobID,
		"model_id":     job.ModelID,
		"upload_size":  job.UploadSize,
		"state":        job.State.String(),
		"created":      job.Created,
		"last_updated": job.LastUpdated,
	})
}
