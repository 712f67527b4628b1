package ops

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies holds everything the ops routes read from. Jobs and Database are optional.
type Dependencies struct {
	Service  string
	Logger   *slog.Logger
	Worker   WorkerStatus
	Jobs     JobReader
	Database HealthChecker
	Gatherer prometheus.Gatherer
}

// SetupRouter configures the health, metrics and job inspection routes
func SetupRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger, "/health", "/metrics"))

	h := &Handler{
		service:  deps.Service,
		logger:   deps.Logger,
		worker:   deps.Worker,
		jobs:     deps.Jobs,
		database: deps.Database,
	}

	r.GET("/health", h.Health)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/inflight", h.InFlight)
		if deps.Jobs != nil {
			v1.GET("/jobs/:job_id", h.GetJob)
		}
	}

	return r
}
