package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"mailflow/internal/models"
	"mailflow/internal/pipeline"
	"mailflow/internal/scheduler"
)

// Runner runs ingestion ticks
type Runner interface {
	Run(ctx context.Context) *pipeline.Report
	Tick(ctx context.Context) error
}

// TaskStore is the persistence the task endpoints need
type TaskStore interface {
	GetEmail(ctx context.Context, id uint) (*models.Email, error)
	TasksForEmail(ctx context.Context, emailID uint) ([]models.ProcessingTask, error)
	UpdateTaskStatus(ctx context.Context, id uint, status string) (*models.ProcessingTask, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	scheduler *scheduler.Scheduler
	ingestion scheduler.JobSpec
	runner    Runner
	store     TaskStore
	gatherer  prometheus.Gatherer
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, s *scheduler.Scheduler, ingestion scheduler.JobSpec, runner Runner, store TaskStore, gatherer prometheus.Gatherer) *Handlers {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{
		db:        db,
		scheduler: s,
		ingestion: ingestion,
		runner:    runner,
		store:     store,
		gatherer:  gatherer,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/scheduler/jobs", h.ListJobs)
		api.POST("/scheduler/jobs/:name/cancel", h.CancelJob)
		api.POST("/scheduler/ingestion/start", h.StartIngestion)
		api.POST("/scheduler/ingestion/run-once", h.RunOnce)

		api.GET("/emails/:id/tasks", h.GetEmailTasks)
		api.PATCH("/tasks/:id/status", h.UpdateTaskStatus)
	}
}
