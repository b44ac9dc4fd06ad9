package endpoints

import (
	"context"
	"net/http"
	"time"

	"mediabot/internal/progress"
	"mediabot/internal/store"

	"github.com/gin-gonic/gin"
)

// JobStore is the repository surface the handlers need.
type JobStore interface {
	CreateJob(ctx context.Context, job *store.Job) error
	GetJob(ctx context.Context, id string) (*store.Job, error)
	ListDownloads(ctx context.Context, jobID string) ([]*store.Download, error)
	ListSteps(ctx context.Context, jobID string) ([]*store.ProcessingStep, error)
	ListAudit(ctx context.Context, jobID string, after time.Time, limit int) ([]*store.AuditEntry, error)
	Audit(ctx context.Context, jobID, level, message string, details map[string]string)
	Ping(ctx context.Context) error
}

// Submitter hands accepted jobs to the worker.
type Submitter interface {
	Enqueue(ctx context.Context, jobID string, priority store.Priority) error
	Depth(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// Pipeline exposes the driver operations the API triggers.
type Pipeline interface {
	Retry(ctx context.Context, jobID string) (*store.Job, error)
	Cancel(ctx context.Context, jobID string) error
	HealthCheck(ctx context.Context) map[string]bool
}

// ProgressReader serves live progress records.
type ProgressReader interface {
	Get(ctx context.Context, jobID string) (*progress.Record, error)
}

// Deps bundles everything the routes need.
type Deps struct {
	Store    JobStore
	Queue    Submitter
	Pipeline Pipeline
	Progress ProgressReader
	Metrics  http.Handler
}

// SetupRoutes configures all API routes.
func SetupRoutes(r *gin.Engine, deps Deps) {
	r.GET("/", HandleRoot())
	r.GET("/live", HandleLive())
	r.GET("/ready", HandleReady(deps))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := r.Group("/api/v1")
	{
		jobs := api.Group("/jobs")
		{
			jobs.POST("", HandleSubmitJob(deps))
			jobs.GET("/:id", HandleGetJob(deps))
			jobs.POST("/:id/retry", HandleRetryJob(deps))
			jobs.DELETE("/:id", HandleCancelJob(deps))
			jobs.GET("/:id/logs", HandleJobLogs(deps))
		}
	}
}
