package endpoints

import (
	"net/http"
	"strconv"
	"time"

	"mediabot/internal/download"
	"mediabot/internal/errs"
	"mediabot/internal/fsm"
	"mediabot/internal/links"
	"mediabot/internal/progress"
	"mediabot/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SubmitJobRequest is the body for POST /api/v1/jobs.
type SubmitJobRequest struct {
	Link       string `json:"link" binding:"required"`
	Kind       string `json:"kind"`
	Priority   string `json:"priority"`
	OutputName string `json:"outputName"`
	OwnerID    string `json:"ownerId"`
}

// SubmitJobResponse is returned for an accepted submission.
type SubmitJobResponse struct {
	Job      *store.Job `json:"job"`
	LinkKind string     `json:"linkKind"`
}

// GetJobResponse combines the durable job row with its live progress.
type GetJobResponse struct {
	Job       *store.Job              `json:"job"`
	Progress  *progress.Record        `json:"progress,omitempty"`
	Downloads []*store.Download       `json:"downloads,omitempty"`
	Steps     []*store.ProcessingStep `json:"steps,omitempty"`
}

// JobLogsResponse is the audit page for one job.
type JobLogsResponse struct {
	Entries []*store.AuditEntry `json:"entries"`
}

// httpStatus maps domain error kinds to HTTP statuses.
func httpStatus(err error) int {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindValidation, errs.KindUnsupportedLink:
		return http.StatusBadRequest
	case errs.KindInvalidState, errs.KindRetryExhausted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{
		"error": err.Error(),
		"code":  string(errs.KindOf(err)),
	})
}

// HandleSubmitJob validates the link, persists the job and enqueues it.
func HandleSubmitJob(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": string(errs.KindValidation)})
			return
		}
		ctx := c.Request.Context()

		link := links.Classify(req.Link)
		if link == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized link", "code": string(errs.KindUnsupportedLink)})
			return
		}
		if _, err := download.ClientFor(link.Kind); err != nil {
			abortWith(c, err)
			return
		}

		kind := store.JobKind(req.Kind)
		switch kind {
		case "":
			kind = store.JobKindFullPipeline
		case store.JobKindDownload, store.JobKindAnalyzeOnly, store.JobKindFullPipeline:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job kind " + req.Kind, "code": string(errs.KindValidation)})
			return
		}
		priority := store.Priority(req.Priority)
		switch priority {
		case "":
			priority = store.PriorityNormal
		case store.PriorityLow, store.PriorityNormal, store.PriorityHigh:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown priority " + req.Priority, "code": string(errs.KindValidation)})
			return
		}

		now := time.Now().UTC()
		job := &store.Job{
			ID:         uuid.NewString(),
			OwnerID:    req.OwnerID,
			Link:       req.Link,
			Kind:       kind,
			Priority:   priority,
			State:      fsm.StatePending,
			OutputName: req.OutputName,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := deps.Store.CreateJob(ctx, job); err != nil {
			abortWith(c, err)
			return
		}
		if err := deps.Queue.Enqueue(ctx, job.ID, priority); err != nil {
			abortWith(c, err)
			return
		}
		deps.Store.Audit(ctx, job.ID, "info", "job submitted", map[string]string{
			"link_kind": string(link.Kind),
			"priority":  string(priority),
		})

		c.JSON(http.StatusAccepted, SubmitJobResponse{Job: job, LinkKind: string(link.Kind)})
	}
}

// HandleGetJob returns the job row plus live progress and children.
func HandleGetJob(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		job, err := deps.Store.GetJob(ctx, id)
		if err != nil {
			abortWith(c, err)
			return
		}

		resp := GetJobResponse{Job: job}
		if deps.Progress != nil {
			if rec, err := deps.Progress.Get(ctx, id); err == nil {
				resp.Progress = rec
			}
		}
		if downloads, err := deps.Store.ListDownloads(ctx, id); err == nil {
			resp.Downloads = downloads
		}
		if steps, err := deps.Store.ListSteps(ctx, id); err == nil {
			resp.Steps = steps
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleRetryJob re-arms a failed or cancelled job and re-enqueues it.
func HandleRetryJob(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		job, err := deps.Pipeline.Retry(ctx, id)
		if err != nil {
			abortWith(c, err)
			return
		}
		if err := deps.Queue.Enqueue(ctx, job.ID, job.Priority); err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job": job})
	}
}

// HandleCancelJob requests cancellation at the job's next safe point.
func HandleCancelJob(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		if err := deps.Pipeline.Cancel(ctx, id); err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
	}
}

// HandleJobLogs pages through the job's audit log. The after parameter is an
// RFC 3339 cursor; limit defaults server-side.
func HandleJobLogs(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		if _, err := deps.Store.GetJob(ctx, id); err != nil {
			abortWith(c, err)
			return
		}

		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit", "code": string(errs.KindValidation)})
				return
			}
			limit = parsed
		}
		var after time.Time
		if raw := c.Query("after"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after cursor", "code": string(errs.KindValidation)})
				return
			}
			after = parsed
		}

		entries, err := deps.Store.ListAudit(ctx, id, after, limit)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, JobLogsResponse{Entries: entries})
	}
}
