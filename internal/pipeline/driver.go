package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"mediabot/internal/avsync"
	"mediabot/internal/config"
	"mediabot/internal/download"
	"mediabot/internal/errs"
	"mediabot/internal/fsm"
	"mediabot/internal/links"
	"mediabot/internal/media"
	"mediabot/internal/metrics"
	"mediabot/internal/packager"
	"mediabot/internal/progress"
	"mediabot/internal/store"
	"mediabot/internal/upload"

	"golang.org/x/sync/semaphore"
)

// Downloader routes a classified link to an external client.
type Downloader interface {
	Download(ctx context.Context, link *links.Classified, opts download.Options, onProgress download.ProgressFunc) (*download.Result, error)
	HealthCheck(ctx context.Context) map[string]bool
}

// StepRunner executes one persisted processing step in place.
type StepRunner interface {
	Run(ctx context.Context, step *store.ProcessingStep) error
}

// Packer assembles processed outputs into a package directory.
type Packer interface {
	Package(ctx context.Context, jobID string, files packager.FileSet, outputRoot string, metadata map[string]string) (*packager.Manifest, string, error)
}

// Uploader ships a package to its configured targets.
type Uploader interface {
	Upload(ctx context.Context, packageDir, jobID string, manifest *packager.Manifest) (*upload.UploadManifest, error)
	HealthCheck(ctx context.Context) map[string]bool
}

// ProgressSink stores live progress records.
type ProgressSink interface {
	Set(ctx context.Context, rec *progress.Record) error
	Delete(ctx context.Context, jobID string) error
}

// Driver walks one job at a time through the pipeline states, persisting
// every transition and delegating stage work to the stage components.
// Concurrency across jobs is bounded per stage family by weighted
// semaphores.
type Driver struct {
	store    *store.Store
	progress ProgressSink
	router   Downloader
	runner   StepRunner
	engine   *avsync.Engine
	packager Packer
	uploader Uploader
	metrics  *metrics.Pipeline
	logger   *slog.Logger

	downloadSem *semaphore.Weighted
	processSem  *semaphore.Weighted
	uploadSem   *semaphore.Weighted

	cancels sync.Map // job id -> context.CancelFunc
}

func NewDriver(st *store.Store, prog ProgressSink, router Downloader,
	runner StepRunner, engine *avsync.Engine, pkg Packer,
	uploader Uploader, m *metrics.Pipeline, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		store:       st,
		progress:    prog,
		router:      router,
		runner:      runner,
		engine:      engine,
		packager:    pkg,
		uploader:    uploader,
		metrics:     m,
		logger:      logger,
		downloadSem: semaphore.NewWeighted(int64(config.DownloadSlots)),
		processSem:  semaphore.NewWeighted(int64(config.ProcessSlots)),
		uploadSem:   semaphore.NewWeighted(int64(config.UploadSlots)),
	}
}

// run is the in-memory working state of one Run invocation.
type run struct {
	job         *store.Job
	machine     *fsm.Machine
	asset       *store.MediaAsset
	probe       *media.ProbeResult
	decision    *avsync.Decision
	manifest    *packager.Manifest
	workDir     string
	finalVideo  string
	muxed       bool
	revalidated bool

	// ran tracks step types already handled this invocation, so a prior
	// attempt's completed step is reused once but a revalidation pass
	// re-executes.
	ran map[store.StepType]bool
}

// stageBase maps each state to the job's overall progress on entering it.
var stageBase = map[fsm.State]float64{
	fsm.StateDownloading: 0,
	fsm.StateAnalyzing:   40,
	fsm.StateSyncing:     50,
	fsm.StateProcessing:  60,
	fsm.StateValidating:  80,
	fsm.StatePackaged:    85,
	fsm.StateUploaded:    95,
	fsm.StateDone:        100,
}

func stageName(s fsm.State) string {
	switch s {
	case fsm.StateDownloading:
		return "download"
	case fsm.StateAnalyzing:
		return "analyze"
	case fsm.StateSyncing:
		return "sync"
	case fsm.StateProcessing:
		return "process"
	case fsm.StateValidating:
		return "validate"
	case fsm.StatePackaged:
		return "upload"
	case fsm.StateUploaded:
		return "finalize"
	default:
		return string(s)
	}
}

// Run drives the job from its current state to a resting state. A job that
// was interrupted mid-stage re-executes that stage's work; completed
// downloads and steps are reused, not redone.
func (d *Driver) Run(ctx context.Context, jobID string) error {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State == fsm.StateDone || job.State == fsm.StateFailed || job.State == fsm.StateCancelled {
		d.logger.Info("job already at rest", "job_id", jobID, "state", string(job.State))
		return nil
	}

	history, err := d.store.LoadTransitions(ctx, jobID)
	if err != nil {
		return err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	d.cancels.Store(jobID, cancel)
	defer func() {
		cancel()
		d.cancels.Delete(jobID)
	}()

	if d.metrics != nil {
		d.metrics.JobsStarted.Inc()
		d.metrics.JobsActive.Inc()
		defer d.metrics.JobsActive.Dec()
	}

	r := &run{
		job:     job,
		machine: fsm.Deserialize(jobID, job.State, history),
		workDir: d.workDir(jobID),
		ran:     map[store.StepType]bool{},
	}
	d.logger.Info("driving job", "job_id", jobID, "state", string(job.State), "kind", string(job.Kind))

	for {
		state := r.machine.Current()
		if state == fsm.StateDone || state == fsm.StateFailed || state == fsm.StateCancelled {
			return nil
		}
		if err := jobCtx.Err(); err != nil {
			return d.fail(ctx, r, errs.Wrap(errs.KindCancelled, err, "job cancelled"))
		}

		var (
			next   fsm.State
			reason string
			err    error
		)
		switch state {
		case fsm.StatePending:
			next, reason = fsm.StateDownloading, "job accepted"
		case fsm.StateDownloading:
			next, reason, err = d.withSlot(jobCtx, d.downloadSem, "download", r, d.stageDownload)
		case fsm.StateAnalyzing:
			next, reason, err = d.withSlot(jobCtx, d.processSem, "analyze", r, d.stageAnalyze)
		case fsm.StateSyncing:
			next, reason, err = d.withSlot(jobCtx, d.processSem, "sync", r, d.stageSync)
		case fsm.StateProcessing:
			next, reason, err = d.withSlot(jobCtx, d.processSem, "process", r, d.stageProcess)
		case fsm.StateValidating:
			next, reason, err = d.withSlot(jobCtx, d.processSem, "validate", r, d.stageValidate)
		case fsm.StatePackaged:
			next, reason, err = d.withSlot(jobCtx, d.uploadSem, "upload", r, d.stageUpload)
		case fsm.StateUploaded:
			next, reason, err = d.stageFinish(jobCtx, r)
		default:
			err = errs.New(errs.KindInvalidState, "driver cannot run state %s", state)
		}
		if err != nil {
			return d.fail(ctx, r, err)
		}

		if err := d.transition(ctx, r, next, reason, "", nil); err != nil {
			return d.fail(ctx, r, err)
		}
		if next == fsm.StateDone && d.metrics != nil {
			d.metrics.JobsCompleted.Inc()
		}
	}
}

// withSlot runs a stage under its family semaphore and records its wall
// time.
func (d *Driver) withSlot(ctx context.Context, sem *semaphore.Weighted, stage string, r *run,
	fn func(context.Context, *run) (fsm.State, string, error)) (fsm.State, string, error) {

	if err := sem.Acquire(ctx, 1); err != nil {
		return "", "", errs.Wrap(errs.KindCancelled, err, "cancelled while waiting for %s slot", stage)
	}
	defer sem.Release(1)

	start := time.Now()
	next, reason, err := fn(ctx, r)
	if d.metrics != nil {
		d.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
	return next, reason, err
}

// transition moves the machine, persists the arc, and updates the durable
// job row. Bookkeeping writes use a cancellation-immune context so a
// cancelled job still records where it stopped.
func (d *Driver) transition(ctx context.Context, r *run, to fsm.State, reason, errMsg string, metadata map[string]string) error {
	t, err := r.machine.TransitionTo(to, reason, metadata)
	if err != nil {
		return err
	}

	pctx := context.WithoutCancel(ctx)
	if err := d.store.SaveTransition(pctx, r.job.ID, t); err != nil {
		return err
	}
	terminal := to == fsm.StateDone || to == fsm.StateFailed
	if err := d.store.UpdateJobState(pctx, r.job.ID, to, errMsg, terminal); err != nil {
		return err
	}
	r.job.State = to

	if base, ok := stageBase[to]; ok {
		if err := d.store.UpdateJobProgress(pctx, r.job.ID, base); err != nil {
			d.logger.Warn("failed to update job progress", "job_id", r.job.ID, "error", err)
		}
		r.job.Progress = base
		// The finish stage already deleted the live record; DONE must not
		// rewrite it.
		if to != fsm.StateDone {
			d.reportProgress(pctx, &progress.Record{
				JobID:    r.job.ID,
				Stage:    stageName(to),
				Progress: base,
				Status:   "running",
			})
		}
	}

	d.store.Audit(pctx, r.job.ID, "info", "state transition", map[string]string{
		"from":   string(t.From),
		"to":     string(to),
		"reason": reason,
	})
	d.logger.Info("job transitioned",
		"job_id", r.job.ID, "from", string(t.From), "to", string(to), "reason", reason)
	return nil
}

// fail parks the job in FAILED, or CANCELLED when the cause is a
// cancellation, and reports the original cause back to the caller.
func (d *Driver) fail(ctx context.Context, r *run, cause error) error {
	pctx := context.WithoutCancel(ctx)
	code := string(errs.KindOf(cause))

	to := fsm.StateFailed
	level := "error"
	if errs.IsKind(cause, errs.KindCancelled) {
		to = fsm.StateCancelled
		level = "warn"
	}

	if !r.machine.CanTransitionTo(to) {
		d.logger.Error("cannot park job after failure",
			"job_id", r.job.ID, "state", string(r.machine.Current()), "error", cause)
		return cause
	}

	if err := d.transition(pctx, r, to, code, cause.Error(), map[string]string{"code": code}); err != nil {
		d.logger.Error("failed to record job failure", "job_id", r.job.ID, "error", err)
		return cause
	}
	d.store.Audit(pctx, r.job.ID, level, "job stopped", map[string]string{
		"code":  code,
		"error": cause.Error(),
	})
	if to == fsm.StateFailed && d.metrics != nil {
		d.metrics.JobsFailed.WithLabelValues(code).Inc()
	}
	if d.progress != nil {
		if err := d.progress.Delete(pctx, r.job.ID); err != nil {
			d.logger.Warn("failed to delete progress record", "job_id", r.job.ID, "error", err)
		}
	}
	return cause
}

// Retry re-arms a FAILED or CANCELLED job back to PENDING. The retry
// budget is checked before it is spent, so the counter never exceeds the
// cap; an over-budget job is parked permanently FAILED.
func (d *Driver) Retry(ctx context.Context, jobID string) (*store.Job, error) {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != fsm.StateFailed && job.State != fsm.StateCancelled {
		return nil, errs.New(errs.KindInvalidState,
			"job %s is %s; only FAILED or CANCELLED jobs can be retried", jobID, job.State)
	}

	if job.RetryCount >= config.MaxRetries {
		if job.State == fsm.StateCancelled {
			if err := d.parkExhausted(ctx, job); err != nil {
				return nil, err
			}
		}
		d.store.Audit(ctx, jobID, "error", "retry refused", map[string]string{
			"attempts": strconv.Itoa(job.RetryCount),
		})
		return nil, errs.New(errs.KindRetryExhausted,
			"job %s exhausted its %d retries", jobID, config.MaxRetries)
	}

	count, err := d.store.IncrementJobRetry(ctx, jobID)
	if err != nil {
		return nil, err
	}

	history, err := d.store.LoadTransitions(ctx, jobID)
	if err != nil {
		return nil, err
	}
	machine := fsm.Deserialize(jobID, job.State, history)
	t, err := machine.TransitionTo(fsm.StatePending, "retry", map[string]string{
		"attempt": strconv.Itoa(count),
	})
	if err != nil {
		return nil, err
	}
	if err := d.store.SaveTransition(ctx, jobID, t); err != nil {
		return nil, err
	}
	if err := d.store.UpdateJobState(ctx, jobID, fsm.StatePending, "", false); err != nil {
		return nil, err
	}
	d.store.Audit(ctx, jobID, "info", "job retried", map[string]string{
		"attempt": strconv.Itoa(count),
	})

	job.State = fsm.StatePending
	job.RetryCount = count
	job.Error = ""
	return job, nil
}

// parkExhausted records the refused re-entry of an over-budget CANCELLED
// job and parks it permanently FAILED.
func (d *Driver) parkExhausted(ctx context.Context, job *store.Job) error {
	history, err := d.store.LoadTransitions(ctx, job.ID)
	if err != nil {
		return err
	}
	machine := fsm.Deserialize(job.ID, job.State, history)
	arcs := []struct {
		to     fsm.State
		reason string
	}{
		{fsm.StatePending, "retry"},
		{fsm.StateFailed, "retry-exhausted"},
	}
	for _, arc := range arcs {
		t, err := machine.TransitionTo(arc.to, arc.reason, nil)
		if err != nil {
			return err
		}
		if err := d.store.SaveTransition(ctx, job.ID, t); err != nil {
			return err
		}
	}
	if err := d.store.UpdateJobState(ctx, job.ID, fsm.StateFailed, "retry-exhausted", true); err != nil {
		return err
	}
	job.State = fsm.StateFailed
	return nil
}

// Cancel stops a running job at its next safe point, or parks a job that is
// not currently being driven directly in CANCELLED.
func (d *Driver) Cancel(ctx context.Context, jobID string) error {
	if c, ok := d.cancels.Load(jobID); ok {
		c.(context.CancelFunc)()
		return nil
	}

	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	history, err := d.store.LoadTransitions(ctx, jobID)
	if err != nil {
		return err
	}
	machine := fsm.Deserialize(jobID, job.State, history)
	t, err := machine.TransitionTo(fsm.StateCancelled, "cancelled by user", nil)
	if err != nil {
		return err
	}
	if err := d.store.SaveTransition(ctx, jobID, t); err != nil {
		return err
	}
	if err := d.store.UpdateJobState(ctx, jobID, fsm.StateCancelled, "", false); err != nil {
		return err
	}
	d.store.Audit(ctx, jobID, "warn", "job cancelled before execution", nil)
	if d.progress != nil {
		if err := d.progress.Delete(ctx, jobID); err != nil {
			d.logger.Warn("failed to delete progress record", "job_id", jobID, "error", err)
		}
	}
	return nil
}

// HealthCheck aggregates downstream availability for the readiness probe.
func (d *Driver) HealthCheck(ctx context.Context) map[string]bool {
	health := map[string]bool{}
	if d.router != nil {
		health = d.router.HealthCheck(ctx)
	}
	if d.uploader != nil {
		for name, ok := range d.uploader.HealthCheck(ctx) {
			health["upload:"+name] = ok
		}
	}
	return health
}

func (d *Driver) reportProgress(ctx context.Context, rec *progress.Record) {
	if d.progress == nil {
		return
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := d.progress.Set(ctx, rec); err != nil {
		d.logger.Warn("failed to write progress record", "job_id", rec.JobID, "error", err)
	}
}
