package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mediabot/internal/avsync"
	"mediabot/internal/config"
	"mediabot/internal/download"
	"mediabot/internal/errs"
	"mediabot/internal/fsm"
	"mediabot/internal/links"
	"mediabot/internal/media"
	"mediabot/internal/packager"
	"mediabot/internal/progress"
	"mediabot/internal/store"

	"github.com/google/uuid"
)

const sampleDurationSec = 30

func (d *Driver) workDir(jobID string) string {
	return filepath.Join(config.StorageWorking, jobID)
}

// stageDownload classifies the link, routes it to an external client and
// records the produced files as the job's media asset. A completed download
// from an earlier attempt is reused when its files are still on disk.
func (d *Driver) stageDownload(ctx context.Context, r *run) (fsm.State, string, error) {
	if asset, err := d.store.GetMediaAsset(ctx, r.job.ID); err == nil && asset != nil && asset.VideoPath != "" {
		if _, statErr := os.Stat(asset.VideoPath); statErr == nil {
			r.adoptAsset(asset)
			d.store.Audit(ctx, r.job.ID, "info", "reusing completed download", nil)
			return fsm.StateAnalyzing, "reusing completed download", nil
		}
	}

	link := links.Classify(r.job.Link)
	if link == nil {
		return "", "", errs.New(errs.KindUnsupportedLink, "unrecognized link")
	}
	clientName, err := download.ClientFor(link.Kind)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(r.workDir, 0o755); err != nil {
		return "", "", errs.Wrap(errs.KindDownloadClient, err, "failed to create working directory")
	}

	now := time.Now().UTC()
	dl := &store.Download{
		ID:         uuid.NewString(),
		JobID:      r.job.ID,
		SourceLink: r.job.Link,
		Kind:       string(link.Kind),
		ClientName: clientName,
		Status:     store.DownloadDownloading,
		StartedAt:  &now,
	}
	if err := d.store.CreateDownload(ctx, dl); err != nil {
		return "", "", err
	}

	pctx := context.WithoutCancel(ctx)
	onProgress := func(p float64, speedBps, etaSeconds int64) {
		dl.Progress, dl.Speed, dl.ETA = p, speedBps, etaSeconds
		if err := d.store.UpdateDownload(pctx, dl); err != nil {
			d.logger.Warn("failed to update download row", "job_id", r.job.ID, "error", err)
		}
		if err := d.store.UpdateJobProgress(pctx, r.job.ID, p*0.4); err != nil {
			d.logger.Warn("failed to update job progress", "job_id", r.job.ID, "error", err)
		}
		d.reportProgress(pctx, &progress.Record{
			JobID:      r.job.ID,
			Downloader: clientName,
			Stage:      "download",
			Progress:   p,
			Speed:      speedBps,
			ETA:        etaSeconds,
			Status:     "downloading",
		})
	}

	result, err := d.router.Download(ctx, link, download.Options{
		JobID:     r.job.ID,
		OutputDir: r.workDir,
		Priority:  string(r.job.Priority),
	}, onProgress)
	if err != nil {
		dl.Error = err.Error()
		dl.Status = store.DownloadFailed
		if errs.IsKind(err, errs.KindCancelled) {
			dl.Status = store.DownloadCancelled
		}
		if uErr := d.store.UpdateDownload(pctx, dl); uErr != nil {
			d.logger.Warn("failed to record download failure", "job_id", r.job.ID, "error", uErr)
		}
		return "", "", err
	}

	if err := d.store.MarkDownloadCompleted(ctx, dl, r.workDir, result.TotalBytes); err != nil {
		return "", "", err
	}
	if d.metrics != nil {
		d.metrics.DownloadBytes.Add(float64(result.TotalBytes))
	}

	asset := classifyFiles(r.job.ID, result.Files)
	if asset.VideoPath == "" && len(asset.AudioPaths) == 0 {
		return "", "", errs.New(errs.KindDownloadClient, "download produced no usable media files")
	}
	if err := d.store.SaveMediaAsset(ctx, asset); err != nil {
		return "", "", err
	}
	r.asset = asset

	d.store.Audit(ctx, r.job.ID, "info", "download completed", map[string]string{
		"client": clientName,
		"files":  fmt.Sprintf("%d", len(result.Files)),
		"bytes":  fmt.Sprintf("%d", result.TotalBytes),
	})
	return fsm.StateAnalyzing, "download completed", nil
}

// stageAnalyze probes the primary asset. Single-stream assets with no
// separate audio track skip sync analysis entirely, as do download-only
// jobs.
func (d *Driver) stageAnalyze(ctx context.Context, r *run) (fsm.State, string, error) {
	if err := d.ensureAsset(ctx, r); err != nil {
		return "", "", err
	}

	target := r.asset.VideoPath
	if target == "" {
		target = r.asset.AudioPaths[0]
	}

	step, runErr := d.runStep(ctx, r, store.StepProbe, config.ProbeBinary, media.ProbeArgs(target))
	if runErr != nil {
		return "", "", runErr
	}
	result, err := media.ParseProbe([]byte(step.Stdout))
	if err != nil {
		return "", "", errs.Wrap(errs.KindCommand, err, "probe output unusable")
	}
	r.probe = result

	hasExternalAudio := len(r.asset.AudioPaths) > 0 && r.asset.VideoPath != ""
	switch {
	case r.job.Kind == store.JobKindDownload:
		return fsm.StateProcessing, "download-only job; sync analysis skipped", nil
	case result.SingleStream() && !hasExternalAudio:
		return fsm.StateProcessing, "single-stream asset; sync analysis skipped", nil
	default:
		return fsm.StateSyncing, "probe completed", nil
	}
}

// stageSync runs the measurement oracle and the decision engine, persisting
// the outcome. A rejection fails the job rather than shipping a bad mux.
func (d *Driver) stageSync(ctx context.Context, r *run) (fsm.State, string, error) {
	if err := d.ensureAsset(ctx, r); err != nil {
		return "", "", err
	}

	audio := r.asset.VideoPath
	if len(r.asset.AudioPaths) > 0 {
		audio = r.asset.AudioPaths[0]
	}

	step, runErr := d.runStep(ctx, r, store.StepSyncAnalyze, config.SyncBinary,
		media.SyncAnalyzeArgs(r.asset.VideoPath, audio))
	if runErr != nil {
		return "", "", runErr
	}
	measurements, err := media.ParseSyncAnalyze([]byte(step.Stdout))
	if err != nil {
		return "", "", errs.Wrap(errs.KindCommand, err, "sync-analyze output unusable")
	}

	decision := d.engine.Decide(*measurements)
	r.decision = &decision

	anchors, err := json.Marshal(measurements.Anchors)
	if err != nil {
		return "", "", fmt.Errorf("marshaling anchors: %w", err)
	}
	var regions []float64
	for _, region := range decision.TrimRegions {
		regions = append(regions, region.StartMs, region.EndMs)
	}
	row := &store.SyncDecision{
		ID:            uuid.NewString(),
		JobID:         r.job.ID,
		Decision:      string(decision.Decision),
		OffsetMs:      decision.OffsetMs,
		StretchRatio:  decision.StretchRatio,
		TrimRegions:   regions,
		Confidence:    decision.Confidence,
		StartOffsetMs: measurements.StartOffsetMs,
		MidOffsetMs:   measurements.MiddleOffsetMs,
		EndOffsetMs:   measurements.EndOffsetMs,
		DriftPerSec:   measurements.DriftMsPerSec,
		Anchors:       string(anchors),
		Rationale:     decision.Rationale,
	}
	if err := d.store.SaveSyncDecision(ctx, row); err != nil {
		return "", "", err
	}
	d.store.Audit(ctx, r.job.ID, "info", "sync decision", map[string]string{
		"decision":  string(decision.Decision),
		"rationale": decision.Rationale,
	})

	if decision.Decision == avsync.DecisionReject {
		return "", "", errs.New(errs.KindSyncRejected,
			"sync correction rejected: %s (%s)", decision.Reason, decision.Rationale)
	}
	return fsm.StateProcessing, fmt.Sprintf("sync decision: %s", decision.Decision), nil
}

// stageProcess applies the sync decision in a single mux and cuts a sample
// clip. Jobs that need no correction and carry no separate audio pass the
// original file through untouched.
func (d *Driver) stageProcess(ctx context.Context, r *run) (fsm.State, string, error) {
	if err := d.ensureAsset(ctx, r); err != nil {
		return "", "", err
	}
	decision, err := d.ensureDecision(ctx, r)
	if err != nil {
		return "", "", err
	}

	needsMux := r.job.Kind == store.JobKindFullPipeline && r.asset.VideoPath != "" &&
		(decision.Decision != avsync.DecisionNone || len(r.asset.AudioPaths) > 0)
	if !needsMux {
		skipped := &store.ProcessingStep{
			ID:      uuid.NewString(),
			JobID:   r.job.ID,
			Type:    store.StepMux,
			Status:  store.StepSkipped,
			Command: config.MuxBinary,
		}
		var oErr error
		skipped.Ordinal, oErr = d.store.NextStepOrdinal(ctx, r.job.ID)
		if oErr != nil {
			return "", "", oErr
		}
		if err := d.store.CreateStep(ctx, skipped); err != nil {
			return "", "", err
		}
		r.finalVideo = r.asset.VideoPath
		r.muxed = false
		return fsm.StateValidating, "no processing required", nil
	}

	outName := r.job.OutputName
	if outName == "" {
		base := filepath.Base(r.asset.VideoPath)
		outName = strings.TrimSuffix(base, filepath.Ext(base)) + ".mkv"
	}
	muxDir := filepath.Join(r.workDir, "muxed")
	if err := os.MkdirAll(muxDir, 0o755); err != nil {
		return "", "", errs.Wrap(errs.KindCommand, err, "failed to create mux directory")
	}
	output := filepath.Join(muxDir, outName)

	audio := r.asset.VideoPath
	if len(r.asset.AudioPaths) > 0 {
		audio = r.asset.AudioPaths[0]
	}
	args, err := media.MuxArgs(r.asset.VideoPath, audio, output, *decision)
	if err != nil {
		return "", "", errs.Wrap(errs.KindCommand, err, "cannot plan mux")
	}
	if _, runErr := d.runStep(ctx, r, store.StepMux, config.MuxBinary, args); runErr != nil {
		return "", "", runErr
	}
	r.finalVideo = output
	r.muxed = true
	r.asset.MuxedPath = output

	durationSec := 0.0
	if r.probe != nil {
		durationSec = r.probe.DurationSec
	}
	sampleDir := filepath.Join(r.workDir, "samples")
	if err := os.MkdirAll(sampleDir, 0o755); err != nil {
		return "", "", errs.Wrap(errs.KindCommand, err, "failed to create sample directory")
	}
	sample := filepath.Join(sampleDir, "sample-"+outName)
	startSec := math.Min(60, durationSec*0.1)
	if _, runErr := d.runStep(ctx, r, store.StepSampleGen, config.MuxBinary,
		media.SampleArgs(output, sample, startSec, sampleDurationSec)); runErr != nil {
		return "", "", runErr
	}
	r.asset.SamplePaths = []string{sample}
	if err := d.store.SaveMediaAsset(ctx, r.asset); err != nil {
		return "", "", err
	}

	return fsm.StateValidating, "processing completed", nil
}

// stageValidate re-probes the muxed output and, on the first failure, sends
// the job back through PROCESSING exactly once. Success assembles the
// package.
func (d *Driver) stageValidate(ctx context.Context, r *run) (fsm.State, string, error) {
	if err := d.ensureAsset(ctx, r); err != nil {
		return "", "", err
	}
	if !r.muxed {
		return d.packageJob(ctx, r)
	}

	step, runErr := d.runStep(ctx, r, store.StepValidate, config.ProbeBinary,
		media.ValidateArgs(r.finalVideo))

	vErr := runErr
	if vErr == nil {
		result, parseErr := media.ParseProbe([]byte(step.Stdout))
		switch {
		case parseErr != nil:
			vErr = errs.Wrap(errs.KindValidation, parseErr, "validation probe output unusable")
		case !result.HasVideo || !result.HasAudio:
			vErr = errs.New(errs.KindValidation, "muxed output is missing a stream")
		case r.probe != nil && r.probe.DurationSec > 0:
			allowed := math.Max(2, r.probe.DurationSec*0.02)
			if math.Abs(result.DurationSec-r.probe.DurationSec) > allowed {
				vErr = errs.New(errs.KindValidation,
					"muxed duration %.1fs deviates from source %.1fs",
					result.DurationSec, r.probe.DurationSec)
			}
		}
	}

	if vErr != nil {
		if errs.IsKind(vErr, errs.KindCancelled) {
			return "", "", vErr
		}
		if !r.revalidated {
			r.revalidated = true
			d.store.Audit(ctx, r.job.ID, "warn", "validation failed; reprocessing once", map[string]string{
				"error": vErr.Error(),
			})
			return fsm.StateProcessing, "revalidate", nil
		}
		return "", "", errs.Wrap(errs.KindValidation, vErr, "validation failed after reprocess")
	}
	return d.packageJob(ctx, r)
}

func (d *Driver) packageJob(ctx context.Context, r *run) (fsm.State, string, error) {
	files := packager.FileSet{
		Video:     r.finalVideo,
		Subtitles: r.asset.SubtitlePaths,
		Samples:   r.asset.SamplePaths,
	}
	if files.Video == "" {
		files.Video = r.asset.VideoPath
	}
	if !r.muxed {
		// Separate audio was not merged into the output, so it ships as-is.
		files.Audios = r.asset.AudioPaths
	}

	metadata := map[string]string{"kind": string(r.job.Kind)}
	if r.job.OutputName != "" {
		metadata["outputName"] = r.job.OutputName
	}

	manifest, packageDir, err := d.packager.Package(ctx, r.job.ID, files, config.StorageProcessed, metadata)
	if err != nil {
		return "", "", err
	}
	r.manifest = manifest

	manifestPath := filepath.Join(packageDir, packager.ManifestName)
	if err := d.store.SetJobManifest(ctx, r.job.ID, manifestPath); err != nil {
		return "", "", err
	}
	r.asset.PackageDir = packageDir
	if err := d.store.SaveMediaAsset(ctx, r.asset); err != nil {
		return "", "", err
	}
	return fsm.StatePackaged, "package assembled", nil
}

// stageUpload ships the package through the upload router and records where
// it landed.
func (d *Driver) stageUpload(ctx context.Context, r *run) (fsm.State, string, error) {
	if d.uploader == nil {
		return "", "", errs.New(errs.KindUpload, "no upload target configured")
	}
	if err := d.ensureAsset(ctx, r); err != nil {
		return "", "", err
	}
	if r.asset.PackageDir == "" {
		return "", "", errs.New(errs.KindUpload, "job %s has no package directory", r.job.ID)
	}
	if r.manifest == nil {
		manifest, err := readManifest(filepath.Join(r.asset.PackageDir, packager.ManifestName))
		if err != nil {
			return "", "", errs.Wrap(errs.KindUpload, err, "cannot load package manifest")
		}
		r.manifest = manifest
	}

	uploaded, err := d.uploader.Upload(ctx, r.asset.PackageDir, r.job.ID, r.manifest)
	if err != nil {
		return "", "", err
	}
	if err := d.store.SetJobUpload(ctx, r.job.ID, uploaded.Target, uploaded.Location); err != nil {
		return "", "", err
	}
	d.store.Audit(ctx, r.job.ID, "info", "package uploaded", map[string]string{
		"target":   uploaded.Target,
		"location": uploaded.Location,
	})
	return fsm.StateUploaded, fmt.Sprintf("uploaded to %s", uploaded.Target), nil
}

// stageFinish clears ephemeral state and retires the job.
func (d *Driver) stageFinish(ctx context.Context, r *run) (fsm.State, string, error) {
	if d.progress != nil {
		if err := d.progress.Delete(context.WithoutCancel(ctx), r.job.ID); err != nil {
			d.logger.Warn("failed to delete progress record", "job_id", r.job.ID, "error", err)
		}
	}
	if err := os.RemoveAll(r.workDir); err != nil {
		d.logger.Warn("failed to clean working directory", "job_id", r.job.ID, "error", err)
	}
	return fsm.StateDone, "pipeline complete", nil
}

// runStep creates, executes and persists one processing step. The first
// time a step type comes up in an invocation, a completed row from a prior
// attempt is reused instead of re-executed; later passes (revalidation)
// always run fresh.
func (d *Driver) runStep(ctx context.Context, r *run, stepType store.StepType, command string, args []string) (*store.ProcessingStep, error) {
	first := !r.ran[stepType]
	r.ran[stepType] = true
	if first {
		prior, err := d.completedStep(ctx, r.job.ID, stepType)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			d.store.Audit(ctx, r.job.ID, "info", "reusing completed step", map[string]string{
				"type":    string(stepType),
				"ordinal": strconv.Itoa(prior.Ordinal),
			})
			return prior, nil
		}
	}

	ordinal, err := d.store.NextStepOrdinal(ctx, r.job.ID)
	if err != nil {
		return nil, err
	}
	step := &store.ProcessingStep{
		ID:      uuid.NewString(),
		JobID:   r.job.ID,
		Ordinal: ordinal,
		Type:    stepType,
		Status:  store.StepRunning,
		Command: command,
		Args:    args,
	}
	if err := d.store.CreateStep(ctx, step); err != nil {
		return nil, err
	}

	runErr := d.runner.Run(ctx, step)
	if uErr := d.store.UpdateStep(context.WithoutCancel(ctx), step); uErr != nil {
		d.logger.Warn("failed to persist step outcome", "job_id", r.job.ID, "step_id", step.ID, "error", uErr)
	}
	return step, runErr
}

// completedStep returns the job's most recent completed step of the given
// type, or nil.
func (d *Driver) completedStep(ctx context.Context, jobID string, stepType store.StepType) (*store.ProcessingStep, error) {
	steps, err := d.store.ListSteps(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var found *store.ProcessingStep
	for _, step := range steps {
		if step.Type == stepType && step.Status == store.StepCompleted {
			found = step
		}
	}
	return found, nil
}

func (d *Driver) ensureAsset(ctx context.Context, r *run) error {
	if r.asset != nil {
		return nil
	}
	asset, err := d.store.GetMediaAsset(ctx, r.job.ID)
	if err != nil {
		return err
	}
	if asset == nil || (asset.VideoPath == "" && len(asset.AudioPaths) == 0) {
		return errs.New(errs.KindNotFound, "job %s has no media asset", r.job.ID)
	}
	r.adoptAsset(asset)
	return nil
}

// adoptAsset installs a persisted asset into the working state. A mux
// output from a prior attempt keeps its validation obligation across a
// resume.
func (r *run) adoptAsset(asset *store.MediaAsset) {
	r.asset = asset
	if asset.MuxedPath != "" {
		r.muxed = true
		if r.finalVideo == "" {
			r.finalVideo = asset.MuxedPath
		}
	}
	if r.finalVideo == "" {
		r.finalVideo = asset.VideoPath
	}
}

// ensureDecision loads the latest persisted sync decision when the in-memory
// one is gone (resumed job). No persisted decision means none was needed.
func (d *Driver) ensureDecision(ctx context.Context, r *run) (*avsync.Decision, error) {
	if r.decision != nil {
		return r.decision, nil
	}
	row, err := d.store.GetSyncDecision(ctx, r.job.ID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		r.decision = &avsync.Decision{Decision: avsync.DecisionNone}
		return r.decision, nil
	}
	r.decision = &avsync.Decision{
		Decision:     avsync.DecisionKind(row.Decision),
		OffsetMs:     row.OffsetMs,
		StretchRatio: row.StretchRatio,
		Confidence:   row.Confidence,
		Rationale:    row.Rationale,
	}
	return r.decision, nil
}

func readManifest(path string) (*packager.Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest packager.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &manifest, nil
}

var (
	videoExts = map[string]bool{
		".mkv": true, ".mp4": true, ".avi": true, ".m4v": true,
		".webm": true, ".mov": true, ".ts": true,
	}
	audioExts = map[string]bool{
		".mka": true, ".aac": true, ".ac3": true, ".eac3": true, ".dts": true,
		".flac": true, ".mp3": true, ".wav": true, ".opus": true, ".m4a": true,
	}
	subtitleExts = map[string]bool{
		".srt": true, ".ass": true, ".ssa": true, ".sub": true, ".vtt": true,
	}
)

// classifyFiles buckets downloaded files by extension. The largest video
// file becomes the primary asset; with no recognizable video the largest
// uncategorized file does.
func classifyFiles(jobID string, files []string) *store.MediaAsset {
	asset := &store.MediaAsset{JobID: jobID}

	var bestVideo, bestOther string
	var bestVideoSize, bestOtherSize int64
	for _, path := range files {
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		ext := strings.ToLower(filepath.Ext(path))
		switch {
		case videoExts[ext]:
			if bestVideo == "" || size > bestVideoSize {
				bestVideo, bestVideoSize = path, size
			}
		case audioExts[ext]:
			asset.AudioPaths = append(asset.AudioPaths, path)
		case subtitleExts[ext]:
			asset.SubtitlePaths = append(asset.SubtitlePaths, path)
		default:
			if bestOther == "" || size > bestOtherSize {
				bestOther, bestOtherSize = path, size
			}
		}
	}

	asset.VideoPath = bestVideo
	if asset.VideoPath == "" && len(asset.AudioPaths) == 0 {
		asset.VideoPath = bestOther
	}
	return asset
}
