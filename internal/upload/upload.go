package upload

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"mediabot/internal/errs"
	"mediabot/internal/packager"
)

// UploadedFile describes one file as it landed on the target.
type UploadedFile struct {
	Filename   string `json:"filename"`
	RemotePath string `json:"remotePath"`
	Size       int64  `json:"size"`
	ETag       string `json:"etag,omitempty"`
}

// TargetResult is what a target reports after uploading a package.
type TargetResult struct {
	RemoteLocation string         `json:"remoteLocation"`
	PerFile        []UploadedFile `json:"perFile"`
}

// Target is a configured upload destination.
type Target interface {
	Name() string
	Upload(ctx context.Context, packageDir, jobID string) (*TargetResult, error)
	HealthCheck(ctx context.Context) bool
}

// UploadManifest is the package manifest plus where the package landed.
type UploadManifest struct {
	packager.Manifest
	Target   string         `json:"target"`
	Location string         `json:"location"`
	PerFile  []UploadedFile `json:"perFile"`
}

// Router dispatches a packaged directory to the primary target and,
// best-effort, to an optional secondary.
type Router struct {
	primary   Target
	secondary Target
	logger    *slog.Logger
}

func NewRouter(primary, secondary Target, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{primary: primary, secondary: secondary, logger: logger}
}

// Upload ships the package to the primary target. A secondary failure is
// logged, not fatal; a primary failure fails the job.
func (r *Router) Upload(ctx context.Context, packageDir, jobID string, manifest *packager.Manifest) (*UploadManifest, error) {
	if r.primary == nil {
		return nil, errs.New(errs.KindUpload, "no upload target configured")
	}

	result, err := r.primary.Upload(ctx, packageDir, jobID)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpload, err, "upload to %s failed", r.primary.Name())
	}

	if r.secondary != nil {
		if _, secErr := r.secondary.Upload(ctx, packageDir, jobID); secErr != nil {
			r.logger.Warn("secondary upload failed",
				"job_id", jobID, "target", r.secondary.Name(), "error", secErr)
		}
	}

	return &UploadManifest{
		Manifest: *manifest,
		Target:   r.primary.Name(),
		Location: result.RemoteLocation,
		PerFile:  result.PerFile,
	}, nil
}

// HealthCheck reports target availability by name.
func (r *Router) HealthCheck(ctx context.Context) map[string]bool {
	health := make(map[string]bool)
	for _, t := range []Target{r.primary, r.secondary} {
		if t == nil {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		health[t.Name()] = t.HealthCheck(probeCtx)
		cancel()
	}
	return health
}

// packageFiles enumerates the files of a package directory with paths
// relative to it, manifest included.
func packageFiles(packageDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(packageDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(packageDir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	return files, err
}
