package download

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"mediabot/internal/clients"
	"mediabot/internal/config"
	"mediabot/internal/errs"
	"mediabot/internal/links"

	"golang.org/x/sync/errgroup"
)

// Poll cadence per client family.
const (
	torrentPollInterval = 2 * time.Second
	directPollInterval  = 1 * time.Second
	usenetPollInterval  = 2 * time.Second
)

// Options carries per-download parameters from the driver.
type Options struct {
	JobID     string
	OutputDir string
	Priority  string
}

// Result is what a finished download reports back.
type Result struct {
	Files      []string
	TotalBytes int64
	Duration   time.Duration
}

// ProgressFunc receives poll-time progress updates from the router.
type ProgressFunc func(progress float64, speedBps, etaSeconds int64)

// Router multiplexes classified links over the four external clients.
type Router struct {
	torrent   clients.TorrentClient
	direct    clients.DirectClient
	cloudCopy clients.CloudCopyClient
	usenet    clients.UsenetClient
	logger    *slog.Logger
}

func NewRouter(torrent clients.TorrentClient, direct clients.DirectClient,
	cloudCopy clients.CloudCopyClient, usenet clients.UsenetClient, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		torrent:   torrent,
		direct:    direct,
		cloudCopy: cloudCopy,
		usenet:    usenet,
		logger:    logger,
	}
}

// ClientFor names the client a link kind routes to.
func ClientFor(kind links.Kind) (string, error) {
	switch kind {
	case links.KindMagnet, links.KindTorrent:
		return "torrent", nil
	case links.KindHTTP, links.KindHTTPS:
		return "direct", nil
	case links.KindGDrive:
		return "cloudcopy", nil
	case links.KindNZB:
		return "usenet", nil
	default:
		return "", errs.New(errs.KindUnsupportedLink, "no client for link kind %q", kind)
	}
}

// Download routes the link to exactly one external client, waits for the
// transfer to finish and returns the produced files. Cancellation removes
// the transfer from the client best-effort.
func (r *Router) Download(ctx context.Context, link *links.Classified, opts Options, onProgress ProgressFunc) (*Result, error) {
	if link == nil {
		return nil, errs.New(errs.KindUnsupportedLink, "unclassified link")
	}
	start := time.Now()

	var (
		result *Result
		err    error
	)
	switch link.Kind {
	case links.KindMagnet, links.KindTorrent:
		result, err = r.downloadTorrent(ctx, link, opts, onProgress)
	case links.KindHTTP, links.KindHTTPS:
		result, err = r.downloadDirect(ctx, link, opts, onProgress)
	case links.KindGDrive:
		result, err = r.downloadCloudCopy(ctx, link, opts)
	case links.KindNZB:
		result, err = r.downloadUsenet(ctx, link, opts, onProgress)
	default:
		return nil, errs.New(errs.KindUnsupportedLink, "no client for link kind %q", link.Kind)
	}
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	r.logger.Info("download completed",
		"job_id", opts.JobID,
		"kind", string(link.Kind),
		"files", len(result.Files),
		"total_bytes", result.TotalBytes,
		"duration_ms", result.Duration.Milliseconds())
	return result, nil
}

func (r *Router) downloadTorrent(ctx context.Context, link *links.Classified, opts Options, onProgress ProgressFunc) (*Result, error) {
	handle, err := r.torrent.Add(ctx, link.Original, opts.OutputDir, opts.JobID)
	if err != nil {
		return nil, errs.Wrap(errs.KindDownloadClient, err, "torrent client rejected link")
	}

	status, err := r.pollUntilDone(ctx, torrentPollInterval, onProgress,
		func(ctx context.Context) (clients.TransferStatus, error) {
			return r.torrent.Status(ctx, handle)
		},
		func() {
			// Best-effort removal on cancel; use a detached context since
			// ctx is already dead.
			rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if rmErr := r.torrent.Remove(rmCtx, handle, true); rmErr != nil {
				r.logger.Warn("failed to remove torrent on cancel", "handle", handle, "error", rmErr)
			}
		})
	if err != nil {
		return nil, err
	}

	files, err := r.torrent.ContentPaths(ctx, handle)
	if err != nil {
		return nil, errs.Wrap(errs.KindDownloadClient, err, "failed to enumerate torrent content")
	}
	return &Result{Files: files, TotalBytes: status.TotalBytes}, nil
}

func (r *Router) downloadDirect(ctx context.Context, link *links.Classified, opts Options, onProgress ProgressFunc) (*Result, error) {
	gid, err := r.direct.Add(ctx, link.Original, opts.OutputDir, opts.JobID)
	if err != nil {
		return nil, errs.Wrap(errs.KindDownloadClient, err, "direct client rejected link")
	}

	status, err := r.pollUntilDone(ctx, directPollInterval, onProgress,
		func(ctx context.Context) (clients.TransferStatus, error) {
			// Per-operation timeout; the overall wait is unbounded.
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			return r.direct.Status(opCtx, gid)
		},
		func() {
			rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if rmErr := r.direct.Remove(rmCtx, gid); rmErr != nil {
				r.logger.Warn("failed to remove download on cancel", "gid", gid, "error", rmErr)
			}
		})
	if err != nil {
		return nil, err
	}

	files, err := r.direct.Files(ctx, gid)
	if err != nil {
		return nil, errs.Wrap(errs.KindDownloadClient, err, "failed to enumerate downloaded files")
	}
	return &Result{Files: files, TotalBytes: status.TotalBytes}, nil
}

func (r *Router) downloadCloudCopy(ctx context.Context, link *links.Classified, opts Options) (*Result, error) {
	copyCtx, cancel := context.WithTimeout(ctx, config.CloudCopyTimeout)
	defer cancel()

	var err error
	switch {
	case link.FileID != "":
		err = r.cloudCopy.CopyFile(copyCtx, link.FileID, opts.OutputDir)
	case link.FolderID != "":
		err = r.cloudCopy.CopyFolder(copyCtx, link.FolderID, opts.OutputDir)
	default:
		return nil, errs.New(errs.KindUnsupportedLink, "gdrive link carries no file or folder id")
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.KindCancelled, ctx.Err(), "cloud copy cancelled")
		}
		return nil, errs.Wrap(errs.KindDownloadClient, err, "cloud copy failed")
	}

	// The cloud-copy tool reports nothing back; enumerate the output
	// directory instead.
	files, total, err := listDir(opts.OutputDir)
	if err != nil {
		return nil, errs.Wrap(errs.KindDownloadClient, err, "failed to list cloud copy output")
	}
	if len(files) == 0 {
		return nil, errs.New(errs.KindDownloadClient, "cloud copy produced no files in %s", opts.OutputDir)
	}
	return &Result{Files: files, TotalBytes: total}, nil
}

func (r *Router) downloadUsenet(ctx context.Context, link *links.Classified, opts Options, onProgress ProgressFunc) (*Result, error) {
	id, err := r.usenet.Add(ctx, link.Original, opts.JobID)
	if err != nil {
		return nil, errs.Wrap(errs.KindDownloadClient, err, "usenet client rejected link")
	}

	status, err := r.pollUntilDone(ctx, usenetPollInterval, onProgress,
		func(ctx context.Context) (clients.TransferStatus, error) {
			return r.usenet.Status(ctx, id)
		},
		func() {
			rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if rmErr := r.usenet.Remove(rmCtx, id); rmErr != nil {
				r.logger.Warn("failed to remove nzb on cancel", "nzo_id", id, "error", rmErr)
			}
		})
	if err != nil {
		return nil, err
	}

	dir, err := r.usenet.CompletedDir(ctx, id)
	if err != nil {
		return nil, errs.Wrap(errs.KindDownloadClient, err, "failed to locate completed nzb output")
	}
	files, total, err := listDir(dir)
	if err != nil {
		return nil, errs.Wrap(errs.KindDownloadClient, err, "failed to list nzb output")
	}
	if status.TotalBytes > total {
		total = status.TotalBytes
	}
	return &Result{Files: files, TotalBytes: total}, nil
}

// pollUntilDone polls the client at the given interval until the transfer
// completes or fails, or ctx is cancelled. onCancel runs after ctx dies.
func (r *Router) pollUntilDone(ctx context.Context, interval time.Duration, onProgress ProgressFunc,
	poll func(context.Context) (clients.TransferStatus, error), onCancel func()) (clients.TransferStatus, error) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			onCancel()
			return clients.TransferStatus{}, errs.Wrap(errs.KindCancelled, ctx.Err(), "download cancelled")
		case <-ticker.C:
		}

		status, err := poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				onCancel()
				return clients.TransferStatus{}, errs.Wrap(errs.KindCancelled, ctx.Err(), "download cancelled")
			}
			return clients.TransferStatus{}, errs.Wrap(errs.KindDownloadClient, err, "client status poll failed")
		}

		if onProgress != nil {
			onProgress(status.Progress, status.SpeedBps, status.ETASeconds)
		}

		switch status.State {
		case clients.StateCompleted:
			return status, nil
		case clients.StateFailed:
			return status, errs.New(errs.KindDownloadClient, "client reported failure: %s", status.Error)
		}
	}
}

// HealthCheck probes all four clients in parallel and reports availability
// per client name.
func (r *Router) HealthCheck(ctx context.Context) map[string]bool {
	probes := map[string]func(context.Context) error{
		"torrent":   r.torrent.Health,
		"direct":    r.direct.Health,
		"cloudcopy": r.cloudCopy.Health,
		"usenet":    r.usenet.Health,
	}

	var mu sync.Mutex
	health := make(map[string]bool, len(probes))

	g, gctx := errgroup.WithContext(ctx)
	for name, probe := range probes {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, config.HealthProbeTimeout)
			defer cancel()
			err := probe(probeCtx)
			mu.Lock()
			health[name] = err == nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return health
}

// listDir walks dir and returns regular file paths plus their total size.
func listDir(dir string) ([]string, int64, error) {
	var (
		files []string
		total int64
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, path)
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return files, total, nil
}
