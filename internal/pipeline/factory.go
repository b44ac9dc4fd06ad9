package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"mediabot/internal/avsync"
	"mediabot/internal/clients"
	"mediabot/internal/config"
	"mediabot/internal/download"
	"mediabot/internal/media"
	"mediabot/internal/metrics"
	"mediabot/internal/packager"
	"mediabot/internal/progress"
	"mediabot/internal/store"
	"mediabot/internal/upload"
)

// NewDriverFromConfig assembles a driver with every collaborator built from
// the environment.
func NewDriverFromConfig(ctx context.Context, st *store.Store, prog *progress.Store,
	m *metrics.Pipeline, logger *slog.Logger) (*Driver, error) {

	router := download.NewRouter(
		clients.NewQBittorrent(config.QBittorrentURL, config.QBittorrentUser, config.QBittorrentPassword),
		clients.NewAria2(config.Aria2RPCURL, config.Aria2RPCSecret),
		clients.NewRclone(config.RcloneBinary, config.RcloneConfig, config.RcloneRemote),
		clients.NewSabnzbd(config.SabnzbdURL, config.SabnzbdAPIKey, config.SabnzbdCategory),
		logger,
	)

	uploader, err := uploadRouterFromConfig(ctx, logger)
	if err != nil {
		return nil, err
	}

	var sink ProgressSink
	if prog != nil {
		sink = prog
	}

	return NewDriver(
		st,
		sink,
		router,
		media.NewRunner(config.StepTimeout, logger),
		avsync.NewEngine(thresholdsFromConfig()),
		packager.New(logger),
		uploader,
		m,
		logger,
	), nil
}

func thresholdsFromConfig() avsync.Thresholds {
	t := avsync.DefaultThresholds()
	t.InSyncMs = config.InSyncThresholdMs
	t.MinorMs = config.MinorThresholdMs
	t.ModerateMs = config.ModerateThresholdMs
	t.SevereMs = config.SevereThresholdMs
	t.DriftSignificant = config.DriftSignificant
	t.ConfidenceFloor = config.ConfidenceFloor
	return t
}

// uploadRouterFromConfig always returns a router; with no target configured
// the router itself refuses uploads, which surfaces the misconfiguration at
// the upload stage.
func uploadRouterFromConfig(ctx context.Context, logger *slog.Logger) (*upload.Router, error) {
	primary, err := uploadTarget(ctx, config.UploadTarget, logger)
	if err != nil {
		return nil, fmt.Errorf("building primary upload target: %w", err)
	}
	secondary, err := uploadTarget(ctx, config.UploadSecondaryTarget, logger)
	if err != nil {
		return nil, fmt.Errorf("building secondary upload target: %w", err)
	}
	return upload.NewRouter(primary, secondary, logger), nil
}

func uploadTarget(ctx context.Context, name string, logger *slog.Logger) (upload.Target, error) {
	switch name {
	case "gdrive":
		return upload.NewGDriveTarget(ctx, config.DriveFolderID, logger)
	case "s3":
		return upload.NewS3Target(ctx, logger)
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown upload target %q", name)
	}
}
