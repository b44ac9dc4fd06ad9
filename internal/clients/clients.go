package clients

import "context"

// TransferState is the client-neutral view of an external transfer's state.
type TransferState string

const (
	StateQueued      TransferState = "queued"
	StateDownloading TransferState = "downloading"
	StatePaused      TransferState = "paused"
	StateCompleted   TransferState = "completed"
	StateFailed      TransferState = "failed"
)

// TransferStatus is a point-in-time status report from an external client.
type TransferStatus struct {
	State      TransferState
	Progress   float64 // 0..100
	SpeedBps   int64
	ETASeconds int64
	TotalBytes int64
	Error      string // client diagnostic, verbatim
}

// TorrentClient wraps an external BitTorrent client (qBittorrent WebUI).
type TorrentClient interface {
	// Add submits a magnet link or .torrent URL and returns the client
	// handle (info-hash for qBittorrent).
	Add(ctx context.Context, link, outputDir, tag string) (string, error)
	Status(ctx context.Context, handle string) (TransferStatus, error)
	// ContentPaths lists the absolute paths of the torrent's content files.
	ContentPaths(ctx context.Context, handle string) ([]string, error)
	Remove(ctx context.Context, handle string, deleteFiles bool) error
	Health(ctx context.Context) error
}

// DirectClient wraps an external direct-download client (aria2 JSON-RPC).
type DirectClient interface {
	// Add submits an HTTP(S)/FTP URL and returns the client gid.
	Add(ctx context.Context, url, outputDir, tag string) (string, error)
	Status(ctx context.Context, gid string) (TransferStatus, error)
	// Files lists the output paths registered under the gid.
	Files(ctx context.Context, gid string) ([]string, error)
	Remove(ctx context.Context, gid string) error
	Health(ctx context.Context) error
}

// CloudCopyClient wraps the cloud-copy tool (rclone). Copy blocks until the
// transfer finishes or ctx is cancelled; there is no handle to poll.
type CloudCopyClient interface {
	CopyFile(ctx context.Context, fileID, outputDir string) error
	CopyFolder(ctx context.Context, folderID, outputDir string) error
	Health(ctx context.Context) error
}

// UsenetClient wraps an external usenet client (SABnzbd).
type UsenetClient interface {
	// Add submits an NZB URL and returns the queue slot id (nzo_id).
	Add(ctx context.Context, nzbURL, tag string) (string, error)
	Status(ctx context.Context, id string) (TransferStatus, error)
	// CompletedDir returns the category directory the finished download
	// landed in.
	CompletedDir(ctx context.Context, id string) (string, error)
	Remove(ctx context.Context, id string) error
	Health(ctx context.Context) error
}
