package download

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mediabot/internal/clients"
	"mediabot/internal/errs"
	"mediabot/internal/links"
)

type fakeTorrent struct {
	mu       sync.Mutex
	statuses []clients.TransferStatus
	calls    int
	removed  bool
	addErr   error
	files    []string
}

func (f *fakeTorrent) Add(ctx context.Context, link, outputDir, tag string) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	return "handle-1", nil
}

func (f *fakeTorrent) Status(ctx context.Context, handle string) (clients.TransferStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.statuses[f.calls]
	if f.calls < len(f.statuses)-1 {
		f.calls++
	}
	return status, nil
}

func (f *fakeTorrent) ContentPaths(ctx context.Context, handle string) ([]string, error) {
	return f.files, nil
}

func (f *fakeTorrent) Remove(ctx context.Context, handle string, deleteFiles bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
	return nil
}

func (f *fakeTorrent) Health(ctx context.Context) error { return nil }

type fakeDirect struct {
	healthErr error
}

func (f *fakeDirect) Add(ctx context.Context, url, outputDir, tag string) (string, error) {
	return "gid-1", nil
}

func (f *fakeDirect) Status(ctx context.Context, gid string) (clients.TransferStatus, error) {
	return clients.TransferStatus{State: clients.StateCompleted, Progress: 100}, nil
}

func (f *fakeDirect) Files(ctx context.Context, gid string) ([]string, error) {
	return []string{"/downloads/file.mkv"}, nil
}

func (f *fakeDirect) Remove(ctx context.Context, gid string) error { return nil }

func (f *fakeDirect) Health(ctx context.Context) error { return f.healthErr }

type fakeCloudCopy struct{}

func (f *fakeCloudCopy) CopyFile(ctx context.Context, fileID, outputDir string) error { return nil }

func (f *fakeCloudCopy) CopyFolder(ctx context.Context, folderID, outputDir string) error {
	return nil
}

func (f *fakeCloudCopy) Health(ctx context.Context) error { return nil }

type fakeUsenet struct{}

func (f *fakeUsenet) Add(ctx context.Context, nzbURL, tag string) (string, error) {
	return "nzo-1", nil
}

func (f *fakeUsenet) Status(ctx context.Context, id string) (clients.TransferStatus, error) {
	return clients.TransferStatus{State: clients.StateCompleted, Progress: 100}, nil
}

func (f *fakeUsenet) CompletedDir(ctx context.Context, id string) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeUsenet) Remove(ctx context.Context, id string) error { return nil }

func (f *fakeUsenet) Health(ctx context.Context) error { return nil }

func newTestRouter(torrent *fakeTorrent, direct *fakeDirect) *Router {
	if torrent == nil {
		torrent = &fakeTorrent{}
	}
	if direct == nil {
		direct = &fakeDirect{}
	}
	return NewRouter(torrent, direct, &fakeCloudCopy{}, &fakeUsenet{}, nil)
}

func TestClientFor(t *testing.T) {
	tests := []struct {
		kind    links.Kind
		want    string
		wantErr bool
	}{
		{links.KindMagnet, "torrent", false},
		{links.KindTorrent, "torrent", false},
		{links.KindHTTP, "direct", false},
		{links.KindHTTPS, "direct", false},
		{links.KindGDrive, "cloudcopy", false},
		{links.KindNZB, "usenet", false},
		{links.KindFTP, "", true},
		{links.Kind("bogus"), "", true},
	}
	for _, tt := range tests {
		got, err := ClientFor(tt.kind)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ClientFor(%q) = %q, want error", tt.kind, got)
			} else if !errs.IsKind(err, errs.KindUnsupportedLink) {
				t.Errorf("ClientFor(%q) error kind = %s", tt.kind, errs.KindOf(err))
			}
			continue
		}
		if err != nil {
			t.Errorf("ClientFor(%q): %v", tt.kind, err)
		} else if got != tt.want {
			t.Errorf("ClientFor(%q) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestDownloadTorrentReportsProgress(t *testing.T) {
	torrent := &fakeTorrent{
		statuses: []clients.TransferStatus{
			{State: clients.StateDownloading, Progress: 40, SpeedBps: 1 << 20, TotalBytes: 1000},
			{State: clients.StateCompleted, Progress: 100, TotalBytes: 1000},
		},
		files: []string{"/downloads/show/show.mkv"},
	}
	router := newTestRouter(torrent, nil)

	var seen []float64
	link := links.Classify("magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567")
	result, err := router.Download(context.Background(), link, Options{JobID: "job-1", OutputDir: t.TempDir()},
		func(progress float64, speedBps, etaSeconds int64) {
			seen = append(seen, progress)
		})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(result.Files) != 1 || result.Files[0] != "/downloads/show/show.mkv" {
		t.Errorf("Files = %v", result.Files)
	}
	if result.TotalBytes != 1000 {
		t.Errorf("TotalBytes = %d", result.TotalBytes)
	}
	if len(seen) < 2 || seen[0] != 40 || seen[len(seen)-1] != 100 {
		t.Errorf("progress updates = %v", seen)
	}
}

func TestDownloadTorrentFailure(t *testing.T) {
	torrent := &fakeTorrent{
		statuses: []clients.TransferStatus{
			{State: clients.StateFailed, Error: "tracker unreachable"},
		},
	}
	router := newTestRouter(torrent, nil)

	link := links.Classify("magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567")
	_, err := router.Download(context.Background(), link, Options{JobID: "job-1", OutputDir: t.TempDir()}, nil)
	if err == nil {
		t.Fatal("expected error for failed transfer")
	}
	if !errs.IsKind(err, errs.KindDownloadClient) {
		t.Errorf("error kind = %s", errs.KindOf(err))
	}
}

func TestDownloadAddRejection(t *testing.T) {
	torrent := &fakeTorrent{addErr: errors.New("401 unauthorized")}
	router := newTestRouter(torrent, nil)

	link := links.Classify("magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567")
	_, err := router.Download(context.Background(), link, Options{JobID: "job-1", OutputDir: t.TempDir()}, nil)
	if !errs.IsKind(err, errs.KindDownloadClient) {
		t.Errorf("error kind = %s, want download_client", errs.KindOf(err))
	}
}

func TestDownloadCancellationRemovesTransfer(t *testing.T) {
	torrent := &fakeTorrent{
		statuses: []clients.TransferStatus{
			{State: clients.StateDownloading, Progress: 10},
		},
	}
	router := newTestRouter(torrent, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	link := links.Classify("magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567")
	_, err := router.Download(ctx, link, Options{JobID: "job-1", OutputDir: t.TempDir()}, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errs.IsKind(err, errs.KindCancelled) {
		t.Errorf("error kind = %s", errs.KindOf(err))
	}

	torrent.mu.Lock()
	removed := torrent.removed
	torrent.mu.Unlock()
	if !removed {
		t.Error("cancelled transfer should be removed from the client")
	}
}

func TestDownloadNilLink(t *testing.T) {
	router := newTestRouter(nil, nil)
	_, err := router.Download(context.Background(), nil, Options{}, nil)
	if !errs.IsKind(err, errs.KindUnsupportedLink) {
		t.Errorf("error kind = %s, want unsupported_link", errs.KindOf(err))
	}
}

func TestHealthCheckReportsPerClient(t *testing.T) {
	router := newTestRouter(nil, &fakeDirect{healthErr: errors.New("connection refused")})

	health := router.HealthCheck(context.Background())
	if len(health) != 4 {
		t.Fatalf("health map = %v", health)
	}
	if !health["torrent"] || !health["cloudcopy"] || !health["usenet"] {
		t.Errorf("healthy clients reported down: %v", health)
	}
	if health["direct"] {
		t.Error("direct client should be reported down")
	}
}
