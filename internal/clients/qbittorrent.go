package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// QBittorrent talks to a qBittorrent WebUI (API v2).
type QBittorrent struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

// NewQBittorrent creates a wrapper around the WebUI at baseURL. The session
// cookie obtained by login is kept in the client's jar.
func NewQBittorrent(baseURL, username, password string) *QBittorrent {
	jar, _ := cookiejar.New(nil)
	return &QBittorrent{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		client:   &http.Client{Jar: jar, Timeout: 30 * time.Second},
	}
}

func (q *QBittorrent) login(ctx context.Context) error {
	form := url.Values{"username": {q.username}, "password": {q.password}}
	body, err := q.postForm(ctx, "/api/v2/auth/login", form)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(string(body), "Ok") {
		return fmt.Errorf("qbittorrent login rejected: %s", strings.TrimSpace(string(body)))
	}
	return nil
}

// Add submits the magnet or torrent URL. qBittorrent does not return the
// hash on add, so for magnets the handle is the info-hash extracted by the
// caller and passed as tag lookup; we resolve it by listing the category.
func (q *QBittorrent) Add(ctx context.Context, link, outputDir, tag string) (string, error) {
	if err := q.login(ctx); err != nil {
		return "", err
	}
	form := url.Values{
		"urls":     {link},
		"savepath": {outputDir},
		"category": {tag},
	}
	if _, err := q.postForm(ctx, "/api/v2/torrents/add", form); err != nil {
		return "", fmt.Errorf("failed to add torrent: %w", err)
	}

	// Resolve the hash via the category we just tagged it with.
	infos, err := q.torrentInfo(ctx, url.Values{"category": {tag}})
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", fmt.Errorf("torrent not visible after add (tag %s)", tag)
	}
	return infos[0].Hash, nil
}

type qbTorrentInfo struct {
	Hash        string  `json:"hash"`
	State       string  `json:"state"`
	Progress    float64 `json:"progress"`
	DlSpeed     int64   `json:"dlspeed"`
	ETA         int64   `json:"eta"`
	Size        int64   `json:"size"`
	ContentPath string  `json:"content_path"`
}

func (q *QBittorrent) torrentInfo(ctx context.Context, params url.Values) ([]qbTorrentInfo, error) {
	body, err := q.get(ctx, "/api/v2/torrents/info?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to query torrents: %w", err)
	}
	var infos []qbTorrentInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		return nil, fmt.Errorf("failed to decode torrent info: %w", err)
	}
	return infos, nil
}

func (q *QBittorrent) Status(ctx context.Context, handle string) (TransferStatus, error) {
	infos, err := q.torrentInfo(ctx, url.Values{"hashes": {handle}})
	if err != nil {
		return TransferStatus{}, err
	}
	if len(infos) == 0 {
		return TransferStatus{}, fmt.Errorf("torrent %s not found", handle)
	}
	info := infos[0]

	status := TransferStatus{
		Progress:   info.Progress * 100,
		SpeedBps:   info.DlSpeed,
		ETASeconds: info.ETA,
		TotalBytes: info.Size,
	}
	switch info.State {
	case "uploading", "stalledUP", "queuedUP", "pausedUP", "forcedUP", "checkingUP":
		status.State = StateCompleted
		status.Progress = 100
	case "error", "missingFiles":
		status.State = StateFailed
		status.Error = fmt.Sprintf("qbittorrent state %s", info.State)
	case "pausedDL", "stoppedDL":
		status.State = StatePaused
	case "queuedDL", "allocating", "metaDL", "checkingDL", "checkingResumeData":
		status.State = StateQueued
	default:
		status.State = StateDownloading
	}
	return status, nil
}

// ContentPaths returns the torrent's content path; multi-file torrents
// report their per-file paths relative to the save path.
func (q *QBittorrent) ContentPaths(ctx context.Context, handle string) ([]string, error) {
	infos, err := q.torrentInfo(ctx, url.Values{"hashes": {handle}})
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 || infos[0].ContentPath == "" {
		return nil, fmt.Errorf("no content path for torrent %s", handle)
	}
	return []string{infos[0].ContentPath}, nil
}

func (q *QBittorrent) Remove(ctx context.Context, handle string, deleteFiles bool) error {
	form := url.Values{
		"hashes":      {handle},
		"deleteFiles": {fmt.Sprintf("%t", deleteFiles)},
	}
	if _, err := q.postForm(ctx, "/api/v2/torrents/delete", form); err != nil {
		return fmt.Errorf("failed to delete torrent %s: %w", handle, err)
	}
	return nil
}

func (q *QBittorrent) Health(ctx context.Context) error {
	_, err := q.get(ctx, "/api/v2/app/version")
	return err
}

func (q *QBittorrent) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return q.do(req)
}

func (q *QBittorrent) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return q.do(req)
}

func (q *QBittorrent) do(req *http.Request) ([]byte, error) {
	resp, err := q.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qbittorrent HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
