package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Sabnzbd talks to a SABnzbd server through its JSON API.
type Sabnzbd struct {
	baseURL  string
	apiKey   string
	category string
	client   *http.Client
}

func NewSabnzbd(baseURL, apiKey, category string) *Sabnzbd {
	return &Sabnzbd{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		category: category,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Sabnzbd) api(ctx context.Context, params url.Values, out any) error {
	params.Set("apikey", s.apiKey)
	params.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/api?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sabnzbd api call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sabnzbd HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode sabnzbd response: %w", err)
		}
	}
	return nil
}

// Add queues the NZB URL under the configured category and returns the
// nzo_id SABnzbd assigned.
func (s *Sabnzbd) Add(ctx context.Context, nzbURL, tag string) (string, error) {
	params := url.Values{
		"mode":    {"addurl"},
		"name":    {nzbURL},
		"cat":     {s.category},
		"nzbname": {tag},
	}
	var result struct {
		Status bool     `json:"status"`
		NzoIDs []string `json:"nzo_ids"`
	}
	if err := s.api(ctx, params, &result); err != nil {
		return "", err
	}
	if !result.Status || len(result.NzoIDs) == 0 {
		return "", fmt.Errorf("sabnzbd rejected nzb %s", nzbURL)
	}
	return result.NzoIDs[0], nil
}

type sabQueueSlot struct {
	NzoID      string `json:"nzo_id"`
	Status     string `json:"status"`
	Percentage string `json:"percentage"`
	MB         string `json:"mb"`
	TimeLeft   string `json:"timeleft"`
}

type sabHistorySlot struct {
	NzoID   string `json:"nzo_id"`
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Bytes   int64  `json:"bytes"`
	FailMsg string `json:"fail_message"`
}

func (s *Sabnzbd) queueSlot(ctx context.Context, id string) (*sabQueueSlot, error) {
	var result struct {
		Queue struct {
			Slots []sabQueueSlot `json:"slots"`
			Speed string         `json:"kbpersec"`
		} `json:"queue"`
	}
	if err := s.api(ctx, url.Values{"mode": {"queue"}}, &result); err != nil {
		return nil, err
	}
	for i := range result.Queue.Slots {
		if result.Queue.Slots[i].NzoID == id {
			return &result.Queue.Slots[i], nil
		}
	}
	return nil, nil
}

func (s *Sabnzbd) historySlot(ctx context.Context, id string) (*sabHistorySlot, error) {
	var result struct {
		History struct {
			Slots []sabHistorySlot `json:"slots"`
		} `json:"history"`
	}
	if err := s.api(ctx, url.Values{"mode": {"history"}}, &result); err != nil {
		return nil, err
	}
	for i := range result.History.Slots {
		if result.History.Slots[i].NzoID == id {
			return &result.History.Slots[i], nil
		}
	}
	return nil, nil
}

func (s *Sabnzbd) Status(ctx context.Context, id string) (TransferStatus, error) {
	// Active downloads live in the queue; finished ones move to history.
	if slot, err := s.queueSlot(ctx, id); err != nil {
		return TransferStatus{}, err
	} else if slot != nil {
		progress, _ := strconv.ParseFloat(slot.Percentage, 64)
		mb, _ := strconv.ParseFloat(slot.MB, 64)
		status := TransferStatus{
			Progress:   progress,
			TotalBytes: int64(mb * 1024 * 1024),
		}
		switch slot.Status {
		case "Paused":
			status.State = StatePaused
		case "Queued":
			status.State = StateQueued
		default:
			status.State = StateDownloading
		}
		return status, nil
	}

	slot, err := s.historySlot(ctx, id)
	if err != nil {
		return TransferStatus{}, err
	}
	if slot == nil {
		return TransferStatus{}, fmt.Errorf("nzb %s not found in queue or history", id)
	}
	if slot.Status == "Completed" {
		return TransferStatus{State: StateCompleted, Progress: 100, TotalBytes: slot.Bytes}, nil
	}
	return TransferStatus{State: StateFailed, Error: slot.FailMsg, TotalBytes: slot.Bytes}, nil
}

// CompletedDir returns the storage directory recorded in history.
func (s *Sabnzbd) CompletedDir(ctx context.Context, id string) (string, error) {
	slot, err := s.historySlot(ctx, id)
	if err != nil {
		return "", err
	}
	if slot == nil || slot.Storage == "" {
		return "", fmt.Errorf("no completed storage path for nzb %s", id)
	}
	return slot.Storage, nil
}

func (s *Sabnzbd) Remove(ctx context.Context, id string) error {
	params := url.Values{
		"mode":      {"queue"},
		"name":      {"delete"},
		"value":     {id},
		"del_files": {"1"},
	}
	return s.api(ctx, params, nil)
}

func (s *Sabnzbd) Health(ctx context.Context) error {
	return s.api(ctx, url.Values{"mode": {"version"}}, nil)
}
