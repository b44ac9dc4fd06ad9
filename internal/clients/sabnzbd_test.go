package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// sabServer answers the JSON API with canned documents keyed by mode.
func sabServer(t *testing.T, responses map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apikey") != "test-key" {
			t.Errorf("missing apikey in %s", r.URL.RawQuery)
		}
		mode := r.URL.Query().Get("mode")
		resp, ok := responses[mode]
		if !ok {
			http.Error(w, "unknown mode "+mode, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestSabnzbdAdd(t *testing.T) {
	srv := sabServer(t, map[string]any{
		"addurl": map[string]any{"status": true, "nzo_ids": []string{"SABnzbd_nzo_1"}},
	})
	defer srv.Close()

	s := NewSabnzbd(srv.URL, "test-key", "media-bot")
	id, err := s.Add(context.Background(), "https://indexer.example.com/get/show.nzb", "job-1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id != "SABnzbd_nzo_1" {
		t.Errorf("nzo_id = %q", id)
	}
}

func TestSabnzbdAddRejected(t *testing.T) {
	srv := sabServer(t, map[string]any{
		"addurl": map[string]any{"status": false},
	})
	defer srv.Close()

	s := NewSabnzbd(srv.URL, "test-key", "media-bot")
	if _, err := s.Add(context.Background(), "https://indexer.example.com/get/bad.nzb", "job-1"); err == nil {
		t.Error("expected rejection error")
	}
}

func TestSabnzbdStatusQueued(t *testing.T) {
	srv := sabServer(t, map[string]any{
		"queue": map[string]any{
			"queue": map[string]any{
				"slots": []map[string]any{
					{"nzo_id": "nzo-1", "status": "Downloading", "percentage": "42", "mb": "100"},
				},
			},
		},
	})
	defer srv.Close()

	s := NewSabnzbd(srv.URL, "test-key", "media-bot")
	status, err := s.Status(context.Background(), "nzo-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != StateDownloading {
		t.Errorf("State = %s", status.State)
	}
	if status.Progress != 42 {
		t.Errorf("Progress = %v", status.Progress)
	}
	if status.TotalBytes != 100*1024*1024 {
		t.Errorf("TotalBytes = %d", status.TotalBytes)
	}
}

func TestSabnzbdStatusFromHistory(t *testing.T) {
	srv := sabServer(t, map[string]any{
		"queue": map[string]any{"queue": map[string]any{"slots": []any{}}},
		"history": map[string]any{
			"history": map[string]any{
				"slots": []map[string]any{
					{"nzo_id": "nzo-1", "status": "Completed", "storage": "/complete/show", "bytes": 4096},
					{"nzo_id": "nzo-2", "status": "Failed", "fail_message": "article not found"},
				},
			},
		},
	})
	defer srv.Close()

	s := NewSabnzbd(srv.URL, "test-key", "media-bot")

	status, err := s.Status(context.Background(), "nzo-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != StateCompleted || status.TotalBytes != 4096 {
		t.Errorf("status = %+v", status)
	}

	status, err = s.Status(context.Background(), "nzo-2")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != StateFailed || status.Error != "article not found" {
		t.Errorf("status = %+v", status)
	}

	dir, err := s.CompletedDir(context.Background(), "nzo-1")
	if err != nil {
		t.Fatalf("CompletedDir: %v", err)
	}
	if dir != "/complete/show" {
		t.Errorf("dir = %q", dir)
	}

	if _, err := s.Status(context.Background(), "nzo-unknown"); err == nil {
		t.Error("expected error for unknown nzo_id")
	}
}
