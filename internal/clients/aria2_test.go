package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// aria2Server answers JSON-RPC calls with canned results keyed by method.
func aria2Server(t *testing.T, secret string, results map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req aria2Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad rpc request: %v", err)
		}
		if secret != "" {
			if len(req.Params) == 0 || req.Params[0] != "token:"+secret {
				t.Errorf("missing rpc token in %v", req.Params)
			}
		}
		result, ok := results[req.Method]
		if !ok {
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": 1, "message": "unknown method " + req.Method},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"result": result})
	}))
}

func TestAria2Add(t *testing.T) {
	srv := aria2Server(t, "s3cret", map[string]any{"aria2.addUri": "gid-42"})
	defer srv.Close()

	a := NewAria2(srv.URL, "s3cret")
	gid, err := a.Add(context.Background(), "https://example.com/show.mkv", "/downloads", "job-1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if gid != "gid-42" {
		t.Errorf("gid = %q", gid)
	}
}

func TestAria2StatusActive(t *testing.T) {
	srv := aria2Server(t, "", map[string]any{
		"aria2.tellStatus": map[string]any{
			"status":          "active",
			"totalLength":     "1000",
			"completedLength": "250",
			"downloadSpeed":   "50",
		},
	})
	defer srv.Close()

	a := NewAria2(srv.URL, "")
	status, err := a.Status(context.Background(), "gid-42")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != StateDownloading {
		t.Errorf("State = %s", status.State)
	}
	if status.Progress != 25 {
		t.Errorf("Progress = %v", status.Progress)
	}
	if status.ETASeconds != 15 {
		t.Errorf("ETASeconds = %d", status.ETASeconds)
	}
	if status.TotalBytes != 1000 {
		t.Errorf("TotalBytes = %d", status.TotalBytes)
	}
}

func TestAria2StatusComplete(t *testing.T) {
	srv := aria2Server(t, "", map[string]any{
		"aria2.tellStatus": map[string]any{
			"status":      "complete",
			"totalLength": "1000",
		},
	})
	defer srv.Close()

	a := NewAria2(srv.URL, "")
	status, err := a.Status(context.Background(), "gid-42")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != StateCompleted || status.Progress != 100 {
		t.Errorf("status = %+v", status)
	}
}

func TestAria2Files(t *testing.T) {
	srv := aria2Server(t, "", map[string]any{
		"aria2.tellStatus": map[string]any{
			"status": "complete",
			"files": []map[string]string{
				{"path": "/downloads/show.mkv"},
				{"path": ""},
			},
		},
	})
	defer srv.Close()

	a := NewAria2(srv.URL, "")
	files, err := a.Files(context.Background(), "gid-42")
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 1 || files[0] != "/downloads/show.mkv" {
		t.Errorf("files = %v", files)
	}
}

func TestAria2RPCError(t *testing.T) {
	srv := aria2Server(t, "", map[string]any{})
	defer srv.Close()

	a := NewAria2(srv.URL, "")
	if _, err := a.Add(context.Background(), "https://example.com/x", "/downloads", "job-1"); err == nil {
		t.Error("expected rpc error")
	}
	if err := a.Health(context.Background()); err == nil {
		t.Error("expected health failure")
	}
}
