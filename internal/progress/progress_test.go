package progress

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestKeyNamespacing(t *testing.T) {
	if got := key("job-1"); got != "media-bot:progress:job-1" {
		t.Errorf("key = %q", got)
	}
}

func TestRecordJSONShape(t *testing.T) {
	rec := Record{
		JobID:    "job-1",
		Stage:    "download",
		Progress: 32.5,
		Speed:    1 << 20,
		Status:   "running",
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, field := range []string{`"jobId":"job-1"`, `"stage":"download"`, `"progress":32.5`} {
		if !strings.Contains(string(raw), field) {
			t.Errorf("payload %s missing %s", raw, field)
		}
	}
	// Zero-valued optional fields stay off the wire.
	if strings.Contains(string(raw), "downloader") || strings.Contains(string(raw), "error") {
		t.Errorf("payload carries empty optional fields: %s", raw)
	}
}

func TestDisconnectedStoreFails(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	if err := s.Set(ctx, &Record{JobID: "job-1"}); err == nil {
		t.Error("Set on disconnected store should fail")
	}
	if _, err := s.Get(ctx, "job-1"); err == nil {
		t.Error("Get on disconnected store should fail")
	}
	if err := s.Delete(ctx, "job-1"); err == nil {
		t.Error("Delete on disconnected store should fail")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close on disconnected store: %v", err)
	}
}
