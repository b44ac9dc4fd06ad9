package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mediabot/internal/errs"
	"mediabot/internal/fsm"
	"mediabot/internal/progress"
	"mediabot/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	jobs    map[string]*store.Job
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[string]*store.Job{}}
}

func (f *fakeStore) CreateJob(ctx context.Context, job *store.Job) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeStore) GetJob(ctx context.Context, id string) (*store.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "job %s not found", id)
	}
	return job, nil
}

func (f *fakeStore) ListDownloads(ctx context.Context, jobID string) ([]*store.Download, error) {
	return []*store.Download{{ID: "dl-1", JobID: jobID, Status: store.DownloadCompleted}}, nil
}

func (f *fakeStore) ListSteps(ctx context.Context, jobID string) ([]*store.ProcessingStep, error) {
	return nil, nil
}

func (f *fakeStore) ListAudit(ctx context.Context, jobID string, after time.Time, limit int) ([]*store.AuditEntry, error) {
	return []*store.AuditEntry{{JobID: jobID, Level: "info", Message: "job submitted"}}, nil
}

func (f *fakeStore) Audit(ctx context.Context, jobID, level, message string, details map[string]string) {
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

type fakeQueue struct {
	enqueued []string
	pingErr  error
}

func (f *fakeQueue) Enqueue(ctx context.Context, jobID string, priority store.Priority) error {
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

func (f *fakeQueue) Depth(ctx context.Context) (int64, error) { return int64(len(f.enqueued)), nil }

func (f *fakeQueue) Ping(ctx context.Context) error { return f.pingErr }

type fakePipeline struct {
	retryJob  *store.Job
	retryErr  error
	cancelErr error
	health    map[string]bool
}

func (f *fakePipeline) Retry(ctx context.Context, jobID string) (*store.Job, error) {
	return f.retryJob, f.retryErr
}

func (f *fakePipeline) Cancel(ctx context.Context, jobID string) error { return f.cancelErr }

func (f *fakePipeline) HealthCheck(ctx context.Context) map[string]bool { return f.health }

type fakeProgress struct{}

func (f *fakeProgress) Get(ctx context.Context, jobID string) (*progress.Record, error) {
	return &progress.Record{JobID: jobID, Stage: string(fsm.StateDownloading), Progress: 20, Status: "running"}, nil
}

func newTestRouter(deps Deps) *gin.Engine {
	r := gin.New()
	SetupRoutes(r, deps)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitJobAccepted(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	r := newTestRouter(Deps{Store: st, Queue: q})

	w := doJSON(t, r, http.MethodPost, "/api/v1/jobs", SubmitJobRequest{
		Link:     "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567",
		Priority: "high",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp SubmitJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "magnet", resp.LinkKind)
	require.NotNil(t, resp.Job)
	assert.Equal(t, store.JobKindFullPipeline, resp.Job.Kind)
	assert.Equal(t, store.PriorityHigh, resp.Job.Priority)
	assert.Equal(t, fsm.StatePending, resp.Job.State)

	require.Len(t, q.enqueued, 1)
	assert.Equal(t, resp.Job.ID, q.enqueued[0])
	assert.Contains(t, st.jobs, resp.Job.ID)
}

func TestSubmitJobUnrecognizedLink(t *testing.T) {
	r := newTestRouter(Deps{Store: newFakeStore(), Queue: &fakeQueue{}})

	w := doJSON(t, r, http.MethodPost, "/api/v1/jobs", SubmitJobRequest{Link: "not a link"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(errs.KindUnsupportedLink))
}

func TestSubmitJobUnroutableLink(t *testing.T) {
	r := newTestRouter(Deps{Store: newFakeStore(), Queue: &fakeQueue{}})

	w := doJSON(t, r, http.MethodPost, "/api/v1/jobs", SubmitJobRequest{Link: "ftp://files.example.com/show.mkv"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(errs.KindUnsupportedLink))
}

func TestSubmitJobValidation(t *testing.T) {
	r := newTestRouter(Deps{Store: newFakeStore(), Queue: &fakeQueue{}})

	// Missing link.
	w := doJSON(t, r, http.MethodPost, "/api/v1/jobs", map[string]string{"kind": "download"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown kind.
	w = doJSON(t, r, http.MethodPost, "/api/v1/jobs", SubmitJobRequest{
		Link: "https://example.com/show.mkv",
		Kind: "transcode",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown job kind")

	// Unknown priority.
	w = doJSON(t, r, http.MethodPost, "/api/v1/jobs", SubmitJobRequest{
		Link:     "https://example.com/show.mkv",
		Priority: "urgent",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown priority")
}

func TestGetJob(t *testing.T) {
	st := newFakeStore()
	st.jobs["job-1"] = &store.Job{ID: "job-1", State: fsm.StateDownloading}
	r := newTestRouter(Deps{Store: st, Queue: &fakeQueue{}, Progress: &fakeProgress{}})

	w := doJSON(t, r, http.MethodGet, "/api/v1/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp GetJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.Job.ID)
	require.NotNil(t, resp.Progress)
	assert.Equal(t, float64(20), resp.Progress.Progress)
	require.Len(t, resp.Downloads, 1)
}

func TestGetJobNotFound(t *testing.T) {
	r := newTestRouter(Deps{Store: newFakeStore(), Queue: &fakeQueue{}})

	w := doJSON(t, r, http.MethodGet, "/api/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), string(errs.KindNotFound))
}

func TestRetryJobReenqueues(t *testing.T) {
	q := &fakeQueue{}
	pipeline := &fakePipeline{
		retryJob: &store.Job{ID: "job-1", Priority: store.PriorityHigh, State: fsm.StatePending},
	}
	r := newTestRouter(Deps{Store: newFakeStore(), Queue: q, Pipeline: pipeline})

	w := doJSON(t, r, http.MethodPost, "/api/v1/jobs/job-1/retry", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, "job-1", q.enqueued[0])
}

func TestRetryJobConflicts(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not retryable", errs.New(errs.KindInvalidState, "job job-1 is in state DOWNLOADING"), http.StatusConflict},
		{"exhausted", errs.New(errs.KindRetryExhausted, "job job-1 exceeded retry budget"), http.StatusConflict},
		{"missing", errs.New(errs.KindNotFound, "job job-1 not found"), http.StatusNotFound},
		{"internal", errors.New("database locked"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(Deps{Store: newFakeStore(), Queue: &fakeQueue{}, Pipeline: &fakePipeline{retryErr: tt.err}})
			w := doJSON(t, r, http.MethodPost, "/api/v1/jobs/job-1/retry", nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestCancelJob(t *testing.T) {
	r := newTestRouter(Deps{Store: newFakeStore(), Queue: &fakeQueue{}, Pipeline: &fakePipeline{}})

	w := doJSON(t, r, http.MethodDelete, "/api/v1/jobs/job-1", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "cancelling")
}

func TestJobLogs(t *testing.T) {
	st := newFakeStore()
	st.jobs["job-1"] = &store.Job{ID: "job-1"}
	r := newTestRouter(Deps{Store: st, Queue: &fakeQueue{}})

	w := doJSON(t, r, http.MethodGet, "/api/v1/jobs/job-1/logs?limit=10&after=2026-08-24T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp JobLogsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "job submitted", resp.Entries[0].Message)
}

func TestJobLogsBadParams(t *testing.T) {
	st := newFakeStore()
	st.jobs["job-1"] = &store.Job{ID: "job-1"}
	r := newTestRouter(Deps{Store: st, Queue: &fakeQueue{}})

	w := doJSON(t, r, http.MethodGet, "/api/v1/jobs/job-1/logs?limit=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/jobs/job-1/logs?after=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRootReportsTimestamp(t *testing.T) {
	r := newTestRouter(Deps{Store: newFakeStore(), Queue: &fakeQueue{}})

	w := doJSON(t, r, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	_, err := time.Parse(time.RFC3339, resp["timestamp"])
	assert.NoError(t, err)
}

func TestReadyStates(t *testing.T) {
	tests := []struct {
		name       string
		storeErr   error
		queueErr   error
		clients    map[string]bool
		wantCode   int
		wantStatus string
	}{
		{"healthy", nil, nil, map[string]bool{"torrent": true}, http.StatusOK, "healthy"},
		{"degraded", nil, nil, map[string]bool{"torrent": false}, http.StatusOK, "degraded"},
		{"store down", errors.New("locked"), nil, nil, http.StatusServiceUnavailable, "unhealthy"},
		{"queue down", nil, errors.New("refused"), nil, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFakeStore()
			st.pingErr = tt.storeErr
			r := newTestRouter(Deps{
				Store:    st,
				Queue:    &fakeQueue{pingErr: tt.queueErr},
				Pipeline: &fakePipeline{health: tt.clients},
			})
			w := doJSON(t, r, http.MethodGet, "/ready", nil)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantStatus)
		})
	}
}
