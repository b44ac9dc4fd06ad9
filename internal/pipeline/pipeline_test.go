package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediabot/internal/config"
	"mediabot/internal/errs"
	"mediabot/internal/fsm"
	"mediabot/internal/packager"
	"mediabot/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestDriver(t *testing.T) (*Driver, *store.Store) {
	t.Helper()
	st := openTestStore(t)
	return NewDriver(st, nil, nil, nil, nil, nil, nil, nil, nil), st
}

func createJob(t *testing.T, st *store.Store, state fsm.State) *store.Job {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	job := &store.Job{
		ID:        uuid.NewString(),
		Link:      "https://example.com/show.mkv",
		Kind:      store.JobKindFullPipeline,
		Priority:  store.PriorityNormal,
		State:     fsm.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.CreateJob(ctx, job))
	if state != fsm.StatePending {
		require.NoError(t, st.UpdateJobState(ctx, job.ID, state, "", false))
		job.State = state
	}
	return job
}

func TestRetryFailedJob(t *testing.T) {
	d, st := newTestDriver(t)
	ctx := context.Background()
	job := createJob(t, st, fsm.StateFailed)

	got, err := d.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, fsm.StatePending, got.State)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.Error)

	persisted, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, fsm.StatePending, persisted.State)

	history, err := st.LoadTransitions(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, fsm.StatePending, last.To)
	assert.Equal(t, "retry", last.Reason)
}

func TestRetryRunningJobRefused(t *testing.T) {
	d, st := newTestDriver(t)
	job := createJob(t, st, fsm.StateDownloading)

	_, err := d.Retry(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInvalidState))
}

func TestRetryExhaustsBudget(t *testing.T) {
	d, st := newTestDriver(t)
	ctx := context.Background()
	job := createJob(t, st, fsm.StateFailed)

	for i := 0; i < config.MaxRetries; i++ {
		got, err := d.Retry(ctx, job.ID)
		require.NoError(t, err)
		require.NoError(t, st.UpdateJobState(ctx, job.ID, fsm.StateFailed, "boom", true))
		assert.Equal(t, i+1, got.RetryCount)
	}

	_, err := d.Retry(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindRetryExhausted))

	// The refused retry never spends budget past the cap.
	persisted, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, config.MaxRetries, persisted.RetryCount)
	assert.Equal(t, fsm.StateFailed, persisted.State)
}

func TestRetryExhaustedCancelledJobParksFailed(t *testing.T) {
	d, st := newTestDriver(t)
	ctx := context.Background()
	job := createJob(t, st, fsm.StateCancelled)

	for i := 0; i < config.MaxRetries; i++ {
		_, err := d.Retry(ctx, job.ID)
		require.NoError(t, err)
		require.NoError(t, st.UpdateJobState(ctx, job.ID, fsm.StateCancelled, "", false))
	}

	_, err := d.Retry(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindRetryExhausted))

	persisted, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, fsm.StateFailed, persisted.State)
	assert.Equal(t, config.MaxRetries, persisted.RetryCount)
	assert.NotNil(t, persisted.TerminalAt)

	history, err := st.LoadTransitions(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, fsm.StateFailed, last.To)
	assert.Equal(t, "retry-exhausted", last.Reason)
}

func TestCancelIdleJob(t *testing.T) {
	d, st := newTestDriver(t)
	ctx := context.Background()
	job := createJob(t, st, fsm.StatePending)

	require.NoError(t, d.Cancel(ctx, job.ID))

	persisted, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, fsm.StateCancelled, persisted.State)
	assert.Nil(t, persisted.TerminalAt)
}

func TestCancelMissingJob(t *testing.T) {
	d, _ := newTestDriver(t)
	err := d.Cancel(context.Background(), "missing")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestStageBaseCoversPipelineStates(t *testing.T) {
	assert.Equal(t, float64(0), stageBase[fsm.StateDownloading])
	assert.Equal(t, float64(40), stageBase[fsm.StateAnalyzing])
	assert.Equal(t, float64(100), stageBase[fsm.StateDone])

	// Resting states never report a progress base.
	_, ok := stageBase[fsm.StateFailed]
	assert.False(t, ok)
	_, ok = stageBase[fsm.StateCancelled]
	assert.False(t, ok)
}

func TestStageName(t *testing.T) {
	assert.Equal(t, "download", stageName(fsm.StateDownloading))
	assert.Equal(t, "upload", stageName(fsm.StatePackaged))
	assert.Equal(t, "finalize", stageName(fsm.StateUploaded))
	assert.Equal(t, string(fsm.StatePending), stageName(fsm.StatePending))
}

func writeSized(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestClassifyFilesPicksLargestVideo(t *testing.T) {
	dir := t.TempDir()
	small := writeSized(t, dir, "sample.mkv", 100)
	big := writeSized(t, dir, "show.mkv", 10_000)
	audio := writeSized(t, dir, "show.eng.mka", 500)
	sub := writeSized(t, dir, "show.srt", 10)
	junk := writeSized(t, dir, "readme.txt", 5)

	asset := classifyFiles("job-1", []string{small, big, audio, sub, junk})
	assert.Equal(t, big, asset.VideoPath)
	assert.Equal(t, []string{audio}, asset.AudioPaths)
	assert.Equal(t, []string{sub}, asset.SubtitlePaths)
}

func TestClassifyFilesAudioOnly(t *testing.T) {
	dir := t.TempDir()
	audio := writeSized(t, dir, "episode.flac", 1000)
	junk := writeSized(t, dir, "cover.jpg", 100)

	// With audio present the uncategorized file never becomes the primary.
	asset := classifyFiles("job-1", []string{audio, junk})
	assert.Empty(t, asset.VideoPath)
	assert.Equal(t, []string{audio}, asset.AudioPaths)
}

func TestClassifyFilesFallsBackToLargestUnknown(t *testing.T) {
	dir := t.TempDir()
	small := writeSized(t, dir, "a.bin", 10)
	big := writeSized(t, dir, "b.iso", 10_000)

	asset := classifyFiles("job-1", []string{small, big})
	assert.Equal(t, big, asset.VideoPath)
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()
	want := &packager.Manifest{
		JobID:     "job-1",
		TotalSize: 42,
		Files: []packager.ManifestFile{
			{Filename: "show.mkv", Size: 42, Type: packager.TypeVideo},
		},
	}
	raw, err := json.Marshal(want)
	require.NoError(t, err)
	path := filepath.Join(dir, packager.ManifestName)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	got, err := readManifest(path)
	require.NoError(t, err)
	assert.Equal(t, want.JobID, got.JobID)
	require.Len(t, got.Files, 1)
	assert.Equal(t, packager.TypeVideo, got.Files[0].Type)

	_, err = readManifest(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
