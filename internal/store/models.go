package store

import (
	"time"

	"mediabot/internal/fsm"
)

// JobKind selects how far the pipeline carries a job.
type JobKind string

const (
	JobKindDownload     JobKind = "download"
	JobKindAnalyzeOnly  JobKind = "analyze-only"
	JobKindFullPipeline JobKind = "full-pipeline"
)

// Priority orders jobs within the submission queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Job is one user-initiated pipeline attempt for one source link.
type Job struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	Link           string     `json:"link"`
	Kind           JobKind    `json:"kind"`
	Priority       Priority   `json:"priority"`
	State          fsm.State  `json:"state"`
	Progress       float64    `json:"progress"`
	RetryCount     int        `json:"retry_count"`
	Error          string     `json:"error,omitempty"`
	OutputName     string     `json:"output_name,omitempty"`
	ManifestPath   string     `json:"manifest_path,omitempty"`
	UploadTarget   string     `json:"upload_target,omitempty"`
	UploadLocation string     `json:"upload_location,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	TerminalAt     *time.Time `json:"terminal_at,omitempty"`
}

// DownloadStatus is the lifecycle of one Download row.
type DownloadStatus string

const (
	DownloadPending     DownloadStatus = "pending"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadPaused      DownloadStatus = "paused"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadFailed      DownloadStatus = "failed"
	DownloadCancelled   DownloadStatus = "cancelled"
)

// Download records one external transfer owned by a job.
type Download struct {
	ID          string         `json:"id"`
	JobID       string         `json:"job_id"`
	SourceLink  string         `json:"source_link"`
	Kind        string         `json:"kind"`
	ClientName  string         `json:"client_name"`
	Handle      *string        `json:"handle,omitempty"`
	Status      DownloadStatus `json:"status"`
	Progress    float64        `json:"progress"`
	Speed       int64          `json:"speed"`
	ETA         int64          `json:"eta"`
	OutputPath  *string        `json:"output_path,omitempty"`
	TotalBytes  int64          `json:"total_bytes"`
	RetryCount  int            `json:"retry_count"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// StepType identifies one external-command invocation category.
type StepType string

const (
	StepProbe       StepType = "probe"
	StepSyncAnalyze StepType = "sync-analyze"
	StepMux         StepType = "mux"
	StepSampleGen   StepType = "sample-gen"
	StepValidate    StepType = "validate"
)

// StepStatus is the lifecycle of one ProcessingStep.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// ProcessingStep is a persisted record of one external-command invocation.
// Ordinals form a dense 1..N sequence within a job.
type ProcessingStep struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id"`
	Ordinal    int        `json:"ordinal"`
	Type       StepType   `json:"type"`
	Status     StepStatus `json:"status"`
	Command    string     `json:"command,omitempty"`
	Args       []string   `json:"args,omitempty"`
	Stdout     string     `json:"stdout,omitempty"`
	Stderr     string     `json:"stderr,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Error      string     `json:"error,omitempty"`
}

// SyncDecision is the persisted outcome of the sync decision engine.
type SyncDecision struct {
	ID            string    `json:"id"`
	JobID         string    `json:"job_id"`
	Decision      string    `json:"decision"`
	OffsetMs      float64   `json:"offset_ms"`
	StretchRatio  float64   `json:"stretch_ratio"`
	TrimRegions   []float64 `json:"trim_regions,omitempty"`
	Confidence    float64   `json:"confidence"`
	StartOffsetMs float64   `json:"start_offset_ms"`
	MidOffsetMs   float64   `json:"mid_offset_ms"`
	EndOffsetMs   float64   `json:"end_offset_ms"`
	DriftPerSec   float64   `json:"drift_per_sec"`
	Anchors       string    `json:"anchors,omitempty"` // JSON-encoded anchor points
	Rationale     string    `json:"rationale"`
}

// MediaAsset tracks the categorized files a job produced.
type MediaAsset struct {
	JobID         string   `json:"job_id"`
	VideoPath     string   `json:"video_path,omitempty"`
	MuxedPath     string   `json:"muxed_path,omitempty"`
	AudioPaths    []string `json:"audio_paths,omitempty"`
	SubtitlePaths []string `json:"subtitle_paths,omitempty"`
	SamplePaths   []string `json:"sample_paths,omitempty"`
	PackageDir    string   `json:"package_dir,omitempty"`
}

// AuditEntry is one append-only audit log line for a job.
type AuditEntry struct {
	ID        int64             `json:"id"`
	JobID     string            `json:"job_id"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
