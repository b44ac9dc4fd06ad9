package media

import (
	"encoding/json"
	"fmt"

	"mediabot/internal/avsync"
)

// SyncAnalyzeArgs builds the measurement-oracle invocation for a video and
// audio pair. The tool emits one JSON document on stdout.
func SyncAnalyzeArgs(videoPath, audioPath string) []string {
	return []string{
		"--video", videoPath,
		"--audio", audioPath,
		"--format", "json",
	}
}

// syncPayload mirrors the oracle's JSON output.
type syncPayload struct {
	VideoDurationSec float64 `json:"video_duration_sec"`
	AudioDurationSec float64 `json:"audio_duration_sec"`
	StartSilenceMs   float64 `json:"start_silence_ms"`
	EndSilenceMs     float64 `json:"end_silence_ms"`
	Offsets          struct {
		StartMs  float64 `json:"start_ms"`
		MiddleMs float64 `json:"middle_ms"`
		EndMs    float64 `json:"end_ms"`
	} `json:"offsets"`
	DriftMsPerSec float64              `json:"drift_ms_per_sec"`
	Methods       map[string]float64   `json:"method_start_offsets_ms"`
	Anchors       []avsync.AnchorPoint `json:"anchors"`
	Confidence    float64              `json:"confidence"`
}

// ParseSyncAnalyze decodes oracle stdout into engine measurements.
func ParseSyncAnalyze(stdout []byte) (*avsync.Measurements, error) {
	var payload syncPayload
	if err := json.Unmarshal(stdout, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse sync-analyze output: %w", err)
	}
	if payload.VideoDurationSec <= 0 || payload.AudioDurationSec <= 0 {
		return nil, fmt.Errorf("sync-analyze reported non-positive durations")
	}
	return &avsync.Measurements{
		VideoDurationSec:   payload.VideoDurationSec,
		AudioDurationSec:   payload.AudioDurationSec,
		StartSilenceMs:     payload.StartSilenceMs,
		EndSilenceMs:       payload.EndSilenceMs,
		Anchors:            payload.Anchors,
		StartOffsetMs:      payload.Offsets.StartMs,
		MiddleOffsetMs:     payload.Offsets.MiddleMs,
		EndOffsetMs:        payload.Offsets.EndMs,
		DriftMsPerSec:      payload.DriftMsPerSec,
		MethodStartOffsets: payload.Methods,
		Confidence:         payload.Confidence,
	}, nil
}
