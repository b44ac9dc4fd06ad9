package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	sqlInsertDecision = `INSERT INTO sync_decisions
		(id, job_id, decision, offset_ms, stretch_ratio, trim_regions, confidence,
		 start_offset_ms, mid_offset_ms, end_offset_ms, drift_per_sec, anchors, rationale)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectDecision = `SELECT id, job_id, decision, offset_ms, stretch_ratio,
		trim_regions, confidence, start_offset_ms, mid_offset_ms, end_offset_ms,
		drift_per_sec, anchors, rationale
		FROM sync_decisions WHERE job_id = ? ORDER BY rowid DESC LIMIT 1`

	sqlUpsertAsset = `INSERT INTO media_assets
		(job_id, video_path, muxed_path, audio_paths, subtitle_paths, sample_paths, package_dir)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
		 video_path = excluded.video_path,
		 muxed_path = excluded.muxed_path,
		 audio_paths = excluded.audio_paths,
		 subtitle_paths = excluded.subtitle_paths,
		 sample_paths = excluded.sample_paths,
		 package_dir = excluded.package_dir`

	sqlSelectAsset = `SELECT job_id, video_path, muxed_path, audio_paths,
		subtitle_paths, sample_paths, package_dir FROM media_assets WHERE job_id = ?`
)

// SaveSyncDecision persists the engine's decision for a job. A retry may
// record a newer decision; GetSyncDecision returns the latest.
func (s *Store) SaveSyncDecision(ctx context.Context, d *SyncDecision) error {
	regions, err := json.Marshal(d.TrimRegions)
	if err != nil {
		return fmt.Errorf("store: marshaling trim regions: %w", err)
	}
	anchors := d.Anchors
	if anchors == "" {
		anchors = "[]"
	}
	_, err = s.db.ExecContext(ctx, sqlInsertDecision,
		d.ID, d.JobID, d.Decision, d.OffsetMs, d.StretchRatio, string(regions),
		d.Confidence, d.StartOffsetMs, d.MidOffsetMs, d.EndOffsetMs,
		d.DriftPerSec, anchors, d.Rationale)
	if err != nil {
		return fmt.Errorf("store: inserting sync decision for job %s: %w", d.JobID, err)
	}
	return nil
}

// GetSyncDecision returns the job's latest sync decision, or nil.
func (s *Store) GetSyncDecision(ctx context.Context, jobID string) (*SyncDecision, error) {
	row := s.db.QueryRowContext(ctx, sqlSelectDecision, jobID)

	var (
		d       SyncDecision
		regions string
	)
	err := row.Scan(&d.ID, &d.JobID, &d.Decision, &d.OffsetMs, &d.StretchRatio,
		&regions, &d.Confidence, &d.StartOffsetMs, &d.MidOffsetMs, &d.EndOffsetMs,
		&d.DriftPerSec, &d.Anchors, &d.Rationale)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading sync decision for job %s: %w", jobID, err)
	}
	if regions != "" {
		if err := json.Unmarshal([]byte(regions), &d.TrimRegions); err != nil {
			return nil, fmt.Errorf("store: unmarshaling trim regions: %w", err)
		}
	}
	return &d, nil
}

// SaveMediaAsset upserts the job's categorized file set.
func (s *Store) SaveMediaAsset(ctx context.Context, a *MediaAsset) error {
	audio, err := json.Marshal(a.AudioPaths)
	if err != nil {
		return fmt.Errorf("store: marshaling audio paths: %w", err)
	}
	subs, err := json.Marshal(a.SubtitlePaths)
	if err != nil {
		return fmt.Errorf("store: marshaling subtitle paths: %w", err)
	}
	samples, err := json.Marshal(a.SamplePaths)
	if err != nil {
		return fmt.Errorf("store: marshaling sample paths: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqlUpsertAsset,
		a.JobID, a.VideoPath, a.MuxedPath, string(audio), string(subs), string(samples), a.PackageDir)
	if err != nil {
		return fmt.Errorf("store: upserting media asset for job %s: %w", a.JobID, err)
	}
	return nil
}

// GetMediaAsset returns the job's media asset, or nil.
func (s *Store) GetMediaAsset(ctx context.Context, jobID string) (*MediaAsset, error) {
	row := s.db.QueryRowContext(ctx, sqlSelectAsset, jobID)

	var (
		a                    MediaAsset
		audio, subs, samples string
	)
	err := row.Scan(&a.JobID, &a.VideoPath, &a.MuxedPath, &audio, &subs, &samples, &a.PackageDir)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading media asset for job %s: %w", jobID, err)
	}
	for _, col := range []struct {
		raw string
		dst *[]string
	}{{audio, &a.AudioPaths}, {subs, &a.SubtitlePaths}, {samples, &a.SamplePaths}} {
		if col.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return nil, fmt.Errorf("store: unmarshaling media asset paths: %w", err)
		}
	}
	return &a, nil
}
