package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	sqlInsertDownload = `INSERT INTO downloads
		(id, job_id, source_link, kind, client_name, handle, status, progress,
		 speed, eta, output_path, total_bytes, retry_count, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateDownload = `UPDATE downloads SET handle = ?, status = ?, progress = ?,
		speed = ?, eta = ?, output_path = ?, total_bytes = ?, error = ?,
		started_at = ?, completed_at = ? WHERE id = ?`

	sqlSelectDownloads = `SELECT id, job_id, source_link, kind, client_name, handle,
		status, progress, speed, eta, output_path, total_bytes, retry_count,
		error, started_at, completed_at
		FROM downloads WHERE job_id = ? ORDER BY started_at`
)

// CreateDownload persists a new download row for a job.
func (s *Store) CreateDownload(ctx context.Context, d *Download) error {
	_, err := s.db.ExecContext(ctx, sqlInsertDownload,
		d.ID, d.JobID, d.SourceLink, d.Kind, d.ClientName, d.Handle,
		string(d.Status), d.Progress, d.Speed, d.ETA, d.OutputPath,
		d.TotalBytes, d.RetryCount, d.Error, d.StartedAt, d.CompletedAt)
	if err != nil {
		return fmt.Errorf("store: inserting download %s: %w", d.ID, err)
	}
	return nil
}

// UpdateDownload rewrites the mutable fields of a download row.
func (s *Store) UpdateDownload(ctx context.Context, d *Download) error {
	_, err := s.db.ExecContext(ctx, sqlUpdateDownload,
		d.Handle, string(d.Status), d.Progress, d.Speed, d.ETA, d.OutputPath,
		d.TotalBytes, d.Error, d.StartedAt, d.CompletedAt, d.ID)
	if err != nil {
		return fmt.Errorf("store: updating download %s: %w", d.ID, err)
	}
	return nil
}

// ListDownloads returns a job's downloads.
func (s *Store) ListDownloads(ctx context.Context, jobID string) ([]*Download, error) {
	rows, err := s.db.QueryContext(ctx, sqlSelectDownloads, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: loading downloads for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var downloads []*Download
	for rows.Next() {
		var (
			d           Download
			status      string
			handle      sql.NullString
			outputPath  sql.NullString
			startedAt   sql.NullTime
			completedAt sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.JobID, &d.SourceLink, &d.Kind, &d.ClientName,
			&handle, &status, &d.Progress, &d.Speed, &d.ETA, &outputPath,
			&d.TotalBytes, &d.RetryCount, &d.Error, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("store: scanning download: %w", err)
		}
		d.Status = DownloadStatus(status)
		if handle.Valid {
			d.Handle = &handle.String
		}
		if outputPath.Valid {
			d.OutputPath = &outputPath.String
		}
		if startedAt.Valid {
			t := startedAt.Time
			d.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			d.CompletedAt = &t
		}
		downloads = append(downloads, &d)
	}
	return downloads, rows.Err()
}

// MarkDownloadCompleted finalizes a download: completed status implies the
// output path and total bytes are set and progress is 100.
func (s *Store) MarkDownloadCompleted(ctx context.Context, d *Download, outputPath string, totalBytes int64) error {
	now := time.Now().UTC()
	d.Status = DownloadCompleted
	d.Progress = 100
	d.OutputPath = &outputPath
	d.TotalBytes = totalBytes
	d.CompletedAt = &now
	return s.UpdateDownload(ctx, d)
}
