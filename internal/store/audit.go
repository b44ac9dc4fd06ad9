package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	sqlInsertAudit = `INSERT INTO audit_log (job_id, level, message, details, created_at)
		VALUES (?, ?, ?, ?, ?)`

	sqlSelectAudit = `SELECT id, job_id, level, message, details, created_at
		FROM audit_log WHERE job_id = ? AND created_at > ?
		ORDER BY created_at, id LIMIT ?`
)

// Audit appends an entry to a job's audit stream. Audit failures are
// logged, not fatal: losing a log line must not fail a stage.
func (s *Store) Audit(ctx context.Context, jobID, level, message string, details map[string]string) {
	raw := "{}"
	if len(details) > 0 {
		if encoded, err := json.Marshal(details); err == nil {
			raw = string(encoded)
		}
	}
	if _, err := s.db.ExecContext(ctx, sqlInsertAudit,
		jobID, level, message, raw, time.Now().UTC()); err != nil {
		s.logger.Error("failed to append audit entry", "job_id", jobID, "error", err)
	}
}

// ListAudit returns up to limit entries for a job after the given cursor
// timestamp, oldest first.
func (s *Store) ListAudit(ctx context.Context, jobID string, after time.Time, limit int) ([]*AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, sqlSelectAudit, jobID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("store: loading audit log for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			e       AuditEntry
			details string
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.Level, &e.Message, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning audit entry: %w", err)
		}
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("store: unmarshaling audit details: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
