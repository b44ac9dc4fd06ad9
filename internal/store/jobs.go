package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mediabot/internal/errs"
	"mediabot/internal/fsm"
)

const (
	sqlInsertJob = `INSERT INTO jobs
		(id, owner_id, link, kind, priority, state, progress, retry_count,
		 error, output_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectJob = `SELECT id, owner_id, link, kind, priority, state, progress,
		retry_count, error, output_name, manifest_path, upload_target,
		upload_location, created_at, updated_at, terminal_at
		FROM jobs WHERE id = ?`

	sqlUpdateJobState = `UPDATE jobs SET state = ?, error = ?, updated_at = ?,
		terminal_at = ? WHERE id = ?`

	sqlUpdateJobProgress = `UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?`

	sqlIncrementJobRetry = `UPDATE jobs SET retry_count = retry_count + 1,
		updated_at = ? WHERE id = ?`

	sqlUpdateJobPackage = `UPDATE jobs SET manifest_path = ?, updated_at = ? WHERE id = ?`

	sqlUpdateJobUpload = `UPDATE jobs SET upload_target = ?, upload_location = ?,
		updated_at = ? WHERE id = ?`

	sqlInsertTransition = `INSERT INTO state_transitions
		(job_id, from_state, to_state, reason, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlSelectTransitions = `SELECT from_state, to_state, reason, metadata, created_at
		FROM state_transitions WHERE job_id = ? ORDER BY id`
)

// CreateJob persists a new job row.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, sqlInsertJob,
		job.ID, job.OwnerID, job.Link, string(job.Kind), string(job.Priority),
		string(job.State), job.Progress, job.RetryCount, job.Error,
		job.OutputName, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: inserting job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads a job by id. Returns a NotFound error when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, sqlSelectJob, id)

	var (
		job        Job
		kind       string
		priority   string
		state      string
		terminalAt sql.NullTime
	)
	err := row.Scan(&job.ID, &job.OwnerID, &job.Link, &kind, &priority, &state,
		&job.Progress, &job.RetryCount, &job.Error, &job.OutputName,
		&job.ManifestPath, &job.UploadTarget, &job.UploadLocation,
		&job.CreatedAt, &job.UpdatedAt, &terminalAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading job %s: %w", id, err)
	}

	job.Kind = JobKind(kind)
	job.Priority = Priority(priority)
	job.State = fsm.State(state)
	if terminalAt.Valid {
		job.TerminalAt = &terminalAt.Time
	}
	return &job, nil
}

// UpdateJobState records the job's current state and error message. When
// terminal is true the terminal timestamp is stamped as well.
func (s *Store) UpdateJobState(ctx context.Context, id string, state fsm.State, errMsg string, terminal bool) error {
	now := time.Now().UTC()
	var terminalAt any
	if terminal {
		terminalAt = now
	}
	res, err := s.db.ExecContext(ctx, sqlUpdateJobState, string(state), errMsg, now, terminalAt, id)
	if err != nil {
		return fmt.Errorf("store: updating job %s state: %w", id, err)
	}
	return requireRow(res, id)
}

// UpdateJobProgress records the job's overall 0-100 progress.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, progress float64) error {
	res, err := s.db.ExecContext(ctx, sqlUpdateJobProgress, progress, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: updating job %s progress: %w", id, err)
	}
	return requireRow(res, id)
}

// IncrementJobRetry bumps the retry counter and returns the new count.
func (s *Store) IncrementJobRetry(ctx context.Context, id string) (int, error) {
	if _, err := s.db.ExecContext(ctx, sqlIncrementJobRetry, time.Now().UTC(), id); err != nil {
		return 0, fmt.Errorf("store: incrementing job %s retries: %w", id, err)
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return 0, err
	}
	return job.RetryCount, nil
}

// SetJobManifest records the packaged manifest path.
func (s *Store) SetJobManifest(ctx context.Context, id, manifestPath string) error {
	res, err := s.db.ExecContext(ctx, sqlUpdateJobPackage, manifestPath, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: updating job %s manifest: %w", id, err)
	}
	return requireRow(res, id)
}

// SetJobUpload records where the package landed.
func (s *Store) SetJobUpload(ctx context.Context, id, target, location string) error {
	res, err := s.db.ExecContext(ctx, sqlUpdateJobUpload, target, location, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: updating job %s upload: %w", id, err)
	}
	return requireRow(res, id)
}

// SaveTransition appends one state transition to the job's durable history.
func (s *Store) SaveTransition(ctx context.Context, jobID string, t *fsm.Transition) error {
	metadata := "{}"
	if len(t.Metadata) > 0 {
		raw, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("store: marshaling transition metadata: %w", err)
		}
		metadata = string(raw)
	}
	_, err := s.db.ExecContext(ctx, sqlInsertTransition,
		jobID, string(t.From), string(t.To), t.Reason, metadata, t.Timestamp)
	if err != nil {
		return fmt.Errorf("store: inserting transition for job %s: %w", jobID, err)
	}
	return nil
}

// LoadTransitions returns the job's transition history in append order,
// ready to rebuild its state machine.
func (s *Store) LoadTransitions(ctx context.Context, jobID string) ([]fsm.Transition, error) {
	rows, err := s.db.QueryContext(ctx, sqlSelectTransitions, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: loading transitions for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var history []fsm.Transition
	for rows.Next() {
		var (
			t        fsm.Transition
			from, to string
			metadata string
		)
		if err := rows.Scan(&from, &to, &t.Reason, &metadata, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scanning transition: %w", err)
		}
		t.From = fsm.State(from)
		t.To = fsm.State(to)
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
				return nil, fmt.Errorf("store: unmarshaling transition metadata: %w", err)
			}
		}
		history = append(history, t)
	}
	return history, rows.Err()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.New(errs.KindNotFound, "job %s not found", id)
	}
	return nil
}
