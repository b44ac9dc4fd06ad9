package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const (
	sqlInsertStep = `INSERT INTO processing_steps
		(id, job_id, ordinal, step_type, status, command, args, stdout, stderr,
		 exit_code, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateStep = `UPDATE processing_steps SET status = ?, command = ?, args = ?,
		stdout = ?, stderr = ?, exit_code = ?, duration_ms = ?, error = ?
		WHERE id = ?`

	sqlSelectSteps = `SELECT id, job_id, ordinal, step_type, status, command, args,
		stdout, stderr, exit_code, duration_ms, error
		FROM processing_steps WHERE job_id = ? ORDER BY ordinal`

	sqlNextOrdinal = `SELECT COALESCE(MAX(ordinal), 0) + 1 FROM processing_steps WHERE job_id = ?`
)

// CreateStep persists a step. Ordinal must continue the job's dense 1..N
// sequence; the unique (job_id, ordinal) index rejects duplicates.
func (s *Store) CreateStep(ctx context.Context, step *ProcessingStep) error {
	args, err := json.Marshal(step.Args)
	if err != nil {
		return fmt.Errorf("store: marshaling step args: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqlInsertStep,
		step.ID, step.JobID, step.Ordinal, string(step.Type), string(step.Status),
		step.Command, string(args), step.Stdout, step.Stderr, step.ExitCode,
		step.DurationMs, step.Error)
	if err != nil {
		return fmt.Errorf("store: inserting step %s (job %s ordinal %d): %w",
			step.ID, step.JobID, step.Ordinal, err)
	}
	return nil
}

// UpdateStep rewrites a step's mutable execution fields.
func (s *Store) UpdateStep(ctx context.Context, step *ProcessingStep) error {
	args, err := json.Marshal(step.Args)
	if err != nil {
		return fmt.Errorf("store: marshaling step args: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqlUpdateStep,
		string(step.Status), step.Command, string(args), step.Stdout, step.Stderr,
		step.ExitCode, step.DurationMs, step.Error, step.ID)
	if err != nil {
		return fmt.Errorf("store: updating step %s: %w", step.ID, err)
	}
	return nil
}

// ListSteps returns a job's steps in ordinal order.
func (s *Store) ListSteps(ctx context.Context, jobID string) ([]*ProcessingStep, error) {
	rows, err := s.db.QueryContext(ctx, sqlSelectSteps, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: loading steps for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var steps []*ProcessingStep
	for rows.Next() {
		var (
			step     ProcessingStep
			stepType string
			status   string
			args     string
			exitCode sql.NullInt64
		)
		if err := rows.Scan(&step.ID, &step.JobID, &step.Ordinal, &stepType, &status,
			&step.Command, &args, &step.Stdout, &step.Stderr, &exitCode,
			&step.DurationMs, &step.Error); err != nil {
			return nil, fmt.Errorf("store: scanning step: %w", err)
		}
		step.Type = StepType(stepType)
		step.Status = StepStatus(status)
		if args != "" {
			if err := json.Unmarshal([]byte(args), &step.Args); err != nil {
				return nil, fmt.Errorf("store: unmarshaling step args: %w", err)
			}
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			step.ExitCode = &code
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

// NextStepOrdinal returns the next free ordinal for a job.
func (s *Store) NextStepOrdinal(ctx context.Context, jobID string) (int, error) {
	var ordinal int
	if err := s.db.QueryRowContext(ctx, sqlNextOrdinal, jobID).Scan(&ordinal); err != nil {
		return 0, fmt.Errorf("store: computing next ordinal for job %s: %w", jobID, err)
	}
	return ordinal, nil
}
