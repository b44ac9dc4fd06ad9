package media

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"

	"mediabot/internal/errs"
	"mediabot/internal/store"
)

// Runner executes ProcessingSteps as external subprocesses, recording
// stdout, stderr, exit code and duration onto the step row. Binaries are
// exclusive subprocesses, never shared across jobs.
type Runner struct {
	timeout time.Duration
	logger  *slog.Logger
}

func NewRunner(timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{timeout: timeout, logger: logger}
}

// Run executes the step's command, mutating the step in place. The caller
// persists the row. A non-zero exit or timeout returns a CommandExecution
// error; the recorded exit code is the subprocess's verbatim.
func (r *Runner) Run(ctx context.Context, step *store.ProcessingStep) error {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.Info("running processing step",
		"job_id", step.JobID,
		"ordinal", step.Ordinal,
		"type", string(step.Type),
		"command", step.Command)

	cmd := exec.CommandContext(runCtx, step.Command, step.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	step.DurationMs = time.Since(start).Milliseconds()
	step.Stdout = stdout.String()
	step.Stderr = stderr.String()

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		exitCode = -1
	}
	step.ExitCode = &exitCode

	if runErr != nil {
		if ctx.Err() != nil {
			step.Status = store.StepFailed
			step.Error = ctx.Err().Error()
			return errs.Wrap(errs.KindCancelled, ctx.Err(), "step %d cancelled", step.Ordinal)
		}
		cmdErr := errs.Command(step.Command, exitCode, step.Stderr, runErr)
		step.Status = store.StepFailed
		step.Error = cmdErr.Error()
		return cmdErr
	}

	step.Status = store.StepCompleted
	return nil
}
