package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error. Codes are stable strings surfaced over
// the API and recorded in the audit log.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindInvalidState    Kind = "invalid_state_transition"
	KindCommand         Kind = "command_execution"
	KindUnsupportedLink Kind = "unsupported_link"
	KindDownloadClient  Kind = "download_client"
	KindSyncRejected    Kind = "sync_rejected"
	KindPackage         Kind = "package_failure"
	KindUpload          Kind = "upload_failure"
	KindCancelled       Kind = "cancelled"
	KindRetryExhausted  Kind = "retry_exhausted"
)

// maxStderr bounds how much subprocess stderr is carried inside an error.
const maxStderr = 1000

// Error is the tagged error variant used across the engine. Details carries
// structured context (command, exit code, client diagnostics).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Code returns the stable code string for the error kind.
func (e *Error) Code() string { return string(e.Kind) }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: cause}
}

// WithDetails attaches structured context and returns the same error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Command builds a CommandExecution error carrying the command, its exit
// code and stderr truncated to 1000 bytes.
func Command(command string, exitCode int, stderr string, cause error) *Error {
	if len(stderr) > maxStderr {
		stderr = stderr[:maxStderr]
	}
	return &Error{
		Kind:    KindCommand,
		Message: fmt.Sprintf("command %q exited with code %d", command, exitCode),
		Details: map[string]any{
			"command":   command,
			"exit_code": exitCode,
			"stderr":    stderr,
		},
		wrapped: cause,
	}
}

// IsKind reports whether err (or anything it wraps) is an engine error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or empty string for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
