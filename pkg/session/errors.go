package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session id is unknown or has been
	// evicted from retention.
	ErrNotFound = errors.New("session: not found")

	// ErrManagerClosed is returned when starting a session after Shutdown.
	ErrManagerClosed = errors.New("session: manager is shut down")

	// ErrResourceExhausted is returned when the pool could not supply a
	// handle within the acquire timeout.
	ErrResourceExhausted = errors.New("session: browser pool exhausted")

	// ErrQueueTimeout is returned when a session waited in the admission
	// queue longer than the configured queue timeout. The session ends
	// cancelled, not failed: it never got a chance to run.
	ErrQueueTimeout = errors.New("session: timed out waiting for admission")

	// ErrCancelled is returned when a session was cancelled before or
	// during its evaluation.
	ErrCancelled = errors.New("session: cancelled")

	// ErrEvaluationTimeout is returned when the evaluation exceeded the
	// session's timeout and did not unwind within the grace period.
	ErrEvaluationTimeout = errors.New("session: evaluation timed out")
)

// ValidationError reports a malformed session config. It is surfaced
// synchronously by StartSession; no session is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("session: invalid config: %s %s", e.Field, e.Reason)
}

// EvaluationError wraps a failure returned by the evaluation function.
type EvaluationError struct {
	Cause error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("session: evaluation failed: %v", e.Cause)
}

func (e *EvaluationError) Unwrap() error {
	return e.Cause
}

// ResourceCorruptionError signals that the evaluation failed in a way that
// leaves the browser resource unusable (process crash, protocol error). The
// manager releases the handle unhealthy so the pool destroys it instead of
// reusing it.
type ResourceCorruptionError struct {
	Cause error
}

func (e *ResourceCorruptionError) Error() string {
	return fmt.Sprintf("session: browser resource corrupted: %v", e.Cause)
}

func (e *ResourceCorruptionError) Unwrap() error {
	return e.Cause
}

// MarkCorrupted wraps err so the manager treats the session's browser
// resource as corrupted. Evaluation functions use it when they observe a
// crash rather than an ordinary failure.
func MarkCorrupted(err error) error {
	return &ResourceCorruptionError{Cause: err}
}

// IsCorruption reports whether err indicates resource corruption.
func IsCorruption(err error) bool {
	var ce *ResourceCorruptionError
	return errors.As(err, &ce)
}
