package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrAcquireTimeout is returned when no handle became available within
	// the acquire timeout.
	ErrAcquireTimeout = errors.New("browser: acquire timed out waiting for a handle")

	// ErrPoolClosed is returned when acquiring from a pool that has been
	// shut down.
	ErrPoolClosed = errors.New("browser: pool is shut down")
)

// CreationError wraps a failure to start the underlying browser resource.
// It is propagated to the caller, never retried by the pool; a partially
// created resource is discarded, not pooled.
type CreationError struct {
	Cause error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("browser: failed to create resource: %v", e.Cause)
}

func (e *CreationError) Unwrap() error {
	return e.Cause
}
