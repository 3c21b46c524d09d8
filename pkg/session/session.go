package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is a session's lifecycle state.
type Status string

const (
	// StatusQueued means the session is waiting for admission.
	StatusQueued Status = "queued"

	// StatusRunning means the session holds one of the concurrency slots.
	StatusRunning Status = "running"

	// StatusCompleted means the evaluation finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed means the evaluation or its resource acquisition failed.
	StatusFailed Status = "failed"

	// StatusCancelled means the session was cancelled or queue-timed-out
	// before completing.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a final one.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Config is the caller-supplied description of one evaluation.
type Config struct {
	// TargetURL is the address of the web application under evaluation.
	TargetURL string `yaml:"url" json:"url"`

	// Task describes what the evaluation should verify.
	Task string `yaml:"task" json:"task"`

	// Headless is the caller's requested browser mode. The manager treats
	// it as opaque; pooled resources launch with the pool-wide options.
	Headless bool `yaml:"headless" json:"headless"`

	// Timeout bounds the whole evaluation. Zero means the manager default.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Session is one admitted, tracked evaluation request. All fields are
// mutated only by the manager while holding its lock; callers observe
// sessions through snapshots.
type Session struct {
	id     string
	config Config
	status Status

	resourceHandleID string

	createdAt  time.Time
	admittedAt time.Time
	startedAt  time.Time
	finishedAt time.Time

	err error

	// admitted is closed when the session transitions queued -> running.
	admitted chan struct{}

	// cancelRequested is closed the first time cancellation is requested.
	cancelRequested chan struct{}

	// evalCancel cancels the in-flight evaluation context, if any.
	evalCancel context.CancelFunc

	evalStarted bool
}

func newSession(config Config) *Session {
	return &Session{
		id:              uuid.NewString(),
		config:          config,
		status:          StatusQueued,
		createdAt:       time.Now(),
		admitted:        make(chan struct{}),
		cancelRequested: make(chan struct{}),
	}
}

// Snapshot is a read-only copy of a session's state at one instant.
type Snapshot struct {
	ID               string    `json:"id"`
	Status           Status    `json:"status"`
	Config           Config    `json:"config"`
	ResourceHandleID string    `json:"resource_handle_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	AdmittedAt       time.Time `json:"admitted_at,omitzero"`
	StartedAt        time.Time `json:"started_at,omitzero"`
	FinishedAt       time.Time `json:"finished_at,omitzero"`
	Error            string    `json:"error,omitempty"`
}

// snapshotLocked copies the session state; the manager lock must be held.
func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:               s.id,
		Status:           s.status,
		Config:           s.config,
		ResourceHandleID: s.resourceHandleID,
		CreatedAt:        s.createdAt,
		AdmittedAt:       s.admittedAt,
		StartedAt:        s.startedAt,
		FinishedAt:       s.finishedAt,
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

// Duration returns how long the evaluation ran, or zero if it never started
// or has not finished.
func (s Snapshot) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
