// Package session provides the caller-facing concurrency gate for web
// evaluations: admission control up to a configured ceiling, FIFO queueing,
// per-session lifecycle tracking, and guaranteed release of pooled browser
// resources on every exit path.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Zeeeepa/web-eval-agent/pkg/browser"
)

// EvalFunc is the external evaluation collaborator. It receives an acquired
// browser handle and the session's config, and must observe ctx promptly:
// cancellation is cooperative, not forcible preemption. The returned payload
// is opaque to the manager. Wrap errors with MarkCorrupted when the browser
// resource itself crashed.
type EvalFunc func(ctx context.Context, handle *browser.Handle, config Config) (any, error)

// Options configures a Manager.
type Options struct {
	// MaxConcurrent is the admission ceiling: the maximum number of
	// sessions in running state at once. Defaults to 5.
	MaxConcurrent int

	// QueueTimeout bounds how long a session may wait for admission.
	// Zero means an unbounded wait.
	QueueTimeout time.Duration

	// CancelGrace is how long a signalled evaluation gets to unwind before
	// the manager force-releases its handle as unhealthy. Defaults to 10s.
	CancelGrace time.Duration

	// Retention is how long terminal sessions stay queryable before being
	// pruned. Defaults to 1h.
	Retention time.Duration

	// DefaultTimeout applies to sessions whose config omits one.
	// Defaults to 5m.
	DefaultTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 5
	}
	if o.CancelGrace <= 0 {
		o.CancelGrace = 10 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 5 * time.Minute
	}
	return o
}

// Manager is the single entry point for running evaluations. It enforces
// the global concurrency ceiling, owns every Session record, and guarantees
// that borrowed pool handles are released on every exit path.
type Manager struct {
	opts   Options
	pool   *browser.Pool
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	queue    []*Session
	running  int
	closed   bool
}

// NewManager creates a manager on top of the given pool.
func NewManager(pool *browser.Pool, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:     opts.withDefaults(),
		pool:     pool,
		logger:   logger.With("component", "session-manager"),
		sessions: make(map[string]*Session),
	}
}

// StartSession validates the config, creates a session, and either admits
// it immediately or enqueues it FIFO. The session id is returned right away
// in both cases; the queued/running transition is observable via
// GetSessionStatus.
func (m *Manager) StartSession(config Config) (string, error) {
	if err := validateConfig(config); err != nil {
		return "", err
	}
	if config.Timeout <= 0 {
		config.Timeout = m.opts.DefaultTimeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrManagerClosed
	}

	m.pruneLocked(time.Now())

	s := newSession(config)
	m.sessions[s.id] = s

	if m.running < m.opts.MaxConcurrent {
		m.admitLocked(s)
	} else {
		m.queue = append(m.queue, s)
		m.logger.Debug("session queued", "session", s.id, "queue_len", len(m.queue))
	}

	return s.id, nil
}

// RunEvaluation waits for the session's admission, acquires a browser
// handle, invokes fn with it, and releases the handle before the session
// reaches its terminal state — on normal return, error, panic, timeout, and
// cancellation alike. If acquisition itself times out the session fails
// with ErrResourceExhausted and fn is never invoked.
func (m *Manager) RunEvaluation(ctx context.Context, id string, fn EvalFunc) (any, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if s.status.Terminal() {
		err := s.err
		m.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("session %s already finished", id)
		}
		return nil, err
	}
	m.mu.Unlock()

	if err := m.awaitAdmission(ctx, s); err != nil {
		return nil, err
	}

	return m.runAdmitted(ctx, s, fn)
}

// awaitAdmission blocks until the session is admitted, cancelled, or the
// queue timeout elapses.
func (m *Manager) awaitAdmission(ctx context.Context, s *Session) error {
	var queueTimeout <-chan time.Time
	if m.opts.QueueTimeout > 0 {
		t := time.NewTimer(m.opts.QueueTimeout)
		defer t.Stop()
		queueTimeout = t.C
	}

	select {
	case <-s.admitted:
		return nil
	case <-s.cancelRequested:
		return ErrCancelled
	case <-queueTimeout:
		if m.finalizeQueued(s, StatusCancelled, ErrQueueTimeout) {
			return ErrQueueTimeout
		}
		// Admitted concurrently with the timeout firing; proceed.
		return nil
	case <-ctx.Done():
		if m.finalizeQueued(s, StatusCancelled, ctx.Err()) {
			return ctx.Err()
		}
		return nil
	}
}

// runAdmitted drives the evaluation for a session that holds a running slot.
func (m *Manager) runAdmitted(ctx context.Context, s *Session, fn EvalFunc) (any, error) {
	m.mu.Lock()
	if s.status.Terminal() {
		// Cancelled between admission and the evaluation starting.
		err := s.err
		m.mu.Unlock()
		if err == nil {
			err = ErrCancelled
		}
		return nil, err
	}
	if s.evalStarted {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s already has an evaluation in flight", s.id)
	}
	s.evalStarted = true
	timeout := s.config.Timeout
	m.mu.Unlock()

	acquireCtx, cancelAcquire := context.WithTimeout(ctx, timeout)
	handle, err := m.pool.Acquire(acquireCtx)
	cancelAcquire()
	if err != nil {
		return nil, m.failAcquire(s, err)
	}

	evalCtx, cancelEval := context.WithCancel(ctx)
	defer cancelEval()

	m.mu.Lock()
	s.resourceHandleID = handle.ID()
	s.startedAt = time.Now()
	s.evalCancel = cancelEval
	m.mu.Unlock()

	m.logger.Info("evaluation started",
		"session", s.id, "handle", handle.ID(), "url", s.config.TargetURL)

	type outcome struct {
		payload any
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("evaluation panicked: %v", r)}
			}
		}()
		payload, evalErr := fn(evalCtx, handle, s.config)
		done <- outcome{payload: payload, err: evalErr}
	}()

	// The handle must be released exactly once, whichever path wins.
	var releaseOnce sync.Once
	release := func(unhealthy bool) {
		releaseOnce.Do(func() {
			m.pool.Release(handle, unhealthy)
		})
	}

	evalTimer := time.NewTimer(timeout)
	defer evalTimer.Stop()

	var grace <-chan time.Time
	cancelled := false
	timedOut := false
	cancelCh := s.cancelRequested

	for {
		select {
		case out := <-done:
			release(IsCorruption(out.err))
			return m.finishEvaluation(s, out.payload, out.err, cancelled, timedOut)

		case <-evalTimer.C:
			// Signal and wait up to the grace period for fn to unwind.
			timedOut = true
			cancelEval()
			if grace == nil {
				grace = time.After(m.opts.CancelGrace)
			}

		case <-cancelCh:
			cancelled = true
			cancelEval()
			if grace == nil {
				grace = time.After(m.opts.CancelGrace)
			}
			cancelCh = nil

		case <-grace:
			// The evaluation ignored the signal. Assume the resource is
			// corrupted rather than risk reusing it.
			release(true)
			if cancelled && !timedOut {
				m.finalizeRunning(s, StatusCancelled, ErrCancelled)
				return nil, ErrCancelled
			}
			m.finalizeRunning(s, StatusFailed, ErrEvaluationTimeout)
			return nil, ErrEvaluationTimeout
		}
	}
}

// finishEvaluation maps an evaluation outcome to the session's terminal
// state. The handle has already been released.
func (m *Manager) finishEvaluation(s *Session, payload any, evalErr error, cancelled, timedOut bool) (any, error) {
	switch {
	case cancelled:
		m.finalizeRunning(s, StatusCancelled, ErrCancelled)
		return payload, ErrCancelled
	case timedOut:
		m.finalizeRunning(s, StatusFailed, ErrEvaluationTimeout)
		return payload, ErrEvaluationTimeout
	case evalErr != nil:
		wrapped := &EvaluationError{Cause: evalErr}
		m.finalizeRunning(s, StatusFailed, wrapped)
		return payload, wrapped
	default:
		m.finalizeRunning(s, StatusCompleted, nil)
		return payload, nil
	}
}

// failAcquire records a resource acquisition failure as the session's
// terminal state. The evaluation function is never invoked.
func (m *Manager) failAcquire(s *Session, acquireErr error) error {
	var err error
	switch {
	case errors.Is(acquireErr, browser.ErrAcquireTimeout),
		errors.Is(acquireErr, context.DeadlineExceeded):
		err = fmt.Errorf("%w: %v", ErrResourceExhausted, acquireErr)
	default:
		err = fmt.Errorf("session: acquiring browser resource: %w", acquireErr)
	}
	m.finalizeRunning(s, StatusFailed, err)
	return err
}

// GetSessionStatus returns a read-only snapshot of the session.
func (m *Manager) GetSessionStatus(id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s.snapshotLocked(), nil
}

// CancelSession requests cancellation. Queued sessions are removed from the
// queue without ever acquiring a resource; running sessions are signalled
// cooperatively and still go through the mandatory handle release.
// Cancelling an already-terminal session is a no-op.
func (m *Manager) CancelSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}

	if s.status.Terminal() {
		return nil
	}

	m.requestCancelLocked(s)

	switch {
	case s.status == StatusQueued:
		m.removeFromQueueLocked(s)
		m.finalizeLocked(s, StatusCancelled, ErrCancelled)
	case s.status == StatusRunning && !s.evalStarted:
		// Admitted but no evaluation in flight: nothing to wait for.
		m.finalizeLocked(s, StatusCancelled, ErrCancelled)
	default:
		// Running with an evaluation in flight; RunEvaluation observes
		// the signal and finalizes after the handle comes back.
		if s.evalCancel != nil {
			s.evalCancel()
		}
	}

	return nil
}

// Metrics returns a snapshot of manager and pool state.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	m.pruneLocked(time.Now())

	metrics := Metrics{
		MaxConcurrent: m.opts.MaxConcurrent,
		Queued:        len(m.queue),
		Running:       m.running,
		ByStatus:      make(map[Status]int, 5),
	}
	for _, s := range m.sessions {
		metrics.Total++
		metrics.ByStatus[s.status]++
	}
	m.mu.Unlock()

	metrics.Pool = m.pool.Stats()
	return metrics
}

// Shutdown stops admitting sessions, cancels everything still queued,
// signals running evaluations, waits (bounded by ctx) for them to finish,
// then shuts the pool down. No session is left queued or running afterward.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	for _, s := range m.queue {
		m.requestCancelLocked(s)
		m.finalizeLocked(s, StatusCancelled, ErrManagerClosed)
	}
	m.queue = nil

	for _, s := range m.sessions {
		if s.status == StatusRunning {
			m.requestCancelLocked(s)
			if s.evalStarted && s.evalCancel != nil {
				s.evalCancel()
			} else if !s.evalStarted {
				m.finalizeLocked(s, StatusCancelled, ErrManagerClosed)
			}
		}
	}
	m.mu.Unlock()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var drainErr error
drain:
	for {
		m.mu.Lock()
		running := m.running
		m.mu.Unlock()
		if running == 0 {
			break
		}

		select {
		case <-ctx.Done():
			drainErr = ctx.Err()
			break drain
		case <-ticker.C:
		}
	}

	if err := m.pool.Shutdown(ctx); err != nil && drainErr == nil {
		drainErr = err
	}
	return drainErr
}

// admitLocked transitions a session to running. This is the only place the
// running count increases; admission decisions stay serialized through the
// manager lock.
func (m *Manager) admitLocked(s *Session) {
	s.status = StatusRunning
	s.admittedAt = time.Now()
	m.running++
	close(s.admitted)
	m.logger.Debug("session admitted", "session", s.id, "running", m.running)
}

// admitNextLocked promotes queued sessions in arrival order until the queue
// empties or the ceiling is reached again.
func (m *Manager) admitNextLocked() {
	for m.running < m.opts.MaxConcurrent && len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		if next.status != StatusQueued {
			continue
		}
		m.admitLocked(next)
	}
}

// finalizeLocked moves a session to a terminal state and, if it held a
// running slot, frees the slot and promotes the next queued session.
func (m *Manager) finalizeLocked(s *Session, status Status, err error) {
	if s.status.Terminal() {
		return
	}

	wasRunning := s.status == StatusRunning
	s.status = status
	s.err = err
	s.finishedAt = time.Now()
	s.resourceHandleID = ""

	if wasRunning {
		m.running--
		if !m.closed {
			m.admitNextLocked()
		}
	}

	m.logger.Info("session finished",
		"session", s.id, "status", status, "error", errString(err))
}

func (m *Manager) finalizeRunning(s *Session, status Status, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeLocked(s, status, err)
}

// finalizeQueued finalizes a session still waiting for admission. It
// reports false when the session was admitted (or finalized) concurrently,
// in which case the caller must not treat the wait as expired.
func (m *Manager) finalizeQueued(s *Session, status Status, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.status != StatusQueued {
		return s.status.Terminal()
	}
	m.removeFromQueueLocked(s)
	m.finalizeLocked(s, status, err)
	return true
}

func (m *Manager) requestCancelLocked(s *Session) {
	select {
	case <-s.cancelRequested:
	default:
		close(s.cancelRequested)
	}
}

func (m *Manager) removeFromQueueLocked(s *Session) {
	for i, queued := range m.queue {
		if queued == s {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// pruneLocked evicts terminal sessions past the retention window.
func (m *Manager) pruneLocked(now time.Time) {
	for id, s := range m.sessions {
		if s.status.Terminal() && !s.finishedAt.IsZero() &&
			now.Sub(s.finishedAt) > m.opts.Retention {
			delete(m.sessions, id)
		}
	}
}

func validateConfig(config Config) error {
	if strings.TrimSpace(config.TargetURL) == "" {
		return &ValidationError{Field: "url", Reason: "is required"}
	}
	if strings.TrimSpace(config.Task) == "" {
		return &ValidationError{Field: "task", Reason: "is required"}
	}
	if config.Timeout < 0 {
		return &ValidationError{Field: "timeout", Reason: "cannot be negative"}
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
