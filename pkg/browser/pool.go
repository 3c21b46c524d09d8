// Package browser provides the pooled browser resource layer: a bounded
// pool of isolated browser processes with health- and age-based recycling.
//
// The pool hands out handles wrapping ready-to-use resources, reuses idle
// ones where safe, bounds the total resource count, and runs a background
// reaper that evicts unhealthy, idle-expired, or age-expired resources. All
// idle-set mutation (acquire-select, release-return, reap-remove) is
// serialized through the pool's single mutex.
package browser

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Options configures a Pool.
type Options struct {
	// MaxSize bounds the total number of live resources. A pool with
	// MaxSize 0 can never satisfy an acquire; that is a misconfiguration,
	// not a special case.
	MaxSize int

	// MaxIdleTime is how long an idle resource may sit unused before the
	// reaper destroys it. Zero disables idle eviction.
	MaxIdleTime time.Duration

	// MaxAge is how old a resource may become before the reaper destroys
	// it. Zero disables age eviction.
	MaxAge time.Duration

	// AcquireTimeout bounds how long Acquire blocks waiting for a handle.
	// Zero means the caller's context alone bounds the wait.
	AcquireTimeout time.Duration

	// ReapInterval is the reaper's tick period. Zero defaults to 30s.
	ReapInterval time.Duration

	// Launch configures every resource created by this pool.
	Launch LaunchOptions
}

// Stats is a point-in-time snapshot of pool state.
type Stats struct {
	Size      int `json:"size"`
	Idle      int `json:"idle"`
	Busy      int `json:"busy"`
	Pending   int `json:"pending"`
	MaxSize   int `json:"max_size"`
	Created   int `json:"created"`
	Destroyed int `json:"destroyed"`
	Reaped    int `json:"reaped"`
}

// Pool owns a bounded collection of browser resources and services
// acquire/release requests against it.
type Pool struct {
	opts    Options
	factory Factory
	logger  *slog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	pending int // creations in flight, count toward MaxSize
	waiters []chan *Handle
	closed  bool

	created   int
	destroyed int
	reaped    int

	done     chan struct{}
	reaperWG sync.WaitGroup
}

// NewPool creates a pool and starts its background reaper.
func NewPool(factory Factory, opts Options, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = 30 * time.Second
	}

	p := &Pool{
		opts:    opts,
		factory: factory,
		logger:  logger.With("component", "browser-pool"),
		handles: make(map[string]*Handle),
		done:    make(chan struct{}),
	}

	p.reaperWG.Add(1)
	go p.reapLoop()

	return p
}

// Acquire returns a handle marked busy for the caller's exclusive use.
//
// It prefers a healthy, non-expired idle handle; otherwise it creates a new
// resource if the pool is below MaxSize; otherwise it blocks until a handle
// is released or the acquire timeout elapses. Creation failures surface as
// *CreationError and are not retried.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	if p.opts.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.AcquireTimeout)
		defer cancel()
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if h := p.takeIdleLocked(time.Now()); h != nil {
			p.mu.Unlock()
			return h, nil
		}

		if len(p.handles)+p.pending < p.opts.MaxSize {
			p.pending++
			p.mu.Unlock()

			res, err := p.factory(ctx, p.opts.Launch)

			p.mu.Lock()
			p.pending--
			if err != nil {
				p.notifySlotLocked()
				p.mu.Unlock()
				return nil, &CreationError{Cause: err}
			}
			h := newHandle(res)
			h.busy = true
			p.handles[h.id] = h
			p.created++
			p.logger.Debug("created browser resource", "handle", h.id, "size", len(p.handles))
			p.mu.Unlock()
			return h, nil
		}

		// At capacity: wait for a release or a freed slot.
		ch := make(chan *Handle, 1)
		p.waiters = append(p.waiters, ch)
		p.mu.Unlock()

		select {
		case h := <-ch:
			if h == nil {
				continue // a slot freed up; retry the idle/create path
			}
			return h, nil
		case <-ctx.Done():
			p.abandonWaiter(ch)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrAcquireTimeout
			}
			return nil, ctx.Err()
		}
	}
}

// Release returns a handle to the pool. If markUnhealthy is set (the caller
// observed a crash or protocol error during use) the resource is destroyed
// instead of returned to the idle set, freeing a slot for a replacement.
func (p *Pool) Release(h *Handle, markUnhealthy bool) {
	p.mu.Lock()
	if _, ok := p.handles[h.id]; !ok {
		// Already destroyed (forced release or shutdown).
		p.mu.Unlock()
		return
	}
	if !h.busy {
		p.mu.Unlock()
		// A second owner releasing the same handle means the lease
		// invariant is broken; continuing could corrupt later sessions.
		panic("browser: release of a handle that is not checked out")
	}

	if markUnhealthy {
		h.healthy = false
	}

	if p.closed || !h.healthy {
		p.destroyLocked(h, "released")
		p.mu.Unlock()
		return
	}

	// Reset outside the lock; the handle stays busy so nothing else can
	// select it meanwhile.
	p.mu.Unlock()
	resetErr := h.res.Reset(context.Background())
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.handles[h.id]; !ok {
		return
	}

	if resetErr != nil || !h.res.Healthy() {
		if resetErr != nil {
			p.logger.Warn("resource failed reset, destroying", "handle", h.id, "error", resetErr)
		}
		h.healthy = false
		p.destroyLocked(h, "released")
		return
	}

	h.lastUsedAt = time.Now()

	// Hand the handle straight to the longest-waiting acquirer, if any.
	for len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		select {
		case ch <- h:
			return
		default:
			// Waiter gave up; try the next one.
		}
	}

	h.busy = false
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Size:      len(p.handles),
		Pending:   p.pending,
		MaxSize:   p.opts.MaxSize,
		Created:   p.created,
		Destroyed: p.destroyed,
		Reaped:    p.reaped,
	}
	for _, h := range p.handles {
		if h.busy {
			s.Busy++
		} else {
			s.Idle++
		}
	}
	return s
}

// Size returns the current number of live resources.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Reap destroys idle handles that are unhealthy, idle-expired, or
// age-expired. The background loop calls it on every tick; tests may call
// it directly. Busy handles are never touched.
func (p *Pool) Reap() {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, h := range p.handles {
		if h.busy {
			continue
		}
		if !h.healthy || !h.res.Healthy() || h.expired(now, p.opts.MaxIdleTime, p.opts.MaxAge) {
			p.reaped++
			p.destroyLocked(h, "reaped")
		}
	}
}

// Shutdown drains the pool: no new acquires are admitted, busy handles are
// given until ctx expires to be released, then everything remaining is
// destroyed. Used only at process teardown.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)

	// Wake all waiters; they observe closed and fail with ErrPoolClosed.
	for _, ch := range p.waiters {
		select {
		case ch <- nil:
		default:
		}
	}
	p.waiters = nil

	for _, h := range p.handles {
		if !h.busy {
			p.destroyLocked(h, "shutdown")
		}
	}
	p.mu.Unlock()

	// Bounded wait for busy handles to come back through Release.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var drainErr error
drain:
	for {
		p.mu.Lock()
		remaining := len(p.handles)
		p.mu.Unlock()
		if remaining == 0 {
			break
		}

		select {
		case <-ctx.Done():
			drainErr = ctx.Err()
			break drain
		case <-ticker.C:
		}
	}

	p.mu.Lock()
	for _, h := range p.handles {
		p.logger.Warn("destroying handle still busy at shutdown", "handle", h.id)
		p.destroyLocked(h, "shutdown")
	}
	p.mu.Unlock()

	p.reaperWG.Wait()
	return drainErr
}

// takeIdleLocked selects any healthy, non-expired idle handle and marks it
// busy. Stale idle handles encountered along the way are destroyed so their
// slots become creatable immediately. Reuse order among idle handles is
// deliberately unspecified.
func (p *Pool) takeIdleLocked(now time.Time) *Handle {
	for _, h := range p.handles {
		if h.busy {
			continue
		}
		if !h.healthy || !h.res.Healthy() || h.expired(now, p.opts.MaxIdleTime, p.opts.MaxAge) {
			p.destroyLocked(h, "stale")
			continue
		}
		h.busy = true
		h.lastUsedAt = now
		return h
	}
	return nil
}

// destroyLocked removes a handle from the pool's accounting and closes its
// resource. A close failure is logged, not retried: the OS-level leak is
// preferable to keeping a broken resource in rotation.
func (p *Pool) destroyLocked(h *Handle, reason string) {
	delete(p.handles, h.id)
	p.destroyed++
	if err := h.res.Close(); err != nil {
		p.logger.Warn("failed to close browser resource", "handle", h.id, "reason", reason, "error", err)
	} else {
		p.logger.Debug("destroyed browser resource", "handle", h.id, "reason", reason)
	}
	p.notifySlotLocked()
}

// notifySlotLocked wakes one waiter after a slot has been freed so it can
// retry the idle/create path.
func (p *Pool) notifySlotLocked() {
	for len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		select {
		case ch <- nil:
			return
		default:
		}
	}
}

// abandonWaiter removes a waiter whose context expired. If a handle was
// handed to it concurrently, the handle is released back to the pool.
func (p *Pool) abandonWaiter(ch chan *Handle) {
	p.mu.Lock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	select {
	case h := <-ch:
		if h != nil {
			p.Release(h, false)
		}
	default:
	}
}

// reapLoop runs the periodic reaper until shutdown.
func (p *Pool) reapLoop() {
	defer p.reaperWG.Done()

	ticker := time.NewTicker(p.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Reap()
		case <-p.done:
			return
		}
	}
}
