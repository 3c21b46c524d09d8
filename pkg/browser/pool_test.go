package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResource implements Resource without a real browser.
type fakeResource struct {
	mu       sync.Mutex
	healthy  bool
	resets   int
	resetErr error
	closed   bool
}

func newFakeResource() *fakeResource {
	return &fakeResource{healthy: true}
}

func (f *fakeResource) Page() playwright.Page { return nil }

func (f *fakeResource) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return f.resetErr
}

func (f *fakeResource) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeResource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeResource) setHealthy(healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = healthy
}

func (f *fakeResource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFactory creates fakeResources and records every one it made.
type fakeFactory struct {
	mu        sync.Mutex
	created   []*fakeResource
	failNext  error
	createDly time.Duration
}

func (f *fakeFactory) factory() Factory {
	return func(ctx context.Context, opts LaunchOptions) (Resource, error) {
		f.mu.Lock()
		failErr := f.failNext
		f.failNext = nil
		delay := f.createDly
		f.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		if failErr != nil {
			return nil, failErr
		}

		res := newFakeResource()
		f.mu.Lock()
		f.created = append(f.created, res)
		f.mu.Unlock()
		return res, nil
	}
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func newTestPool(t *testing.T, opts Options) (*Pool, *fakeFactory) {
	t.Helper()
	if opts.ReapInterval == 0 {
		opts.ReapInterval = time.Hour // tests drive Reap directly
	}
	f := &fakeFactory{}
	p := NewPool(f.factory(), opts, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Shutdown(ctx)
	})
	return p, f
}

func TestAcquireCreatesUpToMaxSize(t *testing.T) {
	pool, factory := newTestPool(t, Options{MaxSize: 2})

	h1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	h2, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, h1.ID(), h2.ID())
	assert.Equal(t, 2, factory.count())
	assert.Equal(t, 2, pool.Size())

	pool.Release(h1, false)
	pool.Release(h2, false)
}

func TestAcquireReusesIdleHandle(t *testing.T) {
	pool, factory := newTestPool(t, Options{MaxSize: 2})

	h1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	id := h1.ID()
	pool.Release(h1, false)

	h2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(h2, false)

	assert.Equal(t, id, h2.ID())
	assert.Equal(t, 1, factory.count())
	assert.Equal(t, 1, factory.created[0].resets)
}

func TestAcquireTimesOutAtCapacity(t *testing.T) {
	pool, _ := newTestPool(t, Options{MaxSize: 1, AcquireTimeout: 50 * time.Millisecond})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(h, false)

	start := time.Now()
	_, err = pool.Acquire(context.Background())
	require.ErrorIs(t, err, ErrAcquireTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestAcquireZeroMaxSizeAlwaysTimesOut(t *testing.T) {
	pool, factory := newTestPool(t, Options{MaxSize: 0, AcquireTimeout: 20 * time.Millisecond})

	_, err := pool.Acquire(context.Background())
	require.ErrorIs(t, err, ErrAcquireTimeout)
	assert.Equal(t, 0, factory.count())
}

func TestAcquireObservesCallerContext(t *testing.T) {
	pool, _ := newTestPool(t, Options{MaxSize: 1})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(h, false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCreationFailureSurfacesAndIsNotRetried(t *testing.T) {
	pool, factory := newTestPool(t, Options{MaxSize: 2})
	factory.mu.Lock()
	factory.failNext = fmt.Errorf("chromium refused to start")
	factory.mu.Unlock()

	_, err := pool.Acquire(context.Background())
	require.Error(t, err)

	var creationErr *CreationError
	require.ErrorAs(t, err, &creationErr)
	assert.Contains(t, creationErr.Error(), "chromium refused to start")

	// The failed slot is free again: the next acquire creates normally.
	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(h, false)
}

func TestReleaseHandsOffToWaiter(t *testing.T) {
	pool, factory := newTestPool(t, Options{MaxSize: 1})

	h1, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan *Handle, 1)
	go func() {
		h, acqErr := pool.Acquire(context.Background())
		if acqErr != nil {
			got <- nil
			return
		}
		got <- h
	}()

	// Let the second acquire reach the waiter queue.
	time.Sleep(20 * time.Millisecond)
	pool.Release(h1, false)

	select {
	case h2 := <-got:
		require.NotNil(t, h2)
		assert.Equal(t, h1.ID(), h2.ID())
		assert.Equal(t, 1, factory.count())
		pool.Release(h2, false)
	case <-time.After(time.Second):
		t.Fatal("waiter never received the released handle")
	}
}

func TestReleaseUnhealthyDestroysResource(t *testing.T) {
	pool, factory := newTestPool(t, Options{MaxSize: 1})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(h, true)

	assert.Equal(t, 0, pool.Size())
	assert.True(t, factory.created[0].isClosed())

	// The freed slot allows a fresh resource.
	h2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(h2, false)
	assert.NotEqual(t, h.ID(), h2.ID())
	assert.Equal(t, 2, factory.count())
}

func TestReleaseFailedResetDestroysResource(t *testing.T) {
	pool, factory := newTestPool(t, Options{MaxSize: 1})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	factory.created[0].mu.Lock()
	factory.created[0].resetErr = fmt.Errorf("storage clear failed")
	factory.created[0].mu.Unlock()

	pool.Release(h, false)
	assert.Equal(t, 0, pool.Size())
	assert.True(t, factory.created[0].isClosed())
}

func TestDoubleReleasePanics(t *testing.T) {
	pool, _ := newTestPool(t, Options{MaxSize: 1})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(h, false)

	assert.Panics(t, func() {
		pool.Release(h, false)
	})
}

func TestReapEvictsIdleExpired(t *testing.T) {
	pool, factory := newTestPool(t, Options{MaxSize: 2, MaxIdleTime: 10 * time.Millisecond})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(h, false)

	time.Sleep(20 * time.Millisecond)
	pool.Reap()

	assert.Equal(t, 0, pool.Size())
	assert.True(t, factory.created[0].isClosed())
	assert.Equal(t, 1, pool.Stats().Reaped)
}

func TestReapEvictsAgeExpired(t *testing.T) {
	pool, _ := newTestPool(t, Options{MaxSize: 2, MaxAge: 10 * time.Millisecond})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(h, false)

	time.Sleep(20 * time.Millisecond)
	pool.Reap()
	assert.Equal(t, 0, pool.Size())
}

func TestReapEvictsUnhealthyIdle(t *testing.T) {
	pool, factory := newTestPool(t, Options{MaxSize: 2})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(h, false)

	factory.created[0].setHealthy(false)
	pool.Reap()
	assert.Equal(t, 0, pool.Size())
}

func TestReapNeverTouchesBusyHandles(t *testing.T) {
	pool, _ := newTestPool(t, Options{MaxSize: 1, MaxAge: time.Nanosecond, MaxIdleTime: time.Nanosecond})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	pool.Reap()

	assert.Equal(t, 1, pool.Size())
	assert.Equal(t, 0, pool.Stats().Reaped)
	pool.Release(h, false)
}

func TestStaleIdleHandleReplacedOnAcquire(t *testing.T) {
	pool, factory := newTestPool(t, Options{MaxSize: 1, MaxIdleTime: 10 * time.Millisecond})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(h, false)

	time.Sleep(20 * time.Millisecond)

	h2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(h2, false)

	assert.NotEqual(t, h.ID(), h2.ID())
	assert.Equal(t, 2, factory.count())
	assert.True(t, factory.created[0].isClosed())
}

func TestPoolSizeNeverExceedsMax(t *testing.T) {
	const maxSize = 3
	pool, factory := newTestPool(t, Options{MaxSize: maxSize})

	var inUse atomic.Int32
	var peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			h, err := pool.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}

			n := inUse.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inUse.Add(-1)

			pool.Release(h, false)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(maxSize))
	assert.LessOrEqual(t, factory.count(), maxSize)
	assert.LessOrEqual(t, pool.Size(), maxSize)
}

func TestShutdownDrainsBusyHandles(t *testing.T) {
	pool, _ := newTestPool(t, Options{MaxSize: 1})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- pool.Shutdown(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	pool.Release(h, false)

	require.NoError(t, <-done)
	assert.Equal(t, 0, pool.Size())

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestShutdownWakesWaiters(t *testing.T) {
	pool, _ := newTestPool(t, Options{MaxSize: 1})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	waiterErr := make(chan error, 1)
	go func() {
		_, acqErr := pool.Acquire(context.Background())
		waiterErr <- acqErr
	}()
	time.Sleep(20 * time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		pool.Release(h, false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))

	select {
	case err := <-waiterErr:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken by shutdown")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	pool, _ := newTestPool(t, Options{MaxSize: 1})

	ctx := context.Background()
	require.NoError(t, pool.Shutdown(ctx))
	require.NoError(t, pool.Shutdown(ctx))
}

func TestStats(t *testing.T) {
	pool, _ := newTestPool(t, Options{MaxSize: 3})

	h1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	h2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(h2, false)

	stats := pool.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 1, stats.Busy)
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 3, stats.MaxSize)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 0, stats.Destroyed)

	pool.Release(h1, true)
	stats = pool.Stats()
	assert.Equal(t, 1, stats.Destroyed)
}

func TestReleaseAfterShutdownIsSafe(t *testing.T) {
	pool, _ := newTestPool(t, Options{MaxSize: 1})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = pool.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The handle was force-destroyed; releasing it is a silent no-op.
	assert.NotPanics(t, func() {
		pool.Release(h, false)
	})
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &CreationError{Cause: cause}
	assert.ErrorIs(t, err, cause)
}
