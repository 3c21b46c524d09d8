package browser

import (
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

// Handle wraps one pooled browser resource together with its lifecycle
// bookkeeping. Handles are owned exclusively by the pool; a session holds a
// borrowed reference for the duration of one evaluation and must return it
// via Pool.Release.
//
// The busy/healthy flags and timestamps are mutated only while holding the
// pool's mutex. Callers outside the pool should treat a Handle as read-only
// and interact with the browser through Page.
type Handle struct {
	id        string
	createdAt time.Time

	lastUsedAt time.Time
	busy       bool
	healthy    bool

	res Resource
}

func newHandle(res Resource) *Handle {
	now := time.Now()
	return &Handle{
		id:        uuid.NewString(),
		createdAt: now,

		lastUsedAt: now,
		healthy:    true,

		res: res,
	}
}

// ID returns the handle's unique identifier, assigned at creation.
func (h *Handle) ID() string {
	return h.id
}

// CreatedAt returns when the underlying resource was created.
func (h *Handle) CreatedAt() time.Time {
	return h.createdAt
}

// Page returns the active page of the underlying resource.
func (h *Handle) Page() playwright.Page {
	return h.res.Page()
}

// age returns how long the handle has existed as of now.
func (h *Handle) age(now time.Time) time.Duration {
	return now.Sub(h.createdAt)
}

// idleTime returns how long the handle has been unused as of now.
func (h *Handle) idleTime(now time.Time) time.Duration {
	return now.Sub(h.lastUsedAt)
}

// expired reports whether the handle has exceeded its idle or age limit.
func (h *Handle) expired(now time.Time, maxIdle, maxAge time.Duration) bool {
	if maxIdle > 0 && h.idleTime(now) > maxIdle {
		return true
	}
	if maxAge > 0 && h.age(now) > maxAge {
		return true
	}
	return false
}
