package browser

import (
	"context"

	"github.com/playwright-community/playwright-go"
)

// Resource is one live browser process together with its isolated execution
// context. The pool owns resources through handles; evaluations interact
// with them only through the page.
type Resource interface {
	// Page returns the resource's active page. Implementations that do not
	// wrap a real browser (e.g., test fakes) may return nil.
	Page() playwright.Page

	// Reset clears per-lease state (cookies, storage, current page) so the
	// resource can be reused by the next session.
	Reset(ctx context.Context) error

	// Healthy reports whether the underlying process is still usable.
	Healthy() bool

	// Close tears down the underlying process. A close failure does not
	// keep the resource in the pool's accounting.
	Close() error
}

// LaunchOptions configures a newly created browser resource.
type LaunchOptions struct {
	// Headless controls whether the browser runs without a visible window.
	Headless bool

	// ViewportWidth and ViewportHeight set the initial viewport size.
	ViewportWidth  int
	ViewportHeight int

	// DefaultTimeout is the default timeout for page operations, in
	// milliseconds. Zero means the driver default.
	DefaultTimeout float64
}

// Factory creates a new browser resource. The pool calls it whenever it
// needs to grow, outside of its own lock.
type Factory func(ctx context.Context, opts LaunchOptions) (Resource, error)

// Default viewport and timeout values for launched resources.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultPageTimeout    = 30000.0 // milliseconds
)
