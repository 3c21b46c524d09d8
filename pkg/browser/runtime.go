package browser

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// Runtime owns the process-wide Playwright driver. It must be initialized
// once before any chromium-backed resources are created, and stopped at
// process teardown after the pool has shut down.
type Runtime struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	initialized bool
}

// NewRuntime creates an uninitialized runtime.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// Initialize installs (if needed) and starts the Playwright driver.
// Driver output is discarded so it cannot interleave with the process's own
// output streams.
func (r *Runtime) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	r.playwright = pw
	r.initialized = true
	return nil
}

// Stop stops the Playwright driver. All resources created through this
// runtime must be closed first.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized || r.playwright == nil {
		return nil
	}

	if err := r.playwright.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	r.initialized = false
	r.playwright = nil
	return nil
}

// ChromiumFactory returns a Factory that launches an isolated Chromium
// browser, context, and page per resource.
func (r *Runtime) ChromiumFactory() Factory {
	return func(ctx context.Context, opts LaunchOptions) (Resource, error) {
		r.mu.Lock()
		pw := r.playwright
		initialized := r.initialized
		r.mu.Unlock()

		if !initialized {
			return nil, fmt.Errorf("browser runtime not initialized")
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if opts.ViewportWidth == 0 {
			opts.ViewportWidth = DefaultViewportWidth
		}
		if opts.ViewportHeight == 0 {
			opts.ViewportHeight = DefaultViewportHeight
		}
		if opts.DefaultTimeout == 0 {
			opts.DefaultTimeout = DefaultPageTimeout
		}

		browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}

		bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
			Viewport: &playwright.Size{
				Width:  opts.ViewportWidth,
				Height: opts.ViewportHeight,
			},
			IgnoreHttpsErrors: playwright.Bool(true),
		})
		if err != nil {
			browser.Close()
			return nil, fmt.Errorf("failed to create context: %w", err)
		}

		page, err := bctx.NewPage()
		if err != nil {
			bctx.Close()
			browser.Close()
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
		page.SetDefaultTimeout(opts.DefaultTimeout)

		return &chromiumResource{
			browser: browser,
			context: bctx,
			page:    page,
		}, nil
	}
}

// chromiumResource is the production Resource implementation backed by one
// Chromium process with a single isolated context and page.
type chromiumResource struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

func (c *chromiumResource) Page() playwright.Page {
	return c.page
}

// Reset clears cookies and web storage and parks the page on about:blank so
// no state leaks between sessions sharing this resource.
func (c *chromiumResource) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.context.ClearCookies(); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	// Opaque-origin pages (about:blank, data:) deny localStorage access.
	if _, err := c.page.Evaluate("() => { try { localStorage.clear(); sessionStorage.clear(); } catch (e) {} }"); err != nil {
		return fmt.Errorf("failed to clear storage: %w", err)
	}
	if _, err := c.page.Goto("about:blank"); err != nil {
		return fmt.Errorf("failed to reset page: %w", err)
	}
	return nil
}

func (c *chromiumResource) Healthy() bool {
	return c.browser.IsConnected() && !c.page.IsClosed()
}

func (c *chromiumResource) Close() error {
	// Continue cleanup on partial failure; the last error wins.
	var lastErr error
	if err := c.page.Close(); err != nil {
		lastErr = err
	}
	if err := c.context.Close(); err != nil {
		lastErr = err
	}
	if err := c.browser.Close(); err != nil {
		lastErr = err
	}
	return lastErr
}
