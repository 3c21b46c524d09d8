package browser

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireRealBrowser skips unless real-browser tests are enabled; they
// download and launch Chromium.
func requireRealBrowser(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping real-browser test in short mode")
	}
	if os.Getenv("WEB_EVAL_BROWSER_TESTS") == "" {
		t.Skip("set WEB_EVAL_BROWSER_TESTS=1 to run real-browser tests")
	}
}

func TestChromiumResourceLifecycle(t *testing.T) {
	requireRealBrowser(t)

	runtime := NewRuntime()
	require.NoError(t, runtime.Initialize())
	defer runtime.Stop()

	factory := runtime.ChromiumFactory()
	res, err := factory(context.Background(), LaunchOptions{Headless: true})
	require.NoError(t, err)

	assert.True(t, res.Healthy())
	require.NotNil(t, res.Page())

	_, err = res.Page().Goto("about:blank")
	require.NoError(t, err)

	require.NoError(t, res.Reset(context.Background()))
	assert.Equal(t, "about:blank", res.Page().URL())

	require.NoError(t, res.Close())
	assert.False(t, res.Healthy())
}

func TestChromiumPoolAcquireRelease(t *testing.T) {
	requireRealBrowser(t)

	runtime := NewRuntime()
	require.NoError(t, runtime.Initialize())
	defer runtime.Stop()

	pool := NewPool(runtime.ChromiumFactory(), Options{
		MaxSize:      1,
		ReapInterval: time.Hour,
		Launch:       LaunchOptions{Headless: true},
	}, nil)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	}()

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	_, err = h.Page().Goto("about:blank")
	require.NoError(t, err)

	pool.Release(h, false)
	assert.Equal(t, 1, pool.Stats().Idle)
}

func TestFactoryRequiresInitializedRuntime(t *testing.T) {
	factory := NewRuntime().ChromiumFactory()
	_, err := factory(context.Background(), LaunchOptions{})
	require.Error(t, err)
}
