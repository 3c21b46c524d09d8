package evaluator

import (
	"strings"
	"testing"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>Checkout - Example Shop</title>
  <meta name="description" content="Complete your purchase">
  <style>body { color: red; }</style>
  <script>console.log("analytics");</script>
</head>
<body>
  <nav class="top-nav"><a href="/cart">Cart</a></nav>
  <main>
    <h1>Checkout</h1>
    <form id="checkout" action="/pay" method="post">
      <input type="email" name="email" placeholder="Email">
      <button type="submit" id="pay-now" data-testid="pay">Pay now</button>
    </form>
  </main>
  <!-- tracking pixel -->
</body>
</html>`

func testEncoder(t *testing.T) *tiktoken.Tiktoken {
	t.Helper()
	enc, err := tiktoken.GetEncoding("cl100k_base")
	require.NoError(t, err)
	return enc
}

func TestSnapshotExtractsMetadata(t *testing.T) {
	snap, err := snapshotPage(samplePage, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, "Checkout - Example Shop", snap.Title)
	assert.Equal(t, "Complete your purchase", snap.Description)
	assert.False(t, snap.Truncated)
}

func TestSnapshotStripsNoise(t *testing.T) {
	snap, err := snapshotPage(samplePage, 0, nil)
	require.NoError(t, err)

	assert.NotContains(t, snap.Outline, "analytics")
	assert.NotContains(t, snap.Outline, "color: red")
	assert.NotContains(t, snap.Outline, "tracking pixel")
}

func TestSnapshotPreservesTargetingAttributes(t *testing.T) {
	snap, err := snapshotPage(samplePage, 0, nil)
	require.NoError(t, err)

	assert.Contains(t, snap.Outline, `id="pay-now"`)
	assert.Contains(t, snap.Outline, `data-testid="pay"`)
	assert.Contains(t, snap.Outline, `name="email"`)
	assert.Contains(t, snap.Outline, `placeholder="Email"`)
	assert.Contains(t, snap.Outline, `href="/cart"`)
	assert.Contains(t, snap.Outline, `action="/pay"`)
	assert.Contains(t, snap.Outline, "Pay now")
}

func TestSnapshotTruncatesToTokenBudget(t *testing.T) {
	enc := testEncoder(t)

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 500; i++ {
		b.WriteString("<p>some repeated paragraph content for the evaluator</p>")
	}
	b.WriteString("</body></html>")

	snap, err := snapshotPage(b.String(), 100, enc)
	require.NoError(t, err)

	assert.True(t, snap.Truncated)
	assert.Contains(t, snap.Outline, "[page truncated]")

	trimmed := strings.TrimSuffix(snap.Outline, "\n[page truncated]")
	assert.Less(t, len(enc.Encode(trimmed, nil, nil)), 120)
}

func TestSnapshotSmallPageNotTruncated(t *testing.T) {
	snap, err := snapshotPage(samplePage, 4000, testEncoder(t))
	require.NoError(t, err)
	assert.False(t, snap.Truncated)
}

func TestSnapshotHandlesMalformedHTML(t *testing.T) {
	snap, err := snapshotPage("<div><p>unclosed", 0, nil)
	require.NoError(t, err)
	assert.Contains(t, snap.Outline, "unclosed")
}
