package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCategorizesKnownFailures(t *testing.T) {
	cases := []struct {
		name     string
		level    ConsoleLevel
		text     string
		category string
	}{
		{"uncaught type error", LevelError, "Uncaught TypeError: cannot read properties of undefined", "javascript_error"},
		{"uncaught reference error", LevelError, "Uncaught ReferenceError: foo is not defined", "javascript_error"},
		{"net error", LevelError, "Failed to load resource: net::ERR_CONNECTION_REFUSED", "network_error"},
		{"cors", LevelError, "Access to fetch has been blocked by CORS policy", "cors_error"},
		{"csp", LevelError, "Refused to load the script because it violates the Content Security Policy", "security_error"},
		{"deprecation", LevelWarning, "DOMSubtreeModified is deprecated", "deprecation_warning"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewConsoleCapture(nil)
			require.NoError(t, err)

			c.Record(tc.level, tc.text)

			s := c.Summary()
			require.Len(t, s.Entries, 1)
			assert.Equal(t, tc.category, s.Entries[0].Category)
		})
	}
}

func TestActionRequiredEscalatesToError(t *testing.T) {
	c, err := NewConsoleCapture(nil)
	require.NoError(t, err)

	// A CORS failure logged at warning level still counts as an error.
	c.Record(LevelWarning, "blocked by CORS policy: no Access-Control-Allow-Origin header")

	s := c.Summary()
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 0, s.Warnings)
	require.Len(t, s.Issues, 1)
	assert.Contains(t, s.Issues[0], "cors_error")
}

func TestDeprecationStaysWarning(t *testing.T) {
	c, err := NewConsoleCapture(nil)
	require.NoError(t, err)

	c.Record(LevelWarning, "feature X is deprecated, use Y")

	s := c.Summary()
	assert.Equal(t, 0, s.Errors)
	assert.Equal(t, 1, s.Warnings)
	assert.Empty(t, s.Issues)
}

func TestIgnorePatterns(t *testing.T) {
	c, err := NewConsoleCapture([]string{"*favicon*", "*HMR*"})
	require.NoError(t, err)

	c.Record(LevelError, "Failed to load resource: favicon.ico net::ERR_ABORTED")
	c.Record(LevelLog, "[HMR] connected")
	c.Record(LevelError, "Uncaught TypeError: boom")

	s := c.Summary()
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, "Uncaught TypeError: boom", s.Entries[0].Text)
}

func TestInvalidIgnorePattern(t *testing.T) {
	_, err := NewConsoleCapture([]string{"[unclosed"})
	require.Error(t, err)
}

func TestSummaryCounts(t *testing.T) {
	c, err := NewConsoleCapture(nil)
	require.NoError(t, err)

	c.Record(LevelLog, "app started")
	c.Record(LevelInfo, "router ready")
	c.Record(LevelWarning, "slow render")
	c.Record(LevelError, "Uncaught Error: boom")
	c.Record(LevelError, "fetch to /api failed")

	s := c.Summary()
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.Errors)
	assert.Equal(t, 1, s.Warnings)
	assert.Equal(t, 1, s.ByCategory["javascript_error"])
	assert.Equal(t, 1, s.ByCategory["network_error"])
}

func TestLevelFromType(t *testing.T) {
	assert.Equal(t, LevelError, levelFromType("error"))
	assert.Equal(t, LevelError, levelFromType("assert"))
	assert.Equal(t, LevelWarning, levelFromType("warning"))
	assert.Equal(t, LevelInfo, levelFromType("info"))
	assert.Equal(t, LevelDebug, levelFromType("debug"))
	assert.Equal(t, LevelLog, levelFromType("log"))
	assert.Equal(t, LevelLog, levelFromType("table"))
}
