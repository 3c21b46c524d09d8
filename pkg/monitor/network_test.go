package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNetworkEventFailed(t *testing.T) {
	assert.False(t, NetworkEvent{Status: 200}.Failed())
	assert.False(t, NetworkEvent{Status: 302}.Failed())
	assert.True(t, NetworkEvent{Status: 404}.Failed())
	assert.True(t, NetworkEvent{Status: 503}.Failed())
	assert.True(t, NetworkEvent{Failure: "net::ERR_CONNECTION_REFUSED"}.Failed())
}

func TestNetworkSummary(t *testing.T) {
	n := NewNetworkCapture()

	n.RecordEvent(NetworkEvent{Method: "GET", URL: "/", Status: 200, Duration: 30 * time.Millisecond})
	n.RecordEvent(NetworkEvent{Method: "GET", URL: "/app.js", Status: 200, Duration: 120 * time.Millisecond})
	n.RecordEvent(NetworkEvent{Method: "POST", URL: "/api/login", Status: 500, Duration: 80 * time.Millisecond})
	n.RecordEvent(NetworkEvent{Method: "GET", URL: "/api/me", Failure: "net::ERR_FAILED"})

	s := n.Summary()
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 2, s.StatusCodes[200])
	assert.Equal(t, 1, s.StatusCodes[500])

	assert.Len(t, s.Failures, 2)
	assert.Equal(t, "/api/login", s.Failures[0].URL)
	assert.Equal(t, "/api/me", s.Failures[1].URL)
}

func TestNetworkSummarySlowest(t *testing.T) {
	n := NewNetworkCapture()
	for i, d := range []time.Duration{10, 70, 30, 90, 20, 50, 40} {
		n.RecordEvent(NetworkEvent{
			Method:    "GET",
			URL:       "/asset",
			Status:    200,
			Duration:  d * time.Millisecond,
			StartedAt: time.Now().Add(-time.Duration(i) * time.Second),
		})
	}

	s := n.Summary()
	assert.Len(t, s.Slowest, 5)
	assert.Equal(t, 90*time.Millisecond, s.Slowest[0].Duration)
	assert.Equal(t, 70*time.Millisecond, s.Slowest[1].Duration)
}

func TestNetworkSummaryEmpty(t *testing.T) {
	s := NewNetworkCapture().Summary()
	assert.Equal(t, 0, s.Total)
	assert.Empty(t, s.Failures)
	assert.Empty(t, s.Slowest)
}
