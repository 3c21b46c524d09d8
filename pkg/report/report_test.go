package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")

	summary := &Summary{
		GeneratedAt: time.Now(),
		Outcomes: []SessionOutcome{
			{
				SessionID: "abc",
				Status:    "completed",
				Evaluation: &Evaluation{
					TargetURL: "http://localhost:3000",
					Task:      "check login",
					Verdict:   VerdictPass,
					Summary:   "login flow works",
					Steps: []Step{
						{Index: 1, Action: "navigate", Detail: "navigate to /login", At: time.Now()},
						{Index: 2, Action: "finish", Detail: "finish: pass", At: time.Now()},
					},
				},
			},
			{
				SessionID: "def",
				Status:    "failed",
				Error:     "session: evaluation timed out",
			},
		},
	}

	require.NoError(t, summary.WriteJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Summary
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Len(t, decoded.Outcomes, 2)
	assert.Equal(t, "abc", decoded.Outcomes[0].SessionID)
	assert.Equal(t, VerdictPass, decoded.Outcomes[0].Evaluation.Verdict)
	assert.Len(t, decoded.Outcomes[0].Evaluation.Steps, 2)
	assert.Nil(t, decoded.Outcomes[1].Evaluation)
	assert.Equal(t, "session: evaluation timed out", decoded.Outcomes[1].Error)
}

func TestWriteJSONBadPath(t *testing.T) {
	summary := &Summary{GeneratedAt: time.Now()}
	err := summary.WriteJSON(filepath.Join(t.TempDir(), "missing", "summary.json"))
	require.Error(t, err)
}
