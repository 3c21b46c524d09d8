// Package report defines the JSON-serializable result of one evaluation
// and a summary writer for batches of them.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Zeeeepa/web-eval-agent/pkg/monitor"
)

// Verdict is the evaluation's overall judgment of the target.
type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictInconclusive Verdict = "inconclusive"
)

// Step is one action the agent took against the page.
type Step struct {
	Index   int       `json:"index"`
	Action  string    `json:"action"`
	Detail  string    `json:"detail,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Evaluation is the structured result of one session's run.
type Evaluation struct {
	TargetURL string  `json:"url"`
	Task      string  `json:"task"`
	Verdict   Verdict `json:"verdict"`
	Summary   string  `json:"summary,omitempty"`

	Steps   []Step                 `json:"steps,omitempty"`
	Console monitor.ConsoleSummary `json:"console"`
	Network monitor.NetworkSummary `json:"network"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// SessionOutcome pairs a session's terminal state with its evaluation
// payload, when one was produced.
type SessionOutcome struct {
	SessionID  string      `json:"session_id"`
	Status     string      `json:"status"`
	Error      string      `json:"error,omitempty"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
}

// Summary is the top-level run artifact written by the CLI.
type Summary struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Outcomes    []SessionOutcome `json:"outcomes"`
}

// WriteJSON writes the summary to path as indented JSON.
func (s *Summary) WriteJSON(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
