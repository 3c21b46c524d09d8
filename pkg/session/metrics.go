package session

import "github.com/Zeeeepa/web-eval-agent/pkg/browser"

// Metrics is a point-in-time snapshot of manager and pool state.
type Metrics struct {
	// Total is the number of sessions currently tracked, including
	// terminal ones still inside the retention window.
	Total int `json:"total"`

	// Queued and Running count sessions in those states right now.
	Queued  int `json:"queued"`
	Running int `json:"running"`

	// MaxConcurrent is the configured admission ceiling.
	MaxConcurrent int `json:"max_concurrent"`

	// ByStatus breaks the tracked sessions down per lifecycle state.
	ByStatus map[Status]int `json:"by_status"`

	// Pool is the browser pool's own snapshot.
	Pool browser.Stats `json:"pool"`
}
