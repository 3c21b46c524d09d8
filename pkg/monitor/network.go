package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// NetworkEvent is one observed request with its outcome.
type NetworkEvent struct {
	Method       string        `json:"method"`
	URL          string        `json:"url"`
	ResourceType string        `json:"resource_type,omitempty"`
	Status       int           `json:"status,omitempty"`
	Failure      string        `json:"failure,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// Failed reports whether the request errored or returned a 4xx/5xx status.
func (e NetworkEvent) Failed() bool {
	return e.Failure != "" || e.Status >= 400
}

// NetworkSummary aggregates the traffic captured during one evaluation.
type NetworkSummary struct {
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	StatusCodes map[int]int    `json:"status_codes,omitempty"`
	Failures    []NetworkEvent `json:"failures,omitempty"`
	Slowest     []NetworkEvent `json:"slowest,omitempty"`
}

// NetworkCapture collects request/response traffic from a page.
type NetworkCapture struct {
	mu       sync.Mutex
	inflight map[playwright.Request]time.Time
	events   []NetworkEvent
}

// NewNetworkCapture creates an empty capture.
func NewNetworkCapture() *NetworkCapture {
	return &NetworkCapture{
		inflight: make(map[playwright.Request]time.Time),
	}
}

// Attach subscribes to the page's request lifecycle events.
func (n *NetworkCapture) Attach(page playwright.Page) {
	page.OnRequest(func(req playwright.Request) {
		n.mu.Lock()
		n.inflight[req] = time.Now()
		n.mu.Unlock()
	})

	page.OnResponse(func(resp playwright.Response) {
		req := resp.Request()
		n.complete(req, NetworkEvent{
			Method:       req.Method(),
			URL:          req.URL(),
			ResourceType: req.ResourceType(),
			Status:       resp.Status(),
		})
	})

	page.OnRequestFailed(func(req playwright.Request) {
		failure := ""
		if err := req.Failure(); err != nil {
			failure = err.Error()
		}
		if failure == "" {
			failure = "request failed"
		}
		n.complete(req, NetworkEvent{
			Method:       req.Method(),
			URL:          req.URL(),
			ResourceType: req.ResourceType(),
			Failure:      failure,
		})
	})
}

// RecordEvent adds a completed event directly. Used by tests and by callers
// that observe traffic outside a live page.
func (n *NetworkCapture) RecordEvent(event NetworkEvent) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

// complete finalizes an in-flight request with its outcome.
func (n *NetworkCapture) complete(req playwright.Request, event NetworkEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if started, ok := n.inflight[req]; ok {
		event.StartedAt = started
		event.Duration = time.Since(started)
		delete(n.inflight, req)
	}
	n.events = append(n.events, event)
}

// Summary aggregates the captured traffic.
func (n *NetworkCapture) Summary() NetworkSummary {
	n.mu.Lock()
	events := append([]NetworkEvent(nil), n.events...)
	n.mu.Unlock()

	s := NetworkSummary{Total: len(events)}
	for _, e := range events {
		if e.Failed() {
			s.Failed++
			s.Failures = append(s.Failures, e)
		} else {
			s.Succeeded++
		}
		if e.Status != 0 {
			if s.StatusCodes == nil {
				s.StatusCodes = make(map[int]int)
			}
			s.StatusCodes[e.Status]++
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Duration > events[j].Duration
	})
	const slowestCount = 5
	for i := 0; i < len(events) && i < slowestCount; i++ {
		if events[i].Duration == 0 {
			break
		}
		s.Slowest = append(s.Slowest, events[i])
	}

	return s
}
