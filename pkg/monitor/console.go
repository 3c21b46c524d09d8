// Package monitor captures browser-side observations during an evaluation:
// console output and network traffic, with enough classification to flag
// the failures that matter (uncaught exceptions, failed requests, CORS and
// CSP violations).
package monitor

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/playwright-community/playwright-go"
)

// ConsoleLevel is the severity of a console message.
type ConsoleLevel string

const (
	LevelError   ConsoleLevel = "error"
	LevelWarning ConsoleLevel = "warning"
	LevelInfo    ConsoleLevel = "info"
	LevelLog     ConsoleLevel = "log"
	LevelDebug   ConsoleLevel = "debug"
)

// severityScore orders levels for summary ranking.
func (l ConsoleLevel) severityScore() int {
	switch l {
	case LevelError:
		return 5
	case LevelWarning:
		return 3
	case LevelInfo, LevelLog:
		return 1
	default:
		return 0
	}
}

// ConsoleEntry is one captured console message or page error.
type ConsoleEntry struct {
	Level    ConsoleLevel `json:"level"`
	Text     string       `json:"text"`
	Category string       `json:"category,omitempty"`
	At       time.Time    `json:"at"`
}

// consolePattern categorizes messages matching a known failure signature.
type consolePattern struct {
	name           string
	re             *regexp.Regexp
	category       string
	actionRequired bool
}

// knownPatterns are the failure signatures worth surfacing in a verdict.
var knownPatterns = []consolePattern{
	{
		name:           "uncaught_exception",
		re:             regexp.MustCompile(`(?i)Uncaught\s+(TypeError|ReferenceError|SyntaxError|Error)`),
		category:       "javascript_error",
		actionRequired: true,
	},
	{
		name:           "network_error",
		re:             regexp.MustCompile(`(?i)(Failed to load|net::ERR_|NetworkError|fetch.*failed)`),
		category:       "network_error",
		actionRequired: true,
	},
	{
		name:           "cors_error",
		re:             regexp.MustCompile(`(?i)(CORS|Cross-Origin|Access-Control-Allow)`),
		category:       "cors_error",
		actionRequired: true,
	},
	{
		name:           "csp_violation",
		re:             regexp.MustCompile(`(?i)Content Security Policy|CSP`),
		category:       "security_error",
		actionRequired: true,
	},
	{
		name:     "deprecation",
		re:       regexp.MustCompile(`(?i)deprecat`),
		category: "deprecation_warning",
	},
}

// ConsoleSummary aggregates everything captured during one evaluation.
type ConsoleSummary struct {
	Total      int            `json:"total"`
	Errors     int            `json:"errors"`
	Warnings   int            `json:"warnings"`
	ByCategory map[string]int `json:"by_category,omitempty"`
	Issues     []string       `json:"issues,omitempty"`
	Entries    []ConsoleEntry `json:"entries,omitempty"`
}

// ConsoleCapture collects console messages and page errors from a page.
// It is safe for concurrent use; playwright delivers events on its own
// goroutines.
type ConsoleCapture struct {
	mu      sync.Mutex
	entries []ConsoleEntry
	ignore  []glob.Glob
}

// NewConsoleCapture creates a capture. Messages matching any of the glob
// ignore patterns are dropped (useful for framework noise).
func NewConsoleCapture(ignorePatterns []string) (*ConsoleCapture, error) {
	c := &ConsoleCapture{}
	for _, p := range ignorePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid console ignore pattern %q: %w", p, err)
		}
		c.ignore = append(c.ignore, g)
	}
	return c, nil
}

// Attach subscribes to the page's console and pageerror events.
func (c *ConsoleCapture) Attach(page playwright.Page) {
	page.OnConsole(func(msg playwright.ConsoleMessage) {
		c.Record(levelFromType(msg.Type()), msg.Text())
	})
	page.OnPageError(func(err error) {
		c.Record(LevelError, fmt.Sprintf("Uncaught %v", err))
	})
}

// Record adds one message, applying ignore patterns and categorization.
func (c *ConsoleCapture) Record(level ConsoleLevel, text string) {
	for _, g := range c.ignore {
		if g.Match(text) {
			return
		}
	}

	entry := ConsoleEntry{Level: level, Text: text, At: time.Now()}
	for _, p := range knownPatterns {
		if p.re.MatchString(text) {
			entry.Category = p.category
			if p.actionRequired && entry.Level.severityScore() < LevelError.severityScore() {
				entry.Level = LevelError
			}
			break
		}
	}

	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
}

// Summary aggregates the captured entries.
func (c *ConsoleCapture) Summary() ConsoleSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := ConsoleSummary{
		Total:   len(c.entries),
		Entries: append([]ConsoleEntry(nil), c.entries...),
	}

	for _, e := range c.entries {
		switch e.Level {
		case LevelError:
			s.Errors++
		case LevelWarning:
			s.Warnings++
		}
		if e.Category != "" {
			if s.ByCategory == nil {
				s.ByCategory = make(map[string]int)
			}
			s.ByCategory[e.Category]++
			if e.Level == LevelError {
				s.Issues = append(s.Issues, fmt.Sprintf("[%s] %s", e.Category, e.Text))
			}
		}
	}

	return s
}

// levelFromType maps a playwright console message type to a level.
func levelFromType(t string) ConsoleLevel {
	switch t {
	case "error", "assert":
		return LevelError
	case "warning":
		return LevelWarning
	case "info":
		return LevelInfo
	case "debug", "trace":
		return LevelDebug
	default:
		return LevelLog
	}
}
