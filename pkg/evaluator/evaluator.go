// Package evaluator implements the AI-driven evaluation function: a loop
// that observes the page, asks the model for the next browser action,
// executes it, and reports the observed behavior.
//
// The evaluator is handed a pooled browser handle by the session manager
// and must never outlive its lease: every step observes the context so
// cooperative cancellation unwinds promptly.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/playwright-community/playwright-go"

	"github.com/Zeeeepa/web-eval-agent/pkg/browser"
	"github.com/Zeeeepa/web-eval-agent/pkg/llm"
	"github.com/Zeeeepa/web-eval-agent/pkg/monitor"
	"github.com/Zeeeepa/web-eval-agent/pkg/report"
	"github.com/Zeeeepa/web-eval-agent/pkg/session"
	"github.com/Zeeeepa/web-eval-agent/pkg/types"
)

const (
	defaultMaxSteps       = 15
	defaultSnapshotBudget = 4000 // tokens per page snapshot
	maxParseFailures      = 2

	actionTimeout = 10000.0 // milliseconds, per browser action
)

const systemPrompt = `You are a web application evaluator driving a real browser.
Each turn you receive the current page state and must reply with exactly one JSON object:
  {"action":"navigate","url":"..."}
  {"action":"click","selector":"..."}
  {"action":"fill","selector":"...","value":"..."}
  {"action":"wait","selector":"..."}
  {"action":"finish","verdict":"pass|fail|inconclusive","summary":"..."}
Use CSS selectors present in the page outline. Finish as soon as you can judge the task.`

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMaxSteps bounds the number of actions per evaluation.
func WithMaxSteps(n int) Option {
	return func(e *Evaluator) {
		e.maxSteps = n
	}
}

// WithSnapshotTokenBudget bounds the page snapshot size in tokens.
func WithSnapshotTokenBudget(n int) Option {
	return func(e *Evaluator) {
		e.snapshotBudget = n
	}
}

// WithConsoleIgnore sets glob patterns for console messages to drop.
func WithConsoleIgnore(patterns []string) Option {
	return func(e *Evaluator) {
		e.consoleIgnore = patterns
	}
}

// WithLogger sets the evaluator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// Evaluator runs AI-driven evaluations against pooled browser handles.
type Evaluator struct {
	provider       llm.Provider
	logger         *slog.Logger
	encoder        *tiktoken.Tiktoken
	maxSteps       int
	snapshotBudget int
	consoleIgnore  []string
}

// New creates an evaluator backed by the given LLM provider.
func New(provider llm.Provider, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		provider:       provider,
		logger:         slog.Default(),
		maxSteps:       defaultMaxSteps,
		snapshotBudget: defaultSnapshotBudget,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "evaluator")

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoder: %w", err)
	}
	e.encoder = enc

	return e, nil
}

// Func returns the evaluator as a session.EvalFunc.
func (e *Evaluator) Func() session.EvalFunc {
	return e.Run
}

// Run evaluates one target with the given browser handle. It always
// returns a *report.Evaluation payload, even alongside an error, so the
// caller can report partial observations.
func (e *Evaluator) Run(ctx context.Context, handle *browser.Handle, config session.Config) (any, error) {
	page := handle.Page()
	if page == nil {
		return nil, fmt.Errorf("handle %s has no page", handle.ID())
	}

	result := &report.Evaluation{
		TargetURL: config.TargetURL,
		Task:      config.Task,
		Verdict:   report.VerdictInconclusive,
		StartedAt: time.Now(),
	}
	finish := func(err error) (any, error) {
		result.FinishedAt = time.Now()
		result.Duration = result.FinishedAt.Sub(result.StartedAt)
		return result, err
	}

	console, err := monitor.NewConsoleCapture(e.consoleIgnore)
	if err != nil {
		return finish(err)
	}
	network := monitor.NewNetworkCapture()
	console.Attach(page)
	network.Attach(page)
	defer func() {
		result.Console = console.Summary()
		result.Network = network.Summary()
	}()

	if _, err := page.Goto(config.TargetURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return finish(classifyBrowserError(fmt.Errorf("failed to open %s: %w", config.TargetURL, err)))
	}

	var transcript []string
	parseFailures := 0

	for step := 1; step <= e.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		prompt, err := e.buildPrompt(page, config, console, network, transcript)
		if err != nil {
			return finish(err)
		}

		reply, err := e.provider.Complete(ctx, []*types.Message{
			types.NewSystemMessage(systemPrompt),
			types.NewUserMessage(prompt),
		})
		if err != nil {
			return finish(fmt.Errorf("model request failed: %w", err))
		}

		action, err := ParseAction(reply.Content)
		if err != nil {
			parseFailures++
			e.logger.Warn("unparseable model action", "step", step, "error", err)
			if parseFailures > maxParseFailures {
				return finish(fmt.Errorf("model kept returning unparseable actions: %w", err))
			}
			transcript = append(transcript, fmt.Sprintf("step %d: your reply was not a valid action (%v); reply with one JSON object", step, err))
			continue
		}

		entry := report.Step{
			Index:  step,
			Action: string(action.Type),
			Detail: action.describe(),
			At:     time.Now(),
		}

		if action.Type == ActionFinish {
			result.Verdict = report.Verdict(action.Verdict)
			result.Summary = action.Summary
			result.Steps = append(result.Steps, entry)
			e.logger.Info("evaluation finished", "verdict", result.Verdict, "steps", step)
			return finish(nil)
		}

		if execErr := e.execute(page, action); execErr != nil {
			execErr = classifyBrowserError(execErr)
			if session.IsCorruption(execErr) {
				entry.Error = execErr.Error()
				result.Steps = append(result.Steps, entry)
				return finish(execErr)
			}
			// Non-fatal action failure: tell the model and keep going.
			entry.Error = execErr.Error()
			transcript = append(transcript, fmt.Sprintf("step %d: %s failed: %v", step, action.Type, execErr))
		} else {
			entry.Outcome = page.URL()
			transcript = append(transcript, fmt.Sprintf("step %d: %s ok (now at %s)", step, action.describe(), page.URL()))
		}
		result.Steps = append(result.Steps, entry)
	}

	result.Summary = fmt.Sprintf("no verdict after %d steps", e.maxSteps)
	return finish(nil)
}

// buildPrompt renders the current page and observation state for the model.
func (e *Evaluator) buildPrompt(page playwright.Page, config session.Config, console *monitor.ConsoleCapture, network *monitor.NetworkCapture, transcript []string) (string, error) {
	content, err := page.Content()
	if err != nil {
		return "", classifyBrowserError(fmt.Errorf("failed to read page content: %w", err))
	}

	snap, err := snapshotPage(content, e.snapshotBudget, e.encoder)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", config.Task)
	fmt.Fprintf(&b, "Current URL: %s\n", page.URL())
	if snap.Title != "" {
		fmt.Fprintf(&b, "Page title: %s\n", snap.Title)
	}
	if snap.Description != "" {
		fmt.Fprintf(&b, "Page description: %s\n", snap.Description)
	}

	cs := console.Summary()
	ns := network.Summary()
	fmt.Fprintf(&b, "Console: %d messages, %d errors\n", cs.Total, cs.Errors)
	for _, issue := range cs.Issues {
		fmt.Fprintf(&b, "  console issue: %s\n", issue)
	}
	fmt.Fprintf(&b, "Network: %d requests, %d failed\n", ns.Total, ns.Failed)
	for _, f := range ns.Failures {
		fmt.Fprintf(&b, "  failed request: %s %s (%d %s)\n", f.Method, f.URL, f.Status, f.Failure)
	}

	if len(transcript) > 0 {
		b.WriteString("Previous steps:\n")
		for _, line := range transcript {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}

	b.WriteString("Page outline:\n")
	b.WriteString(snap.Outline)
	return b.String(), nil
}

// execute performs one non-finish action against the page.
func (e *Evaluator) execute(page playwright.Page, action *Action) error {
	switch action.Type {
	case ActionNavigate:
		_, err := page.Goto(action.URL, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		})
		return err
	case ActionClick:
		return page.Click(action.Selector, playwright.PageClickOptions{
			Timeout: playwright.Float(actionTimeout),
		})
	case ActionFill:
		return page.Fill(action.Selector, action.Value, playwright.PageFillOptions{
			Timeout: playwright.Float(actionTimeout),
		})
	case ActionWait:
		_, err := page.WaitForSelector(action.Selector, playwright.PageWaitForSelectorOptions{
			Timeout: playwright.Float(actionTimeout),
		})
		return err
	default:
		return fmt.Errorf("unexecutable action %q", action.Type)
	}
}

// describe renders an action for step logs and the model transcript.
func (a *Action) describe() string {
	switch a.Type {
	case ActionNavigate:
		return fmt.Sprintf("navigate to %s", a.URL)
	case ActionClick:
		return fmt.Sprintf("click %s", a.Selector)
	case ActionFill:
		return fmt.Sprintf("fill %s", a.Selector)
	case ActionWait:
		return fmt.Sprintf("wait for %s", a.Selector)
	case ActionFinish:
		return fmt.Sprintf("finish: %s", a.Verdict)
	default:
		return string(a.Type)
	}
}

// classifyBrowserError wraps errors that indicate the browser process
// itself is gone, so the session manager releases the handle unhealthy.
func classifyBrowserError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, signature := range []string{
		"target closed",
		"browser has been closed",
		"target crashed",
		"connection closed",
	} {
		if strings.Contains(msg, signature) {
			return session.MarkCorrupted(err)
		}
	}
	return err
}
