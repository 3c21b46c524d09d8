// Package main provides the web-eval command: it runs AI-driven
// evaluations of web applications through a bounded browser pool and a
// session manager, then writes a JSON summary of the results.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Zeeeepa/web-eval-agent/pkg/browser"
	"github.com/Zeeeepa/web-eval-agent/pkg/config"
	"github.com/Zeeeepa/web-eval-agent/pkg/evaluator"
	"github.com/Zeeeepa/web-eval-agent/pkg/llm/openai"
	"github.com/Zeeeepa/web-eval-agent/pkg/logging"
	"github.com/Zeeeepa/web-eval-agent/pkg/report"
	"github.com/Zeeeepa/web-eval-agent/pkg/session"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	ConfigFile  string
	TargetsFile string
	URL         string
	Task        string
	Timeout     time.Duration
	OutputFile  string
	LogStderr   bool
	ShowVersion bool
}

// target is one evaluation to run.
type target struct {
	URL      string          `yaml:"url"`
	Task     string          `yaml:"task"`
	Headless *bool           `yaml:"headless"`
	Timeout  config.Duration `yaml:"timeout"`
}

// targetsFile is the YAML document accepted by -targets.
type targetsFile struct {
	Targets []target `yaml:"targets"`
}

func main() {
	cliConfig := parseFlags()

	if cliConfig.ShowVersion {
		fmt.Printf("web-eval v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nshutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cliConfig); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "web-eval: %v\n", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags.
func parseFlags() *CLIConfig {
	cliConfig := &CLIConfig{}

	flag.StringVar(&cliConfig.APIKey, "api-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key")
	flag.StringVar(&cliConfig.BaseURL, "base-url", os.Getenv("OPENAI_BASE_URL"), "OpenAI API base URL")
	flag.StringVar(&cliConfig.Model, "model", "", "LLM model to use (overrides config)")
	flag.StringVar(&cliConfig.ConfigFile, "config", "", "Path to configuration file (YAML)")
	flag.StringVar(&cliConfig.TargetsFile, "targets", "", "Path to targets file (YAML) with multiple evaluations")
	flag.StringVar(&cliConfig.URL, "url", "", "Target URL (required if no targets file)")
	flag.StringVar(&cliConfig.Task, "task", "", "Evaluation task description (required if no targets file)")
	flag.DurationVar(&cliConfig.Timeout, "timeout", 0, "Per-session timeout (overrides config)")
	flag.StringVar(&cliConfig.OutputFile, "output", "web-eval-summary.json", "Output file for the run summary")
	flag.BoolVar(&cliConfig.LogStderr, "log-stderr", false, "Log to stderr instead of the run log file")
	flag.BoolVar(&cliConfig.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "web-eval - AI-driven web application evaluator\n\n")
		fmt.Fprintf(os.Stderr, "Usage: web-eval [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Evaluate one target\n")
		fmt.Fprintf(os.Stderr, "  web-eval -url https://app.example.com -task \"Check that login works\"\n\n")
		fmt.Fprintf(os.Stderr, "  # Evaluate a batch of targets concurrently\n")
		fmt.Fprintf(os.Stderr, "  web-eval -targets targets.yaml -config web-eval.yaml\n\n")
	}

	flag.Parse()
	return cliConfig
}

func run(ctx context.Context, cliConfig *CLIConfig) error {
	cfg, err := loadConfig(cliConfig)
	if err != nil {
		return err
	}

	targets, err := loadTargets(cliConfig)
	if err != nil {
		return err
	}

	logger, logErr := logging.New(logging.Options{
		Level:  slogLevel(cfg.Logging.Level),
		Stderr: cfg.Logging.Stderr || cliConfig.LogStderr,
	})
	if logErr != nil {
		logger.Warn("file logging unavailable, using stderr", "error", logErr)
	}
	defer logger.Close()

	provider, err := openai.NewProvider(cliConfig.APIKey, providerOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}

	eval, err := evaluator.New(provider,
		evaluator.WithMaxSteps(cfg.Evaluator.MaxSteps),
		evaluator.WithSnapshotTokenBudget(cfg.Evaluator.SnapshotTokenBudget),
		evaluator.WithConsoleIgnore(cfg.Evaluator.ConsoleIgnore),
		evaluator.WithLogger(logger.Logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create evaluator: %w", err)
	}

	runtime := browser.NewRuntime()
	if err := runtime.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize browser runtime: %w", err)
	}
	defer runtime.Stop()

	pool := browser.NewPool(runtime.ChromiumFactory(), browser.Options{
		MaxSize:        cfg.Pool.MaxSize,
		MaxIdleTime:    cfg.Pool.MaxIdleTime.Std(),
		MaxAge:         cfg.Pool.MaxAge.Std(),
		AcquireTimeout: cfg.Pool.AcquireTimeout.Std(),
		ReapInterval:   cfg.Pool.ReapInterval.Std(),
		Launch: browser.LaunchOptions{
			Headless:       cfg.Browser.Headless,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
		},
	}, logger.Logger)

	manager := session.NewManager(pool, session.Options{
		MaxConcurrent:  cfg.Sessions.MaxConcurrent,
		QueueTimeout:   cfg.Sessions.QueueTimeout.Std(),
		CancelGrace:    cfg.Sessions.CancelGrace.Std(),
		Retention:      cfg.Sessions.Retention.Std(),
		DefaultTimeout: cfg.Sessions.SessionTimeout.Std(),
	}, logger.Logger)

	if cfg.Pool.MaxSize < cfg.Sessions.MaxConcurrent {
		logger.Warn("pool is smaller than the session ceiling; some admitted sessions will wait on acquire",
			"pool_size", cfg.Pool.MaxSize, "max_concurrent", cfg.Sessions.MaxConcurrent)
	}

	logger.Info("run starting",
		"targets", len(targets),
		"max_concurrent", cfg.Sessions.MaxConcurrent,
		"pool_size", cfg.Pool.MaxSize)

	outcomes := runEvaluations(ctx, manager, eval, targets, logger.Logger)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown did not drain cleanly", "error", err)
	}

	summary := &report.Summary{
		GeneratedAt: time.Now(),
		Outcomes:    outcomes,
	}
	if err := summary.WriteJSON(cliConfig.OutputFile); err != nil {
		return err
	}
	logger.Info("run finished", "summary", cliConfig.OutputFile)

	if failed := failedCount(outcomes); failed > 0 {
		return fmt.Errorf("%d of %d evaluations did not pass", failed, len(outcomes))
	}
	return nil
}

// runEvaluations starts every target as a session and drives them all
// concurrently. The manager's ceiling decides how many actually run at once.
func runEvaluations(ctx context.Context, manager *session.Manager, eval *evaluator.Evaluator, targets []target, logger *slog.Logger) []report.SessionOutcome {
	outcomes := make([]report.SessionOutcome, len(targets))

	var wg sync.WaitGroup
	for i, tgt := range targets {
		headless := true
		if tgt.Headless != nil {
			headless = *tgt.Headless
		}
		sessionConfig := session.Config{
			TargetURL: tgt.URL,
			Task:      tgt.Task,
			Headless:  headless,
			Timeout:   tgt.Timeout.Std(),
		}

		id, err := manager.StartSession(sessionConfig)
		if err != nil {
			outcomes[i] = report.SessionOutcome{
				Status: string(session.StatusFailed),
				Error:  err.Error(),
			}
			continue
		}

		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()

			payload, runErr := manager.RunEvaluation(ctx, id, eval.Run)

			outcome := report.SessionOutcome{SessionID: id}
			if snapshot, statusErr := manager.GetSessionStatus(id); statusErr == nil {
				outcome.Status = string(snapshot.Status)
			}
			if runErr != nil {
				outcome.Error = runErr.Error()
			}
			if evaluation, ok := payload.(*report.Evaluation); ok {
				outcome.Evaluation = evaluation
			}
			outcomes[i] = outcome

			logger.Info("session outcome",
				"session", id, "status", outcome.Status, "error", outcome.Error)
		}(i, id)
	}
	wg.Wait()

	return outcomes
}

// loadConfig loads the run configuration, applying CLI overrides.
func loadConfig(cliConfig *CLIConfig) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if cliConfig.ConfigFile != "" {
		loaded, err := config.Load(cliConfig.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cliConfig.Model != "" {
		cfg.LLM.Model = cliConfig.Model
	}
	if cliConfig.BaseURL != "" {
		cfg.LLM.BaseURL = cliConfig.BaseURL
	}
	if cliConfig.Timeout > 0 {
		cfg.Sessions.SessionTimeout = config.Duration(cliConfig.Timeout)
	}

	return cfg, nil
}

// loadTargets builds the evaluation list from -targets or -url/-task.
func loadTargets(cliConfig *CLIConfig) ([]target, error) {
	if cliConfig.TargetsFile != "" {
		data, err := os.ReadFile(cliConfig.TargetsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read targets file: %w", err)
		}
		var doc targetsFile
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse targets file: %w", err)
		}
		if len(doc.Targets) == 0 {
			return nil, fmt.Errorf("targets file %s lists no targets", cliConfig.TargetsFile)
		}
		return doc.Targets, nil
	}

	if cliConfig.URL == "" || cliConfig.Task == "" {
		return nil, fmt.Errorf("either -targets or both -url and -task are required")
	}
	return []target{{
		URL:     cliConfig.URL,
		Task:    cliConfig.Task,
		Timeout: config.Duration(cliConfig.Timeout),
	}}, nil
}

func providerOptions(cfg *config.Config) []openai.ProviderOption {
	opts := []openai.ProviderOption{}
	if cfg.LLM.Model != "" {
		opts = append(opts, openai.WithModel(cfg.LLM.Model))
	}
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.LLM.BaseURL))
	}
	return opts
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// failedCount counts outcomes that did not finish as a passing evaluation.
func failedCount(outcomes []report.SessionOutcome) int {
	failed := 0
	for _, outcome := range outcomes {
		switch {
		case outcome.Error != "":
			failed++
		case outcome.Evaluation != nil && outcome.Evaluation.Verdict == report.VerdictFail:
			failed++
		}
	}
	return failed
}
