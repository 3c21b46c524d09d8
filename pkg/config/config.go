// Package config defines the run configuration loaded from a YAML file,
// with defaults that match a single-machine deployment.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m". Bare integers are taken as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		var ns int64
		if numErr := value.Decode(&ns); numErr != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		parsed = time.Duration(ns)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level run configuration.
type Config struct {
	// Sessions configures admission control and queueing.
	Sessions SessionConfig `yaml:"sessions" json:"sessions"`

	// Pool configures the browser resource pool.
	Pool PoolConfig `yaml:"pool" json:"pool"`

	// Browser configures launched browser instances.
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// LLM configures the model provider.
	LLM LLMConfig `yaml:"llm" json:"llm"`

	// Evaluator configures the evaluation loop.
	Evaluator EvaluatorConfig `yaml:"evaluator" json:"evaluator"`

	// Logging configures the run logger.
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SessionConfig bounds concurrent evaluations and their lifecycle.
type SessionConfig struct {
	MaxConcurrent  int      `yaml:"max_concurrent" json:"max_concurrent"`
	QueueTimeout   Duration `yaml:"queue_timeout" json:"queue_timeout"`
	SessionTimeout Duration `yaml:"session_timeout" json:"session_timeout"`
	CancelGrace    Duration `yaml:"cancel_grace" json:"cancel_grace"`
	Retention      Duration `yaml:"retention" json:"retention"`
}

// PoolConfig bounds the browser pool and its eviction policy.
type PoolConfig struct {
	MaxSize        int      `yaml:"max_size" json:"max_size"`
	MaxIdleTime    Duration `yaml:"max_idle_time" json:"max_idle_time"`
	MaxAge         Duration `yaml:"max_age" json:"max_age"`
	AcquireTimeout Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
	ReapInterval   Duration `yaml:"reap_interval" json:"reap_interval"`
}

// BrowserConfig controls launched browser instances.
type BrowserConfig struct {
	Headless       bool `yaml:"headless" json:"headless"`
	ViewportWidth  int  `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int  `yaml:"viewport_height" json:"viewport_height"`
}

// LLMConfig selects the model provider. The API key is never stored in
// config files; it comes from the OPENAI_API_KEY environment variable.
type LLMConfig struct {
	Model   string `yaml:"model" json:"model"`
	BaseURL string `yaml:"base_url" json:"base_url"`
}

// EvaluatorConfig bounds the evaluation loop.
type EvaluatorConfig struct {
	MaxSteps            int      `yaml:"max_steps" json:"max_steps"`
	SnapshotTokenBudget int      `yaml:"snapshot_token_budget" json:"snapshot_token_budget"`
	ConsoleIgnore       []string `yaml:"console_ignore" json:"console_ignore"`
}

// LoggingConfig configures the run logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	// Stderr logs to stderr instead of the run log file.
	Stderr bool `yaml:"stderr" json:"stderr"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Sessions: SessionConfig{
			MaxConcurrent:  5,
			QueueTimeout:   0,
			SessionTimeout: Duration(5 * time.Minute),
			CancelGrace:    Duration(10 * time.Second),
			Retention:      Duration(time.Hour),
		},
		Pool: PoolConfig{
			MaxSize:        5,
			MaxIdleTime:    Duration(5 * time.Minute),
			MaxAge:         Duration(time.Hour),
			AcquireTimeout: Duration(30 * time.Second),
			ReapInterval:   Duration(30 * time.Second),
		},
		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  1280,
			ViewportHeight: 720,
		},
		LLM: LLMConfig{
			Model: "gpt-4o",
		},
		Evaluator: EvaluatorConfig{
			MaxSteps:            15,
			SnapshotTokenBudget: 4000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults. Unknown keys are
// rejected so typos fail loudly instead of silently using defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Sessions.MaxConcurrent < 1 {
		return fmt.Errorf("sessions.max_concurrent must be at least 1")
	}
	if c.Sessions.QueueTimeout < 0 {
		return fmt.Errorf("sessions.queue_timeout cannot be negative")
	}
	if c.Sessions.SessionTimeout < 0 {
		return fmt.Errorf("sessions.session_timeout cannot be negative")
	}
	if c.Sessions.CancelGrace < 0 {
		return fmt.Errorf("sessions.cancel_grace cannot be negative")
	}
	if c.Sessions.Retention < 0 {
		return fmt.Errorf("sessions.retention cannot be negative")
	}

	if c.Pool.MaxSize < 1 {
		return fmt.Errorf("pool.max_size must be at least 1")
	}
	if c.Pool.MaxIdleTime < 0 {
		return fmt.Errorf("pool.max_idle_time cannot be negative")
	}
	if c.Pool.MaxAge < 0 {
		return fmt.Errorf("pool.max_age cannot be negative")
	}
	if c.Pool.AcquireTimeout < 0 {
		return fmt.Errorf("pool.acquire_timeout cannot be negative")
	}
	if c.Pool.ReapInterval < 0 {
		return fmt.Errorf("pool.reap_interval cannot be negative")
	}

	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return fmt.Errorf("browser viewport dimensions cannot be negative")
	}

	if c.Evaluator.MaxSteps <= 0 {
		return fmt.Errorf("evaluator.max_steps must be positive")
	}
	if c.Evaluator.SnapshotTokenBudget <= 0 {
		return fmt.Errorf("evaluator.snapshot_token_budget must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}
