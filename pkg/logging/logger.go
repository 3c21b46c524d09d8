// Package logging builds the process-wide structured logger. Logs go to a
// run-specific file under ~/.web-eval/logs/ so they never interleave with
// the JSON report on stdout; when the file cannot be opened the logger
// falls back to stderr.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

var (
	// Run ID shared by every logger in this process.
	runID     string
	runIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error
)

// getRunID returns or creates the run ID for this execution.
func getRunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

// initLogDirectory ensures the log directory exists.
func initLogDirectory() error {
	initOnce.Do(func() {
		if logDir != "" {
			return
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}
		logDir = filepath.Join(homeDir, ".web-eval", "logs")
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
		}
	})
	return initErr
}

// Options controls logger construction.
type Options struct {
	// Level is the minimum level to emit. Defaults to slog.LevelInfo.
	Level slog.Leveler

	// Stderr forces logging to stderr instead of the run log file.
	Stderr bool
}

// Logger wraps a *slog.Logger with its backing file, when one is open.
type Logger struct {
	*slog.Logger

	runID     string
	logPath   string
	file      *os.File
	closeOnce sync.Once
}

// New creates the run logger. All components in one process share a run ID
// and a log file; call With("component", ...) on the result for scoping.
//
// If the log file cannot be created, New returns a stderr-backed logger
// along with the error so callers can warn and keep going.
func New(opts Options) (*Logger, error) {
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}

	if opts.Stderr {
		return newWriterLogger(os.Stderr, level), nil
	}

	if err := initLogDirectory(); err != nil {
		return newWriterLogger(os.Stderr, level), err
	}

	logPath := filepath.Join(logDir, fmt.Sprintf("%s-web-eval.log", getRunID()))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return newWriterLogger(os.Stderr, level), fmt.Errorf("failed to open log file: %w", err)
	}

	l := newWriterLogger(file, level)
	l.file = file
	l.logPath = logPath
	return l, nil
}

func newWriterLogger(w io.Writer, level slog.Leveler) *Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{
		Logger: slog.New(handler).With("run_id", getRunID()),
		runID:  getRunID(),
	}
}

// RunID returns this process's run ID.
func (l *Logger) RunID() string {
	return l.runID
}

// LogPath returns the path to the log file, or "" when logging to stderr.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// RunID returns the current global run ID.
func RunID() string {
	return getRunID()
}

// Directory returns the directory where log files are stored.
func Directory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}
