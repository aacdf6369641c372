// Package logger wraps log/slog with the process-wide loggers used by the
// agents and the API: an operational logger and a separate audit logger that
// records every negotiation transition.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string       `yaml:"level"`
	Format      string       `yaml:"format"`
	OutputPaths []string     `yaml:"output_paths"`
	Rotate      RotateConfig `yaml:"rotate"`
	Audit       AuditConfig  `yaml:"audit"`
}

// RotateConfig bounds the size and retention of file outputs.
type RotateConfig struct {
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// AuditConfig controls audit log output behaviour.
type AuditConfig struct {
	Enabled bool         `yaml:"enabled"`
	Path    string       `yaml:"path"`
	Rotate  RotateConfig `yaml:"rotate"`
}

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
	auditLogger   *slog.Logger
	closers       []io.Closer
)

// Init configures the global logger instances. Calling it again replaces the
// previous configuration and closes the files it opened.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	var opened []io.Closer

	handler, err := buildHandler(cfg, opts, &opened)
	if err != nil {
		closeAll(opened)
		return err
	}
	main := slog.New(handler)

	audit := main
	if cfg.Audit.Enabled {
		if strings.TrimSpace(cfg.Audit.Path) == "" {
			closeAll(opened)
			return errors.New("audit log path cannot be empty when enabled")
		}
		writer, err := newRotatingWriter(cfg.Audit.Path, cfg.Audit.Rotate)
		if err != nil {
			closeAll(opened)
			return err
		}
		opened = append(opened, writer)
		audit = slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	closeAll(closers)
	closers = opened
	defaultLogger = main
	auditLogger = audit
	return nil
}

func buildHandler(cfg Config, opts *slog.HandlerOptions, opened *[]io.Closer) (slog.Handler, error) {
	writers := make([]io.Writer, 0, len(cfg.OutputPaths))
	for _, out := range cfg.OutputPaths {
		writer, closer, err := openWriter(out, cfg.Rotate)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			*opened = append(*opened, closer)
		}
		writers = append(writers, writer)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(writer, opts), nil
	}
	return slog.NewJSONHandler(writer, opts), nil
}

func openWriter(path string, rotate RotateConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(path)) {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	if rotate.MaxSizeMB > 0 {
		writer, err := newRotatingWriter(path, rotate)
		if err != nil {
			return nil, nil, err
		}
		return writer, writer, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, file, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the structured logger instance.
func L() *slog.Logger {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l != nil {
		return l
	}
	_ = Init(Config{})
	return L()
}

// Audit returns the audit logger.
func Audit() *slog.Logger {
	mu.Lock()
	a := auditLogger
	mu.Unlock()
	if a == nil {
		return L()
	}
	return a
}

// Named returns a child logger with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// ForAgent returns a logger tagged with the agent kind and its address.
func ForAgent(kind, address string) *slog.Logger {
	return L().With(slog.String("agent", kind), slog.String("address", address))
}

// Sync flushes and closes every file output.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	err := closeAll(closers)
	closers = nil
	return err
}

func closeAll(list []io.Closer) error {
	var err error
	for _, c := range list {
		err = errors.Join(err, c.Close())
	}
	return err
}
