// Package logger provides structured logging for services, backed by logrus.
// Services receive a *Logger at construction and default to NewDefault when
// none is supplied.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls the behaviour of a Logger built with New.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Unknown values fall back to info.
	Level string
	// Format is "json" or "text".
	Format string
	// Output is "stdout", "stderr" or "file".
	Output string
	// FilePrefix names the log file when Output is "file"; the current date and
	// a .log suffix are appended.
	FilePrefix string
}

// Logger wraps a logrus entry so call sites can chain WithField/WithError and
// the usual level methods.
type Logger struct {
	*logrus.Entry
	core *logrus.Logger
}

// New builds a Logger from cfg. Invalid settings degrade to sensible defaults
// rather than failing startup.
func New(cfg LoggingConfig) *Logger {
	core := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	core.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		core.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		core.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	switch strings.ToLower(cfg.Output) {
	case "stderr":
		core.SetOutput(os.Stderr)
	case "file":
		if w, err := openLogFile(cfg.FilePrefix); err == nil {
			core.SetOutput(w)
		} else {
			core.SetOutput(os.Stderr)
			core.WithError(err).Warn("log file unavailable, falling back to stderr")
		}
	default:
		core.SetOutput(os.Stdout)
	}

	return &Logger{Entry: logrus.NewEntry(core), core: core}
}

// NewDefault returns an info-level text logger on stderr tagged with the
// component name. It is the fallback used by service constructors.
func NewDefault(name string) *Logger {
	core := logrus.New()
	core.SetLevel(logrus.InfoLevel)
	core.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	core.SetOutput(os.Stderr)
	return &Logger{Entry: core.WithField("component", name), core: core}
}

// SetOutput redirects all output of the logger, including entries derived from
// it via WithField and friends.
func (l *Logger) SetOutput(w io.Writer) {
	l.core.SetOutput(w)
}

// SetLevel adjusts the minimum level at runtime.
func (l *Logger) SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	l.core.SetLevel(parsed)
	return nil
}

func openLogFile(prefix string) (io.Writer, error) {
	if prefix == "" {
		prefix = "service"
	}
	name := fmt.Sprintf("%s-%s.log", prefix, time.Now().Format("20060102"))
	return os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
