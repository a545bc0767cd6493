// Package logging wraps logrus with the engine's level/format/output
// configuration conventions.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps *logrus.Logger so call sites can depend on a narrow,
// swappable type instead of logrus directly.
type Logger struct {
	*logrus.Logger
}

// Config configures level, format and output destination.
type Config struct {
	Level  string // "debug" | "info" | "warn" | "error"
	Format string // "text" | "json"
	Output string // "stdout" | "file"
	Path   string // file path, used when Output == "file"
}

// New builds a Logger from cfg. Invalid levels fall back to Info.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		path := cfg.Path
		if path == "" {
			path = "flowforge.log"
		}
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			l.SetOutput(io.MultiWriter(os.Stdout, f))
		} else {
			l.SetOutput(os.Stdout)
			l.WithError(err).Warn("falling back to stdout logging")
		}
	default:
		l.SetOutput(os.Stdout)
	}

	return &Logger{Logger: l}
}

// NewDefault builds a Logger with info level, text format and stdout
// output. The component name is not attached to the returned Logger:
// its log lines carry no "component" field.
func NewDefault(component string) *Logger {
	l := New(Config{Level: "info", Format: "text", Output: "stdout"})
	return &Logger{Logger: l.Logger.WithField("component", component).Logger}
}

// WithField returns a log entry with a single structured field.
func (l *Logger) WithField(key string, value any) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a log entry with multiple structured fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// RunLogger scopes a Logger to one run and node, matching the
// context fields every runner log line carries (runId always; nodeId
// when inside node execution).
func (l *Logger) RunLogger(runID, nodeID string) *logrus.Entry {
	fields := logrus.Fields{"runId": runID}
	if nodeID != "" {
		fields["nodeId"] = nodeID
	}
	return l.WithFields(fields)
}
