// Package audit writes the operator-facing audit trail: an append-only
// newline-delimited JSON file where each record is {timestamp, level,
// message} and every message is plain English. Raw event dumps and latency
// measurements belong in the technical log, not here.
package audit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// DefaultPath is the fixed location of the audit trail.
const DefaultPath = "logs/audit.ndjson"

// Logger appends structured records to the audit file. Safe for concurrent
// use; logrus serializes writes to the underlying file.
type Logger struct {
	log  *logrus.Logger
	file *os.File
}

// New opens (or creates) the audit file in append mode.
func New(path string) (*Logger, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G302 G304 -- operator-readable audit trail
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	l := logrus.New()
	l.SetOutput(f)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.JSONFormatter{
		DisableHTMLEscape: true,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	return &Logger{log: l, file: f}, nil
}

// Info appends an informational record.
func (a *Logger) Info(msg string) { a.log.Info(msg) }

// Infof appends a formatted informational record.
func (a *Logger) Infof(format string, args ...any) { a.log.Infof(format, args...) }

// Warn appends a warning record (rule breaches, degraded protection).
func (a *Logger) Warn(msg string) { a.log.Warn(msg) }

// Warnf appends a formatted warning record.
func (a *Logger) Warnf(format string, args ...any) { a.log.Warnf(format, args...) }

// Error appends an error record (failed enforcement, failed rule loads).
func (a *Logger) Error(msg string) { a.log.Error(msg) }

// Errorf appends a formatted error record.
func (a *Logger) Errorf(format string, args ...any) { a.log.Errorf(format, args...) }

// Close flushes and closes the underlying file.
func (a *Logger) Close() error {
	return a.file.Close()
}
