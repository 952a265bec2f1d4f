// Package logging builds the daemon's technical logger: leveled logrus output
// to a size-rotated file (10 MiB, 5 backups). This log receives raw event
// dumps, broker I/O errors, and enforcement latency measurements; the
// operator-facing audit trail lives in package audit.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultPath is the fixed location of the technical log.
const DefaultPath = "logs/live.log"

const (
	maxSizeMiB = 10
	maxBackups = 5
)

// New creates the technical logger writing to a rotating file at path.
// When echo is true, records are mirrored to stderr (useful in foreground
// runs and tests).
func New(path, level string, echo bool) *logrus.Logger {
	if path == "" {
		path = DefaultPath
	}

	var out io.Writer = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMiB,
		MaxBackups: maxBackups,
	}
	if echo {
		out = io.MultiWriter(out, os.Stderr)
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(ParseLevel(level))
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		DisableColors:   true,
	})
	return l
}

// ParseLevel maps the config's log_level strings onto logrus levels,
// defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN", "WARNING":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
