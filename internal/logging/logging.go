// Package logging provides the process-wide leveled logger. It is imported
// as `log "github.com/modelgate/modelgate/internal/logging"` so call sites
// read like the standard library.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var base = logrus.New()

// SetupBaseLogger configures console output and the level from
// MODELGATE_LOG_LEVEL. Called once at process start.
func SetupBaseLogger() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	level := strings.ToLower(strings.TrimSpace(os.Getenv("MODELGATE_LOG_LEVEL")))
	switch level {
	case "debug":
		base.SetLevel(logrus.DebugLevel)
	case "warn":
		base.SetLevel(logrus.WarnLevel)
	case "error":
		base.SetLevel(logrus.ErrorLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
	}
}

// ConfigureLogOutput switches logging to a rotated file when path is set.
// An empty path keeps console output.
func ConfigureLogOutput(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	base.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return nil
}

// SetLevel overrides the log level at runtime.
func SetLevel(level logrus.Level) { base.SetLevel(level) }

func Debugf(format string, args ...any) { base.Debugf(format, args...) }
func Infof(format string, args ...any)  { base.Infof(format, args...) }
func Warnf(format string, args ...any)  { base.Warnf(format, args...) }
func Errorf(format string, args ...any) { base.Errorf(format, args...) }
func Fatalf(format string, args ...any) { base.Fatalf(format, args...) }
