package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the application logger. It satisfies logrus.FieldLogger and owns
// the log file, if any.
type Logger struct {
	*logrus.Logger

	file *os.File
}

// ParseLogLevel parses a level name, falling back to info.
// "off" and "none" silence everything but panics.
func ParseLogLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none":
		return logrus.PanicLevel
	case "":
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger builds a logger from cfg. An empty File logs to stderr.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	base := logrus.New()
	base.SetLevel(ParseLogLevel(cfg.Level))
	if strings.EqualFold(cfg.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: cfg.File != ""})
	}

	logger := &Logger{Logger: base}
	if cfg.File == "" {
		base.SetOutput(os.Stderr)
		return logger, nil
	}

	path := ExpandHome(cfg.File)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}

	// #nosec G304 -- log file path is from validated config
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	base.SetOutput(f)
	logger.file = f

	return logger, nil
}

// NullLogger returns a logger that discards all output.
func NullLogger() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Logger: base}
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
