// Package logging configures the structured logger shared by every
// component of the editor core.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config configures the logger.
type Config struct {
	// Level is the minimum level: debug, info, warn, or error.
	Level string `koanf:"level"`

	// Format is "text" or "json".
	Format string `koanf:"format"`

	// Output is where logs go. Defaults to os.Stderr.
	Output io.Writer `koanf:"-"`
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", Output: os.Stderr}
}

// ParseLevel parses a level name. Unknown names fall back to info.
func ParseLevel(s string) logrus.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// New builds a logger from cfg.
func New(cfg Config) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(ParseLevel(cfg.Level))
	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	}
	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// Discard returns a logger that writes nothing.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var (
	globalMu sync.RWMutex
	global   = logrus.StandardLogger()
)

// Get returns the process-wide logger.
func Get() *logrus.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// Set replaces the process-wide logger.
func Set(l *logrus.Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = l
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return Get().WithField("component", name)
}

// WithComponent tags an existing entry or logger with a component name.
// A nil logger falls back to the process-wide one.
func WithComponent(l logrus.FieldLogger, name string) *logrus.Entry {
	if l == nil {
		return Component(name)
	}
	return l.WithField("component", name)
}
