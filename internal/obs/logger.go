// Package obs provides the structured logging used across the engine:
// a package-level base logger plus per-run/per-check/per-node field
// builders.
package obs

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide base logger; individual components derive
// ContextLogger values from it rather than logging directly.
var Logger = logrus.New()

// Config configures the base logger.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // "json" or "text"
	AddCaller bool
}

// DefaultConfig returns sensible defaults for interactive CLI runs.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", AddCaller: false}
}

// Configure applies a Config to the package-level Logger.
func Configure(cfg Config) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)

	if cfg.Format == "json" {
		Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}
	Logger.SetReportCaller(cfg.AddCaller)
}

// ContextLogger carries a fixed set of structured fields through a chain
// of derived loggers (run_id, check_name, node_id, ...).
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// New creates a ContextLogger rooted at the package-level Logger.
func New(fields map[string]any) *ContextLogger {
	return NewWithLogger(Logger, fields)
}

// NewWithLogger creates a ContextLogger rooted at a specific logrus
// instance, useful for tests that want to capture output.
func NewWithLogger(logger *logrus.Logger, fields map[string]any) *ContextLogger {
	if logger == nil {
		logger = Logger
	}
	base := make(logrus.Fields, len(fields))
	for k, v := range fields {
		base[k] = v
	}
	return &ContextLogger{logger: logger, fields: base}
}

// WithField returns a derived logger with one additional field.
func (c *ContextLogger) WithField(key string, value any) *ContextLogger {
	return c.WithFields(map[string]any{key: value})
}

// WithFields returns a derived logger with additional fields merged in.
func (c *ContextLogger) WithFields(fields map[string]any) *ContextLogger {
	merged := make(logrus.Fields, len(c.fields)+len(fields))
	for k, v := range c.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &ContextLogger{logger: c.logger, fields: merged}
}

// WithError returns a derived logger annotated with an error field.
func (c *ContextLogger) WithError(err error) *ContextLogger {
	return c.WithField("error", err.Error())
}

func (c *ContextLogger) Debug(msg string)                          { c.logger.WithFields(c.fields).Debug(msg) }
func (c *ContextLogger) Debugf(format string, args ...any)          { c.logger.WithFields(c.fields).Debugf(format, args...) }
func (c *ContextLogger) Info(msg string)                            { c.logger.WithFields(c.fields).Info(msg) }
func (c *ContextLogger) Infof(format string, args ...any)           { c.logger.WithFields(c.fields).Infof(format, args...) }
func (c *ContextLogger) Warn(msg string)                            { c.logger.WithFields(c.fields).Warn(msg) }
func (c *ContextLogger) Warnf(format string, args ...any)           { c.logger.WithFields(c.fields).Warnf(format, args...) }
func (c *ContextLogger) Error(msg string)                           { c.logger.WithFields(c.fields).Error(msg) }
func (c *ContextLogger) Errorf(format string, args ...any)          { c.logger.WithFields(c.fields).Errorf(format, args...) }

// RunLogger builds the base fields attached to every log line for the
// duration of one engine run.
func RunLogger(runID, company, target string) *ContextLogger {
	return New(map[string]any{
		"run_id":  runID,
		"company": company,
		"target":  target,
	})
}

// WithCheck derives a logger scoped to one check's execution.
func (c *ContextLogger) WithCheck(checkName string) *ContextLogger {
	return c.WithField("check_name", checkName)
}

// WithNode derives a logger scoped to one node's operations.
func (c *ContextLogger) WithNode(nodeID string) *ContextLogger {
	return c.WithField("node_id", nodeID)
}

// Duration logs how long an operation took under a given field name.
func Duration(c *ContextLogger, operation string) func() {
	start := time.Now()
	return func() {
		c.WithFields(map[string]any{
			"operation":   operation,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("operation completed")
	}
}
