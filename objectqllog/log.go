// Package objectqllog provides the structured logger every component of
// this runtime logs through. Grounded directly on
// infrastructure/logging/logger.go: a *logrus.Logger wrapped with a
// service name and context-value extraction, trimmed to the fields
// ObjectQL's request pipeline actually carries (trace id, user id,
// object name) in place of blockchain-service field set.
package objectqllog

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ctxKey namespaces context values this package reads, avoiding
// collisions with unrelated string-keyed context values.
type ctxKey string

const (
	traceIDKey ctxKey = "objectql_trace_id"
	userIDKey  ctxKey = "objectql_user_id"
)

// Logger wraps logrus.Logger with ObjectQL's service tag and context
// extraction, mirroring Logger exactly.
type Logger struct {
	*logrus.Logger
	service string
}

// New builds a Logger for service at the given level ("debug", "info",
// "warn", "error") and format ("json" or "text").
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}
	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv builds a Logger using the LOG_LEVEL/LOG_FORMAT environment
// variables, defaulting to "info"/"json".
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithTraceID attaches traceID to ctx for downstream WithContext calls.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithUserID attaches userID to ctx for downstream WithContext calls.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// WithContext builds a log entry carrying every value WithTraceID/
// WithUserID attached to ctx, plus this Logger's service tag.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if v := ctx.Value(traceIDKey); v != nil {
		entry = entry.WithField("trace_id", v)
	}
	if v := ctx.Value(userIDKey); v != nil {
		entry = entry.WithField("user_id", v)
	}
	return entry
}

// WithObject builds a log entry tagged with the object name a pipeline
// operation is acting on, the one dimension logger has no
// equivalent for (it has no notion of a schema-bound entity).
func (l *Logger) WithObject(object string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"service": l.service, "object": object})
}
