// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// RoundIDKey is the context key for the campaign round being processed
	RoundIDKey contextKey = "round_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id and round_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("request_id", requestID)),
		}
	}

	if roundID, ok := ctx.Value(RoundIDKey).(string); ok && roundID != "" {
		newLogger = newLogger.WithRoundID(roundID)
	}

	return newLogger
}

// WithRoundID returns a logger scoped to a campaign round.
func (l *Logger) WithRoundID(roundID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("round_id", roundID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// StageEvent logs a lifecycle stage outcome for a round.
func (l *Logger) StageEvent(roundID, stage, outcome string) {
	l.Info("stage_event",
		slog.String("round_id", roundID),
		slog.String("stage", stage),
		slog.String("outcome", outcome),
	)
}

// StageDiscarded logs a stage job that fired against an unexpected round state.
func (l *Logger) StageDiscarded(roundID, stage, currentState string) {
	l.Warn("stage_discarded",
		slog.String("round_id", roundID),
		slog.String("stage", stage),
		slog.String("current_state", currentState),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}
