package core

import (
	"context"
	"log/slog"
)

type contextKey string

const ctxKeyLogger contextKey = "core_logger"

// ContextWithLogger attaches a request-scoped logger used for decode logs.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// LoggerFromContext returns the attached logger, or the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKeyLogger).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithSession returns the context logger tagged with a session id.
func WithSession(ctx context.Context, sessionID string) *slog.Logger {
	return LoggerFromContext(ctx).With("session_id", sessionID)
}
