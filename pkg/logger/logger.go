package logger

import (
	"context"
	"log/slog"
	"os"
)

// New returns a structured JSON logger. Debug output is enabled for local and dev.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", "outbound-dialer")
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

type (
	callKey struct{}
	bulkKey struct{}
)

// WithCall returns a context whose logger carries the provider call id.
// Scoping a context that already carries the same id is a no-op.
func WithCall(ctx context.Context, providerCallID string) context.Context {
	return withScope(ctx, callKey{}, "call_id", providerCallID)
}

// WithBulk returns a context whose logger carries the bulk session id.
// Scoping a context that already carries the same id is a no-op.
func WithBulk(ctx context.Context, bulkSessionID string) context.Context {
	return withScope(ctx, bulkKey{}, "bulk_session_id", bulkSessionID)
}

func withScope(ctx context.Context, key any, attr, id string) context.Context {
	if id == "" {
		return ctx
	}
	if cur, ok := ctx.Value(key).(string); ok && cur == id {
		return ctx
	}
	ctx = context.WithValue(ctx, key, id)
	return With(ctx, From(ctx).With(attr, id))
}
