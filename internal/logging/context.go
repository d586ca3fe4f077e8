package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	namespaceKey ctxKey = iota
	fetchIDKey
	secretKey
)

// WithNamespace returns a context carrying the secret namespace.
func WithNamespace(ctx context.Context, ns string) context.Context {
	return context.WithValue(ctx, namespaceKey, ns)
}

// WithFetchID returns a context carrying the fetch attempt ID.
func WithFetchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, fetchIDKey, id)
}

// WithSecret returns a context carrying the name of the secret being
// accessed. Names only; values must never be put on a context.
func WithSecret(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, secretKey, name)
}

// Namespace extracts the namespace from the context, or "" if absent.
func Namespace(ctx context.Context) string {
	v, _ := ctx.Value(namespaceKey).(string)
	return v
}

// FetchID extracts the fetch attempt ID from the context, or "" if absent.
func FetchID(ctx context.Context) string {
	v, _ := ctx.Value(fetchIDKey).(string)
	return v
}

// Secret extracts the secret name from the context, or "" if absent.
func Secret(ctx context.Context) string {
	v, _ := ctx.Value(secretKey).(string)
	return v
}

func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	if v := Namespace(ctx); v != "" {
		out = append(out, slog.String("namespace", v))
	}
	if v := FetchID(ctx); v != "" {
		out = append(out, slog.String("fetch_id", v))
	}
	if v := Secret(ctx); v != "" {
		out = append(out, slog.String("secret", v))
	}
	return out
}

// LogWith returns a logger enriched with correlation values from the context.
// Only non-empty values are added.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, injecting correlation values
// from the context into every record. Use with
// slog.New(NewCorrelationHandler(inner)) and the *Context logging methods.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(as []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(as)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// Discard returns a logger that drops everything. Components fall back to it
// when constructed with a nil logger.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
