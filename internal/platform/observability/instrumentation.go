package observability

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

type spanKey struct{}

// span identifies one traced operation. Children carry their parent's id so
// interleaved log lines from concurrent playback runs can be told apart.
type span struct {
	id     string
	parent string
}

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// SpanID returns the id of the innermost span carried by ctx, or "".
func SpanID(ctx context.Context) string {
	if s, ok := ctx.Value(spanKey{}).(span); ok {
		return s.id
	}
	return ""
}

// StartSpan logs the start of component/operation and returns a context
// carrying the new span plus a func that logs its end. Without Setup, or with
// observability disabled, both are no-ops.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return ctx, func(error) {}
	}

	s := span{id: uuid.NewString()[:8], parent: SpanID(ctx)}
	ctx = context.WithValue(ctx, spanKey{}, s)

	base := []slog.Attr{
		slog.String("span", s.id),
		slog.String("component", component),
		slog.String("operation", operation),
	}
	if s.parent != "" {
		base = append(base, slog.String("parent", s.parent))
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "[Observability] span start", base...)

	start := time.Now()
	return ctx, func(err error) {
		attrs := append(base[:len(base):len(base)], slog.Duration("duration", time.Since(start)))
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logger.LogAttrs(ctx, level, "[Observability] span end", attrs...)
	}
}

// RecordMetric logs a single datapoint. Prometheus collectors live on
// Metrics; this is for values that only matter while debugging.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys)+3)
	attrs = append(attrs, slog.String("metric", name), slog.Float64("value", value))
	if id := SpanID(ctx); id != "" {
		attrs = append(attrs, slog.String("span", id))
	}
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, labels[k]))
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "[Observability] metric", attrs...)
}
