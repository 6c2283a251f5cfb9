package logging

import (
	"context"

	"go.uber.org/zap"
)

type runCtxKey struct{}
type areaCtxKey struct{}

// WithRunID tags every log line emitted under ctx with the pool run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// WithArea tags log lines with the content area being processed.
func WithArea(ctx context.Context, area string) context.Context {
	return context.WithValue(ctx, areaCtxKey{}, area)
}

func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(runCtxKey{}).(string)
	return v
}

func AreaFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(areaCtxKey{}).(string)
	return v
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 2)
	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}
	if area := AreaFromContext(ctx); area != "" {
		fields = append(fields, zap.String("area", area))
	}
	return fields
}
