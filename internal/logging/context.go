package logging

import "context"

type runIDKey struct{}

// WithRunIDCtx attaches the scavenge run identifier to ctx.
func WithRunIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromCtx returns the run identifier attached to ctx, or "".
func RunIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Ctx returns l tagged with the run identifier carried by ctx, if any.
func (l *Logger) Ctx(ctx context.Context) *Logger {
	if id := RunIDFromCtx(ctx); id != "" && id != l.runID {
		return l.WithRunID(id)
	}
	return l
}
