// Package cyclecontext carries values scoped to one scheduler cycle (a poll
// tick or a retry tick) through context.
//
// Workers stamp a single "now" and a cycle id at the start of a cycle so that
// cooldown cutoffs, ledger timestamps and log lines inside that cycle agree.
//
// Usage in tests (inject values):
//
//	ctx = cyclecontext.WithTime(ctx, fixedTime)
package cyclecontext

import (
	"context"
	"time"
)

type (
	cycleTimeKey struct{}
	cycleIDKey   struct{}
)

// Now retrieves the cycle-scoped time from context.
// Falls back to time.Now() if not set (CLI commands, ad-hoc calls).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(cycleTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, cycleTimeKey{}, t)
}

// CycleID returns the identifier of the current scheduler cycle, or "".
func CycleID(ctx context.Context) string {
	if id, ok := ctx.Value(cycleIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCycleID tags the context with a scheduler cycle identifier.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey{}, id)
}
