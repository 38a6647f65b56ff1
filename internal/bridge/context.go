package bridge

import (
	"context"
	"log/slog"
)

type ctxKey string

const pollIDKey ctxKey = "poll_id"

// ContextWithPollID tags ctx with the id of the poll it belongs to.
func ContextWithPollID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, pollIDKey, id)
}

// PollIDFromContext returns the poll id stored in ctx, if any.
func PollIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(pollIDKey).(string); ok {
		return v
	}
	return ""
}

// log returns the bridge logger annotated with the poll id from ctx.
func (b *Bridge) log(ctx context.Context) *slog.Logger {
	if id := PollIDFromContext(ctx); id != "" {
		return b.logger.With("poll_id", id)
	}
	return b.logger
}
